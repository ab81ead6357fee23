// Package tags extracts the bracketed directives the DM emits in its
// narration ([ROLL:], [COMBAT:], [BUY:], [PAY:], [RECRUIT:], [ITEM:],
// [GOLD:], [XP:]) and validates them against the scenario before the
// pipeline applies them.
//
// The DM's prose is untrusted input: tags with bad grammar, unknown content
// references, or unresolvable skill names are dropped, never errors. Player
// text is scanned with the same grammar and stripped outright.
package tags

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/dmforge/dmforge/internal/character"
	"github.com/dmforge/dmforge/internal/content"
)

// Kind is the tag type, matching the bracketed keyword.
type Kind string

const (
	KindRoll    Kind = "ROLL"
	KindCombat  Kind = "COMBAT"
	KindBuy     Kind = "BUY"
	KindPay     Kind = "PAY"
	KindRecruit Kind = "RECRUIT"
	KindItem    Kind = "ITEM"
	KindGold    Kind = "GOLD"
	KindXP      Kind = "XP"
)

// Tag is one parsed directive. Only the fields implied by Kind are set.
type Tag struct {
	Kind Kind `json:"kind"`

	// ROLL
	Skill string `json:"skill,omitempty"`
	DC    int    `json:"dc,omitempty"`

	// COMBAT
	Enemies  []string `json:"enemies,omitempty"`
	Surprise bool     `json:"surprise,omitempty"`

	// BUY, ITEM
	ItemID string `json:"item_id,omitempty"`

	// RECRUIT
	NPCID string `json:"npc_id,omitempty"`

	// BUY (advisory price), PAY, GOLD, XP
	Amount int `json:"amount,omitempty"`

	// PAY, XP
	Reason string `json:"reason,omitempty"`
}

// tagPattern matches any bracketed directive. Keywords are case-sensitive;
// everything inside the brackets is whitespace-permissive.
var tagPattern = regexp.MustCompile(`\[(ROLL|COMBAT|BUY|PAY|RECRUIT|ITEM|GOLD|XP)\s*:\s*([^\[\]]*)\]`)

// rollPattern splits a ROLL body into skill name and DC.
var rollPattern = regexp.MustCompile(`^(.+?)\s+DC\s+(\d+)$`)

// skillAliases remaps skill names the model likes to invent onto the
// canonical table. Matching is case-insensitive after underscore/space
// normalization.
var skillAliases = map[string]string{
	"lockpicking":   "Sleight_of_Hand",
	"pickpocket":    "Sleight_of_Hand",
	"sneak":         "Stealth",
	"hide":          "Stealth",
	"search":        "Investigation",
	"spot":          "Perception",
	"listen":        "Perception",
	"notice":        "Perception",
	"track":         "Survival",
	"climb":         "Athletics",
	"swim":          "Athletics",
	"jump":          "Athletics",
	"dodge":         "Acrobatics",
	"balance":       "Acrobatics",
	"barter":        "Persuasion",
	"haggle":        "Persuasion",
	"diplomacy":     "Persuasion",
	"bluff":         "Deception",
	"lie":           "Deception",
	"intimidate":    "Intimidation",
	"heal":          "Medicine",
	"first_aid":     "Medicine",
	"animal":        "Animal_Handling",
	"knowledge":     "History",
	"lore":          "History",
	"magic":         "Arcana",
	"spellcraft":    "Arcana",
	"sense_motive":  "Insight",
	"read_person":   "Insight",
	"streetwise":    "Investigation",
	"performance":   "Performance",
	"sleight":       "Sleight_of_Hand",
}

// canonicalSkills indexes the skill table case-insensitively.
var canonicalSkills = func() map[string]string {
	m := make(map[string]string, len(character.SkillAbility))
	for name := range character.SkillAbility {
		m[strings.ToLower(name)] = name
	}
	return m
}()

// NormalizeSkill resolves a skill name from the DM's prose to a canonical
// table entry. Returns ("", false) when the name cannot be resolved.
func NormalizeSkill(name string) (string, bool) {
	key := strings.ToLower(strings.ReplaceAll(strings.TrimSpace(name), " ", "_"))
	if canon, ok := canonicalSkills[key]; ok {
		return canon, true
	}
	if alias, ok := skillAliases[key]; ok {
		return alias, true
	}
	return "", false
}

// Parse extracts every well-formed tag from narration text, in emission
// order. Malformed bodies are skipped silently.
func Parse(text string) []Tag {
	var out []Tag
	for _, m := range tagPattern.FindAllStringSubmatch(text, -1) {
		if t, ok := parseOne(Kind(m[1]), strings.TrimSpace(m[2])); ok {
			out = append(out, t)
		}
	}
	return out
}

// Strip removes everything matching the tag grammar from player text. The
// player never gets to speak in tags.
func Strip(text string) string {
	return tagPattern.ReplaceAllString(text, "")
}

func parseOne(kind Kind, body string) (Tag, bool) {
	switch kind {
	case KindRoll:
		m := rollPattern.FindStringSubmatch(body)
		if m == nil {
			return Tag{}, false
		}
		skill, ok := NormalizeSkill(m[1])
		if !ok {
			return Tag{}, false
		}
		dc, err := strconv.Atoi(m[2])
		if err != nil || dc < 1 {
			return Tag{}, false
		}
		return Tag{Kind: KindRoll, Skill: skill, DC: dc}, true

	case KindCombat:
		list, surprise := body, false
		if before, after, found := strings.Cut(body, "|"); found {
			list = before
			surprise = strings.EqualFold(strings.TrimSpace(after), "SURPRISE")
			if !surprise {
				return Tag{}, false
			}
		}
		var enemies []string
		for _, part := range strings.Split(list, ",") {
			part = strings.TrimSpace(part)
			if part == "" {
				return Tag{}, false
			}
			enemies = append(enemies, part)
		}
		if len(enemies) == 0 {
			return Tag{}, false
		}
		return Tag{Kind: KindCombat, Enemies: enemies, Surprise: surprise}, true

	case KindBuy:
		item, priceStr, found := strings.Cut(body, ",")
		if !found {
			return Tag{}, false
		}
		price, err := strconv.Atoi(strings.TrimSpace(priceStr))
		if err != nil || price < 0 {
			return Tag{}, false
		}
		item = strings.TrimSpace(item)
		if item == "" {
			return Tag{}, false
		}
		return Tag{Kind: KindBuy, ItemID: item, Amount: price}, true

	case KindPay:
		amountStr, reason, found := strings.Cut(body, ",")
		if !found {
			return Tag{}, false
		}
		amount, err := strconv.Atoi(strings.TrimSpace(amountStr))
		if err != nil || amount < 1 {
			return Tag{}, false
		}
		return Tag{Kind: KindPay, Amount: amount, Reason: strings.TrimSpace(reason)}, true

	case KindRecruit:
		if body == "" || strings.ContainsAny(body, ", ") {
			return Tag{}, false
		}
		return Tag{Kind: KindRecruit, NPCID: body}, true

	case KindItem:
		if body == "" || strings.ContainsAny(body, ", ") {
			return Tag{}, false
		}
		return Tag{Kind: KindItem, ItemID: body}, true

	case KindGold:
		amount, err := strconv.Atoi(body)
		if err != nil || amount < 1 {
			return Tag{}, false
		}
		return Tag{Kind: KindGold, Amount: amount}, true

	case KindXP:
		amountStr, reason := body, ""
		if before, after, found := strings.Cut(body, "|"); found {
			amountStr = strings.TrimSpace(before)
			reason = strings.TrimSpace(after)
		}
		amount, err := strconv.Atoi(amountStr)
		if err != nil || amount < 1 {
			return Tag{}, false
		}
		return Tag{Kind: KindXP, Amount: amount, Reason: reason}, true
	}
	return Tag{}, false
}

// NPCPresence reports which NPCs stand at the player's current location.
// Satisfied by the npc manager.
type NPCPresence interface {
	IsPresent(npcID, locationID string) bool
}

// Validate checks a parsed tag against the scenario and the player's
// position. Invalid tags are dropped by the pipeline, so the return is a
// reason string for logging rather than an error chain; ok=true means apply.
func (t Tag) Validate(scen *content.Scenario, presence NPCPresence, locationID string) (reason string, ok bool) {
	switch t.Kind {
	case KindRoll:
		return "", true

	case KindCombat:
		for _, e := range t.Enemies {
			if scen.Enemy(e) == nil {
				return "unknown enemy type " + e, false
			}
		}
		return "", true

	case KindBuy:
		if scen.Item(t.ItemID) == nil {
			return "unknown item " + t.ItemID, false
		}
		return "", true

	case KindItem:
		if scen.Item(t.ItemID) == nil {
			return "unknown item " + t.ItemID, false
		}
		return "", true

	case KindRecruit:
		if scen.NPC(t.NPCID) == nil {
			return "unknown npc " + t.NPCID, false
		}
		if !presence.IsPresent(t.NPCID, locationID) {
			return t.NPCID + " is not here", false
		}
		return "", true

	case KindPay, KindGold, KindXP:
		return "", true
	}
	return "unknown tag kind", false
}
