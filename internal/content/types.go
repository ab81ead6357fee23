// Package content holds the immutable scenario catalog: locations, NPCs,
// items, quests, enemies, and moral choices composing one adventure.
//
// Content is loaded once at startup — from embedded bundles or a content
// directory — and never mutated afterwards. Runtime state that is *about*
// content (visit counts, dispositions, merchant stock) lives in per-session
// managers, never here. All cross-references are by stable string ID.
package content

// DangerLevel describes how threatening a location's atmosphere is.
type DangerLevel string

const (
	DangerSafe        DangerLevel = "safe"
	DangerUneasy      DangerLevel = "uneasy"
	DangerThreatening DangerLevel = "threatening"
	DangerDeadly      DangerLevel = "deadly"
)

// IsValid reports whether d is a recognised danger level.
func (d DangerLevel) IsValid() bool {
	switch d {
	case DangerSafe, DangerUneasy, DangerThreatening, DangerDeadly:
		return true
	}
	return false
}

// ItemType is the tagged kind of an item.
type ItemType string

const (
	ItemWeapon     ItemType = "weapon"
	ItemArmor      ItemType = "armor"
	ItemConsumable ItemType = "consumable"
	ItemQuest      ItemType = "quest"
	ItemMisc       ItemType = "misc"
)

// IsValid reports whether t is a recognised item type.
func (t ItemType) IsValid() bool {
	switch t {
	case ItemWeapon, ItemArmor, ItemConsumable, ItemQuest, ItemMisc:
		return true
	}
	return false
}

// NPCRole is the tagged role of an NPC. Role-specific behaviour lives in the
// optional fields on [NPC] (Shop for merchants, Recruit for recruitables).
type NPCRole string

const (
	RoleMerchant    NPCRole = "merchant"
	RoleQuestGiver  NPCRole = "quest_giver"
	RoleInfo        NPCRole = "info"
	RoleHostile     NPCRole = "hostile"
	RoleRecruitable NPCRole = "recruitable"
	RoleNeutral     NPCRole = "neutral"
)

// IsValid reports whether r is a recognised NPC role.
func (r NPCRole) IsValid() bool {
	switch r {
	case RoleMerchant, RoleQuestGiver, RoleInfo, RoleHostile, RoleRecruitable, RoleNeutral:
		return true
	}
	return false
}

// QuestType ranks a quest's narrative weight; it also scales the reputation
// reward granted to the quest giver on completion.
type QuestType string

const (
	QuestMain  QuestType = "main"
	QuestSide  QuestType = "side"
	QuestMinor QuestType = "minor"
)

// ObjectiveKind is the tagged kind of a quest objective.
type ObjectiveKind string

const (
	ObjectiveKill    ObjectiveKind = "kill"
	ObjectiveFind    ObjectiveKind = "find_item"
	ObjectiveTalk    ObjectiveKind = "talk_to"
	ObjectiveReach   ObjectiveKind = "reach_location"
	ObjectiveCollect ObjectiveKind = "collect"
)

// IsValid reports whether k is a recognised objective kind.
func (k ObjectiveKind) IsValid() bool {
	switch k {
	case ObjectiveKill, ObjectiveFind, ObjectiveTalk, ObjectiveReach, ObjectiveCollect:
		return true
	}
	return false
}

// ConditionKind is the tagged kind of an exit condition.
type ConditionKind string

const (
	CondHasItem   ConditionKind = "has_item"
	CondGold      ConditionKind = "gold"
	CondVisited   ConditionKind = "visited"
	CondSkill     ConditionKind = "skill"
	CondObjective ConditionKind = "objective"
	CondFlag      ConditionKind = "flag"
)

// EventTrigger selects when a location event fires.
type EventTrigger string

const (
	TriggerOnEnter      EventTrigger = "on_enter"
	TriggerOnFirstVisit EventTrigger = "on_first_visit"
)

// ─────────────────────────────────────────────────────────────────────────────
// Items
// ─────────────────────────────────────────────────────────────────────────────

// OnUseEffect is the tagged effect applied when a consumable is used.
type OnUseEffect struct {
	// Effect is one of "heal", "light", or "cure". Heal consumes the item and
	// restores HealDice hit points; light marks the bearer as carrying a light
	// source while the item is held (not consumed on use).
	Effect string `yaml:"effect" json:"effect"`

	// HealDice is the healing expression for the "heal" effect (e.g. "2d4+2").
	HealDice string `yaml:"heal_dice,omitempty" json:"heal_dice,omitempty"`
}

// Item is one immutable item definition.
type Item struct {
	ID        string   `yaml:"id" json:"id"`
	Name      string   `yaml:"name" json:"name"`
	Type      ItemType `yaml:"type" json:"type"`
	Rarity    string   `yaml:"rarity,omitempty" json:"rarity,omitempty"`
	Value     int      `yaml:"value" json:"value"`
	Stackable bool     `yaml:"stackable,omitempty" json:"stackable,omitempty"`

	// DamageDice is set for weapons (e.g. "1d8").
	DamageDice string `yaml:"damage_dice,omitempty" json:"damage_dice,omitempty"`

	// ACBonus is set for armor; added to the wearer's armor class.
	ACBonus int `yaml:"ac_bonus,omitempty" json:"ac_bonus,omitempty"`

	// LightSource marks items that negate darkness penalties while carried.
	LightSource bool `yaml:"light_source,omitempty" json:"light_source,omitempty"`

	// OnUse is set for consumables.
	OnUse *OnUseEffect `yaml:"on_use,omitempty" json:"on_use,omitempty"`
}

// ─────────────────────────────────────────────────────────────────────────────
// Locations
// ─────────────────────────────────────────────────────────────────────────────

// ExitCondition gates one exit of a location. Exactly the fields implied by
// Kind are consulted; the rest are ignored.
type ExitCondition struct {
	Kind ConditionKind `yaml:"kind" json:"kind"`

	// Item is the required item ID for has_item conditions.
	Item string `yaml:"item,omitempty" json:"item,omitempty"`

	// Gold is the required (and spent) amount for gold conditions.
	Gold int `yaml:"gold,omitempty" json:"gold,omitempty"`

	// Location is the required previously-visited location for visited conditions.
	Location string `yaml:"location,omitempty" json:"location,omitempty"`

	// Skill and DC describe the ability check for skill conditions.
	Skill string `yaml:"skill,omitempty" json:"skill,omitempty"`
	DC    int    `yaml:"dc,omitempty" json:"dc,omitempty"`

	// Objective is the quest objective that must be completed.
	Objective string `yaml:"objective,omitempty" json:"objective,omitempty"`

	// Flag is the scenario flag that must be set.
	Flag string `yaml:"flag,omitempty" json:"flag,omitempty"`

	// FailMessage is shown to the player when the condition fails.
	FailMessage string `yaml:"fail_message,omitempty" json:"fail_message,omitempty"`

	// ConsumeItem removes the required item from the inventory once the
	// condition passes (keys, bribes).
	ConsumeItem bool `yaml:"consume_item,omitempty" json:"consume_item,omitempty"`
}

// LocationEvent is a scripted event attached to a location.
type LocationEvent struct {
	ID      string       `yaml:"id" json:"id"`
	Trigger EventTrigger `yaml:"trigger" json:"trigger"`

	// OneTime events fire at most once per session.
	OneTime bool `yaml:"one_time,omitempty" json:"one_time,omitempty"`

	// Narration is injected into the DM context when the event fires.
	Narration string `yaml:"narration,omitempty" json:"narration,omitempty"`

	// SetFlags are scenario flags raised when the event fires.
	SetFlags []string `yaml:"set_flags,omitempty" json:"set_flags,omitempty"`

	// GiveItems are item IDs added to the inventory when the event fires.
	GiveItems []string `yaml:"give_items,omitempty" json:"give_items,omitempty"`

	// GiveGold is gold granted when the event fires.
	GiveGold int `yaml:"give_gold,omitempty" json:"give_gold,omitempty"`

	// GiveXP is experience granted when the event fires.
	GiveXP int `yaml:"give_xp,omitempty" json:"give_xp,omitempty"`
}

// RandomEncounter is a probability-gated combat instance attached to a
// location. The roll happens on every qualifying entry.
type RandomEncounter struct {
	// Enemies lists the enemy type IDs spawned when the encounter triggers.
	Enemies []string `yaml:"enemies" json:"enemies"`

	// Chance is the per-entry trigger probability in [0, 1].
	Chance float64 `yaml:"chance" json:"chance"`

	// MinVisits suppresses the encounter until the location has been entered
	// this many times.
	MinVisits int `yaml:"min_visits,omitempty" json:"min_visits,omitempty"`

	// MaxTriggers caps how often the encounter can fire per session
	// (0 = unlimited).
	MaxTriggers int `yaml:"max_triggers,omitempty" json:"max_triggers,omitempty"`

	// Cooldown is the number of entries that must pass after a trigger before
	// the encounter can fire again.
	Cooldown int `yaml:"cooldown,omitempty" json:"cooldown,omitempty"`
}

// Location is one immutable node of the scenario's location graph.
type Location struct {
	ID          string `yaml:"id" json:"id"`
	Name        string `yaml:"name" json:"name"`
	Description string `yaml:"description" json:"description"`
	Atmosphere  string `yaml:"atmosphere,omitempty" json:"atmosphere,omitempty"`
	EnterText   string `yaml:"enter_text,omitempty" json:"enter_text,omitempty"`

	// Exits maps canonical direction names to target location IDs.
	Exits map[string]string `yaml:"exits,omitempty" json:"exits,omitempty"`

	// DirectionAliases maps location-specific alias words to canonical
	// directions (e.g. "inside" → "north").
	DirectionAliases map[string]string `yaml:"direction_aliases,omitempty" json:"direction_aliases,omitempty"`

	// ExitConditions gates directions with requirements.
	ExitConditions map[string]ExitCondition `yaml:"exit_conditions,omitempty" json:"exit_conditions,omitempty"`

	Items  []string          `yaml:"items,omitempty" json:"items,omitempty"`
	NPCs   []string          `yaml:"npcs,omitempty" json:"npcs,omitempty"`
	Events []LocationEvent   `yaml:"events,omitempty" json:"events,omitempty"`
	Encounters []RandomEncounter `yaml:"random_encounters,omitempty" json:"random_encounters,omitempty"`

	// Hidden locations are invisible in exit listings until discovered.
	Hidden             bool   `yaml:"hidden,omitempty" json:"hidden,omitempty"`
	DiscoveryCondition string `yaml:"discovery_condition,omitempty" json:"discovery_condition,omitempty"`
	DiscoveryHint      string `yaml:"discovery_hint,omitempty" json:"discovery_hint,omitempty"`

	DangerLevel  DangerLevel `yaml:"danger_level,omitempty" json:"danger_level,omitempty"`
	StealthDC    int         `yaml:"stealth_dc,omitempty" json:"stealth_dc,omitempty"`
	PerceptionDC int         `yaml:"perception_dc,omitempty" json:"perception_dc,omitempty"`

	// Dark locations impose disadvantage on attacks unless the attacker
	// carries a light source.
	Dark bool `yaml:"dark,omitempty" json:"dark,omitempty"`
}

// ─────────────────────────────────────────────────────────────────────────────
// NPCs
// ─────────────────────────────────────────────────────────────────────────────

// ShopDef is the merchant block of an NPC definition.
type ShopDef struct {
	// Inventory maps item IDs to starting stock. A negative stock means
	// unlimited supply.
	Inventory map[string]int `yaml:"inventory" json:"inventory"`

	// Markup multiplies base item value on purchase (≥ 1).
	Markup float64 `yaml:"markup" json:"markup"`
}

// TravelingDef configures a traveling merchant.
type TravelingDef struct {
	// SpawnChance is the per-entry probability in [0, 1] that the merchant is
	// present when the player enters a possible location.
	SpawnChance float64 `yaml:"spawn_chance" json:"spawn_chance"`

	// PossibleLocations lists where the merchant may appear.
	PossibleLocations []string `yaml:"possible_locations" json:"possible_locations"`

	// InventoryPool is the item pool the rotated inventory is drawn from.
	InventoryPool []string `yaml:"inventory_pool" json:"inventory_pool"`
}

// RecruitDef configures a recruitable NPC.
type RecruitDef struct {
	// Conditions are OR-combined recruitment gates in the condition DSL
	// (skill:<ability>:<dc>, item:<id>, gold:<amount>, objective:<id>).
	Conditions []string `yaml:"conditions" json:"conditions"`

	// Member is the party-member sheet gained on success.
	Member PartyMemberDef `yaml:"member" json:"member"`
}

// PartyMemberDef is the immutable combat sheet of a recruitable companion.
type PartyMemberDef struct {
	ID           string `yaml:"id" json:"id"`
	Name         string `yaml:"name" json:"name"`
	Class        string `yaml:"class" json:"class"`
	Level        int    `yaml:"level" json:"level"`
	MaxHP        int    `yaml:"max_hp" json:"max_hp"`
	ArmorClass   int    `yaml:"armor_class" json:"armor_class"`
	AttackBonus  int    `yaml:"attack_bonus" json:"attack_bonus"`
	DamageDice   string `yaml:"damage_dice" json:"damage_dice"`
	InitiativeMod int   `yaml:"initiative_mod,omitempty" json:"initiative_mod,omitempty"`

	// SpecialAbility is one of "heal" (restores 2d4+2 to the weakest ally),
	// "sneak_attack" (doubled damage dice on one attack), or "" (none).
	SpecialAbility string `yaml:"special_ability,omitempty" json:"special_ability,omitempty"`

	// AbilityUses is the per-combat budget for the special ability.
	AbilityUses int `yaml:"ability_uses,omitempty" json:"ability_uses,omitempty"`
}

// NPC is one immutable NPC definition.
type NPC struct {
	ID          string  `yaml:"id" json:"id"`
	Name        string  `yaml:"name" json:"name"`
	Description string  `yaml:"description,omitempty" json:"description,omitempty"`
	Role        NPCRole `yaml:"role" json:"role"`
	LocationID  string  `yaml:"location,omitempty" json:"location,omitempty"`

	// Dialogue keys include "greeting", "quest", "shop", "recruit", "farewell".
	Dialogue map[string]string `yaml:"dialogue,omitempty" json:"dialogue,omitempty"`

	// BaseDisposition seeds the per-session disposition in [-100, 100].
	BaseDisposition int `yaml:"base_disposition,omitempty" json:"base_disposition,omitempty"`

	Shop      *ShopDef      `yaml:"shop,omitempty" json:"shop,omitempty"`
	Traveling *TravelingDef `yaml:"traveling,omitempty" json:"traveling,omitempty"`
	Recruit   *RecruitDef   `yaml:"recruit,omitempty" json:"recruit,omitempty"`
}

// ─────────────────────────────────────────────────────────────────────────────
// Quests
// ─────────────────────────────────────────────────────────────────────────────

// Objective is one quantified step of a quest.
type Objective struct {
	ID       string        `yaml:"id" json:"id"`
	Kind     ObjectiveKind `yaml:"kind" json:"kind"`
	Target   string        `yaml:"target" json:"target"`
	Required int           `yaml:"required" json:"required"`
	Optional bool          `yaml:"optional,omitempty" json:"optional,omitempty"`

	// Description is shown in quest listings and the DM context.
	Description string `yaml:"description,omitempty" json:"description,omitempty"`
}

// QuestRewards is granted once when a quest completes.
type QuestRewards struct {
	Gold  int      `yaml:"gold,omitempty" json:"gold,omitempty"`
	XP    int      `yaml:"xp,omitempty" json:"xp,omitempty"`
	Items []string `yaml:"items,omitempty" json:"items,omitempty"`
}

// Quest is one immutable quest definition.
type Quest struct {
	ID            string       `yaml:"id" json:"id"`
	Name          string       `yaml:"name" json:"name"`
	Description   string       `yaml:"description,omitempty" json:"description,omitempty"`
	Type          QuestType    `yaml:"type" json:"type"`
	GiverNPC      string       `yaml:"giver,omitempty" json:"giver,omitempty"`
	Objectives    []Objective  `yaml:"objectives" json:"objectives"`
	Rewards       QuestRewards `yaml:"rewards,omitempty" json:"rewards,omitempty"`
	Prerequisites []string     `yaml:"prerequisites,omitempty" json:"prerequisites,omitempty"`
}

// ─────────────────────────────────────────────────────────────────────────────
// Enemies
// ─────────────────────────────────────────────────────────────────────────────

// LootEntry is one row of an enemy's loot table.
type LootEntry struct {
	Item   string  `yaml:"item" json:"item"`
	Chance float64 `yaml:"chance" json:"chance"`
}

// Enemy is one immutable enemy type definition.
type Enemy struct {
	// Type is the stable ID referenced by [COMBAT:] tags and encounters.
	Type        string `yaml:"type" json:"type"`
	Name        string `yaml:"name" json:"name"`
	HP          int    `yaml:"hp" json:"hp"`
	ArmorClass  int    `yaml:"armor_class" json:"armor_class"`
	AttackBonus int    `yaml:"attack_bonus" json:"attack_bonus"`
	DamageDice  string `yaml:"damage_dice" json:"damage_dice"`
	DexMod      int    `yaml:"dex_mod,omitempty" json:"dex_mod,omitempty"`

	// XP is awarded per kill.
	XP int `yaml:"xp" json:"xp"`

	// Boss enemies restore the player's Hit Dice when defeated.
	Boss bool `yaml:"boss,omitempty" json:"boss,omitempty"`

	Loot     []LootEntry `yaml:"loot,omitempty" json:"loot,omitempty"`
	GoldDice string      `yaml:"gold_dice,omitempty" json:"gold_dice,omitempty"`
}

// ─────────────────────────────────────────────────────────────────────────────
// Moral choices
// ─────────────────────────────────────────────────────────────────────────────

// ChoiceOption is one selectable option of a moral choice.
type ChoiceOption struct {
	ID   string `yaml:"id" json:"id"`
	Text string `yaml:"text" json:"text"`

	// Requires is an optional condition-DSL gate (skill:…, item:…, gold:…).
	Requires string `yaml:"requires,omitempty" json:"requires,omitempty"`

	// SetFlags are scenario flags raised on selection.
	SetFlags []string `yaml:"set_flags,omitempty" json:"set_flags,omitempty"`

	// DispositionDeltas adjusts NPC dispositions on selection.
	DispositionDeltas map[string]int `yaml:"disposition_deltas,omitempty" json:"disposition_deltas,omitempty"`

	// AlignmentDelta shifts the alignment trend (positive = good).
	AlignmentDelta int `yaml:"alignment_delta,omitempty" json:"alignment_delta,omitempty"`

	// CompleteQuest / FailQuest advance or fail a quest on selection.
	CompleteQuest string `yaml:"complete_quest,omitempty" json:"complete_quest,omitempty"`
	FailQuest     string `yaml:"fail_quest,omitempty" json:"fail_quest,omitempty"`

	// Narration is injected into the DM context after selection.
	Narration string `yaml:"narration,omitempty" json:"narration,omitempty"`
}

// Choice is one moral-choice gate.
type Choice struct {
	ID     string `yaml:"id" json:"id"`
	Prompt string `yaml:"prompt" json:"prompt"`

	// LocationID gates availability to a location; empty means anywhere.
	LocationID string `yaml:"location,omitempty" json:"location,omitempty"`

	// RequiresFlag gates availability on a scenario flag; empty means none.
	RequiresFlag string `yaml:"requires_flag,omitempty" json:"requires_flag,omitempty"`

	Options []ChoiceOption `yaml:"options" json:"options"`
}

// Ending is one enumerated scenario ending.
type Ending struct {
	ID          string `yaml:"id" json:"id"`
	Name        string `yaml:"name" json:"name"`
	Description string `yaml:"description,omitempty" json:"description,omitempty"`

	// MinAlignment / MaxAlignment bound the alignment trend for this ending.
	MinAlignment *int `yaml:"min_alignment,omitempty" json:"min_alignment,omitempty"`
	MaxAlignment *int `yaml:"max_alignment,omitempty" json:"max_alignment,omitempty"`

	// RequiredFlags must all be set for this ending to match.
	RequiredFlags []string `yaml:"required_flags,omitempty" json:"required_flags,omitempty"`
}

// ─────────────────────────────────────────────────────────────────────────────
// Scenario
// ─────────────────────────────────────────────────────────────────────────────

// Scenario is one complete content bundle.
type Scenario struct {
	ID            string `yaml:"id" json:"id"`
	Name          string `yaml:"name" json:"name"`
	Description   string `yaml:"description,omitempty" json:"description,omitempty"`
	StartLocation string `yaml:"start_location" json:"start_location"`

	// OpeningNarration is returned verbatim from /api/game/start.
	OpeningNarration string `yaml:"opening_narration,omitempty" json:"opening_narration,omitempty"`

	Locations map[string]*Location `yaml:"-" json:"-"`
	NPCs      map[string]*NPC      `yaml:"-" json:"-"`
	Items     map[string]*Item     `yaml:"-" json:"-"`
	Quests    map[string]*Quest    `yaml:"-" json:"-"`
	Enemies   map[string]*Enemy    `yaml:"-" json:"-"`
	Choices   map[string]*Choice   `yaml:"-" json:"-"`
	Endings   []Ending             `yaml:"-" json:"-"`
}

// Location returns the location with the given ID, or nil.
func (s *Scenario) Location(id string) *Location { return s.Locations[id] }

// NPC returns the NPC with the given ID, or nil.
func (s *Scenario) NPC(id string) *NPC { return s.NPCs[id] }

// Item returns the item with the given ID, or nil.
func (s *Scenario) Item(id string) *Item { return s.Items[id] }

// Quest returns the quest with the given ID, or nil.
func (s *Scenario) Quest(id string) *Quest { return s.Quests[id] }

// Enemy returns the enemy type with the given ID, or nil.
func (s *Scenario) Enemy(id string) *Enemy { return s.Enemies[id] }

// Choice returns the moral choice with the given ID, or nil.
func (s *Scenario) Choice(id string) *Choice { return s.Choices[id] }
