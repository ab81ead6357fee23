// Package engine runs the action pipeline: one player action in, a guarded
// LLM stream out, tags parsed from the buffered narration and applied to the
// session state in emission order, a final state delta at the end.
//
// The engine also owns the shared state transitions the HTTP layer triggers
// outside a narrated turn: travel consequences and combat teardown.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/dmforge/dmforge/internal/character"
	"github.com/dmforge/dmforge/internal/combat"
	"github.com/dmforge/dmforge/internal/content"
	"github.com/dmforge/dmforge/internal/dice"
	"github.com/dmforge/dmforge/internal/dmprompt"
	"github.com/dmforge/dmforge/internal/npc"
	"github.com/dmforge/dmforge/internal/savegame"
	"github.com/dmforge/dmforge/internal/session"
	"github.com/dmforge/dmforge/internal/shop"
	"github.com/dmforge/dmforge/internal/tags"
	"github.com/dmforge/dmforge/pkg/provider/llm"
)

var (
	ErrEmptyAction = errors.New("engine: action must be a non-empty string")
	ErrLLM         = errors.New("engine: model unavailable")
)

// MaxActionBytes truncates oversized player input instead of rejecting it.
const MaxActionBytes = 10 << 10

// retryBackoff is the pause before the single LLM retry.
const defaultRetryBackoff = 500 * time.Millisecond

// Sink receives the SSE events of one turn. Implementations must tolerate
// being called from the goroutine running the pipeline.
type Sink interface {
	Emit(event string, data any)
}

// Engine drives turns for any session.
type Engine struct {
	provider llm.Provider
	saves    *savegame.Store
	logger   *slog.Logger

	temperature float64
	maxTokens   int
	backoff     time.Duration
}

// New creates an engine. saves may be nil when local save/load commands are
// not wanted.
func New(provider llm.Provider, saves *savegame.Store, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		provider:    provider,
		saves:       saves,
		logger:      logger,
		temperature: 0.8,
		maxTokens:   1024,
		backoff:     defaultRetryBackoff,
	}
}

// RollResult is the payload of a roll_result event.
type RollResult struct {
	Skill    string `json:"skill"`
	Raw      []int  `json:"raw"`
	Modifier int    `json:"modifier"`
	Total    int    `json:"total"`
	DC       int    `json:"dc"`
	Success  bool   `json:"success"`
	Nat20    bool   `json:"nat20"`
	Nat1     bool   `json:"nat1"`
}

// CombatStart is the payload of a combat_start event. Outcome and Victory are
// set when the opening round already finished the fight (a surprise wipe, or
// enemies winning initiative against a dying character), so the settlement is
// never deferred to combat endpoints that would refuse an over fight.
type CombatStart struct {
	Enemies   []string        `json:"enemies"`
	Surprise  bool            `json:"surprise"`
	Round     int             `json:"round"`
	TurnOrder []string        `json:"turn_order"`
	Events    []combat.Event  `json:"events,omitempty"`
	Outcome   combat.Outcome  `json:"outcome,omitempty"`
	Victory   *combat.Victory `json:"victory,omitempty"`
}

// StateError is the payload of a state_error event: a tag the server refused.
type StateError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Action runs one full turn. The session lock is held for the whole turn,
// LLM streaming included, so no other command interleaves with a partially
// applied turn.
func (e *Engine) Action(ctx context.Context, s *session.Session, action string, sink Sink) error {
	action = truncateUTF8(strings.TrimSpace(action), MaxActionBytes)
	if action == "" {
		return ErrEmptyAction
	}
	// Tags in player text never reach the model or the appliers.
	action = strings.TrimSpace(tags.Strip(action))
	if action == "" {
		return ErrEmptyAction
	}

	s.Lock()
	defer s.Unlock()
	s.Touch()
	s.BeginTurn()

	if reply, handled := e.localCommand(s, action); handled {
		sink.Emit("chunk", map[string]string{"chunk": reply})
		sink.Emit("state", BuildState(s, true))
		s.AppendHistory(action, reply)
		return nil
	}

	prompt := e.buildPrompt(s, action)
	narration, err := e.stream(ctx, prompt, sink)
	if err != nil {
		sink.Emit("error", map[string]string{"error": err.Error()})
		return fmt.Errorf("%w: %v", ErrLLM, err)
	}

	for _, tag := range tags.Parse(narration) {
		e.applyTag(s, tag, sink)
	}
	e.checkTalkObjectives(s, action)

	sink.Emit("state", BuildState(s, true))
	s.AppendHistory(action, narration)
	s.Touch()
	return nil
}

// truncateUTF8 cuts s to at most n bytes without splitting a rune.
func truncateUTF8(s string, n int) string {
	if len(s) <= n {
		return s
	}
	s = s[:n]
	for len(s) > 0 && !utf8.ValidString(s) {
		s = s[:len(s)-1]
	}
	return s
}

// ── prompt and stream ──

func (e *Engine) buildPrompt(s *session.Session, action string) string {
	loc := s.World.Current()

	in := dmprompt.Input{
		Scenario:       s.Scenario,
		Char:           s.Char,
		Location:       loc,
		Exits:          s.World.GetExits(),
		NPCs:           s.NPCs.At(s.World.CurrentID()),
		DiscoveryHints: s.World.DiscoveryHints(),
		ActiveQuests:   s.Quests.Active(),
		NextByQuest:    make(map[string]*content.Objective),
		History:        s.History,
		AlignTrend:     s.Choices.Trend(),
		Action:         action,
	}
	for _, entry := range in.ActiveQuests {
		in.NextByQuest[entry.Quest.ID] = s.Quests.NextObjective(entry.Quest.ID)
	}
	if s.InCombat() {
		in.InCombat = true
		in.CombatRound = s.Combat.Round
		in.CombatNames = s.Combat.TurnOrder()
	}
	return dmprompt.Build(in)
}

// stream opens the LLM stream, forwards chunks, and buffers the narration.
// A failure before any prose arrived is retried once after a short backoff.
func (e *Engine) stream(ctx context.Context, prompt string, sink Sink) (string, error) {
	text, gotAny, err := e.streamOnce(ctx, prompt, sink)
	if err == nil || gotAny {
		if err != nil {
			// Prose already reached the client; report, keep what we have.
			e.logger.Warn("llm stream failed mid-turn", "error", err)
			return text, nil
		}
		return text, nil
	}

	e.logger.Warn("llm stream failed, retrying once", "error", err)
	select {
	case <-time.After(e.backoff):
	case <-ctx.Done():
		return "", ctx.Err()
	}
	text, _, err = e.streamOnce(ctx, prompt, sink)
	return text, err
}

func (e *Engine) streamOnce(ctx context.Context, prompt string, sink Sink) (text string, gotAny bool, err error) {
	req := llm.CompletionRequest{
		SystemPrompt: prompt,
		Messages:     []llm.Message{{Role: "user", Content: "Continue."}},
		Temperature:  e.temperature,
		MaxTokens:    e.maxTokens,
	}
	ch, err := e.provider.StreamCompletion(ctx, req)
	if err != nil {
		return "", false, err
	}

	var b strings.Builder
	for chunk := range ch {
		if chunk.FinishReason == "error" {
			return b.String(), b.Len() > 0, fmt.Errorf("stream error: %s", chunk.Text)
		}
		if chunk.Text != "" {
			b.WriteString(chunk.Text)
			sink.Emit("chunk", map[string]string{"chunk": chunk.Text})
		}
	}
	if err := ctx.Err(); err != nil {
		return b.String(), b.Len() > 0, err
	}
	return b.String(), b.Len() > 0, nil
}

// ── tag application ──

func (e *Engine) applyTag(s *session.Session, t tags.Tag, sink Sink) {
	if reason, ok := t.Validate(s.Scenario, s.NPCs, s.World.CurrentID()); !ok {
		e.logger.Debug("tag dropped", "kind", t.Kind, "reason", reason)
		return
	}

	switch t.Kind {
	case tags.KindRoll:
		e.applyRoll(s, t, sink)

	case tags.KindCombat:
		e.applyCombat(s, t, sink)

	case tags.KindBuy:
		e.applyBuy(s, t, sink)

	case tags.KindPay:
		if err := s.Char.SpendGold(t.Amount); err != nil {
			sink.Emit("state_error", StateError{Code: "insufficient_gold", Message: err.Error()})
			return
		}

	case tags.KindRecruit:
		if _, err := s.Party.Recruit(t.NPCID, s); err != nil {
			sink.Emit("state_error", StateError{Code: "cannot_recruit", Message: err.Error()})
		}

	case tags.KindItem:
		s.Char.AddItem(s.Scenario.Item(t.ItemID), 1)
		s.Quests.CheckObjective(content.ObjectiveFind, t.ItemID, 1)
		s.Quests.CheckObjective(content.ObjectiveCollect, t.ItemID, 1)

	case tags.KindGold:
		s.Char.AddGold(t.Amount)

	case tags.KindXP:
		s.Char.GainXP(t.Amount)
	}
}

func (e *Engine) applyRoll(s *session.Session, t tags.Tag, sink Sink) {
	ability := character.SkillAbility[t.Skill]
	res := s.Roller.RollD20(s.Char.SkillModifier(ability), dice.Normal)
	if _, fresh := s.RecordRoll(t.Skill, res); !fresh {
		// One roll per skill per turn; the second request is denied.
		return
	}
	success := !res.Nat1 && (res.Nat20 || res.Total >= t.DC)
	sink.Emit("roll_result", RollResult{
		Skill:    t.Skill,
		Raw:      res.Raw,
		Modifier: res.Modifier,
		Total:    res.Total,
		DC:       t.DC,
		Success:  success,
		Nat20:    res.Nat20,
		Nat1:     res.Nat1,
	})
}

func (e *Engine) applyCombat(s *session.Session, t tags.Tag, sink Sink) {
	if s.InCombat() {
		return
	}
	dark := combat.CheckDarknessPenalty(s.World.Current(), s.Char, s.Scenario)
	st, opening, err := combat.Start(s.Scenario, s.Char, s.Party, s.Roller, t.Enemies, t.Surprise, dark)
	if err != nil {
		e.logger.Debug("combat tag dropped", "error", err)
		return
	}
	s.Combat = st
	cs := CombatStart{
		Enemies:   t.Enemies,
		Surprise:  t.Surprise,
		Round:     st.Round,
		TurnOrder: st.TurnOrder(),
		Events:    opening,
	}
	if st.Over() {
		cs.Outcome, cs.Victory = ApplyCombatEnd(s)
	}
	sink.Emit("combat_start", cs)
}

// applyBuy resolves a [BUY:] tag against the first present merchant actually
// stocking the item. The DM's price is advisory; the shop computes its own.
func (e *Engine) applyBuy(s *session.Session, t tags.Tag, sink Sink) {
	merchant := e.findMerchant(s, t.ItemID)
	if merchant == "" {
		sink.Emit("state_error", StateError{Code: "no_merchant", Message: "nobody here sells " + t.ItemID})
		return
	}
	if _, err := s.Shop.Buy(merchant, t.ItemID, 1, s.Char); err != nil {
		sink.Emit("state_error", StateError{Code: shopErrorCode(err), Message: err.Error()})
	}
}

func (e *Engine) findMerchant(s *session.Session, itemID string) string {
	for _, n := range s.NPCs.At(s.World.CurrentID()) {
		if n.Shop == nil {
			continue
		}
		stock, err := s.NPCs.Stock(n.ID)
		if err != nil {
			continue
		}
		if qty, ok := stock[itemID]; ok && qty != 0 {
			return n.ID
		}
	}
	return ""
}

// checkTalkObjectives advances talk_to objectives when the player addressed
// an NPC standing at the current location by name or ID.
func (e *Engine) checkTalkObjectives(s *session.Session, action string) {
	lower := strings.ToLower(action)
	for _, n := range s.NPCs.At(s.World.CurrentID()) {
		if strings.Contains(lower, strings.ToLower(n.Name)) || strings.Contains(lower, n.ID) {
			s.Quests.CheckObjective(content.ObjectiveTalk, n.ID, 1)
		}
	}
}

// ── error code mapping ──

func shopErrorCode(err error) string {
	switch {
	case errors.Is(err, shop.ErrInsufficientGold):
		return "insufficient_gold"
	case errors.Is(err, shop.ErrHostileMerchant):
		return "hostile_merchant"
	case errors.Is(err, shop.ErrItemNotFound):
		return "item_not_found"
	case errors.Is(err, shop.ErrInvalidQuantity):
		return "invalid_quantity"
	case errors.Is(err, npc.ErrInsufficientStock):
		return "insufficient_stock"
	}
	return "transaction_failed"
}

// ── local commands ──

// localCommand answers recognized commands deterministically without the
// model. Returns the synthetic reply and whether the action was intercepted.
func (e *Engine) localCommand(s *session.Session, action string) (string, bool) {
	fields := strings.Fields(strings.ToLower(action))
	if len(fields) == 0 {
		return "", false
	}
	verb := fields[0]
	rest := strings.TrimSpace(action[len(verb):])

	switch verb {
	case "inventory", "i":
		return e.renderInventory(s), true
	case "quests", "journal":
		return e.renderQuests(s), true
	case "look", "exits":
		return e.renderLook(s), true
	case "rest":
		healed, err := s.Char.ShortRest(s.Roller, s.InCombat())
		if err != nil {
			return "You cannot rest now: " + trimErr(err), true
		}
		return fmt.Sprintf("You catch your breath and recover %d HP (%d/%d). Hit dice left: %d.",
			healed, s.Char.CurrentHP, s.Char.MaxHP, s.Char.HitDiceRemaining), true
	case "use":
		return e.useItem(s, rest), true
	case "equip":
		return e.equipItem(s, rest), true
	case "save":
		if e.saves == nil {
			return "", false
		}
		slot, err := e.saves.Save(rest, "", s)
		if err != nil {
			return "Save failed: " + trimErr(err), true
		}
		return fmt.Sprintf("Game saved to slot %q.", slot), true
	case "load":
		if e.saves == nil {
			return "", false
		}
		if err := e.saves.Load(rest, s); err != nil {
			return "Load failed: " + trimErr(err), true
		}
		return "Game loaded. " + e.renderLook(s), true
	}
	return "", false
}

func (e *Engine) renderInventory(s *session.Session) string {
	if len(s.Char.Inventory) == 0 {
		return fmt.Sprintf("Your pack is empty. Gold: %d.", s.Char.Gold)
	}
	var b strings.Builder
	b.WriteString("You carry:\n")
	for _, st := range s.Char.Inventory {
		name := st.ItemID
		if item := s.Scenario.Item(st.ItemID); item != nil {
			name = item.Name
		}
		marker := ""
		if st.ItemID == s.Char.WeaponID || st.ItemID == s.Char.ArmorID {
			marker = " (equipped)"
		}
		fmt.Fprintf(&b, "- %s x%d%s\n", name, st.Quantity, marker)
	}
	fmt.Fprintf(&b, "Gold: %d.", s.Char.Gold)
	return b.String()
}

func (e *Engine) renderQuests(s *session.Session) string {
	active := s.Quests.Active()
	if len(active) == 0 {
		return "No active quests."
	}
	var b strings.Builder
	b.WriteString("Active quests:\n")
	for _, entry := range active {
		fmt.Fprintf(&b, "- %s", entry.Quest.Name)
		if obj := s.Quests.NextObjective(entry.Quest.ID); obj != nil {
			for _, st := range entry.State.Objectives {
				if st.ID == obj.ID {
					fmt.Fprintf(&b, ": %s (%d/%d)", obj.Description, st.Current, obj.Required)
				}
			}
		}
		b.WriteString("\n")
	}
	return strings.TrimRight(b.String(), "\n")
}

func (e *Engine) renderLook(s *session.Session) string {
	loc := s.World.Current()
	if loc == nil {
		return "You are nowhere in particular."
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%s. %s", loc.Name, loc.Description)
	if exits := s.World.GetExits(); len(exits) > 0 {
		parts := make([]string, 0, len(exits))
		for _, ex := range exits {
			p := ex.Direction
			if ex.Locked {
				p += " (blocked)"
			}
			parts = append(parts, p)
		}
		fmt.Fprintf(&b, " Exits: %s.", strings.Join(parts, ", "))
	}
	if npcs := s.NPCs.At(s.World.CurrentID()); len(npcs) > 0 {
		names := make([]string, len(npcs))
		for i, n := range npcs {
			names[i] = n.Name
		}
		sort.Strings(names)
		fmt.Fprintf(&b, " Here: %s.", strings.Join(names, ", "))
	}
	return b.String()
}

func (e *Engine) useItem(s *session.Session, name string) string {
	item := findItem(s.Scenario, name)
	if item == nil {
		return fmt.Sprintf("You carry no %q.", name)
	}
	res, err := s.Char.UseItem(item, s.Roller)
	if err != nil {
		return "You cannot use that: " + trimErr(err)
	}
	if res.Effect == "heal" {
		return fmt.Sprintf("You use the %s and recover %d HP (%d/%d).",
			item.Name, res.Healed, s.Char.CurrentHP, s.Char.MaxHP)
	}
	return fmt.Sprintf("You use the %s.", item.Name)
}

func (e *Engine) equipItem(s *session.Session, name string) string {
	item := findItem(s.Scenario, name)
	if item == nil {
		return fmt.Sprintf("You carry no %q.", name)
	}
	if err := s.Char.Equip(item); err != nil {
		return "You cannot equip that: " + trimErr(err)
	}
	return fmt.Sprintf("You equip the %s. AC %d.", item.Name, s.Char.ArmorClass)
}

// findItem resolves a player-typed item reference by ID or name.
func findItem(scen *content.Scenario, ref string) *content.Item {
	ref = strings.ToLower(strings.TrimSpace(ref))
	if ref == "" {
		return nil
	}
	if item := scen.Item(ref); item != nil {
		return item
	}
	for _, item := range scen.Items {
		if strings.ToLower(item.Name) == ref {
			return item
		}
	}
	return nil
}

// trimErr strips the package prefix from an error for player-facing text.
func trimErr(err error) string {
	msg := err.Error()
	if _, after, found := strings.Cut(msg, ": "); found {
		return after
	}
	return msg
}
