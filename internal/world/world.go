// Package world is the location engine: movement across the scenario's
// location graph, exit-condition gates, hidden-location discovery, scripted
// events, and random encounters.
//
// A Manager holds one session's runtime view of the immutable location graph.
// Visit counts, triggered events, and unlocked exits live here; the content
// itself is never mutated.
package world

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/dmforge/dmforge/internal/condition"
	"github.com/dmforge/dmforge/internal/content"
	"github.com/dmforge/dmforge/internal/dice"
)

var (
	ErrNoSuchExit      = errors.New("world: no exit in that direction")
	ErrUnknownLocation = errors.New("world: unknown location")
)

// ConditionFailedError reports a gated exit whose condition was not met.
type ConditionFailedError struct {
	Direction string
	Message   string
}

func (e *ConditionFailedError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return fmt.Sprintf("world: the way %s is barred", e.Direction)
}

// cardinalAliases maps shorthand direction words to canonical directions.
var cardinalAliases = map[string]string{
	"n": "north", "s": "south", "e": "east", "w": "west",
	"ne": "northeast", "nw": "northwest", "se": "southeast", "sw": "southwest",
	"u": "up", "d": "down",
}

// Player is the character/session surface exit conditions are evaluated
// against. The session aggregate implements it.
type Player interface {
	condition.State

	// SpendGold deducts gold for gold-gated exits.
	SpendGold(amount int) error

	// ConsumeItem removes one copy of an item for consuming exits.
	ConsumeItem(itemID string) error
}

// Manager tracks one session's position and location runtime state.
type Manager struct {
	scen *content.Scenario

	current           string
	visits            map[string]int
	eventsTriggered   map[string]bool
	unlockedExits     map[string]bool
	encounterCount    map[string]int
	encounterLastHit  map[string]int
	discoveredSecrets map[string]bool
}

// NewManager positions a fresh session at the scenario's start location.
// The start location counts as visited.
func NewManager(scen *content.Scenario) *Manager {
	m := &Manager{
		scen:              scen,
		current:           scen.StartLocation,
		visits:            make(map[string]int),
		eventsTriggered:   make(map[string]bool),
		unlockedExits:     make(map[string]bool),
		encounterCount:    make(map[string]int),
		encounterLastHit:  make(map[string]int),
		discoveredSecrets: make(map[string]bool),
	}
	m.visits[scen.StartLocation] = 1
	return m
}

// Current returns the current location. Never nil for a validated scenario.
func (m *Manager) Current() *content.Location {
	return m.scen.Location(m.current)
}

// CurrentID returns the current location's ID.
func (m *Manager) CurrentID() string { return m.current }

// VisitCount returns how many times a location has been entered.
func (m *Manager) VisitCount(id string) int { return m.visits[id] }

// HasVisited reports whether a location was ever entered.
func (m *Manager) HasVisited(id string) bool { return m.visits[id] > 0 }

// Discovered reports whether a hidden location has been revealed.
func (m *Manager) Discovered(id string) bool { return m.discoveredSecrets[id] }

// MoveResult describes a completed move.
type MoveResult struct {
	From       string                   `json:"from"`
	To         string                   `json:"to"`
	Direction  string                   `json:"direction"`
	FirstVisit bool                     `json:"first_visit"`
	Location   *content.Location        `json:"-"`
	Encounter  *content.RandomEncounter `json:"-"`

	// Events lists scripted events that fired on entry. Their side effects
	// (flags, items, gold, XP) are applied by the caller.
	Events []content.LocationEvent `json:"-"`
}

// Move resolves one travel command: normalizes the direction through the
// location's aliases and the cardinal shorthand table, evaluates any exit
// condition, then relocates and rolls events and encounters at the target.
func (m *Manager) Move(direction string, p Player, roller *dice.Roller) (*MoveResult, error) {
	loc := m.Current()
	if loc == nil {
		return nil, fmt.Errorf("%w: %q", ErrUnknownLocation, m.current)
	}

	dir := m.normalizeDirection(loc, direction)
	target, ok := loc.Exits[dir]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrNoSuchExit, direction)
	}

	// Hidden locations are invisible until discovered.
	if tl := m.scen.Location(target); tl != nil && tl.Hidden && !m.discoveredSecrets[target] {
		return nil, fmt.Errorf("%w: %q", ErrNoSuchExit, direction)
	}

	if err := m.evalExitCondition(loc, dir, p); err != nil {
		return nil, err
	}

	m.current = target
	m.visits[target]++
	first := m.visits[target] == 1

	res := &MoveResult{
		From:       loc.ID,
		To:         target,
		Direction:  dir,
		FirstVisit: first,
		Location:   m.scen.Location(target),
	}

	res.Events = m.fireEvents(res.Location, first)
	res.Encounter = m.rollEncounter(res.Location, roller)

	return res, nil
}

func (m *Manager) normalizeDirection(loc *content.Location, direction string) string {
	dir := strings.ToLower(strings.TrimSpace(direction))
	if mapped, ok := loc.DirectionAliases[dir]; ok {
		dir = mapped
	}
	if mapped, ok := cardinalAliases[dir]; ok {
		dir = mapped
	}
	return dir
}

// evalExitCondition enforces the gate on one exit. A passed gate is recorded
// in unlockedExits so it is not re-evaluated (and not re-charged) later.
func (m *Manager) evalExitCondition(loc *content.Location, dir string, p Player) error {
	cond, ok := loc.ExitConditions[dir]
	if !ok {
		return nil
	}
	key := loc.ID + "/" + dir
	if m.unlockedExits[key] {
		return nil
	}

	met := false
	switch cond.Kind {
	case content.CondHasItem:
		met = p.HasItem(cond.Item)
	case content.CondGold:
		met = p.Gold() >= cond.Gold
	case content.CondVisited:
		met = p.HasVisited(cond.Location)
	case content.CondSkill:
		met = p.RollSkillCheck(strings.ToUpper(cond.Skill), cond.DC)
	case content.CondObjective:
		met = p.ObjectiveComplete(cond.Objective)
	case content.CondFlag:
		met = p.FlagSet(cond.Flag)
	}

	if !met {
		return &ConditionFailedError{Direction: dir, Message: cond.FailMessage}
	}

	switch {
	case cond.Kind == content.CondGold:
		if err := p.SpendGold(cond.Gold); err != nil {
			return &ConditionFailedError{Direction: dir, Message: cond.FailMessage}
		}
	case cond.Kind == content.CondHasItem && cond.ConsumeItem:
		if err := p.ConsumeItem(cond.Item); err != nil {
			return &ConditionFailedError{Direction: dir, Message: cond.FailMessage}
		}
	}

	m.unlockedExits[key] = true
	return nil
}

// fireEvents collects the location events whose trigger applies and marks
// one-time events as spent.
func (m *Manager) fireEvents(loc *content.Location, firstVisit bool) []content.LocationEvent {
	var fired []content.LocationEvent
	for _, ev := range loc.Events {
		key := loc.ID + "/" + ev.ID
		if ev.OneTime && m.eventsTriggered[key] {
			continue
		}
		switch ev.Trigger {
		case content.TriggerOnEnter:
		case content.TriggerOnFirstVisit:
			if !firstVisit {
				continue
			}
		default:
			continue
		}
		m.eventsTriggered[key] = true
		fired = append(fired, ev)
	}
	return fired
}

// rollEncounter rolls the location's random encounters in order and returns
// the first that triggers, respecting min_visits, max_triggers and cooldown.
func (m *Manager) rollEncounter(loc *content.Location, roller *dice.Roller) *content.RandomEncounter {
	visit := m.visits[loc.ID]
	for i := range loc.Encounters {
		enc := &loc.Encounters[i]
		key := loc.ID + "/" + strconv.Itoa(i)

		if enc.MinVisits > 0 && visit < enc.MinVisits {
			continue
		}
		if enc.MaxTriggers > 0 && m.encounterCount[key] >= enc.MaxTriggers {
			continue
		}
		if enc.Cooldown > 0 {
			if last, hit := m.encounterLastHit[key], m.encounterCount[key]; hit > 0 && visit-last <= enc.Cooldown {
				continue
			}
		}
		if roller.Float64() >= enc.Chance {
			continue
		}

		m.encounterCount[key]++
		m.encounterLastHit[key] = visit
		return enc
	}
	return nil
}

// Exit is one visible exit in a listing.
type Exit struct {
	Direction string `json:"direction"`
	Target    string `json:"target"`
	Name      string `json:"name"`
	Locked    bool   `json:"locked"`
}

// GetExits lists the current location's exits, hiding undiscovered hidden
// locations and flagging gated exits that have not been unlocked yet.
func (m *Manager) GetExits() []Exit {
	loc := m.Current()
	if loc == nil {
		return nil
	}

	dirs := make([]string, 0, len(loc.Exits))
	for dir := range loc.Exits {
		dirs = append(dirs, dir)
	}
	sort.Strings(dirs)

	out := make([]Exit, 0, len(dirs))
	for _, dir := range dirs {
		target := loc.Exits[dir]
		tl := m.scen.Location(target)
		if tl == nil {
			continue
		}
		if tl.Hidden && !m.discoveredSecrets[target] {
			continue
		}
		_, gated := loc.ExitConditions[dir]
		out = append(out, Exit{
			Direction: dir,
			Target:    target,
			Name:      tl.Name,
			Locked:    gated && !m.unlockedExits[loc.ID+"/"+dir],
		})
	}
	return out
}

// Discovery is a hidden location revealed by CheckDiscovery.
type Discovery struct {
	LocationID string `json:"location_id"`
	Name       string `json:"name"`
	Hint       string `json:"hint,omitempty"`
}

// CheckDiscovery probes the current location's neighborhood for hidden
// locations and evaluates their discovery conditions. Newly revealed
// locations are recorded in discovered secrets and become visible in exit
// listings.
func (m *Manager) CheckDiscovery(p Player) []Discovery {
	loc := m.Current()
	if loc == nil {
		return nil
	}

	var found []Discovery
	for _, target := range sortedTargets(loc.Exits) {
		tl := m.scen.Location(target)
		if tl == nil || !tl.Hidden || m.discoveredSecrets[target] {
			continue
		}
		if tl.DiscoveryCondition != "" {
			res, err := condition.Eval(tl.DiscoveryCondition, p)
			if err != nil || !res.Met {
				continue
			}
		}
		m.discoveredSecrets[target] = true
		found = append(found, Discovery{LocationID: target, Name: tl.Name, Hint: tl.DiscoveryHint})
	}
	return found
}

// DiscoveryHints returns the hints of hidden, undiscovered neighbors so the
// DM can foreshadow them without revealing the location.
func (m *Manager) DiscoveryHints() []string {
	loc := m.Current()
	if loc == nil {
		return nil
	}
	var hints []string
	for _, target := range sortedTargets(loc.Exits) {
		tl := m.scen.Location(target)
		if tl != nil && tl.Hidden && !m.discoveredSecrets[target] && tl.DiscoveryHint != "" {
			hints = append(hints, tl.DiscoveryHint)
		}
	}
	return hints
}

func sortedTargets(exits map[string]string) []string {
	targets := make([]string, 0, len(exits))
	for _, t := range exits {
		targets = append(targets, t)
	}
	sort.Strings(targets)
	return targets
}

// DiscoveredSecrets returns the IDs of all revealed hidden locations, sorted.
func (m *Manager) DiscoveredSecrets() []string {
	out := make([]string, 0, len(m.discoveredSecrets))
	for id := range m.discoveredSecrets {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// Reveal marks a hidden location as discovered without a probe.
func (m *Manager) Reveal(locationID string) {
	m.discoveredSecrets[locationID] = true
}

// ── persistence ──

// Snapshot is the serializable runtime state of the manager.
type Snapshot struct {
	Current           string          `json:"current"`
	Visits            map[string]int  `json:"visits"`
	EventsTriggered   []string        `json:"events_triggered,omitempty"`
	UnlockedExits     []string        `json:"unlocked_exits,omitempty"`
	EncounterCount    map[string]int  `json:"encounter_count,omitempty"`
	EncounterLastHit  map[string]int  `json:"encounter_last_hit,omitempty"`
	DiscoveredSecrets []string        `json:"discovered_secrets,omitempty"`
}

// Snapshot captures the manager's runtime state for a save file.
func (m *Manager) Snapshot() Snapshot {
	return Snapshot{
		Current:           m.current,
		Visits:            copyIntMap(m.visits),
		EventsTriggered:   setToSlice(m.eventsTriggered),
		UnlockedExits:     setToSlice(m.unlockedExits),
		EncounterCount:    copyIntMap(m.encounterCount),
		EncounterLastHit:  copyIntMap(m.encounterLastHit),
		DiscoveredSecrets: setToSlice(m.discoveredSecrets),
	}
}

// Restore replaces the manager's runtime state from a snapshot. Fails when
// the snapshot references a location the scenario does not know.
func (m *Manager) Restore(s Snapshot) error {
	if m.scen.Location(s.Current) == nil {
		return fmt.Errorf("%w: %q", ErrUnknownLocation, s.Current)
	}
	m.current = s.Current
	m.visits = copyIntMap(s.Visits)
	if m.visits == nil {
		m.visits = make(map[string]int)
	}
	m.eventsTriggered = sliceToSet(s.EventsTriggered)
	m.unlockedExits = sliceToSet(s.UnlockedExits)
	m.encounterCount = copyIntMap(s.EncounterCount)
	if m.encounterCount == nil {
		m.encounterCount = make(map[string]int)
	}
	m.encounterLastHit = copyIntMap(s.EncounterLastHit)
	if m.encounterLastHit == nil {
		m.encounterLastHit = make(map[string]int)
	}
	m.discoveredSecrets = sliceToSet(s.DiscoveredSecrets)
	return nil
}

func copyIntMap(in map[string]int) map[string]int {
	if in == nil {
		return nil
	}
	out := make(map[string]int, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

func setToSlice(set map[string]bool) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func sliceToSet(in []string) map[string]bool {
	out := make(map[string]bool, len(in))
	for _, k := range in {
		out[k] = true
	}
	return out
}
