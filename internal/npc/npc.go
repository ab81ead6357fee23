// Package npc tracks per-session NPC runtime state: dispositions, merchant
// stock, and traveling-merchant presence.
//
// Disposition is an integer in [-100, 100]. Everything derived from it
// (trade eligibility, price multiplier, tier label) is a pure function of the
// value, so tests can assert the table directly.
package npc

import (
	"errors"
	"fmt"
	"sort"

	"github.com/dmforge/dmforge/internal/content"
	"github.com/dmforge/dmforge/internal/dice"
)

var (
	ErrUnknownNPC        = errors.New("npc: unknown npc")
	ErrNotMerchant       = errors.New("npc: not a merchant")
	ErrInsufficientStock = errors.New("npc: insufficient stock")
)

// UnlimitedStock marks an item a merchant never runs out of.
const UnlimitedStock = -1

// Traveling-merchant policy: after a spawn roll (hit or miss), the merchant
// sits out this many location entries before rolling again, and a rotation
// draws at most this many items from the pool.
const (
	travelCooldownVisits = 5
	maxRotationItems     = 4
)

// Tier is the label of a disposition band.
type Tier string

const (
	TierHostile    Tier = "hostile"
	TierUnfriendly Tier = "unfriendly"
	TierNeutral    Tier = "neutral"
	TierFriendly   Tier = "friendly"
	TierTrusted    Tier = "trusted"
)

// TierOf maps a disposition value to its band.
func TierOf(disposition int) Tier {
	switch {
	case disposition < -50:
		return TierHostile
	case disposition < -10:
		return TierUnfriendly
	case disposition <= 10:
		return TierNeutral
	case disposition <= 50:
		return TierFriendly
	default:
		return TierTrusted
	}
}

// PriceModifierOf returns the buy/sell price multiplier for a disposition
// band. Hostile NPCs refuse trade entirely; ok is false for them.
func PriceModifierOf(disposition int) (mod float64, ok bool) {
	switch TierOf(disposition) {
	case TierHostile:
		return 0, false
	case TierUnfriendly:
		return 1.25, true
	case TierNeutral:
		return 1.0, true
	case TierFriendly:
		return 0.9, true
	default:
		return 0.8, true
	}
}

// Action is a reputation-affecting player action.
type Action string

const (
	ActionTrade            Action = "trade"
	ActionHaggleSuccess    Action = "haggle_success"
	ActionHaggleFailure    Action = "haggle_failure"
	ActionStealFailure     Action = "steal_failure"
	ActionStealCritFailure Action = "steal_crit_failure"
)

// actionDeltas is the fixed disposition table for simple actions. Gifts and
// quest completions scale with value/quest type and have their own helpers.
var actionDeltas = map[Action]int{
	ActionTrade:            1,
	ActionHaggleSuccess:    2,
	ActionHaggleFailure:    -5,
	ActionStealFailure:     -30,
	ActionStealCritFailure: -50,
}

// GiftDelta returns the disposition gain for gifting an item, stepped through
// value bands.
func GiftDelta(itemValue int) int {
	switch {
	case itemValue < 10:
		return 5
	case itemValue < 50:
		return 10
	case itemValue < 200:
		return 15
	default:
		return 20
	}
}

// QuestDelta returns the disposition gain a quest giver feels on completion.
func QuestDelta(t content.QuestType) int {
	switch t {
	case content.QuestMain:
		return 25
	case content.QuestSide:
		return 15
	default:
		return 10
	}
}

// Manager holds one session's NPC runtime state.
type Manager struct {
	scen *content.Scenario

	dispositions map[string]int
	stock        map[string]map[string]int

	// Traveling-merchant state.
	travelLocation map[string]string
	travelLastRoll map[string]int
	entryCounter   int
}

// NewManager seeds dispositions from content and copies merchant stock into
// mutable runtime maps.
func NewManager(scen *content.Scenario) *Manager {
	m := &Manager{
		scen:           scen,
		dispositions:   make(map[string]int),
		stock:          make(map[string]map[string]int),
		travelLocation: make(map[string]string),
		travelLastRoll: make(map[string]int),
	}
	for id, n := range scen.NPCs {
		m.dispositions[id] = clamp(n.BaseDisposition)
		if n.Shop != nil {
			st := make(map[string]int, len(n.Shop.Inventory))
			for itemID, count := range n.Shop.Inventory {
				if count < 0 {
					count = UnlimitedStock
				}
				st[itemID] = count
			}
			m.stock[id] = st
		}
	}
	return m
}

// ── disposition ──

// Disposition returns the current disposition toward an NPC.
func (m *Manager) Disposition(npcID string) int { return m.dispositions[npcID] }

// ModifyDisposition applies a delta and returns the clamped new value.
func (m *Manager) ModifyDisposition(npcID string, delta int) int {
	v := clamp(m.dispositions[npcID] + delta)
	m.dispositions[npcID] = v
	return v
}

// ApplyAction applies the fixed delta for a simple reputation action.
func (m *Manager) ApplyAction(npcID string, a Action) int {
	return m.ModifyDisposition(npcID, actionDeltas[a])
}

// Tier returns the disposition band toward an NPC.
func (m *Manager) Tier(npcID string) Tier { return TierOf(m.dispositions[npcID]) }

// CanTrade reports whether an NPC is willing to trade at all.
func (m *Manager) CanTrade(npcID string) bool {
	_, ok := PriceModifierOf(m.dispositions[npcID])
	return ok
}

// PriceModifier returns the disposition price multiplier for an NPC.
func (m *Manager) PriceModifier(npcID string) (float64, bool) {
	return PriceModifierOf(m.dispositions[npcID])
}

func clamp(v int) int {
	if v < -100 {
		return -100
	}
	if v > 100 {
		return 100
	}
	return v
}

// ── merchant stock ──

// Stock returns a merchant's current stock map. The returned map is live;
// callers must not mutate it.
func (m *Manager) Stock(npcID string) (map[string]int, error) {
	st, ok := m.stock[npcID]
	if !ok {
		if m.scen.NPC(npcID) == nil {
			return nil, fmt.Errorf("%w: %q", ErrUnknownNPC, npcID)
		}
		return nil, fmt.Errorf("%w: %q", ErrNotMerchant, npcID)
	}
	return st, nil
}

// TakeStock removes qty copies of an item from a merchant's stock.
func (m *Manager) TakeStock(npcID, itemID string, qty int) error {
	st, err := m.Stock(npcID)
	if err != nil {
		return err
	}
	have, ok := st[itemID]
	if !ok {
		return fmt.Errorf("%w: %q does not stock %q", ErrInsufficientStock, npcID, itemID)
	}
	if have == UnlimitedStock {
		return nil
	}
	if have < qty {
		return fmt.Errorf("%w: %q has %d of %q, need %d", ErrInsufficientStock, npcID, have, itemID, qty)
	}
	st[itemID] = have - qty
	return nil
}

// AddStock returns qty copies of an item to a merchant's stock (player sale).
func (m *Manager) AddStock(npcID, itemID string, qty int) {
	st, err := m.Stock(npcID)
	if err != nil || qty < 1 {
		return
	}
	if have, ok := st[itemID]; !ok || have != UnlimitedStock {
		st[itemID] = st[itemID] + qty
	}
}

// ── presence ──

// At lists the NPCs present at a location: the statically placed ones plus
// any traveling merchant currently spawned there. Sorted by ID.
func (m *Manager) At(locationID string) []*content.NPC {
	loc := m.scen.Location(locationID)
	var out []*content.NPC
	if loc != nil {
		for _, id := range loc.NPCs {
			if n := m.scen.NPC(id); n != nil {
				out = append(out, n)
			}
		}
	}
	for npcID, at := range m.travelLocation {
		if at == locationID {
			if n := m.scen.NPC(npcID); n != nil {
				out = append(out, n)
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// IsPresent reports whether an NPC can be interacted with at a location.
func (m *Manager) IsPresent(npcID, locationID string) bool {
	for _, n := range m.At(locationID) {
		if n.ID == npcID {
			return true
		}
	}
	return false
}

// OnLocationEnter rolls traveling-merchant spawns for a location entry and
// returns the IDs of merchants that just appeared. A merchant that rolled
// (hit or miss) sits out the cooldown before rolling again; a spawned
// merchant stays until the player enters a location it cannot appear at.
func (m *Manager) OnLocationEnter(locationID string, roller *dice.Roller) []string {
	m.entryCounter++

	var spawned []string
	ids := make([]string, 0, len(m.scen.NPCs))
	for id := range m.scen.NPCs {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	for _, id := range ids {
		n := m.scen.NPC(id)
		if n.Traveling == nil {
			continue
		}

		possible := false
		for _, loc := range n.Traveling.PossibleLocations {
			if loc == locationID {
				possible = true
				break
			}
		}

		if !possible {
			delete(m.travelLocation, id)
			continue
		}
		if m.travelLocation[id] == locationID {
			continue
		}
		if last, ok := m.travelLastRoll[id]; ok && m.entryCounter-last <= travelCooldownVisits {
			continue
		}

		m.travelLastRoll[id] = m.entryCounter
		if roller.Float64() >= n.Traveling.SpawnChance {
			continue
		}

		m.travelLocation[id] = locationID
		m.rotateInventory(n, roller)
		spawned = append(spawned, id)
	}
	return spawned
}

// rotateInventory redraws a traveling merchant's stock from its pool.
// The pool is deduped first: the draw loop keys on item IDs, so a repeated
// ID must not raise count past the number of distinct items.
func (m *Manager) rotateInventory(n *content.NPC, roller *dice.Roller) {
	seen := make(map[string]bool, len(n.Traveling.InventoryPool))
	pool := make([]string, 0, len(n.Traveling.InventoryPool))
	for _, itemID := range n.Traveling.InventoryPool {
		if !seen[itemID] {
			seen[itemID] = true
			pool = append(pool, itemID)
		}
	}
	count := maxRotationItems
	if len(pool) < count {
		count = len(pool)
	}

	picked := make(map[string]bool, count)
	for len(picked) < count {
		picked[pool[roller.IntN(len(pool))]] = true
	}

	st := make(map[string]int, count)
	for itemID := range picked {
		st[itemID] = 1 + roller.IntN(3)
	}
	m.stock[n.ID] = st
}

// ── persistence ──

// Snapshot is the serializable NPC runtime state.
type Snapshot struct {
	Dispositions   map[string]int            `json:"dispositions"`
	Stock          map[string]map[string]int `json:"stock,omitempty"`
	TravelLocation map[string]string         `json:"travel_location,omitempty"`
	TravelLastRoll map[string]int            `json:"travel_last_roll,omitempty"`
	EntryCounter   int                       `json:"entry_counter,omitempty"`
}

// Snapshot captures runtime state for a save file.
func (m *Manager) Snapshot() Snapshot {
	s := Snapshot{
		Dispositions:   make(map[string]int, len(m.dispositions)),
		Stock:          make(map[string]map[string]int, len(m.stock)),
		TravelLocation: make(map[string]string, len(m.travelLocation)),
		TravelLastRoll: make(map[string]int, len(m.travelLastRoll)),
		EntryCounter:   m.entryCounter,
	}
	for k, v := range m.dispositions {
		s.Dispositions[k] = v
	}
	for npcID, st := range m.stock {
		cp := make(map[string]int, len(st))
		for itemID, n := range st {
			cp[itemID] = n
		}
		s.Stock[npcID] = cp
	}
	for k, v := range m.travelLocation {
		s.TravelLocation[k] = v
	}
	for k, v := range m.travelLastRoll {
		s.TravelLastRoll[k] = v
	}
	return s
}

// Restore replaces runtime state from a snapshot. Unknown NPC IDs are
// dropped rather than rejected so content updates do not brick old saves.
func (m *Manager) Restore(s Snapshot) {
	for id, v := range s.Dispositions {
		if m.scen.NPC(id) != nil {
			m.dispositions[id] = clamp(v)
		}
	}
	for npcID, st := range s.Stock {
		if m.scen.NPC(npcID) == nil {
			continue
		}
		cp := make(map[string]int, len(st))
		for itemID, n := range st {
			cp[itemID] = n
		}
		m.stock[npcID] = cp
	}
	m.travelLocation = make(map[string]string)
	for id, loc := range s.TravelLocation {
		if m.scen.NPC(id) != nil && m.scen.Location(loc) != nil {
			m.travelLocation[id] = loc
		}
	}
	m.travelLastRoll = make(map[string]int)
	for id, v := range s.TravelLastRoll {
		if m.scen.NPC(id) != nil {
			m.travelLastRoll[id] = v
		}
	}
	m.entryCounter = s.EntryCounter
}
