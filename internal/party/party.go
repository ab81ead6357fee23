// Package party manages companions: recruitment gated by OR-combined
// conditions, the two-companion cap, and member combat sheets.
package party

import (
	"errors"
	"fmt"

	"github.com/dmforge/dmforge/internal/condition"
	"github.com/dmforge/dmforge/internal/content"
	"github.com/dmforge/dmforge/internal/npc"
)

var (
	ErrPartyFull        = errors.New("party: party is full")
	ErrNotRecruitable   = errors.New("party: npc cannot be recruited")
	ErrAlreadyRecruited = errors.New("party: already recruited")
	ErrConditionsUnmet  = errors.New("party: no recruitment condition met")
	ErrNotInParty       = errors.New("party: no such member")
)

// MaxCompanions is the companion cap (three combatants including the PC).
const MaxCompanions = 2

// dismissalDelta is the disposition hit for sending a companion away.
const dismissalDelta = -10

// Recruiter is the character/session surface recruitment conditions are
// evaluated and charged against.
type Recruiter interface {
	condition.State

	SpendGold(amount int) error
	ConsumeItem(itemID string) error
}

// Member is one companion's runtime sheet.
type Member struct {
	ID             string `json:"id"`
	NPCID          string `json:"npc_id"`
	Name           string `json:"name"`
	Class          string `json:"class"`
	Level          int    `json:"level"`
	MaxHP          int    `json:"max_hp"`
	CurrentHP      int    `json:"current_hp"`
	ArmorClass     int    `json:"armor_class"`
	AttackBonus    int    `json:"attack_bonus"`
	DamageDice     string `json:"damage_dice"`
	InitiativeMod  int    `json:"initiative_mod"`
	SpecialAbility string `json:"special_ability,omitempty"`
	AbilityUses    int    `json:"ability_uses_remaining"`
}

// Alive reports whether the member can still act.
func (m *Member) Alive() bool { return m.CurrentHP > 0 }

// Party is one session's companion roster.
type Party struct {
	scen      *content.Scenario
	npcs      *npc.Manager
	members   []*Member
	recruited map[string]bool
}

// New creates an empty party.
func New(scen *content.Scenario, npcs *npc.Manager) *Party {
	return &Party{scen: scen, npcs: npcs, recruited: make(map[string]bool)}
}

// Members returns the roster in recruitment order. The slice is live.
func (p *Party) Members() []*Member { return p.members }

// Size returns the number of companions.
func (p *Party) Size() int { return len(p.members) }

// Member returns the companion with the given ID, or nil.
func (p *Party) Member(id string) *Member {
	for _, m := range p.members {
		if m.ID == id {
			return m
		}
	}
	return nil
}

// RecruitResult describes a successful recruitment.
type RecruitResult struct {
	Member *Member          `json:"member"`
	Met    condition.Result `json:"-"`
}

// Recruit attempts to recruit an NPC. The recruitment conditions are
// OR-combined: the first met condition wins and is the one charged (gold is
// spent, a demanded item is handed over). Skill-based recruitment costs
// nothing beyond the roll.
func (p *Party) Recruit(npcID string, r Recruiter) (*RecruitResult, error) {
	n := p.scen.NPC(npcID)
	if n == nil || n.Recruit == nil {
		return nil, fmt.Errorf("%w: %q", ErrNotRecruitable, npcID)
	}
	if p.recruited[npcID] {
		return nil, fmt.Errorf("%w: %q", ErrAlreadyRecruited, npcID)
	}
	if len(p.members) >= MaxCompanions {
		return nil, ErrPartyFull
	}

	res, err := condition.EvalAny(n.Recruit.Conditions, r)
	if err != nil {
		return nil, fmt.Errorf("party: recruit %q: %w", npcID, err)
	}
	if !res.Met {
		return nil, fmt.Errorf("%w: %q", ErrConditionsUnmet, npcID)
	}

	switch res.Kind {
	case "gold":
		amount := 0
		fmt.Sscanf(res.Arg, "%d", &amount)
		if err := r.SpendGold(amount); err != nil {
			return nil, fmt.Errorf("%w: %q", ErrConditionsUnmet, npcID)
		}
	case "has_item":
		if err := r.ConsumeItem(res.Arg); err != nil {
			return nil, fmt.Errorf("%w: %q", ErrConditionsUnmet, npcID)
		}
	}

	def := n.Recruit.Member
	m := &Member{
		ID:             def.ID,
		NPCID:          npcID,
		Name:           def.Name,
		Class:          def.Class,
		Level:          def.Level,
		MaxHP:          def.MaxHP,
		CurrentHP:      def.MaxHP,
		ArmorClass:     def.ArmorClass,
		AttackBonus:    def.AttackBonus,
		DamageDice:     def.DamageDice,
		InitiativeMod:  def.InitiativeMod,
		SpecialAbility: def.SpecialAbility,
		AbilityUses:    def.AbilityUses,
	}
	p.members = append(p.members, m)
	p.recruited[npcID] = true
	return &RecruitResult{Member: m, Met: res}, nil
}

// Dismiss removes a companion and sours the underlying NPC's disposition.
// A dismissed companion can be recruited again later.
func (p *Party) Dismiss(memberID string) error {
	for i, m := range p.members {
		if m.ID == memberID {
			p.members = append(p.members[:i], p.members[i+1:]...)
			delete(p.recruited, m.NPCID)
			p.npcs.ModifyDisposition(m.NPCID, dismissalDelta)
			return nil
		}
	}
	return fmt.Errorf("%w: %q", ErrNotInParty, memberID)
}

// ResetAbilities refills every member's per-combat special-ability budget.
// Called when combat starts.
func (p *Party) ResetAbilities() {
	for _, m := range p.members {
		n := p.scen.NPC(m.NPCID)
		if n != nil && n.Recruit != nil {
			m.AbilityUses = n.Recruit.Member.AbilityUses
		}
	}
}

// ── persistence ──

// Snapshot is the serializable party state.
type Snapshot struct {
	Members []*Member `json:"members"`
}

// Snapshot captures the roster for a save file.
func (p *Party) Snapshot() Snapshot {
	out := Snapshot{Members: make([]*Member, len(p.members))}
	for i, m := range p.members {
		cp := *m
		out.Members[i] = &cp
	}
	return out
}

// Restore replaces the roster from a snapshot. Members whose NPC no longer
// exists in the scenario are dropped.
func (p *Party) Restore(s Snapshot) {
	p.members = nil
	p.recruited = make(map[string]bool)
	for _, m := range s.Members {
		if p.scen.NPC(m.NPCID) == nil {
			continue
		}
		if len(p.members) >= MaxCompanions {
			break
		}
		cp := *m
		p.members = append(p.members, &cp)
		p.recruited[m.NPCID] = true
	}
}
