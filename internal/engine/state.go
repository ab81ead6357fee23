package engine

import (
	"github.com/dmforge/dmforge/internal/combat"
	"github.com/dmforge/dmforge/internal/content"
	"github.com/dmforge/dmforge/internal/party"
	"github.com/dmforge/dmforge/internal/session"
	"github.com/dmforge/dmforge/internal/world"
)

// State is the payload of the final state event of a turn and of the
// GET state endpoint.
type State struct {
	Character CharacterState  `json:"character"`
	Location  LocationState   `json:"location"`
	Exits     []world.Exit    `json:"exits"`
	NPCs      []NPCState      `json:"npcs"`
	Party     []*party.Member `json:"party,omitempty"`
	InCombat  bool            `json:"in_combat"`
	Combat    *CombatState    `json:"combat,omitempty"`
	Quests    []QuestState    `json:"quests,omitempty"`
	Alignment int             `json:"alignment"`
	Done      bool            `json:"done"`
}

// CharacterState is the sheet summary inside a state event.
type CharacterState struct {
	Name             string `json:"name"`
	Class            string `json:"class"`
	Race             string `json:"race"`
	Level            int    `json:"level"`
	XP               int    `json:"xp"`
	CanLevelUp       bool   `json:"can_level_up"`
	CurrentHP        int    `json:"current_hp"`
	MaxHP            int    `json:"max_hp"`
	ArmorClass       int    `json:"armor_class"`
	Gold             int    `json:"gold"`
	HitDiceRemaining int    `json:"hit_dice_remaining"`
}

// LocationState identifies where the character stands.
type LocationState struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

// NPCState is one NPC present at the current location.
type NPCState struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Role        string `json:"role"`
	Disposition int    `json:"disposition"`
	Merchant    bool   `json:"merchant,omitempty"`
}

// CombatState summarises a running fight.
type CombatState struct {
	Round           int             `json:"round"`
	Enemies         []*combat.Enemy `json:"enemies"`
	TurnOrder       []string        `json:"turn_order"`
	PlayerDefending bool            `json:"player_defending"`
	Surprise        bool            `json:"surprise"`
}

// QuestState is one active quest with its next objective.
type QuestState struct {
	ID            string `json:"id"`
	Name          string `json:"name"`
	NextObjective string `json:"next_objective,omitempty"`
	Progress      int    `json:"progress"`
	Required      int    `json:"required,omitempty"`
}

// BuildState snapshots the session for a state event. Callers hold the
// session lock.
func BuildState(s *session.Session, done bool) State {
	c := s.Char
	st := State{
		Character: CharacterState{
			Name:             c.Name,
			Class:            c.Class,
			Race:             c.Race,
			Level:            c.Level,
			XP:               c.XP,
			CanLevelUp:       c.CanLevelUp(),
			CurrentHP:        c.CurrentHP,
			MaxHP:            c.MaxHP,
			ArmorClass:       c.ArmorClass,
			Gold:             c.Gold,
			HitDiceRemaining: c.HitDiceRemaining,
		},
		Exits:     s.World.GetExits(),
		Party:     s.Party.Members(),
		InCombat:  s.InCombat(),
		Alignment: s.Choices.Alignment(),
		Done:      done,
	}

	if loc := s.World.Current(); loc != nil {
		st.Location = LocationState{ID: loc.ID, Name: loc.Name, Description: loc.Description}
	}

	for _, n := range s.NPCs.At(s.World.CurrentID()) {
		st.NPCs = append(st.NPCs, NPCState{
			ID:          n.ID,
			Name:        n.Name,
			Role:        string(n.Role),
			Disposition: s.NPCs.Disposition(n.ID),
			Merchant:    n.Shop != nil,
		})
	}

	if st.InCombat {
		st.Combat = &CombatState{
			Round:           s.Combat.Round,
			Enemies:         s.Combat.Enemies,
			TurnOrder:       s.Combat.TurnOrder(),
			PlayerDefending: s.Combat.PlayerDefending,
			Surprise:        s.Combat.Surprise,
		}
	}

	for _, entry := range s.Quests.Active() {
		qs := QuestState{ID: entry.Quest.ID, Name: entry.Quest.Name}
		if obj := s.Quests.NextObjective(entry.Quest.ID); obj != nil {
			qs.NextObjective = obj.Description
			qs.Required = obj.Required
			for _, os := range entry.State.Objectives {
				if os.ID == obj.ID {
					qs.Progress = os.Current
				}
			}
		}
		st.Quests = append(st.Quests, qs)
	}
	return st
}

// ── shared transitions ──

// MoveOutcome collects everything a completed move triggered.
type MoveOutcome struct {
	Result *world.MoveResult `json:"result"`

	// Narrations are the scripted event texts and NPC arrival lines to feed
	// the next DM context.
	Narrations []string `json:"narrations,omitempty"`

	// Combat is non-nil when a random encounter fired on entry.
	Combat *CombatStart `json:"combat,omitempty"`
}

// ApplyMove applies the side effects of a completed move: scripted event
// consequences, NPC arrivals, per-visit shop state, reach objectives, and a
// random encounter if one fired. Callers hold the session lock.
func ApplyMove(s *session.Session, res *world.MoveResult) (*MoveOutcome, error) {
	out := &MoveOutcome{Result: res}

	for _, ev := range res.Events {
		for _, flag := range ev.SetFlags {
			s.Choices.SetFlag(flag)
		}
		for _, itemID := range ev.GiveItems {
			if item := s.Scenario.Item(itemID); item != nil {
				s.Char.AddItem(item, 1)
				s.Quests.CheckObjective(content.ObjectiveFind, itemID, 1)
				s.Quests.CheckObjective(content.ObjectiveCollect, itemID, 1)
			}
		}
		if ev.GiveGold > 0 {
			s.Char.AddGold(ev.GiveGold)
		}
		if ev.GiveXP > 0 {
			s.Char.GainXP(ev.GiveXP)
		}
		if ev.Narration != "" {
			out.Narrations = append(out.Narrations, ev.Narration)
		}
	}

	out.Narrations = append(out.Narrations, s.NPCs.OnLocationEnter(res.To, s.Roller)...)
	s.Shop.ResetVisit()
	for _, d := range s.World.CheckDiscovery(s) {
		if d.Hint != "" {
			out.Narrations = append(out.Narrations, d.Hint)
		}
	}
	s.Quests.CheckObjective(content.ObjectiveReach, res.To, 1)

	// s.Combat is nil here whenever no fight is live: finished fights are
	// settled and torn down at the site that ended them.
	if enc := res.Encounter; enc != nil && s.Combat == nil {
		dark := combat.CheckDarknessPenalty(res.Location, s.Char, s.Scenario)
		st, opening, err := combat.Start(s.Scenario, s.Char, s.Party, s.Roller, enc.Enemies, false, dark)
		if err != nil {
			return nil, err
		}
		s.Combat = st
		out.Combat = &CombatStart{
			Enemies:   enc.Enemies,
			Round:     st.Round,
			TurnOrder: st.TurnOrder(),
			Events:    opening,
		}
		// The opening round can finish the fight before the player acts;
		// settle on the spot so spoils and objectives are not lost.
		if st.Over() {
			out.Combat.Outcome, out.Combat.Victory = ApplyCombatEnd(s)
		}
	}
	return out, nil
}

// ApplyCombatEnd settles a finished combat: victory spoils, kill objectives,
// boss flags, and teardown. It is a no-op while the fight is still running.
// Callers hold the session lock.
func ApplyCombatEnd(s *session.Session) (combat.Outcome, *combat.Victory) {
	if s.Combat == nil || !s.Combat.Over() {
		return combat.OutcomeNone, nil
	}
	outcome := s.Combat.Outcome()
	victory := s.Combat.VictoryResult()

	if outcome == combat.OutcomeVictory && victory != nil {
		s.Char.GainXP(victory.XP)
		s.Char.AddGold(victory.Gold)
		for _, itemID := range victory.Loot {
			if item := s.Scenario.Item(itemID); item != nil {
				s.Char.AddItem(item, 1)
			}
		}
		for enemyType, count := range victory.Kills {
			s.Quests.CheckObjective(content.ObjectiveKill, enemyType, count)
		}
		for _, boss := range victory.DefeatedBosses {
			s.Choices.SetFlag("defeated_" + boss)
		}
		if victory.BossDefeated {
			s.Char.RestoreHitDice()
		}
	}

	s.Combat = nil
	return outcome, victory
}
