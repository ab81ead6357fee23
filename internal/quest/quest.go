// Package quest tracks per-session quest progress: acceptance gated on
// prerequisites, objective counting, completion, and failure.
//
// Every subsystem that can advance an objective reports through
// CheckObjective: combat reports kills, inventory pickups report finds,
// dialogue reports talks, and the location engine reports arrivals.
package quest

import (
	"errors"
	"fmt"
	"sort"

	"github.com/dmforge/dmforge/internal/content"
)

var (
	ErrQuestNotFound        = errors.New("quest: unknown quest")
	ErrPrerequisitesUnmet   = errors.New("quest: prerequisites not complete")
	ErrAlreadyActive        = errors.New("quest: already accepted")
	ErrNotActive            = errors.New("quest: not active")
	ErrObjectivesIncomplete = errors.New("quest: objectives not complete")
)

// Status is a quest's lifecycle state.
type Status string

const (
	StatusNotStarted Status = "not_started"
	StatusActive     Status = "active"
	StatusComplete   Status = "complete"
	StatusFailed     Status = "failed"
)

// ObjectiveState is the runtime progress of one objective.
type ObjectiveState struct {
	ID        string `json:"id"`
	Current   int    `json:"current"`
	Completed bool   `json:"completed"`
}

// State is the runtime state of one quest.
type State struct {
	ID         string           `json:"id"`
	Status     Status           `json:"status"`
	Objectives []ObjectiveState `json:"objectives"`
}

// Manager holds one session's quest progress.
type Manager struct {
	scen   *content.Scenario
	quests map[string]*State
}

// NewManager starts every scenario quest at not_started.
func NewManager(scen *content.Scenario) *Manager {
	m := &Manager{scen: scen, quests: make(map[string]*State, len(scen.Quests))}
	for id, q := range scen.Quests {
		st := &State{ID: id, Status: StatusNotStarted, Objectives: make([]ObjectiveState, len(q.Objectives))}
		for i, obj := range q.Objectives {
			st.Objectives[i] = ObjectiveState{ID: obj.ID}
		}
		m.quests[id] = st
	}
	return m
}

// Status returns a quest's lifecycle state.
func (m *Manager) Status(questID string) Status {
	if st, ok := m.quests[questID]; ok {
		return st.Status
	}
	return StatusNotStarted
}

// Accept activates a quest. All prerequisites must be complete.
func (m *Manager) Accept(questID string) error {
	q := m.scen.Quest(questID)
	st := m.quests[questID]
	if q == nil || st == nil {
		return fmt.Errorf("%w: %q", ErrQuestNotFound, questID)
	}
	if st.Status == StatusActive {
		return fmt.Errorf("%w: %q", ErrAlreadyActive, questID)
	}
	if st.Status == StatusComplete || st.Status == StatusFailed {
		return fmt.Errorf("quest: %q already %s", questID, st.Status)
	}
	for _, pre := range q.Prerequisites {
		if m.Status(pre) != StatusComplete {
			return fmt.Errorf("%w: %q requires %q", ErrPrerequisitesUnmet, questID, pre)
		}
	}
	st.Status = StatusActive
	return nil
}

// Progress is one objective advanced by a CheckObjective call.
type Progress struct {
	QuestID      string `json:"quest_id"`
	ObjectiveID  string `json:"objective_id"`
	Current      int    `json:"current"`
	Required     int    `json:"required"`
	JustComplete bool   `json:"just_complete"`

	// QuestReady is set when this advance left every required objective of
	// the quest complete.
	QuestReady bool `json:"quest_ready"`
}

// CheckObjective advances every matching objective of every active quest by
// count and returns what moved. Matching is by objective kind and target.
func (m *Manager) CheckObjective(kind content.ObjectiveKind, target string, count int) []Progress {
	if count < 1 {
		count = 1
	}

	var out []Progress
	for _, questID := range m.sortedIDs() {
		st := m.quests[questID]
		if st.Status != StatusActive {
			continue
		}
		q := m.scen.Quest(questID)
		for i, obj := range q.Objectives {
			os := &st.Objectives[i]
			if obj.Kind != kind || obj.Target != target || os.Completed {
				continue
			}
			os.Current += count
			if os.Current >= obj.Required {
				os.Current = obj.Required
				os.Completed = true
			}
			out = append(out, Progress{
				QuestID:      questID,
				ObjectiveID:  obj.ID,
				Current:      os.Current,
				Required:     obj.Required,
				JustComplete: os.Completed,
				QuestReady:   os.Completed && m.ready(questID),
			})
		}
	}
	return out
}

// ready reports whether every non-optional objective of a quest is complete.
func (m *Manager) ready(questID string) bool {
	q := m.scen.Quest(questID)
	st := m.quests[questID]
	for i, obj := range q.Objectives {
		if !obj.Optional && !st.Objectives[i].Completed {
			return false
		}
	}
	return true
}

// CompletionResult carries what completing a quest grants. The caller routes
// the rewards: gold and items into the character, XP through GainXP, and the
// disposition bump to the quest giver.
type CompletionResult struct {
	Quest   *content.Quest       `json:"-"`
	Rewards content.QuestRewards `json:"rewards"`
}

// Complete finishes a quest whose required objectives are all done.
func (m *Manager) Complete(questID string) (*CompletionResult, error) {
	q := m.scen.Quest(questID)
	st := m.quests[questID]
	if q == nil || st == nil {
		return nil, fmt.Errorf("%w: %q", ErrQuestNotFound, questID)
	}
	if st.Status != StatusActive {
		return nil, fmt.Errorf("%w: %q is %s", ErrNotActive, questID, st.Status)
	}
	if !m.ready(questID) {
		return nil, fmt.Errorf("%w: %q", ErrObjectivesIncomplete, questID)
	}
	st.Status = StatusComplete
	return &CompletionResult{Quest: q, Rewards: q.Rewards}, nil
}

// Fail marks an active quest as failed.
func (m *Manager) Fail(questID string) error {
	st := m.quests[questID]
	if st == nil {
		return fmt.Errorf("%w: %q", ErrQuestNotFound, questID)
	}
	if st.Status != StatusActive {
		return fmt.Errorf("%w: %q is %s", ErrNotActive, questID, st.Status)
	}
	st.Status = StatusFailed
	return nil
}

// ObjectiveComplete reports whether the named objective is done on any quest.
// Used by the condition DSL.
func (m *Manager) ObjectiveComplete(objectiveID string) bool {
	for _, st := range m.quests {
		for _, os := range st.Objectives {
			if os.ID == objectiveID && os.Completed {
				return true
			}
		}
	}
	return false
}

// Entry pairs a quest definition with its runtime state for listings.
type Entry struct {
	Quest *content.Quest `json:"-"`
	State *State         `json:"state"`
}

// List returns all quests with their states, sorted by quest ID.
func (m *Manager) List() []Entry {
	out := make([]Entry, 0, len(m.quests))
	for _, id := range m.sortedIDs() {
		out = append(out, Entry{Quest: m.scen.Quest(id), State: m.quests[id]})
	}
	return out
}

// Active returns the active quests, sorted by quest ID.
func (m *Manager) Active() []Entry {
	var out []Entry
	for _, id := range m.sortedIDs() {
		if st := m.quests[id]; st.Status == StatusActive {
			out = append(out, Entry{Quest: m.scen.Quest(id), State: st})
		}
	}
	return out
}

// NextObjective returns the first incomplete required objective of an active
// quest, for DM context hints. Returns nil when nothing is pending.
func (m *Manager) NextObjective(questID string) *content.Objective {
	q := m.scen.Quest(questID)
	st := m.quests[questID]
	if q == nil || st == nil || st.Status != StatusActive {
		return nil
	}
	for i, obj := range q.Objectives {
		if !obj.Optional && !st.Objectives[i].Completed {
			o := obj
			return &o
		}
	}
	return nil
}

func (m *Manager) sortedIDs() []string {
	ids := make([]string, 0, len(m.quests))
	for id := range m.quests {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// ── persistence ──

// Snapshot is the serializable quest runtime state.
type Snapshot map[string]*State

// Snapshot captures quest progress for a save file.
func (m *Manager) Snapshot() Snapshot {
	out := make(Snapshot, len(m.quests))
	for id, st := range m.quests {
		cp := *st
		cp.Objectives = append([]ObjectiveState(nil), st.Objectives...)
		out[id] = &cp
	}
	return out
}

// Restore replaces quest progress from a snapshot. Quests unknown to the
// scenario are dropped; quests missing from the snapshot stay not_started.
func (m *Manager) Restore(s Snapshot) {
	for id, st := range s {
		q := m.scen.Quest(id)
		cur := m.quests[id]
		if q == nil || cur == nil {
			continue
		}
		cur.Status = st.Status
		// Realign objective progress by ID so content reorder survives.
		byID := make(map[string]ObjectiveState, len(st.Objectives))
		for _, os := range st.Objectives {
			byID[os.ID] = os
		}
		for i, obj := range q.Objectives {
			if os, ok := byID[obj.ID]; ok {
				cur.Objectives[i].Current = os.Current
				cur.Objectives[i].Completed = os.Completed
			}
		}
	}
}
