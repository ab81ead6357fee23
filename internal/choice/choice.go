// Package choice tracks moral choices, scenario flags, the alignment trend
// they feed, and which ending the player is steering toward.
//
// The manager owns the session's flag set: location events, combat (boss
// kills), and choice options all raise flags here, and the condition DSL and
// ending predicate read them back.
package choice

import (
	"errors"
	"fmt"
	"sort"

	"github.com/dmforge/dmforge/internal/condition"
	"github.com/dmforge/dmforge/internal/content"
)

var (
	ErrUnknownChoice    = errors.New("choice: unknown choice")
	ErrUnknownOption    = errors.New("choice: unknown option")
	ErrUnavailable      = errors.New("choice: not available here")
	ErrAlreadyMade      = errors.New("choice: already decided")
	ErrRequirementUnmet = errors.New("choice: option requirement not met")
)

// Record is one past decision.
type Record struct {
	ChoiceID       string `json:"choice_id"`
	OptionID       string `json:"option_id"`
	AlignmentDelta int    `json:"alignment_delta"`
}

// Manager holds one session's moral state.
type Manager struct {
	scen      *content.Scenario
	flags     map[string]bool
	made      map[string]string // choice ID → option ID
	history   []Record
	alignment int
}

// NewManager creates an empty moral state.
func NewManager(scen *content.Scenario) *Manager {
	return &Manager{
		scen:  scen,
		flags: make(map[string]bool),
		made:  make(map[string]string),
	}
}

// ── flags ──

// SetFlag raises a scenario flag. Flags never clear.
func (m *Manager) SetFlag(flag string) {
	if flag != "" {
		m.flags[flag] = true
	}
}

// FlagSet reports whether a flag has been raised.
func (m *Manager) FlagSet(flag string) bool { return m.flags[flag] }

// Flags returns the raised flags, sorted.
func (m *Manager) Flags() []string {
	out := make([]string, 0, len(m.flags))
	for f := range m.flags {
		out = append(out, f)
	}
	sort.Strings(out)
	return out
}

// ── choices ──

// Available lists the choices offerable at a location: gated choices whose
// flag is raised, not yet decided, sorted by ID.
func (m *Manager) Available(locationID string) []*content.Choice {
	var out []*content.Choice
	for _, c := range m.scen.Choices {
		if _, done := m.made[c.ID]; done {
			continue
		}
		if c.LocationID != "" && c.LocationID != locationID {
			continue
		}
		if c.RequiresFlag != "" && !m.flags[c.RequiresFlag] {
			continue
		}
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Outcome carries a selected option's consequences. Flags and alignment are
// applied here; the caller routes disposition deltas and quest transitions.
type Outcome struct {
	Choice *content.Choice       `json:"-"`
	Option *content.ChoiceOption `json:"-"`

	SetFlags          []string       `json:"set_flags,omitempty"`
	DispositionDeltas map[string]int `json:"disposition_deltas,omitempty"`
	AlignmentDelta    int            `json:"alignment_delta"`
	Alignment         int            `json:"alignment"`
	CompleteQuest     string         `json:"complete_quest,omitempty"`
	FailQuest         string         `json:"fail_quest,omitempty"`
	Narration         string         `json:"narration,omitempty"`
}

// Select decides a choice. Each choice is decided at most once; an option
// with a requirement is gated (not charged) by the condition DSL.
func (m *Manager) Select(choiceID, optionID, locationID string, st condition.State) (*Outcome, error) {
	c := m.scen.Choice(choiceID)
	if c == nil {
		return nil, fmt.Errorf("%w: %q", ErrUnknownChoice, choiceID)
	}
	if _, done := m.made[choiceID]; done {
		return nil, fmt.Errorf("%w: %q", ErrAlreadyMade, choiceID)
	}
	if c.LocationID != "" && c.LocationID != locationID {
		return nil, fmt.Errorf("%w: %q", ErrUnavailable, choiceID)
	}
	if c.RequiresFlag != "" && !m.flags[c.RequiresFlag] {
		return nil, fmt.Errorf("%w: %q", ErrUnavailable, choiceID)
	}

	var opt *content.ChoiceOption
	for i := range c.Options {
		if c.Options[i].ID == optionID {
			opt = &c.Options[i]
			break
		}
	}
	if opt == nil {
		return nil, fmt.Errorf("%w: %q of %q", ErrUnknownOption, optionID, choiceID)
	}

	if opt.Requires != "" {
		res, err := condition.Eval(opt.Requires, st)
		if err != nil {
			return nil, fmt.Errorf("choice: %q option %q: %w", choiceID, optionID, err)
		}
		if !res.Met {
			return nil, fmt.Errorf("%w: %q", ErrRequirementUnmet, optionID)
		}
	}

	for _, f := range opt.SetFlags {
		m.SetFlag(f)
	}
	m.alignment += opt.AlignmentDelta
	m.made[choiceID] = optionID
	m.history = append(m.history, Record{
		ChoiceID:       choiceID,
		OptionID:       optionID,
		AlignmentDelta: opt.AlignmentDelta,
	})

	return &Outcome{
		Choice:            c,
		Option:            opt,
		SetFlags:          opt.SetFlags,
		DispositionDeltas: opt.DispositionDeltas,
		AlignmentDelta:    opt.AlignmentDelta,
		Alignment:         m.alignment,
		CompleteQuest:     opt.CompleteQuest,
		FailQuest:         opt.FailQuest,
		Narration:         opt.Narration,
	}, nil
}

// History returns past decisions in order.
func (m *Manager) History() []Record { return m.history }

// Alignment returns the running alignment trend (positive = good).
func (m *Manager) Alignment() int { return m.alignment }

// Trend classifies the alignment trend for the DM context.
func (m *Manager) Trend() string {
	switch {
	case m.alignment > 0:
		return "good"
	case m.alignment < 0:
		return "evil"
	default:
		return "neutral"
	}
}

// PredictEnding returns the ending the current state matches: alignment
// within bounds and every required flag raised. Endings are evaluated in
// content order; the first match wins. Returns nil when nothing matches yet.
func (m *Manager) PredictEnding() *content.Ending {
	for i := range m.scen.Endings {
		e := &m.scen.Endings[i]
		if e.MinAlignment != nil && m.alignment < *e.MinAlignment {
			continue
		}
		if e.MaxAlignment != nil && m.alignment > *e.MaxAlignment {
			continue
		}
		ok := true
		for _, f := range e.RequiredFlags {
			if !m.flags[f] {
				ok = false
				break
			}
		}
		if ok {
			return e
		}
	}
	return nil
}

// ── persistence ──

// Snapshot is the serializable moral state.
type Snapshot struct {
	Flags     []string          `json:"flags,omitempty"`
	Made      map[string]string `json:"made,omitempty"`
	History   []Record          `json:"history,omitempty"`
	Alignment int               `json:"alignment"`
}

// Snapshot captures the moral state for a save file.
func (m *Manager) Snapshot() Snapshot {
	return Snapshot{
		Flags:     m.Flags(),
		Made:      copyMap(m.made),
		History:   append([]Record(nil), m.history...),
		Alignment: m.alignment,
	}
}

// Restore replaces the moral state from a snapshot.
func (m *Manager) Restore(s Snapshot) {
	m.flags = make(map[string]bool, len(s.Flags))
	for _, f := range s.Flags {
		m.flags[f] = true
	}
	m.made = copyMap(s.Made)
	if m.made == nil {
		m.made = make(map[string]string)
	}
	m.history = append([]Record(nil), s.History...)
	m.alignment = s.Alignment
}

func copyMap(in map[string]string) map[string]string {
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
