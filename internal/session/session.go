// Package session owns the per-player game state: one aggregate tying the
// rule subsystems together under a single lock, and a manager that creates,
// looks up, and reaps sessions.
package session

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/dmforge/dmforge/internal/character"
	"github.com/dmforge/dmforge/internal/choice"
	"github.com/dmforge/dmforge/internal/combat"
	"github.com/dmforge/dmforge/internal/content"
	"github.com/dmforge/dmforge/internal/dice"
	"github.com/dmforge/dmforge/internal/dmprompt"
	"github.com/dmforge/dmforge/internal/npc"
	"github.com/dmforge/dmforge/internal/party"
	"github.com/dmforge/dmforge/internal/quest"
	"github.com/dmforge/dmforge/internal/shop"
	"github.com/dmforge/dmforge/internal/world"
)

var (
	ErrNotFound        = errors.New("session: invalid session")
	ErrTooManySessions = errors.New("session: session limit reached")
)

// MaxSessions caps concurrent sessions per process.
const MaxSessions = 200

// maxHistoryTurns bounds the stored conversation history.
const maxHistoryTurns = 50

// Session is one player's complete in-memory game state. All access goes
// through Lock/Unlock; the subsystem managers themselves do not lock.
type Session struct {
	ID   string
	Seed int64

	CreatedAt    time.Time
	lastActivity time.Time

	Scenario *content.Scenario
	Char     *character.Character
	Roller   *dice.Roller

	World   *world.Manager
	NPCs    *npc.Manager
	Shop    *shop.Shop
	Quests  *quest.Manager
	Party   *party.Party
	Choices *choice.Manager

	// Combat is nil outside combat.
	Combat *combat.State

	History []dmprompt.Turn

	// rolledSkills tracks skills already rolled this turn (reroll denial).
	rolledSkills map[string]*dice.D20Result

	mu sync.Mutex
}

// Lock takes the session's exclusive lock.
func (s *Session) Lock() { s.mu.Lock() }

// Unlock releases the session's exclusive lock.
func (s *Session) Unlock() { s.mu.Unlock() }

// Touch refreshes the activity timestamp. Callers hold the lock.
func (s *Session) Touch() { s.lastActivity = time.Now() }

// LastActivity returns the activity timestamp. Callers hold the lock.
func (s *Session) LastActivity() time.Time { return s.lastActivity }

// InCombat reports whether a combat is running.
func (s *Session) InCombat() bool { return s.Combat != nil && !s.Combat.Over() }

// ── per-turn roll bookkeeping ──

// BeginTurn resets the per-turn roll memo.
func (s *Session) BeginTurn() { s.rolledSkills = make(map[string]*dice.D20Result) }

// RecordRoll memoises a skill roll for this turn. Returns false (and the
// original result) when the skill was already rolled: the second roll is
// denied and the first stands.
func (s *Session) RecordRoll(skill string, res dice.D20Result) (*dice.D20Result, bool) {
	if s.rolledSkills == nil {
		s.rolledSkills = make(map[string]*dice.D20Result)
	}
	if prev, ok := s.rolledSkills[skill]; ok {
		return prev, false
	}
	s.rolledSkills[skill] = &res
	return &res, true
}

// AppendHistory records one completed exchange, keeping the tail bounded.
func (s *Session) AppendHistory(player, dm string) {
	s.History = append(s.History, dmprompt.Turn{Player: player, DM: dm})
	if len(s.History) > maxHistoryTurns {
		s.History = s.History[len(s.History)-maxHistoryTurns:]
	}
}

// ── condition.State / world.Player / party.Recruiter ──

// RollSkillCheck rolls d20 + skill modifier against a DC. Used by exit
// conditions, recruitment, and choice gates.
func (s *Session) RollSkillCheck(ability string, dc int) bool {
	res := s.Roller.RollD20(s.Char.SkillModifier(ability), dice.Normal)
	if res.Nat1 {
		return false
	}
	return res.Nat20 || res.Total >= dc
}

func (s *Session) HasItem(itemID string) bool         { return s.Char.HasItem(itemID) }
func (s *Session) Gold() int                          { return s.Char.Gold }
func (s *Session) Level() int                         { return s.Char.Level }
func (s *Session) HasVisited(locationID string) bool  { return s.World.HasVisited(locationID) }
func (s *Session) ObjectiveComplete(id string) bool   { return s.Quests.ObjectiveComplete(id) }
func (s *Session) FlagSet(flag string) bool           { return s.Choices.FlagSet(flag) }
func (s *Session) SpendGold(amount int) error         { return s.Char.SpendGold(amount) }
func (s *Session) ConsumeItem(itemID string) error    { return s.Char.RemoveItem(itemID, 1) }

// ── manager ──

// Manager owns all live sessions and the idle reaper.
type Manager struct {
	mu       sync.Mutex
	sessions map[string]*Session

	idleLimit time.Duration
	logger    *slog.Logger
	done      chan struct{}
	wg        sync.WaitGroup
}

// NewManager creates a session manager. Sessions idle longer than idleLimit
// are evicted by the reaper.
func NewManager(idleLimit time.Duration, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		sessions:  make(map[string]*Session),
		idleLimit: idleLimit,
		logger:    logger,
		done:      make(chan struct{}),
	}
}

// Create builds a new session with a fresh character. A zero seed draws one
// from crypto/rand.
func (m *Manager) Create(scen *content.Scenario, name, class, race string, seed int64) (*Session, error) {
	if seed == 0 {
		var err error
		seed, err = dice.NewSeed()
		if err != nil {
			return nil, fmt.Errorf("session: seed: %w", err)
		}
	}
	roller := dice.NewRoller(seed)

	c, err := character.New(name, class, race, roller, scen)
	if err != nil {
		return nil, err
	}

	npcs := npc.NewManager(scen)
	now := time.Now()
	s := &Session{
		ID:           uuid.NewString(),
		Seed:         seed,
		CreatedAt:    now,
		lastActivity: now,
		Scenario:     scen,
		Char:         c,
		Roller:       roller,
		World:        world.NewManager(scen),
		NPCs:         npcs,
		Shop:         shop.New(scen, npcs),
		Quests:       quest.NewManager(scen),
		Party:        party.New(scen, npcs),
		Choices:      choice.NewManager(scen),
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.sessions) >= MaxSessions {
		return nil, ErrTooManySessions
	}
	m.sessions[s.ID] = s

	m.logger.Info("session created",
		"session_id", s.ID,
		"character", c.Name,
		"scenario", scen.ID,
	)
	return s, nil
}

// Get returns a live session by ID.
func (m *Manager) Get(id string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, ErrNotFound
	}
	return s, nil
}

// End removes a session.
func (m *Manager) End(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sessions[id]; !ok {
		return ErrNotFound
	}
	delete(m.sessions, id)
	m.logger.Info("session ended", "session_id", id)
	return nil
}

// Count returns the number of live sessions.
func (m *Manager) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// StartReaper launches the background eviction loop.
func (m *Manager) StartReaper(interval time.Duration) {
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				m.Reap(time.Now())
			case <-m.done:
				return
			}
		}
	}()
}

// Reap evicts every session idle past the limit and returns how many went.
func (m *Manager) Reap(now time.Time) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	n := 0
	for id, s := range m.sessions {
		s.mu.Lock()
		idle := now.Sub(s.lastActivity)
		s.mu.Unlock()
		if idle > m.idleLimit {
			delete(m.sessions, id)
			n++
			m.logger.Info("session reaped", "session_id", id, "idle", idle)
		}
	}
	return n
}

// Close stops the reaper and waits for it.
func (m *Manager) Close() {
	close(m.done)
	m.wg.Wait()
}
