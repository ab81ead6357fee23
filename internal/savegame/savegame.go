// Package savegame persists sessions as versioned JSON files with atomic
// writes and sanitized slot names.
//
// Loads are transactional: the file is restored into fresh subsystem
// managers first, and the live session is only touched once everything
// validated. Combat state is deliberately not persisted; a running fight
// does not survive a save/load cycle.
package savegame

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/dmforge/dmforge/internal/character"
	"github.com/dmforge/dmforge/internal/choice"
	"github.com/dmforge/dmforge/internal/dice"
	"github.com/dmforge/dmforge/internal/dmprompt"
	"github.com/dmforge/dmforge/internal/npc"
	"github.com/dmforge/dmforge/internal/party"
	"github.com/dmforge/dmforge/internal/quest"
	"github.com/dmforge/dmforge/internal/session"
	"github.com/dmforge/dmforge/internal/shop"
	"github.com/dmforge/dmforge/internal/world"
)

// Version is the save schema version. Files with a different version are
// rejected rather than migrated.
const Version = "1.0"

const (
	maxNameLen  = 50
	defaultName = "quicksave"
	fileExt     = ".json"
)

var (
	ErrNotFound         = errors.New("savegame: save not found")
	ErrBadVersion       = errors.New("savegame: unsupported save version")
	ErrScenarioMismatch = errors.New("savegame: save belongs to a different scenario")
)

// File is the on-disk save schema.
type File struct {
	Version     string    `json:"version"`
	SavedAt     time.Time `json:"timestamp"`
	Description string    `json:"description,omitempty"`
	ScenarioID  string    `json:"scenario_id"`
	Seed        int64     `json:"seed"`

	Character *character.Character `json:"character"`
	World     world.Snapshot       `json:"world"`
	NPCs      npc.Snapshot         `json:"npcs"`
	Quests    quest.Snapshot       `json:"quests"`
	Party     party.Snapshot       `json:"party"`
	Choices   choice.Snapshot      `json:"choices"`
	History   []dmprompt.Turn      `json:"history,omitempty"`
}

// Store reads and writes saves under one directory.
type Store struct {
	dir string
}

// NewStore creates the save directory if needed.
func NewStore(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("savegame: create dir: %w", err)
	}
	return &Store{dir: dir}, nil
}

// SanitizeName reduces an arbitrary slot name to a safe basename: path
// separators and dots go, only letters, digits, underscore, hyphen, and
// space survive, length is capped, and an empty result falls back to
// "quicksave". The result never escapes the save directory.
func SanitizeName(name string) string {
	var b strings.Builder
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '_' || r == '-' || r == ' ':
			b.WriteRune(r)
		}
	}
	out := strings.TrimSpace(b.String())
	if len(out) > maxNameLen {
		out = out[:maxNameLen]
	}
	if out == "" {
		return defaultName
	}
	return out
}

func (st *Store) path(name string) string {
	return filepath.Join(st.dir, SanitizeName(name)+fileExt)
}

// Save writes the session to a slot and returns the sanitized slot name.
// The write is atomic: temp file, fsync, rename.
func (st *Store) Save(name, description string, s *session.Session) (string, error) {
	f := File{
		Version:     Version,
		SavedAt:     time.Now().UTC(),
		Description: description,
		ScenarioID:  s.Scenario.ID,
		Seed:        s.Seed,
		Character:   s.Char,
		World:       s.World.Snapshot(),
		NPCs:        s.NPCs.Snapshot(),
		Quests:      s.Quests.Snapshot(),
		Party:       s.Party.Snapshot(),
		Choices:     s.Choices.Snapshot(),
		History:     s.History,
	}

	data, err := json.MarshalIndent(f, "", "  ")
	if err != nil {
		return "", fmt.Errorf("savegame: encode: %w", err)
	}

	slot := SanitizeName(name)
	final := st.path(slot)

	tmp, err := os.CreateTemp(st.dir, slot+".tmp-*")
	if err != nil {
		return "", fmt.Errorf("savegame: temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return "", fmt.Errorf("savegame: write: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return "", fmt.Errorf("savegame: sync: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("savegame: close: %w", err)
	}
	if err := os.Rename(tmp.Name(), final); err != nil {
		return "", fmt.Errorf("savegame: rename: %w", err)
	}
	return slot, nil
}

// Load restores a slot into the session. On any error the session is left
// exactly as it was.
func (st *Store) Load(name string, s *session.Session) error {
	data, err := os.ReadFile(st.path(name))
	if errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("%w: %q", ErrNotFound, SanitizeName(name))
	}
	if err != nil {
		return fmt.Errorf("savegame: read: %w", err)
	}

	var f File
	if err := json.Unmarshal(data, &f); err != nil {
		return fmt.Errorf("savegame: decode: %w", err)
	}
	if f.Version != Version {
		return fmt.Errorf("%w: %q", ErrBadVersion, f.Version)
	}
	if f.ScenarioID != s.Scenario.ID {
		return fmt.Errorf("%w: %q", ErrScenarioMismatch, f.ScenarioID)
	}
	if f.Character == nil {
		return fmt.Errorf("savegame: decode: missing character")
	}

	// Rebuild every subsystem aside first; the session is swapped only after
	// all restores succeed.
	scen := s.Scenario
	w := world.NewManager(scen)
	if err := w.Restore(f.World); err != nil {
		return fmt.Errorf("savegame: restore world: %w", err)
	}
	npcs := npc.NewManager(scen)
	npcs.Restore(f.NPCs)
	quests := quest.NewManager(scen)
	quests.Restore(f.Quests)
	p := party.New(scen, npcs)
	p.Restore(f.Party)
	choices := choice.NewManager(scen)
	choices.Restore(f.Choices)

	s.Char = f.Character
	s.Seed = f.Seed
	s.Roller = dice.NewRoller(f.Seed)
	s.World = w
	s.NPCs = npcs
	s.Shop = shop.New(scen, npcs)
	s.Quests = quests
	s.Party = p
	s.Choices = choices
	s.Combat = nil
	s.History = f.History
	return nil
}

// Info describes one save slot.
type Info struct {
	Name    string    `json:"name"`
	SavedAt time.Time `json:"saved_at"`
}

// List returns the store's slots, newest first.
func (st *Store) List() ([]Info, error) {
	entries, err := os.ReadDir(st.dir)
	if err != nil {
		return nil, fmt.Errorf("savegame: list: %w", err)
	}
	var out []Info
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), fileExt) {
			continue
		}
		fi, err := e.Info()
		if err != nil {
			continue
		}
		out = append(out, Info{
			Name:    strings.TrimSuffix(e.Name(), fileExt),
			SavedAt: fi.ModTime(),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SavedAt.After(out[j].SavedAt) })
	return out, nil
}

// Delete removes a slot.
func (st *Store) Delete(name string) error {
	err := os.Remove(st.path(name))
	if errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("%w: %q", ErrNotFound, SanitizeName(name))
	}
	return err
}
