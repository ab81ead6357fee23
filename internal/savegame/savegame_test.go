package savegame_test

import (
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/dmforge/dmforge/internal/content"
	"github.com/dmforge/dmforge/internal/savegame"
	"github.com/dmforge/dmforge/internal/session"
)

func testScenario() *content.Scenario {
	return &content.Scenario{
		ID:            "goblin_cave",
		StartLocation: "tavern",
		Locations: map[string]*content.Location{
			"tavern": {ID: "tavern", Name: "Tavern", Exits: map[string]string{"north": "square"}},
			"square": {ID: "square", Name: "Square", Exits: map[string]string{"south": "tavern"}},
		},
		Items: map[string]*content.Item{
			"shortsword": {ID: "shortsword", Name: "Shortsword", Type: content.ItemWeapon, DamageDice: "1d6"},
		},
		Quests: map[string]*content.Quest{
			"rescue": {
				ID: "rescue", Name: "Rescue", Type: content.QuestMain,
				Objectives: []content.Objective{
					{ID: "kills", Kind: content.ObjectiveKill, Target: "goblin", Required: 4},
				},
			},
		},
	}
}

func newSession(t *testing.T) *session.Session {
	t.Helper()
	m := session.NewManager(time.Hour, slog.New(slog.NewTextHandler(io.Discard, nil)))
	s, err := m.Create(testScenario(), "Thorin", "fighter", "dwarf", 42)
	if err != nil {
		t.Fatal(err)
	}
	return s
}

func TestSanitizeName(t *testing.T) {
	t.Parallel()

	cases := []struct {
		in   string
		want string
	}{
		{"my save", "my save"},
		{"../../../etc/shadow", "etcshadow"},
		{"..\\..\\boot.ini", "bootini"},
		{"a/b/c", "abc"},
		{"", "quicksave"},
		{"!!!", "quicksave"},
		{"  spaced  ", "spaced"},
		{strings.Repeat("x", 80), strings.Repeat("x", 50)},
		{"save_2-final", "save_2-final"},
	}
	for _, tc := range cases {
		if got := savegame.SanitizeName(tc.in); got != tc.want {
			t.Errorf("SanitizeName(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	t.Parallel()

	store, err := savegame.NewStore(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}

	s := newSession(t)
	if _, err := s.World.Move("north", s, s.Roller); err != nil {
		t.Fatal(err)
	}
	s.Char.AddGold(100)
	s.Choices.SetFlag("lily_freed")
	if err := s.Quests.Accept("rescue"); err != nil {
		t.Fatal(err)
	}
	s.Quests.CheckObjective(content.ObjectiveKill, "goblin", 2)
	s.AppendHistory("hello", "the innkeeper waves")

	slot, err := store.Save("slot one", "before the cave", s)
	if err != nil {
		t.Fatalf("Save error: %v", err)
	}
	if slot != "slot one" {
		t.Errorf("slot = %q", slot)
	}

	// Wreck the live session, then load it back.
	fresh := newSession(t)
	if err := store.Load("slot one", fresh); err != nil {
		t.Fatalf("Load error: %v", err)
	}
	if fresh.World.CurrentID() != "square" {
		t.Errorf("location = %q, want square", fresh.World.CurrentID())
	}
	if fresh.Char.Gold != s.Char.Gold {
		t.Errorf("gold = %d, want %d", fresh.Char.Gold, s.Char.Gold)
	}
	if !fresh.Choices.FlagSet("lily_freed") {
		t.Error("flag lost")
	}
	moved := fresh.Quests.CheckObjective(content.ObjectiveKill, "goblin", 2)
	if len(moved) != 1 || !moved[0].JustComplete {
		t.Errorf("quest kills lost: %+v", moved)
	}
	if len(fresh.History) != 1 {
		t.Errorf("history = %+v", fresh.History)
	}
	if fresh.Combat != nil {
		t.Error("combat state appeared from a save")
	}
}

func TestSavePathStaysInside(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	store, err := savegame.NewStore(dir)
	if err != nil {
		t.Fatal(err)
	}
	s := newSession(t)

	slot, err := store.Save("../../../etc/shadow", "", s)
	if err != nil {
		t.Fatal(err)
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 || entries[0].Name() != slot+".json" {
		t.Fatalf("dir contents = %v, want single %s.json", entries, slot)
	}
	if filepath.Dir(filepath.Join(dir, entries[0].Name())) != dir {
		t.Error("save escaped the store directory")
	}
}

func TestLoadFailuresLeaveSessionUntouched(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	store, err := savegame.NewStore(dir)
	if err != nil {
		t.Fatal(err)
	}
	s := newSession(t)
	goldBefore := s.Char.Gold

	if err := store.Load("missing", s); !errors.Is(err, savegame.ErrNotFound) {
		t.Errorf("missing slot error = %v, want ErrNotFound", err)
	}

	// Corrupt file.
	if err := os.WriteFile(filepath.Join(dir, "broken.json"), []byte("{not json"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := store.Load("broken", s); err == nil {
		t.Error("corrupt save loaded")
	}

	// Wrong version.
	if err := os.WriteFile(filepath.Join(dir, "old.json"), []byte(`{"version":"0.9","scenario_id":"goblin_cave"}`), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := store.Load("old", s); !errors.Is(err, savegame.ErrBadVersion) {
		t.Errorf("old version error = %v, want ErrBadVersion", err)
	}

	// Wrong scenario.
	if err := os.WriteFile(filepath.Join(dir, "other.json"), []byte(`{"version":"1.0","scenario_id":"other_world"}`), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := store.Load("other", s); !errors.Is(err, savegame.ErrScenarioMismatch) {
		t.Errorf("scenario mismatch error = %v, want ErrScenarioMismatch", err)
	}

	if s.Char.Gold != goldBefore || s.World.CurrentID() != "tavern" {
		t.Error("failed loads mutated the session")
	}
}

func TestListAndDelete(t *testing.T) {
	t.Parallel()

	store, err := savegame.NewStore(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	s := newSession(t)

	if _, err := store.Save("alpha", "", s); err != nil {
		t.Fatal(err)
	}
	if _, err := store.Save("beta", "", s); err != nil {
		t.Fatal(err)
	}

	infos, err := store.List()
	if err != nil {
		t.Fatal(err)
	}
	if len(infos) != 2 {
		t.Fatalf("slots = %+v, want 2", infos)
	}

	if err := store.Delete("alpha"); err != nil {
		t.Fatal(err)
	}
	if err := store.Delete("alpha"); !errors.Is(err, savegame.ErrNotFound) {
		t.Errorf("double delete error = %v, want ErrNotFound", err)
	}
	infos, _ = store.List()
	if len(infos) != 1 || infos[0].Name != "beta" {
		t.Errorf("slots after delete = %+v", infos)
	}
}
