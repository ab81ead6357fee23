package dmprompt_test

import (
	"strings"
	"testing"

	"github.com/dmforge/dmforge/internal/character"
	"github.com/dmforge/dmforge/internal/content"
	"github.com/dmforge/dmforge/internal/dmprompt"
	"github.com/dmforge/dmforge/internal/quest"
	"github.com/dmforge/dmforge/internal/world"
)

func baseInput() dmprompt.Input {
	return dmprompt.Input{
		Scenario: &content.Scenario{ID: "test"},
		Char: &character.Character{
			Name: "Thorin", Race: "Dwarf", Class: "Fighter", Level: 2,
			CurrentHP: 11, MaxHP: 13, ArmorClass: 13, Gold: 15,
			WeaponID: "shortsword",
		},
		Location: &content.Location{
			ID: "tavern", Name: "The Prancing Pony",
			Description: "A smoky common room.",
			Atmosphere:  "warm and loud",
			Items:       []string{"notice_board"},
		},
		Exits: []world.Exit{
			{Direction: "north", Target: "square", Name: "Village Square"},
			{Direction: "east", Target: "cellar", Name: "Cellar", Locked: true},
		},
		NPCs:   []*content.NPC{{ID: "bram", Name: "Bram", Role: content.RoleQuestGiver}},
		Action: "I look around for work.",
	}
}

func TestSectionOrder(t *testing.T) {
	t.Parallel()

	in := baseInput()
	in.ActiveQuests = []quest.Entry{
		{Quest: &content.Quest{ID: "rescue", Name: "Rescue Lily"}},
	}
	in.NextByQuest = map[string]*content.Objective{
		"rescue": {ID: "reach_camp", Kind: content.ObjectiveReach, Target: "goblin_camp_main", Description: "Find the goblin camp"},
	}
	in.History = []dmprompt.Turn{{Player: "hello", DM: "the innkeeper nods"}}

	out := dmprompt.Build(in)

	markers := []string{
		"Dungeon Master",
		"## Character",
		"## Location: The Prancing Pony",
		"## Active Quests",
		"## Recent Events",
		"## Tags",
		"## Player Action",
	}
	last := -1
	for _, m := range markers {
		idx := strings.Index(out, m)
		if idx < 0 {
			t.Fatalf("prompt missing section %q", m)
		}
		if idx < last {
			t.Errorf("section %q out of order", m)
		}
		last = idx
	}

	for _, want := range []string{
		"Thorin, level 2 Dwarf Fighter", "HP 11/13", "15 gold",
		"north (Village Square)", "east (Cellar) [blocked]",
		"Bram (quest_giver)", "notice_board",
		"Rescue Lily", "Find the goblin camp",
		"I look around for work.",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("prompt missing %q", want)
		}
	}
}

func TestCombatSection(t *testing.T) {
	t.Parallel()

	in := baseInput()
	out := dmprompt.Build(in)
	if strings.Contains(out, "CRITICAL COMBAT RULES") {
		t.Fatal("combat rules present outside combat")
	}

	in.InCombat = true
	in.CombatRound = 2
	in.CombatNames = []string{"Thorin", "Goblin 1", "Goblin 2"}
	out = dmprompt.Build(in)
	if !strings.Contains(out, "## CRITICAL COMBAT RULES") {
		t.Fatal("combat rules missing during combat")
	}
	if !strings.Contains(out, "round 2") || !strings.Contains(out, "Goblin 2") {
		t.Error("combat context missing round or combatants")
	}
}

func TestHistoryBounded(t *testing.T) {
	t.Parallel()

	in := baseInput()
	for i := 0; i < 20; i++ {
		in.History = append(in.History, dmprompt.Turn{
			Player: "p" + strings.Repeat("x", i),
			DM:     "d",
		})
	}
	out := dmprompt.Build(in)

	if strings.Contains(out, "Player: p\n") {
		t.Error("oldest history turn survived the bound")
	}
	// The most recent turn always survives.
	if !strings.Contains(out, "p"+strings.Repeat("x", 19)) {
		t.Error("newest history turn missing")
	}
	if got := strings.Count(out, "Player: p"); got != dmprompt.MaxHistoryTurns {
		t.Errorf("history turns rendered = %d, want %d", got, dmprompt.MaxHistoryTurns)
	}
}

func TestAlignmentTrend(t *testing.T) {
	t.Parallel()

	in := baseInput()
	in.AlignTrend = "neutral"
	if out := dmprompt.Build(in); strings.Contains(out, "trend neutral") {
		t.Error("neutral trend should be omitted")
	}
	in.AlignTrend = "evil"
	if out := dmprompt.Build(in); !strings.Contains(out, "trend evil") {
		t.Error("evil trend missing from prompt")
	}
}
