package quest_test

import (
	"errors"
	"testing"

	"github.com/dmforge/dmforge/internal/content"
	"github.com/dmforge/dmforge/internal/quest"
)

func testScenario() *content.Scenario {
	return &content.Scenario{
		ID: "test",
		Quests: map[string]*content.Quest{
			"rescue": {
				ID: "rescue", Name: "Rescue", Type: content.QuestMain, GiverNPC: "bram",
				Objectives: []content.Objective{
					{ID: "clear_camp", Kind: content.ObjectiveKill, Target: "goblin", Required: 4},
					{ID: "free_lily", Kind: content.ObjectiveTalk, Target: "lily", Required: 1},
					{ID: "side_peek", Kind: content.ObjectiveReach, Target: "shrine", Required: 1, Optional: true},
				},
				Rewards: content.QuestRewards{Gold: 50, XP: 150, Items: []string{"charm"}},
			},
			"trophy": {
				ID: "trophy", Name: "Trophy", Type: content.QuestMinor, GiverNPC: "gavin",
				Prerequisites: []string{"rescue"},
				Objectives: []content.Objective{
					{ID: "slay_chief", Kind: content.ObjectiveKill, Target: "goblin_chief", Required: 1},
				},
			},
		},
	}
}

func TestAcceptAndPrerequisites(t *testing.T) {
	t.Parallel()

	m := quest.NewManager(testScenario())

	if err := m.Accept("nope"); !errors.Is(err, quest.ErrQuestNotFound) {
		t.Errorf("unknown quest error = %v", err)
	}
	if err := m.Accept("trophy"); !errors.Is(err, quest.ErrPrerequisitesUnmet) {
		t.Errorf("prereq error = %v, want ErrPrerequisitesUnmet", err)
	}
	if err := m.Accept("rescue"); err != nil {
		t.Fatalf("Accept error: %v", err)
	}
	if m.Status("rescue") != quest.StatusActive {
		t.Fatalf("status = %s, want active", m.Status("rescue"))
	}
	if err := m.Accept("rescue"); !errors.Is(err, quest.ErrAlreadyActive) {
		t.Errorf("double accept error = %v, want ErrAlreadyActive", err)
	}
}

func TestObjectiveCountingAndCompletion(t *testing.T) {
	t.Parallel()

	m := quest.NewManager(testScenario())
	if err := m.Accept("rescue"); err != nil {
		t.Fatal(err)
	}

	// Inactive quests never advance.
	if moved := m.CheckObjective(content.ObjectiveKill, "goblin_chief", 1); len(moved) != 0 {
		t.Fatalf("inactive quest advanced: %v", moved)
	}

	moved := m.CheckObjective(content.ObjectiveKill, "goblin", 3)
	if len(moved) != 1 {
		t.Fatalf("progress entries = %d, want 1", len(moved))
	}
	if moved[0].Current != 3 || moved[0].JustComplete {
		t.Fatalf("progress = %+v, want 3/4 incomplete", moved[0])
	}

	// Overshoot clamps at required.
	moved = m.CheckObjective(content.ObjectiveKill, "goblin", 5)
	if !moved[0].JustComplete || moved[0].Current != 4 {
		t.Fatalf("progress = %+v, want clamped 4/4 complete", moved[0])
	}
	if moved[0].QuestReady {
		t.Fatal("quest marked ready with talk objective pending")
	}

	// Completing early fails; the optional objective does not gate.
	if _, err := m.Complete("rescue"); !errors.Is(err, quest.ErrObjectivesIncomplete) {
		t.Fatalf("early complete error = %v, want ErrObjectivesIncomplete", err)
	}

	moved = m.CheckObjective(content.ObjectiveTalk, "lily", 1)
	if !moved[0].QuestReady {
		t.Fatal("all required objectives done but QuestReady false")
	}
	if !m.ObjectiveComplete("free_lily") {
		t.Fatal("ObjectiveComplete(free_lily) = false")
	}

	res, err := m.Complete("rescue")
	if err != nil {
		t.Fatalf("Complete error: %v", err)
	}
	if res.Rewards.Gold != 50 || res.Rewards.XP != 150 {
		t.Errorf("rewards = %+v", res.Rewards)
	}
	if m.Status("rescue") != quest.StatusComplete {
		t.Errorf("status = %s, want complete", m.Status("rescue"))
	}

	// Prerequisite chain now satisfied.
	if err := m.Accept("trophy"); err != nil {
		t.Errorf("Accept after prereq complete: %v", err)
	}
}

func TestFail(t *testing.T) {
	t.Parallel()

	m := quest.NewManager(testScenario())
	if err := m.Fail("rescue"); !errors.Is(err, quest.ErrNotActive) {
		t.Errorf("fail inactive error = %v, want ErrNotActive", err)
	}
	if err := m.Accept("rescue"); err != nil {
		t.Fatal(err)
	}
	if err := m.Fail("rescue"); err != nil {
		t.Fatalf("Fail error: %v", err)
	}
	if m.Status("rescue") != quest.StatusFailed {
		t.Errorf("status = %s, want failed", m.Status("rescue"))
	}
	if err := m.Accept("rescue"); err == nil {
		t.Error("re-accepting a failed quest should error")
	}
}

func TestNextObjective(t *testing.T) {
	t.Parallel()

	m := quest.NewManager(testScenario())
	if m.NextObjective("rescue") != nil {
		t.Error("inactive quest should have no next objective")
	}
	if err := m.Accept("rescue"); err != nil {
		t.Fatal(err)
	}
	if obj := m.NextObjective("rescue"); obj == nil || obj.ID != "clear_camp" {
		t.Errorf("NextObjective = %+v, want clear_camp", obj)
	}
	m.CheckObjective(content.ObjectiveKill, "goblin", 4)
	if obj := m.NextObjective("rescue"); obj == nil || obj.ID != "free_lily" {
		t.Errorf("NextObjective = %+v, want free_lily", obj)
	}
}

func TestSnapshotRestore(t *testing.T) {
	t.Parallel()

	scen := testScenario()
	m := quest.NewManager(scen)
	if err := m.Accept("rescue"); err != nil {
		t.Fatal(err)
	}
	m.CheckObjective(content.ObjectiveKill, "goblin", 2)

	snap := m.Snapshot()

	restored := quest.NewManager(scen)
	restored.Restore(snap)
	if restored.Status("rescue") != quest.StatusActive {
		t.Errorf("restored status = %s, want active", restored.Status("rescue"))
	}
	moved := restored.CheckObjective(content.ObjectiveKill, "goblin", 2)
	if len(moved) != 1 || !moved[0].JustComplete {
		t.Errorf("restored progress lost kills: %+v", moved)
	}
}
