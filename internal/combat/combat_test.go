package combat_test

import (
	"errors"
	"testing"

	"github.com/dmforge/dmforge/internal/character"
	"github.com/dmforge/dmforge/internal/combat"
	"github.com/dmforge/dmforge/internal/content"
	"github.com/dmforge/dmforge/internal/dice"
	"github.com/dmforge/dmforge/internal/npc"
	"github.com/dmforge/dmforge/internal/party"
)

// maxTurns caps test loops; any combat here ends far sooner.
const maxTurns = 500

func testScenario() *content.Scenario {
	return &content.Scenario{
		ID: "arena",
		Items: map[string]*content.Item{
			"sword": {ID: "sword", Name: "Sword", Type: content.ItemWeapon, DamageDice: "1d6"},
			"torch": {ID: "torch", Name: "Torch", Type: content.ItemMisc, LightSource: true},
			"ear":   {ID: "ear", Name: "Goblin Ear", Type: content.ItemMisc, Stackable: true},
		},
		Enemies: map[string]*content.Enemy{
			// Feeble: dies fast, almost never hits.
			"goblin": {
				Type: "goblin", Name: "Goblin", HP: 2, ArmorClass: 5,
				AttackBonus: -5, DamageDice: "1d2", XP: 25,
				GoldDice: "1d1", Loot: []content.LootEntry{{Item: "ear", Chance: 1.0}},
			},
			// Durable punching bag.
			"wolf": {
				Type: "wolf", Name: "Wolf", HP: 30, ArmorClass: 5,
				AttackBonus: -5, DamageDice: "1d2", XP: 50,
			},
			"chief": {
				Type: "chief", Name: "Chief", HP: 3, ArmorClass: 5,
				AttackBonus: -5, DamageDice: "1d4", XP: 100, Boss: true,
			},
			// Hits on anything but a natural 1.
			"ogre": {
				Type: "ogre", Name: "Ogre", HP: 60, ArmorClass: 5,
				AttackBonus: 50, DamageDice: "2d6", XP: 10,
			},
		},
		NPCs: map[string]*content.NPC{
			"mira": {
				ID: "mira", Name: "Mira", Role: content.RoleRecruitable,
				Recruit: &content.RecruitDef{
					Conditions: []string{"skill:CHA:5"},
					Member: content.PartyMemberDef{
						ID: "mira", Name: "Mira", Class: "cleric", Level: 2,
						MaxHP: 50, ArmorClass: 5, AttackBonus: 3, DamageDice: "1d4",
						InitiativeMod: 1, SpecialAbility: "heal", AbilityUses: 2,
					},
				},
			},
		},
	}
}

func hero() *character.Character {
	return &character.Character{
		Name: "Hero", Race: "Human", Class: "Fighter", Level: 1,
		Abilities:  character.Abilities{STR: 18, DEX: 18, CON: 14, INT: 10, WIS: 10, CHA: 10},
		MaxHP:      100,
		CurrentHP:  100,
		ArmorClass: 15,
		WeaponID:   "sword",
		Inventory:  []character.ItemStack{{ItemID: "sword", Quantity: 1}},
	}
}

func emptyParty(scen *content.Scenario) *party.Party {
	return party.New(scen, npc.NewManager(scen))
}

type charmer struct{}

func (charmer) RollSkillCheck(string, int) bool { return true }
func (charmer) HasItem(string) bool             { return false }
func (charmer) Gold() int                       { return 0 }
func (charmer) HasVisited(string) bool          { return false }
func (charmer) ObjectiveComplete(string) bool   { return false }
func (charmer) FlagSet(string) bool             { return false }
func (charmer) Level() int                      { return 1 }
func (charmer) SpendGold(int) error             { return nil }
func (charmer) ConsumeItem(string) error        { return nil }

func fightToEnd(t *testing.T, st *combat.State) []combat.Event {
	t.Helper()
	var events []combat.Event
	for i := 0; i < maxTurns && !st.Over(); i++ {
		evs, err := st.PlayerAttack("")
		if err != nil {
			t.Fatalf("PlayerAttack: %v", err)
		}
		events = append(events, evs...)
	}
	if !st.Over() {
		t.Fatalf("combat did not end within %d turns", maxTurns)
	}
	return events
}

func TestStartValidation(t *testing.T) {
	t.Parallel()

	scen := testScenario()
	c := hero()
	p := emptyParty(scen)
	r := dice.NewRoller(1)

	if _, _, err := combat.Start(scen, c, p, r, nil, false, false); !errors.Is(err, combat.ErrNoEnemies) {
		t.Errorf("empty enemies error = %v, want ErrNoEnemies", err)
	}
	if _, _, err := combat.Start(scen, c, p, r, []string{"goblin", "dragon"}, false, false); !errors.Is(err, combat.ErrUnknownEnemyType) {
		t.Errorf("unknown type error = %v, want ErrUnknownEnemyType", err)
	}
}

func TestEnemyNaming(t *testing.T) {
	t.Parallel()

	scen := testScenario()
	st, _, err := combat.Start(scen, hero(), emptyParty(scen), dice.NewRoller(2), []string{"goblin", "goblin", "wolf"}, false, false)
	if err != nil {
		t.Fatal(err)
	}

	got := make(map[string]bool)
	for _, e := range st.Enemies {
		got[e.Name] = true
	}
	for _, want := range []string{"Goblin 1", "Goblin 2", "Wolf"} {
		if !got[want] {
			t.Errorf("missing combatant %q in %v", want, st.Enemies)
		}
	}
	if len(st.TurnOrder()) != 4 {
		t.Errorf("turn order size = %d, want 4", len(st.TurnOrder()))
	}
}

func TestVictorySpoils(t *testing.T) {
	t.Parallel()

	scen := testScenario()
	st, _, err := combat.Start(scen, hero(), emptyParty(scen), dice.NewRoller(3), []string{"goblin", "goblin"}, false, false)
	if err != nil {
		t.Fatal(err)
	}
	fightToEnd(t, st)

	if st.Outcome() != combat.OutcomeVictory {
		t.Fatalf("outcome = %q, want victory", st.Outcome())
	}
	v := st.VictoryResult()
	if v == nil {
		t.Fatal("no victory result")
	}
	if v.XP != 50 {
		t.Errorf("XP = %d, want 50", v.XP)
	}
	if v.Kills["goblin"] != 2 {
		t.Errorf("kills = %v, want goblin:2", v.Kills)
	}
	if v.Gold != 2 {
		t.Errorf("gold = %d, want 2 (1d1 each)", v.Gold)
	}
	if len(v.Loot) != 2 || v.Loot[0] != "ear" || v.Loot[1] != "ear" {
		t.Errorf("loot = %v, want two ears", v.Loot)
	}
	if v.BossDefeated {
		t.Error("goblins flagged as bosses")
	}

	// A finished combat rejects further actions.
	if _, err := st.PlayerAttack(""); !errors.Is(err, combat.ErrCombatOver) {
		t.Errorf("post-combat attack error = %v, want ErrCombatOver", err)
	}
	if _, err := st.PlayerFlee(); !errors.Is(err, combat.ErrCombatOver) {
		t.Errorf("post-combat flee error = %v, want ErrCombatOver", err)
	}
}

func TestBossDefeat(t *testing.T) {
	t.Parallel()

	scen := testScenario()
	st, _, err := combat.Start(scen, hero(), emptyParty(scen), dice.NewRoller(4), []string{"chief"}, false, false)
	if err != nil {
		t.Fatal(err)
	}
	fightToEnd(t, st)

	v := st.VictoryResult()
	if v == nil || !v.BossDefeated {
		t.Fatalf("boss kill not recorded: %+v", v)
	}
	if len(v.DefeatedBosses) != 1 || v.DefeatedBosses[0] != "chief" {
		t.Errorf("defeated bosses = %v, want [chief]", v.DefeatedBosses)
	}
}

func TestSurpriseRound(t *testing.T) {
	t.Parallel()

	scen := testScenario()
	st, opening, err := combat.Start(scen, hero(), emptyParty(scen), dice.NewRoller(5), []string{"wolf"}, true, false)
	if err != nil {
		t.Fatal(err)
	}

	// Surprised enemies never attack before the player's first turn.
	for _, ev := range opening {
		if ev.Action == "attack" {
			t.Errorf("enemy attacked during surprise round: %+v", ev)
		}
	}

	evs, err := st.PlayerAttack("")
	if err != nil {
		t.Fatal(err)
	}
	first := evs[0]
	if first.Roll == nil || len(first.Roll.Raw) != 2 {
		t.Fatalf("surprise attack roll = %+v, want advantage (two dice)", first.Roll)
	}
	if first.Note != "surprise" {
		t.Errorf("note = %q, want surprise", first.Note)
	}

	// Advantage is spent after one attack.
	if !st.Over() {
		evs, err = st.PlayerAttack("")
		if err != nil {
			t.Fatal(err)
		}
		if len(evs[0].Roll.Raw) != 1 {
			t.Errorf("second attack roll = %+v, want a single die", evs[0].Roll)
		}
	}
}

func TestDarknessDisadvantage(t *testing.T) {
	t.Parallel()

	scen := testScenario()
	st, _, err := combat.Start(scen, hero(), emptyParty(scen), dice.NewRoller(6), []string{"wolf"}, false, true)
	if err != nil {
		t.Fatal(err)
	}

	evs, err := st.PlayerAttack("")
	if err != nil {
		t.Fatal(err)
	}
	first := evs[0]
	if first.Roll == nil || len(first.Roll.Raw) != 2 {
		t.Fatalf("dark attack roll = %+v, want disadvantage (two dice)", first.Roll)
	}
	if first.Note != "darkness" {
		t.Errorf("note = %q, want darkness", first.Note)
	}
}

func TestCheckDarknessPenalty(t *testing.T) {
	t.Parallel()

	scen := testScenario()
	dark := &content.Location{ID: "cave", Dark: true}
	lit := &content.Location{ID: "square"}

	c := hero()
	if !combat.CheckDarknessPenalty(dark, c, scen) {
		t.Error("dark location without light should penalise")
	}
	if combat.CheckDarknessPenalty(lit, c, scen) {
		t.Error("lit location should not penalise")
	}

	c.AddItem(scen.Item("torch"), 1)
	if combat.CheckDarknessPenalty(dark, c, scen) {
		t.Error("torch bearer should not be penalised")
	}
}

func TestTargetResolution(t *testing.T) {
	t.Parallel()

	scen := testScenario()
	st, _, err := combat.Start(scen, hero(), emptyParty(scen), dice.NewRoller(7), []string{"wolf", "goblin"}, false, false)
	if err != nil {
		t.Fatal(err)
	}

	if _, err := st.PlayerAttack("nobody"); !errors.Is(err, combat.ErrNoSuchTarget) {
		t.Errorf("bogus target error = %v, want ErrNoSuchTarget", err)
	}

	// Attack by type ID and by display name both resolve.
	evs, err := st.PlayerAttack("goblin")
	if err != nil {
		t.Fatal(err)
	}
	if evs[0].Target != "Goblin" {
		t.Errorf("target = %q, want Goblin", evs[0].Target)
	}
	if st.Over() {
		return
	}
	evs, err = st.PlayerAttack("wolf")
	if err != nil {
		t.Fatal(err)
	}
	if evs[0].Target != "Wolf" {
		t.Errorf("target = %q, want Wolf", evs[0].Target)
	}
}

func TestFlee(t *testing.T) {
	t.Parallel()

	scen := testScenario()
	st, _, err := combat.Start(scen, hero(), emptyParty(scen), dice.NewRoller(8), []string{"wolf", "wolf"}, false, false)
	if err != nil {
		t.Fatal(err)
	}

	for i := 0; i < maxTurns && !st.Over(); i++ {
		if _, err := st.PlayerFlee(); err != nil {
			t.Fatalf("PlayerFlee: %v", err)
		}
	}
	if st.Outcome() != combat.OutcomeFled {
		t.Fatalf("outcome = %q, want fled", st.Outcome())
	}
	if v := st.VictoryResult(); v != nil {
		t.Errorf("fled combat has a victory result: %+v", v)
	}
}

func TestDefeat(t *testing.T) {
	t.Parallel()

	scen := testScenario()
	c := hero()
	c.MaxHP = 1
	c.CurrentHP = 1

	st, _, err := combat.Start(scen, c, emptyParty(scen), dice.NewRoller(9), []string{"ogre", "ogre"}, false, false)
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < maxTurns && !st.Over(); i++ {
		if _, err := st.PlayerDefend(); err != nil {
			t.Fatalf("PlayerDefend: %v", err)
		}
	}
	if st.Outcome() != combat.OutcomeDefeat {
		t.Fatalf("outcome = %q, want defeat", st.Outcome())
	}
	if !c.IsDead() {
		t.Error("defeated character not at zero HP")
	}
}

func TestPartyMemberFights(t *testing.T) {
	t.Parallel()

	scen := testScenario()
	p := emptyParty(scen)
	if _, err := p.Recruit("mira", charmer{}); err != nil {
		t.Fatal(err)
	}

	c := hero()
	c.CurrentHP = 10 // well under half: the healer should act

	st, opening, err := combat.Start(scen, c, p, dice.NewRoller(10), []string{"wolf"}, false, false)
	if err != nil {
		t.Fatal(err)
	}

	order := st.TurnOrder()
	found := false
	for _, name := range order {
		if name == "Mira" {
			found = true
		}
	}
	if !found {
		t.Fatalf("Mira missing from turn order %v", order)
	}

	evs, err := st.PlayerAttack("")
	if err != nil {
		t.Fatal(err)
	}
	all := append(append([]combat.Event{}, opening...), evs...)

	healed := false
	for _, ev := range all {
		if ev.Actor == "Mira" && ev.Action == "heal" {
			healed = true
			if ev.Target != "Hero" {
				t.Errorf("heal target = %q, want Hero", ev.Target)
			}
			if ev.Healed < 4 || ev.Healed > 10 {
				t.Errorf("healed = %d, want 2d4+2 range", ev.Healed)
			}
		}
	}
	if !healed {
		t.Error("healer never healed the wounded hero")
	}
	if c.CurrentHP <= 10-2 { // enemy chip damage can offset a little
		t.Errorf("hero HP = %d, expected healing to outpace wolf nibbles", c.CurrentHP)
	}
}

func TestEnemyTargetsLowestAC(t *testing.T) {
	t.Parallel()

	scen := testScenario()
	p := emptyParty(scen)
	if _, err := p.Recruit("mira", charmer{}); err != nil {
		t.Fatal(err)
	}
	// Mira's AC 5 is far below the hero's 15: every enemy swing goes her way.
	st, opening, err := combat.Start(scen, hero(), p, dice.NewRoller(11), []string{"ogre"}, false, false)
	if err != nil {
		t.Fatal(err)
	}

	var all []combat.Event
	all = append(all, opening...)
	for i := 0; i < 3 && !st.Over(); i++ {
		evs, err := st.PlayerAttack("")
		if err != nil {
			t.Fatal(err)
		}
		all = append(all, evs...)
	}

	mira := p.Member("mira")
	for _, ev := range all {
		if ev.Actor == "Ogre" && ev.Action == "attack" && ev.Target != "Mira" {
			// Once Mira drops the ogre retargets the hero.
			if mira.Alive() {
				t.Errorf("ogre attacked %q while Mira (lowest AC) stood", ev.Target)
			}
		}
	}
}
