// Package combat implements turn-ordered encounters: initiative, attack and
// damage resolution, surprise rounds, darkness penalties, party-member AI,
// and enemy AI.
//
// Combat is driven entirely by the UI endpoints (attack, defend, flee). The
// DM narrates around outcomes but never resolves them. One State belongs to
// one session and is discarded when combat ends.
package combat

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/dmforge/dmforge/internal/character"
	"github.com/dmforge/dmforge/internal/content"
	"github.com/dmforge/dmforge/internal/dice"
	"github.com/dmforge/dmforge/internal/party"
)

var (
	ErrUnknownEnemyType = errors.New("combat: unknown enemy type")
	ErrNoEnemies        = errors.New("combat: no enemies")
	ErrNotPlayerTurn    = errors.New("combat: not the player's turn")
	ErrCombatOver       = errors.New("combat: combat already over")
	ErrNoSuchTarget     = errors.New("combat: no such target")
)

// Outcome is how a finished combat ended.
type Outcome string

const (
	OutcomeNone    Outcome = ""
	OutcomeVictory Outcome = "victory"
	OutcomeDefeat  Outcome = "defeat"
	OutcomeFled    Outcome = "fled"
)

// Enemy is one live enemy instance.
type Enemy struct {
	Type        string `json:"type"`
	Name        string `json:"name"`
	HP          int    `json:"hp"`
	MaxHP       int    `json:"max_hp"`
	ArmorClass  int    `json:"armor_class"`
	AttackBonus int    `json:"attack_bonus"`
	DamageDice  string `json:"damage_dice"`
	DexMod      int    `json:"dex_mod"`
}

// Alive reports whether the enemy still fights.
func (e *Enemy) Alive() bool { return e.HP > 0 }

// Event is one log line of a combat turn, consumed by narration and tests.
type Event struct {
	Actor  string          `json:"actor"`
	Action string          `json:"action"`
	Target string          `json:"target,omitempty"`
	Roll   *dice.D20Result `json:"roll,omitempty"`
	Hit    bool            `json:"hit,omitempty"`
	Damage int             `json:"damage,omitempty"`
	Killed bool            `json:"killed,omitempty"`
	Healed int             `json:"healed,omitempty"`
	Note   string          `json:"note,omitempty"`
}

// Victory summarises a won combat.
type Victory struct {
	XP            int            `json:"xp"`
	Gold          int            `json:"gold"`
	Loot          []string       `json:"loot,omitempty"`
	Kills         map[string]int `json:"kills"`
	BossDefeated  bool           `json:"boss_defeated"`
	DefeatedBosses []string      `json:"defeated_bosses,omitempty"`
}

// actor identifies one slot in the turn order.
type actor struct {
	kind       actorKind
	id         string // enemy or member name; empty for the PC
	initiative int
}

type actorKind int

const (
	kindPC actorKind = iota
	kindParty
	kindEnemy
)

// State is one running combat.
type State struct {
	scen   *content.Scenario
	char   *character.Character
	party  *party.Party
	roller *dice.Roller

	Enemies []*Enemy `json:"enemies"`
	Round   int      `json:"round"`

	order     []actor
	turnIndex int

	PlayerDefending bool `json:"player_defending"`
	Surprise        bool `json:"surprise"`

	// pcAdvantage grants advantage on the PC's first attack of a surprise
	// combat. Consumed on use.
	pcAdvantage bool

	// darkness applies disadvantage to PC and party attacks; enemies native
	// to the scenario's dark places are unaffected.
	darkness bool

	// flanked is the enemy a rogue companion flanked this round; the PC has
	// advantage against it.
	flanked string

	outcome Outcome
	victory *Victory
}

// CheckDarknessPenalty reports whether attacks suffer disadvantage: the
// location is dark and the character carries no light source.
func CheckDarknessPenalty(loc *content.Location, c *character.Character, scen *content.Scenario) bool {
	return loc != nil && loc.Dark && !c.HasLightSource(scen)
}

// Start builds a combat from enemy type IDs. Unknown types fail the whole
// start so the caller can drop the tag and continue narration. Initiative is
// rolled for every combatant and sorted descending with ties broken
// PC > party > enemies. Non-PC combatants that act before the PC's first
// turn take those turns immediately; their events are returned.
func Start(scen *content.Scenario, c *character.Character, p *party.Party, roller *dice.Roller, enemyTypes []string, surprise, darkness bool) (*State, []Event, error) {
	if len(enemyTypes) == 0 {
		return nil, nil, ErrNoEnemies
	}

	defs := make([]*content.Enemy, len(enemyTypes))
	for i, et := range enemyTypes {
		def := scen.Enemy(et)
		if def == nil {
			return nil, nil, fmt.Errorf("%w: %q", ErrUnknownEnemyType, et)
		}
		defs[i] = def
	}

	s := &State{
		scen:        scen,
		char:        c,
		party:       p,
		roller:      roller,
		Round:       1,
		Surprise:    surprise,
		pcAdvantage: surprise,
		darkness:    darkness,
	}
	s.spawnEnemies(defs)
	p.ResetAbilities()
	s.rollInitiative()

	events := s.advance()
	return s, events, nil
}

// spawnEnemies instantiates enemies, suffixing duplicate names with ordinals
// so every combatant has a unique display name.
func (s *State) spawnEnemies(defs []*content.Enemy) {
	counts := make(map[string]int)
	for _, d := range defs {
		counts[d.Type]++
	}
	seen := make(map[string]int)
	for _, d := range defs {
		name := d.Name
		if counts[d.Type] > 1 {
			seen[d.Type]++
			name = fmt.Sprintf("%s %d", d.Name, seen[d.Type])
		}
		s.Enemies = append(s.Enemies, &Enemy{
			Type:        d.Type,
			Name:        name,
			HP:          d.HP,
			MaxHP:       d.HP,
			ArmorClass:  d.ArmorClass,
			AttackBonus: d.AttackBonus,
			DamageDice:  d.DamageDice,
			DexMod:      d.DexMod,
		})
	}
}

func (s *State) rollInitiative() {
	s.order = append(s.order, actor{
		kind:       kindPC,
		initiative: s.roller.RollDie(20) + character.Modifier(s.char.Abilities.DEX),
	})
	for _, m := range s.party.Members() {
		s.order = append(s.order, actor{
			kind:       kindParty,
			id:         m.ID,
			initiative: s.roller.RollDie(20) + m.InitiativeMod,
		})
	}
	for _, e := range s.Enemies {
		s.order = append(s.order, actor{
			kind:       kindEnemy,
			id:         e.Name,
			initiative: s.roller.RollDie(20) + e.DexMod,
		})
	}
	sort.SliceStable(s.order, func(i, j int) bool {
		if s.order[i].initiative != s.order[j].initiative {
			return s.order[i].initiative > s.order[j].initiative
		}
		return s.order[i].kind < s.order[j].kind
	})
}

// Over reports whether combat has ended.
func (s *State) Over() bool { return s.outcome != OutcomeNone }

// Outcome returns how combat ended, or OutcomeNone while running.
func (s *State) Outcome() Outcome { return s.outcome }

// VictoryResult returns the spoils of a won combat, or nil.
func (s *State) VictoryResult() *Victory { return s.victory }

// TurnOrder returns the display names in initiative order, the PC as the
// character's name.
func (s *State) TurnOrder() []string {
	out := make([]string, len(s.order))
	for i, a := range s.order {
		switch a.kind {
		case kindPC:
			out[i] = s.char.Name
		default:
			out[i] = a.id
		}
	}
	return out
}

// LivingEnemies returns the enemies still standing.
func (s *State) LivingEnemies() []*Enemy {
	var out []*Enemy
	for _, e := range s.Enemies {
		if e.Alive() {
			out = append(out, e)
		}
	}
	return out
}

// ── player actions ──

// PlayerAttack resolves the PC's attack against a target (by display name,
// case-insensitive; empty picks the first living enemy), then plays out the
// other combatants' turns until the PC is up again or combat ends.
func (s *State) PlayerAttack(target string) ([]Event, error) {
	if err := s.requirePlayerTurn(); err != nil {
		return nil, err
	}
	enemy, err := s.resolveTarget(target)
	if err != nil {
		return nil, err
	}

	mode := dice.Normal
	note := ""
	switch {
	case s.pcAdvantage:
		mode = dice.Advantage
		note = "surprise"
		s.pcAdvantage = false
	case s.flanked == enemy.Name:
		mode = dice.Advantage
		note = "flanking"
	case s.darkness:
		mode = dice.Disadvantage
		note = "darkness"
	}

	ev := s.resolveAttack(s.char.Name, enemy, s.char.AttackModifier(), s.char.WeaponDamageDice(s.scen), s.char.DamageModifier(), mode)
	ev.Note = note
	events := []Event{ev}

	s.checkEnd(&events)
	if s.Over() {
		return events, nil
	}
	events = append(events, s.advanceFromPlayer()...)
	return events, nil
}

// PlayerDefend raises the PC's guard (+2 AC) until the PC's next turn.
func (s *State) PlayerDefend() ([]Event, error) {
	if err := s.requirePlayerTurn(); err != nil {
		return nil, err
	}
	s.PlayerDefending = true
	events := []Event{{Actor: s.char.Name, Action: "defend", Note: "+2 AC"}}
	events = append(events, s.advanceFromPlayer()...)
	return events, nil
}

// PlayerFlee attempts escape: a DEX check against 10 plus the highest living
// enemy's DEX modifier. Failure provokes one opportunity attack and combat
// continues.
func (s *State) PlayerFlee() ([]Event, error) {
	if err := s.requirePlayerTurn(); err != nil {
		return nil, err
	}

	dc := 10
	for _, e := range s.LivingEnemies() {
		if 10+e.DexMod > dc {
			dc = 10 + e.DexMod
		}
	}
	roll := s.roller.RollD20(character.Modifier(s.char.Abilities.DEX), dice.Normal)
	ev := Event{Actor: s.char.Name, Action: "flee", Roll: &roll}

	if roll.Total >= dc && !roll.Nat1 {
		ev.Hit = true
		s.outcome = OutcomeFled
		return []Event{ev}, nil
	}

	events := []Event{ev}
	if living := s.LivingEnemies(); len(living) > 0 {
		op := s.enemyAttack(living[0], "opportunity")
		events = append(events, op...)
	}
	s.checkEnd(&events)
	if s.Over() {
		return events, nil
	}
	events = append(events, s.advanceFromPlayer()...)
	return events, nil
}

func (s *State) requirePlayerTurn() error {
	if s.Over() {
		return ErrCombatOver
	}
	if s.order[s.turnIndex].kind != kindPC {
		return ErrNotPlayerTurn
	}
	// The PC acting consumes any standing defense.
	s.PlayerDefending = false
	return nil
}

func (s *State) resolveTarget(target string) (*Enemy, error) {
	living := s.LivingEnemies()
	if len(living) == 0 {
		return nil, ErrNoSuchTarget
	}
	if strings.TrimSpace(target) == "" {
		return living[0], nil
	}
	want := strings.ToLower(strings.TrimSpace(target))
	for _, e := range living {
		if strings.ToLower(e.Name) == want || strings.ToLower(e.Type) == want {
			return e, nil
		}
	}
	return nil, fmt.Errorf("%w: %q", ErrNoSuchTarget, target)
}

// ── turn machinery ──

// advanceFromPlayer steps past the PC's slot and plays non-PC turns.
func (s *State) advanceFromPlayer() []Event {
	s.stepIndex()
	return s.advance()
}

// advance plays non-PC turns until the PC is up or combat ends. Reaching the
// PC's slot clears the defend flag ("until the PC's next turn begins").
func (s *State) advance() []Event {
	var events []Event
	for !s.Over() {
		a := s.order[s.turnIndex]
		switch a.kind {
		case kindPC:
			if s.char.IsDead() {
				s.outcome = OutcomeDefeat
				return events
			}
			s.PlayerDefending = false
			return events
		case kindParty:
			events = append(events, s.partyTurn(a.id)...)
		case kindEnemy:
			events = append(events, s.enemyTurn(a.id)...)
		}
		s.checkEnd(&events)
		if s.Over() {
			return events
		}
		s.stepIndex()
	}
	return events
}

func (s *State) stepIndex() {
	s.turnIndex++
	if s.turnIndex >= len(s.order) {
		s.turnIndex = 0
		s.Round++
		s.flanked = ""
		if s.Surprise {
			s.Surprise = false
		}
	}
}

// partyTurn runs one companion's AI: heal the weakest ally below half HP if
// able, otherwise attack the lowest-HP enemy; rogues flank, granting the PC
// advantage against that enemy for the round.
func (s *State) partyTurn(memberID string) []Event {
	m := s.party.Member(memberID)
	if m == nil || !m.Alive() {
		return nil
	}

	if m.SpecialAbility == "heal" && m.AbilityUses > 0 {
		if name, healed := s.healWeakestAlly(m); healed > 0 {
			m.AbilityUses--
			return []Event{{Actor: m.Name, Action: "heal", Target: name, Healed: healed}}
		}
	}

	target := s.lowestHPEnemy()
	if target == nil {
		return nil
	}

	mode := dice.Normal
	note := ""
	damageDice := m.DamageDice
	if s.darkness {
		mode = dice.Disadvantage
		note = "darkness"
	}
	if m.SpecialAbility == "sneak_attack" && m.AbilityUses > 0 {
		m.AbilityUses--
		mode = dice.Advantage
		note = "sneak attack"
		damageDice = doubleDice(damageDice)
		s.flanked = target.Name
	}

	ev := s.resolveAttack(m.Name, target, m.AttackBonus, damageDice, 0, mode)
	ev.Note = note
	return []Event{ev}
}

// healWeakestAlly restores 2d4+2 to the most wounded ally below half HP.
func (s *State) healWeakestAlly(healer *party.Member) (string, int) {
	type ally struct {
		name    string
		cur     int
		max     int
		applyFn func(int) int
	}
	var candidates []ally

	if s.char.CurrentHP*2 < s.char.MaxHP {
		candidates = append(candidates, ally{s.char.Name, s.char.CurrentHP, s.char.MaxHP, s.char.Heal})
	}
	for _, m := range s.party.Members() {
		m := m
		if m.Alive() && m.CurrentHP*2 < m.MaxHP {
			candidates = append(candidates, ally{m.Name, m.CurrentHP, m.MaxHP, func(n int) int {
				if m.CurrentHP+n > m.MaxHP {
					n = m.MaxHP - m.CurrentHP
				}
				m.CurrentHP += n
				return n
			}})
		}
	}
	if len(candidates) == 0 {
		return "", 0
	}

	weakest := candidates[0]
	for _, c := range candidates[1:] {
		if c.cur*weakest.max < weakest.cur*c.max {
			weakest = c
		}
	}
	amount := s.roller.RollDie(4) + s.roller.RollDie(4) + 2
	return weakest.name, weakest.applyFn(amount)
}

func (s *State) lowestHPEnemy() *Enemy {
	var target *Enemy
	for _, e := range s.LivingEnemies() {
		if target == nil || e.HP < target.HP {
			target = e
		}
	}
	return target
}

// enemyTurn runs one enemy's AI. Surprised enemies skip round 1.
func (s *State) enemyTurn(name string) []Event {
	var enemy *Enemy
	for _, e := range s.Enemies {
		if e.Name == name {
			enemy = e
			break
		}
	}
	if enemy == nil || !enemy.Alive() {
		return nil
	}
	if s.Surprise && s.Round == 1 {
		return []Event{{Actor: enemy.Name, Action: "skip", Note: "surprised"}}
	}
	return s.enemyAttack(enemy, "attack")
}

// enemyAttack resolves one enemy attack against the lowest-AC target among
// the PC and living companions, ties broken randomly.
func (s *State) enemyAttack(enemy *Enemy, action string) []Event {
	type target struct {
		name string
		ac   int
		hurt func(int) (actual int, dead bool)
	}
	pcAC := s.char.ArmorClass
	if s.PlayerDefending {
		pcAC += 2
	}
	targets := []target{{
		name: s.char.Name,
		ac:   pcAC,
		hurt: func(n int) (int, bool) {
			actual := s.char.ApplyDamage(n)
			return actual, s.char.IsDead()
		},
	}}
	for _, m := range s.party.Members() {
		m := m
		if !m.Alive() {
			continue
		}
		targets = append(targets, target{
			name: m.Name,
			ac:   m.ArmorClass,
			hurt: func(n int) (int, bool) {
				m.CurrentHP -= n
				if m.CurrentHP < 0 {
					m.CurrentHP = 0
				}
				return n, m.CurrentHP == 0
			},
		})
	}

	lowest := targets[0].ac
	for _, t := range targets[1:] {
		if t.ac < lowest {
			lowest = t.ac
		}
	}
	var pool []target
	for _, t := range targets {
		if t.ac == lowest {
			pool = append(pool, t)
		}
	}
	pick := pool[s.roller.IntN(len(pool))]

	roll := s.roller.RollD20(enemy.AttackBonus, dice.Normal)
	ev := Event{Actor: enemy.Name, Action: action, Target: pick.name, Roll: &roll}
	if roll.Nat1 || (!roll.Nat20 && roll.Total < pick.ac) {
		return []Event{ev}
	}

	dmgDice := enemy.DamageDice
	if roll.Nat20 {
		dmgDice = doubleDice(dmgDice)
	}
	dmg, err := s.roller.Roll(dmgDice)
	if err != nil {
		return []Event{ev}
	}
	actual, dead := pick.hurt(max(dmg.Total, 1))
	ev.Hit = true
	ev.Damage = actual
	ev.Killed = dead
	return []Event{ev}
}

// resolveAttack is the shared to-hit and damage roll for PC and party
// attacks. A natural 20 doubles the damage dice (not the modifier); a
// natural 1 always misses.
func (s *State) resolveAttack(attacker string, target *Enemy, attackBonus int, damageDice string, damageMod int, mode dice.Mode) Event {
	roll := s.roller.RollD20(attackBonus, mode)
	ev := Event{Actor: attacker, Action: "attack", Target: target.Name, Roll: &roll}

	if roll.Nat1 || (!roll.Nat20 && roll.Total < target.ArmorClass) {
		return ev
	}

	dmgDice := damageDice
	if roll.Nat20 {
		dmgDice = doubleDice(dmgDice)
	}
	dmg, err := s.roller.Roll(dmgDice)
	total := damageMod
	if err == nil {
		total += dmg.Total
	}
	if total < 1 {
		total = 1
	}

	target.HP -= total
	if target.HP < 0 {
		target.HP = 0
	}
	ev.Hit = true
	ev.Damage = total
	ev.Killed = !target.Alive()
	return ev
}

// doubleDice doubles the die count of an NdS±M expression, leaving the
// modifier alone ("2d6+3" → "4d6+3").
func doubleDice(expr string) string {
	count, sides, mod, err := dice.ParseNotation(expr)
	if err != nil {
		return expr
	}
	out := fmt.Sprintf("%dd%d", count*2, sides)
	switch {
	case mod > 0:
		out += fmt.Sprintf("+%d", mod)
	case mod < 0:
		out += fmt.Sprintf("%d", mod)
	}
	return out
}

// checkEnd evaluates the end conditions and, on victory, computes spoils.
func (s *State) checkEnd(events *[]Event) {
	if s.Over() {
		return
	}
	if s.char.IsDead() {
		s.outcome = OutcomeDefeat
		*events = append(*events, Event{Actor: s.char.Name, Action: "defeated"})
		return
	}
	if len(s.LivingEnemies()) > 0 {
		return
	}

	s.outcome = OutcomeVictory
	v := &Victory{Kills: make(map[string]int)}
	for _, e := range s.Enemies {
		def := s.scen.Enemy(e.Type)
		if def == nil {
			continue
		}
		v.XP += def.XP
		v.Kills[e.Type]++
		if def.Boss {
			v.BossDefeated = true
			v.DefeatedBosses = append(v.DefeatedBosses, e.Type)
		}
		for _, le := range def.Loot {
			if s.roller.Float64() < le.Chance {
				v.Loot = append(v.Loot, le.Item)
			}
		}
		if def.GoldDice != "" {
			if g, err := s.roller.Roll(def.GoldDice); err == nil {
				v.Gold += g.Total
			}
		}
	}
	sort.Strings(v.Loot)
	sort.Strings(v.DefeatedBosses)
	s.victory = v

	// Fallen companions are knocked out, not killed.
	for _, m := range s.party.Members() {
		if m.CurrentHP == 0 {
			m.CurrentHP = 1
		}
	}
}
