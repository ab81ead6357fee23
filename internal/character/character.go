// Package character owns the player character sheet: abilities, hit points,
// experience, equipment, inventory, and gold.
//
// A Character is a value aggregate owned by exactly one session. Methods never
// lock; the session's own mutex serialises all access.
package character

import (
	"errors"
	"fmt"
	"strings"

	"github.com/dmforge/dmforge/internal/content"
	"github.com/dmforge/dmforge/internal/dice"
)

var (
	ErrInvalidName        = errors.New("character: name must be 1..50 printable characters")
	ErrUnknownClass       = errors.New("character: unknown class")
	ErrUnknownRace        = errors.New("character: unknown race")
	ErrInsufficientXP     = errors.New("character: not enough experience to level up")
	ErrMaxLevel           = errors.New("character: already at maximum level")
	ErrCannotRestInCombat = errors.New("character: cannot rest during combat")
	ErrFullHP             = errors.New("character: already at full hit points")
	ErrNoHitDice          = errors.New("character: no hit dice remaining")
	ErrItemNotFound       = errors.New("character: item not in inventory")
	ErrCannotEquip        = errors.New("character: item cannot be equipped")
	ErrCannotUse          = errors.New("character: item cannot be used")
)

// MaxLevel is the level cap.
const MaxLevel = 5

// xpThresholds[n] is the total XP required to reach level n.
var xpThresholds = map[int]int{2: 100, 3: 300, 4: 600, 5: 1000}

// Abilities holds the six ability scores, each in [1, 30].
type Abilities struct {
	STR int `json:"str"`
	DEX int `json:"dex"`
	CON int `json:"con"`
	INT int `json:"int"`
	WIS int `json:"wis"`
	CHA int `json:"cha"`
}

// Score returns the score of the named ability ("STR".."CHA"), or 10 for an
// unknown name.
func (a Abilities) Score(name string) int {
	switch strings.ToUpper(name) {
	case "STR":
		return a.STR
	case "DEX":
		return a.DEX
	case "CON":
		return a.CON
	case "INT":
		return a.INT
	case "WIS":
		return a.WIS
	case "CHA":
		return a.CHA
	}
	return 10
}

// Modifier converts an ability score to its modifier, rounding down.
func Modifier(score int) int {
	d := score - 10
	if d < 0 {
		d--
	}
	return d / 2
}

// ItemStack is one inventory row.
type ItemStack struct {
	ItemID   string `json:"item_id"`
	Quantity int    `json:"quantity"`
}

// Character is the full mutable player sheet.
type Character struct {
	Name  string `json:"name"`
	Race  string `json:"race"`
	Class string `json:"class"`
	Level int    `json:"level"`
	XP    int    `json:"xp"`

	Abilities Abilities `json:"abilities"`

	MaxHP            int `json:"max_hp"`
	CurrentHP        int `json:"current_hp"`
	ArmorClass       int `json:"armor_class"`
	HitDiceRemaining int `json:"hit_dice_remaining"`

	WeaponID  string      `json:"weapon_id,omitempty"`
	ArmorID   string      `json:"armor_id,omitempty"`
	Inventory []ItemStack `json:"inventory"`
	Gold      int         `json:"gold"`

	// ArmorBonus caches the equipped armor's AC bonus so AC can be recomputed
	// when DEX changes. Persisted so saves round-trip.
	ArmorBonus int `json:"armor_bonus,omitempty"`

	// Features lists class features gained at levels 3 and 5.
	Features []string `json:"features,omitempty"`

	// StatusEffects holds active conditions such as "poisoned".
	StatusEffects []string `json:"status_effects,omitempty"`
}

// New creates a level-1 character: validates the name, rolls abilities with
// 4d6-drop-lowest, applies racial bonuses, computes HP and AC, and installs
// the class starting kit. Starting items missing from the scenario are
// skipped so content bundles stay decoupled from the class table.
func New(name, class, race string, roller *dice.Roller, scen *content.Scenario) (*Character, error) {
	name = strings.TrimSpace(name)
	if name == "" || len(name) > 50 {
		return nil, ErrInvalidName
	}
	for _, r := range name {
		if r < 0x20 || r == 0x7f {
			return nil, ErrInvalidName
		}
	}

	cls, ok := Classes[strings.ToLower(class)]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownClass, class)
	}
	rc, ok := Races[strings.ToLower(race)]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownRace, race)
	}

	ab := Abilities{
		STR: rollAbility(roller),
		DEX: rollAbility(roller),
		CON: rollAbility(roller),
		INT: rollAbility(roller),
		WIS: rollAbility(roller),
		CHA: rollAbility(roller),
	}
	ab.STR = clampScore(ab.STR + rc.Bonuses.STR)
	ab.DEX = clampScore(ab.DEX + rc.Bonuses.DEX)
	ab.CON = clampScore(ab.CON + rc.Bonuses.CON)
	ab.INT = clampScore(ab.INT + rc.Bonuses.INT)
	ab.WIS = clampScore(ab.WIS + rc.Bonuses.WIS)
	ab.CHA = clampScore(ab.CHA + rc.Bonuses.CHA)

	hp := cls.HitDie + Modifier(ab.CON)
	if hp < 1 {
		hp = 1
	}

	c := &Character{
		Name:             name,
		Race:             rc.Name,
		Class:            cls.Name,
		Level:            1,
		Abilities:        ab,
		MaxHP:            hp,
		CurrentHP:        hp,
		ArmorClass:       10 + Modifier(ab.DEX),
		HitDiceRemaining: 1,
		Gold:             cls.StartingGold,
	}

	for _, sg := range cls.StartingGear {
		item := scen.Item(sg.ItemID)
		if item == nil {
			continue
		}
		c.AddItem(item, sg.Quantity)
		switch {
		case item.Type == content.ItemWeapon && c.WeaponID == "":
			c.WeaponID = item.ID
		case item.Type == content.ItemArmor && c.ArmorID == "":
			c.ArmorID = item.ID
			c.recomputeAC(item)
		}
	}

	return c, nil
}

// rollAbility rolls 4d6 and sums the highest three dice.
func rollAbility(r *dice.Roller) int {
	rolls := [4]int{r.RollDie(6), r.RollDie(6), r.RollDie(6), r.RollDie(6)}
	lowest, sum := rolls[0], 0
	for _, v := range rolls {
		sum += v
		if v < lowest {
			lowest = v
		}
	}
	return sum - lowest
}

func clampScore(v int) int {
	if v < 1 {
		return 1
	}
	if v > 30 {
		return 30
	}
	return v
}

// ProficiencyBonus derives the proficiency bonus from level.
func (c *Character) ProficiencyBonus() int {
	if c.Level >= 5 {
		return 3
	}
	return 2
}

// AbilityMod returns the modifier for the named ability.
func (c *Character) AbilityMod(name string) int {
	return Modifier(c.Abilities.Score(name))
}

// SkillModifier is the bonus applied to a skill check: ability modifier plus
// proficiency.
func (c *Character) SkillModifier(ability string) int {
	return c.AbilityMod(ability) + c.ProficiencyBonus()
}

// ── experience and leveling ──

// GainXP adds experience and reports whether a level-up is now available.
// amount must be non-negative; negative amounts are ignored.
func (c *Character) GainXP(amount int) (canLevelUp bool) {
	if amount > 0 {
		c.XP += amount
	}
	return c.CanLevelUp()
}

// CanLevelUp reports whether the XP threshold for the next level is met.
func (c *Character) CanLevelUp() bool {
	if c.Level >= MaxLevel {
		return false
	}
	return c.XP >= xpThresholds[c.Level+1]
}

// LevelUpResult describes what a level-up granted.
type LevelUpResult struct {
	NewLevel   int    `json:"new_level"`
	HPGained   int    `json:"hp_gained"`
	StatBoost  string `json:"stat_boost,omitempty"`
	NewFeature string `json:"new_feature,omitempty"`
}

// LevelUp applies one level: +2 HP, a primary-stat boost at levels 2 and 4,
// a class feature at levels 3 and 5, and restores Hit Dice to the new level.
// At most one level is applied per call even if XP covers several thresholds.
func (c *Character) LevelUp() (*LevelUpResult, error) {
	if c.Level >= MaxLevel {
		return nil, ErrMaxLevel
	}
	if !c.CanLevelUp() {
		return nil, ErrInsufficientXP
	}

	cls := Classes[strings.ToLower(c.Class)]
	c.Level++
	c.MaxHP += 2
	c.CurrentHP += 2
	c.HitDiceRemaining = c.Level

	res := &LevelUpResult{NewLevel: c.Level, HPGained: 2}

	if c.Level == 2 || c.Level == 4 {
		c.boostAbility(cls.PrimaryAbility)
		res.StatBoost = strings.ToUpper(cls.PrimaryAbility)
	}
	if feat, ok := cls.Features[c.Level]; ok {
		c.Features = append(c.Features, feat)
		res.NewFeature = feat
	}
	return res, nil
}

func (c *Character) boostAbility(name string) {
	switch strings.ToUpper(name) {
	case "STR":
		c.Abilities.STR = clampScore(c.Abilities.STR + 1)
	case "DEX":
		c.Abilities.DEX = clampScore(c.Abilities.DEX + 1)
		// DEX feeds into AC.
		c.ArmorClass = 10 + Modifier(c.Abilities.DEX) + c.ArmorBonus
	case "CON":
		c.Abilities.CON = clampScore(c.Abilities.CON + 1)
	case "INT":
		c.Abilities.INT = clampScore(c.Abilities.INT + 1)
	case "WIS":
		c.Abilities.WIS = clampScore(c.Abilities.WIS + 1)
	case "CHA":
		c.Abilities.CHA = clampScore(c.Abilities.CHA + 1)
	}
}

// ── hit points ──

// ApplyDamage reduces HP, never below zero. Returns the HP actually lost.
func (c *Character) ApplyDamage(amount int) int {
	if amount < 0 {
		amount = 0
	}
	if amount > c.CurrentHP {
		amount = c.CurrentHP
	}
	c.CurrentHP -= amount
	return amount
}

// Heal raises HP, never above MaxHP. Returns the HP actually restored.
func (c *Character) Heal(amount int) int {
	if amount < 0 {
		amount = 0
	}
	if c.CurrentHP+amount > c.MaxHP {
		amount = c.MaxHP - c.CurrentHP
	}
	c.CurrentHP += amount
	return amount
}

// IsDead reports whether the character is at zero hit points.
func (c *Character) IsDead() bool { return c.CurrentHP <= 0 }

// ShortRest spends one Hit Die to heal 1d6 + CON modifier (minimum 1).
func (c *Character) ShortRest(roller *dice.Roller, inCombat bool) (healed int, err error) {
	switch {
	case inCombat:
		return 0, ErrCannotRestInCombat
	case c.CurrentHP >= c.MaxHP:
		return 0, ErrFullHP
	case c.HitDiceRemaining <= 0:
		return 0, ErrNoHitDice
	}

	c.HitDiceRemaining--
	amount := roller.RollDie(6) + Modifier(c.Abilities.CON)
	if amount < 1 {
		amount = 1
	}
	return c.Heal(amount), nil
}

// RestoreHitDice refills Hit Dice to the character's level. Called on
// level-up and after a boss kill.
func (c *Character) RestoreHitDice() {
	c.HitDiceRemaining = c.Level
}

// ── inventory and equipment ──

// AddItem adds qty copies of an item. Stackable items merge into one row;
// non-stackable items get one row per copy.
func (c *Character) AddItem(item *content.Item, qty int) {
	if item == nil || qty < 1 {
		return
	}
	if item.Stackable {
		for i := range c.Inventory {
			if c.Inventory[i].ItemID == item.ID {
				c.Inventory[i].Quantity += qty
				return
			}
		}
		c.Inventory = append(c.Inventory, ItemStack{ItemID: item.ID, Quantity: qty})
		return
	}
	for i := 0; i < qty; i++ {
		c.Inventory = append(c.Inventory, ItemStack{ItemID: item.ID, Quantity: 1})
	}
}

// RemoveItem removes qty copies of an item, unequipping it if the last copy
// goes. Fails without state change when the inventory holds fewer than qty.
func (c *Character) RemoveItem(itemID string, qty int) error {
	if qty < 1 {
		return fmt.Errorf("character: remove quantity must be positive")
	}
	if c.ItemCount(itemID) < qty {
		return fmt.Errorf("%w: %q", ErrItemNotFound, itemID)
	}

	remaining := qty
	out := c.Inventory[:0]
	for _, st := range c.Inventory {
		if st.ItemID != itemID || remaining == 0 {
			out = append(out, st)
			continue
		}
		take := st.Quantity
		if take > remaining {
			take = remaining
		}
		st.Quantity -= take
		remaining -= take
		if st.Quantity > 0 {
			out = append(out, st)
		}
	}
	c.Inventory = out

	if c.ItemCount(itemID) == 0 {
		if c.WeaponID == itemID {
			c.WeaponID = ""
		}
		if c.ArmorID == itemID {
			c.ArmorID = ""
			c.ArmorBonus = 0
			c.ArmorClass = 10 + Modifier(c.Abilities.DEX)
		}
	}
	return nil
}

// ItemCount returns how many copies of an item the inventory holds.
func (c *Character) ItemCount(itemID string) int {
	n := 0
	for _, st := range c.Inventory {
		if st.ItemID == itemID {
			n += st.Quantity
		}
	}
	return n
}

// HasItem reports whether at least one copy of the item is held.
func (c *Character) HasItem(itemID string) bool { return c.ItemCount(itemID) > 0 }

// Equip installs a held weapon or armor. Equipping armor recomputes AC.
func (c *Character) Equip(item *content.Item) error {
	if item == nil {
		return ErrItemNotFound
	}
	if !c.HasItem(item.ID) {
		return fmt.Errorf("%w: %q", ErrItemNotFound, item.ID)
	}
	switch item.Type {
	case content.ItemWeapon:
		c.WeaponID = item.ID
	case content.ItemArmor:
		c.ArmorID = item.ID
		c.recomputeAC(item)
	default:
		return fmt.Errorf("%w: %q is %s", ErrCannotEquip, item.ID, item.Type)
	}
	return nil
}

func (c *Character) recomputeAC(armor *content.Item) {
	c.ArmorBonus = armor.ACBonus
	c.ArmorClass = 10 + Modifier(c.Abilities.DEX) + armor.ACBonus
}

// UseResult describes the outcome of consuming an item.
type UseResult struct {
	Effect string `json:"effect"`
	Healed int    `json:"healed,omitempty"`
}

// UseItem applies a consumable's effect. Healing items fail at full HP so the
// player cannot waste them; light sources are passive and cannot be "used".
func (c *Character) UseItem(item *content.Item, roller *dice.Roller) (*UseResult, error) {
	if item == nil {
		return nil, ErrItemNotFound
	}
	if !c.HasItem(item.ID) {
		return nil, fmt.Errorf("%w: %q", ErrItemNotFound, item.ID)
	}
	if item.OnUse == nil {
		return nil, fmt.Errorf("%w: %q", ErrCannotUse, item.ID)
	}

	switch item.OnUse.Effect {
	case "heal":
		if c.CurrentHP >= c.MaxHP {
			return nil, ErrFullHP
		}
		res, err := roller.Roll(item.OnUse.HealDice)
		if err != nil {
			return nil, fmt.Errorf("character: heal dice %q: %w", item.OnUse.HealDice, err)
		}
		healed := c.Heal(res.Total)
		_ = c.RemoveItem(item.ID, 1)
		return &UseResult{Effect: "heal", Healed: healed}, nil

	case "cure":
		c.StatusEffects = nil
		_ = c.RemoveItem(item.ID, 1)
		return &UseResult{Effect: "cure"}, nil

	default:
		return nil, fmt.Errorf("%w: %q", ErrCannotUse, item.ID)
	}
}

// HasLightSource reports whether any held item negates darkness penalties.
func (c *Character) HasLightSource(scen *content.Scenario) bool {
	for _, st := range c.Inventory {
		if item := scen.Item(st.ItemID); item != nil && item.LightSource {
			return true
		}
	}
	return false
}

// WeaponDamageDice returns the equipped weapon's damage expression, falling
// back to an unarmed strike.
func (c *Character) WeaponDamageDice(scen *content.Scenario) string {
	if c.WeaponID != "" {
		if w := scen.Item(c.WeaponID); w != nil && w.DamageDice != "" {
			return w.DamageDice
		}
	}
	return "1d2"
}

// AttackModifier is the to-hit bonus: STR modifier plus proficiency.
func (c *Character) AttackModifier() int {
	return Modifier(c.Abilities.STR) + c.ProficiencyBonus()
}

// DamageModifier is the flat damage bonus added to weapon dice.
func (c *Character) DamageModifier() int {
	return Modifier(c.Abilities.STR)
}

// SpendGold deducts gold, failing without change when funds are short.
func (c *Character) SpendGold(amount int) error {
	if amount < 0 {
		return fmt.Errorf("character: gold amount must be non-negative")
	}
	if c.Gold < amount {
		return fmt.Errorf("character: insufficient gold: have %d, need %d", c.Gold, amount)
	}
	c.Gold -= amount
	return nil
}

// AddGold credits gold; negative amounts are ignored.
func (c *Character) AddGold(amount int) {
	if amount > 0 {
		c.Gold += amount
	}
}
