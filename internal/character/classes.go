package character

// StartingGearEntry is one row of a class starting kit. Item IDs resolve
// against the active scenario; unknown IDs are skipped at creation.
type StartingGearEntry struct {
	ItemID   string
	Quantity int
}

// ClassDef is one playable class.
type ClassDef struct {
	Name           string
	Description    string
	HitDie         int
	PrimaryAbility string
	StartingGold   int
	StartingGear   []StartingGearEntry

	// Features maps levels to the feature gained there.
	Features map[int]string
}

// RaceDef is one playable race.
type RaceDef struct {
	Name        string
	Description string
	Bonuses     Abilities
}

// Classes is the playable class table, keyed by lowercase name.
var Classes = map[string]ClassDef{
	"fighter": {
		Name:           "Fighter",
		Description:    "A master of martial combat, tough and straightforward.",
		HitDie:         10,
		PrimaryAbility: "str",
		StartingGold:   15,
		StartingGear: []StartingGearEntry{
			{ItemID: "shortsword", Quantity: 1},
			{ItemID: "leather_armor", Quantity: 1},
			{ItemID: "torch", Quantity: 2},
			{ItemID: "healing_potion", Quantity: 1},
		},
		Features: map[int]string{
			3: "Second Wind",
			5: "Extra Attack",
		},
	},
	"rogue": {
		Name:           "Rogue",
		Description:    "A skulker and trickster who strikes where armor is thin.",
		HitDie:         8,
		PrimaryAbility: "dex",
		StartingGold:   20,
		StartingGear: []StartingGearEntry{
			{ItemID: "rusty_dagger", Quantity: 1},
			{ItemID: "leather_armor", Quantity: 1},
			{ItemID: "torch", Quantity: 1},
			{ItemID: "rope", Quantity: 1},
		},
		Features: map[int]string{
			3: "Cunning Action",
			5: "Uncanny Dodge",
		},
	},
	"wizard": {
		Name:           "Wizard",
		Description:    "A scholar of the arcane, fragile but full of surprises.",
		HitDie:         6,
		PrimaryAbility: "int",
		StartingGold:   25,
		StartingGear: []StartingGearEntry{
			{ItemID: "torch", Quantity: 2},
			{ItemID: "healing_potion", Quantity: 2},
		},
		Features: map[int]string{
			3: "Arcane Recovery",
			5: "Empowered Evocation",
		},
	},
	"cleric": {
		Name:           "Cleric",
		Description:    "A warrior-priest who mends wounds as readily as dealing them.",
		HitDie:         8,
		PrimaryAbility: "wis",
		StartingGold:   15,
		StartingGear: []StartingGearEntry{
			{ItemID: "wooden_shield", Quantity: 1},
			{ItemID: "torch", Quantity: 1},
			{ItemID: "healing_potion", Quantity: 2},
		},
		Features: map[int]string{
			3: "Channel Divinity",
			5: "Destroy Undead",
		},
	},
}

// Races is the playable race table, keyed by lowercase name.
var Races = map[string]RaceDef{
	"human":    {Name: "Human", Description: "Adaptable and ambitious.", Bonuses: Abilities{STR: 1, DEX: 1, CON: 1, INT: 1, WIS: 1, CHA: 1}},
	"dwarf":    {Name: "Dwarf", Description: "Stout, stubborn, and hard to kill.", Bonuses: Abilities{CON: 2}},
	"elf":      {Name: "Elf", Description: "Graceful and keen-eyed.", Bonuses: Abilities{DEX: 2}},
	"halfling": {Name: "Halfling", Description: "Small, lucky, and light-footed.", Bonuses: Abilities{DEX: 2, CHA: 1}},
}

// SkillAbility maps canonical skill names to their governing ability.
var SkillAbility = map[string]string{
	"Athletics":       "STR",
	"Acrobatics":      "DEX",
	"Stealth":         "DEX",
	"Sleight_of_Hand": "DEX",
	"Arcana":          "INT",
	"History":         "INT",
	"Investigation":   "INT",
	"Nature":          "INT",
	"Religion":        "INT",
	"Insight":         "WIS",
	"Medicine":        "WIS",
	"Perception":      "WIS",
	"Survival":        "WIS",
	"Animal_Handling": "WIS",
	"Deception":       "CHA",
	"Intimidation":    "CHA",
	"Performance":     "CHA",
	"Persuasion":      "CHA",
	// Raw ability checks pass through unchanged.
	"STR": "STR", "DEX": "DEX", "CON": "CON",
	"INT": "INT", "WIS": "WIS", "CHA": "CHA",
}
