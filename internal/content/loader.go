package content

import (
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

// ScenarioFile is the top-level structure of a scenario YAML bundle.
//
// Example:
//
//	scenario:
//	  id: goblin_cave
//	  name: "The Goblin Cave"
//	  start_location: tavern
//	locations:
//	  - id: tavern
//	    name: "The Prancing Pony"
type ScenarioFile struct {
	Scenario  Scenario    `yaml:"scenario"`
	Locations []*Location `yaml:"locations"`
	NPCs      []*NPC      `yaml:"npcs"`
	Items     []*Item     `yaml:"items"`
	Quests    []*Quest    `yaml:"quests"`
	Enemies   []*Enemy    `yaml:"enemies"`
	Choices   []*Choice   `yaml:"choices"`
	Endings   []Ending    `yaml:"endings"`
}

// LoadScenarioFile reads and parses a scenario YAML bundle from disk.
func LoadScenarioFile(path string) (*Scenario, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("content: open scenario file %q: %w", path, err)
	}
	defer f.Close()

	s, err := LoadScenarioFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("content: parse scenario file %q: %w", path, err)
	}
	return s, nil
}

// LoadScenarioFromReader parses a scenario YAML bundle from an [io.Reader],
// indexes its entities by ID, and validates all cross-references. The reader
// is consumed entirely; the caller is responsible for closing it.
func LoadScenarioFromReader(r io.Reader) (*Scenario, error) {
	var sf ScenarioFile
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true) // reject unknown keys to catch typos in content files
	if err := dec.Decode(&sf); err != nil {
		return nil, fmt.Errorf("content: decode scenario yaml: %w", err)
	}

	s := sf.Scenario
	s.Locations = make(map[string]*Location, len(sf.Locations))
	s.NPCs = make(map[string]*NPC, len(sf.NPCs))
	s.Items = make(map[string]*Item, len(sf.Items))
	s.Quests = make(map[string]*Quest, len(sf.Quests))
	s.Enemies = make(map[string]*Enemy, len(sf.Enemies))
	s.Choices = make(map[string]*Choice, len(sf.Choices))
	s.Endings = sf.Endings

	for _, l := range sf.Locations {
		if _, dup := s.Locations[l.ID]; dup {
			return nil, fmt.Errorf("content: duplicate location id %q", l.ID)
		}
		s.Locations[l.ID] = l
	}
	for _, n := range sf.NPCs {
		if _, dup := s.NPCs[n.ID]; dup {
			return nil, fmt.Errorf("content: duplicate npc id %q", n.ID)
		}
		s.NPCs[n.ID] = n
	}
	for _, it := range sf.Items {
		if _, dup := s.Items[it.ID]; dup {
			return nil, fmt.Errorf("content: duplicate item id %q", it.ID)
		}
		s.Items[it.ID] = it
	}
	for _, q := range sf.Quests {
		if _, dup := s.Quests[q.ID]; dup {
			return nil, fmt.Errorf("content: duplicate quest id %q", q.ID)
		}
		s.Quests[q.ID] = q
	}
	for _, e := range sf.Enemies {
		if _, dup := s.Enemies[e.Type]; dup {
			return nil, fmt.Errorf("content: duplicate enemy type %q", e.Type)
		}
		s.Enemies[e.Type] = e
	}
	for _, c := range sf.Choices {
		if _, dup := s.Choices[c.ID]; dup {
			return nil, fmt.Errorf("content: duplicate choice id %q", c.ID)
		}
		s.Choices[c.ID] = c
	}

	if err := Validate(&s); err != nil {
		return nil, err
	}
	return &s, nil
}

// Validate checks that a scenario is internally coherent: every exit target,
// item reference, NPC placement, quest target, and encounter enemy type must
// resolve inside the same scenario. Returns a joined error listing every
// failure found.
func Validate(s *Scenario) error {
	var errs []error

	fail := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf(format, args...))
	}

	if s.ID == "" {
		fail("scenario id must not be empty")
	}
	if s.StartLocation == "" {
		fail("scenario %q: start_location must not be empty", s.ID)
	} else if _, ok := s.Locations[s.StartLocation]; !ok {
		fail("scenario %q: start_location %q does not exist", s.ID, s.StartLocation)
	}

	for id, l := range s.Locations {
		if l.DangerLevel != "" && !l.DangerLevel.IsValid() {
			fail("location %q: danger_level %q is invalid", id, l.DangerLevel)
		}
		for dir, target := range l.Exits {
			if _, ok := s.Locations[target]; !ok {
				fail("location %q: exit %q targets unknown location %q", id, dir, target)
			}
		}
		for alias, dir := range l.DirectionAliases {
			if _, ok := l.Exits[dir]; !ok {
				fail("location %q: alias %q maps to %q which is not an exit", id, alias, dir)
			}
		}
		for dir, cond := range l.ExitConditions {
			if _, ok := l.Exits[dir]; !ok {
				fail("location %q: exit_condition on %q which is not an exit", id, dir)
			}
			if cond.Kind == CondHasItem && s.Items[cond.Item] == nil {
				fail("location %q: exit_condition on %q requires unknown item %q", id, dir, cond.Item)
			}
		}
		for _, itemID := range l.Items {
			if s.Items[itemID] == nil {
				fail("location %q: references unknown item %q", id, itemID)
			}
		}
		for _, npcID := range l.NPCs {
			if s.NPCs[npcID] == nil {
				fail("location %q: references unknown npc %q", id, npcID)
			}
		}
		for _, enc := range l.Encounters {
			if enc.Chance < 0 || enc.Chance > 1 {
				fail("location %q: encounter chance %v out of [0,1]", id, enc.Chance)
			}
			for _, et := range enc.Enemies {
				if s.Enemies[et] == nil {
					fail("location %q: encounter references unknown enemy type %q", id, et)
				}
			}
		}
		for _, ev := range l.Events {
			if ev.Trigger != TriggerOnEnter && ev.Trigger != TriggerOnFirstVisit {
				fail("location %q: event %q has invalid trigger %q", id, ev.ID, ev.Trigger)
			}
			for _, itemID := range ev.GiveItems {
				if s.Items[itemID] == nil {
					fail("location %q: event %q gives unknown item %q", id, ev.ID, itemID)
				}
			}
		}
	}

	for id, n := range s.NPCs {
		if !n.Role.IsValid() {
			fail("npc %q: role %q is invalid", id, n.Role)
		}
		if n.LocationID != "" && s.Locations[n.LocationID] == nil {
			fail("npc %q: placed at unknown location %q", id, n.LocationID)
		}
		if n.Shop != nil {
			if n.Shop.Markup < 1 {
				fail("npc %q: shop markup %v must be ≥ 1", id, n.Shop.Markup)
			}
			for itemID := range n.Shop.Inventory {
				if s.Items[itemID] == nil {
					fail("npc %q: shop stocks unknown item %q", id, itemID)
				}
			}
		}
		if n.Traveling != nil {
			if n.Traveling.SpawnChance < 0 || n.Traveling.SpawnChance > 1 {
				fail("npc %q: spawn_chance %v out of [0,1]", id, n.Traveling.SpawnChance)
			}
			for _, loc := range n.Traveling.PossibleLocations {
				if s.Locations[loc] == nil {
					fail("npc %q: traveling location %q does not exist", id, loc)
				}
			}
			poolSeen := make(map[string]bool, len(n.Traveling.InventoryPool))
			for _, itemID := range n.Traveling.InventoryPool {
				if s.Items[itemID] == nil {
					fail("npc %q: inventory pool has unknown item %q", id, itemID)
				}
				if poolSeen[itemID] {
					fail("npc %q: inventory pool lists %q more than once", id, itemID)
				}
				poolSeen[itemID] = true
			}
		}
	}

	for id, it := range s.Items {
		if !it.Type.IsValid() {
			fail("item %q: type %q is invalid", id, it.Type)
		}
		if it.Value < 0 {
			fail("item %q: value must be ≥ 0", id)
		}
	}

	for id, q := range s.Quests {
		if len(q.Objectives) == 0 {
			fail("quest %q: must have at least one objective", id)
		}
		for _, obj := range q.Objectives {
			if !obj.Kind.IsValid() {
				fail("quest %q: objective %q has invalid kind %q", id, obj.ID, obj.Kind)
			}
			if obj.Required < 1 {
				fail("quest %q: objective %q required count must be ≥ 1", id, obj.ID)
			}
		}
		if q.GiverNPC != "" && s.NPCs[q.GiverNPC] == nil {
			fail("quest %q: giver %q does not exist", id, q.GiverNPC)
		}
		for _, pre := range q.Prerequisites {
			if s.Quests[pre] == nil {
				fail("quest %q: prerequisite %q does not exist", id, pre)
			}
		}
		for _, itemID := range q.Rewards.Items {
			if s.Items[itemID] == nil {
				fail("quest %q: reward item %q does not exist", id, itemID)
			}
		}
	}

	for id, e := range s.Enemies {
		if e.HP < 1 {
			fail("enemy %q: hp must be ≥ 1", id)
		}
		for _, le := range e.Loot {
			if s.Items[le.Item] == nil {
				fail("enemy %q: loot references unknown item %q", id, le.Item)
			}
		}
	}

	for id, c := range s.Choices {
		if c.LocationID != "" && s.Locations[c.LocationID] == nil {
			fail("choice %q: gated to unknown location %q", id, c.LocationID)
		}
		if len(c.Options) == 0 {
			fail("choice %q: must have at least one option", id)
		}
		for _, opt := range c.Options {
			if opt.CompleteQuest != "" && s.Quests[opt.CompleteQuest] == nil {
				fail("choice %q: option %q completes unknown quest %q", id, opt.ID, opt.CompleteQuest)
			}
			if opt.FailQuest != "" && s.Quests[opt.FailQuest] == nil {
				fail("choice %q: option %q fails unknown quest %q", id, opt.ID, opt.FailQuest)
			}
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("content: scenario %q: %w", s.ID, errors.Join(errs...))
	}
	return nil
}
