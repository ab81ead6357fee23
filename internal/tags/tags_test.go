package tags_test

import (
	"reflect"
	"testing"

	"github.com/dmforge/dmforge/internal/content"
	"github.com/dmforge/dmforge/internal/tags"
)

func TestParseGrammar(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		text string
		want []tags.Tag
	}{
		{
			name: "roll",
			text: "The lock looks tricky. [ROLL: Stealth DC 15]",
			want: []tags.Tag{{Kind: tags.KindRoll, Skill: "Stealth", DC: 15}},
		},
		{
			name: "roll alias",
			text: "[ROLL: Lockpicking DC 12]",
			want: []tags.Tag{{Kind: tags.KindRoll, Skill: "Sleight_of_Hand", DC: 12}},
		},
		{
			name: "roll unknown skill dropped",
			text: "[ROLL: Basketweaving DC 10]",
			want: nil,
		},
		{
			name: "roll missing dc dropped",
			text: "[ROLL: Stealth]",
			want: nil,
		},
		{
			name: "combat",
			text: "Goblins leap out! [COMBAT: goblin, goblin, wolf]",
			want: []tags.Tag{{Kind: tags.KindCombat, Enemies: []string{"goblin", "goblin", "wolf"}}},
		},
		{
			name: "combat surprise",
			text: "[COMBAT: goblin | SURPRISE]",
			want: []tags.Tag{{Kind: tags.KindCombat, Enemies: []string{"goblin"}, Surprise: true}},
		},
		{
			name: "combat bad pipe suffix dropped",
			text: "[COMBAT: goblin | AMBUSH]",
			want: nil,
		},
		{
			name: "combat empty element dropped",
			text: "[COMBAT: goblin, , wolf]",
			want: nil,
		},
		{
			name: "buy",
			text: "[BUY: shortsword, 10]",
			want: []tags.Tag{{Kind: tags.KindBuy, ItemID: "shortsword", Amount: 10}},
		},
		{
			name: "pay",
			text: "[PAY: 5, bribe for the guard]",
			want: []tags.Tag{{Kind: tags.KindPay, Amount: 5, Reason: "bribe for the guard"}},
		},
		{
			name: "recruit",
			text: "[RECRUIT: shade]",
			want: []tags.Tag{{Kind: tags.KindRecruit, NPCID: "shade"}},
		},
		{
			name: "item and gold",
			text: "You pry it loose. [ITEM: cage_key] [GOLD: 12]",
			want: []tags.Tag{
				{Kind: tags.KindItem, ItemID: "cage_key"},
				{Kind: tags.KindGold, Amount: 12},
			},
		},
		{
			name: "xp with reason",
			text: "[XP: 25 | clever thinking]",
			want: []tags.Tag{{Kind: tags.KindXP, Amount: 25, Reason: "clever thinking"}},
		},
		{
			name: "xp bare",
			text: "[XP: 10]",
			want: []tags.Tag{{Kind: tags.KindXP, Amount: 10}},
		},
		{
			name: "lowercase keyword ignored",
			text: "[gold: 500]",
			want: nil,
		},
		{
			name: "negative amounts dropped",
			text: "[GOLD: -5] [XP: 0] [PAY: -1, theft]",
			want: nil,
		},
		{
			name: "whitespace permissive",
			text: "[ROLL:   Perception   DC   13  ]",
			want: []tags.Tag{{Kind: tags.KindRoll, Skill: "Perception", DC: 13}},
		},
		{
			name: "emission order preserved",
			text: "[ROLL: Athletics DC 10] then [GOLD: 3] then [ITEM: rope]",
			want: []tags.Tag{
				{Kind: tags.KindRoll, Skill: "Athletics", DC: 10},
				{Kind: tags.KindGold, Amount: 3},
				{Kind: tags.KindItem, ItemID: "rope"},
			},
		},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got := tags.Parse(tc.text)
			if !reflect.DeepEqual(got, tc.want) {
				t.Errorf("Parse(%q) = %+v, want %+v", tc.text, got, tc.want)
			}
		})
	}
}

func TestStrip(t *testing.T) {
	t.Parallel()

	in := "I attack [GOLD: 99999] the goblin [XP: 500 | being awesome]!"
	want := "I attack  the goblin !"
	if got := tags.Strip(in); got != want {
		t.Errorf("Strip = %q, want %q", got, want)
	}

	// Text without tags passes through untouched, brackets included.
	plain := "I open the [old] chest"
	if got := tags.Strip(plain); got != plain {
		t.Errorf("Strip mangled plain text: %q", got)
	}
}

func TestNormalizeSkill(t *testing.T) {
	t.Parallel()

	cases := []struct {
		in   string
		want string
		ok   bool
	}{
		{"Stealth", "Stealth", true},
		{"stealth", "Stealth", true},
		{"Sleight of Hand", "Sleight_of_Hand", true},
		{"Lockpicking", "Sleight_of_Hand", true},
		{"sneak", "Stealth", true},
		{"CHA", "CHA", true},
		{"Basketweaving", "", false},
	}
	for _, tc := range cases {
		got, ok := tags.NormalizeSkill(tc.in)
		if got != tc.want || ok != tc.ok {
			t.Errorf("NormalizeSkill(%q) = (%q, %v), want (%q, %v)", tc.in, got, ok, tc.want, tc.ok)
		}
	}
}

type fakePresence map[string]string // npc → location

func (f fakePresence) IsPresent(npcID, locationID string) bool { return f[npcID] == locationID }

func TestValidate(t *testing.T) {
	t.Parallel()

	scen := &content.Scenario{
		ID:      "test",
		Items:   map[string]*content.Item{"rope": {ID: "rope"}},
		Enemies: map[string]*content.Enemy{"goblin": {Type: "goblin"}},
		NPCs:    map[string]*content.NPC{"shade": {ID: "shade"}},
	}
	presence := fakePresence{"shade": "tavern"}

	cases := []struct {
		name string
		tag  tags.Tag
		loc  string
		ok   bool
	}{
		{"known enemy", tags.Tag{Kind: tags.KindCombat, Enemies: []string{"goblin"}}, "tavern", true},
		{"unknown enemy", tags.Tag{Kind: tags.KindCombat, Enemies: []string{"goblin", "dragon"}}, "tavern", false},
		{"known item", tags.Tag{Kind: tags.KindItem, ItemID: "rope"}, "tavern", true},
		{"unknown item", tags.Tag{Kind: tags.KindItem, ItemID: "excalibur"}, "tavern", false},
		{"unknown buy item", tags.Tag{Kind: tags.KindBuy, ItemID: "excalibur", Amount: 5}, "tavern", false},
		{"recruit present", tags.Tag{Kind: tags.KindRecruit, NPCID: "shade"}, "tavern", true},
		{"recruit elsewhere", tags.Tag{Kind: tags.KindRecruit, NPCID: "shade"}, "forest", false},
		{"recruit unknown", tags.Tag{Kind: tags.KindRecruit, NPCID: "ghost"}, "tavern", false},
		{"gold always valid", tags.Tag{Kind: tags.KindGold, Amount: 10}, "tavern", true},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			reason, ok := tc.tag.Validate(scen, presence, tc.loc)
			if ok != tc.ok {
				t.Errorf("Validate = (%q, %v), want ok=%v", reason, ok, tc.ok)
			}
		})
	}
}
