package shop_test

import (
	"errors"
	"testing"

	"github.com/dmforge/dmforge/internal/character"
	"github.com/dmforge/dmforge/internal/content"
	"github.com/dmforge/dmforge/internal/dice"
	"github.com/dmforge/dmforge/internal/npc"
	"github.com/dmforge/dmforge/internal/shop"
)

func testScenario() *content.Scenario {
	return &content.Scenario{
		ID: "test",
		Items: map[string]*content.Item{
			"shortsword": {ID: "shortsword", Name: "Shortsword", Type: content.ItemWeapon, Value: 10, DamageDice: "1d6"},
			"potion":     {ID: "potion", Name: "Potion", Type: content.ItemConsumable, Value: 25, Stackable: true},
			"pebble":     {ID: "pebble", Name: "Pebble", Type: content.ItemMisc, Value: 0, Stackable: true},
		},
		NPCs: map[string]*content.NPC{
			"gavin": {
				ID: "gavin", Name: "Gavin", Role: content.RoleMerchant,
				BaseDisposition: 15,
				Shop: &content.ShopDef{
					Markup:    1.15,
					Inventory: map[string]int{"shortsword": 3, "potion": -1},
				},
			},
			"grump": {
				ID: "grump", Name: "Grump", Role: content.RoleMerchant,
				BaseDisposition: -80,
				Shop:            &content.ShopDef{Markup: 1.0, Inventory: map[string]int{"potion": 5}},
			},
			"bram": {ID: "bram", Name: "Bram", Role: content.RoleQuestGiver},
		},
	}
}

func testChar(t *testing.T, gold int) *character.Character {
	t.Helper()
	c, err := character.New("Tester", "fighter", "human", dice.NewRoller(11), &content.Scenario{Items: map[string]*content.Item{}})
	if err != nil {
		t.Fatalf("character.New: %v", err)
	}
	c.Gold = gold
	return c
}

func newShop(scen *content.Scenario) (*shop.Shop, *npc.Manager) {
	npcs := npc.NewManager(scen)
	return shop.New(scen, npcs), npcs
}

func TestBuyPriceUsesDispositionBand(t *testing.T) {
	t.Parallel()

	scen := testScenario()
	s, _ := newShop(scen)

	// 10 * 1.15 markup * 0.9 friendly = 10.35, floored to 10.
	price, err := s.BuyPrice("gavin", scen.Item("shortsword"))
	if err != nil {
		t.Fatalf("BuyPrice error: %v", err)
	}
	if price != 10 {
		t.Errorf("friendly price = %d, want 10", price)
	}

	if _, err := s.BuyPrice("grump", scen.Item("potion")); !errors.Is(err, shop.ErrHostileMerchant) {
		t.Errorf("hostile merchant error = %v, want ErrHostileMerchant", err)
	}
	if _, err := s.BuyPrice("bram", scen.Item("potion")); !errors.Is(err, npc.ErrNotMerchant) {
		t.Errorf("non-merchant error = %v, want ErrNotMerchant", err)
	}
}

func TestBuyQuantityCap(t *testing.T) {
	t.Parallel()

	scen := testScenario()
	s, _ := newShop(scen)
	c := testChar(t, 100_000)

	for _, qty := range []int{0, -1, 100, 1000} {
		if _, err := s.Buy("gavin", "potion", qty, c); !errors.Is(err, shop.ErrInvalidQuantity) {
			t.Errorf("Buy qty=%d error = %v, want ErrInvalidQuantity", qty, err)
		}
	}
	if c.ItemCount("potion") != 0 {
		t.Error("rejected buy changed inventory")
	}
}

func TestBuyAtomicity(t *testing.T) {
	t.Parallel()

	scen := testScenario()
	s, npcs := newShop(scen)

	// Not enough gold: nothing moves.
	poor := testChar(t, 5)
	if _, err := s.Buy("gavin", "shortsword", 1, poor); !errors.Is(err, shop.ErrInsufficientGold) {
		t.Fatalf("poor buy error = %v, want ErrInsufficientGold", err)
	}
	if poor.Gold != 5 || poor.ItemCount("shortsword") != 0 {
		t.Fatal("failed buy mutated character")
	}
	st, _ := npcs.Stock("gavin")
	if st["shortsword"] != 3 {
		t.Fatalf("failed buy mutated stock: %d", st["shortsword"])
	}

	// Not enough stock.
	rich := testChar(t, 10_000)
	if _, err := s.Buy("gavin", "shortsword", 4, rich); !errors.Is(err, npc.ErrInsufficientStock) {
		t.Fatalf("overstock buy error = %v, want ErrInsufficientStock", err)
	}

	tx, err := s.Buy("gavin", "shortsword", 2, rich)
	if err != nil {
		t.Fatalf("Buy error: %v", err)
	}
	if tx.UnitPrice != 10 || tx.Total != 20 {
		t.Errorf("tx = %+v, want unit 10 total 20", tx)
	}
	if rich.Gold != 10_000-20 {
		t.Errorf("gold = %d, want %d", rich.Gold, 10_000-20)
	}
	if rich.ItemCount("shortsword") != 2 {
		t.Errorf("inventory count = %d, want 2", rich.ItemCount("shortsword"))
	}
	st, _ = npcs.Stock("gavin")
	if st["shortsword"] != 1 {
		t.Errorf("stock = %d, want 1", st["shortsword"])
	}
	if npcs.Disposition("gavin") != 16 {
		t.Errorf("disposition = %d, want 16 after trade", npcs.Disposition("gavin"))
	}
}

func TestSell(t *testing.T) {
	t.Parallel()

	scen := testScenario()
	s, _ := newShop(scen)
	c := testChar(t, 0)

	if _, err := s.Sell("gavin", "potion", 1, c); !errors.Is(err, shop.ErrNotOwned) {
		t.Fatalf("sell unowned error = %v, want ErrNotOwned", err)
	}

	c.AddItem(scen.Item("potion"), 2)
	tx, err := s.Sell("gavin", "potion", 2, c)
	if err != nil {
		t.Fatalf("Sell error: %v", err)
	}
	// 25 * 0.5 * 0.9 = 11.25, floored to 11.
	if tx.UnitPrice != 11 || tx.Total != 22 {
		t.Errorf("tx = %+v, want unit 11 total 22", tx)
	}
	if c.Gold != 22 || c.ItemCount("potion") != 0 {
		t.Errorf("post-sell character: gold=%d potions=%d", c.Gold, c.ItemCount("potion"))
	}
}

func TestHaggle(t *testing.T) {
	t.Parallel()

	scen := testScenario()
	s, npcs := newShop(scen)
	c := testChar(t, 100)
	roller := dice.NewRoller(21)

	before := npcs.Disposition("gavin")
	res, err := s.Haggle("gavin", c, roller)
	if err != nil {
		t.Fatalf("Haggle error: %v", err)
	}

	price, err := s.BuyPrice("gavin", scen.Item("shortsword"))
	if err != nil {
		t.Fatal(err)
	}
	dispMod, _ := npcs.PriceModifier("gavin")
	want := int(10 * 1.15 * dispMod * res.Factor)
	if want < 1 {
		want = 1
	}

	if res.Success {
		if res.Factor != 0.8 {
			t.Errorf("success factor = %v, want 0.8", res.Factor)
		}
		if npcs.Disposition("gavin") != before+2 {
			t.Errorf("disposition = %d, want %d", npcs.Disposition("gavin"), before+2)
		}
	} else {
		if res.Factor != 1.10 {
			t.Errorf("failure factor = %v, want 1.10", res.Factor)
		}
		if npcs.Disposition("gavin") != before-5 {
			t.Errorf("disposition = %d, want %d", npcs.Disposition("gavin"), before-5)
		}
	}
	if price != want {
		t.Errorf("post-haggle price = %d, want %d", price, want)
	}

	if _, err := s.Haggle("gavin", c, roller); !errors.Is(err, shop.ErrAlreadyHaggled) {
		t.Fatalf("second haggle error = %v, want ErrAlreadyHaggled", err)
	}

	// A new visit clears both the factor and the attempt.
	s.ResetVisit()
	price, _ = s.BuyPrice("gavin", scen.Item("shortsword"))
	dispMod, _ = npcs.PriceModifier("gavin")
	want = int(10 * 1.15 * dispMod)
	if want < 1 {
		want = 1
	}
	if price != want {
		t.Errorf("post-reset price = %d, want %d", price, want)
	}
	if _, err := s.Haggle("gavin", c, roller); err != nil {
		t.Errorf("haggle after reset error: %v", err)
	}
}

func TestMinimumPrice(t *testing.T) {
	t.Parallel()

	scen := testScenario()
	s, _ := newShop(scen)

	price, err := s.BuyPrice("gavin", scen.Item("pebble"))
	if err != nil {
		t.Fatal(err)
	}
	if price != 1 {
		t.Errorf("zero-value item buy price = %d, want floor of 1", price)
	}
}
