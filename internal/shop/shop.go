// Package shop implements the merchant economy: authoritative price
// calculation, quantity-bounded transactions, and haggling.
//
// Prices are always computed server-side; a DM-stated price in a [BUY:] tag
// is advisory only. Buy price = base value × merchant markup × disposition
// modifier × haggle factor, floored to an integer (minimum 1). Sell price =
// base value × 0.5 × disposition modifier.
package shop

import (
	"errors"
	"fmt"

	"github.com/dmforge/dmforge/internal/character"
	"github.com/dmforge/dmforge/internal/content"
	"github.com/dmforge/dmforge/internal/dice"
	"github.com/dmforge/dmforge/internal/npc"
)

var (
	ErrInvalidQuantity  = errors.New("shop: quantity must be an integer in [1, 99]")
	ErrHostileMerchant  = errors.New("shop: merchant refuses to trade")
	ErrInsufficientGold = errors.New("shop: insufficient gold")
	ErrItemNotFound     = errors.New("shop: unknown item")
	ErrNotOwned         = errors.New("shop: item not in inventory")
	ErrAlreadyHaggled   = errors.New("shop: already haggled with this merchant")
)

// MaxQuantity is the hard cap on a single transaction.
const MaxQuantity = 99

// haggleDC is the Charisma check difficulty for haggling.
const haggleDC = 12

const (
	haggleDiscount = 0.8
	hagglePenalty  = 1.10
)

// Shop mediates trades between the character and the session's merchants.
// Haggle outcomes are per-visit: ResetVisit clears them on location change.
type Shop struct {
	scen *content.Scenario
	npcs *npc.Manager

	haggleFactor map[string]float64
	haggleTried  map[string]bool
}

// New creates the shop subsystem for one session.
func New(scen *content.Scenario, npcs *npc.Manager) *Shop {
	return &Shop{
		scen:         scen,
		npcs:         npcs,
		haggleFactor: make(map[string]float64),
		haggleTried:  make(map[string]bool),
	}
}

// BuyPrice returns the authoritative unit price of an item at a merchant.
func (s *Shop) BuyPrice(merchantID string, item *content.Item) (int, error) {
	merchant := s.scen.NPC(merchantID)
	if merchant == nil || merchant.Shop == nil {
		return 0, fmt.Errorf("%w: %q", npc.ErrNotMerchant, merchantID)
	}
	dispMod, ok := s.npcs.PriceModifier(merchantID)
	if !ok {
		return 0, fmt.Errorf("%w: %q", ErrHostileMerchant, merchantID)
	}
	factor := s.haggleFactor[merchantID]
	if factor == 0 {
		factor = 1.0
	}
	price := int(float64(item.Value) * merchant.Shop.Markup * dispMod * factor)
	if price < 1 {
		price = 1
	}
	return price, nil
}

// SellPrice returns what a merchant pays for one copy of an item.
func (s *Shop) SellPrice(merchantID string, item *content.Item) (int, error) {
	merchant := s.scen.NPC(merchantID)
	if merchant == nil || merchant.Shop == nil {
		return 0, fmt.Errorf("%w: %q", npc.ErrNotMerchant, merchantID)
	}
	dispMod, ok := s.npcs.PriceModifier(merchantID)
	if !ok {
		return 0, fmt.Errorf("%w: %q", ErrHostileMerchant, merchantID)
	}
	price := int(float64(item.Value) * 0.5 * dispMod)
	if price < 0 {
		price = 0
	}
	return price, nil
}

// Transaction describes a completed buy or sell.
type Transaction struct {
	ItemID    string `json:"item_id"`
	Quantity  int    `json:"quantity"`
	UnitPrice int    `json:"unit_price"`
	Total     int    `json:"total"`
	Gold      int    `json:"gold"`
}

// Buy purchases qty copies of an item. Gold, stock, and inventory all change
// together or not at all.
func (s *Shop) Buy(merchantID, itemID string, qty int, c *character.Character) (*Transaction, error) {
	if qty < 1 || qty > MaxQuantity {
		return nil, fmt.Errorf("%w: %d", ErrInvalidQuantity, qty)
	}
	item := s.scen.Item(itemID)
	if item == nil {
		return nil, fmt.Errorf("%w: %q", ErrItemNotFound, itemID)
	}

	unit, err := s.BuyPrice(merchantID, item)
	if err != nil {
		return nil, err
	}
	total := unit * qty
	if c.Gold < total {
		return nil, fmt.Errorf("%w: need %d, have %d", ErrInsufficientGold, total, c.Gold)
	}

	// Stock check happens before gold moves so failure leaves no trace.
	if err := s.npcs.TakeStock(merchantID, itemID, qty); err != nil {
		return nil, err
	}
	if err := c.SpendGold(total); err != nil {
		s.npcs.AddStock(merchantID, itemID, qty)
		return nil, fmt.Errorf("%w: %v", ErrInsufficientGold, err)
	}
	c.AddItem(item, qty)
	s.npcs.ApplyAction(merchantID, npc.ActionTrade)

	return &Transaction{ItemID: itemID, Quantity: qty, UnitPrice: unit, Total: total, Gold: c.Gold}, nil
}

// Sell sells qty copies of an item back to a merchant.
func (s *Shop) Sell(merchantID, itemID string, qty int, c *character.Character) (*Transaction, error) {
	if qty < 1 || qty > MaxQuantity {
		return nil, fmt.Errorf("%w: %d", ErrInvalidQuantity, qty)
	}
	item := s.scen.Item(itemID)
	if item == nil {
		return nil, fmt.Errorf("%w: %q", ErrItemNotFound, itemID)
	}
	if c.ItemCount(itemID) < qty {
		return nil, fmt.Errorf("%w: %q", ErrNotOwned, itemID)
	}

	unit, err := s.SellPrice(merchantID, item)
	if err != nil {
		return nil, err
	}

	if err := c.RemoveItem(itemID, qty); err != nil {
		return nil, err
	}
	total := unit * qty
	c.AddGold(total)
	s.npcs.AddStock(merchantID, itemID, qty)
	s.npcs.ApplyAction(merchantID, npc.ActionTrade)

	return &Transaction{ItemID: itemID, Quantity: qty, UnitPrice: unit, Total: total, Gold: c.Gold}, nil
}

// HaggleResult describes one haggle attempt.
type HaggleResult struct {
	Roll        dice.D20Result `json:"roll"`
	DC          int            `json:"dc"`
	Success     bool           `json:"success"`
	Factor      float64        `json:"factor"`
	Disposition int            `json:"disposition"`
}

// Haggle attempts a Charisma check against DC 12. Success grants a 20%
// discount on this merchant for the rest of the visit and +2 disposition;
// failure imposes a 10% markup and −5. One attempt per merchant per visit.
func (s *Shop) Haggle(merchantID string, c *character.Character, roller *dice.Roller) (*HaggleResult, error) {
	merchant := s.scen.NPC(merchantID)
	if merchant == nil || merchant.Shop == nil {
		return nil, fmt.Errorf("%w: %q", npc.ErrNotMerchant, merchantID)
	}
	if !s.npcs.CanTrade(merchantID) {
		return nil, fmt.Errorf("%w: %q", ErrHostileMerchant, merchantID)
	}
	if s.haggleTried[merchantID] {
		return nil, fmt.Errorf("%w: %q", ErrAlreadyHaggled, merchantID)
	}
	s.haggleTried[merchantID] = true

	roll := roller.RollD20(c.SkillModifier("CHA"), dice.Normal)
	success := !roll.Nat1 && (roll.Nat20 || roll.Total >= haggleDC)

	res := &HaggleResult{Roll: roll, DC: haggleDC, Success: success}
	if success {
		s.haggleFactor[merchantID] = haggleDiscount
		res.Factor = haggleDiscount
		res.Disposition = s.npcs.ApplyAction(merchantID, npc.ActionHaggleSuccess)
	} else {
		s.haggleFactor[merchantID] = hagglePenalty
		res.Factor = hagglePenalty
		res.Disposition = s.npcs.ApplyAction(merchantID, npc.ActionHaggleFailure)
	}
	return res, nil
}

// ResetVisit clears haggle outcomes. Called when the player changes location.
func (s *Shop) ResetVisit() {
	s.haggleFactor = make(map[string]float64)
	s.haggleTried = make(map[string]bool)
}
