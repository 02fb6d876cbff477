// Package shop defines the power-up catalogue purchasable with tokens.
package shop

import (
	"errors"

	"crypto-clash-bot/internal/model"
)

// ItemType identifies a purchasable power-up.
type ItemType string

const (
	ItemWhale      ItemType = "whale"       // 3x token multiplier for one prediction
	ItemShield     ItemType = "shield"      // preserves the streak on one loss
	ItemDoubleXP   ItemType = "double_xp"   // doubles win XP, 5 charges
	ItemLuckyCharm ItemType = "lucky_charm" // collectible, reserved for future draws
)

// ErrUnknownItem is returned for item types outside the catalogue.
var ErrUnknownItem = errors.New("unknown shop item")

// ItemConfig holds the configuration for a shop item.
type ItemConfig struct {
	Type        ItemType
	Name        string
	Emoji       string
	Price       int64
	Charges     int // inventory units granted per purchase
	Description string
}

// Items contains the full catalogue. Extensible: add new entries here
// and a matching grant in Apply.
var Items = map[ItemType]ItemConfig{
	ItemWhale: {
		Type:        ItemWhale,
		Name:        "Whale Power-Up",
		Emoji:       "🐋",
		Price:       500,
		Charges:     1,
		Description: "Triple the token payout of one prediction",
	},
	ItemShield: {
		Type:        ItemShield,
		Name:        "Streak Shield",
		Emoji:       "🛡️",
		Price:       300,
		Charges:     1,
		Description: "Keep your streak the next time you lose",
	},
	ItemDoubleXP: {
		Type:        ItemDoubleXP,
		Name:        "Double XP",
		Emoji:       "⚡",
		Price:       400,
		Charges:     5,
		Description: "Double XP on your next 5 wins",
	},
	ItemLuckyCharm: {
		Type:        ItemLuckyCharm,
		Name:        "Lucky Charm",
		Emoji:       "🍀",
		Price:       250,
		Charges:     1,
		Description: "A collectible charm for the superstitious",
	},
}

// Order returns catalogue entries in display order.
func Order() []ItemConfig {
	return []ItemConfig{
		Items[ItemWhale],
		Items[ItemShield],
		Items[ItemDoubleXP],
		Items[ItemLuckyCharm],
	}
}

// Get returns the catalogue entry for the item type.
func Get(item ItemType) (ItemConfig, error) {
	cfg, ok := Items[item]
	if !ok {
		return ItemConfig{}, ErrUnknownItem
	}
	return cfg, nil
}

// Apply grants the purchased item's charges to the player. The caller
// is responsible for having already debited the price.
func Apply(p *model.Player, item ItemType) error {
	cfg, err := Get(item)
	if err != nil {
		return err
	}
	switch item {
	case ItemWhale:
		p.WhalePowerups += cfg.Charges
	case ItemShield:
		p.StreakShields += cfg.Charges
	case ItemDoubleXP:
		p.DoubleXPRemaining += cfg.Charges
	case ItemLuckyCharm:
		p.LuckyCharms += cfg.Charges
	}
	return nil
}

// Count returns how many charges of the item the player holds.
func Count(p *model.Player, item ItemType) int {
	switch item {
	case ItemWhale:
		return p.WhalePowerups
	case ItemShield:
		return p.StreakShields
	case ItemDoubleXP:
		return p.DoubleXPRemaining
	case ItemLuckyCharm:
		return p.LuckyCharms
	default:
		return 0
	}
}
