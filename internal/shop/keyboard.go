package shop

import (
	"fmt"

	tele "gopkg.in/telebot.v3"

	"crypto-clash-bot/internal/model"
)

// Callback data prefixes for shop interactions.
const (
	CallbackShopItem   = "shop_item:" // shop_item:whale
	CallbackShopBuy    = "shop_buy:"  // shop_buy:whale
	CallbackShopCancel = "shop_cancel"
)

// BuildShopPanel creates the main shop panel with one button per item.
func BuildShopPanel() *tele.ReplyMarkup {
	markup := &tele.ReplyMarkup{}

	var rows []tele.Row
	var currentRow []tele.Btn
	items := Order()
	for i, item := range items {
		btn := markup.Data(
			fmt.Sprintf("%s %s (%d🪙)", item.Emoji, item.Name, item.Price),
			CallbackShopItem+string(item.Type),
		)
		currentRow = append(currentRow, btn)

		// 2 buttons per row
		if len(currentRow) == 2 || i == len(items)-1 {
			rows = append(rows, markup.Row(currentRow...))
			currentRow = nil
		}
	}

	markup.Inline(rows...)
	return markup
}

// BuildConfirmPanel creates the purchase confirmation panel.
func BuildConfirmPanel(itemType ItemType) *tele.ReplyMarkup {
	markup := &tele.ReplyMarkup{}

	buyBtn := markup.Data("✅ Buy", CallbackShopBuy+string(itemType))
	cancelBtn := markup.Data("❌ Cancel", CallbackShopCancel)

	markup.Inline(
		markup.Row(buyBtn, cancelBtn),
	)
	return markup
}

// FormatShopMessage creates the shop welcome message.
func FormatShopMessage(balance int64) string {
	msg := "🏪 SHARD TOKEN SHOP 🏪\n"
	msg += "━━━━━━━━━━━━━━━\n"
	msg += fmt.Sprintf("💎 Your balance: %d Shard Tokens\n", balance)
	msg += "━━━━━━━━━━━━━━━\n"
	msg += "Tap an item below for details:"
	return msg
}

// FormatItemDetail creates the item detail message.
func FormatItemDetail(item ItemConfig, balance int64) string {
	msg := fmt.Sprintf("%s %s\n", item.Emoji, item.Name)
	msg += "━━━━━━━━━━━━━━━\n"
	msg += fmt.Sprintf("💎 Price: %d Shard Tokens\n", item.Price)
	if item.Charges > 1 {
		msg += fmt.Sprintf("⚡ Charges: %d uses\n", item.Charges)
	} else {
		msg += "⚡ Charges: single use\n"
	}
	msg += fmt.Sprintf("📝 Effect: %s\n", item.Description)
	msg += "━━━━━━━━━━━━━━━\n"
	msg += fmt.Sprintf("💎 Your balance: %d Shard Tokens\n", balance)

	if balance < item.Price {
		msg += "❌ Not enough tokens!"
	} else {
		msg += "Confirm purchase?"
	}
	return msg
}

// FormatInventoryMessage creates the power-up inventory display.
func FormatInventoryMessage(p *model.Player) string {
	empty := true
	msg := "🎒 YOUR BAG 🎒\n"
	msg += "━━━━━━━━━━━━━━━\n"
	for _, item := range Order() {
		count := Count(p, item.Type)
		if count == 0 {
			continue
		}
		empty = false
		msg += fmt.Sprintf("%s %s x%d\n", item.Emoji, item.Name, count)
	}
	if empty {
		return "🎒 Your bag is empty!\n\nUse /shop to grab some power-ups before the next pump. 🛒"
	}
	msg += "━━━━━━━━━━━━━━━\n"
	msg += fmt.Sprintf("💎 Balance: %d Shard Tokens", p.Tokens)
	return msg
}
