package handler

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"
	tele "gopkg.in/telebot.v3"

	"crypto-clash-bot/internal/service"
	"crypto-clash-bot/internal/shop"
)

// ShopHandler handles the power-up shop commands and buttons.
type ShopHandler struct {
	players *service.PlayerLedger
}

// NewShopHandler creates a new ShopHandler.
func NewShopHandler(players *service.PlayerLedger) *ShopHandler {
	return &ShopHandler{players: players}
}

// HandleShop handles /shop: the item panel.
func (h *ShopHandler) HandleShop(c tele.Context) error {
	ctx := context.Background()
	sender := c.Sender()
	if sender == nil {
		return nil
	}

	p, err := h.players.GetOrCreate(ctx, sender.ID, storedName(sender))
	if err != nil {
		log.Error().Err(err).Int64("user_id", sender.ID).Msg("Failed to load player for shop")
		return c.Reply("❌ Something went wrong, try again later!")
	}
	return c.Reply(shop.FormatShopMessage(p.Tokens), shop.BuildShopPanel())
}

// HandleBag handles /bag: the power-up inventory.
func (h *ShopHandler) HandleBag(c tele.Context) error {
	ctx := context.Background()
	sender := c.Sender()
	if sender == nil {
		return nil
	}

	p, err := h.players.GetOrCreate(ctx, sender.ID, storedName(sender))
	if err != nil {
		log.Error().Err(err).Int64("user_id", sender.ID).Msg("Failed to load player for bag")
		return c.Reply("❌ Something went wrong, try again later!")
	}
	return c.Reply(shop.FormatInventoryMessage(p))
}

// HandleShopCallback handles shop button callbacks.
func (h *ShopHandler) HandleShopCallback(c tele.Context) error {
	ctx := context.Background()
	callback := c.Callback()
	sender := c.Sender()
	if callback == nil || sender == nil {
		return nil
	}

	data := strings.TrimPrefix(callback.Data, "\f")

	// Back to the panel.
	if data == shop.CallbackShopCancel {
		p, err := h.players.Snapshot(ctx, sender.ID)
		if err != nil {
			return c.Respond(&tele.CallbackResponse{Text: "❌ Something went wrong!"})
		}
		return c.Edit(shop.FormatShopMessage(p.Tokens), shop.BuildShopPanel())
	}

	// Item detail with confirm buttons.
	if strings.HasPrefix(data, shop.CallbackShopItem) {
		itemType := shop.ItemType(strings.TrimPrefix(data, shop.CallbackShopItem))
		item, err := shop.Get(itemType)
		if err != nil {
			return c.Respond(&tele.CallbackResponse{Text: "❌ Unknown item!"})
		}
		p, err := h.players.Snapshot(ctx, sender.ID)
		if err != nil {
			return c.Respond(&tele.CallbackResponse{Text: "❌ Something went wrong!"})
		}
		return c.Edit(shop.FormatItemDetail(item, p.Tokens), shop.BuildConfirmPanel(itemType))
	}

	// Purchase.
	if strings.HasPrefix(data, shop.CallbackShopBuy) {
		itemType := shop.ItemType(strings.TrimPrefix(data, shop.CallbackShopBuy))
		item, err := shop.Get(itemType)
		if err != nil {
			return c.Respond(&tele.CallbackResponse{Text: "❌ Unknown item!"})
		}

		p, err := h.players.PurchaseItem(ctx, sender.ID, itemType)
		switch {
		case errors.Is(err, service.ErrInsufficientTokens):
			return c.Respond(&tele.CallbackResponse{Text: "❌ Not enough Shard Tokens!", ShowAlert: true})
		case err != nil:
			log.Error().Err(err).Int64("user_id", sender.ID).Str("item", string(itemType)).Msg("Purchase failed")
			return c.Respond(&tele.CallbackResponse{Text: "❌ Purchase failed, try again!"})
		}

		log.Info().
			Int64("user_id", sender.ID).
			Str("item", string(itemType)).
			Int64("balance", p.Tokens).
			Msg("Item purchased")

		msg := fmt.Sprintf("✅ Purchased %s %s!\n\n💎 Balance: %d Shard Tokens\n\nUse /bag to see your power-ups.",
			item.Emoji, item.Name, p.Tokens)
		if err := c.Edit(msg); err != nil {
			log.Debug().Err(err).Msg("Failed to edit shop message")
		}
		return c.Respond(&tele.CallbackResponse{Text: fmt.Sprintf("%s %s acquired!", item.Emoji, item.Name)})
	}

	return nil
}
