package handler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	tele "gopkg.in/telebot.v3"

	"crypto-clash-bot/internal/config"
	"crypto-clash-bot/internal/game/prediction"
	"crypto-clash-bot/internal/model"
	"crypto-clash-bot/internal/price"
	"crypto-clash-bot/internal/service"
)

// Callback data prefixes for prediction buttons.
const (
	CallbackPredictUp    = "predict_up:"    // predict_up:<prediction id>
	CallbackPredictDown  = "predict_down:"  // predict_down:<prediction id>
	CallbackPredictWhale = "predict_whale:" // predict_whale:<prediction id>
)

// PredictHandler handles the prediction game commands and buttons.
type PredictHandler struct {
	cfg    *config.Config
	engine *prediction.Engine
}

// NewPredictHandler creates a new PredictHandler.
func NewPredictHandler(cfg *config.Config, engine *prediction.Engine) *PredictHandler {
	return &PredictHandler{cfg: cfg, engine: engine}
}

// HandlePredict handles the /predict command: opens a fresh prediction
// and posts the direction keyboard.
func (h *PredictHandler) HandlePredict(c tele.Context) error {
	ctx := context.Background()
	sender := c.Sender()
	chat := c.Chat()
	if sender == nil || chat == nil {
		return nil
	}

	p, err := h.engine.Create(ctx, sender.ID, chat.ID, storedName(sender))
	if err != nil {
		var cooldown *prediction.CooldownError
		switch {
		case errors.As(err, &cooldown):
			secs := int((cooldown.Remaining + time.Second - 1) / time.Second)
			return c.Reply(fmt.Sprintf("⏰ Chill anon! %ds cooldown remaining (%s tier)", secs, h.cfg.Tier()))
		case errors.Is(err, prediction.ErrDuplicateActiveBet):
			return c.Reply("🎯 You already have a prediction running! Wait it out or use /check.")
		case errors.Is(err, price.ErrPriceUnavailable):
			return c.Reply("📡 The price oracle is rate limited right now. Try again in a minute! 🙏")
		default:
			log.Error().Err(err).Int64("user_id", sender.ID).Msg("Failed to create prediction")
			return c.Reply("❌ Something went wrong, try again later!")
		}
	}

	return c.Reply(h.renderOpen(p), h.buildKeyboard(p))
}

// renderOpen builds the message for a prediction awaiting a direction.
func (h *PredictHandler) renderOpen(p *model.Prediction) string {
	var sb strings.Builder
	sb.WriteString("🎯 CRYPTO CLASH PREDICTION 🎯\n\n")
	fmt.Fprintf(&sb, "📊 Asset: %s\n", p.Asset.Display())
	fmt.Fprintf(&sb, "💰 Current Price: %s\n", formatPrice(p.StartPrice, h.cfg.PriceDigits()))
	fmt.Fprintf(&sb, "⏰ Window: %d seconds\n", int(h.engine.Window().Seconds()))
	if p.FUDActive {
		// Deterministic per prediction so edits don't reshuffle it.
		event := fudEvents[int(p.CreatedAt.Unix())%len(fudEvents)]
		fmt.Fprintf(&sb, "\n%s\n⚠️ FUD EVENT! Required move raised to ±%s%%\n", event, p.RequiredMove.String())
	}
	if p.MultiplierActive {
		sb.WriteString("\n🐋 WHALE MODE ACTIVE! Winnings x3\n")
	}
	fmt.Fprintf(&sb, "\nWill %s pump or dump? Lock it in, anon! 🧠", p.Asset.Display())
	return sb.String()
}

// buildKeyboard creates the direction buttons, plus the whale button
// while the multiplier is still available.
func (h *PredictHandler) buildKeyboard(p *model.Prediction) *tele.ReplyMarkup {
	markup := &tele.ReplyMarkup{}
	move := p.RequiredMove.String()
	upBtn := markup.Data(fmt.Sprintf("📈 UP (+%s%%)", move), CallbackPredictUp+p.ID)
	downBtn := markup.Data(fmt.Sprintf("📉 DOWN (-%s%%)", move), CallbackPredictDown+p.ID)

	rows := []tele.Row{markup.Row(upBtn, downBtn)}
	if !p.MultiplierActive {
		whaleBtn := markup.Data("🐋 WHALE MODE (3x)", CallbackPredictWhale+p.ID)
		rows = append(rows, markup.Row(whaleBtn))
	}
	markup.Inline(rows...)
	return markup
}

// HandlePredictCallback routes the direction and whale buttons.
func (h *PredictHandler) HandlePredictCallback(c tele.Context) error {
	callback := c.Callback()
	sender := c.Sender()
	if callback == nil || sender == nil {
		return nil
	}

	data := strings.TrimPrefix(callback.Data, "\f")
	switch {
	case strings.HasPrefix(data, CallbackPredictUp):
		return h.lockDirection(c, strings.TrimPrefix(data, CallbackPredictUp), model.DirectionUp)
	case strings.HasPrefix(data, CallbackPredictDown):
		return h.lockDirection(c, strings.TrimPrefix(data, CallbackPredictDown), model.DirectionDown)
	case strings.HasPrefix(data, CallbackPredictWhale):
		return h.applyWhale(c, strings.TrimPrefix(data, CallbackPredictWhale))
	}
	return nil
}

func (h *PredictHandler) lockDirection(c tele.Context, id string, dir model.Direction) error {
	ctx := context.Background()
	p, err := h.engine.LockDirection(ctx, id, c.Sender().ID, dir)
	if err != nil {
		return h.respondError(c, err)
	}

	remaining := int(time.Until(p.ExpiresAt(h.engine.Window())).Seconds())
	if remaining < 0 {
		remaining = 0
	}

	var sb strings.Builder
	sb.WriteString("🔒 PREDICTION LOCKED 🔒\n\n")
	fmt.Fprintf(&sb, "📊 %s at %s\n", p.Asset.Display(), formatPrice(p.StartPrice, h.cfg.PriceDigits()))
	arrow := "📈 UP"
	if dir == model.DirectionDown {
		arrow = "📉 DOWN"
	}
	fmt.Fprintf(&sb, "%s by %s%%\n", arrow, p.RequiredMove.String())
	if p.MultiplierActive {
		sb.WriteString("🐋 Whale mode: ACTIVE (3x)\n")
	}
	fmt.Fprintf(&sb, "⏳ Results in ~%ds... HODL tight! 💎", remaining)

	if err := c.Edit(sb.String()); err != nil {
		log.Debug().Err(err).Str("prediction_id", id).Msg("Failed to edit prediction message")
	}
	return c.Respond(&tele.CallbackResponse{Text: "Locked in! 🚀"})
}

func (h *PredictHandler) applyWhale(c tele.Context, id string) error {
	ctx := context.Background()
	p, err := h.engine.ApplyMultiplier(ctx, id, c.Sender().ID)
	if err != nil {
		return h.respondError(c, err)
	}

	if err := c.Edit(h.renderOpen(p), h.buildKeyboard(p)); err != nil {
		log.Debug().Err(err).Str("prediction_id", id).Msg("Failed to edit prediction message")
	}
	return c.Respond(&tele.CallbackResponse{Text: "🐋 WHALE MODE! Winnings x3"})
}

// respondError maps engine errors to callback alerts.
func (h *PredictHandler) respondError(c tele.Context, err error) error {
	var text string
	switch {
	case errors.Is(err, prediction.ErrNotOwner):
		text = "This isn't your prediction, anon! Use /predict to start your own 🎯"
	case errors.Is(err, prediction.ErrAlreadyLocked):
		text = "Already locked! Whale mode and direction are frozen."
	case errors.Is(err, prediction.ErrAlreadyResolved):
		text = "This prediction is already settled! Use /results to see it."
	case errors.Is(err, prediction.ErrMultiplierActive):
		text = "Whale mode is already active! 🐋"
	case errors.Is(err, service.ErrNoPowerups):
		text = "No whale power-ups left! Grab one in /shop 🐋"
	case errors.Is(err, prediction.ErrUnknownPrediction):
		text = "That prediction is gone. Use /predict to start a new one!"
	default:
		log.Error().Err(err).Msg("Prediction callback failed")
		text = "❌ Something went wrong, try again!"
	}
	return c.Respond(&tele.CallbackResponse{Text: text, ShowAlert: true})
}

// HandleCheck handles /check: settle every overdue prediction of the
// caller, the manual fallback when the scheduler misses one.
func (h *PredictHandler) HandleCheck(c tele.Context) error {
	ctx := context.Background()
	sender := c.Sender()
	if sender == nil {
		return nil
	}

	results, err := h.engine.ResolveDue(ctx, sender.ID)
	if err != nil {
		log.Error().Err(err).Int64("user_id", sender.ID).Msg("Manual check failed")
		return c.Reply("❌ Couldn't check your predictions, try again later!")
	}
	if len(results) == 0 {
		return c.Reply("📊 No pending predictions to check. Use /results to see your history!")
	}

	for _, r := range results {
		if err := c.Send(renderResult(r, h.cfg.PriceDigits())); err != nil {
			log.Error().Err(err).Msg("Failed to send check result")
		}
	}
	return c.Reply(fmt.Sprintf("✅ Checked %d pending prediction(s)!", len(results)))
}
