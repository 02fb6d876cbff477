// Package bot provides the Telegram bot initialization and handler registration.
package bot

import (
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	tele "gopkg.in/telebot.v3"

	"crypto-clash-bot/internal/config"
	"crypto-clash-bot/internal/game/prediction"
	"crypto-clash-bot/internal/handler"
	"crypto-clash-bot/internal/service"
)

// Bot wraps the telebot instance with application dependencies.
type Bot struct {
	bot *tele.Bot
	cfg *config.Config

	predictHandler *handler.PredictHandler
	playerHandler  *handler.PlayerHandler
	shopHandler    *handler.ShopHandler
}

// Dependencies holds all the dependencies needed by the bot handlers.
type Dependencies struct {
	Config     *config.Config
	Players    *service.PlayerLedger
	Groups     *service.GroupLedger
	Challenges *service.ChallengeService
	Engine     *prediction.Engine

	// Notifier is bound to the telebot instance once it exists, so
	// scheduled resolutions reach the chat.
	Notifier *handler.Notifier
}

// New creates a new Bot instance with the given dependencies.
func New(deps *Dependencies) (*Bot, error) {
	if deps.Config.Bot.Token == "" {
		return nil, fmt.Errorf("bot token is required")
	}

	pref := tele.Settings{
		Token:  deps.Config.Bot.Token,
		Poller: &tele.LongPoller{Timeout: 10 * time.Second},
	}

	teleBot, err := tele.NewBot(pref)
	if err != nil {
		return nil, fmt.Errorf("failed to create bot: %w", err)
	}

	if deps.Notifier != nil {
		deps.Notifier.Bind(teleBot)
	}

	b := &Bot{
		bot: teleBot,
		cfg: deps.Config,
	}

	b.predictHandler = handler.NewPredictHandler(deps.Config, deps.Engine)
	b.playerHandler = handler.NewPlayerHandler(deps.Config, deps.Players, deps.Groups, deps.Challenges, deps.Engine)
	b.shopHandler = handler.NewShopHandler(deps.Players)

	b.registerMiddleware()
	b.registerHandlers()

	return b, nil
}

// registerMiddleware registers all middleware.
func (b *Bot) registerMiddleware() {
	b.bot.Use(WhitelistMiddleware(b.cfg))
	b.bot.Use(LoggingMiddleware())
	b.bot.Use(RecoveryMiddleware())
}

// registerHandlers registers all command and callback handlers.
func (b *Bot) registerHandlers() {
	// Player handlers
	b.bot.Handle("/start", b.playerHandler.HandleStart)
	b.bot.Handle("/stats", b.playerHandler.HandleStats)
	b.bot.Handle("/results", b.playerHandler.HandleResults)
	b.bot.Handle("/leaderboard", b.playerHandler.HandleLeaderboard)
	b.bot.Handle("/challenge", b.playerHandler.HandleChallenge)
	b.bot.Handle("/airdrop", b.playerHandler.HandleAirdrop)

	// Prediction handlers
	b.bot.Handle("/predict", b.predictHandler.HandlePredict)
	b.bot.Handle("/check", b.predictHandler.HandleCheck)

	// Shop handlers
	b.bot.Handle("/shop", b.shopHandler.HandleShop)
	b.bot.Handle("/bag", b.shopHandler.HandleBag)

	// Generic callback handler for prediction and shop buttons
	b.bot.Handle(tele.OnCallback, b.handleCallback)
}

// handleCallback routes callbacks to appropriate handlers
func (b *Bot) handleCallback(c tele.Context) error {
	callback := c.Callback()
	if callback == nil {
		return nil
	}

	data := callback.Data
	// Telebot v3 may add a \f prefix to callback data
	data = strings.TrimPrefix(data, "\f")
	log.Debug().Str("data", data).Msg("Callback received")

	if strings.HasPrefix(data, "predict_") {
		return b.predictHandler.HandlePredictCallback(c)
	}
	if strings.HasPrefix(data, "shop_") {
		return b.shopHandler.HandleShopCallback(c)
	}

	log.Debug().Str("data", data).Msg("Unroutable callback ignored")
	return nil
}

// Start starts the bot polling.
func (b *Bot) Start() {
	log.Info().Msg("Starting bot...")
	b.bot.Start()
}

// Stop stops the bot gracefully.
func (b *Bot) Stop() {
	log.Info().Msg("Stopping bot...")
	b.bot.Stop()
}

// GetBot returns the underlying telebot instance.
func (b *Bot) GetBot() *tele.Bot {
	return b.bot
}
