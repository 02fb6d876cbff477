// Package main is the entry point for the Crypto Clash bot.
package main

import (
	"context"
	"math/rand"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"crypto-clash-bot/internal/bot"
	"crypto-clash-bot/internal/config"
	"crypto-clash-bot/internal/game/prediction"
	"crypto-clash-bot/internal/handler"
	"crypto-clash-bot/internal/pkg/db"
	"crypto-clash-bot/internal/price"
	"crypto-clash-bot/internal/repository"
	"crypto-clash-bot/internal/scheduler"
	"crypto-clash-bot/internal/service"
)

func main() {
	// Configure zerolog
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})

	// Load configuration
	cfg, err := config.Load("config")
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}

	log.Info().
		Str("tier", string(cfg.Tier())).
		Str("storage", cfg.Storage.Driver).
		Msg("Configuration loaded")

	// Create context for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize storage
	store, cleanup, err := openStore(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize storage")
	}
	defer cleanup()

	// Initialize services
	players := service.NewPlayerLedger(store.Players)
	groups := service.NewGroupLedger(store.Groups, store.Players)
	challenges := service.NewChallengeService(
		store.Challenges,
		store.Players,
		rand.New(rand.NewSource(time.Now().UnixNano())),
	)

	// Price oracle and resolution scheduler
	oracle := price.NewOracle(cfg.Oracle)
	sched := scheduler.NewTimerScheduler()

	// Notifier is bound to the telebot instance once the bot exists
	notifier := handler.NewNotifier(cfg, players)

	// Prediction engine
	engine := prediction.NewEngine(prediction.Dependencies{
		Predictions:    store.Predictions,
		Players:        players,
		Groups:         groups,
		Challenges:     challenges,
		Oracle:         oracle,
		Scheduler:      sched,
		Announcer:      notifier,
		Window:         cfg.Window(),
		Cooldown:       cfg.Cooldown(),
		FUDProbability: cfg.FUDProbability(),
	})

	log.Info().
		Dur("window", cfg.Window()).
		Dur("cooldown", cfg.Cooldown()).
		Float64("fud_probability", cfg.FUDProbability()).
		Msg("Prediction engine initialized")

	// Initialize bot
	telegramBot, err := bot.New(&bot.Dependencies{
		Config:     cfg,
		Players:    players,
		Groups:     groups,
		Challenges: challenges,
		Engine:     engine,
		Notifier:   notifier,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create bot")
	}

	// Setup graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	// Start bot in a goroutine
	go func() {
		log.Info().Msg("Bot is starting...")
		telegramBot.Start()
	}()

	// Wait for shutdown signal
	sig := <-sigChan
	log.Info().Str("signal", sig.String()).Msg("Received shutdown signal")

	// Graceful shutdown
	telegramBot.Stop()
	log.Info().Msg("Bot stopped gracefully")
}

// openStore builds the repository backend selected by storage.driver.
// The in-memory store suits single-instance deployments and loses
// state on restart; postgres persists across restarts.
func openStore(ctx context.Context, cfg *config.Config) (*repository.Store, func(), error) {
	switch cfg.Storage.Driver {
	case "postgres":
		pool, err := db.NewPool(ctx, &cfg.Database)
		if err != nil {
			return nil, nil, err
		}
		if err := repository.Migrate(ctx, pool.Pool); err != nil {
			pool.Close()
			return nil, nil, err
		}
		log.Info().Msg("Database migrations applied")
		return repository.NewPostgresStore(pool.Pool), pool.Close, nil

	default:
		log.Warn().Msg("Using in-memory storage, state is lost on restart")
		return repository.NewMemoryStore(), func() {}, nil
	}
}
