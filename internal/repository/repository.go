// Package repository provides data access layer implementations.
package repository

import (
	"context"
	"errors"
	"time"

	"crypto-clash-bot/internal/model"
)

// Common errors for repository operations.
var (
	ErrPlayerNotFound     = errors.New("player not found")
	ErrGroupNotFound      = errors.New("group not found")
	ErrPredictionNotFound = errors.New("prediction not found")
	ErrChallengeNotFound  = errors.New("challenge not found")
	ErrDuplicateID        = errors.New("duplicate prediction id")
)

// PlayerRepository handles player progression persistence. Update
// applies fn under exclusive access to the stored row; if fn returns an
// error the player is left unchanged and the error is propagated.
type PlayerRepository interface {
	Get(ctx context.Context, userID int64) (*model.Player, error)
	GetOrCreate(ctx context.Context, userID int64, username string) (*model.Player, error)
	Update(ctx context.Context, userID int64, fn func(*model.Player) error) (*model.Player, error)
}

// GroupRepository handles per-chat aggregate persistence. Update has
// the same exclusive-access contract as PlayerRepository.Update.
type GroupRepository interface {
	GetOrCreate(ctx context.Context, chatID int64) (*model.Group, error)
	Update(ctx context.Context, chatID int64, fn func(*model.Group) error) (*model.Group, error)
}

// PredictionRepository handles prediction persistence. Update is the
// atomicity primitive for state transitions: fn observes the current
// row under exclusive access, so a terminal-state check inside fn makes
// concurrent transitions single-winner.
type PredictionRepository interface {
	Create(ctx context.Context, p *model.Prediction) error
	Get(ctx context.Context, id string) (*model.Prediction, error)
	Update(ctx context.Context, id string, fn func(*model.Prediction) error) (*model.Prediction, error)

	// ActiveByOwner returns the owner's single non-terminal prediction
	// whose window has not elapsed, or ErrPredictionNotFound.
	ActiveByOwner(ctx context.Context, userID int64, window time.Duration, now time.Time) (*model.Prediction, error)

	// DueByOwner returns the owner's non-terminal predictions whose
	// window has elapsed, oldest first.
	DueByOwner(ctx context.Context, userID int64, window time.Duration, now time.Time) ([]*model.Prediction, error)

	// ListByOwner returns the owner's predictions, newest first, up to
	// limit entries.
	ListByOwner(ctx context.Context, userID int64, limit int) ([]*model.Prediction, error)
}

// ChallengeRepository handles the per-user daily challenge slot.
type ChallengeRepository interface {
	Get(ctx context.Context, userID int64) (*model.DailyChallenge, error)
	Put(ctx context.Context, c *model.DailyChallenge) error
	Update(ctx context.Context, userID int64, fn func(*model.DailyChallenge) error) (*model.DailyChallenge, error)
}

// Store bundles the repositories behind a single storage backend.
type Store struct {
	Players     PlayerRepository
	Groups      GroupRepository
	Predictions PredictionRepository
	Challenges  ChallengeRepository
}
