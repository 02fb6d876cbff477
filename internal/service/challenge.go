package service

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"crypto-clash-bot/internal/model"
	"crypto-clash-bot/internal/progression"
	"crypto-clash-bot/internal/repository"
)

// challengeSpec fixes target and reward per challenge type.
var challengeSpecs = map[model.ChallengeType]struct {
	Target int
	Reward int64
}{
	model.ChallengeWinStreak:       {Target: 3, Reward: 500},
	model.ChallengePredictionsMade: {Target: 5, Reward: 300},
	model.ChallengeWhaleUses:       {Target: 2, Reward: 400},
	model.ChallengePerfectDay:      {Target: 3, Reward: 600},
}

// ChallengeService manages the rotating per-user daily challenge.
type ChallengeService struct {
	challenges repository.ChallengeRepository
	players    repository.PlayerRepository

	mu  sync.Mutex
	rng *rand.Rand
	now func() time.Time
}

// NewChallengeService creates a new ChallengeService. The random source
// drives challenge type rotation and is injectable for deterministic
// tests.
func NewChallengeService(challenges repository.ChallengeRepository, players repository.PlayerRepository, rng *rand.Rand) *ChallengeService {
	return &ChallengeService{
		challenges: challenges,
		players:    players,
		rng:        rng,
		now:        time.Now,
	}
}

// EnsureActive returns the user's active challenge, generating a fresh
// one when none exists or the 24h window has elapsed.
func (s *ChallengeService) EnsureActive(ctx context.Context, userID int64) (*model.DailyChallenge, error) {
	now := s.now()
	c, err := s.challenges.Get(ctx, userID)
	if err == nil && !c.Expired(now) {
		return c, nil
	}
	if err != nil && !errors.Is(err, repository.ErrChallengeNotFound) {
		return nil, fmt.Errorf("failed to load challenge: %w", err)
	}

	types := model.ChallengeTypes()
	s.mu.Lock()
	next := types[s.rng.Intn(len(types))]
	s.mu.Unlock()

	spec := challengeSpecs[next]
	c = &model.DailyChallenge{
		UserID:  userID,
		Type:    next,
		Target:  spec.Target,
		Reward:  spec.Reward,
		ResetAt: now.Add(24 * time.Hour),
	}
	if err := s.challenges.Put(ctx, c); err != nil {
		return nil, fmt.Errorf("failed to store challenge: %w", err)
	}

	log.Debug().
		Int64("user_id", userID).
		Str("type", string(c.Type)).
		Int("target", c.Target).
		Msg("Daily challenge rotated")
	return c, nil
}

// ChallengeEvent describes a resolution from the challenge system's
// point of view.
type ChallengeEvent struct {
	Won       bool
	WhaleUsed bool
	NewStreak int
}

// ChallengeCompletion reports a reward payout.
type ChallengeCompletion struct {
	Challenge *model.DailyChallenge
	Reward    int64
	Unlocked  []progression.Achievement
}

// RecordResolution advances the user's active challenge with a resolved
// prediction. The reward is credited exactly once, at the transition
// where progress reaches the target.
func (s *ChallengeService) RecordResolution(ctx context.Context, userID int64, event ChallengeEvent) (*ChallengeCompletion, error) {
	if _, err := s.EnsureActive(ctx, userID); err != nil {
		return nil, err
	}

	var justCompleted bool
	updated, err := s.challenges.Update(ctx, userID, func(c *model.DailyChallenge) error {
		if c.Completed {
			return nil
		}
		switch c.Type {
		case model.ChallengeWinStreak:
			if event.Won && event.NewStreak > c.Progress {
				c.Progress = event.NewStreak
			}
		case model.ChallengePredictionsMade:
			c.Progress++
		case model.ChallengeWhaleUses:
			if event.WhaleUsed {
				c.Progress++
			}
		case model.ChallengePerfectDay:
			if event.Won {
				c.Progress++
			} else {
				c.Progress = 0
			}
		}
		if c.Progress >= c.Target {
			c.Completed = true
			justCompleted = true
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to advance challenge: %w", err)
	}
	if !justCompleted {
		return nil, nil
	}

	var unlocked []progression.Achievement
	_, err = s.players.Update(ctx, userID, func(p *model.Player) error {
		p.Tokens += updated.Reward
		p.ChallengesCompleted++
		unlocked = progression.CheckUnlocks(p)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to credit challenge reward: %w", err)
	}

	log.Info().
		Int64("user_id", userID).
		Str("type", string(updated.Type)).
		Int64("reward", updated.Reward).
		Msg("Daily challenge completed")
	return &ChallengeCompletion{Challenge: updated, Reward: updated.Reward, Unlocked: unlocked}, nil
}
