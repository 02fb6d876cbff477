package service

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/rs/zerolog/log"

	"crypto-clash-bot/internal/model"
	"crypto-clash-bot/internal/pkg/lock"
	"crypto-clash-bot/internal/repository"
)

var errNoSlots = errors.New("no og slots remaining")
var errAlreadyOG = errors.New("og status already granted")

// GroupLedger owns per-chat aggregate state: the best-streak
// leaderboard and the OG slot pool.
type GroupLedger struct {
	groups    repository.GroupRepository
	players   repository.PlayerRepository
	userLocks *lock.UserLock
}

// NewGroupLedger creates a new GroupLedger instance.
func NewGroupLedger(groups repository.GroupRepository, players repository.PlayerRepository) *GroupLedger {
	return &GroupLedger{
		groups:    groups,
		players:   players,
		userLocks: lock.NewUserLock(),
	}
}

// GetOrCreate lazily initializes the chat's group state.
func (l *GroupLedger) GetOrCreate(ctx context.Context, chatID int64) (*model.Group, error) {
	g, err := l.groups.GetOrCreate(ctx, chatID)
	if err != nil {
		return nil, fmt.Errorf("failed to ensure group: %w", err)
	}
	return g, nil
}

// GrantOGIfEligible grants OG status to the user if they lack it and
// the chat still has slots. Grants for one user are serialized through
// a per-user lock, and the slot decrement is a single atomic
// check-and-set on the group row, so concurrent first-use by many
// users can never over-allocate slots. Returns true exactly once per
// user.
func (l *GroupLedger) GrantOGIfEligible(ctx context.Context, chatID, userID int64) (bool, error) {
	var granted bool
	err := l.userLocks.WithLock(userID, func() error {
		var err error
		granted, err = l.grantOG(ctx, chatID, userID)
		return err
	})
	return granted, err
}

func (l *GroupLedger) grantOG(ctx context.Context, chatID, userID int64) (bool, error) {
	p, err := l.players.Get(ctx, userID)
	if err != nil {
		return false, fmt.Errorf("failed to check og eligibility: %w", err)
	}
	if p.OGStatus {
		return false, nil
	}

	if _, err := l.groups.GetOrCreate(ctx, chatID); err != nil {
		return false, err
	}
	_, err = l.groups.Update(ctx, chatID, func(g *model.Group) error {
		if g.OGSlotsRemaining <= 0 {
			return errNoSlots
		}
		g.OGSlotsRemaining--
		return nil
	})
	if errors.Is(err, errNoSlots) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to claim og slot: %w", err)
	}

	_, err = l.players.Update(ctx, userID, func(p *model.Player) error {
		if p.OGStatus {
			return errAlreadyOG
		}
		p.OGStatus = true
		return nil
	})
	if errors.Is(err, errAlreadyOG) {
		// Lost a race for the same user against another process
		// sharing the store; return the claimed slot.
		_, refundErr := l.groups.Update(ctx, chatID, func(g *model.Group) error {
			g.OGSlotsRemaining++
			return nil
		})
		if refundErr != nil {
			return false, fmt.Errorf("failed to refund og slot: %w", refundErr)
		}
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to grant og status: %w", err)
	}

	log.Info().Int64("chat_id", chatID).Int64("user_id", userID).Msg("OG status granted")
	return true, nil
}

// RecordBestStreak publishes the user's best streak to the chat
// leaderboard. Entries only ever increase.
func (l *GroupLedger) RecordBestStreak(ctx context.Context, chatID, userID int64, bestStreak int) error {
	if _, err := l.groups.GetOrCreate(ctx, chatID); err != nil {
		return err
	}
	_, err := l.groups.Update(ctx, chatID, func(g *model.Group) error {
		if bestStreak > g.Leaderboard[userID] {
			g.Leaderboard[userID] = bestStreak
		} else if _, seen := g.Leaderboard[userID]; !seen {
			g.Leaderboard[userID] = bestStreak
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to record best streak: %w", err)
	}
	return nil
}

// LeaderboardEntry is one row of the chat leaderboard.
type LeaderboardEntry struct {
	UserID     int64
	BestStreak int
}

// Leaderboard returns the chat's top entries by best streak, ties
// broken by user id for a stable order.
func (l *GroupLedger) Leaderboard(ctx context.Context, chatID int64, limit int) ([]LeaderboardEntry, error) {
	g, err := l.groups.GetOrCreate(ctx, chatID)
	if err != nil {
		return nil, err
	}

	entries := make([]LeaderboardEntry, 0, len(g.Leaderboard))
	for userID, streak := range g.Leaderboard {
		entries = append(entries, LeaderboardEntry{UserID: userID, BestStreak: streak})
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].BestStreak != entries[j].BestStreak {
			return entries[i].BestStreak > entries[j].BestStreak
		}
		return entries[i].UserID < entries[j].UserID
	})
	if limit > 0 && len(entries) > limit {
		entries = entries[:limit]
	}
	return entries, nil
}

// TotalPlayers returns the distinct-user count ever recorded.
func (l *GroupLedger) TotalPlayers(ctx context.Context, chatID int64) (int, error) {
	g, err := l.groups.GetOrCreate(ctx, chatID)
	if err != nil {
		return 0, err
	}
	return g.TotalPlayers(), nil
}
