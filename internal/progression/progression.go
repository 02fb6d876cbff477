// Package progression implements the XP level curve and the achievement
// catalogue.
package progression

import (
	"crypto-clash-bot/internal/model"
)

// levelThresholds maps level N to the cumulative XP required to reach
// it. Level 1 is the floor; the curve roughly doubles per level.
var levelThresholds = []struct {
	level int
	xp    int64
}{
	{10, 30000},
	{9, 15000},
	{8, 8000},
	{7, 4000},
	{6, 2000},
	{5, 1000},
	{4, 500},
	{3, 250},
	{2, 100},
}

// MaxLevel is the top of the level curve.
const MaxLevel = 10

// LevelForXP returns the level reached at the given cumulative XP.
func LevelForXP(xp int64) int {
	for _, t := range levelThresholds {
		if xp >= t.xp {
			return t.level
		}
	}
	return 1
}

// XPForLevel returns the cumulative XP required to reach the level, or
// 0 for level 1 and below.
func XPForLevel(level int) int64 {
	for _, t := range levelThresholds {
		if t.level == level {
			return t.xp
		}
	}
	return 0
}

// NextLevelXP returns the XP threshold of the next level, or -1 when
// already at MaxLevel.
func NextLevelXP(level int) int64 {
	if level >= MaxLevel {
		return -1
	}
	return XPForLevel(level + 1)
}

// Achievement is a one-time unlockable with a token bonus.
type Achievement struct {
	ID    string
	Title string
	Bonus int64
	// Unlocked reports whether the player's current state satisfies
	// the achievement condition.
	Unlocked func(p *model.Player) bool
}

// Catalogue returns all achievements in award-check order.
func Catalogue() []Achievement {
	return []Achievement{
		{
			ID:       "first_win",
			Title:    "First Blood",
			Bonus:    50,
			Unlocked: func(p *model.Player) bool { return p.Wins >= 1 },
		},
		{
			ID:       "streak_5",
			Title:    "On Fire",
			Bonus:    200,
			Unlocked: func(p *model.Player) bool { return p.BestStreak >= 5 },
		},
		{
			ID:       "streak_10",
			Title:    "Unstoppable",
			Bonus:    500,
			Unlocked: func(p *model.Player) bool { return p.BestStreak >= 10 },
		},
		{
			ID:       "whale_10",
			Title:    "Whale Rider",
			Bonus:    300,
			Unlocked: func(p *model.Player) bool { return p.TotalWhaleUses >= 10 },
		},
		{
			ID:       "tokens_10k",
			Title:    "Token Tycoon",
			Bonus:    1000,
			Unlocked: func(p *model.Player) bool { return p.Tokens >= 10000 },
		},
		{
			ID:       "wins_100",
			Title:    "Century Club",
			Bonus:    2000,
			Unlocked: func(p *model.Player) bool { return p.Wins >= 100 },
		},
		{
			ID:       "challenges_7",
			Title:    "Grinder",
			Bonus:    500,
			Unlocked: func(p *model.Player) bool { return p.ChallengesCompleted >= 7 },
		},
	}
}

// ByID returns the achievement with the given id.
func ByID(id string) (Achievement, bool) {
	for _, a := range Catalogue() {
		if a.ID == id {
			return a, true
		}
	}
	return Achievement{}, false
}

// CheckUnlocks mutates p, appending every newly satisfied achievement
// and crediting its token bonus exactly once. It returns the unlocked
// achievements in catalogue order.
func CheckUnlocks(p *model.Player) []Achievement {
	var unlocked []Achievement
	for _, a := range Catalogue() {
		if p.HasAchievement(a.ID) || !a.Unlocked(p) {
			continue
		}
		p.Achievements = append(p.Achievements, a.ID)
		p.Tokens += a.Bonus
		unlocked = append(unlocked, a)
	}
	return unlocked
}
