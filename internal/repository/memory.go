package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"crypto-clash-bot/internal/model"
)

// NewMemoryStore creates the default in-memory storage backend. All
// repositories share nothing; each guards its own map with a mutex and
// stores deep copies so callers can never mutate stored state outside
// an Update.
func NewMemoryStore() *Store {
	return &Store{
		Players:     NewMemoryPlayerRepository(),
		Groups:      NewMemoryGroupRepository(),
		Predictions: NewMemoryPredictionRepository(),
		Challenges:  NewMemoryChallengeRepository(),
	}
}

func clonePlayer(p *model.Player) *model.Player {
	cp := *p
	cp.Achievements = append([]string(nil), p.Achievements...)
	return &cp
}

func cloneGroup(g *model.Group) *model.Group {
	cg := *g
	cg.Leaderboard = make(map[int64]int, len(g.Leaderboard))
	for id, streak := range g.Leaderboard {
		cg.Leaderboard[id] = streak
	}
	return &cg
}

func clonePrediction(p *model.Prediction) *model.Prediction {
	cp := *p
	return &cp
}

// MemoryPlayerRepository is a mutex-guarded map of players.
type MemoryPlayerRepository struct {
	mu      sync.Mutex
	players map[int64]*model.Player
}

func NewMemoryPlayerRepository() *MemoryPlayerRepository {
	return &MemoryPlayerRepository{players: make(map[int64]*model.Player)}
}

func (r *MemoryPlayerRepository) Get(ctx context.Context, userID int64) (*model.Player, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.players[userID]
	if !ok {
		return nil, ErrPlayerNotFound
	}
	return clonePlayer(p), nil
}

func (r *MemoryPlayerRepository) GetOrCreate(ctx context.Context, userID int64, username string) (*model.Player, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.players[userID]
	if !ok {
		p = model.NewPlayer(userID, time.Now())
		p.Username = username
		r.players[userID] = p
	} else if username != "" && p.Username != username {
		p.Username = username
	}
	return clonePlayer(p), nil
}

func (r *MemoryPlayerRepository) Update(ctx context.Context, userID int64, fn func(*model.Player) error) (*model.Player, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.players[userID]
	if !ok {
		return nil, ErrPlayerNotFound
	}
	next := clonePlayer(p)
	if err := fn(next); err != nil {
		return nil, err
	}
	next.UpdatedAt = time.Now()
	r.players[userID] = next
	return clonePlayer(next), nil
}

// MemoryGroupRepository is a mutex-guarded map of groups.
type MemoryGroupRepository struct {
	mu     sync.Mutex
	groups map[int64]*model.Group
}

func NewMemoryGroupRepository() *MemoryGroupRepository {
	return &MemoryGroupRepository{groups: make(map[int64]*model.Group)}
}

func (r *MemoryGroupRepository) GetOrCreate(ctx context.Context, chatID int64) (*model.Group, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	g, ok := r.groups[chatID]
	if !ok {
		g = model.NewGroup(chatID, time.Now())
		r.groups[chatID] = g
	}
	return cloneGroup(g), nil
}

func (r *MemoryGroupRepository) Update(ctx context.Context, chatID int64, fn func(*model.Group) error) (*model.Group, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	g, ok := r.groups[chatID]
	if !ok {
		return nil, ErrGroupNotFound
	}
	next := cloneGroup(g)
	if err := fn(next); err != nil {
		return nil, err
	}
	r.groups[chatID] = next
	return cloneGroup(next), nil
}

// MemoryPredictionRepository is a mutex-guarded map of predictions.
type MemoryPredictionRepository struct {
	mu          sync.Mutex
	predictions map[string]*model.Prediction
}

func NewMemoryPredictionRepository() *MemoryPredictionRepository {
	return &MemoryPredictionRepository{predictions: make(map[string]*model.Prediction)}
}

func (r *MemoryPredictionRepository) Create(ctx context.Context, p *model.Prediction) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.predictions[p.ID]; ok {
		return ErrDuplicateID
	}
	r.predictions[p.ID] = clonePrediction(p)
	return nil
}

func (r *MemoryPredictionRepository) Get(ctx context.Context, id string) (*model.Prediction, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.predictions[id]
	if !ok {
		return nil, ErrPredictionNotFound
	}
	return clonePrediction(p), nil
}

func (r *MemoryPredictionRepository) Update(ctx context.Context, id string, fn func(*model.Prediction) error) (*model.Prediction, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.predictions[id]
	if !ok {
		return nil, ErrPredictionNotFound
	}
	next := clonePrediction(p)
	if err := fn(next); err != nil {
		return nil, err
	}
	r.predictions[id] = next
	return clonePrediction(next), nil
}

func (r *MemoryPredictionRepository) ActiveByOwner(ctx context.Context, userID int64, window time.Duration, now time.Time) (*model.Prediction, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, p := range r.predictions {
		if p.UserID == userID && p.Active(window, now) {
			return clonePrediction(p), nil
		}
	}
	return nil, ErrPredictionNotFound
}

func (r *MemoryPredictionRepository) DueByOwner(ctx context.Context, userID int64, window time.Duration, now time.Time) ([]*model.Prediction, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var due []*model.Prediction
	for _, p := range r.predictions {
		if p.UserID == userID && p.Due(window, now) {
			due = append(due, clonePrediction(p))
		}
	}
	sort.Slice(due, func(i, j int) bool { return due[i].CreatedAt.Before(due[j].CreatedAt) })
	return due, nil
}

func (r *MemoryPredictionRepository) ListByOwner(ctx context.Context, userID int64, limit int) ([]*model.Prediction, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var owned []*model.Prediction
	for _, p := range r.predictions {
		if p.UserID == userID {
			owned = append(owned, clonePrediction(p))
		}
	}
	sort.Slice(owned, func(i, j int) bool { return owned[i].CreatedAt.After(owned[j].CreatedAt) })
	if limit > 0 && len(owned) > limit {
		owned = owned[:limit]
	}
	return owned, nil
}

// MemoryChallengeRepository is a mutex-guarded map of daily challenges.
type MemoryChallengeRepository struct {
	mu         sync.Mutex
	challenges map[int64]*model.DailyChallenge
}

func NewMemoryChallengeRepository() *MemoryChallengeRepository {
	return &MemoryChallengeRepository{challenges: make(map[int64]*model.DailyChallenge)}
}

func (r *MemoryChallengeRepository) Get(ctx context.Context, userID int64) (*model.DailyChallenge, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.challenges[userID]
	if !ok {
		return nil, ErrChallengeNotFound
	}
	cc := *c
	return &cc, nil
}

func (r *MemoryChallengeRepository) Put(ctx context.Context, c *model.DailyChallenge) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cc := *c
	r.challenges[c.UserID] = &cc
	return nil
}

func (r *MemoryChallengeRepository) Update(ctx context.Context, userID int64, fn func(*model.DailyChallenge) error) (*model.DailyChallenge, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.challenges[userID]
	if !ok {
		return nil, ErrChallengeNotFound
	}
	next := *c
	if err := fn(&next); err != nil {
		return nil, err
	}
	r.challenges[userID] = &next
	cc := next
	return &cc, nil
}
