package prediction

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"crypto-clash-bot/internal/model"
	"crypto-clash-bot/internal/price"
	"crypto-clash-bot/internal/repository"
	"crypto-clash-bot/internal/scheduler"
	"crypto-clash-bot/internal/service"
)

type stubOracle struct {
	mu    sync.Mutex
	price decimal.Decimal
	err   error
}

func (o *stubOracle) GetPrice(ctx context.Context, asset model.Asset) (decimal.Decimal, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.err != nil {
		return decimal.Zero, o.err
	}
	return o.price, nil
}

func (o *stubOracle) set(p string, err error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.price = decimal.RequireFromString(p)
	o.err = err
}

type stubAnnouncer struct {
	mu      sync.Mutex
	streaks []int
	results []*Result
}

func (a *stubAnnouncer) AnnounceResult(r *Result) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.results = append(a.results, r)
}

func (a *stubAnnouncer) AnnounceMilestone(chatID, userID int64, streak int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.streaks = append(a.streaks, streak)
}

type testEnv struct {
	engine    *Engine
	oracle    *stubOracle
	sched     *scheduler.ManualScheduler
	announcer *stubAnnouncer
	store     *repository.Store
	players   *service.PlayerLedger
}

func newTestEnv(t *testing.T, fudProb float64) *testEnv {
	t.Helper()

	store := repository.NewMemoryStore()
	players := service.NewPlayerLedger(store.Players)
	groups := service.NewGroupLedger(store.Groups, store.Players)
	challenges := service.NewChallengeService(store.Challenges, store.Players, rand.New(rand.NewSource(7)))
	oracle := &stubOracle{price: decimal.RequireFromString("100.00")}
	sched := scheduler.NewManualScheduler()
	announcer := &stubAnnouncer{}

	engine := NewEngine(Dependencies{
		Predictions:    store.Predictions,
		Players:        players,
		Groups:         groups,
		Challenges:     challenges,
		Oracle:         oracle,
		Scheduler:      sched,
		Announcer:      announcer,
		Window:         60 * time.Second,
		Cooldown:       45 * time.Second,
		FUDProbability: fudProb,
		Rand:           rand.New(rand.NewSource(42)),
	})
	return &testEnv{
		engine:    engine,
		oracle:    oracle,
		sched:     sched,
		announcer: announcer,
		store:     store,
		players:   players,
	}
}

// advance shifts the engine clock forward.
func (env *testEnv) advance(d time.Duration) {
	base := env.engine.now()
	env.engine.now = func() time.Time { return base.Add(d) }
}

func TestCreateOpensPrediction(t *testing.T) {
	env := newTestEnv(t, 0)
	ctx := context.Background()

	p, err := env.engine.Create(ctx, 1, -100, "hodler")
	require.NoError(t, err)
	assert.Equal(t, model.StateOpen, p.State)
	assert.True(t, p.StartPrice.Equal(decimal.RequireFromString("100.00")))
	assert.True(t, p.RequiredMove.Equal(decimal.RequireFromString("1.0")))
	assert.False(t, p.FUDActive)
	assert.Equal(t, model.PredictionID(1, p.CreatedAt), p.ID)

	// Resolution is queued for the full window.
	require.Equal(t, 1, env.sched.Pending())
	assert.Equal(t, []time.Duration{60 * time.Second}, env.sched.Delays())

	// Creation leaves the cooldown clock untouched; only a landed
	// outcome starts it.
	player, err := env.players.Snapshot(ctx, 1)
	require.NoError(t, err)
	assert.True(t, player.LastPlayedAt.IsZero())
}

func TestCreateFUDRaisesRequiredMove(t *testing.T) {
	env := newTestEnv(t, 1)
	ctx := context.Background()

	p, err := env.engine.Create(ctx, 1, -100, "")
	require.NoError(t, err)
	assert.True(t, p.FUDActive)
	assert.True(t, p.RequiredMove.Equal(decimal.RequireFromString("1.1")))
}

func TestCreateEnforcesCooldownAfterResolution(t *testing.T) {
	env := newTestEnv(t, 0)
	ctx := context.Background()

	p, err := env.engine.Create(ctx, 1, -100, "")
	require.NoError(t, err)
	_, err = env.engine.LockDirection(ctx, p.ID, 1, model.DirectionUp)
	require.NoError(t, err)

	env.advance(60 * time.Second)
	env.oracle.set("102.00", nil)
	env.sched.FireAll()

	// The clock starts at resolution, so the full cooldown stands
	// between the win landing and the next prediction.
	_, err = env.engine.Create(ctx, 1, -100, "")
	var cooldownErr *CooldownError
	require.ErrorAs(t, err, &cooldownErr)
	assert.Positive(t, cooldownErr.Remaining)

	// 30s after the resolution: still 15s left.
	env.advance(30 * time.Second)
	_, err = env.engine.Create(ctx, 1, -100, "")
	require.ErrorAs(t, err, &cooldownErr)
	assert.Positive(t, cooldownErr.Remaining)

	env.advance(16 * time.Second)
	_, err = env.engine.Create(ctx, 1, -100, "")
	require.NoError(t, err)
}

func TestCreateAfterExpiryHasNoCooldown(t *testing.T) {
	env := newTestEnv(t, 0)
	ctx := context.Background()

	_, err := env.engine.Create(ctx, 1, -100, "")
	require.NoError(t, err)

	env.advance(61 * time.Second)
	env.sched.FireAll()

	// Expiry never starts the cooldown clock.
	_, err = env.engine.Create(ctx, 1, -100, "")
	require.NoError(t, err)
}

func TestCreateRejectsDuplicateActiveBet(t *testing.T) {
	env := newTestEnv(t, 0)
	env.engine.cooldown = 0
	ctx := context.Background()

	_, err := env.engine.Create(ctx, 1, -100, "")
	require.NoError(t, err)

	_, err = env.engine.Create(ctx, 1, -100, "")
	assert.ErrorIs(t, err, ErrDuplicateActiveBet)

	// A different user is unaffected.
	_, err = env.engine.Create(ctx, 2, -100, "")
	require.NoError(t, err)
}

func TestCreateSurvivesSchedulingFailure(t *testing.T) {
	env := newTestEnv(t, 0)
	ctx := context.Background()

	env.sched.Fail(errors.New("backend down"))

	p, err := env.engine.Create(ctx, 1, -100, "")
	require.NoError(t, err)

	_, err = env.engine.LockDirection(ctx, p.ID, 1, model.DirectionUp)
	require.NoError(t, err)

	// The manual path still resolves it.
	env.advance(61 * time.Second)
	env.oracle.set("102.00", nil)
	results, err := env.engine.ResolveDue(ctx, 1)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, model.OutcomeWon, results[0].Prediction.Outcome)
}

func TestLockDirection(t *testing.T) {
	env := newTestEnv(t, 0)
	ctx := context.Background()

	p, err := env.engine.Create(ctx, 1, -100, "")
	require.NoError(t, err)

	_, err = env.engine.LockDirection(ctx, p.ID, 2, model.DirectionUp)
	assert.ErrorIs(t, err, ErrNotOwner)

	_, err = env.engine.LockDirection(ctx, p.ID, 1, "sideways")
	assert.ErrorIs(t, err, ErrInvalidDirection)

	locked, err := env.engine.LockDirection(ctx, p.ID, 1, model.DirectionUp)
	require.NoError(t, err)
	assert.Equal(t, model.StateLocked, locked.State)
	assert.Equal(t, model.DirectionUp, locked.Direction)

	_, err = env.engine.LockDirection(ctx, p.ID, 1, model.DirectionDown)
	assert.ErrorIs(t, err, ErrAlreadyLocked)

	_, err = env.engine.LockDirection(ctx, "9_9", 9, model.DirectionUp)
	assert.ErrorIs(t, err, ErrUnknownPrediction)
}

func TestLockDirectionConcurrentSingleWinner(t *testing.T) {
	env := newTestEnv(t, 0)
	ctx := context.Background()

	p, err := env.engine.Create(ctx, 1, -100, "")
	require.NoError(t, err)

	var wg sync.WaitGroup
	errs := make([]error, 2)
	dirs := []model.Direction{model.DirectionUp, model.DirectionDown}
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = env.engine.LockDirection(ctx, p.ID, 1, dirs[i])
		}(i)
	}
	wg.Wait()

	winners := 0
	for _, err := range errs {
		if err == nil {
			winners++
		} else {
			assert.ErrorIs(t, err, ErrAlreadyLocked)
		}
	}
	assert.Equal(t, 1, winners)

	stored, err := env.engine.Get(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StateLocked, stored.State)
	assert.Contains(t, dirs, stored.Direction)
}

func TestApplyMultiplier(t *testing.T) {
	env := newTestEnv(t, 0)
	ctx := context.Background()

	p, err := env.engine.Create(ctx, 1, -100, "")
	require.NoError(t, err)

	updated, err := env.engine.ApplyMultiplier(ctx, p.ID, 1)
	require.NoError(t, err)
	assert.True(t, updated.MultiplierActive)

	// The starting whale power-up was consumed.
	player, err := env.players.Snapshot(ctx, 1)
	require.NoError(t, err)
	assert.Zero(t, player.WhalePowerups)
	assert.Equal(t, 1, player.TotalWhaleUses)

	_, err = env.engine.ApplyMultiplier(ctx, p.ID, 1)
	assert.ErrorIs(t, err, ErrMultiplierActive)
}

func TestApplyMultiplierRejectedAfterLock(t *testing.T) {
	env := newTestEnv(t, 0)
	ctx := context.Background()

	p, err := env.engine.Create(ctx, 1, -100, "")
	require.NoError(t, err)
	_, err = env.engine.LockDirection(ctx, p.ID, 1, model.DirectionUp)
	require.NoError(t, err)

	_, err = env.engine.ApplyMultiplier(ctx, p.ID, 1)
	assert.ErrorIs(t, err, ErrAlreadyLocked)

	// Inventory untouched by the rejection.
	player, err := env.players.Snapshot(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, model.StartingWhalePowerups, player.WhalePowerups)
}

func TestApplyMultiplierWithoutInventory(t *testing.T) {
	env := newTestEnv(t, 0)
	ctx := context.Background()

	p, err := env.engine.Create(ctx, 1, -100, "")
	require.NoError(t, err)

	_, err = env.store.Players.Update(ctx, 1, func(pl *model.Player) error {
		pl.WhalePowerups = 0
		return nil
	})
	require.NoError(t, err)

	_, err = env.engine.ApplyMultiplier(ctx, p.ID, 1)
	assert.ErrorIs(t, err, service.ErrNoPowerups)
}

// Scenario: up lock, +1.5% move against a 1.0% requirement.
func TestResolveWinUp(t *testing.T) {
	env := newTestEnv(t, 0)
	ctx := context.Background()

	p, err := env.engine.Create(ctx, 1, -100, "")
	require.NoError(t, err)
	_, err = env.engine.LockDirection(ctx, p.ID, 1, model.DirectionUp)
	require.NoError(t, err)

	env.oracle.set("101.50", nil)
	env.sched.FireAll()

	stored, err := env.engine.Get(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StateResolved, stored.State)
	assert.Equal(t, model.OutcomeWon, stored.Outcome)
	assert.True(t, stored.PercentChange.Equal(decimal.RequireFromString("1.5")), "got %s", stored.PercentChange)
	assert.Equal(t, int64(100), stored.TokensAwarded)

	player, err := env.players.Snapshot(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 1, player.Streak)
	// 1000 start + 100 reward + 50 first_win bonus
	assert.Equal(t, int64(1150), player.Tokens)
}

// Scenario: FUD active, +1.0% move falls short of the 1.1% requirement.
func TestResolveFUDLoss(t *testing.T) {
	env := newTestEnv(t, 1)
	ctx := context.Background()

	p, err := env.engine.Create(ctx, 1, -100, "")
	require.NoError(t, err)
	_, err = env.engine.LockDirection(ctx, p.ID, 1, model.DirectionUp)
	require.NoError(t, err)

	env.oracle.set("101.00", nil)
	env.sched.FireAll()

	stored, err := env.engine.Get(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, model.OutcomeLost, stored.Outcome)

	player, err := env.players.Snapshot(ctx, 1)
	require.NoError(t, err)
	assert.Zero(t, player.Streak)
	assert.Equal(t, model.StartingTokens, player.Tokens)
	assert.Equal(t, int64(10), player.XP)
}

// Scenario: whale multiplier, down lock, -2.0% move.
func TestResolveWhaleWinDown(t *testing.T) {
	env := newTestEnv(t, 0)
	ctx := context.Background()

	p, err := env.engine.Create(ctx, 1, -100, "")
	require.NoError(t, err)
	_, err = env.engine.ApplyMultiplier(ctx, p.ID, 1)
	require.NoError(t, err)
	_, err = env.engine.LockDirection(ctx, p.ID, 1, model.DirectionDown)
	require.NoError(t, err)

	env.oracle.set("98.00", nil)
	env.sched.FireAll()

	stored, err := env.engine.Get(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, model.OutcomeWon, stored.Outcome)
	assert.True(t, stored.PercentChange.Equal(decimal.RequireFromString("-2")))
	// floor(100 * 3 * (1 + 0.1*0)) = 300
	assert.Equal(t, int64(300), stored.TokensAwarded)
}

// Scenario: oracle unavailable at resolution leaves the player
// untouched.
func TestResolveOracleUnavailable(t *testing.T) {
	env := newTestEnv(t, 0)
	ctx := context.Background()

	p, err := env.engine.Create(ctx, 1, -100, "")
	require.NoError(t, err)
	_, err = env.engine.LockDirection(ctx, p.ID, 1, model.DirectionUp)
	require.NoError(t, err)

	before, err := env.players.Snapshot(ctx, 1)
	require.NoError(t, err)

	env.oracle.set("0.01", price.ErrPriceUnavailable)
	env.sched.FireAll()

	stored, err := env.engine.Get(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StateError, stored.State)
	assert.Equal(t, model.OutcomeError, stored.Outcome)

	after, err := env.players.Snapshot(ctx, 1)
	require.NoError(t, err)
	after.UpdatedAt = before.UpdatedAt
	assert.Equal(t, before, after)
}

func TestResolveExpiredWithoutDirection(t *testing.T) {
	env := newTestEnv(t, 0)
	ctx := context.Background()

	p, err := env.engine.Create(ctx, 1, -100, "")
	require.NoError(t, err)

	before, err := env.players.Snapshot(ctx, 1)
	require.NoError(t, err)

	env.sched.FireAll()

	stored, err := env.engine.Get(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StateExpired, stored.State)
	assert.Equal(t, model.OutcomeExpired, stored.Outcome)

	after, err := env.players.Snapshot(ctx, 1)
	require.NoError(t, err)
	after.UpdatedAt = before.UpdatedAt
	assert.Equal(t, before, after, "expiry must not touch player state")
}

func TestResolveIsIdempotent(t *testing.T) {
	env := newTestEnv(t, 0)
	ctx := context.Background()

	p, err := env.engine.Create(ctx, 1, -100, "")
	require.NoError(t, err)
	_, err = env.engine.LockDirection(ctx, p.ID, 1, model.DirectionUp)
	require.NoError(t, err)

	env.oracle.set("102.00", nil)
	result, err := env.engine.Resolve(ctx, p.ID)
	require.NoError(t, err)
	require.NotNil(t, result.Win)

	snapshot, err := env.players.Snapshot(ctx, 1)
	require.NoError(t, err)

	// Second resolve (the scheduled callback firing late) is a no-op.
	_, err = env.engine.Resolve(ctx, p.ID)
	assert.ErrorIs(t, err, ErrAlreadyResolved)
	env.sched.FireAll()

	after, err := env.players.Snapshot(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, snapshot, after)
}

func TestResolveConcurrentSingleWinner(t *testing.T) {
	env := newTestEnv(t, 0)
	ctx := context.Background()

	p, err := env.engine.Create(ctx, 1, -100, "")
	require.NoError(t, err)
	_, err = env.engine.LockDirection(ctx, p.ID, 1, model.DirectionUp)
	require.NoError(t, err)
	env.oracle.set("102.00", nil)

	const racers = 8
	var wg sync.WaitGroup
	errs := make([]error, racers)
	for i := 0; i < racers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = env.engine.Resolve(ctx, p.ID)
		}(i)
	}
	wg.Wait()

	winners := 0
	for _, err := range errs {
		if err == nil {
			winners++
		} else {
			assert.ErrorIs(t, err, ErrAlreadyResolved)
		}
	}
	assert.Equal(t, 1, winners)

	player, err := env.players.Snapshot(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 1, player.Wins, "exactly one win applied")
}

// Inclusive boundary: a move of exactly the required percentage wins.
func TestResolveInclusiveThreshold(t *testing.T) {
	env := newTestEnv(t, 0)
	ctx := context.Background()

	p, err := env.engine.Create(ctx, 1, -100, "")
	require.NoError(t, err)
	_, err = env.engine.LockDirection(ctx, p.ID, 1, model.DirectionUp)
	require.NoError(t, err)

	env.oracle.set("101.00", nil)
	result, err := env.engine.Resolve(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, model.OutcomeWon, result.Prediction.Outcome)
	assert.True(t, result.Prediction.PercentChange.Equal(decimal.NewFromInt(1)))
}

func TestResolveMilestoneAnnouncement(t *testing.T) {
	env := newTestEnv(t, 0)
	ctx := context.Background()

	// Four prior wins so this resolution lands streak 5.
	_, err := env.players.GetOrCreate(ctx, 1, "")
	require.NoError(t, err)
	_, err = env.store.Players.Update(ctx, 1, func(pl *model.Player) error {
		pl.Streak = 4
		pl.BestStreak = 4
		pl.Wins = 4
		pl.TotalPredictions = 4
		pl.Achievements = []string{"first_win"}
		return nil
	})
	require.NoError(t, err)

	p, err := env.engine.Create(ctx, 1, -100, "")
	require.NoError(t, err)
	_, err = env.engine.LockDirection(ctx, p.ID, 1, model.DirectionUp)
	require.NoError(t, err)

	env.oracle.set("103.00", nil)
	result, err := env.engine.Resolve(ctx, p.ID)
	require.NoError(t, err)
	assert.True(t, result.Milestone)
	assert.Equal(t, []int{5}, env.announcer.streaks)

	// Streak 5 also unlocks the streak_5 achievement.
	require.NotNil(t, result.Win)
	ids := make([]string, 0, len(result.Win.Unlocked))
	for _, a := range result.Win.Unlocked {
		ids = append(ids, a.ID)
	}
	assert.Contains(t, ids, "streak_5")
}

func TestResolveDueSkipsActiveAndTerminal(t *testing.T) {
	env := newTestEnv(t, 0)
	env.engine.cooldown = 0
	ctx := context.Background()

	p, err := env.engine.Create(ctx, 1, -100, "")
	require.NoError(t, err)
	_, err = env.engine.LockDirection(ctx, p.ID, 1, model.DirectionUp)
	require.NoError(t, err)

	// Still inside the window: nothing due.
	results, err := env.engine.ResolveDue(ctx, 1)
	require.NoError(t, err)
	assert.Empty(t, results)

	env.advance(61 * time.Second)
	env.oracle.set("102.00", nil)
	results, err = env.engine.ResolveDue(ctx, 1)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, model.OutcomeWon, results[0].Prediction.Outcome)

	// Everything terminal: nothing due.
	results, err = env.engine.ResolveDue(ctx, 1)
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestHistoryNewestFirst(t *testing.T) {
	env := newTestEnv(t, 0)
	env.engine.cooldown = 0
	ctx := context.Background()

	base := env.engine.now()
	for i := 0; i < 3; i++ {
		offset := time.Duration(i) * 2 * time.Minute
		env.engine.now = func() time.Time { return base.Add(offset) }
		_, err := env.engine.Create(ctx, 1, -100, "")
		require.NoError(t, err)
	}

	history, err := env.engine.History(ctx, 1, 5)
	require.NoError(t, err)
	require.Len(t, history, 3)
	assert.True(t, history[0].CreatedAt.After(history[1].CreatedAt))
}
