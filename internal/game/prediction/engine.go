// Package prediction implements the prediction lifecycle state machine:
// creation, direction locking, multiplier application, timed
// resolution, and the progression side effects of each outcome.
package prediction

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"crypto-clash-bot/internal/model"
	"crypto-clash-bot/internal/pkg/lock"
	"crypto-clash-bot/internal/repository"
	"crypto-clash-bot/internal/scheduler"
	"crypto-clash-bot/internal/service"
)

// PriceSource is the oracle boundary the engine resolves against.
type PriceSource interface {
	GetPrice(ctx context.Context, asset model.Asset) (decimal.Decimal, error)
}

// Announcer receives chat-facing side effects: outcomes of scheduled
// resolutions and streak milestones. A nil announcer is valid and
// silences them.
type Announcer interface {
	AnnounceResult(r *Result)
	AnnounceMilestone(chatID, userID int64, streak int)
}

var hundred = decimal.NewFromInt(100)

// Required percentage moves, fixed at creation time.
var (
	moveNormal = decimal.RequireFromString("1.0")
	moveFUD    = decimal.RequireFromString("1.1")
)

// errStateChanged forces a re-read when a prediction changed shape
// between the pre-read and the claim.
var errStateChanged = errors.New("prediction state changed")

// Dependencies holds everything an Engine needs.
type Dependencies struct {
	Predictions repository.PredictionRepository
	Players     *service.PlayerLedger
	Groups      *service.GroupLedger
	Challenges  *service.ChallengeService
	Oracle      PriceSource
	Scheduler   scheduler.Scheduler
	Announcer   Announcer

	Window         time.Duration
	Cooldown       time.Duration
	FUDProbability float64

	// Rand drives asset selection and the FUD roll; seedable for
	// deterministic tests. Defaults to a time-seeded source.
	Rand *rand.Rand
}

// Engine owns the prediction state machine. All mutating operations on
// one prediction id are serialized through a per-id lock; the terminal
// transition itself is additionally an atomic check-and-set in the
// repository, so racing resolvers get exactly one winner.
type Engine struct {
	predictions repository.PredictionRepository
	players     *service.PlayerLedger
	groups      *service.GroupLedger
	challenges  *service.ChallengeService
	oracle      PriceSource
	sched       scheduler.Scheduler
	announcer   Announcer

	window   time.Duration
	cooldown time.Duration
	fudProb  float64

	locks *lock.KeyLock[string]

	mu  sync.Mutex
	rng *rand.Rand

	now func() time.Time
}

// NewEngine creates a prediction engine.
func NewEngine(deps Dependencies) *Engine {
	rng := deps.Rand
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return &Engine{
		predictions: deps.Predictions,
		players:     deps.Players,
		groups:      deps.Groups,
		challenges:  deps.Challenges,
		oracle:      deps.Oracle,
		sched:       deps.Scheduler,
		announcer:   deps.Announcer,
		window:      deps.Window,
		cooldown:    deps.Cooldown,
		fudProb:     deps.FUDProbability,
		locks:       lock.NewKeyLock[string](),
		rng:         rng,
		now:         time.Now,
	}
}

// Window returns the resolution window length.
func (e *Engine) Window() time.Duration {
	return e.window
}

// roll picks the asset and the FUD flag for a new prediction.
func (e *Engine) roll() (model.Asset, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	assets := model.Assets()
	return assets[e.rng.Intn(len(assets))], e.rng.Float64() < e.fudProb
}

// Create opens a new prediction for the user: cooldown and
// duplicate-active checks, random asset and FUD roll, start price
// fetch, storage, and the scheduled resolution. A scheduling failure is
// logged but does not fail creation; the prediction stays resolvable
// through ResolveDue.
func (e *Engine) Create(ctx context.Context, userID, chatID int64, username string) (*model.Prediction, error) {
	p, err := e.players.GetOrCreate(ctx, userID, username)
	if err != nil {
		return nil, err
	}

	now := e.now()
	if e.cooldown > 0 && !p.LastPlayedAt.IsZero() {
		if elapsed := now.Sub(p.LastPlayedAt); elapsed < e.cooldown {
			return nil, &CooldownError{Remaining: e.cooldown - elapsed}
		}
	}

	if _, err := e.predictions.ActiveByOwner(ctx, userID, e.window, now); err == nil {
		return nil, ErrDuplicateActiveBet
	} else if !errors.Is(err, repository.ErrPredictionNotFound) {
		return nil, fmt.Errorf("failed to check active predictions: %w", err)
	}

	asset, fud := e.roll()

	// Price fetch happens before any lock is taken and may block on
	// rate-limit spacing.
	startPrice, err := e.oracle.GetPrice(ctx, asset)
	if err != nil {
		return nil, err
	}

	requiredMove := moveNormal
	if fud {
		requiredMove = moveFUD
	}
	pred := &model.Prediction{
		ID:           model.PredictionID(userID, now),
		UserID:       userID,
		ChatID:       chatID,
		Asset:        asset,
		StartPrice:   startPrice,
		RequiredMove: requiredMove,
		FUDActive:    fud,
		State:        model.StateOpen,
		CreatedAt:    now,
	}
	if err := e.predictions.Create(ctx, pred); err != nil {
		return nil, fmt.Errorf("failed to store prediction: %w", err)
	}

	if _, err := e.challenges.EnsureActive(ctx, userID); err != nil {
		log.Warn().Err(err).Int64("user_id", userID).Msg("Failed to rotate daily challenge")
	}

	id := pred.ID
	if err := e.sched.ScheduleOnce(e.window, func() {
		res, err := e.Resolve(context.Background(), id)
		if err != nil {
			if !errors.Is(err, ErrAlreadyResolved) {
				log.Error().Err(err).Str("prediction_id", id).Msg("Scheduled resolution failed")
			}
			return
		}
		if e.announcer != nil {
			e.announcer.AnnounceResult(res)
		}
	}); err != nil {
		log.Warn().
			Err(err).
			Str("prediction_id", id).
			Msg("Failed to schedule resolution, manual check remains available")
	}

	log.Info().
		Str("prediction_id", pred.ID).
		Int64("user_id", userID).
		Str("asset", string(asset)).
		Str("start_price", startPrice.String()).
		Bool("fud", fud).
		Msg("Prediction created")
	return pred, nil
}

// LockDirection commits the owner's directional call. The transition is
// a single atomic check-and-set: concurrent locks on the same
// prediction produce exactly one winner, the loser observes
// ErrAlreadyLocked.
func (e *Engine) LockDirection(ctx context.Context, id string, callerID int64, dir model.Direction) (*model.Prediction, error) {
	if dir != model.DirectionUp && dir != model.DirectionDown {
		return nil, ErrInvalidDirection
	}

	e.locks.Lock(id)
	defer e.locks.Unlock(id)

	updated, err := e.predictions.Update(ctx, id, func(p *model.Prediction) error {
		if p.UserID != callerID {
			return ErrNotOwner
		}
		if p.State.Terminal() {
			return ErrAlreadyResolved
		}
		if p.State == model.StateLocked {
			return ErrAlreadyLocked
		}
		p.Direction = dir
		p.State = model.StateLocked
		return nil
	})
	if errors.Is(err, repository.ErrPredictionNotFound) {
		return nil, ErrUnknownPrediction
	}
	if err != nil {
		return nil, err
	}

	log.Info().
		Str("prediction_id", id).
		Str("direction", string(dir)).
		Msg("Direction locked")
	return updated, nil
}

// ApplyMultiplier attaches whale mode to an open prediction, consuming
// one whale power-up. Rejected once the prediction is locked: the
// multiplier freezes at lock time.
func (e *Engine) ApplyMultiplier(ctx context.Context, id string, callerID int64) (*model.Prediction, error) {
	e.locks.Lock(id)
	defer e.locks.Unlock(id)

	p, err := e.predictions.Get(ctx, id)
	if errors.Is(err, repository.ErrPredictionNotFound) {
		return nil, ErrUnknownPrediction
	}
	if err != nil {
		return nil, err
	}
	switch {
	case p.UserID != callerID:
		return nil, ErrNotOwner
	case p.State.Terminal():
		return nil, ErrAlreadyResolved
	case p.State == model.StateLocked:
		return nil, ErrAlreadyLocked
	case p.MultiplierActive:
		return nil, ErrMultiplierActive
	}

	if err := e.players.ConsumeWhalePowerup(ctx, callerID); err != nil {
		return nil, err
	}

	updated, err := e.predictions.Update(ctx, id, func(p *model.Prediction) error {
		if p.State != model.StateOpen || p.MultiplierActive {
			return errStateChanged
		}
		p.MultiplierActive = true
		return nil
	})
	if err != nil {
		if refundErr := e.players.RefundWhalePowerup(ctx, callerID); refundErr != nil {
			log.Error().Err(refundErr).Int64("user_id", callerID).Msg("Failed to refund whale powerup")
		}
		return nil, err
	}

	log.Info().Str("prediction_id", id).Msg("Whale multiplier applied")
	return updated, nil
}

// Result is the structured outcome of a resolution, handed to the
// front end for rendering. Exactly one of Win/Loss is set for resolved
// predictions; both are nil for Expired and Error outcomes.
type Result struct {
	Prediction *model.Prediction
	Win        *service.WinResult
	Loss       *service.LossResult
	Completion *service.ChallengeCompletion
	Milestone  bool
}

// Resolve drives the prediction to a terminal state. It is safe to call
// from the scheduler, from a manual check, or both concurrently: the
// terminal transition is claimed atomically and only the claim winner
// applies player-side effects. Resolving an already-terminal prediction
// returns ErrAlreadyResolved and changes nothing.
func (e *Engine) Resolve(ctx context.Context, id string) (*Result, error) {
	for {
		pre, err := e.predictions.Get(ctx, id)
		if errors.Is(err, repository.ErrPredictionNotFound) {
			return nil, ErrUnknownPrediction
		}
		if err != nil {
			return nil, err
		}
		if pre.State.Terminal() {
			return nil, ErrAlreadyResolved
		}

		// The price fetch may block on rate limiting and retries, so
		// it happens before the per-prediction critical section.
		var finalPrice decimal.Decimal
		var priceErr error
		if pre.Direction != "" {
			finalPrice, priceErr = e.oracle.GetPrice(ctx, pre.Asset)
		}

		claimed, err := e.claimTerminal(ctx, id, pre.Direction != "", finalPrice, priceErr)
		if errors.Is(err, errStateChanged) {
			// A direction was locked while we were off fetching or
			// skipping the price. Re-read and try again; direction
			// only ever transitions unset -> set, so this loops at
			// most once.
			continue
		}
		if err != nil {
			return nil, err
		}
		return e.applyOutcome(ctx, claimed)
	}
}

// claimTerminal performs the atomic state claim. hadDirection reflects
// the pre-read; if the stored row disagrees, errStateChanged asks the
// caller to re-read.
func (e *Engine) claimTerminal(ctx context.Context, id string, hadDirection bool, finalPrice decimal.Decimal, priceErr error) (*model.Prediction, error) {
	e.locks.Lock(id)
	defer e.locks.Unlock(id)

	return e.predictions.Update(ctx, id, func(p *model.Prediction) error {
		if p.State.Terminal() {
			return ErrAlreadyResolved
		}
		if (p.Direction != "") != hadDirection {
			return errStateChanged
		}

		now := e.now()
		switch {
		case p.Direction == "":
			p.State = model.StateExpired
			p.Outcome = model.OutcomeExpired
		case priceErr != nil:
			log.Warn().Err(priceErr).Str("prediction_id", p.ID).Msg("Price unavailable at resolution")
			p.State = model.StateError
			p.Outcome = model.OutcomeError
		default:
			p.FinalPrice = finalPrice
			p.PercentChange = finalPrice.Sub(p.StartPrice).
				Div(p.StartPrice).
				Mul(hundred)
			if e.isWin(p) {
				p.Outcome = model.OutcomeWon
			} else {
				p.Outcome = model.OutcomeLost
			}
			p.State = model.StateResolved
		}
		p.ResolvedAt = now
		return nil
	})
}

// isWin applies the inclusive threshold comparison: a move of exactly
// the required percentage counts.
func (e *Engine) isWin(p *model.Prediction) bool {
	if p.Direction == model.DirectionUp {
		return p.PercentChange.GreaterThanOrEqual(p.RequiredMove)
	}
	return p.PercentChange.LessThanOrEqual(p.RequiredMove.Neg())
}

// applyOutcome runs the progression side effects for a freshly claimed
// terminal state. Expired and Error outcomes leave the player untouched.
func (e *Engine) applyOutcome(ctx context.Context, p *model.Prediction) (*Result, error) {
	result := &Result{Prediction: p}

	switch p.Outcome {
	case model.OutcomeExpired, model.OutcomeError:
		log.Info().
			Str("prediction_id", p.ID).
			Str("outcome", string(p.Outcome)).
			Msg("Prediction closed without player mutation")
		return result, nil

	case model.OutcomeWon:
		win, err := e.players.ApplyWinOutcome(ctx, p.UserID, p.MultiplierActive)
		if err != nil {
			return nil, err
		}
		result.Win = win

		recorded, err := e.predictions.Update(ctx, p.ID, func(stored *model.Prediction) error {
			stored.TokensAwarded = win.TokensAwarded
			stored.XPAwarded = win.XPAwarded
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("failed to record award: %w", err)
		}
		result.Prediction = recorded

		if err := e.groups.RecordBestStreak(ctx, p.ChatID, p.UserID, win.Player.BestStreak); err != nil {
			log.Error().Err(err).Str("prediction_id", p.ID).Msg("Failed to update leaderboard")
		}
		if win.NewStreak > 0 && win.NewStreak%5 == 0 {
			result.Milestone = true
			if e.announcer != nil {
				e.announcer.AnnounceMilestone(p.ChatID, p.UserID, win.NewStreak)
			}
		}

	case model.OutcomeLost:
		loss, err := e.players.ApplyLossOutcome(ctx, p.UserID)
		if err != nil {
			return nil, err
		}
		result.Loss = loss

		recorded, err := e.predictions.Update(ctx, p.ID, func(stored *model.Prediction) error {
			stored.XPAwarded = loss.XPAwarded
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("failed to record award: %w", err)
		}
		result.Prediction = recorded
	}

	// The creation cooldown runs from the moment an outcome lands, not
	// from creation. Expired and Error predictions never reach here and
	// leave the clock untouched.
	if err := e.players.MarkPlayed(ctx, p.UserID, p.ResolvedAt); err != nil {
		log.Error().Err(err).Str("prediction_id", p.ID).Msg("Failed to stamp cooldown clock")
	}

	event := service.ChallengeEvent{
		Won:       p.Outcome == model.OutcomeWon,
		WhaleUsed: p.MultiplierActive,
	}
	if result.Win != nil {
		event.NewStreak = result.Win.NewStreak
	}
	completion, err := e.challenges.RecordResolution(ctx, p.UserID, event)
	if err != nil {
		log.Error().Err(err).Str("prediction_id", p.ID).Msg("Failed to advance daily challenge")
	} else {
		result.Completion = completion
	}

	log.Info().
		Str("prediction_id", p.ID).
		Str("outcome", string(p.Outcome)).
		Str("percent_change", p.PercentChange.StringFixed(4)).
		Msg("Prediction resolved")
	return result, nil
}

// ResolveDue resolves every prediction of the user whose window has
// elapsed without reaching a terminal state. This is the fallback path
// for scheduler failures and races harmlessly with scheduled
// resolutions through the idempotency guard.
func (e *Engine) ResolveDue(ctx context.Context, userID int64) ([]*Result, error) {
	due, err := e.predictions.DueByOwner(ctx, userID, e.window, e.now())
	if err != nil {
		return nil, fmt.Errorf("failed to list due predictions: %w", err)
	}

	var results []*Result
	for _, p := range due {
		result, err := e.Resolve(ctx, p.ID)
		if errors.Is(err, ErrAlreadyResolved) {
			continue
		}
		if err != nil {
			return results, err
		}
		results = append(results, result)
	}
	return results, nil
}

// Active returns the user's current non-terminal prediction, if any.
func (e *Engine) Active(ctx context.Context, userID int64) (*model.Prediction, error) {
	p, err := e.predictions.ActiveByOwner(ctx, userID, e.window, e.now())
	if errors.Is(err, repository.ErrPredictionNotFound) {
		return nil, ErrUnknownPrediction
	}
	return p, err
}

// History returns the user's most recent predictions, newest first.
func (e *Engine) History(ctx context.Context, userID int64, limit int) ([]*model.Prediction, error) {
	return e.predictions.ListByOwner(ctx, userID, limit)
}

// Get returns a prediction by id.
func (e *Engine) Get(ctx context.Context, id string) (*model.Prediction, error) {
	p, err := e.predictions.Get(ctx, id)
	if errors.Is(err, repository.ErrPredictionNotFound) {
		return nil, ErrUnknownPrediction
	}
	return p, err
}
