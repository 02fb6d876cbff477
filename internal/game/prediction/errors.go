package prediction

import (
	"errors"
	"fmt"
	"time"
)

// Common errors for prediction lifecycle operations.
var (
	ErrUnknownPrediction  = errors.New("unknown prediction")
	ErrNotOwner           = errors.New("prediction belongs to another player")
	ErrAlreadyLocked      = errors.New("direction already locked")
	ErrAlreadyResolved    = errors.New("prediction already resolved")
	ErrMultiplierActive   = errors.New("multiplier already active")
	ErrDuplicateActiveBet = errors.New("an active prediction already exists")
	ErrInvalidDirection   = errors.New("invalid direction")
)

// CooldownError rejects a creation attempt inside the cooldown window.
type CooldownError struct {
	Remaining time.Duration
}

func (e *CooldownError) Error() string {
	return fmt.Sprintf("cooldown active, %s remaining", e.Remaining.Round(time.Second))
}
