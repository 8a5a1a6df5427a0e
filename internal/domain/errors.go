package domain

import "errors"

// Error taxonomy shared by every mutating operation. Callers match with
// errors.Is; wrapping adds call-site context without hiding the kind.
var (
	ErrInvalidAmount        = errors.New("invalid amount")
	ErrInvalidFrequency     = errors.New("invalid frequency")
	ErrUnauthorized         = errors.New("unauthorized")
	ErrPlanNotFound         = errors.New("plan not found")
	ErrPlanNotActive        = errors.New("plan not active")
	ErrExecutionNotDue      = errors.New("execution not due")
	ErrInsufficientBalance  = errors.New("insufficient balance")
	ErrCircuitBreakerActive = errors.New("circuit breaker active")
	ErrEmergencyMode        = errors.New("emergency mode active")
	ErrPaused               = errors.New("contract paused")
	ErrNoFreshSources       = errors.New("no fresh price sources")
	ErrUnknownSource        = errors.New("unknown price source")
	ErrInvalidWeight        = errors.New("invalid source weight")
	ErrFeeTooHigh           = errors.New("fee exceeds ceiling")
)
