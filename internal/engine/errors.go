package engine

import "errors"

// Fatal run errors. They abort the run and mark it FAILED.
var (
	ErrStrategyNotRegistered        = errors.New("strategy not registered")
	ErrInstrumentUniverseUnresolved = errors.New("no instruments resolvable for dataset")
	ErrDataLoadFailed               = errors.New("merged candle set is empty")
	ErrPersistenceFailure           = errors.New("persistence failure")
	ErrCheckpointCorrupt            = errors.New("checkpoint checksum mismatch")
)

// Non-fatal or graceful outcomes.
var (
	ErrTickExecution        = errors.New("strategy execution failed for tick")
	ErrExternalCancellation = errors.New("run was failed externally")
	ErrRunCancelled         = errors.New("run cancelled")
	ErrRunPaused            = errors.New("run paused")
	ErrInvalidTransition    = errors.New("invalid run status transition")
)

var (
	ErrInsufficientCash = errors.New("insufficient cash for buy")
	ErrNoPosition       = errors.New("no position to sell")
	ErrZeroQuantity     = errors.New("resolved quantity is zero")
	ErrNoPrice          = errors.New("no price for instrument")
)
