package engine

import (
	"fmt"

	"cryptobacktester/types"
)

// strategyAdapter wraps one registered strategy for the lifetime of a run.
// Optional hooks are resolved once here and never looked up again.
type strategyAdapter struct {
	id       string
	strategy Strategy
	init     func(params map[string]any) error
}

func newStrategyAdapter(registry map[string]StrategyFactory, id string) (*strategyAdapter, error) {
	factory, ok := registry[id]
	if !ok || factory == nil {
		return nil, fmt.Errorf("%w: %q", ErrStrategyNotRegistered, id)
	}
	s := factory()
	if s == nil {
		return nil, fmt.Errorf("%w: %q returned no strategy", ErrStrategyNotRegistered, id)
	}
	adapter := &strategyAdapter{id: id, strategy: s}
	if initializer, ok := s.(Initializer); ok {
		adapter.init = initializer.Init
	}
	return adapter, nil
}

func (a *strategyAdapter) initialize(params map[string]any) error {
	if a.init == nil {
		return nil
	}
	return a.init(params)
}

// execute never fails the run: errors, panics and unsuccessful results are
// turned into an empty signal list for this tick.
func (a *strategyAdapter) execute(ctx types.StrategyContext) (signals []types.TradingSignal, err error) {
	defer func() {
		if r := recover(); r != nil {
			signals = nil
			err = fmt.Errorf("%w: panic: %v", ErrTickExecution, r)
		}
	}()

	res, execErr := a.strategy.Execute(ctx)
	if execErr != nil {
		return nil, fmt.Errorf("%w: %v", ErrTickExecution, execErr)
	}
	if !res.Success {
		return nil, nil
	}
	return res.Signals, nil
}
