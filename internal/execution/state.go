package execution

import (
	"errors"
	"fmt"

	"steady-hand/internal/domain"
)

var (
	// ErrTradingHalted blocks new order flow while emergency mode is active.
	ErrTradingHalted = errors.New("trading halted: emergency mode active")

	// ErrCooldown blocks a symbol that traded too recently.
	ErrCooldown = errors.New("symbol in cooldown")

	// ErrInvalidTransition marks an order state change outside the machine.
	ErrInvalidTransition = errors.New("invalid order state transition")

	// ErrUnknownOrder is returned for cancel/lookup on an id the engine
	// never issued.
	ErrUnknownOrder = errors.New("unknown order")
)

var orderTransitions = map[domain.OrderState][]domain.OrderState{
	domain.OrderCreated:         {domain.OrderSubmitted, domain.OrderRejected},
	domain.OrderSubmitted:       {domain.OrderPartiallyFilled, domain.OrderFilled, domain.OrderRejected, domain.OrderCancelled},
	domain.OrderPartiallyFilled: {domain.OrderFilled, domain.OrderCancelled},
}

func canTransition(from, to domain.OrderState) bool {
	for _, next := range orderTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

func transitionError(from, to domain.OrderState) error {
	return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
}
