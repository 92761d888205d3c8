package planfsm

import (
	"errors"
	"fmt"
)

// ErrPayloadType is returned by typed guards when the event payload has an unexpected type
var ErrPayloadType = errors.New("unexpected payload type")

// Guard decides whether a matched transition may fire. Implementations must be
// deterministic and free of side effects since guards are also evaluated
// speculatively by WillHandleEvent.
type Guard interface {
	Check(payload any) (bool, error)
}

// GuardFunc adapts a plain predicate to the Guard interface
type GuardFunc func(payload any) bool

// Check calls f(payload)
func (f GuardFunc) Check(payload any) (bool, error) {
	return f(payload), nil
}

type payloadGuard[T any] struct {
	fn func(T) bool
}

func (g payloadGuard[T]) Check(payload any) (bool, error) {
	v, ok := payload.(T)
	if !ok {
		var zero T
		return false, fmt.Errorf("%w: want %T, got %T", ErrPayloadType, zero, payload)
	}
	return g.fn(v), nil
}

// PayloadGuard builds a guard over a typed payload. A payload of any other
// type is a guard failure, not a rejection.
func PayloadGuard[T any](fn func(T) bool) Guard {
	return payloadGuard[T]{fn: fn}
}

// Always returns a guard that accepts every payload
func Always() Guard {
	return GuardFunc(func(any) bool { return true })
}

// Never returns a guard that rejects every payload
func Never() Guard {
	return GuardFunc(func(any) bool { return false })
}

type notGuard struct{ g Guard }

func (n notGuard) Check(payload any) (bool, error) {
	ok, err := n.g.Check(payload)
	if err != nil {
		return false, err
	}
	return !ok, nil
}

// Not negates a guard. Failures of the inner guard are passed through.
func Not(g Guard) Guard {
	return notGuard{g: g}
}

type allGuard []Guard

func (a allGuard) Check(payload any) (bool, error) {
	for _, g := range a {
		ok, err := g.Check(payload)
		if err != nil || !ok {
			return false, err
		}
	}
	return true, nil
}

// And accepts when every guard accepts, stopping at the first rejection
func And(guards ...Guard) Guard {
	return allGuard(guards)
}

type anyGuard []Guard

func (a anyGuard) Check(payload any) (bool, error) {
	for _, g := range a {
		ok, err := g.Check(payload)
		if err != nil {
			return false, err
		}
		if ok {
			return true, nil
		}
	}
	return false, nil
}

// Or accepts when any guard accepts, stopping at the first acceptance
func Or(guards ...Guard) Guard {
	return anyGuard(guards)
}

// evaluateGuard runs a guard with panic recovery. A nil guard accepts.
func evaluateGuard(guard Guard, payload any) (result bool, err error) {
	if guard == nil {
		return true, nil
	}

	defer func() {
		if r := recover(); r != nil {
			result = false
			err = fmt.Errorf("guard panic: %v", r)
		}
	}()

	return guard.Check(payload)
}
