package planfsm

import (
	"fmt"
)

// Action is a unit of side-effecting work run on enter, on exit or during a transition
type Action interface {
	Run() error
}

// ActionFunc adapts a function to the Action interface
type ActionFunc func() error

// Run calls f()
func (f ActionFunc) Run() error {
	return f()
}

// ActionFactory produces a fresh Action for every invocation. States store
// factories rather than actions so one template can be shared by many
// machines without sharing per-agent action state. Factories are compared by
// identity when removed from a state.
type ActionFactory struct {
	name string
	fn   func() Action
}

// NewActionFactory creates a named factory around fn
func NewActionFactory(name string, fn func() Action) *ActionFactory {
	return &ActionFactory{name: name, fn: fn}
}

// ActionFactoryFunc creates a factory for stateless actions
func ActionFactoryFunc(name string, run func() error) *ActionFactory {
	return NewActionFactory(name, func() Action { return ActionFunc(run) })
}

// Name returns the factory name
func (f *ActionFactory) Name() string {
	return f.name
}

// New materializes a new Action
func (f *ActionFactory) New() Action {
	return f.fn()
}

// Action phases reported in ActionError
const (
	PhasePrepare    = "prepare"
	PhaseExit       = "exit"
	PhaseTransition = "transition"
	PhaseEnter      = "enter"
)

type preparedAction struct {
	name   string
	action Action
}

// materialize instantiates every factory before any of them runs
func materialize(state string, phase string, factories []*ActionFactory) ([]preparedAction, error) {
	actions := make([]preparedAction, 0, len(factories))
	for _, f := range factories {
		a, err := safeNewAction(f)
		if err != nil {
			return nil, NewActionError(f.name, state, PhasePrepare, err)
		}
		if a == nil {
			return nil, NewActionError(f.name, state, PhasePrepare, fmt.Errorf("factory for %s phase returned nil action", phase))
		}
		actions = append(actions, preparedAction{name: f.name, action: a})
	}
	return actions, nil
}

func safeNewAction(f *ActionFactory) (a Action, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("action factory panic: %v", r)
		}
	}()

	return f.New(), nil
}

// safeExecuteAction runs an action with panic recovery
func safeExecuteAction(a Action) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("action panic: %v", r)
		}
	}()

	return a.Run()
}

func runActions(state string, phase string, actions []preparedAction) error {
	for _, pa := range actions {
		if err := safeExecuteAction(pa.action); err != nil {
			return NewActionError(pa.name, state, phase, err)
		}
	}
	return nil
}
