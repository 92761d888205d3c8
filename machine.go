package planfsm

import (
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/anggasct/planfsm/pkg/pool"
)

// MachineState represents the lifecycle of a state machine instance
type MachineState int

const (
	// Machine is stopped and not processing events
	MachineStateStopped MachineState = iota
	// Machine is running and processing events
	MachineStateStarted
)

// String returns the lifecycle name
func (s MachineState) String() string {
	switch s {
	case MachineStateStopped:
		return "stopped"
	case MachineStateStarted:
		return "started"
	default:
		return fmt.Sprintf("MachineState(%d)", int(s))
	}
}

// StateMachine owns the active plan state of one agent run and commits
// transitions. It keeps no per-agent business data; that lives in the
// actions materialized at transition time.
//
// A machine processes one event at a time. Delivering an event while a
// transition is running, from another goroutine or from inside an action,
// fails with ErrCodeTransitionInProgress.
type StateMachine struct {
	id           string
	runID        string
	initial      PlanState
	active       PlanState
	machineState MachineState
	transitions  int
	observers    *ObserverManager

	// mutex guards the fields above; busy is held for a whole dispatch
	mutex sync.RWMutex
	busy  sync.Mutex
}

// MachineOption configures a StateMachine
type MachineOption func(*StateMachine)

// WithObserver registers an observer on the machine
func WithObserver(observer Observer) MachineOption {
	return func(sm *StateMachine) {
		sm.observers.AddObserver(observer)
	}
}

// WithMachineID overrides the generated machine id
func WithMachineID(id string) MachineOption {
	return func(sm *StateMachine) {
		sm.id = id
	}
}

// NewStateMachine creates a stopped machine that will start in initial
func NewStateMachine(initial PlanState, opts ...MachineOption) (*StateMachine, error) {
	if initial == nil {
		return nil, NewConfigurationError("StateMachine", "no initial state defined")
	}

	sm := &StateMachine{
		id:           uuid.NewString(),
		runID:        uuid.NewString(),
		initial:      initial,
		machineState: MachineStateStopped,
		observers:    NewObserverManager(),
	}
	for _, opt := range opts {
		opt(sm)
	}
	return sm, nil
}

// NewMachinePool creates a pool of stopped machines starting in initial.
// Callers Reset a popped machine before reuse.
func NewMachinePool(initial PlanState, cfg pool.Config, opts ...MachineOption) (*pool.Pool[*StateMachine], error) {
	if initial == nil {
		return nil, NewConfigurationError("MachinePool", "no initial state defined")
	}
	return pool.New(cfg, func() (*StateMachine, error) {
		return NewStateMachine(initial, opts...)
	})
}

// ID returns the machine identifier, stable across resets
func (sm *StateMachine) ID() string {
	return sm.id
}

// RunID returns the identifier of the current agent run
func (sm *StateMachine) RunID() string {
	sm.mutex.RLock()
	defer sm.mutex.RUnlock()
	return sm.runID
}

// CurrentState returns the active state, or nil before Start
func (sm *StateMachine) CurrentState() PlanState {
	sm.mutex.RLock()
	defer sm.mutex.RUnlock()
	return sm.active
}

// InitialState returns the state the machine starts in
func (sm *StateMachine) InitialState() PlanState {
	sm.mutex.RLock()
	defer sm.mutex.RUnlock()
	return sm.initial
}

// MachineState returns the lifecycle state
func (sm *StateMachine) MachineState() MachineState {
	sm.mutex.RLock()
	defer sm.mutex.RUnlock()
	return sm.machineState
}

// Started reports whether the machine accepts events
func (sm *StateMachine) Started() bool {
	return sm.MachineState() == MachineStateStarted
}

// IsTerminated reports whether the active state is a terminal state
func (sm *StateMachine) IsTerminated() bool {
	active := sm.CurrentState()
	return active != nil && active.Kind() == KindTerminal
}

// Transitions returns the number of transitions committed in this run
func (sm *StateMachine) Transitions() int {
	sm.mutex.RLock()
	defer sm.mutex.RUnlock()
	return sm.transitions
}

// AddObserver adds an observer to the machine
func (sm *StateMachine) AddObserver(observer Observer) {
	sm.observers.AddObserver(observer)
}

// RemoveObserver removes an observer from the machine
func (sm *StateMachine) RemoveObserver(observer Observer) {
	sm.observers.RemoveObserver(observer)
}

func (sm *StateMachine) acquire(operation string) error {
	if !sm.busy.TryLock() {
		return NewMachineError(ErrCodeTransitionInProgress, operation, "a transition is in progress")
	}
	return nil
}

// Start enters the initial state. If an enter action fails the machine stays stopped.
func (sm *StateMachine) Start() error {
	if err := sm.acquire("Start"); err != nil {
		return err
	}
	defer sm.busy.Unlock()

	sm.mutex.Lock()
	if sm.machineState == MachineStateStarted {
		sm.mutex.Unlock()
		return NewMachineError(ErrCodeAlreadyStarted, "Start", "machine is already started")
	}
	initial := sm.initial
	sm.mutex.Unlock()

	if err := initial.Enter(); err != nil {
		sm.observers.NotifyError(sm, err)
		return err
	}

	sm.mutex.Lock()
	sm.active = initial
	sm.machineState = MachineStateStarted
	sm.mutex.Unlock()

	sm.observers.NotifyStateEnter(sm, initial)
	sm.observers.NotifyMachineStarted(sm)
	return nil
}

// Stop stops event processing. The active state is kept and no exit actions run.
func (sm *StateMachine) Stop() error {
	if err := sm.acquire("Stop"); err != nil {
		return err
	}
	defer sm.busy.Unlock()

	sm.mutex.Lock()
	if sm.machineState != MachineStateStarted {
		sm.mutex.Unlock()
		return NewMachineNotStartedError("Stop")
	}
	sm.machineState = MachineStateStopped
	sm.mutex.Unlock()

	sm.observers.NotifyMachineStopped(sm)
	return nil
}

// Reset readies the machine for a new agent run starting in initial. A nil
// initial keeps the current one. The machine is left stopped with a new run id.
func (sm *StateMachine) Reset(initial PlanState) error {
	if err := sm.acquire("Reset"); err != nil {
		return err
	}
	defer sm.busy.Unlock()

	sm.mutex.Lock()
	defer sm.mutex.Unlock()
	if initial != nil {
		sm.initial = initial
	}
	sm.active = nil
	sm.machineState = MachineStateStopped
	sm.transitions = 0
	sm.runID = uuid.NewString()
	return nil
}

// WillHandleEvent reports whether the active state would take event
func (sm *StateMachine) WillHandleEvent(event Event) bool {
	active := sm.CurrentState()
	if active == nil || !sm.Started() {
		return false
	}
	return active.WillHandleEvent(event)
}

// HandleSafely delivers event to the active state. It returns false with a
// nil error when no handler matches or the guard rejects. With an error,
// handled reports whether the machine moved to the target anyway.
func (sm *StateMachine) HandleSafely(event Event) (bool, error) {
	return sm.dispatch("HandleSafely", event, func(active PlanState, c Committer) (bool, error) {
		return active.HandleSafely(c, event)
	})
}

// Handle delivers event to the active state and commits the registered
// transition regardless of its guard. It fails with UnhandledEventError
// when the active state has no handler for the event type.
func (sm *StateMachine) Handle(event Event) (bool, error) {
	return sm.dispatch("Handle", event, func(active PlanState, c Committer) (bool, error) {
		return active.Handle(c, event)
	})
}

// heldMachine commits on behalf of a dispatch that already holds the machine
type heldMachine struct {
	sm *StateMachine
}

func (h heldMachine) CommitTransition(from PlanState, handler *TransitionHandler, event Event) error {
	return h.sm.commit(from, handler, event)
}

func (sm *StateMachine) dispatch(operation string, event Event, deliver func(PlanState, Committer) (bool, error)) (bool, error) {
	if err := sm.acquire(operation); err != nil {
		return false, err
	}
	defer sm.busy.Unlock()

	sm.mutex.RLock()
	active, state := sm.active, sm.machineState
	sm.mutex.RUnlock()

	if state != MachineStateStarted || active == nil {
		return false, NewMachineNotStartedError(operation)
	}

	handled, err := deliver(active, heldMachine{sm: sm})
	switch {
	case err != nil:
		sm.observers.NotifyError(sm, err)
	case !handled:
		reason := "guard rejected"
		if active.Handler(event.Type) == nil {
			reason = "no handler"
		}
		sm.observers.NotifyEventRejected(sm, event, reason)
	}
	return handled, err
}

// CommitTransition runs the commit protocol for handler out of from. It is
// the Committer used when a state's HandleSafely or Handle is called
// directly with this machine.
func (sm *StateMachine) CommitTransition(from PlanState, handler *TransitionHandler, event Event) error {
	if err := sm.acquire("CommitTransition"); err != nil {
		return err
	}
	defer sm.busy.Unlock()

	return sm.commit(from, handler, event)
}

// commit performs the transition. Every action of the transition is
// materialized before any of them runs. A failure before the swap leaves the
// machine in from; a failure after it leaves the machine in the target.
func (sm *StateMachine) commit(from PlanState, handler *TransitionHandler, event Event) error {
	sm.mutex.RLock()
	active, state := sm.active, sm.machineState
	sm.mutex.RUnlock()

	if state != MachineStateStarted {
		return NewMachineNotStartedError("CommitTransition")
	}
	if from == nil || from != active {
		return NewMachineError(ErrCodeStaleTransition, "CommitTransition",
			fmt.Sprintf("state %s is not active", stateName(from)))
	}
	if handler == nil {
		return NewUnhandledEventError(from.Name(), event.Type)
	}
	target := handler.Target()
	if target == nil {
		return NewConfigurationError(from.Name(), fmt.Sprintf("handler for %s has no target", event.Type))
	}

	exitActions, err := from.prepareExit()
	if err != nil {
		return settle(err, from)
	}
	transitionActions, err := materialize(from.Name(), PhaseTransition, handler.actions)
	if err != nil {
		return settle(err, from)
	}
	enterActions, err := target.prepareEnter()
	if err != nil {
		return settle(err, from)
	}

	if err := runActions(from.Name(), PhaseExit, exitActions); err != nil {
		return settle(err, from)
	}
	sm.observers.NotifyStateExit(sm, from)

	if err := runActions(from.Name(), PhaseTransition, transitionActions); err != nil {
		return settle(err, from)
	}

	sm.mutex.Lock()
	sm.active = target
	sm.transitions++
	sm.mutex.Unlock()
	sm.observers.NotifyTransition(sm, from, target, event)

	if err := runActions(target.Name(), PhaseEnter, enterActions); err != nil {
		return settle(err, target)
	}
	sm.observers.NotifyStateEnter(sm, target)
	return nil
}

func settle(err error, state PlanState) error {
	if ae, ok := err.(*ActionError); ok {
		ae.Settled = state.Name()
	}
	return err
}

func stateName(s PlanState) string {
	if s == nil {
		return "<nil>"
	}
	return s.Name()
}
