package planfsm

import (
	"errors"
	"fmt"
	"sync"
)

// StateKind enumerates the closed set of plan state variants
type StateKind int

const (
	// KindSimple is a state with event handlers and enter/exit actions
	KindSimple StateKind = iota
	// KindTerminal is the end of a plan; it accepts no handlers
	KindTerminal
)

// String returns the kind name
func (k StateKind) String() string {
	switch k {
	case KindSimple:
		return "simple"
	case KindTerminal:
		return "terminal"
	default:
		return fmt.Sprintf("StateKind(%d)", int(k))
	}
}

// Committer performs the transition commit protocol on behalf of a state.
// StateMachine is the implementation; states receive it per call because a
// state template is shared by many machines.
type Committer interface {
	CommitTransition(from PlanState, handler *TransitionHandler, event Event) error
}

// PlanState is a node of a plan graph. The set of implementations is closed:
// *SimplePlanState and *TerminalPlanState.
type PlanState interface {
	Name() string
	StateType() EpisodeType
	// Mode returns the travel mode of trip states
	Mode() (Mode, bool)
	Kind() StateKind

	// Enter and Exit materialize their action factories, then run the
	// actions in registration order
	Enter() error
	Exit() error

	// WillHandleEvent reports whether a handler for the event type exists
	// and its guard accepts the payload. It never changes anything.
	WillHandleEvent(event Event) bool
	// HandleSafely commits the matched transition if WillHandleEvent holds
	// and returns false otherwise. Guard failures are returned as errors.
	HandleSafely(c Committer, event Event) (bool, error)
	// Handle commits the registered transition without consulting its
	// guard. It fails with UnhandledEventError if no handler exists.
	Handle(c Committer, event Event) (bool, error)

	AddHandler(eventType EventType, target PlanState, guard Guard, actions ...*ActionFactory) error
	SetHandler(eventType EventType, handler *TransitionHandler) error
	RemoveHandler(eventType EventType)
	Handler(eventType EventType) *TransitionHandler
	Handlers() map[EventType]*TransitionHandler

	AddOnEnterAction(factory *ActionFactory) error
	AddOnExitAction(factory *ActionFactory) error
	RemoveOnEnterAction(factory *ActionFactory)
	RemoveOnExitAction(factory *ActionFactory)

	prepareEnter() ([]preparedAction, error)
	prepareExit() ([]preparedAction, error)
}

// baseState holds what every variant shares
type baseState struct {
	name        string
	episodeType EpisodeType
	enter       []*ActionFactory
	exit        []*ActionFactory
	mutex       sync.RWMutex
}

// Name returns the state name
func (s *baseState) Name() string {
	return s.name
}

// StateType returns the episode type of the state
func (s *baseState) StateType() EpisodeType {
	return s.episodeType
}

// AddOnEnterAction appends a factory to the enter actions
func (s *baseState) AddOnEnterAction(factory *ActionFactory) error {
	if factory == nil {
		return NewConfigurationError(s.name, "nil enter action factory")
	}
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.enter = append(s.enter, factory)
	return nil
}

// AddOnExitAction appends a factory to the exit actions
func (s *baseState) AddOnExitAction(factory *ActionFactory) error {
	if factory == nil {
		return NewConfigurationError(s.name, "nil exit action factory")
	}
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.exit = append(s.exit, factory)
	return nil
}

// RemoveOnEnterAction removes the first registration of factory
func (s *baseState) RemoveOnEnterAction(factory *ActionFactory) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.enter = removeFactory(s.enter, factory)
}

// RemoveOnExitAction removes the first registration of factory
func (s *baseState) RemoveOnExitAction(factory *ActionFactory) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.exit = removeFactory(s.exit, factory)
}

// OnEnterActions returns a copy of the enter action factories
func (s *baseState) OnEnterActions() []*ActionFactory {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	return append([]*ActionFactory(nil), s.enter...)
}

// OnExitActions returns a copy of the exit action factories
func (s *baseState) OnExitActions() []*ActionFactory {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	return append([]*ActionFactory(nil), s.exit...)
}

// Enter runs the enter actions
func (s *baseState) Enter() error {
	actions, err := s.prepareEnter()
	if err != nil {
		return err
	}
	return runActions(s.name, PhaseEnter, actions)
}

// Exit runs the exit actions
func (s *baseState) Exit() error {
	actions, err := s.prepareExit()
	if err != nil {
		return err
	}
	return runActions(s.name, PhaseExit, actions)
}

func (s *baseState) prepareEnter() ([]preparedAction, error) {
	return materialize(s.name, PhaseEnter, s.OnEnterActions())
}

func (s *baseState) prepareExit() ([]preparedAction, error) {
	return materialize(s.name, PhaseExit, s.OnExitActions())
}

func removeFactory(list []*ActionFactory, factory *ActionFactory) []*ActionFactory {
	for i, f := range list {
		if f == factory {
			return append(list[:i:i], list[i+1:]...)
		}
	}
	return list
}

// SimplePlanState is a plan state with at most one handler per event type
type SimplePlanState struct {
	baseState
	mode     Mode
	hasMode  bool
	handlers [NumEventTypes]*TransitionHandler
}

// NewSimplePlanState creates a state of the given episode type. Trip states
// should be created with NewTripState so they carry a mode.
func NewSimplePlanState(name string, episodeType EpisodeType) *SimplePlanState {
	return &SimplePlanState{
		baseState: baseState{
			name:        name,
			episodeType: episodeType,
		},
	}
}

// NewActivityState creates an activity state
func NewActivityState(name string) *SimplePlanState {
	return NewSimplePlanState(name, EpisodeActivity)
}

// NewTripState creates a trip state travelled with mode
func NewTripState(name string, mode Mode) *SimplePlanState {
	s := NewSimplePlanState(name, EpisodeTrip)
	s.mode = mode
	s.hasMode = true
	return s
}

// Kind returns KindSimple
func (s *SimplePlanState) Kind() StateKind {
	return KindSimple
}

// Mode returns the travel mode of a trip state
func (s *SimplePlanState) Mode() (Mode, bool) {
	return s.mode, s.hasMode
}

// WillHandleEvent reports whether event would trigger a transition
func (s *SimplePlanState) WillHandleEvent(event Event) bool {
	h := s.Handler(event.Type)
	if h == nil {
		return false
	}
	ok, err := h.Check(event.Payload)
	return err == nil && ok
}

// HandleSafely commits the matching transition, if any
func (s *SimplePlanState) HandleSafely(c Committer, event Event) (bool, error) {
	h := s.Handler(event.Type)
	if h == nil {
		return false, nil
	}

	ok, err := h.Check(event.Payload)
	if err != nil {
		return false, NewGuardError(s.name, h.target.Name(), event.Type, err)
	}
	if !ok {
		return false, nil
	}

	if err := c.CommitTransition(s, h, event); err != nil {
		return committed(err, h), err
	}
	return true, nil
}

// Handle commits the transition registered for the event type, bypassing its guard
func (s *SimplePlanState) Handle(c Committer, event Event) (bool, error) {
	h := s.Handler(event.Type)
	if h == nil {
		return false, NewUnhandledEventError(s.name, event.Type)
	}

	if err := c.CommitTransition(s, h, event); err != nil {
		return committed(err, h), err
	}
	return true, nil
}

// AddHandler registers or replaces the handler for eventType
func (s *SimplePlanState) AddHandler(eventType EventType, target PlanState, guard Guard, actions ...*ActionFactory) error {
	if target == nil {
		return NewConfigurationError(s.name, fmt.Sprintf("nil target for %s", eventType))
	}
	for _, a := range actions {
		if a == nil {
			return NewConfigurationError(s.name, fmt.Sprintf("nil transition action factory for %s", eventType))
		}
	}
	return s.SetHandler(eventType, NewTransitionHandler(target, guard, actions...))
}

// SetHandler registers or replaces handler for eventType
func (s *SimplePlanState) SetHandler(eventType EventType, handler *TransitionHandler) error {
	if !eventType.Valid() {
		return NewConfigurationError(s.name, fmt.Sprintf("invalid event type %d", int(eventType)))
	}
	if handler == nil || handler.target == nil {
		return NewConfigurationError(s.name, fmt.Sprintf("handler for %s has no target", eventType))
	}

	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.handlers[eventType] = handler
	return nil
}

// RemoveHandler removes the handler for eventType if there is one
func (s *SimplePlanState) RemoveHandler(eventType EventType) {
	if !eventType.Valid() {
		return
	}
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.handlers[eventType] = nil
}

// Handler returns the handler registered for eventType, or nil
func (s *SimplePlanState) Handler(eventType EventType) *TransitionHandler {
	if !eventType.Valid() {
		return nil
	}
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	return s.handlers[eventType]
}

// Handlers returns the registered handlers keyed by event type
func (s *SimplePlanState) Handlers() map[EventType]*TransitionHandler {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	result := make(map[EventType]*TransitionHandler)
	for i, h := range s.handlers {
		if h != nil {
			result[EventType(i)] = h
		}
	}
	return result
}

// TerminalPlanState ends a plan. It runs enter and exit actions but never
// handles events.
type TerminalPlanState struct {
	baseState
}

// NewTerminalState creates a terminal state
func NewTerminalState(name string) *TerminalPlanState {
	return &TerminalPlanState{
		baseState: baseState{
			name:        name,
			episodeType: EpisodeTerminal,
		},
	}
}

// Kind returns KindTerminal
func (s *TerminalPlanState) Kind() StateKind {
	return KindTerminal
}

// Mode always reports no mode
func (s *TerminalPlanState) Mode() (Mode, bool) {
	return 0, false
}

// WillHandleEvent always returns false
func (s *TerminalPlanState) WillHandleEvent(Event) bool {
	return false
}

// HandleSafely always returns false
func (s *TerminalPlanState) HandleSafely(Committer, Event) (bool, error) {
	return false, nil
}

// Handle always fails with UnhandledEventError
func (s *TerminalPlanState) Handle(_ Committer, event Event) (bool, error) {
	return false, NewUnhandledEventError(s.name, event.Type)
}

// AddHandler is rejected on terminal states
func (s *TerminalPlanState) AddHandler(eventType EventType, _ PlanState, _ Guard, _ ...*ActionFactory) error {
	return NewConfigurationError(s.name, fmt.Sprintf("terminal state cannot handle %s", eventType))
}

// SetHandler is rejected on terminal states
func (s *TerminalPlanState) SetHandler(eventType EventType, _ *TransitionHandler) error {
	return NewConfigurationError(s.name, fmt.Sprintf("terminal state cannot handle %s", eventType))
}

// RemoveHandler does nothing
func (s *TerminalPlanState) RemoveHandler(EventType) {}

// Handler always returns nil
func (s *TerminalPlanState) Handler(EventType) *TransitionHandler {
	return nil
}

// Handlers always returns an empty map
func (s *TerminalPlanState) Handlers() map[EventType]*TransitionHandler {
	return map[EventType]*TransitionHandler{}
}

// committed reports whether a failed commit still moved the machine to the
// handler's target, as happens when an enter action fails
func committed(err error, h *TransitionHandler) bool {
	var actionErr *ActionError
	return errors.As(err, &actionErr) && actionErr.Settled == h.target.Name()
}
