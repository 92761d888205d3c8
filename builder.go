package planfsm

import (
	"errors"
	"fmt"

	"github.com/anggasct/planfsm/pkg/pool"
)

// PlanTemplate is a built, shareable plan graph. Machines created from it
// share its states; per-agent data lives in the actions the states'
// factories produce.
type PlanTemplate struct {
	name    string
	initial PlanState
	states  map[string]PlanState
	order   []string
}

// Name returns the plan name
func (t *PlanTemplate) Name() string {
	return t.name
}

// Initial returns the state machines start in
func (t *PlanTemplate) Initial() PlanState {
	return t.initial
}

// State returns the state with the given name, or nil
func (t *PlanTemplate) State(name string) PlanState {
	return t.states[name]
}

// States returns all states in declaration order
func (t *PlanTemplate) States() []PlanState {
	result := make([]PlanState, 0, len(t.order))
	for _, name := range t.order {
		result = append(result, t.states[name])
	}
	return result
}

// NewMachine creates a stopped machine for one agent run of this plan
func (t *PlanTemplate) NewMachine(opts ...MachineOption) (*StateMachine, error) {
	return NewStateMachine(t.initial, opts...)
}

// NewMachinePool creates a pool of machines for this plan
func (t *PlanTemplate) NewMachinePool(cfg pool.Config, opts ...MachineOption) (*pool.Pool[*StateMachine], error) {
	return NewMachinePool(t.initial, cfg, opts...)
}

type pendingTransition struct {
	from    string
	event   EventType
	target  string
	guards  []Guard
	actions []*ActionFactory
}

// PlanBuilder provides a fluent interface for building plan templates
type PlanBuilder struct {
	name        string
	states      map[string]PlanState
	order       []string
	initial     string
	transitions []*pendingTransition
	errs        []error
}

// NewPlanBuilder creates a builder for a plan called name
func NewPlanBuilder(name string) *PlanBuilder {
	return &PlanBuilder{
		name:   name,
		states: make(map[string]PlanState),
	}
}

// Activity declares an activity state
func (b *PlanBuilder) Activity(name string) *StateBuilder {
	return b.declare(NewActivityState(name))
}

// Trip declares a trip state travelled with mode
func (b *PlanBuilder) Trip(name string, mode Mode) *StateBuilder {
	return b.declare(NewTripState(name, mode))
}

// Terminal declares a terminal state
func (b *PlanBuilder) Terminal(name string) *StateBuilder {
	return b.declare(NewTerminalState(name))
}

func (b *PlanBuilder) declare(state PlanState) *StateBuilder {
	if _, exists := b.states[state.Name()]; exists {
		b.errs = append(b.errs, NewConfigurationError(b.name, fmt.Sprintf("state '%s' declared twice", state.Name())))
	} else {
		b.states[state.Name()] = state
		b.order = append(b.order, state.Name())
	}
	if b.initial == "" {
		b.initial = state.Name()
	}
	return &StateBuilder{builder: b, state: b.states[state.Name()]}
}

// Build resolves transition targets and returns the template
func (b *PlanBuilder) Build() (*PlanTemplate, error) {
	errs := append([]error(nil), b.errs...)

	if b.initial == "" {
		errs = append(errs, NewConfigurationError(b.name, "no initial state defined"))
	}

	for _, t := range b.transitions {
		from := b.states[t.from]
		target, ok := b.states[t.target]
		if !ok {
			errs = append(errs, NewConfigurationError(b.name,
				fmt.Sprintf("transition %s -> %s on %s: target state not found", t.from, t.target, t.event)))
			continue
		}

		var guard Guard
		switch len(t.guards) {
		case 0:
		case 1:
			guard = t.guards[0]
		default:
			guard = And(t.guards...)
		}

		if err := from.AddHandler(t.event, target, guard, t.actions...); err != nil {
			errs = append(errs, err)
		}
	}

	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}

	return &PlanTemplate{
		name:    b.name,
		initial: b.states[b.initial],
		states:  b.states,
		order:   b.order,
	}, nil
}

// StateBuilder configures one state
type StateBuilder struct {
	builder *PlanBuilder
	state   PlanState
}

// Initial marks the state as the plan's initial state
func (s *StateBuilder) Initial() *StateBuilder {
	s.builder.initial = s.state.Name()
	return s
}

// OnEnter appends an enter action factory
func (s *StateBuilder) OnEnter(factory *ActionFactory) *StateBuilder {
	if err := s.state.AddOnEnterAction(factory); err != nil {
		s.builder.errs = append(s.builder.errs, err)
	}
	return s
}

// OnExit appends an exit action factory
func (s *StateBuilder) OnExit(factory *ActionFactory) *StateBuilder {
	if err := s.state.AddOnExitAction(factory); err != nil {
		s.builder.errs = append(s.builder.errs, err)
	}
	return s
}

// On starts a transition triggered by event
func (s *StateBuilder) On(event EventType) *TransitionBuilder {
	t := &pendingTransition{from: s.state.Name(), event: event}
	return &TransitionBuilder{state: s, transition: t}
}

// Activity declares the next state
func (s *StateBuilder) Activity(name string) *StateBuilder {
	return s.builder.Activity(name)
}

// Trip declares the next state
func (s *StateBuilder) Trip(name string, mode Mode) *StateBuilder {
	return s.builder.Trip(name, mode)
}

// Terminal declares the next state
func (s *StateBuilder) Terminal(name string) *StateBuilder {
	return s.builder.Terminal(name)
}

// Build builds the plan
func (s *StateBuilder) Build() (*PlanTemplate, error) {
	return s.builder.Build()
}

// TransitionBuilder configures a transition; To completes it
type TransitionBuilder struct {
	state      *StateBuilder
	transition *pendingTransition
}

// When adds a guard; several guards must all accept
func (t *TransitionBuilder) When(guard Guard) *TransitionBuilder {
	t.transition.guards = append(t.transition.guards, guard)
	return t
}

// Unless adds a negated guard
func (t *TransitionBuilder) Unless(guard Guard) *TransitionBuilder {
	return t.When(Not(guard))
}

// Do appends a transition action factory
func (t *TransitionBuilder) Do(factory *ActionFactory) *TransitionBuilder {
	t.transition.actions = append(t.transition.actions, factory)
	return t
}

// To sets the target and registers the transition. A later transition on
// the same event replaces an earlier one.
func (t *TransitionBuilder) To(target string) *StateBuilder {
	t.transition.target = target
	t.state.builder.transitions = append(t.state.builder.transitions, t.transition)
	return t.state
}

// EpisodeSpec describes one episode of a sequential plan
type EpisodeSpec struct {
	Name string
	Type EpisodeType
	// Mode is used for trip episodes only
	Mode Mode
	// Leave is the event that ends the episode
	Leave EventType
	// Guard gates Leave, nil accepts every payload
	Guard   Guard
	OnEnter []*ActionFactory
	OnExit  []*ActionFactory
}

// NewSequentialPlan builds a linear plan: each episode leaves on its Leave
// event to the next one, and the last episode leads to a terminal state
// called terminal.
func NewSequentialPlan(name string, terminal string, episodes ...EpisodeSpec) (*PlanTemplate, error) {
	if len(episodes) == 0 {
		return nil, NewConfigurationError(name, "plan has no episodes")
	}

	b := NewPlanBuilder(name)
	for i, ep := range episodes {
		var sb *StateBuilder
		switch ep.Type {
		case EpisodeActivity:
			sb = b.Activity(ep.Name)
		case EpisodeTrip:
			sb = b.Trip(ep.Name, ep.Mode)
		case EpisodeTerminal:
			return nil, NewConfigurationError(name, fmt.Sprintf("episode '%s': terminal episodes are implicit", ep.Name))
		default:
			return nil, NewConfigurationError(name, fmt.Sprintf("episode '%s': unknown episode type %s", ep.Name, ep.Type))
		}
		for _, f := range ep.OnEnter {
			sb.OnEnter(f)
		}
		for _, f := range ep.OnExit {
			sb.OnExit(f)
		}

		next := terminal
		if i+1 < len(episodes) {
			next = episodes[i+1].Name
		}
		tb := sb.On(ep.Leave)
		if ep.Guard != nil {
			tb.When(ep.Guard)
		}
		tb.To(next)
	}
	b.Terminal(terminal)

	return b.Build()
}
