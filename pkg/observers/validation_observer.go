package observers

import (
	"fmt"
	"sync"

	"github.com/anggasct/planfsm"
)

// ValidationObserver checks that machines only take edges of their plan
// graph and that every transition follows the exit, transition, enter order.
// Machines are tracked by id, so one observer can watch a population.
type ValidationObserver struct {
	planfsm.BaseObserver
	allowedTransitions map[string]map[string]bool
	expectedStates     map[string]bool
	visitedStates      map[string]bool
	exited             map[string]string
	pendingEnter       map[string]string
	violations         []string
	mutex              sync.RWMutex
}

var _ planfsm.ExtendedObserver = (*ValidationObserver)(nil)

// NewValidationObserver creates a new validation observer
func NewValidationObserver() *ValidationObserver {
	return &ValidationObserver{
		allowedTransitions: make(map[string]map[string]bool),
		expectedStates:     make(map[string]bool),
		visitedStates:      make(map[string]bool),
		exited:             make(map[string]string),
		pendingEnter:       make(map[string]string),
		violations:         make([]string, 0),
	}
}

// NewPlanValidationObserver creates an observer that allows exactly the
// edges of tmpl and expects all of its states to be visited
func NewPlanValidationObserver(tmpl *planfsm.PlanTemplate) *ValidationObserver {
	o := NewValidationObserver()
	for _, state := range tmpl.States() {
		o.AddExpectedState(state.Name())
		for _, h := range state.Handlers() {
			o.AddAllowedTransition(state.Name(), h.Target().Name())
		}
	}
	return o
}

// AddExpectedState adds an expected state
func (o *ValidationObserver) AddExpectedState(stateName string) {
	o.mutex.Lock()
	defer o.mutex.Unlock()
	o.expectedStates[stateName] = true
}

// AddAllowedTransition adds an allowed transition
func (o *ValidationObserver) AddAllowedTransition(from, to string) {
	o.mutex.Lock()
	defer o.mutex.Unlock()

	if _, exists := o.allowedTransitions[from]; !exists {
		o.allowedTransitions[from] = make(map[string]bool)
	}
	o.allowedTransitions[from][to] = true
}

// OnStateExit records the exit so the following transition can be checked
func (o *ValidationObserver) OnStateExit(sm *planfsm.StateMachine, state planfsm.PlanState) {
	o.mutex.Lock()
	defer o.mutex.Unlock()
	o.exited[sm.ID()] = state.Name()
}

// OnTransition validates transitions
func (o *ValidationObserver) OnTransition(sm *planfsm.StateMachine, from, to planfsm.PlanState, event planfsm.Event) {
	o.mutex.Lock()
	defer o.mutex.Unlock()

	fromName, toName := from.Name(), to.Name()

	if exited := o.exited[sm.ID()]; exited != fromName {
		o.violations = append(o.violations, fmt.Sprintf(
			"transition from '%s' on '%s' without exiting it first", fromName, event.Type))
	}
	delete(o.exited, sm.ID())

	if allowed, exists := o.allowedTransitions[fromName]; exists && !allowed[toName] {
		o.violations = append(o.violations, fmt.Sprintf(
			"invalid transition from '%s' to '%s' on event '%s'", fromName, toName, event.Type))
	}
	o.pendingEnter[sm.ID()] = toName
}

// OnStateEnter marks the state visited and closes a pending transition
func (o *ValidationObserver) OnStateEnter(sm *planfsm.StateMachine, state planfsm.PlanState) {
	o.mutex.Lock()
	defer o.mutex.Unlock()

	o.visitedStates[state.Name()] = true
	if pending, ok := o.pendingEnter[sm.ID()]; ok {
		if pending != state.Name() {
			o.violations = append(o.violations, fmt.Sprintf(
				"entered '%s' while transition to '%s' was pending", state.Name(), pending))
		}
		delete(o.pendingEnter, sm.ID())
	}
}

// OnError drops the bookkeeping of a failed transition
func (o *ValidationObserver) OnError(sm *planfsm.StateMachine, _ error) {
	o.mutex.Lock()
	defer o.mutex.Unlock()
	delete(o.exited, sm.ID())
	delete(o.pendingEnter, sm.ID())
}

// GetViolations returns all validation violations
func (o *ValidationObserver) GetViolations() []string {
	o.mutex.RLock()
	defer o.mutex.RUnlock()

	result := make([]string, len(o.violations))
	copy(result, o.violations)
	return result
}

// GetUnvisitedStates returns states that were expected but not visited
func (o *ValidationObserver) GetUnvisitedStates() []string {
	o.mutex.RLock()
	defer o.mutex.RUnlock()

	var unvisited []string
	for state := range o.expectedStates {
		if !o.visitedStates[state] {
			unvisited = append(unvisited, state)
		}
	}
	return unvisited
}

// HasViolations returns whether any violations occurred
func (o *ValidationObserver) HasViolations() bool {
	o.mutex.RLock()
	defer o.mutex.RUnlock()
	return len(o.violations) > 0
}

// Reset resets the validation state
func (o *ValidationObserver) Reset() {
	o.mutex.Lock()
	defer o.mutex.Unlock()

	o.visitedStates = make(map[string]bool)
	o.exited = make(map[string]string)
	o.pendingEnter = make(map[string]string)
	o.violations = make([]string, 0)
}
