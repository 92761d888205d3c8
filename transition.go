package planfsm

// TransitionHandler binds an event type within a state to a target state, a
// guard and the factories of the transition's own actions. Handlers reference
// their target; they do not own it.
type TransitionHandler struct {
	target  PlanState
	guard   Guard
	actions []*ActionFactory
}

// NewTransitionHandler creates a handler. A nil guard accepts every payload.
func NewTransitionHandler(target PlanState, guard Guard, actions ...*ActionFactory) *TransitionHandler {
	return &TransitionHandler{
		target:  target,
		guard:   guard,
		actions: append([]*ActionFactory(nil), actions...),
	}
}

// Target returns the state the transition leads to
func (h *TransitionHandler) Target() PlanState {
	return h.target
}

// Guard returns the guard of the transition, possibly nil
func (h *TransitionHandler) Guard() Guard {
	return h.guard
}

// Actions returns a copy of the transition action factories
func (h *TransitionHandler) Actions() []*ActionFactory {
	return append([]*ActionFactory(nil), h.actions...)
}

// Check evaluates the guard against payload, recovering guard panics
func (h *TransitionHandler) Check(payload any) (bool, error) {
	return evaluateGuard(h.guard, payload)
}
