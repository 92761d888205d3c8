package planfsm

import (
	"fmt"
	"sync"
)

// Observer represents an entity that observes state machine lifecycle
type Observer interface {
	// OnTransition is called after the active state has been swapped
	OnTransition(sm *StateMachine, from, to PlanState, event Event)

	// OnStateEnter is called after a state's enter actions ran
	OnStateEnter(sm *StateMachine, state PlanState)
}

// ExtendedObserver provides additional optional observation methods
type ExtendedObserver interface {
	Observer

	// OnStateExit is called after a state's exit actions ran
	OnStateExit(sm *StateMachine, state PlanState)

	// OnEventRejected is called when the active state does not take an event
	OnEventRejected(sm *StateMachine, event Event, reason string)

	// OnError is called when event processing fails
	OnError(sm *StateMachine, err error)

	// OnMachineStarted is called when the state machine starts
	OnMachineStarted(sm *StateMachine)

	// OnMachineStopped is called when the state machine stops
	OnMachineStopped(sm *StateMachine)
}

// BaseObserver provides a default implementation with no-op methods
type BaseObserver struct{}

// OnTransition implements the required Observer method
func (o *BaseObserver) OnTransition(*StateMachine, PlanState, PlanState, Event) {}

// OnStateEnter implements the required Observer method
func (o *BaseObserver) OnStateEnter(*StateMachine, PlanState) {}

// OnStateExit implements the optional ExtendedObserver method
func (o *BaseObserver) OnStateExit(*StateMachine, PlanState) {}

// OnEventRejected implements the optional ExtendedObserver method
func (o *BaseObserver) OnEventRejected(*StateMachine, Event, string) {}

// OnError implements the optional ExtendedObserver method
func (o *BaseObserver) OnError(*StateMachine, error) {}

// OnMachineStarted implements the optional ExtendedObserver method
func (o *BaseObserver) OnMachineStarted(*StateMachine) {}

// OnMachineStopped implements the optional ExtendedObserver method
func (o *BaseObserver) OnMachineStopped(*StateMachine) {}

// ObserverManager manages a collection of observers
type ObserverManager struct {
	observers []Observer
	mutex     sync.RWMutex
}

// NewObserverManager creates a new observer manager
func NewObserverManager() *ObserverManager {
	return &ObserverManager{
		observers: make([]Observer, 0),
	}
}

// AddObserver adds an observer to the manager
func (om *ObserverManager) AddObserver(observer Observer) {
	om.mutex.Lock()
	defer om.mutex.Unlock()
	om.observers = append(om.observers, observer)
}

// RemoveObserver removes an observer from the manager
func (om *ObserverManager) RemoveObserver(observer Observer) {
	om.mutex.Lock()
	defer om.mutex.Unlock()
	for i, obs := range om.observers {
		if obs == observer {
			om.observers = append(om.observers[:i], om.observers[i+1:]...)
			break
		}
	}
}

// Len returns the number of registered observers
func (om *ObserverManager) Len() int {
	om.mutex.RLock()
	defer om.mutex.RUnlock()
	return len(om.observers)
}

func (om *ObserverManager) snapshot() []Observer {
	om.mutex.RLock()
	defer om.mutex.RUnlock()
	observers := make([]Observer, len(om.observers))
	copy(observers, om.observers)
	return observers
}

// notify calls fn for every observer. An observer panic is reported to that
// observer's OnError and never reaches the machine.
func (om *ObserverManager) notify(sm *StateMachine, hook string, fn func(Observer)) {
	for _, observer := range om.snapshot() {
		func() {
			defer func() {
				if r := recover(); r != nil {
					if extObs, ok := observer.(ExtendedObserver); ok {
						func() {
							defer func() { _ = recover() }()
							extObs.OnError(sm, fmt.Errorf("observer panic in %s: %v", hook, r))
						}()
					}
				}
			}()
			fn(observer)
		}()
	}
}

func (om *ObserverManager) notifyExtended(sm *StateMachine, hook string, fn func(ExtendedObserver)) {
	om.notify(sm, hook, func(o Observer) {
		if extObs, ok := o.(ExtendedObserver); ok {
			fn(extObs)
		}
	})
}

// NotifyTransition notifies all observers of a state transition
func (om *ObserverManager) NotifyTransition(sm *StateMachine, from, to PlanState, event Event) {
	om.notify(sm, "OnTransition", func(o Observer) { o.OnTransition(sm, from, to, event) })
}

// NotifyStateEnter notifies all observers of state entry
func (om *ObserverManager) NotifyStateEnter(sm *StateMachine, state PlanState) {
	om.notify(sm, "OnStateEnter", func(o Observer) { o.OnStateEnter(sm, state) })
}

// NotifyStateExit notifies all observers of state exit
func (om *ObserverManager) NotifyStateExit(sm *StateMachine, state PlanState) {
	om.notifyExtended(sm, "OnStateExit", func(o ExtendedObserver) { o.OnStateExit(sm, state) })
}

// NotifyEventRejected notifies all observers of event rejection
func (om *ObserverManager) NotifyEventRejected(sm *StateMachine, event Event, reason string) {
	om.notifyExtended(sm, "OnEventRejected", func(o ExtendedObserver) { o.OnEventRejected(sm, event, reason) })
}

// NotifyError notifies all observers of errors
func (om *ObserverManager) NotifyError(sm *StateMachine, err error) {
	om.notifyExtended(sm, "OnError", func(o ExtendedObserver) { o.OnError(sm, err) })
}

// NotifyMachineStarted notifies all observers that the machine has started
func (om *ObserverManager) NotifyMachineStarted(sm *StateMachine) {
	om.notifyExtended(sm, "OnMachineStarted", func(o ExtendedObserver) { o.OnMachineStarted(sm) })
}

// NotifyMachineStopped notifies all observers that the machine has stopped
func (om *ObserverManager) NotifyMachineStopped(sm *StateMachine) {
	om.notifyExtended(sm, "OnMachineStopped", func(o ExtendedObserver) { o.OnMachineStopped(sm) })
}
