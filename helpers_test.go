package planfsm

import (
	"errors"
	"fmt"
	"sync"
	"testing"
)

// clock is a test payload holding minutes since midnight
type clock int

func hm(h, m int) clock {
	return clock(h*60 + m)
}

func notBefore(c clock) Guard {
	return PayloadGuard(func(t clock) bool { return t >= c })
}

// recorder collects the order of actions and observer callbacks
type recorder struct {
	mutex sync.Mutex
	calls []string
}

func (r *recorder) record(call string) {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	r.calls = append(r.calls, call)
}

func (r *recorder) Calls() []string {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	return append([]string(nil), r.calls...)
}

func (r *recorder) Reset() {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	r.calls = nil
}

func (r *recorder) factory(name string) *ActionFactory {
	return ActionFactoryFunc(name, func() error {
		r.record(name)
		return nil
	})
}

func (r *recorder) failing(name string) *ActionFactory {
	return ActionFactoryFunc(name, func() error {
		r.record(name)
		return fmt.Errorf("%s: %w", name, errBoom)
	})
}

var errBoom = errors.New("boom")

// TestObserver records every callback into a recorder
type TestObserver struct {
	rec      *recorder
	mutex    sync.Mutex
	Errors   []error
	Rejected []string
}

func NewTestObserver(rec *recorder) *TestObserver {
	return &TestObserver{rec: rec}
}

func (o *TestObserver) OnTransition(_ *StateMachine, from, to PlanState, event Event) {
	o.rec.record(fmt.Sprintf("observer:transition:%s->%s:%s", from.Name(), to.Name(), event.Type))
}

func (o *TestObserver) OnStateEnter(_ *StateMachine, state PlanState) {
	o.rec.record("observer:enter:" + state.Name())
}

func (o *TestObserver) OnStateExit(_ *StateMachine, state PlanState) {
	o.rec.record("observer:exit:" + state.Name())
}

func (o *TestObserver) OnEventRejected(_ *StateMachine, event Event, reason string) {
	o.mutex.Lock()
	defer o.mutex.Unlock()
	o.Rejected = append(o.Rejected, fmt.Sprintf("%s:%s", event.Type, reason))
}

func (o *TestObserver) OnError(_ *StateMachine, err error) {
	o.mutex.Lock()
	defer o.mutex.Unlock()
	o.Errors = append(o.Errors, err)
}

func (o *TestObserver) OnMachineStarted(*StateMachine) {
	o.rec.record("observer:started")
}

func (o *TestObserver) OnMachineStopped(*StateMachine) {
	o.rec.record("observer:stopped")
}

func (o *TestObserver) ErrorCount() int {
	o.mutex.Lock()
	defer o.mutex.Unlock()
	return len(o.Errors)
}

func (o *TestObserver) Rejections() []string {
	o.mutex.Lock()
	defer o.mutex.Unlock()
	return append([]string(nil), o.Rejected...)
}

// commuter is AtHome -(DEPARTURE, not before 8:00)-> Commuting -(ARRIVAL)-> AtWork
type commuter struct {
	rec     *recorder
	home    *SimplePlanState
	commute *SimplePlanState
	work    *SimplePlanState
	depart  *ActionFactory
}

func newCommuter(t *testing.T) *commuter {
	t.Helper()

	c := &commuter{
		rec:     &recorder{},
		home:    NewActivityState("AtHome"),
		commute: NewTripState("Commuting", ModeCar),
		work:    NewActivityState("AtWork"),
	}
	c.depart = c.rec.factory("depart")

	mustNoError(t, c.home.AddOnExitAction(c.rec.factory("AtHome.exit")))
	mustNoError(t, c.home.AddHandler(EventDeparture, c.commute, notBefore(hm(8, 0)), c.depart))
	mustNoError(t, c.commute.AddOnEnterAction(c.rec.factory("Commuting.enter")))
	mustNoError(t, c.commute.AddOnExitAction(c.rec.factory("Commuting.exit")))
	mustNoError(t, c.commute.AddHandler(EventArrival, c.work, nil))
	mustNoError(t, c.work.AddOnEnterAction(c.rec.factory("AtWork.enter")))
	return c
}

// start creates a started machine on the fixture and clears the recorder
func (c *commuter) start(t *testing.T, opts ...MachineOption) *StateMachine {
	t.Helper()
	sm, err := NewStateMachine(c.home, opts...)
	mustNoError(t, err)
	mustNoError(t, sm.Start())
	c.rec.Reset()
	return sm
}

func mustNoError(t *testing.T, err error) {
	t.Helper()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

// AssertState checks the active state of the machine
func AssertState(t *testing.T, sm *StateMachine, expected string) {
	t.Helper()
	current := sm.CurrentState()
	if current == nil {
		t.Fatalf("Expected state %s, machine has no active state", expected)
	}
	if current.Name() != expected {
		t.Errorf("Expected state %s, got %s", expected, current.Name())
	}
}

// AssertCalls checks the recorded call sequence
func AssertCalls(t *testing.T, rec *recorder, expected ...string) {
	t.Helper()
	got := rec.Calls()
	if len(got) != len(expected) {
		t.Fatalf("Expected calls %v, got %v", expected, got)
	}
	for i := range expected {
		if got[i] != expected[i] {
			t.Fatalf("Expected calls %v, got %v", expected, got)
		}
	}
}

// fakeCommitter records commit requests made by a state
type fakeCommitter struct {
	commits []string
	err     error
}

func (f *fakeCommitter) CommitTransition(from PlanState, handler *TransitionHandler, event Event) error {
	f.commits = append(f.commits, fmt.Sprintf("%s->%s:%s", from.Name(), handler.Target().Name(), event.Type))
	return f.err
}
