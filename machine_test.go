package planfsm

import (
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/anggasct/planfsm/pkg/pool"
)

func TestStateMachine_New(t *testing.T) {
	home := NewActivityState("AtHome")

	sm, err := NewStateMachine(home, WithMachineID("agent-1"))
	require.NoError(t, err)
	assert.Equal(t, "agent-1", sm.ID())
	assert.NotEmpty(t, sm.RunID())
	assert.Equal(t, MachineStateStopped, sm.MachineState())
	assert.Nil(t, sm.CurrentState())
	assert.Same(t, home, sm.InitialState())

	_, err = NewStateMachine(nil)
	assert.True(t, IsConfigurationError(err))
}

func TestStateMachine_Start(t *testing.T) {
	c := newCommuter(t)
	enter := c.rec.factory("AtHome.enter")
	mustNoError(t, c.home.AddOnEnterAction(enter))

	observer := NewTestObserver(c.rec)
	sm, err := NewStateMachine(c.home, WithObserver(observer))
	mustNoError(t, err)

	if err := sm.Start(); err != nil {
		t.Fatalf("Expected no error starting machine, got: %v", err)
	}

	AssertState(t, sm, "AtHome")
	AssertCalls(t, c.rec, "AtHome.enter", "observer:enter:AtHome", "observer:started")
	if !sm.Started() {
		t.Error("Expected machine to be started")
	}
}

func TestStateMachine_StartAlreadyStarted(t *testing.T) {
	c := newCommuter(t)
	sm := c.start(t)

	err := sm.Start()
	if GetErrorCode(err) != ErrCodeAlreadyStarted {
		t.Errorf("Expected already started error, got %v", err)
	}
}

func TestStateMachine_StartEnterFailure(t *testing.T) {
	c := newCommuter(t)
	mustNoError(t, c.home.AddOnEnterAction(c.rec.failing("AtHome.enter")))
	observer := NewTestObserver(c.rec)

	sm, err := NewStateMachine(c.home, WithObserver(observer))
	mustNoError(t, err)

	err = sm.Start()
	require.Error(t, err)
	assert.True(t, IsActionError(err))
	assert.ErrorIs(t, err, errBoom)
	assert.False(t, sm.Started())
	assert.Nil(t, sm.CurrentState())
	assert.Equal(t, 1, observer.ErrorCount())
}

func TestStateMachine_Stop(t *testing.T) {
	c := newCommuter(t)
	observer := NewTestObserver(c.rec)
	sm := c.start(t, WithObserver(observer))

	require.NoError(t, sm.Stop())
	AssertCalls(t, c.rec, "observer:stopped")
	AssertState(t, sm, "AtHome")

	_, err := sm.HandleSafely(NewEvent(EventDeparture, hm(9, 0)))
	assert.Equal(t, ErrCodeMachineNotStarted, GetErrorCode(err))

	err = sm.Stop()
	assert.Equal(t, ErrCodeMachineNotStarted, GetErrorCode(err))
}

func TestStateMachine_NotStarted(t *testing.T) {
	c := newCommuter(t)
	sm, err := NewStateMachine(c.home)
	mustNoError(t, err)

	handled, err := sm.HandleSafely(NewEvent(EventDeparture, hm(9, 0)))
	assert.False(t, handled)
	assert.True(t, IsMachineError(err))
	assert.Equal(t, ErrCodeMachineNotStarted, GetErrorCode(err))
	assert.False(t, sm.WillHandleEvent(NewEvent(EventDeparture, hm(9, 0))))
}

func TestStateMachine_GuardRejectsEarlyDeparture(t *testing.T) {
	c := newCommuter(t)
	observer := NewTestObserver(c.rec)
	sm := c.start(t, WithObserver(observer))

	handled, err := sm.HandleSafely(NewEvent(EventDeparture, hm(7, 30)))

	require.NoError(t, err)
	assert.False(t, handled)
	AssertState(t, sm, "AtHome")
	assert.Empty(t, c.rec.Calls())
	assert.Equal(t, []string{"DEPARTURE:guard rejected"}, observer.Rejections())
	assert.Equal(t, 0, sm.Transitions())
}

func TestStateMachine_CommitOrder(t *testing.T) {
	c := newCommuter(t)
	observer := NewTestObserver(c.rec)
	sm := c.start(t, WithObserver(observer))

	handled, err := sm.HandleSafely(NewEvent(EventDeparture, hm(8, 15)))

	require.NoError(t, err)
	assert.True(t, handled)
	AssertCalls(t, c.rec,
		"AtHome.exit",
		"observer:exit:AtHome",
		"depart",
		"observer:transition:AtHome->Commuting:DEPARTURE",
		"Commuting.enter",
		"observer:enter:Commuting",
	)
	AssertState(t, sm, "Commuting")

	mode, ok := sm.CurrentState().Mode()
	assert.True(t, ok)
	assert.Equal(t, ModeCar, mode)
	assert.Equal(t, 1, sm.Transitions())
}

func TestStateMachine_EventsProcessedInOrder(t *testing.T) {
	c := newCommuter(t)
	sm := c.start(t)

	events := []Event{
		NewEvent(EventArrival, nil),
		NewEvent(EventDeparture, hm(7, 0)),
		NewEvent(EventDeparture, hm(8, 0)),
		NewEvent(EventDeparture, hm(8, 5)),
		NewEvent(EventArrival, hm(8, 40)),
	}
	expected := []bool{false, false, true, false, true}

	for i, ev := range events {
		handled, err := sm.HandleSafely(ev)
		require.NoError(t, err)
		assert.Equal(t, expected[i], handled, "event %d (%s)", i, ev)
	}

	AssertState(t, sm, "AtWork")
	AssertCalls(t, c.rec, "AtHome.exit", "depart", "Commuting.enter", "Commuting.exit", "AtWork.enter")
	assert.Equal(t, 2, sm.Transitions())
}

func TestStateMachine_RemovedHandler(t *testing.T) {
	c := newCommuter(t)
	sm := c.start(t)
	c.home.RemoveHandler(EventDeparture)

	ev := NewEvent(EventDeparture, hm(8, 15))
	assert.False(t, sm.WillHandleEvent(ev))

	handled, err := sm.HandleSafely(ev)
	assert.NoError(t, err)
	assert.False(t, handled)
	AssertState(t, sm, "AtHome")
}

func TestStateMachine_HandleSafelyWithoutHandler(t *testing.T) {
	c := newCommuter(t)
	observer := NewTestObserver(c.rec)
	sm := c.start(t, WithObserver(observer))

	handled, err := sm.HandleSafely(NewEvent(EventModeChange, ModeBike))

	assert.NoError(t, err)
	assert.False(t, handled)
	AssertState(t, sm, "AtHome")
	assert.Equal(t, []string{"MODE_CHANGE:no handler"}, observer.Rejections())
}

func TestStateMachine_HandleWithoutHandler(t *testing.T) {
	c := newCommuter(t)
	sm := c.start(t)

	handled, err := sm.Handle(NewEvent(EventModeChange, nil))

	assert.False(t, handled)
	require.Error(t, err)
	assert.True(t, IsUnhandledEvent(err))
	assert.Equal(t, ErrCodeUnhandledEvent, GetErrorCode(err))

	var unhandled *UnhandledEventError
	require.ErrorAs(t, err, &unhandled)
	assert.Equal(t, "AtHome", unhandled.State)
	assert.Equal(t, EventModeChange, unhandled.Event)
	AssertState(t, sm, "AtHome")
	assert.Empty(t, c.rec.Calls())
}

func TestStateMachine_HandleBypassesGuard(t *testing.T) {
	c := newCommuter(t)
	sm := c.start(t)

	handled, err := sm.Handle(NewEvent(EventDeparture, hm(6, 0)))

	require.NoError(t, err)
	assert.True(t, handled)
	AssertState(t, sm, "Commuting")
	AssertCalls(t, c.rec, "AtHome.exit", "depart", "Commuting.enter")
}

func TestStateMachine_HandleEnterFailureReportsMove(t *testing.T) {
	c := newCommuter(t)
	mustNoError(t, c.commute.AddOnEnterAction(c.rec.failing("Commuting.fail")))
	sm := c.start(t)

	handled, err := sm.Handle(NewEvent(EventDeparture, hm(6, 0)))

	assert.True(t, handled, "the machine moved before the enter action failed")
	assert.ErrorIs(t, err, errBoom)
	AssertState(t, sm, "Commuting")
	assert.Equal(t, 1, sm.Transitions())
}

func TestStateMachine_GuardFailure(t *testing.T) {
	c := newCommuter(t)
	observer := NewTestObserver(c.rec)
	sm := c.start(t, WithObserver(observer))

	ev := NewEvent(EventDeparture, "eight o'clock")
	assert.False(t, sm.WillHandleEvent(ev))

	handled, err := sm.HandleSafely(ev)

	assert.False(t, handled)
	require.Error(t, err)
	assert.True(t, IsGuardError(err))
	assert.ErrorIs(t, err, ErrPayloadType)
	assert.Equal(t, ErrCodeGuardFailed, GetErrorCode(err))

	var guardErr *GuardError
	require.ErrorAs(t, err, &guardErr)
	assert.Equal(t, "AtHome", guardErr.From)
	assert.Equal(t, "Commuting", guardErr.To)

	AssertState(t, sm, "AtHome")
	assert.Empty(t, c.rec.Calls())
	assert.Equal(t, 1, observer.ErrorCount())
}

func TestStateMachine_GuardPanic(t *testing.T) {
	c := newCommuter(t)
	panicky := GuardFunc(func(any) bool { panic("clock stopped") })
	mustNoError(t, c.home.AddHandler(EventActivityEnd, c.work, panicky))
	sm := c.start(t)

	handled, err := sm.HandleSafely(NewEvent(EventActivityEnd, nil))

	assert.False(t, handled)
	assert.True(t, IsGuardError(err))
	assert.Contains(t, err.Error(), "guard panic")
	AssertState(t, sm, "AtHome")
}

func TestStateMachine_ActionFailures(t *testing.T) {
	tests := []struct {
		name        string
		setup       func(t *testing.T, c *commuter)
		phase       string
		settled     string
		handled     bool
		transitions int
		calls       []string
	}{
		{
			name: "exit action",
			setup: func(t *testing.T, c *commuter) {
				mustNoError(t, c.home.AddOnExitAction(c.rec.failing("AtHome.fail")))
			},
			phase:       PhaseExit,
			settled:     "AtHome",
			transitions: 0,
			calls:       []string{"AtHome.exit", "AtHome.fail"},
		},
		{
			name: "transition action",
			setup: func(t *testing.T, c *commuter) {
				mustNoError(t, c.home.AddHandler(EventDeparture, c.commute, nil, c.depart, c.rec.failing("depart.fail")))
			},
			phase:       PhaseTransition,
			settled:     "AtHome",
			transitions: 0,
			calls:       []string{"AtHome.exit", "depart", "depart.fail"},
		},
		{
			name: "enter action",
			setup: func(t *testing.T, c *commuter) {
				mustNoError(t, c.commute.AddOnEnterAction(c.rec.failing("Commuting.fail")))
			},
			phase:       PhaseEnter,
			settled:     "Commuting",
			handled:     true,
			transitions: 1,
			calls:       []string{"AtHome.exit", "depart", "Commuting.enter", "Commuting.fail"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newCommuter(t)
			tt.setup(t, c)
			sm := c.start(t)

			handled, err := sm.HandleSafely(NewEvent(EventDeparture, hm(9, 0)))

			assert.Equal(t, tt.handled, handled, "handled reports whether the machine moved")
			require.Error(t, err)
			assert.ErrorIs(t, err, errBoom)

			var actionErr *ActionError
			require.ErrorAs(t, err, &actionErr)
			assert.Equal(t, tt.phase, actionErr.Phase)
			assert.Equal(t, tt.settled, actionErr.Settled)
			assert.Contains(t, err.Error(), "settled in '"+tt.settled+"'")

			AssertState(t, sm, tt.settled)
			assert.Equal(t, tt.transitions, sm.Transitions())
			AssertCalls(t, c.rec, tt.calls...)
		})
	}
}

func TestStateMachine_FactoryFailureRunsNothing(t *testing.T) {
	tests := []struct {
		name    string
		factory *ActionFactory
		message string
	}{
		{
			name:    "panicking factory",
			factory: NewActionFactory("broken", func() Action { panic("no memory") }),
			message: "action factory panic",
		},
		{
			name:    "nil action",
			factory: NewActionFactory("empty", func() Action { return nil }),
			message: "returned nil action",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newCommuter(t)
			mustNoError(t, c.commute.AddOnEnterAction(tt.factory))
			sm := c.start(t)

			handled, err := sm.HandleSafely(NewEvent(EventDeparture, hm(9, 0)))

			assert.False(t, handled)
			var actionErr *ActionError
			require.ErrorAs(t, err, &actionErr)
			assert.Equal(t, PhasePrepare, actionErr.Phase)
			assert.Equal(t, "AtHome", actionErr.Settled)
			assert.Contains(t, err.Error(), tt.message)

			// no exit action ran before the failure was detected
			assert.Empty(t, c.rec.Calls())
			AssertState(t, sm, "AtHome")
		})
	}
}

func TestStateMachine_ActionPanic(t *testing.T) {
	c := newCommuter(t)
	mustNoError(t, c.home.AddHandler(EventDeparture, c.commute, nil,
		ActionFactoryFunc("explode", func() error { panic("kaboom") })))
	sm := c.start(t)

	_, err := sm.HandleSafely(NewEvent(EventDeparture, hm(9, 0)))

	require.Error(t, err)
	assert.Contains(t, err.Error(), "action panic: kaboom")
	AssertState(t, sm, "AtHome")
}

func TestStateMachine_ReentrantDispatch(t *testing.T) {
	c := newCommuter(t)

	var sm *StateMachine
	var innerErr error
	reenter := ActionFactoryFunc("reenter", func() error {
		_, innerErr = sm.HandleSafely(NewEvent(EventArrival, nil))
		return nil
	})
	mustNoError(t, c.commute.AddOnEnterAction(reenter))
	sm = c.start(t)

	handled, err := sm.HandleSafely(NewEvent(EventDeparture, hm(9, 0)))

	require.NoError(t, err)
	assert.True(t, handled)
	assert.Equal(t, ErrCodeTransitionInProgress, GetErrorCode(innerErr))
	AssertState(t, sm, "Commuting")
}

func TestStateMachine_ConcurrentDispatchRejected(t *testing.T) {
	c := newCommuter(t)

	entered := make(chan struct{})
	release := make(chan struct{})
	mustNoError(t, c.commute.AddOnEnterAction(ActionFactoryFunc("block", func() error {
		close(entered)
		<-release
		return nil
	})))
	sm := c.start(t)

	done := make(chan bool)
	go func() {
		handled, _ := sm.HandleSafely(NewEvent(EventDeparture, hm(9, 0)))
		done <- handled
	}()

	<-entered
	_, err := sm.HandleSafely(NewEvent(EventArrival, nil))
	assert.Equal(t, ErrCodeTransitionInProgress, GetErrorCode(err))
	assert.Equal(t, ErrCodeTransitionInProgress, GetErrorCode(sm.Reset(nil)))

	close(release)
	assert.True(t, <-done)
	AssertState(t, sm, "Commuting")
}

func TestStateMachine_StaleCommit(t *testing.T) {
	c := newCommuter(t)
	sm := c.start(t)

	err := sm.CommitTransition(c.commute, c.commute.Handler(EventArrival), NewEvent(EventArrival, nil))

	assert.Equal(t, ErrCodeStaleTransition, GetErrorCode(err))
	AssertState(t, sm, "AtHome")
	assert.Empty(t, c.rec.Calls())
}

func TestStateMachine_CommitNilHandler(t *testing.T) {
	c := newCommuter(t)
	sm := c.start(t)

	err := sm.CommitTransition(c.home, nil, NewEvent(EventPlanEnd, nil))
	assert.True(t, IsUnhandledEvent(err))
}

func TestStateMachine_StateDrivenDirectly(t *testing.T) {
	c := newCommuter(t)
	sm := c.start(t)

	handled, err := c.home.HandleSafely(sm, NewEvent(EventDeparture, hm(8, 30)))

	require.NoError(t, err)
	assert.True(t, handled)
	AssertState(t, sm, "Commuting")
}

func TestStateMachine_Reset(t *testing.T) {
	c := newCommuter(t)
	sm := c.start(t)
	runID := sm.RunID()

	_, err := sm.HandleSafely(NewEvent(EventDeparture, hm(8, 30)))
	require.NoError(t, err)

	require.NoError(t, sm.Reset(nil))
	assert.Nil(t, sm.CurrentState())
	assert.False(t, sm.Started())
	assert.Equal(t, 0, sm.Transitions())
	assert.NotEqual(t, runID, sm.RunID())
	assert.Same(t, c.home, sm.InitialState())

	require.NoError(t, sm.Reset(c.work))
	require.NoError(t, sm.Start())
	AssertState(t, sm, "AtWork")
}

func TestStateMachine_Terminal(t *testing.T) {
	c := newCommuter(t)
	done := NewTerminalState("Done")
	mustNoError(t, c.work.AddHandler(EventPlanEnd, done, nil))
	sm := c.start(t)

	for _, ev := range []Event{
		NewEvent(EventDeparture, hm(8, 30)),
		NewEvent(EventArrival, nil),
		NewEvent(EventPlanEnd, nil),
	} {
		handled, err := sm.HandleSafely(ev)
		require.NoError(t, err)
		require.True(t, handled)
	}

	assert.True(t, sm.IsTerminated())
	handled, err := sm.HandleSafely(NewEvent(EventDeparture, hm(9, 0)))
	assert.NoError(t, err)
	assert.False(t, handled)

	_, err = sm.Handle(NewEvent(EventDeparture, hm(9, 0)))
	assert.True(t, IsUnhandledEvent(err))
}

// counterAction carries per-agent state
type counterAction struct {
	runs int
}

func (a *counterAction) Run() error {
	a.runs++
	return nil
}

func TestStateMachine_IndependentActionInstances(t *testing.T) {
	var mutex sync.Mutex
	var created []*counterAction
	factory := NewActionFactory("count", func() Action {
		a := &counterAction{}
		mutex.Lock()
		created = append(created, a)
		mutex.Unlock()
		return a
	})

	home := NewActivityState("AtHome")
	commute := NewTripState("Commuting", ModeWalk)
	mustNoError(t, home.AddHandler(EventDeparture, commute, nil, factory))

	first, err := NewStateMachine(home)
	require.NoError(t, err)
	second, err := NewStateMachine(home)
	require.NoError(t, err)
	require.NoError(t, first.Start())
	require.NoError(t, second.Start())

	_, err = first.HandleSafely(NewEvent(EventDeparture, nil))
	require.NoError(t, err)
	_, err = second.HandleSafely(NewEvent(EventDeparture, nil))
	require.NoError(t, err)

	require.Len(t, created, 2)
	assert.NotSame(t, created[0], created[1])
	created[0].runs = 100
	assert.Equal(t, 1, created[1].runs)
}

func TestStateMachine_SharedTemplateConcurrently(t *testing.T) {
	c := newCommuter(t)
	done := NewTerminalState("Done")
	mustNoError(t, c.work.AddHandler(EventPlanEnd, done, nil))

	const agents = 50
	var wg sync.WaitGroup
	errs := make(chan error, agents)

	for i := 0; i < agents; i++ {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			sm, err := NewStateMachine(c.home)
			if err != nil {
				errs <- err
				return
			}
			if err := sm.Start(); err != nil {
				errs <- err
				return
			}
			for _, ev := range []Event{
				NewEvent(EventDeparture, hm(7, i%60)),
				NewEvent(EventDeparture, hm(8, i%60)),
				NewEvent(EventArrival, nil),
				NewEvent(EventPlanEnd, nil),
			} {
				if _, err := sm.HandleSafely(ev); err != nil {
					errs <- err
					return
				}
			}
			if !sm.IsTerminated() {
				errs <- errors.New("agent did not reach the terminal state")
			}
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		t.Error(err)
	}
	assert.Len(t, c.rec.Calls(), agents*5)
}

// panicObserver only implements the required observer methods
type panicObserver struct{}

func (panicObserver) OnTransition(*StateMachine, PlanState, PlanState, Event) {
	panic("observer bug")
}

func (panicObserver) OnStateEnter(*StateMachine, PlanState) {}

func TestStateMachine_ObserverPanicIsContained(t *testing.T) {
	c := newCommuter(t)
	sm := c.start(t, WithObserver(panicObserver{}))

	handled, err := sm.HandleSafely(NewEvent(EventDeparture, hm(8, 30)))

	require.NoError(t, err)
	assert.True(t, handled)
	AssertState(t, sm, "Commuting")
}

func TestMachinePool(t *testing.T) {
	c := newCommuter(t)

	machines, err := NewMachinePool(c.home, pool.Config{InitialSize: 5})
	require.NoError(t, err)

	sm, err := machines.Pop()
	require.NoError(t, err)
	assert.Equal(t, 4, machines.Len())

	require.NoError(t, sm.Start())
	_, err = sm.HandleSafely(NewEvent(EventDeparture, hm(8, 30)))
	require.NoError(t, err)

	require.NoError(t, sm.Reset(nil))
	machines.Push(sm)
	assert.Equal(t, 5, machines.Len())

	_, err = NewMachinePool(nil, pool.Config{InitialSize: 5})
	assert.True(t, IsConfigurationError(err))
}

func TestMachineState_String(t *testing.T) {
	assert.Equal(t, "stopped", MachineStateStopped.String())
	assert.Equal(t, "started", MachineStateStarted.String())
	assert.True(t, strings.HasPrefix(MachineState(7).String(), "MachineState("))
}
