// Package observers provides observers for monitoring plan state machines
package observers

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/anggasct/planfsm"
)

// LoggingObserver logs state machine events through zap
type LoggingObserver struct {
	planfsm.BaseObserver
	logger *zap.Logger
	level  zapcore.Level
}

var _ planfsm.ExtendedObserver = (*LoggingObserver)(nil)

// NewLoggingObserver creates a logging observer. Transitions and state
// changes are logged at level; rejections at debug and errors at error.
func NewLoggingObserver(logger *zap.Logger, level zapcore.Level) *LoggingObserver {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LoggingObserver{
		logger: logger,
		level:  level,
	}
}

func (o *LoggingObserver) log(level zapcore.Level, msg string, sm *planfsm.StateMachine, fields ...zap.Field) {
	if ce := o.logger.Check(level, msg); ce != nil {
		ce.Write(append(fields, zap.String("machine", sm.ID()), zap.String("run", sm.RunID()))...)
	}
}

// OnStateEnter logs state entry
func (o *LoggingObserver) OnStateEnter(sm *planfsm.StateMachine, state planfsm.PlanState) {
	o.log(o.level, "Entered state", sm, stateFields(state)...)
}

// OnStateExit logs state exit
func (o *LoggingObserver) OnStateExit(sm *planfsm.StateMachine, state planfsm.PlanState) {
	o.log(o.level, "Exited state", sm, zap.String("state", state.Name()))
}

// OnTransition logs transitions
func (o *LoggingObserver) OnTransition(sm *planfsm.StateMachine, from, to planfsm.PlanState, event planfsm.Event) {
	o.log(o.level, "Transition", sm,
		zap.String("from", from.Name()),
		zap.String("to", to.Name()),
		zap.Stringer("event", event.Type))
}

// OnEventRejected logs events the active state did not take
func (o *LoggingObserver) OnEventRejected(sm *planfsm.StateMachine, event planfsm.Event, reason string) {
	o.log(zapcore.DebugLevel, "Event rejected", sm,
		zap.Stringer("event", event.Type),
		zap.String("reason", reason))
}

// OnError logs errors
func (o *LoggingObserver) OnError(sm *planfsm.StateMachine, err error) {
	o.log(zapcore.ErrorLevel, "State machine error", sm, zap.Error(err))
}

// OnMachineStarted logs machine start
func (o *LoggingObserver) OnMachineStarted(sm *planfsm.StateMachine) {
	o.log(zapcore.DebugLevel, "Machine started", sm)
}

// OnMachineStopped logs machine stop
func (o *LoggingObserver) OnMachineStopped(sm *planfsm.StateMachine) {
	o.log(zapcore.DebugLevel, "Machine stopped", sm)
}

func stateFields(state planfsm.PlanState) []zap.Field {
	fields := []zap.Field{
		zap.String("state", state.Name()),
		zap.Stringer("episode", state.StateType()),
	}
	if mode, ok := state.Mode(); ok {
		fields = append(fields, zap.Stringer("mode", mode))
	}
	return fields
}
