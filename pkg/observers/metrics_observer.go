package observers

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/anggasct/planfsm"
)

// MetricsObserver exports state machine activity as Prometheus counters.
// One observer is meant to be shared by every machine of a population.
type MetricsObserver struct {
	planfsm.BaseObserver
	transitions *prometheus.CounterVec
	enters      *prometheus.CounterVec
	rejections  *prometheus.CounterVec
	errors      *prometheus.CounterVec
	starts      prometheus.Counter
	stops       prometheus.Counter
}

var _ planfsm.ExtendedObserver = (*MetricsObserver)(nil)

// NewMetricsObserver creates the collectors and registers them with reg
func NewMetricsObserver(reg prometheus.Registerer, namespace string) (*MetricsObserver, error) {
	o := &MetricsObserver{
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "machine",
			Name:      "transitions_total",
			Help:      "Committed transitions by source state, target state and event type",
		}, []string{"from", "to", "event"}),
		enters: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "machine",
			Name:      "state_enters_total",
			Help:      "Completed state entries by state and episode type",
		}, []string{"state", "episode"}),
		rejections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "machine",
			Name:      "events_rejected_total",
			Help:      "Events not taken by the active state",
		}, []string{"event", "reason"}),
		errors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "machine",
			Name:      "errors_total",
			Help:      "Event processing errors by error code",
		}, []string{"code"}),
		starts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "machine",
			Name:      "starts_total",
			Help:      "Machine starts",
		}),
		stops: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "machine",
			Name:      "stops_total",
			Help:      "Machine stops",
		}),
	}

	for _, c := range []prometheus.Collector{o.transitions, o.enters, o.rejections, o.errors, o.starts, o.stops} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return o, nil
}

// OnTransition counts transitions
func (o *MetricsObserver) OnTransition(_ *planfsm.StateMachine, from, to planfsm.PlanState, event planfsm.Event) {
	o.transitions.WithLabelValues(from.Name(), to.Name(), event.Type.String()).Inc()
}

// OnStateEnter counts state entries
func (o *MetricsObserver) OnStateEnter(_ *planfsm.StateMachine, state planfsm.PlanState) {
	o.enters.WithLabelValues(state.Name(), state.StateType().String()).Inc()
}

// OnEventRejected counts rejected events
func (o *MetricsObserver) OnEventRejected(_ *planfsm.StateMachine, event planfsm.Event, reason string) {
	o.rejections.WithLabelValues(event.Type.String(), reason).Inc()
}

// OnError counts errors
func (o *MetricsObserver) OnError(_ *planfsm.StateMachine, err error) {
	o.errors.WithLabelValues(errorCodeName(planfsm.GetErrorCode(err))).Inc()
}

// OnMachineStarted counts starts
func (o *MetricsObserver) OnMachineStarted(*planfsm.StateMachine) {
	o.starts.Inc()
}

// OnMachineStopped counts stops
func (o *MetricsObserver) OnMachineStopped(*planfsm.StateMachine) {
	o.stops.Inc()
}

func errorCodeName(code planfsm.ErrorCode) string {
	switch code {
	case planfsm.ErrCodeUnhandledEvent:
		return "unhandled_event"
	case planfsm.ErrCodeGuardFailed:
		return "guard_failed"
	case planfsm.ErrCodeActionFailed:
		return "action_failed"
	case planfsm.ErrCodeTransitionInProgress:
		return "transition_in_progress"
	case planfsm.ErrCodeMachineNotStarted:
		return "not_started"
	case planfsm.ErrCodeAlreadyStarted:
		return "already_started"
	case planfsm.ErrCodeStaleTransition:
		return "stale_transition"
	case planfsm.ErrCodeInvalidConfiguration:
		return "invalid_configuration"
	case planfsm.ErrCodeInvalidEvent:
		return "invalid_event"
	default:
		return "other"
	}
}
