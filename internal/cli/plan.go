package cli

import (
	"math/rand/v2"
	"sync/atomic"
	"time"

	"github.com/anggasct/planfsm"
	"github.com/anggasct/planfsm/pkg/simulation"
)

// Clock times are carried as the offset from midnight.
const (
	morningDeparture = 8 * time.Hour
	eveningDeparture = 17 * time.Hour
)

// tripCounter counts completed trips across the population
type tripCounter struct {
	trips atomic.Int64
}

// tripRecord is materialized per transition and holds that trip's data
type tripRecord struct {
	counter *tripCounter
	arrived bool
}

func (r *tripRecord) Run() error {
	r.arrived = true
	r.counter.trips.Add(1)
	return nil
}

func notBefore(t time.Duration) planfsm.Guard {
	return planfsm.PayloadGuard(func(now time.Duration) bool { return now >= t })
}

// commuterPlan builds the home, work, home day plan
func commuterPlan(mode planfsm.Mode, counter *tripCounter) (*planfsm.PlanTemplate, error) {
	arrive := planfsm.NewActionFactory("record-trip", func() planfsm.Action {
		return &tripRecord{counter: counter}
	})

	return planfsm.NewPlanBuilder("commuter").
		Activity("AtHome").Initial().
		On(planfsm.EventDeparture).When(notBefore(morningDeparture)).To("Commuting").
		Trip("Commuting", mode).
		On(planfsm.EventArrival).Do(arrive).To("AtWork").
		Activity("AtWork").
		On(planfsm.EventDeparture).When(notBefore(eveningDeparture)).To("ReturningHome").
		Trip("ReturningHome", mode).
		On(planfsm.EventArrival).Do(arrive).To("AtHomeEvening").
		Activity("AtHomeEvening").
		On(planfsm.EventPlanEnd).To("Done").
		Terminal("Done").
		Build()
}

// commuterEvents generates the events of one agent. Early risers try to
// leave before the guard allows it and retry a little later.
func commuterEvents(id string, rng *rand.Rand) simulation.EventSource {
	at := func(t time.Duration) planfsm.Event {
		return planfsm.NewEvent(planfsm.EventDeparture, t)
	}

	depart := 7*time.Hour + 30*time.Minute + time.Duration(rng.IntN(90))*time.Minute
	var events []planfsm.Event
	if depart < morningDeparture {
		events = append(events, at(depart))
		depart = morningDeparture + time.Duration(rng.IntN(30))*time.Minute
	}
	travel := time.Duration(10+rng.IntN(50)) * time.Minute
	events = append(events,
		at(depart),
		planfsm.NewEvent(planfsm.EventArrival, depart+travel),
		at(eveningDeparture+time.Duration(rng.IntN(120))*time.Minute),
		planfsm.NewEvent(planfsm.EventArrival, nil),
		planfsm.NewEvent(planfsm.EventPlanEnd, nil),
	)
	return simulation.NewSliceSource(id, events...)
}
