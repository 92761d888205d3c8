// Package planfsm provides a finite state machine engine that drives
// simulated agents through an ordered sequence of plan episodes, such as
// being at home or commuting to work.
//
// A plan is a graph of PlanState values built once, usually with a
// PlanBuilder, and shared read-only by every agent that executes it. Each
// agent run owns a lightweight StateMachine that only tracks the active
// state. Events are delivered with HandleSafely; a matching handler whose
// guard accepts the event payload commits a transition that runs the exit
// actions of the old state, the transition actions and the enter actions of
// the new state, in that order.
//
// States store action factories rather than actions, so every transition
// works on fresh action instances and agents sharing a template never share
// action state. Machines themselves can be recycled through a pool.Pool.
package planfsm

// Version is the library version
const Version = "0.3.0"
