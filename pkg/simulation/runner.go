package simulation

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/anggasct/planfsm"
	"github.com/anggasct/planfsm/pkg/pool"
)

// Agent is one simulated individual executing a plan
type Agent struct {
	ID     string
	Events EventSource
}

// AgentResult summarizes one agent run
type AgentResult struct {
	AgentID     string
	RunID       string
	FinalState  string
	Terminated  bool
	Delivered   int
	Handled     int
	Rejected    int
	GuardErrors int
	Err         error
}

// Runner executes agents concurrently against one plan template, recycling
// state machines through a pool. Each machine is driven by a single worker
// at a time.
type Runner struct {
	plan        *planfsm.PlanTemplate
	machines    *pool.Pool[*planfsm.StateMachine]
	workers     int
	stopOnError bool
	logger      *zap.Logger
	machineOpts []planfsm.MachineOption
}

// RunnerOption configures a Runner
type RunnerOption func(*Runner)

// WithWorkers sets how many agents run concurrently
func WithWorkers(n int) RunnerOption {
	return func(r *Runner) {
		r.workers = n
	}
}

// WithStopOnError cancels the remaining agents after the first failed one
func WithStopOnError(stop bool) RunnerOption {
	return func(r *Runner) {
		r.stopOnError = stop
	}
}

// WithLogger sets the runner logger
func WithLogger(logger *zap.Logger) RunnerOption {
	return func(r *Runner) {
		r.logger = logger
	}
}

// WithMachineOptions applies opts to every pooled machine
func WithMachineOptions(opts ...planfsm.MachineOption) RunnerOption {
	return func(r *Runner) {
		r.machineOpts = append(r.machineOpts, opts...)
	}
}

// NewRunner creates a runner for plan with a machine pool sized by poolCfg
func NewRunner(plan *planfsm.PlanTemplate, poolCfg pool.Config, opts ...RunnerOption) (*Runner, error) {
	if plan == nil {
		return nil, errors.New("runner needs a plan")
	}

	r := &Runner{
		plan:    plan,
		workers: 1,
		logger:  zap.NewNop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.workers <= 0 {
		return nil, fmt.Errorf("runner workers must be positive, got %d", r.workers)
	}

	machines, err := plan.NewMachinePool(poolCfg, r.machineOpts...)
	if err != nil {
		return nil, fmt.Errorf("create machine pool: %w", err)
	}
	r.machines = machines
	return r, nil
}

// Machines returns the machine pool
func (r *Runner) Machines() *pool.Pool[*planfsm.StateMachine] {
	return r.machines
}

// Run executes all agents and returns one result per agent in input order.
// The error is non-nil only when the context was cancelled or, with
// WithStopOnError, when an agent failed.
func (r *Runner) Run(ctx context.Context, agents []Agent) ([]AgentResult, error) {
	results := make([]AgentResult, len(agents))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.workers)

	for i := range agents {
		i := i
		g.Go(func() error {
			results[i] = r.RunAgent(gctx, agents[i])
			if r.stopOnError && results[i].Err != nil {
				return fmt.Errorf("agent %s: %w", agents[i].ID, results[i].Err)
			}
			return nil
		})
	}

	err := g.Wait()
	if err == nil {
		err = ctx.Err()
	}
	return results, err
}

// RunAgent drives one agent to the end of its event source. Guard failures
// are logged and skipped; pool, start and action failures end the run.
func (r *Runner) RunAgent(ctx context.Context, agent Agent) (result AgentResult) {
	result.AgentID = agent.ID
	log := r.logger.With(zap.String("agent", agent.ID))

	if agent.Events == nil {
		result.Err = fmt.Errorf("agent %s has no event source", agent.ID)
		return result
	}
	defer func() {
		if err := agent.Events.Close(); err != nil {
			log.Warn("Failed to close event source", zap.String("source", agent.Events.Source()), zap.Error(err))
		}
	}()

	sm, err := r.machines.Pop()
	if err != nil {
		log.Error("Failed to obtain state machine", zap.Error(err))
		result.Err = err
		return result
	}
	defer r.release(sm, log)

	if err := sm.Reset(r.plan.Initial()); err != nil {
		result.Err = err
		return result
	}
	result.RunID = sm.RunID()

	if err := sm.Start(); err != nil {
		log.Error("Failed to start state machine", zap.Error(err))
		result.Err = err
		return result
	}

	for {
		if err := ctx.Err(); err != nil {
			result.Err = err
			break
		}

		event, ok, err := agent.Events.Next()
		if err != nil {
			result.Err = fmt.Errorf("read %s: %w", agent.Events.Source(), err)
			break
		}
		if !ok {
			break
		}
		result.Delivered++

		handled, err := sm.HandleSafely(event)
		if err != nil {
			if planfsm.IsGuardError(err) {
				log.Warn("Guard failed, event skipped", zap.Stringer("event", event.Type), zap.Error(err))
				result.GuardErrors++
				continue
			}
			log.Error("Agent run aborted", zap.Stringer("event", event.Type), zap.Error(err))
			result.Err = err
			break
		}
		if handled {
			result.Handled++
		} else {
			result.Rejected++
		}
	}

	if state := sm.CurrentState(); state != nil {
		result.FinalState = state.Name()
	}
	result.Terminated = sm.IsTerminated()
	if sm.Started() {
		if err := sm.Stop(); err != nil {
			log.Warn("Failed to stop state machine", zap.Error(err))
		}
	}

	log.Debug("Agent run finished",
		zap.String("final_state", result.FinalState),
		zap.Int("handled", result.Handled),
		zap.Int("rejected", result.Rejected))
	return result
}

func (r *Runner) release(sm *planfsm.StateMachine, log *zap.Logger) {
	if err := sm.Reset(nil); err != nil {
		log.Warn("State machine not returned to pool", zap.String("machine", sm.ID()), zap.Error(err))
		return
	}
	r.machines.Push(sm)
}

// Summary aggregates agent results
type Summary struct {
	Agents      int
	Terminated  int
	Failed      int
	Handled     int
	Rejected    int
	GuardErrors int
	FinalStates map[string]int
}

// Summarize aggregates results
func Summarize(results []AgentResult) Summary {
	s := Summary{FinalStates: make(map[string]int)}
	for _, res := range results {
		s.Agents++
		s.Handled += res.Handled
		s.Rejected += res.Rejected
		s.GuardErrors += res.GuardErrors
		if res.Terminated {
			s.Terminated++
		}
		if res.Err != nil {
			s.Failed++
		}
		if res.FinalState != "" {
			s.FinalStates[res.FinalState]++
		}
	}
	return s
}
