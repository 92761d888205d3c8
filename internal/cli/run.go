package cli

import (
	"fmt"
	"io"
	"math/rand/v2"
	"sort"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/anggasct/planfsm"
	"github.com/anggasct/planfsm/pkg/logger"
	"github.com/anggasct/planfsm/pkg/metrics"
	"github.com/anggasct/planfsm/pkg/observers"
	"github.com/anggasct/planfsm/pkg/simulation"
)

type runOptions struct {
	agents      int
	workers     int
	mode        string
	seed        uint64
	showMetrics bool
}

func (a *App) newRunCmd() *cobra.Command {
	opts := runOptions{}

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run a population of commuting agents",
		Long: `Run drives every agent through the commuter plan and prints how many
reached the end of their day. Agents that try to leave home too early are
rejected by the departure guard and try again later.`,
		Example: `  plansim run --agents 1000 --workers 8
  plansim run --mode bike --metrics
  plansim run -c plansim.yaml`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runSimulation(cmd, opts)
		},
	}

	cmd.Flags().IntVarP(&opts.agents, "agents", "n", 100, "number of simulated agents")
	cmd.Flags().IntVarP(&opts.workers, "workers", "w", 0, "concurrent agents (overrides the config)")
	cmd.Flags().StringVarP(&opts.mode, "mode", "m", "car", "travel mode of the commute trips")
	cmd.Flags().Uint64Var(&opts.seed, "seed", 1, "random seed for the generated events")
	cmd.Flags().BoolVar(&opts.showMetrics, "metrics", false, "print collected metrics after the run")

	return cmd
}

func (a *App) runSimulation(cmd *cobra.Command, opts runOptions) error {
	cfg, err := a.loadConfig()
	if err != nil {
		return err
	}
	if opts.workers > 0 {
		cfg.Runner.Workers = opts.workers
	}
	if opts.agents < 0 {
		return fmt.Errorf("agents must not be negative, got %d", opts.agents)
	}

	mode, err := planfsm.ParseMode(opts.mode)
	if err != nil {
		return err
	}

	log := logger.NewWithSink(cfg.Logging.Level, logger.ParseFormat(cfg.Logging.Format), zapcore.AddSync(a.stderr))
	defer func() { _ = log.Sync() }()
	logger.InitializeWith(log)

	counter := &tripCounter{}
	plan, err := commuterPlan(mode, counter)
	if err != nil {
		return fmt.Errorf("build plan: %w", err)
	}

	machineOpts := []planfsm.MachineOption{
		planfsm.WithObserver(observers.NewLoggingObserver(log.Named(logger.ComponentMachine), zapcore.DebugLevel)),
	}

	registry := prometheus.NewRegistry()
	if cfg.Metrics.Enabled {
		metricsObserver, err := observers.NewMetricsObserver(registry, cfg.Metrics.Namespace)
		if err != nil {
			return fmt.Errorf("register metrics: %w", err)
		}
		machineOpts = append(machineOpts, planfsm.WithObserver(metricsObserver))
	}

	runner, err := simulation.NewRunner(plan, cfg.Pool,
		simulation.WithWorkers(cfg.Runner.Workers),
		simulation.WithStopOnError(cfg.Runner.StopOnError),
		simulation.WithLogger(log.Named(logger.ComponentRunner)),
		simulation.WithMachineOptions(machineOpts...),
	)
	if err != nil {
		return err
	}

	machines := runner.Machines()
	poolLog := logger.For(logger.ComponentPool)
	machines.OnRelease(func(sm *planfsm.StateMachine) {
		poolLog.Debugw("Machine released", "machine", sm.ID(), "free", machines.Len())
	})

	if cfg.Metrics.Enabled {
		if err := registry.Register(metrics.NewPoolCollector(cfg.Metrics.Namespace, "machines", machines)); err != nil {
			return fmt.Errorf("register pool collector: %w", err)
		}
	}

	rng := rand.New(rand.NewPCG(opts.seed, opts.seed^0x9e3779b97f4a7c15))
	agents := make([]simulation.Agent, opts.agents)
	for i := range agents {
		id := fmt.Sprintf("agent-%05d", i)
		agents[i] = simulation.Agent{ID: id, Events: commuterEvents(id, rng)}
	}

	log.Info("Starting simulation",
		zap.String("plan", plan.Name()),
		zap.Int("agents", len(agents)),
		zap.Int("workers", cfg.Runner.Workers),
		zap.Stringer("mode", mode))

	results, runErr := runner.Run(cmd.Context(), agents)
	summary := simulation.Summarize(results)
	printSummary(a.stdout, summary, counter.trips.Load())

	if opts.showMetrics && cfg.Metrics.Enabled {
		families, err := registry.Gather()
		if err != nil {
			return fmt.Errorf("gather metrics: %w", err)
		}
		printMetrics(a.stdout, families)
	}

	return runErr
}

func printSummary(w io.Writer, s simulation.Summary, trips int64) {
	fmt.Fprintf(w, "Agents:       %d\n", s.Agents)
	fmt.Fprintf(w, "Terminated:   %d\n", s.Terminated)
	fmt.Fprintf(w, "Failed:       %d\n", s.Failed)
	fmt.Fprintf(w, "Handled:      %d\n", s.Handled)
	fmt.Fprintf(w, "Rejected:     %d\n", s.Rejected)
	fmt.Fprintf(w, "Guard errors: %d\n", s.GuardErrors)
	fmt.Fprintf(w, "Trips:        %d\n", trips)

	states := make([]string, 0, len(s.FinalStates))
	for name := range s.FinalStates {
		states = append(states, name)
	}
	sort.Strings(states)
	if len(states) > 0 {
		fmt.Fprintln(w, "Final states:")
		for _, name := range states {
			fmt.Fprintf(w, "  %-16s %d\n", name, s.FinalStates[name])
		}
	}
}

func printMetrics(w io.Writer, families []*dto.MetricFamily) {
	fmt.Fprintln(w, "Metrics:")
	for _, mf := range families {
		for _, m := range mf.GetMetric() {
			var value float64
			switch mf.GetType() {
			case dto.MetricType_COUNTER:
				value = m.GetCounter().GetValue()
			case dto.MetricType_GAUGE:
				value = m.GetGauge().GetValue()
			default:
				continue
			}
			fmt.Fprintf(w, "  %s%s %g\n", mf.GetName(), formatLabels(m.GetLabel()), value)
		}
	}
}

func formatLabels(labels []*dto.LabelPair) string {
	if len(labels) == 0 {
		return ""
	}
	parts := make([]string, len(labels))
	for i, l := range labels {
		parts[i] = fmt.Sprintf("%s=%q", l.GetName(), l.GetValue())
	}
	return "{" + strings.Join(parts, ",") + "}"
}
