package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/wgong/flowx/internal/engine"
	"github.com/wgong/flowx/internal/errs"
	"github.com/wgong/flowx/internal/logger"
	"github.com/wgong/flowx/internal/output"
	"github.com/wgong/flowx/internal/plugin"
	"github.com/wgong/flowx/internal/process"
	"github.com/wgong/flowx/internal/queue"
	"github.com/wgong/flowx/internal/task"
)

var strategyTags = []task.StrategyType{
	task.StrategyAuto,
	task.StrategyResearch,
	task.StrategyDevelopment,
	task.StrategyAnalysis,
	task.StrategyTesting,
	task.StrategyCommand,
}

type runOptions struct {
	parallel    bool
	maxAgents   int
	strategy    string
	timeout     time.Duration
	formats     []string
	plugins     []string
	outFile     string
	metricsAddr string
	fromQueue   bool
	queueLimit  int
}

func newRunCmd(a *app) *cobra.Command {
	opts := &runOptions{}

	cmd := &cobra.Command{
		Use:   "run <objective> [-- command args...]",
		Short: "Run a benchmark for an objective",
		Long: `Run a benchmark for an objective. Every strategy tag executes the task
as an external command: the arguments after "--", or the objective itself
split on whitespace.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			objective := args[0]
			var command []string
			if dash := cmd.ArgsLenAtDash(); dash >= 0 {
				command = args[dash:]
				if dash == 0 {
					objective = strings.Join(command, " ")
				}
			}
			return a.run(cmd, opts, objective, command)
		},
	}

	f := cmd.Flags()
	f.BoolVar(&opts.parallel, "parallel", false, "run queued tasks in parallel")
	f.IntVar(&opts.maxAgents, "max-agents", 0, "maximum concurrently running tasks")
	f.StringVar(&opts.strategy, "strategy", "", "strategy tag for the primary task")
	f.DurationVar(&opts.timeout, "timeout", 0, "task timeout")
	f.StringSliceVar(&opts.formats, "format", nil, "output formats (redis)")
	f.StringSliceVar(&opts.plugins, "plugin", []string{"optimization", "metrics_collection"}, "plugins to enable")
	f.StringVar(&opts.outFile, "out", "", "write the JSON response to a file instead of stdout")
	f.StringVar(&opts.metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address while running")
	f.BoolVar(&opts.fromQueue, "from-queue", false, "add tasks queued with submit to this benchmark")
	f.IntVar(&opts.queueLimit, "queue-limit", 0, "maximum queued tasks to take (0 takes all)")
	return cmd
}

func (a *app) run(cmd *cobra.Command, opts *runOptions, objective string, command []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	ecfg := a.cfg.Engine
	f := cmd.Flags()
	if f.Changed("parallel") {
		ecfg.Parallel = opts.parallel
	}
	if f.Changed("max-agents") {
		ecfg.MaxAgents = opts.maxAgents
	}
	if f.Changed("strategy") {
		ecfg.Strategy = opts.strategy
	}
	if f.Changed("timeout") {
		ecfg.TaskTimeout = opts.timeout
	}
	if f.Changed("format") {
		ecfg.OutputFormats = opts.formats
	}

	sup := process.New(
		process.WithSamplingInterval(a.cfg.Monitoring.SamplingInterval),
		process.WithGracePeriod(a.cfg.Monitoring.GracePeriod),
		process.WithLogger(a.log),
	)
	strategies := task.NewRegistry()
	commandStrategy := process.NewCommandStrategy(sup, command)
	for _, tag := range strategyTags {
		if err := strategies.Register(tag, commandStrategy); err != nil {
			return err
		}
	}

	client, store, err := a.redisStore(ctx)
	if err != nil {
		return err
	}
	if client != nil {
		defer client.Close()
	}

	outputs := output.NewManager(a.log)
	engineOpts := []engine.Option{
		engine.WithLogger(a.log),
		engine.WithOutput(outputs),
	}
	if store != nil {
		if err := outputs.Register(output.FormatRedis, output.NewRedisHandler(store)); err != nil {
			return err
		}
		engineOpts = append(engineOpts, engine.WithStore(store))
	}

	reporter := errs.NewReporter(a.log)
	engineOpts = append(engineOpts, engine.WithReporter(reporter))

	plugins, err := a.plugins(ctx, opts)
	if err != nil {
		return err
	}
	engineOpts = append(engineOpts, engine.WithPlugins(plugins...))

	eng := engine.New(ecfg, strategies, engineOpts...)
	if opts.fromQueue {
		if client == nil {
			return errors.New("--from-queue requires redis.enabled")
		}
		queued, err := queue.NewRedisQueue(client).Drain(ctx, opts.queueLimit)
		if err != nil {
			return err
		}
		for _, t := range queued {
			eng.SubmitTask(t)
		}
		a.log.Info("Queued tasks added", logger.Fields{"tasks": len(queued), "parallel": ecfg.Parallel})
	}

	resp := eng.Run(ctx, objective)

	if reporter.HasErrors() {
		summary := reporter.Summary()
		a.log.Warn("Errors reported during run", logger.Fields{
			"total":   summary.Total,
			"by_kind": summary.ByKind,
		})
	}

	if err := writeResponse(resp, opts.outFile); err != nil {
		return err
	}
	if !resp.Succeeded() {
		return fmt.Errorf("benchmark %s failed: %s", resp.BenchmarkID, resp.Error)
	}
	return nil
}

// plugins builds the requested plugins in order. The Prometheus plugin is
// added when metrics are enabled or an address is given.
func (a *app) plugins(ctx context.Context, opts *runOptions) ([]plugin.Plugin, error) {
	var out []plugin.Plugin
	for _, name := range opts.plugins {
		switch name {
		case "optimization":
			out = append(out, plugin.NewOptimizationPlugin())
		case "metrics_collection", "metrics":
			out = append(out, plugin.NewMetricsCollectionPlugin(a.cfg.Monitoring.SamplingInterval))
		case "", "none":
		default:
			return nil, fmt.Errorf("unknown plugin: %s", name)
		}
	}

	if !a.cfg.Metrics.Enabled && opts.metricsAddr == "" {
		return out, nil
	}

	reg := prometheus.NewRegistry()
	prom, err := plugin.NewPrometheusPlugin(reg)
	if err != nil {
		return nil, err
	}
	out = append(out, prom)

	if opts.metricsAddr != "" {
		a.serveMetrics(ctx, reg, opts.metricsAddr)
	}
	return out, nil
}

// serveMetrics exposes reg until ctx is done
func (a *app) serveMetrics(ctx context.Context, reg *prometheus.Registry, addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.log.Error("Metrics server failed", logger.Fields{"addr": addr, "error": err})
		}
	}()
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()
	a.log.Info("Serving metrics", logger.Fields{"addr": addr})
}

func writeResponse(resp *engine.Response, path string) error {
	data, err := json.MarshalIndent(resp, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode response: %w", err)
	}
	data = append(data, '\n')

	if path == "" {
		_, err = os.Stdout.Write(data)
		return err
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return nil
}
