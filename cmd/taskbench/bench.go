package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	taskscheduler "github.com/Swind/go-task-scheduler"
	"github.com/Swind/go-task-scheduler/core"
	obs "github.com/Swind/go-task-scheduler/observability/prometheus"
	prom "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"
)

type benchConfig struct {
	Workers         int
	Producers       int
	Chains          int
	ChainLength     int
	Items           int
	Batch           int
	Timeout         time.Duration
	MetricsAddr     string
	Linger          time.Duration
	LogLevel        slog.Level
	LockDiagnostics bool
}

func loadConfig(v *viper.Viper) (benchConfig, error) {
	cfg := benchConfig{
		Workers:         v.GetInt("workers"),
		Producers:       v.GetInt("producers"),
		Chains:          v.GetInt("chains"),
		ChainLength:     v.GetInt("chain-length"),
		Items:           v.GetInt("items"),
		Batch:           v.GetInt("batch"),
		Timeout:         v.GetDuration("timeout"),
		MetricsAddr:     v.GetString("metrics-addr"),
		Linger:          v.GetDuration("linger"),
		LockDiagnostics: v.GetBool("lock-diagnostics"),
	}

	level, err := parseLevel(v.GetString("log-level"))
	if err != nil {
		return cfg, err
	}
	cfg.LogLevel = level

	switch {
	case cfg.Workers < 1:
		return cfg, fmt.Errorf("workers must be at least 1, got %d", cfg.Workers)
	case cfg.Producers < 0 || cfg.Chains < 0 || cfg.ChainLength < 0 || cfg.Items < 0:
		return cfg, errors.New("producers, chains, chain-length and items must not be negative")
	case cfg.Timeout <= 0:
		return cfg, fmt.Errorf("timeout must be positive, got %v", cfg.Timeout)
	}
	return cfg, nil
}

func parseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("unknown log level %q", s)
	}
}

type benchResult struct {
	Chains      int
	ChainTasks  int64
	OutOfOrder  int64
	LoopItems   int
	LoopSum     int64
	LoopBatches int64
	Elapsed     time.Duration
	Stats       core.SchedulerStats
}

func (r benchResult) print(w io.Writer) {
	fmt.Fprintf(w, "chains:        %d (%d tasks, %d out of order)\n", r.Chains, r.ChainTasks, r.OutOfOrder)
	fmt.Fprintf(w, "parallel for:  %d items in %d batches, sum %d\n", r.LoopItems, r.LoopBatches, r.LoopSum)
	fmt.Fprintf(w, "executed:      %d (abandoned %d, rejected %d)\n", r.Stats.Executed, r.Stats.Abandoned, r.Stats.Rejected)
	fmt.Fprintf(w, "elapsed:       %v\n", r.Elapsed.Round(time.Microsecond))
}

func run(ctx context.Context, cfg benchConfig, logOut io.Writer) (benchResult, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if cfg.LockDiagnostics {
		core.EnableLockDiagnostics(0)
		defer core.DisableLockDiagnostics()
	}

	logger := core.NewSlogLogger(slog.New(slog.NewTextHandler(logOut, &slog.HandlerOptions{Level: cfg.LogLevel})))

	reg := prom.NewRegistry()
	exporter, err := obs.NewMetricsExporter("taskbench", reg, obs.ExporterOptions{})
	if err != nil {
		return benchResult{}, err
	}
	poller, err := obs.NewSnapshotPoller(reg, 100*time.Millisecond)
	if err != nil {
		return benchResult{}, err
	}

	pool := taskscheduler.NewGoroutineThreadPoolWithConfig("taskbench", cfg.Workers, &core.TaskSchedulerConfig{
		Logger:  logger,
		Metrics: exporter,
	})
	pool.Start(ctx)
	defer pool.Stop()

	poller.AddPool(pool.ID(), pool)
	poller.AddScheduler(pool.Scheduler().Name(), pool.Scheduler())
	poller.Start(ctx)
	defer poller.Stop()

	if cfg.MetricsAddr != "" {
		stop, err := serveMetrics(cfg.MetricsAddr, reg, logger)
		if err != nil {
			return benchResult{}, err
		}
		defer stop()
	}

	runCtx, cancel := context.WithTimeout(ctx, cfg.Timeout)
	defer cancel()

	start := time.Now()
	res := benchResult{Chains: cfg.Producers * cfg.Chains, LoopItems: cfg.Items}

	g, gctx := errgroup.WithContext(runCtx)
	for p := 0; p < cfg.Producers; p++ {
		g.Go(func() error {
			return produceChains(gctx, pool, cfg, &res.ChainTasks, &res.OutOfOrder)
		})
	}
	g.Go(func() error {
		sum, batches, err := squareSum(gctx, pool, cfg.Items, cfg.Batch)
		res.LoopSum, res.LoopBatches = sum, batches
		return err
	})

	if err := g.Wait(); err != nil {
		return res, fmt.Errorf("workload: %w", err)
	}

	res.Elapsed = time.Since(start)
	res.Stats = pool.Scheduler().Stats()
	logger.Info("workload finished", core.F("elapsed", res.Elapsed), core.F("executed", res.Stats.Executed))

	if cfg.MetricsAddr != "" && cfg.Linger > 0 {
		select {
		case <-time.After(cfg.Linger):
		case <-ctx.Done():
		}
	}
	return res, nil
}

// produceChains builds cfg.Chains independent chains of cfg.ChainLength tasks
// and waits for their tails. Each task checks that it runs after its
// predecessor.
func produceChains(ctx context.Context, pool *taskscheduler.GoroutineThreadPool, cfg benchConfig, ran, outOfOrder *int64) error {
	tails := make([]*core.Awaiter, 0, cfg.Chains)
	for c := 0; c < cfg.Chains; c++ {
		var last atomic.Int64
		var prev *core.Awaiter
		for i := 0; i < cfg.ChainLength; i++ {
			step := int64(i + 1)
			traits := core.TaskTraits{
				Priority: core.TaskPriority(i % int(core.TaskPriorityInherited)),
				Name:     fmt.Sprintf("chain-%d/%d", c, i),
			}
			prev = pool.PostTaskAfter(ctx, func(context.Context) {
				if last.Swap(step) != step-1 {
					atomic.AddInt64(outOfOrder, 1)
				}
				atomic.AddInt64(ran, 1)
			}, traits, prev)
		}
		if prev != nil {
			tails = append(tails, prev)
		}
	}

	for _, tail := range tails {
		if err := tail.Wait(ctx); err != nil {
			return err
		}
	}
	return nil
}

// squareSum computes the sum of i*i for i in [0, items) with a parallel loop.
func squareSum(ctx context.Context, pool *taskscheduler.GoroutineThreadPool, items, batch int) (int64, int64, error) {
	var sum, batches atomic.Int64
	opts := core.DefaultForOptions()
	opts.Name = "squares"

	done := pool.For(ctx, items, batch, func(start, n int) {
		var local int64
		for i := start; i < start+n; i++ {
			local += int64(i) * int64(i)
		}
		sum.Add(local)
		batches.Add(1)
	}, opts)

	if err := done.Wait(ctx); err != nil {
		return 0, 0, err
	}
	return sum.Load(), batches.Load(), nil
}

func serveMetrics(addr string, reg *prom.Registry, logger core.Logger) (func(), error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listen %s: %w", addr, err)
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	server := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		if err := server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server failed", core.F("error", err))
		}
	}()
	logger.Info("serving metrics", core.F("addr", ln.Addr().String()))

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = server.Shutdown(ctx)
	}, nil
}
