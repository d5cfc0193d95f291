package main

import (
	"context"
	"flag"
	"os"
	"time"

	pyroscope "github.com/grafana/pyroscope-go"
	"github.com/yanun0323/logs"
	"github.com/yanun0323/pkg/sys"

	"hybrid-scalper/internal/broadcast"
	"hybrid-scalper/internal/core"
	"hybrid-scalper/internal/execution"
	"hybrid-scalper/internal/feed"
	"hybrid-scalper/internal/ops"
	"hybrid-scalper/internal/schema"
	"hybrid-scalper/internal/state"
	"hybrid-scalper/internal/trend"
	"hybrid-scalper/pkg/conn"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to YAML config")
	flag.Parse()

	cfg, err := ops.Load(*configPath)
	if err != nil {
		logs.Errorf("load config: %+v", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if cfg.Profiling.Enabled {
		stop, err := startProfiler(cfg.Profiling)
		if err != nil {
			logs.Errorf("start profiler: %+v", err)
			os.Exit(1)
		}
		defer stop()
	}

	repo, closeRepo, err := openRepository(cfg.Persistence)
	if err != nil {
		logs.Errorf("open state repository: %+v", err)
		os.Exit(1)
	}
	defer closeRepo()

	store, err := state.New(cfg.Risk, repo)
	if err != nil {
		logs.Errorf("init state store: %+v", err)
		os.Exit(1)
	}

	paper := execution.NewPaperClient(store, 10*time.Millisecond)
	gateway := execution.NewGateway(cfg.Execution, paper, store)
	paper.SetFillHandler(func(f schema.Fill) {
		if err := gateway.OnFill(f); err != nil {
			logs.Errorf("apply fill %s: %+v", f.IdempotencyKey, err)
		}
	})

	runtime := core.New(cfg, store, gateway, sentimentFeeds(cfg)...)

	operator := broadcast.NewServer(broadcast.Config{
		Addr:     cfg.Broadcast.Addr,
		Interval: cfg.Broadcast.Interval,
	}, store, runtime)
	go func() {
		if err := operator.Run(ctx); err != nil {
			logs.Errorf("operator server: %+v", err)
		}
	}()

	if err := startBookFeeds(ctx, cfg, runtime); err != nil {
		logs.Errorf("start market data: %+v", err)
		os.Exit(1)
	}

	go runtime.Run(ctx)

	<-sys.Shutdown()
	logs.Info("shutting down")
	runtime.Stop("shutdown")
	cancel()
}

// sentimentFeeds builds the trend side for the configured mode.
func sentimentFeeds(cfg ops.Config) []trend.Feed {
	if cfg.Trend.Mode == ops.TrendModeLive {
		return []trend.Feed{trend.NewNewsFeed(cfg.Trend.News, cfg.Symbols)}
	}
	return []trend.Feed{trend.NewSimulatedFeed(cfg.Symbols, cfg.Trend.SimInterval, cfg.Trend.Seed)}
}

// startBookFeeds opens one depth stream per symbol and routes snapshots
// into the pipeline.
func startBookFeeds(ctx context.Context, cfg ops.Config, runtime *core.Runtime) error {
	for _, symbol := range cfg.Symbols {
		bf := feed.NewBookFeed(ctx, cfg.Exchange.WSURL, symbol)
		if err := bf.Start(ctx); err != nil {
			return err
		}
		if err := bf.Subscribe(ctx); err != nil {
			return err
		}
		bf.Observe(ctx, func(snap schema.OrderBookSnapshot) {
			runtime.OnSnapshot(ctx, snap)
		})
	}
	return nil
}

func openRepository(cfg ops.PersistenceConfig) (state.Repository, func(), error) {
	if cfg.DSN == "" {
		return nil, func() {}, nil
	}
	client, err := conn.Open(cfg.DSN)
	if err != nil {
		return nil, nil, err
	}
	repo, err := state.NewPgRepository(client.DB())
	if err != nil {
		_ = client.Close()
		return nil, nil, err
	}
	return repo, func() { _ = client.Close() }, nil
}

func startProfiler(cfg ops.ProfilingConfig) (stop func(), err error) {
	appName := cfg.AppName
	if appName == "" {
		appName = "hybrid-scalper"
	}
	profiler, err := pyroscope.Start(pyroscope.Config{
		ApplicationName: appName,
		ServerAddress:   cfg.ServerAddress,
		ProfileTypes: []pyroscope.ProfileType{
			pyroscope.ProfileCPU,
			pyroscope.ProfileAllocObjects,
			pyroscope.ProfileAllocSpace,
			pyroscope.ProfileInuseObjects,
			pyroscope.ProfileInuseSpace,
		},
	})
	if err != nil {
		return nil, err
	}
	return func() { _ = profiler.Stop() }, nil
}
