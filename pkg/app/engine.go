package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/dyike/TradingAgentsGo/config"
	"github.com/dyike/TradingAgentsGo/internal/cache"
	"github.com/dyike/TradingAgentsGo/internal/dataflows"
	"github.com/dyike/TradingAgentsGo/internal/debug"
	"github.com/dyike/TradingAgentsGo/internal/graph"
	"github.com/dyike/TradingAgentsGo/internal/llm"
	"github.com/dyike/TradingAgentsGo/internal/metrics"
	"github.com/dyike/TradingAgentsGo/internal/mongodb"
	"github.com/dyike/TradingAgentsGo/internal/runner"
	"github.com/dyike/TradingAgentsGo/internal/storage"
	"github.com/dyike/TradingAgentsGo/internal/tools"
	"github.com/dyike/TradingAgentsGo/internal/trace"
	"github.com/dyike/TradingAgentsGo/pkg/logger"
)

// Engine is the set of long-lived components behind every analysis.
type Engine struct {
	Config    *config.Config
	Cache     *cache.Manager
	Data      *dataflows.DataLayer
	Providers *llm.Registry
	Factory   *llm.Factory
	Ledger    *llm.UsageLedger
	Tools     *tools.Registry
	Graph     *graph.Engine
	Runner    *runner.Manager
	Results   *storage.ResultsWriter
	Reports   storage.ReportStore
	Debugger  *debug.EinoDebugger

	log     *logger.Logger
	closers []func(context.Context) error
}

type buildOptions struct {
	modelFactory llm.ModelFactory
	data         *dataflows.DataLayer
	skipStores   bool
}

type BuildOption func(*buildOptions)

// WithModelFactory replaces the provider SDK constructors.
func WithModelFactory(fn llm.ModelFactory) BuildOption {
	return func(o *buildOptions) { o.modelFactory = fn }
}

// WithDataLayer uses dl instead of the configured remote sources.
func WithDataLayer(dl *dataflows.DataLayer) BuildOption {
	return func(o *buildOptions) { o.data = dl }
}

// WithoutExternalStores skips Mongo and Redis even when configured.
func WithoutExternalStores() BuildOption {
	return func(o *buildOptions) { o.skipStores = true }
}

// BuildEngine connects the optional stores and assembles the pipeline.
// Unreachable Mongo or Redis deployments are logged and skipped.
func BuildEngine(ctx context.Context, cfg *config.Config, opts ...BuildOption) (*Engine, error) {
	var o buildOptions
	for _, opt := range opts {
		opt(&o)
	}
	if err := cfg.EnsureDirectories(); err != nil {
		return nil, err
	}

	e := &Engine{Config: cfg, log: logger.Named("app")}
	if err := trace.Init(cfg.Debug.Tracing); err != nil {
		return nil, fmt.Errorf("init tracing: %w", err)
	}
	e.closers = append(e.closers, trace.Shutdown)
	metrics.Register(prometheus.DefaultRegisterer)

	var mongoClient *mongodb.Client
	if cfg.Mongo.Enabled() && !o.skipStores {
		c, err := mongodb.Connect(ctx, cfg.Mongo)
		if err != nil {
			e.log.Warnw("mongodb unavailable, continuing without it", "error", err)
		} else {
			mongoClient = c
			e.closers = append(e.closers, c.Close)
		}
	}

	cacheOpts := []cache.Option{
		cache.WithMemoSize(cfg.Cache.MemoSize),
		cache.WithTTLs(cfg.Cache.TTLs()),
		cache.WithOffline(cfg.DataSources.Offline),
		cache.WithLogger(logger.Named("cache")),
	}
	if fs, err := cache.NewFileStore(cfg.Paths.CacheDir); err != nil {
		e.log.Warnw("file cache disabled", "dir", cfg.Paths.CacheDir, "error", err)
	} else {
		cacheOpts = append(cacheOpts, cache.WithFile(fs))
	}
	if cfg.Redis.Enabled() && !o.skipStores {
		rc, err := cache.NewRedisClient(ctx, cfg.Redis)
		if err != nil {
			e.log.Warnw("redis unavailable, continuing without it", "error", err)
		} else {
			cacheOpts = append(cacheOpts, cache.WithRedis(cache.NewRedisStore(rc)))
			e.closers = append(e.closers, func(context.Context) error { return rc.Close() })
		}
	}
	if mongoClient != nil {
		ms, err := cache.NewMongoStore(ctx, mongoClient.Collection(mongodb.CacheCollection))
		if err != nil {
			e.log.Warnw("mongo cache tier disabled", "error", err)
		} else {
			cacheOpts = append(cacheOpts, cache.WithMongo(ms))
		}
	}
	e.Cache = cache.NewManager(cacheOpts...)

	e.Data = o.data
	if e.Data == nil {
		e.Data = dataflows.NewDefaultDataLayer(cfg.DataSources, e.Cache)
	}

	providers, err := llm.NewRegistry(
		llm.WithCatalogFile(cfg.LLM.CatalogPath),
		llm.WithCustomBaseURL(cfg.LLM.CustomBaseURL),
	)
	if err != nil {
		return nil, e.fail(ctx, fmt.Errorf("load provider catalog: %w", err))
	}
	e.Providers = providers

	var sink llm.UsageSink
	if mongoClient != nil {
		sink = llm.NewMongoUsageSink(mongoClient.Collection(mongodb.UsageCollection))
	}
	e.Ledger = llm.NewUsageLedger(sink)

	var factoryOpts []llm.FactoryOption
	if o.modelFactory != nil {
		factoryOpts = append(factoryOpts, llm.WithModelFactory(o.modelFactory))
	}
	e.Factory = llm.NewFactory(providers, e.Ledger, cfg.LLM, factoryOpts...)

	audit := tools.NewAuditLog()
	e.Tools = tools.NewRegistry(audit)
	tools.RegisterStandard(e.Tools, e.Data)

	e.Debugger = debug.NewEinoDebugger(cfg.Debug, logger.Get())
	if err := e.Debugger.Initialize(ctx); err != nil {
		e.log.Warnw("eino debug server disabled", "error", err)
	}

	e.Graph, err = graph.NewEngine(ctx, graph.Options{
		ParallelAnalysts: cfg.Runner.ParallelAnalysts,
		Data:             e.Data,
		Logger:           logger.Named("graph"),
	})
	if err != nil {
		return nil, e.fail(ctx, err)
	}

	e.Results = storage.NewResultsWriter(cfg.Paths.ResultsDir)
	runnerOpts := []runner.Option{
		runner.WithConfig(cfg.Runner),
		runner.WithModelChecker(e.Factory),
		runner.WithLedger(e.Ledger),
		runner.WithAuditLog(audit),
		runner.WithResultsWriter(e.Results),
		runner.WithLogger(logger.Named("runner")),
	}
	if mongoClient != nil {
		store := storage.NewMongoReportStore(mongoClient.Collection(mongodb.ReportsCollection))
		if err := store.EnsureIndexes(ctx); err != nil {
			e.log.Warnw("report index creation failed", "error", err)
		}
		e.Reports = store
		runnerOpts = append(runnerOpts, runner.WithReportStore(store))
	}
	e.Runner = runner.NewManager(e.Graph, runner.LLMAgents(e.Factory, e.Tools), runnerOpts...)

	if cfg.Debug.MetricsAddr != "" {
		go func() {
			if err := metrics.Serve(cfg.Debug.MetricsAddr); err != nil {
				e.log.Warnw("metrics endpoint stopped", "addr", cfg.Debug.MetricsAddr, "error", err)
			}
		}()
	}
	return e, nil
}

func (e *Engine) fail(ctx context.Context, err error) error {
	return errors.Join(err, e.Close(ctx))
}

// Close stops the runner and releases store connections in reverse order.
func (e *Engine) Close(ctx context.Context) error {
	var errs []error
	if e.Runner != nil {
		errs = append(errs, e.Runner.Shutdown(ctx))
	}
	for i := len(e.closers) - 1; i >= 0; i-- {
		errs = append(errs, e.closers[i](ctx))
	}
	e.closers = nil
	return errors.Join(errs...)
}
