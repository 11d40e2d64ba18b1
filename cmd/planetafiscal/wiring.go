package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/urfave/cli/v2"

	"github.com/joseph-ayodele/planetafiscal/internal/artifacts"
	"github.com/joseph-ayodele/planetafiscal/internal/async"
	"github.com/joseph-ayodele/planetafiscal/internal/common"
	"github.com/joseph-ayodele/planetafiscal/internal/export"
	"github.com/joseph-ayodele/planetafiscal/internal/llm"
	"github.com/joseph-ayodele/planetafiscal/internal/llm/openai"
	"github.com/joseph-ayodele/planetafiscal/internal/llm/vertex"
	"github.com/joseph-ayodele/planetafiscal/internal/loader"
	"github.com/joseph-ayodele/planetafiscal/internal/pipeline"
	"github.com/joseph-ayodele/planetafiscal/internal/repository"
)

const exitConfig = 2

// loadConfig reads the config file and env, applies flags, and validates.
// Any failure is an exit-code-2 error.
func loadConfig(c *cli.Context, requireBackend bool) (*common.Config, error) {
	cfg, err := common.LoadConfig(c.String("config"))
	if err != nil {
		return nil, cli.Exit(err.Error(), exitConfig)
	}
	applyFlags(c, cfg)
	if requireBackend {
		if err := cfg.Validate(); err != nil {
			return nil, cli.Exit(err.Error(), exitConfig)
		}
	}
	return cfg, nil
}

func applyFlags(c *cli.Context, cfg *common.Config) {
	if c.IsSet("log-level") {
		cfg.Log.Level = c.String("log-level")
	}
	if c.IsSet("log-format") {
		cfg.Log.Format = c.String("log-format")
	}
	if c.IsSet("provider") {
		cfg.LLM.Provider = strings.ToLower(c.String("provider"))
	}
	if c.IsSet("model") {
		cfg.LLM.Model = c.String("model")
	}
	if c.IsSet("max-attempts") {
		cfg.Pipeline.MaxAttempts = c.Int("max-attempts")
	}
	if c.IsSet("rps") {
		cfg.Pipeline.RequestsPerSecond = c.Float64("rps")
	}
	if c.IsSet("input") {
		cfg.Pipeline.InputDir = c.String("input")
	}
	if c.IsSet("output") {
		cfg.Pipeline.OutputDir = c.String("output")
	}
	if c.IsSet("workers") {
		cfg.Pipeline.Workers = c.Int("workers")
	}
	if c.IsSet("recursive") {
		cfg.Pipeline.Recursive = c.Bool("recursive")
	}
	if c.IsSet("db") {
		cfg.Database.DSN = c.String("db")
	}
	if c.IsSet("create-table") {
		cfg.Database.CreateTable = c.Bool("create-table")
	}
	if c.IsSet("xlsx") {
		cfg.Export.XLSXPath = c.String("xlsx")
	}
}

func newLogger(cfg common.LogConfig, w io.Writer) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	var h slog.Handler
	if strings.EqualFold(cfg.Format, "json") {
		h = slog.NewJSONHandler(w, opts)
	} else {
		h = slog.NewTextHandler(w, opts)
	}
	logger := slog.New(h)
	slog.SetDefault(logger)
	return logger
}

// app bundles everything a processing command needs. close releases what
// was opened, in reverse order.
type app struct {
	cfg      *common.Config
	logger   *slog.Logger
	resolver *pipeline.Resolver
	runner   *pipeline.Runner
	store    artifacts.Store
	closers  []func() error
}

func (a *app) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.logger.Warn("shutdown.close_error", "error", err)
		}
	}
}

func newExtractor(ctx context.Context, cfg common.LLMConfig, logger *slog.Logger) (llm.Extractor, func() error, error) {
	switch cfg.Provider {
	case common.ProviderVertex:
		client, err := vertex.NewClient(ctx, vertex.Config{
			ProjectID:   cfg.VertexProject,
			Region:      cfg.VertexRegion,
			Model:       cfg.Model,
			Temperature: cfg.Temperature,
		}, logger)
		if err != nil {
			return nil, nil, err
		}
		logger.Info("Vertex client initialized", "project", cfg.VertexProject, "region", cfg.VertexRegion)
		return client, client.Close, nil
	default:
		client := openai.NewClient(openai.Config{
			APIKey:      cfg.APIKey,
			BaseURL:     cfg.BaseURL,
			Model:       cfg.Model,
			Temperature: cfg.Temperature,
			Timeout:     cfg.Timeout,
			JSONMode:    cfg.JSONMode,
		}, logger)
		logger.Info("OpenAI client initialized", "model", cfg.Model)
		return client, func() error { return nil }, nil
	}
}

func newResolver(ext llm.Extractor, cfg *common.Config, logger *slog.Logger) *pipeline.Resolver {
	return pipeline.NewResolver(ext, pipeline.ResolverConfig{
		MaxAttempts:   cfg.Pipeline.MaxAttempts,
		RetryBackoff:  cfg.Pipeline.RetryBackoff,
		MaxInputRunes: cfg.LLM.MaxInputRunes,
	}, logger, pipeline.WithRateLimit(cfg.Pipeline.RequestsPerSecond))
}

func newLoader(cfg *common.Config, logger *slog.Logger) *loader.Loader {
	return loader.New(loader.Config{
		MaxFileSize:    cfg.Loader.MaxFileSize,
		DetectLanguage: cfg.Loader.DetectLanguage,
	}, logger)
}

// openSink connects the optional SQL sink. A bad DSN is a configuration
// error; an unreachable database only disables the sink.
func openSink(ctx context.Context, cfg *common.Config, logger *slog.Logger) (repository.SolicitudRepository, func() error, error) {
	if cfg.Database.DSN == "" {
		return nil, nil, nil
	}
	if _, _, err := repository.ParseDSN(cfg.Database.DSN); err != nil {
		return nil, nil, cli.Exit(err.Error(), exitConfig)
	}
	db, err := repository.Open(ctx, repository.Config{
		DSN:              cfg.Database.DSN,
		MaxConns:         cfg.Database.MaxConns,
		MinConns:         cfg.Database.MinConns,
		MaxConnLifetime:  cfg.Database.MaxConnLifetime,
		MaxConnIdleTime:  cfg.Database.MaxConnIdleTime,
		DialTimeout:      cfg.Database.DialTimeout,
		StatementTimeout: cfg.Database.StatementTimeout,
	}, logger)
	if err != nil {
		return nil, nil, fmt.Errorf("open database: %w", err)
	}
	if err := db.HealthCheck(ctx, cfg.Database.DialTimeout); err != nil {
		_ = db.Close()
		return nil, nil, fmt.Errorf("database health check: %w", err)
	}
	repo := repository.NewSolicitudRepository(db, logger)
	if cfg.Database.CreateTable {
		if err := repo.EnsureTable(ctx); err != nil {
			_ = db.Close()
			return nil, nil, fmt.Errorf("create table: %w", err)
		}
	}
	return repo, db.Close, nil
}

// buildApp wires loader, backend, retry controller, artifact store and the
// optional sinks into a runner.
func buildApp(ctx context.Context, c *cli.Context) (*app, error) {
	cfg, err := loadConfig(c, true)
	if err != nil {
		return nil, err
	}
	logger := newLogger(cfg.Log, os.Stderr)
	a := &app{cfg: cfg, logger: logger}

	ext, closeExt, err := newExtractor(ctx, cfg.LLM, logger)
	if err != nil {
		return nil, cli.Exit(err.Error(), exitConfig)
	}
	a.closers = append(a.closers, closeExt)
	a.resolver = newResolver(ext, cfg, logger)

	store, err := artifacts.Open(ctx, cfg.Pipeline.OutputDir, logger)
	if err != nil {
		a.close()
		return nil, fmt.Errorf("open output %s: %w", cfg.Pipeline.OutputDir, err)
	}
	a.store = store
	a.closers = append(a.closers, store.Close)

	opts := []pipeline.RunnerOption{
		pipeline.WithPool(async.NewPool(logger,
			async.WithWorkers(cfg.Pipeline.Workers),
			async.WithProcessTimeout(cfg.Pipeline.DocumentTimeout),
		)),
	}
	sink, closeSink, err := openSink(ctx, cfg, logger)
	switch {
	case err != nil && isExitCoder(err):
		a.close()
		return nil, err
	case err != nil:
		logger.Error("sql sink disabled", "error", err)
	case sink != nil:
		a.closers = append(a.closers, closeSink)
		opts = append(opts, pipeline.WithRecordSink(sink))
	}
	if cfg.Export.XLSXPath != "" {
		opts = append(opts, pipeline.WithReporter(export.NewFileReporter(export.NewService(logger), cfg.Export.XLSXPath)))
	}

	a.runner = pipeline.NewRunner(newLoader(cfg, logger), a.resolver, store, logger, opts...)
	return a, nil
}

func isExitCoder(err error) bool {
	_, ok := err.(cli.ExitCoder)
	return ok
}
