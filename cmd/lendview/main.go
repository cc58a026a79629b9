// Package main runs the lendview read API: live oracle prices joined with loan
// snapshots, a collateral calculator and protocol statistics, served over HTTP
// and a websocket stream.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"
	"github.com/joho/godotenv"
	"gopkg.in/natefinch/lumberjack.v2"

	httpadapter "github.com/archon-research/lendview/internal/adapters/inbound/http"
	"github.com/archon-research/lendview/internal/adapters/outbound/indexer"
	"github.com/archon-research/lendview/internal/adapters/outbound/loanbook"
	"github.com/archon-research/lendview/internal/adapters/outbound/memory"
	"github.com/archon-research/lendview/internal/adapters/outbound/postgres"
	"github.com/archon-research/lendview/internal/adapters/outbound/redis"
	"github.com/archon-research/lendview/internal/adapters/outbound/registry"
	"github.com/archon-research/lendview/internal/adapters/outbound/ristretto"
	"github.com/archon-research/lendview/internal/adapters/outbound/telemetry"
	"github.com/archon-research/lendview/internal/domain/entity"
	"github.com/archon-research/lendview/internal/pkg/blockchain"
	"github.com/archon-research/lendview/internal/pkg/blockchain/multicall"
	"github.com/archon-research/lendview/internal/pkg/cache"
	"github.com/archon-research/lendview/internal/pkg/env"
	"github.com/archon-research/lendview/internal/ports/outbound"
	"github.com/archon-research/lendview/internal/services/collateral_calculator"
	"github.com/archon-research/lendview/internal/services/price_comparison"
	"github.com/archon-research/lendview/internal/services/protocol_stats"
)

const shutdownTimeout = 25 * time.Second

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	_ = godotenv.Load(".env")
	_ = godotenv.Load(".env.local")

	if err := run(ctx, os.Args[1:]); err != nil {
		slog.Error("fatal", "error", err)
		os.Exit(1)
	}
}

type cliConfig struct {
	rpcURL           string
	multicallMode    string
	multicallAddress common.Address
	registryPath     string

	loanSource   string
	indexerURL   string
	dbURL        string
	loanContract common.Address
	loanStatuses []entity.LoanStatus

	cacheBackend  string
	redisAddr     string
	redisPassword string
	redisDB       int

	httpAddr       string
	healthAddr     string
	allowedOrigins []string

	refreshInterval      time.Duration
	staleThreshold       time.Duration
	significantChangePct float64

	logFile      string
	otlpEndpoint string
	traceStdout  bool
	environment  string
}

func parseConfig(args []string) (cliConfig, error) {
	fs := flag.NewFlagSet("lendview", flag.ContinueOnError)
	rpcURL := fs.String("rpc", "", "Ethereum JSON-RPC URL")
	registryPath := fs.String("registry", "", "Token registry YAML file")
	loanSource := fs.String("loans", "", "Loan source: indexer, postgres, loanbook or memory")
	cacheBackend := fs.String("cache", "", "Query cache: memory, ristretto or redis")
	httpAddr := fs.String("addr", "", "API listen address")
	if err := fs.Parse(args); err != nil {
		return cliConfig{}, err
	}

	cfg := cliConfig{
		rpcURL:       firstNonEmpty(*rpcURL, env.Get("RPC_URL", "")),
		registryPath: firstNonEmpty(*registryPath, env.Get("TOKEN_REGISTRY_PATH", "config/tokens.yaml")),
		loanSource:   strings.ToLower(firstNonEmpty(*loanSource, env.Get("LOAN_SOURCE", "indexer"))),
		cacheBackend: strings.ToLower(firstNonEmpty(*cacheBackend, env.Get("CACHE_BACKEND", "memory"))),
		httpAddr:     firstNonEmpty(*httpAddr, env.Get("HTTP_ADDR", ":8080")),

		multicallMode: strings.ToLower(env.Get("MULTICALL_MODE", "multicall3")),
		indexerURL:    env.Get("INDEXER_URL", ""),
		dbURL:         env.Get("DATABASE_URL", ""),
		redisAddr:     env.Get("REDIS_ADDR", "localhost:6379"),
		redisPassword: env.Get("REDIS_PASSWORD", ""),
		redisDB:       env.GetInt("REDIS_DB", 0),
		healthAddr:    env.Get("HEALTH_ADDR", ":8081"),

		refreshInterval:      env.GetDuration("REFRESH_INTERVAL", price_comparison.DefaultOptions().RefreshInterval),
		staleThreshold:       env.GetDuration("STALE_THRESHOLD", blockchain.DefaultStaleThreshold),
		significantChangePct: env.GetFloat("SIGNIFICANT_CHANGE_PCT", price_comparison.DefaultOptions().SignificantChangePct),

		logFile:      env.Get("LOG_FILE", ""),
		otlpEndpoint: env.Get("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
		traceStdout:  env.GetBool("OTEL_TRACES_STDOUT", false),
		environment:  env.Get("ENVIRONMENT", telemetry.ServiceInfoDefaults().Environment),
	}

	if cfg.rpcURL == "" {
		return cliConfig{}, fmt.Errorf("RPC URL not provided (use -rpc flag or RPC_URL env var)")
	}

	var err error
	if cfg.multicallAddress, err = entity.ParseAddress(env.Get("MULTICALL_ADDRESS", multicall.DefaultAddress)); err != nil {
		return cliConfig{}, fmt.Errorf("MULTICALL_ADDRESS: %w", err)
	}
	switch cfg.multicallMode {
	case "multicall3", "direct":
	default:
		return cliConfig{}, fmt.Errorf("unknown multicall mode %q (want multicall3 or direct)", cfg.multicallMode)
	}

	switch cfg.loanSource {
	case "indexer":
		if cfg.indexerURL == "" {
			return cliConfig{}, fmt.Errorf("indexer URL not provided (set INDEXER_URL)")
		}
	case "postgres":
		if cfg.dbURL == "" {
			return cliConfig{}, fmt.Errorf("database URL not provided (set DATABASE_URL)")
		}
	case "loanbook":
		if cfg.loanContract, err = entity.ParseAddress(env.Get("LOAN_CONTRACT_ADDRESS", "")); err != nil {
			return cliConfig{}, fmt.Errorf("LOAN_CONTRACT_ADDRESS: %w", err)
		}
	case "memory":
	default:
		return cliConfig{}, fmt.Errorf("unknown loan source %q", cfg.loanSource)
	}

	switch cfg.cacheBackend {
	case "memory", "ristretto", "redis":
	default:
		return cliConfig{}, fmt.Errorf("unknown cache backend %q", cfg.cacheBackend)
	}

	for _, s := range splitList(env.Get("LOAN_STATUSES", "")) {
		status, err := entity.ParseLoanStatus(s)
		if err != nil {
			return cliConfig{}, fmt.Errorf("LOAN_STATUSES: %w", err)
		}
		cfg.loanStatuses = append(cfg.loanStatuses, status)
	}
	cfg.allowedOrigins = splitList(env.Get("ALLOWED_ORIGINS", ""))

	return cfg, nil
}

// newLogger writes text logs to stdout and, when path is set, to a rotated file.
func newLogger(path string, level slog.Level) (*slog.Logger, io.Closer) {
	var out io.Writer = os.Stdout
	var closer io.Closer = io.NopCloser(nil)
	if path != "" {
		file := &lumberjack.Logger{
			Filename:   path,
			MaxSize:    100, // megabytes
			MaxBackups: 5,
			MaxAge:     14, // days
			Compress:   true,
		}
		out = io.MultiWriter(os.Stdout, file)
		closer = file
	}
	return slog.New(slog.NewTextHandler(out, &slog.HandlerOptions{Level: level})), closer
}

func run(ctx context.Context, args []string) error {
	cfg, err := parseConfig(args)
	if err != nil {
		return err
	}

	logger, logCloser := newLogger(cfg.logFile, env.ParseLogLevel(slog.LevelInfo))
	defer logCloser.Close()
	slog.SetDefault(logger)

	logger.Info("starting lendview",
		"loanSource", cfg.loanSource,
		"cache", cfg.cacheBackend,
		"multicall", cfg.multicallMode,
		"refreshInterval", cfg.refreshInterval,
	)

	service := telemetry.ServiceInfoDefaults()
	service.Environment = cfg.environment
	shutdownTracer, err := telemetry.InitTracer(ctx, telemetry.TracerConfig{
		Service:      service,
		OTLPEndpoint: cfg.otlpEndpoint,
		Stdout:       cfg.traceStdout,
	})
	if err != nil {
		return fmt.Errorf("initializing tracer: %w", err)
	}
	shutdownMetrics, err := telemetry.InitMetrics(ctx, telemetry.MetricConfig{
		Service:      service,
		OTLPEndpoint: cfg.otlpEndpoint,
	})
	if err != nil {
		return fmt.Errorf("initializing metrics: %w", err)
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := errors.Join(shutdownTracer(flushCtx), shutdownMetrics(flushCtx)); err != nil {
			logger.Warn("failed to flush telemetry", "error", err)
		}
	}()

	rpcClient, err := rpc.DialContext(ctx, cfg.rpcURL)
	if err != nil {
		return fmt.Errorf("connecting to Ethereum node: %w", err)
	}
	defer rpcClient.Close()
	logger.Info("Ethereum node connected")

	mc, err := newMulticaller(cfg, rpcClient)
	if err != nil {
		return err
	}

	tokens, err := registry.Load(cfg.registryPath)
	if err != nil {
		return fmt.Errorf("loading token registry: %w", err)
	}
	logger.Info("token registry loaded", "path", cfg.registryPath, "tokens", len(tokens.Tokens()))

	loans, stats, closeSource, err := newLoanSource(ctx, cfg, mc, logger)
	if err != nil {
		return err
	}
	defer closeSource()

	store, err := newCacheStore(cfg, logger)
	if err != nil {
		return err
	}
	defer store.Close()

	queryCache, err := cache.NewManager(store, cache.Config{Logger: logger})
	if err != nil {
		return fmt.Errorf("creating query cache: %w", err)
	}

	reader, err := blockchain.NewFeedReader(mc, blockchain.FeedReaderConfig{
		StaleThreshold: cfg.staleThreshold,
		Logger:         logger,
	})
	if err != nil {
		return fmt.Errorf("creating feed reader: %w", err)
	}

	metrics, err := telemetry.NewPriceMetrics("lendview")
	if err != nil {
		return fmt.Errorf("creating metrics: %w", err)
	}

	comparison, err := price_comparison.NewService(price_comparison.Config{
		Options: price_comparison.Options{
			RefreshInterval:      cfg.refreshInterval,
			StaleThreshold:       cfg.staleThreshold,
			SignificantChangePct: cfg.significantChangePct,
		},
		Metrics: metrics,
		Logger:  logger,
	}, reader, tokens)
	if err != nil {
		return fmt.Errorf("creating price comparison service: %w", err)
	}

	calculator, err := collateral_calculator.NewService(collateral_calculator.Config{
		StaleThreshold: cfg.staleThreshold,
		Logger:         logger,
	}, reader, tokens)
	if err != nil {
		return fmt.Errorf("creating collateral calculator: %w", err)
	}

	statsService, err := protocol_stats.NewService(stats, queryCache, logger)
	if err != nil {
		return fmt.Errorf("creating protocol stats service: %w", err)
	}

	api, err := httpadapter.NewAPI(httpadapter.APIConfig{
		AllowedOrigins: cfg.allowedOrigins,
		Logger:         logger,
	}, comparison, calculator, statsService)
	if err != nil {
		return fmt.Errorf("creating API: %w", err)
	}

	var shuttingDown atomic.Bool
	apiServer := httpadapter.NewServer(httpadapter.ServerConfig{Addr: cfg.httpAddr, Logger: logger}, "api-server", api.Routes())
	healthServer := httpadapter.NewServer(httpadapter.ServerConfig{Addr: cfg.healthAddr, Logger: logger}, "health-server",
		httpadapter.NewHealthHandler(comparison, &shuttingDown, logger))

	filter := outbound.LoanFilter{Statuses: cfg.loanStatuses}
	if err := comparison.Start(ctx, func(ctx context.Context) ([]*entity.LoanSnapshot, error) {
		return loans.ListLoans(ctx, filter)
	}); err != nil {
		return fmt.Errorf("starting price comparison: %w", err)
	}
	if err := calculator.Start(ctx); err != nil {
		return fmt.Errorf("starting collateral calculator: %w", err)
	}

	healthErr := healthServer.Start()
	apiErr := apiServer.Start()

	select {
	case <-ctx.Done():
	case err := <-apiErr:
		if err != nil {
			return fmt.Errorf("API server: %w", err)
		}
	case err := <-healthErr:
		if err != nil {
			return fmt.Errorf("health server: %w", err)
		}
	}
	logger.Info("shutting down...")
	shuttingDown.Store(true)

	shutdownDone := make(chan error, 1)
	go func() {
		err := errors.Join(
			apiServer.Shutdown(shutdownTimeout),
			comparison.Stop(),
			calculator.Stop(),
			healthServer.Shutdown(5*time.Second),
		)
		queryCache.Wait()
		shutdownDone <- err
	}()

	select {
	case err := <-shutdownDone:
		if err != nil {
			logger.Error("error during shutdown", "error", err)
		}
		logger.Info("shutdown complete")
	case <-time.After(shutdownTimeout + 5*time.Second):
		return fmt.Errorf("shutdown timed out")
	}
	return nil
}

func newMulticaller(cfg cliConfig, rpcClient *rpc.Client) (outbound.Multicaller, error) {
	if cfg.multicallMode == "direct" {
		return multicall.NewDirectCaller(rpcClient), nil
	}
	mc, err := multicall.NewClient(ethclient.NewClient(rpcClient), cfg.multicallAddress)
	if err != nil {
		return nil, fmt.Errorf("creating multicall client: %w", err)
	}
	return mc, nil
}

// newLoanSource returns the configured loan and stats sources and a release func.
func newLoanSource(ctx context.Context, cfg cliConfig, mc outbound.Multicaller, logger *slog.Logger) (outbound.LoanSource, outbound.StatsSource, func(), error) {
	noop := func() {}
	switch cfg.loanSource {
	case "indexer":
		client, err := indexer.NewClient(indexer.Config{BaseURL: cfg.indexerURL, Logger: logger})
		if err != nil {
			return nil, nil, nil, fmt.Errorf("creating indexer client: %w", err)
		}
		return client, client, noop, nil

	case "postgres":
		pool, err := postgres.OpenPool(ctx, postgres.DefaultDBConfig(cfg.dbURL))
		if err != nil {
			return nil, nil, nil, fmt.Errorf("connecting to database: %w", err)
		}
		logger.Info("PostgreSQL connected")
		repo, err := postgres.NewLoanRepository(pool, logger)
		if err != nil {
			pool.Close()
			return nil, nil, nil, fmt.Errorf("creating loan repository: %w", err)
		}
		return repo, repo, pool.Close, nil

	case "loanbook":
		reader, err := loanbook.NewReader(mc, loanbook.Config{Contract: cfg.loanContract, Logger: logger})
		if err != nil {
			return nil, nil, nil, fmt.Errorf("creating loan contract reader: %w", err)
		}
		return reader, reader, noop, nil

	default:
		logger.Warn("using empty in-memory loan source")
		src := memory.NewLoanSource()
		return src, src, noop, nil
	}
}

func newCacheStore(cfg cliConfig, logger *slog.Logger) (outbound.Cache, error) {
	switch cfg.cacheBackend {
	case "ristretto":
		store, err := ristretto.NewCache(ristretto.ConfigDefaults())
		if err != nil {
			return nil, fmt.Errorf("creating ristretto cache: %w", err)
		}
		return store, nil
	case "redis":
		store, err := redis.NewCache(redis.Config{
			Addr:      cfg.redisAddr,
			Password:  cfg.redisPassword,
			DB:        cfg.redisDB,
			KeyPrefix: redis.ConfigDefaults().KeyPrefix,
		}, logger)
		if err != nil {
			return nil, fmt.Errorf("creating redis cache: %w", err)
		}
		return store, nil
	default:
		return memory.NewCache(nil), nil
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
