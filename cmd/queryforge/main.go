package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/Strob0t/QueryForge/internal/adapter/bigquery"
	qfhttp "github.com/Strob0t/QueryForge/internal/adapter/http"
	"github.com/Strob0t/QueryForge/internal/adapter/litellm"
	qfmcp "github.com/Strob0t/QueryForge/internal/adapter/mcp"
	"github.com/Strob0t/QueryForge/internal/adapter/mongo"
	qfnats "github.com/Strob0t/QueryForge/internal/adapter/nats"
	"github.com/Strob0t/QueryForge/internal/adapter/natskv"
	qfotel "github.com/Strob0t/QueryForge/internal/adapter/otel"
	"github.com/Strob0t/QueryForge/internal/adapter/postgres"
	"github.com/Strob0t/QueryForge/internal/adapter/ristretto"
	"github.com/Strob0t/QueryForge/internal/adapter/tiered"
	"github.com/Strob0t/QueryForge/internal/adapter/ws"
	"github.com/Strob0t/QueryForge/internal/config"
	"github.com/Strob0t/QueryForge/internal/logger"
	"github.com/Strob0t/QueryForge/internal/middleware"
	"github.com/Strob0t/QueryForge/internal/port/cache"
	"github.com/Strob0t/QueryForge/internal/resilience"
	"github.com/Strob0t/QueryForge/internal/secrets"
	"github.com/Strob0t/QueryForge/internal/service"
)

const (
	version = "0.1.0"

	secretLiteLLMKey = "LITELLM_MASTER_KEY"
)

func main() {
	if len(os.Args) > 1 && os.Args[1] == "admin" {
		if err := runAdmin(os.Args[2:]); err != nil {
			fmt.Fprintln(os.Stderr, "error:", err)
			os.Exit(1)
		}
		return
	}

	if err := run(os.Args[1:]); err != nil {
		slog.Error("fatal", "error", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	flags, err := config.ParseFlags(args)
	if err != nil {
		return err
	}
	cfg, cfgPath, err := config.LoadWithCLI(flags)
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}

	log, closeLog := logger.New(cfg.Logging)
	defer closeLog.Close()
	slog.SetDefault(log)

	slog.Info("config loaded",
		"path", cfgPath,
		"port", cfg.Server.Port,
		"log_level", cfg.Logging.Level,
		"pg_max_conns", cfg.Postgres.MaxConns,
		"turn_timeout", cfg.Conversation.TurnTimeout,
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// --- Telemetry ---

	shutdownOTEL, err := qfotel.Init(ctx, cfg.OTEL)
	if err != nil {
		return fmt.Errorf("otel: %w", err)
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownOTEL(sctx); err != nil {
			slog.Warn("otel shutdown", "error", err)
		}
	}()
	metrics, err := qfotel.NewMetrics()
	if err != nil {
		return fmt.Errorf("otel metrics: %w", err)
	}

	// --- Infrastructure ---

	// PostgreSQL
	pool, err := postgres.NewPool(ctx, cfg.Postgres)
	if err != nil {
		return fmt.Errorf("postgres: %w", err)
	}
	defer pool.Close()
	slog.Info("postgres connected")

	if err := postgres.RunMigrations(ctx, cfg.Postgres.DSN); err != nil {
		return fmt.Errorf("migrations: %w", err)
	}
	slog.Info("migrations applied")
	store := postgres.NewStore(pool)

	// NATS
	queue, err := qfnats.Connect(ctx, cfg.NATS.URL)
	if err != nil {
		return fmt.Errorf("nats: %w", err)
	}
	defer func() {
		if err := queue.Drain(); err != nil {
			slog.Warn("nats drain", "error", err)
		}
	}()

	// Caches: ristretto L1 in front of a NATS KV L2 shared across replicas.
	availabilityCache, l1, err := buildCache(ctx, cfg.Cache, queue)
	if err != nil {
		return err
	}
	defer l1.Close()

	// Secrets
	vault, err := buildVault(cfg.SecretsFile)
	if err != nil {
		return err
	}
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)
	go vault.ReloadOn(ctx, hup)

	// --- Datasources ---

	mongoDriver := mongo.NewDriver(cfg.Datasources.QueryTimeout, cfg.Datasources.SampleSize)
	bqDriver := bigquery.NewDriver(bigquery.Config{
		CredentialsFile: cfg.Datasources.BigQueryCredentialsFile,
		MaxBytesBilled:  cfg.Datasources.MaxBytesBilled,
		Timeout:         cfg.Datasources.QueryTimeout,
	})
	defer func() {
		cctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := mongoDriver.Close(cctx); err != nil {
			slog.Warn("mongo driver close", "error", err)
		}
		if err := bqDriver.Close(); err != nil {
			slog.Warn("bigquery driver close", "error", err)
		}
	}()

	// --- Services ---

	tools := service.NewToolset(store, cfg.Conversation.RowLimit, cfg.Conversation.QueryWorkers, mongoDriver, bqDriver)
	workspaces := service.NewWorkspaceService(store, availabilityCache, cfg.Cache.WorkspaceTTL)
	workspaces.SetQueue(queue)
	stopChanges, err := workspaces.StartChangeSubscriber(ctx)
	if err != nil {
		return fmt.Errorf("workspace change subscriber: %w", err)
	}
	defer stopChanges()
	registry := service.NewAgentRegistry(tools)
	runtime := qfnats.NewRuntime(queue)

	conversations := service.NewConversationService(store, workspaces, registry, tools, runtime, cfg.Conversation)
	conversations.SetQueue(queue)
	conversations.SetMetrics(metrics)

	llm := litellm.NewClient(cfg.LiteLLM.URL, cfg.LiteLLM.MasterKey)
	llmBreaker := resilience.NewBreaker("litellm", cfg.Breaker.MaxFailures, cfg.Breaker.Timeout,
		resilience.CountIf(litellm.Unavailable))
	llm.SetBreaker(llmBreaker)
	llm.SetKeySource(vault.Source(secretLiteLLMKey))
	titles := service.NewTitleService(llm, store, cfg.LiteLLM.TitleModel, cfg.Conversation.TitleTimeout)
	conversations.SetTitleService(titles)

	authSvc := service.NewAuthService(&cfg.Auth)

	// --- HTTP ---

	limiter := middleware.NewRateLimiter(cfg.Rate.RequestsPerSecond, cfg.Rate.Burst, cfg.Rate.TurnCost)
	stopCleanup := limiter.StartCleanup(cfg.Rate.CleanupInterval, cfg.Rate.MaxIdleTime)
	defer stopCleanup()

	hub := ws.NewHub(conversations)
	hub.SetTurnLimiter(limiter)
	handlers := &qfhttp.Handlers{
		Conversations: conversations,
		Workspaces:    workspaces,
		ChatSocket:    hub.HandleChat,
		TurnLimit:     limiter.Turns,
		Checks: map[string]qfhttp.Pinger{
			"postgres": store,
			"nats": pingFunc(func(context.Context) error {
				if !queue.IsConnected() {
					return errors.New("disconnected")
				}
				return nil
			}),
		},
		Info: map[string]func() string{
			"title_model_breaker": func() string { return string(llmBreaker.State()) },
			"availability_cache_hit_ratio": func() string {
				return strconv.FormatFloat(l1.HitRatio(), 'f', 2, 64)
			},
		},
	}

	authMW := middleware.Auth(authSvc, cfg.Auth.Enabled, cfg.Auth.DefaultUserID)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(qfotel.HTTPMiddleware(cfg.OTEL.ServiceName))
	r.Use(qfhttp.SecurityHeaders)
	r.Use(qfhttp.CORS(cfg.Server.CORSOrigin))
	r.Use(qfhttp.Logger)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)

	qfhttp.MountRoutes(r, handlers, authMW, limiter.Handler)

	// MCP
	var mcpSrv *qfmcp.Server
	if cfg.MCP.Enabled {
		mcpSrv = qfmcp.NewServer(qfmcp.ServerConfig{Addr: cfg.MCP.Addr, Name: "queryforge", Version: version}, qfmcp.ServerDeps{
			Tools:     tools.ServerTools(),
			Databases: workspaces,
			Bind: func(ctx context.Context, workspaceID string) context.Context {
				return service.WithToolBinding(ctx, service.ToolBinding{WorkspaceID: workspaceID})
			},
		})
		r.With(authMW, limiter.Handler).Handle("/mcp", mcpSrv.Handler())
		if err := mcpSrv.Start(); err != nil {
			return fmt.Errorf("mcp: %w", err)
		}
	}

	addr := ":" + cfg.Server.Port
	srv := &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		// Streams stay open for a whole turn.
		WriteTimeout: cfg.Conversation.TurnTimeout + 30*time.Second,
		IdleTimeout:  120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("starting server", "addr", addr, "version", version)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		return fmt.Errorf("server: %w", err)
	}
	slog.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Conversation.TurnTimeout+10*time.Second)
	defer cancel()

	hub.CloseAll()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("http shutdown", "error", err)
	}
	if mcpSrv != nil {
		if err := mcpSrv.Stop(shutdownCtx); err != nil {
			slog.Error("mcp shutdown", "error", err)
		}
	}
	if err := titles.Wait(shutdownCtx); err != nil {
		slog.Warn("title generation still running at shutdown", "error", err)
	}
	return nil
}

// buildCache assembles the availability cache. Without an L2 bucket only
// the in-process L1 is used. The L1 is returned for its stats and Close.
func buildCache(ctx context.Context, cfg config.Cache, queue *qfnats.Queue) (cache.Cache, *ristretto.Cache, error) {
	l1, err := ristretto.New(cfg.L1MaxSizeMB << 20)
	if err != nil {
		return nil, nil, fmt.Errorf("l1 cache: %w", err)
	}
	if cfg.L2Bucket == "" {
		return l1, l1, nil
	}
	kv, err := queue.KeyValue(ctx, cfg.L2Bucket, cfg.L2TTL)
	if err != nil {
		l1.Close()
		return nil, nil, fmt.Errorf("l2 cache: %w", err)
	}
	return tiered.New(l1, natskv.New(kv), cfg.WorkspaceTTL), l1, nil
}

// buildVault loads rotatable credentials from the environment, overlaid by
// the secrets file when one is configured.
func buildVault(path string) (*secrets.Vault, error) {
	loader := secrets.EnvLoader(secretLiteLLMKey)
	if path != "" {
		loader = secrets.Chain(loader, secrets.FileLoader(path))
	}
	v, err := secrets.NewVault(loader)
	if err != nil {
		return nil, fmt.Errorf("secrets: %w", err)
	}
	return v, nil
}

type pingFunc func(ctx context.Context) error

func (f pingFunc) Ping(ctx context.Context) error { return f(ctx) }
