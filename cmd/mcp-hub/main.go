// main implements the CLI for the MCP hub: the composition root that wires
// the Settings Store, Upstream Supervisor, Tool Catalog, Vector Index,
// Session Manager and Request Router together and serves them over HTTP, the
// way the teacher's cmd/mcp-broker-router/main.go wires the broker.
package main

import (
	"context"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/kagenti/mcp-hub/internal/catalog"
	"github.com/kagenti/mcp-hub/internal/config"
	"github.com/kagenti/mcp-hub/internal/router"
	"github.com/kagenti/mcp-hub/internal/session"
	"github.com/kagenti/mcp-hub/internal/upstream"
	"github.com/kagenti/mcp-hub/internal/vectorindex"
)

func main() {
	addr := flag.String("addr", ":8080", "address the hub's HTTP server listens on")
	configPath := flag.String("config", "config.yaml", "path to the Settings YAML document")
	logFormat := flag.String("log-format", "text", "log output format: text or json")
	sessionSigningKey := flag.String("session-signing-key", os.Getenv("MCP_HUB_SESSION_KEY"), "HMAC signing key for downstream session id JWTs")
	sessionLengthMinutes := flag.Int64("session-length-minutes", 0, "session id JWT lifetime in minutes (0 = default 24h)")
	redisURL := flag.String("redis-url", os.Getenv("MCP_HUB_REDIS_URL"), "redis connection string for session persistence (empty = in-memory)")
	vectorDBURL := flag.String("vector-db-url", os.Getenv("MCP_HUB_VECTOR_DB_URL"), "postgres/pgvector connection string (empty disables smart routing)")
	embedAPIKey := flag.String("embed-api-key", os.Getenv("OPENAI_API_KEY"), "API key for the embeddings backend")
	embedBaseURL := flag.String("embed-base-url", os.Getenv("OPENAI_BASE_URL"), "override base URL for an OpenAI-compatible embeddings backend")
	configUpdateToken := flag.String("config-update-token", os.Getenv("CONFIG_UPDATE_TOKEN"), "bearer token required on /config updates; empty disables auth")
	flag.Parse()

	var handler slog.Handler
	if *logFormat == "json" {
		handler = slog.NewJSONHandler(os.Stdout, nil)
	} else {
		handler = slog.NewTextHandler(os.Stdout, nil)
	}
	logger := slog.New(handler)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	settingsStore := config.NewStore(config.Empty(), logger)
	loader := config.NewLoader(*configPath, settingsStore, logger)
	if err := loader.Load(ctx); err != nil {
		logger.Warn("could not load initial config file, starting empty", "path", *configPath, "error", err)
	}
	loader.Watch(ctx)

	supervisor := upstream.NewSupervisor(logger)
	settingsStore.Subscribe(config.ObserverFunc(supervisor.OnSettingsChanged))
	supervisor.Bootstrap(ctx, settingsStore.Snapshot())

	cat := catalog.New(supervisor, logger)
	cat.Start()

	var index *vectorindex.Index
	if *vectorDBURL != "" {
		embedder := vectorindex.NewOpenAIEmbedder(*embedAPIKey, *embedBaseURL, settingsStore.Snapshot().Flags.SmartRoutingEmbedModel)
		idx, err := vectorindex.Open(ctx, *vectorDBURL, embedder, cat, logger)
		if err != nil {
			logger.Error("opening vector index, smart routing disabled", "error", err)
		} else {
			idx.Start(ctx)
			idx.ReconcileAll(ctx)
			index = idx
		}
	} else {
		logger.Info("no vector-db-url configured, $smart search_tools will report the embedder as unavailable")
	}

	sessionStore, err := session.NewStore(ctx, *redisURL)
	if err != nil {
		logger.Error("opening session store", "error", err)
		os.Exit(1)
	}
	defer func() { _ = sessionStore.Close() }()

	jwtManager, err := session.NewJWTManager(*sessionSigningKey, *sessionLengthMinutes, logger, nil)
	if err != nil {
		logger.Error("constructing session id manager", "error", err)
		os.Exit(1)
	}

	idleTimeout := time.Duration(settingsStore.Snapshot().Flags.IdleSessionTimeoutMs) * time.Millisecond
	sessionManager := session.NewManager(jwtManager, sessionStore, idleTimeout, logger)
	go sessionManager.RunIdleSweep(ctx, time.Minute)

	r := router.New(settingsStore, cat, supervisor, sessionManager, index, logger)
	r.Start(ctx)

	registry := newSessionRegistry(r, sessionManager, logger)
	sessionManager.SetOnDeleted(registry.drop)

	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("mcp-hub: MCP endpoints at /mcp, /sse, /messages\n"))
	})
	mux.Handle("/mcp/", &mcpStreamHandler{prefix: "/mcp/", router: r, sessions: sessionManager, registry: registry, logger: logger})
	mux.Handle("/mcp", &mcpStreamHandler{prefix: "/mcp", router: r, sessions: sessionManager, registry: registry, logger: logger})
	mux.Handle("/sse/", &sseHandler{prefix: "/sse/", router: r, registry: registry})
	mux.Handle("/sse", &sseHandler{prefix: "/sse", router: r, registry: registry})
	mux.Handle("/messages", &messagesHandler{sessions: sessionManager, registry: registry})
	mux.Handle("/status", &statusHandler{supervisor: supervisor, catalog: cat})
	mux.Handle("POST /config", &configHandler{store: settingsStore, authToken: *configUpdateToken, logger: logger})
	mux.HandleFunc("/.well-known/oauth-protected-resource", oauthProtectedResourceHandler(oauthConfigFromEnv()))

	httpSrv := &http.Server{
		Addr:              *addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("mcp-hub listening", "addr", *addr)
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server failed", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down mcp-hub")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http shutdown error", "error", err)
	}
	if index != nil {
		index.Close()
	}
}
