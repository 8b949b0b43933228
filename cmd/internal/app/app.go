// Package app wires the BizHub server runtime: config, logging, HTTP routes,
// the chat service and the realtime gateway.
package app

import (
	"context"
	"errors"
	"net/http"
	"time"

	"bizhub/cmd/internal/chat"
	chatapi "bizhub/cmd/internal/chat/api"
	"bizhub/cmd/internal/realtime"

	"github.com/gorilla/mux"
	"github.com/jackc/pgx/v5/pgxpool"
)

// App is the BizHub server runtime: it owns the HTTP server wiring and the
// chat and realtime dependencies.
type App struct {
	cfg Config
	log Logger

	store chat.Store

	dbPool    *pgxpool.Pool
	dbEnabled bool

	ws      *realtime.WSGateway
	chatAPI *chatapi.Handler
}

// New constructs a fully wired App instance from config and logger.
func New(cfg Config, log Logger) (*App, error) {
	if log == nil {
		log = NewLogger(cfg.LogLevel, cfg.LogFormat)
	}

	store, dbPool, dbEnabled, err := newChatStore(context.Background(), cfg, log)
	if err != nil {
		return nil, err
	}

	hub := realtime.NewHub(log)

	svc, err := chat.NewService(log, store, hub)
	if err != nil {
		closeStore(store, dbPool)
		return nil, err
	}

	ws := realtime.NewWSGateway(log, hub, svc)

	handler, err := chatapi.NewHandler(log, svc)
	if err != nil {
		closeStore(store, dbPool)
		return nil, err
	}

	return &App{
		cfg:       cfg,
		log:       log,
		store:     store,
		dbPool:    dbPool,
		dbEnabled: dbEnabled,
		ws:        ws,
		chatAPI:   handler,
	}, nil
}

// Run starts the HTTP server and blocks until context cancellation or fatal server error.
func (a *App) Run(ctx context.Context) error {
	r := mux.NewRouter()
	registerHTTP(r, a.log, a.cfg, a.dbPool, a.dbEnabled, a.ws, a.chatAPI)

	srv := &http.Server{
		Addr:              a.cfg.HTTPAddr,
		Handler:           WithRequestLogging(WithCORS(WithSecurityHeaders(r), a.cfg, a.log), a.log),
		ReadHeaderTimeout: nonZeroDuration(a.cfg.ReadHeaderTimeout, 5*time.Second),
		ReadTimeout:       nonZeroDuration(a.cfg.ReadTimeout, 15*time.Second),
		WriteTimeout:      nonZeroDuration(a.cfg.WriteTimeout, 15*time.Second),
		IdleTimeout:       nonZeroDuration(a.cfg.IdleTimeout, 60*time.Second),
		MaxHeaderBytes:    nonZeroInt(a.cfg.MaxHeaderBytes, 1<<20),
	}

	baseURL := runtimeBaseURL(a.cfg.HTTPAddr)
	a.log.Info("server.start",
		"addr", a.cfg.HTTPAddr,
		"url", baseURL,
		"ws_url", wsBaseURL(baseURL)+"/ws",
		"db_enabled", a.dbEnabled,
	)

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		a.log.Info("server.stop", "reason", "context_done")
	case err := <-errCh:
		a.log.Error("server.fail", "err", err)
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.log.Error("server.shutdown.fail", "err", err)
		return err
	}

	if err := a.store.Close(); err != nil {
		a.log.Error("store.close.fail", "err", err)
	}
	if a.dbPool != nil {
		a.dbPool.Close()
	}

	a.log.Info("server.stopped")
	return nil
}

func nonZeroDuration(v, def time.Duration) time.Duration {
	if v <= 0 {
		return def
	}
	return v
}

func nonZeroInt(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}

// newChatStore decides between Postgres-backed persistence and the in-memory dev store.
//
// Ownership model:
// - app owns the pool lifecycle
// - PostgresStore.Close() is a no-op
func newChatStore(ctx context.Context, cfg Config, log Logger) (chat.Store, *pgxpool.Pool, bool, error) {
	if cfg.DatabaseURL == "" {
		log.Info("db.disabled.inmemory_store")
		return chat.NewMemoryStore(), nil, false, nil
	}

	pool, err := NewDBPool(ctx, cfg)
	if err != nil {
		return nil, nil, false, err
	}

	log.Info("db.enabled.postgres_store", "schema", cfg.ChatSchema)

	store, err := chat.NewPostgresStore(pool, chat.WithSchema(cfg.ChatSchema))
	if err != nil {
		pool.Close()
		return nil, nil, false, err
	}
	return store, pool, true, nil
}

func closeStore(store chat.Store, pool *pgxpool.Pool) {
	if store != nil {
		_ = store.Close()
	}
	if pool != nil {
		pool.Close()
	}
}
