// Package app wires the wisp server runtime: config, logging, persistence,
// the conversation cache, HTTP routes, and the realtime gateway.
//
// It is intentionally small and deterministic to keep CI gates strict and behavior predictable.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"wisp/cmd/internal/blob"
	"wisp/cmd/internal/chat"
	"wisp/cmd/internal/realtime"
)

// App is the server runtime: it owns resource lifecycles and HTTP wiring.
type App struct {
	cfg Config
	log Logger

	dbPool    *pgxpool.Pool
	dbEnabled bool

	redisClient *redis.Client

	store chat.Store
	blobs blob.Store

	api *chat.API
	ws  *realtime.WSGateway

	// Set when the local blob backend is active, so the HTTP layer can
	// serve the uploads directory back.
	uploadsDir string
}

// New constructs a fully wired App instance from config and logger.
func New(cfg Config, log Logger) (*App, error) {
	if log == nil {
		log = NewLogger(cfg.LogLevel, cfg.LogFormat)
	}

	ctx := context.Background()

	store, dbPool, dbEnabled, err := newChatStore(ctx, cfg, log)
	if err != nil {
		return nil, err
	}

	cache, redisClient, err := newChatCache(ctx, cfg, log)
	if err != nil {
		if dbPool != nil {
			dbPool.Close()
		}
		return nil, err
	}

	blobs, uploadsDir, err := newBlobStore(ctx, cfg, log)
	if err != nil {
		if dbPool != nil {
			dbPool.Close()
		}
		if redisClient != nil {
			_ = redisClient.Close()
		}
		return nil, err
	}

	coord := chat.NewCoordinator(log, store, cache)

	hub := realtime.NewHub(log)
	pipeline := chat.NewPipeline(log, coord, blobs, hub)

	registry := realtime.NewRegistry(log, hub)
	access := realtime.NewAccessChecker(store)
	relay := realtime.NewRelay(log, hub, access)
	ws := realtime.NewWSGateway(log, registry, access, relay, pipeline)

	api := chat.NewAPI(log, coord, pipeline)

	return &App{
		cfg:         cfg,
		log:         log,
		dbPool:      dbPool,
		dbEnabled:   dbEnabled,
		redisClient: redisClient,
		store:       store,
		blobs:       blobs,
		api:         api,
		ws:          ws,
		uploadsDir:  uploadsDir,
	}, nil
}

// Run starts the HTTP server and blocks until context cancellation or fatal server error.
func (a *App) Run(ctx context.Context) error {
	mux := http.NewServeMux()

	registerHTTP(mux, a.log, a.cfg, a.dbPool, a.dbEnabled, a.redisClient, a.api, a.ws, a.uploadsDir)

	srv := &http.Server{
		Addr:              a.cfg.HTTPAddr,
		Handler:           WithRequestLogging(mux, a.log),
		ReadHeaderTimeout: nonZeroDuration(a.cfg.ReadHeaderTimeout, 5*time.Second),
		ReadTimeout:       nonZeroDuration(a.cfg.ReadTimeout, 15*time.Second),
		WriteTimeout:      nonZeroDuration(a.cfg.WriteTimeout, 15*time.Second),
		IdleTimeout:       nonZeroDuration(a.cfg.IdleTimeout, 60*time.Second),
		MaxHeaderBytes:    nonZeroInt(a.cfg.MaxHeaderBytes, 1<<20),
	}

	a.log.Info("server.start", "addr", a.cfg.HTTPAddr, "db_enabled", a.dbEnabled, "cache_enabled", a.redisClient != nil)

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

	a.closeResources()

	a.log.Info("server.stopped")
	return nil
}

func (a *App) closeResources() {
	if a.blobs != nil {
		if err := a.blobs.Close(); err != nil {
			a.log.Error("blob.close.fail", "err", err)
		}
	}
	if err := a.store.Close(); err != nil {
		a.log.Error("store.close.fail", "err", err)
	}
	if a.redisClient != nil {
		if err := a.redisClient.Close(); err != nil {
			a.log.Error("cache.close.fail", "err", err)
		}
	}
	// Ownership model: the app owns the pool; the store's Close is a no-op.
	if a.dbPool != nil {
		a.dbPool.Close()
	}
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
func newChatStore(ctx context.Context, cfg Config, log Logger) (chat.Store, *pgxpool.Pool, bool, error) {
	if cfg.DatabaseURL == "" {
		log.Info("db.disabled.inmemory_store")
		return chat.NewInMemoryStore(), nil, false, nil
	}

	pool, err := NewDBPool(ctx, cfg)
	if err != nil {
		return nil, nil, false, err
	}

	log.Info("db.enabled.postgres_store")

	store, err := chat.NewPostgresStore(pool)
	if err != nil {
		pool.Close()
		return nil, nil, false, err
	}
	return store, pool, true, nil
}

// newChatCache decides between the Redis-backed cache and the in-process one.
func newChatCache(ctx context.Context, cfg Config, log Logger) (chat.Cache, *redis.Client, error) {
	if cfg.RedisURL == "" {
		log.Info("cache.disabled.inprocess")
		return chat.NewMemoryCache(), nil, nil
	}

	client, err := NewRedisClient(ctx, cfg.RedisURL)
	if err != nil {
		return nil, nil, fmt.Errorf("redis connect: %w", err)
	}

	cache, err := chat.NewRedisCache(client, cfg.RedisOpTimeout)
	if err != nil {
		_ = client.Close()
		return nil, nil, err
	}

	log.Info("cache.enabled.redis")
	return cache, client, nil
}

// newBlobStore builds the voice-note blob backend. The local backend also
// reports its directory so HTTP can serve it.
func newBlobStore(ctx context.Context, cfg Config, log Logger) (blob.Store, string, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.BlobBackend)) {
	case "", "local":
		st, err := blob.NewLocalStore(cfg.UploadsDir, cfg.UploadsURLPath)
		if err != nil {
			return nil, "", err
		}
		log.Info("blob.enabled.local", "dir", st.Dir())
		return st, st.Dir(), nil

	case "s3":
		st, err := blob.NewS3Store(ctx, blob.S3Config{
			Bucket:          cfg.S3Bucket,
			Region:          cfg.S3Region,
			Endpoint:        cfg.S3Endpoint,
			Prefix:          cfg.S3Prefix,
			AccessKeyID:     cfg.S3AccessKey,
			SecretAccessKey: cfg.S3SecretKey,
			UsePathStyle:    cfg.S3UsePathStyle,
			PublicBaseURL:   cfg.S3PublicBaseURL,
		})
		if err != nil {
			return nil, "", err
		}
		log.Info("blob.enabled.s3", "bucket", cfg.S3Bucket)
		return st, "", nil

	default:
		return nil, "", fmt.Errorf("unknown blob backend: %q", cfg.BlobBackend)
	}
}
