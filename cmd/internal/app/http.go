package app

import (
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"wisp/cmd/internal/chat"
	"wisp/cmd/internal/realtime"
)

func registerHTTP(
	mux *http.ServeMux,
	log Logger,
	cfg Config,
	dbPool *pgxpool.Pool,
	dbEnabled bool,
	redisClient *redis.Client,
	api *chat.API,
	ws *realtime.WSGateway,
	uploadsDir string,
) {
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok\n"))
	})

	mux.HandleFunc("/readyz", func(w http.ResponseWriter, r *http.Request) {
		if cfg.ReadinessRequireDB && !dbEnabled {
			http.Error(w, "db not configured", http.StatusServiceUnavailable)
			return
		}

		if dbEnabled && dbPool != nil {
			if err := PingDB(r.Context(), dbPool, 2*time.Second); err != nil {
				http.Error(w, "db not ready", http.StatusServiceUnavailable)
				log.Info("readyz.db.not_ready", "err", err)
				return
			}
		}

		if cfg.ReadinessRequireCache && redisClient == nil {
			http.Error(w, "cache not configured", http.StatusServiceUnavailable)
			return
		}
		if redisClient != nil {
			if err := PingRedis(r.Context(), redisClient, 2*time.Second); err != nil {
				http.Error(w, "cache not ready", http.StatusServiceUnavailable)
				log.Info("readyz.cache.not_ready", "err", err)
				return
			}
		}

		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready\n"))
	})

	mux.Handle("/metrics", promhttp.Handler())

	// Voice notes written by the local blob store are served back here.
	if uploadsDir != "" {
		prefix := cfg.UploadsURLPath
		if prefix == "" {
			prefix = "/uploads"
		}
		mux.Handle("GET "+prefix+"/", http.StripPrefix(prefix+"/", http.FileServer(http.Dir(uploadsDir))))
	}

	api.Register(mux)

	mux.HandleFunc("/ws", ws.HandleWS)
}
