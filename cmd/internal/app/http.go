package app

import (
	"context"
	"net/http"
	"time"

	"skinlink/cmd/internal/api"
	"skinlink/cmd/internal/metrics"

	"github.com/jackc/pgx/v5/pgxpool"
)

// healthChecker is satisfied by *credit.RPCLedger.
type healthChecker interface {
	Health(ctx context.Context) error
}

func registerHTTP(
	mux *http.ServeMux,
	log Logger,
	cfg Config,
	dbPool *pgxpool.Pool,
	dbEnabled bool,
	ledger healthChecker,
	m *metrics.Metrics,
	links *api.Handler,
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

		if cfg.ReadinessCheckRPC && ledger != nil {
			ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
			defer cancel()
			if err := ledger.Health(ctx); err != nil {
				http.Error(w, "rpc not ready", http.StatusServiceUnavailable)
				log.Info("readyz.rpc.not_ready", "err", err)
				return
			}
		}

		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready\n"))
	})

	if m != nil {
		mux.Handle("/metrics", m.Handler())
	}

	if links != nil {
		links.Register(mux)
	}
}
