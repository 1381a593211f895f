// Package app wires the skinlink server runtime: config, logging, stores, HTTP routes.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"skinlink/cmd/internal/api"
	"skinlink/cmd/internal/credit"
	"skinlink/cmd/internal/link"
	"skinlink/cmd/internal/metrics"
	"skinlink/cmd/security/token"

	"github.com/gagliardetto/solana-go"
	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/sync/errgroup"
)

// Store is a small app-level lifecycle abstraction.
// It exists to allow DB-backed resources to be closed gracefully.
type Store interface {
	Close(ctx context.Context) error
}

// nopStore is used for in-memory store mode.
type nopStore struct{}

func (nopStore) Close(_ context.Context) error { return nil }

// stores bundles the link stores with their lifecycle owner.
type stores struct {
	nonces link.NonceStore
	links  link.LinkStore
	owner  Store

	pool      *pgxpool.Pool
	dbEnabled bool

	// purge is non-nil when expired nonces need a periodic sweep.
	purge func(ctx context.Context, now time.Time) (int64, error)
}

// App is the skinlink server runtime.
type App struct {
	cfg Config
	log Logger

	store Store

	dbPool    *pgxpool.Pool
	dbEnabled bool
	purge     func(ctx context.Context, now time.Time) (int64, error)

	ledger  healthChecker
	metrics *metrics.Metrics
	api     *api.Handler
}

// New constructs a fully wired App instance from config and logger.
func New(cfg Config, log Logger) (*App, error) {
	if log == nil {
		log = NewLogger(cfg.LogLevel)
	}

	if err := ValidateSecurityConfig(cfg); err != nil {
		return nil, err
	}

	st, err := newStores(context.Background(), cfg, log)
	if err != nil {
		return nil, err
	}

	a, err := build(cfg, log, st)
	if err != nil {
		_ = st.owner.Close(context.Background())
		return nil, err
	}
	return a, nil
}

func build(cfg Config, log Logger, st stores) (*App, error) {
	m := metrics.New()

	svc, err := link.NewService(st.nonces, st.links, link.WithLogger(log.With("component", "link")))
	if err != nil {
		return nil, err
	}

	commitment, err := credit.ParseCommitment(cfg.Commitment)
	if err != nil {
		return nil, err
	}
	maxLamports, err := credit.ParseMaxLamports(cfg.MaxTransferSOL)
	if err != nil {
		return nil, fmt.Errorf("SKINLINK_MAX_TRANSFER_SOL: %w", err)
	}

	var funder solana.PrivateKey
	if cfg.FundingSecret != "" {
		funder, err = credit.ParseFundingKey(cfg.FundingSecret)
		if err != nil {
			return nil, err
		}
	}

	ledger := credit.NewRPCLedger(cfg.RPCURL, commitment)
	issuer, err := credit.NewIssuer(ledger, funder, credit.Config{
		Commitment:     commitment,
		ConfirmTimeout: cfg.ConfirmTimeout,
		PollInterval:   cfg.PollInterval,
		MaxLamports:    maxLamports,
	}, log.With("component", "credit"))
	if err != nil {
		return nil, err
	}
	if issuer.Available() {
		log.Info("credit.funding.loaded", "address", issuer.FundingAddress(), "rpc", cfg.RPCURL, "commitment", commitment)
	} else {
		log.Warn("credit.funding.missing", "hint", "set SKINLINK_FUND_WALLET_SECRET to enable /credit/transfer")
	}

	h, err := api.NewHandler(log.With("component", "api"), api.LoadConfigFromEnv(), svc, issuer, api.WithMetrics(m))
	if err != nil {
		return nil, err
	}

	return &App{
		cfg:       cfg,
		log:       log,
		store:     st.owner,
		dbPool:    st.pool,
		dbEnabled: st.dbEnabled,
		purge:     st.purge,
		ledger:    ledger,
		metrics:   m,
		api:       h,
	}, nil
}

// Handler returns the fully wrapped HTTP handler.
func (a *App) Handler() http.Handler {
	mux := http.NewServeMux()
	registerHTTP(mux, a.log, a.cfg, a.dbPool, a.dbEnabled, a.ledger, a.metrics, a.api)

	var h http.Handler = mux
	h = WithCORS(h, a.cfg, a.log)
	h = WithSecurityHeaders(h)
	h = WithRequestLogging(h, a.log, a.metrics)
	h = WithRequestID(h)
	return h
}

// Run starts the HTTP server and blocks until context cancellation or fatal server error.
func (a *App) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              a.cfg.HTTPAddr,
		Handler:           a.Handler(),
		ReadHeaderTimeout: nonZeroDuration(a.cfg.ReadHeaderTimeout, 5*time.Second),
		ReadTimeout:       nonZeroDuration(a.cfg.ReadTimeout, 15*time.Second),
		WriteTimeout:      nonZeroDuration(a.cfg.WriteTimeout, 75*time.Second),
		IdleTimeout:       nonZeroDuration(a.cfg.IdleTimeout, 60*time.Second),
		MaxHeaderBytes:    nonZeroInt(a.cfg.MaxHeaderBytes, 1<<20),
	}

	a.log.Info("server.start", "addr", a.cfg.HTTPAddr, "db_enabled", a.dbEnabled, "config", a.cfg.String())

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.log.Error("server.fail", "err", err)
			return err
		}
		return nil
	})

	if a.purge != nil {
		g.Go(func() error {
			a.sweepNonces(gctx, nonZeroDuration(a.cfg.NonceTTL, link.DefaultNonceTTL))
			return nil
		})
	}

	g.Go(func() error {
		<-gctx.Done()
		a.log.Info("server.stop", "reason", "context_done")

		// Long enough to let an in-flight transfer finish waiting for confirmation.
		shutdownCtx, cancel := context.WithTimeout(context.Background(), nonZeroDuration(a.cfg.ConfirmTimeout, 60*time.Second)+5*time.Second)
		defer cancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			a.log.Error("server.shutdown.fail", "err", err)
			return err
		}
		return nil
	})

	err := g.Wait()

	if cerr := a.store.Close(context.Background()); cerr != nil {
		a.log.Error("store.close.fail", "err", cerr)
	}
	if err != nil {
		return err
	}

	a.log.Info("server.stopped")
	return nil
}

// sweepNonces deletes expired nonce rows once per TTL.
// Expired rows never match anyway; this only bounds table growth.
func (a *App) sweepNonces(ctx context.Context, every time.Duration) {
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-t.C:
			n, err := a.purge(ctx, now.UTC())
			if err != nil {
				if ctx.Err() == nil {
					a.log.Warn("link.nonce.purge.fail", "err", err)
				}
				continue
			}
			if n > 0 {
				a.log.Debug("link.nonce.purge", "deleted", n)
			}
		}
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

// newStores decides between Postgres-backed persistence and in-memory stores.
func newStores(ctx context.Context, cfg Config, log Logger) (stores, error) {
	nonceOpts := []link.NonceOption{link.WithNonceTTL(nonZeroDuration(cfg.NonceTTL, link.DefaultNonceTTL))}

	if cfg.DatabaseURL == "" {
		log.Info("db.disabled.inmemory_store")
		return stores{
			nonces: link.NewMemoryNonceStore(nonceOpts...),
			links:  link.NewMemoryLinkStore(),
			owner:  nopStore{},
		}, nil
	}

	hasher, err := token.NewHasherFromEnv(cfg.RequireTokenHMAC, 32)
	if err != nil {
		return stores{}, err
	}

	pool, err := NewDBPool(ctx, cfg)
	if err != nil {
		return stores{}, err
	}

	log.Info("db.enabled.postgres_store", "nonce_hash_hmac", hasher.HMAC())

	// The app owns the pool; the stores only borrow it.
	nonces, err := link.NewPostgresNonceStore(pool, link.WithHasher(hasher), link.WithNonceOptions(nonceOpts...))
	if err != nil {
		pool.Close()
		return stores{}, err
	}
	links, err := link.NewPostgresLinkStore(pool)
	if err != nil {
		pool.Close()
		return stores{}, err
	}

	return stores{
		nonces:    nonces,
		links:     links,
		owner:     dbStore{pool: pool},
		pool:      pool,
		dbEnabled: true,
		purge:     nonces.PurgeExpired,
	}, nil
}

type dbStore struct {
	pool *pgxpool.Pool
}

func (s dbStore) Close(_ context.Context) error {
	if s.pool != nil {
		s.pool.Close()
	}
	return nil
}
