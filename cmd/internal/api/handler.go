// Package api exposes the link and credit flows over HTTP with JSON bodies.
// Every response carries an "ok" boolean; failures carry a machine-stable "err" string.
package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"skinlink/cmd/internal/credit"
	"skinlink/cmd/internal/ids"
	"skinlink/cmd/internal/link"
	"skinlink/cmd/internal/metrics"
)

// Linker is the link flow the handler serves. *link.Service implements it.
type Linker interface {
	IssueNonce(ctx context.Context, identity string) (link.Nonce, error)
	Verify(ctx context.Context, in link.VerifyInput) (link.Link, error)
	Lookup(ctx context.Context, identity string) (link.Link, bool, error)
}

// Transferer issues credit transfers. *credit.Issuer implements it.
type Transferer interface {
	Transfer(ctx context.Context, req credit.TransferRequest) (credit.Receipt, error)
}

// Handler wires HTTP endpoints to the link and credit services.
type Handler struct {
	log *slog.Logger
	cfg Config

	links   Linker
	credit  Transferer
	metrics *metrics.Metrics
	limiter *ipLimiter

	now func() time.Time
}

// HandlerOption configures optional handler dependencies.
type HandlerOption func(*Handler)

// WithMetrics records request outcomes on m.
func WithMetrics(m *metrics.Metrics) HandlerOption {
	return func(h *Handler) {
		h.metrics = m
	}
}

// WithClock overrides time.Now for rate limiting. Intended for tests.
func WithClock(now func() time.Time) HandlerOption {
	return func(h *Handler) {
		if now != nil {
			h.now = now
		}
	}
}

// NewHandler constructs a Handler. Both services are required.
func NewHandler(log *slog.Logger, cfg Config, links Linker, transfers Transferer, opts ...HandlerOption) (*Handler, error) {
	if log == nil {
		log = slog.Default()
	}
	if links == nil || transfers == nil {
		return nil, errors.New("api: nil service")
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = 64 << 10
	}

	h := &Handler{
		log:     log,
		cfg:     cfg,
		links:   links,
		credit:  transfers,
		limiter: newIPLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst, 0),
		now:     time.Now,
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		opt(h)
	}
	return h, nil
}

// Register wires routes onto the provided mux.
func (h *Handler) Register(mux *http.ServeMux) {
	if h == nil || mux == nil {
		return
	}
	mux.HandleFunc("/link/nonce", h.handleNonce)
	mux.HandleFunc("/link/verify", h.handleVerify)
	mux.HandleFunc("/link/lookup", h.handleLookup)
	mux.HandleFunc("/credit/transfer", h.handleTransfer)
}

// ---- handlers ----

func (h *Handler) handleNonce(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w, http.MethodGet)
		return
	}
	if !h.allow(w, r) {
		return
	}

	identity := identityParam(r)
	if strings.TrimSpace(identity) == "" {
		writeError(w, http.StatusBadRequest, errIdentityRequired)
		return
	}

	n, err := h.links.IssueNonce(r.Context(), identity)
	if err != nil {
		h.log.Error("link.nonce.fail", "err", err, "request_id", ids.RequestID(r.Context()))
		writeError(w, http.StatusInternalServerError, errInternal)
		return
	}
	h.metrics.NonceIssued()

	writeJSON(w, http.StatusOK, nonceResponse{OK: true, Nonce: n.Value, ExpiresAt: n.ExpiresAt})
}

func (h *Handler) handleVerify(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeMethodNotAllowed(w, http.MethodPost)
		return
	}
	if !h.allow(w, r) {
		return
	}

	var req verifyRequest
	if err := decodeJSON(w, r, h.cfg.MaxBodyBytes, &req); err != nil {
		h.metrics.Verification("invalid_json")
		writeError(w, http.StatusBadRequest, errInvalidJSON)
		return
	}

	_, err := h.links.Verify(r.Context(), link.VerifyInput{
		Identity:  req.identity(),
		PublicKey: req.PublicKey,
		Signature: req.Signature,
		Nonce:     req.Nonce,
	})
	if err != nil {
		status, msg, result := verifyErrorStatus(err)
		if status >= http.StatusInternalServerError {
			h.log.Error("link.verify.error", "err", err, "request_id", ids.RequestID(r.Context()))
		}
		h.metrics.Verification(result)
		writeError(w, status, msg)
		return
	}

	h.metrics.Verification("ok")
	writeJSON(w, http.StatusOK, okResponse{OK: true})
}

func (h *Handler) handleLookup(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w, http.MethodGet)
		return
	}

	identity := identityParam(r)
	if strings.TrimSpace(identity) == "" {
		writeError(w, http.StatusBadRequest, errIdentityRequired)
		return
	}

	l, ok, err := h.links.Lookup(r.Context(), identity)
	if err != nil {
		h.log.Error("link.lookup.fail", "err", err, "request_id", ids.RequestID(r.Context()))
		writeError(w, http.StatusInternalServerError, errInternal)
		return
	}

	resp := lookupResponse{OK: true}
	if ok {
		pk := l.PublicKey
		resp.PubKey = &pk
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) handleTransfer(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeMethodNotAllowed(w, http.MethodPost)
		return
	}
	if !h.allow(w, r) {
		return
	}

	var req transferRequest
	if err := decodeJSON(w, r, h.cfg.MaxBodyBytes, &req); err != nil {
		writeError(w, http.StatusBadRequest, errInvalidJSON)
		return
	}
	to, amount := strings.TrimSpace(req.To), req.amount()
	if to == "" || amount == "" {
		writeError(w, http.StatusBadRequest, errMissingFields)
		return
	}

	start := time.Now()
	rcpt, err := h.credit.Transfer(r.Context(), credit.TransferRequest{To: to, Amount: amount})
	if err != nil {
		status, msg, result := transferErrorStatus(err)
		h.metrics.Transfer(result, time.Since(start))

		if sig, ok := credit.SignatureOf(err); ok {
			h.log.Warn("credit.transfer.ambiguous", "signature", sig, "to", to, "request_id", ids.RequestID(r.Context()))
			writeJSON(w, status, transferAmbiguousResponse{OK: false, Err: msg, Signature: sig})
			return
		}
		if status >= http.StatusInternalServerError {
			h.log.Error("credit.transfer.error", "err", err, "request_id", ids.RequestID(r.Context()))
		}
		writeError(w, status, msg)
		return
	}

	h.metrics.Transfer("ok", time.Since(start))
	writeJSON(w, http.StatusOK, transferResponse{OK: true, Signature: rcpt.Signature, Lamports: rcpt.Lamports})
}

// ---- helpers ----

func (h *Handler) allow(w http.ResponseWriter, r *http.Request) bool {
	ip := clientIP(r, h.cfg.TrustProxy)
	if ip == nil {
		return true
	}
	ok, retryAfter := h.limiter.allow(ip.String(), h.now())
	if !ok {
		h.log.Info("http.rate_limited", "path", r.URL.Path, "ip", ip.String())
		writeRateLimited(w, retryAfter)
	}
	return ok
}

// identityParam reads ?identity=, falling back to the legacy ?steamId=.
func identityParam(r *http.Request) string {
	q := r.URL.Query()
	if id := q.Get("identity"); id != "" {
		return id
	}
	return q.Get("steamId")
}

func verifyErrorStatus(err error) (int, string, string) {
	switch {
	case errors.Is(err, link.ErrMissingField):
		return http.StatusBadRequest, errMissingFields, "missing_fields"
	case errors.Is(err, link.ErrNonceMismatch):
		return http.StatusBadRequest, errNonceMismatch, "nonce_mismatch"
	case errors.Is(err, link.ErrInvalidPublicKey):
		return http.StatusBadRequest, errInvalidPublicKey, "invalid_public_key"
	case errors.Is(err, link.ErrInvalidSignature):
		return http.StatusBadRequest, errInvalidSignature, "invalid_signature"
	default:
		return http.StatusInternalServerError, errInternal, "error"
	}
}

func transferErrorStatus(err error) (int, string, string) {
	switch {
	case errors.Is(err, credit.ErrInvalidDestination):
		return http.StatusBadRequest, errInvalidDestination, "invalid_destination"
	case errors.Is(err, credit.ErrInvalidAmount):
		return http.StatusBadRequest, errInvalidAmount, "invalid_amount"
	case errors.Is(err, credit.ErrFundingUnavailable):
		return http.StatusBadRequest, errFundingUnavailable, "funding_unavailable"
	case errors.Is(err, credit.ErrUpstream):
		return http.StatusInternalServerError, errLedgerUnavailable, "upstream"
	case errors.Is(err, credit.ErrSubmissionFailed):
		return http.StatusBadGateway, errSubmissionFailed, "submission_failed"
	case errors.Is(err, credit.ErrConfirmationTimeout):
		return http.StatusGatewayTimeout, errConfirmTimeout, "confirmation_timeout"
	default:
		return http.StatusInternalServerError, errInternal, "error"
	}
}
