package api

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"skinlink/cmd/internal/credit"
	"skinlink/cmd/internal/link"
	"skinlink/cmd/internal/metrics"

	"github.com/mr-tron/base58"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

type fakeTransferer struct {
	rcpt credit.Receipt
	err  error

	mu  sync.Mutex
	got credit.TransferRequest
}

func (f *fakeTransferer) Transfer(_ context.Context, req credit.TransferRequest) (credit.Receipt, error) {
	f.mu.Lock()
	f.got = req
	f.mu.Unlock()
	return f.rcpt, f.err
}

func (f *fakeTransferer) last() credit.TransferRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.got
}

func testLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func newTestHandler(t *testing.T, cfg Config, tr Transferer, opts ...HandlerOption) *httptest.Server {
	t.Helper()

	svc, err := link.NewService(link.NewMemoryNonceStore(), link.NewMemoryLinkStore(), link.WithLogger(testLogger()))
	if err != nil {
		t.Fatalf("link.NewService: %v", err)
	}
	if tr == nil {
		tr = &fakeTransferer{}
	}
	h, err := NewHandler(testLogger(), cfg, svc, tr, opts...)
	if err != nil {
		t.Fatalf("NewHandler: %v", err)
	}
	mux := http.NewServeMux()
	h.Register(mux)

	ts := httptest.NewServer(mux)
	t.Cleanup(ts.Close)
	return ts
}

func getJSON(t *testing.T, rawURL string, dst any) int {
	t.Helper()
	resp, err := http.Get(rawURL)
	if err != nil {
		t.Fatalf("GET %s: %v", rawURL, err)
	}
	defer func() { _ = resp.Body.Close() }()
	if err := json.NewDecoder(resp.Body).Decode(dst); err != nil {
		t.Fatalf("decode %s: %v", rawURL, err)
	}
	return resp.StatusCode
}

func postJSON(t *testing.T, rawURL string, body any, dst any) (int, http.Header) {
	t.Helper()
	b, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	resp, err := http.Post(rawURL, "application/json", bytes.NewReader(b))
	if err != nil {
		t.Fatalf("POST %s: %v", rawURL, err)
	}
	defer func() { _ = resp.Body.Close() }()
	if err := json.NewDecoder(resp.Body).Decode(dst); err != nil {
		t.Fatalf("decode %s: %v", rawURL, err)
	}
	return resp.StatusCode, resp.Header
}

type genericResponse struct {
	OK        bool    `json:"ok"`
	Err       string  `json:"err"`
	Nonce     string  `json:"nonce"`
	PubKey    *string `json:"pubkey"`
	Signature string  `json:"signature"`
	Lamports  uint64  `json:"lamports"`
}

func TestLinkFlow_EndToEnd(t *testing.T) {
	t.Parallel()

	ts := newTestHandler(t, Config{}, nil)
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	pubB58 := base58.Encode(pub)

	var lookup genericResponse
	if code := getJSON(t, ts.URL+"/link/lookup?identity=u1", &lookup); code != http.StatusOK || lookup.PubKey != nil {
		t.Fatalf("lookup before link: code=%d pubkey=%v", code, lookup.PubKey)
	}

	var nonce genericResponse
	if code := getJSON(t, ts.URL+"/link/nonce?identity=u1", &nonce); code != http.StatusOK || nonce.Nonce == "" {
		t.Fatalf("nonce: code=%d resp=%+v", code, nonce)
	}

	sig := base64.StdEncoding.EncodeToString(ed25519.Sign(priv, []byte(nonce.Nonce)))
	var verify genericResponse
	code, _ := postJSON(t, ts.URL+"/link/verify", map[string]string{
		"identity": "u1", "pubkey": pubB58, "signature": sig, "nonce": nonce.Nonce,
	}, &verify)
	if code != http.StatusOK || !verify.OK {
		t.Fatalf("verify: code=%d resp=%+v", code, verify)
	}

	if code := getJSON(t, ts.URL+"/link/lookup?identity=u1", &lookup); code != http.StatusOK || lookup.PubKey == nil || *lookup.PubKey != pubB58 {
		t.Fatalf("lookup after link: code=%d resp=%+v", code, lookup)
	}

	// Same proof again: the nonce is gone.
	code, _ = postJSON(t, ts.URL+"/link/verify", map[string]string{
		"identity": "u1", "pubkey": pubB58, "signature": sig, "nonce": nonce.Nonce,
	}, &verify)
	if code != http.StatusBadRequest || verify.Err != errNonceMismatch {
		t.Fatalf("replay: code=%d resp=%+v", code, verify)
	}
}

func TestLinkFlow_LegacySteamIDAlias(t *testing.T) {
	t.Parallel()

	ts := newTestHandler(t, Config{}, nil)
	pub, priv, _ := ed25519.GenerateKey(rand.Reader)

	var nonce genericResponse
	if code := getJSON(t, ts.URL+"/link/nonce?steamId=7656", &nonce); code != http.StatusOK {
		t.Fatalf("nonce via steamId: code=%d", code)
	}
	var verify genericResponse
	code, _ := postJSON(t, ts.URL+"/link/verify", map[string]string{
		"steamId":   "7656",
		"pubkey":    base58.Encode(pub),
		"signature": base58.Encode(ed25519.Sign(priv, []byte(nonce.Nonce))),
		"nonce":     nonce.Nonce,
	}, &verify)
	if code != http.StatusOK {
		t.Fatalf("verify via steamId: code=%d resp=%+v", code, verify)
	}
}

func TestVerify_ErrorMapping(t *testing.T) {
	t.Parallel()

	ts := newTestHandler(t, Config{}, nil)

	cases := []struct {
		name    string
		body    string
		wantErr string
	}{
		{name: "missing", body: `{"identity":"u1","pubkey":"","signature":"x","nonce":"n"}`, wantErr: errMissingFields},
		{name: "no nonce issued", body: `{"identity":"nobody","pubkey":"k","signature":"x","nonce":"n"}`, wantErr: errNonceMismatch},
		{name: "unknown field", body: `{"identity":"u1","extra":1}`, wantErr: errInvalidJSON},
		{name: "not json", body: `nope`, wantErr: errInvalidJSON},
		{name: "trailing data", body: `{"identity":"u1"} {}`, wantErr: errInvalidJSON},
	}
	for _, tc := range cases {
		resp, err := http.Post(ts.URL+"/link/verify", "application/json", strings.NewReader(tc.body))
		if err != nil {
			t.Fatalf("%s: POST: %v", tc.name, err)
		}
		var out genericResponse
		_ = json.NewDecoder(resp.Body).Decode(&out)
		_ = resp.Body.Close()
		if resp.StatusCode != http.StatusBadRequest || out.OK || out.Err != tc.wantErr {
			t.Fatalf("%s: code=%d resp=%+v want err=%q", tc.name, resp.StatusCode, out, tc.wantErr)
		}
	}
}

func TestNonce_RequiresIdentity(t *testing.T) {
	t.Parallel()

	ts := newTestHandler(t, Config{}, nil)

	var out genericResponse
	if code := getJSON(t, ts.URL+"/link/nonce", &out); code != http.StatusBadRequest || out.Err != errIdentityRequired {
		t.Fatalf("code=%d resp=%+v", code, out)
	}
	if code := getJSON(t, ts.URL+"/link/lookup?identity=%20", &out); code != http.StatusBadRequest {
		t.Fatalf("lookup blank identity: code=%d", code)
	}
}

func TestIdentityParam_KeepsValueVerbatim(t *testing.T) {
	t.Parallel()

	cases := []struct {
		query string
		want  string
	}{
		{query: "identity=u1", want: "u1"},
		{query: "identity=u1%20", want: "u1 "},
		{query: "steamId=%20765", want: " 765"},
		{query: "identity=a&steamId=b", want: "a"},
		{query: "", want: ""},
	}
	for _, tc := range cases {
		r := httptest.NewRequest(http.MethodGet, "/link/lookup?"+tc.query, nil)
		if got := identityParam(r); got != tc.want {
			t.Fatalf("%q: identity=%q want %q", tc.query, got, tc.want)
		}
	}
}

func TestMethodNotAllowed(t *testing.T) {
	t.Parallel()

	ts := newTestHandler(t, Config{}, nil)

	resp, err := http.Post(ts.URL+"/link/nonce?identity=u1", "application/json", strings.NewReader("{}"))
	if err != nil {
		t.Fatalf("POST: %v", err)
	}
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusMethodNotAllowed || resp.Header.Get("Allow") != http.MethodGet {
		t.Fatalf("code=%d allow=%q", resp.StatusCode, resp.Header.Get("Allow"))
	}

	resp, err = http.Get(ts.URL + "/credit/transfer")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusMethodNotAllowed {
		t.Fatalf("code=%d", resp.StatusCode)
	}
}

func TestTransfer_Success(t *testing.T) {
	t.Parallel()

	tr := &fakeTransferer{rcpt: credit.Receipt{Signature: "5sig", Lamports: 1_500_000_000}}
	m := metrics.New()
	ts := newTestHandler(t, Config{}, tr, WithMetrics(m))

	resp, err := http.Post(ts.URL+"/credit/transfer", "application/json", strings.NewReader(`{"to":"Dest1111","amount":1.5}`))
	if err != nil {
		t.Fatalf("POST: %v", err)
	}
	defer func() { _ = resp.Body.Close() }()

	var out genericResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.StatusCode != http.StatusOK || !out.OK || out.Signature != "5sig" || out.Lamports != 1_500_000_000 {
		t.Fatalf("code=%d resp=%+v", resp.StatusCode, out)
	}
	if tr.last().To != "Dest1111" || tr.last().Amount != "1.5" {
		t.Fatalf("transferer got %+v", tr.last())
	}
	n, err := testutil.GatherAndCount(m.Registry(), "skinlink_credit_transfers_total")
	if err != nil || n != 1 {
		t.Fatalf("expected one transfer series, got %d (%v)", n, err)
	}
}

func TestTransfer_LegacySolAndStringAmount(t *testing.T) {
	t.Parallel()

	tr := &fakeTransferer{rcpt: credit.Receipt{Signature: "s"}}
	ts := newTestHandler(t, Config{}, tr)

	var out genericResponse
	code, _ := postJSON(t, ts.URL+"/credit/transfer", map[string]any{"to": "D", "sol": "0.25"}, &out)
	if code != http.StatusOK || tr.last().Amount != "0.25" {
		t.Fatalf("code=%d got=%+v", code, tr.last())
	}
}

func TestTransfer_ErrorMapping(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name    string
		err     error
		status  int
		wantErr string
		wantSig string
	}{
		{name: "destination", err: credit.OpError{Op: "x", Kind: credit.ErrInvalidDestination}, status: 400, wantErr: errInvalidDestination},
		{name: "amount", err: credit.OpError{Op: "x", Kind: credit.ErrInvalidAmount}, status: 400, wantErr: errInvalidAmount},
		{name: "funding", err: credit.OpError{Op: "x", Kind: credit.ErrFundingUnavailable}, status: 400, wantErr: errFundingUnavailable},
		{name: "upstream", err: credit.OpError{Op: "x", Kind: credit.ErrUpstream}, status: 500, wantErr: errLedgerUnavailable},
		{name: "submission", err: credit.OpError{Op: "x", Kind: credit.ErrSubmissionFailed}, status: 502, wantErr: errSubmissionFailed},
		{name: "timeout", err: credit.ConfirmationError{Signature: "5abc"}, status: 504, wantErr: errConfirmTimeout, wantSig: "5abc"},
		{name: "unexpected", err: errors.New("boom"), status: 500, wantErr: errInternal},
	}
	for _, tc := range cases {
		ts := newTestHandler(t, Config{}, &fakeTransferer{err: tc.err})

		var out genericResponse
		code, _ := postJSON(t, ts.URL+"/credit/transfer", map[string]any{"to": "D", "amount": 1}, &out)
		if code != tc.status || out.OK || out.Err != tc.wantErr || out.Signature != tc.wantSig {
			t.Fatalf("%s: code=%d resp=%+v", tc.name, code, out)
		}
	}
}

func TestTransfer_MissingFields(t *testing.T) {
	t.Parallel()

	ts := newTestHandler(t, Config{}, nil)

	var out genericResponse
	code, _ := postJSON(t, ts.URL+"/credit/transfer", map[string]any{"to": "D"}, &out)
	if code != http.StatusBadRequest || out.Err != errMissingFields {
		t.Fatalf("code=%d resp=%+v", code, out)
	}
}

func TestRateLimit_Returns429(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	ts := newTestHandler(t, Config{RateLimitRPS: 1, RateLimitBurst: 2}, nil, WithClock(func() time.Time { return now }))

	u := ts.URL + "/link/nonce?" + url.Values{"identity": {"u1"}}.Encode()
	var out genericResponse
	for i := 0; i < 2; i++ {
		if code := getJSON(t, u, &out); code != http.StatusOK {
			t.Fatalf("request %d: code=%d", i, code)
		}
	}

	resp, err := http.Get(u)
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusTooManyRequests {
		t.Fatalf("code=%d want 429", resp.StatusCode)
	}
	if resp.Header.Get("Retry-After") != "1" {
		t.Fatalf("Retry-After=%q", resp.Header.Get("Retry-After"))
	}

	// Lookup is read-only and not limited.
	if code := getJSON(t, ts.URL+"/link/lookup?identity=u1", &out); code != http.StatusOK {
		t.Fatalf("lookup limited: code=%d", code)
	}
}

func TestClientIP(t *testing.T) {
	t.Parallel()

	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.RemoteAddr = "10.0.0.1:5555"
	r.Header.Set("X-Forwarded-For", "203.0.113.9, 10.0.0.1")

	if got := clientIP(r, false).String(); got != "10.0.0.1" {
		t.Fatalf("untrusted proxy: %s", got)
	}
	if got := clientIP(r, true).String(); got != "203.0.113.9" {
		t.Fatalf("trusted proxy: %s", got)
	}
}
