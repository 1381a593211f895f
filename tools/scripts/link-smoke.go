// Package main provides a CI-friendly smoke test for the key-link flow.
//
// It validates:
//   - nonce issue for a fresh identity
//   - verify with a base64 ed25519 signature
//   - lookup returns the linked key
//   - replaying the same nonce is rejected
//   - a nonce for one identity does not verify another
package main

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/mr-tron/base58"
)

type nonceResponse struct {
	OK    bool   `json:"ok"`
	Nonce string `json:"nonce"`
	Err   string `json:"err"`
}

type lookupResponse struct {
	OK     bool    `json:"ok"`
	PubKey *string `json:"pubkey"`
	Err    string  `json:"err"`
}

type verifyRequest struct {
	Identity  string `json:"identity"`
	PublicKey string `json:"pubkey"`
	Signature string `json:"signature"`
	Nonce     string `json:"nonce"`
}

type verifyResponse struct {
	OK  bool   `json:"ok"`
	Err string `json:"err"`
}

func main() {
	var (
		baseURL  = flag.String("url", "http://127.0.0.1:3000", "Server base URL")
		identity = flag.String("identity", "", "Identity to link (random when empty)")
		timeout  = flag.Duration("timeout", 7*time.Second, "Per-step timeout")
		verbose  = flag.Bool("v", false, "Verbose output")
	)
	flag.Parse()

	if err := validateBaseURL(*baseURL); err != nil {
		fatalf("invalid -url: %v", err)
	}
	id := strings.TrimSpace(*identity)
	if id == "" {
		id = fmt.Sprintf("smoke-%d", time.Now().UnixNano())
	}

	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		fatalf("keygen: %v", err)
	}
	addr := base58.Encode(pub)

	c := &http.Client{Timeout: *timeout}
	root := context.Background()

	nonce := mustNonce(root, c, *baseURL, id)
	if *verbose {
		fmt.Printf("nonce: identity=%s nonce=%s\n", id, nonce)
	}

	sig := base64.StdEncoding.EncodeToString(ed25519.Sign(priv, []byte(nonce)))
	req := verifyRequest{Identity: id, PublicKey: addr, Signature: sig, Nonce: nonce}

	if status, resp := doVerify(root, c, *baseURL, req); status != http.StatusOK || !resp.OK {
		fatalf("verify: status=%d err=%q", status, resp.Err)
	}

	if got := mustLookup(root, c, *baseURL, id); got != addr {
		fatalf("lookup: pubkey=%q want %q", got, addr)
	}

	if status, resp := doVerify(root, c, *baseURL, req); status != http.StatusBadRequest || resp.Err != "nonce mismatch" {
		fatalf("replay: status=%d err=%q, want 400 nonce mismatch", status, resp.Err)
	}

	other := id + "-other"
	otherNonce := mustNonce(root, c, *baseURL, other)
	cross := verifyRequest{
		Identity:  id,
		PublicKey: addr,
		Signature: base64.StdEncoding.EncodeToString(ed25519.Sign(priv, []byte(otherNonce))),
		Nonce:     otherNonce,
	}
	if status, resp := doVerify(root, c, *baseURL, cross); status != http.StatusBadRequest {
		fatalf("cross-identity nonce: status=%d err=%q, want 400", status, resp.Err)
	}

	fmt.Printf("OK: identity=%s pubkey=%s\n", id, addr)
}

func validateBaseURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("unsupported scheme: %s", u.Scheme)
	}
	if strings.TrimSpace(u.Host) == "" {
		return errors.New("missing host")
	}
	return nil
}

func mustNonce(ctx context.Context, c *http.Client, base, identity string) string {
	var out nonceResponse
	status := mustDo(ctx, c, http.MethodGet, base+"/link/nonce?identity="+url.QueryEscape(identity), nil, &out)
	if status != http.StatusOK || !out.OK || out.Nonce == "" {
		fatalf("nonce: status=%d err=%q", status, out.Err)
	}
	return out.Nonce
}

func mustLookup(ctx context.Context, c *http.Client, base, identity string) string {
	var out lookupResponse
	status := mustDo(ctx, c, http.MethodGet, base+"/link/lookup?identity="+url.QueryEscape(identity), nil, &out)
	if status != http.StatusOK || !out.OK {
		fatalf("lookup: status=%d err=%q", status, out.Err)
	}
	if out.PubKey == nil {
		return ""
	}
	return *out.PubKey
}

func doVerify(ctx context.Context, c *http.Client, base string, req verifyRequest) (int, verifyResponse) {
	var out verifyResponse
	status := mustDo(ctx, c, http.MethodPost, base+"/link/verify", req, &out)
	return status, out
}

func mustDo(ctx context.Context, c *http.Client, method, target string, body, dst any) int {
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			fatalf("marshal: %v", err)
		}
		rd = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, target, rd)
	if err != nil {
		fatalf("%s %s: %v", method, target, err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.Do(req)
	if err != nil {
		fatalf("%s %s: %v", method, target, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(dst); err != nil {
		fatalf("%s %s: decode (status %d): %v", method, target, resp.StatusCode, err)
	}
	return resp.StatusCode
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "FAIL: "+format+"\n", args...)
	os.Exit(1)
}
