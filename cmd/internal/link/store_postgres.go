package link

import (
	"context"
	"errors"
	"regexp"
	"strings"
	"time"

	"skinlink/cmd/security/token"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// DefaultSchema is the Postgres schema holding link tables.
const DefaultSchema = "skinlink"

var pgIdentRE = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

func pgIdent(schema, table string) string {
	return pgx.Identifier{schema, table}.Sanitize()
}

// PostgresOption configures the Postgres-backed stores.
type PostgresOption func(*pgConfig) error

type pgConfig struct {
	schema string
	hasher token.Hasher
	nonce  []NonceOption
}

// WithSchema sets the schema used by the stores (default: "skinlink").
func WithSchema(schema string) PostgresOption {
	return func(c *pgConfig) error {
		schema = strings.TrimSpace(schema)
		if schema == "" {
			return errors.New("link: empty schema")
		}
		if !pgIdentRE.MatchString(schema) {
			return errors.New("link: invalid schema identifier")
		}
		c.schema = schema
		return nil
	}
}

// WithHasher sets how nonces are hashed at rest. The zero Hasher uses SHA-256.
func WithHasher(h token.Hasher) PostgresOption {
	return func(c *pgConfig) error {
		c.hasher = h
		return nil
	}
}

// WithNonceOptions forwards nonce issuance options to PostgresNonceStore.
func WithNonceOptions(opts ...NonceOption) PostgresOption {
	return func(c *pgConfig) error {
		c.nonce = append(c.nonce, opts...)
		return nil
	}
}

func newPGConfig(pool *pgxpool.Pool, opts []PostgresOption) (pgConfig, error) {
	c := pgConfig{schema: DefaultSchema}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(&c); err != nil {
			return pgConfig{}, err
		}
	}
	if pool == nil {
		return pgConfig{}, errors.New("link: nil pool")
	}
	return c, nil
}

// PostgresNonceStore shares nonces between service instances.
//
// Only the hash of a nonce is stored. The pool is owned by the caller.
type PostgresNonceStore struct {
	pool   *pgxpool.Pool
	table  string
	hasher token.Hasher
	cfg    nonceConfig
}

// NewPostgresNonceStore constructs a Postgres-backed NonceStore over the link_nonces table.
func NewPostgresNonceStore(pool *pgxpool.Pool, opts ...PostgresOption) (*PostgresNonceStore, error) {
	c, err := newPGConfig(pool, opts)
	if err != nil {
		return nil, err
	}
	return &PostgresNonceStore{
		pool:   pool,
		table:  pgIdent(c.schema, "link_nonces"),
		hasher: c.hasher,
		cfg:    newNonceConfig(c.nonce),
	}, nil
}

// Issue implements NonceStore. The upsert keeps one row per identity.
func (s *PostgresNonceStore) Issue(ctx context.Context, now time.Time, identity string) (Nonce, error) {
	if blank(identity) {
		return Nonce{}, OpError{Op: "link.PostgresNonceStore.Issue", Kind: ErrInvalidInput, Msg: "empty identity"}
	}

	value, err := s.cfg.newToken()
	if err != nil {
		return Nonce{}, err
	}
	n := Nonce{Identity: identity, Value: value, ExpiresAt: now.Add(s.cfg.ttl)}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO `+s.table+` (identity, nonce_hash, created_at, expires_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (identity) DO UPDATE
		SET nonce_hash = EXCLUDED.nonce_hash,
		    created_at = EXCLUDED.created_at,
		    expires_at = EXCLUDED.expires_at
	`, identity, s.hasher.Hex(value), now, n.ExpiresAt)
	if err != nil {
		return Nonce{}, err
	}
	return n, nil
}

// TakeIfMatches implements NonceStore as a single conditional DELETE,
// so concurrent callers race on the row lock and only one sees a deleted row.
func (s *PostgresNonceStore) TakeIfMatches(ctx context.Context, now time.Time, identity, candidate string) (bool, error) {
	if identity == "" || candidate == "" {
		return false, nil
	}

	tag, err := s.pool.Exec(ctx, `
		DELETE FROM `+s.table+`
		WHERE identity = $1
		  AND nonce_hash = $2
		  AND expires_at > $3
	`, identity, s.hasher.Hex(candidate), now)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// PurgeExpired deletes nonces that can no longer match.
func (s *PostgresNonceStore) PurgeExpired(ctx context.Context, now time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM `+s.table+` WHERE expires_at <= $1`, now)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// PostgresLinkStore persists links in the links table.
type PostgresLinkStore struct {
	pool  *pgxpool.Pool
	table string
}

// NewPostgresLinkStore constructs a Postgres-backed LinkStore.
func NewPostgresLinkStore(pool *pgxpool.Pool, opts ...PostgresOption) (*PostgresLinkStore, error) {
	c, err := newPGConfig(pool, opts)
	if err != nil {
		return nil, err
	}
	return &PostgresLinkStore{pool: pool, table: pgIdent(c.schema, "links")}, nil
}

// Put implements LinkStore.
func (s *PostgresLinkStore) Put(ctx context.Context, now time.Time, identity, pubkey string) error {
	if blank(identity) || pubkey == "" {
		return OpError{Op: "link.PostgresLinkStore.Put", Kind: ErrInvalidInput}
	}

	_, err := s.pool.Exec(ctx, `
		INSERT INTO `+s.table+` (identity, pubkey, linked_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (identity) DO UPDATE
		SET pubkey = EXCLUDED.pubkey,
		    linked_at = EXCLUDED.linked_at
	`, identity, pubkey, now)
	return err
}

// Get implements LinkStore.
func (s *PostgresLinkStore) Get(ctx context.Context, identity string) (Link, bool, error) {
	if identity == "" {
		return Link{}, false, nil
	}

	l := Link{Identity: identity}
	err := s.pool.QueryRow(ctx, `
		SELECT pubkey, linked_at
		FROM `+s.table+`
		WHERE identity = $1
	`, identity).Scan(&l.PublicKey, &l.LinkedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Link{}, false, nil
	}
	if err != nil {
		return Link{}, false, err
	}
	return l, true, nil
}
