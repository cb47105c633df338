// Package postgres provides the Postgres-backed price store.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/JakeFAU/pricewatch/internal/tracker"
)

var validPrefix = regexp.MustCompile(`^[a-zA-Z0-9_]*$`)

const migration = `
CREATE TABLE IF NOT EXISTS {{p}}price_current (
	url           TEXT PRIMARY KEY,
	product_name  TEXT NOT NULL,
	price         NUMERIC NOT NULL,
	regular_price NUMERIC,
	sale_price    NUMERIC,
	in_stock      BOOLEAN,
	source        TEXT NOT NULL,
	observed_at   TIMESTAMPTZ NOT NULL
);
CREATE TABLE IF NOT EXISTS {{p}}price_history (
	id            BIGSERIAL PRIMARY KEY,
	product_name  TEXT NOT NULL,
	url           TEXT NOT NULL,
	price         NUMERIC NOT NULL,
	regular_price NUMERIC,
	sale_price    NUMERIC,
	in_stock      BOOLEAN,
	source        TEXT NOT NULL,
	observed_at   TIMESTAMPTZ NOT NULL
);
CREATE TABLE IF NOT EXISTS {{p}}alert_ledger (
	url         TEXT NOT NULL,
	kind        TEXT NOT NULL,
	fingerprint TEXT NOT NULL,
	alerted_at  TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (url, kind)
);
CREATE INDEX IF NOT EXISTS idx_{{p}}price_history_url_observed ON {{p}}price_history (url, observed_at DESC);
`

// Config controls the Postgres connection pool.
type Config struct {
	DSN             string
	TablePrefix     string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

// pool is the subset of *pgxpool.Pool the store uses; pgxmock satisfies it.
type pool interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Query(context.Context, string, ...any) (pgx.Rows, error)
	QueryRow(context.Context, string, ...any) pgx.Row
	Begin(context.Context) (pgx.Tx, error)
	Ping(context.Context) error
	Close()
}

// PriceStore implements tracker.Store on Postgres.
type PriceStore struct {
	pool   pool
	prefix string
}

// NewPriceStore connects, migrates and returns a store.
func NewPriceStore(ctx context.Context, cfg Config) (*PriceStore, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("store.dsn is required")
	}
	if !validPrefix.MatchString(cfg.TablePrefix) {
		return nil, fmt.Errorf("invalid table prefix %q", cfg.TablePrefix)
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	p, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	s := &PriceStore{pool: p, prefix: cfg.TablePrefix}
	if err := s.Migrate(ctx); err != nil {
		p.Close()
		return nil, err
	}
	return s, nil
}

// NewPriceStoreWithPool constructs a store from an existing pool (primarily for testing).
func NewPriceStoreWithPool(p pool, prefix string) (*PriceStore, error) {
	if p == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if !validPrefix.MatchString(prefix) {
		return nil, fmt.Errorf("invalid table prefix %q", prefix)
	}
	return &PriceStore{pool: p, prefix: prefix}, nil
}

func (s *PriceStore) sql(query string) string {
	return strings.ReplaceAll(query, "{{p}}", s.prefix)
}

// Migrate creates the tables if they are missing.
func (s *PriceStore) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, s.sql(migration)); err != nil {
		return fmt.Errorf("migrate postgres: %w", err)
	}
	return nil
}

// Ping checks connectivity.
func (s *PriceStore) Ping(ctx context.Context) error {
	if err := s.pool.Ping(ctx); err != nil {
		return fmt.Errorf("ping postgres: %w", err)
	}
	return nil
}

// Close releases the underlying pool resources.
func (s *PriceStore) Close() error {
	if s == nil || s.pool == nil {
		return nil
	}
	s.pool.Close()
	return nil
}

const selectColumns = `product_name, url, price::text, regular_price::text, sale_price::text, in_stock, source, observed_at`

// GetCurrent returns the current record of url.
func (s *PriceStore) GetCurrent(ctx context.Context, url string) (tracker.Record, bool, error) {
	row := s.pool.QueryRow(ctx, s.sql(`SELECT `+selectColumns+` FROM {{p}}price_current WHERE url = $1`), url)
	rec, err := scanRecord(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return tracker.Record{}, false, nil
	}
	if err != nil {
		return tracker.Record{}, false, fmt.Errorf("get current %s: %w", url, err)
	}
	return rec, true, nil
}

// Commit upserts the current record and appends to the history in one
// transaction.
func (s *PriceStore) Commit(ctx context.Context, productName string, obs tracker.Observation) (err error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin commit: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	args := observationArgs(productName, obs)
	if _, err = tx.Exec(ctx, s.sql(`
INSERT INTO {{p}}price_current (product_name, url, price, regular_price, sale_price, in_stock, source, observed_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
ON CONFLICT (url) DO UPDATE SET
	product_name = EXCLUDED.product_name,
	price = EXCLUDED.price,
	regular_price = EXCLUDED.regular_price,
	sale_price = EXCLUDED.sale_price,
	in_stock = EXCLUDED.in_stock,
	source = EXCLUDED.source,
	observed_at = EXCLUDED.observed_at`), args...); err != nil {
		return fmt.Errorf("upsert current %s: %w", obs.URL, err)
	}
	if _, err = tx.Exec(ctx, s.sql(`
INSERT INTO {{p}}price_history (product_name, url, price, regular_price, sale_price, in_stock, source, observed_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`), args...); err != nil {
		return fmt.Errorf("append history %s: %w", obs.URL, err)
	}
	if err = tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit %s: %w", obs.URL, err)
	}
	return nil
}

// History returns up to limit records of url, newest first.
func (s *PriceStore) History(ctx context.Context, url string, limit int) ([]tracker.Record, error) {
	var limitArg any
	if limit > 0 {
		limitArg = limit
	}
	rows, err := s.pool.Query(ctx, s.sql(`SELECT `+selectColumns+` FROM {{p}}price_history
WHERE url = $1 ORDER BY observed_at DESC, id DESC LIMIT $2`), url, limitArg)
	if err != nil {
		return nil, fmt.Errorf("query history %s: %w", url, err)
	}
	defer rows.Close()

	var out []tracker.Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scan history: %w", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("history rows: %w", err)
	}
	return out, nil
}

// LastAlert returns the ledger fingerprint of kind for url.
func (s *PriceStore) LastAlert(ctx context.Context, url string, kind tracker.AlertKind) (string, bool, error) {
	var fp string
	err := s.pool.QueryRow(ctx, s.sql(`SELECT fingerprint FROM {{p}}alert_ledger WHERE url = $1 AND kind = $2`),
		url, string(kind)).Scan(&fp)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("last alert %s: %w", url, err)
	}
	return fp, true, nil
}

// SaveAlert records fingerprint as the last alert of kind for url.
func (s *PriceStore) SaveAlert(ctx context.Context, url string, kind tracker.AlertKind, fingerprint string, at time.Time) error {
	if _, err := s.pool.Exec(ctx, s.sql(`
INSERT INTO {{p}}alert_ledger (url, kind, fingerprint, alerted_at) VALUES ($1, $2, $3, $4)
ON CONFLICT (url, kind) DO UPDATE SET fingerprint = EXCLUDED.fingerprint, alerted_at = EXCLUDED.alerted_at`),
		url, string(kind), fingerprint, at.UTC()); err != nil {
		return fmt.Errorf("save alert %s: %w", url, err)
	}
	return nil
}

// ClearAlert removes the ledger entry of kind for url.
func (s *PriceStore) ClearAlert(ctx context.Context, url string, kind tracker.AlertKind) error {
	if _, err := s.pool.Exec(ctx, s.sql(`DELETE FROM {{p}}alert_ledger WHERE url = $1 AND kind = $2`),
		url, string(kind)); err != nil {
		return fmt.Errorf("clear alert %s: %w", url, err)
	}
	return nil
}

func observationArgs(productName string, obs tracker.Observation) []any {
	return []any{
		productName,
		obs.URL,
		obs.Price.String(),
		nullDecimal(obs.RegularPrice),
		nullDecimal(obs.SalePrice),
		obs.InStock,
		string(obs.SourceCategory),
		obs.Timestamp.UTC(),
	}
}

func scanRecord(row pgx.Row) (tracker.Record, error) {
	var (
		rec           tracker.Record
		price, source string
		regular, sale *string
	)
	if err := row.Scan(&rec.ProductName, &rec.URL, &price, &regular, &sale, &rec.InStock, &source, &rec.Timestamp); err != nil {
		return tracker.Record{}, err
	}
	var err error
	if rec.Price, err = decimal.NewFromString(price); err != nil {
		return tracker.Record{}, fmt.Errorf("parse price %q: %w", price, err)
	}
	if rec.RegularPrice, err = parseNullDecimal(regular); err != nil {
		return tracker.Record{}, err
	}
	if rec.SalePrice, err = parseNullDecimal(sale); err != nil {
		return tracker.Record{}, err
	}
	rec.SourceCategory = tracker.Category(source)
	return rec, nil
}

func parseNullDecimal(s *string) (decimal.NullDecimal, error) {
	if s == nil {
		return decimal.NullDecimal{}, nil
	}
	d, err := decimal.NewFromString(*s)
	if err != nil {
		return decimal.NullDecimal{}, fmt.Errorf("parse decimal %q: %w", *s, err)
	}
	return decimal.NewNullDecimal(d), nil
}

func nullDecimal(d decimal.NullDecimal) *string {
	if !d.Valid {
		return nil
	}
	s := d.Decimal.String()
	return &s
}
