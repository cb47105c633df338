// Package sqlite implements tracker.Store on an embedded SQLite database
// using the pure-Go modernc.org/sqlite driver.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	_ "modernc.org/sqlite" // registers the "sqlite" driver

	"github.com/JakeFAU/pricewatch/internal/tracker"
)

var validPrefix = regexp.MustCompile(`^[a-zA-Z0-9_]*$`)

// timeLayout is fixed width so observed_at sorts lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

const migration = `
CREATE TABLE IF NOT EXISTS {{p}}price_current (
	url           TEXT PRIMARY KEY,
	product_name  TEXT NOT NULL,
	price         TEXT NOT NULL,
	regular_price TEXT,
	sale_price    TEXT,
	in_stock      INTEGER,
	source        TEXT NOT NULL,
	observed_at   TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS {{p}}price_history (
	id            INTEGER PRIMARY KEY AUTOINCREMENT,
	product_name  TEXT NOT NULL,
	url           TEXT NOT NULL,
	price         TEXT NOT NULL,
	regular_price TEXT,
	sale_price    TEXT,
	in_stock      INTEGER,
	source        TEXT NOT NULL,
	observed_at   TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS {{p}}alert_ledger (
	url         TEXT NOT NULL,
	kind        TEXT NOT NULL,
	fingerprint TEXT NOT NULL,
	alerted_at  TEXT NOT NULL,
	PRIMARY KEY (url, kind)
);

CREATE INDEX IF NOT EXISTS idx_{{p}}price_history_url ON {{p}}price_history(url);
CREATE INDEX IF NOT EXISTS idx_{{p}}price_history_observed_at ON {{p}}price_history(observed_at);
`

// Config controls the SQLite store.
type Config struct {
	// DSN is a file path or a "file:" URI.
	DSN string
	// TablePrefix is prepended to every table name.
	TablePrefix string
}

// Store implements tracker.Store.
type Store struct {
	db     *sql.DB
	prefix string
}

// New opens the database, applies WAL pragmas and runs the migration.
func New(ctx context.Context, cfg Config) (*Store, error) {
	if strings.TrimSpace(cfg.DSN) == "" {
		return nil, fmt.Errorf("sqlite: dsn is required")
	}
	if !validPrefix.MatchString(cfg.TablePrefix) {
		return nil, fmt.Errorf("sqlite: invalid table prefix %q", cfg.TablePrefix)
	}
	db, err := sql.Open("sqlite", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open: %w", err)
	}
	// Writes are serialized on a single connection.
	db.SetMaxOpenConns(1)
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("sqlite: exec %s: %w", pragma, err)
		}
	}
	s := &Store{db: db, prefix: cfg.TablePrefix}
	if err := s.Migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// Migrate creates the tables and indexes if they are missing.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, s.sql(migration)); err != nil {
		return fmt.Errorf("sqlite: migrate: %w", err)
	}
	return nil
}

// Close releases the database handle.
func (s *Store) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("sqlite: close: %w", err)
	}
	return nil
}

// Ping checks the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("sqlite: ping: %w", err)
	}
	return nil
}

func (s *Store) sql(query string) string {
	return strings.ReplaceAll(query, "{{p}}", s.prefix)
}

// GetCurrent returns the current record of url.
func (s *Store) GetCurrent(ctx context.Context, url string) (tracker.Record, bool, error) {
	row := s.db.QueryRowContext(ctx, s.sql(`
SELECT product_name, url, price, regular_price, sale_price, in_stock, source, observed_at
FROM {{p}}price_current WHERE url = ?`), url)
	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return tracker.Record{}, false, nil
	}
	if err != nil {
		return tracker.Record{}, false, fmt.Errorf("sqlite: get current %s: %w", url, err)
	}
	return rec, true, nil
}

// Commit upserts the current record and appends to the history in one
// transaction.
func (s *Store) Commit(ctx context.Context, productName string, obs tracker.Observation) (err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlite: begin: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	args := []any{
		productName,
		obs.URL,
		obs.Price.String(),
		nullDecimal(obs.RegularPrice),
		nullDecimal(obs.SalePrice),
		nullBool(obs.InStock),
		string(obs.SourceCategory),
		obs.Timestamp.UTC().Format(timeLayout),
	}
	if _, err = tx.ExecContext(ctx, s.sql(`
INSERT INTO {{p}}price_current (product_name, url, price, regular_price, sale_price, in_stock, source, observed_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(url) DO UPDATE SET
	product_name = excluded.product_name,
	price = excluded.price,
	regular_price = excluded.regular_price,
	sale_price = excluded.sale_price,
	in_stock = excluded.in_stock,
	source = excluded.source,
	observed_at = excluded.observed_at`), args...); err != nil {
		return fmt.Errorf("sqlite: upsert current %s: %w", obs.URL, err)
	}
	if _, err = tx.ExecContext(ctx, s.sql(`
INSERT INTO {{p}}price_history (product_name, url, price, regular_price, sale_price, in_stock, source, observed_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)`), args...); err != nil {
		return fmt.Errorf("sqlite: append history %s: %w", obs.URL, err)
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("sqlite: commit: %w", err)
	}
	return nil
}

// History returns up to limit records of url, newest first. A limit of
// zero or less returns everything.
func (s *Store) History(ctx context.Context, url string, limit int) ([]tracker.Record, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx, s.sql(`
SELECT product_name, url, price, regular_price, sale_price, in_stock, source, observed_at
FROM {{p}}price_history WHERE url = ?
ORDER BY observed_at DESC, id DESC LIMIT ?`), url, limit)
	if err != nil {
		return nil, fmt.Errorf("sqlite: history %s: %w", url, err)
	}
	defer rows.Close()

	var out []tracker.Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("sqlite: scan history: %w", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: history rows: %w", err)
	}
	return out, nil
}

// LastAlert returns the ledger fingerprint of kind for url.
func (s *Store) LastAlert(ctx context.Context, url string, kind tracker.AlertKind) (string, bool, error) {
	var fp string
	err := s.db.QueryRowContext(ctx, s.sql(`
SELECT fingerprint FROM {{p}}alert_ledger WHERE url = ? AND kind = ?`), url, string(kind)).Scan(&fp)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("sqlite: last alert %s: %w", url, err)
	}
	return fp, true, nil
}

// SaveAlert records fingerprint as the last alert of kind for url.
func (s *Store) SaveAlert(ctx context.Context, url string, kind tracker.AlertKind, fingerprint string, at time.Time) error {
	if _, err := s.db.ExecContext(ctx, s.sql(`
INSERT INTO {{p}}alert_ledger (url, kind, fingerprint, alerted_at) VALUES (?, ?, ?, ?)
ON CONFLICT(url, kind) DO UPDATE SET fingerprint = excluded.fingerprint, alerted_at = excluded.alerted_at`),
		url, string(kind), fingerprint, at.UTC().Format(timeLayout)); err != nil {
		return fmt.Errorf("sqlite: save alert %s: %w", url, err)
	}
	return nil
}

// ClearAlert removes the ledger entry of kind for url.
func (s *Store) ClearAlert(ctx context.Context, url string, kind tracker.AlertKind) error {
	if _, err := s.db.ExecContext(ctx, s.sql(`
DELETE FROM {{p}}alert_ledger WHERE url = ? AND kind = ?`), url, string(kind)); err != nil {
		return fmt.Errorf("sqlite: clear alert %s: %w", url, err)
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(row scanner) (tracker.Record, error) {
	var (
		rec                 tracker.Record
		price, source, when string
		regular, sale       sql.NullString
		inStock             sql.NullBool
	)
	if err := row.Scan(&rec.ProductName, &rec.URL, &price, &regular, &sale, &inStock, &source, &when); err != nil {
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
	if inStock.Valid {
		rec.InStock = tracker.Bool(inStock.Bool)
	}
	rec.SourceCategory = tracker.Category(source)
	if rec.Timestamp, err = time.Parse(timeLayout, when); err != nil {
		return tracker.Record{}, fmt.Errorf("parse observed_at %q: %w", when, err)
	}
	return rec, nil
}

func parseNullDecimal(s sql.NullString) (decimal.NullDecimal, error) {
	if !s.Valid {
		return decimal.NullDecimal{}, nil
	}
	d, err := decimal.NewFromString(s.String)
	if err != nil {
		return decimal.NullDecimal{}, fmt.Errorf("parse decimal %q: %w", s.String, err)
	}
	return decimal.NewNullDecimal(d), nil
}

func nullDecimal(d decimal.NullDecimal) any {
	if !d.Valid {
		return nil
	}
	return d.Decimal.String()
}

func nullBool(b *bool) any {
	if b == nil {
		return nil
	}
	return *b
}
