package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/pricewatch/internal/config"
	"github.com/JakeFAU/pricewatch/internal/notify"
	"github.com/JakeFAU/pricewatch/internal/storage/memory"
	"github.com/JakeFAU/pricewatch/internal/storage/sqlite"
	"github.com/JakeFAU/pricewatch/internal/tracker"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestCheckCommand(t *testing.T) {
	t.Parallel()

	shop := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/kettle":
			_, _ = fmt.Fprint(w, `<html><body><span class="price">19.99</span></body></html>`)
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(shop.Close)

	dir := t.TempDir()
	cfgPath := writeFile(t, dir, "config.yaml", `
store:
  driver: memory
notify:
  transport: memory
http:
  respect_robots: false
  max_attempts: 1
logging:
  development: false
  level: error
`)
	catPath := writeFile(t, dir, "input.json", fmt.Sprintf(`{
  "sites": [{"root_domain": "127.0.0.1", "category": "scrape", "selectors": {"price": ".price"}}],
  "products": [{"product_name": "Kettle", "urls": [%q, %q]}]
}`, shop.URL+"/kettle", shop.URL+"/missing"))
	output := filepath.Join(dir, "out", "report.json")

	var stdout bytes.Buffer
	root := newRootCmd()
	root.SetOut(&stdout)
	root.SetErr(&bytes.Buffer{})
	root.SetArgs([]string{"--config", cfgPath, "-c", catPath, "check", "-o", output})
	require.NoError(t, root.ExecuteContext(context.Background()))

	require.Contains(t, stdout.String(), "Kettle")
	require.Contains(t, stdout.String(), "19.99")

	data, err := os.ReadFile(output)
	require.NoError(t, err)
	var got tracker.CycleReport
	require.NoError(t, json.Unmarshal(data, &got))
	require.Equal(t, 2, got.Summary.Total)
	require.Equal(t, 1, got.Summary.Succeeded)
	require.Equal(t, 1, got.Summary.Failed)
}

func TestCheckCommandMissingCatalog(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	cfgPath := writeFile(t, dir, "config.yaml", "store:\n  driver: memory\nlogging:\n  level: error\n")

	root := newRootCmd()
	root.SetOut(&bytes.Buffer{})
	root.SetErr(&bytes.Buffer{})
	root.SetArgs([]string{"--config", cfgPath, "-c", filepath.Join(dir, "nope.json"), "check"})
	require.Error(t, root.ExecuteContext(context.Background()))
}

func TestHistoryCommand(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	dsn := filepath.Join(dir, "prices.db")
	ctx := context.Background()
	store, err := sqlite.New(ctx, sqlite.Config{DSN: dsn})
	require.NoError(t, err)
	url := "https://shop.example/kettle"
	for i, price := range []string{"21.00", "19.99"} {
		require.NoError(t, store.Commit(ctx, "Kettle", tracker.Observation{
			URL:            url,
			Timestamp:      time.Date(2026, 2, 1+i, 9, 0, 0, 0, time.UTC),
			Price:          decimal.RequireFromString(price),
			SourceCategory: tracker.CategoryScrape,
		}))
	}
	require.NoError(t, store.Close())

	cfgPath := writeFile(t, dir, "config.yaml", fmt.Sprintf("store:\n  driver: sqlite\n  dsn: %q\nlogging:\n  level: error\n", dsn))

	var stdout bytes.Buffer
	root := newRootCmd()
	root.SetOut(&stdout)
	root.SetErr(&bytes.Buffer{})
	root.SetArgs([]string{"--config", cfgPath, "history", url})
	require.NoError(t, root.ExecuteContext(ctx))

	out := stdout.String()
	require.Contains(t, out, "2026-02-02 09:00:00")
	require.Contains(t, out, "19.99")
	require.Contains(t, out, "21")
}

func TestLoadEnvFile(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "test.env", "PRICEWATCH_TEST_FROM_DOTENV=loaded\n")
	t.Setenv("PRICEWATCH_TEST_FROM_DOTENV", "")
	require.NoError(t, os.Unsetenv("PRICEWATCH_TEST_FROM_DOTENV"))

	require.NoError(t, loadEnvFile(path))
	require.Equal(t, "loaded", os.Getenv("PRICEWATCH_TEST_FROM_DOTENV"))

	require.Error(t, loadEnvFile(filepath.Join(dir, "missing.env")), "explicit file must exist")
	require.NoError(t, loadEnvFile(""), "default .env is optional")
}

func TestBuildNotifier(t *testing.T) {
	t.Parallel()

	svc := &services{}
	logger := zap.NewNop()
	ctx := context.Background()

	n, err := buildNotifier(ctx, config.NotifyConfig{Transport: "none"}, svc, logger)
	require.NoError(t, err)
	require.IsType(t, notify.Discard{}, n)

	for _, transport := range []string{"log", "memory"} {
		n, err = buildNotifier(ctx, config.NotifyConfig{Transport: transport}, svc, logger)
		require.NoError(t, err)
		require.IsType(t, &notify.Capped{}, n)
	}

	n, err = buildNotifier(ctx, config.NotifyConfig{Transport: "ntfy", URL: "https://ntfy.example/topic", Timeout: time.Second}, svc, logger)
	require.NoError(t, err)
	require.IsType(t, &notify.Capped{}, n)

	_, err = buildNotifier(ctx, config.NotifyConfig{Transport: "carrier-pigeon"}, svc, logger)
	require.Error(t, err)
	require.Empty(t, svc.closers)
}

func TestBuildSnapshots(t *testing.T) {
	t.Parallel()

	svc := &services{}
	ctx := context.Background()

	blobs, err := buildSnapshots(ctx, config.SnapshotConfig{Provider: "none"}, svc)
	require.NoError(t, err)
	require.Nil(t, blobs)

	blobs, err = buildSnapshots(ctx, config.SnapshotConfig{Provider: "memory"}, svc)
	require.NoError(t, err)
	require.IsType(t, &memory.BlobStore{}, blobs)

	blobs, err = buildSnapshots(ctx, config.SnapshotConfig{Provider: "local", BaseDir: t.TempDir()}, svc)
	require.NoError(t, err)
	require.NotNil(t, blobs)

	_, err = buildSnapshots(ctx, config.SnapshotConfig{Provider: "ftp"}, svc)
	require.Error(t, err)
}

func TestBuildStore(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store, err := buildStore(ctx, config.StoreConfig{Driver: "memory"})
	require.NoError(t, err)
	require.NoError(t, store.Close())

	store, err = buildStore(ctx, config.StoreConfig{Driver: "sqlite", DSN: filepath.Join(t.TempDir(), "p.db")})
	require.NoError(t, err)
	require.NoError(t, store.Close())

	_, err = buildStore(ctx, config.StoreConfig{Driver: "mongo"})
	require.Error(t, err)
}

func TestServicesCloseReverseOrder(t *testing.T) {
	t.Parallel()

	var order []int
	svc := &services{}
	svc.onClose(func() error { order = append(order, 1); return nil })
	svc.onClose(func() error { order = append(order, 2); return fmt.Errorf("second failed") })
	err := svc.close()
	require.EqualError(t, err, "second failed")
	require.Equal(t, []int{2, 1}, order)
}
