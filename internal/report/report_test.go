package report

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/pricewatch/internal/tracker"
)

func sampleReport() tracker.CycleReport {
	started := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	obs := tracker.Observation{
		URL:            "https://shop.example/kettle",
		Timestamp:      started,
		Price:          decimal.RequireFromString("19.99"),
		SourceCategory: tracker.CategoryScrape,
	}
	r := tracker.CycleReport{
		ID:         "cycle-1",
		StartedAt:  started,
		FinishedAt: started.Add(1500 * time.Millisecond),
		Outcomes: []tracker.Outcome{
			{Product: "Kettle", URL: obs.URL, Status: tracker.StatusOK, Observation: &obs, Attempts: 1, Persisted: true},
			{
				Product: "Kettle", URL: "https://other.example/kettle", Status: tracker.StatusFailed,
				Class: tracker.ClassTransient, Kind: tracker.KindTimeout, Error: "deadline exceeded", Attempts: 3,
			},
		},
	}
	r.Summarize(1, 0)
	return r
}

func TestWriteFile(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "nested", "output.json")
	require.NoError(t, WriteFile(path, sampleReport()))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Contains(t, string(data), "\n  \"id\": \"cycle-1\"")

	var got tracker.CycleReport
	require.NoError(t, json.Unmarshal(data, &got))
	require.Equal(t, 2, got.Summary.Total)
	require.Equal(t, 1, got.Summary.NotificationFailures)
	require.True(t, got.Outcomes[0].Observation.Price.Equal(decimal.RequireFromString("19.99")))

	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	require.Len(t, entries, 1, "temporary file removed")
}

func TestWriteFileRequiresPath(t *testing.T) {
	t.Parallel()

	require.Error(t, WriteFile("", tracker.CycleReport{}))
}

func TestTable(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	Table(&buf, sampleReport())
	out := buf.String()

	require.Contains(t, out, "PRODUCT")
	require.Contains(t, out, "19.99")
	require.Contains(t, out, "timeout: deadline exceeded")
	require.Contains(t, out, "Succeeded:")
	require.Contains(t, out, "Notification failures:")
	require.NotContains(t, out, "Store failures:")
	require.Contains(t, out, "1.5s")
}

func TestHistory(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	History(&buf, []tracker.Record{{
		ProductName: "Kettle",
		Observation: tracker.Observation{
			Timestamp:    time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
			Price:        decimal.RequireFromString("17.50"),
			RegularPrice: decimal.NewNullDecimal(decimal.RequireFromString("19.99")),
			InStock:      tracker.Bool(false),
		},
	}})
	out := buf.String()
	require.Contains(t, out, "2026-03-01 12:00:00")
	require.Contains(t, out, "17.5")
	require.Contains(t, out, "19.99")
	require.Contains(t, out, "no")
}

func TestTruncate(t *testing.T) {
	t.Parallel()

	require.Equal(t, "short", truncate("short", 10))
	require.Equal(t, "abcdefg...", truncate("abcdefghijklmnop", 10))
}
