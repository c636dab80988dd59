package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stockbt/internal/domain"
	"stockbt/internal/store"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	root := newRootCmd()
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func TestVersionNeedsNoConfig(t *testing.T) {
	out, err := execute(t, "version", "--config", "/does/not/exist.yaml")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(out, "stockbt dev"), out)
}

func TestRunEndToEnd(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("DATA_DIR", filepath.Join(dir, "data"))
	t.Setenv("SQLITE_PATH", filepath.Join(dir, "data", "stockbt.db"))
	t.Setenv("RESULTS_DIR", filepath.Join(dir, "results"))
	t.Setenv("REDIS_ADDR", "")

	// 150 calendar days of bars; AAA trends up, BBB down, CCC and SPY flat.
	first := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	var bars []domain.Bar
	for i := 0; i < 150; i++ {
		ts := first.AddDate(0, 0, i)
		for sym, px := range map[string]float64{
			"AAA": 50 + float64(i)*0.5,
			"BBB": 120 - float64(i)*0.2,
			"CCC": 80,
			"SPY": 400,
		} {
			bars = append(bars, domain.Bar{Symbol: sym, Timestamp: ts, Open: px, High: px, Low: px, Close: px, Volume: 1000})
		}
	}
	ps := store.NewParquetStore(filepath.Join(dir, "data"))
	require.NoError(t, ps.WriteBars(context.Background(), bars))

	universe := filepath.Join(dir, "universe.json")
	require.NoError(t, os.WriteFile(universe, []byte(`{"name":"test","symbols":["aaa","BBB","CCC"],"benchmark":"SPY"}`), 0o644))

	cfgPath := filepath.Join(dir, "stockbt.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte(`
logging:
  level: error
metrics:
  enabled: false
backtest:
  start: "2024-04-20"
  end: "2024-05-29"
  top_n: 2
  lookback_days: 100
  cadence: monthly
strategy:
  mode: momentum
`), 0o644))

	out, err := execute(t, "run", "--config", cfgPath, "--universe", universe, "--no-regime")
	require.NoError(t, err, out)
	assert.Contains(t, out, "final value")
	assert.Contains(t, out, "momentum")

	results, err := filepath.Glob(filepath.Join(dir, "results", "*.json"))
	require.NoError(t, err)
	require.Len(t, results, 1)

	sqlite, err := store.NewSQLiteStore(filepath.Join(dir, "data", "stockbt.db"))
	require.NoError(t, err)
	defer sqlite.Close()
	runs, err := sqlite.ListRuns(context.Background(), 0)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, "momentum", runs[0].Strategy)
	assert.Equal(t, strings.TrimSuffix(filepath.Base(results[0]), ".json"), runs[0].ID)
}

func TestRunRequiresUniverse(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "stockbt.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte("logging:\n  level: error\n"), 0o644))

	_, err := execute(t, "run", "--config", cfgPath)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "universe")
}
