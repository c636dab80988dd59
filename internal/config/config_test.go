package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"stockbt/internal/broker"
	"stockbt/internal/domain"
	"stockbt/internal/engine"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write %s: %v", name, err)
	}
	return path
}

// clearEnv blanks every override so the host environment cannot leak in.
func clearEnv(t *testing.T) {
	for _, k := range []string{
		"DATA_DIR", "SQLITE_PATH", "RESULTS_DIR", "ALPACA_API_KEY", "ALPACA_API_SECRET",
		"ALPACA_DATA_URL", "APCA_API_KEY_ID", "APCA_API_SECRET_KEY", "FRED_API_KEY",
		"REDIS_ADDR", "LOG_LEVEL", "BACKTEST_START", "BACKTEST_END",
	} {
		t.Setenv(k, "")
	}
}

func TestLoadFile(t *testing.T) {
	clearEnv(t)
	path := writeFile(t, "stockbt.yaml", `
storage:
  data_dir: "/tmp/stockbt/data"
  sqlite_path: "/tmp/stockbt/stockbt.db"
logging:
  level: "debug"
  format: "text"
backtest:
  start: "2020-01-02"
  end: "2023-12-29"
  cadence: "monthly"
  top_n: 5
  hold_buffer: 2
strategy:
  mode: "hybrid"
  weights: {valuation: 0.4, quality: 0.3, technical: 0.2, risk: 0.1}
  thresholds:
    pe: {best: 8, worst: 30}
  filters:
    max_debt_to_equity: 3.0
  fundamentals:
    timeout: 250ms
costs:
  slippage: "tiered"
  tier: "aggressive"
  transaction_bps: 5
regime:
  overlay: false
  policies:
    RISK_OFF: {investable_fraction: 0.5, quality_boost: 0.2}
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() returned error: %v", err)
	}

	// -- Storage --
	if cfg.Storage.DataDir != "/tmp/stockbt/data" {
		t.Errorf("Storage.DataDir = %q, want %q", cfg.Storage.DataDir, "/tmp/stockbt/data")
	}
	if cfg.Storage.ResultsDir != "results" {
		t.Errorf("Storage.ResultsDir = %q, want default %q", cfg.Storage.ResultsDir, "results")
	}

	// -- Logging --
	if cfg.Logging.Level != "debug" || cfg.Logging.Format != "text" {
		t.Errorf("Logging = %+v, want debug/text", cfg.Logging)
	}

	// -- Backtest --
	if cfg.Backtest.TopN != 5 || cfg.Backtest.HoldBuffer != 2 {
		t.Errorf("Backtest top_n/hold_buffer = %d/%d, want 5/2", cfg.Backtest.TopN, cfg.Backtest.HoldBuffer)
	}
	if cfg.Backtest.InitialCapital != 100000 {
		t.Errorf("Backtest.InitialCapital = %v, want default 100000", cfg.Backtest.InitialCapital)
	}
	if cfg.Backtest.Benchmark != "SPY" {
		t.Errorf("Backtest.Benchmark = %q, want default SPY", cfg.Backtest.Benchmark)
	}

	// -- Strategy --
	if cfg.Strategy.Weights.Valuation != 0.4 {
		t.Errorf("Strategy.Weights.Valuation = %v, want 0.4", cfg.Strategy.Weights.Valuation)
	}
	if cfg.Strategy.Thresholds.PE.Best != 8 {
		t.Errorf("PE band = %+v, want best 8", cfg.Strategy.Thresholds.PE)
	}
	if cfg.Strategy.Thresholds.PB.Best != 1 || cfg.Strategy.Thresholds.PB.Worst != 6 {
		t.Errorf("PB band = %+v, want default 1/6", cfg.Strategy.Thresholds.PB)
	}
	if cfg.Strategy.Fundamentals.Timeout != 250*time.Millisecond {
		t.Errorf("fundamentals timeout = %v, want 250ms", cfg.Strategy.Fundamentals.Timeout)
	}
	if cfg.Strategy.Fundamentals.TopK != 50 {
		t.Errorf("fundamentals top_k = %d, want default 50", cfg.Strategy.Fundamentals.TopK)
	}
	if cfg.Strategy.LowVol.MaxVolatility != 0.6 {
		t.Errorf("lowvol max_volatility = %v, want default 0.6", cfg.Strategy.LowVol.MaxVolatility)
	}

	// -- Costs --
	m := cfg.Costs.CostModel()
	if m.Slippage != broker.SlippageTiered || m.Tier != broker.TierAggressive || m.TransactionBps != 5 {
		t.Errorf("CostModel = %+v", m)
	}

	// -- Regime --
	ov := cfg.Regime.Overlay()
	if ov.Enabled() {
		t.Error("overlay should be disabled when set to false")
	}
	on := true
	cfg.Regime.OverlayEnabled = &on
	if p := cfg.Regime.Overlay().PolicyFor(domain.RegimeRiskOff); p.InvestableFraction != 0.5 || p.QualityBoost != 0.2 {
		t.Errorf("RISK_OFF policy = %+v, want fraction 0.5, quality boost 0.2", p)
	}
	if p := cfg.Regime.Overlay().PolicyFor(domain.RegimeCrisis); p.InvestableFraction != 0.4 {
		t.Errorf("CRISIS fraction = %v, want built-in 0.4", p.InvestableFraction)
	}
}

func TestLoadDefaultsOnly(t *testing.T) {
	clearEnv(t)
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load(\"\") returned error: %v", err)
	}
	if cfg.Backtest.Cadence != "quarterly" {
		t.Errorf("Backtest.Cadence = %q, want quarterly", cfg.Backtest.Cadence)
	}
	if cfg.Strategy.Mode != "momentum" {
		t.Errorf("Strategy.Mode = %q, want momentum", cfg.Strategy.Mode)
	}
	if !cfg.Regime.Overlay().Enabled() {
		t.Error("overlay should default to enabled")
	}
	if cfg.FRED.Timeout != 30*time.Second {
		t.Errorf("FRED.Timeout = %v, want 30s", cfg.FRED.Timeout)
	}
}

func TestLoadAcceptsLowVolatilitySpelling(t *testing.T) {
	clearEnv(t)
	cfg, err := Load(writeFile(t, "lv.yaml", "strategy: {mode: low-volatility}"))
	if err != nil {
		t.Fatalf("Load() returned error: %v", err)
	}
	if cfg.Strategy.Mode != "lowvol" {
		t.Errorf("Strategy.Mode = %q, want lowvol", cfg.Strategy.Mode)
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	clearEnv(t)
	path := writeFile(t, "env.yaml", `
alpaca:
  api_key: "yaml-key"
  api_secret: "yaml-secret"
storage:
  data_dir: "/original/data"
`)
	t.Setenv("ALPACA_API_KEY", "env-key")
	t.Setenv("DATA_DIR", "/env/data")
	t.Setenv("FRED_API_KEY", "fred-key")
	t.Setenv("BACKTEST_START", "2021-03-01")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() returned error: %v", err)
	}
	if cfg.Alpaca.APIKey != "env-key" {
		t.Errorf("Alpaca.APIKey = %q, want %q (env override)", cfg.Alpaca.APIKey, "env-key")
	}
	// api_secret should remain from YAML since no env override was set.
	if cfg.Alpaca.APISecret != "yaml-secret" {
		t.Errorf("Alpaca.APISecret = %q, want %q (from YAML)", cfg.Alpaca.APISecret, "yaml-secret")
	}
	if cfg.Storage.DataDir != "/env/data" {
		t.Errorf("Storage.DataDir = %q, want %q (env override)", cfg.Storage.DataDir, "/env/data")
	}
	if cfg.FRED.APIKey != "fred-key" || cfg.Backtest.Start != "2021-03-01" {
		t.Errorf("FRED.APIKey/Backtest.Start = %q/%q", cfg.FRED.APIKey, cfg.Backtest.Start)
	}

	t.Setenv("APCA_API_KEY_ID", "canonical-key")
	cfg, err = Load(path)
	if err != nil {
		t.Fatalf("Load() returned error: %v", err)
	}
	if cfg.Alpaca.APIKey != "canonical-key" {
		t.Errorf("Alpaca.APIKey = %q, want canonical SDK variable to win", cfg.Alpaca.APIKey)
	}
}

func TestLoadRejectsInvalid(t *testing.T) {
	clearEnv(t)
	cases := map[string]string{
		"cadence":  "backtest: {cadence: weekly}",
		"mode":     "strategy: {mode: contrarian}",
		"date":     "backtest: {start: 01/02/2020}",
		"slippage": "costs: {slippage: random}",
		"policy":   "regime: {policies: {CRISIS: {investable_fraction: 1.5}}}",
		"top_n":    "backtest: {top_n: -1}",
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := Load(writeFile(t, name+".yaml", body)); err == nil {
				t.Errorf("Load() accepted invalid %s", name)
			}
		})
	}
}

func TestLoadUniverse(t *testing.T) {
	path := writeFile(t, "universe.json", `{"name": "test", "symbols": [" aapl", "MSFT", "AAPL", "", "spy"], "benchmark": "spy"}`)

	u, err := LoadUniverse(path)
	if err != nil {
		t.Fatalf("LoadUniverse() returned error: %v", err)
	}
	want := []string{"AAPL", "MSFT", "SPY"}
	if len(u.Symbols) != len(want) {
		t.Fatalf("Symbols = %v, want %v", u.Symbols, want)
	}
	for i := range want {
		if u.Symbols[i] != want[i] {
			t.Errorf("Symbols[%d] = %q, want %q", i, u.Symbols[i], want[i])
		}
	}
	if got := u.All(); len(got) != 3 {
		t.Errorf("All() = %v, want benchmark not duplicated", got)
	}

	if _, err := LoadUniverse(writeFile(t, "empty.json", `{"symbols": []}`)); err == nil {
		t.Error("LoadUniverse() accepted an empty universe")
	}
}

func TestRunConfig(t *testing.T) {
	clearEnv(t)
	cfg, err := Load(writeFile(t, "run.yaml", `
backtest: {start: "2022-01-03", end: "2022-12-30", top_n: 3, benchmark: "SPY"}
costs: {slippage: fixed, fixed_bps: 4}
`))
	if err != nil {
		t.Fatalf("Load() returned error: %v", err)
	}

	rc, err := cfg.RunConfig(&Universe{Symbols: []string{"A", "B"}, Benchmark: "QQQ"})
	if err != nil {
		t.Fatalf("RunConfig() returned error: %v", err)
	}
	if rc.Benchmark != "QQQ" {
		t.Errorf("Benchmark = %q, want universe benchmark QQQ", rc.Benchmark)
	}
	if rc.Start.Format("2006-01-02") != "2022-01-03" || rc.TopN != 3 {
		t.Errorf("RunConfig = %+v", rc)
	}
	if rc.Cadence != engine.CadenceQuarterly || rc.Costs.FixedBps != 4 {
		t.Errorf("cadence/costs = %q/%+v", rc.Cadence, rc.Costs)
	}

	cfg.Backtest.End = ""
	if _, err := cfg.RunConfig(nil); !errors.Is(err, engine.ErrBadDateRange) {
		t.Errorf("RunConfig() without end = %v, want ErrBadDateRange", err)
	}
}
