package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
)

// Universe is a named symbol list with its benchmark, stored as JSON:
//
//	{"name": "sp100", "symbols": ["AAPL", "MSFT"], "benchmark": "SPY"}
type Universe struct {
	Name      string   `json:"name"`
	Symbols   []string `json:"symbols" validate:"min=1,dive,required"`
	Benchmark string   `json:"benchmark"`
}

// LoadUniverse reads a universe file. Symbols are trimmed, upper-cased and
// deduplicated in file order.
func LoadUniverse(path string) (*Universe, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading universe: %w", err)
	}
	var u Universe
	if err := json.Unmarshal(data, &u); err != nil {
		return nil, fmt.Errorf("parsing universe %s: %w", path, err)
	}

	seen := make(map[string]struct{}, len(u.Symbols))
	symbols := u.Symbols[:0]
	for _, s := range u.Symbols {
		s = strings.ToUpper(strings.TrimSpace(s))
		if s == "" {
			continue
		}
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		symbols = append(symbols, s)
	}
	u.Symbols = symbols
	u.Benchmark = strings.ToUpper(strings.TrimSpace(u.Benchmark))

	if err := validate.Struct(&u); err != nil {
		return nil, fmt.Errorf("invalid universe %s: %w", path, err)
	}
	return &u, nil
}

// All returns the symbols plus the benchmark, when it is not already
// listed.
func (u *Universe) All() []string {
	out := append([]string(nil), u.Symbols...)
	if u.Benchmark == "" {
		return out
	}
	for _, s := range out {
		if s == u.Benchmark {
			return out
		}
	}
	return append(out, u.Benchmark)
}
