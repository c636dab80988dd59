package us

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
)

const progressFile = ".us-bars-progress.json"

// progress records the last completed end date and the symbols that
// returned no bars at all for it, so a rerun on the same day is a no-op and
// a resumed run skips known-empty symbols.
type progress struct {
	mu        sync.Mutex
	path      string
	Completed string              `json:"completed"`
	Target    string              `json:"target"`
	Empty     map[string]struct{} `json:"-"`
	EmptyList []string            `json:"empty"`
}

// loadProgress reads the progress file at path. A missing file yields an
// empty state.
func loadProgress(path string) (*progress, error) {
	p := &progress{path: path, Empty: make(map[string]struct{})}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return p, nil
		}
		return nil, err
	}
	if err := json.Unmarshal(data, p); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	for _, s := range p.EmptyList {
		p.Empty[s] = struct{}{}
	}
	return p, nil
}

// resetFor drops empty-symbol marks left by a run for a different end date.
func (p *progress) resetFor(target string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.Target != target {
		p.Target = target
		p.Empty = make(map[string]struct{})
	}
}

func (p *progress) isEmpty(symbol string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.Empty[symbol]
	return ok
}

func (p *progress) markEmpty(symbols []string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, s := range symbols {
		p.Empty[s] = struct{}{}
	}
}

// save writes the state atomically via a temp file and rename.
func (p *progress) save() error {
	p.mu.Lock()
	p.EmptyList = p.EmptyList[:0]
	for s := range p.Empty {
		p.EmptyList = append(p.EmptyList, s)
	}
	sort.Strings(p.EmptyList)
	data, err := json.MarshalIndent(p, "", "  ")
	p.mu.Unlock()
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(p.path), 0o755); err != nil {
		return fmt.Errorf("creating state dir: %w", err)
	}
	tmp := p.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, p.path)
}
