package transcribe

import (
	"context"
	"fmt"
	"os"
	"regexp"
	"sync"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// Table is a versioned list of transcript cleanup rules loaded from YAML.
// Rules apply in file order as case-insensitive whole-word replacements, so
// the same table version always produces the same output.
type Table struct {
	Version int    `yaml:"version"`
	Rules   []Rule `yaml:"rules"`
}

// Rule replaces one spoken artifact ("eh", "liksom", misheard names) with
// its written form, or with nothing.
type Rule struct {
	Find    string `yaml:"find"`
	Replace string `yaml:"replace"`
}

type compiledRule struct {
	pattern *regexp.Regexp
	replace string
}

// LoadTable parses a refinement table file.
func LoadTable(path string) (Table, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Table{}, fmt.Errorf("transcribe: reading refinement table: %w", err)
	}
	var t Table
	if err := yaml.Unmarshal(data, &t); err != nil {
		return Table{}, fmt.Errorf("transcribe: parsing refinement table: %w", err)
	}
	if t.Version < 1 {
		return Table{}, fmt.Errorf("transcribe: refinement table missing version")
	}
	return t, nil
}

func compile(t Table) ([]compiledRule, error) {
	out := make([]compiledRule, 0, len(t.Rules))
	for _, r := range t.Rules {
		if r.Find == "" {
			return nil, fmt.Errorf("transcribe: refinement rule with empty find")
		}
		p, err := regexp.Compile(`(?i)\b` + regexp.QuoteMeta(r.Find) + `\b`)
		if err != nil {
			return nil, fmt.Errorf("transcribe: compiling rule %q: %w", r.Find, err)
		}
		out = append(out, compiledRule{pattern: p, replace: r.Replace})
	}
	return out, nil
}

// Refiner applies the active refinement table. It is safe for concurrent
// use and can hot-reload the table when the file changes.
type Refiner struct {
	path string
	log  *zap.Logger

	mu      sync.RWMutex
	version int
	rules   []compiledRule
}

// NewRefiner loads the table at path. A missing file yields an empty
// refiner (version 0, no rules) so transcription works without a table.
func NewRefiner(path string, log *zap.Logger) (*Refiner, error) {
	r := &Refiner{path: path, log: log}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return r, nil
	}
	if err := r.reload(); err != nil {
		return nil, err
	}
	return r, nil
}

func (r *Refiner) reload() error {
	t, err := LoadTable(r.path)
	if err != nil {
		return err
	}
	rules, err := compile(t)
	if err != nil {
		return err
	}
	r.mu.Lock()
	r.version = t.Version
	r.rules = rules
	r.mu.Unlock()
	return nil
}

// Version returns the active table version, 0 when no table is loaded.
func (r *Refiner) Version() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.version
}

// Apply runs every rule in order over the text.
func (r *Refiner) Apply(text string) string {
	r.mu.RLock()
	rules := r.rules
	r.mu.RUnlock()
	for _, rule := range rules {
		text = rule.pattern.ReplaceAllString(text, rule.replace)
	}
	return text
}

// Watch reloads the table whenever the file is written. Blocks until the
// context is done. A reload failure keeps the previous table active.
func (r *Refiner) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("transcribe: starting table watcher: %w", err)
	}
	defer watcher.Close()
	if err := watcher.Add(r.path); err != nil {
		return fmt.Errorf("transcribe: watching %s: %w", r.path, err)
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			if err := r.reload(); err != nil {
				r.log.Warn("refinement table reload failed, keeping previous version",
					zap.Int("active_version", r.Version()), zap.Error(err))
				continue
			}
			r.log.Info("refinement table reloaded", zap.Int("version", r.Version()))
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			r.log.Warn("refinement table watcher error", zap.Error(err))
		}
	}
}
