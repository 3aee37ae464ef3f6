package intent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/harun/mosaic/internal/config"
	"github.com/harun/mosaic/internal/observability"
	"github.com/rs/zerolog/log"
)

// LoadRulesFile reads a JSON rules file and validates its shape.
func LoadRulesFile(path string) (config.RulesConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return config.RulesConfig{}, fmt.Errorf("failed to read rules file: %w", err)
	}
	if err := validate(rulesSchema, string(data)); err != nil {
		return config.RulesConfig{}, fmt.Errorf("invalid rules file %s: %w", path, err)
	}
	var cfg config.RulesConfig
	if err := json.Unmarshal(data, &cfg); err != nil {
		return config.RulesConfig{}, fmt.Errorf("failed to parse rules file: %w", err)
	}
	return cfg, nil
}

// mergeRules overlays the non-empty lists of file onto base.
func mergeRules(base, file config.RulesConfig) config.RulesConfig {
	pick := func(a, b []string) []string {
		if len(b) > 0 {
			return b
		}
		return a
	}
	return config.RulesConfig{
		FreshMarkers:  pick(base.FreshMarkers, file.FreshMarkers),
		CreationVerbs: pick(base.CreationVerbs, file.CreationVerbs),
		Determiners:   pick(base.Determiners, file.Determiners),
		ModifierVerbs: pick(base.ModifierVerbs, file.ModifierVerbs),
		Comparatives:  pick(base.Comparatives, file.Comparatives),
		Anaphora:      pick(base.Anaphora, file.Anaphora),

		Interrogatives: pick(base.Interrogatives, file.Interrogatives),
	}
}

// nonEmptyLists names the lists a rules file overrides.
func nonEmptyLists(c config.RulesConfig) []string {
	var out []string
	for _, l := range []struct {
		name  string
		words []string
	}{
		{"fresh_markers", c.FreshMarkers},
		{"creation_verbs", c.CreationVerbs},
		{"determiners", c.Determiners},
		{"modifier_verbs", c.ModifierVerbs},
		{"comparatives", c.Comparatives},
		{"anaphora", c.Anaphora},
		{"interrogatives", c.Interrogatives},
	} {
		if len(l.words) > 0 {
			out = append(out, l.name)
		}
	}
	return out
}

// RulesWatcher reloads a rules file into a RuleSet whenever it changes. An
// invalid file is logged and the previous rules stay active.
type RulesWatcher struct {
	path     string
	base     config.RulesConfig
	rules    *RuleSet
	debounce time.Duration

	timerMu  sync.Mutex
	timer    *time.Timer
	reloaded chan struct{}
}

// NewRulesWatcher creates a watcher for path. base holds the configured
// lists the file overrides.
func NewRulesWatcher(path string, base config.RulesConfig, rules *RuleSet) *RulesWatcher {
	return &RulesWatcher{
		path:     path,
		base:     base,
		rules:    rules,
		debounce: 100 * time.Millisecond,
		reloaded: make(chan struct{}, 1),
	}
}

// Reload loads the file once and installs the result.
func (w *RulesWatcher) Reload() error {
	file, err := LoadRulesFile(w.path)
	if err != nil {
		return err
	}
	w.rules.Store(RulesFromConfig(mergeRules(w.base, file)))

	select {
	case w.reloaded <- struct{}{}:
	default:
	}

	observability.RecordConfigAudit(context.Background(), "intent.rules.reload", w.path, map[string]interface{}{
		"file_lists": nonEmptyLists(file),
	})
	log.Info().Str("path", w.path).Msg("Intent rules reloaded")
	return nil
}

// Run loads the file and keeps it in sync until ctx is done. The parent
// directory is watched so editors that replace the file are handled.
func (w *RulesWatcher) Run(ctx context.Context) error {
	if err := w.Reload(); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Warn().Err(err).Str("path", w.path).Msg("Initial rules load failed")
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	defer watcher.Close()

	dir := filepath.Dir(w.path)
	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("failed to watch %s: %w", dir, err)
	}

	log.Info().Str("path", w.path).Msg("Intent rules watcher started")

	target := filepath.Clean(w.path)
	for {
		select {
		case <-ctx.Done():
			w.timerMu.Lock()
			if w.timer != nil {
				w.timer.Stop()
			}
			w.timerMu.Unlock()
			log.Info().Msg("Intent rules watcher stopped")
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			w.schedule()

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			log.Error().Err(err).Msg("Rules watcher error")
		}
	}
}

// schedule debounces bursts of writes into one reload.
func (w *RulesWatcher) schedule() {
	w.timerMu.Lock()
	defer w.timerMu.Unlock()

	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(w.debounce, func() {
		if err := w.Reload(); err != nil {
			log.Warn().Err(err).Str("path", w.path).Msg("Rules reload failed, keeping previous rules")
		}
	})
}

// Reloaded signals after each successful reload.
func (w *RulesWatcher) Reloaded() <-chan struct{} {
	return w.reloaded
}
