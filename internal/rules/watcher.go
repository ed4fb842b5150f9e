package rules

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

// Watcher swaps a new catalogue into a RuleSet whenever the rule pack file
// changes on disk. Reloads that fail to parse keep the current catalogue.
type Watcher struct {
	path    string
	ruleset *RuleSet
	logger  *slog.Logger
	fs      *fsnotify.Watcher
}

// NewWatcher starts watching the directory containing path. Watching the
// directory instead of the file survives editors and config mounts that
// replace the file on every write.
func NewWatcher(path string, ruleset *RuleSet, logger *slog.Logger) (*Watcher, error) {
	if logger == nil {
		logger = slog.Default()
	}
	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := fsWatcher.Add(filepath.Dir(path)); err != nil {
		fsWatcher.Close()
		return nil, err
	}
	return &Watcher{path: path, ruleset: ruleset, logger: logger, fs: fsWatcher}, nil
}

// Run blocks applying reloads until ctx is cancelled.
func (w *Watcher) Run(ctx context.Context) error {
	defer w.fs.Close()

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-w.fs.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != filepath.Clean(w.path) {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			w.reload()
		case err, ok := <-w.fs.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("rule pack watch error", slog.Any("error", err))
		}
	}
}

func (w *Watcher) reload() {
	data, err := os.ReadFile(w.path)
	if err != nil {
		w.logger.Warn("rule pack reload failed", slog.String("path", w.path), slog.Any("error", err))
		return
	}
	catalogue, overload, underload, err := parsePack(data)
	if err != nil {
		w.logger.Warn("rule pack reload rejected", slog.String("path", w.path), slog.Any("error", err))
		return
	}
	if len(catalogue) == 0 {
		w.logger.Warn("rule pack reload skipped, no rules", slog.String("path", w.path))
		return
	}

	w.ruleset.Replace(catalogue, overload, underload)
	w.logger.Info("rule pack reloaded", slog.String("path", w.path), slog.Int("rules", len(catalogue)))
}
