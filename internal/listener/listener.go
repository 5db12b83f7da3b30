package listener

import (
	"context"
	"os"
	"slices"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"smbload/internal/pipeline"
	"smbload/internal/source"
)

// BatchFunc receives the summary of every batch the service loads.
type BatchFunc func(ctx context.Context, summary pipeline.Summary)

// Service watches a directory and feeds files that appear in it to a
// long-lived Loader once they have been quiet for the debounce interval.
// Files already present when Run starts are left to the batch loader.
type Service struct {
	loader   *pipeline.Loader
	dir      string
	source   source.Dir
	debounce time.Duration
	logger   *zap.Logger
	onBatch  BatchFunc

	pending map[string]time.Time
	loaded  map[string]struct{}
}

func NewService(loader *pipeline.Loader, dir string, src source.Dir, debounce time.Duration, logger *zap.Logger, onBatch BatchFunc) *Service {
	if debounce <= 0 {
		debounce = time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		loader:   loader,
		dir:      dir,
		source:   src,
		debounce: debounce,
		logger:   logger,
		onBatch:  onBatch,
		pending:  map[string]time.Time{},
		loaded:   map[string]struct{}{},
	}
}

// Run blocks until ctx is done. It returns an error only when the watch
// cannot be established.
func (s *Service) Run(ctx context.Context) error {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return err
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()
	if err := watcher.Add(s.dir); err != nil {
		return err
	}

	ticker := time.NewTicker(s.debounce / 2)
	defer ticker.Stop()

	s.logger.Info("watching directory", zap.String("dir", s.dir), zap.Duration("debounce", s.debounce))
	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			s.handle(event, time.Now())
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			s.logger.Error("watcher error", zap.Error(err))
		case now := <-ticker.C:
			s.runBatch(ctx, s.settled(now))
		}
	}
}

func (s *Service) handle(event fsnotify.Event, now time.Time) {
	path := event.Name
	if event.Has(fsnotify.Remove) || event.Has(fsnotify.Rename) {
		delete(s.pending, path)
		return
	}
	if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) {
		return
	}
	if _, done := s.loaded[path]; done || !s.source.Match(s.dir, path) {
		return
	}
	info, err := os.Stat(path)
	if err != nil || !info.Mode().IsRegular() {
		return
	}
	s.pending[path] = now
	s.logger.Debug("file change detected", zap.String("path", path), zap.String("op", event.Op.String()))
}

// settled removes and returns, in path order, the pending files with no
// event for at least the debounce interval.
func (s *Service) settled(now time.Time) []string {
	var out []string
	for path, seen := range s.pending {
		if now.Sub(seen) >= s.debounce {
			out = append(out, path)
			delete(s.pending, path)
		}
	}
	slices.Sort(out)
	return out
}

func (s *Service) runBatch(ctx context.Context, paths []string) {
	if len(paths) == 0 {
		return
	}
	summary, err := s.loader.LoadFiles(ctx, paths)
	for _, report := range summary.Files {
		s.loaded[report.Path] = struct{}{}
	}
	if err != nil {
		if ctx.Err() == nil {
			s.logger.Error("batch load failed, will retry", zap.Error(err))
			now := time.Now()
			for _, path := range paths {
				if _, done := s.loaded[path]; !done {
					s.pending[path] = now
				}
			}
		}
		return
	}
	s.logger.Info("batch loaded",
		zap.String("run_id", summary.RunID),
		zap.Int("files", len(paths)),
		zap.Int("failed", summary.Failed))
	if s.onBatch != nil {
		s.onBatch(ctx, summary)
	}
}
