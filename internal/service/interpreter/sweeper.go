package interpreter

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"time"
)

// Sweeper evicts idle paragraph tasks and deletes expired result files.
type Sweeper struct {
	tasks     *TaskRegistry
	dir       string
	taskTTL   time.Duration
	retention time.Duration
	interval  time.Duration
	logger    *slog.Logger
}

// NewSweeper creates a sweeper over tasks and the result directory in opts.
func NewSweeper(tasks *TaskRegistry, opts Options, logger *slog.Logger) *Sweeper {
	opts = opts.withDefaults()
	if logger == nil {
		logger = slog.Default()
	}
	return &Sweeper{
		tasks:     tasks,
		dir:       opts.ResultDir,
		taskTTL:   opts.TaskTTL,
		retention: opts.ResultRetention,
		interval:  opts.SweepInterval,
		logger:    logger,
	}
}

// Run sweeps every interval until ctx is done.
func (s *Sweeper) Run(ctx context.Context) {
	s.logger.Info("result file cleaner started", "dir", s.dir, "interval", s.interval)
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("result file cleaner stopped")
			return
		case now := <-ticker.C:
			s.SweepOnce(now)
		}
	}
}

// SweepOnce performs a single eviction and file-retention pass.
func (s *Sweeper) SweepOnce(now time.Time) {
	if evicted := s.tasks.Expire(now, s.taskTTL); len(evicted) > 0 {
		s.logger.Info("evicted idle paragraph tasks", "paragraph_ids", evicted)
	}
	s.sweepFiles(now)
}

func (s *Sweeper) sweepFiles(now time.Time) {
	info, err := os.Stat(s.dir)
	if err != nil {
		if !os.IsNotExist(err) {
			s.logger.Error("stat result dir", "dir", s.dir, "error", err)
		}
		return
	}
	if !info.IsDir() {
		s.logger.Error("result path is not a directory", "dir", s.dir)
		return
	}

	entries, err := os.ReadDir(s.dir)
	if err != nil {
		s.logger.Error("read result dir", "dir", s.dir, "error", err)
		return
	}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		fi, err := e.Info()
		if err != nil {
			s.logger.Error("stat result file", "name", e.Name(), "error", err)
			continue
		}
		if now.Sub(fi.ModTime()) < s.retention {
			continue
		}
		path := filepath.Join(s.dir, e.Name())
		if err := os.Remove(path); err != nil {
			s.logger.Error("delete expired result file", "path", path, "error", err)
			continue
		}
		s.logger.Info("deleted expired result file", "path", path)
	}
}
