package interpreter

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/panjf2000/ants/v2"

	"presto-notebook/internal/domain"
)

const poolReleaseTimeout = 5 * time.Second

// scheduler bounds the number of paragraphs executing at once.
type scheduler struct {
	pool   *ants.Pool
	logger *slog.Logger
}

type outcome struct {
	result *domain.Result
	err    error
}

func newScheduler(size int, logger *slog.Logger) (*scheduler, error) {
	pool, err := ants.NewPool(size)
	if err != nil {
		return nil, fmt.Errorf("create worker pool: %w", err)
	}
	return &scheduler{pool: pool, logger: logger}, nil
}

// run executes fn on a pooled worker and waits for its outcome. Submission
// blocks while every worker is busy.
func (s *scheduler) run(fn func() (*domain.Result, error)) (*domain.Result, error) {
	done := make(chan outcome, 1)
	err := s.pool.Submit(func() {
		defer func() {
			if r := recover(); r != nil {
				s.logger.Error("paragraph worker panic", "panic", r)
				done <- outcome{err: fmt.Errorf("paragraph worker panic: %v", r)}
			}
		}()
		res, err := fn()
		done <- outcome{result: res, err: err}
	})
	if err != nil {
		return nil, fmt.Errorf("submit paragraph: %w", err)
	}
	o := <-done
	return o.result, o.err
}

func (s *scheduler) release() {
	if err := s.pool.ReleaseTimeout(poolReleaseTimeout); err != nil {
		s.logger.Warn("release worker pool", "error", err)
	}
}
