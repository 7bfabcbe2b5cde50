package worker

import (
	"context"
	"fmt"
	"runtime/debug"

	"github.com/charmbracelet/log"
	"golang.org/x/sync/errgroup"

	"papers-crawler/pkg/logger"
)

// Limiter reports whether the run has collected enough records.
type Limiter interface {
	LimitReached() bool
}

// Manager runs target workers on a bounded pool.
type Manager struct {
	worker      *Worker
	workerCount int
	limiter     Limiter
	logger      *log.Logger
}

// NewManager creates a manager running up to workerCount targets at once.
// limiter may be nil.
func NewManager(w *Worker, workerCount int, limiter Limiter, l *log.Logger) *Manager {
	if workerCount < 1 {
		workerCount = 1
	}
	return &Manager{
		worker:      w,
		workerCount: workerCount,
		limiter:     limiter,
		logger:      logger.Component(l, "manager"),
	}
}

// Run processes targets and returns one report per target in input order.
// A failing or panicking target never stops the others. Targets not yet
// started when the limit is reached or ctx is cancelled are marked skipped.
func (m *Manager) Run(ctx context.Context, targets []string) []TargetReport {
	reports := make([]TargetReport, len(targets))

	var g errgroup.Group
	g.SetLimit(m.workerCount)

	for i, target := range targets {
		// g.Go blocks while the pool is full, so these checks see the state
		// at the moment a slot frees up.
		if err := ctx.Err(); err != nil {
			reports[i] = TargetReport{Target: target, Skipped: true, Err: err}
			continue
		}
		if m.limiter != nil && m.limiter.LimitReached() {
			m.logger.Info("limit reached, skipping target", "target", target)
			reports[i] = TargetReport{Target: target, Skipped: true}
			continue
		}

		g.Go(func() error {
			reports[i] = m.runTarget(ctx, target)
			return nil
		})
	}

	_ = g.Wait()

	var saved, failed int
	for _, r := range reports {
		saved += r.Saved
		if r.Err != nil {
			failed++
		}
	}
	m.logger.Info("all targets finished", "targets", len(targets), "saved", saved, "target_errors", failed)
	return reports
}

func (m *Manager) runTarget(ctx context.Context, target string) (report TargetReport) {
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error("target worker panicked", "target", target, "panic", r, "stack", string(debug.Stack()))
			report.Target = target
			report.Err = fmt.Errorf("%w: %v", ErrTargetPanic, r)
		}
	}()

	m.logger.Info("starting target", "target", target)
	report, err := m.worker.ProcessTarget(ctx, target)
	if err != nil {
		report.Err = err
		m.logger.Error("target aborted", "target", target, "err", err)
	}
	return report
}
