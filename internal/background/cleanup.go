package background

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// taskTimeout bounds a single cleanup task run.
const taskTimeout = 30 * time.Second

// Task is one periodic pruning job. Run returns the number of records removed.
type Task struct {
	Name string
	Run  func(ctx context.Context, now time.Time) (int64, error)
}

// CleanupManager periodically prunes expired security state: rate-limit
// windows, revoked tokens, ended sessions, used reset tokens and audit
// events past retention.
type CleanupManager struct {
	tasks    []Task
	logger   *slog.Logger
	interval time.Duration
	now      func() time.Time

	stopCh   chan struct{}
	stopOnce sync.Once
}

// NewCleanupManager creates a new cleanup manager
func NewCleanupManager(logger *slog.Logger, interval time.Duration, tasks ...Task) *CleanupManager {
	return &CleanupManager{
		tasks:    tasks,
		logger:   logger,
		interval: interval,
		now:      time.Now,
		stopCh:   make(chan struct{}),
	}
}

// Start runs every task immediately and then once per interval until ctx is
// cancelled or Stop is called. It blocks; run it in its own goroutine.
func (cm *CleanupManager) Start(ctx context.Context) {
	ticker := time.NewTicker(cm.interval)
	defer ticker.Stop()

	cm.RunOnce(ctx)

	for {
		select {
		case <-ticker.C:
			cm.RunOnce(ctx)
		case <-cm.stopCh:
			cm.logger.Info("cleanup manager stopped")
			return
		case <-ctx.Done():
			cm.logger.Info("cleanup manager context cancelled")
			return
		}
	}
}

// RunOnce runs every task once. A failing task is logged and does not stop
// the others.
func (cm *CleanupManager) RunOnce(ctx context.Context) {
	now := cm.now()
	for _, task := range cm.tasks {
		if ctx.Err() != nil {
			return
		}

		taskCtx, cancel := context.WithTimeout(ctx, taskTimeout)
		removed, err := task.Run(taskCtx, now)
		cancel()

		if err != nil {
			cm.logger.Error("cleanup task failed",
				slog.String("task", task.Name),
				slog.Any("error", err))
			continue
		}
		if removed > 0 {
			cm.logger.Info("cleanup task completed",
				slog.String("task", task.Name),
				slog.Int64("removed", removed))
		}
	}
}

// Stop signals the cleanup manager to stop. Safe to call more than once.
func (cm *CleanupManager) Stop() {
	cm.stopOnce.Do(func() { close(cm.stopCh) })
}
