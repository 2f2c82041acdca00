package services

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/BradenHooton/edugate/internal/models"
	pkglogger "github.com/BradenHooton/edugate/pkg/logger"
	"github.com/google/uuid"
)

const (
	defaultAuditQueryLimit = 50
	maxAuditQueryLimit     = 500
	auditFlushTimeout      = 10 * time.Second
)

// AuditRepository persists audit events in batches
type AuditRepository interface {
	InsertBatch(ctx context.Context, events []*models.AuditEvent) (int64, error)
	Query(ctx context.Context, filter models.AuditFilter) ([]*models.AuditEvent, int64, error)
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

// AuditConfig controls buffering and retention
type AuditConfig struct {
	BatchSize     int
	FlushInterval time.Duration
	MaxBuffer     int
	Retention     time.Duration
}

// AuditService buffers security events and persists them in batches.
// Every event is mirrored to the structured log immediately. Delivery to the
// store is at-least-once: a failed batch is re-queued and may be written
// again.
type AuditService struct {
	repo   AuditRepository
	mirror *pkglogger.AuditLogger
	cfg    AuditConfig
	logger *slog.Logger
	now    func() time.Time

	mu     sync.Mutex
	buffer []*models.AuditEvent
	closed bool // guarded by mu, as is every wg.Add

	// held for the duration of a flush; TryLock makes flushes single-flight
	flushMu sync.Mutex
	// set by a flush that lost the TryLock race so the holder goes again
	flushAgain atomic.Bool

	stop      chan struct{}
	done      chan struct{}
	started   atomic.Bool
	closeOnce sync.Once
	wg        sync.WaitGroup
}

func NewAuditService(repo AuditRepository, mirror *pkglogger.AuditLogger, cfg AuditConfig, logger *slog.Logger) *AuditService {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 50
	}
	if cfg.MaxBuffer < cfg.BatchSize {
		cfg.MaxBuffer = cfg.BatchSize * 10
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = 5 * time.Second
	}

	return &AuditService{
		repo:   repo,
		mirror: mirror,
		cfg:    cfg,
		logger: logger,
		now:    time.Now,
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
}

// Start runs the periodic flush loop until Close.
func (s *AuditService) Start() {
	if s.started.CompareAndSwap(false, true) {
		go s.run()
	}
}

func (s *AuditService) run() {
	defer close(s.done)

	ticker := time.NewTicker(s.cfg.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.flushInBackground()
		case <-s.stop:
			return
		}
	}
}

// Record mirrors event to the log and queues it for persistence. It never
// fails the caller; missing ID, timestamp and risk level are filled in.
func (s *AuditService) Record(ctx context.Context, event *models.AuditEvent) {
	if event.ID == "" {
		event.ID = uuid.New().String()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = s.now().UTC()
	}
	if !event.RiskLevel.Valid() {
		event.RiskLevel = ClassifyRisk(event.EventType, event.Success)
	}

	if s.mirror != nil {
		s.mirror.Log(ctx, toLogEvent(event))
	}

	s.mu.Lock()
	s.buffer = append(s.buffer, event)
	dropped := s.trimLocked()
	closed := s.closed
	trigger := !closed && (event.RiskLevel == models.RiskCritical || len(s.buffer) >= s.cfg.BatchSize)
	if trigger {
		s.wg.Add(1)
	}
	s.mu.Unlock()

	if dropped > 0 {
		s.logger.Warn("audit buffer full, dropped oldest events", slog.Int("dropped", dropped))
	}

	switch {
	case closed:
		// no loop left to pick it up
		s.flushAfterClose()
	case trigger:
		go func() {
			defer s.wg.Done()
			s.flushInBackground()
		}()
	}
}

func (s *AuditService) flushAfterClose() {
	ctx, cancel := context.WithTimeout(context.Background(), auditFlushTimeout)
	defer cancel()

	s.flushMu.Lock()
	defer s.flushMu.Unlock()
	if _, err := s.flushLocked(ctx); err != nil {
		s.logger.Error("audit write after close failed", slog.Any("error", err))
	}
}

func (s *AuditService) flushInBackground() {
	ctx, cancel := context.WithTimeout(context.Background(), auditFlushTimeout)
	defer cancel()

	if _, err := s.Flush(ctx); err != nil {
		s.logger.Error("audit flush failed, batch re-queued", slog.Any("error", err))
	}
}

// Flush persists everything buffered. If another flush is already running
// it returns immediately and that flush makes one more pass before
// releasing the lock, so nothing recorded in the meantime waits for the
// next tick.
func (s *AuditService) Flush(ctx context.Context) (int, error) {
	total := 0
	for {
		if !s.flushMu.TryLock() {
			s.flushAgain.Store(true)
			// the holder may have checked the flag just before we set it
			if !s.flushMu.TryLock() {
				return total, nil
			}
		}
		s.flushAgain.Store(false)
		n, err := s.flushLocked(ctx)
		s.flushMu.Unlock()

		total += n
		if err != nil {
			return total, err
		}
		if !s.flushAgain.Load() {
			return total, nil
		}
	}
}

func (s *AuditService) flushLocked(ctx context.Context) (int, error) {
	s.mu.Lock()
	batch := s.buffer
	s.buffer = nil
	s.mu.Unlock()

	if len(batch) == 0 {
		return 0, nil
	}

	if _, err := s.repo.InsertBatch(ctx, batch); err != nil {
		s.requeue(batch)
		return 0, fmt.Errorf("failed to persist %d audit events: %w", len(batch), err)
	}

	return len(batch), nil
}

// requeue puts a failed batch back ahead of anything recorded since.
func (s *AuditService) requeue(batch []*models.AuditEvent) {
	s.mu.Lock()
	s.buffer = append(batch, s.buffer...)
	dropped := s.trimLocked()
	s.mu.Unlock()

	if dropped > 0 {
		s.logger.Warn("audit buffer full after re-queue, dropped oldest events", slog.Int("dropped", dropped))
	}
}

// trimLocked enforces MaxBuffer by dropping the oldest non-critical events
// first. Caller holds s.mu.
func (s *AuditService) trimLocked() int {
	excess := len(s.buffer) - s.cfg.MaxBuffer
	if excess <= 0 {
		return 0
	}

	kept := make([]*models.AuditEvent, 0, s.cfg.MaxBuffer)
	dropped := 0
	for _, e := range s.buffer {
		if dropped < excess && e.RiskLevel != models.RiskCritical {
			dropped++
			continue
		}
		kept = append(kept, e)
	}

	// Only critical events left over the limit
	if over := len(kept) - s.cfg.MaxBuffer; over > 0 {
		kept = kept[over:]
		dropped += over
	}

	s.buffer = kept
	return dropped
}

// Pending returns the number of buffered events.
func (s *AuditService) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.buffer)
}

// Query returns a page of stored events and the total match count.
func (s *AuditService) Query(ctx context.Context, filter models.AuditFilter) ([]*models.AuditEvent, int64, error) {
	for _, level := range filter.RiskLevels {
		if !level.Valid() {
			return nil, 0, &models.ValidationError{Field: "risk_level", Message: "unknown risk level"}
		}
	}
	if filter.From != nil && filter.To != nil && filter.To.Before(*filter.From) {
		return nil, 0, &models.ValidationError{Field: "to", Message: "must not be before from"}
	}

	if filter.Limit <= 0 {
		filter.Limit = defaultAuditQueryLimit
	}
	if filter.Limit > maxAuditQueryLimit {
		filter.Limit = maxAuditQueryLimit
	}
	if filter.Offset < 0 {
		filter.Offset = 0
	}

	events, total, err := s.repo.Query(ctx, filter)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to query audit events: %w", err)
	}
	return events, total, nil
}

// Cleanup deletes events older than the retention window.
func (s *AuditService) Cleanup(ctx context.Context) (int64, error) {
	cutoff := s.now().Add(-s.cfg.Retention)
	n, err := s.repo.DeleteOlderThan(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to cleanup audit events: %w", err)
	}
	return n, nil
}

// Close stops the flush loop, waits for in-flight flushes and writes
// whatever is still buffered.
func (s *AuditService) Close(ctx context.Context) error {
	var err error
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.closed = true
		s.mu.Unlock()

		close(s.stop)
		if s.started.Load() {
			select {
			case <-s.done:
			case <-ctx.Done():
			}
		}

		s.wg.Wait()

		s.flushMu.Lock()
		defer s.flushMu.Unlock()
		_, err = s.flushLocked(ctx)
	})
	return err
}

// ClassifyRisk returns the default risk level for an event type.
func ClassifyRisk(eventType string, success bool) models.RiskLevel {
	switch eventType {
	case models.AuditEventRefreshTokenReuse:
		return models.RiskCritical
	case models.AuditEventAccountLocked,
		models.AuditEventPasswordResetEmailErr,
		models.AuditEventMFADisabled,
		models.AuditEventStatusChanged:
		return models.RiskHigh
	case models.AuditEventLoginFailed,
		models.AuditEventLoginBlocked,
		models.AuditEventRateLimited,
		models.AuditEventMFAFailed,
		models.AuditEventPasswordChanged,
		models.AuditEventPasswordReset,
		models.AuditEventAccountUnlocked,
		models.AuditEventLogoutAll,
		models.AuditEventSessionRevoked:
		return models.RiskMedium
	}

	if !success {
		return models.RiskMedium
	}
	return models.RiskLow
}

func toLogEvent(e *models.AuditEvent) pkglogger.AuditEvent {
	out := pkglogger.AuditEvent{
		EventType: e.EventType,
		IPAddress: e.IPAddress,
		UserAgent: e.UserAgent,
		Success:   e.Success,
		RiskLevel: string(e.RiskLevel),
		Timestamp: e.Timestamp,
		Details:   e.Details,
	}
	if e.UserID != nil {
		out.UserID = *e.UserID
	}
	return out
}
