package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/campusgrid/schoolauth/internal/auth/obs"
	"github.com/campusgrid/schoolauth/internal/auth/store"
)

// DefaultAuditRetention is how long audit events are kept before the
// housekeeping sweep trims them.
const DefaultAuditRetention = 90 * 24 * time.Hour

// HousekeepingService periodically sweeps expired database records so the
// sessions and audit_events tables don't grow without bound.
type HousekeepingService struct {
	Store          store.Store
	Logger         *slog.Logger
	Interval       time.Duration
	AuditRetention time.Duration

	stopCh chan struct{}
	doneCh chan struct{}
}

// NewHousekeepingService creates the sweeper. Interval defaults to 1 hour,
// audit retention to 90 days.
func NewHousekeepingService(st store.Store, logger *slog.Logger, interval time.Duration) *HousekeepingService {
	if interval <= 0 {
		interval = 1 * time.Hour
	}

	return &HousekeepingService{
		Store:          st,
		Logger:         logger,
		Interval:       interval,
		AuditRetention: DefaultAuditRetention,
		stopCh:         make(chan struct{}),
		doneCh:         make(chan struct{}),
	}
}

// Start launches the background worker. Non-blocking; call Stop to shut down.
func (s *HousekeepingService) Start() {
	go s.run()
	s.Logger.Info("housekeeping service started", "interval", s.Interval)
}

// Stop shuts the worker down, blocking until any in-progress sweep finishes.
func (s *HousekeepingService) Stop() {
	close(s.stopCh)
	<-s.doneCh
	s.Logger.Info("housekeeping service stopped")
}

func (s *HousekeepingService) run() {
	defer close(s.doneCh)

	ticker := time.NewTicker(s.Interval)
	defer ticker.Stop()

	// Sweep once at startup so a long-stopped instance catches up immediately.
	s.sweep()

	for {
		select {
		case <-ticker.C:
			s.sweep()
		case <-s.stopCh:
			return
		}
	}
}

// sweep runs each cleanup independently; one failing doesn't stop the others.
func (s *HousekeepingService) sweep() {
	ctx := context.Background()
	now := time.Now().UTC()

	if n, err := s.Store.Sessions().CleanExpiredSessions(ctx, now); err != nil {
		s.Logger.Error("expired session sweep failed", "error", err)
	} else if n > 0 {
		obs.SessionsInvalidatedTotal.WithLabelValues("expired").Add(float64(n))
		s.Logger.Info("expired sessions deactivated", "count", n)
	}

	if n, err := s.Store.Users().ClearExpiredResetTokens(ctx, now); err != nil {
		s.Logger.Error("expired reset token sweep failed", "error", err)
	} else if n > 0 {
		s.Logger.Info("expired reset tokens cleared", "count", n)
	}

	retention := s.AuditRetention
	if retention <= 0 {
		retention = DefaultAuditRetention
	}
	if n, err := s.Store.Audit().DeleteEventsBefore(ctx, now.Add(-retention)); err != nil {
		s.Logger.Error("audit retention sweep failed", "error", err)
	} else if n > 0 {
		s.Logger.Info("audit events trimmed", "count", n)
	}
}
