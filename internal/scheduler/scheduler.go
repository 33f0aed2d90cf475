package scheduler

import (
	"context"
	"log"
	"time"

	"github.com/warungkas/finops-engine/internal/audit"
	"github.com/warungkas/finops-engine/internal/clock"
	"github.com/warungkas/finops-engine/internal/detect"
	"github.com/warungkas/finops-engine/internal/dispatch"
	"github.com/warungkas/finops-engine/internal/recommend"
)

// Scheduler drives the engine's periodic work: detection cycles,
// pending-delivery retries, limiter sweeps, and retention cleanup.
// Delivery only happens inside the configured quiet-hours window so
// nobody gets a cashflow warning at 3am.

const (
	sweepInterval     = 30 * time.Minute
	retentionInterval = 24 * time.Hour
)

type Options struct {
	CycleInterval  time.Duration
	Policy         detect.GatingPolicy
	DeliveryMaxAge time.Duration

	// Local-hour window in which deliveries are allowed. StartHour ==
	// EndHour disables the window check.
	DeliveryStartHour int
	DeliveryEndHour   int

	RetentionDays int

	// AlertFunc receives every created recommendation, wired to the
	// WebSocket hub broadcast.
	AlertFunc func(detect.CycleEntry)

	Auditor audit.Emitter
}

type Scheduler struct {
	orchestrator *detect.Orchestrator
	dispatcher   *dispatch.Dispatcher
	recs         recommend.Store
	limiter      *dispatch.ContactLimiter
	clock        clock.Clock
	opts         Options
}

func New(orchestrator *detect.Orchestrator, dispatcher *dispatch.Dispatcher, recs recommend.Store,
	limiter *dispatch.ContactLimiter, clk clock.Clock, opts Options) *Scheduler {
	if opts.CycleInterval <= 0 {
		opts.CycleInterval = time.Hour
	}
	return &Scheduler{
		orchestrator: orchestrator,
		dispatcher:   dispatcher,
		recs:         recs,
		limiter:      limiter,
		clock:        clk,
		opts:         opts,
	}
}

// Run blocks until ctx is cancelled. One cycle fires immediately on
// start so a fresh deploy does not wait a full interval for its first
// detection pass.
func (s *Scheduler) Run(ctx context.Context) {
	log.Printf("[Scheduler] Starting: cycle every %s, delivery window %02d:00-%02d:00",
		s.opts.CycleInterval, s.opts.DeliveryStartHour, s.opts.DeliveryEndHour)

	cycleTicker := time.NewTicker(s.opts.CycleInterval)
	defer cycleTicker.Stop()

	sweepTicker := time.NewTicker(sweepInterval)
	defer sweepTicker.Stop()

	retentionTicker := time.NewTicker(retentionInterval)
	defer retentionTicker.Stop()

	s.runCycle(ctx)

	for {
		select {
		case <-ctx.Done():
			log.Println("[Scheduler] Stopping...")
			return
		case <-cycleTicker.C:
			s.runCycle(ctx)
		case <-sweepTicker.C:
			if s.limiter != nil {
				s.limiter.Sweep()
			}
		case <-retentionTicker.C:
			s.runRetention(ctx)
		}
	}
}

func (s *Scheduler) runCycle(ctx context.Context) {
	result, err := s.orchestrator.Run(ctx, s.opts.Policy)
	if err != nil {
		log.Printf("[Scheduler] Cycle error: %v", err)
		return
	}
	if s.opts.AlertFunc != nil {
		for _, entry := range result.Entries {
			s.opts.AlertFunc(entry)
		}
	}

	if !s.withinDeliveryHours() {
		if result.Created > 0 {
			log.Printf("[Scheduler] %d recommendation(s) created outside delivery hours; holding for next window", result.Created)
		}
		return
	}

	batch, err := s.dispatcher.DeliverPending(ctx, s.opts.DeliveryMaxAge)
	if err != nil {
		log.Printf("[Scheduler] Delivery error: %v", err)
		return
	}
	if batch.Dispatched > 0 {
		log.Printf("[Scheduler] Delivered batch: dispatched=%d delivered=%d failed=%d",
			batch.Dispatched, batch.Delivered, batch.Failed)
	}
}

func (s *Scheduler) runRetention(ctx context.Context) {
	if s.opts.RetentionDays <= 0 {
		return
	}
	removed, err := s.recs.CleanupOlderThan(ctx, s.opts.RetentionDays)
	if err != nil {
		log.Printf("[Scheduler] Retention cleanup error: %v", err)
		return
	}
	if removed > 0 {
		log.Printf("[Scheduler] Retention cleanup removed %d recommendation(s) older than %d days",
			removed, s.opts.RetentionDays)
		audit.Emit(s.opts.Auditor, audit.Event{
			Action:     "recommendation.purged",
			Actor:      "scheduler",
			EntityType: "recommendation",
			Details:    map[string]any{"removed": removed, "retentionDays": s.opts.RetentionDays},
		})
	}
}

// withinDeliveryHours checks the local hour against the delivery
// window. Wrap-around windows (e.g. 21-8) are supported.
func (s *Scheduler) withinDeliveryHours() bool {
	start, end := s.opts.DeliveryStartHour, s.opts.DeliveryEndHour
	if start == end {
		return true
	}
	hour := s.clock.Now().In(s.clock.Location()).Hour()
	if start < end {
		return hour >= start && hour < end
	}
	return hour >= start || hour < end
}
