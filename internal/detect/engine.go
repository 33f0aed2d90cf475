package detect

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/warungkas/finops-engine/internal/audit"
	"github.com/warungkas/finops-engine/internal/recommend"
	"github.com/warungkas/finops-engine/pkg/models"
)

// Gating & Engine Orchestrator
//
// One cycle fans the zero-arg detectors out concurrently under a
// deadline, gates the candidates (confidence floor, priority floor,
// dedup window), and persists survivors as role-targeted
// recommendations. The orchestrator itself is stateless; everything
// durable goes through the recommendation store.

// GatingPolicy is the filter between detectors and persistence.
type GatingPolicy struct {
	MinConfidenceScore       int  `json:"minConfidenceScore"`
	CriticalPriorityRequired bool `json:"criticalPriorityRequired"`
	DedupWindowMinutes       int  `json:"dedupWindowMinutes"`
}

// Preset policies for operational convenience.
func CriticalOnlyPolicy() GatingPolicy {
	return GatingPolicy{MinConfidenceScore: 80, CriticalPriorityRequired: true, DedupWindowMinutes: 60}
}

func RelaxedPolicy() GatingPolicy {
	return GatingPolicy{MinConfidenceScore: 60, CriticalPriorityRequired: false, DedupWindowMinutes: 120}
}

func NoGatingPolicy() GatingPolicy {
	return GatingPolicy{MinConfidenceScore: 0, CriticalPriorityRequired: false, DedupWindowMinutes: 0}
}

// KindTargetRoles maps an anomaly kind to the roles that should see it.
func KindTargetRoles(kind models.AnomalyKind) []models.Role {
	switch kind {
	case models.AnomalyTargetVariance:
		return []models.Role{models.RoleBoss, models.RoleDev, models.RoleInvestor}
	default:
		// expense_spike, revenue_decline, cashflow_warning,
		// employee_inactivity, and anything unknown.
		return []models.Role{models.RoleBoss, models.RoleDev}
	}
}

// CycleEntry summarizes one persisted recommendation.
type CycleEntry struct {
	ID         string             `json:"id"`
	Kind       models.AnomalyKind `json:"kind"`
	Priority   models.Priority    `json:"priority"`
	Confidence int                `json:"confidence"`
}

// CycleResult is the record a run returns. PartialCycle means the
// deadline expired before every detector reported.
type CycleResult struct {
	Detected     int          `json:"detected"`
	Gated        int          `json:"gated"`
	Created      int          `json:"created"`
	PartialCycle bool         `json:"partialCycle"`
	Entries      []CycleEntry `json:"entries"`
}

const DefaultCycleDeadline = 30 * time.Second

type Orchestrator struct {
	detectors []Detector
	store     recommend.Store
	auditor   audit.Emitter
	deadline  time.Duration
}

func NewOrchestrator(detectors []Detector, store recommend.Store, auditor audit.Emitter, deadline time.Duration) *Orchestrator {
	if deadline <= 0 {
		deadline = DefaultCycleDeadline
	}
	return &Orchestrator{detectors: detectors, store: store, auditor: auditor, deadline: deadline}
}

type detectorOutcome struct {
	kind      models.AnomalyKind
	candidate *models.AnomalyCandidate
	err       error
}

// Run executes one cycle. Per-detector errors are logged and treated as
// "no anomaly"; they never abort the cycle. Candidates are gated and
// persisted in detector-completion order.
func (o *Orchestrator) Run(ctx context.Context, policy GatingPolicy) (CycleResult, error) {
	ctx, cancel := context.WithTimeout(ctx, o.deadline)
	defer cancel()

	results := make(chan detectorOutcome, len(o.detectors))
	for _, d := range o.detectors {
		go func(d Detector) {
			candidate, err := d.Detect(ctx)
			results <- detectorOutcome{kind: d.Kind(), candidate: candidate, err: err}
		}(d)
	}

	var result CycleResult
	received := 0
collect:
	for received < len(o.detectors) {
		select {
		case <-ctx.Done():
			result.PartialCycle = true
			log.Printf("[Orchestrator] Cycle deadline exceeded with %d/%d detectors reported", received, len(o.detectors))
			break collect
		case outcome := <-results:
			received++
			if outcome.err != nil {
				// Detector failures count as no anomaly.
				log.Printf("[Orchestrator] Detector %s failed: %v", outcome.kind, outcome.err)
				continue
			}
			if outcome.candidate == nil {
				continue
			}
			result.Detected++
			o.gateAndPersist(ctx, policy, *outcome.candidate, &result)
		}
	}

	log.Printf("[Orchestrator] Cycle complete: detected=%d gated=%d created=%d partial=%v",
		result.Detected, result.Gated, result.Created, result.PartialCycle)
	return result, nil
}

func (o *Orchestrator) gateAndPersist(ctx context.Context, policy GatingPolicy, candidate models.AnomalyCandidate, result *CycleResult) {
	if reason := o.gate(ctx, policy, candidate); reason != "" {
		result.Gated++
		log.Printf("[Orchestrator] Gated %s (%s, confidence %d): %s",
			candidate.Kind, candidate.Priority, candidate.Confidence, reason)
		return
	}

	created, err := o.store.Create(ctx, recommend.CreateInput{
		Kind:        candidate.Kind,
		Priority:    candidate.Priority,
		Confidence:  candidate.Confidence,
		TargetRoles: KindTargetRoles(candidate.Kind),
		Payload:     candidate.Payload,
	})
	if err != nil {
		log.Printf("[Orchestrator] Failed to persist %s recommendation: %v", candidate.Kind, err)
		return
	}

	result.Created++
	result.Entries = append(result.Entries, CycleEntry{
		ID:         created.ID,
		Kind:       created.Kind,
		Priority:   created.Priority,
		Confidence: created.Confidence,
	})

	audit.Emit(o.auditor, audit.Event{
		Action:     "recommendation.created",
		Actor:      "engine",
		Target:     created.ID,
		EntityType: "recommendation",
		Details: map[string]any{
			"kind":       string(created.Kind),
			"priority":   string(created.Priority),
			"confidence": created.Confidence,
		},
	})
}

// gate returns a rejection reason or "" when the candidate survives.
// Checks run in order: confidence floor, priority floor, dedup window.
func (o *Orchestrator) gate(ctx context.Context, policy GatingPolicy, candidate models.AnomalyCandidate) string {
	if candidate.Confidence < policy.MinConfidenceScore {
		return fmt.Sprintf("confidence %d below floor %d", candidate.Confidence, policy.MinConfidenceScore)
	}
	if policy.CriticalPriorityRequired && candidate.Priority != models.PriorityCritical {
		return fmt.Sprintf("priority %s below critical floor", candidate.Priority)
	}
	if policy.DedupWindowMinutes > 0 {
		window := time.Duration(policy.DedupWindowMinutes) * time.Minute
		recent, err := o.store.HasRecent(ctx, candidate.Kind, window)
		if err != nil {
			// Store errors propagate as a gate: better to drop one
			// candidate than double-alert.
			return fmt.Sprintf("dedup check failed: %v", err)
		}
		if recent {
			return fmt.Sprintf("duplicate within %d minute window", policy.DedupWindowMinutes)
		}
	}
	return ""
}
