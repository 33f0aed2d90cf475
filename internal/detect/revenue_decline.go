package detect

import (
	"context"
	"fmt"
	"math"

	"github.com/warungkas/finops-engine/internal/clock"
	"github.com/warungkas/finops-engine/pkg/models"
	"github.com/warungkas/finops-engine/pkg/money"
)

// Revenue Decline (weekly)
//
// Compares approved income over the last 7 days (today included)
// against the 7 days before that window. Zero previous-week revenue
// never triggers.

type RevenueDeclineDetector struct {
	ledger LedgerReader
	clock  clock.Clock
	cfg    DetectorConfig
}

func NewRevenueDeclineDetector(ledger LedgerReader, clk clock.Clock, cfg DetectorConfig) *RevenueDeclineDetector {
	return &RevenueDeclineDetector{ledger: ledger, clock: clk, cfg: cfg}
}

func (d *RevenueDeclineDetector) Kind() models.AnomalyKind { return models.AnomalyRevenueDecline }

func (d *RevenueDeclineDetector) Detect(ctx context.Context) (*models.AnomalyCandidate, error) {
	now := d.clock.Now()

	thisFrom := clock.StartOfDay(d.clock, now.AddDate(0, 0, -6))
	thisTo := clock.EndOfDay(d.clock, now)
	prevFrom := clock.StartOfDay(d.clock, now.AddDate(0, 0, -13))
	prevTo := clock.EndOfDay(d.clock, now.AddDate(0, 0, -7))

	thisWeek, err := d.ledger.SumOver(ctx, models.KindIncome, thisFrom, thisTo, "")
	if err != nil {
		return nil, err
	}
	prevWeek, err := d.ledger.SumOver(ctx, models.KindIncome, prevFrom, prevTo, "")
	if err != nil {
		return nil, err
	}
	if prevWeek.IsZero() {
		return nil, nil
	}

	variance := money.PercentChange(thisWeek, prevWeek)
	if variance >= -d.cfg.RevenueDeclineThresholdPct {
		return nil, nil
	}

	// Sample adequacy over the full 14-day comparison window.
	buckets, err := d.ledger.DayBucketsForRange(ctx, now.AddDate(0, 0, -13), now, "")
	if err != nil {
		return nil, err
	}

	confidence := Score(ScoreInput{
		Current:            thisWeek,
		Baseline:           prevWeek,
		SampleSize:         sampledDays(buckets),
		ExpectedSampleSize: 14,
		DataAgeHours:       dataAgeHours(d.clock, buckets),
		Prior:              d.cfg.Prior,
	})

	return &models.AnomalyCandidate{
		Kind:       models.AnomalyRevenueDecline,
		Priority:   ladderPriority(math.Abs(variance), d.cfg.RevenueDeclineThresholdPct),
		Confidence: confidence,
		Payload: models.Payload{
			Title: "Revenue decline detected",
			Message: fmt.Sprintf("Revenue this week is %s, %.2f%% below last week's %s.",
				thisWeek, math.Abs(variance), prevWeek),
			Evidence: models.Evidence{
				Current:      thisWeek,
				Baseline:     prevWeek,
				VariancePct:  variance,
				ThresholdPct: d.cfg.RevenueDeclineThresholdPct,
			},
			SuggestedActions: ActionsFor(models.AnomalyRevenueDecline),
		},
	}, nil
}
