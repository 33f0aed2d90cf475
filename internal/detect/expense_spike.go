package detect

import (
	"context"
	"fmt"

	"github.com/warungkas/finops-engine/internal/clock"
	"github.com/warungkas/finops-engine/pkg/models"
	"github.com/warungkas/finops-engine/pkg/money"
)

// Expense Spike (daily)
//
// Compares today's approved expense total against the mean of the
// previous 7 full days. A zero baseline never triggers: with no history
// there is nothing to spike against.

type ExpenseSpikeDetector struct {
	ledger LedgerReader
	clock  clock.Clock
	cfg    DetectorConfig
}

func NewExpenseSpikeDetector(ledger LedgerReader, clk clock.Clock, cfg DetectorConfig) *ExpenseSpikeDetector {
	return &ExpenseSpikeDetector{ledger: ledger, clock: clk, cfg: cfg}
}

func (d *ExpenseSpikeDetector) Kind() models.AnomalyKind { return models.AnomalyExpenseSpike }

func (d *ExpenseSpikeDetector) Detect(ctx context.Context) (*models.AnomalyCandidate, error) {
	now := d.clock.Now()

	// Window: 7 full days before today, plus today.
	buckets, err := d.ledger.DayBucketsForRange(ctx, now.AddDate(0, 0, -7), now, "")
	if err != nil {
		return nil, err
	}
	if len(buckets) < 2 {
		return nil, nil
	}

	today := buckets[len(buckets)-1]
	prior := buckets[:len(buckets)-1]

	sum := money.Zero
	for _, b := range prior {
		sum = sum.Add(b.TotalExpense)
	}
	avg7 := sum.DivInt(int64(len(prior)))
	if avg7.IsZero() {
		return nil, nil
	}

	variance := money.PercentChange(today.TotalExpense, avg7)
	if variance <= d.cfg.ExpenseSpikeThresholdPct {
		return nil, nil
	}

	confidence := Score(ScoreInput{
		Current:            today.TotalExpense,
		Baseline:           avg7,
		SampleSize:         sampledDays(prior),
		ExpectedSampleSize: 7,
		DataAgeHours:       dataAgeHours(d.clock, buckets),
		Prior:              d.cfg.Prior,
	})

	return &models.AnomalyCandidate{
		Kind:       models.AnomalyExpenseSpike,
		Priority:   ladderPriority(variance, d.cfg.ExpenseSpikeThresholdPct),
		Confidence: confidence,
		Payload: models.Payload{
			Title: "Expense spike detected",
			Message: fmt.Sprintf("Today's expenses are %s, %.2f%% above the 7-day average of %s.",
				today.TotalExpense, variance, avg7),
			Evidence: models.Evidence{
				Current:      today.TotalExpense,
				Baseline:     avg7,
				VariancePct:  variance,
				ThresholdPct: d.cfg.ExpenseSpikeThresholdPct,
			},
			SuggestedActions: ActionsFor(models.AnomalyExpenseSpike),
			ActionRequired:   "Verify today's expense entries before end of day",
			RelatedData: map[string]string{
				"todayTransactionCount": fmt.Sprintf("%d", today.TransactionCount),
			},
		},
	}, nil
}
