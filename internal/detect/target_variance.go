package detect

import (
	"context"
	"fmt"
	"math"

	"github.com/warungkas/finops-engine/internal/clock"
	"github.com/warungkas/finops-engine/pkg/models"
	"github.com/warungkas/finops-engine/pkg/money"
)

// Monthly Target Variance
//
// Compares month-to-date actuals against targets prorated by how much
// of the month has elapsed. Not part of the automatic detector set:
// targets are per-tenant and the orchestrator only runs this when both
// are provided.

type TargetVarianceDetector struct {
	ledger        LedgerReader
	clock         clock.Clock
	cfg           DetectorConfig
	revenueTarget money.Money
	expenseTarget money.Money
}

func NewTargetVarianceDetector(ledger LedgerReader, clk clock.Clock, cfg DetectorConfig, revenueTarget, expenseTarget money.Money) *TargetVarianceDetector {
	return &TargetVarianceDetector{
		ledger:        ledger,
		clock:         clk,
		cfg:           cfg,
		revenueTarget: revenueTarget,
		expenseTarget: expenseTarget,
	}
}

func (d *TargetVarianceDetector) Kind() models.AnomalyKind { return models.AnomalyTargetVariance }

func (d *TargetVarianceDetector) Detect(ctx context.Context) (*models.AnomalyCandidate, error) {
	if d.revenueTarget.IsZero() || d.expenseTarget.IsZero() {
		return nil, nil
	}

	now := d.clock.Now()
	monthStart, elapsed, total := clock.MonthSpan(d.clock, now)
	from := clock.StartOfDay(d.clock, monthStart)
	to := clock.EndOfDay(d.clock, now)

	actualRevenue, err := d.ledger.SumOver(ctx, models.KindIncome, from, to, "")
	if err != nil {
		return nil, err
	}
	actualExpense, err := d.ledger.SumOver(ctx, models.KindExpense, from, to, "")
	if err != nil {
		return nil, err
	}

	proratedRevenue := d.revenueTarget.MulFrac(int64(elapsed), int64(total))
	proratedExpense := d.expenseTarget.MulFrac(int64(elapsed), int64(total))

	revenueVar := money.PercentChange(actualRevenue, proratedRevenue)
	expenseVar := money.PercentChange(actualExpense, proratedExpense)

	threshold := d.cfg.TargetVarianceThresholdPct
	revenueBreach := revenueVar < -threshold
	expenseBreach := expenseVar > threshold
	if !revenueBreach && !expenseBreach {
		return nil, nil
	}

	// The primary metric drives priority: the breaching side with the
	// larger absolute variance.
	primary := revenueVar
	current, baseline := actualRevenue, proratedRevenue
	headline := fmt.Sprintf("Revenue is %.2f%% behind the prorated target", math.Abs(revenueVar))
	if expenseBreach && (!revenueBreach || math.Abs(expenseVar) > math.Abs(revenueVar)) {
		primary = expenseVar
		current, baseline = actualExpense, proratedExpense
		headline = fmt.Sprintf("Expenses are %.2f%% over the prorated target", math.Abs(expenseVar))
	}

	var priority models.Priority
	switch {
	case math.Abs(primary) > 40:
		priority = models.PriorityCritical
	case math.Abs(primary) > 30:
		priority = models.PriorityHigh
	default:
		priority = models.PriorityMedium
	}

	confidence := Score(ScoreInput{
		Current:            current,
		Baseline:           baseline,
		SampleSize:         elapsed,
		ExpectedSampleSize: total,
		DataAgeHours:       0,
		Prior:              d.cfg.Prior,
	})

	return &models.AnomalyCandidate{
		Kind:       models.AnomalyTargetVariance,
		Priority:   priority,
		Confidence: confidence,
		Payload: models.Payload{
			Title:   "Monthly target variance",
			Message: fmt.Sprintf("%s with %d of %d days elapsed.", headline, elapsed, total),
			Evidence: models.Evidence{
				Current:      current,
				Baseline:     baseline,
				VariancePct:  primary,
				ThresholdPct: threshold,
			},
			SuggestedActions: ActionsFor(models.AnomalyTargetVariance),
			RelatedData: map[string]string{
				"revenueVariancePct": fmt.Sprintf("%.2f", revenueVar),
				"expenseVariancePct": fmt.Sprintf("%.2f", expenseVar),
				"daysElapsed":        fmt.Sprintf("%d", elapsed),
				"daysInMonth":        fmt.Sprintf("%d", total),
			},
		},
	}, nil
}
