package report

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/warungkas/finops-engine/internal/clock"
	"github.com/warungkas/finops-engine/pkg/models"
	"github.com/warungkas/finops-engine/pkg/money"
)

// Period and target comparison.
//
// Month vs previous month, and month-to-date vs explicit targets. A
// metric delta is "significant" beyond ±15%. The overall verdict is
// driven primarily by the net-cashflow movement.

const significanceThresholdPct = 15

type MetricDelta struct {
	Current     money.Money `json:"current"`
	Previous    money.Money `json:"previous"`
	Absolute    money.Money `json:"absolute"`
	Percent     float64     `json:"percent"`
	Significant bool        `json:"significant"`
}

type CountDelta struct {
	Current     int     `json:"current"`
	Previous    int     `json:"previous"`
	Absolute    int     `json:"absolute"`
	Percent     float64 `json:"percent"`
	Significant bool    `json:"significant"`
}

type Verdict string

const (
	VerdictImproving Verdict = "improving"
	VerdictStable    Verdict = "stable"
	VerdictDeclining Verdict = "declining"
)

type PeriodTotals struct {
	From             time.Time   `json:"from"`
	To               time.Time   `json:"to"`
	Income           money.Money `json:"income"`
	Expense          money.Money `json:"expense"`
	NetCashflow      money.Money `json:"netCashflow"`
	TransactionCount int         `json:"transactionCount"`
}

type PeriodComparison struct {
	Current  PeriodTotals `json:"current"`
	Previous PeriodTotals `json:"previous"`

	Income           MetricDelta `json:"income"`
	Expense          MetricDelta `json:"expense"`
	NetCashflow      MetricDelta `json:"netCashflow"`
	TransactionCount CountDelta  `json:"transactionCount"`

	Trend    Verdict  `json:"trend"`
	Analysis Analysis `json:"analysis"`
}

type Analysis struct {
	Summary    string   `json:"summary"`
	Highlights []string `json:"highlights"`
}

// CompareMonths compares the month containing ref against the month
// before it.
func (a *Analyzer) CompareMonths(ctx context.Context, ref time.Time) (PeriodComparison, error) {
	loc := a.clock.Location()
	local := ref.In(loc)
	currentStart := time.Date(local.Year(), local.Month(), 1, 0, 0, 0, 0, loc)
	previousStart := currentStart.AddDate(0, -1, 0)

	current, err := a.periodTotals(ctx, currentStart, currentStart.AddDate(0, 1, -1))
	if err != nil {
		return PeriodComparison{}, err
	}
	previous, err := a.periodTotals(ctx, previousStart, currentStart.AddDate(0, 0, -1))
	if err != nil {
		return PeriodComparison{}, err
	}
	return ComparePeriods(current, previous), nil
}

func (a *Analyzer) periodTotals(ctx context.Context, from, to time.Time) (PeriodTotals, error) {
	start := clock.StartOfDay(a.clock, from)
	end := clock.EndOfDay(a.clock, to)

	txs, err := a.ledger.ApprovedInRange(ctx, start, end, "")
	if err != nil {
		return PeriodTotals{}, err
	}

	totals := PeriodTotals{
		From:    from,
		To:      to,
		Income:  money.Zero,
		Expense: money.Zero,
	}
	for _, tx := range txs {
		switch tx.Kind {
		case models.KindIncome:
			totals.Income = totals.Income.Add(tx.Amount)
		case models.KindExpense:
			totals.Expense = totals.Expense.Add(tx.Amount)
		}
		totals.TransactionCount++
	}
	totals.NetCashflow = totals.Income.Sub(totals.Expense)
	return totals, nil
}

// ComparePeriods is the pure core so the symmetry law is testable
// without a ledger.
func ComparePeriods(current, previous PeriodTotals) PeriodComparison {
	cmp := PeriodComparison{
		Current:          current,
		Previous:         previous,
		Income:           metricDelta(current.Income, previous.Income),
		Expense:          metricDelta(current.Expense, previous.Expense),
		NetCashflow:      metricDelta(current.NetCashflow, previous.NetCashflow),
		TransactionCount: countDelta(current.TransactionCount, previous.TransactionCount),
	}
	cmp.Trend = overallVerdict(cmp.NetCashflow)
	cmp.Analysis = buildAnalysis(cmp)
	return cmp
}

func metricDelta(current, previous money.Money) MetricDelta {
	pct := money.PercentChange(current, previous)
	return MetricDelta{
		Current:     current,
		Previous:    previous,
		Absolute:    current.Sub(previous),
		Percent:     pct,
		Significant: math.Abs(pct) > significanceThresholdPct,
	}
}

func countDelta(current, previous int) CountDelta {
	pct := money.PercentChange(money.FromInt(int64(current)), money.FromInt(int64(previous)))
	return CountDelta{
		Current:     current,
		Previous:    previous,
		Absolute:    current - previous,
		Percent:     pct,
		Significant: math.Abs(pct) > significanceThresholdPct,
	}
}

// overallVerdict keys off net cashflow: a significant move decides the
// direction, anything else is stable.
func overallVerdict(net MetricDelta) Verdict {
	if !net.Significant {
		return VerdictStable
	}
	if net.Percent > 0 {
		return VerdictImproving
	}
	return VerdictDeclining
}

func buildAnalysis(cmp PeriodComparison) Analysis {
	analysis := Analysis{
		Summary: fmt.Sprintf("Net cashflow moved %.2f%% month over month (%s → %s); overall trend: %s.",
			cmp.NetCashflow.Percent, cmp.Previous.NetCashflow, cmp.Current.NetCashflow, cmp.Trend),
	}
	if cmp.Income.Significant {
		analysis.Highlights = append(analysis.Highlights,
			fmt.Sprintf("Income changed %.2f%% (%s → %s)", cmp.Income.Percent, cmp.Previous.Income, cmp.Current.Income))
	}
	if cmp.Expense.Significant {
		analysis.Highlights = append(analysis.Highlights,
			fmt.Sprintf("Expenses changed %.2f%% (%s → %s)", cmp.Expense.Percent, cmp.Previous.Expense, cmp.Current.Expense))
	}
	if cmp.TransactionCount.Significant {
		analysis.Highlights = append(analysis.Highlights,
			fmt.Sprintf("Transaction volume changed %.2f%% (%d → %d)",
				cmp.TransactionCount.Percent, cmp.TransactionCount.Previous, cmp.TransactionCount.Current))
	}
	return analysis
}

// ─── Target comparison ───────────────────────────────────────────────

type TargetStatus string

const (
	StatusAbove   TargetStatus = "above"
	StatusOnTrack TargetStatus = "on-track"
	StatusBelow   TargetStatus = "below"
)

type TargetMetric struct {
	Actual      money.Money  `json:"actual"`
	Target      money.Money  `json:"target"`
	VariancePct float64      `json:"variancePct"`
	Status      TargetStatus `json:"status"`
}

type TargetComparison struct {
	Revenue         TargetMetric `json:"revenue"`
	Expense         TargetMetric `json:"expense"`
	Recommendations []string     `json:"recommendations"`
}

// CompareTargets evaluates month-to-date actuals against full-month
// targets prorated by elapsed days.
func (a *Analyzer) CompareTargets(ctx context.Context, revenueTarget, expenseTarget money.Money) (TargetComparison, error) {
	now := a.clock.Now()
	monthStart, elapsed, total := clock.MonthSpan(a.clock, now)
	from := clock.StartOfDay(a.clock, monthStart)
	to := clock.EndOfDay(a.clock, now)

	actualRevenue, err := a.ledger.SumOver(ctx, models.KindIncome, from, to, "")
	if err != nil {
		return TargetComparison{}, err
	}
	actualExpense, err := a.ledger.SumOver(ctx, models.KindExpense, from, to, "")
	if err != nil {
		return TargetComparison{}, err
	}

	proratedRevenue := revenueTarget.MulFrac(int64(elapsed), int64(total))
	proratedExpense := expenseTarget.MulFrac(int64(elapsed), int64(total))

	return BuildTargetComparison(actualRevenue, proratedRevenue, actualExpense, proratedExpense), nil
}

// BuildTargetComparison is the pure core. For revenue higher is better;
// for expense lower is better, so a negative expense variance reads as
// "above" target.
func BuildTargetComparison(actualRevenue, revenueTarget, actualExpense, expenseTarget money.Money) TargetComparison {
	revenueVar := money.PercentChange(actualRevenue, revenueTarget)
	expenseVar := money.PercentChange(actualExpense, expenseTarget)

	cmp := TargetComparison{
		Revenue: TargetMetric{
			Actual:      actualRevenue,
			Target:      revenueTarget,
			VariancePct: revenueVar,
			Status:      statusFor(revenueVar, false),
		},
		Expense: TargetMetric{
			Actual:      actualExpense,
			Target:      expenseTarget,
			VariancePct: expenseVar,
			Status:      statusFor(expenseVar, true),
		},
	}

	if cmp.Revenue.Status == StatusBelow {
		cmp.Recommendations = append(cmp.Recommendations,
			fmt.Sprintf("Revenue is %.2f%% behind target; review sales activity", math.Abs(revenueVar)))
	}
	if cmp.Expense.Status == StatusBelow {
		cmp.Recommendations = append(cmp.Recommendations,
			fmt.Sprintf("Expenses are %.2f%% over target; review discretionary spending", expenseVar))
	}
	if cmp.Revenue.Status == StatusAbove && cmp.Expense.Status != StatusBelow {
		cmp.Recommendations = append(cmp.Recommendations,
			"Performance is ahead of plan; consider raising next month's targets")
	}
	if len(cmp.Recommendations) == 0 {
		cmp.Recommendations = append(cmp.Recommendations, "On track; keep the current pace")
	}
	return cmp
}

// statusFor classifies a variance. lowerIsBetter inverts the sign
// convention (expenses).
func statusFor(variancePct float64, lowerIsBetter bool) TargetStatus {
	if lowerIsBetter {
		variancePct = -variancePct
	}
	switch {
	case variancePct > 5:
		return StatusAbove
	case variancePct < -5:
		return StatusBelow
	default:
		return StatusOnTrack
	}
}
