package report

import (
	"context"
	"sort"
	"time"

	"github.com/warungkas/finops-engine/internal/clock"
	"github.com/warungkas/finops-engine/pkg/models"
	"github.com/warungkas/finops-engine/pkg/money"
)

// Public query surface.
//
// Role-scoped aggregation used by dashboards. Scoping rules:
//
//	employee   only own transactions; ownerId forced to the caller
//	investor   aggregates only; no individual transactions anywhere
//	boss, dev  full visibility in the requested range
//
// Only approved transactions are read.

const topTransactionLimit = 5

type ReportRequest struct {
	Role     models.Role
	CallerID string
	From     time.Time
	To       time.Time

	// OwnerID narrows to one owner. Ignored for employees, whose
	// ownerId is always the caller.
	OwnerID string

	// Optional monthly targets enable the vsMonthlyTarget trend.
	RevenueTarget money.Money
	ExpenseTarget money.Money
}

type Summary struct {
	TotalIncome      money.Money `json:"totalIncome"`
	TotalExpense     money.Money `json:"totalExpense"`
	NetCashflow      money.Money `json:"netCashflow"`
	TransactionCount int         `json:"transactionCount"`
	AvgTransaction   money.Money `json:"avgTransaction"`
}

type CategorySlice struct {
	Category   string                 `json:"category"`
	Kind       models.TransactionKind `json:"kind"`
	Sum        money.Money            `json:"sum"`
	Count      int                    `json:"count"`
	Percentage float64                `json:"percentage"`
}

type TrendSnapshot struct {
	VsYesterdayPct     float64  `json:"vsYesterdayPct"`
	Vs7DayAvgPct       float64  `json:"vs7DayAvgPct"`
	VsMonthlyTargetPct *float64 `json:"vsMonthlyTargetPct,omitempty"`
}

type RoleReport struct {
	Role              models.Role          `json:"role"`
	From              time.Time            `json:"from"`
	To                time.Time            `json:"to"`
	Summary           Summary              `json:"summary"`
	CategoryBreakdown []CategorySlice      `json:"categoryBreakdown"`
	TopTransactions   []models.Transaction `json:"topTransactions"`
	Trends            TrendSnapshot        `json:"trends"`
}

// RoleScopedReport builds the dashboard report for a role and range.
func (a *Analyzer) RoleScopedReport(ctx context.Context, req ReportRequest) (RoleReport, error) {
	ownerID := req.OwnerID
	if req.Role == models.RoleEmployee {
		ownerID = req.CallerID
	}

	from := clock.StartOfDay(a.clock, req.From)
	to := clock.EndOfDay(a.clock, req.To)
	txs, err := a.ledger.ApprovedInRange(ctx, from, to, ownerID)
	if err != nil {
		return RoleReport{}, err
	}

	out := RoleReport{
		Role:            req.Role,
		From:            req.From,
		To:              req.To,
		TopTransactions: []models.Transaction{},
	}
	out.Summary = summarize(txs)
	out.CategoryBreakdown = categoryBreakdown(txs)

	if req.Role != models.RoleInvestor {
		out.TopTransactions = topByAmount(txs, topTransactionLimit)
	}

	trends, err := a.trendSnapshot(ctx, ownerID, req)
	if err != nil {
		return RoleReport{}, err
	}
	out.Trends = trends
	return out, nil
}

func summarize(txs []models.Transaction) Summary {
	s := Summary{
		TotalIncome:    money.Zero,
		TotalExpense:   money.Zero,
		NetCashflow:    money.Zero,
		AvgTransaction: money.Zero,
	}
	for _, tx := range txs {
		switch tx.Kind {
		case models.KindIncome:
			s.TotalIncome = s.TotalIncome.Add(tx.Amount)
		case models.KindExpense:
			s.TotalExpense = s.TotalExpense.Add(tx.Amount)
		}
		s.TransactionCount++
	}
	s.NetCashflow = s.TotalIncome.Sub(s.TotalExpense)
	if s.TransactionCount > 0 {
		s.AvgTransaction = s.TotalIncome.Add(s.TotalExpense).DivInt(int64(s.TransactionCount))
	}
	return s
}

func categoryBreakdown(txs []models.Transaction) []CategorySlice {
	type key struct {
		category string
		kind     models.TransactionKind
	}
	agg := make(map[key]*CategorySlice)
	grandTotal := money.Zero
	for _, tx := range txs {
		k := key{tx.Category, tx.Kind}
		slice, ok := agg[k]
		if !ok {
			slice = &CategorySlice{Category: tx.Category, Kind: tx.Kind, Sum: money.Zero}
			agg[k] = slice
		}
		slice.Sum = slice.Sum.Add(tx.Amount)
		slice.Count++
		grandTotal = grandTotal.Add(tx.Amount)
	}

	out := make([]CategorySlice, 0, len(agg))
	for _, slice := range agg {
		ratio, ok := money.Ratio(slice.Sum, grandTotal)
		if ok {
			slice.Percentage = money.RoundPercent(ratio * 100)
		}
		out = append(out, *slice)
	}
	sort.Slice(out, func(i, j int) bool {
		if c := out[i].Sum.Cmp(out[j].Sum); c != 0 {
			return c > 0
		}
		return out[i].Category < out[j].Category
	})
	return out
}

func topByAmount(txs []models.Transaction, limit int) []models.Transaction {
	sorted := append([]models.Transaction(nil), txs...)
	sort.Slice(sorted, func(i, j int) bool {
		if c := sorted[i].Amount.Cmp(sorted[j].Amount); c != 0 {
			return c > 0
		}
		return sorted[i].OccurredAt.After(sorted[j].OccurredAt)
	})
	if len(sorted) > limit {
		sorted = sorted[:limit]
	}
	return sorted
}

func (a *Analyzer) trendSnapshot(ctx context.Context, ownerID string, req ReportRequest) (TrendSnapshot, error) {
	now := a.clock.Now()
	buckets, err := a.ledger.DayBucketsForRange(ctx, now.AddDate(0, 0, -7), now, ownerID)
	if err != nil {
		return TrendSnapshot{}, err
	}
	if len(buckets) < 2 {
		return TrendSnapshot{}, nil
	}

	today := buckets[len(buckets)-1]
	yesterday := buckets[len(buckets)-2]
	prior := buckets[:len(buckets)-1]

	avgNet := money.Zero
	for _, b := range prior {
		avgNet = avgNet.Add(b.NetCashflow)
	}
	avgNet = avgNet.DivInt(int64(len(prior)))

	snapshot := TrendSnapshot{
		VsYesterdayPct: money.PercentChange(today.NetCashflow, yesterday.NetCashflow),
		Vs7DayAvgPct:   money.PercentChange(today.NetCashflow, avgNet),
	}

	if !req.RevenueTarget.IsZero() {
		monthStart, elapsed, total := clock.MonthSpan(a.clock, now)
		actual, err := a.ledger.SumOver(ctx, models.KindIncome,
			clock.StartOfDay(a.clock, monthStart), clock.EndOfDay(a.clock, now), ownerID)
		if err != nil {
			return TrendSnapshot{}, err
		}
		prorated := req.RevenueTarget.MulFrac(int64(elapsed), int64(total))
		pct := money.PercentChange(actual, prorated)
		snapshot.VsMonthlyTargetPct = &pct
	}
	return snapshot, nil
}
