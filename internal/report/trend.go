package report

import (
	"context"
	"math"
	"time"

	"github.com/warungkas/finops-engine/internal/clock"
	"github.com/warungkas/finops-engine/pkg/models"
	"github.com/warungkas/finops-engine/pkg/money"
)

// Trend analysis.
//
// 90-day trend statistics over daily buckets, a 13-week grouping, and
// the sparkline dashboards render inline. All aggregation stays on
// Money; floats appear only in the final percentages and volatility.

// Ledger is the slice of the ledger service the reporting layer reads.
type Ledger interface {
	DayBucketsForRange(ctx context.Context, from, to time.Time, ownerID string) ([]models.DailyBucket, error)
	SumOver(ctx context.Context, kind models.TransactionKind, from, to time.Time, ownerID string) (money.Money, error)
	ApprovedInRange(ctx context.Context, from, to time.Time, ownerID string) ([]models.Transaction, error)
}

const (
	trendWindowDays    = 90
	sparklineMaxPoints = 50
)

type TrendReport struct {
	From time.Time `json:"from"`
	To   time.Time `json:"to"`

	TotalIncome  money.Money `json:"totalIncome"`
	TotalExpense money.Money `json:"totalExpense"`
	TotalNet     money.Money `json:"totalNet"`

	AvgDailyIncome  money.Money `json:"avgDailyIncome"`
	AvgDailyExpense money.Money `json:"avgDailyExpense"`

	IncomeGrowthPct  float64 `json:"incomeGrowthPct"`
	ExpenseGrowthPct float64 `json:"expenseGrowthPct"`
	MarginTrendPct   float64 `json:"marginTrendPct"`

	IncomeVolatility  float64 `json:"incomeVolatility"`
	ExpenseVolatility float64 `json:"expenseVolatility"`
	NetVolatility     float64 `json:"netVolatility"`

	Sparkline string `json:"sparkline"`

	PeakDay   models.DailyBucket `json:"peakDay"`
	LowestDay models.DailyBucket `json:"lowestDay"`
}

type WeeklyGroup struct {
	From         time.Time   `json:"from"`
	To           time.Time   `json:"to"`
	TotalIncome  money.Money `json:"totalIncome"`
	TotalExpense money.Money `json:"totalExpense"`
	NetCashflow  money.Money `json:"netCashflow"`
	Transactions int         `json:"transactions"`
}

type Analyzer struct {
	ledger Ledger
	clock  clock.Clock
}

func NewAnalyzer(ledger Ledger, clk clock.Clock) *Analyzer {
	return &Analyzer{ledger: ledger, clock: clk}
}

// Trend builds the 90-day trend report ending at endDate inclusive.
func (a *Analyzer) Trend(ctx context.Context, endDate time.Time) (TrendReport, error) {
	from := endDate.AddDate(0, 0, -(trendWindowDays - 1))
	buckets, err := a.ledger.DayBucketsForRange(ctx, from, endDate, "")
	if err != nil {
		return TrendReport{}, err
	}
	return buildTrend(buckets), nil
}

// WeeklyTrend groups the last 13 full weeks (most recent first is NOT
// applied; groups run oldest to newest) ending at endDate.
func (a *Analyzer) WeeklyTrend(ctx context.Context, endDate time.Time) ([]WeeklyGroup, error) {
	const weeks = 13
	from := endDate.AddDate(0, 0, -(weeks*7 - 1))
	buckets, err := a.ledger.DayBucketsForRange(ctx, from, endDate, "")
	if err != nil {
		return nil, err
	}

	groups := make([]WeeklyGroup, 0, weeks)
	for i := 0; i+7 <= len(buckets); i += 7 {
		week := buckets[i : i+7]
		g := WeeklyGroup{
			From:         week[0].Date,
			To:           week[6].Date,
			TotalIncome:  money.Zero,
			TotalExpense: money.Zero,
			NetCashflow:  money.Zero,
		}
		for _, b := range week {
			g.TotalIncome = g.TotalIncome.Add(b.TotalIncome)
			g.TotalExpense = g.TotalExpense.Add(b.TotalExpense)
			g.NetCashflow = g.NetCashflow.Add(b.NetCashflow)
			g.Transactions += b.TransactionCount
		}
		groups = append(groups, g)
	}
	return groups, nil
}

func buildTrend(buckets []models.DailyBucket) TrendReport {
	report := TrendReport{
		TotalIncome:  money.Zero,
		TotalExpense: money.Zero,
		TotalNet:     money.Zero,
	}
	if len(buckets) == 0 {
		return report
	}
	report.From = buckets[0].Date
	report.To = buckets[len(buckets)-1].Date

	var incomeSeries, expenseSeries, netSeries []float64
	for _, b := range buckets {
		report.TotalIncome = report.TotalIncome.Add(b.TotalIncome)
		report.TotalExpense = report.TotalExpense.Add(b.TotalExpense)
		report.TotalNet = report.TotalNet.Add(b.NetCashflow)
		incomeSeries = append(incomeSeries, b.TotalIncome.Float64())
		expenseSeries = append(expenseSeries, b.TotalExpense.Float64())
		netSeries = append(netSeries, b.NetCashflow.Float64())
	}

	days := int64(len(buckets))
	report.AvgDailyIncome = report.TotalIncome.DivInt(days)
	report.AvgDailyExpense = report.TotalExpense.DivInt(days)

	// Growth: first-week sum vs last-week sum.
	if len(buckets) >= 14 {
		firstWeek, lastWeek := buckets[:7], buckets[len(buckets)-7:]
		fwIncome, fwExpense, fwNet := weekSums(firstWeek)
		lwIncome, lwExpense, lwNet := weekSums(lastWeek)

		report.IncomeGrowthPct = money.PercentChange(lwIncome, fwIncome)
		report.ExpenseGrowthPct = money.PercentChange(lwExpense, fwExpense)
		report.MarginTrendPct = money.RoundPercent(marginPct(lwNet, lwIncome) - marginPct(fwNet, fwIncome))
	}

	report.IncomeVolatility = populationStdDev(incomeSeries)
	report.ExpenseVolatility = populationStdDev(expenseSeries)
	report.NetVolatility = populationStdDev(netSeries)

	report.Sparkline = Sparkline(netSeries)

	peak, lowest := buckets[0], buckets[0]
	for _, b := range buckets[1:] {
		// Ties break toward the later date.
		if b.NetCashflow.Cmp(peak.NetCashflow) >= 0 {
			peak = b
		}
		if b.NetCashflow.Cmp(lowest.NetCashflow) <= 0 {
			lowest = b
		}
	}
	report.PeakDay = peak
	report.LowestDay = lowest
	return report
}

func weekSums(buckets []models.DailyBucket) (income, expense, net money.Money) {
	income, expense, net = money.Zero, money.Zero, money.Zero
	for _, b := range buckets {
		income = income.Add(b.TotalIncome)
		expense = expense.Add(b.TotalExpense)
		net = net.Add(b.NetCashflow)
	}
	return income, expense, net
}

// marginPct is net/income as a percent, 0 when income is zero.
func marginPct(net, income money.Money) float64 {
	ratio, ok := money.Ratio(net, income)
	if !ok {
		return 0
	}
	return ratio * 100
}

func populationStdDev(series []float64) float64 {
	n := float64(len(series))
	if n == 0 {
		return 0
	}
	mean := 0.0
	for _, v := range series {
		mean += v
	}
	mean /= n

	variance := 0.0
	for _, v := range series {
		d := v - mean
		variance += d * d
	}
	return math.Sqrt(variance / n)
}

var sparkGlyphs = []rune{'▁', '▂', '▃', '▄', '▅', '▆', '▇', '█'}

// Sparkline renders the series as at most 50 block glyphs by min-max
// normalization. A flat series maps every point to the mid-level glyph.
func Sparkline(series []float64) string {
	if len(series) == 0 {
		return ""
	}

	// Sample down to the point budget, keeping temporal order.
	sampled := series
	if len(series) > sparklineMaxPoints {
		sampled = make([]float64, sparklineMaxPoints)
		step := float64(len(series)-1) / float64(sparklineMaxPoints-1)
		for i := range sampled {
			sampled[i] = series[int(math.Round(float64(i)*step))]
		}
	}

	min, max := sampled[0], sampled[0]
	for _, v := range sampled {
		if v < min {
			min = v
		}
		if v > max {
			max = v
		}
	}

	out := make([]rune, len(sampled))
	if max == min {
		for i := range out {
			out[i] = sparkGlyphs[len(sparkGlyphs)/2]
		}
		return string(out)
	}

	span := max - min
	for i, v := range sampled {
		idx := int((v - min) / span * float64(len(sparkGlyphs)-1))
		if idx < 0 {
			idx = 0
		}
		if idx >= len(sparkGlyphs) {
			idx = len(sparkGlyphs) - 1
		}
		out[i] = sparkGlyphs[idx]
	}
	return string(out)
}
