package detect

import (
	"math"

	"github.com/warungkas/finops-engine/pkg/money"
)

// Confidence Scorer
//
// Pure, total function turning anomaly evidence into a 0–100 score.
// Four additive terms, each clamped on its own:
//
//	signal strength    0–50   deviation from baseline (or run ratio)
//	sample adequacy    0–25   observed days vs expected window
//	data freshness     0–15   max(0, 15 − dataAgeHours)
//	detector prior     0–10   constant per detector
//
// The score is deterministic: same evidence in, same score out.

const (
	signalMax    = 50
	sampleMax    = 25
	freshnessMax = 15
	priorMax     = 10

	// DefaultPrior is the uniform detector prior. Historical precision
	// per detector is not tracked yet, so every detector starts here;
	// DetectorConfig can override per kind.
	DefaultPrior = 5

	baselineEpsilon = 0.01
)

// ScoreInput is the evidence record the scorer consumes.
type ScoreInput struct {
	Current  money.Money
	Baseline money.Money

	// SignalRatio, when positive, replaces the value-based deviation
	// ratio. The cashflow detector sets it to runLength/lookbackDays.
	SignalRatio float64

	SampleSize         int
	ExpectedSampleSize int
	DataAgeHours       float64
	Prior              int
}

// Score computes the confidence for a candidate anomaly.
func Score(in ScoreInput) int {
	total := signalTerm(in) + sampleTerm(in) + freshnessTerm(in) + priorTerm(in)
	if total > 100 {
		total = 100
	}
	if total < 0 {
		total = 0
	}
	return total
}

func signalTerm(in ScoreInput) int {
	ratio := in.SignalRatio
	if ratio <= 0 {
		base := math.Abs(in.Baseline.Float64())
		if base < baselineEpsilon {
			base = baselineEpsilon
		}
		ratio = math.Abs(in.Current.Float64()-in.Baseline.Float64()) / base
	}
	if ratio > 1 {
		ratio = 1
	}
	return int(math.Round(ratio * signalMax))
}

func sampleTerm(in ScoreInput) int {
	if in.ExpectedSampleSize <= 0 {
		return 0
	}
	adequacy := float64(in.SampleSize) / float64(in.ExpectedSampleSize)
	if adequacy > 1 {
		adequacy = 1
	}
	if adequacy < 0 {
		adequacy = 0
	}
	return int(math.Round(adequacy * sampleMax))
}

func freshnessTerm(in ScoreInput) int {
	fresh := freshnessMax - in.DataAgeHours
	if fresh < 0 {
		return 0
	}
	return int(math.Round(fresh))
}

func priorTerm(in ScoreInput) int {
	p := in.Prior
	if p < 0 {
		return 0
	}
	if p > priorMax {
		return priorMax
	}
	return p
}

// ConfidenceBand maps a score to the display band used in rendered
// messages.
func ConfidenceBand(score int) string {
	switch {
	case score >= 90:
		return "Very High"
	case score >= 80:
		return "High"
	case score >= 70:
		return "Moderate-High"
	case score >= 60:
		return "Moderate"
	default:
		return "Low"
	}
}
