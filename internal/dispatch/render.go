package dispatch

import (
	"fmt"
	"strings"

	"github.com/warungkas/finops-engine/internal/detect"
	"github.com/warungkas/finops-engine/pkg/models"
)

// Message rendering.
//
// Produces the UTF-8 text body the Notifier sends. Section order is
// stable: title line (priority glyph + title), message paragraph,
// optional Data block, numbered recommendations, optional Action
// Required line, Priority line, Confidence line, reply-handle footer.

func priorityGlyph(p models.Priority) string {
	switch p {
	case models.PriorityCritical:
		return "🚨"
	case models.PriorityHigh:
		return "⚠️"
	case models.PriorityMedium:
		return "📊"
	default:
		return "ℹ️"
	}
}

// RenderMessage builds the outbound body for a recommendation.
func RenderMessage(rec models.Recommendation) string {
	var b strings.Builder

	fmt.Fprintf(&b, "%s %s\n\n", priorityGlyph(rec.Priority), rec.Payload.Title)
	if rec.Payload.Message != "" {
		fmt.Fprintf(&b, "%s\n\n", rec.Payload.Message)
	}

	ev := rec.Payload.Evidence
	if !ev.Current.IsZero() || !ev.Baseline.IsZero() {
		b.WriteString("Data:\n")
		fmt.Fprintf(&b, "  Current:   %s\n", ev.Current)
		fmt.Fprintf(&b, "  Baseline:  %s\n", ev.Baseline)
		fmt.Fprintf(&b, "  Variance:  %.2f%%\n", ev.VariancePct)
		fmt.Fprintf(&b, "  Threshold: %.2f%%\n", ev.ThresholdPct)
		b.WriteString("\n")
	}

	if len(rec.Payload.SuggestedActions) > 0 {
		b.WriteString("Recommendations:\n")
		for i, action := range rec.Payload.SuggestedActions {
			fmt.Fprintf(&b, "%d. %s\n", i+1, action)
		}
		b.WriteString("\n")
	}

	if rec.Payload.ActionRequired != "" {
		fmt.Fprintf(&b, "Action Required: %s\n", rec.Payload.ActionRequired)
	}

	fmt.Fprintf(&b, "Priority: %s\n", rec.Priority)
	fmt.Fprintf(&b, "Confidence: %d%% (%s)\n", rec.Confidence, detect.ConfidenceBand(rec.Confidence))
	fmt.Fprintf(&b, "\nReply: detail %s | dismiss %s", rec.ShortID(), rec.ShortID())

	return b.String()
}
