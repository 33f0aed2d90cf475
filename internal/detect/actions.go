package detect

import "github.com/warungkas/finops-engine/pkg/models"

// Suggested-actions catalog. Data, not logic: each detector attaches
// the ordered list for its kind to the candidate payload.

var suggestedActions = map[models.AnomalyKind][]string{
	models.AnomalyExpenseSpike: {
		"Review today's largest expense entries for input errors",
		"Confirm unusual purchases with the person who recorded them",
		"Check whether a recurring bill was double-entered",
		"Compare against the same weekday last week",
	},
	models.AnomalyRevenueDecline: {
		"Compare this week's sales volume against the previous week",
		"Check for unrecorded income entries",
		"Review whether a major customer or channel went quiet",
		"Verify pricing or promotion changes in the period",
	},
	models.AnomalyCashflowWarning: {
		"Defer non-essential spending until cashflow turns positive",
		"Follow up outstanding receivables",
		"Review upcoming fixed obligations against projected income",
		"Consider a short-term cash buffer",
	},
	models.AnomalyTargetVariance: {
		"Re-check whether this month's targets are still realistic",
		"Break the variance down by category to find the driver",
		"Align the team on corrective actions for the rest of the month",
	},
	models.AnomalyEmployeeInactivity: {
		"Confirm the employee still records transactions daily",
		"Check for blocked access to the recording channel",
		"Review whether responsibilities moved to someone else",
	},
}

// ActionsFor returns the ordered suggestion list for a kind. Unknown
// kinds get a generic review action so payloads are never empty.
func ActionsFor(kind models.AnomalyKind) []string {
	if actions, ok := suggestedActions[kind]; ok {
		out := make([]string, len(actions))
		copy(out, actions)
		return out
	}
	return []string{"Review recent transactions for this period"}
}
