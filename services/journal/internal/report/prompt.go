package report

import (
	"fmt"
	"strings"

	"mentalia/pkg/domain"
)

const systemPrompt = `You are a clinical psychologist specialized in mental health, reviewing a patient's mood journal.
Be empathetic and welcoming. Never give a medical diagnosis and always remind the reader that this analysis does not replace professional care.
Structure the answer in three sections:
General Analysis: observations about the overall mood pattern and well-being.
Patterns: trends, variations and relevant aspects of the data, one bullet per item.
Recommendations: practical well-being and self-care suggestions, one bullet per item.`

func userPrompt(s domain.Stats) string {
	var b strings.Builder
	b.WriteString("Patient data:\n")
	fmt.Fprintf(&b, "- Total entries: %d\n", s.TotalEntries)
	fmt.Fprintf(&b, "- Average mood: %.1f/5\n", s.AverageMood)
	fmt.Fprintf(&b, "- Period analyzed: %d days\n", s.DaysCovered)
	fmt.Fprintf(&b, "- Recent trend: %s\n", trendWord(s.RecentTrend))
	fmt.Fprintf(&b, "- Current streak: %d days\n", s.Streak)
	fmt.Fprintf(&b, "- Most common feelings: %s\n", strings.Join(feelingNames(s.TopFeelings), ", "))
	b.WriteString("\nProvide an empathetic, professional analysis focused on constructive and encouraging insights.")
	return b.String()
}

func trendWord(recent float64) string {
	switch {
	case recent > 0:
		return "improving"
	case recent < 0:
		return "worsening"
	default:
		return "stable"
	}
}

func feelingNames(counts []domain.FeelingCount) []string {
	out := make([]string, 0, len(counts))
	for _, c := range counts {
		out = append(out, c.Value)
	}
	return out
}
