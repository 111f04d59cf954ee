package report

import (
	"fmt"
	"strings"
	"time"

	"mentalia/pkg/domain"
)

const Disclaimer = "This analysis is AI-based and does not replace professional medical or psychological consultation."

// trendNarrativeThreshold is the RecentTrend delta that earns a narrative line.
const trendNarrativeThreshold = 0.5

var (
	anxietyTags  = []string{"ansioso", "anxious", "ansiedade", "anxiety"}
	stressTags   = []string{"estressado", "stressed", "estresse", "stress"}
	positiveTags = []string{"feliz", "happy", "motivado", "motivated"}
)

func emptyReport(now time.Time) domain.Report {
	return domain.Report{
		Title:           "Mood report",
		Subtitle:        "No entries yet",
		Analysis:        "There is not enough data for a report yet. Record how you feel for a few days to get a personalized analysis.",
		Recommendations: []string{"Record your mood daily, self-knowledge is where it starts"},
		Insights:        []string{},
		Disclaimer:      Disclaimer,
		Timestamp:       now,
		Source:          domain.SourceEmpty,
	}
}

// intelligentReport builds a complete report from the statistics alone.
func intelligentReport(s domain.Stats, now time.Time) domain.Report {
	return domain.Report{
		Title:           "Mood report",
		Subtitle:        subtitle(s),
		Analysis:        localAnalysis(s),
		Recommendations: ruleRecommendations(s),
		Insights:        ruleInsights(s),
		Disclaimer:      Disclaimer,
		Timestamp:       now,
		Source:          domain.SourceIntelligent,
	}
}

// safeModeReport is the last resort when report generation itself failed.
func safeModeReport(count int, avg float64, now time.Time) domain.Report {
	return domain.Report{
		Title:    "Mood report (safe mode)",
		Subtitle: fmt.Sprintf("%d entries", count),
		Analysis: fmt.Sprintf("The full analysis could not be completed. You have %d entries with an average mood of %.1f/5.", count, avg),
		Recommendations: []string{
			"Keep recording your mood",
			"Try generating the report again later",
		},
		Insights:   []string{},
		Disclaimer: Disclaimer,
		Timestamp:  now,
		Source:     domain.SourceSafeMode,
		Error:      true,
	}
}

func subtitle(s domain.Stats) string {
	return fmt.Sprintf("%d entries over %d days, average mood %.1f/5", s.TotalEntries, s.DaysCovered, s.AverageMood)
}

// localAnalysis is the band text followed by the feelings narrative and the
// most common mood.
func localAnalysis(s domain.Stats) string {
	parts := []string{bandAnalysis(s.AverageMood), feelingsNarrative(s.TopFeelings)}
	if line := commonMoodLine(s.MoodDistribution); line != "" {
		parts = append(parts, line)
	}
	return strings.Join(parts, " ")
}

func feelingsNarrative(top []domain.FeelingCount) string {
	names := feelingNames(top)
	if len(names) == 0 {
		return "Few feelings were recorded, so tagging how you feel next time will make this analysis richer."
	}
	return fmt.Sprintf("The feelings that showed up most were: %s.", strings.Join(names, ", "))
}

func commonMoodLine(dist [5]int) string {
	best := -1
	for i, n := range dist {
		if n > 0 && (best < 0 || n > dist[best]) {
			best = i
		}
	}
	if best < 0 {
		return ""
	}
	return fmt.Sprintf("Your most common mood was %d/5, recorded %d times.", best+1, dist[best])
}

func bandAnalysis(avg float64) string {
	switch {
	case avg >= 4:
		return "Your entries show an overall positive pattern of emotional well-being. You keep a balanced mood most of the time, which is a very good sign for your mental health."
	case avg >= 3:
		return "Your entries show a mostly neutral to positive mood. Some variation is completely normal, and overall you keep a reasonable emotional balance."
	case avg >= 2:
		return "Your entries show you have been facing some emotional challenges. There are stretches of lower mood that deserve attention and care."
	default:
		return "Your entries show you have been going through a harder period. You are not alone, and reaching out for support is a sign of strength."
	}
}

func ruleInsights(s domain.Stats) []string {
	var out []string
	switch {
	case s.RecentTrend > trendNarrativeThreshold:
		out = append(out, "Noticeable improvement over the last days")
	case s.RecentTrend < -trendNarrativeThreshold:
		out = append(out, "Mood has dropped over the last days and deserves attention")
	default:
		out = append(out, "Mood has been fairly stable recently")
	}
	if hasAnyFeeling(s.TopFeelings, anxietyTags) {
		out = append(out, "Feelings of anxiety show up often")
	}
	if hasAnyFeeling(s.TopFeelings, stressTags) {
		out = append(out, "High stress levels identified")
	}
	if hasAnyFeeling(s.TopFeelings, positiveTags) {
		out = append(out, "Positive emotions are present regularly")
	}
	if s.Streak >= 3 {
		out = append(out, fmt.Sprintf("You have recorded your mood %d days in a row", s.Streak))
	}
	return out
}

func ruleRecommendations(s domain.Stats) []string {
	out := []string{"Keep the habit of recording your mood, self-knowledge is fundamental"}
	if s.AverageMood < 3 {
		out = append(out,
			"Consider reaching out to a psychologist or mental health professional",
			"Make time for activities that bring you pleasure and relaxation",
		)
	}
	if hasAnyFeeling(s.TopFeelings, anxietyTags) || hasAnyFeeling(s.TopFeelings, stressTags) {
		out = append(out,
			"Try breathing techniques and mindfulness to ease anxiety",
			"Regular physical activity helps keep stress under control",
		)
	}
	return append(out,
		"Keep a regular sleep routine and a balanced diet",
		"Nurture positive relationships and do not hesitate to ask for help",
	)
}

func hasAnyFeeling(top []domain.FeelingCount, tags []string) bool {
	for _, f := range top {
		v := strings.ToLower(strings.TrimSpace(f.Value))
		for _, tag := range tags {
			if v == tag {
				return true
			}
		}
	}
	return false
}
