// Package stats derives aggregate views from decrypted mood entries. Every
// function is pure: the caller supplies the reference time and location.
package stats

import (
	"math"
	"sort"
	"time"

	"mentalia/pkg/domain"
)

const (
	// TrendThreshold is the mean difference that separates stable from
	// improving or declining.
	TrendThreshold = 0.3
	// MinEntriesForTrend is the smallest history that yields a trend.
	MinEntriesForTrend = 7
	// TopFeelingsLimit is how many feelings Compute reports.
	TopFeelingsLimit = 5

	window = 7 * 24 * time.Hour
)

// Compute bundles every statistic for entries as of now. A nil loc means
// time.Local.
func Compute(entries []domain.MoodEntry, now time.Time, loc *time.Location) domain.Stats {
	if len(entries) == 0 {
		return domain.Stats{Trend: domain.TrendNeutral}
	}
	w := splitWindows(entries, now)
	return domain.Stats{
		TotalEntries:     len(entries),
		AverageMood:      AverageMood(entries),
		Streak:           Streak(entries, now, loc),
		Trend:            classify(len(entries), w),
		TopFeelings:      TopFeelings(entries, TopFeelingsLimit),
		RecentTrend:      w.recentAvg(entries) - w.previousAvg(entries),
		RecentAvg:        w.recentAvg(entries),
		PreviousAvg:      w.previousAvg(entries),
		MoodDistribution: MoodDistribution(entries),
		DaysCovered:      DaysCovered(entries, now),
	}
}

// AverageMood is the arithmetic mean of every mood, or 0 when empty.
func AverageMood(entries []domain.MoodEntry) float64 {
	if len(entries) == 0 {
		return 0
	}
	sum := 0.0
	for _, e := range entries {
		sum += e.Mood
	}
	return sum / float64(len(entries))
}

// Streak counts consecutive calendar days with at least one entry, walking
// back from today. No entry today means 0.
func Streak(entries []domain.MoodEntry, now time.Time, loc *time.Location) int {
	if loc == nil {
		loc = time.Local
	}
	days := make(map[string]struct{}, len(entries))
	for _, e := range entries {
		days[entryDay(e, loc)] = struct{}{}
	}
	today := now.In(loc)
	streak := 0
	for {
		day := today.AddDate(0, 0, -streak).Format(time.DateOnly)
		if _, ok := days[day]; !ok {
			return streak
		}
		streak++
	}
}

func entryDay(e domain.MoodEntry, loc *time.Location) string {
	if e.Date != "" {
		return e.Date
	}
	return domain.DayKey(e.Timestamp, loc)
}

// Trend compares the mean of the last seven days with the seven days before.
func Trend(entries []domain.MoodEntry, now time.Time) domain.Trend {
	return classify(len(entries), splitWindows(entries, now))
}

// RecentTrend is the numeric difference between the last seven days and the
// seven days before. An empty window counts as the overall average.
func RecentTrend(entries []domain.MoodEntry, now time.Time) float64 {
	if len(entries) == 0 {
		return 0
	}
	w := splitWindows(entries, now)
	return w.recentAvg(entries) - w.previousAvg(entries)
}

type windows struct {
	recentSum, previousSum float64
	recentN, previousN     int
}

// splitWindows buckets entries into (now-7d, now] and (now-14d, now-7d].
func splitWindows(entries []domain.MoodEntry, now time.Time) windows {
	var w windows
	recentStart := now.Add(-window)
	previousStart := now.Add(-2 * window)
	for _, e := range entries {
		ts := e.Timestamp
		switch {
		case ts.After(now):
		case ts.After(recentStart):
			w.recentSum += e.Mood
			w.recentN++
		case ts.After(previousStart):
			w.previousSum += e.Mood
			w.previousN++
		}
	}
	return w
}

func (w windows) recentAvg(all []domain.MoodEntry) float64 {
	if w.recentN == 0 {
		return AverageMood(all)
	}
	return w.recentSum / float64(w.recentN)
}

func (w windows) previousAvg(all []domain.MoodEntry) float64 {
	if w.previousN == 0 {
		return AverageMood(all)
	}
	return w.previousSum / float64(w.previousN)
}

func classify(total int, w windows) domain.Trend {
	if total < MinEntriesForTrend || w.recentN == 0 || w.previousN == 0 {
		return domain.TrendNeutral
	}
	diff := w.recentSum/float64(w.recentN) - w.previousSum/float64(w.previousN)
	switch {
	case diff > TrendThreshold:
		return domain.TrendImproving
	case diff < -TrendThreshold:
		return domain.TrendDeclining
	default:
		return domain.TrendStable
	}
}

// TopFeelings returns the n most frequent feeling values. Ties keep the order
// in which values were first seen while scanning entries.
func TopFeelings(entries []domain.MoodEntry, n int) []domain.FeelingCount {
	if n <= 0 {
		return nil
	}
	index := make(map[string]int)
	var counts []domain.FeelingCount
	for _, e := range entries {
		for _, f := range e.Feelings {
			if f.Value == "" {
				continue
			}
			if i, ok := index[f.Value]; ok {
				counts[i].Count++
				continue
			}
			index[f.Value] = len(counts)
			counts = append(counts, domain.FeelingCount{Value: f.Value, Count: 1})
		}
	}
	sort.SliceStable(counts, func(i, j int) bool { return counts[i].Count > counts[j].Count })
	if len(counts) > n {
		counts = counts[:n]
	}
	return counts
}

// MoodDistribution counts entries per rounded mood, index 0 holding mood 1.
func MoodDistribution(entries []domain.MoodEntry) [5]int {
	var dist [5]int
	for _, e := range entries {
		bucket := int(math.Round(e.Mood))
		if bucket < domain.MinMood || bucket > domain.MaxMood {
			continue
		}
		dist[bucket-1]++
	}
	return dist
}

// DaysCovered is the number of days, rounded up, between the oldest entry and
// now. It is at least 1 when there are entries.
func DaysCovered(entries []domain.MoodEntry, now time.Time) int {
	if len(entries) == 0 {
		return 0
	}
	oldest := entries[0].Timestamp
	for _, e := range entries[1:] {
		if e.Timestamp.Before(oldest) {
			oldest = e.Timestamp
		}
	}
	days := int(math.Ceil(now.Sub(oldest).Hours() / 24))
	if days < 1 {
		days = 1
	}
	return days
}
