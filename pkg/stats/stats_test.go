package stats

import (
	"math"
	"reflect"
	"testing"
	"time"

	"mentalia/pkg/domain"
)

var refNow = time.Date(2024, 6, 15, 18, 0, 0, 0, time.UTC)

func entry(id int64, daysAgo float64, mood float64, feelings ...string) domain.MoodEntry {
	ts := refNow.Add(-time.Duration(daysAgo * float64(24*time.Hour)))
	e := domain.MoodEntry{
		ID:        id,
		Mood:      mood,
		Timestamp: ts,
		Date:      domain.DayKey(ts, time.UTC),
	}
	for _, f := range feelings {
		e.Feelings = append(e.Feelings, domain.Feeling{Value: f})
	}
	return e
}

func TestComputeEmpty(t *testing.T) {
	got := Compute(nil, refNow, time.UTC)
	want := domain.Stats{Trend: domain.TrendNeutral}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("empty stats = %+v, want %+v", got, want)
	}
	if got.TotalEntries != 0 || got.AverageMood != 0 || got.Streak != 0 {
		t.Fatalf("expected zeroed stats, got %+v", got)
	}
}

func TestStreakBoundary(t *testing.T) {
	entries := []domain.MoodEntry{
		entry(1, 0, 4),
		entry(2, 1, 3),
		entry(3, 3, 2),
	}
	if got := Streak(entries, refNow, time.UTC); got != 2 {
		t.Fatalf("streak = %d, want 2", got)
	}
	if got := Streak(entries[1:], refNow, time.UTC); got != 0 {
		t.Fatalf("streak without today = %d, want 0", got)
	}
}

func TestStreakCountsDuplicatesOnce(t *testing.T) {
	entries := []domain.MoodEntry{
		entry(1, 0, 4),
		entry(2, 0.1, 4),
		entry(3, 1, 3),
		entry(4, 2, 3),
	}
	if got := Streak(entries, refNow, time.UTC); got != 3 {
		t.Fatalf("streak = %d, want 3", got)
	}
}

func TestStreakUsesLocation(t *testing.T) {
	loc := time.FixedZone("UTC+10", 10*60*60)
	now := time.Date(2024, 6, 15, 23, 0, 0, 0, time.UTC) // 16th in loc
	e := domain.MoodEntry{ID: 1, Mood: 3, Timestamp: now.Add(-time.Hour)}
	if got := Streak([]domain.MoodEntry{e}, now, loc); got != 1 {
		t.Fatalf("streak = %d, want 1", got)
	}
}

func TestTrendCalendarWindows(t *testing.T) {
	var improving []domain.MoodEntry
	for i := 0; i < 4; i++ {
		improving = append(improving, entry(int64(i), float64(i)+0.5, 4.5))
	}
	for i := 0; i < 4; i++ {
		improving = append(improving, entry(int64(10+i), float64(8+i), 2.0))
	}
	if got := Trend(improving, refNow); got != domain.TrendImproving {
		t.Fatalf("trend = %s, want improving", got)
	}

	declining := make([]domain.MoodEntry, len(improving))
	for i, e := range improving {
		e.Mood = 6 - e.Mood
		declining[i] = e
	}
	if got := Trend(declining, refNow); got != domain.TrendDeclining {
		t.Fatalf("trend = %s, want declining", got)
	}

	stable := make([]domain.MoodEntry, len(improving))
	for i, e := range improving {
		e.Mood = 3.1
		stable[i] = e
	}
	if got := Trend(stable, refNow); got != domain.TrendStable {
		t.Fatalf("trend = %s, want stable", got)
	}
}

func TestTrendNeutralCases(t *testing.T) {
	few := []domain.MoodEntry{entry(1, 0, 5), entry(2, 9, 1)}
	if got := Trend(few, refNow); got != domain.TrendNeutral {
		t.Fatalf("trend with few entries = %s, want neutral", got)
	}
	var onlyRecent []domain.MoodEntry
	for i := 0; i < 8; i++ {
		onlyRecent = append(onlyRecent, entry(int64(i), float64(i)*0.5, 3))
	}
	if got := Trend(onlyRecent, refNow); got != domain.TrendNeutral {
		t.Fatalf("trend with empty previous window = %s, want neutral", got)
	}
}

func TestRecentTrendFallsBackToOverallAverage(t *testing.T) {
	entries := []domain.MoodEntry{entry(1, 1, 5), entry(2, 2, 3)}
	// previous window empty: overall average 4, recent average 4.
	if got := RecentTrend(entries, refNow); math.Abs(got) > 1e-9 {
		t.Fatalf("recent trend = %v, want 0", got)
	}
	entries = append(entries, entry(3, 10, 1))
	// recent 4, previous 1.
	if got := RecentTrend(entries, refNow); math.Abs(got-3) > 1e-9 {
		t.Fatalf("recent trend = %v, want 3", got)
	}
}

func TestTopFeelingsTiesByFirstSeen(t *testing.T) {
	entries := []domain.MoodEntry{
		entry(1, 0, 3, "calmo", "grato"),
		entry(2, 1, 3, "ansioso", "calmo"),
		entry(3, 2, 3, "feliz", "ansioso", "cansado", "motivado"),
		entry(4, 3, 3, "grato"),
	}
	got := TopFeelings(entries, 5)
	want := []domain.FeelingCount{
		{Value: "calmo", Count: 2},
		{Value: "grato", Count: 2},
		{Value: "ansioso", Count: 2},
		{Value: "feliz", Count: 1},
		{Value: "cansado", Count: 1},
	}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("top feelings = %+v, want %+v", got, want)
	}
}

func TestComputeAggregates(t *testing.T) {
	entries := []domain.MoodEntry{
		entry(1, 0, 5, "feliz"),
		entry(2, 1, 4, "feliz"),
		entry(3, 2, 1.4),
		entry(4, 4.5, 2.6),
	}
	got := Compute(entries, refNow, time.UTC)
	if got.TotalEntries != 4 {
		t.Fatalf("total = %d", got.TotalEntries)
	}
	if math.Abs(got.AverageMood-3.25) > 1e-9 {
		t.Fatalf("average = %v, want 3.25", got.AverageMood)
	}
	if got.Streak != 3 {
		t.Fatalf("streak = %d, want 3", got.Streak)
	}
	if got.Trend != domain.TrendNeutral {
		t.Fatalf("trend = %s, want neutral", got.Trend)
	}
	if got.MoodDistribution != [5]int{1, 0, 1, 1, 1} {
		t.Fatalf("distribution = %v", got.MoodDistribution)
	}
	if got.DaysCovered != 5 {
		t.Fatalf("days covered = %d, want 5", got.DaysCovered)
	}
	if len(got.TopFeelings) != 1 || got.TopFeelings[0] != (domain.FeelingCount{Value: "feliz", Count: 2}) {
		t.Fatalf("top feelings = %+v", got.TopFeelings)
	}
}
