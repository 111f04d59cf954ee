package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"mentalia/pkg/domain"
)

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func renderEntries(w io.Writer, entries []domain.MoodEntry) {
	if len(entries) == 0 {
		fmt.Fprintln(w, "no entries yet")
		return
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tDATE\tMOOD\tFEELINGS\tDIARY")
	for _, e := range entries {
		fmt.Fprintf(tw, "%d\t%s\t%.1f\t%s\t%s\n", e.ID, e.Date, e.Mood, feelingList(e.Feelings), truncate(e.Diary, 48))
	}
	_ = tw.Flush()
}

func renderStats(w io.Writer, s domain.Stats) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "Entries\t%d\n", s.TotalEntries)
	fmt.Fprintf(tw, "Average mood\t%.2f\n", s.AverageMood)
	fmt.Fprintf(tw, "Streak\t%d days\n", s.Streak)
	fmt.Fprintf(tw, "Trend\t%s\n", s.Trend)
	if s.TotalEntries > 0 {
		fmt.Fprintf(tw, "Last 7 days\t%.2f (previous %.2f)\n", s.RecentAvg, s.PreviousAvg)
		fmt.Fprintf(tw, "Days covered\t%d\n", s.DaysCovered)
		fmt.Fprintf(tw, "Distribution\t%s\n", distribution(s.MoodDistribution))
	}
	if len(s.TopFeelings) > 0 {
		parts := make([]string, 0, len(s.TopFeelings))
		for _, f := range s.TopFeelings {
			parts = append(parts, fmt.Sprintf("%s (%d)", f.Value, f.Count))
		}
		fmt.Fprintf(tw, "Top feelings\t%s\n", strings.Join(parts, ", "))
	}
	_ = tw.Flush()
}

func renderReport(w io.Writer, r domain.Report) {
	fmt.Fprintf(w, "%s\n%s\n\n", r.Title, r.Subtitle)
	if r.Analysis != "" {
		fmt.Fprintf(w, "%s\n\n", r.Analysis)
	}
	writeList(w, "Insights", r.Insights)
	writeList(w, "Recommendations", r.Recommendations)
	fmt.Fprintf(w, "%s\n", r.Disclaimer)
	fmt.Fprintf(w, "(%s, %s)\n", r.Source, r.Timestamp.Format(time.RFC1123))
}

func renderBackups(w io.Writer, list []domain.BackupRecord) {
	if len(list) == 0 {
		fmt.Fprintln(w, "no backups yet")
		return
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "CREATED\tENTRIES\tMODE\tKEY")
	for _, b := range list {
		fmt.Fprintf(tw, "%s\t%d\t%s\t%s\n", b.CreatedAt.Local().Format(time.DateTime), b.EntryCount, b.Metadata["mode"], b.ObjectKey)
	}
	_ = tw.Flush()
}

func renderStorage(w io.Writer, s domain.StorageStats) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "Entries\t%d\n", s.TotalEntries)
	fmt.Fprintf(tw, "Settings\t%d\n", s.TotalSettings)
	fmt.Fprintf(tw, "Estimated size\t%.1f KB\n", float64(s.EstimatedSize)/1024)
	if s.OldestEntry != nil && s.NewestEntry != nil {
		fmt.Fprintf(tw, "Span\t%s to %s\n", s.OldestEntry.Local().Format(time.DateOnly), s.NewestEntry.Local().Format(time.DateOnly))
	}
	_ = tw.Flush()
}

func renderPremium(w io.Writer, s domain.PremiumStatus) {
	if !s.IsPremium {
		fmt.Fprintln(w, "premium: inactive")
		return
	}
	line := "premium: active"
	if s.Plan != "" {
		line += " (" + s.Plan + ")"
	}
	if s.ExpiresAt != nil {
		line += ", renews " + s.ExpiresAt.Local().Format(time.DateOnly)
	}
	fmt.Fprintln(w, line)
}

func describeEvent(ev domain.Event) string {
	switch e := ev.(type) {
	case domain.EntrySaved:
		return fmt.Sprintf("saved entry %d", e.ID)
	case domain.RecordSkipped:
		return fmt.Sprintf("skipped unreadable entry %d: %v", e.ID, e.Err)
	case domain.StorageRetry:
		return fmt.Sprintf("storage not ready (attempt %d), retrying in %s: %v", e.Attempt, e.Wait, e.Err)
	case domain.ReportAttempt:
		if e.Err != nil {
			return fmt.Sprintf("%s failed: %v", e.Provider, e.Err)
		}
		return fmt.Sprintf("%s answered", e.Provider)
	case domain.ReportReady:
		return fmt.Sprintf("report ready from %s", e.Source)
	case domain.ImportChecksumMismatch:
		return fmt.Sprintf("checksum mismatch: expected %s, got %s", e.Expected, e.Actual)
	}
	return ev.EventName()
}

func writeList(w io.Writer, title string, items []string) {
	if len(items) == 0 {
		return
	}
	fmt.Fprintf(w, "%s:\n", title)
	for _, it := range items {
		fmt.Fprintf(w, "  - %s\n", it)
	}
	fmt.Fprintln(w)
}

func feelingList(fs []domain.Feeling) string {
	parts := make([]string, 0, len(fs))
	for _, f := range fs {
		if f.Emoji != "" {
			parts = append(parts, f.Emoji+" "+f.Value)
		} else {
			parts = append(parts, f.Value)
		}
	}
	return strings.Join(parts, ", ")
}

func distribution(d [5]int) string {
	parts := make([]string, 0, len(d))
	for i, n := range d {
		parts = append(parts, fmt.Sprintf("%d:%d", i+1, n))
	}
	return strings.Join(parts, " ")
}

func truncate(s string, n int) string {
	s = strings.ReplaceAll(s, "\n", " ")
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
