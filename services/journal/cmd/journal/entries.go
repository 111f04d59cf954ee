package main

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"mentalia/pkg/domain"
)

func init() {
	var (
		mood     float64
		scale    int
		diary    string
		feelings []string
		at       string
	)
	addCmd := &cobra.Command{
		Use:   "add",
		Short: "Record a mood entry",
		RunE: withEnv(func(ctx context.Context, env *journalEnv, cmd *cobra.Command, _ []string) error {
			entry, err := buildEntry(mood, scale, diary, feelings, at)
			if err != nil {
				return err
			}
			saved, err := env.app.Save(ctx, entry)
			if err != nil {
				return err
			}
			if jsonFlag {
				return printJSON(cmd.OutOrStdout(), saved)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "saved entry %d (mood %.1f on %s)\n", saved.ID, saved.Mood, saved.Date)
			return nil
		}),
	}
	addCmd.Flags().Float64VarP(&mood, "mood", "m", 0, "Mood score (required)")
	addCmd.Flags().IntVar(&scale, "scale", 5, "Scale of --mood: 5 or 10")
	addCmd.Flags().StringVarP(&diary, "diary", "d", "", "Diary text")
	addCmd.Flags().StringSliceVarP(&feelings, "feeling", "f", nil, "Feeling tag, repeatable (value or value:emoji)")
	addCmd.Flags().StringVar(&at, "at", "", "Entry time in RFC 3339 (default now)")
	_ = addCmd.MarkFlagRequired("mood")
	rootCmd.AddCommand(addCmd)

	var from, to string
	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List entries, newest first",
		RunE: withEnv(func(ctx context.Context, env *journalEnv, cmd *cobra.Command, _ []string) error {
			var (
				start, end time.Time
				err        error
			)
			if start, err = parseDay(from, env.cfg.Location()); err != nil {
				return err
			}
			if end, err = parseDay(to, env.cfg.Location()); err != nil {
				return err
			}
			if !end.IsZero() {
				end = end.AddDate(0, 0, 1)
			}
			res, err := env.app.ListBetween(ctx, start, end)
			if err != nil {
				return err
			}
			if jsonFlag {
				return printJSON(cmd.OutOrStdout(), res.Entries)
			}
			renderEntries(cmd.OutOrStdout(), res.Entries)
			if n := len(res.Skipped); n > 0 {
				fmt.Fprintf(cmd.ErrOrStderr(), "%d unreadable entries were skipped\n", n)
			}
			return nil
		}),
	}
	listCmd.Flags().StringVar(&from, "from", "", "First day to include (YYYY-MM-DD)")
	listCmd.Flags().StringVar(&to, "to", "", "Last day to include (YYYY-MM-DD)")
	rootCmd.AddCommand(listCmd)

	rootCmd.AddCommand(&cobra.Command{
		Use:   "stats",
		Short: "Show mood statistics",
		RunE: withEnv(func(ctx context.Context, env *journalEnv, cmd *cobra.Command, _ []string) error {
			st, err := env.app.Stats(ctx)
			if err != nil {
				return err
			}
			if jsonFlag {
				return printJSON(cmd.OutOrStdout(), st)
			}
			renderStats(cmd.OutOrStdout(), st)
			return nil
		}),
	})

	rootCmd.AddCommand(&cobra.Command{
		Use:   "delete <id>",
		Short: "Delete one entry",
		Args:  cobra.ExactArgs(1),
		RunE: withEnv(func(ctx context.Context, env *journalEnv, cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid id %q", args[0])
			}
			if err := env.app.Delete(ctx, id); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "deleted entry %d\n", id)
			return nil
		}),
	})

	var everything, yes bool
	clearCmd := &cobra.Command{
		Use:   "clear",
		Short: "Delete all entries (--all also removes settings and backup records)",
		RunE: withEnv(func(ctx context.Context, env *journalEnv, cmd *cobra.Command, _ []string) error {
			if !yes {
				return fmt.Errorf("refusing to delete without --yes")
			}
			if everything {
				return env.app.ClearAllData(ctx)
			}
			return env.app.DeleteAll(ctx)
		}),
	}
	clearCmd.Flags().BoolVar(&everything, "all", false, "Also clear settings and backup records")
	clearCmd.Flags().BoolVar(&yes, "yes", false, "Confirm deletion")
	rootCmd.AddCommand(clearCmd)
}

func buildEntry(mood float64, scale int, diary string, feelings []string, at string) (domain.MoodEntry, error) {
	switch scale {
	case 5:
	case 10:
		if mood < 1 || mood > 10 {
			return domain.MoodEntry{}, fmt.Errorf("mood %v is outside the 1-10 scale", mood)
		}
		mood = domain.MoodFromTenPoint(mood)
	default:
		return domain.MoodEntry{}, fmt.Errorf("--scale must be 5 or 10")
	}
	entry := domain.MoodEntry{Mood: mood, Diary: diary}
	for _, raw := range feelings {
		value, emoji, _ := strings.Cut(raw, ":")
		value = strings.ToLower(strings.TrimSpace(value))
		if value == "" {
			continue
		}
		entry.Feelings = append(entry.Feelings, domain.Feeling{Value: value, Emoji: strings.TrimSpace(emoji)})
	}
	if at != "" {
		ts, err := time.Parse(time.RFC3339, at)
		if err != nil {
			return domain.MoodEntry{}, fmt.Errorf("invalid --at: %w", err)
		}
		entry.Timestamp = ts
	}
	return entry, nil
}

func parseDay(raw string, loc *time.Location) (time.Time, error) {
	if raw == "" {
		return time.Time{}, nil
	}
	day, err := time.ParseInLocation(time.DateOnly, raw, loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid day %q, want YYYY-MM-DD", raw)
	}
	return day, nil
}
