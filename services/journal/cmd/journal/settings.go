package main

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/spf13/cobra"
)

// secretSettings are masked when printed.
var secretSettings = map[string]bool{
	"claude-api-key":        true,
	"gemini-api-key":        true,
	"openai-compat-api-key": true,
	"premium-token":         true,
}

func init() {
	settingsCmd := &cobra.Command{Use: "settings", Short: "Encrypted settings"}

	settingsCmd.AddCommand(&cobra.Command{
		Use:   "set <key> <value>",
		Short: "Store a setting",
		Args:  cobra.ExactArgs(2),
		RunE: withEnv(func(ctx context.Context, env *journalEnv, cmd *cobra.Command, args []string) error {
			if err := env.app.SaveSetting(ctx, strings.TrimSpace(args[0]), args[1]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "saved %s\n", args[0])
			return nil
		}),
	})

	var reveal bool
	getCmd := &cobra.Command{
		Use:   "get <key>",
		Short: "Print a setting",
		Args:  cobra.ExactArgs(1),
		RunE: withEnv(func(ctx context.Context, env *journalEnv, cmd *cobra.Command, args []string) error {
			v, err := env.app.Setting(ctx, args[0], "")
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), displaySetting(args[0], v, reveal))
			return nil
		}),
	}
	getCmd.Flags().BoolVar(&reveal, "reveal", false, "Print secrets in full")
	settingsCmd.AddCommand(getCmd)

	settingsCmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List settings",
		RunE: withEnv(func(ctx context.Context, env *journalEnv, cmd *cobra.Command, _ []string) error {
			all, err := env.app.Settings(ctx)
			if err != nil {
				return err
			}
			keys := make([]string, 0, len(all))
			for k := range all {
				keys = append(keys, k)
			}
			sort.Strings(keys)
			for _, k := range keys {
				fmt.Fprintf(cmd.OutOrStdout(), "%s=%s\n", k, displaySetting(k, all[k], false))
			}
			return nil
		}),
	})
	rootCmd.AddCommand(settingsCmd)
}

func displaySetting(key, value string, reveal bool) string {
	if reveal || !secretSettings[key] || value == "" {
		return value
	}
	if len(value) <= 8 {
		return "********"
	}
	return value[:4] + "..." + value[len(value)-4:]
}
