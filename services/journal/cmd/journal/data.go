package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
)

func init() {
	var (
		out        string
		passphrase string
	)
	exportCmd := &cobra.Command{
		Use:   "export",
		Short: "Write an encrypted export of all entries and settings",
		RunE: withEnv(func(ctx context.Context, env *journalEnv, cmd *cobra.Command, _ []string) error {
			blob, err := env.app.Export(ctx, passphraseValue(passphrase))
			if err != nil {
				return err
			}
			if out == "" || out == "-" {
				_, err = fmt.Fprintln(cmd.OutOrStdout(), blob)
				return err
			}
			if err := os.WriteFile(out, []byte(blob+"\n"), 0o600); err != nil {
				return fmt.Errorf("write export: %w", err)
			}
			fmt.Fprintf(cmd.ErrOrStderr(), "export written to %s\n", out)
			return nil
		}),
	}
	exportCmd.Flags().StringVarP(&out, "out", "o", "", "Output file (default stdout)")
	exportCmd.Flags().StringVarP(&passphrase, "passphrase", "p", "", "Seal with a passphrase instead of the installation key (or JOURNAL_PASSPHRASE)")
	rootCmd.AddCommand(exportCmd)

	var in string
	importCmd := &cobra.Command{
		Use:   "import",
		Short: "Replace all data with the contents of an export",
		RunE: withEnv(func(ctx context.Context, env *journalEnv, cmd *cobra.Command, _ []string) error {
			blob, err := readInput(cmd.InOrStdin(), in)
			if err != nil {
				return err
			}
			res, err := env.app.Import(ctx, blob, passphraseValue(passphrase))
			if err != nil {
				return err
			}
			if jsonFlag {
				return printJSON(cmd.OutOrStdout(), res)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "imported %d entries and %d settings\n", res.Entries, res.Settings)
			if !res.ChecksumMatched {
				fmt.Fprintln(cmd.ErrOrStderr(), "warning: export checksum did not match its contents")
			}
			return nil
		}),
	}
	importCmd.Flags().StringVarP(&in, "in", "i", "", "Input file (default stdin)")
	importCmd.Flags().StringVarP(&passphrase, "passphrase", "p", "", "Passphrase used at export time (or JOURNAL_PASSPHRASE)")
	rootCmd.AddCommand(importCmd)

	backupCmd := &cobra.Command{
		Use:   "backup",
		Short: "Upload an encrypted backup to object storage",
		RunE: withEnv(func(ctx context.Context, env *journalEnv, cmd *cobra.Command, _ []string) error {
			rec, err := env.app.Backup(ctx, passphraseValue(passphrase))
			if err != nil {
				return err
			}
			if jsonFlag {
				return printJSON(cmd.OutOrStdout(), rec)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "backup %s uploaded (%d entries)\n", rec.ObjectKey, rec.EntryCount)
			return nil
		}),
	}
	backupCmd.Flags().StringVarP(&passphrase, "passphrase", "p", "", "Seal with a passphrase (or JOURNAL_PASSPHRASE)")
	rootCmd.AddCommand(backupCmd)

	rootCmd.AddCommand(&cobra.Command{
		Use:   "backups",
		Short: "List uploaded backups",
		RunE: withEnv(func(ctx context.Context, env *journalEnv, cmd *cobra.Command, _ []string) error {
			list, err := env.app.Backups(ctx)
			if err != nil {
				return err
			}
			if jsonFlag {
				return printJSON(cmd.OutOrStdout(), list)
			}
			renderBackups(cmd.OutOrStdout(), list)
			return nil
		}),
	})

	restoreCmd := &cobra.Command{
		Use:   "restore <object-key>",
		Short: "Download a backup and import it",
		Args:  cobra.ExactArgs(1),
		RunE: withEnv(func(ctx context.Context, env *journalEnv, cmd *cobra.Command, args []string) error {
			res, err := env.app.Restore(ctx, args[0], passphraseValue(passphrase))
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "restored %d entries and %d settings\n", res.Entries, res.Settings)
			return nil
		}),
	}
	restoreCmd.Flags().StringVarP(&passphrase, "passphrase", "p", "", "Passphrase used at backup time (or JOURNAL_PASSPHRASE)")
	rootCmd.AddCommand(restoreCmd)

	rootCmd.AddCommand(&cobra.Command{
		Use:   "storage",
		Short: "Show storage usage",
		RunE: withEnv(func(ctx context.Context, env *journalEnv, cmd *cobra.Command, _ []string) error {
			st, err := env.app.StorageStats(ctx)
			if err != nil {
				return err
			}
			if jsonFlag {
				return printJSON(cmd.OutOrStdout(), st)
			}
			renderStorage(cmd.OutOrStdout(), st)
			return nil
		}),
	})
}

func passphraseValue(flag string) string {
	if flag != "" {
		return flag
	}
	return os.Getenv("JOURNAL_PASSPHRASE")
}

func readInput(stdin io.Reader, path string) (string, error) {
	var (
		data []byte
		err  error
	)
	if path == "" || path == "-" {
		data, err = io.ReadAll(io.LimitReader(stdin, 64<<20))
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return "", fmt.Errorf("read export: %w", err)
	}
	return strings.TrimSpace(string(data)), nil
}
