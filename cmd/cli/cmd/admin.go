package cmd

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	cliapi "mail-insights/internal/cli"
	"mail-insights/internal/database"
	"mail-insights/internal/templates"
)

// Maintenance commands talk to the database directly instead of the API, so
// they work while the server is down.

var (
	dbPath        string
	lockGrace     time.Duration
	retentionDays int
)

func openDatabase(formatter *cliapi.OutputFormatter) *database.DB {
	path := dbPath
	if env := os.Getenv("MAIL_INSIGHTS_DATABASE_PATH"); env != "" && path == "" {
		path = env
	}
	if path == "" {
		path = "./mail-insights.db"
	}

	db, err := database.Open(path)
	if err != nil {
		formatter.PrintError(fmt.Errorf("failed to open database at %s: %w", path, err))
		os.Exit(exitFatal)
	}
	return db
}

var seedTemplatesCmd = &cobra.Command{
	Use:   "seed-templates",
	Short: "Install or upgrade the built-in prompt templates",
	Run: func(cmd *cobra.Command, args []string) {
		formatter := cliapi.NewOutputFormatterWithColor(format, quiet, noColor)
		db := openDatabase(formatter)
		defer db.Close()

		if err := templates.Seed(db.Templates); err != nil {
			formatter.PrintError(err)
			os.Exit(exitFatal)
		}

		active, err := db.Templates.ListActive()
		if err != nil {
			formatter.PrintError(err)
			os.Exit(exitFatal)
		}
		formatter.PrintSuccess(fmt.Sprintf("%d prompt templates active", len(active)))
	},
}

var reapLocksCmd = &cobra.Command{
	Use:   "reap-locks",
	Short: "Release execution locks left behind by crashed workers",
	Run: func(cmd *cobra.Command, args []string) {
		formatter := cliapi.NewOutputFormatterWithColor(format, quiet, noColor)
		db := openDatabase(formatter)
		defer db.Close()

		reaped, err := db.Locks.ReapStale(lockGrace)
		if err != nil {
			formatter.PrintError(err)
			os.Exit(exitFatal)
		}
		formatter.PrintSuccess(fmt.Sprintf("Reaped %d stale locks older than %v", reaped, lockGrace))
	},
}

var purgeEmailsCmd = &cobra.Command{
	Use:   "purge-emails",
	Short: "Delete processed emails older than the retention window",
	Run: func(cmd *cobra.Command, args []string) {
		formatter := cliapi.NewOutputFormatterWithColor(format, quiet, noColor)
		if retentionDays < 1 {
			fmt.Fprintln(os.Stderr, "Flag --days must be at least 1")
			os.Exit(exitInvalidInput)
		}

		db := openDatabase(formatter)
		defer db.Close()

		cutoff := time.Now().UTC().AddDate(0, 0, -retentionDays)
		deleted, err := db.ProcessedEmails.DeleteOlderThan(cutoff)
		if err != nil {
			formatter.PrintError(err)
			os.Exit(exitFatal)
		}
		formatter.PrintSuccess(fmt.Sprintf("Deleted %d emails received before %s",
			deleted, cutoff.Format("2006-01-02")))
	},
}

func init() {
	for _, c := range []*cobra.Command{seedTemplatesCmd, reapLocksCmd, purgeEmailsCmd} {
		c.Flags().StringVar(&dbPath, "db", "", "Path to the sqlite database")
	}
	reapLocksCmd.Flags().DurationVar(&lockGrace, "grace", 10*time.Minute, "Minimum lock age before reaping")
	purgeEmailsCmd.Flags().IntVar(&retentionDays, "days", 0, "Retention window in days")

	rootCmd.AddCommand(seedTemplatesCmd)
	rootCmd.AddCommand(reapLocksCmd)
	rootCmd.AddCommand(purgeEmailsCmd)
}
