package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	executionsLimit int
	previewCount    int
)

var schedulesCmd = &cobra.Command{
	Use:   "schedules",
	Short: "Manage processing schedules",
}

var schedulesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List all schedules",
	Run: func(cmd *cobra.Command, args []string) {
		_, formatter, client, err := initializeClient()
		if err != nil {
			exitWithError(err)
		}

		schedules, err := client.GetSchedules()
		if err != nil {
			formatter.PrintError(err)
			exitWithError(err)
		}
		if err := formatter.PrintSchedules(schedules); err != nil {
			formatter.PrintError(err)
			os.Exit(exitFatal)
		}
	},
}

var schedulesGetCmd = &cobra.Command{
	Use:   "get <id>",
	Short: "Show one schedule",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		id, ok := parseID(args[0])
		if !ok {
			fmt.Fprintf(os.Stderr, "Invalid schedule ID: %s\n", args[0])
			os.Exit(exitInvalidInput)
		}

		_, formatter, client, err := initializeClient()
		if err != nil {
			exitWithError(err)
		}

		schedule, err := client.GetSchedule(id)
		if err != nil {
			formatter.PrintError(err)
			exitWithError(err)
		}
		if err := formatter.PrintSchedule(schedule); err != nil {
			formatter.PrintError(err)
			os.Exit(exitFatal)
		}
	},
}

var schedulesDeleteCmd = &cobra.Command{
	Use:   "delete <id>",
	Short: "Delete a schedule and its execution history",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		id, ok := parseID(args[0])
		if !ok {
			fmt.Fprintf(os.Stderr, "Invalid schedule ID: %s\n", args[0])
			os.Exit(exitInvalidInput)
		}

		_, formatter, client, err := initializeClient()
		if err != nil {
			exitWithError(err)
		}

		if err := client.DeleteSchedule(id); err != nil {
			formatter.PrintError(err)
			exitWithError(err)
		}
		formatter.PrintSuccess(fmt.Sprintf("Schedule %d deleted", id))
	},
}

var schedulesRunCmd = &cobra.Command{
	Use:   "run <id>",
	Short: "Run a schedule immediately and wait for it to finish",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		id, ok := parseID(args[0])
		if !ok {
			fmt.Fprintf(os.Stderr, "Invalid schedule ID: %s\n", args[0])
			os.Exit(exitInvalidInput)
		}

		_, formatter, client, err := initializeClient()
		if err != nil {
			exitWithError(err)
		}

		formatter.PrintInfo(fmt.Sprintf("Running schedule %d...", id))
		exec, err := client.RunSchedule(id)
		if err != nil {
			formatter.PrintError(err)
			exitWithError(err)
		}

		formatter.PrintSuccess(fmt.Sprintf("Execution %d finished: %s (%d processed, %d failed of %d)",
			exec.ID, exec.Status, exec.ProcessedEmailsCount, exec.FailedEmailsCount, exec.TotalEmailsCount))
	},
}

var schedulesExecutionsCmd = &cobra.Command{
	Use:   "executions <id>",
	Short: "Show a schedule's execution history",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		id, ok := parseID(args[0])
		if !ok {
			fmt.Fprintf(os.Stderr, "Invalid schedule ID: %s\n", args[0])
			os.Exit(exitInvalidInput)
		}

		_, formatter, client, err := initializeClient()
		if err != nil {
			exitWithError(err)
		}

		executions, err := client.GetExecutions(id, executionsLimit)
		if err != nil {
			formatter.PrintError(err)
			exitWithError(err)
		}
		if err := formatter.PrintExecutions(executions); err != nil {
			formatter.PrintError(err)
			os.Exit(exitFatal)
		}
	},
}

var schedulesPreviewCmd = &cobra.Command{
	Use:   "preview <id>",
	Short: "Show a schedule's upcoming firing times",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		id, ok := parseID(args[0])
		if !ok {
			fmt.Fprintf(os.Stderr, "Invalid schedule ID: %s\n", args[0])
			os.Exit(exitInvalidInput)
		}

		_, formatter, client, err := initializeClient()
		if err != nil {
			exitWithError(err)
		}

		preview, err := client.PreviewSchedule(id, previewCount)
		if err != nil {
			formatter.PrintError(err)
			exitWithError(err)
		}

		if len(preview.NextFirings) == 0 {
			formatter.PrintInfo("No upcoming firings.")
			return
		}
		for _, firing := range preview.NextFirings {
			fmt.Println(firing.Format("2006-01-02 15:04:05 MST"))
		}
	},
}

// runScheduleCmd is a top-level shorthand for "schedules run".
var runScheduleCmd = &cobra.Command{
	Use:   "run-schedule <id>",
	Short: "Run a schedule immediately and wait for it to finish",
	Args:  cobra.ExactArgs(1),
	Run:   func(cmd *cobra.Command, args []string) { schedulesRunCmd.Run(cmd, args) },
}

func init() {
	schedulesExecutionsCmd.Flags().IntVar(&executionsLimit, "limit", 20, "Maximum executions to show")
	schedulesPreviewCmd.Flags().IntVar(&previewCount, "count", 5, "Number of firings to preview")

	schedulesCmd.AddCommand(schedulesListCmd)
	schedulesCmd.AddCommand(schedulesGetCmd)
	schedulesCmd.AddCommand(schedulesDeleteCmd)
	schedulesCmd.AddCommand(schedulesRunCmd)
	schedulesCmd.AddCommand(schedulesExecutionsCmd)
	schedulesCmd.AddCommand(schedulesPreviewCmd)
	rootCmd.AddCommand(schedulesCmd)
	rootCmd.AddCommand(runScheduleCmd)
}
