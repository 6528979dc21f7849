package cmd

import (
	"fmt"
	"os"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"
)

var (
	emailsAccountID   int
	emailsLimit       int
	emailsOffset      int
	emailsInteractive bool
)

var emailsCmd = &cobra.Command{
	Use:   "emails",
	Short: "Browse analyzed emails",
}

var emailsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List analyzed emails",
	Run: func(cmd *cobra.Command, args []string) {
		config, formatter, client, err := initializeClient()
		if err != nil {
			exitWithError(err)
		}

		emails, err := client.GetEmails(emailsAccountID, emailsLimit, emailsOffset)
		if err != nil {
			formatter.PrintError(err)
			exitWithError(err)
		}

		if emailsInteractive {
			config.NoColor = noColor
			model, err := NewEmailTable(emails, client, formatter, config)
			if err != nil {
				formatter.PrintError(err)
				os.Exit(exitFatal)
			}
			if _, err := tea.NewProgram(model).Run(); err != nil {
				formatter.PrintError(err)
				os.Exit(exitFatal)
			}
			return
		}

		if err := formatter.PrintEmails(emails); err != nil {
			formatter.PrintError(err)
			os.Exit(exitFatal)
		}
	},
}

var emailsGetCmd = &cobra.Command{
	Use:   "get <id>",
	Short: "Show one analyzed email with entities and action items",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		id, ok := parseID(args[0])
		if !ok {
			fmt.Fprintf(os.Stderr, "Invalid email ID: %s\n", args[0])
			os.Exit(exitInvalidInput)
		}

		_, formatter, client, err := initializeClient()
		if err != nil {
			exitWithError(err)
		}

		email, err := client.GetEmail(id)
		if err != nil {
			formatter.PrintError(err)
			exitWithError(err)
		}
		if err := formatter.PrintEmail(email); err != nil {
			formatter.PrintError(err)
			os.Exit(exitFatal)
		}
	},
}

func init() {
	emailsListCmd.Flags().IntVar(&emailsAccountID, "account", 0, "Filter by account ID")
	emailsListCmd.Flags().IntVar(&emailsLimit, "limit", 50, "Maximum emails to show")
	emailsListCmd.Flags().IntVar(&emailsOffset, "offset", 0, "Pagination offset")
	emailsListCmd.Flags().BoolVarP(&emailsInteractive, "interactive", "i", false, "Interactive table mode")

	emailsCmd.AddCommand(emailsListCmd)
	emailsCmd.AddCommand(emailsGetCmd)
	rootCmd.AddCommand(emailsCmd)
}
