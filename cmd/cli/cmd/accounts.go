package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	cliapi "mail-insights/internal/cli"
)

var addAccountReq cliapi.CreateAccountRequest

var accountsCmd = &cobra.Command{
	Use:   "accounts",
	Short: "Manage email accounts",
}

var accountsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List configured email accounts",
	Run: func(cmd *cobra.Command, args []string) {
		_, formatter, client, err := initializeClient()
		if err != nil {
			exitWithError(err)
		}

		accounts, err := client.GetAccounts()
		if err != nil {
			formatter.PrintError(err)
			exitWithError(err)
		}
		if err := formatter.PrintAccounts(accounts); err != nil {
			formatter.PrintError(err)
			os.Exit(exitFatal)
		}
	},
}

var accountsAddCmd = &cobra.Command{
	Use:   "add",
	Short: "Register a new email account",
	Run: func(cmd *cobra.Command, args []string) {
		if addAccountReq.Address == "" || addAccountReq.IMAPHost == "" || addAccountReq.Username == "" {
			fmt.Fprintln(os.Stderr, "Flags --address, --host and --username are required")
			os.Exit(exitInvalidInput)
		}

		_, formatter, client, err := initializeClient()
		if err != nil {
			exitWithError(err)
		}

		account, err := client.CreateAccount(&addAccountReq)
		if err != nil {
			formatter.PrintError(err)
			exitWithError(err)
		}
		formatter.PrintSuccess(fmt.Sprintf("Account %d created for %s", account.ID, account.Address))
	},
}

func init() {
	accountsAddCmd.Flags().IntVar(&addAccountReq.UserID, "user", 1, "Owning user ID")
	accountsAddCmd.Flags().StringVar(&addAccountReq.Name, "name", "", "Display name")
	accountsAddCmd.Flags().StringVar(&addAccountReq.Address, "address", "", "Email address")
	accountsAddCmd.Flags().StringVar(&addAccountReq.IMAPHost, "host", "", "IMAP host")
	accountsAddCmd.Flags().IntVar(&addAccountReq.IMAPPort, "port", 993, "IMAP port")
	accountsAddCmd.Flags().StringVar(&addAccountReq.Username, "username", "", "IMAP username")
	accountsAddCmd.Flags().StringVar(&addAccountReq.AuthMethod, "auth", "password", "Auth method (password, oauth2)")
	accountsAddCmd.Flags().StringVar(&addAccountReq.Password, "password", "", "IMAP password")
	accountsAddCmd.Flags().StringVar(&addAccountReq.OAuthToken, "token", "", "OAuth2 access token")

	accountsCmd.AddCommand(accountsListCmd)
	accountsCmd.AddCommand(accountsAddCmd)
	rootCmd.AddCommand(accountsCmd)
}
