package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/charmbracelet/fang"
	"github.com/spf13/cobra"

	cliapi "mail-insights/internal/cli"
)

// errInvalidConfig marks flag or environment validation failures.
var errInvalidConfig = errors.New("invalid configuration")

var (
	serverURL string
	format    string
	quiet     bool
	noColor   bool
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "mail-insights",
	Short: "CLI client for the mail insights API",
	Long: `Mail Insights CLI manages email accounts, processing schedules, and
analyzed emails through the REST API. Schedules fetch mail over IMAP on a
cron cadence and run each message through LLM analysis.`,
	Version: "1.0.0",
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	fang.Execute(context.Background(), rootCmd)
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&serverURL, "server", "s", "http://localhost:8080", "API server address")
	rootCmd.PersistentFlags().StringVarP(&format, "format", "f", "table", "Output format (table, json)")
	rootCmd.PersistentFlags().BoolVarP(&quiet, "quiet", "q", false, "Quiet mode (minimal output)")
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "Disable color output")

	rootCmd.PersistentFlags().Lookup("server").DefValue = getEnvOrDefault("MAIL_INSIGHTS_CLI_SERVER", "http://localhost:8080")
	rootCmd.PersistentFlags().Lookup("no-color").DefValue = getEnvOrDefault("NO_COLOR", "false")
}

// getEnvOrDefault returns environment variable value or default
func getEnvOrDefault(envVar, defaultVal string) string {
	if val := os.Getenv(envVar); val != "" {
		return val
	}
	return defaultVal
}

// initializeClient sets up configuration, formatter, and API client
func initializeClient() (*cliapi.Config, *cliapi.OutputFormatter, *cliapi.Client, error) {
	config, err := cliapi.LoadConfig(serverURL, format, quiet)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("%w: %v", errInvalidConfig, err)
	}

	formatter := cliapi.NewOutputFormatterWithColor(config.Format, config.Quiet, noColor)
	client := cliapi.NewClientWithTimeout(config.ServerURL, config.RequestTimeout)

	if err := client.HealthCheck(); err != nil {
		formatter.PrintError(err)
		return nil, nil, nil, err
	}

	return config, formatter, client, nil
}
