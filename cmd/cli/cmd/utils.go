package cmd

import (
	"errors"
	"os"
	"strconv"
	"strings"

	cliapi "mail-insights/internal/cli"
)

// Exit codes: 0 success, 2 invalid input, 3 transient failure, 4 fatal.
const (
	exitInvalidInput = 2
	exitTransient    = 3
	exitFatal        = 4
)

// exitWithError maps an error onto the CLI exit code convention.
func exitWithError(err error) {
	if errors.Is(err, errInvalidConfig) {
		os.Exit(exitInvalidInput)
	}
	var apiErr *cliapi.APIError
	if errors.As(err, &apiErr) {
		if apiErr.Code >= 500 {
			os.Exit(exitTransient)
		}
		os.Exit(exitInvalidInput)
	}
	if strings.Contains(err.Error(), "request failed") {
		// Server unreachable: worth retrying later.
		os.Exit(exitTransient)
	}
	os.Exit(exitFatal)
}

// parseID parses a positive integer argument.
func parseID(arg string) (int, bool) {
	id, err := strconv.Atoi(arg)
	if err != nil || id < 1 {
		return 0, false
	}
	return id, true
}
