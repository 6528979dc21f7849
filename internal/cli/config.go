package cli

import (
	"fmt"
	"os"
	"strings"
	"time"
)

// Config holds the CLI client settings.
type Config struct {
	ServerURL      string
	Format         string
	Quiet          bool
	NoColor        bool
	RequestTimeout time.Duration
}

// LoadConfig validates flag values and applies environment overrides.
func LoadConfig(serverURL, format string, quiet bool) (*Config, error) {
	if env := os.Getenv("MAIL_INSIGHTS_CLI_SERVER"); env != "" && serverURL == "" {
		serverURL = env
	}
	if serverURL == "" {
		serverURL = "http://localhost:8080"
	}
	if !strings.HasPrefix(serverURL, "http://") && !strings.HasPrefix(serverURL, "https://") {
		return nil, fmt.Errorf("server URL must start with http:// or https://, got %q", serverURL)
	}

	switch format {
	case "table", "json":
	case "":
		format = "table"
	default:
		return nil, fmt.Errorf("unsupported format %q (want table or json)", format)
	}

	timeout := 30 * time.Second
	if env := os.Getenv("MAIL_INSIGHTS_CLI_TIMEOUT"); env != "" {
		parsed, err := time.ParseDuration(env)
		if err != nil {
			return nil, fmt.Errorf("invalid MAIL_INSIGHTS_CLI_TIMEOUT %q: %w", env, err)
		}
		timeout = parsed
	}

	return &Config{
		ServerURL:      strings.TrimSuffix(serverURL, "/"),
		Format:         format,
		Quiet:          quiet,
		RequestTimeout: timeout,
	}, nil
}
