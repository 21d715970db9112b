// Package cli implements storefrontctl, the operator tool for inspecting and
// repairing device sessions.
package cli

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"imi-storefront/internal/config"
)

// Exit codes for storefrontctl.
const (
	ExitSuccess      = 0
	ExitFailure      = 1 // the device has no session, or the backend refused
	ExitCommandError = 2 // bad flags or an unreachable store
)

// ExitError carries the process exit code for a failed command.
type ExitError struct {
	Code    int
	Message string
	Err     error
}

func (e *ExitError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *ExitError) Unwrap() error { return e.Err }

func failure(code int, msg string, err error) *ExitError {
	return &ExitError{Code: code, Message: msg, Err: err}
}

// ExitCode extracts the exit code from err. Errors that are not an
// ExitError exit with ExitFailure.
func ExitCode(err error) int {
	if err == nil {
		return ExitSuccess
	}
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}
	return ExitFailure
}

// RootOptions holds global flags for all commands.
type RootOptions struct {
	DSN        string
	BackendURL string
	Timeout    time.Duration
	Format     string // "json" | "text"
}

var validFormats = []string{"text", "json"}

// NewRootCommand builds storefrontctl with flag defaults taken from cfg.
func NewRootCommand(cfg config.Config) *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "storefrontctl",
		Short: "Inspect and repair storefront device sessions",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			for _, f := range validFormats {
				if f == opts.Format {
					return nil
				}
			}
			return failure(ExitCommandError, fmt.Sprintf("invalid format %q: must be one of %v", opts.Format, validFormats), nil)
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVar(&opts.DSN, "dsn", cfg.StoreDSN, "session store dsn (memory://, sqlite://path, postgres://...)")
	cmd.PersistentFlags().StringVar(&opts.BackendURL, "backend", cfg.BackendURL, "commerce backend base url")
	cmd.PersistentFlags().DurationVar(&opts.Timeout, "timeout", cfg.BackendTimeout, "backend request timeout")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")

	cmd.AddCommand(newTokenCommand(opts))
	cmd.AddCommand(newSyncCommand(opts))
	cmd.AddCommand(newCartCommand(opts))

	return cmd
}
