package cli

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/capsync/internal/config"
	"github.com/roach88/capsync/internal/harness"
)

// Validation error codes.
const (
	ErrCodeConfig   = "E_CONFIG"
	ErrCodeScenario = "E_SCENARIO"
)

// ValidationError is one problem found by validate.
type ValidationError struct {
	Code    string `json:"code"`
	Source  string `json:"source"` // "environment" or a scenario path
	Message string `json:"message"`
}

// ValidationResult holds validation results.
type ValidationResult struct {
	Valid     bool              `json:"valid"`
	Scenarios int               `json:"scenarios"`
	Errors    []ValidationError `json:"errors,omitempty"`
}

// NewValidateCommand creates the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate [scenario.yaml...]",
		Short: "Validate configuration and scenario files",
		Long: `Validate the CAPSYNC_* environment configuration, with --db and
--artifacts applied, and parse any scenario files given as arguments.

Nothing is opened or executed. Every problem is reported, not only the
first one.`,
		SilenceUsage:  true, // Don't print usage on errors
		SilenceErrors: true, // Don't print errors - we handle our own error output
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(rootOpts, args, cmd)
		},
	}

	return cmd
}

func runValidate(opts *RootOptions, scenarios []string, cmd *cobra.Command) error {
	formatter := newFormatter(opts, cmd)

	var errs []ValidationError
	cfg, err := config.Load()
	if err == nil {
		if opts.DBPath != "" {
			cfg.DBPath = opts.DBPath
		}
		if opts.ArtifactsRoot != "" {
			cfg.ArtifactsRoot = opts.ArtifactsRoot
		}
		err = cfg.Validate()
	}
	for _, e := range flattenErrors(err) {
		errs = append(errs, ValidationError{Code: ErrCodeConfig, Source: "environment", Message: e.Error()})
	}
	if err == nil {
		formatter.VerboseLog("Configuration valid: db=%s artifacts=%s workers=%d",
			cfg.DBPath, cfg.ArtifactsRoot, cfg.CorrelationWorkers)
	}

	for _, path := range scenarios {
		s, err := harness.LoadScenario(path)
		if err != nil {
			errs = append(errs, ValidationError{Code: ErrCodeScenario, Source: path, Message: err.Error()})
			continue
		}
		formatter.VerboseLog("Scenario %s: %d step(s), %d assertion(s)", s.Name, len(s.Steps), len(s.Assertions))
	}

	if len(errs) > 0 {
		return outputValidationErrors(formatter, errs, len(scenarios))
	}
	return outputValidateSuccess(formatter, len(scenarios))
}

// flattenErrors splits joined errors into their parts, dropping the
// "config: " wrapper so each message stands alone.
func flattenErrors(err error) []error {
	if err == nil {
		return nil
	}
	if joined, ok := err.(interface{ Unwrap() []error }); ok {
		var out []error
		for _, e := range joined.Unwrap() {
			out = append(out, flattenErrors(e)...)
		}
		return out
	}
	if inner := errors.Unwrap(err); inner != nil {
		if _, ok := inner.(interface{ Unwrap() []error }); ok {
			return flattenErrors(inner)
		}
	}
	return []error{err}
}

func outputValidateSuccess(formatter *OutputFormatter, scenarios int) error {
	if formatter.Format == "json" {
		result := ValidationResult{Valid: true, Scenarios: scenarios}
		return formatter.Success(result)
	}

	if scenarios > 0 {
		fmt.Fprintf(formatter.Writer, "✓ Configuration and %d scenario(s) valid\n", scenarios)
		return nil
	}
	fmt.Fprintln(formatter.Writer, "✓ Configuration valid")
	return nil
}

// outputValidationErrors outputs multiple validation errors.
func outputValidationErrors(formatter *OutputFormatter, errs []ValidationError, scenarios int) error {
	if formatter.Format == "json" {
		result := ValidationResult{
			Valid:     false,
			Scenarios: scenarios,
			Errors:    errs,
		}

		response := CLIResponse{
			Status: "error",
			Data:   result,
			Error: &CLIError{
				Code:    errs[0].Code,
				Message: errs[0].Message,
			},
		}

		encoder := json.NewEncoder(formatter.Writer)
		encoder.SetIndent("", "  ")
		if err := encoder.Encode(response); err != nil {
			return err
		}

		// Validation failures = exit code 1 (test/validation failure)
		return NewExitError(ExitFailure, fmt.Sprintf("validation failed with %d error(s)", len(errs)))
	}

	// Text format
	fmt.Fprintln(formatter.Writer, "✗ Validation failed")
	fmt.Fprintln(formatter.Writer)

	for _, err := range errs {
		fmt.Fprintf(formatter.Writer, "  %s [%s]: %s\n", err.Code, err.Source, err.Message)
	}

	// Validation failures = exit code 1 (test/validation failure)
	return NewExitError(ExitFailure, fmt.Sprintf("validation failed with %d error(s)", len(errs)))
}
