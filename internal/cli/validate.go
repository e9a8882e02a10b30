package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/spf13/cobra"

	"github.com/roach88/replica/internal/config"
	"github.com/roach88/replica/internal/harness"
)

// ValidationError is one problem found by the validate command.
type ValidationError struct {
	Path    string `json:"path"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// ValidationResult holds validation results.
type ValidationResult struct {
	Valid   bool              `json:"valid"`
	Checked int               `json:"checked"`
	Errors  []ValidationError `json:"errors,omitempty"`
}

// NewValidateCommand creates the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate [scenarios-path...]",
		Short: "Validate the config file and scenario files",
		Long: `Validate the config file given with --config and any scenario files or
directories given as arguments, without connecting to a remote.

Config checks cover the query, publication (filter and CUE), sort,
pagination, logging and serve sections. Scenario checks cover structure,
step and assertion fields.

Example:
  replica validate --config replica.yaml
  replica validate ./testdata/scenarios
  replica validate --config replica.yaml ./testdata/scenarios --format json`,
		SilenceUsage:  true, // Don't print usage on errors
		SilenceErrors: true, // Don't print errors - we handle our own error output
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(rootOpts, args, cmd)
		},
	}

	return cmd
}

func runValidate(opts *RootOptions, paths []string, cmd *cobra.Command) error {
	formatter := opts.formatter(cmd)

	if opts.Config == "" && len(paths) == 0 {
		return outputValidateError(formatter, ErrCodeGeneric, "nothing to validate: pass --config or scenario paths", nil)
	}

	result := ValidationResult{}

	if opts.Config != "" {
		formatter.VerboseLog("Validating config: %s", opts.Config)
		result.Checked++
		if _, err := config.Load(opts.Config); err != nil {
			result.Errors = append(result.Errors, ValidationError{Path: opts.Config, Code: configErrorCode(opts.Config), Message: err.Error()})
		}
	}

	for _, path := range paths {
		files, err := harness.DiscoverScenarios(path)
		if err != nil {
			code := ErrCodeGeneric
			if errors.Is(err, fs.ErrNotExist) {
				code = ErrCodeNotFound
			}
			result.Errors = append(result.Errors, ValidationError{Path: path, Code: code, Message: err.Error()})
			continue
		}
		formatter.VerboseLog("Found %d scenario file(s) in %s", len(files), path)

		for _, file := range files {
			formatter.VerboseLog("Validating scenario: %s", file)
			result.Checked++
			if _, err := harness.LoadScenario(file); err != nil {
				result.Errors = append(result.Errors, ValidationError{Path: file, Code: ErrCodeScenario, Message: err.Error()})
			}
		}
	}

	if len(result.Errors) > 0 {
		return outputValidationErrors(formatter, result)
	}

	// Output success
	result.Valid = true
	return outputValidateSuccess(formatter, result)
}

func configErrorCode(path string) string {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return ErrCodeNotFound
	}
	return ErrCodeConfig
}

// outputValidateSuccess outputs successful validation results.
func outputValidateSuccess(formatter *OutputFormatter, result ValidationResult) error {
	if formatter.Format == "json" {
		return formatter.Success(result)
	}

	fmt.Fprintf(formatter.Writer, "✓ All %d file(s) valid\n", result.Checked)
	return nil
}

// outputValidateError outputs a single validation error.
func outputValidateError(formatter *OutputFormatter, code, message string, details any) error {
	_ = formatter.Error(code, message, details)
	// Validation errors are command-level errors (exit code 2)
	return NewExitError(ExitCommandError, fmt.Sprintf("%s: %s", code, message))
}

// outputValidationErrors outputs multiple validation errors.
func outputValidationErrors(formatter *OutputFormatter, result ValidationResult) error {
	errs := result.Errors
	if formatter.Format == "json" {
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
		fmt.Fprintf(formatter.Writer, "%s\n", err.Path)
		fmt.Fprintf(formatter.Writer, "  %s: %s\n\n", err.Code, err.Message)
	}

	// Validation failures = exit code 1 (test/validation failure)
	return NewExitError(ExitFailure, fmt.Sprintf("validation failed with %d error(s)", len(errs)))
}
