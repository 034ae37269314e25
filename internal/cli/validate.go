package cli

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/convlog/internal/config"
	"github.com/roach88/convlog/internal/harness"
)

// ValidateOptions holds flags for the validate command.
type ValidateOptions struct {
	*RootOptions
	Kind string // "scenario" | "config"; .cue files are always config
}

// FileValidation is the outcome for one file.
type FileValidation struct {
	Path   string `json:"path"`
	Kind   string `json:"kind"`
	Valid  bool   `json:"valid"`
	Error  string `json:"error,omitempty"`
	Line   int    `json:"line,omitempty"`
	Column int    `json:"column,omitempty"`
}

// ValidationResult holds validation results.
type ValidationResult struct {
	Valid bool             `json:"valid"`
	Files []FileValidation `json:"files"`
}

// File kinds.
const (
	kindScenario = "scenario"
	kindConfig   = "config"
)

// NewValidateCommand creates the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ValidateOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "validate <path>...",
		Short: "Validate scenario and configuration files",
		Long: `Validate scenario files and configuration files without running them.

Directories are searched (non-recursively) for .yaml and .yml files.
Files ending in .cue are always validated as configuration. Other files
are validated as scenarios unless --kind config is given.

Exit codes:
  0 - All files are valid
  1 - One or more files are invalid
  2 - Command error (path not found, etc.)

Examples:
  convlog validate ./testdata/scenarios
  convlog validate convlog.cue
  convlog validate --kind config convlog.yaml`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(opts, args, cmd.OutOrStdout(), cmd.ErrOrStderr())
		},
	}

	cmd.Flags().StringVar(&opts.Kind, "kind", kindScenario, "how to read .yaml files (scenario|config)")

	return cmd
}

func runValidate(opts *ValidateOptions, paths []string, out, errOut io.Writer) error {
	formatter := newFormatter(opts.RootOptions, out, errOut)

	if opts.Kind != kindScenario && opts.Kind != kindConfig {
		return NewExitError(ExitCommandError, fmt.Sprintf("invalid kind %q: must be scenario or config", opts.Kind))
	}

	files, err := expandPaths(paths)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to read path", err)
	}

	result := ValidationResult{Valid: true, Files: make([]FileValidation, 0, len(files))}
	for _, file := range files {
		kind := opts.Kind
		if strings.EqualFold(filepath.Ext(file), ".cue") {
			kind = kindConfig
		}
		formatter.VerboseLog("validating %s as %s", file, kind)

		v := validateFile(file, kind)
		if !v.Valid {
			result.Valid = false
		}
		result.Files = append(result.Files, v)
	}

	if formatter.JSON() {
		if !result.Valid {
			if err := formatter.Failure("E_INVALID", "validation failed", result); err != nil {
				return err
			}
			return NewExitError(ExitFailure, "validation failed")
		}
		return formatter.Success(result)
	}

	invalid := 0
	for _, v := range result.Files {
		if v.Valid {
			fmt.Fprintf(out, "✓ %s\n", v.Path)
			continue
		}
		invalid++
		if v.Line > 0 {
			fmt.Fprintf(out, "✗ %s:%d:%d\n  %s\n", v.Path, v.Line, v.Column, v.Error)
		} else {
			fmt.Fprintf(out, "✗ %s\n  %s\n", v.Path, v.Error)
		}
	}
	if invalid > 0 {
		return NewExitError(ExitFailure, fmt.Sprintf("%d file(s) invalid", invalid))
	}
	fmt.Fprintf(out, "✓ %d file(s) valid\n", len(result.Files))
	return nil
}

func validateFile(path, kind string) FileValidation {
	v := FileValidation{Path: path, Kind: kind, Valid: true}

	var err error
	if kind == kindConfig {
		_, err = config.Load(path)
	} else {
		_, err = harness.LoadScenario(path)
	}
	if err == nil {
		return v
	}

	v.Valid = false
	v.Error = err.Error()
	var cfgErr *config.Error
	if errors.As(err, &cfgErr) {
		v.Error = cfgErr.Message
		v.Line = cfgErr.Line
		v.Column = cfgErr.Column
	}
	return v
}

// expandPaths replaces directories with the YAML files they contain.
func expandPaths(paths []string) ([]string, error) {
	var files []string
	for _, p := range paths {
		info, err := os.Stat(p)
		if err != nil {
			return nil, err
		}
		if !info.IsDir() {
			files = append(files, p)
			continue
		}
		found, err := findScenarioFiles(p, "")
		if err != nil {
			return nil, err
		}
		files = append(files, found...)
	}
	return files, nil
}
