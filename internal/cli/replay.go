package cli

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/roach88/convlog/internal/harness"
	"github.com/roach88/convlog/internal/history"
	"github.com/roach88/convlog/internal/relay"
)

// ReplayOptions holds flags for the replay command.
type ReplayOptions struct {
	*RootOptions
	GoldenDir string // defaults to <scenarios-dir>/golden
	Update    bool   // regenerate golden files
	Filter    string // scenario filter (glob pattern)
	Parallel  int    // scenarios run at once
	NATSURL   string // relay every scenario's streams when set

	// publisher replaces the NATS connection when set.
	publisher relay.Publisher
}

// ScenarioResult holds the result of a single scenario execution.
type ScenarioResult struct {
	Name   string   `json:"name"`
	File   string   `json:"file"`
	Pass   bool     `json:"pass"`
	Golden string   `json:"golden"` // "match", "mismatch", "updated" or "missing"
	Errors []string `json:"errors,omitempty"`
}

// ReplayResult holds the overall replay result.
type ReplayResult struct {
	Scenarios []ScenarioResult `json:"scenarios"`
	Passed    int              `json:"passed"`
	Failed    int              `json:"failed"`
	Total     int              `json:"total"`
	Relayed   int64            `json:"relayed,omitempty"`
}

// Golden comparison states.
const (
	goldenMatch    = "match"
	goldenMismatch = "mismatch"
	goldenUpdated  = "updated"
	goldenMissing  = "missing"
)

// NewReplayCommand creates the replay command.
func NewReplayCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ReplayOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "replay <scenarios-dir>",
		Short: "Replay scenario files against fresh conversations",
		Long: `Replay every scenario file in a directory against a fresh conversation,
evaluate its assertions and compare its snapshot with the golden file.

A scenario without a golden file passes on assertions alone.

Exit codes:
  0 - All scenarios passed
  1 - One or more scenarios failed
  2 - Command error (invalid paths, NATS unreachable, etc.)

Examples:
  convlog replay ./testdata/scenarios
  convlog replay ./testdata/scenarios --filter "clear_*"
  convlog replay ./testdata/scenarios --golden ./testdata/golden --update
  convlog replay ./testdata/scenarios --nats nats://localhost:4222`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReplay(cmd.Context(), opts, args[0], cmd.OutOrStdout(), cmd.ErrOrStderr())
		},
	}

	cmd.Flags().StringVar(&opts.GoldenDir, "golden", "", "golden file directory (default <scenarios-dir>/golden)")
	cmd.Flags().BoolVar(&opts.Update, "update", false, "regenerate golden files")
	cmd.Flags().StringVar(&opts.Filter, "filter", "", "filter scenarios by glob pattern")
	cmd.Flags().IntVar(&opts.Parallel, "parallel", 4, "number of scenarios replayed at once")
	cmd.Flags().StringVar(&opts.NATSURL, "nats", "", "relay conversation streams to this NATS server")

	return cmd
}

func runReplay(ctx context.Context, opts *ReplayOptions, dir string, out, errOut io.Writer) error {
	if ctx == nil {
		ctx = context.Background()
	}
	formatter := newFormatter(opts.RootOptions, out, errOut)
	logger := opts.logger(errOut)

	if info, err := os.Stat(dir); err != nil || !info.IsDir() {
		return NewExitError(ExitCommandError, fmt.Sprintf("scenarios directory not found: %s", dir))
	}
	if opts.Parallel < 1 {
		return NewExitError(ExitCommandError, "--parallel must be at least 1")
	}
	goldenDir := opts.GoldenDir
	if goldenDir == "" {
		goldenDir = filepath.Join(dir, "golden")
	}

	files, err := findScenarioFiles(dir, opts.Filter)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to find scenarios", err)
	}

	pub := opts.publisher
	natsURL := opts.NATSURL
	if natsURL == "" {
		natsURL = opts.Config.NATS.URL
	}
	if pub == nil && natsURL != "" {
		nc, err := relay.Dial(natsURL, opts.Config.NATS.Name, logger)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to connect to NATS", err)
		}
		defer nc.Close()
		pub = nc
	}
	var rel *relay.Relay
	if pub != nil {
		rel = relay.New(pub, opts.Config.NATS.SubjectPrefix, relay.WithLogger(logger))
	}

	result := ReplayResult{
		Scenarios: make([]ScenarioResult, len(files)),
		Total:     len(files),
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(opts.Parallel)
	for i, file := range files {
		i, file := i, file
		g.Go(func() error {
			runOpts := []harness.Option{harness.WithLogger(logger)}
			if rel != nil {
				runOpts = append(runOpts, harness.WithObserver(func(c *history.Conversation) {
					rel.Attach(ctx, c)
				}))
			}
			result.Scenarios[i] = replayScenario(file, goldenDir, opts.Update, runOpts)
			formatter.VerboseLog("replayed %s", file)
			return gctx.Err()
		})
	}
	if err := g.Wait(); err != nil {
		return WrapExitError(ExitCommandError, "replay interrupted", err)
	}

	if rel != nil {
		rel.Wait()
		result.Relayed = rel.Published()
	}

	for _, s := range result.Scenarios {
		if s.Pass {
			result.Passed++
		} else {
			result.Failed++
		}
	}

	if formatter.JSON() {
		if result.Failed > 0 {
			msg := fmt.Sprintf("%d scenario(s) failed", result.Failed)
			if err := formatter.Failure("E_SCENARIO_FAILED", msg, result); err != nil {
				return err
			}
			return NewExitError(ExitFailure, msg)
		}
		return formatter.Success(result)
	}
	return outputReplayText(out, result)
}

// findScenarioFiles finds all YAML scenario files directly in dir, sorted.
func findScenarioFiles(dir, filter string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}

	var files []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		ext := filepath.Ext(e.Name())
		if ext != ".yaml" && ext != ".yml" {
			continue
		}
		if filter != "" {
			matched, err := filepath.Match(filter, strings.TrimSuffix(e.Name(), ext))
			if err != nil {
				return nil, fmt.Errorf("invalid filter pattern: %w", err)
			}
			if !matched {
				continue
			}
		}
		files = append(files, filepath.Join(dir, e.Name()))
	}
	return files, nil
}

// replayScenario runs one scenario file and compares or updates its golden file.
func replayScenario(file, goldenDir string, update bool, runOpts []harness.Option) ScenarioResult {
	res := ScenarioResult{Name: filepath.Base(file), File: file}

	scenario, err := harness.LoadScenario(file)
	if err != nil {
		res.Errors = []string{fmt.Sprintf("failed to load scenario: %v", err)}
		return res
	}
	res.Name = scenario.Name

	result, err := harness.Run(scenario, runOpts...)
	if err != nil {
		res.Errors = []string{fmt.Sprintf("execution failed: %v", err)}
		return res
	}
	res.Errors = result.Errors

	data, err := harness.MarshalSnapshot(&result.Snapshot)
	if err != nil {
		res.Errors = append(res.Errors, fmt.Sprintf("failed to marshal snapshot: %v", err))
		return res
	}

	goldenPath := filepath.Join(goldenDir, scenario.Name+".golden")
	switch {
	case update:
		if err := os.MkdirAll(goldenDir, 0755); err != nil {
			res.Errors = append(res.Errors, fmt.Sprintf("failed to create golden directory: %v", err))
			return res
		}
		if err := os.WriteFile(goldenPath, data, 0644); err != nil {
			res.Errors = append(res.Errors, fmt.Sprintf("failed to write golden file: %v", err))
			return res
		}
		res.Golden = goldenUpdated
	default:
		want, err := os.ReadFile(goldenPath)
		switch {
		case os.IsNotExist(err):
			res.Golden = goldenMissing
		case err != nil:
			res.Errors = append(res.Errors, fmt.Sprintf("failed to read golden file: %v", err))
			return res
		case bytes.Equal(want, data):
			res.Golden = goldenMatch
		default:
			res.Golden = goldenMismatch
			res.Errors = append(res.Errors, "snapshot does not match golden file (run with --update to regenerate)")
		}
	}

	res.Pass = len(res.Errors) == 0
	return res
}

func outputReplayText(w io.Writer, result ReplayResult) error {
	for _, s := range result.Scenarios {
		if s.Pass {
			note := ""
			if s.Golden == goldenUpdated {
				note = " (golden updated)"
			}
			fmt.Fprintf(w, "✓ %s%s\n", s.Name, note)
			continue
		}
		fmt.Fprintf(w, "✗ %s\n", s.Name)
		for _, e := range s.Errors {
			for _, line := range strings.Split(strings.TrimRight(e, "\n"), "\n") {
				fmt.Fprintf(w, "  %s\n", line)
			}
		}
	}

	fmt.Fprintln(w)
	fmt.Fprintf(w, "Replay Summary: %d passed, %d failed, %d total\n", result.Passed, result.Failed, result.Total)
	if result.Relayed > 0 {
		fmt.Fprintf(w, "Relayed %d message(s)\n", result.Relayed)
	}

	if result.Failed > 0 {
		return NewExitError(ExitFailure, fmt.Sprintf("%d scenario(s) failed", result.Failed))
	}
	if result.Total == 0 {
		fmt.Fprintln(w, "No scenarios found.")
		return nil
	}
	fmt.Fprintln(w, "✓ All scenarios passed")
	return nil
}
