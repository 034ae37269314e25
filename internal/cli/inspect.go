package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/roach88/convlog/internal/archive"
	"github.com/roach88/convlog/internal/engine"
	"github.com/roach88/convlog/internal/history"
	"github.com/roach88/convlog/internal/ir"
)

// InspectOptions holds flags for the inspect command.
type InspectOptions struct {
	*RootOptions
	Database     string
	Account      string        // optional - one account only
	Conversation string        // optional - one conversation only
	History      bool          // print every record
	Verify       bool          // rebuild twice and compare digests
	Timeout      time.Duration // bound on restoring the archive
}

// RecordLine is one record of a printed history.
type RecordLine struct {
	Identity  string `json:"identity"`
	ParentID  string `json:"parent_id,omitempty"`
	Timestamp int64  `json:"timestamp"`
	Kind      string `json:"kind"`
	Status    string `json:"status"`
	Read      bool   `json:"read,omitempty"`
	Seq       int64  `json:"seq"`
}

// ConversationReport describes one restored conversation.
type ConversationReport struct {
	Account       string       `json:"account"`
	Conversation  string       `json:"conversation"`
	Mode          string       `json:"mode"`
	Records       int          `json:"records"`
	Loaded        bool         `json:"loaded"`
	Roots         []string     `json:"roots"`
	Orphans       []string     `json:"orphans"`
	LastDisplayed string       `json:"last_displayed,omitempty"`
	Digest        string       `json:"digest"`
	Deterministic *bool        `json:"deterministic,omitempty"`
	History       []RecordLine `json:"history,omitempty"`
}

// InspectResult holds the overall inspect result.
type InspectResult struct {
	Conversations    []ConversationReport `json:"conversations"`
	Total            int                  `json:"total"`
	AllDeterministic bool                 `json:"all_deterministic"`
}

// NewInspectCommand creates the inspect command.
func NewInspectCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &InspectOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "inspect",
		Short: "Restore an archive and report every conversation",
		Long: `Restore every conversation in an archive through the engine and report
its linear history, missing ancestors and orphans.

With --verify, each conversation is also rebuilt twice from the archive
in fresh conversations, and the history digests must all agree.

Exit codes:
  0 - Success (and, with --verify, every rebuild agreed)
  1 - A rebuild disagreed with the restored history
  2 - Command error (archive not found, restore timed out, etc.)

Examples:
  convlog inspect --db ./convlog.db
  convlog inspect --db ./convlog.db --conversation swarm:abc --history
  convlog inspect --db ./convlog.db --verify --format json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInspect(cmd.Context(), opts, cmd.OutOrStdout(), cmd.ErrOrStderr())
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to the SQLite archive (default archive.path from config)")
	cmd.Flags().StringVar(&opts.Account, "account", "", "inspect one account only")
	cmd.Flags().StringVar(&opts.Conversation, "conversation", "", "inspect one conversation only")
	cmd.Flags().BoolVar(&opts.History, "history", false, "print every record")
	cmd.Flags().BoolVar(&opts.Verify, "verify", false, "rebuild each conversation and compare digests")
	cmd.Flags().DurationVar(&opts.Timeout, "timeout", 30*time.Second, "restore timeout")

	return cmd
}

func runInspect(ctx context.Context, opts *InspectOptions, out, errOut io.Writer) error {
	if ctx == nil {
		ctx = context.Background()
	}
	formatter := newFormatter(opts.RootOptions, out, errOut)
	logger := opts.logger(errOut)

	db := opts.Database
	if db == "" {
		db = opts.Config.Archive.Path
	}
	if db == "" {
		return NewExitError(ExitCommandError, "no archive: pass --db or set archive.path")
	}
	// archive.Open would create a missing file
	if _, err := os.Stat(db); err != nil {
		return WrapExitError(ExitCommandError, "archive not found", err)
	}

	st, err := archive.Open(db)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open archive", err)
	}
	defer st.Close()

	eng, err := restoreEngine(ctx, opts, st, logger)
	if err != nil {
		return err
	}
	defer eng.Close()

	result := InspectResult{AllDeterministic: true, Conversations: []ConversationReport{}}
	for _, key := range eng.Keys() {
		if opts.Account != "" && key.Account != opts.Account {
			continue
		}
		if opts.Conversation != "" && key.Conversation != opts.Conversation {
			continue
		}
		conv, _ := eng.Conversation(key)
		report := reportConversation(conv, opts.History)

		if opts.Verify {
			ok, err := verifyConversation(ctx, opts, st, conv, report.Digest, logger)
			if err != nil {
				return WrapExitError(ExitCommandError, fmt.Sprintf("failed to rebuild %s", key), err)
			}
			report.Deterministic = &ok
			if !ok {
				result.AllDeterministic = false
			}
		}
		result.Conversations = append(result.Conversations, report)
	}
	result.Total = len(result.Conversations)

	if formatter.JSON() {
		if !result.AllDeterministic {
			if err := formatter.Failure("E_NONDETERMINISTIC", "rebuilt history differs from restored history", result); err != nil {
				return err
			}
			return NewExitError(ExitFailure, "rebuilt history differs from restored history")
		}
		return formatter.Success(result)
	}
	return outputInspectText(out, result, opts.Verify)
}

// restoreEngine runs the engine until every archived conversation has loaded.
func restoreEngine(ctx context.Context, opts *InspectOptions, st *archive.Store, logger *slog.Logger) (*engine.Engine, error) {
	maxSeq, err := st.MaxSeq(ctx)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to read archive", err)
	}

	eng := engine.New(
		engine.WithArchive(st),
		engine.WithLogger(logger),
		engine.WithClock(engine.NewClockAt(maxSeq)),
		engine.WithConversationOptions(opts.conversationOptions()...),
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return eng.Run(gctx)
	})

	tokens, restoreErr := eng.Restore(ctx)

	waitCtx, cancel := context.WithTimeout(ctx, opts.Timeout)
	defer cancel()
	var waitErr error
	for _, tok := range tokens {
		if err := tok.Wait(waitCtx); err != nil {
			waitErr = err
			break
		}
	}

	eng.Stop()
	if err := g.Wait(); err != nil {
		return nil, WrapExitError(ExitCommandError, "engine stopped", err)
	}
	if restoreErr != nil {
		return nil, WrapExitError(ExitCommandError, "failed to restore archive", restoreErr)
	}
	if waitErr != nil {
		return nil, WrapExitError(ExitCommandError, "failed to load conversation", waitErr)
	}
	return eng, nil
}

func reportConversation(conv *history.Conversation, withHistory bool) ConversationReport {
	report := ConversationReport{
		Account:      conv.AccountID(),
		Conversation: conv.URI(),
		Mode:         string(conv.Mode()),
		Records:      conv.Len(),
		Loaded:       conv.IsLoaded(),
		Roots:        nonNil(conv.Roots()),
		Orphans:      nonNil(conv.Orphans()),
		Digest:       ir.HistoryDigest(conv.Identities()),
	}
	if rec, ok := conv.LastDisplayed(); ok {
		report.LastDisplayed = rec.Identity()
	}
	if withHistory {
		for _, r := range conv.SortedHistory() {
			report.History = append(report.History, RecordLine{
				Identity:  r.Identity(),
				ParentID:  r.ParentID,
				Timestamp: r.Timestamp,
				Kind:      string(r.Kind),
				Status:    string(r.Status),
				Read:      r.Read,
				Seq:       r.Seq,
			})
		}
	}
	return report
}

// verifyConversation rebuilds conv from the archive twice, outside the
// engine, and compares each digest with the restored one.
func verifyConversation(ctx context.Context, opts *InspectOptions, st *archive.Store, conv *history.Conversation, digest string, logger *slog.Logger) (bool, error) {
	recs, err := st.LoadConversation(ctx, conv.AccountID(), conv.URI())
	if err != nil {
		return false, err
	}

	mode := orderingMode(conv)
	for i := 0; i < 2; i++ {
		rebuilt := history.NewConversation(conv.AccountID(), conv.URI(), mode,
			append(opts.conversationOptions(), history.WithLogger(logger))...)
		_, err := rebuilt.InsertBatch(recs)
		got := ir.HistoryDigest(rebuilt.Identities())
		rebuilt.Close()
		if err != nil {
			return false, err
		}
		if got != digest {
			logger.Warn("rebuild differs from restored history",
				"conversation", conv.URI(),
				"pass", i+1,
				"restored", digest,
				"rebuilt", got)
			return false, nil
		}
	}
	return true, nil
}

// orderingMode returns a mode that selects the same ordering strategy as
// conv. SetMode changes the tag but never the strategy.
func orderingMode(conv *history.Conversation) ir.Mode {
	if _, legacy := conv.Ordering().(*history.LegacyOrdering); legacy {
		return ir.ModeLegacy
	}
	if mode := conv.Mode(); mode != ir.ModeLegacy {
		return mode
	}
	return ir.ModeOneToOne
}

func outputInspectText(w io.Writer, result InspectResult, verify bool) error {
	if result.Total == 0 {
		fmt.Fprintln(w, "No conversations found in archive.")
		return nil
	}

	for _, c := range result.Conversations {
		fmt.Fprintf(w, "%s/%s (%s)\n", c.Account, c.Conversation, c.Mode)
		fmt.Fprintf(w, "  Records:  %d\n", c.Records)
		fmt.Fprintf(w, "  Loaded:   %t\n", c.Loaded)
		if len(c.Roots) > 0 {
			fmt.Fprintf(w, "  Missing:  %v\n", c.Roots)
		}
		if len(c.Orphans) > 0 {
			fmt.Fprintf(w, "  Orphans:  %v\n", c.Orphans)
		}
		if c.LastDisplayed != "" {
			fmt.Fprintf(w, "  Displayed: %s\n", c.LastDisplayed)
		}
		fmt.Fprintf(w, "  Digest:   %s\n", c.Digest)
		if c.Deterministic != nil {
			if *c.Deterministic {
				fmt.Fprintln(w, "  Rebuild:  ✓ deterministic")
			} else {
				fmt.Fprintln(w, "  Rebuild:  ✗ differs")
			}
		}
		for i, r := range c.History {
			parent := ""
			if r.ParentID != "" {
				parent = " <- " + r.ParentID
			}
			fmt.Fprintf(w, "    [%d] %s%s %s %s\n", i, r.Identity, parent, r.Kind, r.Status)
		}
		fmt.Fprintln(w)
	}

	fmt.Fprintf(w, "Total: %d conversation(s)\n", result.Total)
	if verify {
		if !result.AllDeterministic {
			return NewExitError(ExitFailure, "rebuilt history differs from restored history")
		}
		fmt.Fprintln(w, "✓ All conversations rebuild deterministically")
	}
	return nil
}

func nonNil(ss []string) []string {
	if ss == nil {
		return []string{}
	}
	return ss
}
