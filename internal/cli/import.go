package cli

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/roach88/convlog/internal/archive"
	"github.com/roach88/convlog/internal/engine"
	"github.com/roach88/convlog/internal/ir"
	"github.com/roach88/convlog/internal/relay"
)

// maxLineSize bounds one JSONL event.
const maxLineSize = 4 << 20

// ImportOptions holds flags for the import command.
type ImportOptions struct {
	*RootOptions
	Database string
	NATSURL  string

	// publisher replaces the NATS connection when set.
	publisher relay.Publisher
}

// ImportLine is one event of an import file.
type ImportLine struct {
	Op             string      `json:"op"`
	Account        string      `json:"account"`
	Conversation   string      `json:"conversation"`
	Mode           string      `json:"mode,omitempty"`
	Record         *ir.Record  `json:"record,omitempty"`
	Records        []ir.Record `json:"records,omitempty"`
	Patch          *ir.Patch   `json:"patch,omitempty"`
	Identity       string      `json:"identity,omitempty"`
	DeleteEntirely bool        `json:"delete_entirely,omitempty"`
	Visible        bool        `json:"visible,omitempty"`
	Contact        string      `json:"contact,omitempty"`
	Composing      bool        `json:"composing,omitempty"`
	Contacts       []string    `json:"contacts,omitempty"`
}

// MissingAncestors lists the unresolved parents of one conversation.
type MissingAncestors struct {
	Account      string   `json:"account"`
	Conversation string   `json:"conversation"`
	Identities   []string `json:"identities"`
}

// ImportResult summarizes an import.
type ImportResult struct {
	Events        int                `json:"events"`
	Conversations int                `json:"conversations"`
	Records       int                `json:"records"`
	Missing       []MissingAncestors `json:"missing"`
	Relayed       int64              `json:"relayed,omitempty"`
}

// NewImportCommand creates the import command.
func NewImportCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ImportOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "import <events.jsonl>",
		Short: "Feed a JSONL event log through the engine",
		Long: `Read one event per line and apply them in order through the engine,
writing accepted records to the archive.

Each line names an op (open, insert, update, remove, clear, mode,
visibility, read, composing, contacts) and the account and conversation
it targets. A conversation is opened on first sight with the line's mode,
or one_to_one when none is given.

Exit codes:
  0 - Success
  2 - Command error (unreadable file, malformed line, NATS unreachable)

Examples:
  convlog import events.jsonl --db ./convlog.db
  convlog import events.jsonl --db ./convlog.db --nats nats://localhost:4222`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runImport(cmd.Context(), opts, args[0], cmd.OutOrStdout(), cmd.ErrOrStderr())
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to the SQLite archive (default archive.path from config)")
	cmd.Flags().StringVar(&opts.NATSURL, "nats", "", "relay conversation streams to this NATS server")

	return cmd
}

func runImport(ctx context.Context, opts *ImportOptions, path string, out, errOut io.Writer) error {
	if ctx == nil {
		ctx = context.Background()
	}
	formatter := newFormatter(opts.RootOptions, out, errOut)
	logger := opts.logger(errOut)

	lines, err := readImportFile(path)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to read events", err)
	}
	steps, err := planImport(lines)
	if err != nil {
		return WrapExitError(ExitCommandError, "invalid event", err)
	}

	engOpts := []engine.Option{
		engine.WithLogger(logger),
		engine.WithConversationOptions(opts.conversationOptions()...),
	}

	db := opts.Database
	if db == "" {
		db = opts.Config.Archive.Path
	}
	if db != "" {
		st, err := archive.Open(db)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to open archive", err)
		}
		defer st.Close()

		maxSeq, err := st.MaxSeq(ctx)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to read archive", err)
		}
		engOpts = append(engOpts, engine.WithArchive(st), engine.WithClock(engine.NewClockAt(maxSeq)))
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

	eng := engine.New(engOpts...)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return eng.Run(gctx)
	})

	result := ImportResult{Missing: []MissingAncestors{}}
	for _, step := range steps {
		if _, ok := eng.Conversation(step.key); !ok {
			conv := eng.Open(step.key, step.mode)
			if rel != nil {
				rel.Attach(ctx, conv)
			}
		}
		if step.event != nil {
			eng.Enqueue(*step.event)
			result.Events++
		}
	}

	eng.Stop()
	if err := g.Wait(); err != nil {
		eng.Close()
		return WrapExitError(ExitCommandError, "engine stopped", err)
	}

	keys := eng.Keys()
	result.Conversations = len(keys)
	for _, key := range keys {
		conv, _ := eng.Conversation(key)
		result.Records += conv.Len()
	}
	for key, ids := range eng.MissingAncestors() {
		result.Missing = append(result.Missing, MissingAncestors{
			Account:      key.Account,
			Conversation: key.Conversation,
			Identities:   ids,
		})
	}
	sort.Slice(result.Missing, func(i, j int) bool {
		a, b := result.Missing[i], result.Missing[j]
		if a.Account != b.Account {
			return a.Account < b.Account
		}
		return a.Conversation < b.Conversation
	})

	// closing the conversations ends every relay subscription
	eng.Close()
	if rel != nil {
		rel.Wait()
		result.Relayed = rel.Published()
	}

	if formatter.JSON() {
		return formatter.Success(result)
	}
	return outputImportText(out, result, db)
}

// readImportFile decodes and validates every line before anything is
// applied, so a malformed file leaves the archive untouched.
func readImportFile(path string) ([]ImportLine, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var lines []ImportLine
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), maxLineSize)
	n := 0
	for sc.Scan() {
		n++
		raw := bytes.TrimSpace(sc.Bytes())
		if len(raw) == 0 || raw[0] == '#' {
			continue
		}

		var line ImportLine
		dec := json.NewDecoder(bytes.NewReader(raw))
		dec.DisallowUnknownFields()
		if err := dec.Decode(&line); err != nil {
			return nil, fmt.Errorf("line %d: %w", n, err)
		}
		if err := line.validate(); err != nil {
			return nil, fmt.Errorf("line %d: %w", n, err)
		}
		lines = append(lines, line)
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	return lines, nil
}

func (l ImportLine) validate() error {
	if l.Account == "" || l.Conversation == "" {
		return fmt.Errorf("account and conversation are required")
	}
	if l.Mode != "" {
		if _, err := ir.ParseMode(l.Mode); err != nil {
			return err
		}
	}
	if l.Op == "open" {
		return nil
	}
	typ, err := engine.ParseEventType(l.Op)
	if err != nil {
		return err
	}
	switch typ {
	case engine.EventTypeInsert:
		if l.Record == nil && len(l.Records) == 0 {
			return fmt.Errorf("insert requires record or records")
		}
	case engine.EventTypeUpdate:
		if l.Patch == nil || l.Patch.Identity == "" {
			return fmt.Errorf("update requires patch.identity")
		}
	case engine.EventTypeRemove:
		if l.Identity == "" {
			return fmt.Errorf("remove requires identity")
		}
	case engine.EventTypeMode:
		if l.Mode == "" {
			return fmt.Errorf("mode requires mode")
		}
	case engine.EventTypeComposing:
		if l.Contact == "" {
			return fmt.Errorf("composing requires contact")
		}
	}
	return nil
}

// importStep is one line resolved before the engine starts.
type importStep struct {
	key  engine.Key
	mode ir.Mode
	// nil for an open line without contacts
	event *engine.Event
}

// planImport resolves every line into the conversation it targets and the
// event it enqueues.
func planImport(lines []ImportLine) ([]importStep, error) {
	steps := make([]importStep, 0, len(lines))
	for i, line := range lines {
		st := importStep{
			key:  engine.Key{Account: line.Account, Conversation: line.Conversation},
			mode: ir.ModeOneToOne,
		}
		if line.Mode != "" {
			mode, err := ir.ParseMode(line.Mode)
			if err != nil {
				return nil, fmt.Errorf("event %d: %w", i+1, err)
			}
			st.mode = mode
		}

		switch {
		case line.Op == "open" && len(line.Contacts) > 0:
			st.event = &engine.Event{Type: engine.EventTypeContacts, Key: st.key, Contacts: line.Contacts}
		case line.Op != "open":
			ev, err := line.event(st.key)
			if err != nil {
				return nil, fmt.Errorf("event %d: %w", i+1, err)
			}
			st.event = &ev
		}
		steps = append(steps, st)
	}
	return steps, nil
}

func (l ImportLine) event(key engine.Key) (engine.Event, error) {
	typ, err := engine.ParseEventType(l.Op)
	if err != nil {
		return engine.Event{}, err
	}

	ev := engine.Event{
		Type:           typ,
		Key:            key,
		Identity:       l.Identity,
		DeleteEntirely: l.DeleteEntirely,
		Mode:           ir.Mode(l.Mode),
		Visible:        l.Visible,
		Contact:        l.Contact,
		Composing:      l.Composing,
		Contacts:       l.Contacts,
	}
	if l.Record != nil {
		ev.Records = append(ev.Records, *l.Record)
	}
	ev.Records = append(ev.Records, l.Records...)
	if l.Patch != nil {
		ev.Patch = *l.Patch
	}
	return ev, nil
}

func outputImportText(w io.Writer, result ImportResult, db string) error {
	fmt.Fprintf(w, "Imported %d event(s) into %d conversation(s), %d record(s) held\n",
		result.Events, result.Conversations, result.Records)
	if db != "" {
		fmt.Fprintf(w, "Archive: %s\n", db)
	}
	for _, m := range result.Missing {
		fmt.Fprintf(w, "  %s/%s missing %v\n", m.Account, m.Conversation, m.Identities)
	}
	if result.Relayed > 0 {
		fmt.Fprintf(w, "Relayed: %d message(s)\n", result.Relayed)
	}
	return nil
}
