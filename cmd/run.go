package cmd

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/zjrosen/kiln/internal/log"
	"github.com/zjrosen/kiln/internal/workbench"
)

var (
	runDryRun   bool
	runChatID   string
	runRewind   string
	runSnapshot bool
	runKeepOpen bool
	runLogs     bool
)

var runCmd = &cobra.Command{
	Use:   "run [events-file]",
	Short: "Apply a stream of action events to the project",
	Long: `Read action events, one JSON object per line, and apply them to the
project workspace. Events come from the named file, or from stdin when the
file is "-" or omitted. Comments and trailing commas are accepted.

Each event has a kind (artifact-open, artifact-update, action-append,
action-run), the message it belongs to and a kind-specific payload.

Examples:
  # Apply a recorded transcript to the configured runtime
  kiln run transcript.jsonl

  # Dry run: record commands without executing them
  kiln run --dry-run transcript.jsonl

  # Restore chat 3's snapshot first, then snapshot the result
  kiln run --chat 3 --snapshot transcript.jsonl`,
	Args: cobra.MaximumNArgs(1),
	RunE: runRun,
}

func init() {
	runCmd.Flags().BoolVar(&runDryRun, "dry-run", false, "use the in-memory runtime; commands are recorded, not run")
	runCmd.Flags().StringVar(&runChatID, "chat", "", "restore this chat's snapshot before applying events")
	runCmd.Flags().StringVar(&runRewind, "rewind", "", "with --chat, end the chat at this message id before restoring")
	runCmd.Flags().BoolVar(&runSnapshot, "snapshot", false, "snapshot the project into --chat after the last event")
	runCmd.Flags().BoolVar(&runKeepOpen, "wait", false, "keep running after the last event until interrupted (dev servers stay up)")
	runCmd.Flags().BoolVar(&runLogs, "logs", false, "echo debug log entries to stderr (implies --debug)")
	rootCmd.AddCommand(runCmd)
}

func runRun(cmd *cobra.Command, args []string) error {
	if runSnapshot && runChatID == "" {
		return fmt.Errorf("--snapshot requires --chat")
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	in := io.Reader(os.Stdin)
	if len(args) == 1 && args[0] != "-" {
		f, err := os.Open(args[0])
		if err != nil {
			return fmt.Errorf("opening events: %w", err)
		}
		defer func() { _ = f.Close() }()
		in = f
	}

	if runLogs {
		echoLogs(ctx, cmd.ErrOrStderr())
	}

	s, err := openSession(ctx, sessionOptions{memory: runDryRun, noHistory: runChatID == ""})
	if err != nil {
		return err
	}
	defer s.Close()

	out := cmd.OutOrStdout()
	alerts := s.bench.Alerts().Subscribe(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		for ev := range alerts {
			printAlert(out, ev.Payload)
		}
	}()

	if cfg.Runtime.Available {
		if err := s.bench.Boot(ctx); err != nil {
			return fmt.Errorf("booting runtime: %w", err)
		}
	}
	if runChatID != "" {
		if _, err := s.restoreChat(ctx, runChatID, runRewind); err != nil && !errors.Is(err, errNoSnapshot) {
			return fmt.Errorf("restoring chat %s: %w", runChatID, err)
		}
	}

	applied, failed, err := applyEvents(ctx, s.bench, in)
	if err != nil {
		return err
	}

	if runSnapshot {
		if err := snapshotChat(ctx, s, runChatID); err != nil {
			return err
		}
	}

	if runKeepOpen {
		for _, p := range s.previews.Previews() {
			printField(out, "preview", p.BaseURL)
		}
		<-ctx.Done()
	}

	s.bench.Close()
	<-done

	printField(out, "events", applied)
	printMetrics(out, s.bench.Metrics())
	if failed > 0 {
		return fmt.Errorf("%d events failed", failed)
	}
	return nil
}

// applyEvents handles every event in r. Failed events are logged and
// counted; a malformed line stops the run.
func applyEvents(ctx context.Context, w *workbench.Workbench, r io.Reader) (applied, failed int, err error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 16<<20)
	line := 0
	for scanner.Scan() {
		line++
		text := strings.TrimSpace(scanner.Text())
		if text == "" || strings.HasPrefix(text, "//") {
			continue
		}
		ev, err := workbench.DecodeEvent([]byte(text))
		if err != nil {
			return applied, failed, fmt.Errorf("line %d: %w", line, err)
		}
		if err := w.HandleEvent(ctx, ev); err != nil {
			log.ErrorErr(log.CatWorkbench, "event failed", err, "line", line, "kind", string(ev.Kind))
			failed++
			continue
		}
		applied++
	}
	if err := scanner.Err(); err != nil {
		return applied, failed, fmt.Errorf("reading events: %w", err)
	}
	return applied, failed, nil
}

// snapshotChat stores the project as chatID's snapshot, anchored at the
// chat's last message.
func snapshotChat(ctx context.Context, s *session, chatID string) error {
	chat, err := s.store.GetMessages(ctx, chatID)
	if err != nil {
		return fmt.Errorf("loading chat %s: %w", chatID, err)
	}
	anchor := ""
	if n := len(chat.Messages); n > 0 {
		anchor = chat.Messages[n-1].ID
	}
	return s.bench.TakeSnapshot(ctx, chat.ID, anchor, chat.Description)
}

func echoLogs(ctx context.Context, w io.Writer) {
	entries := log.Subscribe(ctx)
	if entries == nil {
		return
	}
	go func() {
		for ev := range entries {
			_, _ = fmt.Fprint(w, subtleStyle.Render(strings.TrimRight(ev.Payload, "\n"))+"\n")
		}
	}()
}
