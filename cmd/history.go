package cmd

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/zjrosen/kiln/internal/filetable"
	"github.com/zjrosen/kiln/internal/history"
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Manage stored chats",
}

var historyListCmd = &cobra.Command{
	Use:   "list",
	Short: "List chats, newest first",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		store, err := openStore(cmd.Context())
		if err != nil {
			return err
		}
		defer func() { _ = store.Close() }()

		chats, err := store.ListChats(cmd.Context())
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		if len(chats) == 0 {
			_, _ = fmt.Fprintln(out, subtleStyle.Render("no chats"))
			return nil
		}
		for _, c := range chats {
			_, _ = fmt.Fprintf(out, "%s %s %s\n",
				labelStyle.Render(c.ID),
				titleStyle.Render(describe(c)),
				subtleStyle.Render(fmt.Sprintf("%s · %d messages", c.Timestamp.Local().Format(time.DateTime), len(c.Messages))),
			)
		}
		return nil
	},
}

var historyShowRewind string

var historyShowCmd = &cobra.Command{
	Use:   "show <chat-id>",
	Short: "Render a chat's transcript",
	Long: `Render the visible transcript of a chat as markdown.

With --rewind the transcript ends at the given message id. When the
chat has a snapshot inside the shown range, the messages it covers are
replaced by the synthesized restore exchange and the snapshot is restored
into an in-memory workbench, as when reopening the chat. The restored
files are listed after the transcript.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := openSession(cmd.Context(), sessionOptions{memory: true})
		if err != nil {
			return err
		}
		defer s.Close()

		res, err := s.restoreChat(cmd.Context(), args[0], historyShowRewind)
		if err != nil && !errors.Is(err, errNoSnapshot) {
			return err
		}

		var md strings.Builder
		fmt.Fprintf(&md, "# %s\n\n", describe(*res.Chat))
		if len(res.Archived) > 0 {
			fmt.Fprintf(&md, "_%d earlier messages are folded into the project snapshot._\n\n", len(res.Archived))
		}
		for _, m := range res.Messages {
			if m.HasAnnotation(history.AnnotationHidden) {
				continue
			}
			fmt.Fprintf(&md, "## %s\n\n%s\n\n", m.Role, m.Content)
		}
		if err == nil {
			md.WriteString("## Restored project\n\n")
			files := s.bench.Files()
			for _, p := range files.Paths() {
				if _, ok := files[p].(*filetable.File); ok {
					fmt.Fprintf(&md, "- `%s`\n", p)
				}
			}
		}
		_, _ = fmt.Fprint(cmd.OutOrStdout(), renderMarkdown(md.String(), 100))
		return nil
	},
}

var historyDeleteCmd = &cobra.Command{
	Use:   "delete <chat-id>",
	Short: "Delete a chat and its snapshot",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openStore(cmd.Context())
		if err != nil {
			return err
		}
		defer func() { _ = store.Close() }()

		if err := store.DeleteChat(cmd.Context(), args[0]); err != nil {
			return err
		}
		printSuccess(cmd.OutOrStdout(), "deleted chat %s", args[0])
		return nil
	},
}

var historyDuplicateCmd = &cobra.Command{
	Use:   "duplicate <chat-id>",
	Short: "Copy a chat's messages into a new chat",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openStore(cmd.Context())
		if err != nil {
			return err
		}
		defer func() { _ = store.Close() }()

		id, err := store.DuplicateChat(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		printSuccess(cmd.OutOrStdout(), "created chat %s", id)
		return nil
	},
}

var historyExportDir string

var historyExportCmd = &cobra.Command{
	Use:   "export <chat-id>",
	Short: "Write a chat to a JSON export file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openStore(cmd.Context())
		if err != nil {
			return err
		}
		defer func() { _ = store.Close() }()

		chat, err := store.GetMessages(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		name, data, err := history.Export(chat, time.Now())
		if err != nil {
			return err
		}
		dest := filepath.Join(historyExportDir, name)
		if err := os.WriteFile(dest, data, 0o600); err != nil {
			return fmt.Errorf("writing export: %w", err)
		}
		printSuccess(cmd.OutOrStdout(), "exported %s", dest)
		return nil
	},
}

var historyImportCmd = &cobra.Command{
	Use:   "import <file>",
	Short: "Create a chat from a JSON export file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		data, err := os.ReadFile(args[0])
		if err != nil {
			return fmt.Errorf("reading export: %w", err)
		}
		store, err := openStore(cmd.Context())
		if err != nil {
			return err
		}
		defer func() { _ = store.Close() }()

		id, err := history.Import(cmd.Context(), store, data)
		if err != nil {
			return err
		}
		printSuccess(cmd.OutOrStdout(), "imported chat %s", id)
		return nil
	},
}

func init() {
	historyShowCmd.Flags().StringVar(&historyShowRewind, "rewind", "", "end the transcript at this message id")
	historyExportCmd.Flags().StringVarP(&historyExportDir, "out", "o", ".", "directory the export is written to")

	historyCmd.AddCommand(historyListCmd, historyShowCmd, historyDeleteCmd,
		historyDuplicateCmd, historyExportCmd, historyImportCmd)
	rootCmd.AddCommand(historyCmd)
}

func describe(c history.ChatHistoryItem) string {
	if c.Description != "" {
		return c.Description
	}
	return "Untitled chat"
}
