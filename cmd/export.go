package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
)

var (
	exportChatID string
	exportOutDir string
	exportSync   string
	exportRewind string
)

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export a chat's project as a zip archive or into a directory",
	Long: `Restore the project snapshot of a chat and write its text files out.

By default a zip archive named after the chat description is written to
--out. With --sync the files are written into a directory instead,
creating folders as needed. Binary files are skipped in both modes.

Examples:
  kiln export --chat 3
  kiln export --chat 3 --out ./dist
  kiln export --chat 3 --sync ./my-app`,
	Args: cobra.NoArgs,
	RunE: runExport,
}

func init() {
	exportCmd.Flags().StringVar(&exportChatID, "chat", "", "chat whose snapshot to export (required)")
	exportCmd.Flags().StringVarP(&exportOutDir, "out", "o", ".", "directory the archive is written to")
	exportCmd.Flags().StringVar(&exportRewind, "rewind", "", "end the chat at this message id before restoring its snapshot")
	exportCmd.Flags().StringVar(&exportSync, "sync", "", "write files into this directory instead of a zip")
	_ = exportCmd.MarkFlagRequired("chat")
	rootCmd.AddCommand(exportCmd)
}

func runExport(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	s, err := openSession(ctx, sessionOptions{memory: true})
	if err != nil {
		return err
	}
	defer s.Close()

	chat, err := s.store.GetMessages(ctx, exportChatID)
	if err != nil {
		return fmt.Errorf("loading chat %s: %w", exportChatID, err)
	}
	if _, err := s.restoreChat(ctx, chat.ID, exportRewind); err != nil {
		return fmt.Errorf("restoring chat %s: %w", chat.ID, err)
	}

	out := cmd.OutOrStdout()
	if exportSync != "" {
		written, err := s.bench.SyncToLocalDirectory(exportSync)
		if err != nil {
			return err
		}
		printSuccess(out, "wrote %d files to %s", len(written), exportSync)
		return nil
	}

	a, err := s.bench.ExportProjectArchive(chat.Description)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(exportOutDir, 0o750); err != nil {
		return fmt.Errorf("creating output directory: %w", err)
	}
	dest := filepath.Join(exportOutDir, a.Name)
	if err := os.WriteFile(dest, a.Data, 0o600); err != nil {
		return fmt.Errorf("writing archive: %w", err)
	}
	printSuccess(out, "exported %s", dest)
	return nil
}
