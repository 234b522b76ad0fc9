package cmd

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/zjrosen/kiln/internal/github"
	"github.com/zjrosen/kiln/internal/workbench"
)

var pushFlags struct {
	chatID  string
	name    string
	message string
	owner   string
	token   string
	private bool
}

var pushCmd = &cobra.Command{
	Use:   "push",
	Short: "Push a chat's project to a GitHub repository",
	Long: `Restore the project snapshot of a chat and commit its text files to a
GitHub repository, creating the repository when it does not exist.

The token and owner default to github.token and github.owner from the
config (KILN_GITHUB_TOKEN and KILN_GITHUB_OWNER in the environment).

Examples:
  kiln push --chat 3 --name todo-app
  kiln push --chat 3 --name todo-app --private -m "First version"`,
	Args: cobra.NoArgs,
	RunE: runPush,
}

func init() {
	pushCmd.Flags().StringVar(&pushFlags.chatID, "chat", "", "chat whose snapshot to push (required)")
	pushCmd.Flags().StringVarP(&pushFlags.name, "name", "n", "", "repository name (required)")
	pushCmd.Flags().StringVarP(&pushFlags.message, "message", "m", "", "commit message")
	pushCmd.Flags().StringVar(&pushFlags.owner, "owner", "", "repository owner (overrides config)")
	pushCmd.Flags().StringVar(&pushFlags.token, "token", "", "access token (overrides config)")
	pushCmd.Flags().BoolVar(&pushFlags.private, "private", false, "make the repository private")
	_ = pushCmd.MarkFlagRequired("chat")
	_ = pushCmd.MarkFlagRequired("name")
	rootCmd.AddCommand(pushCmd)
}

func runPush(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	s, err := openSession(ctx, sessionOptions{memory: true})
	if err != nil {
		return err
	}
	defer s.Close()

	if err := s.restoreChat(ctx, pushFlags.chatID); err != nil {
		return fmt.Errorf("restoring chat %s: %w", pushFlags.chatID, err)
	}

	url, err := s.bench.PushToRepository(ctx, workbench.PushRequest{
		Name:    pushFlags.name,
		Message: pushFlags.message,
		Owner:   pushFlags.owner,
		Token:   pushFlags.token,
		Private: pushFlags.private,
	})
	if errors.Is(err, github.ErrMissingCredentials) {
		return fmt.Errorf("%w: set github.token (or KILN_GITHUB_TOKEN) and github.owner", err)
	}
	if err != nil {
		return err
	}
	printSuccess(cmd.OutOrStdout(), "pushed to %s", url)
	return nil
}
