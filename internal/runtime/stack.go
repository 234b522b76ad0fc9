package runtime

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/zjrosen/kiln/internal/alert"
)

var originURL = regexp.MustCompile(`https?://[^/\s)]+/([^\s)]*)`)

// CleanStackTrace strips scheme and host from every URL in a stack trace
// so frames read as project-relative paths.
func CleanStackTrace(stack string) string {
	lines := strings.Split(stack, "\n")
	for i, line := range lines {
		lines[i] = originURL.ReplaceAllString(line, "$1")
	}
	return strings.Join(lines, "\n")
}

// PreviewErrorAlert converts an error message posted by a preview into an
// alert. Returns false for message types that are not errors.
func PreviewErrorAlert(msg *PreviewMessage) (alert.Alert, bool) {
	var title string
	switch msg.Type {
	case MessageUncaughtException:
		title = "Uncaught Exception"
	case MessageUnhandledRejection:
		title = "Unhandled Promise Rejection"
	default:
		return alert.Alert{}, false
	}

	content := fmt.Sprintf("Error occurred at %s%s%s\nPort: %d\n\nStack trace:\n%s",
		msg.Pathname, msg.Search, msg.Hash, msg.Port, CleanStackTrace(msg.Stack))

	return alert.Alert{
		Channel:     alert.ChannelAction,
		Level:       alert.LevelError,
		Title:       title,
		Description: msg.Message,
		Content:     content,
		Source:      alert.SourcePreview,
	}, true
}
