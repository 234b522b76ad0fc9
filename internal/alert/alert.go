// Package alert defines the user-facing notifications raised by the
// workbench: action failures, database provisioning prompts, and deploy
// progress.
package alert

// Channel identifies which alert sink a notification belongs to.
type Channel string

const (
	ChannelAction   Channel = "action"
	ChannelDatabase Channel = "database"
	ChannelDeploy   Channel = "deploy"
)

// Level is the severity of an alert.
type Level string

const (
	LevelError Level = "error"
	LevelInfo  Level = "info"
)

// Source is where the alerted condition originated.
type Source string

const (
	SourceTerminal  Source = "terminal"
	SourcePreview   Source = "preview"
	SourceWorkbench Source = "workbench"
)

// Alert is one notification.
type Alert struct {
	Channel     Channel `json:"channel"`
	Level       Level   `json:"level"`
	Title       string  `json:"title"`
	Description string  `json:"description"`
	Content     string  `json:"content,omitempty"`
	Source      Source  `json:"source,omitempty"`

	// Stage is set on deploy alerts ("building", "complete", "failed").
	Stage string `json:"stage,omitempty"`
}

// Sink receives alerts.
type Sink func(Alert)

// Discard drops every alert.
func Discard(Alert) {}
