package processor

import "time"

// CommandLogEvent is published after each command for observers such as
// the CLI's activity output.
type CommandLogEvent struct {
	CommandID   string
	CommandType CommandType
	Source      CommandSource
	Success     bool
	Error       error
	Duration    time.Duration
	Timestamp   time.Time
	TraceID     string
}

// CommandErrorEvent is published when a command fails validation, has no
// handler, or its handler returns an error.
type CommandErrorEvent struct {
	CommandID   string
	CommandType CommandType
	Error       error
}
