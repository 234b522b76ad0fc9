// Package action models the steps an artifact carries and runs them
// against the file table and the execution runtime.
package action

import (
	"encoding/json"
	"errors"
	"fmt"
)

// ErrArtifactNotFound is returned when an action references an artifact
// that was never registered.
var ErrArtifactNotFound = errors.New("artifact not found")

// ErrUnknownType is returned when decoding an action of unknown type.
var ErrUnknownType = errors.New("unknown action type")

// ErrNilAction is returned when registering an action without a body.
var ErrNilAction = errors.New("action is nil")

// Type is the wire discriminator of an action.
type Type string

const (
	TypeFile     Type = "file"
	TypeShell    Type = "shell"
	TypeStart    Type = "start"
	TypeBuild    Type = "build"
	TypeDatabase Type = "database"
)

// Action is one step of an artifact. The set of implementations is
// closed: FileAction, ShellAction, StartAction, BuildAction and
// DatabaseAction.
type Action interface {
	Type() Type
	isAction()
}

// FileAction writes Content to FilePath, relative to the workdir.
type FileAction struct {
	FilePath string `json:"filePath"`
	Content  string `json:"content"`
}

// ShellAction runs Command to completion.
type ShellAction struct {
	Command string `json:"command"`
}

// StartAction launches a long-running Command such as a dev server.
type StartAction struct {
	Command string `json:"command"`
}

// BuildAction runs a production build ahead of a deploy.
type BuildAction struct {
	Command string `json:"command"`
}

// DatabaseAction carries a migration or query for the project's hosted
// database. kiln forwards it on the database alert channel.
type DatabaseAction struct {
	Operation string `json:"operation"`
	FilePath  string `json:"filePath,omitempty"`
	Content   string `json:"content"`
}

func (FileAction) Type() Type     { return TypeFile }
func (ShellAction) Type() Type    { return TypeShell }
func (StartAction) Type() Type    { return TypeStart }
func (BuildAction) Type() Type    { return TypeBuild }
func (DatabaseAction) Type() Type { return TypeDatabase }

func (FileAction) isAction()     {}
func (ShellAction) isAction()    {}
func (StartAction) isAction()    {}
func (BuildAction) isAction()    {}
func (DatabaseAction) isAction() {}

// Content returns the text an action carries: file content, a command,
// or a database statement.
func Content(a Action) string {
	switch a := a.(type) {
	case FileAction:
		return a.Content
	case ShellAction:
		return a.Command
	case StartAction:
		return a.Command
	case BuildAction:
		return a.Command
	case DatabaseAction:
		return a.Content
	default:
		panic(fmt.Sprintf("action: unhandled type %T", a))
	}
}

// Decode parses a JSON action object discriminated by its "type" field.
func Decode(data []byte) (Action, error) {
	var head struct {
		Type Type `json:"type"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return nil, fmt.Errorf("decoding action: %w", err)
	}

	var (
		a   Action
		err error
	)
	switch head.Type {
	case TypeFile:
		var v FileAction
		err = json.Unmarshal(data, &v)
		a = v
	case TypeShell:
		var v ShellAction
		err = json.Unmarshal(data, &v)
		a = v
	case TypeStart:
		var v StartAction
		err = json.Unmarshal(data, &v)
		a = v
	case TypeBuild:
		var v BuildAction
		err = json.Unmarshal(data, &v)
		a = v
	case TypeDatabase:
		var v DatabaseAction
		err = json.Unmarshal(data, &v)
		a = v
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, head.Type)
	}
	if err != nil {
		return nil, fmt.Errorf("decoding %s action: %w", head.Type, err)
	}
	return a, nil
}

// Encode renders a as a JSON object with its "type" discriminator.
func Encode(a Action) ([]byte, error) {
	body, err := json.Marshal(a)
	if err != nil {
		return nil, err
	}
	var fields map[string]any
	if err := json.Unmarshal(body, &fields); err != nil {
		return nil, err
	}
	fields["type"] = a.Type()
	return json.Marshal(fields)
}

// Status is the lifecycle state of an action.
type Status string

const (
	StatusPending  Status = "pending"
	StatusRunning  Status = "running"
	StatusComplete Status = "complete"
	StatusFailed   Status = "failed"
	StatusAborted  Status = "aborted"
)

// State is an action and its progress.
type State struct {
	ID         string
	ArtifactID string
	Action     Action
	Status     Status
	Executed   bool
	Error      string
}

// Data identifies an action within the event stream.
type Data struct {
	MessageID  string
	ArtifactID string
	ActionID   string
	Action     Action
}
