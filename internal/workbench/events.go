package workbench

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/tidwall/jsonc"

	"github.com/zjrosen/kiln/internal/action"
)

// EventKind identifies an action-stream event.
type EventKind string

const (
	EventArtifactOpen   EventKind = "artifact-open"
	EventArtifactUpdate EventKind = "artifact-update"
	EventActionAppend   EventKind = "action-append"
	EventActionRun      EventKind = "action-run"
)

// Event is one item of the action stream produced by the message parser.
// Payload depends on Kind: ArtifactPayload for artifact events, an
// encoded action for action events.
type Event struct {
	Kind       EventKind       `json:"kind"`
	MessageID  string          `json:"messageId"`
	ArtifactID string          `json:"artifactId,omitempty"`
	ActionID   string          `json:"actionId,omitempty"`
	Streaming  bool            `json:"streaming,omitempty"`
	Payload    json.RawMessage `json:"payload,omitempty"`
}

// ArtifactPayload describes an artifact in open and update events.
type ArtifactPayload struct {
	Title  *string `json:"title,omitempty"`
	Type   string  `json:"type,omitempty"`
	Closed *bool   `json:"closed,omitempty"`
}

// DecodeEvent parses one event. Comments and trailing commas are
// tolerated.
func DecodeEvent(data []byte) (Event, error) {
	var ev Event
	if err := json.Unmarshal(jsonc.ToJSON(data), &ev); err != nil {
		return Event{}, fmt.Errorf("decoding event: %w", err)
	}
	if ev.Kind == "" {
		return Event{}, fmt.Errorf("decoding event: missing kind")
	}
	return ev, nil
}

// HandleEvent applies one stream event.
func (w *Workbench) HandleEvent(ctx context.Context, ev Event) error {
	switch ev.Kind {
	case EventArtifactOpen:
		var p ArtifactPayload
		if err := decodePayload(ev, &p); err != nil {
			return err
		}
		title := ""
		if p.Title != nil {
			title = *p.Title
		}
		w.RegisterArtifact(ev.MessageID, title, ev.ArtifactID, p.Type)
		return nil
	case EventArtifactUpdate:
		var p ArtifactPayload
		if err := decodePayload(ev, &p); err != nil {
			return err
		}
		w.UpdateArtifact(ev.MessageID, ArtifactUpdate{Title: p.Title, Closed: p.Closed})
		return nil
	case EventActionAppend, EventActionRun:
		data := action.Data{MessageID: ev.MessageID, ArtifactID: ev.ArtifactID, ActionID: ev.ActionID}
		// A run event may omit the payload and reuse the appended action.
		if len(ev.Payload) > 0 || ev.Kind == EventActionAppend {
			a, err := action.Decode(ev.Payload)
			if err != nil {
				return fmt.Errorf("%s %s: %w", ev.Kind, ev.ActionID, err)
			}
			data.Action = a
		}
		if ev.Kind == EventActionAppend {
			return w.AddAction(ctx, data)
		}
		if ev.Streaming {
			_, err := w.EnqueueStreamingAction(ctx, data)
			return err
		}
		return w.EnqueueAction(ctx, data)
	default:
		return fmt.Errorf("%w: %q", ErrUnknownEvent, ev.Kind)
	}
}

func decodePayload(ev Event, v any) error {
	if len(ev.Payload) == 0 {
		return nil
	}
	if err := json.Unmarshal(ev.Payload, v); err != nil {
		return fmt.Errorf("%s payload: %w", ev.Kind, err)
	}
	return nil
}

// AddAction registers data on its artifact through the queue. An unknown
// artifact yields action.ErrArtifactNotFound.
func (w *Workbench) AddAction(ctx context.Context, data action.Data) error {
	_, err := w.submit(ctx, newAddActionCommand(data))
	return err
}

// EnqueueAction runs data to completion on the queue.
func (w *Workbench) EnqueueAction(ctx context.Context, data action.Data) error {
	_, err := w.submit(ctx, newRunActionCommand(data))
	return err
}

// EnqueueStreamingAction applies a partial action if the sampler admits
// it, reporting whether it did any work. Admitted calls still run on the
// queue; only the throttle sets them apart from EnqueueAction.
func (w *Workbench) EnqueueStreamingAction(ctx context.Context, data action.Data) (bool, error) {
	if !w.sampler.Allow() {
		return false, nil
	}
	result, err := w.submit(ctx, newStreamActionCommand(data))
	if err != nil {
		return false, err
	}
	ran, _ := result.Data.(bool)
	return ran, nil
}
