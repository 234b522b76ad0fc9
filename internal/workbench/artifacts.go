package workbench

import (
	"github.com/zjrosen/kiln/internal/action"
	"github.com/zjrosen/kiln/internal/log"
)

// Artifact is the bundle of actions emitted by one assistant message.
type Artifact struct {
	ID     string
	Title  string
	Type   string
	Closed bool
	Runner *action.Runner
}

// ArtifactUpdate changes the fields that are set.
type ArtifactUpdate struct {
	Title  *string
	Closed *bool
}

// RegisterArtifact creates the artifact for messageID with its own
// action runner. Registering a message id again is a no-op.
func (w *Workbench) RegisterArtifact(messageID, title, id, typ string) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if _, ok := w.artifacts[messageID]; ok {
		return
	}
	w.artifacts[messageID] = &Artifact{
		ID:    id,
		Title: title,
		Type:  typ,
		Runner: action.NewRunner(id, action.Config{
			Workdir: w.workdir,
			Files:   w.files,
			Editor:  w.docs,
			Runtime: w.runtime,
			Alerts: action.Alerts{
				Action:   w.raise,
				Database: w.raise,
				Deploy:   w.raise,
			},
		}),
	}
	w.artifactIDs = append(w.artifactIDs, messageID)
	log.Debug(log.CatWorkbench, "artifact registered", "message", messageID, "artifact", id, "title", title)
}

// UpdateArtifact merges update into the artifact for messageID. Unknown
// message ids are ignored.
func (w *Workbench) UpdateArtifact(messageID string, update ArtifactUpdate) {
	w.mu.Lock()
	defer w.mu.Unlock()

	a, ok := w.artifacts[messageID]
	if !ok {
		return
	}
	if update.Title != nil {
		a.Title = *update.Title
	}
	if update.Closed != nil {
		a.Closed = *update.Closed
	}
}

// Artifact returns a copy of the artifact for messageID.
func (w *Workbench) Artifact(messageID string) (Artifact, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	a, ok := w.artifacts[messageID]
	if !ok {
		return Artifact{}, false
	}
	return *a, true
}

// FirstArtifact returns the earliest registered artifact.
func (w *Workbench) FirstArtifact() (Artifact, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if len(w.artifactIDs) == 0 {
		return Artifact{}, false
	}
	return *w.artifacts[w.artifactIDs[0]], true
}

// ArtifactIDs returns message ids in registration order.
func (w *Workbench) ArtifactIDs() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]string(nil), w.artifactIDs...)
}

func (w *Workbench) runner(messageID string) (*action.Runner, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	a, ok := w.artifacts[messageID]
	if !ok {
		return nil, false
	}
	return a.Runner, true
}
