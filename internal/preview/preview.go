// Package preview tracks the dev-server ports a runtime exposes and keeps
// their reload state consistent across tabs.
package preview

import (
	"context"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/zjrosen/kiln/internal/clock"
	"github.com/zjrosen/kiln/internal/log"
	"github.com/zjrosen/kiln/internal/pubsub"
	"github.com/zjrosen/kiln/internal/runtime"
)

// Cross-tab topics.
const (
	TopicPreviewUpdates = "preview-updates"
	TopicStorageSync    = "storage-sync"
)

// DefaultRefreshDelay is how long a refreshed preview stays not-ready.
const DefaultRefreshDelay = 300 * time.Millisecond

// Info describes one live preview.
type Info struct {
	Port    int    `json:"port"`
	Ready   bool   `json:"ready"`
	BaseURL string `json:"baseUrl"`
}

// ID returns the preview id for a port.
func ID(port int) string {
	return strconv.Itoa(port)
}

// UpdateType is the kind of cross-tab preview update.
type UpdateType string

const (
	UpdateFileChange  UpdateType = "file-change"
	UpdateStateChange UpdateType = "state-change"
)

// Update is broadcast on TopicPreviewUpdates. Timestamp is in Unix
// nanoseconds.
type Update struct {
	Type      UpdateType `json:"type"`
	PreviewID string     `json:"previewId"`
	Timestamp int64      `json:"timestamp"`
}

// StorageWrite is broadcast on TopicStorageSync.
type StorageWrite struct {
	Key    string `json:"key"`
	Value  string `json:"value"`
	Source string `json:"source"`
}

// Message is the cross-tab envelope. Exactly one field is set.
type Message struct {
	Update  *Update       `json:"update,omitempty"`
	Storage *StorageWrite `json:"storage,omitempty"`
}

// Config configures a Registry.
type Config struct {
	// Hub is shared by every tab. A registry with a nil hub gets a
	// private one.
	Hub          *pubsub.Hub[Message]
	Clock        clock.Clock
	RefreshDelay time.Duration
	// TabID identifies this registry on the hub. Generated when empty.
	TabID string
}

// Registry is one tab's view of the live previews.
type Registry struct {
	hub          *pubsub.Hub[Message]
	clock        clock.Clock
	refreshDelay time.Duration
	tabID        string

	ctx    context.Context
	cancel context.CancelFunc

	mu          sync.Mutex
	previews    map[int]*Info
	lastApplied map[string]int64
	refreshGen  map[string]uint64
	timers      map[string]*clock.Timer
	storage     map[string]string

	changes *pubsub.Broker[[]Info]
}

// New creates a registry and subscribes it to the cross-tab topics.
func New(cfg Config) *Registry {
	if cfg.Hub == nil {
		cfg.Hub = pubsub.NewHub[Message]()
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.Real()
	}
	if cfg.RefreshDelay <= 0 {
		cfg.RefreshDelay = DefaultRefreshDelay
	}
	if cfg.TabID == "" {
		cfg.TabID = uuid.NewString()
	}

	ctx, cancel := context.WithCancel(context.Background())
	r := &Registry{
		hub:          cfg.Hub,
		clock:        cfg.Clock,
		refreshDelay: cfg.RefreshDelay,
		tabID:        cfg.TabID,
		ctx:          ctx,
		cancel:       cancel,
		previews:     make(map[int]*Info),
		lastApplied:  make(map[string]int64),
		refreshGen:   make(map[string]uint64),
		timers:       make(map[string]*clock.Timer),
		storage:      make(map[string]string),
		changes:      pubsub.NewBroker[[]Info](),
	}

	r.hub.Subscribe(ctx, TopicPreviewUpdates, func(msg Message) {
		if msg.Update != nil {
			r.ApplyUpdate(*msg.Update)
		}
	})
	r.hub.Subscribe(ctx, TopicStorageSync, func(msg Message) {
		if msg.Storage != nil {
			r.applyStorage(*msg.Storage)
		}
	})
	return r
}

// TabID returns this registry's tab identity.
func (r *Registry) TabID() string { return r.tabID }

// Changes publishes the full preview list after every change.
func (r *Registry) Changes() *pubsub.Broker[[]Info] { return r.changes }

// Previews returns the live previews ordered by port.
func (r *Registry) Previews() []Info {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.snapshotLocked()
}

// Get returns the preview on port.
func (r *Registry) Get(port int) (Info, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	info, ok := r.previews[port]
	if !ok {
		return Info{}, false
	}
	return *info, true
}

func (r *Registry) snapshotLocked() []Info {
	out := make([]Info, 0, len(r.previews))
	for _, info := range r.previews {
		out = append(out, *info)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Port < out[j].Port })
	return out
}

func (r *Registry) publishLocked() {
	r.changes.Publish(pubsub.UpdatedEvent, r.snapshotLocked())
}

// HandleRuntimeEvent applies one runtime lifecycle event.
func (r *Registry) HandleRuntimeEvent(ev runtime.Event) {
	switch ev.Type {
	case runtime.EventPort:
		if ev.PortType == runtime.PortClose {
			r.mu.Lock()
			if _, ok := r.previews[ev.Port]; ok {
				delete(r.previews, ev.Port)
				r.publishLocked()
			}
			r.mu.Unlock()
			log.Debug(log.CatPreview, "port closed", "port", ev.Port)
			return
		}
		r.upsert(ev.Port, true, ev.URL)
		r.BroadcastStateChange(ID(ev.Port))

	case runtime.EventServerReady:
		r.upsert(ev.Port, true, ev.URL)

	case runtime.EventFileChange:
		for _, info := range r.Previews() {
			r.BroadcastFileChange(ID(info.Port))
		}
	}
}

// upsert creates the preview for port or updates its state.
func (r *Registry) upsert(port int, ready bool, url string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	info, ok := r.previews[port]
	if !ok {
		info = &Info{Port: port}
		r.previews[port] = info
		log.Info(log.CatPreview, "preview opened", "port", port, "url", url)
	}
	info.Ready = ready
	if url != "" {
		info.BaseURL = url
	}
	r.publishLocked()
}

// Watch applies events from a runtime broker until ctx is cancelled or
// the broker closes.
func (r *Registry) Watch(ctx context.Context, events *pubsub.Broker[runtime.Event]) {
	ch := events.Subscribe(ctx)
	go func() {
		for ev := range ch {
			r.HandleRuntimeEvent(ev.Payload)
		}
	}()
}

// RefreshPreview marks the preview not ready and ready again after the
// refresh delay. A newer refresh for the same preview replaces a pending
// one.
func (r *Registry) RefreshPreview(previewID string) {
	port, err := strconv.Atoi(previewID)
	if err != nil {
		return
	}

	r.mu.Lock()
	info, ok := r.previews[port]
	if !ok {
		r.mu.Unlock()
		return
	}
	if t := r.timers[previewID]; t != nil {
		t.Stop()
	}
	r.refreshGen[previewID]++
	gen := r.refreshGen[previewID]
	info.Ready = false
	r.publishLocked()
	r.mu.Unlock()

	timer := r.clock.AfterFunc(r.refreshDelay, func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		if r.refreshGen[previewID] != gen {
			return
		}
		delete(r.timers, previewID)
		if info, ok := r.previews[port]; ok {
			info.Ready = true
			r.publishLocked()
		}
	})

	r.mu.Lock()
	if r.refreshGen[previewID] == gen {
		r.timers[previewID] = timer
	}
	r.mu.Unlock()
}

// BroadcastFileChange refreshes the preview locally and tells other tabs
// to do the same.
func (r *Registry) BroadcastFileChange(previewID string) {
	r.broadcast(UpdateFileChange, previewID)
	r.RefreshPreview(previewID)
}

// BroadcastStateChange tells other tabs the preview's state changed.
func (r *Registry) BroadcastStateChange(previewID string) {
	r.broadcast(UpdateStateChange, previewID)
}

func (r *Registry) broadcast(typ UpdateType, previewID string) {
	ts := r.clock.Now().UnixNano()

	r.mu.Lock()
	if ts > r.lastApplied[previewID] {
		r.lastApplied[previewID] = ts
	}
	r.mu.Unlock()

	r.hub.Publish(TopicPreviewUpdates, Message{Update: &Update{
		Type:      typ,
		PreviewID: previewID,
		Timestamp: ts,
	}})
}

// ApplyUpdate applies a cross-tab update if it is newer than the last one
// applied for its preview. Reports whether it was applied.
func (r *Registry) ApplyUpdate(u Update) bool {
	r.mu.Lock()
	if u.Timestamp <= r.lastApplied[u.PreviewID] {
		r.mu.Unlock()
		return false
	}
	r.lastApplied[u.PreviewID] = u.Timestamp
	r.mu.Unlock()

	log.Debug(log.CatPreview, "applying cross-tab update", "type", u.Type, "preview", u.PreviewID)
	switch u.Type {
	case UpdateFileChange:
		r.RefreshPreview(u.PreviewID)
	case UpdateStateChange:
		r.mu.Lock()
		r.publishLocked()
		r.mu.Unlock()
	}
	return true
}

// LastApplied returns the timestamp of the newest update applied for
// previewID.
func (r *Registry) LastApplied(previewID string) int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lastApplied[previewID]
}

// SetStorage stores a value locally and mirrors it to other tabs.
func (r *Registry) SetStorage(key, value string) {
	r.mu.Lock()
	r.storage[key] = value
	r.mu.Unlock()
	r.hub.Publish(TopicStorageSync, Message{Storage: &StorageWrite{
		Key:    key,
		Value:  value,
		Source: r.tabID,
	}})
}

// Storage returns a stored value.
func (r *Registry) Storage(key string) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	v, ok := r.storage[key]
	return v, ok
}

func (r *Registry) applyStorage(w StorageWrite) {
	if w.Source == r.tabID {
		return
	}
	r.mu.Lock()
	r.storage[w.Key] = w.Value
	r.mu.Unlock()
}

// Close unsubscribes from the hub and cancels pending refreshes.
func (r *Registry) Close() {
	r.cancel()
	r.mu.Lock()
	for id, t := range r.timers {
		t.Stop()
		delete(r.timers, id)
	}
	r.mu.Unlock()
	r.changes.Close()
}
