package cmd

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"

	"github.com/zjrosen/kiln/internal/config"
	"github.com/zjrosen/kiln/internal/github"
	"github.com/zjrosen/kiln/internal/history"
	"github.com/zjrosen/kiln/internal/log"
	"github.com/zjrosen/kiln/internal/preview"
	"github.com/zjrosen/kiln/internal/processor"
	"github.com/zjrosen/kiln/internal/pubsub"
	"github.com/zjrosen/kiln/internal/runtime"
	"github.com/zjrosen/kiln/internal/tracing"
	"github.com/zjrosen/kiln/internal/workbench"
)

// session bundles a workbench with the resources it was built from.
type session struct {
	bench    *workbench.Workbench
	store    history.Store
	handle   *runtime.Handle
	previews *preview.Registry
	tracer   *tracing.Provider
	events   *pubsub.Broker[any]
}

type sessionOptions struct {
	// memory forces the in-memory runtime regardless of config.
	memory bool
	// noHistory skips opening the history database.
	noHistory bool
}

func openStore(ctx context.Context) (history.Store, error) {
	p, err := historyPath()
	if err != nil {
		return nil, err
	}
	store, err := history.OpenSQLite(ctx, p, history.WithCacheTTL(cfg.History.CacheTTL))
	if err != nil {
		return nil, fmt.Errorf("opening history: %w", err)
	}
	return store, nil
}

func newBooter(c config.Config, memory bool) (runtime.Booter, error) {
	if memory || c.Runtime.Kind == config.RuntimeMemory {
		return runtime.NewMemory(c.Workdir).Booter(), nil
	}
	root, err := filepath.Abs(c.Runtime.Root)
	if err != nil {
		return nil, fmt.Errorf("resolving runtime root: %w", err)
	}
	return runtime.HostBooter(runtime.HostConfig{
		Root:          root,
		Workdir:       c.Workdir,
		WatchDebounce: c.Runtime.WatchDebounce,
	}), nil
}

func newPusher(c config.Config) *github.Pusher {
	return github.NewPusher(github.PusherConfig{
		BaseURL:          c.GitHub.BaseURL,
		Token:            c.GitHub.Token,
		Owner:            c.GitHub.Owner,
		CreationSettle:   c.GitHub.CreationSettle,
		VisibilitySettle: c.GitHub.VisibilitySettle,
		MaxAttempts:      c.GitHub.MaxAttempts,
		RetryBackoff:     c.GitHub.RetryBackoff,
	})
}

func openSession(ctx context.Context, opts sessionOptions) (*session, error) {
	s := &session{store: history.NopStore{}}
	if !opts.noHistory {
		store, err := openStore(ctx)
		if err != nil {
			return nil, err
		}
		s.store = store
	}

	booter, err := newBooter(cfg, opts.memory)
	if err != nil {
		_ = s.store.Close()
		return nil, err
	}
	s.handle = runtime.NewHandle(booter, runtime.WithAvailable(cfg.Runtime.Available))

	s.tracer, err = tracing.NewProvider(cfg.Tracing)
	if err != nil {
		_ = s.store.Close()
		return nil, fmt.Errorf("initializing tracing: %w", err)
	}

	s.previews = preview.New(preview.Config{RefreshDelay: cfg.Preview.RefreshDelay})
	s.events = pubsub.NewBroker[any]()
	s.bench = workbench.New(workbench.Options{
		Workdir:        cfg.Workdir,
		Runtime:        s.handle,
		Previews:       s.previews,
		History:        s.store,
		Pusher:         newPusher(cfg),
		SampleInterval: cfg.Streaming.SampleInterval,
		QueueCapacity:  cfg.Queue.Capacity,
		Middleware:     []processor.Middleware{tracing.NewMiddleware(s.tracer.Tracer())},
		EventBus:       s.events,
	})
	return s, nil
}

var errNoSnapshot = errors.New("chat has no snapshot")

// restoreChat loads chatID, ended at rewindTo when set, and writes its
// snapshot into the workbench. The snapshot must be anchored at a message
// of the loaded transcript; otherwise it reports errNoSnapshot.
func (s *session) restoreChat(ctx context.Context, chatID, rewindTo string) (*history.LoadResult, error) {
	res, err := history.NewLoader(s.store, s.bench, cfg.Workdir).Load(ctx, chatID, rewindTo)
	if err != nil {
		return nil, err
	}
	if res.Restore == nil {
		if len(res.Archived) == 0 {
			return res, errNoSnapshot
		}
		// Anchored at the first message: archived but not restored in the
		// background.
		snap, err := s.store.GetSnapshot(ctx, chatID)
		if err != nil {
			return nil, err
		}
		if snap == nil {
			return res, errNoSnapshot
		}
		return res, s.bench.RestoreSnapshot(ctx, snap.Files)
	}
	select {
	case err := <-res.Restore:
		return res, err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (s *session) Close() {
	s.bench.Close()
	s.previews.Close()
	s.events.Close()
	if err := s.handle.Close(); err != nil {
		log.ErrorErr(log.CatRuntime, "runtime close failed", err)
	}
	if err := s.tracer.Shutdown(context.Background()); err != nil {
		log.ErrorErr(log.CatConfig, "tracing shutdown failed", err)
	}
	if err := s.store.Close(); err != nil {
		log.ErrorErr(log.CatHistory, "history close failed", err)
	}
}
