package github

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"time"

	"github.com/zjrosen/kiln/internal/clock"
	"github.com/zjrosen/kiln/internal/log"
)

// Push protocol defaults.
const (
	DefaultCreationSettle   = 2 * time.Second
	DefaultVisibilitySettle = 3 * time.Second
	DefaultMaxAttempts      = 3
	DefaultRetryBackoff     = 2 * time.Second
	DefaultCommitMessage    = "Initial commit from kiln"
)

// PushRequest describes one push. Empty Owner and Token fall back to the
// pusher's configuration.
type PushRequest struct {
	Name    string
	Message string
	Owner   string
	Token   string
	Private bool
	// Files maps repository-relative paths to content.
	Files map[string]string
}

// PusherConfig configures a Pusher.
type PusherConfig struct {
	BaseURL    string
	HTTPClient *http.Client
	Clock      clock.Clock

	Token string
	Owner string

	CreationSettle   time.Duration
	VisibilitySettle time.Duration
	MaxAttempts      int
	RetryBackoff     time.Duration
}

// Pusher publishes a project to a hosted repository as one commit on the
// default branch.
type Pusher struct {
	cfg PusherConfig
}

// NewPusher fills unset fields of cfg with defaults.
func NewPusher(cfg PusherConfig) *Pusher {
	if cfg.Clock == nil {
		cfg.Clock = clock.Real()
	}
	if cfg.CreationSettle <= 0 {
		cfg.CreationSettle = DefaultCreationSettle
	}
	if cfg.VisibilitySettle <= 0 {
		cfg.VisibilitySettle = DefaultVisibilitySettle
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultMaxAttempts
	}
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = DefaultRetryBackoff
	}
	return &Pusher{cfg: cfg}
}

// Push creates or reuses the repository and commits req.Files on top of
// its default branch. It returns the repository's web URL.
//
// A failed attempt is retried after attempt × RetryBackoff, but only
// after the first attempt or once the repository's visibility has been
// changed, and never beyond MaxAttempts.
func (p *Pusher) Push(ctx context.Context, req PushRequest) (string, error) {
	if req.Token == "" {
		req.Token = p.cfg.Token
	}
	if req.Owner == "" {
		req.Owner = p.cfg.Owner
	}
	if req.Token == "" || req.Owner == "" {
		return "", ErrMissingCredentials
	}
	if req.Message == "" {
		req.Message = DefaultCommitMessage
	}

	client, err := NewClient(Config{Token: req.Token, BaseURL: p.cfg.BaseURL, HTTPClient: p.cfg.HTTPClient})
	if err != nil {
		return "", err
	}

	visibilityChanged := false
	for attempt := 1; ; attempt++ {
		url, err := p.pushOnce(ctx, client, req, &visibilityChanged)
		if err == nil {
			log.Info(log.CatPush, "push complete", "repo", req.Owner+"/"+req.Name, "attempt", attempt)
			return url, nil
		}

		retryable := attempt == 1 || visibilityChanged
		if attempt >= p.cfg.MaxAttempts || !retryable {
			log.ErrorErr(log.CatPush, "push failed", err, "repo", req.Owner+"/"+req.Name, "attempt", attempt)
			return "", fmt.Errorf("pushing to %s/%s: %w", req.Owner, req.Name, err)
		}

		delay := time.Duration(attempt) * p.cfg.RetryBackoff
		log.Warn(log.CatPush, "push attempt failed, retrying",
			"repo", req.Owner+"/"+req.Name, "attempt", attempt, "delay", delay, "error", err.Error())
		if err := clock.Sleep(ctx, p.cfg.Clock, delay); err != nil {
			return "", err
		}
	}
}

func (p *Pusher) pushOnce(ctx context.Context, c *Client, req PushRequest, visibilityChanged *bool) (string, error) {
	repo, err := c.GetRepository(ctx, req.Owner, req.Name)
	switch {
	case IsNotFound(err):
		repo, err = c.CreateRepository(ctx, req.Name, req.Private)
		if err != nil {
			return "", err
		}
		log.Info(log.CatPush, "repository created", "repo", repo.GetFullName())
		if err := clock.Sleep(ctx, p.cfg.Clock, p.cfg.CreationSettle); err != nil {
			return "", err
		}
	case err != nil:
		return "", err
	case repo.GetPrivate() != req.Private:
		repo, err = c.SetVisibility(ctx, req.Owner, req.Name, req.Private)
		if err != nil {
			return "", err
		}
		*visibilityChanged = true
		log.Info(log.CatPush, "repository visibility changed", "repo", repo.GetFullName(), "private", req.Private)
		if err := clock.Sleep(ctx, p.cfg.Clock, p.cfg.VisibilitySettle); err != nil {
			return "", err
		}
	}

	paths := make([]string, 0, len(req.Files))
	for path, content := range req.Files {
		if content != "" {
			paths = append(paths, path)
		}
	}
	if len(paths) == 0 {
		return "", fmt.Errorf("no files to push")
	}
	sort.Strings(paths)

	blobs := make(map[string]string, len(paths))
	for _, path := range paths {
		sha, err := c.CreateBlob(ctx, req.Owner, req.Name, []byte(req.Files[path]))
		if err != nil {
			return "", err
		}
		blobs[path] = sha
	}

	branch := repo.GetDefaultBranch()
	if branch == "" {
		branch = "main"
	}
	tip, err := c.BranchTip(ctx, req.Owner, req.Name, branch)
	if err != nil {
		return "", err
	}
	tree, err := c.CreateTree(ctx, req.Owner, req.Name, tip.GetTree().GetSHA(), paths, blobs)
	if err != nil {
		return "", err
	}
	commit, err := c.CreateCommit(ctx, req.Owner, req.Name, req.Message, tree, tip.GetSHA())
	if err != nil {
		return "", err
	}
	if err := c.FastForward(ctx, req.Owner, req.Name, branch, commit); err != nil {
		return "", err
	}
	return repo.GetHTMLURL(), nil
}
