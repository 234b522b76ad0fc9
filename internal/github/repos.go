package github

import (
	"context"

	gh "github.com/google/go-github/v68/github"
)

// GetRepository fetches owner/repo.
func (c *Client) GetRepository(ctx context.Context, owner, repo string) (*gh.Repository, error) {
	r, _, err := c.api.Repositories.Get(ctx, owner, repo)
	if err != nil {
		return nil, apiError(err, "getting repository %s/%s", owner, repo)
	}
	return r, nil
}

// CreateRepository creates a repository owned by the authenticated user.
// AutoInit makes the default branch exist before the first push.
func (c *Client) CreateRepository(ctx context.Context, name string, private bool) (*gh.Repository, error) {
	r, _, err := c.api.Repositories.Create(ctx, "", &gh.Repository{
		Name:     gh.Ptr(name),
		Private:  gh.Ptr(private),
		AutoInit: gh.Ptr(true),
	})
	if err != nil {
		return nil, apiError(err, "creating repository %s", name)
	}
	return r, nil
}

// SetVisibility makes owner/repo private or public.
func (c *Client) SetVisibility(ctx context.Context, owner, repo string, private bool) (*gh.Repository, error) {
	r, _, err := c.api.Repositories.Edit(ctx, owner, repo, &gh.Repository{Private: gh.Ptr(private)})
	if err != nil {
		return nil, apiError(err, "updating repository %s/%s", owner, repo)
	}
	return r, nil
}
