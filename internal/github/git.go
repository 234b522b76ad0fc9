package github

import (
	"context"
	"encoding/base64"

	gh "github.com/google/go-github/v68/github"
)

// CreateBlob uploads content as a base64 blob and returns its sha.
func (c *Client) CreateBlob(ctx context.Context, owner, repo string, content []byte) (string, error) {
	blob, _, err := c.api.Git.CreateBlob(ctx, owner, repo, &gh.Blob{
		Content:  gh.Ptr(base64.StdEncoding.EncodeToString(content)),
		Encoding: gh.Ptr("base64"),
	})
	if err != nil {
		return "", apiError(err, "creating blob in %s/%s", owner, repo)
	}
	return blob.GetSHA(), nil
}

// BranchTip resolves branch to its head commit.
func (c *Client) BranchTip(ctx context.Context, owner, repo, branch string) (*gh.Commit, error) {
	ref, _, err := c.api.Git.GetRef(ctx, owner, repo, "heads/"+branch)
	if err != nil {
		return nil, apiError(err, "getting branch %s in %s/%s", branch, owner, repo)
	}
	sha := ref.GetObject().GetSHA()
	commit, _, err := c.api.Git.GetCommit(ctx, owner, repo, sha)
	if err != nil {
		return nil, apiError(err, "getting commit %s in %s/%s", sha, owner, repo)
	}
	return commit, nil
}

// CreateTree layers blobs, keyed by path, on baseTree as regular files.
func (c *Client) CreateTree(ctx context.Context, owner, repo, baseTree string, paths []string, blobs map[string]string) (string, error) {
	entries := make([]*gh.TreeEntry, 0, len(paths))
	for _, p := range paths {
		entries = append(entries, &gh.TreeEntry{
			Path: gh.Ptr(p),
			Mode: gh.Ptr("100644"),
			Type: gh.Ptr("blob"),
			SHA:  gh.Ptr(blobs[p]),
		})
	}
	tree, _, err := c.api.Git.CreateTree(ctx, owner, repo, baseTree, entries)
	if err != nil {
		return "", apiError(err, "creating tree in %s/%s", owner, repo)
	}
	return tree.GetSHA(), nil
}

// CreateCommit creates a commit of tree with a single parent.
func (c *Client) CreateCommit(ctx context.Context, owner, repo, message, tree, parent string) (string, error) {
	commit, _, err := c.api.Git.CreateCommit(ctx, owner, repo, &gh.Commit{
		Message: gh.Ptr(message),
		Tree:    &gh.Tree{SHA: gh.Ptr(tree)},
		Parents: []*gh.Commit{{SHA: gh.Ptr(parent)}},
	}, nil)
	if err != nil {
		return "", apiError(err, "creating commit in %s/%s", owner, repo)
	}
	return commit.GetSHA(), nil
}

// FastForward moves branch to sha. The update fails unless it is a fast
// forward.
func (c *Client) FastForward(ctx context.Context, owner, repo, branch, sha string) error {
	_, _, err := c.api.Git.UpdateRef(ctx, owner, repo, &gh.Reference{
		Ref:    gh.Ptr("refs/heads/" + branch),
		Object: &gh.GitObject{SHA: gh.Ptr(sha)},
	}, false)
	if err != nil {
		return apiError(err, "updating branch %s in %s/%s", branch, owner, repo)
	}
	return nil
}
