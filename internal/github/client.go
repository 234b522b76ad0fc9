// Package github is a small client for the repository hosting REST API,
// built on go-github, and the push protocol that uses it.
package github

import (
	"fmt"
	"net/http"
	"net/url"
	"strings"

	gh "github.com/google/go-github/v68/github"
)

// DefaultBaseURL is the public REST endpoint.
const DefaultBaseURL = "https://api.github.com"

// Config configures a Client.
type Config struct {
	// Token is a personal access token. Required.
	Token string

	// BaseURL defaults to https://api.github.com. Must use HTTPS.
	BaseURL string

	// HTTPClient defaults to http.DefaultClient.
	HTTPClient *http.Client
}

// Client issues authenticated REST requests.
type Client struct {
	api *gh.Client
}

// NewClient validates cfg and returns a Client.
func NewClient(cfg Config) (*Client, error) {
	if cfg.Token == "" {
		return nil, fmt.Errorf("github: no token configured")
	}
	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if !strings.HasPrefix(baseURL, "https://") {
		return nil, fmt.Errorf("github: API client requires HTTPS (got %q)", baseURL)
	}
	endpoint, err := url.Parse(baseURL + "/")
	if err != nil {
		return nil, fmt.Errorf("github: parsing base URL: %w", err)
	}

	api := gh.NewClient(cfg.HTTPClient).WithAuthToken(cfg.Token)
	api.BaseURL = endpoint
	return &Client{api: api}, nil
}
