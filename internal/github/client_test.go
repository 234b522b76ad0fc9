package github

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	gh "github.com/google/go-github/v68/github"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, handler http.Handler) *Client {
	t.Helper()
	server := httptest.NewTLSServer(handler)
	t.Cleanup(server.Close)

	client, err := NewClient(Config{Token: "test-token", BaseURL: server.URL, HTTPClient: server.Client()})
	require.NoError(t, err)
	return client
}

func TestNewClient_RequiresToken(t *testing.T) {
	_, err := NewClient(Config{})
	require.Error(t, err)
}

func TestNewClient_RejectsPlainHTTP(t *testing.T) {
	_, err := NewClient(Config{Token: "t", BaseURL: "http://example.com"})
	require.ErrorContains(t, err, "HTTPS")
}

func TestClient_SetsHeaders(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "Bearer test-token", r.Header.Get("Authorization"))
		require.Equal(t, "application/vnd.github+json", r.Header.Get("Accept"))
		require.Equal(t, "2022-11-28", r.Header.Get("X-GitHub-Api-Version"))
		require.Equal(t, "/repos/octo/site", r.URL.Path)
		_ = json.NewEncoder(w).Encode(map[string]any{"name": "site", "full_name": "octo/site", "private": true})
	}))

	repo, err := client.GetRepository(context.Background(), "octo", "site")
	require.NoError(t, err)
	require.Equal(t, "octo/site", repo.GetFullName())
	require.True(t, repo.GetPrivate())
}

func TestClient_APIErrors(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/repos/octo/missing":
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(`{"message":"Not Found"}`))
		default:
			w.WriteHeader(http.StatusUnprocessableEntity)
			_, _ = w.Write([]byte(`{"message":"Validation Failed","errors":[{"resource":"Repository","code":"custom","field":"name","message":"name already exists"}]}`))
		}
	}))

	_, err := client.GetRepository(context.Background(), "octo", "missing")
	require.True(t, IsNotFound(err))
	require.False(t, IsConflict(err))

	_, err = client.CreateRepository(context.Background(), "dup", false)
	require.True(t, IsValidationFailed(err))
	require.ErrorContains(t, err, "name already exists")
}

func TestClient_CreateBlobEncodesBase64(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Content  string `json:"content"`
			Encoding string `json:"encoding"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		require.Equal(t, "base64", body.Encoding)
		decoded, err := base64.StdEncoding.DecodeString(body.Content)
		require.NoError(t, err)
		require.Equal(t, "hello", string(decoded))
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"sha":"b1"}`))
	}))

	sha, err := client.CreateBlob(context.Background(), "octo", "site", []byte("hello"))
	require.NoError(t, err)
	require.Equal(t, "b1", sha)
}

func TestClient_CreateRepositoryAutoInits(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/user/repos", r.URL.Path)
		var body gh.Repository
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		require.Equal(t, "site", body.GetName())
		require.True(t, body.GetPrivate())
		require.True(t, body.GetAutoInit())
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"full_name":"octo/site","private":true,"default_branch":"main"}`))
	}))

	repo, err := client.CreateRepository(context.Background(), "site", true)
	require.NoError(t, err)
	require.Equal(t, "main", repo.GetDefaultBranch())
}

func TestClient_FastForwardIsNotForced(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPatch, r.Method)
		require.Equal(t, "/repos/octo/site/git/refs/heads/main", r.URL.Path)
		var body struct {
			SHA   string `json:"sha"`
			Force bool   `json:"force"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		require.Equal(t, "c1", body.SHA)
		require.False(t, body.Force)
		_, _ = w.Write([]byte(`{"ref":"refs/heads/main","object":{"sha":"c1"}}`))
	}))

	require.NoError(t, client.FastForward(context.Background(), "octo", "site", "main", "c1"))
}
