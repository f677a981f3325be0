// internal/github/client_test.go
package github

import (
	"context"
	"encoding/base64"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/google/go-github/v62/github"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github-content-sync/internal/errors"
)

// setupTestClient creates a httptest server and a github client pointing to it.
func setupTestClient(t *testing.T, handler http.Handler) (*Client, *httptest.Server) {
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug}))
	client := NewClient("", logger)

	// Override the client's internal http client to point to our test server.
	testClient, err := github.NewClient(server.Client()).WithEnterpriseURLs(server.URL, server.URL)
	require.NoError(t, err)
	client.gh = testClient

	return client, server
}

func TestClient_GetBranch(t *testing.T) {
	t.Run("resolves commit and tree sha", func(t *testing.T) {
		handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.True(t, strings.HasSuffix(r.URL.Path, "/repos/test/repo/branches/main"))
			fmt.Fprintln(w, `{"name": "main", "commit": {"sha": "commit-sha", "commit": {"tree": {"sha": "tree-sha"}}}}`)
		})
		client, _ := setupTestClient(t, handler)

		commitSHA, treeSHA, err := client.GetBranch(context.Background(), "test", "repo", "main")

		require.NoError(t, err)
		assert.Equal(t, "commit-sha", commitSHA)
		assert.Equal(t, "tree-sha", treeSHA)
	})

	t.Run("missing branch surfaces as source unavailable", func(t *testing.T) {
		handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusNotFound)
			fmt.Fprintln(w, `{"message": "Branch not found"}`)
		})
		client, _ := setupTestClient(t, handler)

		_, _, err := client.GetBranch(context.Background(), "test", "repo", "gone")

		var srcErr *apperrors.SourceUnavailableError
		require.ErrorAs(t, err, &srcErr)
		assert.Equal(t, "resolve branch", srcErr.Op)
	})

	t.Run("retries transient server errors", func(t *testing.T) {
		var requestCount int32
		handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if atomic.AddInt32(&requestCount, 1) == 1 {
				w.WriteHeader(http.StatusServiceUnavailable)
				return
			}
			fmt.Fprintln(w, `{"name": "main", "commit": {"sha": "commit-sha", "commit": {"tree": {"sha": "tree-sha"}}}}`)
		})
		client, _ := setupTestClient(t, handler)

		_, _, err := client.GetBranch(context.Background(), "test", "repo", "main")

		require.NoError(t, err)
		assert.Equal(t, int32(2), atomic.LoadInt32(&requestCount), "should have made two requests")
	})

	t.Run("fails after max retries on persistent server error", func(t *testing.T) {
		var requestCount int32
		handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			atomic.AddInt32(&requestCount, 1)
			w.WriteHeader(http.StatusInternalServerError)
		})
		client, _ := setupTestClient(t, handler)

		_, _, err := client.GetBranch(context.Background(), "test", "repo", "main")

		require.Error(t, err)
		assert.Equal(t, int32(maxRetries), atomic.LoadInt32(&requestCount))
	})
}

// treeHandler serves a fake repository with two markdown files and one
// non-document file.
func treeHandler(t *testing.T) http.Handler {
	documents := map[string]string{
		"posts/first.md":  "---\ntitle: First\n---\n\nFirst body.",
		"posts/second.md": "---\ntitle: Second\n---\n\nSecond body.",
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case strings.Contains(r.URL.Path, "/branches/"):
			fmt.Fprintln(w, `{"name": "main", "commit": {"sha": "commit-sha", "commit": {"tree": {"sha": "tree-sha"}}}}`)
		case strings.Contains(r.URL.Path, "/git/trees/"):
			fmt.Fprintln(w, `{"sha": "tree-sha", "tree": [
				{"path": "posts/first.md", "type": "blob", "sha": "sha-1"},
				{"path": "assets/logo.png", "type": "blob", "sha": "sha-2"},
				{"path": "posts", "type": "tree", "sha": "sha-3"},
				{"path": "posts/second.md", "type": "blob", "sha": "sha-4"}
			]}`)
		case strings.Contains(r.URL.Path, "/contents/"):
			path := r.URL.Path[strings.Index(r.URL.Path, "/contents/")+len("/contents/"):]
			content, ok := documents[path]
			if !ok {
				t.Errorf("unexpected content fetch for %q", path)
				w.WriteHeader(http.StatusNotFound)
				return
			}
			assert.Equal(t, "commit-sha", r.URL.Query().Get("ref"))
			encoded := base64.StdEncoding.EncodeToString([]byte(content))
			fmt.Fprintf(w, `{"type": "file", "encoding": "base64", "path": %q, "content": %q}`, path, encoded)
		default:
			t.Errorf("unexpected request path %q", r.URL.Path)
			w.WriteHeader(http.StatusNotFound)
		}
	})
}

func TestClient_FetchSnapshot(t *testing.T) {
	client, _ := setupTestClient(t, treeHandler(t))

	snapshot, err := client.FetchSnapshot(context.Background(), FetchOptions{
		Owner:  "test",
		Repo:   "repo",
		Branch: "main",
	})
	require.NoError(t, err)

	assert.Equal(t, "commit-sha", snapshot.CommitSHA)
	assert.Equal(t, "tree-sha", snapshot.TreeSHA)
	assert.Equal(t, "main", snapshot.Branch)

	// Only document files, in tree order, decoded from base64.
	require.Len(t, snapshot.Files, 2)
	assert.Equal(t, "posts/first.md", snapshot.Files[0].Path)
	assert.Equal(t, "sha-1", snapshot.Files[0].SHA)
	assert.Contains(t, snapshot.Files[0].Content, "First body.")
	assert.Equal(t, "posts/second.md", snapshot.Files[1].Path)
}

func TestClient_FetchSnapshot_FailFast(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case strings.Contains(r.URL.Path, "/branches/"):
			fmt.Fprintln(w, `{"name": "main", "commit": {"sha": "commit-sha", "commit": {"tree": {"sha": "tree-sha"}}}}`)
		case strings.Contains(r.URL.Path, "/git/trees/"):
			fmt.Fprintln(w, `{"sha": "tree-sha", "tree": [{"path": "posts/a.md", "type": "blob", "sha": "sha-1"}]}`)
		default:
			w.WriteHeader(http.StatusNotFound)
			fmt.Fprintln(w, `{"message": "Not Found"}`)
		}
	})
	client, _ := setupTestClient(t, handler)

	_, err := client.FetchSnapshot(context.Background(), FetchOptions{
		Owner:  "test",
		Repo:   "repo",
		Branch: "main",
	})

	var srcErr *apperrors.SourceUnavailableError
	require.ErrorAs(t, err, &srcErr)
	assert.Equal(t, "fetch content", srcErr.Op)
}

func TestClient_FetchSnapshot_CustomFilter(t *testing.T) {
	client, _ := setupTestClient(t, treeHandler(t))

	snapshot, err := client.FetchSnapshot(context.Background(), FetchOptions{
		Owner:  "test",
		Repo:   "repo",
		Branch: "main",
		Filter: func(path string) bool { return path == "posts/first.md" },
	})
	require.NoError(t, err)

	require.Len(t, snapshot.Files, 1)
	assert.Equal(t, "posts/first.md", snapshot.Files[0].Path)
}
