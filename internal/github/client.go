// internal/github/client.go
package github

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/go-github/v62/github"
	"golang.org/x/oauth2"

	apperrors "github-content-sync/internal/errors"
)

const (
	// Maximum attempts per API call before giving up.
	maxRetries = 3
	retryDelay = 500 * time.Millisecond
)

// Client is a wrapper around the go-github client.
type Client struct {
	gh     *github.Client
	logger *slog.Logger
}

// NewClient creates and configures a new Client instance. An empty token
// yields an unauthenticated client, which GitHub rate-limits far more
// aggressively.
func NewClient(token string, logger *slog.Logger) *Client {
	var httpClient *http.Client
	if token != "" {
		ts := oauth2.StaticTokenSource(
			&oauth2.Token{AccessToken: token},
		)
		httpClient = oauth2.NewClient(context.Background(), ts)
	}

	return &Client{
		gh:     github.NewClient(httpClient),
		logger: logger,
	}
}

// TreeEntry is one blob in the repository tree.
type TreeEntry struct {
	Path string
	SHA  string
}

// GetBranch resolves a branch name to its head commit SHA and the tree
// SHA of that commit.
func (c *Client) GetBranch(ctx context.Context, owner, repo, branch string) (commitSHA, treeSHA string, err error) {
	info, err := withRetry(ctx, c.logger, func() (*github.Branch, *github.Response, error) {
		return c.gh.Repositories.GetBranch(ctx, owner, repo, branch, 0)
	})
	if err != nil {
		return "", "", &apperrors.SourceUnavailableError{Op: "resolve branch", Err: err}
	}
	return info.GetCommit().GetSHA(), info.GetCommit().GetCommit().GetTree().GetSHA(), nil
}

// GetTree lists the full recursive tree for a tree SHA, returning only
// blob entries.
func (c *Client) GetTree(ctx context.Context, owner, repo, treeSHA string) ([]TreeEntry, error) {
	tree, err := withRetry(ctx, c.logger, func() (*github.Tree, *github.Response, error) {
		return c.gh.Git.GetTree(ctx, owner, repo, treeSHA, true)
	})
	if err != nil {
		return nil, &apperrors.SourceUnavailableError{Op: "list tree", Err: err}
	}

	var entries []TreeEntry
	for _, node := range tree.Entries {
		if node.GetType() != "blob" {
			continue
		}
		entries = append(entries, TreeEntry{
			Path: node.GetPath(),
			SHA:  node.GetSHA(),
		})
	}
	return entries, nil
}

// GetContent fetches one file's content at a ref, decoded from the
// transport encoding to plain text.
func (c *Client) GetContent(ctx context.Context, owner, repo, path, ref string) (string, error) {
	file, err := withRetry(ctx, c.logger, func() (*github.RepositoryContent, *github.Response, error) {
		f, _, resp, err := c.gh.Repositories.GetContents(ctx, owner, repo, path, &github.RepositoryContentGetOptions{Ref: ref})
		return f, resp, err
	})
	if err != nil {
		return "", &apperrors.SourceUnavailableError{Op: "fetch content", Err: err}
	}
	if file == nil {
		return "", nil
	}

	content, err := file.GetContent()
	if err != nil {
		return "", &apperrors.SourceUnavailableError{Op: "decode content", Err: err}
	}
	return content, nil
}

// withRetry runs an API call with bounded retries, waiting out rate
// limits and retrying transient server errors.
func withRetry[T any](ctx context.Context, logger *slog.Logger, fn func() (T, *github.Response, error)) (T, error) {
	var zero T
	var lastErr error

	for attempt := 1; attempt <= maxRetries; attempt++ {
		result, _, err := fn()
		if err == nil {
			return result, nil
		}
		lastErr = err

		var rateErr *github.RateLimitError
		if errors.As(err, &rateErr) {
			wait := time.Until(rateErr.Rate.Reset.Time)
			if wait < 0 {
				wait = 0
			}
			logger.Warn("GitHub rate limit hit, waiting for reset", "wait", wait.String())
			select {
			case <-time.After(wait):
				continue
			case <-ctx.Done():
				return zero, ctx.Err()
			}
		}

		var ghErr *github.ErrorResponse
		if errors.As(err, &ghErr) && ghErr.Response != nil && ghErr.Response.StatusCode >= 500 {
			logger.Warn("GitHub server error, retrying", "status", ghErr.Response.StatusCode, "attempt", attempt)
			select {
			case <-time.After(retryDelay):
				continue
			case <-ctx.Done():
				return zero, ctx.Err()
			}
		}

		return zero, err
	}

	return zero, lastErr
}
