// internal/github/fetcher.go
package github

import (
	"context"
	"strings"

	"golang.org/x/sync/errgroup"

	"github-content-sync/internal/model"
)

// DefaultConcurrency bounds in-flight content fetches to stay under
// GitHub's secondary rate limits.
const DefaultConcurrency = 5

// FetchOptions configures one snapshot fetch.
type FetchOptions struct {
	Owner  string
	Repo   string
	Branch string
	// Filter selects candidate files by path. Defaults to the markdown
	// extension set.
	Filter func(path string) bool
	// Concurrency bounds parallel content fetches. Defaults to
	// DefaultConcurrency.
	Concurrency int
}

// ExtensionFilter returns a path filter matching any of the given file
// extensions.
func ExtensionFilter(extensions []string) func(string) bool {
	return func(path string) bool {
		for _, ext := range extensions {
			if strings.HasSuffix(path, ext) {
				return true
			}
		}
		return false
	}
}

// DefaultFileFilter matches the markdown document extensions.
var DefaultFileFilter = ExtensionFilter([]string{".md", ".mdx", ".markdown"})

// FetchSnapshot resolves the branch to a commit, lists the recursive
// tree, and fetches every matching file's content concurrently.
//
// Fetching is fail-fast: any single content fetch error aborts the
// remaining fetches and fails the snapshot, since a partial snapshot
// would silently drop content downstream.
func (c *Client) FetchSnapshot(ctx context.Context, opts FetchOptions) (*model.RepositorySnapshot, error) {
	filter := opts.Filter
	if filter == nil {
		filter = DefaultFileFilter
	}
	concurrency := opts.Concurrency
	if concurrency <= 0 {
		concurrency = DefaultConcurrency
	}

	commitSHA, treeSHA, err := c.GetBranch(ctx, opts.Owner, opts.Repo, opts.Branch)
	if err != nil {
		return nil, err
	}

	entries, err := c.GetTree(ctx, opts.Owner, opts.Repo, treeSHA)
	if err != nil {
		return nil, err
	}

	var candidates []TreeEntry
	for _, entry := range entries {
		if filter(entry.Path) {
			candidates = append(candidates, entry)
		}
	}

	c.logger.Debug("Fetching snapshot contents",
		"owner", opts.Owner, "repo", opts.Repo, "commit", commitSHA,
		"files", len(candidates), "concurrency", concurrency)

	// Preserve tree order: each goroutine writes its own slot.
	files := make([]model.RawFile, len(candidates))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)

	for i, entry := range candidates {
		g.Go(func() error {
			content, err := c.GetContent(gctx, opts.Owner, opts.Repo, entry.Path, commitSHA)
			if err != nil {
				return err
			}
			files[i] = model.RawFile{
				Path:    entry.Path,
				SHA:     entry.SHA,
				Content: content,
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	return &model.RepositorySnapshot{
		Files:     files,
		CommitSHA: commitSHA,
		TreeSHA:   treeSHA,
		Branch:    opts.Branch,
		Owner:     opts.Owner,
		Repo:      opts.Repo,
	}, nil
}
