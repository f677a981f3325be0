// internal/syncer/syncer.go
package syncer

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	apperrors "github-content-sync/internal/errors"
	"github-content-sync/internal/extract"
	"github-content-sync/internal/github"
	"github-content-sync/internal/model"
	"github-content-sync/internal/store"
)

// SnapshotFetcher is the source-side dependency: resolve a branch and
// return a point-in-time snapshot of the document tree.
type SnapshotFetcher interface {
	FetchSnapshot(ctx context.Context, opts github.FetchOptions) (*model.RepositorySnapshot, error)
}

// FetcherFactory builds a fetcher for a given token. A run supplying
// its own token (webhook installs, setup flow) gets its own client
// instead of mutating shared state.
type FetcherFactory func(token string) SnapshotFetcher

// Defaults are the environment-level fallbacks for source resolution.
type Defaults struct {
	Owner            string
	Repo             string
	Branch           string
	Token            string
	FetchConcurrency int
	DocExtensions    []string
	SyncInterval     time.Duration
}

// Options are the per-run overrides supplied by a trigger.
type Options struct {
	Owner   string
	Repo    string
	Branch  string
	Token   string
	Trigger model.SyncTrigger
	EventID string
}

// Syncer orchestrates fetching, extraction, and reconciliation.
type Syncer struct {
	dbpool     *pgxpool.Pool
	newFetcher FetcherFactory
	logger     *slog.Logger
	defaults   Defaults
}

// NewSyncer creates a new Syncer instance.
func NewSyncer(dbpool *pgxpool.Pool, newFetcher FetcherFactory, logger *slog.Logger, defaults Defaults) *Syncer {
	if defaults.Branch == "" {
		defaults.Branch = "main"
	}
	return &Syncer{
		dbpool:     dbpool,
		newFetcher: newFetcher,
		logger:     logger,
		defaults:   defaults,
	}
}

// Start runs the cron trigger: an immediate sync followed by one per
// interval until the context is cancelled.
func (s *Syncer) Start(ctx context.Context) {
	s.logger.Info("Starting sync scheduler", "interval", s.defaults.SyncInterval.String())
	ticker := time.NewTicker(s.defaults.SyncInterval)
	defer ticker.Stop()

	s.runScheduled(ctx)

	for {
		select {
		case <-ticker.C:
			s.runScheduled(ctx)
		case <-ctx.Done():
			s.logger.Info("Sync scheduler shutting down", "reason", ctx.Err())
			return
		}
	}
}

func (s *Syncer) runScheduled(ctx context.Context) {
	result, err := s.Sync(ctx, Options{Trigger: model.TriggerCron})
	if err != nil {
		s.logger.Error("Scheduled sync failed", "error", err)
		return
	}
	s.logger.Info("Scheduled sync finished",
		"posts_synced", result.PostsSynced, "posts_archived", result.PostsArchived)
}

// resolvedSource is the effective repository configuration for one run.
type resolvedSource struct {
	Owner  string
	Repo   string
	Branch string
	Token  string
}

// resolveSource applies the precedence chain: explicit options, then
// persisted settings, then environment defaults.
func (s *Syncer) resolveSource(ctx context.Context, q store.Querier, opts Options) (resolvedSource, error) {
	resolved := resolvedSource{
		Owner:  opts.Owner,
		Repo:   opts.Repo,
		Branch: opts.Branch,
		Token:  opts.Token,
	}

	if resolved.Owner == "" || resolved.Repo == "" || resolved.Branch == "" || resolved.Token == "" {
		settings, err := q.GetContentSourceSettings(ctx)
		if err != nil {
			return resolvedSource{}, &apperrors.PersistenceError{Op: "load content source settings", Err: err}
		}
		if settings != nil {
			if resolved.Owner == "" {
				resolved.Owner = settings.Owner
			}
			if resolved.Repo == "" {
				resolved.Repo = settings.Repo
			}
			if resolved.Branch == "" {
				resolved.Branch = settings.Branch
			}
			if resolved.Token == "" {
				resolved.Token = settings.Token
			}
		}
	}

	if resolved.Owner == "" {
		resolved.Owner = s.defaults.Owner
	}
	if resolved.Repo == "" {
		resolved.Repo = s.defaults.Repo
	}
	if resolved.Branch == "" {
		resolved.Branch = s.defaults.Branch
	}
	if resolved.Token == "" {
		resolved.Token = s.defaults.Token
	}

	if resolved.Owner == "" || resolved.Repo == "" {
		return resolvedSource{}, &apperrors.ConfigurationError{
			Reason: "repository owner and name are not configured",
		}
	}
	return resolved, nil
}

// Sync runs one full pipeline pass: resolve the source, record a
// pending log entry, fetch a snapshot, extract posts, and reconcile
// them inside a single transaction. The log entry reaches exactly one
// terminal state; all failures are recorded there and rethrown.
func (s *Syncer) Sync(ctx context.Context, opts Options) (model.SyncResult, error) {
	if opts.Trigger == "" {
		opts.Trigger = model.TriggerManual
	}
	logger := s.logger.With("trigger", string(opts.Trigger))

	q := store.New(s.dbpool)

	source, err := s.resolveSource(ctx, q, opts)
	if err != nil {
		return model.SyncResult{}, &apperrors.SyncError{Trigger: string(opts.Trigger), Err: err}
	}
	logger = logger.With("owner", source.Owner, "repo", source.Repo, "branch", source.Branch)
	logger.Info("Starting sync run")

	logID, err := q.CreateSyncLog(ctx, store.CreateSyncLogParams{
		Trigger:   opts.Trigger,
		EventID:   opts.EventID,
		RepoOwner: source.Owner,
		RepoName:  source.Repo,
		Details:   map[string]any{"branch": source.Branch},
	})
	if err != nil {
		wrapped := &apperrors.PersistenceError{Op: "create sync log", Err: err}
		return model.SyncResult{}, &apperrors.SyncError{Trigger: string(opts.Trigger), Err: wrapped}
	}

	result, err := s.run(ctx, q, logger, source, opts)
	if err != nil {
		if logErr := q.CompleteSyncLog(ctx, store.CompleteSyncLogParams{
			ID:           logID,
			Status:       model.SyncFailed,
			ErrorMessage: err.Error(),
		}); logErr != nil {
			logger.Error("Failed to record sync failure", "error", logErr)
		}
		return result, &apperrors.SyncError{Trigger: string(opts.Trigger), Err: err}
	}

	if logErr := q.CompleteSyncLog(ctx, store.CompleteSyncLogParams{
		ID:     logID,
		Status: model.SyncSuccess,
		Details: map[string]any{
			"branch":           source.Branch,
			"postsSynced":      result.PostsSynced,
			"postsArchived":    result.PostsArchived,
			"tagsSynced":       result.TagsSynced,
			"categoriesSynced": result.CategoriesSynced,
			"errors":           result.Errors,
		},
	}); logErr != nil {
		logger.Error("Failed to record sync success", "error", logErr)
	}

	logger.Info("Sync run finished",
		"posts_synced", result.PostsSynced,
		"posts_archived", result.PostsArchived,
		"tags_synced", result.TagsSynced,
		"categories_synced", result.CategoriesSynced,
		"errors", len(result.Errors))
	return result, nil
}

// run fetches, extracts, and reconciles. Split from Sync so every
// failure path above funnels through one log-completion site.
func (s *Syncer) run(ctx context.Context, q store.Querier, logger *slog.Logger, source resolvedSource, opts Options) (model.SyncResult, error) {
	fetcher := s.newFetcher(source.Token)
	snapshot, err := fetcher.FetchSnapshot(ctx, github.FetchOptions{
		Owner:       source.Owner,
		Repo:        source.Repo,
		Branch:      source.Branch,
		Filter:      fileFilter(s.defaults.DocExtensions),
		Concurrency: s.defaults.FetchConcurrency,
	})
	if err != nil {
		return model.SyncResult{}, err
	}
	logger.Info("Fetched repository snapshot", "commit", snapshot.CommitSHA, "files", len(snapshot.Files))

	posts, extractErrors := s.extractAll(snapshot, logger)
	if len(snapshot.Files) > 0 && len(posts) == 0 && len(extractErrors) > 0 {
		return model.SyncResult{Errors: extractErrors},
			fmt.Errorf("extraction failed for all %d files: %s", len(snapshot.Files), extractErrors[0])
	}

	disambiguateSlugs(posts, logger)

	tx, err := s.dbpool.Begin(ctx)
	if err != nil {
		return model.SyncResult{Errors: extractErrors}, &apperrors.PersistenceError{Op: "begin transaction", Err: err}
	}
	defer tx.Rollback(ctx) // No-op once committed.

	result, err := s.syncBatch(ctx, store.New(tx), logger, posts)
	result.Errors = append(extractErrors, result.Errors...)
	if err != nil {
		return result, err
	}

	if err := tx.Commit(ctx); err != nil {
		return result, &apperrors.PersistenceError{Op: "commit transaction", Err: err}
	}
	return result, nil
}

// extractAll normalizes every snapshot file, skipping files whose
// preamble cannot be parsed and reporting them instead of aborting the
// run.
func (s *Syncer) extractAll(snapshot *model.RepositorySnapshot, logger *slog.Logger) ([]model.NormalizedPost, []string) {
	posts := make([]model.NormalizedPost, 0, len(snapshot.Files))
	var errs []string

	for _, file := range snapshot.Files {
		post, err := extract.Extract(file, extract.Context{
			Owner: snapshot.Owner,
			Repo:  snapshot.Repo,
		})
		if err != nil {
			logger.Warn("Skipping file that failed extraction", "path", file.Path, "error", err)
			errs = append(errs, err.Error())
			continue
		}
		posts = append(posts, post)
	}
	return posts, errs
}

// disambiguateSlugs resolves slug collisions across documents
// deterministically: the first file in snapshot order keeps the slug,
// later colliders get a hash-of-path suffix. Two unrelated documents
// must never merge under one slug.
func disambiguateSlugs(posts []model.NormalizedPost, logger *slog.Logger) {
	seen := make(map[string]string, len(posts))
	for i := range posts {
		post := &posts[i]
		if firstPath, collided := seen[post.Slug]; collided {
			resolved := post.Slug + "-" + extract.HashSlug(post.SourcePath)
			logger.Warn("Slug collision between documents",
				"slug", post.Slug, "kept_by", firstPath, "path", post.SourcePath, "resolved", resolved)
			post.Slug = resolved
		}
		seen[post.Slug] = post.SourcePath
	}
}

// syncBatch performs all writes for one run against a transaction-bound
// querier: author/tag/category upserts, post upserts with full relation
// replacement and search-vector recompute, then stale-post archival.
func (s *Syncer) syncBatch(ctx context.Context, q store.Querier, logger *slog.Logger, posts []model.NormalizedPost) (model.SyncResult, error) {
	var result model.SyncResult

	authorMap, err := s.upsertAuthors(ctx, q, posts)
	if err != nil {
		return result, err
	}

	uniqueTags := collectTerms(posts, func(p model.NormalizedPost) []model.Term { return p.Tags })
	uniqueCategories := collectTerms(posts, func(p model.NormalizedPost) []model.Term { return p.Categories })

	tagMap := make(map[string]uuid.UUID, len(uniqueTags))
	for _, tag := range uniqueTags {
		id, err := q.UpsertTag(ctx, store.UpsertTermParams{Slug: tag.Slug, Label: tag.Label})
		if err != nil {
			return result, &apperrors.PersistenceError{Op: "upsert tag " + tag.Slug, Err: err}
		}
		tagMap[tag.Slug] = id
	}

	categoryMap := make(map[string]uuid.UUID, len(uniqueCategories))
	for _, category := range uniqueCategories {
		id, err := q.UpsertCategory(ctx, store.UpsertTermParams{Slug: category.Slug, Label: category.Label})
		if err != nil {
			return result, &apperrors.PersistenceError{Op: "upsert category " + category.Slug, Err: err}
		}
		categoryMap[category.Slug] = id
	}

	result.TagsSynced = len(uniqueTags)
	result.CategoriesSynced = len(uniqueCategories)

	// Partition before writing: a post whose author did not resolve is
	// reported, not silently skipped.
	resolved := make([]model.NormalizedPost, 0, len(posts))
	for _, post := range posts {
		if _, ok := authorMap[post.Author.Slug]; !ok {
			result.Errors = append(result.Errors,
				fmt.Sprintf("post %q skipped: author %q did not resolve", post.Slug, post.Author.Slug))
			continue
		}
		resolved = append(resolved, post)
	}

	for _, post := range resolved {
		if err := s.syncPost(ctx, q, post, authorMap[post.Author.Slug], tagMap, categoryMap); err != nil {
			return result, err
		}
		result.PostsSynced++
	}

	// Retire content removed upstream without deleting history. An
	// empty snapshot never archives the whole site.
	if len(posts) > 0 {
		slugs := make([]string, len(posts))
		for i, post := range posts {
			slugs[i] = post.Slug
		}
		archived, err := q.ArchivePostsNotIn(ctx, slugs)
		if err != nil {
			return result, &apperrors.PersistenceError{Op: "archive stale posts", Err: err}
		}
		result.PostsArchived = int(archived)
	}

	return result, nil
}

// upsertAuthors writes the deduplicated author set and returns the
// slug→id mapping for the batch.
func (s *Syncer) upsertAuthors(ctx context.Context, q store.Querier, posts []model.NormalizedPost) (map[string]uuid.UUID, error) {
	unique := make(map[string]model.Author, len(posts))
	order := make([]string, 0, len(posts))
	for _, post := range posts {
		if _, seen := unique[post.Author.Slug]; !seen {
			order = append(order, post.Author.Slug)
		}
		unique[post.Author.Slug] = post.Author
	}

	authorMap := make(map[string]uuid.UUID, len(unique))
	for _, slug := range order {
		author := unique[slug]
		id, err := q.UpsertAuthor(ctx, store.UpsertAuthorParams{
			Slug:           author.Slug,
			DisplayName:    author.DisplayName,
			Email:          author.Email,
			AvatarURL:      author.AvatarURL,
			GithubUsername: author.GithubUsername,
		})
		if err != nil {
			return nil, &apperrors.PersistenceError{Op: "upsert author " + slug, Err: err}
		}
		authorMap[slug] = id
	}
	return authorMap, nil
}

// syncPost upserts one post, fully replaces its relation rows, and
// recomputes its search vector.
func (s *Syncer) syncPost(ctx context.Context, q store.Querier, post model.NormalizedPost, authorID uuid.UUID, tagMap, categoryMap map[string]uuid.UUID) error {
	postID, err := q.UpsertPost(ctx, store.UpsertPostParams{
		AuthorID:       authorID,
		Slug:           post.Slug,
		Title:          post.Title,
		Summary:        post.Summary,
		Content:        post.Content,
		RawFrontmatter: post.RawFrontmatter,
		OgImageURL:     post.OgImageURL,
		Status:         post.Status,
		SourcePath:     post.SourcePath,
		SourceSHA:      post.SourceSHA,
		PublishedAt:    post.PublishedAt,
	})
	if err != nil {
		return &apperrors.PersistenceError{Op: "upsert post " + post.Slug, Err: err}
	}

	// Delete-then-insert so no stale links survive an edit that removed
	// a tag or category.
	if err := q.DeletePostRelations(ctx, postID); err != nil {
		return &apperrors.PersistenceError{Op: "clear relations for " + post.Slug, Err: err}
	}

	tagIDs := make([]uuid.UUID, 0, len(post.Tags))
	for _, tag := range post.Tags {
		if id, ok := tagMap[tag.Slug]; ok {
			tagIDs = append(tagIDs, id)
		}
	}
	if err := q.InsertPostTags(ctx, postID, tagIDs); err != nil {
		return &apperrors.PersistenceError{Op: "link tags for " + post.Slug, Err: err}
	}

	categoryIDs := make([]uuid.UUID, 0, len(post.Categories))
	for _, category := range post.Categories {
		if id, ok := categoryMap[category.Slug]; ok {
			categoryIDs = append(categoryIDs, id)
		}
	}
	if err := q.InsertPostCategories(ctx, postID, categoryIDs); err != nil {
		return &apperrors.PersistenceError{Op: "link categories for " + post.Slug, Err: err}
	}

	if err := q.InsertPostAttachments(ctx, postID, post.Attachments); err != nil {
		return &apperrors.PersistenceError{Op: "store attachments for " + post.Slug, Err: err}
	}

	if err := q.UpdateSearchVector(ctx, postID); err != nil {
		return &apperrors.PersistenceError{Op: "update search vector for " + post.Slug, Err: err}
	}
	return nil
}

// collectTerms gathers the deduplicated term set across the batch,
// preserving first-seen order.
func collectTerms(posts []model.NormalizedPost, pick func(model.NormalizedPost) []model.Term) []model.Term {
	var terms []model.Term
	seen := make(map[string]bool)
	for _, post := range posts {
		for _, term := range pick(post) {
			if seen[term.Slug] {
				continue
			}
			seen[term.Slug] = true
			terms = append(terms, term)
		}
	}
	return terms
}

func fileFilter(extensions []string) func(string) bool {
	if len(extensions) == 0 {
		return nil
	}
	return github.ExtensionFilter(extensions)
}
