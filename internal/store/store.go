// internal/store/store.go
package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github-content-sync/internal/model"
)

// contentSourceKey is the system_settings row holding the persisted
// repository configuration.
const contentSourceKey = "content_source"

// DBTX is satisfied by both *pgxpool.Pool and pgx.Tx, so the same
// queries run inside or outside a transaction.
type DBTX interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Queries is the concrete Querier implementation.
type Queries struct {
	db DBTX
}

// New binds the query set to a pool or transaction.
func New(db DBTX) *Queries {
	return &Queries{db: db}
}

// UpsertAuthorParams carries one author identity keyed by slug.
type UpsertAuthorParams struct {
	Slug           string
	DisplayName    string
	Email          string
	AvatarURL      string
	GithubUsername string
}

// UpsertAuthor inserts or updates an author by slug and returns its id.
func (q *Queries) UpsertAuthor(ctx context.Context, arg UpsertAuthorParams) (uuid.UUID, error) {
	const query = `
		INSERT INTO authors (slug, display_name, email, avatar_url, github_username)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (slug) DO UPDATE SET
			display_name = EXCLUDED.display_name,
			email = EXCLUDED.email,
			avatar_url = EXCLUDED.avatar_url,
			github_username = EXCLUDED.github_username,
			updated_at = now()
		RETURNING id`

	var id uuid.UUID
	err := q.db.QueryRow(ctx, query,
		arg.Slug, arg.DisplayName,
		textOrNil(arg.Email), textOrNil(arg.AvatarURL), textOrNil(arg.GithubUsername),
	).Scan(&id)
	return id, err
}

// UpsertTermParams is a slug/label pair for tags and categories.
type UpsertTermParams struct {
	Slug  string
	Label string
}

// UpsertTag inserts or updates a tag by slug and returns its id.
func (q *Queries) UpsertTag(ctx context.Context, arg UpsertTermParams) (uuid.UUID, error) {
	const query = `
		INSERT INTO tags (slug, label)
		VALUES ($1, $2)
		ON CONFLICT (slug) DO UPDATE SET
			label = EXCLUDED.label,
			updated_at = now()
		RETURNING id`

	var id uuid.UUID
	err := q.db.QueryRow(ctx, query, arg.Slug, arg.Label).Scan(&id)
	return id, err
}

// UpsertCategory inserts or updates a category by slug and returns its id.
func (q *Queries) UpsertCategory(ctx context.Context, arg UpsertTermParams) (uuid.UUID, error) {
	const query = `
		INSERT INTO categories (slug, label)
		VALUES ($1, $2)
		ON CONFLICT (slug) DO UPDATE SET
			label = EXCLUDED.label,
			updated_at = now()
		RETURNING id`

	var id uuid.UUID
	err := q.db.QueryRow(ctx, query, arg.Slug, arg.Label).Scan(&id)
	return id, err
}

// UpsertPostParams carries all mutable post fields for one upsert.
type UpsertPostParams struct {
	AuthorID       uuid.UUID
	Slug           string
	Title          string
	Summary        string
	Content        string
	RawFrontmatter map[string]any
	OgImageURL     string
	Status         model.PostStatus
	SourcePath     string
	SourceSHA      string
	PublishedAt    *time.Time
}

// UpsertPost inserts a post or, when the slug already exists, updates
// every mutable field. Returns the post id.
func (q *Queries) UpsertPost(ctx context.Context, arg UpsertPostParams) (uuid.UUID, error) {
	raw, err := json.Marshal(arg.RawFrontmatter)
	if err != nil {
		return uuid.Nil, err
	}

	const query = `
		INSERT INTO posts (author_id, slug, title, summary, content, raw_frontmatter,
			og_image_url, status, source, source_path, source_sha, published_at)
		VALUES ($1, $2, $3, $4, $5, $6::jsonb, $7, $8, 'github', $9, $10, $11)
		ON CONFLICT (slug) DO UPDATE SET
			author_id = EXCLUDED.author_id,
			title = EXCLUDED.title,
			summary = EXCLUDED.summary,
			content = EXCLUDED.content,
			raw_frontmatter = EXCLUDED.raw_frontmatter,
			og_image_url = EXCLUDED.og_image_url,
			status = EXCLUDED.status,
			source_path = EXCLUDED.source_path,
			source_sha = EXCLUDED.source_sha,
			published_at = EXCLUDED.published_at,
			updated_at = now()
		RETURNING id`

	var id uuid.UUID
	err = q.db.QueryRow(ctx, query,
		arg.AuthorID, arg.Slug, arg.Title, textOrNil(arg.Summary), arg.Content, string(raw),
		textOrNil(arg.OgImageURL), string(arg.Status),
		arg.SourcePath, textOrNil(arg.SourceSHA), arg.PublishedAt,
	).Scan(&id)
	return id, err
}

// DeletePostRelations removes every tag, category, and attachment row
// for a post, ahead of a full replacement.
func (q *Queries) DeletePostRelations(ctx context.Context, postID uuid.UUID) error {
	for _, query := range []string{
		`DELETE FROM post_tags WHERE post_id = $1`,
		`DELETE FROM post_categories WHERE post_id = $1`,
		`DELETE FROM post_attachments WHERE post_id = $1`,
	} {
		if _, err := q.db.Exec(ctx, query, postID); err != nil {
			return err
		}
	}
	return nil
}

// InsertPostTags links a post to the given tag ids.
func (q *Queries) InsertPostTags(ctx context.Context, postID uuid.UUID, tagIDs []uuid.UUID) error {
	for _, tagID := range tagIDs {
		_, err := q.db.Exec(ctx,
			`INSERT INTO post_tags (post_id, tag_id) VALUES ($1, $2) ON CONFLICT DO NOTHING`,
			postID, tagID)
		if err != nil {
			return err
		}
	}
	return nil
}

// InsertPostCategories links a post to the given category ids.
func (q *Queries) InsertPostCategories(ctx context.Context, postID uuid.UUID, categoryIDs []uuid.UUID) error {
	for _, categoryID := range categoryIDs {
		_, err := q.db.Exec(ctx,
			`INSERT INTO post_categories (post_id, category_id) VALUES ($1, $2) ON CONFLICT DO NOTHING`,
			postID, categoryID)
		if err != nil {
			return err
		}
	}
	return nil
}

// InsertPostAttachments stores a post's attachment rows in order.
func (q *Queries) InsertPostAttachments(ctx context.Context, postID uuid.UUID, attachments []model.Attachment) error {
	for _, att := range attachments {
		_, err := q.db.Exec(ctx,
			`INSERT INTO post_attachments (post_id, label, url, type) VALUES ($1, $2, $3, $4)`,
			postID, att.Label, att.URL, string(att.Type))
		if err != nil {
			return err
		}
	}
	return nil
}

// UpdateSearchVector recomputes the post's full-text representation
// from title, summary, and content.
func (q *Queries) UpdateSearchVector(ctx context.Context, postID uuid.UUID) error {
	const query = `
		UPDATE posts
		SET search_vector = to_tsvector('english',
			coalesce(title, '') || ' ' || coalesce(summary, '') || ' ' || coalesce(content, ''))
		WHERE id = $1`

	_, err := q.db.Exec(ctx, query, postID)
	return err
}

// ArchivePostsNotIn marks every pipeline-sourced post whose slug is
// absent from the snapshot as archived. Already-archived posts are not
// touched, so the returned count means newly archived rows.
func (q *Queries) ArchivePostsNotIn(ctx context.Context, slugs []string) (int64, error) {
	const query = `
		UPDATE posts
		SET status = 'archived', updated_at = now()
		WHERE source = 'github'
			AND status <> 'archived'
			AND NOT (slug = ANY($1))`

	tag, err := q.db.Exec(ctx, query, slugs)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// CreateSyncLogParams starts one sync-log entry in the pending state.
type CreateSyncLogParams struct {
	Trigger   model.SyncTrigger
	EventID   string
	RepoOwner string
	RepoName  string
	Details   map[string]any
}

// CreateSyncLog records the start of a sync run and returns the entry id.
func (q *Queries) CreateSyncLog(ctx context.Context, arg CreateSyncLogParams) (uuid.UUID, error) {
	details, err := json.Marshal(arg.Details)
	if err != nil {
		return uuid.Nil, err
	}

	const query = `
		INSERT INTO sync_log (trigger, event_id, repo_owner, repo_name, status, details)
		VALUES ($1, $2, $3, $4, 'pending', $5::jsonb)
		RETURNING id`

	var id uuid.UUID
	err = q.db.QueryRow(ctx, query,
		string(arg.Trigger), textOrNil(arg.EventID), arg.RepoOwner, arg.RepoName, string(details),
	).Scan(&id)
	return id, err
}

// CompleteSyncLogParams moves a sync-log entry to its terminal state.
type CompleteSyncLogParams struct {
	ID           uuid.UUID
	Status       model.SyncStatus
	ErrorMessage string
	Details      map[string]any
}

// CompleteSyncLog updates the entry exactly once at the end of a run.
// A nil Details leaves the recorded details untouched.
func (q *Queries) CompleteSyncLog(ctx context.Context, arg CompleteSyncLogParams) error {
	var details any
	if arg.Details != nil {
		encoded, err := json.Marshal(arg.Details)
		if err != nil {
			return err
		}
		details = string(encoded)
	}

	const query = `
		UPDATE sync_log
		SET status = $2,
			completed_at = now(),
			error_message = $3,
			details = coalesce($4::jsonb, details)
		WHERE id = $1`

	_, err := q.db.Exec(ctx, query,
		arg.ID, string(arg.Status), textOrNil(arg.ErrorMessage), details)
	return err
}

// SyncLogEntry is one persisted sync attempt.
type SyncLogEntry struct {
	ID           uuid.UUID       `json:"id"`
	Trigger      string          `json:"trigger"`
	EventID      *string         `json:"eventId,omitempty"`
	RepoOwner    string          `json:"repoOwner"`
	RepoName     string          `json:"repoName"`
	Status       string          `json:"status"`
	StartedAt    time.Time       `json:"startedAt"`
	CompletedAt  *time.Time      `json:"completedAt,omitempty"`
	ErrorMessage *string         `json:"errorMessage,omitempty"`
	Details      json.RawMessage `json:"details"`
}

// ListSyncLog returns the most recent sync attempts, newest first.
func (q *Queries) ListSyncLog(ctx context.Context, limit int32) ([]SyncLogEntry, error) {
	const query = `
		SELECT id, trigger, event_id, repo_owner, repo_name, status,
			started_at, completed_at, error_message, details
		FROM sync_log
		ORDER BY started_at DESC
		LIMIT $1`

	rows, err := q.db.Query(ctx, query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []SyncLogEntry
	for rows.Next() {
		var entry SyncLogEntry
		if err := rows.Scan(
			&entry.ID, &entry.Trigger, &entry.EventID, &entry.RepoOwner, &entry.RepoName,
			&entry.Status, &entry.StartedAt, &entry.CompletedAt, &entry.ErrorMessage, &entry.Details,
		); err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

// GetContentSourceSettings returns the persisted repository
// configuration, or nil when none has been saved.
func (q *Queries) GetContentSourceSettings(ctx context.Context) (*model.ContentSourceSettings, error) {
	const query = `SELECT value FROM system_settings WHERE key = $1`

	var raw json.RawMessage
	err := q.db.QueryRow(ctx, query, contentSourceKey).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var settings model.ContentSourceSettings
	if err := json.Unmarshal(raw, &settings); err != nil {
		return nil, err
	}
	if settings.Owner == "" || settings.Repo == "" {
		return nil, nil
	}
	return &settings, nil
}

// SetContentSourceSettings persists the repository configuration.
func (q *Queries) SetContentSourceSettings(ctx context.Context, settings model.ContentSourceSettings) error {
	value, err := json.Marshal(settings)
	if err != nil {
		return err
	}

	const query = `
		INSERT INTO system_settings (key, value)
		VALUES ($1, $2::jsonb)
		ON CONFLICT (key) DO UPDATE SET
			value = EXCLUDED.value,
			updated_at = now()`

	_, err = q.db.Exec(ctx, query, contentSourceKey, string(value))
	return err
}

// textOrNil maps empty strings to NULL for nullable text columns.
func textOrNil(s string) any {
	if s == "" {
		return nil
	}
	return s
}
