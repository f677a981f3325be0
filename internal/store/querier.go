// internal/store/querier.go
package store

import (
	"context"

	"github.com/google/uuid"

	"github-content-sync/internal/model"
)

// Querier is the store surface the sync pipeline and API depend on.
// *Queries implements it against a pool or transaction.
type Querier interface {
	UpsertAuthor(ctx context.Context, arg UpsertAuthorParams) (uuid.UUID, error)
	UpsertTag(ctx context.Context, arg UpsertTermParams) (uuid.UUID, error)
	UpsertCategory(ctx context.Context, arg UpsertTermParams) (uuid.UUID, error)
	UpsertPost(ctx context.Context, arg UpsertPostParams) (uuid.UUID, error)
	DeletePostRelations(ctx context.Context, postID uuid.UUID) error
	InsertPostTags(ctx context.Context, postID uuid.UUID, tagIDs []uuid.UUID) error
	InsertPostCategories(ctx context.Context, postID uuid.UUID, categoryIDs []uuid.UUID) error
	InsertPostAttachments(ctx context.Context, postID uuid.UUID, attachments []model.Attachment) error
	UpdateSearchVector(ctx context.Context, postID uuid.UUID) error
	ArchivePostsNotIn(ctx context.Context, slugs []string) (int64, error)
	CreateSyncLog(ctx context.Context, arg CreateSyncLogParams) (uuid.UUID, error)
	CompleteSyncLog(ctx context.Context, arg CompleteSyncLogParams) error
	ListSyncLog(ctx context.Context, limit int32) ([]SyncLogEntry, error)
	GetContentSourceSettings(ctx context.Context) (*model.ContentSourceSettings, error)
	SetContentSourceSettings(ctx context.Context, settings model.ContentSourceSettings) error
}

var _ Querier = (*Queries)(nil)
