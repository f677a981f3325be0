// internal/model/models.go
package model

import "time"

// RawFile is one document fetched from the remote tree, decoded to text.
type RawFile struct {
	Path    string
	SHA     string
	Content string
}

// RepositorySnapshot is a point-in-time view of the remote tree at a
// specific commit. Immutable once produced.
type RepositorySnapshot struct {
	Files     []RawFile
	CommitSHA string
	TreeSHA   string
	Branch    string
	Owner     string
	Repo      string
}

// PostStatus is the lifecycle state of a post.
type PostStatus string

const (
	StatusDraft     PostStatus = "draft"
	StatusPublished PostStatus = "published"
	StatusArchived  PostStatus = "archived"
)

// AttachmentType classifies a post attachment.
type AttachmentType string

const (
	AttachmentImage AttachmentType = "image"
	AttachmentFile  AttachmentType = "file"
	AttachmentLink  AttachmentType = "link"
)

// Author is the resolved author identity for a post.
type Author struct {
	Slug           string
	DisplayName    string
	Email          string
	AvatarURL      string
	GithubUsername string
}

// Term is a slug/label pair used for both tags and categories.
type Term struct {
	Slug  string
	Label string
}

// Attachment is a labeled link attached to a post.
type Attachment struct {
	Label string
	URL   string
	Type  AttachmentType
}

// NormalizedPost is the fully extracted representation of one document.
// Derived entirely from a single RawFile; a new sync produces a new
// NormalizedPost for the same source path rather than mutating this one.
type NormalizedPost struct {
	Slug           string
	Title          string
	Summary        string
	Content        string
	SourcePath     string
	SourceSHA      string
	Status         PostStatus
	PublishedAt    *time.Time
	OgImageURL     string
	Author         Author
	Tags           []Term
	Categories     []Term
	Attachments    []Attachment
	RawFrontmatter map[string]any
}

// SyncTrigger identifies what started a sync run.
type SyncTrigger string

const (
	TriggerWebhook SyncTrigger = "webhook"
	TriggerCron    SyncTrigger = "cron"
	TriggerManual  SyncTrigger = "manual"
	TriggerSetup   SyncTrigger = "setup"
)

// SyncStatus is the lifecycle state of a sync-log entry.
type SyncStatus string

const (
	SyncPending SyncStatus = "pending"
	SyncSuccess SyncStatus = "success"
	SyncFailed  SyncStatus = "error"
)

// SyncResult summarizes one completed sync run.
type SyncResult struct {
	PostsSynced      int      `json:"postsSynced"`
	PostsArchived    int      `json:"postsArchived"`
	TagsSynced       int      `json:"tagsSynced"`
	CategoriesSynced int      `json:"categoriesSynced"`
	Errors           []string `json:"errors"`
}

// ContentSourceSettings is the persisted fallback configuration for the
// content repository, stored under the content_source settings key.
type ContentSourceSettings struct {
	Owner  string `json:"owner"`
	Repo   string `json:"repo"`
	Branch string `json:"branch,omitempty"`
	Token  string `json:"token,omitempty"`
}
