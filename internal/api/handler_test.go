// internal/api/handler_test.go
package api

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github-content-sync/internal/model"
	"github-content-sync/internal/store"
	"github-content-sync/internal/syncer"
)

const testWebhookSecret = "test-secret"

// stubQuerier implements store.Querier with canned responses for the
// handlers under test.
type stubQuerier struct {
	logEntries   []store.SyncLogEntry
	logErr       error
	savedSources []model.ContentSourceSettings
}

func (s *stubQuerier) UpsertAuthor(ctx context.Context, arg store.UpsertAuthorParams) (uuid.UUID, error) {
	return uuid.Nil, nil
}
func (s *stubQuerier) UpsertTag(ctx context.Context, arg store.UpsertTermParams) (uuid.UUID, error) {
	return uuid.Nil, nil
}
func (s *stubQuerier) UpsertCategory(ctx context.Context, arg store.UpsertTermParams) (uuid.UUID, error) {
	return uuid.Nil, nil
}
func (s *stubQuerier) UpsertPost(ctx context.Context, arg store.UpsertPostParams) (uuid.UUID, error) {
	return uuid.Nil, nil
}
func (s *stubQuerier) DeletePostRelations(ctx context.Context, postID uuid.UUID) error { return nil }
func (s *stubQuerier) InsertPostTags(ctx context.Context, postID uuid.UUID, tagIDs []uuid.UUID) error {
	return nil
}
func (s *stubQuerier) InsertPostCategories(ctx context.Context, postID uuid.UUID, categoryIDs []uuid.UUID) error {
	return nil
}
func (s *stubQuerier) InsertPostAttachments(ctx context.Context, postID uuid.UUID, attachments []model.Attachment) error {
	return nil
}
func (s *stubQuerier) UpdateSearchVector(ctx context.Context, postID uuid.UUID) error { return nil }
func (s *stubQuerier) ArchivePostsNotIn(ctx context.Context, slugs []string) (int64, error) {
	return 0, nil
}
func (s *stubQuerier) CreateSyncLog(ctx context.Context, arg store.CreateSyncLogParams) (uuid.UUID, error) {
	return uuid.New(), nil
}
func (s *stubQuerier) CompleteSyncLog(ctx context.Context, arg store.CompleteSyncLogParams) error {
	return nil
}
func (s *stubQuerier) ListSyncLog(ctx context.Context, limit int32) ([]store.SyncLogEntry, error) {
	return s.logEntries, s.logErr
}
func (s *stubQuerier) GetContentSourceSettings(ctx context.Context) (*model.ContentSourceSettings, error) {
	return nil, nil
}
func (s *stubQuerier) SetContentSourceSettings(ctx context.Context, settings model.ContentSourceSettings) error {
	s.savedSources = append(s.savedSources, settings)
	return nil
}

// stubRunner records the options each trigger passed in.
type stubRunner struct {
	calls  []syncer.Options
	result model.SyncResult
	err    error
}

func (s *stubRunner) Sync(ctx context.Context, opts syncer.Options) (model.SyncResult, error) {
	s.calls = append(s.calls, opts)
	return s.result, s.err
}

func newTestRouter(db store.Querier, runner SyncRunner) http.Handler {
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	return NewRouter(db, runner, logger, testWebhookSecret)
}

func signBody(body []byte) string {
	mac := hmac.New(sha256.New, []byte(testWebhookSecret))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

func TestHandler_HealthCheck(t *testing.T) {
	router := newTestRouter(&stubQuerier{}, &stubRunner{})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestHandler_TriggerSync(t *testing.T) {
	t.Run("runs a manual sync with overrides", func(t *testing.T) {
		runner := &stubRunner{result: model.SyncResult{PostsSynced: 3}}
		router := newTestRouter(&stubQuerier{}, runner)

		body := bytes.NewBufferString(`{"owner": "example", "repo": "blog"}`)
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/sync", body))

		require.Equal(t, http.StatusOK, rec.Code)
		require.Len(t, runner.calls, 1)
		assert.Equal(t, model.TriggerManual, runner.calls[0].Trigger)
		assert.Equal(t, "example", runner.calls[0].Owner)
		assert.NotEmpty(t, runner.calls[0].EventID)

		var result model.SyncResult
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
		assert.Equal(t, 3, result.PostsSynced)
	})

	t.Run("sync failure maps to a generic 500", func(t *testing.T) {
		runner := &stubRunner{err: errors.New("boom")}
		router := newTestRouter(&stubQuerier{}, runner)

		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/sync", nil))

		assert.Equal(t, http.StatusInternalServerError, rec.Code)
		assert.NotContains(t, rec.Body.String(), "boom")
	})
}

func TestHandler_Webhook(t *testing.T) {
	pushPayload := []byte(`{
		"ref": "refs/heads/main",
		"repository": {"name": "blog", "owner": {"login": "example"}}
	}`)

	t.Run("rejects an invalid signature", func(t *testing.T) {
		runner := &stubRunner{}
		router := newTestRouter(&stubQuerier{}, runner)

		req := httptest.NewRequest(http.MethodPost, "/webhook/github", bytes.NewReader(pushPayload))
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("X-GitHub-Event", "push")
		req.Header.Set("X-Hub-Signature-256", "sha256=deadbeef")

		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusUnauthorized, rec.Code)
		assert.Empty(t, runner.calls)
	})

	t.Run("runs a sync for a signed push event", func(t *testing.T) {
		runner := &stubRunner{}
		router := newTestRouter(&stubQuerier{}, runner)

		req := httptest.NewRequest(http.MethodPost, "/webhook/github", bytes.NewReader(pushPayload))
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("X-GitHub-Event", "push")
		req.Header.Set("X-GitHub-Delivery", "delivery-1")
		req.Header.Set("X-Hub-Signature-256", signBody(pushPayload))

		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)

		require.Equal(t, http.StatusOK, rec.Code)
		require.Len(t, runner.calls, 1)
		assert.Equal(t, model.TriggerWebhook, runner.calls[0].Trigger)
		assert.Equal(t, "example", runner.calls[0].Owner)
		assert.Equal(t, "blog", runner.calls[0].Repo)
		assert.Equal(t, "main", runner.calls[0].Branch)
		assert.Equal(t, "delivery-1", runner.calls[0].EventID)
	})

	t.Run("acknowledges but skips non-push events", func(t *testing.T) {
		runner := &stubRunner{}
		router := newTestRouter(&stubQuerier{}, runner)

		payload := []byte(`{"zen": "Keep it logically awesome."}`)
		req := httptest.NewRequest(http.MethodPost, "/webhook/github", bytes.NewReader(payload))
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("X-GitHub-Event", "ping")
		req.Header.Set("X-Hub-Signature-256", signBody(payload))

		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Body.String(), "skipped")
		assert.Empty(t, runner.calls)
	})
}

func TestHandler_Setup(t *testing.T) {
	db := &stubQuerier{}
	runner := &stubRunner{}
	router := newTestRouter(db, runner)

	body := bytes.NewBufferString(`{"owner": "example", "repo": "blog", "branch": "main"}`)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/setup", body))

	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, db.savedSources, 1)
	assert.Equal(t, "example", db.savedSources[0].Owner)
	require.Len(t, runner.calls, 1)
	assert.Equal(t, model.TriggerSetup, runner.calls[0].Trigger)

	t.Run("missing owner is rejected", func(t *testing.T) {
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/setup", bytes.NewBufferString(`{"repo": "blog"}`)))
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestHandler_ListSyncLogs(t *testing.T) {
	started := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	db := &stubQuerier{logEntries: []store.SyncLogEntry{
		{ID: uuid.New(), Trigger: "cron", Status: "success", RepoOwner: "example", RepoName: "blog", StartedAt: started},
	}}
	router := newTestRouter(db, &stubRunner{})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/sync/logs", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var entries []store.SyncLogEntry
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &entries))
	require.Len(t, entries, 1)
	assert.Equal(t, "cron", entries[0].Trigger)

	t.Run("rejects an out-of-range limit", func(t *testing.T) {
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/sync/logs?limit=5000", nil))
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}
