package httpapi

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dsslabs/docservice/internal/common"
	"github.com/dsslabs/docservice/internal/dbx"
	"github.com/dsslabs/docservice/internal/logging"
	"github.com/dsslabs/docservice/internal/server/models"
	"github.com/dsslabs/docservice/internal/server/repositories/intents"
	"github.com/dsslabs/docservice/internal/server/services"
	"github.com/dsslabs/docservice/internal/server/storage"
)

type memIntentsRepo struct {
	mu   sync.Mutex
	byID map[uuid.UUID]*models.UploadIntent
}

func newMemIntentsRepo() *memIntentsRepo {
	return &memIntentsRepo{byID: make(map[uuid.UUID]*models.UploadIntent)}
}

func (r *memIntentsRepo) Create(_ context.Context, intent *models.UploadIntent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byID[intent.CorrelationID]; ok {
		return common.ErrDuplicateCorrelationID
	}
	clone := *intent
	r.byID[intent.CorrelationID] = &clone
	return nil
}

func (r *memIntentsRepo) Update(_ context.Context, intent *models.UploadIntent) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byID[intent.CorrelationID]; !ok {
		return 0, nil
	}
	clone := *intent
	r.byID[intent.CorrelationID] = &clone
	return 1, nil
}

func (r *memIntentsRepo) Get(_ context.Context, correlationID uuid.UUID) (*models.UploadIntent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	intent, ok := r.byID[correlationID]
	if !ok {
		return nil, common.ErrNotFound
	}
	clone := *intent
	return &clone, nil
}

func (r *memIntentsRepo) List(_ context.Context) ([]*models.UploadIntent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	result := make([]*models.UploadIntent, 0, len(r.byID))
	for _, intent := range r.byID {
		clone := *intent
		result = append(result, &clone)
	}
	return result, nil
}

func (r *memIntentsRepo) Delete(_ context.Context, correlationID uuid.UUID) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byID[correlationID]; !ok {
		return 0, nil
	}
	delete(r.byID, correlationID)
	return 1, nil
}

type memRepoManager struct {
	repo *memIntentsRepo
}

func (m *memRepoManager) RunMigrations(context.Context, *sql.DB) error { return nil }
func (m *memRepoManager) Intents(dbx.DBTX) intents.Repository          { return m.repo }

type stubStore struct {
	grantErr error
	objects  []storage.ObjectInfo
}

func (s *stubStore) IssueUploadGrant(_ context.Context, correlationID uuid.UUID, fileName string, _ *storage.GrantPolicy) (*storage.AccessGrant, error) {
	if s.grantErr != nil {
		return nil, s.grantErr
	}
	key := storage.ObjectKey(correlationID, fileName)
	return &storage.AccessGrant{
		URL:       "https://signed.example/" + key,
		Key:       key,
		ExpiresAt: time.Now().Add(5 * time.Minute),
	}, nil
}

func (s *stubStore) PresignDownload(_ context.Context, key string) (string, error) {
	return "https://signed.example/read/" + key, nil
}

func (s *stubStore) DeleteObject(context.Context, string) error { return nil }

func (s *stubStore) ListObjects(context.Context) ([]storage.ObjectInfo, error) {
	return s.objects, nil
}

func (s *stubStore) ObjectURL(key string) string {
	return "http://storage.local/documents/" + key
}

type nopPublisher struct{}

func (nopPublisher) Submit(string, string, any) {}
func (nopPublisher) Close(context.Context) error { return nil }

type testEnv struct {
	server *Server
	repo   *memIntentsRepo
	mock   sqlmock.Sqlmock
}

func newTestEnv(t *testing.T, store storage.Store) *testEnv {
	t.Helper()

	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	repo := newMemIntentsRepo()
	manager := &memRepoManager{repo: repo}
	logger := logging.NewSlogLogger(slog.New(slog.NewTextHandler(io.Discard, nil)))

	documents := services.NewDocumentService(db, manager, store, nopPublisher{}, logger)
	reconciler := services.NewReconciler(db, manager, store, nopPublisher{}, logger)

	return &testEnv{
		server: NewServer(":0", logger, documents, reconciler),
		repo:   repo,
		mock:   mock,
	}
}

func (e *testEnv) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	e.server.Handler().ServeHTTP(w, req)
	return w
}

func TestRequestUploadGrantEndpoint(t *testing.T) {
	env := newTestEnv(t, &stubStore{})
	cid := uuid.New()

	w := env.do(t, http.MethodPost, "/api/adddocument/url", jsonMap{
		"correlation_id": cid.String(),
		"file_name":      "report.pdf",
		"file_size":      "2048",
	})

	require.Equal(t, http.StatusCreated, w.Code)

	var resp uploadGrantResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.Equal(t, cid.String(), resp.CorrelationID)
	assert.Contains(t, resp.URL, cid.String())

	stored, err := env.repo.Get(context.Background(), cid)
	require.NoError(t, err)
	assert.Equal(t, models.IntentStatePending, stored.State)
}

func TestRequestUploadGrantEndpoint_BadRequests(t *testing.T) {
	tests := []struct {
		name string
		body any
	}{
		{"malformed correlation id", jsonMap{"correlation_id": "not-a-uuid", "file_name": "a.pdf"}},
		{"missing file name", jsonMap{"correlation_id": uuid.New().String()}},
		{"not json", "plain text"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t, &stubStore{})
			w := env.do(t, http.MethodPost, "/api/adddocument/url", tt.body)
			assert.Equal(t, http.StatusBadRequest, w.Code)
		})
	}
}

func TestRequestUploadGrantEndpoint_GrantUnavailable(t *testing.T) {
	env := newTestEnv(t, &stubStore{grantErr: common.ErrGrantUnavailable})

	w := env.do(t, http.MethodPost, "/api/adddocument/url", jsonMap{
		"correlation_id": uuid.New().String(),
		"file_name":      "a.pdf",
	})

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestRequestUploadGrantEndpoint_DuplicateCorrelationID(t *testing.T) {
	env := newTestEnv(t, &stubStore{})
	cid := uuid.New()
	body := jsonMap{"correlation_id": cid.String(), "file_name": "a.pdf"}

	require.Equal(t, http.StatusCreated, env.do(t, http.MethodPost, "/api/adddocument/url", body).Code)
	assert.Equal(t, http.StatusConflict, env.do(t, http.MethodPost, "/api/adddocument/url", body).Code)
}

func TestStorageCompletedEndpoint(t *testing.T) {
	env := newTestEnv(t, &stubStore{})
	cid := uuid.New()

	require.NoError(t, env.repo.Create(context.Background(), &models.UploadIntent{
		CorrelationID: cid,
		FileName:      "report.pdf",
		TempURL:       "https://signed.example/temp",
		State:         models.IntentStatePending,
	}))

	env.mock.ExpectBegin()
	env.mock.ExpectCommit()

	key := storage.ObjectKey(cid, "report.pdf")
	notification := jsonMap{
		"Records": []jsonMap{{
			"eventName": "ObjectCreated:Put",
			"s3": jsonMap{
				"bucket": jsonMap{"name": "documents"},
				"object": jsonMap{"key": url.QueryEscape(key)},
			},
		}},
	}

	w := env.do(t, http.MethodPost, "/api/adddocument/completed", notification)
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, env.mock.ExpectationsWereMet())

	stored, err := env.repo.Get(context.Background(), cid)
	require.NoError(t, err)
	assert.Equal(t, models.IntentStateFinalized, stored.State)
	require.NotNil(t, stored.PermanentURL)
	assert.Equal(t, "http://storage.local/documents/"+key, *stored.PermanentURL)
}

func TestGetIntentEndpoint(t *testing.T) {
	env := newTestEnv(t, &stubStore{})
	cid := uuid.New()

	require.NoError(t, env.repo.Create(context.Background(), &models.UploadIntent{
		CorrelationID: cid,
		FileName:      "a.pdf",
		State:         models.IntentStatePending,
	}))

	w := env.do(t, http.MethodGet, "/api/adddocument/"+cid.String(), nil)
	require.Equal(t, http.StatusOK, w.Code)

	var resp intentResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, cid.String(), resp.CorrelationID)
	assert.Equal(t, string(models.IntentStatePending), resp.State)

	assert.Equal(t, http.StatusNotFound, env.do(t, http.MethodGet, "/api/adddocument/"+uuid.New().String(), nil).Code)
	assert.Equal(t, http.StatusBadRequest, env.do(t, http.MethodGet, "/api/adddocument/not-a-uuid", nil).Code)
}

func TestListIntentsEndpoint(t *testing.T) {
	env := newTestEnv(t, &stubStore{})

	for i := 0; i < 3; i++ {
		require.NoError(t, env.repo.Create(context.Background(), &models.UploadIntent{
			CorrelationID: uuid.New(),
			FileName:      fmt.Sprintf("file-%d.pdf", i),
			State:         models.IntentStatePending,
		}))
	}

	w := env.do(t, http.MethodGet, "/api/adddocument", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var resp []intentResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Len(t, resp, 3)
}

func TestListDocumentsEndpoint(t *testing.T) {
	env := newTestEnv(t, &stubStore{objects: []storage.ObjectInfo{
		{Key: "uploads/x/a.pdf", Size: 10, URL: "http://storage.local/documents/uploads/x/a.pdf"},
	}})

	w := env.do(t, http.MethodGet, "/api/documents", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var resp []documentResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Len(t, resp, 1)
	assert.Equal(t, "uploads/x/a.pdf", resp[0].Key)
}

func TestDownloadURLEndpoint(t *testing.T) {
	env := newTestEnv(t, &stubStore{})
	cid := uuid.New()
	docID := uuid.New()

	require.NoError(t, env.repo.Create(context.Background(), &models.UploadIntent{
		CorrelationID: cid,
		DocID:         &docID,
		FileName:      "a.pdf",
		State:         models.IntentStateFinalized,
	}))

	w := env.do(t, http.MethodGet, "/api/documents/"+cid.String()+"/url", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "signed.example/read")

	pending := uuid.New()
	require.NoError(t, env.repo.Create(context.Background(), &models.UploadIntent{
		CorrelationID: pending,
		FileName:      "b.pdf",
		State:         models.IntentStatePending,
	}))
	assert.Equal(t, http.StatusNotFound, env.do(t, http.MethodGet, "/api/documents/"+pending.String()+"/url", nil).Code)
}

func TestDeleteDocumentEndpoint(t *testing.T) {
	env := newTestEnv(t, &stubStore{})
	cid := uuid.New()

	require.NoError(t, env.repo.Create(context.Background(), &models.UploadIntent{
		CorrelationID: cid,
		FileName:      "a.pdf",
		State:         models.IntentStatePending,
	}))

	require.Equal(t, http.StatusNoContent, env.do(t, http.MethodDelete, "/api/documents/"+cid.String(), nil).Code)

	_, err := env.repo.Get(context.Background(), cid)
	assert.ErrorIs(t, err, common.ErrNotFound)

	assert.Equal(t, http.StatusNotFound, env.do(t, http.MethodDelete, "/api/documents/"+cid.String(), nil).Code)
}

type jsonMap = map[string]any
