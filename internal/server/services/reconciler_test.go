package services

import (
	"context"
	"errors"
	"net/url"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dsslabs/docservice/internal/common"
	"github.com/dsslabs/docservice/internal/server/events"
	"github.com/dsslabs/docservice/internal/server/models"
	"github.com/dsslabs/docservice/internal/server/storage"
)

func notificationFor(key string) *models.StorageNotification {
	n := &models.StorageNotification{Records: make([]models.StorageNotificationRecord, 1)}
	n.Records[0].EventName = "ObjectCreated:Put"
	n.Records[0].EventTime = time.Now()
	n.Records[0].S3.Bucket.Name = "documents"
	n.Records[0].S3.Object.Key = url.QueryEscape(key)
	return n
}

func stubDocID(t *testing.T, id uuid.UUID) {
	t.Helper()
	orig := newDocID
	newDocID = func() uuid.UUID { return id }
	t.Cleanup(func() { newDocID = orig })
}

func TestHandleStorageNotification_FinalizesPendingIntent(t *testing.T) {
	cid := uuid.New()
	docID := uuid.New()
	stubDocID(t, docID)

	repo := &fakeIntentsRepo{
		getIntent: &models.UploadIntent{
			CorrelationID: cid,
			FileName:      "a.pdf",
			TempURL:       "https://signed.example/temp",
			State:         models.IntentStatePending,
		},
		updateRows: 1,
	}
	store := &fakeStore{}
	pub := &fakePublisher{}

	db, mock := newSQLMockDB(t)
	mock.ExpectBegin()
	mock.ExpectCommit()

	r := NewReconciler(db, &fakeRepoManager{intents: repo}, store, pub, testLogger())

	key := storage.ObjectKey(cid, "a.pdf")
	err := r.HandleStorageNotification(context.Background(), notificationFor(key))
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())

	require.Len(t, repo.updated, 1)
	updated := repo.updated[0]
	assert.Equal(t, models.IntentStateFinalized, updated.State)
	require.NotNil(t, updated.DocID)
	assert.Equal(t, docID, *updated.DocID)
	require.NotNil(t, updated.PermanentURL)
	assert.Equal(t, "http://storage.local/documents/"+key, *updated.PermanentURL)

	subs := pub.submitted()
	require.Len(t, subs, 1)
	assert.Equal(t, events.TopicBlobUploadCompleted, subs[0].topic)
	completed, ok := subs[0].payload.(events.UploadCompleted)
	require.True(t, ok)
	assert.Equal(t, cid, completed.CorrelationID)
	assert.Equal(t, docID, completed.DocID)
}

func TestHandleStorageNotification_RedeliveryIsNoop(t *testing.T) {
	cid := uuid.New()
	docID := uuid.New()
	permanent := "http://storage.local/documents/uploads/" + cid.String() + "/a.pdf"

	repo := &fakeIntentsRepo{
		getIntent: &models.UploadIntent{
			CorrelationID: cid,
			DocID:         &docID,
			FileName:      "a.pdf",
			PermanentURL:  &permanent,
			State:         models.IntentStateFinalized,
		},
	}
	pub := &fakePublisher{}

	db, mock := newSQLMockDB(t)
	mock.ExpectBegin()
	mock.ExpectCommit()

	r := NewReconciler(db, &fakeRepoManager{intents: repo}, &fakeStore{}, pub, testLogger())

	err := r.HandleStorageNotification(context.Background(), notificationFor(storage.ObjectKey(cid, "a.pdf")))
	require.NoError(t, err)

	assert.Empty(t, repo.updated, "already-finalized intent must not be updated")
	assert.Empty(t, pub.submitted(), "no event on redelivery")
}

func TestHandleStorageNotification_UnmatchedIntentIsAcknowledged(t *testing.T) {
	repo := &fakeIntentsRepo{getErr: common.ErrNotFound}
	pub := &fakePublisher{}

	db, mock := newSQLMockDB(t)
	mock.ExpectBegin()
	mock.ExpectRollback()

	r := NewReconciler(db, &fakeRepoManager{intents: repo}, &fakeStore{}, pub, testLogger())

	err := r.HandleStorageNotification(context.Background(), notificationFor(storage.ObjectKey(uuid.New(), "a.pdf")))
	require.NoError(t, err)

	assert.Empty(t, repo.updated)
	assert.Empty(t, pub.submitted())
}

func TestHandleStorageNotification_ForeignObjectIsIgnored(t *testing.T) {
	repo := &fakeIntentsRepo{}
	pub := &fakePublisher{}

	db, mock := newSQLMockDB(t)
	// no Begin expected: the key never maps to a correlation id

	r := NewReconciler(db, &fakeRepoManager{intents: repo}, &fakeStore{}, pub, testLogger())

	err := r.HandleStorageNotification(context.Background(), notificationFor("backups/2025/dump.sql"))
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())

	assert.Empty(t, repo.updated)
	assert.Empty(t, pub.submitted())
}

func TestHandleStorageNotification_SkipsNonCreateEvents(t *testing.T) {
	repo := &fakeIntentsRepo{}
	pub := &fakePublisher{}

	db, _ := newSQLMockDB(t)
	r := NewReconciler(db, &fakeRepoManager{intents: repo}, &fakeStore{}, pub, testLogger())

	n := notificationFor(storage.ObjectKey(uuid.New(), "a.pdf"))
	n.Records[0].EventName = "ObjectRemoved:Delete"

	err := r.HandleStorageNotification(context.Background(), n)
	require.NoError(t, err)
	assert.Empty(t, repo.updated)
	assert.Empty(t, pub.submitted())
}

func TestHandleStorageNotification_InfrastructureFaultPropagates(t *testing.T) {
	repo := &fakeIntentsRepo{getErr: errors.New("connection reset")}
	pub := &fakePublisher{}

	db, mock := newSQLMockDB(t)
	mock.ExpectBegin()
	mock.ExpectRollback()

	r := NewReconciler(db, &fakeRepoManager{intents: repo}, &fakeStore{}, pub, testLogger())

	err := r.HandleStorageNotification(context.Background(), notificationFor(storage.ObjectKey(uuid.New(), "a.pdf")))
	require.Error(t, err, "faults must propagate so the provider redelivers")
	assert.Empty(t, pub.submitted())
}

func TestHandleStorageNotification_ConcurrentFinalizationPublishesOnce(t *testing.T) {
	cid := uuid.New()
	// both deliveries read the intent as pending; the state-guarded update
	// lets only one of them win
	repo := &fakeIntentsRepo{
		getIntent:  &models.UploadIntent{CorrelationID: cid, FileName: "a.pdf", State: models.IntentStatePending},
		updateRows: 0,
	}
	pub := &fakePublisher{}

	db, mock := newSQLMockDB(t)
	mock.ExpectBegin()
	mock.ExpectCommit()

	r := NewReconciler(db, &fakeRepoManager{intents: repo}, &fakeStore{}, pub, testLogger())

	err := r.HandleStorageNotification(context.Background(), notificationFor(storage.ObjectKey(cid, "a.pdf")))
	require.NoError(t, err)
	assert.Empty(t, pub.submitted(), "the losing delivery must not publish a second completion")
}

func TestHandleStorageNotification_VanishedIntentIsAcknowledged(t *testing.T) {
	cid := uuid.New()
	repo := &fakeIntentsRepo{
		getIntent:  &models.UploadIntent{CorrelationID: cid, FileName: "a.pdf", State: models.IntentStatePending},
		updateRows: 0,
	}
	pub := &fakePublisher{}

	db, mock := newSQLMockDB(t)
	mock.ExpectBegin()
	mock.ExpectCommit()

	r := NewReconciler(db, &fakeRepoManager{intents: repo}, &fakeStore{}, pub, testLogger())

	err := r.HandleStorageNotification(context.Background(), notificationFor(storage.ObjectKey(cid, "a.pdf")))
	require.NoError(t, err)
	assert.Empty(t, pub.submitted(), "no event when the update affected no rows")
}
