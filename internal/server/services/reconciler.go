package services

import (
	"context"
	"database/sql"
	"errors"
	"net/url"
	"strings"

	"github.com/google/uuid"

	"github.com/dsslabs/docservice/internal/common"
	"github.com/dsslabs/docservice/internal/dbx"
	"github.com/dsslabs/docservice/internal/logging"
	"github.com/dsslabs/docservice/internal/server/events"
	"github.com/dsslabs/docservice/internal/server/models"
	"github.com/dsslabs/docservice/internal/server/repositories/repomanager"
	"github.com/dsslabs/docservice/internal/server/storage"
)

// objectCreatedPrefix matches the event names the storage provider uses for
// create and overwrite completions (e.g. "ObjectCreated:Put",
// "ObjectCreated:CompleteMultipartUpload").
const objectCreatedPrefix = "ObjectCreated"

// newDocID is a seam for testing doc id assignment.
var newDocID = uuid.New

// Reconciler consumes storage-provider completion notifications and
// transitions pending intents to finalized. It owns ledger records from the
// moment the upload is confirmed; the orchestrator never touches them again.
type Reconciler struct {
	db        *sql.DB
	repos     repomanager.RepositoryManager
	store     storage.Store
	publisher events.Publisher
	logger    logging.Logger
}

func NewReconciler(db *sql.DB, repos repomanager.RepositoryManager, store storage.Store, publisher events.Publisher, logger logging.Logger) *Reconciler {
	return &Reconciler{
		db:        db,
		repos:     repos,
		store:     store,
		publisher: publisher,
		logger:    logger.With("module", "reconciler"),
	}
}

// HandleStorageNotification processes a completion notification. Records
// that do not map to a pending intent (foreign objects, out-of-band uploads,
// redeliveries of already-finalized intents) are acknowledged without
// mutation. Only infrastructure faults return an error, so the provider
// redelivers exactly the cases worth retrying.
func (r *Reconciler) HandleStorageNotification(ctx context.Context, notification *models.StorageNotification) error {
	for _, record := range notification.Records {
		if !strings.HasPrefix(record.EventName, objectCreatedPrefix) {
			continue
		}

		// Object keys arrive URL-encoded.
		key, err := url.QueryUnescape(record.S3.Object.Key)
		if err != nil {
			key = record.S3.Object.Key
		}

		if err := r.finalize(ctx, key); err != nil {
			return err
		}
	}
	return nil
}

func (r *Reconciler) finalize(ctx context.Context, key string) error {
	log := r.logger.With("key", key)

	correlationID, ok := storage.CorrelationFromKey(key)
	if !ok {
		log.Info(ctx, "notification for foreign object, ignoring")
		return nil
	}
	log = log.With("correlation_id", correlationID.String())

	var completed *events.UploadCompleted

	err := dbx.WithTx(ctx, r.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		repo := r.repos.Intents(tx)

		intent, err := repo.Get(ctx, correlationID)
		if err != nil {
			return err
		}

		// Redelivery guard: a finalized intent stays finalized.
		if intent.State == models.IntentStateFinalized {
			log.Info(ctx, "intent already finalized, ignoring")
			return nil
		}

		docID := newDocID()
		permanentURL := r.store.ObjectURL(key)

		intent.DocID = &docID
		intent.PermanentURL = &permanentURL
		intent.State = models.IntentStateFinalized

		rows, err := repo.Update(ctx, intent)
		if err != nil {
			return err
		}
		if rows == 0 {
			log.Warn(ctx, "intent finalized concurrently or removed, ignoring")
			return nil
		}

		completed = &events.UploadCompleted{
			CorrelationID: correlationID,
			DocID:         docID,
			URL:           permanentURL,
		}
		return nil
	})
	if errors.Is(err, common.ErrNotFound) {
		log.Info(ctx, "no pending intent for notification, ignoring")
		return nil
	}
	if err != nil {
		return err
	}

	if completed != nil {
		r.publisher.Submit(events.TopicBlobUploadCompleted, correlationID.String(), *completed)
		log.Info(ctx, "intent finalized", "doc_id", completed.DocID.String())
	}

	return nil
}
