// Package services contains the upload-intent orchestration and the
// completion reconciler. Transports stay thin; all state transitions and
// failure coordination live here.
package services

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/dsslabs/docservice/internal/common"
	"github.com/dsslabs/docservice/internal/logging"
	"github.com/dsslabs/docservice/internal/server/events"
	"github.com/dsslabs/docservice/internal/server/models"
	"github.com/dsslabs/docservice/internal/server/repositories/repomanager"
	"github.com/dsslabs/docservice/internal/server/storage"
)

// UploadGrantRequest is the client-facing request for an upload grant. The
// correlation id links the request, its ledger record, and its lifecycle
// events; it is supplied by the caller, never generated here.
type UploadGrantRequest struct {
	CorrelationID uuid.UUID
	FileName      string
	FileSize      string
}

// UploadGrantResult is returned to the client on success.
type UploadGrantResult struct {
	CorrelationID uuid.UUID
	URL           string
	ExpiresAt     time.Time
}

// DocumentService orchestrates the upload-intent workflow: issue a grant,
// record the intent, emit exactly one lifecycle event per invocation.
type DocumentService struct {
	db        *sql.DB
	repos     repomanager.RepositoryManager
	store     storage.Store
	publisher events.Publisher
	logger    logging.Logger
}

func NewDocumentService(db *sql.DB, repos repomanager.RepositoryManager, store storage.Store, publisher events.Publisher, logger logging.Logger) *DocumentService {
	return &DocumentService{
		db:        db,
		repos:     repos,
		store:     store,
		publisher: publisher,
		logger:    logger.With("module", "documents"),
	}
}

// RequestUploadGrant validates the request, issues a time-boxed upload grant,
// durably records the intent as pending, and publishes UploadGranted. Any
// failure after validation publishes UploadFailed instead and is returned to
// the caller. Validation failures have no side effects at all.
//
// A caller that is already gone before the first side effect gets nothing.
// Past that point the sequence is detached from the caller's cancellation: a
// disconnect after the grant is issued must not leave an untracked grant
// behind.
func (s *DocumentService) RequestUploadGrant(ctx context.Context, req *UploadGrantRequest) (*UploadGrantResult, error) {
	if req.CorrelationID == uuid.Nil {
		return nil, fmt.Errorf("%w: correlation id is required", common.ErrInvalidRequest)
	}
	if req.FileName == "" {
		return nil, fmt.Errorf("%w: file name is required", common.ErrInvalidRequest)
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	ctx = context.WithoutCancel(ctx)
	log := s.logger.With("correlation_id", req.CorrelationID.String())

	grant, err := s.store.IssueUploadGrant(ctx, req.CorrelationID, req.FileName, nil)
	if err != nil {
		log.Error(ctx, "grant issuance failed", "error", err.Error())
		s.publishFailure(req.CorrelationID, err)
		return nil, err
	}

	intent := &models.UploadIntent{
		CorrelationID: req.CorrelationID,
		FileName:      req.FileName,
		TempURL:       grant.URL,
		State:         models.IntentStatePending,
	}
	if err := s.repos.Intents(s.db).Create(ctx, intent); err != nil {
		// The issued grant is not revoked; its TTL is the cleanup mechanism.
		log.Error(ctx, "intent record failed", "error", err.Error())
		s.publishFailure(req.CorrelationID, err)
		return nil, err
	}

	s.publisher.Submit(events.TopicAddDocumentResponse, req.CorrelationID.String(), events.UploadGranted{
		CorrelationID: req.CorrelationID,
		URL:           grant.URL,
	})

	log.Info(ctx, "upload grant issued", "key", grant.Key, "expires_at", grant.ExpiresAt)

	return &UploadGrantResult{
		CorrelationID: req.CorrelationID,
		URL:           grant.URL,
		ExpiresAt:     grant.ExpiresAt,
	}, nil
}

func (s *DocumentService) publishFailure(correlationID uuid.UUID, cause error) {
	s.publisher.Submit(events.TopicAddDocumentErrorResponse, correlationID.String(), events.UploadFailed{
		CorrelationID: correlationID,
		Error:         cause.Error(),
	})
}

// ListIntents returns all ledger records ordered by correlation id.
func (s *DocumentService) ListIntents(ctx context.Context) ([]*models.UploadIntent, error) {
	return s.repos.Intents(s.db).List(ctx)
}

// GetIntent returns one ledger record or common.ErrNotFound.
func (s *DocumentService) GetIntent(ctx context.Context, correlationID uuid.UUID) (*models.UploadIntent, error) {
	return s.repos.Intents(s.db).Get(ctx, correlationID)
}

// ListDocuments lists the stored objects.
func (s *DocumentService) ListDocuments(ctx context.Context) ([]storage.ObjectInfo, error) {
	return s.store.ListObjects(ctx)
}

// DocumentDownloadURL returns a short-lived read URL for a finalized
// document. Pending or failed intents have no readable document yet.
func (s *DocumentService) DocumentDownloadURL(ctx context.Context, correlationID uuid.UUID) (string, error) {
	intent, err := s.repos.Intents(s.db).Get(ctx, correlationID)
	if err != nil {
		return "", err
	}
	if intent.State != models.IntentStateFinalized {
		return "", fmt.Errorf("%w: document not finalized", common.ErrNotFound)
	}
	return s.store.PresignDownload(ctx, storage.ObjectKey(intent.CorrelationID, intent.FileName))
}

// DeleteDocument removes the stored object (if any) and the ledger record.
func (s *DocumentService) DeleteDocument(ctx context.Context, correlationID uuid.UUID) error {
	intent, err := s.repos.Intents(s.db).Get(ctx, correlationID)
	if err != nil {
		return err
	}

	if intent.State == models.IntentStateFinalized {
		if err := s.store.DeleteObject(ctx, storage.ObjectKey(intent.CorrelationID, intent.FileName)); err != nil {
			return err
		}
	}

	if _, err := s.repos.Intents(s.db).Delete(ctx, correlationID); err != nil {
		return err
	}
	return nil
}
