package intents

import (
	"context"

	"github.com/google/uuid"

	"github.com/dsslabs/docservice/internal/server/models"
)

// Repository is the upload-intent ledger. Create enforces correlation-id
// uniqueness; Update and Delete report rows affected so callers can detect
// no-ops without treating them as faults.
type Repository interface {
	Create(ctx context.Context, intent *models.UploadIntent) error
	Update(ctx context.Context, intent *models.UploadIntent) (int64, error)
	Get(ctx context.Context, correlationID uuid.UUID) (*models.UploadIntent, error)
	List(ctx context.Context) ([]*models.UploadIntent, error)
	Delete(ctx context.Context, correlationID uuid.UUID) (int64, error)
}
