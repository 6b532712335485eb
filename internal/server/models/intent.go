// Package models defines the data structures persisted by the ledger and
// exchanged with the storage provider.
package models

import (
	"time"

	"github.com/google/uuid"
)

// IntentState is the lifecycle state of an upload intent.
type IntentState string

const (
	// IntentStatePending: a grant was issued, the upload has not been
	// confirmed by the storage provider yet.
	IntentStatePending IntentState = "pending"
	// IntentStateFinalized: the storage provider confirmed the upload and the
	// permanent location is recorded.
	IntentStateFinalized IntentState = "finalized"
	// IntentStateFailed: the intent was abandoned.
	IntentStateFailed IntentState = "failed"
)

// UploadIntent is one ledger row describing an upload in progress and its
// eventual resolution. The correlation id is supplied by the caller and is
// the primary key.
type UploadIntent struct {
	CorrelationID uuid.UUID
	// DocID is assigned by the reconciler on finalization.
	DocID *uuid.UUID
	FileName string
	// TempURL is the credentialed upload location handed to the client.
	// The embedded credential expires minutes after issuance.
	TempURL string
	// PermanentURL is the unsigned object location. Non-nil iff the intent
	// is finalized.
	PermanentURL *string
	State        IntentState
	CreatedAt    time.Time
	UpdatedAt    time.Time
}
