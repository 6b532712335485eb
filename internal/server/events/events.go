// Package events defines the document lifecycle events and the asynchronous
// publisher that emits them onto the message bus.
package events

import "github.com/google/uuid"

// Topic names shared with downstream consumers.
const (
	// TopicAddDocumentResponse carries UploadGranted events.
	TopicAddDocumentResponse = "AddDocumentResponse"
	// TopicAddDocumentErrorResponse carries UploadFailed events.
	TopicAddDocumentErrorResponse = "AddDocumentErrorResponse"
	// TopicBlobUploadCompleted carries UploadCompleted events.
	TopicBlobUploadCompleted = "BlobUploadCompletedEvent"
)

// UploadGranted is emitted after a grant was issued and the intent recorded.
type UploadGranted struct {
	CorrelationID uuid.UUID `json:"correlation_id"`
	URL           string    `json:"url"`
}

// UploadFailed is emitted when any step of the grant workflow fails after
// validation. The correlation id doubles as the consumer-side dedup key.
type UploadFailed struct {
	CorrelationID uuid.UUID `json:"correlation_id"`
	Error         string    `json:"error"`
}

// UploadCompleted is emitted when the reconciler finalizes an intent.
type UploadCompleted struct {
	CorrelationID uuid.UUID `json:"correlation_id"`
	DocID         uuid.UUID `json:"doc_id"`
	URL           string    `json:"url"`
}
