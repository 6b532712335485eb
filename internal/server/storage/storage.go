// Package storage issues time-boxed upload grants against an S3-compatible
// backend and provides the object helpers used by the document endpoints.
package storage

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
)

// AccessGrant is a short-lived, write-scoped credential for a single object.
// It is handed to the caller and captured into the ledger's temp location;
// it is never stored as a first-class entity.
type AccessGrant struct {
	// URL is the presigned upload target, secret material included.
	URL string
	// Key is the object key the grant is scoped to.
	Key       string
	ExpiresAt time.Time
}

// GrantPolicy overrides the default grant parameters. A nil policy means the
// configured default TTL starting now.
type GrantPolicy struct {
	TTL time.Duration
}

// ObjectInfo describes one stored object.
type ObjectInfo struct {
	Key          string
	Size         int64
	LastModified time.Time
	URL          string
}

// Store is the object-storage collaborator injected into the services.
type Store interface {
	// IssueUploadGrant ensures the bucket exists and returns a presigned
	// upload grant for the intent's object key. Returns
	// common.ErrGrantUnavailable when no signing credentials are configured.
	IssueUploadGrant(ctx context.Context, correlationID uuid.UUID, fileName string, policy *GrantPolicy) (*AccessGrant, error)

	// PresignDownload returns a short-lived read URL for an object.
	PresignDownload(ctx context.Context, key string) (string, error)

	DeleteObject(ctx context.Context, key string) error
	ListObjects(ctx context.Context) ([]ObjectInfo, error)

	// ObjectURL returns the permanent, unsigned location of an object.
	ObjectURL(key string) string
}

// uploadPrefix is the leading path segment of every granted object key. The
// correlation id is embedded as the second segment so completion
// notifications can be mapped back to their intent without extra lookups.
const uploadPrefix = "uploads"

// ObjectKey builds the object key an upload grant is scoped to.
func ObjectKey(correlationID uuid.UUID, fileName string) string {
	return uploadPrefix + "/" + correlationID.String() + "/" + fileName
}

// CorrelationFromKey recovers the correlation id embedded in an object key.
// The second return value is false for keys that were not produced by
// ObjectKey (out-of-band or foreign objects).
func CorrelationFromKey(key string) (uuid.UUID, bool) {
	parts := strings.SplitN(key, "/", 3)
	if len(parts) != 3 || parts[0] != uploadPrefix {
		return uuid.Nil, false
	}
	id, err := uuid.Parse(parts[1])
	if err != nil {
		return uuid.Nil, false
	}
	return id, true
}
