package models

import "time"

// StorageNotification is the S3-style event the storage provider posts when
// objects are created. Only the fields the reconciler needs are mapped.
type StorageNotification struct {
	Records []StorageNotificationRecord `json:"Records"`
}

type StorageNotificationRecord struct {
	EventName string    `json:"eventName"`
	EventTime time.Time `json:"eventTime"`
	S3        struct {
		Bucket struct {
			Name string `json:"name"`
		} `json:"bucket"`
		Object struct {
			// Key is URL-encoded on the wire.
			Key       string `json:"key"`
			Size      int64  `json:"size"`
			ETag      string `json:"eTag"`
			Sequencer string `json:"sequencer"`
		} `json:"object"`
	} `json:"s3"`
}
