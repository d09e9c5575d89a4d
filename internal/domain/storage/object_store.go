package storage

import (
	"context"
	"io"
	"time"
)

// CompletedPart identifies one uploaded part of a multipart upload
type CompletedPart struct {
	PartNumber int32  `json:"part_number" binding:"required,min=1,max=10000"`
	ETag       string `json:"etag" binding:"required"`
}

// ObjectInfo describes a stored object
type ObjectInfo struct {
	Key          string
	Size         int64
	LastModified time.Time
}

// ObjectStore is the external object storage collaborator. An empty bucket
// means the store's default bucket. Part transfer itself happens between the
// client and the store.
type ObjectStore interface {
	DefaultBucket() string
	CreateMultipartUpload(ctx context.Context, bucket, key, contentType string) (uploadID string, err error)
	PresignUploadPart(ctx context.Context, bucket, key, uploadID string, partNumber int32) (url string, expiresAt time.Time, err error)
	CompleteMultipartUpload(ctx context.Context, bucket, key, uploadID string, parts []CompletedPart) error
	AbortMultipartUpload(ctx context.Context, bucket, key, uploadID string) error
	CopyObject(ctx context.Context, bucket, srcKey, dstKey string) error
	OpenObject(ctx context.Context, bucket, key string) (io.ReadCloser, error)
	ListObjects(ctx context.Context, bucket, prefix string) ([]ObjectInfo, error)
	DeleteObject(ctx context.Context, bucket, key string) error
}
