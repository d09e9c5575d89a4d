package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/erp/ingest/internal/domain/storage"
	"github.com/google/uuid"
)

// Errors returned by the in-memory store
var (
	ErrNoSuchUpload = errors.New("no such multipart upload")
	ErrNoSuchKey    = errors.New("no such key")
)

// StubObjectStorage keeps objects and multipart handles in memory. It is used
// for local development (storage.stub) and tests.
type StubObjectStorage struct {
	// BaseURL prefixes generated part upload URLs
	BaseURL string
	bucket  string

	mu      sync.Mutex
	uploads map[string]stubUpload
	objects map[string]stubObject
	now     func() time.Time
}

type stubUpload struct {
	bucket      string
	key         string
	contentType string
}

type stubObject struct {
	data         []byte
	lastModified time.Time
}

// NewStubObjectStorage creates an empty in-memory store
func NewStubObjectStorage(bucket string) *StubObjectStorage {
	if bucket == "" {
		bucket = "uploads"
	}
	return &StubObjectStorage{
		BaseURL: "https://storage.example.com",
		bucket:  bucket,
		uploads: make(map[string]stubUpload),
		objects: make(map[string]stubObject),
		now:     time.Now,
	}
}

// Ensure StubObjectStorage implements ObjectStore
var _ storage.ObjectStore = (*StubObjectStorage)(nil)

// DefaultBucket returns the configured bucket
func (s *StubObjectStorage) DefaultBucket() string {
	return s.bucket
}

func (s *StubObjectStorage) path(bucket, key string) string {
	if bucket == "" {
		bucket = s.bucket
	}
	return bucket + "/" + key
}

// PutObject stores data directly, replacing any existing object
func (s *StubObjectStorage) PutObject(bucket, key string, data []byte) {
	s.PutObjectAt(bucket, key, data, s.now())
}

// PutObjectAt stores data with an explicit modification time
func (s *StubObjectStorage) PutObjectAt(bucket, key string, data []byte, modified time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.objects[s.path(bucket, key)] = stubObject{data: bytes.Clone(data), lastModified: modified}
}

// HasObject reports whether key exists
func (s *StubObjectStorage) HasObject(bucket, key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.objects[s.path(bucket, key)]
	return ok
}

// OpenUploads returns the number of multipart handles not yet completed or aborted
func (s *StubObjectStorage) OpenUploads() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.uploads)
}

// CreateMultipartUpload opens a handle
func (s *StubObjectStorage) CreateMultipartUpload(_ context.Context, bucket, key, contentType string) (string, error) {
	if key == "" {
		return "", ErrKeyRequired
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	id := uuid.NewString()
	s.uploads[id] = stubUpload{bucket: bucket, key: key, contentType: contentType}
	return id, nil
}

// PresignUploadPart builds a fake URL for the part
func (s *StubObjectStorage) PresignUploadPart(_ context.Context, bucket, key, uploadID string, partNumber int32) (string, time.Time, error) {
	if key == "" {
		return "", time.Time{}, ErrKeyRequired
	}
	s.mu.Lock()
	_, ok := s.uploads[uploadID]
	s.mu.Unlock()
	if !ok {
		return "", time.Time{}, ErrNoSuchUpload
	}
	expiresAt := s.now().Add(15 * time.Minute)
	url := fmt.Sprintf("%s/%s?uploadId=%s&partNumber=%d", s.BaseURL, s.path(bucket, key), uploadID, partNumber)
	return url, expiresAt, nil
}

// CompleteMultipartUpload turns the handle into an (empty) object
func (s *StubObjectStorage) CompleteMultipartUpload(_ context.Context, bucket, key, uploadID string, parts []storage.CompletedPart) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.uploads[uploadID]; !ok {
		return ErrNoSuchUpload
	}
	if len(parts) == 0 {
		return errors.New("at least one part is required")
	}
	delete(s.uploads, uploadID)
	p := s.path(bucket, key)
	if _, exists := s.objects[p]; !exists {
		s.objects[p] = stubObject{lastModified: s.now()}
	}
	return nil
}

// AbortMultipartUpload drops a handle. Unknown ids are ignored.
func (s *StubObjectStorage) AbortMultipartUpload(_ context.Context, _, key, uploadID string) error {
	if key == "" {
		return ErrKeyRequired
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.uploads, uploadID)
	return nil
}

// CopyObject duplicates an object
func (s *StubObjectStorage) CopyObject(_ context.Context, bucket, srcKey, dstKey string) error {
	if srcKey == "" || dstKey == "" {
		return ErrKeyRequired
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	obj, ok := s.objects[s.path(bucket, srcKey)]
	if !ok {
		return ErrNoSuchKey
	}
	s.objects[s.path(bucket, dstKey)] = stubObject{data: bytes.Clone(obj.data), lastModified: s.now()}
	return nil
}

// OpenObject returns a reader over a copy of the object
func (s *StubObjectStorage) OpenObject(_ context.Context, bucket, key string) (io.ReadCloser, error) {
	if key == "" {
		return nil, ErrKeyRequired
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	obj, ok := s.objects[s.path(bucket, key)]
	if !ok {
		return nil, ErrNoSuchKey
	}
	return io.NopCloser(bytes.NewReader(bytes.Clone(obj.data))), nil
}

// ListObjects returns objects under prefix sorted by key
func (s *StubObjectStorage) ListObjects(_ context.Context, bucket, prefix string) ([]storage.ObjectInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	root := s.path(bucket, "")
	var out []storage.ObjectInfo
	for p, obj := range s.objects {
		key, ok := strings.CutPrefix(p, root)
		if !ok || !strings.HasPrefix(key, prefix) {
			continue
		}
		out = append(out, storage.ObjectInfo{Key: key, Size: int64(len(obj.data)), LastModified: obj.lastModified})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

// DeleteObject removes an object. Missing keys are not an error.
func (s *StubObjectStorage) DeleteObject(_ context.Context, bucket, key string) error {
	if key == "" {
		return ErrKeyRequired
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.objects, s.path(bucket, key))
	return nil
}
