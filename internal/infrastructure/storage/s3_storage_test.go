package storage

import (
	"bytes"
	"context"
	"io"
	"os"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/erp/ingest/internal/infrastructure/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func baseS3Config() *config.StorageConfig {
	return &config.StorageConfig{
		Bucket:    "test-bucket",
		AccessKey: "test-key",
		SecretKey: "test-secret",
		Endpoint:  "http://localhost:9000",
	}
}

func TestNewS3ObjectStorage_Validation(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *config.StorageConfig)
		wantErr string
	}{
		{"missing bucket", func(c *config.StorageConfig) { c.Bucket = "" }, "bucket is required"},
		{"missing access key", func(c *config.StorageConfig) { c.AccessKey = "" }, "access key is required"},
		{"missing secret key", func(c *config.StorageConfig) { c.SecretKey = "" }, "secret key is required"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := baseS3Config()
			tt.mutate(cfg)
			_, err := NewS3ObjectStorage(cfg)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}

	_, err := NewS3ObjectStorage(nil)
	assert.Error(t, err)
}

func TestNewS3ObjectStorage_Defaults(t *testing.T) {
	s, err := NewS3ObjectStorage(baseS3Config())
	require.NoError(t, err)
	assert.Equal(t, "test-bucket", s.DefaultBucket())
	assert.Equal(t, 15*time.Minute, s.presignExpiration)

	s, err = NewS3ObjectStorage(baseS3Config(), WithPresignExpiration(time.Minute), WithLogger(zap.NewNop()))
	require.NoError(t, err)
	assert.Equal(t, time.Minute, s.presignExpiration)
}

func TestNormalizeEndpoint(t *testing.T) {
	got, err := normalizeEndpoint("", false)
	require.NoError(t, err)
	assert.Equal(t, "http://localhost:9000", got)

	got, _ = normalizeEndpoint("minio:9000", true)
	assert.Equal(t, "https://minio:9000", got)

	got, _ = normalizeEndpoint("https://s3.amazonaws.com", false)
	assert.Equal(t, "https://s3.amazonaws.com", got)
}

func TestCopySource(t *testing.T) {
	assert.Equal(t, "b/uploads/u%201/file+1.csv", copySource("b", "uploads/u 1/file+1.csv"))
}

func TestS3ObjectStorage_KeyValidation(t *testing.T) {
	s, err := NewS3ObjectStorage(baseS3Config())
	require.NoError(t, err)
	ctx := context.Background()

	_, err = s.CreateMultipartUpload(ctx, "", "", "")
	assert.ErrorIs(t, err, ErrKeyRequired)
	_, _, err = s.PresignUploadPart(ctx, "", "", "id", 1)
	assert.ErrorIs(t, err, ErrKeyRequired)
	assert.ErrorIs(t, s.CompleteMultipartUpload(ctx, "", "", "id", nil), ErrKeyRequired)
	assert.ErrorIs(t, s.AbortMultipartUpload(ctx, "", "", "id"), ErrKeyRequired)
	assert.ErrorIs(t, s.CopyObject(ctx, "", "a", ""), ErrKeyRequired)
	_, err = s.OpenObject(ctx, "", "")
	assert.ErrorIs(t, err, ErrKeyRequired)
	assert.ErrorIs(t, s.DeleteObject(ctx, "", ""), ErrKeyRequired)
}

func TestS3ObjectStorage_PresignUploadPart(t *testing.T) {
	s, err := NewS3ObjectStorage(baseS3Config(), WithPresignExpiration(5*time.Minute))
	require.NoError(t, err)

	url, expiresAt, err := s.PresignUploadPart(context.Background(), "", "uploads/a.csv", "upload-1", 3)
	require.NoError(t, err)
	assert.Contains(t, url, "partNumber=3")
	assert.Contains(t, url, "uploadId=upload-1")
	assert.WithinDuration(t, time.Now().Add(5*time.Minute), expiresAt, 5*time.Second)
}

// newIntegrationStorage connects to an S3-compatible endpoint named by
// INGEST_TEST_S3_ENDPOINT, or skips.
func newIntegrationStorage(t *testing.T) *S3ObjectStorage {
	t.Helper()
	endpoint := os.Getenv("INGEST_TEST_S3_ENDPOINT")
	if endpoint == "" || testing.Short() {
		t.Skip("INGEST_TEST_S3_ENDPOINT not set")
	}

	s, err := NewS3ObjectStorage(&config.StorageConfig{
		Bucket:       "ingest-integration",
		AccessKey:    os.Getenv("INGEST_TEST_S3_ACCESS_KEY"),
		SecretKey:    os.Getenv("INGEST_TEST_S3_SECRET_KEY"),
		Endpoint:     endpoint,
		UsePathStyle: true,
	})
	require.NoError(t, err)
	require.NoError(t, s.EnsureBucket(context.Background()))
	return s
}

func TestIntegration_MultipartAbortAndCopy(t *testing.T) {
	s := newIntegrationStorage(t)
	ctx := context.Background()

	id, err := s.CreateMultipartUpload(ctx, "", "it/abort.bin", "application/octet-stream")
	require.NoError(t, err)
	require.NoError(t, s.AbortMultipartUpload(ctx, "", "it/abort.bin", id))

	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String("it/src.csv"),
		Body:   bytes.NewReader([]byte("sku,name\n")),
	})
	require.NoError(t, err)
	require.NoError(t, s.CopyObject(ctx, "", "it/src.csv", "it/dst.csv"))

	r, err := s.OpenObject(ctx, "", "it/dst.csv")
	require.NoError(t, err)
	data, _ := io.ReadAll(r)
	_ = r.Close()
	assert.Equal(t, "sku,name\n", string(data))

	objs, err := s.ListObjects(ctx, "", "it/")
	require.NoError(t, err)
	assert.GreaterOrEqual(t, len(objs), 2)

	require.NoError(t, s.DeleteObject(ctx, "", "it/src.csv"))
	require.NoError(t, s.DeleteObject(ctx, "", "it/dst.csv"))
}
