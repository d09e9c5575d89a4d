package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/erp/ingest/internal/domain/bulk"
	"github.com/redis/go-redis/v9"
)

const defaultJobStatusPrefix = "bulk:job:"

// Hash fields
const (
	fieldState        = "state"
	fieldProgress     = "progress"
	fieldData         = "data"
	fieldProcessedOn  = "processed_on"
	fieldFinishedOn   = "finished_on"
	fieldFailedReason = "failed_reason"
)

// RedisJobStatusStore keeps job status in one hash per job. Every write
// refreshes the key TTL.
type RedisJobStatusStore struct {
	client    redis.UniversalClient
	keyPrefix string
	ttl       time.Duration
}

// NewRedisJobStatusStore creates a store on an existing client
func NewRedisJobStatusStore(client redis.UniversalClient, keyPrefix string, ttl time.Duration) *RedisJobStatusStore {
	if keyPrefix == "" {
		keyPrefix = defaultJobStatusPrefix
	}
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &RedisJobStatusStore{client: client, keyPrefix: keyPrefix, ttl: ttl}
}

func (s *RedisJobStatusStore) key(jobID string) string {
	return s.keyPrefix + jobID
}

func (s *RedisJobStatusStore) write(ctx context.Context, jobID string, replace bool, values map[string]any) error {
	key := s.key(jobID)
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		if replace {
			pipe.Del(ctx, key)
		}
		pipe.HSet(ctx, key, values)
		pipe.Expire(ctx, key, s.ttl)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to write job status %s: %w", jobID, err)
	}
	return nil
}

// MarkWaiting registers a newly queued job
func (s *RedisJobStatusStore) MarkWaiting(ctx context.Context, jobID string, data map[string]any) error {
	values := map[string]any{
		fieldState:    string(bulk.JobWaiting),
		fieldProgress: 0,
	}
	if len(data) > 0 {
		raw, err := json.Marshal(data)
		if err != nil {
			return fmt.Errorf("failed to encode job data: %w", err)
		}
		values[fieldData] = string(raw)
	}
	return s.write(ctx, jobID, true, values)
}

// MarkActive records that a worker picked the job up
func (s *RedisJobStatusStore) MarkActive(ctx context.Context, jobID string) error {
	return s.write(ctx, jobID, false, map[string]any{
		fieldState:       string(bulk.JobActive),
		fieldProcessedOn: time.Now().UnixMilli(),
	})
}

// SetProgress stores the latest percentage
func (s *RedisJobStatusStore) SetProgress(ctx context.Context, jobID string, progress int) error {
	return s.write(ctx, jobID, false, map[string]any{fieldProgress: progress})
}

// MarkCompleted finishes the job successfully
func (s *RedisJobStatusStore) MarkCompleted(ctx context.Context, jobID string) error {
	return s.write(ctx, jobID, false, map[string]any{
		fieldState:      string(bulk.JobCompleted),
		fieldProgress:   100,
		fieldFinishedOn: time.Now().UnixMilli(),
	})
}

// MarkFailed finishes the job with a reason
func (s *RedisJobStatusStore) MarkFailed(ctx context.Context, jobID string, reason string) error {
	return s.write(ctx, jobID, false, map[string]any{
		fieldState:        string(bulk.JobFailed),
		fieldFinishedOn:   time.Now().UnixMilli(),
		fieldFailedReason: reason,
	})
}

// Get reads the job hash. A missing key yields Exists=false.
func (s *RedisJobStatusStore) Get(ctx context.Context, jobID string) (bulk.JobStatus, error) {
	fields, err := s.client.HGetAll(ctx, s.key(jobID)).Result()
	if err != nil {
		return bulk.JobStatus{}, fmt.Errorf("failed to read job status %s: %w", jobID, err)
	}
	if len(fields) == 0 {
		return bulk.JobStatus{}, nil
	}
	return decodeJobStatus(fields), nil
}

func decodeJobStatus(fields map[string]string) bulk.JobStatus {
	st := bulk.JobStatus{
		Exists:       true,
		State:        bulk.JobState(fields[fieldState]),
		FailedReason: fields[fieldFailedReason],
	}
	if p, err := strconv.Atoi(fields[fieldProgress]); err == nil {
		st.Progress = p
	}
	if raw := fields[fieldData]; raw != "" {
		var data map[string]any
		if err := json.Unmarshal([]byte(raw), &data); err == nil {
			st.Data = data
		}
	}
	st.ProcessedOn = parseMillis(fields[fieldProcessedOn])
	st.FinishedOn = parseMillis(fields[fieldFinishedOn])
	return st
}

func parseMillis(v string) *time.Time {
	ms, err := strconv.ParseInt(v, 10, 64)
	if err != nil || ms == 0 {
		return nil
	}
	t := time.UnixMilli(ms)
	return &t
}

var _ bulk.JobStatusStore = (*RedisJobStatusStore)(nil)
