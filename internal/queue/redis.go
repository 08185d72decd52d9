package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/jakekausler/campaign-scheduler/internal/alert"
	scheduleerrors "github.com/jakekausler/campaign-scheduler/internal/errors"
	"github.com/jakekausler/campaign-scheduler/internal/job"
)

// State names used by Count.
const (
	StateActive    = "active"
	StateWaiting   = "waiting"
	StateDelayed   = "delayed"
	StateCompleted = "completed"
	StateFailed    = "failed"
)

// Options controls a single Enqueue call. Zero values fall back to the
// defaults in spec.md §4.1: Normal priority, 3 attempts, exponential
// backoff starting at 5s, immediate readiness.
type Options struct {
	Priority         job.Priority
	Delay            time.Duration
	Attempts         int
	Backoff          job.Backoff
	RemoveOnComplete bool
	RemoveOnFail     bool
}

// RedisQueue is a durable, priority-aware, delay-capable job queue backed by
// Redis. Four sorted sets (one per priority class) hold ready/delayed work,
// scored by readyAt so that ZRANGEBYSCORE naturally yields FIFO order
// within a class; a fifth sorted set tracks in-flight leases so that
// expired reservations can be recovered.
type RedisQueue struct {
	client    *redis.Client
	keyPrefix string

	processingKey string
	deadLetterKey string
	completedKey  string
	failedKey     string
	pausedKey     string
	seqKey        string

	completedRetain int64
	failedRetain    int64
	completedTTL    time.Duration
	failedTTL       time.Duration

	defaultMaxAttempts int
}

// NewRedisQueue connects to redisURL and returns a ready queue.
func NewRedisQueue(redisURL string, defaultMaxAttempts int) (*RedisQueue, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	// Pool sized for: QUEUE_CONCURRENCY workers reserving concurrently,
	// producers from cron/pubsub/domain handlers, and the health probe.
	opts.PoolSize = 50
	opts.MinIdleConns = 5
	opts.ConnMaxIdleTime = 10 * time.Minute
	opts.PoolTimeout = 5 * time.Second
	opts.MaxRetries = 3
	opts.MinRetryBackoff = 8 * time.Millisecond
	opts.MaxRetryBackoff = 512 * time.Millisecond
	opts.DialTimeout = 5 * time.Second
	opts.ReadTimeout = 10 * time.Second
	opts.WriteTimeout = 3 * time.Second
	opts.ContextTimeoutEnabled = true

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", scheduleerrors.ErrQueueUnavailable, err)
	}

	if defaultMaxAttempts <= 0 {
		defaultMaxAttempts = 3
	}

	prefix := "scheduler:"
	return &RedisQueue{
		client:             client,
		keyPrefix:          prefix,
		processingKey:      prefix + "queue:processing",
		deadLetterKey:      prefix + "queue:dead",
		completedKey:       prefix + "queue:completed",
		failedKey:          prefix + "queue:failed",
		pausedKey:          prefix + "queue:paused",
		seqKey:             prefix + "queue:seq",
		completedRetain:    100,
		failedRetain:       500,
		completedTTL:       30 * 24 * time.Hour,
		failedTTL:          30 * 7 * 24 * time.Hour,
		defaultMaxAttempts: defaultMaxAttempts,
	}, nil
}

func (q *RedisQueue) jobKey(jobID string) string {
	var b strings.Builder
	b.Grow(len(q.keyPrefix) + 4 + len(jobID))
	b.WriteString(q.keyPrefix)
	b.WriteString("job:")
	b.WriteString(jobID)
	return b.String()
}

func (q *RedisQueue) readyKey(priority job.Priority) string {
	return fmt.Sprintf("%squeue:ready:%d", q.keyPrefix, int(priority))
}

var allPriorities = []job.Priority{job.PriorityCritical, job.PriorityHigh, job.PriorityNormal, job.PriorityLow}

// nextSeq returns a strictly increasing counter used to break ties between
// jobs that share the same readyAt instant, preserving insertion order.
func (q *RedisQueue) nextSeq(ctx context.Context) (int64, error) {
	return q.client.Incr(ctx, q.seqKey).Result()
}

func score(readyAt time.Time, seq int64) float64 {
	// readyAt dominates; seq (bounded well under 1e6 per millisecond in
	// practice) breaks ties without perturbing ordering across instants.
	return float64(readyAt.UnixMilli())*1e6 + float64(seq%1e6)
}

// Enqueue adds a job to the ready/delayed set for its priority class.
func (q *RedisQueue) Enqueue(ctx context.Context, j *job.Job, opts Options) (string, error) {
	if opts.Priority == 0 {
		opts.Priority = job.PriorityNormal
	}
	if !opts.Priority.Valid() {
		opts.Priority = job.PriorityNormal
	}
	if opts.Attempts <= 0 {
		opts.Attempts = q.defaultMaxAttempts
	}
	if opts.Backoff.Kind == "" {
		opts.Backoff = job.DefaultBackoff()
	}

	j.Priority = opts.Priority
	j.MaxAttempts = opts.Attempts
	j.Backoff = opts.Backoff
	if opts.Delay > 0 {
		j.ReadyAt = time.Now().Add(opts.Delay)
	} else if j.ReadyAt.IsZero() {
		j.ReadyAt = time.Now()
	}

	seq, err := q.nextSeq(ctx)
	if err != nil {
		return "", fmt.Errorf("%w: %v", scheduleerrors.ErrQueueUnavailable, err)
	}

	data, err := json.Marshal(j)
	if err != nil {
		return "", fmt.Errorf("failed to marshal job: %w", err)
	}

	pipe := q.client.Pipeline()
	pipe.Set(ctx, q.jobKey(j.ID), data, 0)
	pipe.ZAdd(ctx, q.readyKey(j.Priority), redis.Z{Score: score(j.ReadyAt, seq), Member: j.ID})
	if _, err := pipe.Exec(ctx); err != nil {
		return "", fmt.Errorf("%w: %v", scheduleerrors.ErrQueueUnavailable, err)
	}

	return j.ID, nil
}

// reserveScript atomically pops the earliest-ready member of a priority
// set, or returns nil if none is ready yet.
var reserveScript = redis.NewScript(`
local ids = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', ARGV[1], 'LIMIT', 0, 1)
if #ids == 0 then
	return false
end
redis.call('ZREM', KEYS[1], ids[1])
return ids[1]
`)

// Reserve returns the single highest-priority ready job and marks it leased
// to workerID until leaseDuration elapses, or nil if the queue is empty,
// paused, or nothing is ready yet.
func (q *RedisQueue) Reserve(ctx context.Context, workerID string, leaseDuration time.Duration) (*job.Job, error) {
	paused, err := q.client.Exists(ctx, q.pausedKey).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", scheduleerrors.ErrQueueUnavailable, err)
	}
	if paused == 1 {
		return nil, nil
	}

	nowScore := fmt.Sprintf("%d", time.Now().UnixMilli()*1e6+999999)

	for _, priority := range allPriorities {
		res, err := reserveScript.Run(ctx, q.client, []string{q.readyKey(priority)}, nowScore).Result()
		if err == redis.Nil {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("%w: %v", scheduleerrors.ErrQueueUnavailable, err)
		}
		jobID, ok := res.(string)
		if !ok || jobID == "" {
			continue
		}

		j, err := q.GetJob(ctx, jobID)
		if err != nil {
			// Corrupted or missing reference: drop it and keep scanning.
			log.Printf("queue: reserved job %s has no data, dropping", jobID)
			continue
		}

		j.LeaseOwner = workerID
		j.LeaseEpoch++
		j.LeaseUntil = time.Now().Add(leaseDuration)
		j.Touch()

		data, err := json.Marshal(j)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal job: %w", err)
		}

		pipe := q.client.Pipeline()
		pipe.Set(ctx, q.jobKey(j.ID), data, 0)
		pipe.ZAdd(ctx, q.processingKey, redis.Z{Score: float64(j.LeaseUntil.UnixMilli()), Member: j.ID})
		if _, err := pipe.Exec(ctx); err != nil {
			return nil, fmt.Errorf("%w: %v", scheduleerrors.ErrQueueUnavailable, err)
		}

		return j, nil
	}

	return nil, nil
}

// Ack marks a reserved job complete. It is idempotent for a given
// (id, leaseEpoch): a caller whose lease was already resolved (acked,
// failed or recovered after expiry) or superseded is a no-op.
func (q *RedisQueue) Ack(ctx context.Context, id string, leaseEpoch int64) error {
	j, err := q.GetJob(ctx, id)
	if err != nil {
		return nil // already cleaned up; idempotent no-op
	}
	if j.LeaseEpoch != leaseEpoch || j.LeaseUntil.IsZero() {
		return nil
	}

	j.AttemptsMade = j.AttemptsMade // unchanged on success
	now := time.Now()
	j.UpdatedAt = now
	j.LeaseOwner = ""
	j.LeaseUntil = time.Time{}

	data, err := json.Marshal(j)
	if err != nil {
		return fmt.Errorf("failed to marshal job: %w", err)
	}

	pipe := q.client.Pipeline()
	pipe.ZRem(ctx, q.processingKey, id)
	pipe.LPush(ctx, q.completedKey, id)
	pipe.LTrim(ctx, q.completedKey, 0, q.completedRetain-1)
	pipe.Set(ctx, q.jobKey(id), data, q.completedTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("%w: %v", scheduleerrors.ErrQueueUnavailable, err)
	}
	return nil
}

// Fail records a failed attempt. If attemptsMade remains below maxAttempts
// (and requeue is true), the job is rescheduled with the configured
// backoff; otherwise it is moved to the dead-letter sink.
func (q *RedisQueue) Fail(ctx context.Context, id string, leaseEpoch int64, causeErr error, requeue bool) error {
	j, err := q.GetJob(ctx, id)
	if err != nil {
		return nil
	}
	if j.LeaseEpoch != leaseEpoch || j.LeaseUntil.IsZero() {
		return nil
	}

	j.AttemptsMade++
	if causeErr != nil {
		j.LastError = causeErr.Error()
	}
	j.LeaseOwner = ""
	j.LeaseUntil = time.Time{}
	j.Touch()

	pipe := q.client.Pipeline()
	pipe.ZRem(ctx, q.processingKey, id)

	if requeue && j.AttemptsMade < j.MaxAttempts {
		delay := j.Backoff.Delay(j.AttemptsMade)
		j.ReadyAt = time.Now().Add(delay)

		seq, serr := q.nextSeq(ctx)
		if serr != nil {
			return fmt.Errorf("%w: %v", scheduleerrors.ErrQueueUnavailable, serr)
		}

		data, merr := json.Marshal(j)
		if merr != nil {
			return fmt.Errorf("failed to marshal job: %w", merr)
		}
		pipe.Set(ctx, q.jobKey(id), data, 0)
		pipe.ZAdd(ctx, q.readyKey(j.Priority), redis.Z{Score: score(j.ReadyAt, seq), Member: id})

		if _, err := pipe.Exec(ctx); err != nil {
			return fmt.Errorf("%w: %v", scheduleerrors.ErrQueueUnavailable, err)
		}
		return nil
	}

	// Terminal: move to the dead-letter sink.
	entry := job.DeadLetterEntry{
		OriginalJobID: j.ID,
		Kind:          j.Kind,
		CampaignID:    j.CampaignID,
		Payload:       j.Payload,
		LastError:     job.ErrorDetail{Message: j.LastError},
		AttemptsMade:  j.AttemptsMade,
		FailedAt:      time.Now(),
	}
	entryData, merr := json.Marshal(entry)
	if merr != nil {
		return fmt.Errorf("failed to marshal dead letter entry: %w", merr)
	}

	pipe.HSet(ctx, q.deadLetterKey, id, entryData)
	pipe.LPush(ctx, q.failedKey, id)
	pipe.LTrim(ctx, q.failedKey, 0, q.failedRetain-1)
	jobData, merr := json.Marshal(j)
	if merr != nil {
		return fmt.Errorf("failed to marshal job: %w", merr)
	}
	pipe.Set(ctx, q.jobKey(id), jobData, q.failedTTL)

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("%w: %v", scheduleerrors.ErrQueueUnavailable, err)
	}
	alert.Critical(ctx, "queue", "job moved to dead-letter queue", map[string]interface{}{
		"jobId": j.ID, "kind": j.Kind, "campaignId": j.CampaignID,
		"attemptsMade": j.AttemptsMade, "lastError": j.LastError,
	})
	return nil
}

// Count returns the number of jobs in the given state.
func (q *RedisQueue) Count(ctx context.Context, state string) (int64, error) {
	switch state {
	case StateActive:
		return q.client.ZCard(ctx, q.processingKey).Result()
	case StateCompleted:
		return q.client.LLen(ctx, q.completedKey).Result()
	case StateFailed:
		return q.client.LLen(ctx, q.failedKey).Result()
	case StateWaiting, StateDelayed:
		return q.countReadyOrDelayed(ctx, state == StateWaiting)
	default:
		return 0, fmt.Errorf("unknown queue state: %s", state)
	}
}

func (q *RedisQueue) countReadyOrDelayed(ctx context.Context, wantReady bool) (int64, error) {
	now := time.Now().UnixMilli()*1e6 + 999999
	var total int64
	for _, priority := range allPriorities {
		key := q.readyKey(priority)
		var n int64
		var err error
		if wantReady {
			n, err = q.client.ZCount(ctx, key, "-inf", fmt.Sprintf("%d", now)).Result()
		} else {
			n, err = q.client.ZCount(ctx, key, fmt.Sprintf("(%d", now), "+inf").Result()
		}
		if err != nil {
			return 0, fmt.Errorf("%w: %v", scheduleerrors.ErrQueueUnavailable, err)
		}
		total += n
	}
	return total, nil
}

// DeadLetterCount returns the number of entries retained in the DLQ.
func (q *RedisQueue) DeadLetterCount(ctx context.Context) (int64, error) {
	return q.client.HLen(ctx, q.deadLetterKey).Result()
}

// Pause stops Reserve from returning jobs; Enqueue is unaffected.
func (q *RedisQueue) Pause(ctx context.Context) error {
	return q.client.Set(ctx, q.pausedKey, "1", 0).Err()
}

// Resume undoes Pause.
func (q *RedisQueue) Resume(ctx context.Context) error {
	return q.client.Del(ctx, q.pausedKey).Err()
}

// CleanCompleted removes completed job records older than maxAge.
func (q *RedisQueue) CleanCompleted(ctx context.Context, maxAge time.Duration) (int, error) {
	return q.cleanRetained(ctx, q.completedKey, maxAge)
}

// CleanFailed removes failed (non-DLQ) job records older than maxAge.
func (q *RedisQueue) CleanFailed(ctx context.Context, maxAge time.Duration) (int, error) {
	return q.cleanRetained(ctx, q.failedKey, maxAge)
}

func (q *RedisQueue) cleanRetained(ctx context.Context, listKey string, maxAge time.Duration) (int, error) {
	ids, err := q.client.LRange(ctx, listKey, 0, -1).Result()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", scheduleerrors.ErrQueueUnavailable, err)
	}

	cutoff := time.Now().Add(-maxAge)
	removed := 0
	for _, id := range ids {
		j, err := q.GetJob(ctx, id)
		if err != nil {
			continue
		}
		if j.UpdatedAt.Before(cutoff) {
			pipe := q.client.Pipeline()
			pipe.LRem(ctx, listKey, 1, id)
			pipe.Del(ctx, q.jobKey(id))
			if _, err := pipe.Exec(ctx); err == nil {
				removed++
			}
		}
	}
	return removed, nil
}

// RetryDeadLetter re-enqueues a dead-lettered job with a fresh id and reset
// attempt count.
func (q *RedisQueue) RetryDeadLetter(ctx context.Context, originalJobID string) (string, error) {
	raw, err := q.client.HGet(ctx, q.deadLetterKey, originalJobID).Result()
	if err == redis.Nil {
		return "", scheduleerrors.ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("%w: %v", scheduleerrors.ErrQueueUnavailable, err)
	}

	var entry job.DeadLetterEntry
	if err := json.Unmarshal([]byte(raw), &entry); err != nil {
		return "", fmt.Errorf("failed to unmarshal dead letter entry: %w", err)
	}

	now := time.Now()
	newJob := &job.Job{
		ID:          uuid.New().String(),
		Kind:        entry.Kind,
		CampaignID:  entry.CampaignID,
		Priority:    job.PriorityNormal,
		Payload:     entry.Payload,
		ReadyAt:     now,
		MaxAttempts: q.defaultMaxAttempts,
		Backoff:     job.DefaultBackoff(),
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	id, err := q.Enqueue(ctx, newJob, Options{Priority: job.PriorityNormal, Attempts: q.defaultMaxAttempts, Backoff: job.DefaultBackoff()})
	if err != nil {
		return "", err
	}

	q.client.HDel(ctx, q.deadLetterKey, originalJobID)
	return id, nil
}

// GetJob retrieves a job by ID from Redis.
func (q *RedisQueue) GetJob(ctx context.Context, jobID string) (*job.Job, error) {
	data, err := q.client.Get(ctx, q.jobKey(jobID)).Result()
	if err == redis.Nil {
		return nil, scheduleerrors.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", scheduleerrors.ErrQueueUnavailable, err)
	}

	var j job.Job
	if err := json.Unmarshal([]byte(data), &j); err != nil {
		return nil, fmt.Errorf("failed to unmarshal job: %w", err)
	}
	return &j, nil
}

// RecoverExpiredLeases returns leased jobs whose LeaseUntil has passed back
// to their priority's ready set. cmd/scheduler runs it once a minute, so
// unacked jobs return to the queue after their lease expires.
func (q *RedisQueue) RecoverExpiredLeases(ctx context.Context) (int, error) {
	now := time.Now().UnixMilli()
	ids, err := q.client.ZRangeByScore(ctx, q.processingKey, &redis.ZRangeBy{
		Min: "-inf",
		Max: fmt.Sprintf("%d", now),
	}).Result()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", scheduleerrors.ErrQueueUnavailable, err)
	}

	recovered := 0
	for _, id := range ids {
		j, err := q.GetJob(ctx, id)
		if err != nil {
			q.client.ZRem(ctx, q.processingKey, id)
			continue
		}

		seq, err := q.nextSeq(ctx)
		if err != nil {
			continue
		}
		j.LeaseOwner = ""
		j.LeaseUntil = time.Time{}
		j.Touch()

		data, err := json.Marshal(j)
		if err != nil {
			continue
		}

		pipe := q.client.Pipeline()
		pipe.ZRem(ctx, q.processingKey, id)
		pipe.Set(ctx, q.jobKey(id), data, 0)
		pipe.ZAdd(ctx, q.readyKey(j.Priority), redis.Z{Score: score(j.ReadyAt, seq), Member: id})
		if _, err := pipe.Exec(ctx); err == nil {
			recovered++
		}
	}
	return recovered, nil
}

// Close closes the Redis connection.
func (q *RedisQueue) Close() error {
	if err := q.client.Close(); err != nil {
		return fmt.Errorf("failed to close Redis connection: %w", err)
	}
	return nil
}
