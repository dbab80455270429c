// Package queue is the Redis Streams job queue for document processing:
// consumer-group dispatch, cancellation set, delayed re-enqueue via ZSET,
// dead letter stream.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	redis "github.com/redis/go-redis/v9"
)

// DocumentJob is one queued document. Attempts counts full pipeline runs,
// bumped on delayed re-enqueue.
type DocumentJob struct {
	JobID       string    `json:"job_id"`
	FilePath    string    `json:"file_path"`
	FileID      string    `json:"file_id,omitempty"`
	CallbackURL string    `json:"callback_url,omitempty"`
	Attempts    int       `json:"attempts"`
	EnqueuedAt  time.Time `json:"enqueued_at"`
}

// RedisQueue implements Redis Streams + consumer groups with a delayed ZSET mover.
type RedisQueue struct {
	client *redis.Client

	Stream     string
	Group      string
	CancelKey  string
	DelayedKey string
	DLQStream  string

	pollInterval time.Duration
	stop         chan struct{}
}

// NewRedisQueue connects to Redis, ensures stream & group, and starts the
// delayed mover.
func NewRedisQueue(redisURL, stream, group string, poll time.Duration) (*RedisQueue, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	c := redis.NewClient(opt)
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := c.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	q := &RedisQueue{
		client:       c,
		Stream:       stream,
		Group:        group,
		CancelKey:    "jobs:cancelled:set",
		DelayedKey:   stream + ":delayed",
		DLQStream:    stream + ":dlq",
		pollInterval: poll,
		stop:         make(chan struct{}),
	}
	// MKSTREAM creates the stream if missing
	if err := c.XGroupCreateMkStream(ctx, stream, group, "$").Err(); err != nil && !isBusyGroupErr(err) {
		return nil, fmt.Errorf("xgroup create: %w", err)
	}
	go q.mover()
	return q, nil
}

func isBusyGroupErr(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, redis.ErrBusyGroup) {
		return true
	}
	return strings.Contains(strings.ToUpper(err.Error()), "BUSYGROUP")
}

func (q *RedisQueue) Close() error {
	close(q.stop)
	return q.client.Close()
}

// Ping checks redis connectivity.
func (q *RedisQueue) Ping(ctx context.Context) error { return q.client.Ping(ctx).Err() }

// EnqueueDocument adds a job to the stream as a single-field entry {data: <json>}.
func (q *RedisQueue) EnqueueDocument(ctx context.Context, job DocumentJob) error {
	payload, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal job: %w", err)
	}
	return q.client.XAdd(ctx, &redis.XAddArgs{
		Stream: q.Stream,
		Values: map[string]any{"data": string(payload)},
	}).Err()
}

// EnqueueDelayed schedules a job for later execution via ZSET.
func (q *RedisQueue) EnqueueDelayed(ctx context.Context, job DocumentJob, executeAt time.Time) error {
	payload, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal job: %w", err)
	}
	return q.client.ZAdd(ctx, q.DelayedKey, redis.Z{
		Score: float64(executeAt.Unix()), Member: string(payload),
	}).Err()
}

// DequeueDocument reads one message from the consumer group. Returns a nil
// job when nothing is available within the timeout. Messages are ACKed
// explicitly by the worker after processing.
func (q *RedisQueue) DequeueDocument(ctx context.Context, consumer string, timeout time.Duration) (string, *DocumentJob, error) {
	res, err := q.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    q.Group,
		Consumer: consumer,
		Streams:  []string{q.Stream, ">"},
		Count:    1,
		Block:    timeout,
	}).Result()
	if err != nil {
		if err == redis.Nil {
			return "", nil, nil
		}
		return "", nil, err
	}
	if len(res) == 0 || len(res[0].Messages) == 0 {
		return "", nil, nil
	}
	msg := res[0].Messages[0]
	data, ok := msg.Values["data"].(string)
	if !ok {
		return msg.ID, nil, fmt.Errorf("message %s has no data field", msg.ID)
	}
	var job DocumentJob
	if err := json.Unmarshal([]byte(data), &job); err != nil {
		return msg.ID, nil, fmt.Errorf("unmarshal job: %w", err)
	}
	return msg.ID, &job, nil
}

// Ack marks a message as processed.
func (q *RedisQueue) Ack(ctx context.Context, msgID string) error {
	if msgID == "" {
		return nil
	}
	return q.client.XAck(ctx, q.Stream, q.Group, msgID).Err()
}

// CancelJob marks a job as cancelled. Workers check this between pipeline stages.
func (q *RedisQueue) CancelJob(ctx context.Context, jobID string) error {
	return q.client.SAdd(ctx, q.CancelKey, jobID).Err()
}

// IsCancelled returns true if the job has been cancelled.
func (q *RedisQueue) IsCancelled(ctx context.Context, jobID string) (bool, error) {
	return q.client.SIsMember(ctx, q.CancelKey, jobID).Result()
}

// ClearCancel removes a finished job from the cancellation set.
func (q *RedisQueue) ClearCancel(ctx context.Context, jobID string) error {
	return q.client.SRem(ctx, q.CancelKey, jobID).Err()
}

// AddDLQ pushes a terminally failed job to the dead letter stream with reason.
func (q *RedisQueue) AddDLQ(ctx context.Context, job DocumentJob, reason string) error {
	payload, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal job: %w", err)
	}
	return q.client.XAdd(ctx, &redis.XAddArgs{
		Stream: q.DLQStream,
		Values: map[string]any{"data": string(payload), "reason": reason},
	}).Err()
}

// mover periodically moves due delayed jobs from the ZSET into the stream.
func (q *RedisQueue) mover() {
	if q.pollInterval <= 0 {
		q.pollInterval = 200 * time.Millisecond
	}
	ticker := time.NewTicker(q.pollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-q.stop:
			return
		case <-ticker.C:
			q.moveOnce()
		}
	}
}

func (q *RedisQueue) moveOnce() {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	now := time.Now().Unix()
	vals, err := q.client.ZRangeByScoreWithScores(ctx, q.DelayedKey, &redis.ZRangeBy{
		Min: "-inf", Max: fmt.Sprintf("%d", now), Offset: 0, Count: 100,
	}).Result()
	if err != nil || len(vals) == 0 {
		return
	}
	pipe := q.client.TxPipeline()
	for _, z := range vals {
		s, _ := z.Member.(string)
		pipe.XAdd(ctx, &redis.XAddArgs{Stream: q.Stream, Values: map[string]any{"data": s}})
		pipe.ZRem(ctx, q.DelayedKey, s)
	}
	_, _ = pipe.Exec(ctx)
}

// Depths returns approximate stream/delayed/dlq lengths for metrics.
func (q *RedisQueue) Depths(ctx context.Context) (int64, int64, int64, error) {
	pipe := q.client.Pipeline()
	xlen := pipe.XLen(ctx, q.Stream)
	zcard := pipe.ZCard(ctx, q.DelayedKey)
	dxlen := pipe.XLen(ctx, q.DLQStream)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, 0, 0, err
	}
	return xlen.Val(), zcard.Val(), dxlen.Val(), nil
}
