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

// ErrBadPayload marks a stream entry that does not decode into a Job.
var ErrBadPayload = errors.New("malformed job payload")

// Options overrides the resolved plugin configuration for one job. Nil
// and empty fields keep the configured value.
type Options struct {
	UsePrefix        *bool    `json:"use_prefix,omitempty"`
	FirstFileIsRight *bool    `json:"first_file_is_right,omitempty"`
	NamingFormat     string   `json:"naming_format,omitempty"`
	OddPolicy        string   `json:"odd_policy,omitempty"`
	Blacklist        []string `json:"blacklist,omitempty"`
	DryRun           bool     `json:"dry_run,omitempty"`
}

// Job is one reorder request for a Goobi process.
type Job struct {
	JobID        string  `json:"job_id"`
	ProcessID    int     `json:"process_id"`
	ProcessTitle string  `json:"process_title"`
	Project      string  `json:"project,omitempty"`
	Step         string  `json:"step,omitempty"`
	ImagesDir    string  `json:"images_dir"`
	SourceDir    string  `json:"source_dir,omitempty"`
	TargetDir    string  `json:"target_dir,omitempty"`
	Options      Options `json:"options"`
}

// Message is a dequeued stream entry. Job is nil when the payload was
// malformed; ID is always set so the entry can still be acked.
type Message struct {
	ID      string
	Job     *Job
	Payload []byte
}

// RedisQueue implements Redis Streams + consumer groups.
type RedisQueue struct {
	client *redis.Client
	// streams / groups
	Stream string
	Group  string
	// keys
	CancelKey string
	DLQStream string
}

// NewRedisQueue connects to Redis and ensures stream & group.
func NewRedisQueue(redisURL, stream, group, dlq string) (*RedisQueue, error) {
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
	if dlq == "" {
		dlq = stream + ":dlq"
	}
	q := &RedisQueue{
		client:    c,
		Stream:    stream,
		Group:     group,
		CancelKey: "jobs:cancelled:set",
		DLQStream: dlq,
	}
	// MKSTREAM creates the stream if missing; start at 0 so jobs added
	// before the group existed are still delivered.
	if err := c.XGroupCreateMkStream(ctx, stream, group, "0").Err(); err != nil && !isBusyGroupErr(err) {
		return nil, fmt.Errorf("xgroup create: %w", err)
	}
	return q, nil
}

func isBusyGroupErr(err error) bool {
	if err == nil {
		return false
	}
	// go-redis returns the raw Redis error string
	return strings.Contains(strings.ToUpper(err.Error()), "BUSYGROUP")
}

func (q *RedisQueue) Close() error { return q.client.Close() }

// Ping checks redis connectivity.
func (q *RedisQueue) Ping(ctx context.Context) error { return q.client.Ping(ctx).Err() }

// Enqueue adds a job to the stream as a single-field entry {data: <json>}.
func (q *RedisQueue) Enqueue(ctx context.Context, job Job) error {
	b, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("encode job: %w", err)
	}
	return q.client.XAdd(ctx, &redis.XAddArgs{
		Stream: q.Stream,
		Values: map[string]any{"data": string(b)},
	}).Err()
}

// Dequeue reads one message for consumer, waiting up to timeout. It
// returns a zero Message and nil error when nothing arrived.
func (q *RedisQueue) Dequeue(ctx context.Context, consumer string, timeout time.Duration) (Message, error) {
	res, err := q.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    q.Group,
		Consumer: consumer,
		Streams:  []string{q.Stream, ">"},
		Count:    1,
		Block:    timeout,
	}).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return Message{}, nil
		}
		return Message{}, err
	}
	if len(res) == 0 || len(res[0].Messages) == 0 {
		return Message{}, nil
	}
	msg := res[0].Messages[0]
	out := Message{ID: msg.ID}
	switch t := msg.Values["data"].(type) {
	case string:
		out.Payload = []byte(t)
	case []byte:
		out.Payload = t
	}
	var job Job
	if err := json.Unmarshal(out.Payload, &job); err != nil || job.JobID == "" {
		return out, fmt.Errorf("%w in %s", ErrBadPayload, msg.ID)
	}
	out.Job = &job
	return out, nil
}

// Ack marks a message as processed.
func (q *RedisQueue) Ack(ctx context.Context, msgID string) error {
	if msgID == "" {
		return nil
	}
	return q.client.XAck(ctx, q.Stream, q.Group, msgID).Err()
}

// CancelJob marks a job as cancelled. Workers check this before processing.
func (q *RedisQueue) CancelJob(ctx context.Context, jobID string) error {
	return q.client.SAdd(ctx, q.CancelKey, jobID).Err()
}

// IsCancelled returns true if job is cancelled.
func (q *RedisQueue) IsCancelled(ctx context.Context, jobID string) (bool, error) {
	return q.client.SIsMember(ctx, q.CancelKey, jobID).Result()
}

// AddDLQ pushes a failed job to DLQ stream with reason.
func (q *RedisQueue) AddDLQ(ctx context.Context, payload []byte, reason string) error {
	return q.client.XAdd(ctx, &redis.XAddArgs{
		Stream: q.DLQStream,
		Values: map[string]any{"data": string(payload), "reason": reason},
	}).Err()
}

// Depths returns stream and dlq lengths for metrics.
func (q *RedisQueue) Depths(ctx context.Context) (int64, int64, error) {
	pipe := q.client.Pipeline()
	xlen := pipe.XLen(ctx, q.Stream)
	dxlen := pipe.XLen(ctx, q.DLQStream)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, 0, err
	}
	return xlen.Val(), dxlen.Val(), nil
}

// Client exposes the connection for components sharing it.
func (q *RedisQueue) Client() *redis.Client { return q.client }
