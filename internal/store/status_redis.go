package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	redis "github.com/redis/go-redis/v9"
)

// Job states written to the status hash.
const (
	StatusQueued     = "queued"
	StatusProcessing = "processing"
	StatusDone       = "done"
	StatusEmpty      = "empty"
	StatusFailed     = "failed"
	StatusCancelled  = "cancelled"
)

// Retention is how long job keys live after their last update.
const Retention = 7 * 24 * time.Hour

type Status struct {
	Status   string                 `json:"status"`
	Progress int                    `json:"progress"`
	Message  string                 `json:"message"`
	Start    *time.Time             `json:"start_time,omitempty"`
	End      *time.Time             `json:"end_time,omitempty"`
	Metadata map[string]interface{} `json:"metadata,omitempty"`
}

// LogEntry is one line of a job's process log.
type LogEntry struct {
	Time    time.Time `json:"time"`
	Level   string    `json:"level"`
	Message string    `json:"message"`
}

type RedisStatus struct {
	client *redis.Client
	keyNS  string
}

func NewRedisStatus(redisURL string) (*RedisStatus, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, err
	}
	c := redis.NewClient(opt)
	if err := c.Ping(context.Background()).Err(); err != nil {
		return nil, err
	}
	return &RedisStatus{client: c, keyNS: "job"}, nil
}

func (s *RedisStatus) key(jobID string) string { return fmt.Sprintf("%s:%s:status", s.keyNS, jobID) }

func (s *RedisStatus) logKey(jobID string) string { return fmt.Sprintf("%s:%s:log", s.keyNS, jobID) }

func fields(st Status) (map[string]interface{}, error) {
	m := map[string]interface{}{
		"status":   st.Status,
		"progress": st.Progress,
		"message":  st.Message,
	}
	if st.Start != nil {
		m["start"] = st.Start.Format(time.RFC3339Nano)
	}
	if st.End != nil {
		m["end"] = st.End.Format(time.RFC3339Nano)
	}
	if st.Metadata != nil {
		b, err := json.Marshal(st.Metadata)
		if err != nil {
			return nil, fmt.Errorf("encode metadata: %w", err)
		}
		m["metadata"] = string(b)
	}
	return m, nil
}

func (s *RedisStatus) Set(ctx context.Context, jobID string, st Status) error {
	m, err := fields(st)
	if err != nil {
		return err
	}
	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, s.key(jobID), m)
	pipe.Expire(ctx, s.key(jobID), Retention)
	_, err = pipe.Exec(ctx)
	return err
}

// transition writes the status only while the current one is ARGV[1] or
// the job has no status yet.
var transition = redis.NewScript(`
local cur = redis.call("HGET", KEYS[1], "status")
if cur and cur ~= ARGV[1] then
	return 0
end
redis.call("HSET", KEYS[1], unpack(ARGV, 3))
redis.call("EXPIRE", KEYS[1], ARGV[2])
return 1
`)

// Transition replaces the status with st if the job is currently in state
// from. It reports whether the write happened.
func (s *RedisStatus) Transition(ctx context.Context, jobID, from string, st Status) (bool, error) {
	m, err := fields(st)
	if err != nil {
		return false, err
	}
	args := make([]interface{}, 0, 2+2*len(m))
	args = append(args, from, int64(Retention/time.Second))
	for k, v := range m {
		args = append(args, k, v)
	}
	n, err := transition.Run(ctx, s.client, []string{s.key(jobID)}, args...).Int()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (s *RedisStatus) Get(ctx context.Context, jobID string) (Status, bool, error) {
	res, err := s.client.HGetAll(ctx, s.key(jobID)).Result()
	if err != nil {
		return Status{}, false, err
	}
	if len(res) == 0 {
		return Status{}, false, nil
	}
	st := Status{}
	st.Status = res["status"]
	st.Message = res["message"]
	if p, ok := res["progress"]; ok && p != "" {
		// ignore parse error; default 0
		var pi int
		fmt.Sscan(p, &pi)
		st.Progress = pi
	}
	if v := res["start"]; v != "" {
		if t, err := time.Parse(time.RFC3339Nano, v); err == nil {
			st.Start = &t
		}
	}
	if v := res["end"]; v != "" {
		if t, err := time.Parse(time.RFC3339Nano, v); err == nil {
			st.End = &t
		}
	}
	if v := res["metadata"]; v != "" {
		_ = json.Unmarshal([]byte(v), &st.Metadata)
	}
	return st, true, nil
}

// AppendLog adds a line to the job's process log.
func (s *RedisStatus) AppendLog(ctx context.Context, jobID, level, message string) error {
	b, err := json.Marshal(LogEntry{Time: time.Now().UTC(), Level: level, Message: message})
	if err != nil {
		return err
	}
	pipe := s.client.TxPipeline()
	pipe.RPush(ctx, s.logKey(jobID), b)
	pipe.Expire(ctx, s.logKey(jobID), Retention)
	_, err = pipe.Exec(ctx)
	return err
}

// Log returns the job's process log, oldest first.
func (s *RedisStatus) Log(ctx context.Context, jobID string) ([]LogEntry, error) {
	raw, err := s.client.LRange(ctx, s.logKey(jobID), 0, -1).Result()
	if err != nil {
		return nil, err
	}
	out := make([]LogEntry, 0, len(raw))
	for _, r := range raw {
		var e LogEntry
		if err := json.Unmarshal([]byte(r), &e); err != nil {
			e = LogEntry{Level: "info", Message: r}
		}
		out = append(out, e)
	}
	return out, nil
}

func (s *RedisStatus) Close() error { return s.client.Close() }
