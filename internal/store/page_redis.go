package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"

	redis "github.com/redis/go-redis/v9"

	"github.com/intranda/goobi-plugin-step-reorder-images/internal/reorder"
)

// PageStore keeps the position mapping of finished jobs.
type PageStore struct {
	client *redis.Client
}

func NewPageStore(redisURL string) (*PageStore, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, err
	}
	c := redis.NewClient(opt)
	if err := c.Ping(context.Background()).Err(); err != nil {
		return nil, err
	}
	return &PageStore{client: c}, nil
}

func (s *PageStore) Close() error { return s.client.Close() }

func (s *PageStore) pagesKey(jobID string) string {
	return fmt.Sprintf("job:%s:pages", jobID)
}

// SavePages replaces the stored mapping with ops, keyed by position.
func (s *PageStore) SavePages(ctx context.Context, jobID string, ops []reorder.Operation) error {
	key := s.pagesKey(jobID)
	m := make(map[string]interface{}, len(ops))
	for _, op := range ops {
		b, err := json.Marshal(op)
		if err != nil {
			return fmt.Errorf("encode page %d: %w", op.Position, err)
		}
		m[strconv.Itoa(op.Position)] = string(b)
	}
	pipe := s.client.TxPipeline()
	pipe.Del(ctx, key)
	if len(m) > 0 {
		pipe.HSet(ctx, key, m)
		pipe.Expire(ctx, key, Retention)
	}
	_, err := pipe.Exec(ctx)
	return err
}

// Pages returns the stored mapping ordered by position.
func (s *PageStore) Pages(ctx context.Context, jobID string) ([]reorder.Operation, error) {
	res, err := s.client.HGetAll(ctx, s.pagesKey(jobID)).Result()
	if err != nil {
		return nil, err
	}
	out := make([]reorder.Operation, 0, len(res))
	for field, v := range res {
		var op reorder.Operation
		if err := json.Unmarshal([]byte(v), &op); err != nil {
			return nil, fmt.Errorf("decode page %s: %w", field, err)
		}
		out = append(out, op)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Position < out[j].Position })
	return out, nil
}
