package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/alanyoungcy/opinioncore/internal/domain"
	"github.com/redis/go-redis/v9"
)

// QuestionCache implements domain.QuestionCache using JSON snapshots at key
// "question:{id}" with a per-entry TTL.
type QuestionCache struct {
	rdb *redis.Client
}

// NewQuestionCache creates a QuestionCache backed by the given Client.
func NewQuestionCache(c *Client) *QuestionCache {
	return &QuestionCache{rdb: c.Underlying()}
}

func questionKey(id int64) string {
	return "question:" + strconv.FormatInt(id, 10)
}

// Get retrieves a cached question snapshot. It returns domain.ErrNotFound
// when the key does not exist.
func (qc *QuestionCache) Get(ctx context.Context, id int64) (domain.Question, error) {
	data, err := qc.rdb.Get(ctx, questionKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return domain.Question{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.Question{}, fmt.Errorf("redis: get question %d: %w", id, err)
	}

	var q domain.Question
	if err := json.Unmarshal(data, &q); err != nil {
		return domain.Question{}, fmt.Errorf("redis: decode question %d: %w", id, err)
	}
	return q, nil
}

// Set stores a question snapshot with the given TTL.
func (qc *QuestionCache) Set(ctx context.Context, q domain.Question, ttl time.Duration) error {
	data, err := json.Marshal(q)
	if err != nil {
		return fmt.Errorf("redis: encode question %d: %w", q.ID, err)
	}
	if err := qc.rdb.Set(ctx, questionKey(q.ID), data, ttl).Err(); err != nil {
		return fmt.Errorf("redis: set question %d: %w", q.ID, err)
	}
	return nil
}

// Invalidate drops the cached snapshot for a question.
func (qc *QuestionCache) Invalidate(ctx context.Context, id int64) error {
	if err := qc.rdb.Del(ctx, questionKey(id)).Err(); err != nil {
		return fmt.Errorf("redis: invalidate question %d: %w", id, err)
	}
	return nil
}

// Compile-time interface check.
var _ domain.QuestionCache = (*QuestionCache)(nil)
