package persistence

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// RedisTaskStore is a Redis-based implementation of TaskStore.
// Suitable for distributed deployments where workers and the API run in
// separate processes. Each task is a JSON string under {prefix}task:{id};
// {prefix}tasks is a sorted set of ids scored by creation time.
type RedisTaskStore struct {
	client     redis.UniversalClient
	keyPrefix  string
	maxRetries int
	logger     *zap.Logger
}

// NewRedisTaskStore creates a new Redis-based task store
func NewRedisTaskStore(client redis.UniversalClient, cfg StoreConfig, logger *zap.Logger) *RedisTaskStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	prefix := cfg.KeyPrefix
	if prefix == "" {
		prefix = DefaultStoreConfig().KeyPrefix
	}
	retries := cfg.MaxUpdateRetries
	if retries <= 0 {
		retries = DefaultStoreConfig().MaxUpdateRetries
	}
	return &RedisTaskStore{
		client:     client,
		keyPrefix:  prefix,
		maxRetries: retries,
		logger:     logger.With(zap.String("component", "redis_task_store")),
	}
}

// Close is a no-op: the client is shared and owned by the caller.
func (s *RedisTaskStore) Close() error { return nil }

// Ping checks if the store is healthy
func (s *RedisTaskStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// taskKey returns the Redis key for a task
func (s *RedisTaskStore) taskKey(id string) string {
	return s.keyPrefix + "task:" + id
}

// indexKey returns the Redis key for the creation-time index
func (s *RedisTaskStore) indexKey() string {
	return s.keyPrefix + "tasks"
}

func (s *RedisTaskStore) Create(ctx context.Context, task *Task) error {
	if err := validate(task); err != nil {
		return err
	}
	stamp(task)
	data, err := json.Marshal(task)
	if err != nil {
		return fmt.Errorf("failed to marshal task: %w", err)
	}

	ok, err := s.client.SetNX(ctx, s.taskKey(task.ID), data, 0).Result()
	if err != nil {
		return err
	}
	if !ok {
		return ErrAlreadyExists
	}
	score := float64(task.CreatedAt.UnixNano())
	return s.client.ZAdd(ctx, s.indexKey(), redis.Z{Score: score, Member: task.ID}).Err()
}

// getter is satisfied by both the client and a WATCH transaction.
type getter interface {
	Get(ctx context.Context, key string) *redis.StringCmd
}

func (s *RedisTaskStore) Get(ctx context.Context, id string) (*Task, error) {
	return s.get(ctx, s.client, id)
}

func (s *RedisTaskStore) get(ctx context.Context, c getter, id string) (*Task, error) {
	data, err := c.Get(ctx, s.taskKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	var task Task
	if err := json.Unmarshal(data, &task); err != nil {
		return nil, fmt.Errorf("corrupt task %s: %w", id, err)
	}
	return &task, nil
}

func (s *RedisTaskStore) List(ctx context.Context, filter TaskFilter) ([]*Task, error) {
	ids, err := s.client.ZRevRange(ctx, s.indexKey(), 0, -1).Result()
	if err != nil {
		return nil, err
	}

	out := make([]*Task, 0, len(ids))
	for _, id := range ids {
		task, err := s.Get(ctx, id)
		if errors.Is(err, ErrNotFound) {
			// 索引残留，记录已被删除
			continue
		}
		if err != nil {
			return nil, err
		}
		if filter.matches(task) {
			out = append(out, task)
		}
	}
	sortNewestFirst(out)
	return filter.page(out), nil
}

// Update uses WATCH/MULTI so that concurrent writers on the same task
// retry instead of overwriting each other.
func (s *RedisTaskStore) Update(ctx context.Context, id string, fn UpdateFunc) (*Task, error) {
	key := s.taskKey(id)
	var updated *Task

	txf := func(tx *redis.Tx) error {
		current, err := s.get(ctx, tx, id)
		if err != nil {
			return err
		}
		next, err := applyUpdate(current, fn)
		if err != nil {
			return err
		}
		data, err := json.Marshal(next)
		if err != nil {
			return fmt.Errorf("failed to marshal task: %w", err)
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, data, 0)
			return nil
		})
		if err == nil {
			updated = next
		}
		return err
	}

	for attempt := 0; attempt < s.maxRetries; attempt++ {
		err := s.client.Watch(ctx, txf, key)
		if errors.Is(err, redis.TxFailedErr) {
			s.logger.Debug("optimistic update conflict, retrying",
				zap.String("task_id", id), zap.Int("attempt", attempt+1))
			continue
		}
		if err != nil {
			return nil, err
		}
		return updated, nil
	}
	return nil, fmt.Errorf("update task %s: %w after %d attempts", id, redis.TxFailedErr, s.maxRetries)
}

func (s *RedisTaskStore) Delete(ctx context.Context, id string) error {
	var del *redis.IntCmd
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		del = pipe.Del(ctx, s.taskKey(id))
		pipe.ZRem(ctx, s.indexKey(), id)
		return nil
	})
	if err != nil {
		return err
	}
	if del.Val() == 0 {
		return ErrNotFound
	}
	return nil
}

var _ TaskStore = (*RedisTaskStore)(nil)
