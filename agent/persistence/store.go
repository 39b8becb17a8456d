package persistence

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/BaSui01/webpilot/internal/database"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Common errors
var (
	ErrNotFound      = errors.New("not found")
	ErrAlreadyExists = errors.New("already exists")
	ErrStoreClosed   = errors.New("store is closed")
	ErrInvalidInput  = errors.New("invalid input")
)

// StoreType represents the type of storage backend
type StoreType string

const (
	StoreTypeMemory StoreType = "memory"
	StoreTypeRedis  StoreType = "redis"
	StoreTypeSQL    StoreType = "sql"
)

// Store is the base interface for all persistent stores
type Store interface {
	// Close closes the store and releases resources it owns
	Close() error

	// Ping checks if the store is healthy
	Ping(ctx context.Context) error
}

// UpdateFunc mutates a task inside an atomic read-modify-write. Returning
// an error aborts the update and leaves the stored record untouched.
type UpdateFunc func(t *Task) error

// TaskStore persists Task records keyed by id.
type TaskStore interface {
	Store

	// Create stores a new task. It fails with ErrAlreadyExists when the id
	// is taken.
	Create(ctx context.Context, task *Task) error

	// Get returns a copy of the task or ErrNotFound.
	Get(ctx context.Context, id string) (*Task, error)

	// List returns matching tasks, newest first.
	List(ctx context.Context, filter TaskFilter) ([]*Task, error)

	// Update applies fn atomically and returns the stored result.
	Update(ctx context.Context, id string, fn UpdateFunc) (*Task, error)

	// Delete removes the task or returns ErrNotFound.
	Delete(ctx context.Context, id string) error
}

// StoreConfig 任务存储配置
type StoreConfig struct {
	// Type 存储类型: memory, redis, sql
	Type StoreType `yaml:"type" env:"TYPE"`
	// KeyPrefix redis 键前缀
	KeyPrefix string `yaml:"key_prefix" env:"KEY_PREFIX"`
	// MaxUpdateRetries 乐观锁 / 事务冲突重试次数
	MaxUpdateRetries int `yaml:"max_update_retries" env:"MAX_UPDATE_RETRIES"`
	// SkipAutoMigrate 为 true 时 SQL 存储不自动建表，表结构由 webpilot migrate 管理
	SkipAutoMigrate bool `yaml:"skip_auto_migrate" env:"SKIP_AUTO_MIGRATE"`
}

// DefaultStoreConfig returns the default store configuration
func DefaultStoreConfig() StoreConfig {
	return StoreConfig{
		Type:             StoreTypeMemory,
		KeyPrefix:        "webpilot:",
		MaxUpdateRetries: 5,
	}
}

// Backends carries the shared clients a store may be built on. The caller
// owns them; closing a store never closes a backend.
type Backends struct {
	Redis redis.UniversalClient
	DB    *database.PoolManager
}

// NewTaskStore creates a new TaskStore based on the configuration
func NewTaskStore(ctx context.Context, cfg StoreConfig, b Backends, logger *zap.Logger) (TaskStore, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	switch cfg.Type {
	case StoreTypeMemory, "":
		return NewMemoryTaskStore(), nil
	case StoreTypeRedis:
		if b.Redis == nil {
			return nil, fmt.Errorf("%w: redis task store needs a redis client", ErrInvalidInput)
		}
		return NewRedisTaskStore(b.Redis, cfg, logger), nil
	case StoreTypeSQL:
		if b.DB == nil {
			return nil, fmt.Errorf("%w: sql task store needs a database", ErrInvalidInput)
		}
		return NewGormTaskStore(ctx, b.DB, cfg, logger)
	default:
		return nil, fmt.Errorf("unsupported task store type: %s", cfg.Type)
	}
}

func stamp(t *Task) {
	now := time.Now().UTC()
	if t.CreatedAt.IsZero() {
		t.CreatedAt = now
	}
	t.UpdatedAt = now
}

func validate(t *Task) error {
	if t == nil || t.ID == "" {
		return fmt.Errorf("%w: task id is required", ErrInvalidInput)
	}
	if !t.Status.Valid() {
		return fmt.Errorf("%w: unknown status %q", ErrInvalidInput, t.Status)
	}
	return nil
}

// applyUpdate runs fn on a copy and restores the id so callers cannot
// move a record.
func applyUpdate(current *Task, fn UpdateFunc) (*Task, error) {
	next := current.Clone()
	if err := fn(next); err != nil {
		return nil, err
	}
	next.ID = current.ID
	next.CreatedAt = current.CreatedAt
	if err := validate(next); err != nil {
		return nil, err
	}
	next.UpdatedAt = time.Now().UTC()
	return next, nil
}
