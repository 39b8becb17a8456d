package persistence

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/BaSui01/webpilot/internal/database"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// taskRecord is the row layout of the tasks table.
type taskRecord struct {
	ID                  string         `gorm:"primaryKey;size:64"`
	Goal                string         `gorm:"type:text;not null"`
	Status              string         `gorm:"size:32;index;index:idx_tasks_status_created_at,priority:1;not null"`
	StatusReason        string         `gorm:"type:text"`
	FailedActionContext map[string]any `gorm:"serializer:json;type:text"`
	Result              string         `gorm:"type:text"`
	BrowserEndpoints    []string       `gorm:"serializer:json;type:text"`
	ActiveGoal          string         `gorm:"type:text"`
	ResumeCount         int
	CreatedAt           time.Time `gorm:"index;index:idx_tasks_status_created_at,priority:2"`
	UpdatedAt           time.Time
}

func (taskRecord) TableName() string { return "tasks" }

func toRecord(t *Task) *taskRecord {
	return &taskRecord{
		ID:                  t.ID,
		Goal:                t.Goal,
		Status:              string(t.Status),
		StatusReason:        t.StatusReason,
		FailedActionContext: t.FailedActionContext,
		Result:              t.Result,
		BrowserEndpoints:    t.BrowserEndpoints,
		ActiveGoal:          t.ActiveGoal,
		ResumeCount:         t.ResumeCount,
		CreatedAt:           t.CreatedAt,
		UpdatedAt:           t.UpdatedAt,
	}
}

func (r *taskRecord) toTask() *Task {
	endpoints := r.BrowserEndpoints
	if endpoints == nil {
		endpoints = []string{}
	}
	return &Task{
		ID:                  r.ID,
		Goal:                r.Goal,
		Status:              TaskStatus(r.Status),
		StatusReason:        r.StatusReason,
		FailedActionContext: r.FailedActionContext,
		Result:              r.Result,
		BrowserEndpoints:    endpoints,
		ActiveGoal:          r.ActiveGoal,
		ResumeCount:         r.ResumeCount,
		CreatedAt:           r.CreatedAt.UTC(),
		UpdatedAt:           r.UpdatedAt.UTC(),
	}
}

// GormTaskStore is a SQL implementation of TaskStore over GORM.
// Postgres, MySQL and SQLite are supported through internal/database.
type GormTaskStore struct {
	pool       *database.PoolManager
	maxRetries int
	logger     *zap.Logger
}

// NewGormTaskStore migrates the tasks table (unless cfg.SkipAutoMigrate) and
// returns the store.
func NewGormTaskStore(ctx context.Context, pool *database.PoolManager, cfg StoreConfig, logger *zap.Logger) (*GormTaskStore, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if !cfg.SkipAutoMigrate {
		if err := pool.DB().WithContext(ctx).AutoMigrate(&taskRecord{}); err != nil {
			return nil, fmt.Errorf("migrate tasks table: %w", err)
		}
	}
	retries := cfg.MaxUpdateRetries
	if retries <= 0 {
		retries = DefaultStoreConfig().MaxUpdateRetries
	}
	return &GormTaskStore{
		pool:       pool,
		maxRetries: retries,
		logger:     logger.With(zap.String("component", "gorm_task_store")),
	}, nil
}

// Close is a no-op: the pool is shared and owned by the caller.
func (s *GormTaskStore) Close() error { return nil }

// Ping checks if the store is healthy
func (s *GormTaskStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func (s *GormTaskStore) Create(ctx context.Context, task *Task) error {
	if err := validate(task); err != nil {
		return err
	}
	stamp(task)
	return s.pool.WithTransaction(ctx, func(tx *gorm.DB) error {
		var n int64
		if err := tx.Model(&taskRecord{}).Where("id = ?", task.ID).Count(&n).Error; err != nil {
			return err
		}
		if n > 0 {
			return ErrAlreadyExists
		}
		return tx.Create(toRecord(task)).Error
	})
}

func (s *GormTaskStore) Get(ctx context.Context, id string) (*Task, error) {
	var rec taskRecord
	err := s.pool.DB().WithContext(ctx).Where("id = ?", id).Take(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return rec.toTask(), nil
}

func (s *GormTaskStore) List(ctx context.Context, filter TaskFilter) ([]*Task, error) {
	q := s.pool.DB().WithContext(ctx).Model(&taskRecord{}).Order("created_at DESC").Order("id ASC")
	if len(filter.Status) > 0 {
		statuses := make([]string, len(filter.Status))
		for i, st := range filter.Status {
			statuses[i] = string(st)
		}
		q = q.Where("status IN ?", statuses)
	}
	if filter.Offset > 0 {
		q = q.Offset(filter.Offset)
	}
	if filter.Limit > 0 {
		q = q.Limit(filter.Limit)
	}

	var recs []taskRecord
	if err := q.Find(&recs).Error; err != nil {
		return nil, err
	}
	out := make([]*Task, len(recs))
	for i := range recs {
		out[i] = recs[i].toTask()
	}
	return out, nil
}

// Update locks the row (SELECT ... FOR UPDATE where the dialect supports
// it) and writes the mutated record in the same transaction.
func (s *GormTaskStore) Update(ctx context.Context, id string, fn UpdateFunc) (*Task, error) {
	var updated *Task
	err := s.pool.WithTransactionRetry(ctx, s.maxRetries, func(tx *gorm.DB) error {
		var rec taskRecord
		q := tx
		// SQLite 没有行锁，写事务本身是串行的
		if tx.Dialector.Name() != "sqlite" {
			q = tx.Clauses(clause.Locking{Strength: "UPDATE"})
		}
		err := q.Where("id = ?", id).Take(&rec).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrNotFound
		}
		if err != nil {
			return err
		}
		next, err := applyUpdate(rec.toTask(), fn)
		if err != nil {
			return err
		}
		if err := tx.Save(toRecord(next)).Error; err != nil {
			return err
		}
		updated = next
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

func (s *GormTaskStore) Delete(ctx context.Context, id string) error {
	res := s.pool.DB().WithContext(ctx).Where("id = ?", id).Delete(&taskRecord{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

var _ TaskStore = (*GormTaskStore)(nil)
