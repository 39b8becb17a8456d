package persistence

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/BaSui01/webpilot/internal/database"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// =============================================================================
// 🧪 后端工厂
// =============================================================================

func newRedisStore(t *testing.T) TaskStore {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	store, err := NewTaskStore(context.Background(), StoreConfig{Type: StoreTypeRedis, KeyPrefix: "test:"},
		Backends{Redis: client}, zap.NewNop())
	require.NoError(t, err)
	return store
}

func newSQLStore(t *testing.T) TaskStore {
	t.Helper()
	pool, err := database.Open(database.Config{
		Driver: "sqlite",
		DSN:    ":memory:",
		Pool:   database.PoolConfig{MaxOpenConns: 1, MaxIdleConns: 1},
	}, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = pool.Close() })

	store, err := NewTaskStore(context.Background(), StoreConfig{Type: StoreTypeSQL},
		Backends{DB: pool}, zap.NewNop())
	require.NoError(t, err)
	return store
}

var backends = map[string]func(t *testing.T) TaskStore{
	"memory": func(*testing.T) TaskStore { return NewMemoryTaskStore() },
	"redis":  newRedisStore,
	"sql":    newSQLStore,
}

func newTask(id string, created time.Time) *Task {
	return &Task{
		ID:               id,
		Goal:             "buy milk",
		Status:           StatusCreated,
		BrowserEndpoints: []string{"http://10.0.0.5:9222"},
		CreatedAt:        created,
	}
}

// =============================================================================
// 🧪 TaskStore 合约测试（每个后端运行一遍）
// =============================================================================

func TestTaskStore(t *testing.T) {
	for name, open := range backends {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			t.Run("Ping", func(t *testing.T) {
				assert.NoError(t, open(t).Ping(ctx))
			})

			t.Run("CreateAndGet", func(t *testing.T) {
				store := open(t)
				task := newTask("t1", time.Time{})
				require.NoError(t, store.Create(ctx, task))
				assert.False(t, task.CreatedAt.IsZero(), "create stamps timestamps")

				got, err := store.Get(ctx, "t1")
				require.NoError(t, err)
				assert.Equal(t, "buy milk", got.Goal)
				assert.Equal(t, StatusCreated, got.Status)
				assert.Equal(t, []string{"http://10.0.0.5:9222"}, got.BrowserEndpoints)
				assert.WithinDuration(t, task.CreatedAt, got.CreatedAt, time.Millisecond)
			})

			t.Run("CreateDuplicate", func(t *testing.T) {
				store := open(t)
				require.NoError(t, store.Create(ctx, newTask("dup", time.Time{})))
				assert.ErrorIs(t, store.Create(ctx, newTask("dup", time.Time{})), ErrAlreadyExists)
			})

			t.Run("CreateInvalid", func(t *testing.T) {
				store := open(t)
				assert.ErrorIs(t, store.Create(ctx, &Task{Status: StatusCreated}), ErrInvalidInput)
				assert.ErrorIs(t, store.Create(ctx, &Task{ID: "x", Status: "paused"}), ErrInvalidInput)
			})

			t.Run("GetMissing", func(t *testing.T) {
				_, err := open(t).Get(ctx, "nope")
				assert.ErrorIs(t, err, ErrNotFound)
			})

			t.Run("Update", func(t *testing.T) {
				store := open(t)
				require.NoError(t, store.Create(ctx, newTask("u1", time.Time{})))

				updated, err := store.Update(ctx, "u1", func(task *Task) error {
					task.Status = StatusHumanIntervention
					task.StatusReason = "captcha"
					task.FailedActionContext = map[string]any{"browser_endpoint_url": "ws://b/1", "error": "boom"}
					task.ID = "moved"
					return nil
				})
				require.NoError(t, err)
				assert.Equal(t, "u1", updated.ID, "id cannot change")
				assert.Equal(t, "ws://b/1", updated.ResumeEndpoint())

				got, err := store.Get(ctx, "u1")
				require.NoError(t, err)
				assert.Equal(t, StatusHumanIntervention, got.Status)
				assert.Equal(t, "captcha", got.StatusReason)
				assert.Equal(t, "ws://b/1", got.ResumeEndpoint())
				assert.Equal(t, "boom", got.FailedActionContext["error"])
			})

			t.Run("UpdateAbort", func(t *testing.T) {
				store := open(t)
				require.NoError(t, store.Create(ctx, newTask("a1", time.Time{})))
				refused := errors.New("refused")

				_, err := store.Update(ctx, "a1", func(task *Task) error {
					task.Status = StatusRunning
					return refused
				})
				assert.ErrorIs(t, err, refused)

				got, err := store.Get(ctx, "a1")
				require.NoError(t, err)
				assert.Equal(t, StatusCreated, got.Status, "aborted update leaves the record untouched")
			})

			t.Run("UpdateMissing", func(t *testing.T) {
				_, err := open(t).Update(ctx, "nope", func(*Task) error { return nil })
				assert.ErrorIs(t, err, ErrNotFound)
			})

			t.Run("ListNewestFirstWithFilter", func(t *testing.T) {
				store := open(t)
				base := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
				for i := 0; i < 4; i++ {
					task := newTask(fmt.Sprintf("l%d", i), base.Add(time.Duration(i)*time.Second))
					if i%2 == 1 {
						task.Status = StatusQueued
					}
					require.NoError(t, store.Create(ctx, task))
				}

				all, err := store.List(ctx, TaskFilter{})
				require.NoError(t, err)
				require.Len(t, all, 4)
				assert.Equal(t, "l3", all[0].ID)
				assert.Equal(t, "l0", all[3].ID)

				queued, err := store.List(ctx, TaskFilter{Status: []TaskStatus{StatusQueued}})
				require.NoError(t, err)
				require.Len(t, queued, 2)
				assert.Equal(t, "l3", queued[0].ID)
				assert.Equal(t, "l1", queued[1].ID)

				paged, err := store.List(ctx, TaskFilter{Limit: 2, Offset: 1})
				require.NoError(t, err)
				require.Len(t, paged, 2)
				assert.Equal(t, "l2", paged[0].ID)
				assert.Equal(t, "l1", paged[1].ID)
			})

			t.Run("Delete", func(t *testing.T) {
				store := open(t)
				require.NoError(t, store.Create(ctx, newTask("d1", time.Time{})))
				require.NoError(t, store.Delete(ctx, "d1"))
				assert.ErrorIs(t, store.Delete(ctx, "d1"), ErrNotFound)

				all, err := store.List(ctx, TaskFilter{})
				require.NoError(t, err)
				assert.Empty(t, all)
			})

			t.Run("ConcurrentUpdatesAreSerialized", func(t *testing.T) {
				store := open(t)
				require.NoError(t, store.Create(ctx, newTask("c1", time.Time{})))

				const writers = 8
				var wg sync.WaitGroup
				errs := make(chan error, writers)
				for i := 0; i < writers; i++ {
					wg.Add(1)
					go func() {
						defer wg.Done()
						_, err := store.Update(ctx, "c1", func(task *Task) error {
							task.ResumeCount++
							return nil
						})
						errs <- err
					}()
				}
				wg.Wait()
				close(errs)

				succeeded := 0
				for err := range errs {
					if err == nil {
						succeeded++
					}
				}
				got, err := store.Get(ctx, "c1")
				require.NoError(t, err)
				assert.Equal(t, succeeded, got.ResumeCount, "no lost updates")
				assert.Positive(t, succeeded)
			})
		})
	}
}

func TestMemoryTaskStore_Isolation(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryTaskStore()
	task := newTask("iso", time.Time{})
	require.NoError(t, store.Create(ctx, task))

	task.BrowserEndpoints[0] = "mutated"
	got, err := store.Get(ctx, "iso")
	require.NoError(t, err)
	assert.Equal(t, "http://10.0.0.5:9222", got.BrowserEndpoints[0])

	got.Goal = "changed"
	again, _ := store.Get(ctx, "iso")
	assert.Equal(t, "buy milk", again.Goal)
}

func TestMemoryTaskStore_Closed(t *testing.T) {
	store := NewMemoryTaskStore()
	require.NoError(t, store.Close())
	assert.ErrorIs(t, store.Ping(context.Background()), ErrStoreClosed)
	_, err := store.Get(context.Background(), "x")
	assert.ErrorIs(t, err, ErrStoreClosed)
}

func TestNewTaskStore_MissingBackend(t *testing.T) {
	ctx := context.Background()
	_, err := NewTaskStore(ctx, StoreConfig{Type: StoreTypeRedis}, Backends{}, nil)
	assert.ErrorIs(t, err, ErrInvalidInput)
	_, err = NewTaskStore(ctx, StoreConfig{Type: StoreTypeSQL}, Backends{}, nil)
	assert.ErrorIs(t, err, ErrInvalidInput)
	_, err = NewTaskStore(ctx, StoreConfig{Type: "file"}, Backends{}, nil)
	assert.Error(t, err)

	store, err := NewTaskStore(ctx, StoreConfig{}, Backends{}, nil)
	require.NoError(t, err)
	assert.IsType(t, &MemoryTaskStore{}, store)
}

func TestGormTaskStore_SkipAutoMigrate(t *testing.T) {
	pool, err := database.Open(database.Config{
		Driver: "sqlite",
		DSN:    ":memory:",
		Pool:   database.PoolConfig{MaxOpenConns: 1, MaxIdleConns: 1},
	}, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = pool.Close() })

	_, err = NewGormTaskStore(context.Background(), pool, StoreConfig{SkipAutoMigrate: true}, nil)
	require.NoError(t, err)
	assert.False(t, pool.DB().Migrator().HasTable("tasks"))

	_, err = NewGormTaskStore(context.Background(), pool, StoreConfig{}, nil)
	require.NoError(t, err)
	assert.True(t, pool.DB().Migrator().HasTable("tasks"))
}
