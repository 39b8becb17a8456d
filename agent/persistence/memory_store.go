package persistence

import (
	"context"
	"sync"
)

// MemoryTaskStore is an in-memory implementation of TaskStore.
// Suitable for development, tests and the run command.
type MemoryTaskStore struct {
	mu     sync.RWMutex
	tasks  map[string]*Task
	closed bool
}

// NewMemoryTaskStore creates a new in-memory task store
func NewMemoryTaskStore() *MemoryTaskStore {
	return &MemoryTaskStore{tasks: make(map[string]*Task)}
}

// Close closes the store
func (s *MemoryTaskStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// Ping checks if the store is healthy
func (s *MemoryTaskStore) Ping(_ context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrStoreClosed
	}
	return nil
}

func (s *MemoryTaskStore) Create(_ context.Context, task *Task) error {
	if err := validate(task); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrStoreClosed
	}
	if _, ok := s.tasks[task.ID]; ok {
		return ErrAlreadyExists
	}
	stamp(task)
	s.tasks[task.ID] = task.Clone()
	return nil
}

func (s *MemoryTaskStore) Get(_ context.Context, id string) (*Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrStoreClosed
	}
	t, ok := s.tasks[id]
	if !ok {
		return nil, ErrNotFound
	}
	return t.Clone(), nil
}

func (s *MemoryTaskStore) List(_ context.Context, filter TaskFilter) ([]*Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrStoreClosed
	}
	out := make([]*Task, 0, len(s.tasks))
	for _, t := range s.tasks {
		if filter.matches(t) {
			out = append(out, t.Clone())
		}
	}
	sortNewestFirst(out)
	return filter.page(out), nil
}

func (s *MemoryTaskStore) Update(_ context.Context, id string, fn UpdateFunc) (*Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrStoreClosed
	}
	current, ok := s.tasks[id]
	if !ok {
		return nil, ErrNotFound
	}
	next, err := applyUpdate(current, fn)
	if err != nil {
		return nil, err
	}
	s.tasks[id] = next
	return next.Clone(), nil
}

func (s *MemoryTaskStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrStoreClosed
	}
	if _, ok := s.tasks[id]; !ok {
		return ErrNotFound
	}
	delete(s.tasks, id)
	return nil
}

var _ TaskStore = (*MemoryTaskStore)(nil)
