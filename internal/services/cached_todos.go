package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"todo-service/internal/cache"
	"todo-service/internal/logger"
	"todo-service/internal/models"
	"todo-service/internal/serializers"
)

const listCacheKey = "todos:all"

func itemCacheKey(id uint) string {
	return fmt.Sprintf("todo:%d", id)
}

// CachedTodoService decorates a TodoService with read-through caching of
// single todos and the full list. Every mutation drops both entries. A
// failing cache is logged and bypassed, never surfaced to the caller.
//
// Each mutation bumps generation. A read only fills the cache if no mutation
// happened since it started, so a slow read cannot put back a value that a
// concurrent write already invalidated.
type CachedTodoService struct {
	todoService TodoService
	cache       cache.Cache
	itemTTL     time.Duration
	listTTL     time.Duration

	mu         sync.Mutex
	generation uint64
}

func NewCachedTodoService(todoService TodoService, c cache.Cache, itemTTL, listTTL time.Duration) *CachedTodoService {
	return &CachedTodoService{
		todoService: todoService,
		cache:       c,
		itemTTL:     itemTTL,
		listTTL:     listTTL,
	}
}

func (s *CachedTodoService) List(ctx context.Context) ([]models.Todo, error) {
	gen := s.currentGeneration()

	var cached []models.Todo
	if s.lookup(ctx, listCacheKey, &cached) {
		return cached, nil
	}

	todos, err := s.todoService.List(ctx)
	if err != nil {
		return nil, err
	}

	s.store(ctx, gen, listCacheKey, todos, s.listTTL)
	return todos, nil
}

func (s *CachedTodoService) Create(ctx context.Context, in *serializers.TodoInput) (models.Todo, error) {
	todo, err := s.todoService.Create(ctx, in)
	if err != nil {
		return todo, err
	}

	s.invalidate(ctx, todo.ID)
	return todo, nil
}

func (s *CachedTodoService) Get(ctx context.Context, id uint) (models.Todo, error) {
	key := itemCacheKey(id)
	gen := s.currentGeneration()

	var cached models.Todo
	if s.lookup(ctx, key, &cached) {
		return cached, nil
	}

	todo, err := s.todoService.Get(ctx, id)
	if err != nil {
		return todo, err
	}

	s.store(ctx, gen, key, todo, s.itemTTL)
	return todo, nil
}

func (s *CachedTodoService) Update(ctx context.Context, id uint, in *serializers.TodoInput) (models.Todo, error) {
	todo, err := s.todoService.Update(ctx, id, in)
	s.invalidate(ctx, id)
	return todo, err
}

func (s *CachedTodoService) Patch(ctx context.Context, id uint, patch *serializers.TodoPatch) (models.Todo, error) {
	todo, err := s.todoService.Patch(ctx, id, patch)
	s.invalidate(ctx, id)
	return todo, err
}

func (s *CachedTodoService) Delete(ctx context.Context, id uint) error {
	err := s.todoService.Delete(ctx, id)
	s.invalidate(ctx, id)
	return err
}

func (s *CachedTodoService) Toggle(ctx context.Context, id uint) (models.Todo, error) {
	todo, err := s.todoService.Toggle(ctx, id)
	s.invalidate(ctx, id)
	return todo, err
}

// WarmCache preloads the list so the first request after startup is served
// from cache.
func (s *CachedTodoService) WarmCache(ctx context.Context) error {
	gen := s.currentGeneration()
	todos, err := s.todoService.List(ctx)
	if err != nil {
		return fmt.Errorf("failed to warm todo cache: %w", err)
	}

	s.store(ctx, gen, listCacheKey, todos, s.listTTL)
	logger.DebugLog(ctx, "warmed todo cache with %d todos", len(todos))
	return nil
}

func (s *CachedTodoService) GetCacheStats() map[string]interface{} {
	return s.cache.Stats()
}

func (s *CachedTodoService) lookup(ctx context.Context, key string, dest interface{}) bool {
	err := s.cache.Get(ctx, key, dest)
	if err == nil {
		return true
	}
	if !errors.Is(err, cache.ErrCacheMiss) {
		logger.WarnLog(ctx, "cache read failed for %s: %v", key, err)
	}
	return false
}

func (s *CachedTodoService) currentGeneration() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.generation
}

// store writes value unless a mutation has run since gen was read.
func (s *CachedTodoService) store(ctx context.Context, gen uint64, key string, value interface{}, ttl time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.generation != gen {
		logger.DebugLog(ctx, "skipping cache fill for %s after concurrent write", key)
		return
	}
	if err := s.cache.Set(ctx, key, value, ttl); err != nil {
		logger.WarnLog(ctx, "cache write failed for %s: %v", key, err)
	}
}

func (s *CachedTodoService) invalidate(ctx context.Context, id uint) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.generation++
	for _, key := range []string{itemCacheKey(id), listCacheKey} {
		if err := s.cache.Delete(ctx, key); err != nil {
			logger.WarnLog(ctx, "cache invalidation failed for %s: %v", key, err)
		}
	}
}
