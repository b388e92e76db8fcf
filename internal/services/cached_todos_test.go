package services_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"todo-service/internal/cache"
	"todo-service/internal/models"
	"todo-service/internal/repositories"
	"todo-service/internal/serializers"
	"todo-service/internal/services"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type MockTodoService struct {
	mock.Mock
}

func (m *MockTodoService) List(ctx context.Context) ([]models.Todo, error) {
	args := m.Called(ctx)
	todos, _ := args.Get(0).([]models.Todo)
	return todos, args.Error(1)
}

func (m *MockTodoService) Create(ctx context.Context, in *serializers.TodoInput) (models.Todo, error) {
	args := m.Called(ctx, in)
	return args.Get(0).(models.Todo), args.Error(1)
}

func (m *MockTodoService) Get(ctx context.Context, id uint) (models.Todo, error) {
	args := m.Called(ctx, id)
	return args.Get(0).(models.Todo), args.Error(1)
}

func (m *MockTodoService) Update(ctx context.Context, id uint, in *serializers.TodoInput) (models.Todo, error) {
	args := m.Called(ctx, id, in)
	return args.Get(0).(models.Todo), args.Error(1)
}

func (m *MockTodoService) Patch(ctx context.Context, id uint, patch *serializers.TodoPatch) (models.Todo, error) {
	args := m.Called(ctx, id, patch)
	return args.Get(0).(models.Todo), args.Error(1)
}

func (m *MockTodoService) Delete(ctx context.Context, id uint) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

func (m *MockTodoService) Toggle(ctx context.Context, id uint) (models.Todo, error) {
	args := m.Called(ctx, id)
	return args.Get(0).(models.Todo), args.Error(1)
}

// brokenCache fails every operation.
type brokenCache struct{}

var errCacheBroken = errors.New("cache broken")

func (brokenCache) Set(context.Context, string, interface{}, time.Duration) error { return errCacheBroken }
func (brokenCache) Get(context.Context, string, interface{}) error                { return errCacheBroken }
func (brokenCache) Delete(context.Context, string) error                          { return errCacheBroken }
func (brokenCache) DeletePattern(context.Context, string) error                   { return errCacheBroken }
func (brokenCache) Stats() map[string]interface{}                                 { return nil }
func (brokenCache) Health(context.Context) error                                  { return errCacheBroken }
func (brokenCache) Close() error                                                  { return nil }

func newCachedService() (*services.CachedTodoService, *MockTodoService) {
	inner := new(MockTodoService)
	c := cache.NewMultiLevelCache(nil, nil)
	return services.NewCachedTodoService(inner, c, 30*time.Minute, 10*time.Minute), inner
}

func sampleTodo(id uint, title string) models.Todo {
	at := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	return models.Todo{ID: id, Title: title, CreatedAt: at, UpdatedAt: at}
}

func TestCachedTodoService_GetReadsThrough(t *testing.T) {
	svc, inner := newCachedService()
	ctx := context.Background()

	inner.On("Get", ctx, uint(1)).Return(sampleTodo(1, "cached"), nil).Once()

	first, err := svc.Get(ctx, 1)
	require.NoError(t, err)
	second, err := svc.Get(ctx, 1)
	require.NoError(t, err)

	assert.Equal(t, first, second)
	inner.AssertNumberOfCalls(t, "Get", 1)
}

func TestCachedTodoService_GetNotFoundIsNotCached(t *testing.T) {
	svc, inner := newCachedService()
	ctx := context.Background()

	inner.On("Get", ctx, uint(2)).Return(models.Todo{}, repositories.ErrTodoNotFound)

	_, err := svc.Get(ctx, 2)
	assert.ErrorIs(t, err, repositories.ErrTodoNotFound)
	_, err = svc.Get(ctx, 2)
	assert.ErrorIs(t, err, repositories.ErrTodoNotFound)

	inner.AssertNumberOfCalls(t, "Get", 2)
}

func TestCachedTodoService_ListCachedUntilMutation(t *testing.T) {
	svc, inner := newCachedService()
	ctx := context.Background()

	inner.On("List", ctx).Return([]models.Todo{sampleTodo(1, "a")}, nil).Once()
	inner.On("List", ctx).Return([]models.Todo{sampleTodo(2, "b"), sampleTodo(1, "a")}, nil).Once()
	inner.On("Create", ctx, mock.Anything).Return(sampleTodo(2, "b"), nil)

	list, err := svc.List(ctx)
	require.NoError(t, err)
	assert.Len(t, list, 1)

	list, err = svc.List(ctx)
	require.NoError(t, err)
	assert.Len(t, list, 1)

	_, err = svc.Create(ctx, &serializers.TodoInput{})
	require.NoError(t, err)

	list, err = svc.List(ctx)
	require.NoError(t, err)
	assert.Len(t, list, 2)
	inner.AssertNumberOfCalls(t, "List", 2)
}

func TestCachedTodoService_MutationsInvalidateItem(t *testing.T) {
	svc, inner := newCachedService()
	ctx := context.Background()

	inner.On("Get", ctx, uint(1)).Return(sampleTodo(1, "before"), nil).Once()
	inner.On("Toggle", ctx, uint(1)).Return(sampleTodo(1, "before"), nil)
	inner.On("Get", ctx, uint(1)).Return(sampleTodo(1, "after"), nil).Once()

	_, err := svc.Get(ctx, 1)
	require.NoError(t, err)

	_, err = svc.Toggle(ctx, 1)
	require.NoError(t, err)

	todo, err := svc.Get(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, "after", todo.Title)
}

func TestCachedTodoService_FailedMutationStillInvalidates(t *testing.T) {
	svc, inner := newCachedService()
	ctx := context.Background()

	inner.On("Get", ctx, uint(3)).Return(sampleTodo(3, "x"), nil)
	inner.On("Delete", ctx, uint(3)).Return(repositories.ErrTodoNotFound)
	inner.On("Update", ctx, uint(3), mock.Anything).Return(models.Todo{}, repositories.ErrTodoNotFound)
	inner.On("Patch", ctx, uint(3), mock.Anything).Return(models.Todo{}, repositories.ErrTodoNotFound)

	_, _ = svc.Get(ctx, 3)

	assert.ErrorIs(t, svc.Delete(ctx, 3), repositories.ErrTodoNotFound)
	_, err := svc.Update(ctx, 3, &serializers.TodoInput{})
	assert.ErrorIs(t, err, repositories.ErrTodoNotFound)
	_, err = svc.Patch(ctx, 3, &serializers.TodoPatch{})
	assert.ErrorIs(t, err, repositories.ErrTodoNotFound)

	_, _ = svc.Get(ctx, 3)
	inner.AssertNumberOfCalls(t, "Get", 2)
}

func TestCachedTodoService_BrokenCacheFallsThrough(t *testing.T) {
	inner := new(MockTodoService)
	svc := services.NewCachedTodoService(inner, brokenCache{}, time.Minute, time.Minute)
	ctx := context.Background()

	inner.On("List", ctx).Return([]models.Todo{sampleTodo(1, "a")}, nil)
	inner.On("Get", ctx, uint(1)).Return(sampleTodo(1, "a"), nil)
	inner.On("Delete", ctx, uint(1)).Return(nil)

	list, err := svc.List(ctx)
	require.NoError(t, err)
	assert.Len(t, list, 1)

	todo, err := svc.Get(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, "a", todo.Title)

	assert.NoError(t, svc.Delete(ctx, 1))
}

func TestCachedTodoService_WarmCache(t *testing.T) {
	svc, inner := newCachedService()
	ctx := context.Background()

	inner.On("List", ctx).Return([]models.Todo{sampleTodo(1, "a")}, nil).Once()

	require.NoError(t, svc.WarmCache(ctx))

	list, err := svc.List(ctx)
	require.NoError(t, err)
	assert.Len(t, list, 1)
	inner.AssertNumberOfCalls(t, "List", 1)

	stats := svc.GetCacheStats()
	assert.Contains(t, stats, "metrics")
}

func TestCachedTodoService_WarmCacheError(t *testing.T) {
	svc, inner := newCachedService()
	ctx := context.Background()

	inner.On("List", ctx).Return(nil, errors.New("db down"))

	assert.Error(t, svc.WarmCache(ctx))
}

func TestCachedTodoService_SlowListDoesNotOverwriteNewerWrite(t *testing.T) {
	svc, inner := newCachedService()
	ctx := context.Background()

	started := make(chan struct{})
	release := make(chan struct{})
	created := sampleTodo(1, "new")

	inner.On("List", ctx).Run(func(mock.Arguments) {
		close(started)
		<-release
	}).Return([]models.Todo{}, nil).Once()
	inner.On("List", ctx).Return([]models.Todo{created}, nil).Once()
	inner.On("Create", ctx, mock.Anything).Return(created, nil)

	done := make(chan []models.Todo)
	go func() {
		list, _ := svc.List(ctx)
		done <- list
	}()

	<-started
	_, err := svc.Create(ctx, &serializers.TodoInput{})
	require.NoError(t, err)
	close(release)

	assert.Empty(t, <-done, "the slow read still returns what it read")

	list, err := svc.List(ctx)
	require.NoError(t, err)
	assert.Len(t, list, 1)
	inner.AssertNumberOfCalls(t, "List", 2)
}

func TestCachedTodoService_SlowGetDoesNotOverwriteNewerWrite(t *testing.T) {
	svc, inner := newCachedService()
	ctx := context.Background()

	started := make(chan struct{})
	release := make(chan struct{})
	before := sampleTodo(1, "before")
	after := sampleTodo(1, "before")
	after.Completed = true

	inner.On("Get", ctx, uint(1)).Run(func(mock.Arguments) {
		close(started)
		<-release
	}).Return(before, nil).Once()
	inner.On("Get", ctx, uint(1)).Return(after, nil).Once()
	inner.On("Toggle", ctx, uint(1)).Return(after, nil)

	done := make(chan struct{})
	go func() {
		_, _ = svc.Get(ctx, 1)
		close(done)
	}()

	<-started
	_, err := svc.Toggle(ctx, 1)
	require.NoError(t, err)
	close(release)
	<-done

	todo, err := svc.Get(ctx, 1)
	require.NoError(t, err)
	assert.True(t, todo.Completed)
}

func TestCachedTodoService_RedisErrorDuringToggleDoesNotServeStaleItem(t *testing.T) {
	mr := miniredis.RunT(t)
	redisCache := cache.NewRedisCache(&cache.RedisConfig{
		Addr:         mr.Addr(),
		MaxRetries:   1,
		DialTimeout:  time.Second,
		ReadTimeout:  time.Second,
		WriteTimeout: time.Second,
	})
	c := cache.NewMultiLevelCache(redisCache, nil).WithFlushPattern("todo*")
	t.Cleanup(func() { c.Close() })

	inner := new(MockTodoService)
	svc := services.NewCachedTodoService(inner, c, 30*time.Minute, 10*time.Minute)
	ctx := context.Background()

	before := sampleTodo(1, "toggle me")
	after := before
	after.Completed = true

	inner.On("Get", ctx, uint(1)).Return(before, nil).Once()
	inner.On("Toggle", ctx, uint(1)).Return(after, nil)
	inner.On("Get", ctx, uint(1)).Return(after, nil).Once()

	_, err := svc.Get(ctx, 1)
	require.NoError(t, err)
	require.True(t, mr.Exists("todo:1"))

	mr.SetError("LOADING")
	_, err = svc.Toggle(ctx, 1)
	require.NoError(t, err, "cache failures never fail the mutation")
	mr.SetError("")

	todo, err := svc.Get(ctx, 1)
	require.NoError(t, err)
	assert.True(t, todo.Completed)
	inner.AssertNumberOfCalls(t, "Get", 2)
}
