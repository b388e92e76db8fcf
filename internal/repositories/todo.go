// Package repositories holds the gorm-backed persistence for todos.
package repositories

import (
	"context"
	"errors"
	"fmt"
	"time"

	"todo-service/internal/models"

	"gorm.io/gorm"
)

var ErrTodoNotFound = errors.New("todo not found")

type TodoRepository interface {
	List(ctx context.Context) ([]models.Todo, error)
	Create(ctx context.Context, todo *models.Todo) error
	GetByID(ctx context.Context, id uint) (models.Todo, error)
	Update(ctx context.Context, id uint, changes map[string]interface{}) (models.Todo, error)
	Delete(ctx context.Context, id uint) error
	ToggleCompleted(ctx context.Context, id uint) (models.Todo, error)
	Count(ctx context.Context) (int64, error)
}

type GormTodoRepository struct {
	db    *gorm.DB
	clock func() time.Time
}

func NewTodoRepository(db *gorm.DB) *GormTodoRepository {
	return &GormTodoRepository{db: db, clock: time.Now}
}

// WithClock replaces the time source used for created_at and updated_at.
func (r *GormTodoRepository) WithClock(clock func() time.Time) *GormTodoRepository {
	r.clock = clock
	return r
}

// now is truncated to microseconds so values survive a postgres round trip
// unchanged.
func (r *GormTodoRepository) now() time.Time {
	return r.clock().UTC().Truncate(time.Microsecond)
}

func (r *GormTodoRepository) List(ctx context.Context) ([]models.Todo, error) {
	todos := make([]models.Todo, 0)
	err := r.db.WithContext(ctx).
		Order("created_at DESC").
		Order("id DESC").
		Find(&todos).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list todos: %w", err)
	}
	return todos, nil
}

// Create stamps both timestamps from a single clock reading and assigns the
// id.
func (r *GormTodoRepository) Create(ctx context.Context, todo *models.Todo) error {
	now := r.now()
	todo.ID = 0
	todo.CreatedAt = now
	todo.UpdatedAt = now

	if err := r.db.WithContext(ctx).Create(todo).Error; err != nil {
		return fmt.Errorf("failed to create todo: %w", err)
	}
	return nil
}

func (r *GormTodoRepository) GetByID(ctx context.Context, id uint) (models.Todo, error) {
	var todo models.Todo
	err := r.db.WithContext(ctx).First(&todo, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return todo, ErrTodoNotFound
	}
	if err != nil {
		return todo, fmt.Errorf("failed to get todo %d: %w", id, err)
	}
	return todo, nil
}

// Update writes the given columns and refreshes updated_at. An empty change
// set still touches updated_at.
func (r *GormTodoRepository) Update(ctx context.Context, id uint, changes map[string]interface{}) (models.Todo, error) {
	values := make(map[string]interface{}, len(changes)+1)
	for column, value := range changes {
		switch column {
		case "id", "created_at", "updated_at":
			continue
		}
		values[column] = value
	}
	values["updated_at"] = r.now()

	return r.updateAndReload(ctx, id, values)
}

// ToggleCompleted flips the flag in a single statement so concurrent toggles
// never read a stale value.
func (r *GormTodoRepository) ToggleCompleted(ctx context.Context, id uint) (models.Todo, error) {
	return r.updateAndReload(ctx, id, map[string]interface{}{
		"completed":  gorm.Expr("NOT completed"),
		"updated_at": r.now(),
	})
}

func (r *GormTodoRepository) Delete(ctx context.Context, id uint) error {
	result := r.db.WithContext(ctx).Delete(&models.Todo{}, id)
	if result.Error != nil {
		return fmt.Errorf("failed to delete todo %d: %w", id, result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrTodoNotFound
	}
	return nil
}

func (r *GormTodoRepository) Count(ctx context.Context) (int64, error) {
	var count int64
	if err := r.db.WithContext(ctx).Model(&models.Todo{}).Count(&count).Error; err != nil {
		return 0, fmt.Errorf("failed to count todos: %w", err)
	}
	return count, nil
}

func (r *GormTodoRepository) updateAndReload(ctx context.Context, id uint, values map[string]interface{}) (models.Todo, error) {
	result := r.db.WithContext(ctx).
		Model(&models.Todo{}).
		Where("id = ?", id).
		Updates(values)
	if result.Error != nil {
		return models.Todo{}, fmt.Errorf("failed to update todo %d: %w", id, result.Error)
	}
	if result.RowsAffected == 0 {
		return models.Todo{}, ErrTodoNotFound
	}
	return r.GetByID(ctx, id)
}
