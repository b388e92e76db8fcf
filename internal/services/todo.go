package services

import (
	"context"

	"todo-service/internal/logger"
	"todo-service/internal/models"
	"todo-service/internal/repositories"
	"todo-service/internal/serializers"
)

type TodoService interface {
	List(ctx context.Context) ([]models.Todo, error)
	Create(ctx context.Context, in *serializers.TodoInput) (models.Todo, error)
	Get(ctx context.Context, id uint) (models.Todo, error)
	Update(ctx context.Context, id uint, in *serializers.TodoInput) (models.Todo, error)
	Patch(ctx context.Context, id uint, patch *serializers.TodoPatch) (models.Todo, error)
	Delete(ctx context.Context, id uint) error
	Toggle(ctx context.Context, id uint) (models.Todo, error)
}

type TodoServiceImpl struct {
	repo repositories.TodoRepository
}

func NewTodoService(repo repositories.TodoRepository) *TodoServiceImpl {
	return &TodoServiceImpl{repo: repo}
}

func (s *TodoServiceImpl) List(ctx context.Context) ([]models.Todo, error) {
	return s.repo.List(ctx)
}

func (s *TodoServiceImpl) Create(ctx context.Context, in *serializers.TodoInput) (models.Todo, error) {
	todo := in.ToModel()
	if err := s.repo.Create(ctx, &todo); err != nil {
		return models.Todo{}, err
	}

	logger.InfoLog(ctx, "created todo %d", todo.ID)
	return todo, nil
}

func (s *TodoServiceImpl) Get(ctx context.Context, id uint) (models.Todo, error) {
	return s.repo.GetByID(ctx, id)
}

// Update replaces the title and any optional field present in the input.
func (s *TodoServiceImpl) Update(ctx context.Context, id uint, in *serializers.TodoInput) (models.Todo, error) {
	todo, err := s.repo.Update(ctx, id, in.Changes())
	if err != nil {
		return models.Todo{}, err
	}

	logger.InfoLog(ctx, "updated todo %d", id)
	return todo, nil
}

func (s *TodoServiceImpl) Patch(ctx context.Context, id uint, patch *serializers.TodoPatch) (models.Todo, error) {
	todo, err := s.repo.Update(ctx, id, patch.Changes())
	if err != nil {
		return models.Todo{}, err
	}

	logger.InfoLog(ctx, "patched todo %d", id)
	return todo, nil
}

func (s *TodoServiceImpl) Delete(ctx context.Context, id uint) error {
	if err := s.repo.Delete(ctx, id); err != nil {
		return err
	}

	logger.InfoLog(ctx, "deleted todo %d", id)
	return nil
}

func (s *TodoServiceImpl) Toggle(ctx context.Context, id uint) (models.Todo, error) {
	todo, err := s.repo.ToggleCompleted(ctx, id)
	if err != nil {
		return models.Todo{}, err
	}

	logger.InfoLog(ctx, "toggled todo %d to completed=%t", id, todo.Completed)
	return todo, nil
}
