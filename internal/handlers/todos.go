package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"todo-service/internal/logger"
	"todo-service/internal/repositories"
	"todo-service/internal/serializers"
	"todo-service/internal/services"

	"github.com/gin-gonic/gin"
)

type TodoHandler struct {
	todoService services.TodoService
}

func NewTodoHandler(todoService services.TodoService) *TodoHandler {
	return &TodoHandler{todoService: todoService}
}

// RegisterTodoRoutes mounts the todo endpoints on group. Paths carry a
// trailing slash; gin redirects requests that omit it.
func RegisterTodoRoutes(group *gin.RouterGroup, h *TodoHandler) {
	todos := group.Group("/todos")
	{
		todos.GET("/", h.ListTodos)
		todos.POST("/", h.CreateTodo)
		todos.GET("/:id/", h.GetTodo)
		todos.PUT("/:id/", h.UpdateTodo)
		todos.PATCH("/:id/", h.PatchTodo)
		todos.DELETE("/:id/", h.DeleteTodo)
		todos.PATCH("/:id/toggle_completed/", h.ToggleCompleted)
	}
}

func (h *TodoHandler) ListTodos(c *gin.Context) {
	todos, err := h.todoService.List(c.Request.Context())
	if err != nil {
		handleTodoError(c, err)
		return
	}
	c.JSON(http.StatusOK, serializers.SerializeList(todos))
}

func (h *TodoHandler) CreateTodo(c *gin.Context) {
	in, err := serializers.DecodeTodo(c.Request.Body)
	if err != nil {
		handleTodoError(c, err)
		return
	}

	todo, err := h.todoService.Create(c.Request.Context(), in)
	if err != nil {
		handleTodoError(c, err)
		return
	}
	c.JSON(http.StatusCreated, serializers.Serialize(todo))
}

func (h *TodoHandler) GetTodo(c *gin.Context) {
	id, ok := todoID(c)
	if !ok {
		return
	}

	todo, err := h.todoService.Get(c.Request.Context(), id)
	if err != nil {
		handleTodoError(c, err)
		return
	}
	c.JSON(http.StatusOK, serializers.Serialize(todo))
}

func (h *TodoHandler) UpdateTodo(c *gin.Context) {
	id, ok := h.existingTodoID(c)
	if !ok {
		return
	}

	in, err := serializers.DecodeTodo(c.Request.Body)
	if err != nil {
		handleTodoError(c, err)
		return
	}

	todo, err := h.todoService.Update(c.Request.Context(), id, in)
	if err != nil {
		handleTodoError(c, err)
		return
	}
	c.JSON(http.StatusOK, serializers.Serialize(todo))
}

func (h *TodoHandler) PatchTodo(c *gin.Context) {
	id, ok := h.existingTodoID(c)
	if !ok {
		return
	}

	patch, err := serializers.DecodeTodoPatch(c.Request.Body)
	if err != nil {
		handleTodoError(c, err)
		return
	}

	todo, err := h.todoService.Patch(c.Request.Context(), id, patch)
	if err != nil {
		handleTodoError(c, err)
		return
	}
	c.JSON(http.StatusOK, serializers.Serialize(todo))
}

func (h *TodoHandler) DeleteTodo(c *gin.Context) {
	id, ok := todoID(c)
	if !ok {
		return
	}

	if err := h.todoService.Delete(c.Request.Context(), id); err != nil {
		handleTodoError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *TodoHandler) ToggleCompleted(c *gin.Context) {
	id, ok := todoID(c)
	if !ok {
		return
	}

	todo, err := h.todoService.Toggle(c.Request.Context(), id)
	if err != nil {
		handleTodoError(c, err)
		return
	}
	c.JSON(http.StatusOK, serializers.Serialize(todo))
}

// existingTodoID resolves the path id and confirms the record exists, so a
// missing todo answers 404 before its body is validated.
func (h *TodoHandler) existingTodoID(c *gin.Context) (uint, bool) {
	id, ok := todoID(c)
	if !ok {
		return 0, false
	}
	if _, err := h.todoService.Get(c.Request.Context(), id); err != nil {
		handleTodoError(c, err)
		return 0, false
	}
	return id, true
}

// todoID parses the :id path parameter. Anything that is not a positive
// integer cannot name a todo and answers 404.
func todoID(c *gin.Context) (uint, bool) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 0)
	if err != nil || id == 0 {
		handleTodoError(c, repositories.ErrTodoNotFound)
		return 0, false
	}
	return uint(id), true
}

func handleTodoError(c *gin.Context, err error) {
	if verr, ok := serializers.AsValidationError(err); ok {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":  "validation failed",
			"fields": verr.Fields,
		})
		return
	}

	if errors.Is(err, repositories.ErrTodoNotFound) {
		c.JSON(http.StatusNotFound, gin.H{
			"error": "todo not found",
		})
		return
	}

	logger.ErrorLog(c.Request.Context(), err, "todo request failed: %s %s", c.Request.Method, c.FullPath())
	c.JSON(http.StatusInternalServerError, gin.H{
		"error": "failed to process todo request",
	})
}
