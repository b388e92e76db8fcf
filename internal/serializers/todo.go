// Package serializers converts between the JSON wire format and
// models.Todo, enforcing field-level validation on the way in.
package serializers

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"reflect"
	"strings"
	"time"

	"todo-service/internal/models"

	"github.com/go-playground/validator/v10"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())

	v.RegisterTagNameFunc(func(field reflect.StructField) string {
		name := strings.SplitN(field.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})

	if err := v.RegisterValidation("notblank", func(fl validator.FieldLevel) bool {
		return strings.TrimSpace(fl.Field().String()) != ""
	}); err != nil {
		panic(err)
	}

	return v
}

// TodoInput is the body of a create or full update. Client-supplied id and
// timestamps are not part of it and are therefore ignored.
type TodoInput struct {
	Title       *string `json:"title" validate:"required,notblank,max=200"`
	Description *string `json:"description"`
	Completed   *bool   `json:"completed"`
}

// TodoPatch is the body of a partial update. Every field is optional, but a
// title that is supplied must not be blank.
type TodoPatch struct {
	Title       *string `json:"title" validate:"omitempty,notblank,max=200"`
	Description *string `json:"description"`
	Completed   *bool   `json:"completed"`
}

type TodoResponse struct {
	ID          uint      `json:"id"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
	Completed   bool      `json:"completed"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// DecodeTodo reads a create or full-update body.
func DecodeTodo(r io.Reader) (*TodoInput, error) {
	var in TodoInput
	if err := decode(r, &in); err != nil {
		return nil, err
	}
	in.Title = trimmed(in.Title)
	in.Description = trimmed(in.Description)

	if err := check(&in); err != nil {
		return nil, err
	}
	return &in, nil
}

// DecodeTodoPatch reads a partial-update body.
func DecodeTodoPatch(r io.Reader) (*TodoPatch, error) {
	var in TodoPatch
	if err := decode(r, &in); err != nil {
		return nil, err
	}
	in.Title = trimmed(in.Title)
	in.Description = trimmed(in.Description)

	if err := check(&in); err != nil {
		return nil, err
	}
	return &in, nil
}

// ToModel builds a new record, applying the entity defaults for omitted
// fields.
func (in *TodoInput) ToModel() models.Todo {
	todo := models.Todo{Title: *in.Title}
	if in.Description != nil {
		todo.Description = *in.Description
	}
	if in.Completed != nil {
		todo.Completed = *in.Completed
	}
	return todo
}

// Changes returns the columns a full update writes. Optional fields that were
// omitted keep their stored value.
func (in *TodoInput) Changes() map[string]interface{} {
	changes := map[string]interface{}{"title": *in.Title}
	if in.Description != nil {
		changes["description"] = *in.Description
	}
	if in.Completed != nil {
		changes["completed"] = *in.Completed
	}
	return changes
}

// Changes returns only the columns present in the patch.
func (p *TodoPatch) Changes() map[string]interface{} {
	changes := make(map[string]interface{})
	if p.Title != nil {
		changes["title"] = *p.Title
	}
	if p.Description != nil {
		changes["description"] = *p.Description
	}
	if p.Completed != nil {
		changes["completed"] = *p.Completed
	}
	return changes
}

func Serialize(todo models.Todo) TodoResponse {
	return TodoResponse{
		ID:          todo.ID,
		Title:       todo.Title,
		Description: todo.Description,
		Completed:   todo.Completed,
		CreatedAt:   todo.CreatedAt.UTC(),
		UpdatedAt:   todo.UpdatedAt.UTC(),
	}
}

// SerializeList never returns nil so an empty collection encodes as [].
func SerializeList(todos []models.Todo) []TodoResponse {
	out := make([]TodoResponse, 0, len(todos))
	for _, todo := range todos {
		out = append(out, Serialize(todo))
	}
	return out
}

func decode(r io.Reader, dest interface{}) error {
	if r == nil {
		return nil
	}

	body, err := io.ReadAll(r)
	if err != nil {
		return fmt.Errorf("failed to read request body: %w", err)
	}
	if len(bytes.TrimSpace(body)) == 0 {
		return nil
	}

	if err := json.Unmarshal(body, dest); err != nil {
		verr := &ValidationError{}
		var typeErr *json.UnmarshalTypeError
		var syntaxErr *json.SyntaxError
		switch {
		case errors.As(err, &typeErr) && typeErr.Field != "":
			verr.add(typeErr.Field, typeMessage(typeErr.Type))
		case errors.As(err, &typeErr):
			verr.add(NonFieldErrors, fmt.Sprintf("Invalid data. Expected an object, but got %s.", typeErr.Value))
		case errors.As(err, &syntaxErr):
			verr.add(NonFieldErrors, fmt.Sprintf("JSON parse error - %s", syntaxErr.Error()))
		default:
			verr.add(NonFieldErrors, fmt.Sprintf("JSON parse error - %s", err.Error()))
		}
		return verr
	}
	return nil
}

func check(in interface{}) error {
	err := validate.Struct(in)
	if err == nil {
		return nil
	}

	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return err
	}

	verr := &ValidationError{}
	for _, fe := range fieldErrs {
		verr.add(fe.Field(), tagMessage(fe.Tag()))
	}
	if verr.empty() {
		return nil
	}
	return verr
}

func tagMessage(tag string) string {
	switch tag {
	case "required":
		return msgRequired
	case "notblank":
		return msgBlank
	case "max":
		return msgTooLong
	default:
		return msgInvalid
	}
}

func typeMessage(t reflect.Type) string {
	for t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	switch t.Kind() {
	case reflect.Bool:
		return "Must be a valid boolean."
	case reflect.String:
		return "Not a valid string."
	default:
		return msgInvalid
	}
}

func trimmed(s *string) *string {
	if s == nil {
		return nil
	}
	t := strings.TrimSpace(*s)
	return &t
}
