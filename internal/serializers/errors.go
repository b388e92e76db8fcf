package serializers

import (
	"errors"
	"sort"
	"strings"
)

// NonFieldErrors is the key used for errors that do not belong to a single
// field, such as a malformed request body.
const NonFieldErrors = "non_field_errors"

const (
	msgRequired = "This field is required."
	msgBlank    = "This field may not be blank."
	msgTooLong  = "Ensure this field has no more than 200 characters."
	msgInvalid  = "Invalid value."
)

// ValidationError maps field names to human-readable messages.
type ValidationError struct {
	Fields map[string][]string `json:"fields"`
}

func (e *ValidationError) Error() string {
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+": "+strings.Join(e.Fields[k], " "))
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

func (e *ValidationError) add(field, message string) {
	if e.Fields == nil {
		e.Fields = make(map[string][]string)
	}
	e.Fields[field] = append(e.Fields[field], message)
}

func (e *ValidationError) empty() bool {
	return len(e.Fields) == 0
}

// AsValidationError reports whether err is, or wraps, a *ValidationError.
func AsValidationError(err error) (*ValidationError, bool) {
	var verr *ValidationError
	if errors.As(err, &verr) {
		return verr, true
	}
	return nil, false
}
