package backup

import (
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"sort"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
	"github.com/tidwall/jsonc"
)

// ValidationError lists the problems that made a snapshot unacceptable,
// keyed by JSON path.
type ValidationError struct {
	Fields map[string]string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	if e == nil || len(e.Fields) == 0 {
		return "invalid snapshot"
	}
	paths := make([]string, 0, len(e.Fields))
	for path := range e.Fields {
		paths = append(paths, path)
	}
	sort.Strings(paths)
	parts := make([]string, 0, len(paths))
	for _, path := range paths {
		parts = append(parts, path+": "+e.Fields[path])
	}
	return "invalid snapshot: " + strings.Join(parts, "; ")
}

func (e *ValidationError) add(path, message string) {
	if e.Fields == nil {
		e.Fields = make(map[string]string)
	}
	if _, exists := e.Fields[path]; !exists {
		e.Fields[path] = message
	}
}

var (
	validateOnce sync.Once
	validate     *validator.Validate
)

func snapshotValidator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
		validate.RegisterTagNameFunc(func(field reflect.StructField) string {
			name := strings.SplitN(field.Tag.Get("json"), ",", 2)[0]
			if name == "-" {
				return ""
			}
			return name
		})
	})
	return validate
}

// Parse decodes and validates a snapshot. Nothing is returned unless the
// whole document is acceptable.
func Parse(data []byte) (Snapshot, error) {
	var snap Snapshot
	if err := json.Unmarshal(jsonc.ToJSON(data), &snap); err != nil {
		return Snapshot{}, decodeError(err)
	}

	vErr := &ValidationError{}
	if err := snapshotValidator().Struct(snap); err != nil {
		var fieldErrs validator.ValidationErrors
		if !errors.As(err, &fieldErrs) {
			return Snapshot{}, fmt.Errorf("validating snapshot: %w", err)
		}
		for _, fe := range fieldErrs {
			vErr.add(fieldPath(fe.Namespace()), describe(fe))
		}
	}

	seen := make(map[string]bool, len(snap.Customers))
	for i, c := range snap.Customers {
		if c.ID == "" {
			continue
		}
		if seen[c.ID] {
			vErr.add(fmt.Sprintf("customers[%d].id", i), "duplicate id")
		}
		seen[c.ID] = true
	}

	if len(vErr.Fields) > 0 {
		return Snapshot{}, vErr
	}
	return snap, nil
}

func decodeError(err error) error {
	vErr := &ValidationError{}
	var typeErr *json.UnmarshalTypeError
	var syntaxErr *json.SyntaxError
	switch {
	case errors.As(err, &typeErr):
		path := typeErr.Field
		if path == "" {
			path = "body"
		}
		vErr.add(path, "must be "+kindName(typeErr.Type))
	case errors.As(err, &syntaxErr):
		vErr.add("body", fmt.Sprintf("invalid JSON at offset %d", syntaxErr.Offset))
	default:
		vErr.add("body", err.Error())
	}
	return vErr
}

func kindName(t reflect.Type) string {
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	switch t.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Float32, reflect.Float64:
		return "a number"
	case reflect.String:
		return "a string"
	case reflect.Bool:
		return "a boolean"
	case reflect.Slice, reflect.Array:
		return "an array"
	}
	return "an object"
}

// fieldPath drops the root struct name from a validator namespace.
func fieldPath(namespace string) string {
	if i := strings.Index(namespace, "."); i >= 0 {
		return namespace[i+1:]
	}
	return namespace
}

func describe(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "gt":
		return "must be greater than " + fe.Param()
	case "gte":
		return "must be at least " + fe.Param()
	case "oneof":
		return "must be one of: " + fe.Param()
	}
	return "is invalid"
}
