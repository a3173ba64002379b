// Package schema checks action parameter schemas and validates the
// parameters a controller sends against them.
package schema

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"neurosdk/pkg/api"

	"github.com/getkin/kin-openapi/openapi3"
	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Outcome is the result of validating one payload.
type Outcome struct {
	Valid   bool
	Reasons []string
}

// Validator is the capability the registry and coordinator need from a
// schema engine. Implementations must be deterministic and safe for
// concurrent use.
type Validator interface {
	// CheckWellFormed reports whether schema can be used at all. It never
	// needs a payload.
	CheckWellFormed(schema []byte) error
	// Validate checks payload, a decoded JSON value, against schema.
	Validate(schema []byte, payload any) Outcome
}

// Error is returned for a schema that is not well-formed.
type Error struct {
	Reason string
	Err    error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("invalid schema: %s: %v", e.Reason, e.Err)
	}
	return "invalid schema: " + e.Reason
}

func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{api.ErrSchema}
	}
	return []error{api.ErrSchema, e.Err}
}

// OpenAPIValidator validates with kin-openapi's openapi3 schema model.
// JSON Schema documents are rewritten into that dialect first (see rewriter).
// Parsed schemas are cached by their bytes.
type OpenAPIValidator struct {
	mu    sync.RWMutex
	cache map[string]*openapi3.Schema
}

// NewOpenAPIValidator creates a validator with an empty cache.
func NewOpenAPIValidator() *OpenAPIValidator {
	return &OpenAPIValidator{cache: make(map[string]*openapi3.Schema)}
}

// Default is shared by components that are not given a validator.
var Default Validator = NewOpenAPIValidator()

func (v *OpenAPIValidator) CheckWellFormed(raw []byte) error {
	_, err := v.load(raw)
	return err
}

func (v *OpenAPIValidator) Validate(raw []byte, payload any) Outcome {
	if isEmpty(raw) {
		return Outcome{Valid: true}
	}
	s, err := v.load(raw)
	if err != nil {
		return Outcome{Reasons: []string{err.Error()}}
	}
	if payload == nil {
		payload = map[string]any{}
	}

	err = s.VisitJSON(payload, openapi3.MultiErrors())
	if err == nil {
		return Outcome{Valid: true}
	}
	return Outcome{Reasons: reasons(err)}
}

func (v *OpenAPIValidator) load(raw []byte) (*openapi3.Schema, error) {
	if isEmpty(raw) {
		return nil, nil
	}
	key := string(raw)

	v.mu.RLock()
	s, ok := v.cache[key]
	v.mu.RUnlock()
	if ok {
		return s, nil
	}

	s, err := parse(raw)
	if err != nil {
		return nil, err
	}

	v.mu.Lock()
	v.cache[key] = s
	v.mu.Unlock()
	return s, nil
}

func parse(raw []byte) (*openapi3.Schema, error) {
	cleaned, err := Rewrite(raw)
	if err != nil {
		return nil, err
	}

	s := openapi3.NewSchema()
	if err := s.UnmarshalJSON(cleaned); err != nil {
		return nil, &Error{Reason: "cannot parse schema", Err: err}
	}
	if err := s.Validate(context.Background()); err != nil {
		return nil, &Error{Reason: "schema rejected", Err: err}
	}
	return s, nil
}

func reasons(err error) []string {
	var out []string
	var walk func(error)
	walk = func(err error) {
		var multi openapi3.MultiError
		if errors.As(err, &multi) {
			for _, e := range multi {
				walk(e)
			}
			return
		}
		var se *openapi3.SchemaError
		if errors.As(err, &se) {
			out = append(out, formatSchemaError(se))
			return
		}
		out = append(out, err.Error())
	}
	walk(err)
	sort.Strings(out)
	return out
}

func formatSchemaError(se *openapi3.SchemaError) string {
	ptr := se.JSONPointer()
	if len(ptr) == 0 {
		return se.Reason
	}
	return "/" + strings.Join(ptr, "/") + ": " + se.Reason
}

func isEmpty(raw []byte) bool {
	t := bytes.TrimSpace(raw)
	return len(t) == 0 || bytes.Equal(t, []byte("null"))
}
