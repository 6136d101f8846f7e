package structured

import (
	"encoding/json"
	"fmt"
	"math"
	"strings"
)

// ValidationError represents a validation failure with a field path.
type ValidationError struct {
	Path    string `json:"path"`
	Message string `json:"message"`
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	if e.Path == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Path, e.Message)
}

// ValidationErrors represents multiple validation errors.
type ValidationErrors struct {
	Errors []ValidationError `json:"errors"`
}

// Error implements the error interface.
func (e *ValidationErrors) Error() string {
	if len(e.Errors) == 0 {
		return "validation failed"
	}
	if len(e.Errors) == 1 {
		return e.Errors[0].Error()
	}
	msgs := make([]string, 0, len(e.Errors))
	for i := range e.Errors {
		msgs = append(msgs, e.Errors[i].Error())
	}
	return fmt.Sprintf("validation failed with %d errors: %s", len(e.Errors), strings.Join(msgs, "; "))
}

// Validator validates JSON documents against a JSONSchema.
type Validator struct{}

// NewValidator creates a new Validator.
func NewValidator() *Validator {
	return &Validator{}
}

// Validate checks raw JSON against the schema. It returns a
// *ValidationErrors when the document does not conform.
func (v *Validator) Validate(data []byte, schema *JSONSchema) error {
	if schema == nil {
		return fmt.Errorf("schema cannot be nil")
	}

	var doc any
	if err := json.Unmarshal(data, &doc); err != nil {
		return &ValidationErrors{Errors: []ValidationError{
			{Path: "", Message: fmt.Sprintf("invalid JSON: %v", err)},
		}}
	}

	var errs []ValidationError
	v.validate(doc, schema, "", &errs)
	if len(errs) > 0 {
		return &ValidationErrors{Errors: errs}
	}
	return nil
}

func (v *Validator) validate(doc any, schema *JSONSchema, path string, errs *[]ValidationError) {
	if schema.Type != "" && !typeMatches(doc, schema.Type) {
		*errs = append(*errs, ValidationError{
			Path:    path,
			Message: fmt.Sprintf("expected %s, got %s", schema.Type, jsonTypeName(doc)),
		})
		return
	}

	if len(schema.Enum) > 0 && !enumContains(schema.Enum, doc) {
		*errs = append(*errs, ValidationError{
			Path:    path,
			Message: fmt.Sprintf("value %v is not in enum %v", doc, schema.Enum),
		})
	}

	switch val := doc.(type) {
	case map[string]any:
		v.validateObject(val, schema, path, errs)
	case []any:
		v.validateArray(val, schema, path, errs)
	case string:
		v.validateString(val, schema, path, errs)
	case float64:
		v.validateNumber(val, schema, path, errs)
	}
}

func (v *Validator) validateObject(obj map[string]any, schema *JSONSchema, path string, errs *[]ValidationError) {
	for _, req := range schema.Required {
		if _, ok := obj[req]; !ok {
			*errs = append(*errs, ValidationError{
				Path:    joinPath(path, req),
				Message: "required property is missing",
			})
		}
	}

	for name, value := range obj {
		prop, known := schema.Properties[name]
		if known {
			v.validate(value, prop, joinPath(path, name), errs)
			continue
		}
		if schema.AdditionalProperties != nil && !*schema.AdditionalProperties {
			*errs = append(*errs, ValidationError{
				Path:    joinPath(path, name),
				Message: "additional property is not allowed",
			})
		}
	}
}

func (v *Validator) validateArray(arr []any, schema *JSONSchema, path string, errs *[]ValidationError) {
	if schema.MinItems != nil && len(arr) < *schema.MinItems {
		*errs = append(*errs, ValidationError{
			Path:    path,
			Message: fmt.Sprintf("array has %d items, minimum is %d", len(arr), *schema.MinItems),
		})
	}
	if schema.MaxItems != nil && len(arr) > *schema.MaxItems {
		*errs = append(*errs, ValidationError{
			Path:    path,
			Message: fmt.Sprintf("array has %d items, maximum is %d", len(arr), *schema.MaxItems),
		})
	}
	if schema.Items != nil {
		for i, item := range arr {
			v.validate(item, schema.Items, fmt.Sprintf("%s[%d]", path, i), errs)
		}
	}
}

func (v *Validator) validateString(s string, schema *JSONSchema, path string, errs *[]ValidationError) {
	if schema.MinLength != nil && len(s) < *schema.MinLength {
		*errs = append(*errs, ValidationError{
			Path:    path,
			Message: fmt.Sprintf("string length %d is below minimum %d", len(s), *schema.MinLength),
		})
	}
	if schema.MaxLength != nil && len(s) > *schema.MaxLength {
		*errs = append(*errs, ValidationError{
			Path:    path,
			Message: fmt.Sprintf("string length %d exceeds maximum %d", len(s), *schema.MaxLength),
		})
	}
}

func (v *Validator) validateNumber(n float64, schema *JSONSchema, path string, errs *[]ValidationError) {
	if schema.Type == TypeInteger && n != math.Trunc(n) {
		*errs = append(*errs, ValidationError{
			Path:    path,
			Message: fmt.Sprintf("expected integer, got %v", n),
		})
	}
	if schema.Minimum != nil && n < *schema.Minimum {
		*errs = append(*errs, ValidationError{
			Path:    path,
			Message: fmt.Sprintf("value %v is below minimum %v", n, *schema.Minimum),
		})
	}
	if schema.Maximum != nil && n > *schema.Maximum {
		*errs = append(*errs, ValidationError{
			Path:    path,
			Message: fmt.Sprintf("value %v exceeds maximum %v", n, *schema.Maximum),
		})
	}
}

func typeMatches(doc any, t SchemaType) bool {
	switch t {
	case TypeString:
		_, ok := doc.(string)
		return ok
	case TypeNumber:
		_, ok := doc.(float64)
		return ok
	case TypeInteger:
		n, ok := doc.(float64)
		return ok && n == math.Trunc(n)
	case TypeBoolean:
		_, ok := doc.(bool)
		return ok
	case TypeObject:
		_, ok := doc.(map[string]any)
		return ok
	case TypeArray:
		_, ok := doc.([]any)
		return ok
	}
	return true
}

func jsonTypeName(doc any) string {
	switch doc.(type) {
	case string:
		return "string"
	case float64:
		return "number"
	case bool:
		return "boolean"
	case map[string]any:
		return "object"
	case []any:
		return "array"
	case nil:
		return "null"
	}
	return "unknown"
}

func enumContains(enum []any, value any) bool {
	for _, e := range enum {
		if e == value {
			return true
		}
	}
	return false
}

func joinPath(base, field string) string {
	if base == "" {
		return field
	}
	return base + "." + field
}
