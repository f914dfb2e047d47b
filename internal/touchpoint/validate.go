package touchpoint

import (
	"fmt"
	"sort"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

// ValidationError reports why a touchpoint payload was rejected, with one
// entry per offending field.
type ValidationError struct {
	Type   Type
	Errors []FieldError
}

// FieldError is a single validation failure at a specific field.
type FieldError struct {
	Field   string
	Message string
}

func (ve *ValidationError) Error() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "invalid %s input", ve.Type)
	for i, fe := range ve.Errors {
		if i == 0 {
			sb.WriteString(": ")
		} else {
			sb.WriteString("; ")
		}
		if fe.Field != "" {
			fmt.Fprintf(&sb, "%s: %s", fe.Field, fe.Message)
		} else {
			sb.WriteString(fe.Message)
		}
	}
	return sb.String()
}

// JSON Schemas mirroring the input contract of each touchpoint type.
// Additional properties are allowed: the engine injects handle and run_id
// into the stored payload.
var typeSchemas = map[Type]string{
	TypeProfileEnrich: `{
		"type": "object",
		"anyOf": [
			{"required": ["public_identifier"]},
			{"required": ["url"]}
		],
		"properties": {
			"public_identifier": {"type": "string", "minLength": 1},
			"url": {"type": "string", "minLength": 1}
		}
	}`,
	TypeProfileVisit: `{
		"type": "object",
		"required": ["url"],
		"properties": {
			"url": {"type": "string", "minLength": 1},
			"duration_s": {"type": "number", "minimum": 0},
			"scroll_depth": {"type": "integer", "minimum": 0}
		}
	}`,
	TypeConnect: `{
		"type": "object",
		"anyOf": [
			{"required": ["url"]},
			{"required": ["public_identifier"]}
		],
		"properties": {
			"url": {"type": "string", "minLength": 1},
			"public_identifier": {"type": "string", "minLength": 1},
			"note": {"type": "string"}
		}
	}`,
	TypeDirectMessage: `{
		"type": "object",
		"required": ["url", "message"],
		"properties": {
			"url": {"type": "string", "minLength": 1},
			"public_identifier": {"type": "string"},
			"message": {"type": "string", "minLength": 1}
		}
	}`,
	TypePostReact: `{
		"type": "object",
		"required": ["post_url", "reaction"],
		"properties": {
			"post_url": {"type": "string", "minLength": 1},
			"reaction": {"enum": ["LIKE", "CELEBRATE", "SUPPORT", "LOVE", "INSIGHTFUL", "CURIOUS"]}
		}
	}`,
	TypePostComment: `{
		"type": "object",
		"required": ["post_url", "comment_text"],
		"properties": {
			"post_url": {"type": "string", "minLength": 1},
			"comment_text": {"type": "string", "minLength": 1}
		}
	}`,
	TypeInMail: `{
		"type": "object",
		"required": ["profile_url", "body"],
		"properties": {
			"profile_url": {"type": "string", "minLength": 1},
			"subject": {"type": "string"},
			"body": {"type": "string", "minLength": 1}
		}
	}`,
}

var compiledSchemas = mustCompileSchemas()

func mustCompileSchemas() map[Type]*gojsonschema.Schema {
	compiled := make(map[Type]*gojsonschema.Schema, len(typeSchemas))
	for tpType, raw := range typeSchemas {
		schema, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(raw))
		if err != nil {
			panic(fmt.Sprintf("touchpoint: bad schema for %s: %v", tpType, err))
		}
		compiled[tpType] = schema
	}
	return compiled
}

// ExtractType pulls the touchpoint type out of a raw payload.
func ExtractType(input map[string]any) (Type, error) {
	raw, ok := input["type"]
	if !ok {
		return "", &ValidationError{Errors: []FieldError{{Field: "type", Message: "is required"}}}
	}
	str, ok := raw.(string)
	if !ok {
		return "", &ValidationError{Errors: []FieldError{{Field: "type", Message: "must be a string"}}}
	}
	tpType := Type(str)
	if !tpType.Valid() {
		return "", &ValidationError{Errors: []FieldError{{
			Field:   "type",
			Message: fmt.Sprintf("unknown touchpoint type %q", str),
		}}}
	}
	return tpType, nil
}

// ValidateInput checks a touchpoint payload against the schema for its type.
// Returns a *ValidationError on rejection.
func ValidateInput(input map[string]any) (Type, error) {
	tpType, err := ExtractType(input)
	if err != nil {
		return "", err
	}

	result, err := compiledSchemas[tpType].Validate(gojsonschema.NewGoLoader(input))
	if err != nil {
		return "", fmt.Errorf("failed to validate touchpoint input: %w", err)
	}
	if result.Valid() {
		return tpType, nil
	}

	ve := &ValidationError{Type: tpType}
	for _, resErr := range result.Errors() {
		field := resErr.Field()
		if field == "(root)" {
			field = ""
		}
		ve.Errors = append(ve.Errors, FieldError{Field: field, Message: resErr.Description()})
	}
	sort.Slice(ve.Errors, func(i, j int) bool { return ve.Errors[i].Field < ve.Errors[j].Field })
	return "", ve
}
