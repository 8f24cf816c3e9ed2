package loop

import (
	"encoding/json"
	"fmt"

	"github.com/invopop/jsonschema"
)

// Schema reflects a JSON schema object from a Go struct, for structured
// output enforcement. Field names come from json tags; required markers,
// descriptions and enums from jsonschema tags:
//
//	type analysis struct {
//		Title string `json:"title" jsonschema:"required,description=Proposed document title"`
//		Notes string `json:"notes,omitempty" jsonschema:"description=Reasoning behind the title"`
//	}
func Schema(v any) (map[string]any, error) {
	reflector := &jsonschema.Reflector{
		RequiredFromJSONSchemaTags: true,
		ExpandedStruct:             true,
		DoNotReference:             true,
	}

	data, err := json.Marshal(reflector.Reflect(v))
	if err != nil {
		return nil, fmt.Errorf("loop: reflect schema: %w", err)
	}

	var schema map[string]any
	if err := json.Unmarshal(data, &schema); err != nil {
		return nil, fmt.Errorf("loop: reflect schema: %w", err)
	}

	// Providers only want the object shape.
	delete(schema, "$schema")
	delete(schema, "$id")
	return schema, nil
}

// MustSchema is Schema for types known at compile time.
func MustSchema(v any) map[string]any {
	schema, err := Schema(v)
	if err != nil {
		panic(err)
	}
	return schema
}
