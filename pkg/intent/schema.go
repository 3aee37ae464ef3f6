package intent

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/google/jsonschema-go/jsonschema"
	"github.com/xeipuuv/gojsonschema"
)

// decision is the router's structured reply.
type decision struct {
	Intent  string `json:"intent" jsonschema:"Which generator to use: text, image, or video."`
	Prompt  string `json:"prompt" jsonschema:"A clean standalone prompt to send to the generator."`
	Seconds string `json:"seconds,omitempty" jsonschema:"Video length in seconds. Only when intent is video."`
	Size    string `json:"size,omitempty" jsonschema:"Video resolution. Only when intent is video."`
	Style   string `json:"style,omitempty" jsonschema:"Optional style hint for images, e.g. pixel art or cinematic."`
}

var (
	decisionOnce   sync.Once
	decisionMap    map[string]any
	decisionSchema *gojsonschema.Schema
	decisionErr    error
)

// decisionSchemas returns the strict-mode schema sent to the model and the
// compiled validator for its replies.
func decisionSchemas() (map[string]any, *gojsonschema.Schema, error) {
	decisionOnce.Do(func() {
		s, err := jsonschema.For[decision](nil)
		if err != nil {
			decisionErr = fmt.Errorf("failed to derive decision schema: %w", err)
			return
		}
		s.Properties["intent"].Enum = []any{"text", "image", "video"}
		s.Properties["seconds"].Enum = []any{"4", "8", "12"}
		s.Properties["size"].Enum = []any{"720x1280", "1280x720", "1024x1792", "1792x1024"}

		decisionMap, err = schemaMap(strictSchema(s))
		if err != nil {
			decisionErr = err
			return
		}
		decisionSchema, err = gojsonschema.NewSchema(gojsonschema.NewGoLoader(decisionMap))
		if err != nil {
			decisionErr = fmt.Errorf("failed to compile decision schema: %w", err)
		}
	})
	return decisionMap, decisionSchema, decisionErr
}

// strictSchema rewrites s for strict structured output: objects reject
// unknown keys and list every property as required, with optional ones made
// nullable.
func strictSchema(s *jsonschema.Schema) *jsonschema.Schema {
	if s == nil {
		return nil
	}

	switch s.Type {
	case "array":
		s.Items = strictSchema(s.Items)
	case "object":
		s.AdditionalProperties = &jsonschema.Schema{Not: &jsonschema.Schema{}}

		required := make(map[string]bool, len(s.Required))
		for _, name := range s.Required {
			required[name] = true
		}

		names := s.PropertyOrder
		if len(names) == 0 {
			for name := range s.Properties {
				names = append(names, name)
			}
		}
		for _, name := range names {
			prop, ok := s.Properties[name]
			if !ok {
				continue
			}
			if !required[name] {
				if prop.Type != "" {
					prop.Types = []string{prop.Type, "null"}
					prop.Type = ""
				}
				if len(prop.Enum) > 0 {
					prop.Enum = append(prop.Enum, nil)
				}
				s.Required = append(s.Required, name)
				required[name] = true
			}
			s.Properties[name] = strictSchema(prop)
		}
	}
	return s
}

func schemaMap(s *jsonschema.Schema) (map[string]any, error) {
	data, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("failed to encode schema: %w", err)
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("failed to decode schema: %w", err)
	}
	return m, nil
}

// validate checks doc against schema and joins the violations.
func validate(schema *gojsonschema.Schema, doc string) error {
	result, err := schema.Validate(gojsonschema.NewStringLoader(doc))
	if err != nil {
		return fmt.Errorf("schema validation error: %w", err)
	}
	if result.Valid() {
		return nil
	}
	msgs := make([]string, 0, len(result.Errors()))
	for _, e := range result.Errors() {
		msgs = append(msgs, e.String())
	}
	return fmt.Errorf("schema validation failed: %s", strings.Join(msgs, "; "))
}

// rulesFileSchema constrains the hot-reloadable rules file.
const rulesFileSchema = `{
  "type": "object",
  "additionalProperties": false,
  "properties": {
    "fresh_markers":  {"type": "array", "items": {"type": "string", "minLength": 1}},
    "creation_verbs": {"type": "array", "items": {"type": "string", "minLength": 1}},
    "determiners":    {"type": "array", "items": {"type": "string", "minLength": 1}},
    "modifier_verbs": {"type": "array", "items": {"type": "string", "minLength": 1}},
    "comparatives":   {"type": "array", "items": {"type": "string", "minLength": 1}},
    "anaphora":       {"type": "array", "items": {"type": "string", "minLength": 1}}
  }
}`

var rulesSchema = func() *gojsonschema.Schema {
	s, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(rulesFileSchema))
	if err != nil {
		panic(err)
	}
	return s
}()
