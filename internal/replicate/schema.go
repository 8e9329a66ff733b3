package replicate

import (
	_ "embed"
	"fmt"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed schemas.yaml
var embeddedSchemas []byte

// Schema maps the proxy's request concepts onto one upstream input schema.
type Schema struct {
	Name               string `yaml:"-"`
	PromptField        string `yaml:"prompt"`
	AspectRatioField   string `yaml:"aspect_ratio"`
	ImageField         string `yaml:"image"`
	ImageAsList        bool   `yaml:"image_list"`
	CountField         string `yaml:"count"`
	MatchInputSentinel string `yaml:"match_input_sentinel"`
}

// ParseSchemas decodes a capability table keyed by schema version.
func ParseSchemas(data []byte) (map[string]Schema, error) {
	var raw map[string]Schema
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to parse schema table: %w", err)
	}
	if len(raw) == 0 {
		return nil, fmt.Errorf("schema table is empty")
	}

	schemas := make(map[string]Schema, len(raw))
	for name, schema := range raw {
		if schema.PromptField == "" {
			return nil, fmt.Errorf("schema %q has no prompt field", name)
		}
		schema.Name = name
		schemas[name] = schema
	}
	return schemas, nil
}

// LookupSchema returns a schema from the embedded table.
func LookupSchema(name string) (Schema, error) {
	schemas, err := ParseSchemas(embeddedSchemas)
	if err != nil {
		return Schema{}, err
	}
	schema, ok := schemas[name]
	if !ok {
		known := make([]string, 0, len(schemas))
		for k := range schemas {
			known = append(known, k)
		}
		sort.Strings(known)
		return Schema{}, fmt.Errorf("unknown input schema %q (known: %s)", name, strings.Join(known, ", "))
	}
	return schema, nil
}

// BuildInput renders the "input" object for one prediction. A reference image
// without an explicit aspect ratio falls back to the match-input sentinel.
func (s Schema) BuildInput(in PredictionInput) map[string]any {
	input := map[string]any{s.PromptField: in.Prompt}

	aspect := strings.TrimSpace(in.AspectRatio)
	imageURL := strings.TrimSpace(in.ReferenceImageURL)
	if imageURL != "" && s.ImageField != "" {
		if s.ImageAsList {
			input[s.ImageField] = []string{imageURL}
		} else {
			input[s.ImageField] = imageURL
		}
		if aspect == "" {
			aspect = s.MatchInputSentinel
		}
	}
	if aspect != "" && s.AspectRatioField != "" {
		input[s.AspectRatioField] = aspect
	}
	// Batches fan out one prediction per image.
	if s.CountField != "" {
		input[s.CountField] = 1
	}
	return input
}
