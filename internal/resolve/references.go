package resolve

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"os"
)

// defaultMapping is the versioned static override table produced offline by
// the image-similarity matcher. It covers legacy references the live join
// cannot, and is data by design: environments swap it out via
// LoadOverridesFile rather than editing code.
//
//go:embed mapping.json
var defaultMapping []byte

// ImageRefs resolves legacy image-reference values (character, background,
// frame, passname ids) to target image ids.
//
// Resolution order: the join-derived mapping first, the static override
// table second, and otherwise the original value passes through unchanged.
// Unresolved references are best-effort, never fatal.
type ImageRefs struct {
	join      map[string]string
	overrides map[string]string
}

// NewImageRefs builds a resolver from a join-derived mapping and an override
// table. Either map may be nil.
func NewImageRefs(join, overrides map[string]string) *ImageRefs {
	return &ImageRefs{join: join, overrides: overrides}
}

// Resolve maps one reference value. Empty values pass through untouched.
func (r *ImageRefs) Resolve(value string) string {
	if value == "" {
		return value
	}
	if id, ok := r.join[value]; ok {
		return id
	}
	if id, ok := r.overrides[value]; ok {
		return id
	}
	return value
}

// EmbeddedOverrides parses the override table shipped with the binary.
func EmbeddedOverrides() (map[string]string, error) {
	return parseOverrides(defaultMapping)
}

// LoadOverridesFile parses an override table from a JSON file with the same
// old-id -> new-id shape as the embedded one.
func LoadOverridesFile(path string) (map[string]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read override mapping: %w", err)
	}
	return parseOverrides(data)
}

func parseOverrides(data []byte) (map[string]string, error) {
	var mapping map[string]string
	if err := json.Unmarshal(data, &mapping); err != nil {
		return nil, fmt.Errorf("failed to parse override mapping: %w", err)
	}
	return mapping, nil
}
