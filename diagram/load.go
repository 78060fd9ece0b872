// ABOUTME: Diagram file loading and saving in YAML and JSON, selected by extension or explicit format.
// ABOUTME: Round-trips node ids, arrow endpoints, and node props so compile-then-decompile is lossless.
package diagram

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Format identifies a diagram serialization format.
type Format string

const (
	FormatYAML Format = "yaml"
	FormatJSON Format = "json"
)

// FormatForPath picks the serialization format from a file extension.
// Unknown extensions default to YAML.
func FormatForPath(path string) Format {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		return FormatJSON
	default:
		return FormatYAML
	}
}

// Parse decodes diagram data in the given format.
func Parse(data []byte, format Format) (*Diagram, error) {
	var d Diagram
	switch format {
	case FormatJSON:
		if err := json.Unmarshal(data, &d); err != nil {
			return nil, fmt.Errorf("parse json diagram: %w", err)
		}
	case FormatYAML:
		if err := yaml.Unmarshal(data, &d); err != nil {
			return nil, fmt.Errorf("parse yaml diagram: %w", err)
		}
	default:
		return nil, fmt.Errorf("unknown diagram format %q", format)
	}
	normalize(&d)
	return &d, nil
}

// Marshal encodes a diagram in the given format.
func Marshal(d *Diagram, format Format) ([]byte, error) {
	switch format {
	case FormatJSON:
		return json.MarshalIndent(d, "", "  ")
	case FormatYAML:
		return yaml.Marshal(d)
	default:
		return nil, fmt.Errorf("unknown diagram format %q", format)
	}
}

// LoadFile reads and parses a diagram file, picking the format from the
// file extension.
func LoadFile(path string) (*Diagram, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read diagram file: %w", err)
	}
	return Parse(data, FormatForPath(path))
}

// SaveFile marshals and writes a diagram, creating parent directories as
// needed. The format is picked from the file extension.
func SaveFile(d *Diagram, path string) error {
	data, err := Marshal(d, FormatForPath(path))
	if err != nil {
		return err
	}
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create diagram dir: %w", err)
		}
	}
	return os.WriteFile(path, data, 0o644)
}

// Convert re-encodes raw diagram data from one format to another.
func Convert(data []byte, from, to Format) ([]byte, error) {
	d, err := Parse(data, from)
	if err != nil {
		return nil, err
	}
	return Marshal(d, to)
}

// normalize fills in arrow ids and packing defaults so downstream code
// never has to special-case missing values. YAML decodes nested maps as
// map[string]any already, so props need no further massaging.
func normalize(d *Diagram) {
	for i := range d.Arrows {
		a := &d.Arrows[i]
		if a.ID == "" {
			a.ID = fmt.Sprintf("arrow_%d", i)
		}
		if a.Packing == "" {
			a.Packing = "pack"
		}
	}
}
