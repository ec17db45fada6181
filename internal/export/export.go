// Package export converts documents to and from portable formats.
package export

import (
	"encoding/json"
	"fmt"
	"strings"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"gopkg.in/yaml.v3"

	"github.com/starford/minicycle/internal/apperr"
	"github.com/starford/minicycle/internal/migrate"
	"github.com/starford/minicycle/internal/models"
)

// Format names an export encoding.
type Format string

const (
	FormatJSON     Format = "json"
	FormatYAML     Format = "yaml"
	FormatMarkdown Format = "markdown"
)

// ParseFormat accepts a format name, case-insensitively. "yml" and "md" are
// accepted as aliases.
func ParseFormat(s string) (Format, error) {
	f := Format(strings.ToLower(strings.TrimSpace(s)))
	switch f {
	case "yml":
		f = FormatYAML
	case "md":
		f = FormatMarkdown
	}
	if err := validation.Validate(f, validation.Required, validation.In(FormatJSON, FormatYAML, FormatMarkdown)); err != nil {
		return "", fmt.Errorf("export: format %q: %w", s, err)
	}
	return f, nil
}

// Encode writes doc in format f. Markdown exports only the active cycle.
func Encode(doc *models.Document, f Format) ([]byte, error) {
	switch f {
	case FormatJSON:
		b, err := json.MarshalIndent(doc, "", "  ")
		if err != nil {
			return nil, fmt.Errorf("export: json: %w: %w", apperr.ErrSerialization, err)
		}
		return append(b, '\n'), nil
	case FormatYAML:
		return encodeYAML(doc)
	case FormatMarkdown:
		c := doc.ActiveCycle()
		if c == nil {
			return nil, fmt.Errorf("export: markdown: no active cycle: %w", apperr.ErrNotFound)
		}
		return EncodeCycle(c)
	default:
		return nil, fmt.Errorf("export: unknown format %q", f)
	}
}

// Decode reads a whole document in format f. The result has been repaired
// and validated like data loaded from storage.
func Decode(raw []byte, f Format) (*models.Document, migrate.Report, error) {
	switch f {
	case FormatJSON:
		return migrate.Decode(raw)
	case FormatYAML:
		b, err := yamlToJSON(raw)
		if err != nil {
			return nil, migrate.Report{}, err
		}
		return migrate.Decode(b)
	case FormatMarkdown:
		return nil, migrate.Report{}, fmt.Errorf("export: markdown holds a single cycle, use DecodeCycle")
	default:
		return nil, migrate.Report{}, fmt.Errorf("export: unknown format %q", f)
	}
}

// encodeYAML goes through the JSON form so YAML keys match the wire format.
func encodeYAML(doc *models.Document) ([]byte, error) {
	b, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("export: yaml: %w: %w", apperr.ErrSerialization, err)
	}
	var tree map[string]any
	if err := json.Unmarshal(b, &tree); err != nil {
		return nil, fmt.Errorf("export: yaml: %w: %w", apperr.ErrSerialization, err)
	}
	out, err := yaml.Marshal(tree)
	if err != nil {
		return nil, fmt.Errorf("export: yaml: %w: %w", apperr.ErrSerialization, err)
	}
	return out, nil
}

func yamlToJSON(raw []byte) ([]byte, error) {
	var tree map[string]any
	if err := yaml.Unmarshal(raw, &tree); err != nil {
		return nil, fmt.Errorf("export: yaml: %w: %w", apperr.ErrSerialization, err)
	}
	b, err := json.Marshal(tree)
	if err != nil {
		return nil, fmt.Errorf("export: yaml: %w: %w", apperr.ErrSerialization, err)
	}
	return b, nil
}
