// internal/extract/frontmatter.go
package extract

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const frontmatterDelimiter = "---"

// frontmatter is the typed view of the preamble. Every field is
// optional; lenient custom unmarshalers keep a shape mismatch in one
// field from failing the whole document.
type frontmatter struct {
	Title         string         `yaml:"title"`
	Slug          string         `yaml:"slug"`
	Summary       string         `yaml:"summary"`
	Description   string         `yaml:"description"`
	Tags          stringList     `yaml:"tags"`
	Categories    stringList     `yaml:"categories"`
	Status        flexString     `yaml:"status"`
	PublishedAt   flexTime       `yaml:"publishedAt"`
	OgImageURL    string         `yaml:"ogImageUrl"`
	OgImageURLAlt string         `yaml:"og_image_url"`
	Author        authorMeta     `yaml:"author"`
	Attachments   attachmentList `yaml:"attachments"`
}

type authorMeta struct {
	Slug      string `yaml:"slug"`
	Name      string `yaml:"name"`
	Email     string `yaml:"email"`
	AvatarURL string `yaml:"avatarUrl"`
	Github    string `yaml:"github"`
}

type attachmentMeta struct {
	Label string `yaml:"label"`
	URL   string `yaml:"url"`
	Type  string `yaml:"type"`
}

// stringList accepts either a YAML sequence or a comma-separated scalar.
type stringList []string

func (l *stringList) UnmarshalYAML(node *yaml.Node) error {
	switch node.Kind {
	case yaml.SequenceNode:
		var items []string
		for _, child := range node.Content {
			if child.Kind != yaml.ScalarNode {
				continue
			}
			if v := strings.TrimSpace(child.Value); v != "" {
				items = append(items, v)
			}
		}
		*l = items
	case yaml.ScalarNode:
		var items []string
		for _, part := range strings.Split(node.Value, ",") {
			if v := strings.TrimSpace(part); v != "" {
				items = append(items, v)
			}
		}
		*l = items
	default:
		*l = nil
	}
	return nil
}

// flexString accepts any scalar and ignores other shapes.
type flexString string

func (s *flexString) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind == yaml.ScalarNode {
		*s = flexString(node.Value)
	}
	return nil
}

// attachmentList drops entries that are not mappings or that are missing
// either a label or a url.
type attachmentList []attachmentMeta

func (l *attachmentList) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.SequenceNode {
		*l = nil
		return nil
	}
	var items []attachmentMeta
	for _, child := range node.Content {
		if child.Kind != yaml.MappingNode {
			continue
		}
		var item attachmentMeta
		if err := child.Decode(&item); err != nil {
			continue
		}
		if item.Label == "" || item.URL == "" {
			continue
		}
		items = append(items, item)
	}
	*l = items
	return nil
}

// publishedAtLayouts are the accepted timestamp spellings, tried in
// order.
var publishedAtLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
	"2006/01/02",
}

// flexTime accepts a YAML timestamp or any of the accepted string
// layouts. Invalid or missing values stay nil rather than erroring.
type flexTime struct {
	Time *time.Time
}

func (t *flexTime) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.ScalarNode {
		return nil
	}

	var parsed time.Time
	if err := node.Decode(&parsed); err == nil {
		t.Time = &parsed
		return nil
	}

	value := strings.TrimSpace(node.Value)
	for _, layout := range publishedAtLayouts {
		if parsed, err := time.Parse(layout, value); err == nil {
			t.Time = &parsed
			return nil
		}
	}
	return nil
}

// parsedDocument is the outcome of splitting a file into preamble and
// body.
type parsedDocument struct {
	Meta frontmatter
	// Raw is the full preamble payload, retained for audit regardless
	// of which fields were consumed.
	Raw  map[string]any
	Body string
}

// parseDocument splits the file into its frontmatter preamble and body.
// A file with no opening delimiter has an empty preamble. A file that
// opens a preamble but never closes it, or whose preamble is not valid
// YAML, is malformed.
func parseDocument(content string) (parsedDocument, error) {
	normalized := strings.ReplaceAll(content, "\r\n", "\n")
	if !strings.HasPrefix(normalized, frontmatterDelimiter+"\n") {
		return parsedDocument{Body: normalized}, nil
	}

	rest := normalized[len(frontmatterDelimiter)+1:]
	idx := findClosingDelimiter(rest)
	if idx < 0 {
		return parsedDocument{}, errors.New("unterminated frontmatter block")
	}

	block := rest[:idx]
	body := rest[idx:]
	if nl := strings.Index(body, "\n"); nl >= 0 {
		body = body[nl+1:]
	} else {
		body = ""
	}
	body = strings.TrimPrefix(body, "\n")

	var meta frontmatter
	if err := yaml.Unmarshal([]byte(block), &meta); err != nil {
		return parsedDocument{}, fmt.Errorf("invalid frontmatter: %w", err)
	}

	var raw map[string]any
	if err := yaml.Unmarshal([]byte(block), &raw); err != nil {
		return parsedDocument{}, fmt.Errorf("invalid frontmatter: %w", err)
	}

	return parsedDocument{Meta: meta, Raw: raw, Body: body}, nil
}

// findClosingDelimiter returns the offset of the line that closes the
// frontmatter block, or -1.
func findClosingDelimiter(s string) int {
	offset := 0
	for _, line := range strings.Split(s, "\n") {
		if strings.TrimRight(line, " \t") == frontmatterDelimiter {
			return offset
		}
		offset += len(line) + 1
	}
	return -1
}

// sanitizeJSON converts a decoded YAML value into a JSON-safe form:
// timestamps become ISO-8601 strings and non-string map keys are
// stringified.
func sanitizeJSON(value any) any {
	switch v := value.(type) {
	case time.Time:
		return v.Format(time.RFC3339)
	case []any:
		out := make([]any, 0, len(v))
		for _, item := range v {
			out = append(out, sanitizeJSON(item))
		}
		return out
	case map[string]any:
		out := make(map[string]any, len(v))
		for key, item := range v {
			out[key] = sanitizeJSON(item)
		}
		return out
	case map[any]any:
		out := make(map[string]any, len(v))
		for key, item := range v {
			out[fmt.Sprint(key)] = sanitizeJSON(item)
		}
		return out
	default:
		return v
	}
}
