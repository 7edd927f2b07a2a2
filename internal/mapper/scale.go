package mapper

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/victoria-analytics/traitmeter/internal/errors"
)

// Scale is an ordered ordinal response vocabulary, lowest level first.
type Scale struct {
	Labels []string `yaml:"labels"`
}

// LoadScale reads a scale vocabulary from a YAML file.
func LoadScale(path string) (Scale, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Scale{}, errors.NewConfigurationError(
			fmt.Sprintf("failed to read scale file %s", path), err)
	}
	return ParseScale(data)
}

// ParseScale parses and validates a scale vocabulary: at least two unique,
// non-empty labels in ascending order.
func ParseScale(data []byte) (Scale, error) {
	var s Scale
	if err := yaml.Unmarshal(data, &s); err != nil {
		return Scale{}, errors.NewConfigurationError("failed to parse scale file", err)
	}
	if len(s.Labels) < 2 {
		return Scale{}, errors.NewConfigurationError("scale needs at least 2 ordered labels", nil)
	}
	seen := make(map[string]bool, len(s.Labels))
	for _, label := range s.Labels {
		if strings.TrimSpace(label) == "" {
			return Scale{}, errors.NewConfigurationError("scale contains an empty label", nil)
		}
		norm := normalizeLabel(label)
		if seen[norm] {
			return Scale{}, errors.NewConfigurationError(
				fmt.Sprintf("scale label %q duplicates another label", label), nil)
		}
		seen[norm] = true
	}
	return s, nil
}

// DefaultLikertScale returns the 5-level frequency vocabulary used by the
// standard assessment export.
func DefaultLikertScale() Scale {
	return Scale{Labels: []string{
		"Never (0-10%)",
		"Seldom (11-35%)",
		"Sometimes (36-65%)",
		"Often (66-90%)",
		"Always (91-100%)",
	}}
}

// Levels returns the number of ordinal levels in the scale.
func (s Scale) Levels() int { return len(s.Labels) }

// Match resolves a raw response cell to its ordinal code. Exact matches win;
// otherwise a normalized comparison is tried, then a keyword match on the
// leading word of each label ("often" matches "Often (66-90%)"). Returns
// (code, true) on success.
func (s Scale) Match(raw string) (int, bool) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return 0, false
	}

	for i, label := range s.Labels {
		if trimmed == label {
			return i, true
		}
	}

	norm := normalizeLabel(trimmed)
	for i, label := range s.Labels {
		if norm == normalizeLabel(label) {
			return i, true
		}
	}

	for i, label := range s.Labels {
		if norm == leadingWord(normalizeLabel(label)) {
			return i, true
		}
	}

	return 0, false
}

// normalizeLabel lowercases, strips parenthetical qualifiers and collapses
// interior whitespace.
func normalizeLabel(s string) string {
	if open := strings.IndexByte(s, '('); open >= 0 {
		if close := strings.IndexByte(s[open:], ')'); close >= 0 {
			s = s[:open] + s[open+close+1:]
		}
	}
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}

func leadingWord(s string) string {
	if idx := strings.IndexByte(s, ' '); idx >= 0 {
		return s[:idx]
	}
	return s
}
