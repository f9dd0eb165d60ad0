package knowledge

import (
	"regexp"
	"strings"
)

// Knowledge is the structured result of one extraction.
type Knowledge struct {
	Keywords []string `yaml:"keywords,omitempty" json:"keywords,omitempty"`
	Summary  string   `yaml:"summary,omitempty" json:"summary,omitempty"`
	Entities []string `yaml:"entities,omitempty" json:"entities,omitempty"`
	Tags     []string `yaml:"tags,omitempty" json:"tags,omitempty"`
	Guest    string   `yaml:"guest,omitempty" json:"guest,omitempty"`
	Body     string   `yaml:"-" json:"knowledge,omitempty"`
}

const (
	maxKeywords = 10
	maxEntities = 8
	maxTags     = 5
)

var markerPattern = regexp.MustCompile(`(?m)^\s*\[(KEYWORDS|SUMMARY|ENTITIES|TAGS|GUEST|KNOWLEDGE)\]\s*`)

// Parse splits a marker-delimited reply. Each section runs until the next
// marker; KNOWLEDGE runs to the end. Unknown or missing sections stay empty.
// A reply without any marker is treated as the knowledge body.
func Parse(text string) Knowledge {
	matches := markerPattern.FindAllStringSubmatchIndex(text, -1)
	if len(matches) == 0 {
		return Knowledge{Body: strings.TrimSpace(text)}
	}

	sections := make(map[string]string, len(matches))
	for i, m := range matches {
		name := text[m[2]:m[3]]
		end := len(text)
		if name != "KNOWLEDGE" && i+1 < len(matches) {
			end = matches[i+1][0]
		}
		if _, exists := sections[name]; exists {
			continue
		}
		sections[name] = strings.TrimSpace(text[m[1]:end])
	}

	return Knowledge{
		Keywords: limit(splitList(sections["KEYWORDS"]), maxKeywords),
		Summary:  sections["SUMMARY"],
		Entities: limit(splitList(sections["ENTITIES"]), maxEntities),
		Tags:     limit(splitList(sections["TAGS"]), maxTags),
		Guest:    cleanGuest(sections["GUEST"]),
		Body:     sections["KNOWLEDGE"],
	}
}

func splitList(value string) []string {
	if value == "" {
		return nil
	}
	fields := strings.FieldsFunc(value, func(r rune) bool {
		return r == ',' || r == '，' || r == '、' || r == '\n'
	})
	out := make([]string, 0, len(fields))
	seen := make(map[string]struct{}, len(fields))
	for _, f := range fields {
		f = strings.Trim(strings.TrimSpace(f), `"'「」-* `)
		if f == "" {
			continue
		}
		if _, dup := seen[f]; dup {
			continue
		}
		seen[f] = struct{}{}
		out = append(out, f)
	}
	return out
}

func limit(values []string, n int) []string {
	if len(values) > n {
		return values[:n]
	}
	return values
}

func cleanGuest(value string) string {
	value = strings.TrimSpace(value)
	switch value {
	case "無", "无", "none", "None", "N/A", "-":
		return ""
	}
	return value
}
