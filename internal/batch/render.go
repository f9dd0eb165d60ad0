package batch

import (
	"bytes"
	"fmt"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"mediaminer/internal/knowledge"
)

const (
	summaryLimit      = 200
	missingTranscript = "_（無逐字稿）_"
	missingKnowledge  = "_（無知識提取結果）_"
)

type frontmatter struct {
	Title       string   `yaml:"title"`
	Source      string   `yaml:"source"`
	Author      string   `yaml:"author"`
	Guest       string   `yaml:"guest,omitempty"`
	URL         string   `yaml:"url,omitempty"`
	Duration    string   `yaml:"duration,omitempty"`
	ContentYear int      `yaml:"content_year,omitempty"`
	ProcessedAt string   `yaml:"processed_at"`
	Provider    string   `yaml:"provider,omitempty"`
	Keywords    []string `yaml:"keywords,flow,omitempty"`
	Summary     string   `yaml:"summary,omitempty"`
	Entities    []string `yaml:"entities,flow,omitempty"`
	Tags        []string `yaml:"tags,flow,omitempty"`
}

// Render produces the converted note: YAML frontmatter followed by the
// transcript and the extracted knowledge.
func Render(note Note, ext knowledge.Extraction, processedAt time.Time) ([]byte, error) {
	fm := frontmatter{
		Title:       note.Title,
		Source:      "youtube",
		Author:      note.Author,
		Guest:       ext.Guest,
		URL:         note.URL,
		Duration:    note.Duration,
		ContentYear: contentYear(note.ProcessedDate),
		ProcessedAt: processedAt.Format("2006-01-02T15:04:05"),
		Provider:    ext.Provider,
		Keywords:    ext.Keywords,
		Summary:     flattenSummary(ext.Summary),
		Entities:    ext.Entities,
		Tags:        ext.Tags,
	}

	var buf bytes.Buffer
	buf.WriteString("---\n")
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(fm); err != nil {
		return nil, fmt.Errorf("encode frontmatter: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("encode frontmatter: %w", err)
	}
	buf.WriteString("---\n\n## 逐字稿全文\n\n")
	buf.WriteString(orPlaceholder(note.Transcript, missingTranscript))
	buf.WriteString("\n\n---\n\n## AI 知識提取\n\n")
	body := ext.Body
	if body == "" {
		body = note.PriorKnowledge
	}
	buf.WriteString(orPlaceholder(body, missingKnowledge))
	buf.WriteString("\n")
	return buf.Bytes(), nil
}

func flattenSummary(summary string) string {
	summary = strings.ReplaceAll(strings.TrimSpace(summary), "\n", " ")
	runes := []rune(summary)
	if len(runes) > summaryLimit {
		return string(runes[:summaryLimit])
	}
	return summary
}

func contentYear(date string) int {
	year, _, ok := strings.Cut(date, "-")
	if !ok {
		return 0
	}
	n, err := strconv.Atoi(year)
	if err != nil {
		return 0
	}
	return n
}

func orPlaceholder(value, placeholder string) string {
	if strings.TrimSpace(value) == "" {
		return placeholder
	}
	return value
}
