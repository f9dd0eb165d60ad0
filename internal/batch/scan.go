package batch

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/unicode/norm"

	"mediaminer/internal/logging"
)

// Note is one transcript file selected for processing.
type Note struct {
	Path          string
	RelPath       string
	Title         string
	Author        string
	URL           string
	Duration      string
	ProcessedDate string
	Transcript    string
	// PriorKnowledge is an older extraction block found in the note, used
	// when the note has no transcript section.
	PriorKnowledge string
	Hash           string
}

// Text is what gets sent to the extractor.
func (n Note) Text() string {
	if n.Transcript != "" {
		return n.Transcript
	}
	return n.PriorKnowledge
}

// ScanStats counts how the input tree was filtered.
type ScanStats struct {
	Files      int `json:"files"`
	Unique     int `json:"unique"`
	Duplicates int `json:"duplicates"`
	Converted  int `json:"converted"`
	TooShort   int `json:"too_short"`
	Unreadable int `json:"unreadable"`
}

var (
	transcriptHeadings = []*regexp.Regexp{
		regexp.MustCompile(`(?im)^##[ \t]*原始逐字稿[ \t]*\r?\n`),
		regexp.MustCompile(`(?im)^##[ \t]*完整逐字稿[ \t]*\r?\n`),
		regexp.MustCompile(`(?im)^##[ \t]*transcript[ \t]*\r?\n`),
	}
	priorKnowledgePattern = regexp.MustCompile("(?s)## 商業知識提取\\s*```markdown\\s*(.+?)```")
	titlePattern          = regexp.MustCompile(`(?m)^# (.+)$`)
	sourcePattern         = regexp.MustCompile(`\*\*來源\*\*:\s*(.+)`)
	urlPattern            = regexp.MustCompile(`\*\*URL\*\*:\s*(https?://\S+)`)
	durationPattern       = regexp.MustCompile(`\*\*時長\*\*:\s*(\d+:\d+(?::\d+)?)`)
	processedDatePattern  = regexp.MustCompile(`\*\*處理日期\*\*:\s*(\d{4}-\d{2}-\d{2})`)
)

// ParseNote extracts the fields of a legacy transcript note.
func ParseNote(content string) Note {
	var n Note
	if m := titlePattern.FindStringSubmatch(content); m != nil {
		n.Title = strings.TrimSpace(m[1])
	}
	if m := sourcePattern.FindStringSubmatch(content); m != nil {
		parts := strings.Split(m[1], "/")
		if len(parts) >= 2 {
			n.Author = strings.TrimSpace(parts[len(parts)-1])
		}
	}
	if m := urlPattern.FindStringSubmatch(content); m != nil {
		n.URL = m[1]
	}
	if m := durationPattern.FindStringSubmatch(content); m != nil {
		n.Duration = m[1]
	}
	if m := processedDatePattern.FindStringSubmatch(content); m != nil {
		n.ProcessedDate = m[1]
	}
	n.Transcript = extractTranscript(content)
	if m := priorKnowledgePattern.FindStringSubmatch(content); m != nil {
		n.PriorKnowledge = strings.TrimSpace(m[1])
	}
	return n
}

// extractTranscript returns the body of the first recognized transcript
// heading, up to the next level-two heading.
func extractTranscript(content string) string {
	for _, heading := range transcriptHeadings {
		loc := heading.FindStringIndex(content)
		if loc == nil {
			continue
		}
		body := content[loc[1]:]
		if end := strings.Index(body, "\n##"); end >= 0 {
			body = body[:end]
		}
		return strings.TrimSpace(body)
	}
	return ""
}

// alreadyConverted reports whether the note starts with frontmatter that
// carries entities, which only converted notes have.
func alreadyConverted(content string) bool {
	trimmed := strings.TrimSpace(content)
	if !strings.HasPrefix(trimmed, "---") {
		return false
	}
	end := strings.Index(trimmed[3:], "---")
	if end < 0 {
		return false
	}
	return strings.Contains(trimmed[:end+3], "entities:")
}

// ContentHash fingerprints text after Unicode NFC normalization so visually
// identical transcripts collide.
func ContentHash(text string) string {
	sum := sha256.Sum256([]byte(norm.NFC.String(text)))
	return hex.EncodeToString(sum[:])
}

// Scan walks root for Markdown notes and returns the unique, unconverted
// ones ordered by relative path. For duplicate transcripts the longest note
// wins; ties keep the first path in walk order.
func Scan(ctx context.Context, root string, minChars int, logger *slog.Logger) ([]Note, ScanStats, error) {
	var stats ScanStats
	if logger == nil {
		logger = logging.NewNop()
	}

	info, err := os.Stat(root)
	if err != nil {
		return nil, stats, fmt.Errorf("stat input dir: %w", err)
	}
	if !info.IsDir() {
		return nil, stats, fmt.Errorf("input %q is not a directory", root)
	}

	byHash := make(map[string]Note)
	err = filepath.WalkDir(root, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if d.IsDir() || !strings.EqualFold(filepath.Ext(path), ".md") {
			return nil
		}
		stats.Files++

		data, err := os.ReadFile(path)
		if err != nil {
			stats.Unreadable++
			logging.WarnWithContext(logger, "skipping unreadable note", "scan_read_failed",
				logging.String("path", path),
				logging.Error(err),
				logging.String(logging.FieldErrorHint, "check file permissions"),
				logging.String(logging.FieldImpact, "note is left out of this run"),
			)
			return nil
		}
		content := string(data)
		if alreadyConverted(content) {
			stats.Converted++
			return nil
		}

		note := ParseNote(content)
		text := note.Text()
		if text == "" || utf8.RuneCountInString(text) < minChars {
			stats.TooShort++
			return nil
		}

		rel, err := filepath.Rel(root, path)
		if err != nil {
			return fmt.Errorf("relative path for %s: %w", path, err)
		}
		note.Path = path
		note.RelPath = rel
		note.Hash = ContentHash(text)

		if existing, dup := byHash[note.Hash]; dup {
			stats.Duplicates++
			if utf8.RuneCountInString(text) > utf8.RuneCountInString(existing.Text()) {
				byHash[note.Hash] = note
			}
			return nil
		}
		byHash[note.Hash] = note
		return nil
	})
	if err != nil {
		return nil, stats, fmt.Errorf("scan %s: %w", root, err)
	}

	notes := make([]Note, 0, len(byHash))
	for _, n := range byHash {
		notes = append(notes, n)
	}
	sort.Slice(notes, func(i, j int) bool { return notes[i].RelPath < notes[j].RelPath })
	stats.Unique = len(notes)

	logger.Info("input scanned",
		logging.Int("files", stats.Files),
		logging.Int("unique", stats.Unique),
		logging.Int("duplicates", stats.Duplicates),
		logging.Int("converted", stats.Converted),
		logging.Int("too_short", stats.TooShort),
	)
	return notes, stats, nil
}
