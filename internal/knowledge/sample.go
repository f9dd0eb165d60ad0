package knowledge

import (
	"strings"
)

const (
	// DefaultSampleChars is the transcript budget sent to the model.
	DefaultSampleChars = 10000

	headOmission = "\n\n[...中間內容省略...]\n\n"
	tailOmission = "\n\n[...後續內容省略...]\n\n"
)

// CleanTranscript drops repeated lines and lines of five characters or fewer,
// which are mostly subtitle noise.
func CleanTranscript(transcript string) string {
	lines := strings.Split(transcript, "\n")
	seen := make(map[string]struct{}, len(lines))
	kept := make([]string, 0, len(lines))
	for _, line := range lines {
		if _, dup := seen[line]; dup {
			continue
		}
		seen[line] = struct{}{}
		if len([]rune(strings.TrimSpace(line))) <= 5 {
			continue
		}
		kept = append(kept, line)
	}
	return strings.Join(kept, "\n")
}

// SmartSample shortens content to roughly target characters by keeping the
// head (50%), a middle slice starting at the 40% mark (30%) and the tail
// (20%). Content within target is returned unchanged.
func SmartSample(content string, target int) string {
	runes := []rune(content)
	total := len(runes)
	if target <= 0 || total <= target {
		return content
	}

	headLen := target * 5 / 10
	middleLen := target * 3 / 10
	tailLen := target * 2 / 10

	middleStart := total * 4 / 10
	middleEnd := min(middleStart+middleLen, total)

	var b strings.Builder
	b.Grow(target*4 + len(headOmission) + len(tailOmission))
	b.WriteString(string(runes[:headLen]))
	b.WriteString(headOmission)
	b.WriteString(string(runes[middleStart:middleEnd]))
	b.WriteString(tailOmission)
	b.WriteString(string(runes[total-tailLen:]))
	return b.String()
}

// MaxTokensFor scales the output budget with transcript length, capped at
// limit when limit is positive.
func MaxTokensFor(transcriptChars, limit int) int {
	var tokens int
	switch {
	case transcriptChars > 20000:
		tokens = 15000
	case transcriptChars > 10000:
		tokens = 12000
	default:
		tokens = 8000
	}
	if limit > 0 && tokens > limit {
		return limit
	}
	return tokens
}
