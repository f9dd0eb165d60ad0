package knowledge

import (
	"context"
	"log/slog"
	"regexp"
	"strings"
	"unicode"

	"mediaminer/internal/dispatch"
	"mediaminer/internal/logging"
)

const (
	// PolishTemperature is used for the rewrite pass.
	PolishTemperature = 0.2
	// PolishMaxTokens caps the rewrite reply.
	PolishMaxTokens = 8000
	// PolishInputChars is the most transcript text sent for rewriting.
	PolishInputChars = 12000

	polishMinChars = 100

	// PolishSystemPrompt frames every rewrite request.
	PolishSystemPrompt = "你是專業逐字稿處理專家。嚴格遵守規則，特別是保持原語言。"

	polishPrompt = `你是擁有 20 年經驗的專業逐字稿處理專家。

## 任務
將以下自動生成的逐字稿梳理為專業級文本。

## 嚴格規則
1. **保持原語言**：英文內容保持英文，中文內容保持中文，絕不翻譯
2. **合併段落**：將零散的句子片段合併為完整、連貫的句子
3. **添加標點**：為文本添加適當的標點符號（句號、逗號、問號、驚嘆號等）
4. **移除填充詞**：刪除 "um", "uh", "like", "you know", "嗯", "那個", "就是說" 等口語填充詞
5. **保留說話者標記**：若原文有說話者標記（如「主講者:」），保留並統一格式
6. **不得改寫**：不要改寫內容、不要添加內容、不要總結
7. **自然分段**：根據話題轉換或邏輯分段，每段 3-5 句為宜

## 輸出格式
直接輸出梳理後的純文本逐字稿，不加任何標題或說明。

## 待處理逐字稿
`
)

// Language codes returned by DetectLanguage.
const (
	LanguageChinese = "zh"
	LanguageEnglish = "en"
	LanguageUnknown = "unknown"
)

var subtitleMetadata = []*regexp.Regexp{
	regexp.MustCompile(`(?i)^Kind:\s*.+$`),
	regexp.MustCompile(`(?i)^Language:\s*.+$`),
	regexp.MustCompile(`(?i)^WEBVTT$`),
	regexp.MustCompile(`(?i)^NOTE\s*.*$`),
	regexp.MustCompile(`^\d{2}:\d{2}:\d{2}\.\d{3}\s*-->.*$`),
	regexp.MustCompile(`^\d+$`),
	regexp.MustCompile(`(?i)^<c>.*</c>$`),
}

// Taiwan terms for common Simplified Chinese words. Longer keys come first
// where one contains another.
var taiwanTerms = strings.NewReplacer(
	"视频", "影片",
	"软件", "軟體",
	"硬件", "硬體",
	"内存", "記憶體",
	"程序", "程式",
	"信息", "資訊",
	"数据", "資料",
	"网络", "網路",
	"云端", "雲端",
	"用户", "使用者",
	"服务器", "伺服器",
	"文件", "檔案",
	"字节", "位元組",
	"界面", "介面",
	"系统", "系統",
	"质量", "品質",
	"优化", "最佳化",
	"项目", "專案",
	"团队", "團隊",
	"创业", "創業",
	"商业", "商業",
	"营销", "行銷",
	"客户", "客戶",
	"产品", "產品",
	"服务", "服務",
	"技术", "技術",
	"发展", "發展",
)

// StripSubtitleMetadata removes caption headers, cue timings and sequence
// numbers, trims every line and collapses runs of blank lines.
func StripSubtitleMetadata(text string) string {
	lines := strings.Split(text, "\n")
	kept := make([]string, 0, len(lines))
	for _, line := range lines {
		line = strings.TrimSpace(line)
		if line == "" {
			if len(kept) > 0 && kept[len(kept)-1] == "" {
				continue
			}
			kept = append(kept, "")
			continue
		}
		if isSubtitleMetadata(line) {
			continue
		}
		kept = append(kept, line)
	}
	return strings.TrimSpace(strings.Join(kept, "\n"))
}

func isSubtitleMetadata(line string) bool {
	for _, re := range subtitleMetadata {
		if re.MatchString(line) {
			return true
		}
	}
	return false
}

// DetectLanguage reports LanguageChinese when CJK ideographs make up more than
// 30% of the weighted character count. Ideographs count once as word
// characters and once more on their own.
func DetectLanguage(text string) string {
	var words, han int
	for _, r := range text {
		if r >= 0x4e00 && r <= 0x9fff {
			han++
		}
		if unicode.IsLetter(r) || unicode.IsDigit(r) || r == '_' {
			words++
		}
	}
	total := words + han
	if total == 0 {
		return LanguageUnknown
	}
	if float64(han)/float64(total) > 0.3 {
		return LanguageChinese
	}
	return LanguageEnglish
}

// ToTaiwanTraditional replaces common Simplified Chinese terms with their
// Taiwan equivalents.
func ToTaiwanTraditional(text string) string {
	return taiwanTerms.Replace(text)
}

// Polished is the outcome of one Polish call.
type Polished struct {
	Text     string `json:"text"`
	Language string `json:"language"`
	// Provider is empty when the rewrite pass was skipped or rejected.
	Provider string `json:"provider,omitempty"`
}

// Polisher turns raw captions into readable transcript text.
type Polisher struct {
	gen    Generator
	logger *slog.Logger
}

// NewPolisher builds a polisher. A nil gen limits it to local cleanup.
func NewPolisher(gen Generator, logger *slog.Logger) *Polisher {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Polisher{gen: gen, logger: logging.NewComponentLogger(logger, "polish")}
}

// Polish strips caption metadata, optionally asks the model to merge and
// punctuate the text, then maps Chinese output to Taiwan terms. A failed or
// implausibly short rewrite falls back to the cleaned text, so Polish only
// returns an error when ctx is done.
func (p *Polisher) Polish(ctx context.Context, transcript string, useLLM bool) (Polished, error) {
	if strings.TrimSpace(transcript) == "" {
		return Polished{Text: transcript, Language: LanguageUnknown}, nil
	}
	cleaned := StripSubtitleMetadata(transcript)
	if cleaned == "" {
		return Polished{Text: transcript, Language: LanguageUnknown}, nil
	}

	out := Polished{Text: cleaned, Language: DetectLanguage(cleaned)}
	logger := logging.WithContext(ctx, p.logger)
	cleanedChars := len([]rune(cleaned))

	if useLLM && p.gen != nil && cleanedChars > polishMinChars {
		result, err := p.gen.Generate(ctx, dispatch.Request{
			Prompt:       polishPrompt + "\n\n" + truncateRunes(cleaned, PolishInputChars),
			SystemPrompt: PolishSystemPrompt,
			MaxTokens:    PolishMaxTokens,
			Temperature:  PolishTemperature,
		})
		switch {
		case err != nil:
			if ctxErr := ctx.Err(); ctxErr != nil {
				return Polished{}, ctxErr
			}
			logging.WarnWithContext(logger, "transcript rewrite failed; keeping cleaned text", "polish_fallback",
				logging.Error(err),
				logging.String(logging.FieldErrorHint, "run with --no-llm or check provider status"),
			)
		case len([]rune(result.Text))*2 > cleanedChars:
			out.Text = result.Text
			out.Provider = result.Provider
		default:
			logger.Warn("transcript rewrite too short; keeping cleaned text",
				logging.Provider(result.Provider),
				logging.Int("cleaned_chars", cleanedChars),
				logging.Int("rewrite_chars", len([]rune(result.Text))),
			)
		}
	}

	if out.Language == LanguageChinese {
		out.Text = ToTaiwanTraditional(out.Text)
	}
	logger.Info("transcript polished",
		logging.String("language", out.Language),
		logging.Provider(out.Provider),
		logging.Int("chars", len([]rune(out.Text))),
	)
	return out, nil
}

func truncateRunes(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}
