package knowledge

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"mediaminer/internal/dispatch"
	"mediaminer/internal/logging"
	"mediaminer/internal/services"
)

// Temperature used for extraction requests.
const Temperature = 0.3

// SystemPrompt frames every extraction request.
const SystemPrompt = "你是專業的知識提取專家，擅長從逐字稿中提取關鍵資訊與可重用的知識。請嚴格依照指定的段落標記輸出，全部使用台灣繁體中文。"

// Generator is the subset of the dispatcher the extractor needs.
type Generator interface {
	Generate(ctx context.Context, req dispatch.Request) (dispatch.Result, error)
}

// Source describes where a transcript came from.
type Source struct {
	Title    string
	Channel  string
	URL      string
	Duration string
}

// Extraction is a parsed reply plus the provider that produced it.
type Extraction struct {
	Knowledge
	Provider string
	Model    string
	// SampledChars is the transcript length actually sent.
	SampledChars int
}

// Extractor turns transcripts into Knowledge.
type Extractor struct {
	gen         Generator
	sampleChars int
	maxTokens   int
	logger      *slog.Logger
}

// Option configures an Extractor.
type Option func(*Extractor)

// WithSampleChars sets the transcript budget sent to the model.
func WithSampleChars(n int) Option {
	return func(e *Extractor) {
		if n > 0 {
			e.sampleChars = n
		}
	}
}

// WithMaxTokens caps the scaled output budget.
func WithMaxTokens(n int) Option {
	return func(e *Extractor) {
		if n > 0 {
			e.maxTokens = n
		}
	}
}

// WithLogger sets the extractor logger.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Extractor) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// NewExtractor builds an extractor on top of gen.
func NewExtractor(gen Generator, opts ...Option) *Extractor {
	e := &Extractor{
		gen:         gen,
		sampleChars: DefaultSampleChars,
		logger:      logging.NewNop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.logger = logging.NewComponentLogger(e.logger, "knowledge")
	return e
}

// Extract cleans and samples the transcript, dispatches the prompt and parses
// the reply. Dispatch errors are returned unchanged so callers can detect
// exhaustion.
func (e *Extractor) Extract(ctx context.Context, transcript string, src Source) (Extraction, error) {
	cleaned := CleanTranscript(transcript)
	if strings.TrimSpace(cleaned) == "" {
		return Extraction{}, services.Wrap(services.ErrValidation, "knowledge", "extract", "transcript is empty after cleaning", nil)
	}
	cleanedChars := len([]rune(cleaned))
	sampled := SmartSample(cleaned, e.sampleChars)

	req := dispatch.Request{
		Prompt:       BuildPrompt(sampled, src),
		SystemPrompt: SystemPrompt,
		MaxTokens:    MaxTokensFor(cleanedChars, e.maxTokens),
		Temperature:  Temperature,
	}

	logger := logging.WithContext(ctx, e.logger)
	logger.Debug("extracting knowledge",
		logging.String("title", src.Title),
		logging.Int("transcript_chars", cleanedChars),
		logging.Int("max_tokens", req.MaxTokens),
	)

	result, err := e.gen.Generate(ctx, req)
	if err != nil {
		return Extraction{}, err
	}

	parsed := Parse(result.Text)
	if parsed.Body == "" && parsed.Summary == "" && len(parsed.Keywords) == 0 {
		return Extraction{}, services.Wrap(services.ErrValidation, "knowledge", "parse",
			fmt.Sprintf("reply from %s had no recognizable sections", result.Provider), nil)
	}

	logger.Info("knowledge extracted",
		logging.Provider(result.Provider),
		logging.String("title", src.Title),
		logging.Int("keywords", len(parsed.Keywords)),
	)
	return Extraction{
		Knowledge:    parsed,
		Provider:     result.Provider,
		Model:        result.Model,
		SampledChars: len([]rune(sampled)),
	}, nil
}

// BuildPrompt renders the extraction prompt for a sampled transcript.
func BuildPrompt(transcript string, src Source) string {
	var b strings.Builder
	b.WriteString("請分析以下影片逐字稿，並嚴格依照下列段落標記輸出：\n\n")
	fmt.Fprintf(&b, "影片標題：%s\n", orUnknown(src.Title))
	fmt.Fprintf(&b, "頻道：%s\n", orUnknown(src.Channel))
	if src.Duration != "" {
		fmt.Fprintf(&b, "時長：%s\n", src.Duration)
	}
	b.WriteString(`
[KEYWORDS] 5 到 10 個關鍵字，以逗號分隔
[SUMMARY] 一段 100 到 200 字的摘要
[ENTITIES] 提到的人物、公司、產品或地點，以逗號分隔
[TAGS] 3 到 5 個分類標籤，以逗號分隔
[GUEST] 節目來賓姓名，沒有來賓則填「無」
[KNOWLEDGE] 以 Markdown 條列整理的重點知識、方法與可行動建議

逐字稿：
`)
	b.WriteString(transcript)
	return b.String()
}

func orUnknown(value string) string {
	if strings.TrimSpace(value) == "" {
		return "未知"
	}
	return value
}
