package knowledge

import (
	"context"
	"strings"
	"testing"

	"mediaminer/internal/dispatch"
)

const captionFile = `WEBVTT
Kind: captions
Language: zh-Hans

1
00:00:01.000 --> 00:00:03.000
我开始思考的一件事是

NOTE generated


2
00:00:03.500 --> 00:00:05.000
<c>ignored cue</c>
这个软件的服务器有什么问题`

func TestStripSubtitleMetadata(t *testing.T) {
	got := StripSubtitleMetadata(captionFile)
	want := "我开始思考的一件事是\n\n这个软件的服务器有什么问题"
	if got != want {
		t.Fatalf("StripSubtitleMetadata = %q, want %q", got, want)
	}
	if got := StripSubtitleMetadata("  kind: subtitles \n\n"); got != "" {
		t.Fatalf("metadata-only input = %q", got)
	}
}

func TestDetectLanguage(t *testing.T) {
	cases := map[string]string{
		"":                           LanguageUnknown,
		"... !!!":                    LanguageUnknown,
		"we talk about investing":    LanguageEnglish,
		"今天聊投資":                      LanguageChinese,
		"ETF is 指數股票型基金":              LanguageChinese,
		"a long english sentence 字": LanguageEnglish,
	}
	for text, want := range cases {
		if got := DetectLanguage(text); got != want {
			t.Fatalf("DetectLanguage(%q) = %q, want %q", text, got, want)
		}
	}
}

func TestToTaiwanTraditionalPrefersLongerTerms(t *testing.T) {
	got := ToTaiwanTraditional("用户的服务器和服务都需要优化")
	if want := "使用者的伺服器和服務都需要最佳化"; got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}

func TestPolishWithoutModelCleansAndConverts(t *testing.T) {
	gen := &stubGenerator{}
	out, err := NewPolisher(gen, nil).Polish(context.Background(), captionFile, false)
	if err != nil {
		t.Fatalf("Polish: %v", err)
	}
	if len(gen.got) != 0 {
		t.Fatal("model called with rewriting disabled")
	}
	if out.Language != LanguageChinese || out.Provider != "" {
		t.Fatalf("polished = %+v", out)
	}
	if !strings.Contains(out.Text, "軟體的伺服器") || strings.Contains(out.Text, "-->") {
		t.Fatalf("text = %q", out.Text)
	}
}

func TestPolishUsesModelRewrite(t *testing.T) {
	long := strings.Repeat("we should talk about long term investing today\n", 5)
	rewrite := strings.ReplaceAll(long, "\n", ". ")
	gen := &stubGenerator{reply: dispatch.Result{Text: rewrite, Provider: "cerebras"}}

	out, err := NewPolisher(gen, nil).Polish(context.Background(), "Kind: captions\n"+long, true)
	if err != nil {
		t.Fatalf("Polish: %v", err)
	}
	if out.Text != rewrite || out.Provider != "cerebras" || out.Language != LanguageEnglish {
		t.Fatalf("polished = %+v", out)
	}
	if len(gen.got) != 1 {
		t.Fatalf("requests = %d", len(gen.got))
	}
	req := gen.got[0]
	if req.MaxTokens != PolishMaxTokens || req.Temperature != PolishTemperature || req.SystemPrompt != PolishSystemPrompt {
		t.Fatalf("request = %+v", req)
	}
	if strings.Contains(req.Prompt, "Kind: captions") || !strings.Contains(req.Prompt, "long term investing") {
		t.Fatalf("prompt = %q", req.Prompt)
	}
}

func TestPolishTruncatesModelInput(t *testing.T) {
	huge := strings.Repeat("龍", PolishInputChars+500)
	gen := &stubGenerator{reply: dispatch.Result{Text: huge, Provider: "p"}}
	if _, err := NewPolisher(gen, nil).Polish(context.Background(), huge, true); err != nil {
		t.Fatalf("Polish: %v", err)
	}
	if n := strings.Count(gen.got[0].Prompt, "龍"); n != PolishInputChars {
		t.Fatalf("sent %d transcript runes, want %d", n, PolishInputChars)
	}
}

func TestPolishFallsBackToCleanedText(t *testing.T) {
	long := strings.Repeat("a sentence about markets and risk\n", 6)
	cleaned := strings.TrimSpace(long)

	cases := map[string]*stubGenerator{
		"error":     {err: dispatch.ErrAllProvidersExhausted},
		"too short": {reply: dispatch.Result{Text: "tiny", Provider: "p"}},
	}
	for name, gen := range cases {
		t.Run(name, func(t *testing.T) {
			out, err := NewPolisher(gen, nil).Polish(context.Background(), long, true)
			if err != nil {
				t.Fatalf("Polish: %v", err)
			}
			if out.Text != cleaned || out.Provider != "" {
				t.Fatalf("polished = %+v", out)
			}
		})
	}
}

func TestPolishSkipsModelForShortText(t *testing.T) {
	gen := &stubGenerator{reply: dispatch.Result{Text: "rewritten", Provider: "p"}}
	out, err := NewPolisher(gen, nil).Polish(context.Background(), "short caption line", true)
	if err != nil {
		t.Fatalf("Polish: %v", err)
	}
	if len(gen.got) != 0 || out.Text != "short caption line" {
		t.Fatalf("polished = %+v after %d requests", out, len(gen.got))
	}
}

func TestPolishReturnsContextError(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	gen := &stubGenerator{err: context.Canceled}
	if _, err := NewPolisher(gen, nil).Polish(ctx, strings.Repeat("words and more words ", 10), true); err == nil {
		t.Fatal("expected context error")
	}
}
