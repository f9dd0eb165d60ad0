package knowledge

import (
	"context"
	"errors"
	"math"
	"reflect"
	"strings"
	"testing"

	"mediaminer/internal/dispatch"
	"mediaminer/internal/services"
)

type stubGenerator struct {
	reply dispatch.Result
	err   error
	got   []dispatch.Request
}

func (s *stubGenerator) Generate(_ context.Context, req dispatch.Request) (dispatch.Result, error) {
	s.got = append(s.got, req)
	return s.reply, s.err
}

func TestCleanTranscriptDropsRepeatsAndShortLines(t *testing.T) {
	in := "今天來聊聊投資理財\n嗯\n今天來聊聊投資理財\n[音樂]\n第二段內容比較長一點"
	if got, want := CleanTranscript(in), "今天來聊聊投資理財\n第二段內容比較長一點"; got != want {
		t.Fatalf("CleanTranscript = %q, want %q", got, want)
	}
}

func TestSmartSampleKeepsShortContent(t *testing.T) {
	if got := SmartSample("short", 100); got != "short" {
		t.Fatalf("got %q", got)
	}
	if got := SmartSample("short", 0); got != "short" {
		t.Fatalf("got %q with zero target", got)
	}
}

func TestSmartSampleTakesHeadMiddleTail(t *testing.T) {
	var b strings.Builder
	for i := 0; i < 10; i++ {
		b.WriteString(strings.Repeat(string(rune('a'+i)), 100))
	}

	got := SmartSample(b.String(), 100)

	parts := strings.Split(got, "[...")
	if len(parts) != 3 {
		t.Fatalf("expected 3 parts, got %d: %q", len(parts), got)
	}
	if head := strings.TrimSpace(parts[0]); head != strings.Repeat("a", 50) {
		t.Fatalf("head = %q", head)
	}
	if !strings.HasSuffix(got, strings.Repeat("j", 20)) {
		t.Fatalf("tail missing: %q", got)
	}
	if !strings.Contains(got, strings.Repeat("e", 30)) || strings.Contains(got, "f") {
		t.Fatalf("middle slice wrong: %q", got)
	}
}

func TestSmartSampleCountsRunes(t *testing.T) {
	got := SmartSample(strings.Repeat("字", 300), 100)
	if n := strings.Count(got, "字"); n != 100 {
		t.Fatalf("kept %d runes, want 100", n)
	}
}

func TestMaxTokensFor(t *testing.T) {
	cases := []struct {
		chars, ceiling, want int
	}{
		{5000, 0, 8000},
		{15000, 0, 12000},
		{25000, 0, 15000},
		{25000, 10000, 10000},
		{100, 15000, 8000},
	}
	for _, tc := range cases {
		if got := MaxTokensFor(tc.chars, tc.ceiling); got != tc.want {
			t.Fatalf("MaxTokensFor(%d, %d) = %d, want %d", tc.chars, tc.ceiling, got, tc.want)
		}
	}
}

func TestParseSections(t *testing.T) {
	reply := `[KEYWORDS] 投資, ETF，資產配置, 投資
[SUMMARY] 這集討論長期投資。
[ENTITIES] 台積電、Vanguard
[TAGS] 理財, 投資, 教育, 生活, 財經, 多餘
[GUEST] 王小明
[KNOWLEDGE]
- 定期定額
- [重點] 分散風險`

	k := Parse(reply)
	if want := []string{"投資", "ETF", "資產配置"}; !reflect.DeepEqual(k.Keywords, want) {
		t.Fatalf("keywords = %v", k.Keywords)
	}
	if k.Summary != "這集討論長期投資。" {
		t.Fatalf("summary = %q", k.Summary)
	}
	if want := []string{"台積電", "Vanguard"}; !reflect.DeepEqual(k.Entities, want) {
		t.Fatalf("entities = %v", k.Entities)
	}
	if len(k.Tags) != 5 {
		t.Fatalf("tags = %v", k.Tags)
	}
	if k.Guest != "王小明" {
		t.Fatalf("guest = %q", k.Guest)
	}
	if want := "- 定期定額\n- [重點] 分散風險"; k.Body != want {
		t.Fatalf("body = %q", k.Body)
	}
}

func TestParseNoGuestAndMissingSections(t *testing.T) {
	k := Parse("[SUMMARY] 摘要\n[GUEST] 無")
	if k.Summary != "摘要" || k.Guest != "" || len(k.Keywords) != 0 || k.Body != "" {
		t.Fatalf("parsed = %+v", k)
	}
}

func TestParseWithoutMarkersKeepsBody(t *testing.T) {
	if k := Parse("  just prose  "); k.Body != "just prose" {
		t.Fatalf("body = %q", k.Body)
	}
}

func TestExtractBuildsRequest(t *testing.T) {
	gen := &stubGenerator{reply: dispatch.Result{
		Text:     "[KEYWORDS] a, b\n[SUMMARY] s\n[KNOWLEDGE] k",
		Provider: "cerebras",
		Model:    "m",
	}}
	ex := NewExtractor(gen, WithMaxTokens(9000))

	transcript := "這是一段很長的逐字稿內容\n另一行也很長的內容"
	out, err := ex.Extract(context.Background(), transcript, Source{Title: "標題", Channel: "頻道"})
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if out.Provider != "cerebras" || out.Body != "k" || !reflect.DeepEqual(out.Keywords, []string{"a", "b"}) {
		t.Fatalf("extraction = %+v", out)
	}

	if len(gen.got) != 1 {
		t.Fatalf("requests = %d", len(gen.got))
	}
	req := gen.got[0]
	if req.MaxTokens != 8000 || math.Abs(req.Temperature-Temperature) > 1e-9 || req.SystemPrompt != SystemPrompt {
		t.Fatalf("request = %+v", req)
	}
	for _, want := range []string{"影片標題：標題", "[KNOWLEDGE]", "另一行也很長的內容"} {
		if !strings.Contains(req.Prompt, want) {
			t.Fatalf("prompt missing %q", want)
		}
	}
}

func TestExtractPassesDispatchErrorThrough(t *testing.T) {
	ex := NewExtractor(&stubGenerator{err: dispatch.ErrAllProvidersExhausted})
	_, err := ex.Extract(context.Background(), "一段足夠長的逐字稿內容", Source{})
	if !errors.Is(err, dispatch.ErrAllProvidersExhausted) {
		t.Fatalf("expected exhaustion, got %v", err)
	}
}

func TestExtractRejectsEmptyTranscript(t *testing.T) {
	gen := &stubGenerator{}
	_, err := NewExtractor(gen).Extract(context.Background(), "嗯\n啊", Source{})
	if !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if len(gen.got) != 0 {
		t.Fatalf("empty transcript reached the generator")
	}
}

func TestExtractRejectsUnparseableReply(t *testing.T) {
	gen := &stubGenerator{reply: dispatch.Result{Text: "[TAGS] x", Provider: "p"}}
	_, err := NewExtractor(gen).Extract(context.Background(), "一段足夠長的逐字稿內容", Source{})
	if !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}
