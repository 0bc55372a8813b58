package session

import (
	"fmt"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
)

const (
	MissingImageText = "이미지를 업로드해주세요."
	DefaultPrompt    = "이미지를 자세히 설명해주세요."
	ErrorMarker      = "❌ 오류가 발생했습니다: "
)

type Kind string

const (
	KindOK           Kind = "ok"
	KindMissingImage Kind = "missing_image"
	KindFailure      Kind = "failure"
)

const gib = 1024 * 1024 * 1024

type Stats struct {
	Elapsed      time.Duration
	InputTokens  int
	OutputTokens int
	TotalTokens  int
	MemoryUsed   uint64
}

func (s Stats) TokensPerSecond() float64 {
	seconds := s.Elapsed.Seconds()
	if seconds <= 0 {
		return 0
	}
	return float64(s.OutputTokens) / seconds
}

func (s Stats) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "\n⏱️ 처리 시간: %.2f초", s.Elapsed.Seconds())
	fmt.Fprintf(&b, "\n🔢 입력 토큰: %s개", humanize.Comma(int64(s.InputTokens)))
	fmt.Fprintf(&b, "\n📝 생성 토큰: %s개", humanize.Comma(int64(s.OutputTokens)))
	fmt.Fprintf(&b, "\n📊 총 토큰: %s개", humanize.Comma(int64(s.TotalTokens)))
	fmt.Fprintf(&b, "\n⚡ 생성 속도: %.1f tokens/sec", s.TokensPerSecond())
	fmt.Fprintf(&b, "\n💾 사용 메모리: %.2fGB (GPU)", float64(s.MemoryUsed)/gib)
	return b.String()
}

// Result is the outcome of one analysis. Failures are values, not errors.
type Result struct {
	Kind  Kind
	Text  string
	Stats *Stats
	Err   error
}

func MissingImage() Result {
	return Result{Kind: KindMissingImage, Text: MissingImageText}
}

func Failure(err error) Result {
	return Result{Kind: KindFailure, Text: ErrorMarker + err.Error(), Err: err}
}

func (r Result) OK() bool {
	return r.Kind == KindOK
}

// String is what the presentation layer shows verbatim.
func (r Result) String() string {
	if r.Kind == KindOK && r.Stats != nil {
		return r.Text + r.Stats.String()
	}
	return r.Text
}

// StripEcho removes the query when the model repeated it verbatim.
func StripEcho(output, query string) string {
	if query == "" || !strings.Contains(output, query) {
		return output
	}
	return strings.TrimSpace(strings.ReplaceAll(output, query, ""))
}
