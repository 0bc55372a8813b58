package service

import (
	"context"
	"errors"
	"image"
	"image/color"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/geon0078/VLM-Ovis/internal/backend/stub"
	"github.com/geon0078/VLM-Ovis/internal/device"
	"github.com/geon0078/VLM-Ovis/internal/imaging"
	"github.com/geon0078/VLM-Ovis/internal/session"
	"github.com/geon0078/VLM-Ovis/internal/tensor"
)

type fakeAnalyzer struct {
	calls []session.Request
}

func (f *fakeAnalyzer) Analyze(_ context.Context, req session.Request) session.Result {
	f.calls = append(f.calls, req)
	if req.Image == nil {
		return session.MissingImage()
	}
	return session.Result{
		Kind: session.KindOK,
		Text: "빨간 사각형",
		Stats: &session.Stats{
			Elapsed:      2 * time.Second,
			InputTokens:  10,
			OutputTokens: 4,
			TotalTokens:  14,
		},
	}
}

func (f *fakeAnalyzer) SystemInfo(context.Context) string { return "info" }
func (f *fakeAnalyzer) ModelID() string                   { return "AIDC-AI/Ovis2-8B" }
func (f *fakeAnalyzer) Precision() tensor.DType           { return tensor.BFloat16 }

type mapCache struct {
	mu   sync.Mutex
	data map[string]string
	err  error
}

func newMapCache() *mapCache { return &mapCache{data: map[string]string{}} }

func (m *mapCache) Get(_ context.Context, key string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return "", false, m.err
	}
	v, ok := m.data[key]
	return v, ok, nil
}

func (m *mapCache) Set(_ context.Context, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.data[key] = value
	return nil
}

func pngBytes(t *testing.T, c color.RGBA) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 100, 100))
	for y := 0; y < 100; y++ {
		for x := 0; x < 100; x++ {
			img.SetRGBA(x, y, c)
		}
	}
	data, err := imaging.EncodePNG(img)
	require.NoError(t, err)
	return data
}

func newService(a Analyzer) *AnalyzeService {
	s := NewAnalyzeService(zap.NewNop().Sugar(), a)
	n := 0
	s.newID = func() string {
		n++
		return "req-" + strings.Repeat("x", n)
	}
	return s
}

func TestAnalyzeWithoutImage(t *testing.T) {
	a := &fakeAnalyzer{}
	resp := newService(a).Analyze(context.Background(), Input{MaxTokens: 50, TopP: 0.9})

	require.Len(t, a.calls, 1)
	assert.Nil(t, a.calls[0].Image)
	assert.Equal(t, string(session.KindMissingImage), resp.Kind)
	assert.Equal(t, session.MissingImageText, resp.Result)
	assert.Nil(t, resp.Stats)
	assert.Equal(t, "req-x", resp.RequestID)
}

func TestAnalyzeUndecodableUpload(t *testing.T) {
	a := &fakeAnalyzer{}
	resp := newService(a).Analyze(context.Background(), Input{Image: []byte("not an image"), MaxTokens: 50})

	assert.Empty(t, a.calls)
	assert.Equal(t, string(session.KindFailure), resp.Kind)
	assert.True(t, strings.HasPrefix(resp.Result, session.ErrorMarker), resp.Result)
}

func TestAnalyzeOK(t *testing.T) {
	a := &fakeAnalyzer{}
	resp := newService(a).Analyze(context.Background(), Input{
		Image:       pngBytes(t, color.RGBA{R: 255, A: 255}),
		Prompt:      "설명",
		MaxTokens:   100,
		Temperature: 0.5,
		TopP:        0.8,
	})

	require.Len(t, a.calls, 1)
	got := a.calls[0]
	assert.Equal(t, image.Pt(100, 100), got.Image.Bounds().Size())
	assert.Equal(t, "설명", got.Prompt)
	assert.Equal(t, 100, got.MaxTokens)
	assert.Equal(t, 0.5, got.Temperature)
	assert.Equal(t, 0.8, got.TopP)

	assert.Equal(t, string(session.KindOK), resp.Kind)
	assert.True(t, strings.HasPrefix(resp.Result, "빨간 사각형\n⏱️ 처리 시간: 2.00초"), resp.Result)
	require.NotNil(t, resp.Stats)
	assert.Equal(t, 14, resp.Stats.TotalTokens)
	assert.Equal(t, 2.0, resp.Stats.TokensPerSecond)
	assert.False(t, resp.Cached)
}

func TestGreedyResultsAreCached(t *testing.T) {
	a := &fakeAnalyzer{}
	c := newMapCache()
	s := newService(a)
	s.SetCacheClient(c)

	in := Input{Image: pngBytes(t, color.RGBA{B: 255, A: 255}), MaxTokens: 50, TopP: 0.9}
	first := s.Analyze(context.Background(), in)
	second := s.Analyze(context.Background(), in)

	require.Len(t, a.calls, 1)
	assert.False(t, first.Cached)
	assert.True(t, second.Cached)
	assert.Equal(t, first.Result, second.Result)
	assert.NotEqual(t, first.RequestID, second.RequestID)

	in.MaxTokens = 60
	s.Analyze(context.Background(), in)
	require.Len(t, a.calls, 2)
}

func TestSampledResultsAreNotCached(t *testing.T) {
	a := &fakeAnalyzer{}
	c := newMapCache()
	s := newService(a)
	s.SetCacheClient(c)

	in := Input{Image: pngBytes(t, color.RGBA{G: 255, A: 255}), MaxTokens: 50, Temperature: 0.7, TopP: 0.9}
	s.Analyze(context.Background(), in)
	s.Analyze(context.Background(), in)

	require.Len(t, a.calls, 2)
	require.Empty(t, c.data)
}

func TestCacheErrorsFallBackToModel(t *testing.T) {
	a := &fakeAnalyzer{}
	c := newMapCache()
	c.err = errors.New("connection refused")
	s := newService(a)
	s.SetCacheClient(c)

	resp := s.Analyze(context.Background(), Input{Image: pngBytes(t, color.RGBA{R: 9, A: 255}), MaxTokens: 50, TopP: 0.9})
	require.Len(t, a.calls, 1)
	assert.Equal(t, string(session.KindOK), resp.Kind)
}

func TestAnalyzeWithStubSession(t *testing.T) {
	sess, err := session.Load(
		context.Background(),
		zap.NewNop().Sugar(),
		stub.Loader{},
		device.Static{},
		session.Config{ModelID: "AIDC-AI/Ovis2-8B", CacheDir: t.TempDir()},
	)
	require.NoError(t, err)

	s := NewAnalyzeService(zap.NewNop().Sugar(), sess)
	resp := s.Analyze(context.Background(), Input{
		Image:     pngBytes(t, color.RGBA{R: 255, A: 255}),
		MaxTokens: 50,
		TopP:      0.9,
	})
	require.Equal(t, string(session.KindOK), resp.Kind, resp.Result)
	assert.True(t, strings.HasPrefix(resp.Result, "이 이미지는 100x100 크기이며 주로 빨간색으로 채워져 있습니다."))
	assert.Len(t, resp.RequestID, 36)

	info := s.SystemInfo(context.Background())
	assert.Equal(t, "AIDC-AI/Ovis2-8B", info.ModelID)
	assert.Equal(t, "float16", info.Precision)
	assert.Contains(t, info.Info, "🎮 CUDA 사용 가능: No")
}
