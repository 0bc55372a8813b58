package models

import (
	"fmt"

	"github.com/geon0078/VLM-Ovis/internal/session"
)

const (
	DefaultMaxTokens   = 1024
	DefaultTemperature = 0.0
	DefaultTopP        = 0.9
)

// AnalyzeRequest represents request for analyze endpoint
type AnalyzeRequest struct {
	ImageBase64 string `json:"image_base64" example:"iVBORw0KGgoAAAANSUhEUgAA..."`
	Prompt      string `json:"prompt" example:"이미지를 한국어로 자세히 설명해주세요."`

	// Optional generation parameters
	Generation *GenerationParams `json:"generation"`
}

// Validate only checks parameter ranges; a missing image is answered by the session.
func (r AnalyzeRequest) Validate() error {
	if r.Generation == nil {
		return nil
	}
	g := r.Generation
	if g.MaxTokens != nil && (*g.MaxTokens < 1 || *g.MaxTokens > session.MaxTokensLimit) {
		return fmt.Errorf("max_tokens must be in [1, %d]", session.MaxTokensLimit)
	}
	if g.Temperature != nil && *g.Temperature < 0 {
		return fmt.Errorf("temperature must not be negative")
	}
	if g.TopP != nil && (*g.TopP <= 0 || *g.TopP > 1) {
		return fmt.Errorf("top_p must be in (0, 1]")
	}
	return nil
}

// GenerationParams holds optional generation parameters
type GenerationParams struct {
	MaxTokens   *int     `json:"max_tokens" example:"1024" default:"1024"`
	Temperature *float64 `json:"temperature" example:"0" default:"0"`
	TopP        *float64 `json:"top_p" example:"0.9" default:"0.9"`
}

// Resolve fills unset parameters with the UI defaults.
func (g *GenerationParams) Resolve() (maxTokens int, temperature, topP float64) {
	maxTokens, temperature, topP = DefaultMaxTokens, DefaultTemperature, DefaultTopP
	if g == nil {
		return
	}
	if g.MaxTokens != nil {
		maxTokens = *g.MaxTokens
	}
	if g.Temperature != nil {
		temperature = *g.Temperature
	}
	if g.TopP != nil {
		topP = *g.TopP
	}
	return
}

type AnalyzeStats struct {
	ElapsedSeconds  float64 `json:"elapsed_seconds" example:"3.21"`
	InputTokens     int     `json:"input_tokens" example:"1380"`
	OutputTokens    int     `json:"output_tokens" example:"212"`
	TotalTokens     int     `json:"total_tokens" example:"1592"`
	TokensPerSecond float64 `json:"tokens_per_second" example:"66.0"`
	MemoryUsedBytes uint64  `json:"memory_used_bytes" example:"17179869184"`
}

type AnalyzeResponse struct {
	RequestID string        `json:"request_id" example:"7f1c0e9a-5b8e-4f57-9a55-2d1b4c0f3e11"`
	Kind      string        `json:"kind" example:"ok" enums:"ok,missing_image,failure"`
	Result    string        `json:"result"`
	Cached    bool          `json:"cached"`
	Stats     *AnalyzeStats `json:"stats,omitempty"`
}

func NewAnalyzeStats(s *session.Stats) *AnalyzeStats {
	if s == nil {
		return nil
	}
	return &AnalyzeStats{
		ElapsedSeconds:  s.Elapsed.Seconds(),
		InputTokens:     s.InputTokens,
		OutputTokens:    s.OutputTokens,
		TotalTokens:     s.TotalTokens,
		TokensPerSecond: s.TokensPerSecond(),
		MemoryUsedBytes: s.MemoryUsed,
	}
}

type SystemInfoResponse struct {
	Info      string `json:"info"`
	ModelID   string `json:"model_id" example:"AIDC-AI/Ovis2-8B"`
	Precision string `json:"precision" example:"bfloat16"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}
