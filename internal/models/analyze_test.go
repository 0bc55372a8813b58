package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ptr[T any](v T) *T { return &v }

func TestAnalyzeRequestValidate(t *testing.T) {
	tests := []struct {
		name    string
		gen     *GenerationParams
		wantErr string
	}{
		{name: "no generation"},
		{name: "all set", gen: &GenerationParams{MaxTokens: ptr(50), Temperature: ptr(0.5), TopP: ptr(1.0)}},
		{name: "zero tokens", gen: &GenerationParams{MaxTokens: ptr(0)}, wantErr: "max_tokens"},
		{name: "too many tokens", gen: &GenerationParams{MaxTokens: ptr(5000)}, wantErr: "max_tokens"},
		{name: "negative temperature", gen: &GenerationParams{Temperature: ptr(-0.1)}, wantErr: "temperature"},
		{name: "zero top p", gen: &GenerationParams{TopP: ptr(0.0)}, wantErr: "top_p"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := AnalyzeRequest{Generation: tt.gen}.Validate()
			if tt.wantErr == "" {
				require.NoError(t, err)
				return
			}
			require.ErrorContains(t, err, tt.wantErr)
		})
	}
}

func TestGenerationParamsResolve(t *testing.T) {
	var g *GenerationParams
	maxTokens, temperature, topP := g.Resolve()
	assert.Equal(t, 1024, maxTokens)
	assert.Equal(t, 0.0, temperature)
	assert.Equal(t, 0.9, topP)

	g = &GenerationParams{Temperature: ptr(0.7)}
	maxTokens, temperature, topP = g.Resolve()
	assert.Equal(t, 1024, maxTokens)
	assert.Equal(t, 0.7, temperature)
	assert.Equal(t, 0.9, topP)
}
