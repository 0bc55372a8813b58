package main

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/geon0078/VLM-Ovis/internal/models"
)

func TestAggregateSkipsErrors(t *testing.T) {
	got := aggregate([]BenchResult{
		{Format: "png", Duration: time.Second, Size: 100, OutputTokens: 10, TokensPerSecond: 10},
		{Format: "png", Duration: 3 * time.Second, Size: 300, OutputTokens: 30, TokensPerSecond: 10},
		{Format: "jpg", Err: errors.New("bad status 500")},
	})
	require.Equal(t, map[string]Agg{
		"png": {Count: 2, Total: 4 * time.Second, TotalBytes: 400, TotalTokens: 40, TokensPerSecond: 20},
	}, got)

	require.Equal(t, []string{"png", "2", "2s", "4s", "20", "10.0", "200 B"}, row("png", got["png"]))
}

func TestSend(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		assert.Contains(t, string(body), `"image_base64":"aGk="`)
		_, _ = io.WriteString(w, `{"request_id":"1","kind":"ok","result":"r","stats":{"output_tokens":5,"tokens_per_second":2.5}}`)
	}))
	defer srv.Close()
	endpoint = srv.URL

	resp, err := send(context.Background(), models.AnalyzeRequest{ImageBase64: "aGk="})
	require.NoError(t, err)
	require.Equal(t, "ok", resp.Kind)
	require.Equal(t, 5, resp.Stats.OutputTokens)
}
