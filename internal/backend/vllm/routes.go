package vllm

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/bytedance/sonic"
)

// routes calls the server endpoints that sit outside the OpenAI API surface.
type routes struct {
	http    *http.Client
	rootURL string
	apiKey  string
	model   string
}

type tokenizeRequest struct {
	Model            string `json:"model"`
	Prompt           string `json:"prompt"`
	AddSpecialTokens bool   `json:"add_special_tokens"`
}

type tokenizeResponse struct {
	Count       int     `json:"count"`
	MaxModelLen int     `json:"max_model_len"`
	Tokens      []int32 `json:"tokens"`
}

type detokenizeRequest struct {
	Model  string  `json:"model"`
	Tokens []int32 `json:"tokens"`
}

type detokenizeResponse struct {
	Prompt string `json:"prompt"`
}

type versionResponse struct {
	Version string `json:"version"`
}

func (r *routes) tokenize(ctx context.Context, text string, addSpecialTokens bool) ([]int32, error) {
	var resp tokenizeResponse
	req := tokenizeRequest{Model: r.model, Prompt: text, AddSpecialTokens: addSpecialTokens}
	if err := r.do(ctx, http.MethodPost, "tokenize", req, &resp); err != nil {
		return nil, err
	}
	return resp.Tokens, nil
}

func (r *routes) detokenize(ctx context.Context, ids []int32) (string, error) {
	var resp detokenizeResponse
	if err := r.do(ctx, http.MethodPost, "detokenize", detokenizeRequest{Model: r.model, Tokens: ids}, &resp); err != nil {
		return "", err
	}
	return resp.Prompt, nil
}

func (r *routes) version(ctx context.Context) (string, error) {
	var resp versionResponse
	if err := r.do(ctx, http.MethodGet, "version", nil, &resp); err != nil {
		return "", err
	}
	return resp.Version, nil
}

func (r *routes) do(ctx context.Context, method, path string, reqData, respData any) error {
	var body io.Reader
	if reqData != nil {
		data, err := sonic.Marshal(reqData)
		if err != nil {
			return fmt.Errorf("marshal %s request: %w", path, err)
		}
		body = bytes.NewReader(data)
	}

	url := strings.TrimRight(r.rootURL, "/") + "/" + path
	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	if r.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+r.apiKey)
	}

	resp, err := r.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s request failed: %w", path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read %s response: %w", path, err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%s: bad status %d: %s", path, resp.StatusCode, strings.TrimSpace(string(data)))
	}
	if err := sonic.Unmarshal(data, respData); err != nil {
		return fmt.Errorf("decode %s response: %w", path, err)
	}
	return nil
}
