package vllm

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"

	"github.com/bytedance/sonic"
	"github.com/gomlx/go-huggingface/hub"
)

const (
	configFile           = "config.json"
	generationConfigFile = "generation_config.json"
	tokenizerConfigFile  = "tokenizer_config.json"
)

var checkpointFiles = []string{configFile, generationConfigFile, tokenizerConfigFile}

// Fetcher materialises a checkpoint file into cacheDir and returns its local path.
type Fetcher interface {
	Fetch(ctx context.Context, modelID, cacheDir, name string) (string, error)
}

// HubFetcher downloads from the Hugging Face hub, reusing cached copies.
type HubFetcher struct {
	Token string
}

// Fetch checks ctx before starting; hub downloads take no context, so a
// download already in flight runs to completion.
func (h HubFetcher) Fetch(ctx context.Context, modelID, cacheDir, name string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	repo := hub.New(modelID).WithCacheDir(cacheDir)
	if h.Token != "" {
		repo = repo.WithAuth(h.Token)
	}
	path, err := repo.DownloadFile(name)
	if err != nil {
		return "", fmt.Errorf("failed to download %s from %s: %w", name, modelID, err)
	}
	return path, nil
}

// checkpoint holds what the session needs from the checkpoint's config files.
type checkpoint struct {
	ModelType   string
	EOSTokenIDs []int32
	PadTokenID  int32
	Special     map[int32]bool
}

type rawConfig struct {
	ModelType string `json:"model_type"`
}

type rawGenerationConfig struct {
	EOSTokenID any `json:"eos_token_id"`
	PadTokenID any `json:"pad_token_id"`
}

type addedToken struct {
	Content string `json:"content"`
	Special bool   `json:"special"`
}

type rawTokenizerConfig struct {
	PadToken           any                   `json:"pad_token"`
	AddedTokensDecoder map[string]addedToken `json:"added_tokens_decoder"`
}

func loadCheckpoint(ctx context.Context, fetcher Fetcher, modelID, cacheDir string) (*checkpoint, error) {
	paths := make(map[string]string, len(checkpointFiles))
	for _, name := range checkpointFiles {
		path, err := fetcher.Fetch(ctx, modelID, cacheDir, name)
		if err != nil {
			return nil, err
		}
		paths[name] = path
	}

	var cfg rawConfig
	if err := readJSON(paths[configFile], &cfg); err != nil {
		return nil, err
	}
	var gen rawGenerationConfig
	if err := readJSON(paths[generationConfigFile], &gen); err != nil {
		return nil, err
	}
	var tok rawTokenizerConfig
	if err := readJSON(paths[tokenizerConfigFile], &tok); err != nil {
		return nil, err
	}

	eos, err := tokenIDs(gen.EOSTokenID)
	if err != nil {
		return nil, fmt.Errorf("eos_token_id: %w", err)
	}
	if len(eos) == 0 {
		return nil, errors.New("generation config has no eos_token_id")
	}

	special := make(map[int32]bool)
	byContent := make(map[string]int32)
	for key, t := range tok.AddedTokensDecoder {
		id, err := strconv.ParseInt(key, 10, 32)
		if err != nil {
			return nil, fmt.Errorf("bad added token id %q: %w", key, err)
		}
		byContent[t.Content] = int32(id)
		if t.Special {
			special[int32(id)] = true
		}
	}

	pad, err := padTokenID(tok.PadToken, byContent, gen.PadTokenID)
	if err != nil {
		return nil, err
	}

	return &checkpoint{ModelType: cfg.ModelType, EOSTokenIDs: eos, PadTokenID: pad, Special: special}, nil
}

func readJSON(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", path, err)
	}
	if err := sonic.Unmarshal(data, v); err != nil {
		return fmt.Errorf("failed to parse %s: %w", path, err)
	}
	return nil
}

// tokenIDs accepts a single number or a list of numbers.
func tokenIDs(v any) ([]int32, error) {
	switch t := v.(type) {
	case nil:
		return nil, nil
	case float64:
		return []int32{int32(t)}, nil
	case []any:
		out := make([]int32, 0, len(t))
		for _, item := range t {
			f, ok := item.(float64)
			if !ok {
				return nil, fmt.Errorf("unexpected token id %v", item)
			}
			out = append(out, int32(f))
		}
		return out, nil
	default:
		return nil, fmt.Errorf("unexpected token id type %T", v)
	}
}

// padTokenID resolves the tokenizer's pad token, which is either a string or
// an object with content, falling back to the generation config.
func padTokenID(padToken any, byContent map[string]int32, fallback any) (int32, error) {
	var content string
	switch t := padToken.(type) {
	case string:
		content = t
	case map[string]any:
		content, _ = t["content"].(string)
	}
	if id, ok := byContent[content]; ok && content != "" {
		return id, nil
	}

	ids, err := tokenIDs(fallback)
	if err == nil && len(ids) > 0 {
		return ids[0], nil
	}
	return 0, fmt.Errorf("cannot resolve pad token %q", content)
}
