// Package vllm serves a checkpoint through an OpenAI-compatible vLLM server.
package vllm

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"image"
	"net/http"
	"strings"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"github.com/openai/openai-go/v3/shared"
	"go.uber.org/zap"

	"github.com/geon0078/VLM-Ovis/internal/imaging"
	"github.com/geon0078/VLM-Ovis/internal/session"
	"github.com/geon0078/VLM-Ovis/internal/tensor"
)

const (
	Name = "vLLM"

	chatTemplate = "<|im_start|>user\n%s<|im_end|>\n<|im_start|>assistant\n"
)

var ErrModelNotServed = errors.New("model is not served by the inference server")

type Loader struct {
	Logger *zap.SugaredLogger
	Client openai.Client
	// RootURL is the server address without the /v1 suffix.
	RootURL    string
	APIKey     string
	ServedName string
	Device     tensor.Device
	Fetcher    Fetcher
	HTTPClient *http.Client
}

func (l *Loader) Load(ctx context.Context, modelID, cacheDir string, dtype tensor.DType) (session.Model, error) {
	served := l.ServedName
	if served == "" {
		served = modelID
	}

	fetcher := l.Fetcher
	if fetcher == nil {
		fetcher = HubFetcher{}
	}
	l.Logger.Infof("fetching checkpoint config for %s", modelID)
	ckpt, err := loadCheckpoint(ctx, fetcher, modelID, cacheDir)
	if err != nil {
		return nil, err
	}

	if err := l.checkServed(ctx, served); err != nil {
		return nil, err
	}

	httpClient := l.HTTPClient
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	r := &routes{http: httpClient, rootURL: l.RootURL, apiKey: l.APIKey, model: served}

	version, err := r.version(ctx)
	if err != nil {
		l.Logger.Warnf("failed to read server version: %v", err)
		version = "unknown"
	}

	dev := l.Device
	if dev == "" {
		dev = tensor.CPU
	}
	l.Logger.Infof("using %s %s for %s (%s)", Name, version, served, ckpt.ModelType)

	return &Model{
		client:  l.Client,
		routes:  r,
		ckpt:    ckpt,
		served:  served,
		version: version,
		device:  dev,
		dtype:   dtype,
	}, nil
}

func (l *Loader) checkServed(ctx context.Context, served string) error {
	page, err := l.Client.Models.List(ctx)
	if err != nil {
		return fmt.Errorf("failed to list served models: %w", err)
	}
	for _, m := range page.Data {
		if m.ID == served {
			return nil
		}
	}
	return fmt.Errorf("%w: %s", ErrModelNotServed, served)
}

type Model struct {
	client  openai.Client
	routes  *routes
	ckpt    *checkpoint
	served  string
	version string
	device  tensor.Device
	dtype   tensor.DType
}

type state struct {
	query        string
	imageURL     string
	maxPartition int
}

// PreprocessInputs tokenizes the templated prompt through the server and
// carries the image as a PNG data URL. The server tiles and normalises the
// image itself, so no pixel values are produced here.

func (m *Model) PreprocessInputs(ctx context.Context, query string, images []image.Image, maxPartition int) (*session.Inputs, error) {
	if len(images) != 1 {
		return nil, fmt.Errorf("expected one image, got %d", len(images))
	}

	prompt := fmt.Sprintf(chatTemplate, query)
	ids, err := m.routes.tokenize(ctx, prompt, false)
	if err != nil {
		return nil, err
	}

	encoded, err := imaging.EncodePNG(imaging.ToRGB(images[0]))
	if err != nil {
		return nil, err
	}

	return &session.Inputs{
		Prompt:   prompt,
		InputIDs: tensor.IDs(ids),
		State: state{
			query:        query,
			imageURL:     "data:image/png;base64," + base64.StdEncoding.EncodeToString(encoded),
			maxPartition: maxPartition,
		},
	}, nil
}

// chatParams builds the completion request. The server applies its own chat
// template and image placeholder, so the query goes without ours.
func (m *Model) chatParams(st state, opts session.GenerateOptions) (openai.ChatCompletionNewParams, []option.RequestOption) {
	text := strings.TrimPrefix(st.query, session.ImagePlaceholder+"\n")

	params := openai.ChatCompletionNewParams{
		Model: shared.ChatModel(m.served),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.UserMessage([]openai.ChatCompletionContentPartUnionParam{
				openai.ImageContentPart(openai.ChatCompletionContentPartImageImageURLParam{
					URL: st.imageURL,
				}),
				openai.TextContentPart(text),
			}),
		},
		MaxCompletionTokens: openai.Int(int64(opts.MaxNewTokens)),
	}

	if opts.DoSample && opts.Temperature != nil && opts.TopP != nil {
		params.Temperature = openai.Float(*opts.Temperature)
		params.TopP = openai.Float(*opts.TopP)
	} else {
		// server default is sampling at 1.0
		params.Temperature = openai.Float(0)
	}

	reqOpts := []option.RequestOption{
		option.WithJSONSet("repetition_penalty", opts.RepetitionPenalty),
		option.WithJSONSet("stop_token_ids", opts.EOSTokenIDs),
		option.WithJSONSet("mm_processor_kwargs", map[string]any{"max_partition": st.maxPartition}),
	}
	return params, reqOpts
}

// Generate runs one chat completion. The reply is tokenized back so the
// session can decode it like any other continuation; the prompt length is
// the server's own count, which includes the image tokens.
func (m *Model) Generate(ctx context.Context, req *session.GenerateRequest) (*session.Generation, error) {
	st, ok := req.State.(state)
	if !ok {
		return nil, errors.New("missing preprocessing state")
	}
	ids, err := req.InputIDs.Int32s()
	if err != nil {
		return nil, err
	}
	if req.AttentionMask != nil && req.AttentionMask.Len() != len(ids) {
		return nil, fmt.Errorf("attention mask has %d positions for %d ids", req.AttentionMask.Len(), len(ids))
	}

	params, reqOpts := m.chatParams(st, req.Options)
	resp, err := m.client.Chat.Completions.New(ctx, params, reqOpts...)
	if err != nil {
		return nil, fmt.Errorf("chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, errors.New("chat completion returned no choices")
	}

	generated, err := m.routes.tokenize(ctx, resp.Choices[0].Message.Content, false)
	if err != nil {
		return nil, err
	}

	out := make([]int32, 0, len(ids)+len(generated))
	out = append(out, ids...)
	return &session.Generation{
		OutputIDs:    append(out, generated...),
		PromptTokens: int(resp.Usage.PromptTokens),
	}, nil
}

func (m *Model) TextTokenizer() session.TextTokenizer { return &textTokenizer{m: m} }

func (m *Model) VisualTokenizer() session.VisualTokenizer {
	return visualTokenizer{device: m.device, dtype: m.dtype}
}

func (m *Model) GenerationConfig() session.GenerationConfig {
	return session.GenerationConfig{EOSTokenIDs: m.ckpt.EOSTokenIDs}
}

func (m *Model) Device() tensor.Device { return m.device }

func (m *Model) Backend() session.BackendInfo {
	return session.BackendInfo{Name: Name, Version: m.version}
}

type textTokenizer struct {
	m *Model
}

func (t *textTokenizer) PadTokenID() int32 { return t.m.ckpt.PadTokenID }

func (t *textTokenizer) Decode(ctx context.Context, ids []int32, skipSpecialTokens bool) (string, error) {
	if skipSpecialTokens {
		kept := make([]int32, 0, len(ids))
		for _, id := range ids {
			if id < 0 || t.m.ckpt.Special[id] {
				continue
			}
			kept = append(kept, id)
		}
		ids = kept
	}
	if len(ids) == 0 {
		return "", nil
	}
	return t.m.routes.detokenize(ctx, ids)
}

type visualTokenizer struct {
	device tensor.Device
	dtype  tensor.DType
}

func (v visualTokenizer) Device() tensor.Device { return v.device }
func (v visualTokenizer) DType() tensor.DType   { return v.dtype }
