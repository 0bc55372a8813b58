package session

import (
	"context"
	"image"

	"github.com/geon0078/VLM-Ovis/internal/tensor"
)

// Model is the pretrained checkpoint the session drives.
type Model interface {
	// PreprocessInputs renders the chat prompt for query, tokenizes it and turns
	// images into pixel values, splitting each into at most maxPartition tiles.
	PreprocessInputs(ctx context.Context, query string, images []image.Image, maxPartition int) (*Inputs, error)
	Generate(ctx context.Context, req *GenerateRequest) (*Generation, error)

	TextTokenizer() TextTokenizer
	VisualTokenizer() VisualTokenizer
	GenerationConfig() GenerationConfig
	Device() tensor.Device
	Backend() BackendInfo
}

type TextTokenizer interface {
	PadTokenID() int32
	Decode(ctx context.Context, ids []int32, skipSpecialTokens bool) (string, error)
}

type VisualTokenizer interface {
	Device() tensor.Device
	DType() tensor.DType
}

type GenerationConfig struct {
	EOSTokenIDs []int32
}

type BackendInfo struct {
	Name    string
	Version string
}

// Loader materialises a checkpoint into cacheDir and returns it ready to serve.
type Loader interface {
	Load(ctx context.Context, modelID, cacheDir string, dtype tensor.DType) (Model, error)
}

type Inputs struct {
	Prompt      string
	InputIDs    *tensor.Tensor
	PixelValues *tensor.Tensor

	// State is carried untouched from PreprocessInputs to Generate.
	State any
}

type GenerateOptions struct {
	MaxNewTokens      int
	DoSample          bool
	Temperature       *float64
	TopP              *float64
	RepetitionPenalty float64
	EOSTokenIDs       []int32
	PadTokenID        int32
	UseCache          bool
}

type GenerateRequest struct {
	// InputIDs and AttentionMask are batched, shape [1, n].
	InputIDs      *tensor.Tensor
	AttentionMask *tensor.Tensor
	PixelValues   []*tensor.Tensor
	Options       GenerateOptions
	State         any
}

// Generation is the result of one Generate call.
type Generation struct {
	// OutputIDs is the full token sequence, prompt ids included.
	OutputIDs []int32
	// PromptTokens is the prompt length as counted by the backend, image
	// tokens included. Zero means the length of the request's InputIDs.
	PromptTokens int
}
