package session

import (
	"context"
	"errors"
	"fmt"
	"image"
	"os"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/geon0078/VLM-Ovis/internal/device"
	"github.com/geon0078/VLM-Ovis/internal/imaging"
	"github.com/geon0078/VLM-Ovis/internal/tensor"
)

const (
	ImagePlaceholder  = "<image>"
	MaxPartition      = 9
	RepetitionPenalty = 1.1
	MaxTokensLimit    = 4096
)

var (
	ErrInvalidMaxTokens   = errors.New("max tokens out of range")
	ErrInvalidTemperature = errors.New("temperature must not be negative")
	ErrInvalidTopP        = errors.New("top-p must be in (0, 1]")
)

type Request struct {
	Image       image.Image
	Prompt      string
	MaxTokens   int
	Temperature float64
	TopP        float64
}

func (r Request) validate() error {
	if r.MaxTokens < 1 || r.MaxTokens > MaxTokensLimit {
		return fmt.Errorf("%w: %d", ErrInvalidMaxTokens, r.MaxTokens)
	}
	if r.Temperature < 0 {
		return fmt.Errorf("%w: %g", ErrInvalidTemperature, r.Temperature)
	}
	if r.Temperature > 0 && (r.TopP <= 0 || r.TopP > 1) {
		return fmt.Errorf("%w: %g", ErrInvalidTopP, r.TopP)
	}
	return nil
}

// Options builds generation options. Sampling parameters are only set when
// temperature is positive; otherwise decoding is greedy.
func (r Request) Options(cfg GenerationConfig, padTokenID int32) GenerateOptions {
	opts := GenerateOptions{
		MaxNewTokens:      r.MaxTokens,
		DoSample:          r.Temperature > 0,
		RepetitionPenalty: RepetitionPenalty,
		EOSTokenIDs:       cfg.EOSTokenIDs,
		PadTokenID:        padTokenID,
		UseCache:          true,
	}
	if opts.DoSample {
		temperature, topP := r.Temperature, r.TopP
		opts.Temperature = &temperature
		opts.TopP = &topP
	}
	return opts
}

// Query prefixes the prompt with the image placeholder, substituting the
// default prompt for a blank one.
func Query(prompt string) string {
	if strings.TrimSpace(prompt) == "" {
		prompt = DefaultPrompt
	}
	return ImagePlaceholder + "\n" + prompt
}

type Config struct {
	ModelID  string
	CacheDir string
}

// Session owns one loaded checkpoint. Analyze calls are serialised.
type Session struct {
	logger   *zap.SugaredLogger
	model    Model
	text     TextTokenizer
	visual   VisualTokenizer
	dtype    tensor.DType
	modelID  string
	cacheDir string
	prober   device.Prober
	slot     *semaphore.Weighted
	now      func() time.Time
}

// Load prepares the cache directory, picks the precision for the local device
// and loads the checkpoint. Any error leaves no session behind.
func Load(ctx context.Context, logger *zap.SugaredLogger, loader Loader, prober device.Prober, cfg Config) (*Session, error) {
	logger.Infof("loading model %s", cfg.ModelID)
	logger.Infof("using cache directory %s", cfg.CacheDir)

	if err := ensureWritable(cfg.CacheDir); err != nil {
		return nil, err
	}

	info, err := prober.Probe(ctx)
	if err != nil {
		logger.Warnf("device probe failed, assuming no accelerator: %v", err)
		info = &device.Info{}
	}
	dtype := device.Precision(info)

	model, err := loader.Load(ctx, cfg.ModelID, cfg.CacheDir, dtype)
	if err != nil {
		return nil, fmt.Errorf("failed to load model %s: %w", cfg.ModelID, err)
	}

	s := New(logger, model, dtype, prober)
	s.modelID = cfg.ModelID
	s.cacheDir = cfg.CacheDir
	logger.Infof("model loaded, precision %s", dtype)
	return s, nil
}

func ensureWritable(dir string) error {
	if dir == "" {
		return errors.New("cache directory is not set")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create cache directory: %w", err)
	}
	f, err := os.CreateTemp(dir, ".write-probe-*")
	if err != nil {
		return fmt.Errorf("cache directory is not writable: %w", err)
	}
	f.Close()
	return os.Remove(f.Name())
}

// New wraps an already loaded model.
func New(logger *zap.SugaredLogger, model Model, dtype tensor.DType, prober device.Prober) *Session {
	return &Session{
		logger: logger,
		model:  model,
		text:   model.TextTokenizer(),
		visual: model.VisualTokenizer(),
		dtype:  dtype,
		prober: prober,
		slot:   semaphore.NewWeighted(1),
		now:    time.Now,
	}
}

func (s *Session) Precision() tensor.DType {
	return s.dtype
}

func (s *Session) ModelID() string {
	return s.modelID
}

// Analyze answers one image question. It never returns an error or panics;
// failures come back as a Result of KindFailure.
func (s *Session) Analyze(ctx context.Context, req Request) (res Result) {
	if req.Image == nil {
		return MissingImage()
	}

	defer func() {
		if r := recover(); r != nil {
			s.logger.Errorf("analyze panic: %v", r)
			res = Failure(fmt.Errorf("%v", r))
		}
	}()

	if err := req.validate(); err != nil {
		return Failure(err)
	}

	if err := s.slot.Acquire(ctx, 1); err != nil {
		return Failure(err)
	}
	defer s.slot.Release(1)

	out, stats, err := s.generate(ctx, req)
	if err != nil {
		s.logger.Errorf("analyze failed: %v", err)
		return Failure(err)
	}
	return Result{Kind: KindOK, Text: out, Stats: stats}
}

func (s *Session) generate(ctx context.Context, req Request) (string, *Stats, error) {
	img := imaging.ToRGB(req.Image)
	query := Query(req.Prompt)

	inputs, err := s.model.PreprocessInputs(ctx, query, []image.Image{img}, MaxPartition)
	if err != nil {
		return "", nil, fmt.Errorf("preprocess failed: %w", err)
	}
	if inputs == nil || inputs.InputIDs == nil {
		return "", nil, errors.New("preprocess returned no input ids")
	}

	padTokenID := s.text.PadTokenID()
	mask, err := inputs.InputIDs.NotEqual(padTokenID)
	if err != nil {
		return "", nil, fmt.Errorf("attention mask: %w", err)
	}

	modelDevice := s.model.Device()
	inputIDs, err := placeBatched(inputs.InputIDs, modelDevice)
	if err != nil {
		return "", nil, err
	}
	mask, err = placeBatched(mask, modelDevice)
	if err != nil {
		return "", nil, err
	}

	genReq := &GenerateRequest{
		InputIDs:      inputIDs,
		AttentionMask: mask,
		Options:       req.Options(s.model.GenerationConfig(), padTokenID),
		State:         inputs.State,
	}
	// backends that preprocess images server-side return no pixel values
	if inputs.PixelValues != nil {
		pixelValues, err := inputs.PixelValues.To(s.visual.Device(), s.visual.DType())
		if err != nil {
			return "", nil, fmt.Errorf("pixel values: %w", err)
		}
		genReq.PixelValues = []*tensor.Tensor{pixelValues}
	}

	promptLen := inputIDs.Shape[1]

	start := s.now()
	gen, err := s.model.Generate(ctx, genReq)
	if err != nil {
		return "", nil, fmt.Errorf("generate failed: %w", err)
	}
	if gen == nil || len(gen.OutputIDs) < promptLen {
		return "", nil, fmt.Errorf("generate returned too few ids for a %d token prompt", promptLen)
	}
	// the prompt ids lead the sequence; only the continuation is decoded
	output, err := s.text.Decode(ctx, gen.OutputIDs[promptLen:], true)
	if err != nil {
		return "", nil, fmt.Errorf("decode failed: %w", err)
	}
	elapsed := s.now().Sub(start)

	inputTokens := promptLen
	if gen.PromptTokens > 0 {
		inputTokens = gen.PromptTokens
	}
	outputTokens := len(gen.OutputIDs) - promptLen
	stats := &Stats{
		Elapsed:      elapsed,
		InputTokens:  inputTokens,
		OutputTokens: outputTokens,
		TotalTokens:  inputTokens + outputTokens,
		MemoryUsed:   s.memoryUsed(ctx),
	}
	s.logger.Infof("generated %d tokens in %s", stats.OutputTokens, elapsed)

	return StripEcho(output, query), stats, nil
}

func placeBatched(t *tensor.Tensor, dev tensor.Device) (*tensor.Tensor, error) {
	batched, err := t.Unsqueeze(0)
	if err != nil {
		return nil, err
	}
	return batched.To(dev, "")
}

// memoryUsed reads accelerator memory from the local prober. With a remote
// inference server this is the memory of this host, not the server's.
func (s *Session) memoryUsed(ctx context.Context) uint64 {
	info, err := s.prober.Probe(ctx)
	if err != nil {
		s.logger.Warnf("memory probe failed: %v", err)
		return 0
	}
	return info.MemoryUsed()
}

// SystemInfo summarises the backend, accelerators and precision for display.
func (s *Session) SystemInfo(ctx context.Context) string {
	backend := s.model.Backend()
	info, err := s.prober.Probe(ctx)
	if err != nil {
		info = &device.Info{}
	}

	lines := []string{
		fmt.Sprintf("🔧 추론 백엔드: %s %s", backend.Name, backend.Version),
		fmt.Sprintf("🎮 CUDA 사용 가능: %s", yesNo(info.Available())),
	}
	if info.Available() {
		lines = append(lines, fmt.Sprintf("📊 GPU 개수: %d", len(info.Accelerators)))
		for _, a := range info.Accelerators {
			lines = append(lines, fmt.Sprintf("  - GPU %d: %s (%.1fGB)", a.Index, a.Name, float64(a.TotalMemory)/gib))
		}
	}
	lines = append(lines, fmt.Sprintf("💾 데이터 타입: %s", s.dtype))
	return strings.Join(lines, "\n")
}

func yesNo(v bool) string {
	if v {
		return "Yes"
	}
	return "No"
}
