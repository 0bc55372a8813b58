// Package stub is a deterministic in-process model used for development
// without an inference server and in tests.
package stub

import (
	"context"
	"errors"
	"fmt"
	"image"
	"math"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"

	"github.com/bytedance/sonic"

	"github.com/geon0078/VLM-Ovis/internal/imaging"
	"github.com/geon0078/VLM-Ovis/internal/session"
	"github.com/geon0078/VLM-Ovis/internal/tensor"
)

const (
	Name    = "stub"
	Version = "0.1.0"

	PadToken = "<pad>"
	EOSToken = "</s>"
)

type Loader struct{}

func (Loader) Load(_ context.Context, modelID, cacheDir string, dtype tensor.DType) (session.Model, error) {
	if strings.TrimSpace(modelID) == "" {
		return nil, errors.New("model id is empty")
	}
	data, err := sonic.Marshal(map[string]string{"model_id": modelID, "backend": Name})
	if err != nil {
		return nil, err
	}
	if err := os.WriteFile(filepath.Join(cacheDir, "stub_config.json"), data, 0o644); err != nil {
		return nil, fmt.Errorf("failed to write config: %w", err)
	}
	return New(dtype), nil
}

type Model struct {
	tokenizer *Tokenizer
	dtype     tensor.DType
}

func New(dtype tensor.DType) *Model {
	return &Model{tokenizer: NewTokenizer(), dtype: dtype}
}

type state struct {
	size image.Point
}

func (m *Model) PreprocessInputs(_ context.Context, query string, images []image.Image, maxPartition int) (*session.Inputs, error) {
	if len(images) != 1 {
		return nil, fmt.Errorf("expected one image, got %d", len(images))
	}
	tiles, _ := imaging.Partition(images[0], maxPartition)
	pixelValues, err := imaging.PixelValues(tiles)
	if err != nil {
		return nil, err
	}

	return &session.Inputs{
		Prompt:      query,
		InputIDs:    tensor.IDs(m.tokenizer.Encode(query)),
		PixelValues: pixelValues,
		State:       state{size: images[0].Bounds().Size()},
	}, nil
}

// Generate describes the image from the thumbnail tile of the pixel values
// it is given, in whatever precision they were placed.
func (m *Model) Generate(_ context.Context, req *session.GenerateRequest) (*session.Generation, error) {
	st, ok := req.State.(state)
	if !ok {
		return nil, errors.New("missing preprocessing state")
	}
	if len(req.PixelValues) == 0 || req.PixelValues[0] == nil {
		return nil, errors.New("missing pixel values")
	}
	colour, err := dominantColour(req.PixelValues[0])
	if err != nil {
		return nil, err
	}
	ids, err := req.InputIDs.Int32s()
	if err != nil {
		return nil, err
	}

	text := fmt.Sprintf("이 이미지는 %dx%d 크기이며 주로 %s으로 채워져 있습니다.", st.size.X, st.size.Y, colour)
	generated := m.tokenizer.Encode(text)
	limit := req.Options.MaxNewTokens - 1
	if limit < 0 {
		limit = 0
	}
	if len(generated) > limit {
		generated = generated[:limit]
	}
	generated = append(generated, m.tokenizer.EOSTokenID())

	out := make([]int32, 0, len(ids)+len(generated))
	out = append(out, ids...)
	return &session.Generation{OutputIDs: append(out, generated...)}, nil
}

func (m *Model) TextTokenizer() session.TextTokenizer { return m.tokenizer }

func (m *Model) VisualTokenizer() session.VisualTokenizer { return visual{dtype: m.dtype} }

func (m *Model) GenerationConfig() session.GenerationConfig {
	return session.GenerationConfig{EOSTokenIDs: []int32{m.tokenizer.EOSTokenID()}}
}

func (m *Model) Device() tensor.Device { return tensor.CPU }

func (m *Model) Backend() session.BackendInfo {
	return session.BackendInfo{Name: Name, Version: Version}
}

type visual struct {
	dtype tensor.DType
}

func (visual) Device() tensor.Device { return tensor.CPU }
func (v visual) DType() tensor.DType { return v.dtype }

var pieces = regexp.MustCompile(`\s+|[^\s]+`)

// Tokenizer maps whitespace-delimited pieces to ids, growing its vocabulary
// on demand. Decoding concatenates pieces so Encode/Decode round-trips.
type Tokenizer struct {
	mu      sync.Mutex
	ids     map[string]int32
	pieces  []string
	special map[int32]bool
}

func NewTokenizer() *Tokenizer {
	t := &Tokenizer{ids: map[string]int32{}, special: map[int32]bool{}}
	t.special[t.add(PadToken)] = true
	t.special[t.add(EOSToken)] = true
	return t
}

func (t *Tokenizer) add(piece string) int32 {
	if id, ok := t.ids[piece]; ok {
		return id
	}
	id := int32(len(t.pieces))
	t.ids[piece] = id
	t.pieces = append(t.pieces, piece)
	return id
}

func (t *Tokenizer) Encode(text string) []int32 {
	t.mu.Lock()
	defer t.mu.Unlock()

	var out []int32
	for _, p := range pieces.FindAllString(text, -1) {
		out = append(out, t.add(p))
	}
	return out
}

func (t *Tokenizer) Decode(_ context.Context, ids []int32, skipSpecialTokens bool) (string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	var b strings.Builder
	for _, id := range ids {
		if id < 0 || int(id) >= len(t.pieces) {
			return "", fmt.Errorf("unknown token id %d", id)
		}
		if skipSpecialTokens && t.special[id] {
			continue
		}
		b.WriteString(t.pieces[id])
	}
	return b.String(), nil
}

func (t *Tokenizer) PadTokenID() int32 { return 0 }

func (t *Tokenizer) EOSTokenID() int32 { return 1 }

var palette = []struct {
	name    string
	r, g, b float64
}{
	{"빨간색", 220, 40, 40},
	{"주황색", 240, 150, 40},
	{"노란색", 230, 220, 50},
	{"초록색", 40, 180, 60},
	{"파란색", 40, 80, 220},
	{"보라색", 140, 60, 190},
	{"흰색", 245, 245, 245},
	{"회색", 128, 128, 128},
	{"검은색", 15, 15, 15},
}

// dominantColour averages the first tile of a [n, 3, h, w] tensor normalised
// to [-1, 1] and names the nearest palette entry. Letterbox padding is skipped.
func dominantColour(pv *tensor.Tensor) (string, error) {
	if len(pv.Shape) != 4 || pv.Shape[1] != 3 {
		return "", fmt.Errorf("pixel values have shape %v, want [n, 3, h, w]", pv.Shape)
	}
	values, err := pv.Float32s()
	if err != nil {
		return "", err
	}
	plane := pv.Shape[2] * pv.Shape[3]
	step := max(1, plane/4096)

	var r, g, b, n float64
	for p := 0; p < plane; p += step {
		cr, cg, cb := values[p], values[plane+p], values[2*plane+p]
		if cr == -1 && cg == -1 && cb == -1 {
			continue
		}
		r += denormalise(cr)
		g += denormalise(cg)
		b += denormalise(cb)
		n++
	}
	if n == 0 {
		return palette[len(palette)-1].name, nil
	}
	r, g, b = r/n, g/n, b/n

	best, bestDist := "", math.MaxFloat64
	for _, p := range palette {
		d := (p.r-r)*(p.r-r) + (p.g-g)*(p.g-g) + (p.b-b)*(p.b-b)
		if d < bestDist {
			best, bestDist = p.name, d
		}
	}
	return best, nil
}

func denormalise(v float32) float64 {
	return (float64(v)*0.5 + 0.5) * 255
}
