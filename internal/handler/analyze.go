package handler

import (
	"context"
	"embed"
	"encoding/base64"
	"errors"
	"fmt"
	"html/template"
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"

	"github.com/bytedance/sonic"
	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/geon0078/VLM-Ovis/internal/gallery"
	"github.com/geon0078/VLM-Ovis/internal/models"
	"github.com/geon0078/VLM-Ovis/internal/service"
)

// DefaultUIPrompt prefills the prompt box on the upload page.
const DefaultUIPrompt = "이미지를 한국어로 자세히 설명해주세요."

//go:embed templates/index.html
var templates embed.FS

var indexTemplate = template.Must(template.ParseFS(templates, "templates/index.html"))

type analyzeService interface {
	Analyze(ctx context.Context, in service.Input) *models.AnalyzeResponse
	SystemInfo(ctx context.Context) *models.SystemInfoResponse
}

type AnalyzeHandler struct {
	logger         *zap.SugaredLogger
	service        analyzeService
	examples       []gallery.Example
	maxUploadBytes int64
}

func NewAnalyzeHandler(logger *zap.SugaredLogger, service analyzeService, examples []gallery.Example, maxUploadBytes int64) *AnalyzeHandler {
	return &AnalyzeHandler{
		logger:         logger,
		service:        service,
		examples:       examples,
		maxUploadBytes: maxUploadBytes,
	}
}

// Routes mounts the page, API and gallery routes.
func (h *AnalyzeHandler) Routes(r chi.Router) {
	r.Get("/", h.Index)
	r.Post("/analyze", h.AnalyzeForm)
	r.Post("/api/analyze", h.Analyze)
	r.Get("/api/system", h.System)
	r.Get("/examples/{name}", h.Example)
	r.Get("/healthz", h.Healthz)
}

type pageData struct {
	Prompt      string
	MaxTokens   int
	Temperature float64
	TopP        float64
	Example     string
	Examples    []gallery.Example
	Result      string
	Kind        string
	SystemInfo  string
}

func (h *AnalyzeHandler) page(ctx context.Context) pageData {
	return pageData{
		Prompt:      DefaultUIPrompt,
		MaxTokens:   models.DefaultMaxTokens,
		Temperature: models.DefaultTemperature,
		TopP:        models.DefaultTopP,
		Examples:    h.examples,
		SystemInfo:  h.service.SystemInfo(ctx).Info,
	}
}

func (h *AnalyzeHandler) render(w http.ResponseWriter, data pageData) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := indexTemplate.Execute(w, data); err != nil {
		h.logger.Errorf("failed to render page: %v", err)
	}
}

func (h *AnalyzeHandler) Index(w http.ResponseWriter, r *http.Request) {
	h.render(w, h.page(r.Context()))
}

// AnalyzeForm handles the upload form and re-renders the page with the result.
func (h *AnalyzeHandler) AnalyzeForm(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxUploadBytes)
	if err := r.ParseMultipartForm(h.maxUploadBytes); err != nil && !errors.Is(err, http.ErrNotMultipart) {
		http.Error(w, fmt.Sprintf("invalid form: %s", err), http.StatusBadRequest)
		return
	}

	gen, err := formGeneration(r)
	if err != nil {
		http.Error(w, fmt.Sprintf("request validation failed: %s", err), http.StatusBadRequest)
		return
	}
	req := models.AnalyzeRequest{Prompt: r.FormValue("prompt"), Generation: gen}
	if err := req.Validate(); err != nil {
		http.Error(w, fmt.Sprintf("request validation failed: %s", err), http.StatusBadRequest)
		return
	}

	example := r.FormValue("example")
	data, err := h.upload(r, example)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	maxTokens, temperature, topP := gen.Resolve()
	resp := h.service.Analyze(r.Context(), service.Input{
		Image:       data,
		Prompt:      req.Prompt,
		MaxTokens:   maxTokens,
		Temperature: temperature,
		TopP:        topP,
	})

	page := h.page(r.Context())
	page.Prompt = req.Prompt
	page.MaxTokens = maxTokens
	page.Temperature = temperature
	page.TopP = topP
	page.Example = example
	page.Result = resp.Result
	page.Kind = resp.Kind
	h.render(w, page)
}

// upload reads the uploaded file, or the selected gallery image when no
// file was sent. Nothing selected yields nil.
func (h *AnalyzeHandler) upload(r *http.Request, example string) ([]byte, error) {
	file, _, err := r.FormFile("image")
	switch {
	case err == nil:
		defer file.Close()
		data, err := io.ReadAll(file)
		if err != nil {
			return nil, fmt.Errorf("failed to read upload: %w", err)
		}
		if len(data) > 0 {
			return data, nil
		}
	case !errors.Is(err, http.ErrMissingFile) && !errors.Is(err, http.ErrNotMultipart):
		return nil, fmt.Errorf("invalid upload: %w", err)
	}

	if example == "" {
		return nil, nil
	}
	ex, ok := h.example(example)
	if !ok {
		return nil, fmt.Errorf("unknown example %q", example)
	}
	data, err := os.ReadFile(ex.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to read example: %w", err)
	}
	return data, nil
}

func formGeneration(r *http.Request) (*models.GenerationParams, error) {
	gen := &models.GenerationParams{}
	if v := r.FormValue("max_tokens"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("max_tokens: %w", err)
		}
		gen.MaxTokens = &n
	}
	if v := r.FormValue("temperature"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return nil, fmt.Errorf("temperature: %w", err)
		}
		gen.Temperature = &f
	}
	if v := r.FormValue("top_p"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return nil, fmt.Errorf("top_p: %w", err)
		}
		gen.TopP = &f
	}
	return gen, nil
}

// Analyze godoc
// @Summary Analyze image
// @Description Describe an image or answer a question about it. The image is sent as a base64 string in JSON; a data URL prefix is accepted. Analysis failures are reported in the body with kind "failure".
// @Tags analyze
// @Accept json
// @Produce json
// @Param request body models.AnalyzeRequest true "Analyze request"
// @Success 200 {object} models.AnalyzeResponse
// @Failure 400 {object} models.ErrorResponse
// @Router /api/analyze [post]
func (h *AnalyzeHandler) Analyze(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxUploadBytes)

	var req models.AnalyzeRequest
	if err := sonic.ConfigDefault.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid JSON: %s", err))
		return
	}

	if err := req.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("request validation failed: %s", err))
		return
	}

	data, err := decodeBase64(req.ImageBase64)
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid image_base64: %s", err))
		return
	}

	maxTokens, temperature, topP := req.Generation.Resolve()
	resp := h.service.Analyze(r.Context(), service.Input{
		Image:       data,
		Prompt:      req.Prompt,
		MaxTokens:   maxTokens,
		Temperature: temperature,
		TopP:        topP,
	})
	writeJSON(w, http.StatusOK, resp)
}

func decodeBase64(s string) ([]byte, error) {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "data:") {
		i := strings.Index(s, ";base64,")
		if i < 0 {
			return nil, errors.New("data URL is not base64")
		}
		s = s[i+len(";base64,"):]
	}
	if s == "" {
		return nil, nil
	}
	return base64.StdEncoding.DecodeString(s)
}

// System godoc
// @Summary System information
// @Description Inference backend, accelerators and precision of the loaded model.
// @Tags system
// @Produce json
// @Success 200 {object} models.SystemInfoResponse
// @Router /api/system [get]
func (h *AnalyzeHandler) System(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.service.SystemInfo(r.Context()))
}

func (h *AnalyzeHandler) example(name string) (gallery.Example, bool) {
	for _, ex := range h.examples {
		if ex.Name == name {
			return ex, true
		}
	}
	return gallery.Example{}, false
}

// Example serves gallery images by name; nothing outside the gallery is reachable.
func (h *AnalyzeHandler) Example(w http.ResponseWriter, r *http.Request) {
	ex, ok := h.example(chi.URLParam(r, "name"))
	if !ok {
		http.NotFound(w, r)
		return
	}
	http.ServeFile(w, r, ex.Path)
}

func (h *AnalyzeHandler) Healthz(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = io.WriteString(w, "ok")
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	data, err := sonic.Marshal(v)
	if err != nil {
		http.Error(w, fmt.Sprintf("failed to encode: %s", err), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(data)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, models.ErrorResponse{Error: msg})
}
