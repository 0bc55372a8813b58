package service

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"image"
	"strconv"
	"strings"
	"time"

	"github.com/bytedance/sonic"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/geon0078/VLM-Ovis/internal/imaging"
	"github.com/geon0078/VLM-Ovis/internal/metrics"
	"github.com/geon0078/VLM-Ovis/internal/models"
	"github.com/geon0078/VLM-Ovis/internal/session"
	"github.com/geon0078/VLM-Ovis/internal/tensor"
)

const (
	sourceModel = "model"
	sourceCache = "cache"
)

type Cache interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key string, value string) error
}

// Analyzer is the loaded model session.
type Analyzer interface {
	Analyze(ctx context.Context, req session.Request) session.Result
	SystemInfo(ctx context.Context) string
	ModelID() string
	Precision() tensor.DType
}

// Input is one analysis request as received from a client. An empty Image
// means nothing was uploaded.
type Input struct {
	Image       []byte
	Prompt      string
	MaxTokens   int
	Temperature float64
	TopP        float64
}

type AnalyzeService struct {
	logger   *zap.SugaredLogger
	analyzer Analyzer
	cache    Cache
	newID    func() string
}

func NewAnalyzeService(logger *zap.SugaredLogger, analyzer Analyzer) *AnalyzeService {
	return &AnalyzeService{
		logger:   logger,
		analyzer: analyzer,
		newID:    func() string { return uuid.NewString() },
	}
}

func (a *AnalyzeService) SetCacheClient(cache Cache) {
	a.cache = cache
}

// Analyze decodes the upload and runs the session. Every outcome, including
// an undecodable upload, is reported in the response rather than as an error.
func (a *AnalyzeService) Analyze(ctx context.Context, in Input) *models.AnalyzeResponse {
	requestID := a.newID()
	log := a.logger.With("request_id", requestID)

	img, res, decoded := a.decode(in.Image)
	if !decoded {
		log.Warnf("upload rejected: %v", res.Err)
		return a.respond(requestID, res)
	}

	key := ""
	if img != nil && in.Temperature == 0 && a.cache != nil {
		key = a.cacheKey(in)
		if resp, ok := a.fromCache(ctx, key); ok {
			log.Info("served from cache")
			resp.RequestID = requestID
			metrics.AnalyzeTotal(resp.Kind, sourceCache)
			return resp
		}
	}

	log.Infof("analyze started, max tokens %d, temperature %.2f", in.MaxTokens, in.Temperature)
	res = a.analyzer.Analyze(ctx, session.Request{
		Image:       img,
		Prompt:      in.Prompt,
		MaxTokens:   in.MaxTokens,
		Temperature: in.Temperature,
		TopP:        in.TopP,
	})

	switch res.Kind {
	case session.KindOK:
		metrics.Generation(res.Stats.Elapsed, res.Stats.OutputTokens, res.Stats.TokensPerSecond())
		log.Infof("analyze finished in %s", res.Stats.Elapsed)
	case session.KindFailure:
		log.Errorf("analyze failed: %v", res.Err)
	}

	resp := a.respond(requestID, res)
	if key != "" && res.OK() {
		a.toCache(ctx, key, resp)
	}
	return resp
}

// decode returns a nil image for an empty upload. When decoding fails the
// failure result is returned with ok set to false.
func (a *AnalyzeService) decode(data []byte) (image.Image, session.Result, bool) {
	if len(data) == 0 {
		return nil, session.Result{}, true
	}

	start := time.Now()
	img, format, err := imaging.Decode(data)
	if format == "" {
		format = "unknown"
	}
	status := "ok"
	if err != nil {
		status = "error"
	}
	metrics.ImageDecodeTotal(status, format)
	metrics.ImageDecodeDuration(status, format, time.Since(start))

	if err != nil {
		return nil, session.Failure(err), false
	}
	return img, session.Result{}, true
}

func (a *AnalyzeService) respond(requestID string, res session.Result) *models.AnalyzeResponse {
	metrics.AnalyzeTotal(string(res.Kind), sourceModel)
	return &models.AnalyzeResponse{
		RequestID: requestID,
		Kind:      string(res.Kind),
		Result:    res.String(),
		Stats:     models.NewAnalyzeStats(res.Stats),
	}
}

func (a *AnalyzeService) fromCache(ctx context.Context, key string) (*models.AnalyzeResponse, bool) {
	cached, found, err := a.cache.Get(ctx, key)
	if err != nil {
		a.logger.Warnf("cache get error: %v", err)
		return nil, false
	}
	if !found {
		return nil, false
	}
	var resp models.AnalyzeResponse
	if err := sonic.UnmarshalString(cached, &resp); err != nil {
		a.logger.Warnf("bad cache entry: %v", err)
		return nil, false
	}
	resp.Cached = true
	return &resp, true
}

func (a *AnalyzeService) toCache(ctx context.Context, key string, resp *models.AnalyzeResponse) {
	data, err := sonic.MarshalString(resp)
	if err != nil {
		a.logger.Warnf("failed to encode cache entry: %v", err)
		return
	}
	if err := a.cache.Set(ctx, key, data); err != nil {
		a.logger.Warnf("failed to set cache: %v", err)
	}
}

// cacheKey covers everything that determines a greedy result.
func (a *AnalyzeService) cacheKey(in Input) string {
	imageSum := sha256.Sum256(in.Image)
	data := []string{
		a.analyzer.ModelID(),
		string(a.analyzer.Precision()),
		hex.EncodeToString(imageSum[:]),
		session.Query(in.Prompt),
		strconv.Itoa(in.MaxTokens),
	}
	hash := sha256.Sum256([]byte(strings.Join(data, "-")))
	return hex.EncodeToString(hash[:])
}

func (a *AnalyzeService) SystemInfo(ctx context.Context) *models.SystemInfoResponse {
	return &models.SystemInfoResponse{
		Info:      a.analyzer.SystemInfo(ctx),
		ModelID:   a.analyzer.ModelID(),
		Precision: string(a.analyzer.Precision()),
	}
}
