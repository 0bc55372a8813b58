package config

import (
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

const (
	BackendVLLM = "vllm"
	BackendStub = "stub"
)

type Config struct {
	Server      ServerConfig
	Model       ModelConfig
	Inference   InferenceConfig
	RedisConfig RedisConfig
	Gallery     GalleryConfig
	Log         LogConfig
	CacheEnable bool `env:"CACHE_ENABLE"`
}

type ServerConfig struct {
	Host            string        `env:"SERVER_HOST" envDefault:"0.0.0.0"`
	Port            string        `env:"SERVER_PORT" envDefault:"7860"`
	Timeout         time.Duration `env:"SERVER_TIMEOUT" envDefault:"5m"`
	ShutdownTimeout time.Duration `env:"SERVER_SHUTDOWN_TIMEOUT" envDefault:"10s"`
	ThrottleLimit   int           `env:"SERVER_THROTTLE_LIMIT" envDefault:"8"`
	MaxUploadBytes  int64         `env:"SERVER_MAX_UPLOAD_BYTES" envDefault:"33554432"`
}

func (s ServerConfig) Addr() string {
	return s.Host + ":" + s.Port
}

type ModelConfig struct {
	ID       string `env:"MODEL_ID" envDefault:"AIDC-AI/Ovis2-8B"`
	CacheDir string `env:"MODEL_CACHE_DIR" envDefault:"hf_cache"`
	Backend  string `env:"MODEL_BACKEND" envDefault:"vllm"`
	HFToken  string `env:"HF_TOKEN"`
}

// InferenceConfig points at the vLLM server. Device info and memory usage
// are probed on this host, so they describe the server only when it runs here.
type InferenceConfig struct {
	BaseURL    string `env:"INFERENCE_BASE_URL" envDefault:"http://localhost:8000/v1"`
	RootURL    string `env:"INFERENCE_ROOT_URL" envDefault:"http://localhost:8000"`
	APIKey     string `env:"INFERENCE_API_KEY"`
	ServedName string `env:"INFERENCE_SERVED_NAME"`
	Device     string `env:"INFERENCE_DEVICE" envDefault:"cuda:0"`
}

type RedisConfig struct {
	Addr     string        `env:"REDIS_ADDR" envDefault:"redis:6379"`
	Password string        `env:"REDIS_PASSWORD"`
	DB       int           `env:"REDIS_DB" envDefault:"0"`
	TTL      time.Duration `env:"REDIS_TTL" envDefault:"10m"`
}

type GalleryConfig struct {
	Manifest string `env:"GALLERY_MANIFEST" envDefault:"examples.yaml"`
	Dir      string `env:"GALLERY_DIR" envDefault:"examples"`
}

type LogConfig struct {
	Level       string `env:"LOG_LEVEL" envDefault:"info"`
	Development bool   `env:"LOG_DEVELOPMENT"`
}

// Load reads .env files when present, then the environment.
func Load(files ...string) (*Config, error) {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("failed to load %s: %w", f, err)
		}
	}

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, err
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	switch c.Model.Backend {
	case BackendVLLM, BackendStub:
	default:
		return fmt.Errorf("unknown model backend %q", c.Model.Backend)
	}
	if c.Model.ID == "" {
		return errors.New("MODEL_ID is empty")
	}
	if c.Server.ThrottleLimit < 1 {
		return fmt.Errorf("throttle limit must be positive, got %d", c.Server.ThrottleLimit)
	}
	return nil
}
