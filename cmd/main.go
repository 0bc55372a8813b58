package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/geon0078/VLM-Ovis/internal/backend/stub"
	"github.com/geon0078/VLM-Ovis/internal/backend/vllm"
	"github.com/geon0078/VLM-Ovis/internal/config"
	"github.com/geon0078/VLM-Ovis/internal/device"
	"github.com/geon0078/VLM-Ovis/internal/logger"
	"github.com/geon0078/VLM-Ovis/internal/session"
	"github.com/geon0078/VLM-Ovis/internal/tensor"
)

type app struct {
	cfg    *config.Config
	logger *zap.SugaredLogger
	prober device.Prober
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	a := &app{}
	var envFile string

	root := &cobra.Command{
		Use:          "ovis",
		Short:        "Image description and visual question answering with an Ovis model",
		SilenceUsage: true,
		PersistentPreRunE: func(*cobra.Command, []string) error {
			cfg, err := config.Load(envFile)
			if err != nil {
				return fmt.Errorf("config error: %w", err)
			}
			l, err := logger.New(cfg.Log)
			if err != nil {
				return err
			}
			a.cfg = cfg
			a.logger = l
			a.prober = device.NewNvidiaSMI()
			return nil
		},
		PersistentPostRun: func(*cobra.Command, []string) {
			if a.logger != nil {
				_ = a.logger.Sync()
			}
		},
	}
	root.PersistentFlags().StringVar(&envFile, "env-file", ".env", "dotenv file read before the environment")

	root.AddCommand(newServeCmd(a), newAnalyzeCmd(a), newSysinfoCmd(a))
	return root
}

func (a *app) loader() session.Loader {
	if a.cfg.Model.Backend == config.BackendStub {
		return stub.Loader{}
	}
	inf := a.cfg.Inference
	return &vllm.Loader{
		Logger: a.logger,
		Client: openai.NewClient(
			option.WithAPIKey(inf.APIKey),
			option.WithBaseURL(inf.BaseURL),
		),
		RootURL:    inf.RootURL,
		APIKey:     inf.APIKey,
		ServedName: inf.ServedName,
		Device:     tensor.Device(inf.Device),
		Fetcher:    vllm.HubFetcher{Token: a.cfg.Model.HFToken},
	}
}

func (a *app) loadSession(ctx context.Context) (*session.Session, error) {
	return session.Load(ctx, a.logger, a.loader(), a.prober, session.Config{
		ModelID:  a.cfg.Model.ID,
		CacheDir: a.cfg.Model.CacheDir,
	})
}
