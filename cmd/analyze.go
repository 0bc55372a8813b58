package main

import (
	"fmt"
	"image"
	"os"

	"github.com/spf13/cobra"

	"github.com/geon0078/VLM-Ovis/internal/imaging"
	"github.com/geon0078/VLM-Ovis/internal/models"
	"github.com/geon0078/VLM-Ovis/internal/session"
)

func newAnalyzeCmd(a *app) *cobra.Command {
	var (
		imagePath   string
		prompt      string
		maxTokens   int
		temperature float64
		topP        float64
	)

	cmd := &cobra.Command{
		Use:   "analyze",
		Short: "Analyze one image from the command line",
		RunE: func(cmd *cobra.Command, _ []string) error {
			var img image.Image
			if imagePath != "" {
				data, err := os.ReadFile(imagePath)
				if err != nil {
					return err
				}
				img, _, err = imaging.Decode(data)
				if err != nil {
					return err
				}
			}

			sess, err := a.loadSession(cmd.Context())
			if err != nil {
				return err
			}

			res := sess.Analyze(cmd.Context(), session.Request{
				Image:       img,
				Prompt:      prompt,
				MaxTokens:   maxTokens,
				Temperature: temperature,
				TopP:        topP,
			})
			fmt.Fprintln(cmd.OutOrStdout(), res.String())
			if res.Kind == session.KindFailure {
				return res.Err
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&imagePath, "image", "i", "", "image or PDF to analyze")
	cmd.Flags().StringVarP(&prompt, "prompt", "p", "", "question about the image")
	cmd.Flags().IntVar(&maxTokens, "max-tokens", models.DefaultMaxTokens, "max new tokens")
	cmd.Flags().Float64Var(&temperature, "temperature", models.DefaultTemperature, "sampling temperature, 0 for greedy")
	cmd.Flags().Float64Var(&topP, "top-p", models.DefaultTopP, "nucleus sampling threshold")
	return cmd
}
