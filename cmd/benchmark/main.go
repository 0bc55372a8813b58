package main

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/bytedance/sonic"
	"github.com/dustin/go-humanize"
	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/geon0078/VLM-Ovis/internal/models"
)

var (
	endpoint    string
	dataDir     string
	prompt      string
	maxTokens   int
	temperature float64

	imageFormats = map[string]bool{".png": true, ".jpg": true, ".jpeg": true, ".gif": true, ".bmp": true, ".webp": true, ".tiff": true, ".pdf": true}
)

func main() {
	cmd := &cobra.Command{
		Use:   "benchmark",
		Short: "Post every image under a directory to /api/analyze and print a markdown summary",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd.Context())
		},
	}
	cmd.Flags().StringVar(&endpoint, "endpoint", "http://localhost:7860/api/analyze", "analyze endpoint")
	cmd.Flags().StringVar(&dataDir, "data", filepath.Join(".", "data"), "directory with images")
	cmd.Flags().StringVar(&prompt, "prompt", "이미지를 한국어로 자세히 설명해주세요.", "prompt sent with every image")
	cmd.Flags().IntVar(&maxTokens, "max-tokens", 512, "max new tokens")
	cmd.Flags().Float64Var(&temperature, "temperature", 0, "sampling temperature")

	if err := cmd.ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	var results []BenchResult
	err := filepath.WalkDir(dataDir, func(path string, d os.DirEntry, err error) error {
		if err != nil || d.IsDir() || !imageFormats[strings.ToLower(filepath.Ext(path))] {
			return err
		}
		res := benchmarkImage(ctx, path)
		if res.Err != nil {
			log.Println("ERR:", res.File, res.Err)
		} else {
			log.Printf("OK %s %v (%s)", res.File, res.Duration, res.Kind)
		}
		results = append(results, res)
		return nil
	})
	if err != nil {
		return err
	}

	printMarkdown(results)
	return nil
}

func benchmarkImage(ctx context.Context, filePath string) BenchResult {
	res := BenchResult{
		File:   filepath.Base(filePath),
		Format: strings.TrimPrefix(strings.ToLower(filepath.Ext(filePath)), "."),
	}

	raw, err := os.ReadFile(filePath)
	if err != nil {
		res.Err = err
		return res
	}
	res.Size = int64(len(raw))

	req := models.AnalyzeRequest{
		ImageBase64: base64.StdEncoding.EncodeToString(raw),
		Prompt:      prompt,
		Generation: &models.GenerationParams{
			MaxTokens:   &maxTokens,
			Temperature: &temperature,
		},
	}

	start := time.Now()
	resp, err := send(ctx, req)
	res.Duration = time.Since(start)
	if err != nil {
		res.Err = err
		return res
	}

	res.Kind = resp.Kind
	if resp.Kind != "ok" {
		res.Err = fmt.Errorf("%s: %s", resp.Kind, resp.Result)
		return res
	}
	if resp.Stats != nil {
		res.OutputTokens = resp.Stats.OutputTokens
		res.TokensPerSecond = resp.Stats.TokensPerSecond
	}
	return res
}

func send(ctx context.Context, req models.AnalyzeRequest) (*models.AnalyzeResponse, error) {
	body, err := sonic.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal req: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("bad status %d: %s", resp.StatusCode, strings.TrimSpace(string(data)))
	}

	var out models.AnalyzeResponse
	if err := sonic.Unmarshal(data, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func aggregate(results []BenchResult) map[string]Agg {
	m := map[string]Agg{}
	for _, r := range results {
		if r.Err != nil {
			continue
		}
		a := m[r.Format]
		a.Count++
		a.TotalBytes += r.Size
		a.Total += r.Duration
		a.TotalTokens += r.OutputTokens
		a.TokensPerSecond += r.TokensPerSecond
		m[r.Format] = a
	}
	return m
}

func row(name string, a Agg) []string {
	n := int64(a.Count)
	return []string{
		name,
		humanize.Comma(n),
		(a.Total / time.Duration(n)).Round(time.Millisecond).String(),
		a.Total.Round(time.Millisecond).String(),
		humanize.Comma(int64(a.TotalTokens) / n),
		fmt.Sprintf("%.1f", a.TokensPerSecond/float64(n)),
		humanize.Bytes(uint64(a.TotalBytes / n)),
	}
}

func printMarkdown(results []BenchResult) {
	fmt.Print("\n## Benchmark Results\n\n")

	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"Format", "Requests", "Avg Time", "Total Time", "Avg Tokens", "Avg Tokens/s", "Avg File Size"})
	table.SetAutoFormatHeaders(false)
	table.SetBorders(tablewriter.Border{Left: true, Top: false, Right: true, Bottom: false})
	table.SetCenterSeparator("|")

	agg := aggregate(results)
	formats := make([]string, 0, len(agg))
	for f := range agg {
		formats = append(formats, f)
	}
	sort.Strings(formats)

	var all Agg
	for _, f := range formats {
		a := agg[f]
		table.Append(row(f, a))
		all.Count += a.Count
		all.Total += a.Total
		all.TotalBytes += a.TotalBytes
		all.TotalTokens += a.TotalTokens
		all.TokensPerSecond += a.TokensPerSecond
	}
	if all.Count > 0 {
		table.Append(row("**ALL**", all))
	}
	table.Render()

	if failed := len(results) - all.Count; failed > 0 {
		fmt.Printf("\n%d of %d requests failed\n", failed, len(results))
	}
}
