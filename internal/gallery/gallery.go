// Package gallery prepares the example images offered on the upload page.
package gallery

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

type Entry struct {
	Image  string `yaml:"image"`
	Prompt string `yaml:"prompt"`
}

type Manifest struct {
	Examples []Entry `yaml:"examples"`
}

// Example is a gallery image available under the examples directory.
type Example struct {
	Name   string
	Path   string
	Prompt string
}

func ReadManifest(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	return &m, nil
}

// Prepare copies every readable manifest image into dir as example_{i}{ext},
// numbering from 1, and keeps copies that already exist. Entries whose source
// is missing or unreadable are logged and skipped. A missing manifest yields
// an empty gallery.
func Prepare(logger *zap.SugaredLogger, manifestPath, dir string) ([]Example, error) {
	m, err := ReadManifest(manifestPath)
	if errors.Is(err, fs.ErrNotExist) {
		logger.Infof("no gallery manifest at %s", manifestPath)
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create examples dir: %w", err)
	}

	base := filepath.Dir(manifestPath)
	var examples []Example
	for i, e := range m.Examples {
		src := e.Image
		if !filepath.IsAbs(src) {
			src = filepath.Join(base, src)
		}
		if _, err := os.Stat(src); err != nil {
			logger.Warnf("skipping example %s: %v", e.Image, err)
			continue
		}

		name := fmt.Sprintf("example_%d%s", i+1, filepath.Ext(src))
		dst := filepath.Join(dir, name)
		if _, err := os.Stat(dst); errors.Is(err, fs.ErrNotExist) {
			if err := copyFile(src, dst); err != nil {
				logger.Warnf("failed to copy example image %s: %v", src, err)
				continue
			}
			logger.Infof("copied example image %s", dst)
		}
		examples = append(examples, Example{Name: name, Path: dst, Prompt: e.Prompt})
	}
	return examples, nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		os.Remove(dst)
		return err
	}
	return out.Close()
}
