package gallery

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func TestPrepare(t *testing.T) {
	src := t.TempDir()
	dir := filepath.Join(t.TempDir(), "examples")

	writeFile(t, filepath.Join(src, "char.png"), "png bytes")
	writeFile(t, filepath.Join(src, "xp.jpg"), "jpg bytes")
	manifest := filepath.Join(src, "examples.yaml")
	writeFile(t, manifest, `examples:
  - image: char.png
    prompt: 이 캐릭터의 특징을 설명해주세요.
  - image: missing.png
    prompt: unused
  - image: xp.jpg
    prompt: 이 이미지에서 무엇을 볼 수 있나요?
`)

	got, err := Prepare(zap.NewNop().Sugar(), manifest, dir)
	require.NoError(t, err)

	want := []Example{
		{Name: "example_1.png", Path: filepath.Join(dir, "example_1.png"), Prompt: "이 캐릭터의 특징을 설명해주세요."},
		{Name: "example_3.jpg", Path: filepath.Join(dir, "example_3.jpg"), Prompt: "이 이미지에서 무엇을 볼 수 있나요?"},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("examples mismatch (-want +got):\n%s", diff)
	}

	data, err := os.ReadFile(filepath.Join(dir, "example_3.jpg"))
	require.NoError(t, err)
	require.Equal(t, "jpg bytes", string(data))
}

func TestPrepareKeepsExistingCopy(t *testing.T) {
	src := t.TempDir()
	dir := t.TempDir()

	writeFile(t, filepath.Join(src, "a.png"), "new")
	writeFile(t, filepath.Join(dir, "example_1.png"), "old")
	manifest := filepath.Join(src, "examples.yaml")
	writeFile(t, manifest, "examples:\n  - image: a.png\n    prompt: p\n")

	got, err := Prepare(zap.NewNop().Sugar(), manifest, dir)
	require.NoError(t, err)
	require.Len(t, got, 1)

	data, err := os.ReadFile(filepath.Join(dir, "example_1.png"))
	require.NoError(t, err)
	require.Equal(t, "old", string(data))
}

func TestPrepareMissingManifest(t *testing.T) {
	got, err := Prepare(zap.NewNop().Sugar(), filepath.Join(t.TempDir(), "none.yaml"), t.TempDir())
	require.NoError(t, err)
	require.Empty(t, got)
}

func TestPrepareBadManifest(t *testing.T) {
	manifest := filepath.Join(t.TempDir(), "examples.yaml")
	writeFile(t, manifest, "examples: [unclosed")
	_, err := Prepare(zap.NewNop().Sugar(), manifest, t.TempDir())
	require.Error(t, err)
}
