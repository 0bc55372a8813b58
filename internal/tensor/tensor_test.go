package tensor

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"
)

func TestFromFloat32ShapeMismatch(t *testing.T) {
	_, err := FromFloat32([]int{2, 2}, []float32{1, 2, 3})
	require.Error(t, err)
}

func TestToHalfPrecision(t *testing.T) {
	values := []float32{0, 0.5, -1, 2, 0.25}
	src, err := FromFloat32([]int{5}, values)
	require.NoError(t, err)

	for _, dtype := range []DType{Float16, BFloat16} {
		moved, err := src.To(CUDA(0), dtype)
		require.NoError(t, err)
		require.Equal(t, dtype, moved.DType)
		require.Equal(t, CUDA(0), moved.Device)
		require.Len(t, moved.Bytes(), 2*len(values))

		back, err := moved.Float32s()
		require.NoError(t, err)
		if diff := cmp.Diff(values, back); diff != "" {
			t.Errorf("%s round trip mismatch (-want +got):\n%s", dtype, diff)
		}
	}
}

func TestToKeepsDTypeWhenEmpty(t *testing.T) {
	ids := IDs([]int32{1, 2, 3})
	moved, err := ids.To(CUDA(1), "")
	require.NoError(t, err)
	require.Equal(t, Int32, moved.DType)
	require.Equal(t, CUDA(1), moved.Device)
}

func TestToRejectsIntegerConversion(t *testing.T) {
	_, err := IDs([]int32{1}).To(CPU, BFloat16)
	require.Error(t, err)
}

func TestNotEqualAndUnsqueeze(t *testing.T) {
	ids := IDs([]int32{5, 0, 7, 0})
	mask, err := ids.NotEqual(0)
	require.NoError(t, err)

	got, err := mask.Bools()
	require.NoError(t, err)
	if diff := cmp.Diff([]bool{true, false, true, false}, got); diff != "" {
		t.Errorf("mask mismatch (-want +got):\n%s", diff)
	}

	batched, err := mask.Unsqueeze(0)
	require.NoError(t, err)
	require.Equal(t, []int{1, 4}, batched.Shape)

	_, err = mask.Unsqueeze(3)
	require.Error(t, err)
}

func TestDeviceIsAccelerator(t *testing.T) {
	require.True(t, CUDA(0).IsAccelerator())
	require.False(t, CPU.IsAccelerator())
}
