package device

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/geon0078/VLM-Ovis/internal/tensor"
)

const smiOutput = `0, NVIDIA A100-SXM4-80GB, 81920, 17000, 8.0
1, NVIDIA A100-SXM4-80GB, 81920, 1024, 8.0
`

func TestParseQuery(t *testing.T) {
	accelerators, err := ParseQuery(strings.NewReader(smiOutput))
	require.NoError(t, err)
	require.Len(t, accelerators, 2)

	require.Equal(t, "NVIDIA A100-SXM4-80GB", accelerators[0].Name)
	require.Equal(t, uint64(81920)*mib, accelerators[0].TotalMemory)
	require.Equal(t, uint64(17000)*mib, accelerators[0].UsedMemory)
	require.Equal(t, 1, accelerators[1].Index)
	require.InDelta(t, 8.0, accelerators[1].Compute, 1e-9)

	info := &Info{Accelerators: accelerators}
	require.Equal(t, uint64(18024)*mib, info.MemoryUsed())
	require.Equal(t, tensor.CUDA(0), info.Device())
}

func TestParseQueryNotAvailableCompute(t *testing.T) {
	accelerators, err := ParseQuery(strings.NewReader("0, Tesla K80, 11441, 0, [N/A]\n"))
	require.NoError(t, err)
	require.Zero(t, accelerators[0].Compute)
}

func TestParseQueryMalformed(t *testing.T) {
	_, err := ParseQuery(strings.NewReader("0, broken\n"))
	require.Error(t, err)

	_, err = ParseQuery(strings.NewReader("x, GPU, 1, 1, 8.0\n"))
	require.Error(t, err)
}

func TestPrecision(t *testing.T) {
	ampere := &Info{Accelerators: []Accelerator{{Compute: 8.6}}}
	require.Equal(t, tensor.BFloat16, Precision(ampere))

	mixed := &Info{Accelerators: []Accelerator{{Compute: 8.6}, {Compute: 7.5}}}
	require.Equal(t, tensor.Float16, Precision(mixed))

	require.Equal(t, tensor.Float16, Precision(&Info{}))
	require.Equal(t, tensor.CPU, (&Info{}).Device())
}

func TestNvidiaSMIMissingBinary(t *testing.T) {
	probe := &NvidiaSMI{Path: "definitely-not-nvidia-smi"}
	info, err := probe.Probe(context.Background())
	require.NoError(t, err)
	require.False(t, info.Available())
}
