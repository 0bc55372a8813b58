package device

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strconv"
	"strings"

	"github.com/geon0078/VLM-Ovis/internal/tensor"
)

const mib = 1024 * 1024

// bf16 needs Ampere or newer.
const minBF16Compute = 8.0

type Accelerator struct {
	Index       int
	Name        string
	TotalMemory uint64
	UsedMemory  uint64
	Compute     float64
}

type Info struct {
	Accelerators []Accelerator
}

func (i *Info) Available() bool {
	return i != nil && len(i.Accelerators) > 0
}

func (i *Info) SupportsBF16() bool {
	if !i.Available() {
		return false
	}
	for _, a := range i.Accelerators {
		if a.Compute < minBF16Compute {
			return false
		}
	}
	return true
}

// MemoryUsed sums used memory across accelerators in bytes.
func (i *Info) MemoryUsed() uint64 {
	if i == nil {
		return 0
	}
	var total uint64
	for _, a := range i.Accelerators {
		total += a.UsedMemory
	}
	return total
}

// Device is where the model's first layers live.
func (i *Info) Device() tensor.Device {
	if !i.Available() {
		return tensor.CPU
	}
	return tensor.CUDA(i.Accelerators[0].Index)
}

// Precision picks bfloat16 when supported, otherwise float16.
func Precision(info *Info) tensor.DType {
	if info.SupportsBF16() {
		return tensor.BFloat16
	}
	return tensor.Float16
}

type Prober interface {
	Probe(ctx context.Context) (*Info, error)
}

var queryArgs = []string{
	"--query-gpu=index,name,memory.total,memory.used,compute_cap",
	"--format=csv,noheader,nounits",
}

// NvidiaSMI probes NVIDIA GPUs through the nvidia-smi binary.
type NvidiaSMI struct {
	Path string
}

func NewNvidiaSMI() *NvidiaSMI {
	return &NvidiaSMI{Path: "nvidia-smi"}
}

func (n *NvidiaSMI) Probe(ctx context.Context) (*Info, error) {
	path, err := exec.LookPath(n.Path)
	if err != nil {
		return &Info{}, nil
	}

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, path, queryArgs...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("nvidia-smi failed: %w: %s", err, strings.TrimSpace(stderr.String()))
	}

	accelerators, err := ParseQuery(&stdout)
	if err != nil {
		return nil, err
	}
	return &Info{Accelerators: accelerators}, nil
}

// ParseQuery reads nvidia-smi csv output (noheader, nounits).
func ParseQuery(r io.Reader) ([]Accelerator, error) {
	reader := csv.NewReader(r)
	reader.TrimLeadingSpace = true
	reader.FieldsPerRecord = 5

	var out []Accelerator
	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			return out, nil
		}
		if err != nil {
			return nil, fmt.Errorf("failed to parse nvidia-smi output: %w", err)
		}

		a, err := parseRecord(record)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
}

func parseRecord(record []string) (Accelerator, error) {
	index, err := strconv.Atoi(strings.TrimSpace(record[0]))
	if err != nil {
		return Accelerator{}, fmt.Errorf("bad gpu index %q: %w", record[0], err)
	}
	total, err := strconv.ParseUint(strings.TrimSpace(record[2]), 10, 64)
	if err != nil {
		return Accelerator{}, fmt.Errorf("bad memory.total %q: %w", record[2], err)
	}
	used, err := strconv.ParseUint(strings.TrimSpace(record[3]), 10, 64)
	if err != nil {
		return Accelerator{}, fmt.Errorf("bad memory.used %q: %w", record[3], err)
	}
	compute, err := strconv.ParseFloat(strings.TrimSpace(record[4]), 64)
	if err != nil {
		// older drivers print [N/A]
		compute = 0
	}

	return Accelerator{
		Index:       index,
		Name:        strings.TrimSpace(record[1]),
		TotalMemory: total * mib,
		UsedMemory:  used * mib,
		Compute:     compute,
	}, nil
}

// Static always reports the same Info.
type Static struct {
	Info *Info
	Err  error
}

func (s Static) Probe(context.Context) (*Info, error) {
	if s.Err != nil {
		return nil, s.Err
	}
	if s.Info == nil {
		return &Info{}, nil
	}
	return s.Info, nil
}
