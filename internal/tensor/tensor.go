package tensor

import (
	"encoding/binary"
	"fmt"
	"math"
	"strings"

	"github.com/d4l3k/go-bfloat16"
	"github.com/x448/float16"
)

type DType string

const (
	Bool     DType = "bool"
	Int32    DType = "int32"
	Float32  DType = "float32"
	Float16  DType = "float16"
	BFloat16 DType = "bfloat16"
)

// Size returns the element width in bytes.
func (d DType) Size() int {
	switch d {
	case Bool:
		return 1
	case Float16, BFloat16:
		return 2
	case Int32, Float32:
		return 4
	default:
		return 0
	}
}

func (d DType) IsFloat() bool {
	return d == Float32 || d == Float16 || d == BFloat16
}

// Device names where a tensor lives, e.g. "cpu" or "cuda:0".
type Device string

const CPU Device = "cpu"

func CUDA(index int) Device {
	return Device(fmt.Sprintf("cuda:%d", index))
}

func (d Device) IsAccelerator() bool {
	return strings.HasPrefix(string(d), "cuda")
}

// Tensor is a dense little-endian buffer with a shape, element type and placement.
type Tensor struct {
	Shape  []int
	DType  DType
	Device Device
	data   []byte
}

func numel(shape []int) int {
	n := 1
	for _, s := range shape {
		n *= s
	}
	return n
}

func checkShape(shape []int, n int) error {
	for _, s := range shape {
		if s < 0 {
			return fmt.Errorf("negative dimension in shape %v", shape)
		}
	}
	if numel(shape) != n {
		return fmt.Errorf("shape %v needs %d elements, got %d", shape, numel(shape), n)
	}
	return nil
}

func FromFloat32(shape []int, values []float32) (*Tensor, error) {
	if err := checkShape(shape, len(values)); err != nil {
		return nil, err
	}
	data := make([]byte, 4*len(values))
	for i, v := range values {
		binary.LittleEndian.PutUint32(data[4*i:], math.Float32bits(v))
	}
	return &Tensor{Shape: append([]int(nil), shape...), DType: Float32, Device: CPU, data: data}, nil
}

func FromInt32(shape []int, values []int32) (*Tensor, error) {
	if err := checkShape(shape, len(values)); err != nil {
		return nil, err
	}
	data := make([]byte, 4*len(values))
	for i, v := range values {
		binary.LittleEndian.PutUint32(data[4*i:], uint32(v))
	}
	return &Tensor{Shape: append([]int(nil), shape...), DType: Int32, Device: CPU, data: data}, nil
}

// IDs wraps a token id sequence as a 1-D int32 tensor.
func IDs(ids []int32) *Tensor {
	t, _ := FromInt32([]int{len(ids)}, ids)
	return t
}

func (t *Tensor) Len() int {
	return numel(t.Shape)
}

// Bytes exposes the raw storage. Callers must not modify it.
func (t *Tensor) Bytes() []byte {
	return t.data
}

// Float32s decodes floating point storage to float32 regardless of precision.
func (t *Tensor) Float32s() ([]float32, error) {
	n := t.Len()
	switch t.DType {
	case Float32:
		out := make([]float32, n)
		for i := range out {
			out[i] = math.Float32frombits(binary.LittleEndian.Uint32(t.data[4*i:]))
		}
		return out, nil
	case Float16:
		out := make([]float32, n)
		for i := range out {
			out[i] = float16.Frombits(binary.LittleEndian.Uint16(t.data[2*i:])).Float32()
		}
		return out, nil
	case BFloat16:
		return bfloat16.DecodeFloat32(t.data), nil
	default:
		return nil, fmt.Errorf("tensor of %s is not floating point", t.DType)
	}
}

func (t *Tensor) Int32s() ([]int32, error) {
	if t.DType != Int32 {
		return nil, fmt.Errorf("tensor of %s is not int32", t.DType)
	}
	out := make([]int32, t.Len())
	for i := range out {
		out[i] = int32(binary.LittleEndian.Uint32(t.data[4*i:]))
	}
	return out, nil
}

func (t *Tensor) Bools() ([]bool, error) {
	if t.DType != Bool {
		return nil, fmt.Errorf("tensor of %s is not bool", t.DType)
	}
	out := make([]bool, len(t.data))
	for i, b := range t.data {
		out[i] = b != 0
	}
	return out, nil
}

// NotEqual returns a bool tensor of the same shape marking elements != v.
func (t *Tensor) NotEqual(v int32) (*Tensor, error) {
	ids, err := t.Int32s()
	if err != nil {
		return nil, err
	}
	data := make([]byte, len(ids))
	for i, id := range ids {
		if id != v {
			data[i] = 1
		}
	}
	return &Tensor{Shape: append([]int(nil), t.Shape...), DType: Bool, Device: t.Device, data: data}, nil
}

// Unsqueeze inserts a dimension of size one at dim. Storage is shared.
func (t *Tensor) Unsqueeze(dim int) (*Tensor, error) {
	if dim < 0 || dim > len(t.Shape) {
		return nil, fmt.Errorf("unsqueeze dim %d out of range for rank %d", dim, len(t.Shape))
	}
	shape := make([]int, 0, len(t.Shape)+1)
	shape = append(shape, t.Shape[:dim]...)
	shape = append(shape, 1)
	shape = append(shape, t.Shape[dim:]...)
	return &Tensor{Shape: shape, DType: t.DType, Device: t.Device, data: t.data}, nil
}

// To places the tensor on device and converts floating point storage to dtype.
// An empty dtype keeps the current element type. Integer and bool tensors only move.
func (t *Tensor) To(device Device, dtype DType) (*Tensor, error) {
	if device == "" {
		device = t.Device
	}
	if dtype == "" || dtype == t.DType {
		return &Tensor{Shape: t.Shape, DType: t.DType, Device: device, data: t.data}, nil
	}
	if !t.DType.IsFloat() || !dtype.IsFloat() {
		return nil, fmt.Errorf("cannot convert %s tensor to %s", t.DType, dtype)
	}

	values, err := t.Float32s()
	if err != nil {
		return nil, err
	}

	var data []byte
	switch dtype {
	case Float32:
		data = make([]byte, 4*len(values))
		for i, v := range values {
			binary.LittleEndian.PutUint32(data[4*i:], math.Float32bits(v))
		}
	case Float16:
		data = make([]byte, 2*len(values))
		for i, v := range values {
			binary.LittleEndian.PutUint16(data[2*i:], float16.Fromfloat32(v).Bits())
		}
	case BFloat16:
		data = bfloat16.EncodeFloat32(values)
	}
	return &Tensor{Shape: append([]int(nil), t.Shape...), DType: dtype, Device: device, data: data}, nil
}

func (t *Tensor) String() string {
	return fmt.Sprintf("tensor(shape=%v, dtype=%s, device=%s)", t.Shape, t.DType, t.Device)
}
