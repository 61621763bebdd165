package onnx

import (
	"fmt"
	"math"
	"strings"
)

type TensorDType string

const (
	DTypeFloat32 TensorDType = "float32"
	DTypeInt64   TensorDType = "int64"
)

// Tensor is a dense row-major float32 or int64 tensor.
type Tensor struct {
	dtype TensorDType
	shape []int64
	data  any
}

func NewTensor[T ~int64 | ~float32](data []T, shape []int64) (*Tensor, error) {
	dtype, err := dtypeFromSlice(data)
	if err != nil {
		return nil, err
	}
	if err := validateShapeAgainstData(shape, len(data)); err != nil {
		return nil, err
	}

	t := &Tensor{
		dtype: dtype,
		shape: append([]int64(nil), shape...),
	}
	switch dtype {
	case DTypeFloat32:
		converted := make([]float32, len(data))
		for i, v := range data {
			converted[i] = float32(v)
		}
		t.data = converted
	case DTypeInt64:
		converted := make([]int64, len(data))
		for i, v := range data {
			converted[i] = int64(v)
		}
		t.data = converted
	default:
		return nil, fmt.Errorf("unsupported tensor dtype %q", dtype)
	}
	return t, nil
}

func NewZeroTensor(dtype string, shape []any) (*Tensor, error) {
	canonical, err := canonicalDType(dtype)
	if err != nil {
		return nil, err
	}
	resolvedShape, err := resolveShape(shape)
	if err != nil {
		return nil, err
	}
	count, err := elementCount(resolvedShape)
	if err != nil {
		return nil, err
	}

	switch canonical {
	case DTypeFloat32:
		return NewTensor(make([]float32, count), resolvedShape)
	case DTypeInt64:
		return NewTensor(make([]int64, count), resolvedShape)
	default:
		return nil, fmt.Errorf("unsupported tensor dtype %q", canonical)
	}
}

func (t *Tensor) DType() TensorDType {
	return t.dtype
}

func (t *Tensor) Shape() []int64 {
	return append([]int64(nil), t.shape...)
}

// Data returns a copy of the backing slice, or nil for a nil tensor.
func (t *Tensor) Data() any {
	if t == nil {
		return nil
	}
	switch v := t.data.(type) {
	case []float32:
		return append([]float32(nil), v...)
	case []int64:
		return append([]int64(nil), v...)
	default:
		return nil
	}
}

// ExtractFloat32 copies the float32 payload out of a tensor, a slice, or any
// value exposing Data().
func ExtractFloat32(output any) ([]float32, error) {
	return extract[float32](output, DTypeFloat32)
}

// ExtractInt64 copies the int64 payload out of a tensor, a slice, or any
// value exposing Data().
func ExtractInt64(output any) ([]int64, error) {
	return extract[int64](output, DTypeInt64)
}

func extract[T int64 | float32](output any, want TensorDType) ([]T, error) {
	v, err := unwrapData(output)
	if err != nil {
		return nil, err
	}

	switch out := v.(type) {
	case []T:
		return append([]T(nil), out...), nil
	case *[]T:
		if out == nil {
			return nil, fmt.Errorf("expected []%s output, got nil pointer", want)
		}
		return append([]T(nil), (*out)...), nil
	case Tensor:
		return tensorPayload[T](&out, want)
	case *Tensor:
		if out == nil {
			return nil, fmt.Errorf("expected *Tensor output, got nil")
		}
		return tensorPayload[T](out, want)
	default:
		return nil, fmt.Errorf("expected []%s output, got %T", want, v)
	}
}

func tensorPayload[T int64 | float32](t *Tensor, want TensorDType) ([]T, error) {
	if t.dtype != want {
		return nil, fmt.Errorf("expected %s tensor, got %s", want, t.dtype)
	}
	data, ok := t.data.([]T)
	if !ok {
		return nil, fmt.Errorf("%s tensor has unexpected backing type %T", want, t.data)
	}
	return append([]T(nil), data...), nil
}

func unwrapData(output any) (any, error) {
	type dataGetter interface {
		Data() any
	}

	const maxDepth = 16
	v := output
	for depth := 0; depth < maxDepth; depth++ {
		if v == nil {
			return nil, fmt.Errorf("output is nil")
		}
		getter, ok := v.(dataGetter)
		if !ok {
			return v, nil
		}
		v = getter.Data()
	}
	return nil, fmt.Errorf("nested Data() wrappers exceed max depth %d", maxDepth)
}

func dtypeFromSlice[T ~int64 | ~float32](data []T) (TensorDType, error) {
	var zero T
	switch any(zero).(type) {
	case int64:
		return DTypeInt64, nil
	case float32:
		return DTypeFloat32, nil
	default:
		return "", fmt.Errorf("unsupported tensor data type %T", zero)
	}
}

func canonicalDType(raw string) (TensorDType, error) {
	normalized := strings.ToLower(strings.TrimSpace(raw))
	normalized = strings.TrimPrefix(normalized, "tensor(")
	normalized = strings.TrimSuffix(normalized, ")")
	switch normalized {
	case "float", "float32":
		return DTypeFloat32, nil
	case "int64", "long":
		return DTypeInt64, nil
	default:
		return "", fmt.Errorf("unsupported tensor dtype %q", raw)
	}
}

func resolveShape(shape []any) ([]int64, error) {
	out := make([]int64, len(shape))
	for i, dim := range shape {
		switch v := dim.(type) {
		case float64:
			if v < 1 || v != math.Trunc(v) {
				return nil, fmt.Errorf("shape[%d]=%v is not a positive integer", i, v)
			}
			out[i] = int64(v)
		case int:
			if v < 1 {
				return nil, fmt.Errorf("shape[%d]=%d is not positive", i, v)
			}
			out[i] = int64(v)
		case int64:
			if v < 1 {
				return nil, fmt.Errorf("shape[%d]=%d is not positive", i, v)
			}
			out[i] = v
		case string:
			if strings.TrimSpace(v) == "" {
				return nil, fmt.Errorf("shape[%d] has empty symbolic dimension", i)
			}
			out[i] = 1
		default:
			return nil, fmt.Errorf("shape[%d] has unsupported type %T", i, dim)
		}
	}
	return out, nil
}

func validateShapeAgainstData(shape []int64, dataLen int) error {
	count, err := elementCount(shape)
	if err != nil {
		return err
	}
	if count != dataLen {
		return fmt.Errorf("shape %v expects %d elements, got %d", shape, count, dataLen)
	}
	return nil
}

func elementCount(shape []int64) (int, error) {
	if len(shape) == 0 {
		return 1, nil
	}
	count := int64(1)
	for i, dim := range shape {
		if dim < 1 {
			return 0, fmt.Errorf("shape[%d]=%d is not positive", i, dim)
		}
		if count > math.MaxInt64/dim {
			return 0, fmt.Errorf("shape %v overflows element count", shape)
		}
		count *= dim
	}
	if count > int64(math.MaxInt) {
		return 0, fmt.Errorf("shape %v exceeds platform int capacity", shape)
	}
	return int(count), nil
}

// Rows returns the batch rows of a float32 tensor as flat slices.
func Rows(t *Tensor) ([][]float32, error) {
	shape := t.Shape()
	if len(shape) == 0 {
		return nil, fmt.Errorf("Rows: scalar tensor has no batch dim")
	}
	data, err := ExtractFloat32(t)
	if err != nil {
		return nil, err
	}
	if shape[0] == 0 {
		return nil, nil
	}

	size := len(data) / int(shape[0])
	rows := make([][]float32, shape[0])
	for i := range rows {
		rows[i] = data[i*size : (i+1)*size]
	}
	return rows, nil
}

// SpectrogramToVocoder reshapes a VAE mel output [B, 1, T, M] into the
// vocoder layout [B, M, T].
func SpectrogramToVocoder(mel *Tensor) (*Tensor, error) {
	shape := mel.Shape()
	if len(shape) != 4 || shape[1] != 1 {
		return nil, fmt.Errorf("SpectrogramToVocoder: want [B, 1, T, M], got %v", shape)
	}
	data, err := ExtractFloat32(mel)
	if err != nil {
		return nil, fmt.Errorf("SpectrogramToVocoder: %w", err)
	}

	b, frames, bins := shape[0], shape[2], shape[3]
	out := make([]float32, len(data))
	for n := int64(0); n < b; n++ {
		base := n * frames * bins
		for t := int64(0); t < frames; t++ {
			for m := int64(0); m < bins; m++ {
				out[base+m*frames+t] = data[base+t*bins+m]
			}
		}
	}
	return NewTensor(out, []int64{b, bins, frames})
}
