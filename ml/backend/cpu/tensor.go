package cpu

import (
	"fmt"
	"log/slog"
	"slices"

	"github.com/maskdetect/maskdetect/ml"
)

// Tensor is a dense float32 array. Operations never modify their inputs,
// so tensors may share backing data after a Reshape.
type Tensor struct {
	name  string
	dtype ml.DType
	shape []int
	data  []float32
}

func newTensor(shape ...int) *Tensor {
	n := 1
	for _, d := range shape {
		if d < 0 {
			panic(fmt.Errorf("cpu: negative dimension in shape %v", shape))
		}
		n *= d
	}
	return &Tensor{dtype: ml.DTypeF32, shape: cloneShape(shape), data: make([]float32, n)}
}

func (t *Tensor) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("name", t.name),
		slog.String("type", t.dtype.String()),
		slog.Any("shape", t.shape),
	)
}

func (t *Tensor) Dim(n int) int {
	return t.shape[n]
}

func (t *Tensor) Shape() []int {
	return cloneShape(t.shape)
}

func (t *Tensor) DType() ml.DType {
	return t.dtype
}

// Floats returns a copy of the tensor data.
func (t *Tensor) Floats() []float32 {
	return slices.Clone(t.data)
}

func (t *Tensor) numel() int {
	return len(t.data)
}

// strides returns row-major element strides for shape.
func strides(shape []int) []int {
	s := make([]int, len(shape))
	acc := 1
	for i := len(shape) - 1; i >= 0; i-- {
		s[i] = acc
		acc *= shape[i]
	}
	return s
}

func asTensor(t ml.Tensor) *Tensor {
	tt, ok := t.(*Tensor)
	if !ok {
		panic(fmt.Errorf("cpu: unsupported tensor type %T", t))
	}
	return tt
}
