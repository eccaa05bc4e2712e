package cpu

import (
	"fmt"
	"slices"

	"github.com/pdevine/tensor"

	"github.com/maskdetect/maskdetect/ml"
)

// Reshape returns a view of t with a new shape. At most one dimension may
// be -1; it is inferred from the element count.
func (t *Tensor) Reshape(ctx ml.Context, shape ...int) ml.Tensor {
	shape = cloneShape(shape)
	infer := -1
	n := 1
	for i, d := range shape {
		switch {
		case d == -1 && infer < 0:
			infer = i
		case d < 0:
			panic(fmt.Errorf("cpu: invalid reshape %v", shape))
		default:
			n *= d
		}
	}

	if infer >= 0 {
		if n == 0 || t.numel()%n != 0 {
			panic(fmt.Errorf("cpu: cannot reshape %v to %v", t.shape, shape))
		}
		shape[infer] = t.numel() / n
		n *= shape[infer]
	}

	if n != t.numel() {
		panic(fmt.Errorf("cpu: cannot reshape %v to %v", t.shape, shape))
	}

	return &Tensor{dtype: t.dtype, shape: shape, data: t.data}
}

// Permute reorders dimensions so that output dimension i is input dimension
// axes[i]. The result is materialized in row-major order.
func (t *Tensor) Permute(ctx ml.Context, axes ...int) ml.Tensor {
	if len(axes) != len(t.shape) {
		panic(fmt.Errorf("cpu: permute %v does not match shape %v", axes, t.shape))
	}

	identity := true
	for i, a := range axes {
		identity = identity && a == i
	}
	if identity {
		return &Tensor{dtype: t.dtype, shape: cloneShape(t.shape), data: t.data}
	}

	d := t.dense()
	if err := d.T(axes...); err != nil {
		panic(fmt.Errorf("cpu: permute %v: %w", axes, err))
	}
	if err := d.Transpose(); err != nil {
		panic(fmt.Errorf("cpu: permute %v: %w", axes, err))
	}

	return fromDense(d)
}

// Contiguous returns t: tensors are always stored densely.
func (t *Tensor) Contiguous(ctx ml.Context) ml.Tensor {
	return t
}

// Concat joins t and t2 along dim. All other dimensions must match.
func (t *Tensor) Concat(ctx ml.Context, t2 ml.Tensor, dim int) ml.Tensor {
	o := asTensor(t2)
	if len(t.shape) != len(o.shape) || dim < 0 || dim >= len(t.shape) {
		panic(fmt.Errorf("cpu: cannot concat %v and %v on dim %d", t.shape, o.shape, dim))
	}

	for i := range t.shape {
		if i != dim && t.shape[i] != o.shape[i] {
			panic(fmt.Errorf("cpu: cannot concat %v and %v on dim %d", t.shape, o.shape, dim))
		}
	}

	d, err := t.dense().Concat(dim, o.dense())
	if err != nil {
		panic(fmt.Errorf("cpu: concat: %w", err))
	}

	return fromDense(d)
}

// dense wraps a copy of the tensor data for use with package tensor.
func (t *Tensor) dense() *tensor.Dense {
	return tensor.New(tensor.WithShape(t.shape...), tensor.WithBacking(slices.Clone(t.data)))
}

func fromDense(d *tensor.Dense) *Tensor {
	return &Tensor{
		dtype: ml.DTypeF32,
		shape: slices.Clone([]int(d.Shape())),
		data:  d.Data().([]float32),
	}
}
