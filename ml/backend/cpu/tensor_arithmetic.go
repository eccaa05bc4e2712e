package cpu

import (
	"fmt"
	"slices"

	"gonum.org/v1/gonum/blas"
	"gonum.org/v1/gonum/blas/blas32"

	"github.com/maskdetect/maskdetect/ml"
)

func (t *Tensor) Add(ctx ml.Context, t2 ml.Tensor) ml.Tensor {
	return t.broadcast(asTensor(t2), func(a, b float32) float32 { return a + b })
}

func (t *Tensor) Sub(ctx ml.Context, t2 ml.Tensor) ml.Tensor {
	return t.broadcast(asTensor(t2), func(a, b float32) float32 { return a - b })
}

func (t *Tensor) Mul(ctx ml.Context, t2 ml.Tensor) ml.Tensor {
	return t.broadcast(asTensor(t2), func(a, b float32) float32 { return a * b })
}

func (t *Tensor) Scale(ctx ml.Context, s float64) ml.Tensor {
	return t.unary(func(v float32) float32 { return v * float32(s) })
}

// Mulmat computes t2 @ tᵀ where t is (M, K) and t2 is (..., K).
func (t *Tensor) Mulmat(ctx ml.Context, t2 ml.Tensor) ml.Tensor {
	x := asTensor(t2)
	if len(t.shape) != 2 || len(x.shape) == 0 {
		panic(fmt.Errorf("cpu: mulmat needs a 2-D weight, got %v and %v", t.shape, x.shape))
	}

	m, k := t.shape[0], t.shape[1]
	if x.shape[len(x.shape)-1] != k {
		panic(fmt.Errorf("cpu: mulmat inner dimensions differ: %v and %v", t.shape, x.shape))
	}

	rows := x.numel() / k
	shape := append(slices.Clone(x.shape[:len(x.shape)-1]), m)
	out := newTensor(shape...)
	if rows == 0 || m == 0 {
		return out
	}

	blas32.Gemm(blas.NoTrans, blas.Trans, 1,
		blas32.General{Rows: rows, Cols: k, Stride: k, Data: x.data},
		blas32.General{Rows: m, Cols: k, Stride: k, Data: t.data},
		0,
		blas32.General{Rows: rows, Cols: m, Stride: m, Data: out.data})
	return out
}

func (t *Tensor) unary(fn func(float32) float32) *Tensor {
	out := newTensor(t.shape...)
	for i, v := range t.data {
		out.data[i] = fn(v)
	}
	return out
}

// broadcast applies fn elementwise after aligning trailing dimensions of t
// and t2. Dimensions of size 1 are repeated.
func (t *Tensor) broadcast(t2 *Tensor, fn func(a, b float32) float32) *Tensor {
	if slices.Equal(t.shape, t2.shape) {
		out := newTensor(t.shape...)
		for i := range out.data {
			out.data[i] = fn(t.data[i], t2.data[i])
		}
		return out
	}

	shape, err := broadcastShape(t.shape, t2.shape)
	if err != nil {
		panic(err)
	}

	out := newTensor(shape...)
	if len(out.data) == 0 {
		return out
	}

	as, bs := broadcastStrides(t.shape, shape), broadcastStrides(t2.shape, shape)
	idx := make([]int, len(shape))
	var ai, bi int
	for i := range out.data {
		out.data[i] = fn(t.data[ai], t2.data[bi])
		for d := len(shape) - 1; d >= 0; d-- {
			idx[d]++
			ai += as[d]
			bi += bs[d]
			if idx[d] < shape[d] {
				break
			}
			ai -= as[d] * shape[d]
			bi -= bs[d] * shape[d]
			idx[d] = 0
		}
	}
	return out
}

func broadcastShape(a, b []int) ([]int, error) {
	n := max(len(a), len(b))
	shape := make([]int, n)
	for i := range n {
		da, db := 1, 1
		if j := len(a) - n + i; j >= 0 {
			da = a[j]
		}
		if j := len(b) - n + i; j >= 0 {
			db = b[j]
		}

		switch {
		case da == db, db == 1:
			shape[i] = da
		case da == 1:
			shape[i] = db
		default:
			return nil, fmt.Errorf("cpu: shapes %v and %v cannot be broadcast", a, b)
		}
	}
	return shape, nil
}

// broadcastStrides returns the strides for reading a tensor of shape src as
// if it had shape dst. Repeated dimensions get stride 0.
func broadcastStrides(src, dst []int) []int {
	s := strides(src)
	out := make([]int, len(dst))
	off := len(dst) - len(src)
	for i := range src {
		if src[i] != 1 {
			out[off+i] = s[i]
		}
	}
	return out
}
