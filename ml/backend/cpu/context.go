package cpu

import (
	"fmt"
	"slices"

	"github.com/maskdetect/maskdetect/ml"
)

// Context creates tensors and carries the kernel thread budget.
type Context struct {
	threads int
}

// NewContext returns a context whose kernels use up to threads goroutines.
func NewContext(threads int) *Context {
	return &Context{threads: max(threads, 1)}
}

func (c *Context) Zeros(shape ...int) ml.Tensor {
	return newTensor(shape...)
}

// FromFloats copies s into a new tensor of the given shape.
func (c *Context) FromFloats(s []float32, shape ...int) ml.Tensor {
	t := newTensor(shape...)
	if len(s) != len(t.data) {
		panic(fmt.Errorf("cpu: %d values do not fit shape %v", len(s), shape))
	}
	copy(t.data, s)
	return t
}

// Forward is a no-op: results are available as soon as an operation returns.
func (c *Context) Forward(...ml.Tensor) ml.Context {
	return c
}

func (c *Context) Compute(...ml.Tensor) {}

func (c *Context) NumThreads() int {
	return max(c.threads, 1)
}

func (c *Context) Close() {}

func cloneShape(shape []int) []int {
	if shape == nil {
		return []int{}
	}
	return slices.Clone(shape)
}
