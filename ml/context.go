// context.go - Context and Tensor interfaces for tensor operations
package ml

// Context represents an execution context for tensor operations.
type Context interface {
	Zeros(shape ...int) Tensor
	FromFloats(s []float32, shape ...int) Tensor

	// Forward marks tensors as outputs of the current computation.
	Forward(...Tensor) Context

	// Compute makes sure the given tensors hold their final values.
	Compute(...Tensor)

	// NumThreads is the parallelism available to kernels run in this context.
	NumThreads() int

	Close()
}

// Tensor represents a multi-dimensional array in row-major order. Dimension
// 0 is the outermost axis, so image batches are laid out as (N, C, H, W).
type Tensor interface {
	Dim(n int) int
	Shape() []int
	DType() DType

	Floats() []float32

	// Add, Sub and Mul broadcast t2 against t, aligning trailing dimensions.
	Add(ctx Context, t2 Tensor) Tensor
	Sub(ctx Context, t2 Tensor) Tensor
	Mul(ctx Context, t2 Tensor) Tensor
	Scale(ctx Context, s float64) Tensor

	// Mulmat computes t2 @ tᵀ: t is (M, K), t2 is (..., K), the result (..., M).
	Mulmat(ctx Context, t2 Tensor) Tensor

	// Conv2D convolves t2 with the receiver as weight (out, in/groups, kh, kw).
	Conv2D(ctx Context, t2 Tensor, s0, s1, p0, p1, d0, d1, groups int) Tensor

	RELU(ctx Context) Tensor
	LeakyRELU(ctx Context, slope float32) Tensor
	Sigmoid(ctx Context) Tensor

	// Softmax normalizes over the last dimension.
	Softmax(ctx Context) Tensor

	// Mean and Max reduce the last dimension, keeping it with size 1.
	Mean(ctx Context) Tensor
	Max(ctx Context) Tensor

	Reshape(ctx Context, shape ...int) Tensor
	Permute(ctx Context, axes ...int) Tensor
	Contiguous(ctx Context) Tensor
	Concat(ctx Context, t2 Tensor, dim int) Tensor

	// Interpolate resizes a (N, C, H, W) tensor to dims.
	Interpolate(ctx Context, dims [4]int, samplingMode SamplingMode) Tensor
}
