package nn

import (
	"fmt"

	"github.com/chewxy/math32"

	"github.com/maskdetect/maskdetect/ml"
)

// BatchNormEps is the variance epsilon PyTorch uses for BatchNorm2d.
const BatchNormEps = 1e-5

// BatchNorm2D normalizes (N, C, H, W) inputs with running statistics.
type BatchNorm2D struct {
	Weight      ml.Tensor `tensor:"weight"`
	Bias        ml.Tensor `tensor:"bias"`
	RunningMean ml.Tensor `tensor:"running_mean"`
	RunningVar  ml.Tensor `tensor:"running_var"`
}

func NewBatchNorm2D(ctx ml.Context, c int) *BatchNorm2D {
	ones := make([]float32, c)
	for i := range ones {
		ones[i] = 1
	}

	return &BatchNorm2D{
		Weight:      ctx.FromFloats(ones, c),
		Bias:        ctx.Zeros(c),
		RunningMean: ctx.Zeros(c),
		RunningVar:  ctx.FromFloats(ones, c),
	}
}

// Forward folds the statistics into a per-channel scale and shift.
func (m *BatchNorm2D) Forward(ctx ml.Context, t ml.Tensor, eps float32) ml.Tensor {
	weight, bias := m.Weight.Floats(), m.Bias.Floats()
	mean, variance := m.RunningMean.Floats(), m.RunningVar.Floats()

	c := len(weight)
	if len(bias) != c || len(mean) != c || len(variance) != c || t.Dim(1) != c {
		panic(fmt.Errorf("nn: batch norm with %d channels applied to %v", c, t.Shape()))
	}

	scale := make([]float32, c)
	shift := make([]float32, c)
	for i := range c {
		scale[i] = weight[i] / math32.Sqrt(variance[i]+eps)
		shift[i] = bias[i] - mean[i]*scale[i]
	}

	return t.Mul(ctx, ctx.FromFloats(scale, 1, c, 1, 1)).Add(ctx, ctx.FromFloats(shift, 1, c, 1, 1))
}
