package mobilenet

import (
	"math/rand/v2"

	"github.com/maskdetect/maskdetect/ml"
	"github.com/maskdetect/maskdetect/ml/nn"
)

// Layer is one block of a stage.
type Layer interface {
	Forward(ml.Context, ml.Tensor) ml.Tensor
}

// DepthwiseSeparable is a 3×3 depthwise convolution followed by a 1×1
// pointwise convolution, each with batch norm and a leaky ReLU. Children 2
// and 5 of the PyTorch Sequential are the activations and hold no weights.
type DepthwiseSeparable struct {
	DepthwiseConv *nn.Conv2D      `tensor:"0"`
	DepthwiseNorm *nn.BatchNorm2D `tensor:"1"`
	PointwiseConv *nn.Conv2D      `tensor:"3"`
	PointwiseNorm *nn.BatchNorm2D `tensor:"4"`

	channels, stride int
}

func newDepthwiseSeparable(ctx ml.Context, r *rand.Rand, in, out, stride int) *DepthwiseSeparable {
	return &DepthwiseSeparable{
		DepthwiseConv: nn.NewConv2D(ctx, r, in, in, 3, in, false),
		DepthwiseNorm: nn.NewBatchNorm2D(ctx, in),
		PointwiseConv: nn.NewConv2D(ctx, r, in, out, 1, 1, false),
		PointwiseNorm: nn.NewBatchNorm2D(ctx, out),
		channels:      in,
		stride:        stride,
	}
}

func (l *DepthwiseSeparable) Forward(ctx ml.Context, t ml.Tensor) ml.Tensor {
	t = l.DepthwiseConv.Forward(ctx, t, l.stride, l.stride, 1, 1, 1, 1, l.channels)
	t = l.DepthwiseNorm.Forward(ctx, t, nn.BatchNormEps).LeakyRELU(ctx, leakySlope)
	t = l.PointwiseConv.Forward(ctx, t, 1, 1, 0, 0, 1, 1, 1)
	return l.PointwiseNorm.Forward(ctx, t, nn.BatchNormEps).LeakyRELU(ctx, leakySlope)
}
