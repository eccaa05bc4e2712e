package nn

import (
	"math/rand/v2"

	"github.com/maskdetect/maskdetect/ml"
)

// ConvBN is a bias-free convolution followed by batch normalization and an
// optional leaky ReLU. PyTorch stores it as a Sequential, so the convolution
// is child 0 and the norm child 1.
type ConvBN struct {
	Conv *Conv2D      `tensor:"0"`
	Norm *BatchNorm2D `tensor:"1"`

	stride, padding, groups int

	activate bool
	slope    float32
}

// NewConvBN creates a k×k block with "same" padding.
func NewConvBN(ctx ml.Context, r *rand.Rand, in, out, k, stride, groups int) *ConvBN {
	return &ConvBN{
		Conv:    NewConv2D(ctx, r, in, out, k, groups, false),
		Norm:    NewBatchNorm2D(ctx, out),
		stride:  stride,
		padding: k / 2,
		groups:  groups,
	}
}

// WithLeakyRELU applies a leaky ReLU after normalization. A slope of 0 is a
// plain ReLU.
func (m *ConvBN) WithLeakyRELU(slope float32) *ConvBN {
	m.activate, m.slope = true, slope
	return m
}

func (m *ConvBN) Forward(ctx ml.Context, t ml.Tensor) ml.Tensor {
	t = m.Conv.Forward(ctx, t, m.stride, m.stride, m.padding, m.padding, 1, 1, m.groups)
	t = m.Norm.Forward(ctx, t, BatchNormEps)
	if m.activate {
		t = t.LeakyRELU(ctx, m.slope)
	}
	return t
}
