package facemask

import (
	"math/rand/v2"

	"github.com/maskdetect/maskdetect/ml"
	"github.com/maskdetect/maskdetect/ml/nn"
)

// ContextModule refines one pyramid level. The output has the same shape
// as the input.
type ContextModule interface {
	Forward(ml.Context, ml.Tensor) ml.Tensor
}

func newContextModule(ctx ml.Context, r *rand.Rand, channels int, attention bool) ContextModule {
	if attention {
		return newRCAM(ctx, r, channels)
	}
	return newSSH(ctx, r, channels)
}

// SSH widens the receptive field with parallel 3×3, 5×5 and 7×7 branches.
// The larger kernels are built from stacked 3×3 convolutions and share
// their first layer.
type SSH struct {
	Conv3x3   *nn.ConvBN `tensor:"conv3X3"`
	Conv5x5_1 *nn.ConvBN `tensor:"conv5X5_1"`
	Conv5x5_2 *nn.ConvBN `tensor:"conv5X5_2"`
	Conv7x7_2 *nn.ConvBN `tensor:"conv7X7_2"`
	Conv7x7_3 *nn.ConvBN `tensor:"conv7x7_3"`
}

// newSSH requires channels to be a multiple of 4.
func newSSH(ctx ml.Context, r *rand.Rand, channels int) *SSH {
	slope := leakySlope(channels)
	half, quarter := channels/2, channels/4
	return &SSH{
		Conv3x3:   nn.NewConvBN(ctx, r, channels, half, 3, 1, 1),
		Conv5x5_1: nn.NewConvBN(ctx, r, channels, quarter, 3, 1, 1).WithLeakyRELU(slope),
		Conv5x5_2: nn.NewConvBN(ctx, r, quarter, quarter, 3, 1, 1),
		Conv7x7_2: nn.NewConvBN(ctx, r, quarter, quarter, 3, 1, 1).WithLeakyRELU(slope),
		Conv7x7_3: nn.NewConvBN(ctx, r, quarter, quarter, 3, 1, 1),
	}
}

func (m *SSH) Forward(ctx ml.Context, t ml.Tensor) ml.Tensor {
	conv3x3 := m.Conv3x3.Forward(ctx, t)

	conv5x5_1 := m.Conv5x5_1.Forward(ctx, t)
	conv5x5 := m.Conv5x5_2.Forward(ctx, conv5x5_1)

	conv7x7 := m.Conv7x7_3.Forward(ctx, m.Conv7x7_2.Forward(ctx, conv5x5_1))

	return conv3x3.Concat(ctx, conv5x5, 1).Concat(ctx, conv7x7, 1).RELU(ctx)
}

// RCAM is an SSH block followed by channel and spatial attention.
type RCAM struct {
	*SSH

	ChannelAttention *ChannelAttention `tensor:"ca"`
	SpatialAttention *SpatialAttention `tensor:"sa"`
}

func newRCAM(ctx ml.Context, r *rand.Rand, channels int) *RCAM {
	return &RCAM{
		SSH:              newSSH(ctx, r, channels),
		ChannelAttention: newChannelAttention(ctx, r, channels),
		SpatialAttention: newSpatialAttention(ctx, r),
	}
}

func (m *RCAM) Forward(ctx ml.Context, t ml.Tensor) ml.Tensor {
	t = m.SSH.Forward(ctx, t)
	t = t.Mul(ctx, m.ChannelAttention.Forward(ctx, t))
	return t.Mul(ctx, m.SpatialAttention.Forward(ctx, t))
}

// ChannelAttention weighs channels by a shared bottleneck MLP applied to
// their average and maximum activations.
type ChannelAttention struct {
	FC1 *nn.Conv2D `tensor:"fc1"`
	FC2 *nn.Conv2D `tensor:"fc2"`
}

const attentionReduction = 16

func newChannelAttention(ctx ml.Context, r *rand.Rand, channels int) *ChannelAttention {
	hidden := max(channels/attentionReduction, 1)
	return &ChannelAttention{
		FC1: nn.NewConv2D(ctx, r, channels, hidden, 1, 1, false),
		FC2: nn.NewConv2D(ctx, r, hidden, channels, 1, 1, false),
	}
}

// Forward returns per-channel weights of shape (batch, channels, 1, 1).
func (m *ChannelAttention) Forward(ctx ml.Context, t ml.Tensor) ml.Tensor {
	n, c := t.Dim(0), t.Dim(1)
	flat := t.Reshape(ctx, n, c, -1)

	mlp := func(pooled ml.Tensor) ml.Tensor {
		pooled = pooled.Reshape(ctx, n, c, 1, 1)
		pooled = m.FC1.Forward(ctx, pooled, 1, 1, 0, 0, 1, 1, 1).RELU(ctx)
		return m.FC2.Forward(ctx, pooled, 1, 1, 0, 0, 1, 1, 1)
	}

	return mlp(flat.Mean(ctx)).Add(ctx, mlp(flat.Max(ctx))).Sigmoid(ctx)
}

// SpatialAttention weighs positions by a 7×7 convolution over the channel
// average and maximum.
type SpatialAttention struct {
	Conv1 *nn.Conv2D `tensor:"conv1"`
}

func newSpatialAttention(ctx ml.Context, r *rand.Rand) *SpatialAttention {
	return &SpatialAttention{Conv1: nn.NewConv2D(ctx, r, 2, 1, 7, 1, false)}
}

// Forward returns per-position weights of shape (batch, 1, h, w).
func (m *SpatialAttention) Forward(ctx ml.Context, t ml.Tensor) ml.Tensor {
	channelsLast := t.Permute(ctx, 0, 2, 3, 1).Contiguous(ctx)
	avg := channelsLast.Mean(ctx).Permute(ctx, 0, 3, 1, 2)
	peak := channelsLast.Max(ctx).Permute(ctx, 0, 3, 1, 2)

	t = m.Conv1.Forward(ctx, avg.Concat(ctx, peak, 1), 1, 1, 3, 3, 1, 1, 1)
	return t.Sigmoid(ctx)
}
