package facemask

import (
	"math/rand/v2"

	"github.com/maskdetect/maskdetect/ml"
	"github.com/maskdetect/maskdetect/ml/nn"
)

// ClassHead predicts numClasses logits for every anchor at every position.
type ClassHead struct {
	Conv1x1 *nn.Conv2D `tensor:"conv1x1"`

	numClasses int
}

func newClassHead(ctx ml.Context, r *rand.Rand, in, numAnchors, numClasses int) *ClassHead {
	return &ClassHead{
		Conv1x1:    nn.NewConv2D(ctx, r, in, numAnchors*numClasses, 1, 1, true),
		numClasses: numClasses,
	}
}

// Forward returns (batch, anchors·h·w, numClasses).
func (h *ClassHead) Forward(ctx ml.Context, t ml.Tensor) ml.Tensor {
	return anchorRows(ctx, h.Conv1x1, t, h.numClasses)
}

// BboxHead predicts four box offsets for every anchor at every position.
type BboxHead struct {
	Conv1x1 *nn.Conv2D `tensor:"conv1x1"`
}

func newBboxHead(ctx ml.Context, r *rand.Rand, in, numAnchors int) *BboxHead {
	return &BboxHead{Conv1x1: nn.NewConv2D(ctx, r, in, numAnchors*4, 1, 1, true)}
}

// Forward returns (batch, anchors·h·w, 4).
func (h *BboxHead) Forward(ctx ml.Context, t ml.Tensor) ml.Tensor {
	return anchorRows(ctx, h.Conv1x1, t, 4)
}

// anchorRows projects t and flattens it so that rows run over height, then
// width, then anchor.
func anchorRows(ctx ml.Context, conv *nn.Conv2D, t ml.Tensor, k int) ml.Tensor {
	t = conv.Forward(ctx, t, 1, 1, 0, 0, 1, 1, 1)
	t = t.Permute(ctx, 0, 2, 3, 1).Contiguous(ctx)
	return t.Reshape(ctx, t.Dim(0), -1, k)
}
