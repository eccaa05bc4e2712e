package facemask

import (
	"math/rand/v2"

	"github.com/maskdetect/maskdetect/ml"
	"github.com/maskdetect/maskdetect/ml/nn"
)

// FPN merges three backbone outputs into pyramid levels of equal width.
// Deeper levels are upsampled and added to shallower ones.
type FPN struct {
	Output1 *nn.ConvBN `tensor:"output1"`
	Output2 *nn.ConvBN `tensor:"output2"`
	Output3 *nn.ConvBN `tensor:"output3"`
	Merge1  *nn.ConvBN `tensor:"merge1"`
	Merge2  *nn.ConvBN `tensor:"merge2"`
}

// leakySlope is used by the pyramid and context blocks. Wide models use a
// plain ReLU.
func leakySlope(out int) float32 {
	if out <= 64 {
		return 0.1
	}
	return 0
}

func newFPN(ctx ml.Context, r *rand.Rand, in [3]int, out int) *FPN {
	slope := leakySlope(out)
	lateral := func(in int) *nn.ConvBN {
		return nn.NewConvBN(ctx, r, in, out, 1, 1, 1).WithLeakyRELU(slope)
	}

	return &FPN{
		Output1: lateral(in[0]),
		Output2: lateral(in[1]),
		Output3: lateral(in[2]),
		Merge1:  nn.NewConvBN(ctx, r, out, out, 3, 1, 1).WithLeakyRELU(slope),
		Merge2:  nn.NewConvBN(ctx, r, out, out, 3, 1, 1).WithLeakyRELU(slope),
	}
}

func (f *FPN) Forward(ctx ml.Context, in [3]ml.Tensor) [3]ml.Tensor {
	output1 := f.Output1.Forward(ctx, in[0])
	output2 := f.Output2.Forward(ctx, in[1])
	output3 := f.Output3.Forward(ctx, in[2])

	output2 = f.Merge2.Forward(ctx, output2.Add(ctx, upsample(ctx, output3, output2)))
	output1 = f.Merge1.Forward(ctx, output1.Add(ctx, upsample(ctx, output2, output1)))

	return [3]ml.Tensor{output1, output2, output3}
}

// upsample resizes t to the spatial size of like with nearest sampling.
func upsample(ctx ml.Context, t, like ml.Tensor) ml.Tensor {
	return t.Interpolate(ctx, [4]int{t.Dim(0), t.Dim(1), like.Dim(2), like.Dim(3)}, ml.SamplingModeNearest)
}
