package nn

import (
	"math"
	"math/rand/v2"

	"github.com/maskdetect/maskdetect/ml"
)

type Conv2D struct {
	Weight ml.Tensor `tensor:"weight"`
	Bias   ml.Tensor `tensor:"bias"`
}

// NewConv2D creates a k×k convolution with He-normal weights. The bias is
// zero when bias is true and absent otherwise.
func NewConv2D(ctx ml.Context, r *rand.Rand, in, out, k, groups int, bias bool) *Conv2D {
	fanIn := in / groups * k * k
	m := &Conv2D{Weight: heNormal(ctx, r, fanIn, out, in/groups, k, k)}
	if bias {
		m.Bias = ctx.Zeros(out)
	}
	return m
}

func (m *Conv2D) Forward(ctx ml.Context, t ml.Tensor, s0, s1, p0, p1, d0, d1, groups int) ml.Tensor {
	t = m.Weight.Conv2D(ctx, t, s0, s1, p0, p1, d0, d1, groups)
	if m.Bias != nil {
		// bias is (out,) while t is (batch, out, height, width)
		t = t.Add(ctx, m.Bias.Reshape(ctx, 1, -1, 1, 1))
	}
	return t
}

// heNormal draws a tensor from N(0, 2/fanIn).
func heNormal(ctx ml.Context, r *rand.Rand, fanIn int, shape ...int) ml.Tensor {
	n := 1
	for _, d := range shape {
		n *= d
	}

	std := math.Sqrt(2 / float64(max(fanIn, 1)))
	s := make([]float32, n)
	for i := range s {
		s[i] = float32(r.NormFloat64() * std)
	}
	return ctx.FromFloats(s, shape...)
}
