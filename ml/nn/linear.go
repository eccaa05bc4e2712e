package nn

import (
	"math/rand/v2"

	"github.com/maskdetect/maskdetect/ml"
)

type Linear struct {
	Weight ml.Tensor `tensor:"weight"`
	Bias   ml.Tensor `tensor:"bias"`
}

func NewLinear(ctx ml.Context, r *rand.Rand, in, out int) *Linear {
	return &Linear{
		Weight: heNormal(ctx, r, in, out, in),
		Bias:   ctx.Zeros(out),
	}
}

func (m *Linear) Forward(ctx ml.Context, t ml.Tensor) ml.Tensor {
	t = m.Weight.Mulmat(ctx, t)
	if m.Bias != nil {
		t = t.Add(ctx, m.Bias)
	}

	return t
}
