package nn

import (
	"math"
	"math/rand/v2"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"

	"github.com/maskdetect/maskdetect/ml/backend/cpu"
)

func TestConv2DBias(t *testing.T) {
	ctx := cpu.NewContext(1)
	m := &Conv2D{
		Weight: ctx.FromFloats([]float32{1, 2}, 2, 1, 1, 1),
		Bias:   ctx.FromFloats([]float32{10, 20}, 2),
	}

	x := ctx.FromFloats([]float32{1, 2, 3, 4}, 1, 1, 2, 2)
	got := m.Forward(ctx, x, 1, 1, 0, 0, 1, 1, 1)
	want := []float32{11, 12, 13, 14, 22, 24, 26, 28}
	if diff := cmp.Diff(want, got.Floats()); diff != "" {
		t.Errorf("(-want +got):\n%s", diff)
	}
}

func TestNewConv2D(t *testing.T) {
	ctx := cpu.NewContext(1)

	m := NewConv2D(ctx, rand.New(rand.NewPCG(1, 2)), 8, 16, 3, 8, false)
	if diff := cmp.Diff([]int{16, 1, 3, 3}, m.Weight.Shape()); diff != "" {
		t.Errorf("depthwise weight (-want +got):\n%s", diff)
	}
	if m.Bias != nil {
		t.Error("expected no bias")
	}

	m = NewConv2D(ctx, rand.New(rand.NewPCG(1, 2)), 4, 6, 1, 1, true)
	if diff := cmp.Diff([]int{6}, m.Bias.Shape()); diff != "" {
		t.Errorf("bias (-want +got):\n%s", diff)
	}

	again := NewConv2D(ctx, rand.New(rand.NewPCG(1, 2)), 4, 6, 1, 1, true)
	if diff := cmp.Diff(m.Weight.Floats(), again.Weight.Floats()); diff != "" {
		t.Errorf("same seed gave different weights (-first +second):\n%s", diff)
	}
}

func TestHeNormalScale(t *testing.T) {
	ctx := cpu.NewContext(1)
	m := NewConv2D(ctx, rand.New(rand.NewPCG(7, 7)), 64, 64, 3, 1, false)

	var sum, sq float64
	w := m.Weight.Floats()
	for _, v := range w {
		sum += float64(v)
		sq += float64(v) * float64(v)
	}

	mean := sum / float64(len(w))
	std := math.Sqrt(sq/float64(len(w)) - mean*mean)
	want := math.Sqrt(2.0 / (64 * 9))
	if math.Abs(std-want)/want > 0.05 {
		t.Errorf("std = %v, want about %v", std, want)
	}
}

func TestBatchNorm2D(t *testing.T) {
	ctx := cpu.NewContext(1)
	m := &BatchNorm2D{
		Weight:      ctx.FromFloats([]float32{2, 1}, 2),
		Bias:        ctx.FromFloats([]float32{1, 0}, 2),
		RunningMean: ctx.FromFloats([]float32{1, -1}, 2),
		RunningVar:  ctx.FromFloats([]float32{4, 1}, 2),
	}

	x := ctx.FromFloats([]float32{1, 3, -1, 0}, 1, 2, 1, 2)
	got := m.Forward(ctx, x, 0)
	want := []float32{1, 3, 0, 1}
	if diff := cmp.Diff(want, got.Floats(), cmpopts.EquateApprox(0, 1e-6)); diff != "" {
		t.Errorf("(-want +got):\n%s", diff)
	}
}

func TestNewBatchNorm2DIdentity(t *testing.T) {
	ctx := cpu.NewContext(1)
	m := NewBatchNorm2D(ctx, 3)

	x := ctx.FromFloats([]float32{-1, 0, 2}, 1, 3, 1, 1)
	got := m.Forward(ctx, x, BatchNormEps)
	if diff := cmp.Diff(x.Floats(), got.Floats(), cmpopts.EquateApprox(0, 1e-4)); diff != "" {
		t.Errorf("(-want +got):\n%s", diff)
	}
}

func TestLinear(t *testing.T) {
	ctx := cpu.NewContext(1)
	m := &Linear{
		Weight: ctx.FromFloats([]float32{1, 1, 0, 2}, 2, 2),
		Bias:   ctx.FromFloats([]float32{0.5, -0.5}, 2),
	}

	got := m.Forward(ctx, ctx.FromFloats([]float32{1, 2}, 1, 2))
	if diff := cmp.Diff([]float32{3.5, 3.5}, got.Floats()); diff != "" {
		t.Errorf("(-want +got):\n%s", diff)
	}

	l := NewLinear(ctx, rand.New(rand.NewPCG(3, 4)), 5, 7)
	if diff := cmp.Diff([]int{7, 5}, l.Weight.Shape()); diff != "" {
		t.Errorf("weight (-want +got):\n%s", diff)
	}
}

func TestConvBN(t *testing.T) {
	ctx := cpu.NewContext(1)
	r := rand.New(rand.NewPCG(5, 5))

	m := NewConvBN(ctx, r, 4, 8, 3, 2, 1)
	if m.Conv.Bias != nil {
		t.Error("expected bias-free convolution")
	}

	x := ctx.FromFloats(make([]float32, 4*6*6), 1, 4, 6, 6)
	if diff := cmp.Diff([]int{1, 8, 3, 3}, m.Forward(ctx, x).Shape()); diff != "" {
		t.Errorf("strided shape (-want +got):\n%s", diff)
	}

	// identity convolution: only the activation changes values
	id := &ConvBN{
		Conv:    &Conv2D{Weight: ctx.FromFloats([]float32{1}, 1, 1, 1, 1)},
		Norm:    NewBatchNorm2D(ctx, 1),
		stride:  1,
		padding: 0,
		groups:  1,
	}
	x = ctx.FromFloats([]float32{-10, 10}, 1, 1, 1, 2)

	if diff := cmp.Diff([]float32{-10, 10}, id.Forward(ctx, x).Floats(), cmpopts.EquateApprox(0, 1e-3)); diff != "" {
		t.Errorf("no activation (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]float32{-1, 10}, id.WithLeakyRELU(0.1).Forward(ctx, x).Floats(), cmpopts.EquateApprox(0, 1e-3)); diff != "" {
		t.Errorf("leaky (-want +got):\n%s", diff)
	}
}
