package ml_test

import (
	"testing"

	"github.com/maskdetect/maskdetect/ml"
	"github.com/maskdetect/maskdetect/ml/backend/cpu"
)

func arange(n int) []float32 {
	s := make([]float32, n)
	for i := range s {
		s[i] = float32(i)
	}
	return s
}

func TestDump(t *testing.T) {
	ctx := cpu.NewContext(1)

	cases := []struct {
		name  string
		shape []int
		opts  []ml.DumpOptions
		want  string
	}{
		{
			name:  "matrix",
			shape: []int{2, 3},
			opts:  []ml.DumpOptions{ml.DumpWithPrecision(1)},
			want:  "[[ 0.0,  1.0,  2.0],\n [ 3.0,  4.0,  5.0]]",
		},
		{
			name:  "edge items",
			shape: []int{10},
			opts:  []ml.DumpOptions{ml.DumpWithPrecision(0), ml.DumpWithThreshold(5), ml.DumpWithEdgeItems(2)},
			want:  "[ 0,  1, ...,  8,  9]",
		},
		{
			name:  "skipped rows",
			shape: []int{4, 2},
			opts:  []ml.DumpOptions{ml.DumpWithPrecision(0), ml.DumpWithThreshold(1), ml.DumpWithEdgeItems(1)},
			want:  "[[ 0,  1],\n ..., \n [ 6,  7]]",
		},
	}

	for _, tt := range cases {
		t.Run(tt.name, func(t *testing.T) {
			tensor := ctx.FromFloats(arange(mulShape(tt.shape)), tt.shape...)
			if got := ml.Dump(ctx, tensor, tt.opts...); got != tt.want {
				t.Errorf("Dump() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestDumpNegative(t *testing.T) {
	ctx := cpu.NewContext(1)
	got := ml.Dump(ctx, ctx.FromFloats([]float32{-1, 2}, 2), ml.DumpWithPrecision(0))
	if got != "[-1,  2]" {
		t.Errorf("Dump() = %q", got)
	}
}

func mulShape(shape []int) int {
	n := 1
	for _, d := range shape {
		n *= d
	}
	return n
}
