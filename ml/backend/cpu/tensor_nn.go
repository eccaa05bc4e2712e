package cpu

import (
	"fmt"
	"math"

	"github.com/chewxy/math32"
	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/blas"
	"gonum.org/v1/gonum/blas/blas32"

	"github.com/maskdetect/maskdetect/ml"
)

// Conv2D convolves t2 (N, C, H, W) with the receiver (O, C/groups, KH, KW).
// s0, p0 and d0 apply to the width axis; s1, p1 and d1 to the height axis.
func (t *Tensor) Conv2D(ctx ml.Context, t2 ml.Tensor, s0, s1, p0, p1, d0, d1, groups int) ml.Tensor {
	x := asTensor(t2)
	if len(t.shape) != 4 || len(x.shape) != 4 {
		panic(fmt.Errorf("cpu: conv2d needs 4-D operands, got weight %v input %v", t.shape, x.shape))
	}

	n, c, h, w := x.shape[0], x.shape[1], x.shape[2], x.shape[3]
	o, cg, kh, kw := t.shape[0], t.shape[1], t.shape[2], t.shape[3]
	if groups < 1 || c%groups != 0 || o%groups != 0 || c/groups != cg {
		panic(fmt.Errorf("cpu: conv2d weight %v does not match input %v with %d groups", t.shape, x.shape, groups))
	}

	oh := (h+2*p1-d1*(kh-1)-1)/s1 + 1
	ow := (w+2*p0-d0*(kw-1)-1)/s0 + 1
	if oh <= 0 || ow <= 0 {
		panic(fmt.Errorf("cpu: conv2d output would be empty for input %v and weight %v", x.shape, t.shape))
	}

	out := newTensor(n, o, oh, ow)
	og := o / groups
	k := cg * kh * kw
	pointwise := kh == 1 && kw == 1 && s0 == 1 && s1 == 1 && p0 == 0 && p1 == 0

	var g errgroup.Group
	g.SetLimit(ctx.NumThreads())
	for b := range n {
		for grp := range groups {
			g.Go(func() error {
				in := x.data[(b*c+grp*cg)*h*w : (b*c+(grp+1)*cg)*h*w]

				var cols []float32
				if pointwise {
					cols = in
				} else {
					cols = make([]float32, k*oh*ow)
					im2col(in, cols, cg, h, w, kh, kw, oh, ow, s0, s1, p0, p1, d0, d1)
				}

				blas32.Gemm(blas.NoTrans, blas.NoTrans, 1,
					blas32.General{Rows: og, Cols: k, Stride: k, Data: t.data[grp*og*k : (grp+1)*og*k]},
					blas32.General{Rows: k, Cols: oh * ow, Stride: oh * ow, Data: cols},
					0,
					blas32.General{Rows: og, Cols: oh * ow, Stride: oh * ow, Data: out.data[(b*o+grp*og)*oh*ow : (b*o+(grp+1)*og)*oh*ow]})
				return nil
			})
		}
	}

	if err := g.Wait(); err != nil {
		panic(err)
	}

	return out
}

// im2col unfolds in (c, h, w) into cols (c*kh*kw, oh*ow). Taps that fall
// into the padding read as zero.
func im2col(in, cols []float32, c, h, w, kh, kw, oh, ow, s0, s1, p0, p1, d0, d1 int) {
	row := 0
	for ch := range c {
		plane := in[ch*h*w : (ch+1)*h*w]
		for ky := range kh {
			for kx := range kw {
				dst := cols[row*oh*ow : (row+1)*oh*ow]
				for y := range oh {
					iy := y*s1 - p1 + ky*d1
					for x := range ow {
						ix := x*s0 - p0 + kx*d0
						if iy < 0 || iy >= h || ix < 0 || ix >= w {
							dst[y*ow+x] = 0
							continue
						}
						dst[y*ow+x] = plane[iy*w+ix]
					}
				}
				row++
			}
		}
	}
}

func (t *Tensor) RELU(ctx ml.Context) ml.Tensor {
	return t.unary(func(v float32) float32 { return max(v, 0) })
}

func (t *Tensor) LeakyRELU(ctx ml.Context, slope float32) ml.Tensor {
	return t.unary(func(v float32) float32 {
		if v < 0 {
			return v * slope
		}
		return v
	})
}

func (t *Tensor) Sigmoid(ctx ml.Context) ml.Tensor {
	return t.unary(func(v float32) float32 { return 1 / (1 + math32.Exp(-v)) })
}

// Softmax normalizes each row of the last dimension to sum to one.
func (t *Tensor) Softmax(ctx ml.Context) ml.Tensor {
	out := newTensor(t.shape...)
	t.rows(func(i int, row []float32) {
		dst := out.data[i*len(row) : (i+1)*len(row)]
		m := math32.Inf(-1)
		for _, v := range row {
			m = max(m, v)
		}

		var sum float32
		for j, v := range row {
			dst[j] = math32.Exp(v - m)
			sum += dst[j]
		}

		for j := range dst {
			dst[j] /= sum
		}
	})
	return out
}

func (t *Tensor) Mean(ctx ml.Context) ml.Tensor {
	return t.reduce(func(row []float32) float32 {
		var sum float32
		for _, v := range row {
			sum += v
		}
		return sum / float32(len(row))
	})
}

func (t *Tensor) Max(ctx ml.Context) ml.Tensor {
	return t.reduce(func(row []float32) float32 {
		m := math32.Inf(-1)
		for _, v := range row {
			m = max(m, v)
		}
		return m
	})
}

// rows calls fn for each contiguous run of the last dimension.
func (t *Tensor) rows(fn func(int, []float32)) {
	if len(t.shape) == 0 {
		panic(fmt.Errorf("cpu: operation needs at least one dimension"))
	}

	n := t.shape[len(t.shape)-1]
	if n == 0 {
		panic(fmt.Errorf("cpu: cannot reduce empty dimension of %v", t.shape))
	}

	for i := range len(t.data) / n {
		fn(i, t.data[i*n:(i+1)*n])
	}
}

func (t *Tensor) reduce(fn func([]float32) float32) *Tensor {
	shape := cloneShape(t.shape)
	if len(shape) > 0 {
		shape[len(shape)-1] = 1
	}

	out := newTensor(shape...)
	t.rows(func(i int, row []float32) {
		out.data[i] = fn(row)
	})
	return out
}

// Interpolate resizes the spatial dimensions of a (N, C, H, W) tensor.
// Nearest sampling picks source index floor(dst * in / out).
func (t *Tensor) Interpolate(ctx ml.Context, dims [4]int, samplingMode ml.SamplingMode) ml.Tensor {
	if samplingMode != ml.SamplingModeNearest {
		panic(fmt.Errorf("cpu: unsupported sampling mode %d", samplingMode))
	}

	if len(t.shape) != 4 || dims[0] != t.shape[0] || dims[1] != t.shape[1] {
		panic(fmt.Errorf("cpu: cannot interpolate %v to %v", t.shape, dims))
	}

	n, c, h, w := t.shape[0], t.shape[1], t.shape[2], t.shape[3]
	oh, ow := dims[2], dims[3]
	out := newTensor(n, c, oh, ow)

	ys := nearest(h, oh)
	xs := nearest(w, ow)
	for p := range n * c {
		src := t.data[p*h*w : (p+1)*h*w]
		dst := out.data[p*oh*ow : (p+1)*oh*ow]
		for y, sy := range ys {
			for x, sx := range xs {
				dst[y*ow+x] = src[sy*w+sx]
			}
		}
	}
	return out
}

func nearest(in, out int) []int {
	idx := make([]int, out)
	scale := float64(in) / float64(out)
	for i := range idx {
		idx[i] = min(int(math.Floor(float64(i)*scale)), in-1)
	}
	return idx
}
