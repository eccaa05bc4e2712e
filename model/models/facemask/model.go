// Package facemask implements a single-shot face and face mask detector:
// backbone taps feed a feature pyramid, each level is refined by its own
// context module, and per-level heads predict anchor classes and box
// offsets. A heatmap branch on the middle level adds a face confidence map.
package facemask

import (
	"fmt"
	"log/slog"
	"math/rand/v2"
	"slices"

	"github.com/maskdetect/maskdetect/ml"
	"github.com/maskdetect/maskdetect/ml/nn"
	"github.com/maskdetect/maskdetect/model"
)

// initSeed fixes the initial parameters so that models built without
// weights are reproducible.
const initSeed = 0x6d61736b

const numLevels = 3

type Model struct {
	model.Base

	Body Backbone `tensor:"body"`
	FPN  *FPN     `tensor:"fpn"`

	Context1 ContextModule `tensor:"context1"`
	Context2 ContextModule `tensor:"context2"`
	Context3 ContextModule `tensor:"context3"`

	// Heatmap is applied to the middle pyramid level only.
	Heatmap *nn.ConvBN `tensor:"feature2heatmap"`

	ClassHead []*ClassHead `tensor:"ClassHead"`
	BboxHead  []*BboxHead  `tensor:"BboxHead"`

	// taps are the backbone stage indices feeding the pyramid, shallow first.
	taps [numLevels]int

	// stride is the downsampling of the deepest tap; input sizes must be a
	// multiple of it.
	stride int
}

// New builds the detector described by the base configuration.
func New(base model.Base) (model.Model, error) {
	c := base.Config()

	newBackbone, ok := backbones[c.Name]
	if !ok {
		return nil, fmt.Errorf("%w: unknown backbone %s", model.ErrUnsupportedModel, c.Name)
	}

	ctx := base.Backend().NewContext()
	defer ctx.Close()

	r := rand.New(rand.NewPCG(initSeed, initSeed))
	body, err := newBackbone(ctx, r, c)
	if err != nil {
		return nil, err
	}

	m, err := newModel(ctx, r, base, body)
	if err != nil {
		return nil, err
	}

	return m, nil
}

func newModel(ctx ml.Context, r *rand.Rand, base model.Base, body Backbone) (*Model, error) {
	c := base.Config()
	m := Model{Base: base, Body: body}

	stages := body.Stages()
	for name := range c.ReturnLayers {
		if !slices.Contains(stages, name) {
			return nil, fmt.Errorf("%w: %s", model.ErrMissingTap, name)
		}
	}

	var n int
	for i, stage := range stages {
		if _, ok := c.ReturnLayers[stage]; ok && n < numLevels {
			m.taps[n] = i
			n++
		}
	}

	if n != numLevels {
		return nil, fmt.Errorf("%w: need %d backbone taps, got %d", model.ErrInvalidConfig, numLevels, n)
	}

	var in [numLevels]int
	for i, tap := range m.taps {
		stage := stages[tap]
		in[i] = c.InChannel * (2 << i)
		if got := body.Channels(stage); got != in[i] {
			return nil, fmt.Errorf("%w: %s has %d channels, in_channel %d implies %d", model.ErrInvalidConfig, stage, got, c.InChannel, in[i])
		}

		if i > 0 && body.Stride(stage) != 2*body.Stride(stages[m.taps[i-1]]) {
			return nil, fmt.Errorf("%w: tap %s does not halve the resolution of %s", model.ErrInvalidConfig, stage, stages[m.taps[i-1]])
		}
	}
	m.stride = body.Stride(stages[m.taps[numLevels-1]])

	out := c.OutChannel
	m.FPN = newFPN(ctx, r, in, out)
	m.Context1 = newContextModule(ctx, r, out, c.Attention)
	m.Context2 = newContextModule(ctx, r, out, c.Attention)
	m.Context3 = newContextModule(ctx, r, out, c.Attention)
	m.Heatmap = nn.NewConvBN(ctx, r, out, 1, 1, 1, 1)

	for range numLevels {
		m.ClassHead = append(m.ClassHead, newClassHead(ctx, r, out, c.NumAnchors, c.NumClasses))
		m.BboxHead = append(m.BboxHead, newBboxHead(ctx, r, out, c.NumAnchors))
	}

	slog.Debug("facemask detector", "taps", m.taps, "stride", m.stride, "attention", c.Attention)
	return &m, nil
}

// Stride is the factor input heights and widths must be divisible by.
func (m *Model) Stride() int {
	return m.stride
}

func (m *Model) Forward(ctx ml.Context, t ml.Tensor) (model.Output, error) {
	h, w := t.Dim(2), t.Dim(3)
	if h < m.stride || w < m.stride || h%m.stride != 0 || w%m.stride != 0 {
		return model.Output{}, fmt.Errorf("%w: input %dx%d is not a positive multiple of %d", model.ErrShapeMismatch, h, w, m.stride)
	}

	outs := m.Body.Forward(ctx, t, m.taps[numLevels-1]+1)
	pyramid := m.FPN.Forward(ctx, [numLevels]ml.Tensor{outs[m.taps[0]], outs[m.taps[1]], outs[m.taps[2]]})

	features := [numLevels]ml.Tensor{
		m.Context1.Forward(ctx, pyramid[0]),
		m.Context2.Forward(ctx, pyramid[1]),
		m.Context3.Forward(ctx, pyramid[2]),
	}

	heatmap := m.Heatmap.Forward(ctx, features[1]).Sigmoid(ctx)

	var bboxes, classes ml.Tensor
	for i, feature := range features {
		bbox := m.BboxHead[i].Forward(ctx, feature)
		class := m.ClassHead[i].Forward(ctx, feature)
		if i == 0 {
			bboxes, classes = bbox, class
			continue
		}

		bboxes = bboxes.Concat(ctx, bbox, 1)
		classes = classes.Concat(ctx, class, 1)
	}

	if m.Mode() == model.ModeInference {
		classes = classes.Softmax(ctx)
	}

	return model.Output{
		BBoxRegressions: bboxes,
		Classifications: classes,
		Heatmap:         heatmap,
	}, nil
}

func init() {
	model.Register("mobilenet0.25", New)
}
