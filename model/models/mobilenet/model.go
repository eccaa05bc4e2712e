// Package mobilenet implements the MobileNetV1 ×0.25 backbone used by the
// face mask detector. Parameter names follow the PyTorch module, so ImageNet
// checkpoints bind without renaming.
package mobilenet

import (
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"slices"

	"github.com/maskdetect/maskdetect/ml"
	"github.com/maskdetect/maskdetect/ml/nn"
	"github.com/maskdetect/maskdetect/model"
)

const leakySlope = 0.1

var stages = []string{"stage1", "stage2", "stage3"}

var (
	channels = map[string]int{"stage1": 64, "stage2": 128, "stage3": 256}
	strides  = map[string]int{"stage1": 8, "stage2": 16, "stage3": 32}
)

const numClasses = 1000

type Model struct {
	Stage1 []Layer `tensor:"stage1"`
	Stage2 []Layer `tensor:"stage2"`
	Stage3 []Layer `tensor:"stage3"`

	// FC is the ImageNet classifier. Detectors drop it once pretrained
	// weights are loaded.
	FC *nn.Linear `tensor:"fc"`
}

// New creates a backbone with freshly initialized parameters.
func New(ctx ml.Context, r *rand.Rand) *Model {
	dw := func(in, out, stride int) Layer {
		return newDepthwiseSeparable(ctx, r, in, out, stride)
	}

	m := &Model{
		Stage1: []Layer{
			nn.NewConvBN(ctx, r, 3, 8, 3, 2, 1).WithLeakyRELU(leakySlope),
			dw(8, 16, 1),
			dw(16, 32, 2),
			dw(32, 32, 1),
			dw(32, 64, 2),
			dw(64, 64, 1),
		},
		Stage2: []Layer{dw(64, 128, 2)},
		Stage3: []Layer{dw(128, 256, 2), dw(256, 256, 1)},
	}

	for range 5 {
		m.Stage2 = append(m.Stage2, dw(128, 128, 1))
	}

	m.FC = nn.NewLinear(ctx, r, channels["stage3"], numClasses)
	return m
}

// Stages lists the stage names from shallow to deep.
func (m *Model) Stages() []string {
	return slices.Clone(stages)
}

// Channels returns the width of a stage output, or 0 for unknown stages.
func (m *Model) Channels(stage string) int {
	return channels[stage]
}

// Stride returns the total downsampling of a stage output, or 0 for
// unknown stages.
func (m *Model) Stride(stage string) int {
	return strides[stage]
}

// Forward runs the first n stages and returns their outputs in order.
func (m *Model) Forward(ctx ml.Context, t ml.Tensor, n int) []ml.Tensor {
	outs := make([]ml.Tensor, 0, n)
	for _, stage := range [][]Layer{m.Stage1, m.Stage2, m.Stage3}[:n] {
		for _, l := range stage {
			t = l.Forward(ctx, t)
		}
		outs = append(outs, t)
	}
	return outs
}

var ErrNoClassifier = errors.New("mobilenet: classifier was dropped")

// Logits classifies t into the ImageNet classes.
func (m *Model) Logits(ctx ml.Context, t ml.Tensor) (ml.Tensor, error) {
	if m.FC == nil {
		return nil, ErrNoClassifier
	}

	t = m.Forward(ctx, t, len(stages))[len(stages)-1]

	// global average pool
	n, c := t.Dim(0), t.Dim(1)
	t = t.Reshape(ctx, n, c, -1).Mean(ctx).Reshape(ctx, n, c)
	return m.FC.Forward(ctx, t), nil
}

// DropClassifier removes the ImageNet classifier.
func (m *Model) DropClassifier() {
	m.FC = nil
}

// LoadPretrained replaces every backbone parameter with the tensors stored
// at path. The checkpoint must hold exactly the backbone parameters once
// the data-parallel prefix is removed.
func (m *Model) LoadPretrained(path string, params ml.BackendParams) error {
	if m.FC == nil {
		return ErrNoClassifier
	}

	b, err := ml.NewBackend(path, params)
	if err != nil {
		return fmt.Errorf("loading pretrained backbone: %w", err)
	}

	if err := model.Bind(b, m, "", true); err != nil {
		b.Close()
		return fmt.Errorf("loading pretrained backbone %s: %w", path, err)
	}

	slog.Debug("loaded pretrained backbone", "path", path, "tensors", len(b.Names()))
	return nil
}
