// Package model builds detectors from a Config and runs them.
//
// Architectures live in model/models and register a constructor under the
// configuration name they serve. Parameters are created with initial values
// at construction and replaced by checkpoint tensors through Bind.
package model

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/maskdetect/maskdetect/envconfig"
	"github.com/maskdetect/maskdetect/ml"
	_ "github.com/maskdetect/maskdetect/ml/backend"
)

var (
	ErrUnsupportedModel = errors.New("model not supported")
	ErrInvalidConfig    = errors.New("invalid model config")
	ErrMissingTap       = errors.New("backbone has no such layer")
	ErrShapeMismatch    = errors.New("shape mismatch")
	ErrMissingTensor    = errors.New("missing tensor")
	ErrUnexpectedTensor = errors.New("unexpected tensor")
)

// Output is the result of one forward pass.
type Output struct {
	// BBoxRegressions is (batch, anchors, 4).
	BBoxRegressions ml.Tensor
	// Classifications is (batch, anchors, classes): logits in ModeTrain,
	// probabilities in ModeInference.
	Classifications ml.Tensor
	// Heatmap is (batch, 1, h, w) at the middle pyramid level.
	Heatmap ml.Tensor
}

// Model is implemented by every detector architecture.
type Model interface {
	Forward(ml.Context, ml.Tensor) (Output, error)

	Backend() ml.Backend
	Mode() Mode
	Config() Config
}

// Base implements the shared Model methods.
type Base struct {
	b    ml.Backend
	mode Mode
	cfg  Config
}

func NewBase(b ml.Backend, mode Mode, cfg Config) Base {
	return Base{b: b, mode: mode, cfg: cfg}
}

// Backend returns the backend holding the weights the model was loaded from.
func (m *Base) Backend() ml.Backend {
	return m.b
}

func (m *Base) Mode() Mode {
	return m.mode
}

func (m *Base) Config() Config {
	return m.cfg
}

var models = make(map[string]func(Base) (Model, error))

// Register registers a model constructor for the given configuration name.
func Register(name string, f func(Base) (Model, error)) {
	if _, ok := models[name]; ok {
		panic("model: model already registered")
	}

	models[name] = f
}

// New validates cfg, constructs the registered architecture and binds the
// weights named by cfg.Weights when set.
func New(cfg Config, mode Mode, params ml.BackendParams) (Model, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	f, ok := models[cfg.Name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedModel, cfg.Name)
	}

	b, err := ml.NewBackend(cfg.Weights, params)
	if err != nil {
		return nil, fmt.Errorf("loading weights: %w", err)
	}

	m, err := f(NewBase(b, mode, cfg))
	if err != nil {
		b.Close()
		return nil, err
	}

	if cfg.Weights != "" {
		if err := Bind(b, m, "", envconfig.StrictLoad(true)); err != nil {
			b.Close()
			return nil, fmt.Errorf("binding %s: %w", cfg.Weights, err)
		}
	}

	ps := Parameters(m)
	var n int
	for _, p := range ps {
		n += p.NumElements()
	}
	slog.Debug("model loaded", "name", cfg.Name, "mode", mode, "attention", cfg.Attention, "tensors", len(ps), "parameters", n)

	return m, nil
}

// Forward checks that input is an image batch and runs m on it.
func Forward(ctx ml.Context, m Model, input ml.Tensor) (Output, error) {
	shape := input.Shape()
	if len(shape) != 4 {
		return Output{}, fmt.Errorf("%w: input must be (batch, 3, height, width), got %v", ErrShapeMismatch, shape)
	}

	if shape[0] < 1 {
		return Output{}, errors.New("batch size cannot be less than 1")
	}

	if shape[1] != 3 {
		return Output{}, fmt.Errorf("%w: input must have 3 channels, got %d", ErrShapeMismatch, shape[1])
	}

	out, err := m.Forward(ctx, input)
	if err != nil {
		return Output{}, err
	}

	ctx.Forward(out.BBoxRegressions, out.Classifications, out.Heatmap)

	return out, nil
}
