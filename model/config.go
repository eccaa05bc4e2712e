package model

import (
	"errors"
	"fmt"
	"maps"
	"math"
	"os"
	"slices"

	"github.com/agnivade/levenshtein"
	"gopkg.in/yaml.v3"
)

// Config describes a detector. It is read once at construction.
type Config struct {
	// Name selects the backbone and the registered architecture.
	Name string `yaml:"name"`

	// Pretrain loads ImageNet backbone weights from PretrainPath.
	Pretrain     bool   `yaml:"pretrain"`
	PretrainPath string `yaml:"pretrain_path"`

	// ReturnLayers maps backbone stage names to the feature maps handed to
	// the pyramid.
	ReturnLayers map[string]int `yaml:"return_layers"`

	InChannel  int  `yaml:"in_channel"`
	OutChannel int  `yaml:"out_channel"`
	Attention  bool `yaml:"attention"`

	NumAnchors int `yaml:"num_anchors"`
	NumClasses int `yaml:"num_classes"`

	// Weights is an optional checkpoint holding every detector parameter.
	Weights string `yaml:"weights,omitempty"`
}

const (
	DefaultNumAnchors = 2
	DefaultNumClasses = 3
)

var presets = map[string]Config{
	"mobilenet0.25": {
		Name:         "mobilenet0.25",
		PretrainPath: "./weights/mobilenetV1X0.25_imagenet_pretrain.tar",
		ReturnLayers: map[string]int{"stage1": 1, "stage2": 2, "stage3": 3},
		InChannel:    32,
		OutChannel:   64,
		NumAnchors:   DefaultNumAnchors,
		NumClasses:   DefaultNumClasses,
	},
}

// Presets lists the built-in configuration names.
func Presets() []string {
	return slices.Sorted(maps.Keys(presets))
}

// Preset returns a copy of the built-in configuration called name.
func Preset(name string) (Config, error) {
	c, ok := presets[name]
	if !ok {
		if closest, ok := closestPreset(name); ok {
			return Config{}, fmt.Errorf("%w: no preset %q, did you mean %q?", ErrUnsupportedModel, name, closest)
		}
		return Config{}, fmt.Errorf("%w: no preset %q", ErrUnsupportedModel, name)
	}

	c.ReturnLayers = maps.Clone(c.ReturnLayers)
	return c, nil
}

// closestPreset returns the preset name within a few edits of name.
func closestPreset(name string) (string, bool) {
	var closest string
	score := math.MaxInt
	for _, p := range Presets() {
		if s := levenshtein.ComputeDistance(name, p); s < score {
			score = s
			closest = p
		}
	}

	return closest, score <= 3
}

// LoadConfig reads a YAML configuration. Anchor and class counts default
// to two and three when the file leaves them out.
func LoadConfig(path string) (Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}

	return ParseConfig(b)
}

func ParseConfig(b []byte) (Config, error) {
	c := Config{NumAnchors: DefaultNumAnchors, NumClasses: DefaultNumClasses}
	if err := yaml.Unmarshal(b, &c); err != nil {
		return Config{}, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}

	return c, nil
}

// Validate checks the settings that do not depend on the backbone.
func (c Config) Validate() error {
	var errs []error
	if c.Name == "" {
		errs = append(errs, errors.New("name is required"))
	}

	if len(c.ReturnLayers) != 3 {
		errs = append(errs, fmt.Errorf("return_layers needs exactly 3 entries, got %d", len(c.ReturnLayers)))
	}

	if c.InChannel <= 0 {
		errs = append(errs, fmt.Errorf("in_channel must be positive, got %d", c.InChannel))
	}

	if c.OutChannel <= 0 || c.OutChannel%4 != 0 {
		errs = append(errs, fmt.Errorf("out_channel must be a positive multiple of 4, got %d", c.OutChannel))
	}

	if c.NumAnchors <= 0 {
		errs = append(errs, fmt.Errorf("num_anchors must be positive, got %d", c.NumAnchors))
	}

	if c.NumClasses <= 0 {
		errs = append(errs, fmt.Errorf("num_classes must be positive, got %d", c.NumClasses))
	}

	if c.Pretrain && c.PretrainPath == "" {
		errs = append(errs, errors.New("pretrain requires pretrain_path"))
	}

	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}

	return nil
}
