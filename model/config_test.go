package model

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"
)

func TestPreset(t *testing.T) {
	c, err := Preset("mobilenet0.25")
	require.NoError(t, err)
	require.NoError(t, c.Validate())

	want := Config{
		Name:         "mobilenet0.25",
		PretrainPath: "./weights/mobilenetV1X0.25_imagenet_pretrain.tar",
		ReturnLayers: map[string]int{"stage1": 1, "stage2": 2, "stage3": 3},
		InChannel:    32,
		OutChannel:   64,
		NumAnchors:   2,
		NumClasses:   3,
	}
	if diff := cmp.Diff(want, c); diff != "" {
		t.Errorf("(-want +got):\n%s", diff)
	}

	// presets are copies
	c.ReturnLayers["stage9"] = 9
	again, _ := Preset("mobilenet0.25")
	require.Len(t, again.ReturnLayers, 3)

	if _, err := Preset("resnet50"); !errors.Is(err, ErrUnsupportedModel) {
		t.Errorf("expected ErrUnsupportedModel, got %v", err)
	} else if strings.Contains(err.Error(), "did you mean") {
		t.Errorf("unexpected suggestion in %v", err)
	}

	_, err = Preset("mobilenet-0.25")
	require.ErrorIs(t, err, ErrUnsupportedModel)
	require.ErrorContains(t, err, `did you mean "mobilenet0.25"?`)

	require.Equal(t, []string{"mobilenet0.25"}, Presets())
}

func TestLoadConfig(t *testing.T) {
	p := filepath.Join(t.TempDir(), "cfg.yaml")
	require.NoError(t, os.WriteFile(p, []byte(`
name: mobilenet0.25
pretrain: true
pretrain_path: /weights/backbone.tar
return_layers:
  stage1: 1
  stage2: 2
  stage3: 3
in_channel: 32
out_channel: 64
attention: true
`), 0o644))

	c, err := LoadConfig(p)
	require.NoError(t, err)
	require.NoError(t, c.Validate())

	require.True(t, c.Pretrain)
	require.True(t, c.Attention)
	require.Equal(t, "/weights/backbone.tar", c.PretrainPath)
	require.Equal(t, DefaultNumAnchors, c.NumAnchors)
	require.Equal(t, DefaultNumClasses, c.NumClasses)
	require.Empty(t, c.Weights)
}

func TestParseConfigInvalidYAML(t *testing.T) {
	if _, err := ParseConfig([]byte("name: [")); !errors.Is(err, ErrInvalidConfig) {
		t.Errorf("expected ErrInvalidConfig, got %v", err)
	}
}

func TestValidate(t *testing.T) {
	cases := map[string]func(*Config){
		"name":        func(c *Config) { c.Name = "" },
		"taps":        func(c *Config) { delete(c.ReturnLayers, "stage3") },
		"in_channel":  func(c *Config) { c.InChannel = 0 },
		"out_channel": func(c *Config) { c.OutChannel = 66 },
		"anchors":     func(c *Config) { c.NumAnchors = 0 },
		"classes":     func(c *Config) { c.NumClasses = -1 },
		"pretrain":    func(c *Config) { c.Pretrain, c.PretrainPath = true, "" },
	}

	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			c, err := Preset("mobilenet0.25")
			require.NoError(t, err)

			mutate(&c)
			if err := c.Validate(); !errors.Is(err, ErrInvalidConfig) {
				t.Errorf("expected ErrInvalidConfig, got %v", err)
			}
		})
	}
}

func TestParseMode(t *testing.T) {
	cases := map[string]Mode{
		"train":     ModeTrain,
		"test":      ModeInference,
		"inference": ModeInference,
	}

	for s, want := range cases {
		got, err := ParseMode(s)
		require.NoError(t, err)
		require.Equal(t, want, got)
	}

	_, err := ParseMode("eval")
	require.Error(t, err)
	require.Equal(t, "inference", ModeInference.String())
}
