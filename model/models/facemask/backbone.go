package facemask

import (
	"cmp"
	"log/slog"
	"math/rand/v2"

	"github.com/maskdetect/maskdetect/envconfig"
	"github.com/maskdetect/maskdetect/ml"
	"github.com/maskdetect/maskdetect/model"
	"github.com/maskdetect/maskdetect/model/models/mobilenet"
)

// Backbone extracts feature maps at increasing depth.
type Backbone interface {
	// Stages lists the stage names from shallow to deep.
	Stages() []string
	Channels(stage string) int
	Stride(stage string) int

	// Forward returns the outputs of the first n stages.
	Forward(ctx ml.Context, t ml.Tensor, n int) []ml.Tensor
}

var backbones = map[string]func(ml.Context, *rand.Rand, model.Config) (Backbone, error){
	"mobilenet0.25": newMobileNet,
}

func newMobileNet(ctx ml.Context, r *rand.Rand, c model.Config) (Backbone, error) {
	m := mobilenet.New(ctx, r)
	if c.Pretrain {
		path := cmp.Or(envconfig.PretrainPath(), c.PretrainPath)
		if err := m.LoadPretrained(path, ml.BackendParams{NumThreads: ctx.NumThreads()}); err != nil {
			return nil, err
		}
		slog.Info("loaded pretrained backbone", "path", path)
	}

	// only the stage outputs feed the detector
	m.DropClassifier()
	return m, nil
}
