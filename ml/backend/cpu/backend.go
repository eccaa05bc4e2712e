// Package cpu is a pure Go tensor engine. Tensors are dense float32 arrays
// in row-major order and every operation is evaluated eagerly.
package cpu

import (
	"log/slog"

	"github.com/maskdetect/maskdetect/fs/checkpoint"
	"github.com/maskdetect/maskdetect/logutil"
	"github.com/maskdetect/maskdetect/ml"
)

func init() {
	ml.RegisterBackend("cpu", New)
}

// Backend holds model parameters loaded from a checkpoint.
type Backend struct {
	params ml.BackendParams

	names   []string
	tensors map[string]*Tensor
}

// New opens the checkpoint at path. Names saved from a data-parallel
// wrapper lose their "module." prefix. An empty path yields a backend
// without parameters.
func New(path string, params ml.BackendParams) (ml.Backend, error) {
	if path == "" {
		return &Backend{params: params, tensors: make(map[string]*Tensor)}, nil
	}

	sd, err := checkpoint.Open(path)
	if err != nil {
		return nil, err
	}

	b := NewFromStateDict(checkpoint.StripPrefix(sd, checkpoint.DataParallelPrefix), params)
	slog.Debug("loaded checkpoint", "path", path, "tensors", len(b.names), "threads", params.Threads())
	return b, nil
}

// NewFromStateDict wraps an already loaded state dict.
func NewFromStateDict(sd *checkpoint.StateDict, params ml.BackendParams) *Backend {
	b := &Backend{params: params, tensors: make(map[string]*Tensor, sd.Len())}
	for pair := sd.Oldest(); pair != nil; pair = pair.Next() {
		t := &Tensor{
			name:  pair.Key,
			dtype: pair.Value.DType,
			shape: append([]int{}, pair.Value.Shape...),
			data:  pair.Value.Data,
		}
		logutil.Trace("loaded tensor", "tensor", t)
		b.names = append(b.names, pair.Key)
		b.tensors[pair.Key] = t
	}
	return b
}

func (b *Backend) Get(name string) ml.Tensor {
	if t, ok := b.tensors[name]; ok {
		return t
	}
	return nil
}

func (b *Backend) Names() []string {
	return append([]string{}, b.names...)
}

func (b *Backend) NewContext() ml.Context {
	return &Context{threads: b.params.Threads()}
}

func (b *Backend) Close() {
	b.names = nil
	b.tensors = nil
}
