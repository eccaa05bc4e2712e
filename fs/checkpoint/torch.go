package checkpoint

import (
	"fmt"
	"log/slog"
	"slices"
	"strings"

	"github.com/nlpodyssey/gopickle/pytorch"
	"github.com/nlpodyssey/gopickle/types"

	"github.com/maskdetect/maskdetect/logutil"
	"github.com/maskdetect/maskdetect/ml"
)

// stateDictKeys are the checkpoint entries that may wrap the parameters
// when a training script saved more than a bare state dict.
var stateDictKeys = []string{"state_dict", "model"}

type entry struct {
	key   string
	value any
}

func readTorch(path string) (*StateDict, error) {
	pt, err := pytorch.Load(path)
	if err != nil {
		return nil, fmt.Errorf("load pytorch checkpoint %s: %w", path, err)
	}

	entries, ok := dictEntries(pt)
	if !ok {
		return nil, fmt.Errorf("%w: %s holds %T, not a dict", ErrUnknownFormat, path, pt)
	}

	return torchStateDict(unwrapStateDict(entries))
}

// unwrapStateDict descends into a nested state dict such as the one written
// by torch.save({"epoch": ..., "state_dict": model.state_dict()}).
func unwrapStateDict(entries []entry) []entry {
	for _, e := range entries {
		if !slices.Contains(stateDictKeys, e.key) {
			continue
		}
		if inner, ok := dictEntries(e.value); ok {
			return unwrapStateDict(inner)
		}
	}
	return entries
}

func dictEntries(v any) ([]entry, bool) {
	var entries []entry
	switch d := v.(type) {
	case *types.OrderedDict:
		for e := d.List.Front(); e != nil; e = e.Next() {
			oe := e.Value.(*types.OrderedDictEntry)
			if k, ok := oe.Key.(string); ok {
				entries = append(entries, entry{key: k, value: oe.Value})
			}
		}
	case *types.Dict:
		for _, k := range d.Keys() {
			if ks, ok := k.(string); ok {
				entries = append(entries, entry{key: ks, value: d.MustGet(k)})
			}
		}
	default:
		return nil, false
	}
	return entries, true
}

func torchStateDict(entries []entry) (*StateDict, error) {
	sd := NewStateDict()
	for _, e := range entries {
		if strings.HasSuffix(e.key, "num_batches_tracked") {
			logutil.Trace("skipping buffer", "name", e.key)
			continue
		}

		pt, ok := e.value.(*pytorch.Tensor)
		if !ok {
			slog.Debug("skipping non-tensor entry", "name", e.key, "type", fmt.Sprintf("%T", e.value))
			continue
		}

		t, err := fromTorch(e.key, pt)
		if err != nil {
			return nil, err
		}
		sd.Add(t)
	}
	return sd, nil
}

func fromTorch(name string, pt *pytorch.Tensor) (*Tensor, error) {
	shape := slices.Clone(pt.Size)
	if !contiguous(shape, pt.Stride) {
		return nil, fmt.Errorf("%w: %s is not contiguous (stride %v)", ErrUnsupportedType, name, pt.Stride)
	}

	n := 1
	for _, d := range shape {
		n *= d
	}
	lo, hi := pt.StorageOffset, pt.StorageOffset+n

	t := &Tensor{Name: name, Shape: shape}
	switch s := pt.Source.(type) {
	case *pytorch.FloatStorage:
		if hi > len(s.Data) {
			return nil, errStorageBounds(name, hi, len(s.Data))
		}
		t.DType, t.Data = ml.DTypeF32, slices.Clone(s.Data[lo:hi])
	case *pytorch.HalfStorage:
		if hi > len(s.Data) {
			return nil, errStorageBounds(name, hi, len(s.Data))
		}
		t.DType, t.Data = ml.DTypeF16, slices.Clone(s.Data[lo:hi])
	case *pytorch.DoubleStorage:
		if hi > len(s.Data) {
			return nil, errStorageBounds(name, hi, len(s.Data))
		}
		t.DType, t.Data = ml.DTypeF32, convert(s.Data[lo:hi])
	case *pytorch.LongStorage:
		if hi > len(s.Data) {
			return nil, errStorageBounds(name, hi, len(s.Data))
		}
		t.DType, t.Data = ml.DTypeI64, convert(s.Data[lo:hi])
	case *pytorch.IntStorage:
		if hi > len(s.Data) {
			return nil, errStorageBounds(name, hi, len(s.Data))
		}
		t.DType, t.Data = ml.DTypeI64, convert(s.Data[lo:hi])
	default:
		return nil, fmt.Errorf("%w: %s has storage %T", ErrUnsupportedType, name, pt.Source)
	}

	return t, nil
}

func errStorageBounds(name string, want, have int) error {
	return fmt.Errorf("checkpoint: %s needs %d storage elements, storage has %d", name, want, have)
}

func convert[S ~[]E, E float64 | int64 | int32](s S) []float32 {
	f32s := make([]float32, len(s))
	for i, v := range s {
		f32s[i] = float32(v)
	}
	return f32s
}

// contiguous reports whether stride describes a row-major layout of shape.
// Dimensions of size 1 may carry any stride.
func contiguous(shape, stride []int) bool {
	if len(stride) == 0 {
		return true
	}
	if len(stride) != len(shape) {
		return false
	}

	expected := 1
	for i := len(shape) - 1; i >= 0; i-- {
		if shape[i] != 1 && stride[i] != expected {
			return false
		}
		expected *= shape[i]
	}
	return true
}
