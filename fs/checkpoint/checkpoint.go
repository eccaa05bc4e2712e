// Package checkpoint reads model parameters stored by training frameworks
// into an ordered, name-addressed state dict.
package checkpoint

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	orderedmap "github.com/wk8/go-ordered-map/v2"

	"github.com/maskdetect/maskdetect/ml"
)

var (
	ErrUnknownFormat   = errors.New("checkpoint: unknown file format")
	ErrUnsupportedType = errors.New("checkpoint: unsupported tensor type")
)

// Format identifies the on-disk layout of a checkpoint.
type Format int

const (
	FormatUnknown Format = iota
	FormatPyTorch
	FormatSafetensors
)

func (f Format) String() string {
	switch f {
	case FormatPyTorch:
		return "pytorch"
	case FormatSafetensors:
		return "safetensors"
	default:
		return "unknown"
	}
}

// Tensor is a dense parameter converted to float32.
type Tensor struct {
	Name  string
	DType ml.DType
	Shape []int
	Data  []float32
}

// NumElements returns the product of the tensor dimensions.
func (t *Tensor) NumElements() int {
	n := 1
	for _, d := range t.Shape {
		n *= d
	}
	return n
}

func (t *Tensor) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("name", t.Name),
		slog.String("type", t.DType.String()),
		slog.Any("shape", t.Shape),
	)
}

// StateDict maps parameter names to tensors, preserving file order.
type StateDict struct {
	*orderedmap.OrderedMap[string, *Tensor]
}

func NewStateDict() *StateDict {
	return &StateDict{orderedmap.New[string, *Tensor]()}
}

// Add stores t under its name.
func (sd *StateDict) Add(t *Tensor) {
	sd.Set(t.Name, t)
}

// Keys returns the parameter names in order.
func (sd *StateDict) Keys() []string {
	keys := make([]string, 0, sd.Len())
	for pair := sd.Oldest(); pair != nil; pair = pair.Next() {
		keys = append(keys, pair.Key)
	}
	return keys
}

// DetectFormat sniffs the checkpoint layout from the first bytes of a file.
func DetectFormat(magic []byte) Format {
	switch {
	case bytes.HasPrefix(magic, []byte("PK\x03\x04")):
		// torch.save zip archive
		return FormatPyTorch
	case len(magic) > 0 && magic[0] == 0x80:
		// legacy torch.save pickle stream
		return FormatPyTorch
	case len(magic) >= 9 && magic[8] == '{':
		if n := binary.LittleEndian.Uint64(magic[:8]); n > 0 {
			return FormatSafetensors
		}
	}

	return FormatUnknown
}

// Open reads every tensor of the checkpoint at path.
func Open(path string) (*StateDict, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open checkpoint: %w", err)
	}
	defer f.Close()

	magic := make([]byte, 9)
	n, err := io.ReadFull(f, magic)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) {
		return nil, fmt.Errorf("read checkpoint %s: %w", path, err)
	}

	format := DetectFormat(magic[:n])
	slog.Debug("opening checkpoint", "path", path, "format", format)

	switch format {
	case FormatPyTorch:
		return readTorch(path)
	case FormatSafetensors:
		return readSafetensors(f)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownFormat, path)
	}
}
