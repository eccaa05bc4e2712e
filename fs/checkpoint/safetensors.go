package checkpoint

import (
	"bufio"
	"bytes"
	"cmp"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"os"
	"slices"

	bfloat16 "github.com/d4l3k/go-bfloat16"
	"github.com/x448/float16"

	"github.com/maskdetect/maskdetect/ml"
)

// maxHeaderSize bounds the JSON header of a safetensors file.
const maxHeaderSize = 100 << 20

type safetensor struct {
	name    string
	DType   string   `json:"dtype"`
	Shape   []int    `json:"shape"`
	Offsets [2]int64 `json:"data_offsets"`
}

func readSafetensors(r io.ReaderAt) (*StateDict, error) {
	var buf [8]byte
	if _, err := r.ReadAt(buf[:], 0); err != nil {
		return nil, fmt.Errorf("read safetensors header size: %w", err)
	}

	n := binary.LittleEndian.Uint64(buf[:])
	if n == 0 || n > maxHeaderSize {
		return nil, fmt.Errorf("%w: safetensors header size %d", ErrUnknownFormat, n)
	}

	header := make([]byte, n)
	if _, err := r.ReadAt(header, 8); err != nil {
		return nil, fmt.Errorf("read safetensors header: %w", err)
	}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(header, &raw); err != nil {
		return nil, fmt.Errorf("parse safetensors header: %w", err)
	}

	var infos []safetensor
	for name, msg := range raw {
		if name == "__metadata__" {
			continue
		}

		var st safetensor
		if err := json.Unmarshal(msg, &st); err != nil {
			return nil, fmt.Errorf("parse safetensors entry %s: %w", name, err)
		}
		st.name = name
		infos = append(infos, st)
	}

	// json objects are unordered; file order is data order
	slices.SortFunc(infos, func(a, b safetensor) int {
		return cmp.Or(cmp.Compare(a.Offsets[0], b.Offsets[0]), cmp.Compare(a.name, b.name))
	})

	base := int64(8 + n)
	sd := NewStateDict()
	for _, st := range infos {
		t, err := st.read(io.NewSectionReader(r, base+st.Offsets[0], st.Offsets[1]-st.Offsets[0]))
		if err != nil {
			return nil, err
		}
		sd.Add(t)
	}

	return sd, nil
}

func (st safetensor) read(r *io.SectionReader) (*Tensor, error) {
	t := &Tensor{Name: st.name, Shape: slices.Clone(st.Shape)}
	if t.Shape == nil {
		t.Shape = []int{}
	}
	n := t.NumElements()

	var size int
	switch st.DType {
	case "F32":
		size, t.DType = 4, ml.DTypeF32
	case "F16":
		size, t.DType = 2, ml.DTypeF16
	case "BF16":
		size, t.DType = 2, ml.DTypeBF16
	case "I64":
		size, t.DType = 8, ml.DTypeI64
	default:
		return nil, fmt.Errorf("%w: %s has dtype %s", ErrUnsupportedType, st.name, st.DType)
	}

	if int64(n*size) != r.Size() {
		return nil, fmt.Errorf("checkpoint: %s holds %d bytes, shape %v needs %d", st.name, r.Size(), st.Shape, n*size)
	}

	raw := make([]byte, n*size)
	if _, err := io.ReadFull(r, raw); err != nil {
		return nil, fmt.Errorf("read %s: %w", st.name, err)
	}

	t.Data = make([]float32, n)
	switch t.DType {
	case ml.DTypeF32:
		for i := range t.Data {
			t.Data[i] = math.Float32frombits(binary.LittleEndian.Uint32(raw[i*4:]))
		}
	case ml.DTypeF16:
		for i := range t.Data {
			t.Data[i] = float16.Frombits(binary.LittleEndian.Uint16(raw[i*2:])).Float32()
		}
	case ml.DTypeBF16:
		t.Data = bfloat16.DecodeFloat32(raw)
	case ml.DTypeI64:
		for i := range t.Data {
			t.Data[i] = float32(int64(binary.LittleEndian.Uint64(raw[i*8:])))
		}
	}

	return t, nil
}

// WriteSafetensors stores sd as float32 safetensors in state dict order.
func WriteSafetensors(w io.Writer, sd *StateDict) error {
	header := map[string]any{"__metadata__": map[string]string{"format": "pt"}}

	var offset int64
	for pair := sd.Oldest(); pair != nil; pair = pair.Next() {
		size := int64(len(pair.Value.Data)) * 4
		header[pair.Key] = safetensor{
			DType:   "F32",
			Shape:   pair.Value.Shape,
			Offsets: [2]int64{offset, offset + size},
		}
		offset += size
	}

	b, err := json.Marshal(header)
	if err != nil {
		return err
	}

	// the data section starts on an 8 byte boundary
	if pad := len(b) % 8; pad != 0 {
		b = append(b, bytes.Repeat([]byte{' '}, 8-pad)...)
	}

	if err := binary.Write(w, binary.LittleEndian, uint64(len(b))); err != nil {
		return err
	}

	if _, err := w.Write(b); err != nil {
		return err
	}

	for pair := sd.Oldest(); pair != nil; pair = pair.Next() {
		if err := binary.Write(w, binary.LittleEndian, pair.Value.Data); err != nil {
			return fmt.Errorf("write %s: %w", pair.Key, err)
		}
	}

	return nil
}

// Save writes sd to path with WriteSafetensors.
func Save(path string, sd *StateDict) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}

	bw := bufio.NewWriter(f)
	if err := WriteSafetensors(bw, sd); err != nil {
		f.Close()
		return err
	}

	if err := bw.Flush(); err != nil {
		f.Close()
		return err
	}

	return f.Close()
}
