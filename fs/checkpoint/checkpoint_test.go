package checkpoint

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"
	"github.com/x448/float16"

	"github.com/maskdetect/maskdetect/ml"
)

type fixtureTensor struct {
	name  string
	dtype string
	shape []int
	data  []float32
}

func encode(t *testing.T, ft fixtureTensor) []byte {
	t.Helper()

	var buf bytes.Buffer
	for _, v := range ft.data {
		switch ft.dtype {
		case "F32":
			binary.Write(&buf, binary.LittleEndian, v) //nolint:errcheck
		case "F16":
			binary.Write(&buf, binary.LittleEndian, float16.Fromfloat32(v).Bits()) //nolint:errcheck
		case "BF16":
			binary.Write(&buf, binary.LittleEndian, uint16(math.Float32bits(v)>>16)) //nolint:errcheck
		case "I64":
			binary.Write(&buf, binary.LittleEndian, int64(v)) //nolint:errcheck
		default:
			t.Fatalf("unsupported fixture dtype %s", ft.dtype)
		}
	}
	return buf.Bytes()
}

// writeSafetensors writes tensors to a safetensors file in the given order.
func writeSafetensors(t *testing.T, tensors ...fixtureTensor) string {
	t.Helper()

	header := map[string]any{"__metadata__": map[string]string{"format": "pt"}}
	var data bytes.Buffer
	for _, ft := range tensors {
		b := encode(t, ft)
		header[ft.name] = map[string]any{
			"dtype":        ft.dtype,
			"shape":        ft.shape,
			"data_offsets": []int{data.Len(), data.Len() + len(b)},
		}
		data.Write(b)
	}

	h, err := json.Marshal(header)
	require.NoError(t, err)

	var file bytes.Buffer
	require.NoError(t, binary.Write(&file, binary.LittleEndian, uint64(len(h))))
	file.Write(h)
	file.Write(data.Bytes())

	p := filepath.Join(t.TempDir(), "model.safetensors")
	require.NoError(t, os.WriteFile(p, file.Bytes(), 0o644))
	return p
}

func TestOpenSafetensors(t *testing.T) {
	p := writeSafetensors(t,
		fixtureTensor{"zeta.weight", "F32", []int{2, 2}, []float32{1, 2, 3, 4}},
		fixtureTensor{"alpha.weight", "F16", []int{3}, []float32{0.5, -1, 2}},
		fixtureTensor{"beta.bias", "BF16", []int{2}, []float32{1.5, -2}},
		fixtureTensor{"gamma.count", "I64", []int{}, []float32{7}},
	)

	sd, err := Open(p)
	require.NoError(t, err)

	if diff := cmp.Diff([]string{"zeta.weight", "alpha.weight", "beta.bias", "gamma.count"}, sd.Keys()); diff != "" {
		t.Errorf("keys mismatch (-want +got):\n%s", diff)
	}

	cases := map[string][]float32{
		"zeta.weight":  {1, 2, 3, 4},
		"alpha.weight": {0.5, -1, 2},
		"beta.bias":    {1.5, -2},
		"gamma.count":  {7},
	}
	for name, want := range cases {
		got, ok := sd.Get(name)
		require.True(t, ok, name)
		if diff := cmp.Diff(want, got.Data); diff != "" {
			t.Errorf("%s data mismatch (-want +got):\n%s", name, diff)
		}
	}

	zeta, _ := sd.Get("zeta.weight")
	if diff := cmp.Diff([]int{2, 2}, zeta.Shape); diff != "" {
		t.Errorf("shape mismatch (-want +got):\n%s", diff)
	}
}

func TestOpenSafetensorsSizeMismatch(t *testing.T) {
	p := writeSafetensors(t, fixtureTensor{"w", "F32", []int{3}, []float32{1, 2}})

	_, err := Open(p)
	require.Error(t, err)
}

func TestOpenUnknownFormat(t *testing.T) {
	p := filepath.Join(t.TempDir(), "garbage.bin")
	require.NoError(t, os.WriteFile(p, []byte("not a checkpoint"), 0o644))

	_, err := Open(p)
	require.ErrorIs(t, err, ErrUnknownFormat)
}

func TestOpenMissingFile(t *testing.T) {
	_, err := Open(filepath.Join(t.TempDir(), "missing.pth"))
	require.Error(t, err)
}

func TestDetectFormat(t *testing.T) {
	cases := []struct {
		name  string
		magic []byte
		want  Format
	}{
		{"zip", []byte("PK\x03\x04\x14\x00\x00\x00\x00"), FormatPyTorch},
		{"pickle", []byte{0x80, 0x02, 0x8a, 0x0a}, FormatPyTorch},
		{"safetensors", append(binary.LittleEndian.AppendUint64(nil, 42), '{'), FormatSafetensors},
		{"empty", nil, FormatUnknown},
		{"text", []byte("hello world"), FormatUnknown},
	}

	for _, tt := range cases {
		t.Run(tt.name, func(t *testing.T) {
			if got := DetectFormat(tt.magic); got != tt.want {
				t.Errorf("DetectFormat() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestStripPrefix(t *testing.T) {
	sd := NewStateDict()
	sd.Add(&Tensor{Name: "module.stage1.0.0.weight", Shape: []int{1}, Data: []float32{1}})
	sd.Add(&Tensor{Name: "module.fc.bias", Shape: []int{1}, Data: []float32{2}})
	sd.Add(&Tensor{Name: "extra", Shape: []int{1}, Data: []float32{3}})

	stripped := StripPrefix(sd, DataParallelPrefix)
	if diff := cmp.Diff([]string{"stage1.0.0.weight", "fc.bias", "extra"}, stripped.Keys()); diff != "" {
		t.Errorf("keys mismatch (-want +got):\n%s", diff)
	}

	got, _ := stripped.Get("fc.bias")
	if got.Name != "fc.bias" {
		t.Errorf("tensor name = %q, want fc.bias", got.Name)
	}

	// the source dict is untouched
	if _, ok := sd.Get("module.fc.bias"); !ok {
		t.Error("StripPrefix modified its input")
	}
}

func TestSubset(t *testing.T) {
	sd := NewStateDict()
	sd.Add(&Tensor{Name: "body.stage1.0.0.weight", Shape: []int{1}, Data: []float32{1}})
	sd.Add(&Tensor{Name: "fpn.output1.0.weight", Shape: []int{1}, Data: []float32{2}})

	body := Subset(sd, "body.")
	if diff := cmp.Diff([]string{"stage1.0.0.weight"}, body.Keys()); diff != "" {
		t.Errorf("keys mismatch (-want +got):\n%s", diff)
	}
}

func TestSave(t *testing.T) {
	sd := NewStateDict()
	sd.Add(&Tensor{Name: "b.weight", DType: ml.DTypeF16, Shape: []int{2, 1}, Data: []float32{0.5, -3}})
	sd.Add(&Tensor{Name: "a.bias", DType: ml.DTypeF32, Shape: []int{3}, Data: []float32{1, 2, 3}})

	p := filepath.Join(t.TempDir(), "out.safetensors")
	require.NoError(t, Save(p, sd))

	f, err := os.Open(p)
	require.NoError(t, err)
	defer f.Close()

	var n uint64
	require.NoError(t, binary.Read(f, binary.LittleEndian, &n))
	require.Zero(t, n%8, "data section must be aligned")

	got, err := Open(p)
	require.NoError(t, err)

	if diff := cmp.Diff([]string{"b.weight", "a.bias"}, got.Keys()); diff != "" {
		t.Errorf("keys mismatch (-want +got):\n%s", diff)
	}

	w, _ := got.Get("b.weight")
	if diff := cmp.Diff([]int{2, 1}, w.Shape); diff != "" {
		t.Errorf("shape mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]float32{0.5, -3}, w.Data); diff != "" {
		t.Errorf("data mismatch (-want +got):\n%s", diff)
	}
	require.Equal(t, ml.DTypeF32, w.DType)
}
