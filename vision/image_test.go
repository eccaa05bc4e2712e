package vision

import (
	"bytes"
	"errors"
	"image"
	"image/color"
	"image/png"
	"testing"

	"golang.org/x/image/bmp"
	"golang.org/x/image/tiff"
)

func fill(w, h int, c color.Color) *image.RGBA {
	rgba := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := range h {
		for x := range w {
			rgba.Set(x, y, c)
		}
	}
	return rgba
}

func createPNGBytes(w, h int, c color.Color) []byte {
	var buf bytes.Buffer
	_ = png.Encode(&buf, fill(w, h, c))
	return buf.Bytes()
}

func TestLoadImageFromBytes(t *testing.T) {
	red := color.RGBA{255, 0, 0, 255}
	encode := map[ImageFormat]func(*bytes.Buffer, image.Image) error{
		FormatPNG:  func(b *bytes.Buffer, m image.Image) error { return png.Encode(b, m) },
		FormatBMP:  func(b *bytes.Buffer, m image.Image) error { return bmp.Encode(b, m) },
		FormatTIFF: func(b *bytes.Buffer, m image.Image) error { return tiff.Encode(b, m, nil) },
	}

	for format, fn := range encode {
		t.Run(string(format), func(t *testing.T) {
			var buf bytes.Buffer
			if err := fn(&buf, fill(10, 5, red)); err != nil {
				t.Fatal(err)
			}

			img, err := LoadImageFromBytes(buf.Bytes())
			if err != nil {
				t.Fatalf("LoadImageFromBytes() error = %v", err)
			}
			if img.Width != 10 || img.Height != 5 {
				t.Errorf("size = %dx%d, want 10x5", img.Width, img.Height)
			}
			if img.Format != format {
				t.Errorf("format = %v, want %v", img.Format, format)
			}
			if got := img.Image.RGBAAt(3, 2); got != red {
				t.Errorf("pixel = %v, want %v", got, red)
			}
		})
	}
}

func TestLoadImageFromBytesInvalid(t *testing.T) {
	_, err := LoadImageFromBytes([]byte{0, 0, 0, 0})
	if !errors.Is(err, ErrUnknownFormat) {
		t.Errorf("error = %v, want %v", err, ErrUnknownFormat)
	}

	// valid magic, corrupt body
	_, err = LoadImageFromBytes([]byte{0x89, 0x50, 0x4E, 0x47, 0, 0, 0, 0})
	if err == nil {
		t.Error("expected decode error")
	}
}

func TestLoadImage(t *testing.T) {
	if _, err := LoadImage(t.TempDir() + "/missing.png"); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestDecodeImage(t *testing.T) {
	img, err := DecodeImage(bytes.NewReader(createPNGBytes(80, 60, color.White)))
	if err != nil {
		t.Fatalf("DecodeImage() error = %v", err)
	}

	if img.Width != 80 || img.Height != 60 {
		t.Errorf("size = %dx%d, want 80x60", img.Width, img.Height)
	}
}

func TestToRGBAOrigin(t *testing.T) {
	src := image.NewNRGBA(image.Rect(5, 5, 9, 8))
	src.Set(5, 5, color.NRGBA{10, 20, 30, 255})

	rgba := toRGBA(src)
	if rgba.Bounds() != image.Rect(0, 0, 4, 3) {
		t.Fatalf("bounds = %v", rgba.Bounds())
	}
	if got := rgba.RGBAAt(0, 0); got != (color.RGBA{10, 20, 30, 255}) {
		t.Errorf("pixel = %v", got)
	}
}

func TestResizeImage(t *testing.T) {
	img, _ := LoadImageFromBytes(createPNGBytes(100, 100, color.White))

	resized, err := ResizeImage(img, 50, 30)
	if err != nil {
		t.Fatalf("ResizeImage() error = %v", err)
	}

	if resized.Width != 50 || resized.Height != 30 {
		t.Errorf("size = %dx%d, want 50x30", resized.Width, resized.Height)
	}
	if got := resized.Image.RGBAAt(25, 15); got != (color.RGBA{255, 255, 255, 255}) {
		t.Errorf("pixel = %v, want white", got)
	}

	if _, err := ResizeImage(img, 0, 50); err == nil {
		t.Error("expected error for zero width")
	}
	if _, err := ResizeImage(img, 50, -1); err == nil {
		t.Error("expected error for negative height")
	}
}

func TestResizeWithAspect(t *testing.T) {
	img, _ := LoadImageFromBytes(createPNGBytes(200, 100, color.White))

	resized, err := ResizeWithAspect(img, 100, 100)
	if err != nil {
		t.Fatalf("ResizeWithAspect() error = %v", err)
	}

	if resized.Width != 100 || resized.Height != 50 {
		t.Errorf("size = %dx%d, want 100x50", resized.Width, resized.Height)
	}
}

func TestCalculateAspectSize(t *testing.T) {
	tests := []struct {
		srcW, srcH, maxW, maxH int
		expectW, expectH       int
	}{
		{200, 100, 100, 100, 100, 50},
		{100, 200, 100, 100, 50, 100},
		{100, 100, 200, 200, 200, 200},
		{50, 50, 100, 50, 50, 50},
		{1000, 1, 10, 10, 10, 1},
	}

	for _, tt := range tests {
		w, h := calculateAspectSize(tt.srcW, tt.srcH, tt.maxW, tt.maxH)
		if w != tt.expectW || h != tt.expectH {
			t.Errorf("calculateAspectSize(%d,%d,%d,%d) = (%d,%d), want (%d,%d)",
				tt.srcW, tt.srcH, tt.maxW, tt.maxH, w, h, tt.expectW, tt.expectH)
		}
	}
}

func TestPadToMultiple(t *testing.T) {
	white := color.RGBA{255, 255, 255, 255}
	img := &ImageInput{Image: fill(33, 20, white), Width: 33, Height: 20, Format: FormatPNG}

	padded, err := PadToMultiple(img, 32)
	if err != nil {
		t.Fatal(err)
	}

	if padded.Width != 64 || padded.Height != 32 {
		t.Fatalf("size = %dx%d, want 64x32", padded.Width, padded.Height)
	}
	if got := padded.Image.RGBAAt(32, 19); got != white {
		t.Errorf("copied pixel = %v, want white", got)
	}
	if got := padded.Image.RGBAAt(33, 0); got != (color.RGBA{0, 0, 0, 255}) {
		t.Errorf("right pad = %v, want black", got)
	}
	if got := padded.Image.RGBAAt(0, 20); got != (color.RGBA{0, 0, 0, 255}) {
		t.Errorf("bottom pad = %v, want black", got)
	}

	same, err := PadToMultiple(padded, 32)
	if err != nil || same != padded {
		t.Errorf("aligned image should be returned unchanged")
	}

	if _, err := PadToMultiple(img, 0); err == nil {
		t.Error("expected error for zero multiple")
	}
}

func TestComposite(t *testing.T) {
	img := &ImageInput{Image: fill(10, 10, color.RGBA{128, 0, 0, 128}), Width: 10, Height: 10, Format: FormatPNG}

	r, _, _, a := Composite(img).Image.At(5, 5).RGBA()
	if a>>8 != 255 {
		t.Errorf("alpha = %d, want 255", a>>8)
	}
	if r>>8 < 250 {
		t.Errorf("red = %d, want close to 255", r>>8)
	}

	_, g, _, _ := CompositeWithColor(img, color.Black).Image.At(5, 5).RGBA()
	if g != 0 {
		t.Errorf("green = %d, want 0 on black", g>>8)
	}
}
