// MODULE: image
// PURPOSE: image loading and geometric preparation for the detector
// INPUT: file path, bytes or io.Reader
// OUTPUT: ImageInput holding an RGBA image anchored at the origin
// SIDE EFFECTS: file system reads in LoadImage

package vision

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"io"
	"os"

	_ "image/jpeg"
	_ "image/png"

	_ "golang.org/x/image/bmp"
	"golang.org/x/image/draw"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

// ImageInput is a decoded image with its metadata.
type ImageInput struct {
	Image  *image.RGBA
	Width  int
	Height int
	Format ImageFormat
}

func LoadImage(path string) (*ImageInput, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read image: %w", err)
	}
	return LoadImageFromBytes(data)
}

func LoadImageFromBytes(data []byte) (*ImageInput, error) {
	format := DetectFormat(data)
	if err := ValidateFormat(format); err != nil {
		return nil, err
	}

	return decodeWithFormat(bytes.NewReader(data), format)
}

// DecodeImage buffers r so the format can be detected before decoding.
func DecodeImage(r io.Reader) (*ImageInput, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read image: %w", err)
	}
	return LoadImageFromBytes(data)
}

func decodeWithFormat(r io.Reader, format ImageFormat) (*ImageInput, error) {
	img, _, err := image.Decode(r)
	if err != nil {
		return nil, fmt.Errorf("decode %s image: %w", format, err)
	}

	return newImageInput(toRGBA(img), format), nil
}

func newImageInput(rgba *image.RGBA, format ImageFormat) *ImageInput {
	bounds := rgba.Bounds()
	return &ImageInput{
		Image:  rgba,
		Width:  bounds.Dx(),
		Height: bounds.Dy(),
		Format: format,
	}
}

// toRGBA converts img to *image.RGBA with bounds starting at (0, 0).
func toRGBA(img image.Image) *image.RGBA {
	bounds := img.Bounds()
	if rgba, ok := img.(*image.RGBA); ok && bounds.Min == (image.Point{}) {
		return rgba
	}

	rgba := image.NewRGBA(image.Rect(0, 0, bounds.Dx(), bounds.Dy()))
	draw.Draw(rgba, rgba.Bounds(), img, bounds.Min, draw.Src)
	return rgba
}

// ResizeImage scales img to exactly width x height with bilinear filtering.
func ResizeImage(img *ImageInput, width, height int) (*ImageInput, error) {
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("invalid size: %dx%d", width, height)
	}

	dst := image.NewRGBA(image.Rect(0, 0, width, height))
	draw.BiLinear.Scale(dst, dst.Bounds(), img.Image, img.Image.Bounds(), draw.Src, nil)

	return newImageInput(dst, img.Format), nil
}

// ResizeWithAspect scales img to fit inside maxWidth x maxHeight while
// keeping its aspect ratio.
func ResizeWithAspect(img *ImageInput, maxWidth, maxHeight int) (*ImageInput, error) {
	if maxWidth <= 0 || maxHeight <= 0 {
		return nil, fmt.Errorf("invalid size: %dx%d", maxWidth, maxHeight)
	}

	w, h := calculateAspectSize(img.Width, img.Height, maxWidth, maxHeight)
	return ResizeImage(img, w, h)
}

func calculateAspectSize(srcW, srcH, maxW, maxH int) (int, int) {
	ratio := min(float64(maxW)/float64(srcW), float64(maxH)/float64(srcH))
	return max(int(float64(srcW)*ratio), 1), max(int(float64(srcH)*ratio), 1)
}

// PadToMultiple extends img on the bottom and right with black pixels so
// both sides are multiples of m. Existing pixels keep their coordinates.
func PadToMultiple(img *ImageInput, m int) (*ImageInput, error) {
	if m <= 0 {
		return nil, fmt.Errorf("invalid multiple: %d", m)
	}

	w := (img.Width + m - 1) / m * m
	h := (img.Height + m - 1) / m * m
	if w == img.Width && h == img.Height {
		return img, nil
	}

	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.Draw(dst, dst.Bounds(), image.Black, image.Point{}, draw.Src)
	draw.Draw(dst, img.Image.Bounds(), img.Image, img.Image.Bounds().Min, draw.Src)

	return newImageInput(dst, img.Format), nil
}

// Composite flattens transparency onto a white background.
func Composite(img *ImageInput) *ImageInput {
	return CompositeWithColor(img, color.White)
}

func CompositeWithColor(img *ImageInput, bg color.Color) *ImageInput {
	bounds := img.Image.Bounds()
	dst := image.NewRGBA(bounds)

	draw.Draw(dst, bounds, &image.Uniform{bg}, image.Point{}, draw.Src)
	draw.Draw(dst, bounds, img.Image, bounds.Min, draw.Over)

	return newImageInput(dst, img.Format)
}
