// MODULE: preprocess
// PURPOSE: conversion of decoded images into detector input tensors
// INPUT: ImageInput
// OUTPUT: CHW float32 planes in BGR order, batched (B, 3, H, W) tensors

package vision

import (
	"errors"
	"fmt"

	"github.com/maskdetect/maskdetect/ml"
)

// BGRMean is subtracted from 0..255 pixel values, blue first.
var BGRMean = [3]float32{104, 117, 123}

var ErrBatchMismatch = errors.New("images in a batch must share one size")

// Pixels is one preprocessed image laid out as (3, Height, Width).
type Pixels struct {
	Data   []float32
	Height int
	Width  int
}

// Preprocess converts img into mean-subtracted BGR planes. Pixel values keep
// the 0..255 scale. Translucent pixels are read premultiplied, so callers
// that care should Composite first.
func Preprocess(img *ImageInput) *Pixels {
	h, w := img.Height, img.Width
	size := h * w
	data := make([]float32, 3*size)

	pix, stride := img.Image.Pix, img.Image.Stride
	for y := range h {
		row := pix[y*stride:]
		for x := range w {
			r, g, b := row[4*x], row[4*x+1], row[4*x+2]
			i := y*w + x
			data[i] = float32(b) - BGRMean[0]
			data[size+i] = float32(g) - BGRMean[1]
			data[2*size+i] = float32(r) - BGRMean[2]
		}
	}

	return &Pixels{Data: data, Height: h, Width: w}
}

// ToBatch stacks images into a single (B, 3, H, W) tensor.
func ToBatch(ctx ml.Context, images ...*Pixels) (ml.Tensor, error) {
	if len(images) == 0 {
		return nil, errors.New("empty batch")
	}

	h, w := images[0].Height, images[0].Width
	data := make([]float32, 0, len(images)*3*h*w)
	for i, p := range images {
		if p.Height != h || p.Width != w {
			return nil, fmt.Errorf("%w: image %d is %dx%d, want %dx%d", ErrBatchMismatch, i, p.Width, p.Height, w, h)
		}
		data = append(data, p.Data...)
	}

	return ctx.FromFloats(data, len(images), 3, h, w), nil
}
