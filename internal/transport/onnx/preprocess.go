package onnx

import (
	"image"

	"github.com/lapidary-search/lapidary/internal/imaging"
)

// PixelValues converts an image into the NCHW float tensor data the vision
// tower expects: size x size, channels first, each channel scaled to
// [-1, 1] via (x/255 - 0.5) / 0.5.
func PixelValues(img image.Image, size int) []float32 {
	resized := imaging.Resize(img, size)

	out := make([]float32, 3*size*size)
	plane := size * size
	for y := 0; y < size; y++ {
		for x := 0; x < size; x++ {
			i := resized.PixOffset(x, y)
			idx := y*size + x
			out[idx] = normalizePixel(resized.Pix[i])
			out[plane+idx] = normalizePixel(resized.Pix[i+1])
			out[2*plane+idx] = normalizePixel(resized.Pix[i+2])
		}
	}
	return out
}

func normalizePixel(v uint8) float32 {
	return (float32(v)/255 - 0.5) / 0.5
}
