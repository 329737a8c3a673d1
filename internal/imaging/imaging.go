// Package imaging holds the small amount of image plumbing the engine
// needs: decoding uploads, cropping to a detector box, and resizing for
// model preprocessing.
package imaging

import (
	"bytes"
	"fmt"
	"image"
	_ "image/gif" // register decoders for common catalog formats
	_ "image/jpeg"
	_ "image/png"

	"golang.org/x/image/draw"
)

// Box is a detector bounding box in the 0..1000 fractional coordinate
// system: [YMin, XMin, YMax, XMax] regardless of image size.
type Box struct {
	YMin, XMin, YMax, XMax float64
}

// Valid reports whether the box has positive area inside the 0..1000 frame.
func (b Box) Valid() bool {
	return b.XMin >= 0 && b.YMin >= 0 &&
		b.XMax <= 1000 && b.YMax <= 1000 &&
		b.XMax > b.XMin && b.YMax > b.YMin
}

// Decode parses image bytes into an image.Image.
func Decode(data []byte) (image.Image, error) {
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decode image: %w", err)
	}
	return img, nil
}

// Crop cuts the region described by a fractional box out of img. An invalid
// box returns the image unchanged.
func Crop(img image.Image, box Box) image.Image {
	if !box.Valid() {
		return img
	}

	bounds := img.Bounds()
	w := float64(bounds.Dx())
	h := float64(bounds.Dy())

	rect := image.Rect(
		bounds.Min.X+int(box.XMin*w/1000),
		bounds.Min.Y+int(box.YMin*h/1000),
		bounds.Min.X+int(box.XMax*w/1000),
		bounds.Min.Y+int(box.YMax*h/1000),
	)
	if rect.Empty() {
		return img
	}

	out := image.NewRGBA(image.Rect(0, 0, rect.Dx(), rect.Dy()))
	draw.Draw(out, out.Bounds(), img, rect.Min, draw.Src)
	return out
}

// Resize scales img to size x size pixels for model input.
func Resize(img image.Image, size int) *image.RGBA {
	out := image.NewRGBA(image.Rect(0, 0, size, size))
	draw.ApproxBiLinear.Scale(out, out.Bounds(), img, img.Bounds(), draw.Over, nil)
	return out
}
