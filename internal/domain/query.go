package domain

import "image"

// Query is the tagged union of search request shapes. Each shape is
// dispatched to its own signal-collection strategy instead of a single
// entry point full of nil-checks.
type Query interface {
	// Label is the human-readable label the results are filed under
	// (before normalization).
	Label() string

	queryShape()
}

// TextQuery is a text-only search.
type TextQuery struct {
	Text string
}

// ImageQuery is an image-only search. Name is the original file name,
// used as the result label.
type ImageQuery struct {
	Image image.Image
	Name  string
}

// ImageTextQuery combines an image with explicit user text.
type ImageTextQuery struct {
	Image image.Image
	Name  string
	Text  string
}

// AudioQuery is an audio-only search; the clip is transcribed to text
// before embedding. The label becomes the transcript.
type AudioQuery struct {
	Audio []byte
	MIME  string
}

func (q TextQuery) Label() string { return q.Text }

func (q ImageQuery) Label() string {
	if q.Name != "" {
		return q.Name
	}
	return "image_search"
}

func (q ImageTextQuery) Label() string { return q.Text }

func (q AudioQuery) Label() string { return "audio_search" }

func (TextQuery) queryShape()      {}
func (ImageQuery) queryShape()     {}
func (ImageTextQuery) queryShape() {}
func (AudioQuery) queryShape()     {}
