// Package gemini grounds query images with a vision-language model: it
// locates the dominant jewelry item and captions it. The descriptor is
// strictly best-effort; the search pipeline runs without it.
package gemini

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"image"
	"image/jpeg"
	"regexp"
	"time"

	"github.com/google/generative-ai-go/genai"
	"go.uber.org/zap"
	"google.golang.org/api/option"

	"github.com/lapidary-search/lapidary/internal/imaging"
	"github.com/lapidary-search/lapidary/internal/metrics"
)

const prompt = `Detect the single most prominent jewelry item in this image.
Respond with ONLY a JSON object in this exact format:
{"bbox": [ymin, xmin, ymax, xmax], "description": "<one concise sentence describing the item: type, metal, stones, style>"}
Coordinates are integers from 0 to 1000 relative to image size.
If no jewelry is visible, use [0, 0, 1000, 1000] as bbox and describe the main object.`

// jsonPattern pulls the first JSON object out of a possibly chatty reply.
var jsonPattern = regexp.MustCompile(`\{[^{}]*"bbox"[^{}]*\}`)

// Descriptor detects and captions the dominant catalog item in an image.
type Descriptor struct {
	client  *genai.Client
	model   string
	timeout time.Duration
	logger  *zap.Logger
}

// Config holds the descriptor settings.
type Config struct {
	APIKey  string
	Model   string
	Timeout time.Duration
	Logger  *zap.Logger
}

// New creates a Gemini-backed descriptor.
func New(ctx context.Context, cfg *Config) (*Descriptor, error) {
	client, err := genai.NewClient(ctx, option.WithAPIKey(cfg.APIKey))
	if err != nil {
		return nil, fmt.Errorf("create genai client: %w", err)
	}
	return &Descriptor{
		client:  client,
		model:   cfg.Model,
		timeout: cfg.Timeout,
		logger:  cfg.Logger,
	}, nil
}

// Describe returns the image cropped to the detected item plus a one-line
// caption. Any failure degrades to the original image and an empty caption:
// the image signal alone still carries the query.
func (d *Descriptor) Describe(ctx context.Context, img image.Image) (image.Image, string) {
	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	reply, err := d.generate(ctx, img)
	if err != nil {
		d.logger.Warn("Image description failed, continuing without caption", zap.Error(err))
		metrics.FallbacksTotal.WithLabelValues("describe").Inc()
		return img, ""
	}

	box, desc, err := ParseReply(reply)
	if err != nil {
		d.logger.Warn("Unparseable description reply", zap.Error(err))
		metrics.FallbacksTotal.WithLabelValues("describe").Inc()
		return img, ""
	}

	return imaging.Crop(img, box), desc
}

func (d *Descriptor) generate(ctx context.Context, img image.Image) (string, error) {
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: 90}); err != nil {
		return "", fmt.Errorf("encode image: %w", err)
	}

	model := d.client.GenerativeModel(d.model)
	resp, err := model.GenerateContent(ctx,
		genai.ImageData("jpeg", buf.Bytes()),
		genai.Text(prompt),
	)
	if err != nil {
		return "", fmt.Errorf("generate content: %w", err)
	}

	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil ||
		len(resp.Candidates[0].Content.Parts) == 0 {
		return "", fmt.Errorf("empty response")
	}
	txt, ok := resp.Candidates[0].Content.Parts[0].(genai.Text)
	if !ok {
		return "", fmt.Errorf("unexpected response part type")
	}
	return string(txt), nil
}

// Close releases the API client.
func (d *Descriptor) Close() error {
	return d.client.Close()
}

// ParseReply extracts the bounding box and caption from a model reply.
// Tolerates markdown fences and prose around the JSON object.
func ParseReply(reply string) (imaging.Box, string, error) {
	raw := jsonPattern.FindString(reply)
	if raw == "" {
		return imaging.Box{}, "", fmt.Errorf("no JSON object in reply")
	}

	var parsed struct {
		BBox        []float64 `json:"bbox"`
		Description string    `json:"description"`
	}
	if err := json.Unmarshal([]byte(raw), &parsed); err != nil {
		return imaging.Box{}, "", fmt.Errorf("parse reply: %w", err)
	}
	if len(parsed.BBox) != 4 {
		return imaging.Box{}, "", fmt.Errorf("bbox has %d elements, want 4", len(parsed.BBox))
	}

	box := imaging.Box{
		YMin: parsed.BBox[0],
		XMin: parsed.BBox[1],
		YMax: parsed.BBox[2],
		XMax: parsed.BBox[3],
	}
	return box, parsed.Description, nil
}
