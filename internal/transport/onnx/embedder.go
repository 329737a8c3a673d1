// Package onnx runs the SigLIP text and vision towers locally through ONNX
// Runtime, producing unit vectors in the shared cross-modal space.
package onnx

import (
	"context"
	"fmt"
	"image"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/sugarme/tokenizer"
	"github.com/sugarme/tokenizer/pretrained"
	ort "github.com/yalue/onnxruntime_go"
	"go.uber.org/zap"

	"github.com/lapidary-search/lapidary/internal/domain"
	"github.com/lapidary-search/lapidary/internal/metrics"
)

const providerName = "onnx"

const (
	textModelFile   = "text_model.onnx"
	visionModelFile = "vision_model.onnx"
	tokenizerFile   = "tokenizer.json"
)

// Config holds the local model settings.
type Config struct {
	// ModelDir holds the base model export.
	ModelDir string
	// AdapterDir, when set, points at a fine-tuned (adapter-merged) export
	// and takes precedence over ModelDir. Chosen once at construction.
	AdapterDir string
	// OrtLibrary is the path to the ONNX Runtime shared library.
	OrtLibrary string
	MaxSeqLen  int
	ImageSize  int
	Logger     *zap.Logger
}

// Embedder embeds text and images with local SigLIP ONNX sessions.
type Embedder struct {
	tok       *tokenizer.Tokenizer
	text      *ort.DynamicAdvancedSession
	vision    *ort.DynamicAdvancedSession
	maxSeqLen int
	imageSize int
	logger    *zap.Logger

	// ORT sessions are not safe for concurrent Run calls.
	mu sync.Mutex
}

var ortInitOnce sync.Once

// NewEmbedder loads the tokenizer and both model towers. The model
// directory is resolved once: adapter export when configured and present,
// base export otherwise.
func NewEmbedder(cfg *Config) (*Embedder, error) {
	dir, err := resolveModelDir(cfg)
	if err != nil {
		return nil, err
	}

	var initErr error
	ortInitOnce.Do(func() {
		if cfg.OrtLibrary != "" {
			ort.SetSharedLibraryPath(cfg.OrtLibrary)
		}
		initErr = ort.InitializeEnvironment()
	})
	if initErr != nil {
		return nil, fmt.Errorf("initialize onnxruntime: %w", initErr)
	}

	tok, err := pretrained.FromFile(filepath.Join(dir, tokenizerFile))
	if err != nil {
		return nil, fmt.Errorf("load tokenizer: %w", err)
	}

	text, err := ort.NewDynamicAdvancedSession(
		filepath.Join(dir, textModelFile),
		[]string{"input_ids"}, []string{"text_embeds"}, nil)
	if err != nil {
		return nil, fmt.Errorf("load text model: %w", err)
	}

	vision, err := ort.NewDynamicAdvancedSession(
		filepath.Join(dir, visionModelFile),
		[]string{"pixel_values"}, []string{"image_embeds"}, nil)
	if err != nil {
		text.Destroy()
		return nil, fmt.Errorf("load vision model: %w", err)
	}

	cfg.Logger.Info("Loaded local embedding model", zap.String("dir", dir))

	return &Embedder{
		tok:       tok,
		text:      text,
		vision:    vision,
		maxSeqLen: cfg.MaxSeqLen,
		imageSize: cfg.ImageSize,
		logger:    cfg.Logger,
	}, nil
}

func resolveModelDir(cfg *Config) (string, error) {
	if cfg.AdapterDir != "" {
		if _, err := os.Stat(cfg.AdapterDir); err == nil {
			return cfg.AdapterDir, nil
		}
		cfg.Logger.Warn("Adapter model dir not found, using base model",
			zap.String("adapter_dir", cfg.AdapterDir))
	}
	if cfg.ModelDir == "" {
		return "", fmt.Errorf("no model directory configured")
	}
	if _, err := os.Stat(cfg.ModelDir); err != nil {
		return "", fmt.Errorf("model dir: %w", err)
	}
	return cfg.ModelDir, nil
}

// EmbedText implements domain.TextEmbedder.
func (e *Embedder) EmbedText(ctx context.Context, text string) (domain.EmbeddingResult, error) {
	ids, err := e.tokenize(text)
	if err != nil {
		return domain.EmbeddingResult{}, fmt.Errorf("tokenize: %w", err)
	}

	input, err := ort.NewTensor(ort.NewShape(1, int64(e.maxSeqLen)), ids)
	if err != nil {
		return domain.EmbeddingResult{}, fmt.Errorf("input tensor: %w", err)
	}
	defer input.Destroy()

	vec, err := e.run(ctx, "text", e.text, input)
	if err != nil {
		return domain.EmbeddingResult{}, err
	}
	return domain.EmbeddingResult{Vector: domain.Normalize(vec)}, nil
}

// EmbedImage implements domain.ImageEmbedder.
func (e *Embedder) EmbedImage(ctx context.Context, img image.Image) (domain.EmbeddingResult, error) {
	pixels := PixelValues(img, e.imageSize)

	input, err := ort.NewTensor(
		ort.NewShape(1, 3, int64(e.imageSize), int64(e.imageSize)), pixels)
	if err != nil {
		return domain.EmbeddingResult{}, fmt.Errorf("input tensor: %w", err)
	}
	defer input.Destroy()

	vec, err := e.run(ctx, "image", e.vision, input)
	if err != nil {
		return domain.EmbeddingResult{}, err
	}
	return domain.EmbeddingResult{Vector: domain.Normalize(vec)}, nil
}

// run executes one session call under the lock and copies out the vector.
func (e *Embedder) run(ctx context.Context, modality string, session *ort.DynamicAdvancedSession, input ort.Value) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	start := time.Now()

	e.mu.Lock()
	outputs := []ort.Value{nil}
	err := session.Run([]ort.Value{input}, outputs)
	e.mu.Unlock()

	if err != nil {
		metrics.EmbeddingRequestsTotal.WithLabelValues(providerName, modality, "error").Inc()
		return nil, fmt.Errorf("%s inference: %w: %s", modality, domain.ErrEmbeddingProviderError, err)
	}
	defer outputs[0].Destroy()

	out, ok := outputs[0].(*ort.Tensor[float32])
	if !ok {
		metrics.EmbeddingRequestsTotal.WithLabelValues(providerName, modality, "error").Inc()
		return nil, fmt.Errorf("unexpected output tensor type: %w", domain.ErrEmbeddingProviderError)
	}

	metrics.EmbeddingRequestsTotal.WithLabelValues(providerName, modality, "success").Inc()
	metrics.EmbeddingRequestDuration.WithLabelValues(providerName, modality).Observe(time.Since(start).Seconds())

	data := out.GetData()
	vec := make([]float32, len(data))
	copy(vec, data)
	return vec, nil
}

// tokenize encodes text into a fixed-length id sequence, truncated or
// padded to maxSeqLen.
func (e *Embedder) tokenize(text string) ([]int64, error) {
	enc, err := e.tok.EncodeSingle(text, true)
	if err != nil {
		return nil, err
	}

	ids := make([]int64, e.maxSeqLen)
	for i, id := range enc.Ids {
		if i >= e.maxSeqLen {
			break
		}
		ids[i] = int64(id)
	}
	return ids, nil
}

// HealthCheck reports whether the sessions are loaded.
func (e *Embedder) HealthCheck(_ context.Context) error {
	if e.text == nil || e.vision == nil {
		return fmt.Errorf("onnx sessions not initialized")
	}
	return nil
}

// Close releases the ORT sessions.
func (e *Embedder) Close() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.text != nil {
		e.text.Destroy()
		e.text = nil
	}
	if e.vision != nil {
		e.vision.Destroy()
		e.vision = nil
	}
}
