// Package sarvam speaks the Sarvam AI REST API for Indic-language
// translation and speech transcription.
package sarvam

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"time"

	"go.uber.org/zap"
)

const (
	translatePath  = "/translate"
	transcribePath = "/speech-to-text-translate"
)

// audioExt maps MIME types to the filename extensions the API expects.
var audioExt = map[string]string{
	"audio/wav":  ".wav",
	"audio/mpeg": ".mp3",
	"audio/mp4":  ".m4a",
	"audio/ogg":  ".ogg",
	"audio/webm": ".webm",
}

// Client calls the Sarvam API.
type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client
	logger  *zap.Logger
}

// Config holds the Sarvam client settings.
type Config struct {
	APIKey  string
	BaseURL string
	Timeout time.Duration
	Logger  *zap.Logger
}

// New creates a Sarvam client with a bounded request timeout.
func New(cfg *Config) *Client {
	return &Client{
		baseURL: cfg.BaseURL,
		apiKey:  cfg.APIKey,
		http:    &http.Client{Timeout: cfg.Timeout},
		logger:  cfg.Logger,
	}
}

// Translate converts text in any supported language into English.
func (c *Client) Translate(ctx context.Context, text string) (string, error) {
	body, err := json.Marshal(map[string]string{
		"input":                text,
		"source_language_code": "auto",
		"target_language_code": "en-IN",
	})
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+translatePath, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("api-subscription-key", c.apiKey)

	var parsed struct {
		TranslatedText string `json:"translated_text"`
	}
	if err := c.do(req, &parsed); err != nil {
		return "", fmt.Errorf("translate: %w", err)
	}
	if parsed.TranslatedText == "" {
		return "", fmt.Errorf("translate: empty response")
	}

	c.logger.Debug("Translated query text", zap.String("result", parsed.TranslatedText))
	return parsed.TranslatedText, nil
}

// Transcribe converts spoken audio directly into English text.
func (c *Client) Transcribe(ctx context.Context, audio []byte, mime string) (string, error) {
	ext, ok := audioExt[mime]
	if !ok {
		return "", fmt.Errorf("unsupported audio type %q", mime)
	}

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	part, err := w.CreateFormFile("file", "query"+ext)
	if err != nil {
		return "", fmt.Errorf("create form file: %w", err)
	}
	if _, err := part.Write(audio); err != nil {
		return "", fmt.Errorf("write audio: %w", err)
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("close form: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+transcribePath, &buf)
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", w.FormDataContentType())
	req.Header.Set("api-subscription-key", c.apiKey)

	var parsed struct {
		Transcript string `json:"transcript"`
	}
	if err := c.do(req, &parsed); err != nil {
		return "", fmt.Errorf("transcribe: %w", err)
	}
	if parsed.Transcript == "" {
		return "", fmt.Errorf("transcribe: empty transcript")
	}

	c.logger.Debug("Transcribed audio query", zap.String("transcript", parsed.Transcript))
	return parsed.Transcript, nil
}

func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("api error %d: %s", resp.StatusCode, string(data))
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("parse response: %w", err)
	}
	return nil
}
