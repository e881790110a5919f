// Package whispercpp provides a transcription backend for a locally hosted
// whisper.cpp server (the whisper-server binary, which exposes a REST API at
// POST /inference). It implements the transcribe.Backend interface.
//
// This is the offline option: no API key, no cloud round trip, accuracy and
// speed bounded by whatever model the server was started with.
package whispercpp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/jmcdice/launch-control/pkg/audio"
	"github.com/jmcdice/launch-control/pkg/transcribe"
)

const (
	defaultLanguage = "en-US"
	defaultTimeout  = 60 * time.Second
)

func init() {
	transcribe.Register("whisper-cpp", func(s transcribe.Settings) (transcribe.Backend, error) {
		var opts []Option
		if s.Model != "" {
			opts = append(opts, WithModel(s.Model))
		}
		if s.Language != "" {
			opts = append(opts, WithLanguage(s.Language))
		}
		if s.HTTPClient != nil {
			opts = append(opts, WithHTTPClient(s.HTTPClient))
		}
		return New(s.BaseURL, opts...)
	})
}

// Compile-time assertion that Backend implements transcribe.Backend.
var _ transcribe.Backend = (*Backend)(nil)

// Option is a functional option for configuring the whispercpp Backend.
type Option func(*Backend)

// WithModel sets the model identifier forwarded to the server (e.g.,
// "base.en"). When empty the server uses whichever model it was started
// with, which is the default.
func WithModel(model string) Option {
	return func(b *Backend) {
		b.model = model
	}
}

// WithLanguage sets the recognition language. Whisper wants a bare ISO 639-1
// code, so any region subtag is stripped from the request.
func WithLanguage(language string) Option {
	return func(b *Backend) {
		b.language = language
	}
}

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(b *Backend) {
		b.httpClient = c
	}
}

// Backend implements transcribe.Backend against a whisper.cpp server.
type Backend struct {
	serverURL  string
	model      string
	language   string
	httpClient *http.Client
}

// New creates a whispercpp Backend talking to the server at serverURL (e.g.,
// "http://localhost:8080"). serverURL must be non-empty.
func New(serverURL string, opts ...Option) (*Backend, error) {
	if serverURL == "" {
		return nil, fmt.Errorf("whispercpp: %w: server URL must not be empty", transcribe.ErrConfiguration)
	}
	b := &Backend{
		serverURL:  strings.TrimRight(serverURL, "/"),
		language:   defaultLanguage,
		httpClient: &http.Client{Timeout: defaultTimeout},
	}
	for _, o := range opts {
		o(b)
	}
	return b, nil
}

// Initialize implements transcribe.Backend.
func (b *Backend) Initialize(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("whispercpp: context already cancelled: %w", err)
	}
	return nil
}

// Transcribe implements transcribe.Backend. The utterance is wrapped in a
// WAV container and posted to /inference as multipart form data. An empty
// transcript means the model heard no speech and yields (nil, nil).
func (b *Backend) Transcribe(ctx context.Context, utt audio.Utterance) (*transcribe.Result, error) {
	wav := audio.EncodeWAV(utt.Samples, utt.SampleRate, utt.Channels)

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)

	fw, err := mw.CreateFormFile("file", "audio.wav")
	if err != nil {
		return nil, fmt.Errorf("whispercpp: create form file: %w", err)
	}
	if _, err := fw.Write(wav); err != nil {
		return nil, fmt.Errorf("whispercpp: write wav data: %w", err)
	}

	if lang := baseLanguage(b.language); lang != "" {
		if err := mw.WriteField("language", lang); err != nil {
			return nil, fmt.Errorf("whispercpp: write language field: %w", err)
		}
	}
	if b.model != "" {
		if err := mw.WriteField("model", b.model); err != nil {
			return nil, fmt.Errorf("whispercpp: write model field: %w", err)
		}
	}
	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("whispercpp: close multipart writer: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.serverURL+"/inference", &body)
	if err != nil {
		return nil, fmt.Errorf("whispercpp: create request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := b.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("whispercpp: http request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("whispercpp: server returned HTTP %d", resp.StatusCode)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("whispercpp: read response body: %w", err)
	}

	var result struct {
		Text string `json:"text"`
	}
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, fmt.Errorf("whispercpp: parse JSON response: %w", err)
	}

	text := strings.TrimSpace(result.Text)
	if text == "" {
		return nil, nil
	}
	return &transcribe.Result{
		Text:       text,
		Confidence: 1.0,
		Language:   b.language,
	}, nil
}

// Cleanup implements transcribe.Backend.
func (b *Backend) Cleanup() error {
	b.httpClient.CloseIdleConnections()
	return nil
}

// baseLanguage reduces a BCP-47 tag to its primary subtag: "en-US" becomes
// "en".
func baseLanguage(tag string) string {
	if i := strings.IndexByte(tag, '-'); i >= 0 {
		return tag[:i]
	}
	return tag
}
