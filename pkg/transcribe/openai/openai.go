// Package openai provides a transcription backend for the OpenAI audio
// transcription API (Whisper family). It implements the transcribe.Backend
// interface.
package openai

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/jmcdice/launch-control/pkg/audio"
	"github.com/jmcdice/launch-control/pkg/transcribe"
)

const (
	defaultModel    = "whisper-1"
	defaultLanguage = "en-US"
	defaultTimeout  = 60 * time.Second
)

func init() {
	transcribe.Register("openai-whisper", func(s transcribe.Settings) (transcribe.Backend, error) {
		var opts []Option
		if s.Model != "" {
			opts = append(opts, WithModel(s.Model))
		}
		if s.Language != "" {
			opts = append(opts, WithLanguage(s.Language))
		}
		if s.BaseURL != "" {
			opts = append(opts, WithBaseURL(s.BaseURL))
		}
		if s.HTTPClient != nil {
			opts = append(opts, WithHTTPClient(s.HTTPClient))
		}
		return New(s.APIKey, opts...)
	})
}

// Compile-time assertion that Backend implements transcribe.Backend.
var _ transcribe.Backend = (*Backend)(nil)

// config holds optional settings applied before the SDK client is built.
type config struct {
	model      string
	language   string
	baseURL    string
	httpClient *http.Client
}

// Option is a functional option for configuring the openai Backend.
type Option func(*config)

// WithModel sets the transcription model (e.g., "whisper-1",
// "gpt-4o-transcribe").
func WithModel(model string) Option {
	return func(c *config) {
		c.model = model
	}
}

// WithLanguage sets the BCP-47 recognition language (e.g., "en-US"). The
// Whisper API wants a bare ISO 639-1 code, so any region subtag is stripped
// from the request; results still report the full configured tag.
func WithLanguage(language string) Option {
	return func(c *config) {
		c.language = language
	}
}

// WithBaseURL overrides the default OpenAI API base URL. Tests point this at
// a local server.
func WithBaseURL(url string) Option {
	return func(c *config) {
		c.baseURL = url
	}
}

// WithHTTPClient replaces the SDK's HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *config) {
		c.httpClient = hc
	}
}

// Backend implements transcribe.Backend using the OpenAI audio API.
type Backend struct {
	client   oai.Client
	model    string
	language string
}

// New constructs an openai Backend. apiKey must be non-empty.
func New(apiKey string, opts ...Option) (*Backend, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("openai: %w: API key must not be empty", transcribe.ErrConfiguration)
	}

	cfg := &config{
		model:    defaultModel,
		language: defaultLanguage,
	}
	for _, o := range opts {
		o(cfg)
	}

	reqOpts := []option.RequestOption{
		option.WithAPIKey(apiKey),
	}
	if cfg.baseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(cfg.baseURL))
	}
	if cfg.httpClient != nil {
		reqOpts = append(reqOpts, option.WithHTTPClient(cfg.httpClient))
	} else {
		reqOpts = append(reqOpts, option.WithHTTPClient(&http.Client{Timeout: defaultTimeout}))
	}

	return &Backend{
		client:   oai.NewClient(reqOpts...),
		model:    cfg.model,
		language: cfg.language,
	}, nil
}

// Initialize implements transcribe.Backend. The SDK client is stateless
// until the first request, so there is nothing to establish.
func (b *Backend) Initialize(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("openai: context already cancelled: %w", err)
	}
	return nil
}

// Transcribe implements transcribe.Backend. The utterance is wrapped in a
// WAV container and uploaded in one request.
func (b *Backend) Transcribe(ctx context.Context, utt audio.Utterance) (*transcribe.Result, error) {
	wav := audio.EncodeWAV(utt.Samples, utt.SampleRate, utt.Channels)

	params := oai.AudioTranscriptionNewParams{
		File:  oai.File(bytes.NewReader(wav), "audio.wav", "audio/wav"),
		Model: oai.AudioModel(b.model),
	}
	if lang := baseLanguage(b.language); lang != "" {
		params.Language = oai.String(lang)
	}

	resp, err := b.client.Audio.Transcriptions.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("openai: transcription request: %w", err)
	}

	return &transcribe.Result{
		Text:       strings.TrimSpace(resp.Text),
		Confidence: 1.0,
		Language:   b.language,
	}, nil
}

// Cleanup implements transcribe.Backend. The SDK holds no resources that
// outlive its requests.
func (b *Backend) Cleanup() error {
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
