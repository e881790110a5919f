// Package chirp provides a transcription backend for the Google Cloud
// Speech-to-Text v2 REST API using the Chirp model family. It implements the
// transcribe.Backend interface.
//
// Requests carry the utterance as a base64 WAV payload with auto-detected
// decoding, so no encoding parameters need to agree between capture and
// recognizer. Authentication uses an API key; the recognizer is the
// project-level default ("_") in the configured location.
package chirp

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/jmcdice/launch-control/pkg/audio"
	"github.com/jmcdice/launch-control/pkg/transcribe"
)

const (
	defaultLocation = "us-central1"
	defaultModel    = "chirp"
	defaultLanguage = "en-US"
)

func init() {
	transcribe.Register("google-chirp", func(s transcribe.Settings) (transcribe.Backend, error) {
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
		return New(s.ProjectID, s.APIKey, opts...)
	})
}

// Compile-time assertion that Backend implements transcribe.Backend.
var _ transcribe.Backend = (*Backend)(nil)

// Option is a functional option for configuring the chirp Backend.
type Option func(*Backend)

// WithModel sets the recognition model (e.g., "chirp", "chirp_2").
func WithModel(model string) Option {
	return func(b *Backend) {
		b.model = model
	}
}

// WithLanguage sets the BCP-47 recognition language (e.g., "en-US", "de-DE").
func WithLanguage(language string) Option {
	return func(b *Backend) {
		b.language = language
	}
}

// WithLocation sets the Cloud region hosting the recognizer. Chirp models
// are regional; the default is "us-central1".
func WithLocation(location string) Option {
	return func(b *Backend) {
		b.location = location
	}
}

// WithBaseURL overrides the API endpoint, normally derived from the
// location. Tests point this at a local server.
func WithBaseURL(baseURL string) Option {
	return func(b *Backend) {
		b.baseURL = strings.TrimRight(baseURL, "/")
	}
}

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(b *Backend) {
		b.httpClient = c
	}
}

// Backend implements transcribe.Backend against the Speech-to-Text v2 REST
// API.
type Backend struct {
	projectID  string
	apiKey     string
	location   string
	model      string
	language   string
	baseURL    string
	httpClient *http.Client
}

// New creates a chirp Backend. projectID and apiKey must be non-empty.
func New(projectID, apiKey string, opts ...Option) (*Backend, error) {
	if projectID == "" {
		return nil, fmt.Errorf("chirp: %w: project ID must not be empty", transcribe.ErrConfiguration)
	}
	if apiKey == "" {
		return nil, fmt.Errorf("chirp: %w: API key must not be empty", transcribe.ErrConfiguration)
	}
	b := &Backend{
		projectID:  projectID,
		apiKey:     apiKey,
		location:   defaultLocation,
		model:      defaultModel,
		language:   defaultLanguage,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
	for _, o := range opts {
		o(b)
	}
	return b, nil
}

// Initialize implements transcribe.Backend. The REST client holds no
// connection state, so there is nothing to establish beyond checking that
// the context is still live.
func (b *Backend) Initialize(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("chirp: context already cancelled: %w", err)
	}
	return nil
}

// recognizeRequest is the JSON body of a v2 recognize call.
type recognizeRequest struct {
	Config  recognizeConfig `json:"config"`
	Content string          `json:"content"`
}

type recognizeConfig struct {
	AutoDecodingConfig struct{} `json:"autoDecodingConfig"`
	LanguageCodes      []string `json:"languageCodes"`
	Model              string   `json:"model"`
}

// recognizeResponse is the JSON structure returned by a v2 recognize call.
type recognizeResponse struct {
	Results []struct {
		Alternatives []struct {
			Transcript string  `json:"transcript"`
			Confidence float64 `json:"confidence"`
		} `json:"alternatives"`
	} `json:"results"`
	Metadata struct {
		TotalBilledDuration string `json:"totalBilledDuration"`
	} `json:"metadata"`
}

// Transcribe implements transcribe.Backend. It returns (nil, nil) when the
// service reports no recognizable speech.
func (b *Backend) Transcribe(ctx context.Context, utt audio.Utterance) (*transcribe.Result, error) {
	wav := audio.EncodeWAV(utt.Samples, utt.SampleRate, utt.Channels)

	reqBody := recognizeRequest{
		Content: base64.StdEncoding.EncodeToString(wav),
	}
	reqBody.Config.LanguageCodes = []string{b.language}
	reqBody.Config.Model = b.model

	payload, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("chirp: marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.endpoint(), bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("chirp: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := b.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("chirp: http request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("chirp: read response body: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("chirp: server returned HTTP %d: %s", resp.StatusCode, truncate(data, 200))
	}

	return parseResponse(data, b.language)
}

// Cleanup implements transcribe.Backend.
func (b *Backend) Cleanup() error {
	b.httpClient.CloseIdleConnections()
	return nil
}

// endpoint constructs the recognize URL for the project-default recognizer.
func (b *Backend) endpoint() string {
	base := b.baseURL
	if base == "" {
		base = fmt.Sprintf("https://%s-speech.googleapis.com", b.location)
	}
	return fmt.Sprintf("%s/v2/projects/%s/locations/%s/recognizers/_:recognize?key=%s",
		base, b.projectID, b.location, url.QueryEscape(b.apiKey))
}

// parseResponse extracts the top alternative of the first result. A response
// without results means the service heard no speech.
func parseResponse(data []byte, language string) (*transcribe.Result, error) {
	var resp recognizeResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, fmt.Errorf("chirp: parse JSON response: %w", err)
	}
	if len(resp.Results) == 0 || len(resp.Results[0].Alternatives) == 0 {
		return nil, nil
	}
	alt := resp.Results[0].Alternatives[0]
	res := &transcribe.Result{
		Text:       strings.TrimSpace(alt.Transcript),
		Confidence: alt.Confidence,
		Language:   language,
	}
	if d := resp.Metadata.TotalBilledDuration; d != "" {
		res.Metadata = map[string]any{"billed_duration": d}
	}
	return res, nil
}

func truncate(data []byte, n int) string {
	s := strings.TrimSpace(string(data))
	if len(s) > n {
		return s[:n] + "..."
	}
	return s
}
