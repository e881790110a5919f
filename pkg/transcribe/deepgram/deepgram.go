// Package deepgram provides a transcription backend for the Deepgram
// streaming WebSocket API. It implements the transcribe.Backend interface.
//
// Each utterance is sent over a short-lived streaming session: dial, stream
// the PCM in binary frames, send CloseStream, then collect the final results
// until the server closes the socket. Deepgram has no single-shot REST mode
// for raw PCM that matches this pipeline's framing, and the per-utterance
// session keeps the backend free of connection state between calls.
package deepgram

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/coder/websocket"

	"github.com/jmcdice/launch-control/pkg/audio"
	"github.com/jmcdice/launch-control/pkg/transcribe"
)

const (
	defaultEndpoint = "wss://api.deepgram.com/v1/listen"
	defaultModel    = "nova-3"
	defaultLanguage = "en"

	// chunkBytes is the binary frame size for streaming PCM. Deepgram
	// recommends frames well under 1 MB; 8 KiB keeps memory flat.
	chunkBytes = 8192
)

func init() {
	transcribe.Register("deepgram", func(s transcribe.Settings) (transcribe.Backend, error) {
		var opts []Option
		if s.Model != "" {
			opts = append(opts, WithModel(s.Model))
		}
		if s.Language != "" {
			opts = append(opts, WithLanguage(s.Language))
		}
		if s.BaseURL != "" {
			opts = append(opts, WithEndpoint(s.BaseURL))
		}
		return New(s.APIKey, opts...)
	})
}

// Compile-time assertion that Backend implements transcribe.Backend.
var _ transcribe.Backend = (*Backend)(nil)

// Option is a functional option for configuring the deepgram Backend.
type Option func(*Backend)

// WithModel sets the Deepgram model to use (e.g., "nova-3", "base").
func WithModel(model string) Option {
	return func(b *Backend) {
		b.model = model
	}
}

// WithLanguage sets the BCP-47 language code for recognition (e.g., "en",
// "en-US", "de").
func WithLanguage(language string) Option {
	return func(b *Backend) {
		b.language = language
	}
}

// WithEndpoint overrides the streaming endpoint URL. Tests point this at a
// local WebSocket server.
func WithEndpoint(endpoint string) Option {
	return func(b *Backend) {
		b.endpoint = endpoint
	}
}

// Backend implements transcribe.Backend backed by the Deepgram streaming
// API.
type Backend struct {
	apiKey   string
	model    string
	language string
	endpoint string
}

// New creates a deepgram Backend. apiKey must be non-empty.
func New(apiKey string, opts ...Option) (*Backend, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("deepgram: %w: API key must not be empty", transcribe.ErrConfiguration)
	}
	b := &Backend{
		apiKey:   apiKey,
		model:    defaultModel,
		language: defaultLanguage,
		endpoint: defaultEndpoint,
	}
	for _, o := range opts {
		o(b)
	}
	return b, nil
}

// Initialize implements transcribe.Backend. Sessions are dialed per
// utterance, so no connection is established here.
func (b *Backend) Initialize(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("deepgram: context already cancelled: %w", err)
	}
	return nil
}

// Transcribe implements transcribe.Backend. It streams the utterance over a
// fresh WebSocket session and returns the concatenated final transcripts.
func (b *Backend) Transcribe(ctx context.Context, utt audio.Utterance) (*transcribe.Result, error) {
	wsURL, err := b.buildURL(utt.SampleRate, utt.Channels)
	if err != nil {
		return nil, fmt.Errorf("deepgram: build URL: %w", err)
	}

	headers := http.Header{}
	headers.Set("Authorization", "Token "+b.apiKey)

	conn, _, err := websocket.Dial(ctx, wsURL, &websocket.DialOptions{
		HTTPHeader: headers,
	})
	if err != nil {
		return nil, fmt.Errorf("deepgram: dial: %w", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "utterance done")

	pcm := audio.EncodePCM16(utt.Samples)
	for off := 0; off < len(pcm); off += chunkBytes {
		end := off + chunkBytes
		if end > len(pcm) {
			end = len(pcm)
		}
		if err := conn.Write(ctx, websocket.MessageBinary, pcm[off:end]); err != nil {
			return nil, fmt.Errorf("deepgram: send audio: %w", err)
		}
	}

	// CloseStream tells Deepgram to flush pending audio and finalize.
	if err := conn.Write(ctx, websocket.MessageText, []byte(`{"type":"CloseStream"}`)); err != nil {
		return nil, fmt.Errorf("deepgram: close stream: %w", err)
	}

	s, err := collect(ctx, conn)
	if err != nil {
		return nil, err
	}
	if len(s.texts) == 0 {
		return nil, nil
	}

	res := &transcribe.Result{
		Text:       strings.TrimSpace(strings.Join(s.texts, " ")),
		Confidence: s.confidence,
		Language:   b.language,
	}
	if s.requestID != "" {
		res.Metadata = map[string]any{"request_id": s.requestID}
		if s.duration > 0 {
			res.Metadata["duration"] = s.duration
		}
	}
	return res, nil
}

// Cleanup implements transcribe.Backend. There is no connection to release.
func (b *Backend) Cleanup() error {
	return nil
}

// buildURL constructs the streaming endpoint URL for raw PCM of the given
// format.
func (b *Backend) buildURL(sampleRate, channels int) (string, error) {
	u, err := url.Parse(b.endpoint)
	if err != nil {
		return "", err
	}

	q := u.Query()
	q.Set("model", b.model)
	q.Set("language", b.language)
	q.Set("punctuate", "true")
	q.Set("encoding", "linear16")
	q.Set("sample_rate", strconv.Itoa(sampleRate))
	if channels > 0 {
		q.Set("channels", strconv.Itoa(channels))
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// session accumulates what one streaming session produced: the final
// transcripts in arrival order, the first final's confidence (Deepgram
// reports one value per finalized segment and the first covers the
// utterance onset), and the end-of-stream metadata.
type session struct {
	texts      []string
	confidence float64
	haveConf   bool
	requestID  string
	duration   float64
}

// collect reads server events until the socket closes, folding them into a
// session. Interim results are discarded.
func collect(ctx context.Context, conn *websocket.Conn) (*session, error) {
	var s session
	for {
		_, msg, err := conn.Read(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil, fmt.Errorf("deepgram: read: %w", ctx.Err())
			}
			// Normal closure ends the session; anything else with no
			// results in hand is a failure.
			status := websocket.CloseStatus(err)
			graceful := status == websocket.StatusNormalClosure ||
				status == websocket.StatusGoingAway ||
				errors.Is(err, io.EOF)
			if !graceful && len(s.texts) == 0 {
				return nil, fmt.Errorf("deepgram: read: %w", err)
			}
			return &s, nil
		}
		s.observe(msg)
	}
}

// observe folds one raw server message into the session. Malformed
// messages and event types the backend does not use are ignored.
func (s *session) observe(data []byte) {
	var resp deepgramResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return
	}
	switch resp.Type {
	case "Metadata":
		s.requestID = resp.RequestID
		s.duration = resp.Duration
	case "Results":
		if !resp.IsFinal || len(resp.Channel.Alternatives) == 0 {
			return
		}
		alt := resp.Channel.Alternatives[0]
		text := strings.TrimSpace(alt.Transcript)
		if text == "" {
			return
		}
		s.texts = append(s.texts, text)
		if !s.haveConf {
			s.confidence = alt.Confidence
			s.haveConf = true
		}
	}
}

// deepgramResponse covers the two server events this backend reads: Results
// carries transcripts, Metadata ends the stream with the request ID and the
// seconds of audio processed. The fields are disjoint, so one struct decodes
// both.
type deepgramResponse struct {
	Type      string  `json:"type"`
	IsFinal   bool    `json:"is_final"`
	RequestID string  `json:"request_id"`
	Duration  float64 `json:"duration"`
	Channel   struct {
		Alternatives []struct {
			Transcript string  `json:"transcript"`
			Confidence float64 `json:"confidence"`
		} `json:"alternatives"`
	} `json:"channel"`
}
