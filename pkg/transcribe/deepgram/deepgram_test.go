package deepgram

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/coder/websocket"

	"github.com/jmcdice/launch-control/pkg/audio"
	"github.com/jmcdice/launch-control/pkg/transcribe"
)

// ---- URL / query-param tests ----

func TestBuildURLDefaults(t *testing.T) {
	b, err := New("test-key")
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	rawURL, err := b.buildURL(16000, 1)
	if err != nil {
		t.Fatalf("buildURL: %v", err)
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		t.Fatalf("parse URL: %v", err)
	}
	q := u.Query()

	assertEqual(t, "model", "nova-3", q.Get("model"))
	assertEqual(t, "language", "en", q.Get("language"))
	assertEqual(t, "punctuate", "true", q.Get("punctuate"))
	assertEqual(t, "encoding", "linear16", q.Get("encoding"))
	assertEqual(t, "sample_rate", "16000", q.Get("sample_rate"))
	assertEqual(t, "channels", "1", q.Get("channels"))
}

func TestBuildURLCustomOptions(t *testing.T) {
	b, err := New("key", WithModel("base"), WithLanguage("de"), WithEndpoint("ws://127.0.0.1:9/v1/listen"))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	rawURL, err := b.buildURL(44100, 2)
	if err != nil {
		t.Fatalf("buildURL: %v", err)
	}
	u, _ := url.Parse(rawURL)

	if u.Scheme != "ws" || u.Host != "127.0.0.1:9" {
		t.Errorf("endpoint not honored: %s", rawURL)
	}
	q := u.Query()
	assertEqual(t, "model", "base", q.Get("model"))
	assertEqual(t, "language", "de", q.Get("language"))
	assertEqual(t, "sample_rate", "44100", q.Get("sample_rate"))
	assertEqual(t, "channels", "2", q.Get("channels"))
}

// ---- server event parsing tests ----

func TestSessionObservesFinal(t *testing.T) {
	raw := []byte(`{
		"type": "Results",
		"is_final": true,
		"channel": {
			"alternatives": [{
				"transcript": " go for launch ",
				"confidence": 0.95
			}]
		}
	}`)

	var s session
	s.observe(raw)
	if len(s.texts) != 1 {
		t.Fatalf("texts = %v, want one entry", s.texts)
	}
	assertEqual(t, "text", "go for launch", s.texts[0])
	if s.confidence != 0.95 {
		t.Errorf("confidence = %v, want 0.95", s.confidence)
	}
}

func TestSessionKeepsFirstConfidence(t *testing.T) {
	var s session
	s.observe([]byte(`{"type":"Results","is_final":true,"channel":{"alternatives":[{"transcript":"go","confidence":0.9}]}}`))
	s.observe([]byte(`{"type":"Results","is_final":true,"channel":{"alternatives":[{"transcript":"for launch","confidence":0.4}]}}`))
	if len(s.texts) != 2 {
		t.Fatalf("texts = %v, want two entries", s.texts)
	}
	if s.confidence != 0.9 {
		t.Errorf("confidence = %v, want the first final's 0.9", s.confidence)
	}
}

func TestSessionIgnoresInterim(t *testing.T) {
	var s session
	s.observe([]byte(`{"type":"Results","is_final":false,"channel":{"alternatives":[{"transcript":"go for","confidence":0.5}]}}`))
	if len(s.texts) != 0 {
		t.Errorf("texts = %v, want none for interim result", s.texts)
	}
}

func TestSessionRecordsMetadata(t *testing.T) {
	var s session
	s.observe([]byte(`{"type":"Metadata","request_id":"abc","duration":1.5}`))
	if s.requestID != "abc" {
		t.Errorf("requestID = %q, want %q", s.requestID, "abc")
	}
	if s.duration != 1.5 {
		t.Errorf("duration = %v, want 1.5", s.duration)
	}
	if len(s.texts) != 0 {
		t.Errorf("texts = %v, want none from a Metadata event", s.texts)
	}
}

func TestSessionIgnoresJunk(t *testing.T) {
	cases := map[string][]byte{
		"empty alternatives": []byte(`{"type":"Results","is_final":true,"channel":{"alternatives":[]}}`),
		"blank transcript":   []byte(`{"type":"Results","is_final":true,"channel":{"alternatives":[{"transcript":"  ","confidence":0.7}]}}`),
		"unknown type":       []byte(`{"type":"SpeechStarted"}`),
		"invalid JSON":       []byte(`{invalid`),
	}
	for name, raw := range cases {
		var s session
		s.observe(raw)
		if len(s.texts) != 0 || s.haveConf || s.requestID != "" {
			t.Errorf("%s: session changed: %+v", name, s)
		}
	}
}

// ---- constructor tests ----

func TestNewEmptyAPIKey(t *testing.T) {
	_, err := New("")
	if !errors.Is(err, transcribe.ErrConfiguration) {
		t.Errorf("error = %v, want ErrConfiguration", err)
	}
}

// ---- live session test ----

// wsTestURL converts an httptest server HTTP URL to a WebSocket URL.
func wsTestURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func TestTranscribeStreamsAndCollectsFinals(t *testing.T) {
	type seen struct {
		auth       string
		audioBytes int
	}
	seenCh := make(chan seen, 1)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close(websocket.StatusInternalError, "handler exit")

		ctx := r.Context()
		s := seen{auth: r.Header.Get("Authorization")}

		// Consume binary audio until the CloseStream text frame arrives.
		for {
			typ, data, err := conn.Read(ctx)
			if err != nil {
				return
			}
			if typ == websocket.MessageBinary {
				s.audioBytes += len(data)
				continue
			}
			break
		}
		seenCh <- s

		finals := []string{
			`{"type":"Results","is_final":true,"channel":{"alternatives":[{"transcript":"ignition sequence","confidence":0.88}]}}`,
			`{"type":"Results","is_final":false,"channel":{"alternatives":[{"transcript":"sta","confidence":0.3}]}}`,
			`{"type":"Results","is_final":true,"channel":{"alternatives":[{"transcript":"start","confidence":0.91}]}}`,
			`{"type":"Metadata","request_id":"xyz","duration":0.75}`,
		}
		for _, f := range finals {
			if err := conn.Write(ctx, websocket.MessageText, []byte(f)); err != nil {
				return
			}
		}
		conn.Close(websocket.StatusNormalClosure, "done")
	}))
	defer srv.Close()

	b, err := New("test-key", WithEndpoint(wsTestURL(srv)))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := b.Initialize(context.Background()); err != nil {
		t.Fatalf("Initialize: %v", err)
	}

	samples := make([]float32, 12000)
	for i := range samples {
		samples[i] = 0.2
	}
	utt := audio.Utterance{Samples: samples, SampleRate: 16000, Channels: 1}

	res, err := b.Transcribe(context.Background(), utt)
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if res == nil {
		t.Fatal("Transcribe returned nil result")
	}
	if res.Text != "ignition sequence start" {
		t.Errorf("Text = %q, want %q", res.Text, "ignition sequence start")
	}
	if res.Confidence != 0.88 {
		t.Errorf("Confidence = %v, want first final's 0.88", res.Confidence)
	}
	if got := res.Metadata["request_id"]; got != "xyz" {
		t.Errorf("Metadata[request_id] = %v, want %q", got, "xyz")
	}
	if got := res.Metadata["duration"]; got != 0.75 {
		t.Errorf("Metadata[duration] = %v, want 0.75", got)
	}

	s := <-seenCh
	if s.auth != "Token test-key" {
		t.Errorf("authorization = %q, want token header", s.auth)
	}
	if want := len(samples) * 2; s.audioBytes != want {
		t.Errorf("server received %d audio bytes, want %d", s.audioBytes, want)
	}
}

func TestTranscribeNoSpeech(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		ctx := r.Context()
		for {
			typ, _, err := conn.Read(ctx)
			if err != nil {
				return
			}
			if typ == websocket.MessageText {
				break
			}
		}
		// Empty transcript: silence reached the service.
		_ = conn.Write(ctx, websocket.MessageText,
			[]byte(`{"type":"Results","is_final":true,"channel":{"alternatives":[{"transcript":"","confidence":0}]}}`))
		conn.Close(websocket.StatusNormalClosure, "done")
	}))
	defer srv.Close()

	b, err := New("k", WithEndpoint(wsTestURL(srv)))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	utt := audio.Utterance{Samples: make([]float32, 1600), SampleRate: 16000, Channels: 1}
	res, err := b.Transcribe(context.Background(), utt)
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if res != nil {
		t.Errorf("result = %+v, want nil for empty transcript", res)
	}
}

// ---- helpers ----

func assertEqual(t *testing.T, label, want, got string) {
	t.Helper()
	if want != got {
		t.Errorf("%s: want %q, got %q", label, want, got)
	}
}
