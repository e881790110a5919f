package whispercpp_test

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/jmcdice/launch-control/pkg/audio"
	"github.com/jmcdice/launch-control/pkg/transcribe"
	"github.com/jmcdice/launch-control/pkg/transcribe/whispercpp"
)

type capturedInference struct {
	Path     string
	Language string
	Model    string
	Filename string
	FileHead []byte
}

// newMockServer responds to POST /inference with the given transcript text
// and records what it saw.
func newMockServer(t *testing.T, responseText string, captured *capturedInference) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/inference" {
			http.Error(w, "not found", http.StatusNotFound)
			return
		}
		if err := r.ParseMultipartForm(16 << 20); err != nil {
			t.Errorf("parse multipart: %v", err)
			http.Error(w, "bad form", http.StatusBadRequest)
			return
		}
		if captured != nil {
			captured.Path = r.URL.Path
			captured.Language = r.FormValue("language")
			captured.Model = r.FormValue("model")
			if f, hdr, err := r.FormFile("file"); err == nil {
				captured.Filename = hdr.Filename
				head := make([]byte, 4)
				_, _ = io.ReadFull(f, head)
				captured.FileHead = head
				f.Close()
			}
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]string{"text": responseText})
	}))
}

func testUtterance() audio.Utterance {
	samples := make([]float32, 1600)
	for i := range samples {
		samples[i] = 0.2
	}
	return audio.Utterance{Samples: samples, SampleRate: 16000, Channels: 1}
}

func TestNewRequiresServerURL(t *testing.T) {
	if _, err := whispercpp.New(""); !errors.Is(err, transcribe.ErrConfiguration) {
		t.Errorf("New(\"\"): error = %v, want ErrConfiguration", err)
	}
	if _, err := whispercpp.New("http://localhost:8080"); err != nil {
		t.Errorf("New with URL: unexpected error %v", err)
	}
}

func TestTranscribePostsInference(t *testing.T) {
	var captured capturedInference
	srv := newMockServer(t, " telemetry locked ", &captured)
	defer srv.Close()

	b, err := whispercpp.New(srv.URL, whispercpp.WithModel("base.en"))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := b.Initialize(t.Context()); err != nil {
		t.Fatalf("Initialize: %v", err)
	}

	res, err := b.Transcribe(t.Context(), testUtterance())
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if res == nil {
		t.Fatal("Transcribe returned nil result")
	}
	if res.Text != "telemetry locked" {
		t.Errorf("Text = %q, want %q", res.Text, "telemetry locked")
	}
	if res.Language != "en-US" {
		t.Errorf("Language = %q, want en-US", res.Language)
	}

	if captured.Filename != "audio.wav" {
		t.Errorf("filename = %q, want audio.wav", captured.Filename)
	}
	if string(captured.FileHead) != "RIFF" {
		t.Errorf("file head = %q, want RIFF", captured.FileHead)
	}
	if captured.Language != "en" {
		t.Errorf("language = %q, want region-stripped en", captured.Language)
	}
	if captured.Model != "base.en" {
		t.Errorf("model = %q, want base.en", captured.Model)
	}

	if err := b.Cleanup(); err != nil {
		t.Errorf("Cleanup: %v", err)
	}
}

func TestTranscribeEmptyTextMeansNoSpeech(t *testing.T) {
	srv := newMockServer(t, "   ", nil)
	defer srv.Close()

	b, err := whispercpp.New(srv.URL)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	res, err := b.Transcribe(t.Context(), testUtterance())
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if res != nil {
		t.Errorf("result = %+v, want nil for blank transcript", res)
	}
}

func TestTranscribeServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model not loaded", http.StatusInternalServerError)
	}))
	defer srv.Close()

	b, err := whispercpp.New(srv.URL)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	if _, err := b.Transcribe(t.Context(), testUtterance()); err == nil {
		t.Error("expected error for HTTP 500, got nil")
	}
}
