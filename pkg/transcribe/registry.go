package transcribe

import (
	"fmt"
	"net/http"
	"sort"
	"strings"
	"sync"
)

// DefaultBackend is the backend used when configuration names none.
const DefaultBackend = "google-chirp"

// Settings carries the configuration a Factory needs to build a backend.
// Fields irrelevant to a given backend are ignored by its factory.
type Settings struct {
	// Language is the BCP-47 recognition language, e.g. "en-US". Backends
	// that want a bare ISO 639-1 code normalise it themselves.
	Language string

	// Model names the service-specific model. Empty selects the backend's
	// default.
	Model string

	// APIKey authenticates against the service, where one applies.
	APIKey string

	// ProjectID is the Google Cloud project for the chirp backend.
	ProjectID string

	// BaseURL overrides the service endpoint. Empty selects the backend's
	// production endpoint; tests point this at a local server.
	BaseURL string

	// SampleRate and Channels describe the PCM audio the backend will
	// receive. Backends that must declare the format up front read these.
	SampleRate int
	Channels   int

	// HTTPClient overrides the backend's HTTP client when non-nil.
	HTTPClient *http.Client
}

// Factory builds a Backend from settings. Factories return errors wrapping
// ErrConfiguration when required settings are missing.
type Factory func(Settings) (Backend, error)

var (
	regMu     sync.RWMutex
	factories = map[string]Factory{}
)

// Register adds a named backend factory. Backend packages call it from their
// init functions; importing a backend package is what makes it available.
// Register panics if the name is empty or already taken.
func Register(name string, f Factory) {
	if name == "" {
		panic("transcribe: Register with empty name")
	}
	if f == nil {
		panic("transcribe: Register with nil factory")
	}
	regMu.Lock()
	defer regMu.Unlock()
	if _, dup := factories[name]; dup {
		panic(fmt.Sprintf("transcribe: Register called twice for backend %q", name))
	}
	factories[name] = f
}

// New builds the named backend. An empty name selects DefaultBackend. An
// unknown name is an error that lists what is available, so a typo in
// configuration is diagnosable from the message alone.
func New(name string, s Settings) (Backend, error) {
	if name == "" {
		name = DefaultBackend
	}
	regMu.RLock()
	f, ok := factories[name]
	regMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("transcribe: unknown backend %q (available: %s): %w",
			name, strings.Join(Backends(), ", "), ErrConfiguration)
	}
	return f(s)
}

// Backends returns the sorted names of all registered backends.
func Backends() []string {
	regMu.RLock()
	defer regMu.RUnlock()
	names := make([]string, 0, len(factories))
	for name := range factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
