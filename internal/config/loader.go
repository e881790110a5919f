package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"regexp"
	"slices"

	"gopkg.in/yaml.v3"

	"github.com/jmcdice/launch-control/pkg/transcribe"
)

// envPattern matches the braced substitution form ${NAME}. The bare $NAME
// form is left alone so shell-looking strings survive untouched.
var envPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// Load reads the YAML configuration file at path and returns a validated
// [Config]. It is a convenience wrapper around [LoadFromReader].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, expands ${ENV} references,
// merges the document over [Default], and validates the result. Useful in
// tests where configs are constructed from string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("config: read: %w", err)
	}
	raw = expandEnv(raw)

	cfg := Default()
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	cfg.applyDerived()

	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// expandEnv substitutes every ${NAME} occurrence with the value of the
// environment variable NAME. An unset variable expands to the empty string,
// which validation then treats like any other absent credential.
func expandEnv(raw []byte) []byte {
	return envPattern.ReplaceAllFunc(raw, func(m []byte) []byte {
		name := envPattern.FindSubmatch(m)[1]
		return []byte(os.Getenv(string(name)))
	})
}

// applyDerived fills fields whose default depends on another field.
func (c *Config) applyDerived() {
	if c.Audio.FrameLen == 0 && c.Audio.SampleRate > 0 {
		c.Audio.FrameLen = c.Audio.SampleRate / 10
	}
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	if cfg.LogLevel != "" && !cfg.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("log_level %q is invalid; valid values: debug, info, warn, error", cfg.LogLevel))
	}
	if cfg.ListenAddr == "" {
		errs = append(errs, errors.New("listen_addr is required"))
	}

	if cfg.Audio.SampleRate <= 0 {
		errs = append(errs, fmt.Errorf("audio.sample_rate %d must be positive", cfg.Audio.SampleRate))
	}
	if cfg.Audio.Channels <= 0 {
		errs = append(errs, fmt.Errorf("audio.channels %d must be positive", cfg.Audio.Channels))
	}
	if cfg.Audio.FrameLen <= 0 {
		errs = append(errs, fmt.Errorf("audio.frame_len %d must be positive", cfg.Audio.FrameLen))
	}
	if cfg.Audio.Threshold <= 0 {
		errs = append(errs, errors.New("audio.threshold must be positive"))
	} else if cfg.Audio.Threshold >= 1 {
		errs = append(errs, fmt.Errorf("audio.threshold %.3f can never trigger on normalised audio; use a value well below 1.0", cfg.Audio.Threshold))
	}
	if cfg.Audio.SilenceThreshold < 0 || cfg.Audio.MinDuration < 0 || cfg.Audio.MaxDuration < 0 || cfg.Audio.PreRoll < 0 {
		errs = append(errs, errors.New("audio durations must not be negative"))
	}
	if cfg.Audio.QueueSize < 1 {
		errs = append(errs, fmt.Errorf("audio.queue_size %d must be at least 1", cfg.Audio.QueueSize))
	}

	if cfg.Transcription.Backend == "" {
		errs = append(errs, errors.New("transcription.backend is required"))
	} else {
		validateBackendName(cfg.Transcription.Backend)
	}
	for i, fb := range cfg.Transcription.Fallbacks {
		if fb.Backend == "" {
			errs = append(errs, fmt.Errorf("transcription.fallbacks[%d].backend is required", i))
			continue
		}
		validateBackendName(fb.Backend)
	}

	if cfg.Debug.Enabled && cfg.Debug.Dir == "" {
		errs = append(errs, errors.New("debug.dir is required when debug.enabled is true"))
	}

	return errors.Join(errs...)
}

// validateBackendName logs a warning if name is not among the registered
// transcription backends. Construction fails later for a truly unknown name;
// the warning exists to catch typos before credentials get blamed.
func validateBackendName(name string) {
	known := transcribe.Backends()
	if len(known) == 0 || slices.Contains(known, name) {
		return
	}
	slog.Warn("unknown transcription backend — may be a typo or an unlinked backend",
		"name", name,
		"known", known,
	)
}
