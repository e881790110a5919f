// Package config provides the configuration schema and loader for the
// launch-control capture service.
package config

import (
	"log/slog"
	"time"

	"github.com/jmcdice/launch-control/internal/segment"
	"github.com/jmcdice/launch-control/pkg/audio"
	"github.com/jmcdice/launch-control/pkg/transcribe"
)

// LogLevel controls log verbosity for the service.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// Level maps l onto the slog levels. Unrecognised values map to Info.
func (l LogLevel) Level() slog.Level {
	switch l {
	case LogDebug:
		return slog.LevelDebug
	case LogWarn:
		return slog.LevelWarn
	case LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Config is the root configuration structure. It is typically loaded from a
// YAML file using [Load] or [LoadFromReader].
type Config struct {
	// LogLevel controls verbosity.
	LogLevel LogLevel `yaml:"log_level"`

	// ListenAddr is the TCP address of the metrics/health endpoint
	// (e.g., ":8970").
	ListenAddr string `yaml:"listen_addr"`

	Audio         AudioConfig         `yaml:"audio"`
	Transcription TranscriptionConfig `yaml:"transcription"`
	Debug         DebugConfig         `yaml:"debug"`
	Transcripts   TranscriptsConfig   `yaml:"transcripts"`
}

// AudioConfig holds capture and segmentation settings. Durations are
// expressed in seconds, matching the granularity operators tune them at.
type AudioConfig struct {
	// Device selects the capture input. The value is passed through to the
	// capture backend (for ffmpeg, the -i argument). Empty picks the
	// platform default.
	Device string `yaml:"device"`

	// SampleRate is the capture sample rate in Hz.
	SampleRate int `yaml:"sample_rate"`

	// Channels is the capture channel count. 1 for mono.
	Channels int `yaml:"channels"`

	// FrameLen is the samples-per-channel delivered per frame. Zero derives
	// one tenth of a second from the sample rate.
	FrameLen int `yaml:"frame_len"`

	// Threshold is the RMS speech threshold on the normalised [0, 1] scale.
	Threshold float64 `yaml:"threshold"`

	// SilenceThreshold is the run of silence, in seconds, that ends an
	// utterance.
	SilenceThreshold float64 `yaml:"silence_threshold"`

	// MinDuration is the minimum utterance length in seconds; shorter
	// bursts are discarded as noise.
	MinDuration float64 `yaml:"min_duration"`

	// MaxDuration forces utterance completion after this many seconds.
	MaxDuration float64 `yaml:"max_duration"`

	// PreRoll is the amount of pre-onset audio, in seconds, prepended to
	// each utterance.
	PreRoll float64 `yaml:"pre_roll"`

	// QueueSize bounds the handoff queue between detection and
	// transcription.
	QueueSize int `yaml:"queue_size"`

	// FFmpegPath overrides the ffmpeg binary used for capture. Empty
	// resolves "ffmpeg" from PATH.
	FFmpegPath string `yaml:"ffmpeg_path"`

	// CaptureFormat overrides the ffmpeg input format (alsa, pulse,
	// avfoundation, dshow). Empty picks a platform default.
	CaptureFormat string `yaml:"capture_format"`
}

// StreamConfig assembles the capture stream parameters.
func (a AudioConfig) StreamConfig() audio.StreamConfig {
	return audio.StreamConfig{
		SampleRate: a.SampleRate,
		Channels:   a.Channels,
		FrameLen:   a.FrameLen,
		Device:     a.Device,
	}
}

// DetectorConfig assembles the segmentation parameters, converting the
// float-second fields to durations.
func (a AudioConfig) DetectorConfig() segment.Config {
	return segment.Config{
		SampleRate:       a.SampleRate,
		Channels:         a.Channels,
		FrameLen:         a.FrameLen,
		Threshold:        a.Threshold,
		SilenceThreshold: secondsToDuration(a.SilenceThreshold),
		MinDuration:      secondsToDuration(a.MinDuration),
		MaxDuration:      secondsToDuration(a.MaxDuration),
		PreRoll:          secondsToDuration(a.PreRoll),
	}
}

// TranscriptionConfig selects and parameterises the transcription backend.
type TranscriptionConfig struct {
	// Backend names the registered transcription backend
	// (e.g., "google-chirp", "openai-whisper").
	Backend string `yaml:"backend"`

	// Language is the BCP-47 recognition language (e.g., "en-US").
	Language string `yaml:"language"`

	// Model overrides the backend's default model.
	Model string `yaml:"model"`

	// ProjectID is the cloud project identifier for backends that need one.
	// Supports ${ENV} expansion, e.g. "${GOOGLE_CLOUD_PROJECT}".
	ProjectID string `yaml:"project_id"`

	// APIKey authenticates against the backend's API. Supports ${ENV}
	// expansion, e.g. "${OPENAI_API_KEY}".
	APIKey string `yaml:"api_key"`

	// Endpoint overrides the backend's default API endpoint.
	Endpoint string `yaml:"endpoint"`

	// Vocabulary lists domain terms for phonetic post-correction of
	// transcripts. Empty disables correction.
	Vocabulary []string `yaml:"vocabulary"`

	// Fallbacks lists alternate backends tried, in order, when the primary
	// fails. Each entry carries its own credentials.
	Fallbacks []FallbackConfig `yaml:"fallbacks"`
}

// Settings assembles the backend settings for the given capture format.
func (t TranscriptionConfig) Settings(stream audio.StreamConfig) transcribe.Settings {
	return transcribe.Settings{
		Language:   t.Language,
		Model:      t.Model,
		APIKey:     t.APIKey,
		ProjectID:  t.ProjectID,
		BaseURL:    t.Endpoint,
		SampleRate: stream.SampleRate,
		Channels:   stream.Channels,
	}
}

// FallbackConfig parameterises one fallback transcription backend.
type FallbackConfig struct {
	// Backend names the registered backend to fail over to.
	Backend string `yaml:"backend"`

	// Language overrides the primary's recognition language. Empty inherits it.
	Language string `yaml:"language"`

	// Model overrides the backend's default model.
	Model string `yaml:"model"`

	// ProjectID is the cloud project identifier. Supports ${ENV} expansion.
	ProjectID string `yaml:"project_id"`

	// APIKey authenticates against the backend's API. Supports ${ENV} expansion.
	APIKey string `yaml:"api_key"`

	// Endpoint overrides the backend's default API endpoint.
	Endpoint string `yaml:"endpoint"`
}

// Settings assembles the fallback's backend settings. An empty Language
// inherits defaultLanguage from the primary.
func (f FallbackConfig) Settings(stream audio.StreamConfig, defaultLanguage string) transcribe.Settings {
	language := f.Language
	if language == "" {
		language = defaultLanguage
	}
	return transcribe.Settings{
		Language:   language,
		Model:      f.Model,
		APIKey:     f.APIKey,
		ProjectID:  f.ProjectID,
		BaseURL:    f.Endpoint,
		SampleRate: stream.SampleRate,
		Channels:   stream.Channels,
	}
}

// DebugConfig controls per-utterance debug artifacts.
type DebugConfig struct {
	// Enabled turns on writing of audio/transcript artifact pairs.
	Enabled bool `yaml:"enabled"`

	// Dir is the artifact directory, created on first use.
	Dir string `yaml:"dir"`
}

// TranscriptsConfig controls the plain-text transcript log.
type TranscriptsConfig struct {
	// Dir, when non-empty, enables appending finalised transcripts to a
	// dated log file under this directory.
	Dir string `yaml:"dir"`
}

// Default returns a Config populated with the stock values. Loading merges
// the YAML document over these, so absent keys keep their defaults.
func Default() *Config {
	return &Config{
		LogLevel:   LogInfo,
		ListenAddr: ":8970",
		Audio: AudioConfig{
			SampleRate:       44100,
			Channels:         1,
			Threshold:        0.005,
			SilenceThreshold: 1.0,
			MinDuration:      0.5,
			MaxDuration:      30.0,
			PreRoll:          0.5,
			QueueSize:        100,
		},
		Transcription: TranscriptionConfig{
			Backend:  transcribe.DefaultBackend,
			Language: "en-US",
		},
		Debug: DebugConfig{
			Dir: "debug/audio",
		},
	}
}

func secondsToDuration(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}
