package receiver

import (
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/jmcdice/launch-control/pkg/audio"
)

// debugTimestampLayout names artifact pairs so audio and transcript sort
// together: audio_20260314_091205.wav next to trans_20260314_091205.txt.
const debugTimestampLayout = "20060102_150405"

// debugWriter persists per-utterance artifacts for offline inspection of
// detector and backend behaviour. Write failures are logged and otherwise
// ignored; debug output must never affect the pipeline.
type debugWriter struct {
	dir string
	log *slog.Logger
	now func() time.Time
}

func newDebugWriter(dir string, log *slog.Logger) *debugWriter {
	return &debugWriter{dir: dir, log: log, now: time.Now}
}

// save writes the utterance as a WAV file and the final transcript beside it.
func (w *debugWriter) save(utt audio.Utterance, text string) {
	if err := os.MkdirAll(w.dir, 0o755); err != nil {
		w.log.Warn("debug dir create failed", "dir", w.dir, "err", err)
		return
	}

	ts := w.now().Format(debugTimestampLayout)

	audioPath := filepath.Join(w.dir, "audio_"+ts+".wav")
	wav := audio.EncodeWAV(utt.Samples, utt.SampleRate, utt.Channels)
	if err := os.WriteFile(audioPath, wav, 0o644); err != nil {
		w.log.Warn("debug audio write failed", "path", audioPath, "err", err)
		return
	}

	transPath := filepath.Join(w.dir, "trans_"+ts+".txt")
	if err := os.WriteFile(transPath, []byte(text+"\n"), 0o644); err != nil {
		w.log.Warn("debug transcript write failed", "path", transPath, "err", err)
		return
	}

	w.log.Debug("debug artifacts saved", "audio", audioPath, "transcript", transPath)
}
