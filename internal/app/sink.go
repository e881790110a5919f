package app

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/jmcdice/launch-control/internal/receiver"
)

// newTranscriptSink returns the default transcript destination: every final
// transcript is logged, and when dir is non-empty it is also appended to a
// dated plain-text log under dir. The file is opened per append so a crash
// never loses more than the line being written.
func newTranscriptSink(dir string) (receiver.Sink, error) {
	if dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create transcripts dir %q: %w", dir, err)
		}
	}

	return func(_ context.Context, text string) error {
		slog.Info("transcript", "text", text)
		if dir == "" {
			return nil
		}

		now := time.Now()
		path := filepath.Join(dir, "transcript_"+now.Format("2006-01-02")+".log")
		f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
		if err != nil {
			return fmt.Errorf("open transcript log %q: %w", path, err)
		}
		_, werr := fmt.Fprintf(f, "[%s] %s\n", now.Format("15:04:05"), text)
		cerr := f.Close()
		if werr != nil {
			return fmt.Errorf("append transcript: %w", werr)
		}
		if cerr != nil {
			return fmt.Errorf("close transcript log: %w", cerr)
		}
		return nil
	}, nil
}
