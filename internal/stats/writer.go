package stats

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
)

// WriteSnapshot atomically writes s as JSON to path: it writes to a
// sibling temp file first, then renames it into place, so a reader never
// observes a partially-written stats.json.
func WriteSnapshot(path string, s Snapshot) error {
	data, err := json.Marshal(s)
	if err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

// RunWriterLoop writes a Snapshot of a to path every interval, and once
// more immediately before returning when ctx is cancelled, so the file on
// disk reflects the final state at shutdown. Write failures are logged and
// swallowed — a background failure here must never affect live sessions.
func RunWriterLoop(ctx context.Context, a *Accountant, path string, log zerolog.Logger, interval time.Duration) {
	if path == "" {
		return
	}
	if interval <= 0 {
		interval = 60 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			if err := WriteSnapshot(path, a.Snapshot()); err != nil {
				log.Debug().Err(err).Str("path", path).Msg("final stats write failed")
			}
			return
		case <-ticker.C:
			if err := WriteSnapshot(path, a.Snapshot()); err != nil {
				log.Debug().Err(err).Str("path", filepath.Base(path)).Msg("stats write failed")
			}
		}
	}
}
