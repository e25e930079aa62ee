package voice

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/discord-voice-chat/internal/logging"
)

// CleanTempDir removes voicechat temp files in dir older than retention.
// Files owned by a live playback are younger than retention in practice; a
// crash leaves them behind for this sweep.
func CleanTempDir(dir string, retention time.Duration) int {
	entries, err := os.ReadDir(dir)
	if err != nil {
		logging.Debugw("voice: temp cleanup readDir failed", "dir", dir, "err", err)
		return 0
	}
	cutoff := time.Now().Add(-retention)
	removed := 0
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !(strings.HasPrefix(name, tempPrefix) || strings.HasPrefix(name, "."+tempPrefix)) {
			continue
		}
		info, err := e.Info()
		if err != nil || !info.ModTime().Before(cutoff) {
			continue
		}
		if err := os.Remove(filepath.Join(dir, name)); err == nil {
			removed++
		}
	}
	if removed > 0 {
		logging.Infow("voice: removed stale temp audio", "dir", dir, "count", removed)
	}
	return removed
}

// StartTempJanitor sweeps dir once immediately and then every interval
// until ctx ends. Caller must call wg.Add(1) first; the goroutine calls
// wg.Done() on exit.
func StartTempJanitor(ctx context.Context, wg *sync.WaitGroup, dir string, retention, interval time.Duration) {
	go func() {
		defer wg.Done()
		CleanTempDir(dir, retention)
		if interval <= 0 {
			return
		}
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				CleanTempDir(dir, retention)
			}
		}
	}()
}
