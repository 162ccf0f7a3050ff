package downloader

import (
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// Cleanup removes a scratch file. It is idempotent and never fails the
// caller; errors are logged.
func (d *HTTPDownloader) Cleanup(path string) {
	if path == "" {
		return
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		d.logger.Warn("failed to remove scratch file", "path", path, "error", err)
		return
	}
	d.logger.Debug("scratch file removed", "path", path)
}

// Sweep removes scratch files last modified more than maxAge ago and returns
// how many were removed.
func (d *HTTPDownloader) Sweep(maxAge time.Duration) (int, error) {
	entries, err := os.ReadDir(d.tempDir)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("read temp dir: %w", err)
	}

	cutoff := time.Now().Add(-maxAge)
	removed := 0
	for _, e := range entries {
		if !e.Type().IsRegular() {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		if info.ModTime().After(cutoff) {
			continue
		}
		p := filepath.Join(d.tempDir, e.Name())
		if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
			d.logger.Warn("sweep: failed to remove stale file", "path", p, "error", err)
			continue
		}
		removed++
	}

	if removed > 0 {
		d.logger.Info("sweep removed stale scratch files", "count", removed, "max_age", maxAge.String())
	}
	return removed, nil
}
