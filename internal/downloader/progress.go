package downloader

import (
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/donmunna435-dev/Deep-yt/internal/domain"
)

// progressReader wraps a response body, publishes the completion percentage
// into a domain.Progress and logs periodically. Nothing is published when the
// total size is unknown.
type progressReader struct {
	reader     io.Reader
	total      int64
	downloaded int64
	progress   *domain.Progress
	lastLog    time.Time
	logger     *slog.Logger
}

func newProgressReader(r io.Reader, total int64, progress *domain.Progress, logger *slog.Logger) *progressReader {
	return &progressReader{
		reader:   r,
		total:    total,
		progress: progress,
		lastLog:  time.Now(),
		logger:   logger,
	}
}

func (p *progressReader) Read(buf []byte) (int, error) {
	n, err := p.reader.Read(buf)
	if n > 0 {
		p.downloaded += int64(n)
		if p.total > 0 {
			p.progress.Update(p.downloaded, p.total)
		}
		if time.Since(p.lastLog) > 30*time.Second {
			p.logProgress()
			p.lastLog = time.Now()
		}
	}
	return n, err
}

func (p *progressReader) logProgress() {
	if p.total > 0 {
		pct := float64(p.downloaded) / float64(p.total) * 100
		p.logger.Info("download progress",
			"downloaded_mb", p.downloaded/mib,
			"total_mb", p.total/mib,
			"percent", fmt.Sprintf("%.1f%%", pct),
		)
	} else {
		p.logger.Info("download progress",
			"downloaded_mb", p.downloaded/mib,
		)
	}
}
