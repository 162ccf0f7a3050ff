package downloader

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/donmunna435-dev/Deep-yt/internal/config"
	"github.com/donmunna435-dev/Deep-yt/internal/domain"
)

const mib = 1024 * 1024

// Scratch file name prefixes per source kind.
const (
	sourceChat  = "tg"
	sourceURL   = "url"
	sourceDrive = "drive"
)

var mimeByExt = map[string]string{
	".mp4":  "video/mp4",
	".mkv":  "video/x-matroska",
	".avi":  "video/x-msvideo",
	".mov":  "video/quicktime",
	".wmv":  "video/x-ms-wmv",
	".flv":  "video/x-flv",
	".webm": "video/webm",
}

var extByMime = map[string]string{
	"video/mp4":        ".mp4",
	"video/x-matroska": ".mkv",
	"video/x-msvideo":  ".avi",
	"video/avi":        ".avi",
	"video/quicktime":  ".mov",
	"video/x-ms-wmv":   ".wmv",
	"video/x-flv":      ".flv",
	"video/webm":       ".webm",
}

// HTTPDownloader implements Acquirer using HTTP requests.
type HTTPDownloader struct {
	// client is used for short requests (Probe) with an overall timeout
	client *http.Client
	// streamClient is used for transfers; the deadline comes from the context
	streamClient *http.Client
	cfg          config.DownloadConfig
	tempDir      string
	maxSize      int64
	allowed      map[string]bool
	logger       *slog.Logger

	// freeSpace is swapped in tests.
	freeSpace func(path string) int64
}

// NewHTTPDownloader creates a downloader writing into storage.TempPath.
func NewHTTPDownloader(cfg config.DownloadConfig, storage config.StorageConfig, logger *slog.Logger) (*HTTPDownloader, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := os.MkdirAll(storage.TempPath, 0755); err != nil {
		return nil, fmt.Errorf("create temp dir: %w", err)
	}

	allowed := make(map[string]bool, len(storage.AllowedExtensions))
	for _, ext := range config.NormalizeExtensions(storage.AllowedExtensions) {
		allowed[ext] = true
	}

	checkRedirect := func(req *http.Request, via []*http.Request) error {
		if len(via) > cfg.MaxRedirects {
			return fmt.Errorf("stopped after %d redirects", cfg.MaxRedirects)
		}
		return nil
	}

	return &HTTPDownloader{
		client: &http.Client{
			Timeout:       cfg.ProbeTimeout,
			CheckRedirect: checkRedirect,
		},
		streamClient: &http.Client{
			Transport:     &http.Transport{ResponseHeaderTimeout: 30 * time.Second, Proxy: http.ProxyFromEnvironment},
			CheckRedirect: checkRedirect,
		},
		cfg:       cfg,
		tempDir:   storage.TempPath,
		maxSize:   storage.MaxFileSize,
		allowed:   allowed,
		logger:    logger,
		freeSpace: freeDiskSpace,
	}, nil
}

// TempDir returns the scratch directory.
func (d *HTTPDownloader) TempDir() string {
	return d.tempDir
}

// FreeSpace returns the bytes available in the scratch directory, or 0 when unknown.
func (d *HTTPDownloader) FreeSpace() int64 {
	return d.freeSpace(d.tempDir)
}

// FromChatMedia streams a chat attachment into scratch storage.
func (d *HTTPDownloader) FromChatMedia(ctx context.Context, src MediaSource, progress *domain.Progress) (*domain.Acquisition, error) {
	if src.DeclaredSize > d.maxSize {
		return nil, d.tooLarge(src.DeclaredSize)
	}
	ext, err := d.resolveExtension(src.FileName, src.MimeType)
	if err != nil {
		return nil, err
	}
	return d.fetch(ctx, fetchRequest{
		url:      src.URL,
		source:   sourceChat,
		ext:      ext,
		fileName: src.FileName,
		mimeType: src.MimeType,
		total:    src.DeclaredSize,
	}, progress)
}

// FromURL probes and streams an http(s) URL into scratch storage.
func (d *HTTPDownloader) FromURL(ctx context.Context, rawURL string, progress *domain.Progress) (*domain.Acquisition, error) {
	return d.fromURL(ctx, rawURL, sourceURL, progress)
}

// FromDrive resolves a Drive share link and delegates to the URL path.
// Links with no recognisable file id fail without any network call.
func (d *HTTPDownloader) FromDrive(ctx context.Context, link string, progress *domain.Progress) (*domain.Acquisition, error) {
	id, err := DriveFileID(link)
	if err != nil {
		return nil, err
	}
	d.logger.Debug("resolved drive link", "file_id", id)
	return d.fromURL(ctx, DriveDownloadURL(d.cfg.DriveBaseURL, id), sourceDrive, progress)
}

func (d *HTTPDownloader) fromURL(ctx context.Context, rawURL, source string, progress *domain.Progress) (*domain.Acquisition, error) {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, fmt.Errorf("%w: %q", domain.ErrInvalidURL, rawURL)
	}

	probe, _ := d.Probe(ctx, u.String())

	var (
		total    int64 = -1
		mimeType string
		fileName = path.Base(u.Path)
	)
	if probe != nil && probe.Accessible {
		total = probe.ContentLength
		mimeType = probe.ContentType
		if probe.FileName != "" {
			fileName = probe.FileName
		}
	}
	if fileName == "/" || fileName == "." {
		fileName = ""
	}

	if total > d.maxSize {
		return nil, d.tooLarge(total)
	}
	if mimeType != "" && !isVideoType(mimeType) {
		d.logger.Warn("content type is not video, downloading anyway",
			"url", u.Redacted(),
			"content_type", mimeType,
		)
	}

	ext, err := d.resolveExtension(fileName, mimeType)
	if err != nil {
		return nil, err
	}

	return d.fetch(ctx, fetchRequest{
		url:      u.String(),
		source:   source,
		ext:      ext,
		fileName: fileName,
		mimeType: mimeType,
		total:    total,
	}, progress)
}

// Probe checks URL accessibility without downloading full content.
func (d *HTTPDownloader) Probe(ctx context.Context, rawURL string) (*ProbeResult, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", d.cfg.UserAgent)

	resp, err := d.client.Do(req)
	if err != nil {
		return &ProbeResult{
			Accessible: false,
			Error:      err.Error(),
		}, nil
	}
	defer resp.Body.Close()

	result := &ProbeResult{
		ContentType:   mediaType(resp.Header.Get("Content-Type")),
		ContentLength: resp.ContentLength,
		FileName:      dispositionFileName(resp.Header.Get("Content-Disposition")),
		Accessible:    resp.StatusCode == http.StatusOK,
	}
	if !result.Accessible {
		result.Error = fmt.Sprintf("status code %d", resp.StatusCode)
	}
	return result, nil
}

type fetchRequest struct {
	url      string
	source   string
	ext      string
	fileName string
	mimeType string
	total    int64 // -1 or 0 when unknown
}

func (d *HTTPDownloader) fetch(ctx context.Context, fr fetchRequest, progress *domain.Progress) (*domain.Acquisition, error) {
	need := fr.total
	if need <= 0 {
		need = d.maxSize
	}
	if free := d.freeSpace(d.tempDir); free > 0 && free < need {
		return nil, fmt.Errorf("%w: %.1f MiB free, %.1f MiB needed", domain.ErrStorageFull,
			float64(free)/mib, float64(need)/mib)
	}

	if d.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.cfg.Timeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fr.url, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrInvalidURL, err)
	}
	req.Header.Set("User-Agent", d.cfg.UserAgent)
	req.Header.Set("Accept", "video/*;q=0.9,*/*;q=0.8")

	resp, err := d.streamClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrDownloadFailed, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: unexpected status code %d", domain.ErrDownloadFailed, resp.StatusCode)
	}

	if resp.ContentLength > d.maxSize {
		return nil, d.tooLarge(resp.ContentLength)
	}
	total := fr.total
	if resp.ContentLength > 0 {
		total = resp.ContentLength
	}
	mimeType := fr.mimeType
	if mimeType == "" {
		mimeType = mediaType(resp.Header.Get("Content-Type"))
	}

	filePath := filepath.Join(d.tempDir, fmt.Sprintf("%s_%s%s", fr.source, uuid.New().String(), fr.ext))
	f, err := os.OpenFile(filePath, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("create scratch file: %w", err)
	}

	logger := d.logger.With("file", filepath.Base(filePath), "source", fr.source)
	reader := newProgressReader(resp.Body, total, progress, logger)

	// Read one byte past the limit so an oversized body is detectable.
	written, copyErr := io.Copy(f, io.LimitReader(reader, d.maxSize+1))
	closeErr := f.Close()

	switch {
	case copyErr != nil:
		d.Cleanup(filePath)
		return nil, fmt.Errorf("%w: %w", domain.ErrDownloadFailed, copyErr)
	case closeErr != nil:
		d.Cleanup(filePath)
		return nil, fmt.Errorf("write scratch file: %w", closeErr)
	case written > d.maxSize:
		d.Cleanup(filePath)
		return nil, fmt.Errorf("%w: download exceeded the %.0f MiB limit", domain.ErrFileTooLarge, float64(d.maxSize)/mib)
	case written == 0:
		d.Cleanup(filePath)
		return nil, domain.ErrEmptyFile
	}

	if !strings.HasPrefix(mimeType, "video/") {
		mimeType = mimeByExt[fr.ext]
	}

	logger.Info("download complete", "size_mb", fmt.Sprintf("%.2f", float64(written)/mib))

	return &domain.Acquisition{
		FilePath: filePath,
		Size:     written,
		MimeType: mimeType,
		FileName: fr.fileName,
	}, nil
}

// resolveExtension validates a known extension against the allow-list, or
// derives one from the MIME type when the name carries none.
func (d *HTTPDownloader) resolveExtension(fileName, mimeType string) (string, error) {
	ext := strings.ToLower(filepath.Ext(fileName))
	if ext != "" {
		if !d.allowed[ext] {
			return "", fmt.Errorf("%w: %s (allowed: %s)", domain.ErrInvalidExtension, ext, d.allowedList())
		}
		return ext, nil
	}
	if e, ok := extByMime[mediaType(mimeType)]; ok && d.allowed[e] {
		return e, nil
	}
	return ".mp4", nil
}

func (d *HTTPDownloader) allowedList() string {
	exts := make([]string, 0, len(d.allowed))
	for e := range d.allowed {
		exts = append(exts, e)
	}
	sort.Strings(exts)
	return strings.Join(exts, " ")
}

func (d *HTTPDownloader) tooLarge(size int64) error {
	return fmt.Errorf("%w: %.1f MiB exceeds the %.0f MiB limit", domain.ErrFileTooLarge,
		float64(size)/mib, float64(d.maxSize)/mib)
}

func isVideoType(ct string) bool {
	ct = mediaType(ct)
	return strings.HasPrefix(ct, "video/") || ct == "application/octet-stream"
}

func mediaType(ct string) string {
	if ct == "" {
		return ""
	}
	mt, _, err := mime.ParseMediaType(ct)
	if err != nil {
		return strings.ToLower(strings.TrimSpace(ct))
	}
	return mt
}

func dispositionFileName(cd string) string {
	if cd == "" {
		return ""
	}
	_, params, err := mime.ParseMediaType(cd)
	if err != nil {
		return ""
	}
	name := params["filename"]
	if name == "" {
		return ""
	}
	return filepath.Base(name)
}

