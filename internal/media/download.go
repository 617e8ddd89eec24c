package media

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
)

// ErrSkippable marks download failures that should be logged and skipped
// rather than abort a sync: the media is gone or not visible to us.
var ErrSkippable = errors.New("media unavailable")

// maxErrorBody bounds how much of a failed response is kept for the error.
const maxErrorBody = 512

// DownloadError reports a non-2xx response from the media host.
type DownloadError struct {
	Status int
	Body   string
}

func (e *DownloadError) Error() string {
	return fmt.Sprintf("media download failed %d: %s", e.Status, e.Body)
}

// Is matches ErrSkippable for 401, 403, 404 and 410.
func (e *DownloadError) Is(target error) bool {
	if target != ErrSkippable {
		return false
	}
	switch e.Status {
	case http.StatusUnauthorized, http.StatusForbidden, http.StatusNotFound, http.StatusGone:
		return true
	default:
		return false
	}
}

// IsSkippable reports whether err is a download failure that must not
// abort the run.
func IsSkippable(err error) bool {
	return errors.Is(err, ErrSkippable)
}

// Result describes the outcome of one download.
type Result struct {
	// Downloaded is false when the file already existed.
	Downloaded bool
	// ActualPath differs from the requested path when the response
	// Content-Type implies a different extension.
	ActualPath string
}

// Downloader fetches media bytes over HTTP.
type Downloader struct {
	client *http.Client
}

// NewDownloader returns a Downloader using client, or http.DefaultClient
// when client is nil. Pass the authenticated, retrying client from xapi
// so downloads share its credentials and backoff.
func NewDownloader(client *http.Client) *Downloader {
	if client == nil {
		client = http.DefaultClient
	}
	return &Downloader{client: client}
}

// Download stores the body of rawURL at dest unless dest already exists.
func (d *Downloader) Download(ctx context.Context, rawURL, dest string) (Result, error) {
	if _, err := os.Stat(dest); err == nil {
		return Result{ActualPath: dest}, nil
	} else if !os.IsNotExist(err) {
		return Result{}, fmt.Errorf("failed to stat %s: %w", dest, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return Result{}, fmt.Errorf("failed to build media request: %w", err)
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return Result{}, fmt.Errorf("failed to fetch media: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return Result{}, &DownloadError{Status: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}

	actual := dest
	if ext := ExtFromContentType(resp.Header.Get("Content-Type")); ext != "" {
		if cur := strings.TrimPrefix(filepath.Ext(dest), "."); cur != "" && cur != ext {
			actual = strings.TrimSuffix(dest, "."+cur) + "." + ext
		}
	}

	if err := writeAtomic(actual, resp.Body); err != nil {
		return Result{}, err
	}
	return Result{Downloaded: true, ActualPath: actual}, nil
}

// writeAtomic streams r to a temp file next to dest and renames it.
func writeAtomic(dest string, r io.Reader) error {
	if err := os.MkdirAll(filepath.Dir(dest), 0755); err != nil {
		return fmt.Errorf("failed to create media directory: %w", err)
	}

	tmpPath := dest + ".tmp"
	f, err := os.OpenFile(tmpPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	if _, err := io.Copy(f, r); err != nil {
		_ = f.Close()
		_ = os.Remove(tmpPath)
		return fmt.Errorf("failed to write media: %w", err)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("failed to close temp file: %w", err)
	}

	if err := os.Rename(tmpPath, dest); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("failed to rename temp file: %w", err)
	}
	return nil
}
