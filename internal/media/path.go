// Package media resolves where attachment bytes live on disk and downloads
// them.
package media

import (
	"net/url"
	"path"
	"path/filepath"
	"strings"

	"github.com/xstash/xstash/internal/schema"
)

// UnknownExt is used when neither the content type nor the URL reveal a
// file type.
const UnknownExt = "bin"

// Target is the remote source and local destination of one media item.
type Target struct {
	URL       string
	LocalPath string
}

// ExtFromContentType maps a Content-Type to a file extension, or "".
func ExtFromContentType(contentType string) string {
	ct := strings.ToLower(contentType)
	switch {
	case ct == "":
		return ""
	case strings.Contains(ct, "jpeg"):
		return "jpg"
	case strings.Contains(ct, "png"):
		return "png"
	case strings.Contains(ct, "gif"):
		return "gif"
	case strings.Contains(ct, "mp4"):
		return "mp4"
	case strings.Contains(ct, "webm"):
		return "webm"
	default:
		return ""
	}
}

// ExtFromURL returns the lowercased extension of the URL path, or "".
func ExtFromURL(raw string) string {
	if raw == "" {
		return ""
	}
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	return strings.ToLower(strings.TrimPrefix(path.Ext(u.Path), "."))
}

// LocalPath builds mediaRoot/<first two chars of key>/<key>.<ext>.
func LocalPath(mediaRoot, mediaKey, ext string) string {
	prefix := mediaKey
	if len(prefix) > 2 {
		prefix = prefix[:2]
	}
	return filepath.Join(mediaRoot, prefix, mediaKey+"."+ext)
}

// Resolve picks the URL to download for m and the path to store it at.
// Videos and animated GIFs use their highest bit-rate variant; the
// extension comes from the variant content type, then the URL, then
// UnknownExt.
func Resolve(mediaRoot string, m *schema.Media) Target {
	var rawURL, contentType string
	if v, ok := m.BestVariant(); ok {
		rawURL, contentType = v.URL, v.ContentType
	}
	if rawURL == "" && m.URL != nil {
		rawURL = *m.URL
	}
	if rawURL == "" && m.PreviewImageURL != nil {
		rawURL = *m.PreviewImageURL
	}

	ext := ExtFromContentType(contentType)
	if ext == "" {
		ext = ExtFromURL(rawURL)
	}
	if ext == "" {
		ext = UnknownExt
	}

	return Target{
		URL:       rawURL,
		LocalPath: LocalPath(mediaRoot, m.MediaKey, ext),
	}
}
