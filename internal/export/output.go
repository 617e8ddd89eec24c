package export

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// DefaultFileName is bookmarks.<format>.
func DefaultFileName(f Format) string {
	return "bookmarks." + string(f)
}

// ResolveOutputPath maps --out to a file path. An existing directory, or a
// missing path without an extension, receives DefaultFileName. An empty
// out returns "" for stdout.
func ResolveOutputPath(out string, f Format) (string, error) {
	if out == "" {
		return "", nil
	}

	info, err := os.Stat(out)
	switch {
	case err == nil && info.IsDir():
		return filepath.Join(out, DefaultFileName(f)), nil
	case err == nil:
		return out, nil
	case !errors.Is(err, os.ErrNotExist):
		return "", fmt.Errorf("failed to stat %s: %w", out, err)
	case filepath.Ext(out) == "":
		return filepath.Join(out, DefaultFileName(f)), nil
	default:
		return out, nil
	}
}

// WriteFile renders ds to path atomically.
func WriteFile(path string, ds *Dataset, f Format) error {
	var buf bytes.Buffer
	if err := Write(&buf, ds, f); err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}

	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, buf.Bytes(), 0644); err != nil {
		return fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("failed to rename temp file: %w", err)
	}
	return nil
}
