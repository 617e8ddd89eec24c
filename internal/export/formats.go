package export

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"
)

// Format is an export file format.
type Format string

const (
	FormatJSON     Format = "json"
	FormatCSV      Format = "csv"
	FormatMarkdown Format = "md"
)

// ParseFormat accepts json, csv, md and markdown.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "json":
		return FormatJSON, nil
	case "csv":
		return FormatCSV, nil
	case "md", "markdown":
		return FormatMarkdown, nil
	default:
		return "", fmt.Errorf("unknown export format %q (want json, csv or md)", s)
	}
}

// Write renders ds in format f.
func Write(w io.Writer, ds *Dataset, f Format) error {
	switch f {
	case FormatJSON:
		return WriteJSON(w, ds)
	case FormatCSV:
		return WriteCSV(w, ds)
	case FormatMarkdown:
		return WriteMarkdown(w, ds)
	default:
		return fmt.Errorf("unknown export format %q", f)
	}
}

// WriteJSON writes the dataset as indented JSON.
func WriteJSON(w io.Writer, ds *Dataset) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	if err := enc.Encode(ds); err != nil {
		return fmt.Errorf("failed to encode dataset: %w", err)
	}
	return nil
}

var csvHeader = []string{
	"post_id",
	"author_username",
	"author_name",
	"created_at",
	"text",
	"url",
	"discovered_at",
	"last_synced_at",
	"bookmarked_at",
	"bookmarked_at_source",
	"media_count",
	"media_local_paths",
	"media_urls",
	"reference_count",
}

// WriteCSV writes one row per item. Multiple media paths and URLs are
// joined with "|".
func WriteCSV(w io.Writer, ds *Dataset) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(csvHeader); err != nil {
		return fmt.Errorf("failed to write csv header: %w", err)
	}

	for _, it := range ds.Items {
		var paths, urls []string
		for _, m := range it.Media {
			if m.LocalPath != nil && *m.LocalPath != "" {
				paths = append(paths, *m.LocalPath)
			}
			if m.URL != nil && *m.URL != "" {
				urls = append(urls, *m.URL)
			}
		}

		record := []string{
			it.Post.ID,
			deref(it.Author.Username),
			deref(it.Author.Name),
			it.Post.CreatedAt,
			it.Post.Body(),
			it.Post.URL,
			deref(it.Bookmark.DiscoveredAt),
			deref(it.Bookmark.LastSyncedAt),
			deref(it.Bookmark.BookmarkedAt),
			it.Bookmark.BookmarkedAtSource,
			strconv.Itoa(len(it.Media)),
			strings.Join(paths, "|"),
			strings.Join(urls, "|"),
			strconv.Itoa(len(it.References)),
		}
		if err := cw.Write(record); err != nil {
			return fmt.Errorf("failed to write csv row %s: %w", it.Post.ID, err)
		}
	}

	cw.Flush()
	if err := cw.Error(); err != nil {
		return fmt.Errorf("failed to flush csv: %w", err)
	}
	return nil
}

// WriteMarkdown writes one section per item with nested quotes rendered
// as block quotes and media as images. Local media files are preferred
// over remote URLs when they exist.
func WriteMarkdown(w io.Writer, ds *Dataset) error {
	byID := make(map[string]*Item, len(ds.Items))
	for i := range ds.Items {
		byID[ds.Items[i].Post.ID] = &ds.Items[i]
	}

	var b strings.Builder
	for i := range ds.Items {
		if i > 0 {
			b.WriteString("\n")
		}
		writeMarkdownItem(&b, &ds.Items[i], byID)
	}

	if _, err := io.WriteString(w, b.String()); err != nil {
		return fmt.Errorf("failed to write markdown: %w", err)
	}
	return nil
}

func writeMarkdownItem(b *strings.Builder, it *Item, byID map[string]*Item) {
	short := it.Post.ID
	if len(short) > 8 {
		short = short[:8]
	}

	fmt.Fprintf(b, "## @%s | %s | %s\n\n", it.Author.Handle(), it.Post.CreatedAt, short)
	b.WriteString(it.Post.Body())
	b.WriteString("\n\n")
	fmt.Fprintf(b, "- URL: %s\n", it.Post.URL)
	fmt.Fprintf(b, "- created_at: %s\n", it.Post.CreatedAt)
	discovered := "null"
	if it.Bookmark.DiscoveredAt != nil {
		discovered = *it.Bookmark.DiscoveredAt
	}
	fmt.Fprintf(b, "- bookmark.discovered_at: %s\n", discovered)

	if quotes := quoteLines(it, byID); len(quotes) > 0 {
		b.WriteString("\n")
		for _, line := range quotes {
			b.WriteString(line)
			b.WriteString("\n")
		}
	}

	if len(it.Media) > 0 {
		b.WriteString("\n")
		for _, m := range it.Media {
			b.WriteString(mediaLine(m))
			b.WriteString("\n")
		}
	}
}

// quoteLines walks quoted edges up to three levels, one ">" per level.
func quoteLines(root *Item, byID map[string]*Item) []string {
	var (
		lines   []string
		visited = make(map[string]bool)
	)

	var walk func(it *Item, depth int)
	walk = func(it *Item, depth int) {
		if depth > referenceDepth {
			return
		}
		var quoted []Reference
		for _, r := range it.References {
			if r.Type == "quoted" {
				quoted = append(quoted, r)
			}
		}
		sort.Slice(quoted, func(i, j int) bool {
			if quoted[i].Depth != quoted[j].Depth {
				return quoted[i].Depth < quoted[j].Depth
			}
			return quoted[i].PostID < quoted[j].PostID
		})

		prefix := strings.TrimSpace(strings.Repeat("> ", depth))
		for _, r := range quoted {
			key := it.Post.ID + ":" + r.PostID + ":" + strconv.Itoa(depth)
			if visited[key] {
				continue
			}
			visited[key] = true

			nested, ok := byID[r.PostID]
			if !ok {
				lines = append(lines, fmt.Sprintf("%s [quoted: %s]", prefix, r.PostID))
				continue
			}
			lines = append(lines, fmt.Sprintf("%s @%s: %s", prefix, nested.Author.Handle(), nested.Post.Body()))
			walk(nested, depth+1)
		}
	}

	walk(root, 1)
	return lines
}

func mediaLine(m Media) string {
	alt := m.MediaKey
	if m.AltText != nil && *m.AltText != "" {
		alt = *m.AltText
	}
	if m.LocalPath != nil && *m.LocalPath != "" {
		if info, err := os.Stat(*m.LocalPath); err == nil && info.Mode().IsRegular() {
			return fmt.Sprintf("![%s](%s)", alt, *m.LocalPath)
		}
	}
	if m.URL != nil && *m.URL != "" {
		return fmt.Sprintf("![%s](%s)", alt, *m.URL)
	}
	return fmt.Sprintf("[%s](missing: %s)", alt, m.MediaKey)
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
