package export

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/xstash/xstash/internal/schema"
	"github.com/xstash/xstash/internal/store"
)

func ts(s string) time.Time {
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		panic(err)
	}
	return t
}

func strPtr(s string) *string { return &s }

// seedMirror stores two bookmarks by alice. b1 quotes q1 by bob, which is
// not bookmarked. b2 carries one photo.
func seedMirror(t *testing.T) *store.DB {
	t.Helper()
	ctx := context.Background()

	db, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	users := []schema.User{
		{ID: "u1", Username: strPtr("alice"), Name: strPtr("Alice")},
		{ID: "u2", Username: strPtr("bob"), Name: strPtr("Bob")},
	}
	posts := []schema.Post{
		{
			ID: "b1", Text: "look at this", AuthorID: "u1", CreatedAt: "2024-04-30T08:00:00.000Z",
			ReferencedTweets: []schema.Reference{{Type: schema.RefQuoted, ID: "q1"}},
		},
		{ID: "q1", Text: "quoted text", AuthorID: "u2", CreatedAt: "2024-04-29T08:00:00.000Z"},
		{
			ID: "b2", Text: "short, \"quoted\"", AuthorID: "u1", CreatedAt: "2024-05-02T08:00:00.000Z",
			NoteTweet:   &schema.NoteTweet{Text: "the long version"},
			Attachments: &schema.Attachments{MediaKeys: []string{"3_1"}},
		},
	}
	photos := []schema.Media{
		{MediaKey: "3_1", Type: schema.MediaPhoto, URL: strPtr("https://pbs.twimg.com/media/a.jpg"), AltText: strPtr("a cat")},
	}
	mediaRoot := filepath.Join(t.TempDir(), "media")

	err = db.WithTx(ctx, func(q store.Querier) error {
		now := ts("2024-05-01T10:00:00Z")
		if _, err := store.UpsertUsers(ctx, q, users, now); err != nil {
			return err
		}
		if _, err := store.UpsertPosts(ctx, q, posts, now); err != nil {
			return err
		}
		if _, err := store.UpsertMedia(ctx, q, photos, now, mediaRoot); err != nil {
			return err
		}
		if err := store.AttachPostMedia(ctx, q, posts); err != nil {
			return err
		}
		edges := []store.Edge{{PostID: "b1", ReferencedPostID: "q1", Type: schema.RefQuoted, Depth: 1}}
		if _, err := store.UpsertReferenceEdges(ctx, q, edges); err != nil {
			return err
		}
		if _, err := store.ObserveBookmark(ctx, q, "b1", now); err != nil {
			return err
		}
		_, err := store.ObserveBookmark(ctx, q, "b2", ts("2024-05-03T10:00:00Z"))
		return err
	})
	if err != nil {
		t.Fatalf("seed failed: %v", err)
	}
	return db
}

func buildDataset(t *testing.T, db *store.DB, opts Options) *Dataset {
	t.Helper()
	ds, err := Build(context.Background(), db.RawDB(), opts, ts("2024-06-01T00:00:00Z"))
	if err != nil {
		t.Fatalf("Build() failed: %v", err)
	}
	return ds
}

// TestBuild tests dataset counts and ordering
func TestBuild(t *testing.T) {
	db := seedMirror(t)

	tests := []struct {
		name       string
		opts       Options
		wantIDs    []string
		wantCounts Counts
	}{
		{
			name:       "bookmarks only",
			wantIDs:    []string{"b2", "b1"},
			wantCounts: Counts{Posts: 2, Bookmarks: 2, ReferencedPosts: 0, Media: 1},
		},
		{
			name:       "with referenced",
			opts:       Options{IncludeReferenced: true},
			wantIDs:    []string{"b2", "b1", "q1"},
			wantCounts: Counts{Posts: 3, Bookmarks: 2, ReferencedPosts: 1, Media: 1},
		},
		{
			name:       "since",
			opts:       Options{Since: timePtr(ts("2024-05-02T00:00:00Z"))},
			wantIDs:    []string{"b2"},
			wantCounts: Counts{Posts: 1, Bookmarks: 1, Media: 1},
		},
		{
			name:       "until",
			opts:       Options{Until: timePtr(ts("2024-05-02T00:00:00Z")), IncludeReferenced: true},
			wantIDs:    []string{"b1", "q1"},
			wantCounts: Counts{Posts: 2, Bookmarks: 1, ReferencedPosts: 1},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ds := buildDataset(t, db, tt.opts)

			if ds.SchemaVersion != "1.1.0" {
				t.Errorf("SchemaVersion = %q, want 1.1.0", ds.SchemaVersion)
			}
			if ds.Counts != tt.wantCounts {
				t.Errorf("Counts = %+v, want %+v", ds.Counts, tt.wantCounts)
			}
			var ids []string
			for _, it := range ds.Items {
				ids = append(ids, it.Post.ID)
			}
			if strings.Join(ids, ",") != strings.Join(tt.wantIDs, ",") {
				t.Errorf("items = %v, want %v", ids, tt.wantIDs)
			}
		})
	}
}

func timePtr(t time.Time) *time.Time { return &t }

func TestBuild_ItemFields(t *testing.T) {
	db := seedMirror(t)
	ds := buildDataset(t, db, Options{IncludeReferenced: true})

	b2, b1, q1 := ds.Items[0], ds.Items[1], ds.Items[2]

	if b2.Post.Body() != "the long version" {
		t.Errorf("b2 body = %q, want the note text", b2.Post.Body())
	}
	if b2.Post.URL != "https://x.com/alice/status/b2" {
		t.Errorf("b2 url = %q", b2.Post.URL)
	}
	if len(b2.Media) != 1 || b2.Media[0].LocalPath == nil || !strings.HasSuffix(*b2.Media[0].LocalPath, ".jpg") {
		t.Errorf("b2 media = %+v", b2.Media)
	}
	if b2.Bookmark.BookmarkedAt != nil || b2.Bookmark.BookmarkedAtSource != BookmarkedAtSource {
		t.Errorf("b2 bookmark = %+v", b2.Bookmark)
	}
	if len(b1.References) != 1 || b1.References[0] != (Reference{Type: "quoted", Depth: 1, PostID: "q1"}) {
		t.Errorf("b1 references = %+v", b1.References)
	}
	if b1.Bookmark.DiscoveredAt == nil || *b1.Bookmark.DiscoveredAt != "2024-05-01T10:00:00.000Z" {
		t.Errorf("b1 discovered_at = %v", b1.Bookmark.DiscoveredAt)
	}
	if q1.Bookmark.DiscoveredAt != nil || q1.Author.Handle() != "bob" {
		t.Errorf("q1 = %+v", q1)
	}
}

func TestBuild_EmptyMirror(t *testing.T) {
	db, err := store.Open(filepath.Join(t.TempDir(), "empty.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()

	ds := buildDataset(t, db, Options{IncludeReferenced: true})
	var buf bytes.Buffer
	if err := WriteJSON(&buf, ds); err != nil {
		t.Fatalf("WriteJSON() failed: %v", err)
	}
	if !strings.Contains(buf.String(), `"items": []`) {
		t.Errorf("empty dataset should encode items as []:\n%s", buf.String())
	}
}

func TestWriteJSON(t *testing.T) {
	db := seedMirror(t)
	ds := buildDataset(t, db, Options{Since: timePtr(ts("2024-05-01T00:00:00Z"))})

	var buf bytes.Buffer
	if err := WriteJSON(&buf, ds); err != nil {
		t.Fatalf("WriteJSON() failed: %v", err)
	}

	var doc struct {
		SchemaVersion string `json:"schema_version"`
		Filters       struct {
			Since *string `json:"since"`
			Until *string `json:"until"`
		} `json:"filters"`
		Items []struct {
			Raw struct {
				Post map[string]any `json:"post"`
			} `json:"raw"`
		} `json:"items"`
	}
	if err := json.Unmarshal(buf.Bytes(), &doc); err != nil {
		t.Fatalf("output is not JSON: %v", err)
	}
	if doc.Filters.Since == nil || *doc.Filters.Since != "2024-05-01T00:00:00.000Z" || doc.Filters.Until != nil {
		t.Errorf("filters = %+v", doc.Filters)
	}
	if len(doc.Items) != 2 || doc.Items[0].Raw.Post["id"] != "b2" {
		t.Errorf("raw post not embedded: %+v", doc.Items)
	}
}

func TestWriteCSV(t *testing.T) {
	db := seedMirror(t)
	ds := buildDataset(t, db, Options{})

	var buf bytes.Buffer
	if err := WriteCSV(&buf, ds); err != nil {
		t.Fatalf("WriteCSV() failed: %v", err)
	}

	records, err := csv.NewReader(&buf).ReadAll()
	if err != nil {
		t.Fatalf("output is not CSV: %v", err)
	}
	if len(records) != 3 {
		t.Fatalf("rows = %d, want header + 2", len(records))
	}
	if len(records[0]) != 14 || records[0][0] != "post_id" {
		t.Errorf("header = %v", records[0])
	}

	row := records[1]
	tests := []struct {
		col  int
		want string
	}{
		{0, "b2"},
		{1, "alice"},
		{4, "the long version"},
		{8, ""},
		{9, "not_provided_by_x_api"},
		{10, "1"},
		{12, "https://pbs.twimg.com/media/a.jpg"},
		{13, "0"},
	}
	for _, tt := range tests {
		if row[tt.col] != tt.want {
			t.Errorf("column %s = %q, want %q", records[0][tt.col], row[tt.col], tt.want)
		}
	}
	if records[2][13] != "1" {
		t.Errorf("b1 reference_count = %q, want 1", records[2][13])
	}
}

func TestWriteMarkdown(t *testing.T) {
	db := seedMirror(t)
	ds := buildDataset(t, db, Options{IncludeReferenced: true})

	var buf bytes.Buffer
	if err := WriteMarkdown(&buf, ds); err != nil {
		t.Fatalf("WriteMarkdown() failed: %v", err)
	}
	out := buf.String()

	for _, want := range []string{
		"## @alice | 2024-05-02T08:00:00.000Z | b2",
		"- URL: https://x.com/alice/status/b1",
		"> @bob: quoted text",
		"![a cat](https://pbs.twimg.com/media/a.jpg)",
		"- bookmark.discovered_at: null",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("markdown missing %q:\n%s", want, out)
		}
	}

	// A downloaded file replaces the remote URL.
	local := *ds.Items[0].Media[0].LocalPath
	if err := os.MkdirAll(filepath.Dir(local), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(local, []byte("jpg"), 0644); err != nil {
		t.Fatal(err)
	}
	buf.Reset()
	if err := WriteMarkdown(&buf, ds); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(buf.String(), "![a cat]("+local+")") {
		t.Errorf("markdown should link the local file:\n%s", buf.String())
	}
}

func TestQuoteLines_MissingTarget(t *testing.T) {
	root := &Item{
		Post:       Post{ID: "r"},
		References: []Reference{{Type: "quoted", Depth: 1, PostID: "gone"}, {Type: "replied_to", Depth: 1, PostID: "x"}},
	}
	lines := quoteLines(root, map[string]*Item{"r": root})
	if len(lines) != 1 || lines[0] != "> [quoted: gone]" {
		t.Errorf("quoteLines() = %v", lines)
	}
}

func TestParseBoundary(t *testing.T) {
	now := ts("2024-05-10T12:00:00Z")

	tests := []struct {
		name    string
		raw     string
		end     bool
		want    time.Time
		wantErr bool
	}{
		{"date since", "2024-05-01", false, ts("2024-05-01T00:00:00Z"), false},
		{"date until", "2024-05-01", true, ts("2024-05-01T23:59:59Z").Add(999 * time.Millisecond), false},
		{"rfc3339", "2024-05-01T08:30:00+02:00", false, ts("2024-05-01T06:30:00Z"), false},
		{"empty", "  ", false, time.Time{}, true},
		{"gibberish", "qwxz", false, time.Time{}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseBoundary(tt.raw, tt.end, now)
			if tt.wantErr {
				if err == nil {
					t.Errorf("ParseBoundary(%q) = %v, want error", tt.raw, got)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseBoundary(%q) failed: %v", tt.raw, err)
			}
			if !got.Equal(tt.want) {
				t.Errorf("ParseBoundary(%q) = %v, want %v", tt.raw, got, tt.want)
			}
		})
	}
}

func TestParseBoundary_NaturalLanguage(t *testing.T) {
	now := ts("2024-05-10T12:00:00Z")

	got, err := ParseBoundary("yesterday", false, now)
	if err != nil {
		t.Fatalf("ParseBoundary(yesterday) failed: %v", err)
	}
	if got.Format(dateOnly) != "2024-05-09" {
		t.Errorf("ParseBoundary(yesterday) = %v, want 2024-05-09", got)
	}
}

func TestParseFormat(t *testing.T) {
	tests := []struct {
		in      string
		want    Format
		wantErr bool
	}{
		{"json", FormatJSON, false},
		{"CSV", FormatCSV, false},
		{"markdown", FormatMarkdown, false},
		{"md", FormatMarkdown, false},
		{"xml", "", true},
	}
	for _, tt := range tests {
		got, err := ParseFormat(tt.in)
		if (err != nil) != tt.wantErr || got != tt.want {
			t.Errorf("ParseFormat(%q) = %q, %v", tt.in, got, err)
		}
	}
}

func TestResolveOutputPath(t *testing.T) {
	dir := t.TempDir()
	existing := filepath.Join(dir, "out.json")
	if err := os.WriteFile(existing, nil, 0644); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name string
		out  string
		f    Format
		want string
	}{
		{"stdout", "", FormatJSON, ""},
		{"existing dir", dir, FormatCSV, filepath.Join(dir, "bookmarks.csv")},
		{"existing file", existing, FormatCSV, existing},
		{"new dir", filepath.Join(dir, "exports"), FormatMarkdown, filepath.Join(dir, "exports", "bookmarks.md")},
		{"new file", filepath.Join(dir, "new", "x.json"), FormatJSON, filepath.Join(dir, "new", "x.json")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ResolveOutputPath(tt.out, tt.f)
			if err != nil {
				t.Fatalf("ResolveOutputPath() failed: %v", err)
			}
			if got != tt.want {
				t.Errorf("ResolveOutputPath(%q) = %q, want %q", tt.out, got, tt.want)
			}
		})
	}
}

func TestWriteFile(t *testing.T) {
	db := seedMirror(t)
	ds := buildDataset(t, db, Options{})
	path := filepath.Join(t.TempDir(), "nested", "bookmarks.csv")

	if err := WriteFile(path, ds, FormatCSV); err != nil {
		t.Fatalf("WriteFile() failed: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(string(data), "post_id,") {
		t.Errorf("file content = %q", data)
	}
	if _, err := os.Stat(path + ".tmp"); !os.IsNotExist(err) {
		t.Error("temp file left behind")
	}
}
