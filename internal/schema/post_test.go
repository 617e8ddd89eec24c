package schema

import (
	"encoding/json"
	"strings"
	"testing"
)

func TestPost_Validate(t *testing.T) {
	tests := []struct {
		name    string
		post    Post
		wantErr bool
		errMsg  string
	}{
		{
			name: "valid post",
			post: Post{ID: "1", Text: "hello"},
		},
		{
			name:    "missing id",
			post:    Post{Text: "hello"},
			wantErr: true,
			errMsg:  "post id is required",
		},
		{
			name: "reference without id",
			post: Post{
				ID:               "1",
				ReferencedTweets: []Reference{{Type: RefQuoted}},
			},
			wantErr: true,
			errMsg:  "referenced post id is required",
		},
		{
			name: "unknown reference type",
			post: Post{
				ID:               "1",
				ReferencedTweets: []Reference{{Type: "liked", ID: "2"}},
			},
			wantErr: true,
			errMsg:  "invalid reference type",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.post.Validate()
			if (err != nil) != tt.wantErr {
				t.Fatalf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr && !strings.Contains(err.Error(), tt.errMsg) {
				t.Errorf("Validate() error = %q, want substring %q", err.Error(), tt.errMsg)
			}
		})
	}
}

func TestPost_UnmarshalKeepsRaw(t *testing.T) {
	payload := `{"id":"42","text":"short","note_tweet":{"text":"the long version"},"edit_history_tweet_ids":["42"]}`

	var post Post
	if err := json.Unmarshal([]byte(payload), &post); err != nil {
		t.Fatalf("Unmarshal() failed: %v", err)
	}

	if post.FullText() != "the long version" {
		t.Errorf("FullText() = %q, want %q", post.FullText(), "the long version")
	}
	if post.DisplayText() != "the long version" {
		t.Errorf("DisplayText() = %q", post.DisplayText())
	}

	raw, err := post.RawJSON()
	if err != nil {
		t.Fatalf("RawJSON() failed: %v", err)
	}
	if raw != payload {
		t.Errorf("RawJSON() = %s, want original payload", raw)
	}
}

func TestPost_RawJSONWithoutPayload(t *testing.T) {
	post := Post{ID: "7", Text: "built in code"}

	raw, err := post.RawJSON()
	if err != nil {
		t.Fatalf("RawJSON() failed: %v", err)
	}
	if !strings.Contains(raw, `"id":"7"`) || !strings.Contains(raw, `"text":"built in code"`) {
		t.Errorf("RawJSON() = %s", raw)
	}
}

func TestPage_AllPostsDedupes(t *testing.T) {
	page := Page{
		Data: []Post{{ID: "1", Text: "root"}, {ID: "2", Text: "root two"}},
		Includes: Includes{
			Tweets: []Post{{ID: "3", Text: "quoted"}, {ID: "1", Text: "root again"}},
		},
	}

	posts := page.AllPosts()
	if len(posts) != 3 {
		t.Fatalf("AllPosts() returned %d posts, want 3", len(posts))
	}

	gotIDs := strings.Join(PostIDs(posts), ",")
	if gotIDs != "1,2,3" {
		t.Errorf("ids = %s, want 1,2,3", gotIDs)
	}
	if posts[0].Text != "root again" {
		t.Errorf("posts[0].Text = %q, want later occurrence", posts[0].Text)
	}
	if len(page.Data) != 2 {
		t.Errorf("AllPosts() mutated page data")
	}
}

func TestMedia_BestVariant(t *testing.T) {
	low, high := 256000, 2176000
	media := Media{
		MediaKey: "7_1",
		Type:     MediaVideo,
		Variants: []Variant{
			{ContentType: "application/x-mpegURL", URL: "https://video.twimg.com/pl.m3u8"},
			{BitRate: &low, ContentType: "video/mp4", URL: "https://video.twimg.com/low.mp4"},
			{BitRate: &high, ContentType: "video/mp4", URL: "https://video.twimg.com/high.mp4"},
		},
	}

	best, ok := media.BestVariant()
	if !ok {
		t.Fatal("BestVariant() found nothing")
	}
	if best.URL != "https://video.twimg.com/high.mp4" {
		t.Errorf("BestVariant().URL = %q", best.URL)
	}

	empty := Media{MediaKey: "3_1", Type: MediaPhoto}
	if _, ok := empty.BestVariant(); ok {
		t.Error("BestVariant() on photo should report false")
	}
}

func TestUser_Handle(t *testing.T) {
	name := "alice"
	if got := (&User{ID: "1", Username: &name}).Handle(); got != "alice" {
		t.Errorf("Handle() = %q, want alice", got)
	}
	if got := (&User{ID: "1"}).Handle(); got != "unknown" {
		t.Errorf("Handle() = %q, want unknown", got)
	}
}
