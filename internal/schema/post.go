package schema

import (
	"encoding/json"
	"fmt"
)

// Reference types carried in referenced_tweets.
const (
	RefQuoted    = "quoted"
	RefRepliedTo = "replied_to"
	RefRetweeted = "retweeted"
)

// Reference is one entry of a post's referenced_tweets array.
type Reference struct {
	Type string `json:"type"`
	ID   string `json:"id"`
}

// PublicMetrics holds the engagement counters of a post.
type PublicMetrics struct {
	LikeCount    int `json:"like_count"`
	RetweetCount int `json:"retweet_count"`
	ReplyCount   int `json:"reply_count"`
	QuoteCount   int `json:"quote_count"`
}

// Attachments lists media keys attached to a post.
type Attachments struct {
	MediaKeys []string `json:"media_keys,omitempty"`
}

// NoteTweet carries the untruncated text of a long-form post.
type NoteTweet struct {
	Text string `json:"text"`
}

// Post is a tweet as returned by the X API v2.
type Post struct {
	ID                string         `json:"id"`
	Text              string         `json:"text"`
	AuthorID          string         `json:"author_id,omitempty"`
	CreatedAt         string         `json:"created_at,omitempty"`
	ConversationID    string         `json:"conversation_id,omitempty"`
	Lang              string         `json:"lang,omitempty"`
	PossiblySensitive bool           `json:"possibly_sensitive,omitempty"`
	PublicMetrics     *PublicMetrics `json:"public_metrics,omitempty"`
	ReferencedTweets  []Reference    `json:"referenced_tweets,omitempty"`
	Attachments       *Attachments   `json:"attachments,omitempty"`
	NoteTweet         *NoteTweet     `json:"note_tweet,omitempty"`

	// Raw is the payload exactly as received. Empty for posts built in code.
	Raw json.RawMessage `json:"-"`
}

// UnmarshalJSON decodes the typed fields and keeps a copy of the payload.
func (p *Post) UnmarshalJSON(data []byte) error {
	type alias Post
	var a alias
	if err := json.Unmarshal(data, &a); err != nil {
		return err
	}
	*p = Post(a)
	p.Raw = append(json.RawMessage(nil), data...)
	return nil
}

// RawJSON returns the original payload, or the typed fields re-encoded
// when the post was not decoded from the API.
func (p *Post) RawJSON() (string, error) {
	if len(p.Raw) > 0 {
		return string(p.Raw), nil
	}
	type alias Post
	data, err := json.Marshal((*alias)(p))
	if err != nil {
		return "", fmt.Errorf("failed to encode post %s: %w", p.ID, err)
	}
	return string(data), nil
}

// Validate checks that the post can be stored.
func (p *Post) Validate() error {
	if p.ID == "" {
		return fmt.Errorf("post id is required")
	}
	for _, ref := range p.ReferencedTweets {
		if ref.ID == "" {
			return fmt.Errorf("post %s: referenced post id is required", p.ID)
		}
		if !IsValidReferenceType(ref.Type) {
			return fmt.Errorf("post %s: invalid reference type %q", p.ID, ref.Type)
		}
	}
	return nil
}

// FullText returns the long-form note text, or "" when the post has none.
func (p *Post) FullText() string {
	if p.NoteTweet == nil {
		return ""
	}
	return p.NoteTweet.Text
}

// DisplayText prefers the long-form text over the truncated one.
func (p *Post) DisplayText() string {
	if full := p.FullText(); full != "" {
		return full
	}
	return p.Text
}

// MediaKeys returns the attached media keys.
func (p *Post) MediaKeys() []string {
	if p.Attachments == nil {
		return nil
	}
	return p.Attachments.MediaKeys
}

// Metrics returns the engagement counters, zero-valued when absent.
func (p *Post) Metrics() PublicMetrics {
	if p.PublicMetrics == nil {
		return PublicMetrics{}
	}
	return *p.PublicMetrics
}

// IsValidReferenceType reports whether typ is a known reference type.
func IsValidReferenceType(typ string) bool {
	switch typ {
	case RefQuoted, RefRepliedTo, RefRetweeted:
		return true
	default:
		return false
	}
}
