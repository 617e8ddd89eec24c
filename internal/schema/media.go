package schema

import (
	"encoding/json"
	"fmt"
)

// Media types returned by the X API v2.
const (
	MediaPhoto       = "photo"
	MediaVideo       = "video"
	MediaAnimatedGIF = "animated_gif"
)

// Variant is one encoding of a video or animated_gif.
type Variant struct {
	BitRate     *int   `json:"bit_rate,omitempty"`
	ContentType string `json:"content_type,omitempty"`
	URL         string `json:"url"`
}

// Media is an attachment expansion as returned by the X API v2.
type Media struct {
	MediaKey        string    `json:"media_key"`
	Type            string    `json:"type"`
	URL             *string   `json:"url,omitempty"`
	PreviewImageURL *string   `json:"preview_image_url,omitempty"`
	AltText         *string   `json:"alt_text,omitempty"`
	Width           *int      `json:"width,omitempty"`
	Height          *int      `json:"height,omitempty"`
	DurationMs      *int      `json:"duration_ms,omitempty"`
	Variants        []Variant `json:"variants,omitempty"`

	Raw json.RawMessage `json:"-"`
}

// UnmarshalJSON decodes the typed fields and keeps a copy of the payload.
func (m *Media) UnmarshalJSON(data []byte) error {
	type alias Media
	var a alias
	if err := json.Unmarshal(data, &a); err != nil {
		return err
	}
	*m = Media(a)
	m.Raw = append(json.RawMessage(nil), data...)
	return nil
}

// RawJSON returns the original payload or the re-encoded typed fields.
func (m *Media) RawJSON() (string, error) {
	if len(m.Raw) > 0 {
		return string(m.Raw), nil
	}
	type alias Media
	data, err := json.Marshal((*alias)(m))
	if err != nil {
		return "", fmt.Errorf("failed to encode media %s: %w", m.MediaKey, err)
	}
	return string(data), nil
}

// Validate checks that the media item can be stored.
func (m *Media) Validate() error {
	if m.MediaKey == "" {
		return fmt.Errorf("media_key is required")
	}
	if m.Type == "" {
		return fmt.Errorf("media %s: type is required", m.MediaKey)
	}
	return nil
}

// BestVariant returns the variant with the highest bit rate. Variants
// without a bit rate rank as zero; ties keep the first one listed.
func (m *Media) BestVariant() (Variant, bool) {
	if len(m.Variants) == 0 {
		return Variant{}, false
	}
	best := m.Variants[0]
	for _, v := range m.Variants[1:] {
		if bitRate(v) > bitRate(best) {
			best = v
		}
	}
	return best, true
}

func bitRate(v Variant) int {
	if v.BitRate == nil {
		return 0
	}
	return *v.BitRate
}
