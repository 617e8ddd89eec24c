package schema

import (
	"encoding/json"
	"fmt"
)

// User is an author expansion as returned by the X API v2.
//
// Pointer fields distinguish "absent from this response" from a zero
// value, which the store needs for its merge rule.
type User struct {
	ID              string  `json:"id"`
	Name            *string `json:"name,omitempty"`
	Username        *string `json:"username,omitempty"`
	ProfileImageURL *string `json:"profile_image_url,omitempty"`
	Verified        *bool   `json:"verified,omitempty"`
	VerifiedType    *string `json:"verified_type,omitempty"`

	Raw json.RawMessage `json:"-"`
}

// UnmarshalJSON decodes the typed fields and keeps a copy of the payload.
func (u *User) UnmarshalJSON(data []byte) error {
	type alias User
	var a alias
	if err := json.Unmarshal(data, &a); err != nil {
		return err
	}
	*u = User(a)
	u.Raw = append(json.RawMessage(nil), data...)
	return nil
}

// RawJSON returns the original payload or the re-encoded typed fields.
func (u *User) RawJSON() (string, error) {
	if len(u.Raw) > 0 {
		return string(u.Raw), nil
	}
	type alias User
	data, err := json.Marshal((*alias)(u))
	if err != nil {
		return "", fmt.Errorf("failed to encode user %s: %w", u.ID, err)
	}
	return string(data), nil
}

// Validate checks that the user can be stored.
func (u *User) Validate() error {
	if u.ID == "" {
		return fmt.Errorf("user id is required")
	}
	return nil
}

// Handle returns the username, or "unknown" when it was never seen.
func (u *User) Handle() string {
	if u.Username == nil || *u.Username == "" {
		return "unknown"
	}
	return *u.Username
}
