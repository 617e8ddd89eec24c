package export

import (
	"fmt"
	"strings"
	"time"

	"github.com/olebedev/when"
	"github.com/olebedev/when/rules/common"
	"github.com/olebedev/when/rules/en"
)

const dateOnly = "2006-01-02"

var parser = func() *when.Parser {
	w := when.New(nil)
	w.Add(en.All...)
	w.Add(common.All...)
	return w
}()

// ParseBoundary turns a --since or --until value into a UTC instant.
//
// A bare date (2024-05-01) covers the whole UTC day: it maps to the start
// of the day for since and to its last millisecond for until. RFC 3339
// timestamps are taken as is. Anything else is read as natural language
// relative to now ("yesterday", "3 days ago", "last monday").
func ParseBoundary(raw string, end bool, now time.Time) (time.Time, error) {
	v := strings.TrimSpace(raw)
	if v == "" {
		return time.Time{}, fmt.Errorf("empty date")
	}

	if day, err := time.Parse(dateOnly, v); err == nil {
		if end {
			return day.Add(24*time.Hour - time.Millisecond).UTC(), nil
		}
		return day.UTC(), nil
	}

	if t, err := time.Parse(time.RFC3339Nano, v); err == nil {
		return t.UTC(), nil
	}

	r, err := parser.Parse(v, now)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q: %w", raw, err)
	}
	if r == nil {
		return time.Time{}, fmt.Errorf("invalid date %q", raw)
	}
	return r.Time.UTC(), nil
}
