// Package boundary decides when a bookmark sync has caught up.
//
// The remote feed lists bookmarks newest first. An initial run has no
// prior frontier and only stops on an explicit cap. An incremental run
// also stops after a streak of already-known bookmarks, taking the streak
// as proof that everything older was mirrored by a previous run.
package boundary

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// Mode is the kind of sync run.
type Mode string

const (
	// Initial runs start from an empty mirror.
	Initial Mode = "initial"
	// Incremental runs extend a mirror that already has bookmarks.
	Incremental Mode = "incremental"
)

// Outcome is what the store reported for one bookmark.
type Outcome int

const (
	// New means the bookmark was not known before.
	New Outcome = iota
	// Existing means the bookmark was already stored.
	Existing
)

func (o Outcome) String() string {
	if o == New {
		return "new"
	}
	return "existing"
}

// Page size limits accepted by the bookmarks endpoint.
const (
	MinPageSize = 5
	MaxPageSize = 100
)

// ErrInvalidMaxNew is returned for max-new values that are neither a
// positive integer nor "all".
var ErrInvalidMaxNew = errors.New("max-new must be a positive integer or \"all\"")

// State is the engine state carried across observations of one run.
// A nil RequestedMaxNew means new bookmarks are unbounded.
type State struct {
	Mode                   Mode
	KnownBoundaryThreshold int
	RequestedMaxNew        *int
	KnownStreak            int
	NewBookmarksCount      int
}

// Observe applies one outcome and reports whether paging should stop.
// The cap is checked before the known streak.
func Observe(s State, outcome Outcome) (State, bool) {
	if outcome == New {
		s.NewBookmarksCount++
		s.KnownStreak = 0
	} else {
		s.KnownStreak++
	}

	if s.RequestedMaxNew != nil && s.NewBookmarksCount >= *s.RequestedMaxNew {
		return s, true
	}

	if s.Mode == Incremental && s.KnownBoundaryThreshold > 0 && s.KnownStreak >= s.KnownBoundaryThreshold {
		return s, true
	}

	return s, false
}

// PageSize picks the bookmarks page size for a run. Initial runs use the
// largest page. Incremental runs use configured when set, else a page the
// size of the known-boundary threshold; both are clamped to
// [MinPageSize, MaxPageSize].
func PageSize(mode Mode, knownBoundaryThreshold int, configured *int) int {
	if mode == Initial {
		return MaxPageSize
	}
	if configured != nil && *configured > 0 {
		return clamp(*configured)
	}
	if knownBoundaryThreshold <= 0 {
		return MinPageSize
	}
	return clamp(knownBoundaryThreshold)
}

func clamp(n int) int {
	if n < MinPageSize {
		return MinPageSize
	}
	if n > MaxPageSize {
		return MaxPageSize
	}
	return n
}

// ParseMaxNew parses a max-new value. "all" returns nil (unbounded).
func ParseMaxNew(raw string) (*int, error) {
	v := strings.TrimSpace(raw)
	if strings.EqualFold(v, "all") {
		return nil, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return nil, fmt.Errorf("%w: got %q", ErrInvalidMaxNew, raw)
	}
	return &n, nil
}

// ResolveRequestedMaxNew chooses the cap for a run. An explicit flag value
// wins. Otherwise initial runs use initialDefault and incremental runs
// parse incrementalDefault ("all" or a positive integer).
func ResolveRequestedMaxNew(mode Mode, flag string, incrementalDefault string, initialDefault int) (*int, error) {
	if strings.TrimSpace(flag) != "" {
		return ParseMaxNew(flag)
	}
	if mode == Initial {
		if initialDefault <= 0 {
			return nil, fmt.Errorf("%w: default_initial_max_new is %d", ErrInvalidMaxNew, initialDefault)
		}
		n := initialDefault
		return &n, nil
	}
	return ParseMaxNew(incrementalDefault)
}
