// Package dedup removes duplication artifacts that providers introduce into
// streamed text: fragments that repeat text already relayed, and fragments
// whose head repeats the tail of a recent fragment.
//
// A Tracker belongs to exactly one session and must be fed fragments in
// stream order. It is a heuristic: legitimately repeated text ("go go!") can
// be suppressed too.
package dedup

import (
	"strings"
	"unicode/utf8"

	"github.com/papercomputeco/relay/pkg/chunk"
)

const (
	// MaxAccumulated is the size, in characters, above which accumulated
	// text is cut back to its trailing KeepAccumulated characters.
	MaxAccumulated  = 10000
	KeepAccumulated = 5000

	// WindowSize is the number of recent raw fragments kept for overlap detection.
	WindowSize = 5

	// Overlap lengths searched, largest first.
	maxOverlap = 20
	minOverlap = 3
)

// State is a snapshot of a Tracker's memory.
type State struct {
	AccumulatedText string
	RecentFragments []string
}

// Result describes what Process did to a fragment.
type Result int

const (
	// Passed means the fragment text was forwarded unchanged.
	Passed Result = iota
	// Suppressed means the whole text was an exact duplicate.
	Suppressed
	// Trimmed means a boundary overlap was removed from the head.
	Trimmed
)

// Tracker holds the de-duplication state of one session.
type Tracker struct {
	accumulated string
	recent      []string
}

// NewTracker returns an empty Tracker.
func NewTracker() *Tracker {
	return &Tracker{recent: make([]string, 0, WindowSize+1)}
}

// Process returns the corrected fragment and what was done to it. The input
// fragment is not modified.
func (t *Tracker) Process(f chunk.Fragment) (chunk.Fragment, Result) {
	raw := f.Text

	// Too small to judge.
	if utf8.RuneCountInString(strings.TrimSpace(raw)) <= 1 {
		return f, Passed
	}

	rawLen := utf8.RuneCountInString(raw)
	if rawLen > 2 && strings.Contains(t.accumulated, raw) {
		return f.WithText(""), Suppressed
	}

	text, result := t.trimOverlap(raw, rawLen)

	t.accumulate(text)
	t.remember(raw)

	return f.WithText(text), result
}

// trimOverlap drops the largest head of current that equals the tail of one
// of the recent fragments, scanning oldest to newest and stopping at the
// first fragment that yields a trim.
func (t *Tracker) trimOverlap(current string, currentLen int) (string, Result) {
	if currentLen <= 3 {
		return current, Passed
	}
	cur := []rune(current)

	for _, prevText := range t.recent {
		prev := []rune(prevText)
		if len(prev) <= 3 {
			continue
		}

		for k := min(maxOverlap, len(prev), len(cur)); k >= minOverlap; k-- {
			if string(prev[len(prev)-k:]) == string(cur[:k]) {
				return string(cur[k:]), Trimmed
			}
		}
	}

	return current, Passed
}

func (t *Tracker) accumulate(text string) {
	t.accumulated += text
	if n := utf8.RuneCountInString(t.accumulated); n > MaxAccumulated {
		r := []rune(t.accumulated)
		t.accumulated = string(r[len(r)-KeepAccumulated:])
	}
}

func (t *Tracker) remember(raw string) {
	t.recent = append(t.recent, raw)
	if len(t.recent) > WindowSize {
		t.recent = t.recent[len(t.recent)-WindowSize:]
	}
}

// State returns a copy of the tracker's memory.
func (t *Tracker) State() State {
	recent := make([]string, len(t.recent))
	copy(recent, t.recent)
	return State{
		AccumulatedText: t.accumulated,
		RecentFragments: recent,
	}
}
