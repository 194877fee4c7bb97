// Package timeline enforces the ordering and uniqueness invariants of a
// session's message list. Sanitize is pure and idempotent; the engine calls
// it after every mutation and before every persist.
package timeline

import (
	"sort"
	"strings"
	"time"

	"taleweaver/internal/game"
	"taleweaver/internal/logging"
)

// DuplicateWindow is how close two messages with the same sender, type and
// normalized text must be to count as one duplicated emission. Overlapping
// async paths re-emit within a few hundred ms; 2s leaves headroom without
// swallowing a deliberately repeated line later in the scene.
const DuplicateWindow = 2000 * time.Millisecond

// Sanitize returns a copy of messages with duplicate IDs removed, near-time
// fingerprint duplicates collapsed, a stable total order restored and page
// numbers reassigned to the contiguous sequence 1..N.
func Sanitize(messages []game.Message) []game.Message {
	if len(messages) == 0 {
		return messages
	}

	out := make([]game.Message, 0, len(messages))
	seenIDs := make(map[string]struct{}, len(messages))
	seenByPrint := make(map[string][]time.Time, len(messages))

	for _, m := range messages {
		if _, dup := seenIDs[m.ID]; dup {
			logging.Timeline("dropping duplicate id %s", m.ID)
			continue
		}
		print := fingerprint(m)
		if withinWindow(seenByPrint[print], m.Timestamp) {
			logging.Timeline("dropping near-duplicate emission %s", m.ID)
			continue
		}
		seenIDs[m.ID] = struct{}{}
		seenByPrint[print] = append(seenByPrint[print], m.Timestamp)
		out = append(out, m)
	}

	sort.SliceStable(out, func(i, j int) bool {
		return less(out[i], out[j])
	})

	for i := range out {
		want := i + 1
		if out[i].PageNumber != want {
			out[i].PageNumber = want
		}
	}
	return out
}

// withinWindow reports whether ts falls inside the duplicate window of any
// already-kept timestamp. Checking every survivor, not just the latest,
// keeps Sanitize idempotent for out-of-order input.
func withinWindow(seen []time.Time, ts time.Time) bool {
	for _, prev := range seen {
		delta := ts.Sub(prev)
		if delta < 0 {
			delta = -delta
		}
		if delta <= DuplicateWindow {
			return true
		}
	}
	return false
}

// less orders two messages: by page number when both carry one, else by
// timestamp, else lexicographically by ID.
func less(a, b game.Message) bool {
	if a.PageNumber > 0 && b.PageNumber > 0 && a.PageNumber != b.PageNumber {
		return a.PageNumber < b.PageNumber
	}
	if !a.Timestamp.Equal(b.Timestamp) {
		return a.Timestamp.Before(b.Timestamp)
	}
	return a.ID < b.ID
}

// fingerprint identifies a message by sender, type and whitespace-normalized
// text, ignoring its ID.
func fingerprint(m game.Message) string {
	return m.SenderID + "\x00" + string(m.Type) + "\x00" + NormalizeText(m.Text)
}

// NormalizeText collapses all runs of whitespace to single spaces and trims
// the ends.
func NormalizeText(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
