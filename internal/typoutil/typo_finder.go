package typoutil

import "time"

// TermSource supplies the pool of indexed words a TypoFinder scans against.
// internal/queryterm wires this to store.WordDocIDs's underlying bucket via
// a prefix/bucket walk, so a typo search never has to materialize every
// indexed word into memory up front.
type TermSource func(yield func(word string) bool)

// TypoFinder finds words within a bounded Damerau-Levenshtein distance of a
// query term, driven by a TermSource instead of a precomputed slice so it
// works directly against the on-disk word-docids bucket.
type TypoFinder struct {
	// MaxScanTime bounds how long one FindTypos call may spend scanning the
	// term source.
	MaxScanTime time.Duration
}

// NewTypoFinder returns a TypoFinder with a default 50ms scan budget.
func NewTypoFinder() *TypoFinder {
	return &TypoFinder{MaxScanTime: 50 * time.Millisecond}
}

// FindTypos scans source for words within maxDistance of term (Damerau-
// Levenshtein), stopping early once maxResults are found or MaxScanTime
// elapses.
func (tf *TypoFinder) FindTypos(term string, source TermSource, maxDistance, maxResults int) []string {
	if maxDistance <= 0 || term == "" {
		return nil
	}
	termLen := len([]rune(term))
	var found []string
	start := time.Now()

	source(func(candidate string) bool {
		if tf.MaxScanTime > 0 && time.Since(start) >= tf.MaxScanTime {
			return false
		}
		if candidate == term {
			return true
		}
		candLen := len([]rune(candidate))
		diff := candLen - termLen
		if diff < 0 {
			diff = -diff
		}
		if diff > maxDistance {
			return true
		}
		if dist := CalculateEditDistance(term, candidate, maxDistance); dist > 0 && dist <= maxDistance {
			found = append(found, candidate)
			if maxResults > 0 && len(found) >= maxResults {
				return false
			}
		}
		return true
	})
	return found
}
