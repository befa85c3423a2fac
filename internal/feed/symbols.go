package feed

import (
	"sort"
	"strings"

	"github.com/agnivade/levenshtein"
)

// Symbols resolves free-form search text typed into a chart's search box to
// a known instrument.
type Symbols struct {
	known []string
	// MaxRatio is the largest distance/length ratio accepted as a match.
	MaxRatio float64
}

// NewSymbols creates a resolver over the given instruments.
func NewSymbols(known ...string) *Symbols {
	s := &Symbols{MaxRatio: 0.4}
	for _, k := range known {
		if k = strings.ToUpper(strings.TrimSpace(k)); k != "" {
			s.known = append(s.known, k)
		}
	}
	sort.Strings(s.known)
	return s
}

// Resolve returns the closest known instrument to query. Exact matches win;
// otherwise the smallest edit distance within MaxRatio, ties broken alphabetically.
func (s *Symbols) Resolve(query string) (string, bool) {
	q := strings.ToUpper(strings.TrimSpace(query))
	if q == "" || len(s.known) == 0 {
		return "", false
	}

	best, bestDist := "", -1
	for _, k := range s.known {
		if k == q {
			return k, true
		}
		d := levenshtein.ComputeDistance(q, k)
		if bestDist < 0 || d < bestDist {
			best, bestDist = k, d
		}
	}

	if float64(bestDist)/float64(max(len(q), len(best))) >= s.MaxRatio {
		return "", false
	}
	return best, true
}

// Known returns the sorted instrument list.
func (s *Symbols) Known() []string {
	return append([]string(nil), s.known...)
}
