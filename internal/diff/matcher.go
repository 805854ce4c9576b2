package diff

import (
	"github.com/sirupsen/logrus"
	"github.com/zeebo/xxh3"

	"github.com/bl4ck0w1/vulnlynx/pkg/models"
)

// Index is a hash index of a baseline scan keyed on the identity key. Rows
// sharing a key stay in baseline order so the first one wins on lookup.
type Index struct {
	findings  []models.Finding
	buckets   map[uint64][]int
	ambiguous int
}

func hashKey(k models.IdentityKey) uint64 {
	h := xxh3.New()
	_, _ = h.WriteString(k.Server)
	_, _ = h.Write([]byte{0})
	_, _ = h.WriteString(k.CVECode)
	_, _ = h.Write([]byte{0})
	_, _ = h.WriteString(k.Component)
	return h.Sum64()
}

func NewIndex(baseline *models.Scan) *Index {
	ix := &Index{buckets: make(map[uint64][]int)}
	if baseline == nil {
		return ix
	}
	ix.findings = baseline.Findings
	seen := make(map[models.IdentityKey]int, len(baseline.Findings))
	for i := range baseline.Findings {
		key := baseline.Findings[i].Key()
		h := hashKey(key)
		ix.buckets[h] = append(ix.buckets[h], i)
		seen[key]++
		if seen[key] == 2 {
			ix.ambiguous++
		}
	}
	return ix
}

// Lookup returns the first baseline finding with exactly this key and the
// number of baseline rows sharing it.
func (ix *Index) Lookup(key models.IdentityKey) (*models.Finding, int) {
	var first *models.Finding
	count := 0
	for _, i := range ix.buckets[hashKey(key)] {
		if ix.findings[i].Key() != key {
			continue
		}
		if first == nil {
			first = &ix.findings[i]
		}
		count++
	}
	return first, count
}

// AmbiguousKeys is the number of distinct keys carried by more than one baseline row.
func (ix *Index) AmbiguousKeys() int {
	return ix.ambiguous
}

func (ix *Index) Len() int {
	return len(ix.findings)
}

type Match struct {
	Current    int
	Baseline   *models.Finding
	Candidates int
}

type MatchResult struct {
	Matches   []Match
	Matched   int
	Ambiguous int
}

type Matcher struct {
	logger *logrus.Logger
}

func NewMatcher(logger *logrus.Logger) *Matcher {
	if logger == nil {
		logger = logrus.New()
	}
	return &Matcher{logger: logger}
}

// Match pairs every current finding with its first baseline counterpart.
// A nil baseline yields no matches.
func (m *Matcher) Match(current, baseline *models.Scan) MatchResult {
	ix := NewIndex(baseline)
	res := MatchResult{Matches: make([]Match, len(current.Findings))}
	for i := range current.Findings {
		key := current.Findings[i].Key()
		b, n := ix.Lookup(key)
		res.Matches[i] = Match{Current: i, Baseline: b, Candidates: n}
		if b != nil {
			res.Matched++
		}
		if n > 1 {
			res.Ambiguous++
			m.logger.WithFields(logrus.Fields{
				"server":     key.Server,
				"cve":        key.CVECode,
				"component":  key.Component,
				"candidates": n,
			}).Debug("Ambiguous baseline match, using first row")
		}
	}
	return res
}
