package diff

import (
	"fmt"

	"github.com/bl4ck0w1/vulnlynx/pkg/models"
)

type Classifier struct {
	scoreColumn string
}

func NewClassifier(scoreColumn string) (*Classifier, error) {
	if scoreColumn == "" {
		scoreColumn = models.DefaultScoreColumn
	}
	if !models.IsScoreColumn(scoreColumn) {
		return nil, fmt.Errorf("%w: %q", models.ErrUnknownScoreColumn, scoreColumn)
	}
	return &Classifier{scoreColumn: scoreColumn}, nil
}

// Classify derives the lifecycle status of cur against its baseline match.
// It never returns StatusFixed.
func (c *Classifier) Classify(cur, base *models.Finding) (models.Status, models.Delta) {
	if base == nil {
		return models.StatusNew, models.Delta{}
	}

	curScore, _ := cur.Score(c.scoreColumn)
	baseScore, _ := base.Score(c.scoreColumn)

	if cur.CisaReference == base.CisaReference &&
		sameMaturity(cur.Maturity, base.Maturity) &&
		cur.EPSS == base.EPSS &&
		curScore == baseScore {
		return models.StatusKnown, models.Delta{}
	}

	var d models.Delta
	switch {
	case cur.CisaReference && !base.CisaReference:
		d.Cisa = models.CisaAdded
	case !cur.CisaReference && base.CisaReference:
		d.Cisa = models.CisaRemoved
	}
	if diff := cur.EPSS - base.EPSS; diff != 0 {
		d.EPSS = diff
	}
	if diff := curScore - baseScore; diff != 0 {
		d.CVSS = diff
	}
	if !sameMaturity(cur.Maturity, base.Maturity) {
		d.Maturity = fmt.Sprintf("%s -> %s", maturityLabel(base.Maturity), maturityLabel(cur.Maturity))
	}
	return models.StatusUpdated, d
}

// sameMaturity compares known levels by rank and anything else by its text.
func sameMaturity(a, b models.Maturity) bool {
	if a.Rank() >= 0 && b.Rank() >= 0 {
		return a.Rank() == b.Rank()
	}
	return a == b
}

func maturityLabel(m models.Maturity) string {
	if m == "" {
		return "undefined"
	}
	return string(m)
}

type ClassifyStats struct {
	New       int `json:"new"`
	Known     int `json:"known"`
	Updated   int `json:"updated"`
	Ambiguous int `json:"ambiguous"`
}

// ClassifyScan writes Status and deltas onto every finding of current.
func (c *Classifier) ClassifyScan(m *Matcher, current, baseline *models.Scan) ClassifyStats {
	res := m.Match(current, baseline)
	stats := ClassifyStats{Ambiguous: res.Ambiguous}
	for _, match := range res.Matches {
		f := &current.Findings[match.Current]
		f.Status, f.Delta = c.Classify(f, match.Baseline)
		switch f.Status {
		case models.StatusNew:
			stats.New++
		case models.StatusKnown:
			stats.Known++
		case models.StatusUpdated:
			stats.Updated++
		}
	}
	current.Processed = true
	current.ScoreColumn = c.scoreColumn
	return stats
}
