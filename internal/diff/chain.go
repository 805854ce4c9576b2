package diff

import (
	"github.com/sirupsen/logrus"

	"github.com/bl4ck0w1/vulnlynx/internal/priority"
	"github.com/bl4ck0w1/vulnlynx/pkg/models"
)

type LinkStats struct {
	ScanID   string        `json:"scan_id"`
	Label    string        `json:"label"`
	Skipped  bool          `json:"skipped"`
	Baseline string        `json:"baseline,omitempty"`
	Stats    ClassifyStats `json:"stats"`
}

type ChainResult struct {
	Scans []*models.Scan
	Links []LinkStats
}

func (r ChainResult) Ambiguous() int {
	n := 0
	for _, l := range r.Links {
		n += l.Stats.Ambiguous
	}
	return n
}

// Resolver walks a newest-first scan history, classifying each scan against
// the next older one.
type Resolver struct {
	calc       *priority.Calculator
	classifier *Classifier
	matcher    *Matcher
	logger     *logrus.Logger
}

func NewResolver(calc *priority.Calculator, logger *logrus.Logger) (*Resolver, error) {
	if logger == nil {
		logger = logrus.New()
	}
	classifier, err := NewClassifier(calc.ScoreColumn())
	if err != nil {
		return nil, err
	}
	return &Resolver{
		calc:       calc,
		classifier: classifier,
		matcher:    NewMatcher(logger),
		logger:     logger,
	}, nil
}

// Resolve returns working copies of history with Baseline links set and every
// unprocessed scan classified. Scans that already carry a Status are left as
// they are apart from filling a missing Priority, so repeated runs publish
// the same numbers. The caller's scans are not modified.
func (r *Resolver) Resolve(history []*models.Scan) ChainResult {
	scans := make([]*models.Scan, len(history))
	for i, s := range history {
		scans[i] = s.Clone()
	}
	for i := range scans {
		if i+1 < len(scans) {
			scans[i].Baseline = scans[i+1]
		} else {
			scans[i].Baseline = nil
		}
	}

	res := ChainResult{Scans: scans, Links: make([]LinkStats, 0, len(scans))}
	for i, s := range scans {
		link := LinkStats{ScanID: s.ID, Label: s.Label}
		if s.Baseline != nil {
			link.Baseline = s.Baseline.ID
		}
		if s.Processed {
			filled := r.calc.FillMissing(s)
			link.Skipped = true
			r.logger.WithFields(logrus.Fields{
				"scan":            s.Label,
				"position":        i,
				"priority_filled": filled,
			}).Debug("Scan already classified, skipping")
			res.Links = append(res.Links, link)
			continue
		}

		r.calc.Apply(s)
		link.Stats = r.classifier.ClassifyScan(r.matcher, s, s.Baseline)
		r.logger.WithFields(logrus.Fields{
			"scan":      s.Label,
			"position":  i,
			"new":       link.Stats.New,
			"known":     link.Stats.Known,
			"updated":   link.Stats.Updated,
			"ambiguous": link.Stats.Ambiguous,
		}).Info("Classified historical scan")
		res.Links = append(res.Links, link)
	}
	return res
}

// ResolveCurrent classifies a copy of current against the newest scan of an
// already resolved history. The current scan is always recomputed.
func (r *Resolver) ResolveCurrent(current *models.Scan, history []*models.Scan) (*models.Scan, LinkStats) {
	cur := current.Clone()
	cur.Baseline = nil
	if len(history) > 0 {
		cur.Baseline = history[0]
	}
	cur.Processed = false
	for i := range cur.Findings {
		cur.Findings[i].ClearLifecycle()
	}

	r.calc.Apply(cur)
	link := LinkStats{ScanID: cur.ID, Label: cur.Label}
	if cur.Baseline != nil {
		link.Baseline = cur.Baseline.ID
	}
	link.Stats = r.classifier.ClassifyScan(r.matcher, cur, cur.Baseline)
	if link.Stats.Ambiguous > 0 {
		r.logger.WithFields(logrus.Fields{
			"scan":      cur.Label,
			"ambiguous": link.Stats.Ambiguous,
		}).Warn("Baseline carries duplicate identity keys, first match used")
	}
	return cur, link
}
