package priority

import (
	"fmt"

	"github.com/bl4ck0w1/vulnlynx/pkg/models"
)

type Thresholds struct {
	EPSS          float64
	CriticalScore float64
	HighScore     float64
}

func DefaultThresholds() Thresholds {
	return Thresholds{
		EPSS:          0.8,
		CriticalScore: 9.0,
		HighScore:     7.0,
	}
}

type Calculator struct {
	scoreColumn string
	thresholds  Thresholds
}

func NewCalculator(scoreColumn string) (*Calculator, error) {
	return NewCalculatorWithThresholds(scoreColumn, DefaultThresholds())
}

func NewCalculatorWithThresholds(scoreColumn string, t Thresholds) (*Calculator, error) {
	if scoreColumn == "" {
		scoreColumn = models.DefaultScoreColumn
	}
	if !models.IsScoreColumn(scoreColumn) {
		return nil, fmt.Errorf("%w: %q", models.ErrUnknownScoreColumn, scoreColumn)
	}
	return &Calculator{scoreColumn: scoreColumn, thresholds: t}, nil
}

func (c *Calculator) ScoreColumn() string {
	return c.scoreColumn
}

// Signals counts the escalation conditions met by f.
func (c *Calculator) Signals(f *models.Finding) int {
	score, _ := f.Score(c.scoreColumn)
	n := 0
	if f.CisaReference {
		n++
	}
	if f.Maturity == models.MaturityHigh {
		n++
	}
	if f.EPSS >= c.thresholds.EPSS {
		n++
	}
	if score >= c.thresholds.CriticalScore {
		n++
	}
	return n
}

// Compute maps the four signal fields to P1..P6. Without any escalation
// signal the score alone decides between P5 and P6; otherwise each signal
// lowers the class by one from P5, never past P1.
func (c *Calculator) Compute(f *models.Finding) models.Priority {
	n := c.Signals(f)
	if n == 0 {
		score, _ := f.Score(c.scoreColumn)
		if score >= c.thresholds.HighScore {
			return models.P5
		}
		return models.P6
	}
	level := 5 - n
	if level < 1 {
		level = 1
	}
	return models.Priority(level)
}

// Apply recomputes Priority on every finding of s in place.
func (c *Calculator) Apply(s *models.Scan) {
	for i := range s.Findings {
		s.Findings[i].Priority = c.Compute(&s.Findings[i])
	}
}

// FillMissing sets Priority only where it is absent, leaving published values alone.
func (c *Calculator) FillMissing(s *models.Scan) int {
	filled := 0
	for i := range s.Findings {
		if s.Findings[i].Priority == models.PriorityUnset {
			s.Findings[i].Priority = c.Compute(&s.Findings[i])
			filled++
		}
	}
	return filled
}
