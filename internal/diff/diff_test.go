package diff

import (
	"fmt"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bl4ck0w1/vulnlynx/internal/priority"
	"github.com/bl4ck0w1/vulnlynx/pkg/models"
)

func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.SetLevel(logrus.PanicLevel)
	return l
}

func row(cve, server, component string, score, epss float64, cisa bool, m models.Maturity) models.Finding {
	return models.Finding{
		CVECode:           cve,
		Server:            server,
		Component:         component,
		Product:           component,
		CVSSComputedScore: score,
		EPSS:              epss,
		CisaReference:     cisa,
		Maturity:          m,
	}
}

func scan(label string, findings ...models.Finding) *models.Scan {
	s := models.NewScan(label, models.RawColumns)
	s.Findings = findings
	return s
}

func TestIndexLookup(t *testing.T) {
	base := scan("base",
		row("CVE-1", "web1", "nginx", 5, 0.1, false, models.MaturityUnproven),
		row("CVE-1", "web1", "nginx", 6, 0.1, false, models.MaturityUnproven),
		row("CVE-2", "web1", "nginx", 7, 0.1, false, models.MaturityUnproven),
	)
	ix := NewIndex(base)

	f, n := ix.Lookup(models.IdentityKey{Server: "web1", CVECode: "CVE-1", Component: "nginx"})
	require.NotNil(t, f)
	assert.Equal(t, 2, n)
	assert.Equal(t, 5.0, f.CVSSComputedScore, "first baseline row wins")

	f, n = ix.Lookup(models.IdentityKey{Server: "web2", CVECode: "CVE-1", Component: "nginx"})
	assert.Nil(t, f)
	assert.Zero(t, n)

	assert.Equal(t, 1, ix.AmbiguousKeys())
}

func TestMatcherIsExactHashJoin(t *testing.T) {
	var baseRows, curRows []models.Finding
	for i := 0; i < 200; i++ {
		cve := fmt.Sprintf("CVE-2024-%04d", i)
		baseRows = append(baseRows, row(cve, "srv", "lib", float64(i%10), 0, false, models.MaturityUnproven))
		if i%2 == 0 {
			curRows = append(curRows, row(cve, "srv", "lib", 1, 0, false, models.MaturityUnproven))
		} else {
			curRows = append(curRows, row(cve, "srv", "other", 1, 0, false, models.MaturityUnproven))
		}
	}
	m := NewMatcher(quietLogger())
	res := m.Match(scan("cur", curRows...), scan("base", baseRows...))

	require.Len(t, res.Matches, 200)
	assert.Equal(t, 100, res.Matched)
	for _, match := range res.Matches {
		cur := curRows[match.Current]
		if cur.Component == "lib" {
			require.NotNil(t, match.Baseline)
			assert.Equal(t, cur.Key(), match.Baseline.Key())
		} else {
			assert.Nil(t, match.Baseline)
		}
	}
}

func TestMatcherNilBaseline(t *testing.T) {
	m := NewMatcher(quietLogger())
	res := m.Match(scan("cur", row("CVE-1", "a", "b", 1, 0, false, "")), nil)
	assert.Zero(t, res.Matched)
	assert.Nil(t, res.Matches[0].Baseline)
}

func TestClassify(t *testing.T) {
	c, err := NewClassifier(models.ColumnCVSSComputedScore)
	require.NoError(t, err)

	base := row("CVE-1", "web1", "nginx", 6.5, 0.25, false, models.MaturityFunctional)

	tests := []struct {
		name   string
		mutate func(f *models.Finding)
		status models.Status
		delta  models.Delta
	}{
		{"identical", func(f *models.Finding) {}, models.StatusKnown, models.Delta{}},
		{"cisa added", func(f *models.Finding) { f.CisaReference = true }, models.StatusUpdated, models.Delta{Cisa: models.CisaAdded}},
		{"epss changed", func(f *models.Finding) { f.EPSS = 0.5 }, models.StatusUpdated, models.Delta{EPSS: 0.25}},
		{"score changed", func(f *models.Finding) { f.CVSSComputedScore = 7.5 }, models.StatusUpdated, models.Delta{CVSS: 1}},
		{"maturity raised", func(f *models.Finding) { f.Maturity = models.MaturityHigh }, models.StatusUpdated, models.Delta{Maturity: "functional -> high"}},
		{"maturity cleared", func(f *models.Finding) { f.Maturity = "" }, models.StatusUpdated, models.Delta{Maturity: "functional -> undefined"}},
		{"maturity unrecognised", func(f *models.Finding) { f.Maturity = "weaponized" }, models.StatusUpdated, models.Delta{Maturity: "functional -> weaponized"}},
		{"other columns ignored", func(f *models.Finding) { f.Patch = "1.2.3"; f.CVSSScore = 1 }, models.StatusKnown, models.Delta{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cur := base
			tt.mutate(&cur)
			status, delta := c.Classify(&cur, &base)
			assert.Equal(t, tt.status, status)
			assert.Equal(t, tt.delta, delta)
		})
	}

	t.Run("cisa removed", func(t *testing.T) {
		old := base
		old.CisaReference = true
		cur := base
		status, delta := c.Classify(&cur, &old)
		assert.Equal(t, models.StatusUpdated, status)
		assert.Equal(t, models.CisaRemoved, delta.Cisa)
	})

	t.Run("unrecognised maturity text changed", func(t *testing.T) {
		old := base
		old.Maturity = "attacked"
		cur := base
		cur.Maturity = "weaponized"
		status, delta := c.Classify(&cur, &old)
		assert.Equal(t, models.StatusUpdated, status)
		assert.Equal(t, "attacked -> weaponized", delta.Maturity)

		cur.Maturity = "attacked"
		status, delta = c.Classify(&cur, &old)
		assert.Equal(t, models.StatusKnown, status)
		assert.True(t, delta.IsZero())
	})

	t.Run("no match", func(t *testing.T) {
		cur := base
		status, delta := c.Classify(&cur, nil)
		assert.Equal(t, models.StatusNew, status)
		assert.True(t, delta.IsZero())
	})
}

func TestScenarioUnchangedFinding(t *testing.T) {
	r := newResolver(t)
	history := r.Resolve([]*models.Scan{scan("old", row("CVE-2024-0001", "web1", "nginx", 6.5, 0.3, false, models.MaturityFunctional))})
	cur, _ := r.ResolveCurrent(scan("cur", row("CVE-2024-0001", "web1", "nginx", 6.5, 0.3, false, models.MaturityFunctional)), history.Scans)

	f := cur.Findings[0]
	assert.Equal(t, models.StatusKnown, f.Status)
	assert.True(t, f.Delta.IsZero())
	assert.Equal(t, models.P6, f.Priority)
}

func TestScenarioEscalatedFinding(t *testing.T) {
	r := newResolver(t)
	history := r.Resolve([]*models.Scan{scan("old", row("CVE-2024-0001", "web1", "nginx", 6.5, 0.3, false, models.MaturityFunctional))})
	cur, _ := r.ResolveCurrent(scan("cur", row("CVE-2024-0001", "web1", "nginx", 9.5, 0.3, true, models.MaturityFunctional)), history.Scans)

	f := cur.Findings[0]
	assert.Equal(t, models.P3, f.Priority)
	assert.Equal(t, models.StatusUpdated, f.Status)
	assert.Equal(t, models.CisaAdded, f.Delta.Cisa)
	assert.Equal(t, "+3.00", models.FormatCVSSDelta(f.Delta.CVSS))
	assert.Zero(t, f.Delta.EPSS)
	assert.Empty(t, f.Delta.Maturity)
}

func newResolver(t *testing.T) *Resolver {
	t.Helper()
	calc, err := priority.NewCalculator(models.ColumnCVSSComputedScore)
	require.NoError(t, err)
	r, err := NewResolver(calc, quietLogger())
	require.NoError(t, err)
	return r
}

func TestResolveChain(t *testing.T) {
	r := newResolver(t)
	newest := scan("n1", row("CVE-1", "a", "x", 8, 0.1, false, models.MaturityUnproven), row("CVE-3", "a", "x", 3, 0, false, ""))
	middle := scan("n2", row("CVE-1", "a", "x", 7, 0.1, false, models.MaturityUnproven), row("CVE-2", "a", "x", 4, 0, false, ""))
	oldest := scan("n3", row("CVE-2", "a", "x", 4, 0, false, ""))

	res := r.Resolve([]*models.Scan{newest, middle, oldest})
	require.Len(t, res.Scans, 3)

	assert.Same(t, res.Scans[1], res.Scans[0].Baseline)
	assert.Same(t, res.Scans[2], res.Scans[1].Baseline)
	assert.Nil(t, res.Scans[2].Baseline)

	assert.Equal(t, models.StatusUpdated, res.Scans[0].Findings[0].Status)
	assert.Equal(t, models.StatusNew, res.Scans[0].Findings[1].Status)
	assert.Equal(t, models.StatusNew, res.Scans[1].Findings[0].Status)
	assert.Equal(t, models.StatusKnown, res.Scans[1].Findings[1].Status)
	assert.Equal(t, models.StatusNew, res.Scans[2].Findings[0].Status)

	for _, s := range res.Scans {
		assert.True(t, s.Processed)
	}
	assert.False(t, newest.Processed, "input scans are not modified")
	assert.Empty(t, newest.Findings[0].Status)
}

func TestResolveIsIdempotent(t *testing.T) {
	r := newResolver(t)
	history := []*models.Scan{
		scan("n1", row("CVE-1", "a", "x", 9.1, 0.2, true, models.MaturityHigh), row("CVE-2", "b", "y", 5, 0.01, false, models.MaturityProofOfConcept)),
		scan("n2", row("CVE-1", "a", "x", 8.8, 0.2, false, models.MaturityFunctional)),
	}

	first := r.Resolve(history)
	second := r.Resolve(first.Scans)

	for _, l := range second.Links {
		assert.True(t, l.Skipped)
	}
	for i := range first.Scans {
		assert.Equal(t, first.Scans[i].Table("t").Rows, second.Scans[i].Table("t").Rows)
	}
}

func TestResolveKeepsPublishedStatus(t *testing.T) {
	r := newResolver(t)
	published := scan("n1", row("CVE-1", "a", "x", 9.8, 0.9, true, models.MaturityHigh))
	published.Processed = true
	published.Findings[0].Status = models.StatusKnown
	older := scan("n2", row("CVE-9", "z", "z", 1, 0, false, ""))

	res := r.Resolve([]*models.Scan{published, older})
	f := res.Scans[0].Findings[0]
	assert.Equal(t, models.StatusKnown, f.Status)
	assert.Equal(t, models.P1, f.Priority, "missing priority is filled in")
	assert.True(t, res.Links[0].Skipped)
	assert.False(t, res.Links[1].Skipped)
}

func TestResolveCurrentCountsAmbiguity(t *testing.T) {
	r := newResolver(t)
	history := r.Resolve([]*models.Scan{scan("old",
		row("CVE-1", "a", "x", 5, 0, false, ""),
		row("CVE-1", "a", "x", 6, 0, false, ""),
	)})
	cur, link := r.ResolveCurrent(scan("cur", row("CVE-1", "a", "x", 5, 0, false, "")), history.Scans)
	assert.Equal(t, 1, link.Stats.Ambiguous)
	assert.Equal(t, models.StatusKnown, cur.Findings[0].Status)
}
