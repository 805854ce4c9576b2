package aggregate

import (
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bl4ck0w1/vulnlynx/pkg/models"
)

func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.SetLevel(logrus.PanicLevel)
	return l
}

func f(cve, server, component, product string, p models.Priority, epss float64, status models.Status) models.Finding {
	return models.Finding{
		CVECode:           cve,
		Server:            server,
		Component:         component,
		Product:           product,
		Priority:          p,
		EPSS:              epss,
		Status:            status,
		CVSSComputedScore: 5,
		Maturity:          models.MaturityFunctional,
		Vector:            "AV:N",
	}
}

func processedScan(label string, findings ...models.Finding) *models.Scan {
	s := models.NewScan(label, models.RawColumns)
	s.Processed = true
	s.Findings = findings
	return s
}

func TestAggregateCollapsesGroup(t *testing.T) {
	a := NewAggregator(quietLogger())
	s := processedScan("cur",
		f("CVE-1", "web1", "nginx", "nginx", models.P4, 0.1, models.StatusNew),
		f("CVE-1", "web1", "openssl", "openssl", models.P4, 0.1, models.StatusNew),
		f("CVE-1", "web1", "nginx", "nginx", models.P4, 0.1, models.StatusNew),
		f("CVE-1", "web2", "nginx", "nginx", models.P4, 0.1, models.StatusNew),
	)
	rules := DefaultRules(models.ColumnCVSSComputedScore, []string{models.ColumnCVECode, models.ColumnServer})

	table, err := a.AggregateScan("CVE Scan", s, rules)
	require.NoError(t, err)
	require.Equal(t, 2, table.Len())

	assert.Equal(t, "web1", table.Get(0, models.ColumnServer).String())
	assert.Equal(t, "nginx | openssl", table.Get(0, models.ColumnComponent).String())
	assert.Equal(t, "nginx", table.Get(1, models.ColumnComponent).String())
}

func TestAggregateJoinAll(t *testing.T) {
	a := NewAggregator(quietLogger())
	s := processedScan("cur",
		f("CVE-1", "web1", "nginx", "p", models.P4, 0.1, ""),
		f("CVE-1", "web1", "nginx", "p", models.P4, 0.1, ""),
	)
	rules, err := DefaultRules("", []string{models.ColumnCVECode}).WithOverrides(map[string]string{
		models.ColumnComponent: "join_all",
	})
	require.NoError(t, err)

	table, err := a.AggregateScan("t", s, rules)
	require.NoError(t, err)
	assert.Equal(t, "nginx | nginx", table.Get(0, models.ColumnComponent).String())
	assert.Equal(t, "web1", table.Get(0, models.ColumnServer).String())
}

func TestAggregateSortsByPriorityThenEPSS(t *testing.T) {
	a := NewAggregator(quietLogger())
	s := processedScan("cur",
		f("CVE-A", "s", "c", "p", models.P5, 0.9, ""),
		f("CVE-B", "s", "c", "p", models.P2, 0.1, ""),
		f("CVE-C", "s", "c", "p", models.P2, 0.7, ""),
		f("CVE-D", "s", "c", "p", models.P6, 0.0, ""),
	)
	table, err := a.AggregateScan("t", s, DefaultRules("", []string{models.ColumnCVECode, models.ColumnServer}))
	require.NoError(t, err)

	var order []string
	for i := range table.Rows {
		order = append(order, table.Get(i, models.ColumnCVECode).String())
	}
	assert.Equal(t, []string{"CVE-C", "CVE-B", "CVE-A", "CVE-D"}, order)
}

func TestAggregateDropsIrrelevantColumns(t *testing.T) {
	a := NewAggregator(quietLogger())
	s := processedScan("cur", f("CVE-1", "s", "c", "p", models.P5, 0, ""))
	s.Columns = append(s.Columns, "Owner")

	table, err := a.AggregateScan("t", s, DefaultRules(models.ColumnCVSSComputedScore, []string{models.ColumnCVECode, models.ColumnServer}))
	require.NoError(t, err)

	assert.True(t, table.HasColumn(models.ColumnCVSSComputedScore))
	for _, dropped := range []string{models.ColumnVector, models.ColumnCVSSScore, models.ColumnRelatedCWEs, models.ColumnVersion, "Owner"} {
		assert.False(t, table.HasColumn(dropped), dropped)
	}
	assert.Equal(t, []string{models.ColumnCVECode, models.ColumnServer}, table.Columns[:2])
}

func TestAggregateEmptyScan(t *testing.T) {
	a := NewAggregator(quietLogger())
	table, err := a.AggregateScan("t", processedScan("empty"), DefaultRules("", []string{models.ColumnCVECode}))
	require.NoError(t, err)
	assert.True(t, table.IsPlaceholder())
	assert.Equal(t, models.NoDataMessage, table.Rows[0][0].String())
}

func TestAggregateMissingGroupColumn(t *testing.T) {
	a := NewAggregator(quietLogger())
	s := processedScan("raw", f("CVE-1", "web1", "nginx", "nginx", models.P5, 0.1, models.StatusNew))
	_, err := a.AggregateScan("t", s, DefaultRules("", []string{models.ColumnCVECode, "Owner"}))
	require.Error(t, err)
	assert.ErrorIs(t, err, models.ErrMissingColumn)
}

func TestRulesOverrides(t *testing.T) {
	rules := DefaultRules("", nil)
	_, err := rules.WithOverrides(map[string]string{"Component": "sum"})
	require.Error(t, err)

	out, err := rules.WithOverrides(map[string]string{
		models.ColumnPatch:  "drop",
		models.ColumnVector: "first",
	})
	require.NoError(t, err)
	_, ok := out.Strategy(models.ColumnPatch)
	assert.False(t, ok)
	st, ok := out.Strategy(models.ColumnVector)
	assert.True(t, ok)
	assert.Equal(t, First, st)

	_, ok = rules.Strategy(models.ColumnPatch)
	assert.True(t, ok, "original rules untouched")
}

func synthesisOptions() SynthesisOptions {
	return SynthesisOptions{
		Subset: []string{models.ColumnServer, models.ColumnCVECode, models.ColumnProduct},
		Rules:  DefaultRules("", []string{models.ColumnCVECode, models.ColumnServer, models.ColumnStatus}),
	}
}

func TestSynthesizeMarksFixed(t *testing.T) {
	a := NewAggregator(quietLogger())
	current := processedScan("cur",
		f("CVE-1", "web1", "nginx", "nginx", models.P4, 0.2, models.StatusKnown),
	)
	history := []*models.Scan{
		processedScan("n1",
			f("CVE-1", "web1", "nginx", "nginx", models.P4, 0.2, models.StatusNew),
			f("CVE-2", "web1", "openssl", "openssl", models.P3, 0.5, models.StatusUpdated),
		),
		processedScan("n2",
			f("CVE-3", "db1", "postgres", "postgres", models.P5, 0.1, models.StatusNew),
		),
	}

	table, stats, err := a.Synthesize(models.SheetSynthesis, current, history, synthesisOptions())
	require.NoError(t, err)
	require.Equal(t, 3, table.Len())
	assert.Equal(t, 2, stats.FixedRows)
	assert.Equal(t, 1, stats.DroppedRows)

	status := map[string]string{}
	for i := range table.Rows {
		status[table.Get(i, models.ColumnCVECode).String()] = table.Get(i, models.ColumnStatus).String()
	}
	assert.Equal(t, "Known", status["CVE-1"], "present in current is never fixed")
	assert.Equal(t, "Fixed", status["CVE-2"])
	assert.Equal(t, "Fixed", status["CVE-3"])
}

func TestSynthesizeFixedDependsOnProduct(t *testing.T) {
	a := NewAggregator(quietLogger())
	current := processedScan("cur", f("CVE-1", "web1", "nginx", "nginx-1.25", models.P4, 0, models.StatusKnown))
	history := []*models.Scan{processedScan("n1", f("CVE-1", "web1", "nginx", "nginx-1.24", models.P4, 0, models.StatusNew))}

	table, _, err := a.Synthesize("s", current, history, synthesisOptions())
	require.NoError(t, err)
	require.Equal(t, 2, table.Len())

	var statuses []string
	for i := range table.Rows {
		statuses = append(statuses, table.Get(i, models.ColumnStatus).String())
	}
	assert.ElementsMatch(t, []string{"Known", "Fixed"}, statuses)
}

func TestSynthesizeDoesNotTouchInputs(t *testing.T) {
	a := NewAggregator(quietLogger())
	current := processedScan("cur")
	old := processedScan("n1", f("CVE-1", "s", "c", "p", models.P4, 0, models.StatusNew))

	table, _, err := a.Synthesize("s", current, []*models.Scan{old}, synthesisOptions())
	require.NoError(t, err)
	assert.Equal(t, "Fixed", table.Get(0, models.ColumnStatus).String())
	assert.Equal(t, models.StatusNew, old.Findings[0].Status)
}

func TestAggregateHeaderlessInput(t *testing.T) {
	a := NewAggregator(quietLogger())
	table, err := a.AggregateScan("t", models.NewScan("blank", nil), DefaultRules("", []string{models.ColumnCVECode, models.ColumnServer}))
	require.NoError(t, err)
	assert.True(t, table.IsPlaceholder())
	assert.Equal(t, []string{models.ColumnCVECode, models.ColumnServer}, table.Columns)
}

func TestAggregateProcessedHeaderlessInput(t *testing.T) {
	a := NewAggregator(quietLogger())
	s := models.NewScan("blank", nil)
	s.Processed = true
	assert.Empty(t, s.OutputColumns())

	table, err := a.AggregateScan("t", s, DefaultRules("", []string{models.ColumnCVECode, models.ColumnServer}))
	require.NoError(t, err)
	assert.True(t, table.IsPlaceholder())
	assert.Equal(t, models.NoDataMessage, table.Rows[0][0].String())
}

func TestAggregateEmptyScanMissingGroupColumn(t *testing.T) {
	a := NewAggregator(quietLogger())
	s := processedScan("empty")
	table, err := a.AggregateScan("t", s, DefaultRules("", []string{models.ColumnCVECode, "Owner"}))
	require.NoError(t, err)
	assert.True(t, table.IsPlaceholder())
	assert.Equal(t, []string{models.ColumnCVECode, "Owner"}, table.Columns)
}
