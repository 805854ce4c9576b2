package orchestration

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bl4ck0w1/vulnlynx/pkg/models"
	"github.com/bl4ck0w1/vulnlynx/pkg/utils"
)

const header = "Server;CVE Code;Component;Product;CVSS Computed Score;EPSS;Maturity;Cisa Reference\n"

func writeCSV(t *testing.T, dir, name, body string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(p, []byte(header+body), 0o644))
	return p
}

func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.SetLevel(logrus.PanicLevel)
	return l
}

func newPipeline(t *testing.T) (*Pipeline, *utils.MetricsCollector) {
	t.Helper()
	m := utils.NewMetricsCollector("vulnlynx", false)
	p, err := NewPipeline(models.DefaultConfig(), m, quietLogger())
	require.NoError(t, err)
	return p, m
}

func TestPipelineRun(t *testing.T) {
	dir := t.TempDir()
	older := writeCSV(t, dir, "2024-01.csv",
		"web1;CVE-1;nginx;nginx;6,0;0,1;unproven;No\n"+
			"db1;CVE-9;libpq;postgres;5,0;0,05;unproven;No\n")
	newer := writeCSV(t, dir, "2024-02.csv",
		"web1;CVE-1;nginx;nginx;6,0;0,1;unproven;No\n"+
			"db1;CVE-9;libpq;postgres;5,0;0,05;unproven;No\n")
	current := writeCSV(t, dir, "2024-03.csv",
		"web1;CVE-1;nginx;nginx;9,0;0,1;unproven;Yes\n"+
			"web2;CVE-2;openssl;openssl;7,5;0,2;poc;No\n")

	p, _ := newPipeline(t)
	ctx := context.Background()
	scans, err := p.LoadScans(ctx, []Source{{Path: current}, {Path: newer}, {Path: older}})
	require.NoError(t, err)
	require.Len(t, scans, 3)
	assert.Equal(t, "2024-03", scans[0].Label)

	res, err := p.Run(ctx, scans[0], scans[1:], true)
	require.NoError(t, err)

	require.Len(t, res.History, 2)
	assert.True(t, res.History[0].Processed)
	assert.Equal(t, models.StatusKnown, res.History[0].Findings[0].Status)
	assert.Equal(t, models.StatusNew, res.History[1].Findings[0].Status)

	cur := res.Current
	assert.Equal(t, models.StatusUpdated, cur.Findings[0].Status)
	assert.Equal(t, models.CisaAdded, cur.Findings[0].Delta.Cisa)
	assert.Equal(t, models.P3, cur.Findings[0].Priority)
	assert.Equal(t, models.StatusNew, cur.Findings[1].Status)
	assert.Equal(t, models.P5, cur.Findings[1].Priority)

	assert.Equal(t, 2, res.CVEScan.Len())
	require.Len(t, res.HistoryViews, 2)
	assert.Equal(t, "old n1 CVE Scan", res.HistoryViews[0].Name)
	assert.Equal(t, 2, res.HistoryViews[0].Len())
	assert.True(t, res.HistoryViews[0].HasColumn(models.ColumnStatus))
	assert.True(t, res.HistoryViews[0].HasColumn(models.ColumnComponent))
	require.NotNil(t, res.Synthesis)
	assert.Equal(t, 2, res.SynthesisInfo.FixedRows)

	assert.False(t, scans[0].Processed, "input scan must stay untouched")
}

func TestPipelineRunWithoutHistory(t *testing.T) {
	dir := t.TempDir()
	current := writeCSV(t, dir, "only.csv", "web1;CVE-1;nginx;nginx;9,8;0,9;high;Yes\n")
	p, m := newPipeline(t)

	s, stats, err := p.LoadScan(Source{Path: current, Label: "june", CapturedAt: time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)})
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Rows)
	assert.Equal(t, "june", s.Label)

	res, err := p.Run(context.Background(), s, nil, false)
	require.NoError(t, err)
	assert.Equal(t, models.StatusNew, res.Current.Findings[0].Status)
	assert.Equal(t, models.P1, res.Current.Findings[0].Priority)
	assert.Nil(t, res.Synthesis)
	assert.Empty(t, res.HistoryViews)

	path := filepath.Join(t.TempDir(), "m.prom")
	require.NoError(t, m.WriteTextfile(path))
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `vulnlynx_findings{priority="P1"} 1`)
}

func TestPipelineEmptyCurrent(t *testing.T) {
	dir := t.TempDir()
	current := writeCSV(t, dir, "empty.csv", "")
	p, _ := newPipeline(t)
	s, _, err := p.LoadScan(Source{Path: current})
	require.NoError(t, err)

	res, err := p.Run(context.Background(), s, nil, false)
	require.NoError(t, err)
	assert.True(t, res.CVEScan.IsPlaceholder())
}

func TestPipelineZeroByteFiles(t *testing.T) {
	dir := t.TempDir()
	emptyCurrent := filepath.Join(dir, "2024-03.csv")
	emptyHistory := filepath.Join(dir, "2024-02.csv")
	require.NoError(t, os.WriteFile(emptyCurrent, nil, 0o644))
	require.NoError(t, os.WriteFile(emptyHistory, nil, 0o644))
	older := writeCSV(t, dir, "2024-01.csv", "web1;CVE-1;nginx;nginx;6,0;0,1;unproven;No\n")

	p, _ := newPipeline(t)
	ctx := context.Background()

	scans, err := p.LoadScans(ctx, []Source{{Path: emptyCurrent}, {Path: emptyHistory}})
	require.NoError(t, err)
	res, err := p.Run(ctx, scans[0], scans[1:], true)
	require.NoError(t, err)
	assert.True(t, res.CVEScan.IsPlaceholder())
	assert.Equal(t, models.NoDataMessage, res.CVEScan.Rows[0][0].String())
	require.Len(t, res.HistoryViews, 1)
	assert.True(t, res.HistoryViews[0].IsPlaceholder())
	assert.True(t, res.Synthesis.IsPlaceholder())

	scans, err = p.LoadScans(ctx, []Source{{Path: emptyCurrent}, {Path: emptyHistory}, {Path: older}})
	require.NoError(t, err)
	res, err = p.Run(ctx, scans[0], scans[1:], true)
	require.NoError(t, err)
	assert.True(t, res.CVEScan.IsPlaceholder())
	assert.True(t, res.HistoryViews[0].IsPlaceholder())
	assert.Equal(t, 1, res.HistoryViews[1].Len())
	assert.Equal(t, 1, res.SynthesisInfo.FixedRows)
}

func TestPipelineMissingColumns(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, "bad.csv")
	require.NoError(t, os.WriteFile(p, []byte("Server;Component\nweb1;nginx\n"), 0o644))
	pl, _ := newPipeline(t)

	_, err := pl.LoadScans(context.Background(), []Source{{Path: p}})
	assert.ErrorIs(t, err, models.ErrMissingColumn)
}

func TestNewPipelineRejectsBadStrategy(t *testing.T) {
	cfg := models.DefaultConfig()
	cfg.Aggregation.Strategies = map[string]string{"Patch": "average"}
	_, err := NewPipeline(cfg, nil, quietLogger())
	assert.Error(t, err)
}
