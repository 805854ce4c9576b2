package commands

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bl4ck0w1/vulnlynx/internal/storage"
	"github.com/bl4ck0w1/vulnlynx/pkg/models"
)

const header = "Server;CVE Code;Component;Product;CVSS Computed Score;EPSS;Maturity;Cisa Reference\n"

func writeCSV(t *testing.T, dir, name, body string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(p, []byte(header+body), 0o644))
	return p
}

func setupViper(t *testing.T) string {
	t.Helper()
	viper.Reset()
	t.Cleanup(viper.Reset)
	logrus.SetLevel(logrus.PanicLevel)

	dir := t.TempDir()
	viper.Set("reporting.output_dir", filepath.Join(dir, "reports"))
	viper.Set("reporting.formats", []string{"json"})
	viper.Set("storage.path", filepath.Join(dir, "history"))
	viper.Set("report.timeout", 1)
	return dir
}

func TestLoadConfigOverrides(t *testing.T) {
	setupViper(t)
	viper.Set("engine.score_column", models.ColumnCVSSScore)
	viper.Set("engine.group_by", []string{"CVE Code"})
	viper.Set("engine.workers", 2)

	cfg, err := loadConfig()
	require.NoError(t, err)
	assert.Equal(t, models.ColumnCVSSScore, cfg.Engine.ScoreColumn)
	assert.Equal(t, []string{"CVE Code"}, cfg.Engine.GroupBy)
	assert.Equal(t, 2, cfg.Engine.Workers)
	assert.Equal(t, []string{"json"}, cfg.Reporting.Formats)

	viper.Set("engine.score_column", "Severity")
	_, err = loadConfig()
	require.Error(t, err)
}

func TestRunEngineSavesAndReusesHistory(t *testing.T) {
	dir := setupViper(t)
	first := writeCSV(t, dir, "2024-01.csv", "web1;CVE-1;nginx;nginx;6,0;0,1;unproven;No\n")

	viper.Set("report.captured_at", time.Now().Add(-48*time.Hour).Format(time.RFC3339))
	out, err := runEngine(first, "report", false, true)
	require.NoError(t, err)
	require.NotEmpty(t, out.files)
	for _, f := range out.files {
		assert.FileExists(t, f)
	}
	assert.Equal(t, 1, out.result.CurrentLink.Stats.New)

	second := writeCSV(t, dir, "2024-02.csv",
		"web1;CVE-1;nginx;nginx;6,0;0,1;unproven;No\n"+
			"web2;CVE-2;openssl;openssl;9,8;0,9;high;Yes\n")
	viper.Set("report.from_store", 1)
	viper.Set("report.captured_at", time.Now().Add(-24*time.Hour).Format(time.RFC3339))
	out, err = runEngine(second, "report", true, true)
	require.NoError(t, err)
	require.Len(t, out.result.History, 1)
	assert.Equal(t, "2024-01", out.result.History[0].Label)
	assert.Equal(t, 1, out.result.CurrentLink.Stats.Known)
	assert.Equal(t, 1, out.result.CurrentLink.Stats.New)
	assert.Equal(t, models.P1, out.result.Current.Findings[1].Priority)
	assert.NotNil(t, out.report.Sheet(models.SheetSynthesis))
	assert.NotNil(t, out.report.Sheet(models.HistorySheetName(1)))

	cfg, err := loadConfig()
	require.NoError(t, err)
	store, err := storage.Open(context.Background(), cfg.Storage, nil)
	require.NoError(t, err)
	defer store.Close()
	records, err := store.List(context.Background())
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "2024-02", records[0].Label)
}

func TestRunEngineSynthesis(t *testing.T) {
	dir := setupViper(t)
	older := writeCSV(t, dir, "old.csv", "db1;CVE-9;libpq;postgres;5,0;0,05;unproven;No\n")
	current := writeCSV(t, dir, "cur.csv", "web1;CVE-1;nginx;nginx;6,0;0,1;unproven;No\n")
	viper.Set("synthesis.history", []string{older})

	out, err := runEngine(current, "synthesis", true, false)
	require.NoError(t, err)
	assert.Equal(t, models.ReportKindSynthesis, out.report.Kind)
	assert.Equal(t, 1, out.result.SynthesisInfo.FixedRows)
}

func TestRunEngineMissingFile(t *testing.T) {
	dir := setupViper(t)
	_, err := runEngine(filepath.Join(dir, "nope.csv"), "report", false, false)
	require.Error(t, err)
}

func TestParseReportName(t *testing.T) {
	tests := []struct {
		name, kind, label string
	}{
		{"vulnlynx_scan_2024-03_20240301_101010.json", "scan", "2024-03"},
		{"vulnlynx_scan_a_b_20240301_101010_cve_scan.csv.gz", "scan", "a_b"},
		{"vulnlynx_synthesis_q1_20240301_101010.yaml", "synthesis", "q1"},
		{"vulnlynx_x.json", "", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			kind, label := parseReportName(tt.name)
			assert.Equal(t, tt.kind, kind)
			assert.Equal(t, tt.label, label)
		})
	}
	assert.Equal(t, "csv", fileFormatFromName("vulnlynx_scan_a_20240301_101010.csv.gz"))
}

func TestParseCapturedAt(t *testing.T) {
	ts, err := parseCapturedAt("2024-03-01")
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC), ts)

	_, err = parseCapturedAt("March")
	require.Error(t, err)
}

func TestMaskURL(t *testing.T) {
	assert.Equal(t, "postgres://user:se****pw@db:5432/vulnlynx", maskURL("postgres://user:secretpw@db:5432/vulnlynx"))
	assert.Equal(t, "postgres://db/vulnlynx", maskURL("postgres://db/vulnlynx"))
}

func TestFindSpecificReport(t *testing.T) {
	dir := t.TempDir()
	older := filepath.Join(dir, "vulnlynx_scan_q1_20240101_000000.txt")
	newer := filepath.Join(dir, "vulnlynx_scan_q1_20240201_000000.txt")
	require.NoError(t, os.WriteFile(older, []byte("a"), 0o644))
	require.NoError(t, os.WriteFile(newer, []byte("b"), 0o644))
	past := time.Now().Add(-time.Hour)
	require.NoError(t, os.Chtimes(older, past, past))

	got, err := findSpecificReport(dir, "q1", "txt")
	require.NoError(t, err)
	assert.Equal(t, newer, got)

	got, err = findSpecificReport(dir, "q1", "json")
	require.NoError(t, err)
	assert.Empty(t, got)
}
