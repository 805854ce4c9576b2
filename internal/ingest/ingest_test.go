package ingest

import (
	"strings"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bl4ck0w1/vulnlynx/pkg/models"
)

func quietParser() *Parser {
	l := logrus.New()
	l.SetLevel(logrus.PanicLevel)
	return NewParser(Options{DateLayout: "02/01/2006"}, l)
}

const export = "\ufeffCVE Code;server;Component;Product;CVSS Computed Score;Score EPSS;Maturity;Cisa Reference;Published Date;Owner\n" +
	"CVE-2024-0001;web1;nginx;nginx;7,5;0,91;High;Yes;31/01/2024;ops\n" +
	"CVE-2024-0002;web1;openssl;openssl;Undefined;None;poc;No;not a date;\n" +
	";;;;;;;;;\n" +
	"CVE-2024-0003;db1;postgres;postgres;abc;;unproven;no;2024-02-03T10:00:00Z;dba\n"

func TestReadCSVNormalizesHeaders(t *testing.T) {
	table, err := ReadCSV(strings.NewReader(export), "scan", DefaultCSVOptions())
	require.NoError(t, err)

	assert.Equal(t, models.ColumnCVECode, table.Columns[0])
	assert.Equal(t, models.ColumnServer, table.Columns[1])
	assert.Equal(t, "Owner", table.Columns[9])
	assert.Equal(t, 3, table.Len(), "blank lines are skipped")
}

func TestParseCoercesValues(t *testing.T) {
	table, err := ReadCSV(strings.NewReader(export), "scan", DefaultCSVOptions())
	require.NoError(t, err)

	scan, stats, err := quietParser().Parse("current", table)
	require.NoError(t, err)
	require.Len(t, scan.Findings, 3)

	first := scan.Findings[0]
	assert.Equal(t, 7.5, first.CVSSComputedScore)
	assert.Equal(t, 0.91, first.EPSS)
	assert.Equal(t, models.MaturityHigh, first.Maturity)
	assert.True(t, first.CisaReference)
	assert.Equal(t, "2024-01-31", first.PublishedDate.String())
	assert.Equal(t, "ops", first.Extras["Owner"])

	second := scan.Findings[1]
	assert.Zero(t, second.CVSSComputedScore)
	assert.Zero(t, second.EPSS)
	assert.Equal(t, models.MaturityProofOfConcept, second.Maturity)
	assert.False(t, second.CisaReference)
	assert.Equal(t, "Unknown", second.PublishedDate.String())

	third := scan.Findings[2]
	assert.Zero(t, third.CVSSComputedScore)
	assert.True(t, third.PublishedDate.Known, "RFC3339 fallback")

	assert.Equal(t, 1, stats.MalformedCells)
	assert.Equal(t, 1, stats.UnknownDates)
	assert.Equal(t, []string{"Owner"}, stats.ExtraColumns)
	assert.False(t, scan.Processed)
}

func TestParseMissingIdentityColumns(t *testing.T) {
	table, err := ReadCSV(strings.NewReader("CVE Code;Product\nCVE-1;x\n"), "scan", DefaultCSVOptions())
	require.NoError(t, err)

	_, _, err = quietParser().Parse("current", table)
	require.Error(t, err)
	assert.ErrorIs(t, err, models.ErrMissingColumn)

	var mce *models.MissingColumnsError
	require.ErrorAs(t, err, &mce)
	assert.Equal(t, []string{models.ColumnServer, models.ColumnComponent}, mce.Columns)
}

func TestParseEmptyInputIsNotAnError(t *testing.T) {
	table, err := ReadCSV(strings.NewReader("Product;Patch\n"), "scan", DefaultCSVOptions())
	require.NoError(t, err)

	scan, _, err := quietParser().Parse("current", table)
	require.NoError(t, err)
	assert.True(t, scan.IsEmpty())
	assert.True(t, scan.Table("Data").IsPlaceholder())
}

func TestParseProcessedScan(t *testing.T) {
	data := "CVE Code;Server;Component;Priority;Status;Update CISA;Update EPSS;Update CVSS;Update Maturity\n" +
		"CVE-1;a;b;P3;Updated;Added;+0,1000;+3.00;functional -> high\n"
	table, err := ReadCSV(strings.NewReader(data), "old", DefaultCSVOptions())
	require.NoError(t, err)

	scan, stats, err := quietParser().Parse("old", table)
	require.NoError(t, err)
	assert.True(t, scan.Processed)
	assert.True(t, stats.Processed)

	f := scan.Findings[0]
	assert.Equal(t, models.P3, f.Priority)
	assert.Equal(t, models.StatusUpdated, f.Status)
	assert.Equal(t, models.CisaAdded, f.Delta.Cisa)
	assert.InDelta(t, 0.1, f.Delta.EPSS, 1e-9)
	assert.Equal(t, 3.0, f.Delta.CVSS)
	assert.Equal(t, "functional -> high", f.Delta.Maturity)
}

func TestParseNumber(t *testing.T) {
	tests := []struct {
		in   string
		want float64
		ok   bool
	}{
		{"", 0, true},
		{"Undefined", 0, true},
		{"None", 0, true},
		{"NaN", 0, true},
		{"9.8", 9.8, true},
		{"9,8", 9.8, true},
		{"12%", 0.12, true},
		{"high", 0, false},
	}
	for _, tt := range tests {
		got, ok := ParseNumber(tt.in)
		assert.Equal(t, tt.ok, ok, tt.in)
		assert.InDelta(t, tt.want, got, 1e-9, tt.in)
	}
}

func TestNormalizeEPSS(t *testing.T) {
	assert.InDelta(t, 0.45, NormalizeEPSS(45), 1e-9)
	assert.InDelta(t, 1.0, NormalizeEPSS(100), 1e-9)
	assert.Equal(t, 0.91, NormalizeEPSS(0.91))
	assert.Equal(t, 1.0, NormalizeEPSS(1))
	assert.Zero(t, NormalizeEPSS(0))

	table, err := ReadCSV(strings.NewReader("Server;CVE Code;Component;EPSS;CVSS Computed Score\nweb1;CVE-1;nginx;45;45\n"), "scan", DefaultCSVOptions())
	require.NoError(t, err)
	scan, _, err := quietParser().Parse("current", table)
	require.NoError(t, err)
	assert.InDelta(t, 0.45, scan.Findings[0].EPSS, 1e-9)
	assert.Equal(t, 45.0, scan.Findings[0].CVSSComputedScore)
}
