package utils

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSealRoundTrip(t *testing.T) {
	sealed, err := SealWithPassphrase("s3cret", []byte("history payload"))
	require.NoError(t, err)
	assert.True(t, IsSealed(sealed))

	plain, err := OpenWithPassphrase("s3cret", sealed)
	require.NoError(t, err)
	assert.Equal(t, "history payload", string(plain))

	_, err = OpenWithPassphrase("wrong", sealed)
	assert.Error(t, err)

	_, err = OpenWithPassphrase("s3cret", []byte(`{"plain":true}`))
	assert.ErrorIs(t, err, ErrNotSealed)
}

func TestParseDurationExtended(t *testing.T) {
	cases := map[string]time.Duration{
		"90m": 90 * time.Minute,
		"30d": 30 * 24 * time.Hour,
		"2w":  14 * 24 * time.Hour,
		"1y":  365 * 24 * time.Hour,
	}
	for in, want := range cases {
		got, err := ParseDurationExtended(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
	_, err := ParseDurationExtended("soon")
	assert.Error(t, err)
}

func TestSplitList(t *testing.T) {
	assert.Equal(t, []string{"CVE Code", "Server"}, SplitList(" CVE Code, ,Server "))
	assert.Nil(t, SplitList(""))
}

func TestSafeWriteFileCreatesParents(t *testing.T) {
	p := filepath.Join(t.TempDir(), "a", "b", "out.json")
	require.NoError(t, WriteFileJSON(p, map[string]int{"n": 1}, false))

	var got map[string]int
	require.NoError(t, ReadFileJSON(p, &got))
	assert.Equal(t, 1, got["n"])
	assert.False(t, FileExists(p+".tmp"))
}

func TestHumanize(t *testing.T) {
	assert.Equal(t, "512 B", HumanizeBytes(512))
	assert.Equal(t, "1.50 KB", HumanizeBytes(1536))
	assert.Equal(t, "2m 5s", HumanizeDuration(125*time.Second))
}

func TestMetricsTextfile(t *testing.T) {
	m := NewMetricsCollector("vulnlynx", false)
	m.SetFindings(map[string]int{"P1": 2, "P6": 5}, map[string]int{"New": 7})
	m.SetAmbiguous(1)
	m.AddMalformed(3)
	m.AddReportFiles("csv", 4)
	require.NoError(t, m.TimeStage("ingest", func() error { return nil }))
	m.MarkRun()

	assert.Equal(t, 2.0, testutil.ToFloat64(m.findings.WithLabelValues("P1")))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.malformed))

	path := filepath.Join(t.TempDir(), "vulnlynx.prom")
	require.NoError(t, m.WriteTextfile(path))
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	body := string(data)
	assert.True(t, strings.Contains(body, `vulnlynx_findings{priority="P6"} 5`))
	assert.Contains(t, body, "vulnlynx_stage_duration_seconds_count{stage=\"ingest\"} 1")
}

func TestLoggerWritesFile(t *testing.T) {
	p := filepath.Join(t.TempDir(), "logs", "vulnlynx.log")
	l, err := NewLogger(LogConfig{Level: "debug", Format: "json", File: p, Quiet: true}, "vulnlynx", "test")
	require.NoError(t, err)
	l.WithComponent("ingest").Debug("parsed")
	require.NoError(t, l.Close())

	data, err := os.ReadFile(p)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"component":"ingest"`)
	assert.Contains(t, string(data), `"service":"vulnlynx"`)
}
