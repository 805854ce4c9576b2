package storage

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
)

func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.SetLevel(logrus.PanicLevel)
	return l
}

func processedScan(label string, captured time.Time) *models.Scan {
	s := models.NewScan(label, []string{models.ColumnCVECode, models.ColumnServer, models.ColumnComponent, models.ColumnEPSS})
	s.CapturedAt = captured
	s.Processed = true
	s.ScoreColumn = models.DefaultScoreColumn
	s.Findings = []models.Finding{
		{
			CVECode: "CVE-2024-1", Server: "web1", Component: "openssl",
			EPSS: 0.42, CVSSComputedScore: 9.1, Maturity: models.ParseMaturity("poc"),
			CisaReference: true, Priority: models.P3, Status: models.StatusUpdated,
			Delta:         models.Delta{Cisa: models.CisaAdded, CVSS: 3},
			PublishedDate: models.Date{Time: time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC), Known: true},
			Extras:        map[string]string{"Owner": "ops"},
		},
		{CVECode: "CVE-2024-2", Server: "db1", Component: "libpq", Priority: models.P6, Status: models.StatusNew},
	}
	return s
}

func TestLocalStorageRoundTrip(t *testing.T) {
	cases := []struct {
		name string
		opts LocalOptions
		ext  string
	}{
		{"plain", LocalOptions{}, ".json"},
		{"gzip", LocalOptions{Compression: true}, ".json.gz"},
		{"gzip+sealed", LocalOptions{Compression: true, Passphrase: "k3y"}, ".json.gz.enc"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			tc.opts.BaseDir = t.TempDir()
			ls, err := NewLocalStorage(tc.opts, quietLogger())
			require.NoError(t, err)

			in := processedScan("2024-06", time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC))
			rec, err := ls.Save(context.Background(), in)
			require.NoError(t, err)
			assert.Equal(t, in.ID+tc.ext, rec.File)
			assert.Equal(t, 2, rec.Findings)

			out, err := ls.Load(context.Background(), in.ID)
			require.NoError(t, err)
			assert.Equal(t, in.Findings, out.Findings)
			assert.Equal(t, in.Columns, out.Columns)
			assert.True(t, out.Processed)
			assert.True(t, out.CapturedAt.Equal(in.CapturedAt))
		})
	}
}

func TestLocalStorageIndexSurvivesReopen(t *testing.T) {
	dir := t.TempDir()
	ls, err := NewLocalStorage(LocalOptions{BaseDir: dir}, quietLogger())
	require.NoError(t, err)
	older := processedScan("old", time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	newer := processedScan("new", time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC))
	_, err = ls.Save(context.Background(), older)
	require.NoError(t, err)
	_, err = ls.Save(context.Background(), newer)
	require.NoError(t, err)

	reopened, err := NewLocalStorage(LocalOptions{BaseDir: dir}, quietLogger())
	require.NoError(t, err)
	recs, err := reopened.List(context.Background())
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, "new", recs[0].Label)
	assert.Equal(t, "old", recs[1].Label)
}

func TestLocalStorageEncryptedNeedsKey(t *testing.T) {
	dir := t.TempDir()
	sealed, err := NewLocalStorage(LocalOptions{BaseDir: dir, Passphrase: "k3y"}, quietLogger())
	require.NoError(t, err)
	s := processedScan("x", time.Now())
	_, err = sealed.Save(context.Background(), s)
	require.NoError(t, err)

	plain, err := NewLocalStorage(LocalOptions{BaseDir: dir}, quietLogger())
	require.NoError(t, err)
	_, err = plain.Load(context.Background(), s.ID)
	assert.ErrorContains(t, err, "no encryption key")
}

func TestLocalStorageDelete(t *testing.T) {
	dir := t.TempDir()
	ls, err := NewLocalStorage(LocalOptions{BaseDir: dir}, quietLogger())
	require.NoError(t, err)
	s := processedScan("x", time.Now())
	rec, err := ls.Save(context.Background(), s)
	require.NoError(t, err)

	require.NoError(t, ls.Delete(context.Background(), s.ID))
	assert.NoFileExists(t, filepath.Join(dir, "scans", rec.File))
	_, err = ls.Load(context.Background(), s.ID)
	assert.ErrorIs(t, err, models.ErrScanNotFound)
	assert.ErrorIs(t, ls.Delete(context.Background(), s.ID), models.ErrScanNotFound)
}

func newRepo(t *testing.T, opts RepositoryOptions) *HistoryRepository {
	t.Helper()
	ls, err := NewLocalStorage(LocalOptions{BaseDir: t.TempDir(), Compression: true}, quietLogger())
	require.NoError(t, err)
	return NewHistoryRepository(ls, opts, quietLogger())
}

func TestRepositoryRefusesUnprocessed(t *testing.T) {
	repo := newRepo(t, RepositoryOptions{})
	s := processedScan("raw", time.Now())
	s.Processed = false
	_, err := repo.Store(context.Background(), s)
	assert.ErrorContains(t, err, "has not been classified")
}

func TestRepositoryLatestAndPrune(t *testing.T) {
	repo := newRepo(t, RepositoryOptions{MaxHistory: 2})
	ctx := context.Background()
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	var ids []string
	for i := 0; i < 3; i++ {
		s := processedScan("m"+string(rune('1'+i)), base.AddDate(0, i, 0))
		ids = append(ids, s.ID)
		_, err := repo.Store(ctx, s)
		require.NoError(t, err)
	}

	recs, err := repo.List(ctx)
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, "m3", recs[0].Label)

	latest, err := repo.Latest(ctx, 1)
	require.NoError(t, err)
	require.Len(t, latest, 1)
	assert.Equal(t, ids[2], latest[0].ID)

	_, err = repo.Get(ctx, ids[0])
	assert.ErrorIs(t, err, models.ErrScanNotFound)
}

func TestRepositoryRetention(t *testing.T) {
	repo := newRepo(t, RepositoryOptions{Retention: 24 * time.Hour})
	ctx := context.Background()
	_, err := repo.Store(ctx, processedScan("ancient", time.Now().AddDate(-1, 0, 0)))
	require.NoError(t, err)
	_, err = repo.Store(ctx, processedScan("fresh", time.Now()))
	require.NoError(t, err)

	recs, err := repo.List(ctx)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, "fresh", recs[0].Label)
}

func TestRepositoryFind(t *testing.T) {
	repo := newRepo(t, RepositoryOptions{})
	ctx := context.Background()
	s := processedScan("2024-06", time.Now())
	_, err := repo.Store(ctx, s)
	require.NoError(t, err)

	byLabel, err := repo.Find(ctx, "2024-06")
	require.NoError(t, err)
	assert.Equal(t, s.ID, byLabel.ID)

	byPrefix, err := repo.Find(ctx, s.ID[:8])
	require.NoError(t, err)
	assert.Equal(t, s.ID, byPrefix.ID)

	_, err = repo.Find(ctx, "nope")
	assert.ErrorIs(t, err, models.ErrScanNotFound)
}

func TestRepositoryGetReturnsCopies(t *testing.T) {
	repo := newRepo(t, RepositoryOptions{})
	ctx := context.Background()
	s := processedScan("x", time.Now())
	_, err := repo.Store(ctx, s)
	require.NoError(t, err)

	a, err := repo.Get(ctx, s.ID)
	require.NoError(t, err)
	a.Findings[0].Priority = models.P1
	b, err := repo.Get(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, models.P3, b.Findings[0].Priority)
}

func TestObjectKeyAndContentType(t *testing.T) {
	assert.Equal(t, "reports/2024/06/01/a.csv", ObjectKey("/reports/", "2024/06/01", "a.csv"))
	assert.Equal(t, "2024/06/01/a.csv", ObjectKey("", "2024/06/01", "a.csv"))
	assert.Equal(t, "text/csv", ContentType("x.csv"))
	assert.Equal(t, "application/gzip", ContentType("x.json.gz"))
	assert.Equal(t, "application/octet-stream", ContentType("x.bin"))
}

func TestPostgresStore(t *testing.T) {
	url := os.Getenv("VULNLYNX_TEST_DATABASE_URL")
	if url == "" {
		t.Skip("VULNLYNX_TEST_DATABASE_URL not set")
	}
	ctx := context.Background()
	store, err := NewPostgresStore(ctx, url, quietLogger())
	require.NoError(t, err)
	defer store.Close()

	s := processedScan("pg", time.Now().UTC().Truncate(time.Microsecond))
	_, err = store.Save(ctx, s)
	require.NoError(t, err)
	defer func() { _ = store.Delete(ctx, s.ID) }()

	out, err := store.Load(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, s.Findings, out.Findings)
	assert.Equal(t, s.Columns, out.Columns)
}
