package db

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/motion.report/internal/evidence"
	"github.com/banshee-data/motion.report/internal/testutil"
)

func setupTestDB(t *testing.T) (*DB, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "motion.db")
	db, err := NewDB(path)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db, path
}

func ptr[T any](v T) *T { return &v }

var eventTime = time.Date(2026, 3, 1, 12, 34, 56, 789_000_000, time.UTC)

func TestNewDBAppliesMigrations(t *testing.T) {
	db, _ := setupTestDB(t)

	fsys, err := getMigrationsFS()
	require.NoError(t, err)
	status, err := db.GetMigrationStatus(fsys)
	require.NoError(t, err)
	assert.Equal(t, uint(2), status.CurrentVersion)
	assert.Equal(t, uint(2), status.LatestVersion)
	assert.False(t, status.Dirty)
	assert.False(t, status.Pending())

	n, err := db.CountEvents(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(0), n)
}

func TestAppendAndReadEvent(t *testing.T) {
	db, _ := setupTestDB(t)
	ctx := context.Background()

	b := &evidence.Bundle{
		Timestamp:          eventTime,
		ImagePath:          "/var/lib/motion/evidence/motion_20260301_123456.789_0001.jpg",
		EstimatedDistanceM: ptr(3.25),
		Label:              ptr("person"),
		Confidence:         ptr(0.91),
		DistanceMM:         ptr(1234),
		SpeedMPS:           ptr(1.5),
		SpectrumPath:       ptr("/var/lib/motion/evidence/motion_20260301_123456.789_0001_spectrum.png"),
		SessionID:          "session-1",
	}
	id, err := db.AppendEvent(ctx, b)
	require.NoError(t, err)
	assert.Equal(t, int64(1), id)

	got, err := db.Event(ctx, id)
	require.NoError(t, err)
	want := &EventRecord{
		EventID:            1,
		Timestamp:          eventTime,
		ImagePath:          b.ImagePath,
		EstimatedDistanceM: ptr(3.25),
		Label:              ptr("person"),
		Confidence:         ptr(0.91),
		DistanceMM:         ptr(int64(1234)),
		SpeedMPS:           ptr(1.5),
		SpectrumPath:       b.SpectrumPath,
		SessionID:          ptr("session-1"),
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Event() mismatch (-want +got):\n%s", diff)
	}
	assert.Contains(t, got.String(), "person")

	var raw string
	require.NoError(t, db.QueryRow(`SELECT timestamp FROM events WHERE event_id = ?`, id).Scan(&raw))
	assert.Equal(t, "2026-03-01T12:34:56.789Z", raw)
}

func TestAppendDegradedBundleStoresNulls(t *testing.T) {
	db, _ := setupTestDB(t)
	ctx := context.Background()

	id, err := db.AppendEvent(ctx, &evidence.Bundle{
		Timestamp:  eventTime,
		ImagePath:  "motion.jpg",
		DistanceMM: ptr(evidence.RangeErrorSentinel),
	})
	require.NoError(t, err)

	var label, confidence, estimated, session any
	var distanceMM int
	require.NoError(t, db.QueryRow(
		`SELECT label, confidence, estimated_distance_m, session_id, distance_mm FROM events WHERE event_id = ?`, id,
	).Scan(&label, &confidence, &estimated, &session, &distanceMM))
	assert.Nil(t, label)
	assert.Nil(t, confidence)
	assert.Nil(t, estimated)
	assert.Nil(t, session)
	assert.Equal(t, -1, distanceMM)

	got, err := db.Event(ctx, id)
	require.NoError(t, err)
	assert.Nil(t, got.Label)
	assert.Equal(t, "motion.jpg", got.ImagePath)
	assert.Contains(t, got.String(), "unlabelled")
}

// The commit protocol in miniature: a capture that fails leaves the store
// untouched, a degraded capture appends exactly one row.
func TestCaptureOutcomesAgainstStore(t *testing.T) {
	db, _ := setupTestDB(t)
	ctx := context.Background()
	dir := t.TempDir()

	commit := func(c *evidence.Capturer) error {
		b, err := c.Capture(ctx, eventTime)
		if err != nil {
			return err
		}
		_, err = db.AppendEvent(ctx, b)
		return err
	}

	broken, err := evidence.NewCapturer(evidence.Config{Dir: dir, Timeout: time.Second},
		evidence.CameraFunc(func(context.Context, string) error { return errors.New("no camera") }))
	require.NoError(t, err)
	assert.ErrorIs(t, commit(broken), evidence.ErrCameraUnavailable)

	n, err := db.CountEvents(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(0), n)

	degraded, err := evidence.NewCapturer(evidence.Config{Dir: dir, Timeout: time.Second},
		evidence.CameraFunc(func(_ context.Context, path string) error { return os.WriteFile(path, []byte("jpeg"), 0o644) }),
		evidence.WithClassifier(evidence.ClassifierFunc(func(context.Context, string) (evidence.Classification, error) {
			return evidence.Classification{}, errors.New("model missing")
		})))
	require.NoError(t, err)
	require.NoError(t, commit(degraded))

	events, err := db.Events(ctx, 0)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Nil(t, events[0].Label)
	assert.Nil(t, events[0].Confidence)
	assert.NotEmpty(t, events[0].ImagePath)
}

func TestAppendEventErrors(t *testing.T) {
	db, _ := setupTestDB(t)
	ctx := context.Background()

	_, err := db.AppendEvent(ctx, nil)
	var se *StorageError
	assert.ErrorAs(t, err, &se)

	_, err = db.AppendEvent(ctx, &evidence.Bundle{Timestamp: eventTime})
	assert.ErrorAs(t, err, &se)

	require.NoError(t, db.Close())
	_, err = db.AppendEvent(ctx, &evidence.Bundle{Timestamp: eventTime, ImagePath: "a.jpg"})
	require.ErrorAs(t, err, &se)
	assert.Equal(t, "append", se.Op)
	assert.NotNil(t, errors.Unwrap(err))
	assert.True(t, strings.HasPrefix(err.Error(), "storage append:"))
}

func TestReopenKeepsEventsAndIDs(t *testing.T) {
	path := filepath.Join(t.TempDir(), "motion.db")
	ctx := context.Background()

	db, err := NewDB(path)
	require.NoError(t, err)
	for i := 0; i < 3; i++ {
		_, err := db.AppendEvent(ctx, &evidence.Bundle{Timestamp: eventTime.Add(time.Duration(i) * time.Second), ImagePath: "a.jpg"})
		require.NoError(t, err)
	}
	_, err = db.Exec(`DELETE FROM events WHERE event_id = 3`)
	require.NoError(t, err)
	require.NoError(t, db.Close())

	db, err = NewDB(path)
	require.NoError(t, err)
	defer db.Close()

	n, err := db.CountEvents(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n, "reopening must not truncate")

	id, err := db.AppendEvent(ctx, &evidence.Bundle{Timestamp: eventTime, ImagePath: "b.jpg"})
	require.NoError(t, err)
	assert.Equal(t, int64(4), id, "ids are never reused")
}

func TestEventsOrderingAndLimit(t *testing.T) {
	db, _ := setupTestDB(t)
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		_, err := db.AppendEvent(ctx, &evidence.Bundle{Timestamp: eventTime.Add(time.Duration(i) * time.Second), ImagePath: "a.jpg"})
		require.NoError(t, err)
	}

	events, err := db.Events(ctx, 2)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, int64(5), events[0].EventID)
	assert.Equal(t, int64(4), events[1].EventID)

	all, err := db.Events(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, all, 5)

	_, err = db.Event(ctx, 99)
	assert.ErrorIs(t, err, ErrEventNotFound)
}

func TestRunMigrateCommand(t *testing.T) {
	path := filepath.Join(t.TempDir(), "motion.db")

	tests := []struct {
		name    string
		args    []string
		wantErr bool
		wantOut string
	}{
		{"up", []string{"up"}, false, "Current version: 2"},
		{"status", []string{"status"}, false, "Latest version: 2"},
		{"down", []string{"down"}, false, "Current version: 1"},
		{"status pending", []string{"status"}, false, "1 migration(s) pending"},
		{"version", []string{"version", "2"}, false, "Current version: 2"},
		{"version missing", []string{"version"}, true, ""},
		{"version invalid", []string{"version", "two"}, true, ""},
		{"force", []string{"force", "2"}, false, "dirty: false"},
		{"help", []string{"help"}, false, "Usage: motion migrate"},
		{"unknown", []string{"sideways"}, true, "Unknown migrate action"},
		{"empty", nil, true, "Usage: motion migrate"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var out bytes.Buffer
			err := RunMigrateCommand(tt.args, path, &out)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
			assert.Contains(t, out.String(), tt.wantOut)
		})
	}
}

func TestGetLatestMigrationVersion(t *testing.T) {
	fsys, err := getMigrationsFS()
	require.NoError(t, err)
	v, err := GetLatestMigrationVersion(fsys)
	require.NoError(t, err)
	assert.Equal(t, uint(2), v)

	_, err = GetLatestMigrationVersion(os.DirFS(t.TempDir()))
	assert.Error(t, err)
}

func adminMux(t *testing.T, db *DB, evidenceDir string) *http.ServeMux {
	t.Helper()
	mux := http.NewServeMux()
	require.NoError(t, db.AttachAdminRoutes(mux, evidenceDir))
	return mux
}

func TestAdminEvents(t *testing.T) {
	db, _ := setupTestDB(t)
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		_, err := db.AppendEvent(ctx, &evidence.Bundle{
			Timestamp:          eventTime.Add(time.Duration(i) * time.Second),
			ImagePath:          "a.jpg",
			EstimatedDistanceM: ptr(float64(i)),
		})
		require.NoError(t, err)
	}
	mux := adminMux(t, db, t.TempDir())

	w := httptest.NewRecorder()
	mux.ServeHTTP(w, testutil.NewTestRequest(http.MethodGet, "/debug/events?limit=2"))
	testutil.AssertStatusCode(t, w.Code, http.StatusOK)

	var body struct {
		Total  int64         `json:"total"`
		Events []EventRecord `json:"events"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, int64(3), body.Total)
	require.Len(t, body.Events, 2)
	assert.Equal(t, int64(3), body.Events[0].EventID)

	w = httptest.NewRecorder()
	mux.ServeHTTP(w, testutil.NewTestRequest(http.MethodGet, "/debug/events?limit=-1"))
	testutil.AssertStatusCode(t, w.Code, http.StatusBadRequest)

	w = httptest.NewRecorder()
	mux.ServeHTTP(w, testutil.NewTestRequest(http.MethodPost, "/debug/events"))
	testutil.AssertStatusCode(t, w.Code, http.StatusMethodNotAllowed)

	w = httptest.NewRecorder()
	mux.ServeHTTP(w, testutil.NewTestRequest(http.MethodGet, "/debug/events/chart"))
	testutil.AssertStatusCode(t, w.Code, http.StatusOK)
	assert.Contains(t, w.Header().Get("Content-Type"), "text/html")
	assert.Contains(t, w.Body.String(), "estimated distance (m)")
}

func TestAdminEvidence(t *testing.T) {
	db, _ := setupTestDB(t)
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "motion_1.jpg"), []byte("jpeg"), 0o644))
	mux := adminMux(t, db, dir)

	tests := []struct {
		name string
		path string
		want int
	}{
		{"relative", "/debug/evidence?path=motion_1.jpg", http.StatusOK},
		{"absolute", "/debug/evidence?path=" + filepath.Join(dir, "motion_1.jpg"), http.StatusOK},
		{"missing", "/debug/evidence?path=motion_2.jpg", http.StatusNotFound},
		{"traversal", "/debug/evidence?path=../../etc/passwd", http.StatusForbidden},
		{"no path", "/debug/evidence", http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			mux.ServeHTTP(w, testutil.NewTestRequest(http.MethodGet, tt.path))
			testutil.AssertStatusCode(t, w.Code, tt.want)
		})
	}
}

func TestAdminBackup(t *testing.T) {
	db, _ := setupTestDB(t)
	_, err := db.AppendEvent(context.Background(), &evidence.Bundle{Timestamp: eventTime, ImagePath: "a.jpg"})
	require.NoError(t, err)
	mux := adminMux(t, db, t.TempDir())

	w := httptest.NewRecorder()
	mux.ServeHTTP(w, testutil.NewTestRequest(http.MethodGet, "/debug/backup"))
	testutil.AssertStatusCode(t, w.Code, http.StatusOK)
	assert.Contains(t, w.Header().Get("Content-Disposition"), ".db.gz")

	gz, err := gzip.NewReader(w.Body)
	require.NoError(t, err)
	data, err := io.ReadAll(gz)
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(data, []byte("SQLite format 3")))
}
