package db

import (
	"bytes"
	"compress/gzip"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/opts"
	"github.com/tailscale/tailsql/server/tailsql"
	"tailscale.com/tsweb"

	"github.com/banshee-data/motion.report/internal/httputil"
	"github.com/banshee-data/motion.report/internal/security"
)

const (
	defaultEventsLimit = 50
	maxEventsLimit     = 1000
)

// AttachAdminRoutes mounts the store's debug pages under /debug/ on mux.
// evidenceDir bounds which files /debug/evidence will serve.
func (db *DB) AttachAdminRoutes(mux *http.ServeMux, evidenceDir string) error {
	debug := tsweb.Debugger(mux)

	tsql, err := tailsql.NewServer(tailsql.Options{
		RoutePrefix: "/debug/tailsql/",
	})
	if err != nil {
		return fmt.Errorf("failed to create tailsql server: %w", err)
	}
	tsql.SetDB("sqlite://"+filepath.Base(db.path), db.DB, &tailsql.DBOptions{
		Label: "Motion events",
	})
	debug.Handle("tailsql/", "SQL live debugging", tsql.NewMux())

	debug.Handle("backup", "Create and download a backup of the database now", http.HandlerFunc(db.handleBackup))
	debug.Handle("events", "Latest events as JSON (?limit=N)", http.HandlerFunc(db.handleEvents))
	debug.Handle("events/chart", "Estimated distance and speed per event", http.HandlerFunc(db.handleEventsChart))
	debug.HandleSilent("evidence", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		serveEvidence(w, r, evidenceDir)
	}))
	return nil
}

func (db *DB) handleBackup(w http.ResponseWriter, r *http.Request) {
	dir, err := os.MkdirTemp("", "motion-backup-")
	if err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("failed to create backup dir: %v", err))
		return
	}
	defer func() {
		if err := os.RemoveAll(dir); err != nil {
			log.Printf("Failed to remove backup dir: %v", err)
		}
	}()

	name := fmt.Sprintf("backup-%d.db", time.Now().Unix())
	backupPath := filepath.Join(dir, name)
	if _, err := db.ExecContext(r.Context(), "VACUUM INTO ?", backupPath); err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("failed to create backup: %v", err))
		return
	}
	backupFile, err := os.Open(backupPath)
	if err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("failed to open backup file: %v", err))
		return
	}
	defer backupFile.Close()

	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%s.gz", name))
	w.Header().Set("Content-Type", "application/gzip")

	gz := gzip.NewWriter(w)
	defer gz.Close()
	if _, err := io.Copy(gz, backupFile); err != nil {
		// headers are already sent
		log.Printf("Failed to stream backup: %v", err)
	}
}

func parseLimit(r *http.Request) (int, error) {
	s := r.URL.Query().Get("limit")
	if s == "" {
		return defaultEventsLimit, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("limit must be a positive integer")
	}
	if n > maxEventsLimit {
		n = maxEventsLimit
	}
	return n, nil
}

func (db *DB) handleEvents(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	limit, err := parseLimit(r)
	if err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}
	events, err := db.Events(r.Context(), limit)
	if err != nil {
		httputil.InternalServerError(w, err.Error())
		return
	}
	total, err := db.CountEvents(r.Context())
	if err != nil {
		httputil.InternalServerError(w, err.Error())
		return
	}
	if events == nil {
		events = []EventRecord{}
	}
	httputil.WriteJSONOK(w, map[string]any{
		"total":  total,
		"events": events,
	})
}

func (db *DB) handleEventsChart(w http.ResponseWriter, r *http.Request) {
	limit, err := parseLimit(r)
	if err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}
	events, err := db.Events(r.Context(), limit)
	if err != nil {
		httputil.InternalServerError(w, err.Error())
		return
	}

	// oldest first along the x axis
	x := make([]string, 0, len(events))
	distance := make([]opts.LineData, 0, len(events))
	speed := make([]opts.LineData, 0, len(events))
	for i := len(events) - 1; i >= 0; i-- {
		e := events[i]
		x = append(x, e.Timestamp.Format("01-02 15:04:05"))
		distance = append(distance, lineValue(e.EstimatedDistanceM))
		speed = append(speed, lineValue(e.SpeedMPS))
	}

	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: "Motion events", Width: "100%", Height: "600px"}),
		charts.WithTitleOpts(opts.Title{Title: "Motion events", Subtitle: fmt.Sprintf("latest %d", len(events))}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true), Trigger: "axis"}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true)}),
		charts.WithYAxisOpts(opts.YAxis{Name: "m | m/s"}),
	)
	line.SetXAxis(x).
		AddSeries("estimated distance (m)", distance).
		AddSeries("speed (m/s)", speed).
		SetSeriesOptions(charts.WithLineChartOpts(opts.LineChart{ConnectNulls: opts.Bool(false)}))

	var buf bytes.Buffer
	if err := line.Render(&buf); err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("failed to render chart: %v", err))
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write(buf.Bytes())
}

func lineValue(v *float64) opts.LineData {
	if v == nil {
		return opts.LineData{Value: "-"}
	}
	return opts.LineData{Value: *v}
}

func serveEvidence(w http.ResponseWriter, r *http.Request, evidenceDir string) {
	p := r.URL.Query().Get("path")
	if p == "" {
		httputil.BadRequest(w, "missing path")
		return
	}
	if evidenceDir == "" {
		httputil.NotFound(w, "evidence directory not configured")
		return
	}
	p, err := security.ResolveWithinDirectory(evidenceDir, p)
	if err != nil {
		httputil.WriteJSONError(w, http.StatusForbidden, "path outside evidence directory")
		return
	}
	if _, err := os.Stat(p); err != nil {
		httputil.NotFound(w, "no such evidence file")
		return
	}
	http.ServeFile(w, r, p)
}
