package pipeline

import (
	"fmt"
	"net/http"
	"sync"
	"time"

	"tailscale.com/tsweb"

	"github.com/banshee-data/motion.report/internal/httputil"
)

// Stats is a point-in-time view of the control loop counters.
type Stats struct {
	SessionID    string       `json:"session_id"`
	Capabilities Capabilities `json:"capabilities"`
	StartedAt    time.Time    `json:"started_at"`

	Ticks           int64 `json:"ticks"`
	SkippedTicks    int64 `json:"skipped_ticks"`
	SlippedTicks    int64 `json:"slipped_ticks"`
	Windows         int64 `json:"windows"`
	Triggers        int64 `json:"triggers"`
	DroppedEvents   int64 `json:"dropped_events"`
	DegradedEvents  int64 `json:"degraded_events"`
	StorageErrors   int64 `json:"storage_errors"`
	PersistedEvents int64 `json:"persisted_events"`

	LastEventID          int64     `json:"last_event_id,omitempty"`
	LastEventAt          time.Time `json:"last_event_at,omitempty"`
	LastValue            float64   `json:"last_value"`
	LastSampleAt         time.Time `json:"last_sample_at,omitempty"`
	TriggerState         string    `json:"trigger_state"`
	AccumulatedDistanceM float64   `json:"accumulated_distance_m"`
}

func (s Stats) String() string {
	return fmt.Sprintf("ticks=%d skipped=%d slipped=%d windows=%d triggers=%d persisted=%d dropped=%d degraded=%d storage_errors=%d",
		s.Ticks, s.SkippedTicks, s.SlippedTicks, s.Windows, s.Triggers,
		s.PersistedEvents, s.DroppedEvents, s.DegradedEvents, s.StorageErrors)
}

// statsRecorder guards Stats so the admin goroutine can read while the loop
// writes.
type statsRecorder struct {
	mu sync.RWMutex
	s  Stats
}

func (r *statsRecorder) init(sessionID string, caps Capabilities) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.s = Stats{SessionID: sessionID, Capabilities: caps, TriggerState: "idle"}
}

func (r *statsRecorder) started(t time.Time) {
	r.update(func(s *Stats) { s.StartedAt = t })
}

func (r *statsRecorder) update(f func(*Stats)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	f(&r.s)
}

func (r *statsRecorder) snapshot() Stats {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.s
}

// Stats returns a copy of the loop counters. Safe for concurrent use.
func (p *Pipeline) Stats() Stats {
	return p.stats.snapshot()
}

// AttachAdminRoutes exposes the loop counters at /debug/pipeline.
func (p *Pipeline) AttachAdminRoutes(mux *http.ServeMux) {
	debug := tsweb.Debugger(mux)
	debug.Handle("pipeline", "Control loop statistics", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			httputil.MethodNotAllowed(w)
			return
		}
		httputil.WriteJSONOK(w, p.Stats())
	}))
}
