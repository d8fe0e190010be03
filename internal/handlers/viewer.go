package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"coldwatch/internal/alerts"
	"coldwatch/internal/middleware"
	"coldwatch/internal/notify"
	"coldwatch/internal/scheduler"
	"coldwatch/internal/state"
)

// Scanner is a surface that can be asked for a bypassed scan
type Scanner interface {
	Name() string
	TriggerScan(ctx context.Context) (scheduler.ScanOutcome, error)
}

// ViewerHandler serves the read-only report view and the few actions a
// viewer may take
type ViewerHandler struct {
	state    *state.Persistence
	cooldown *alerts.Cooldown
	banner   *notify.Banner
	scanners map[string]Scanner
	order    []string

	maxBodySize int64
	scanTimeout time.Duration
	now         func() time.Time
}

// ViewerConfig holds configuration for the viewer handler
type ViewerConfig struct {
	State    *state.Persistence
	Cooldown *alerts.Cooldown
	Banner   *notify.Banner
	Scanners []Scanner

	MaxBodySize int64
	ScanTimeout time.Duration
	Now         func() time.Time
}

// NewViewerHandler creates a new viewer handler
func NewViewerHandler(cfg ViewerConfig) *ViewerHandler {
	maxBodySize := cfg.MaxBodySize
	if maxBodySize == 0 {
		maxBodySize = 64 * 1024
	}
	scanTimeout := cfg.ScanTimeout
	if scanTimeout == 0 {
		scanTimeout = 30 * time.Second
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}

	h := &ViewerHandler{
		state:       cfg.State,
		cooldown:    cfg.Cooldown,
		banner:      cfg.Banner,
		scanners:    make(map[string]Scanner, len(cfg.Scanners)),
		maxBodySize: maxBodySize,
		scanTimeout: scanTimeout,
		now:         now,
	}
	for _, s := range cfg.Scanners {
		h.scanners[s.Name()] = s
		h.order = append(h.order, s.Name())
	}
	return h
}

// Register mounts the viewer routes on mux
func (h *ViewerHandler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /report", h.Report)
	mux.HandleFunc("POST /scan", h.Scan)
	mux.HandleFunc("GET /preferences", h.GetPreferences)
	mux.HandleFunc("PUT /preferences", h.PutPreferences)
	mux.HandleFunc("POST /banner/dismiss", h.DismissBanner)
}

// ReportResponse is the body of GET /report
type ReportResponse struct {
	Report      string     `json:"report"`
	LastAlertAt *time.Time `json:"last_alert_at,omitempty"`
	Cooldown    string     `json:"cooldown,omitempty"`
	Banner      string     `json:"banner,omitempty"`
}

// Report returns the persisted report. ?format=text returns it raw.
func (h *ViewerHandler) Report(w http.ResponseWriter, r *http.Request) {
	st := h.state.AlertState(r.Context())

	if r.URL.Query().Get("format") == "text" {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		io.WriteString(w, st.ReportText)
		return
	}

	resp := ReportResponse{Report: st.ReportText}
	if st.LastAlertTimestampMs > 0 {
		at := time.UnixMilli(st.LastAlertTimestampMs).UTC()
		resp.LastAlertAt = &at
	}
	if h.cooldown != nil {
		resp.Cooldown = alerts.FormatRemaining(h.cooldown.Remaining(r.Context(), h.now()))
	}
	if h.banner != nil {
		if msg, ok := h.banner.Current(); ok {
			resp.Banner = msg
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

// ScanResponse is the body of POST /scan
type ScanResponse struct {
	Surface string         `json:"surface"`
	Outcome string         `json:"outcome"`
	Counts  map[string]int `json:"counts,omitempty"`
}

// Scan forces a bypassed scan on ?surface=name, or on the first scanning
// surface when none is named
func (h *ViewerHandler) Scan(w http.ResponseWriter, r *http.Request) {
	name := r.URL.Query().Get("surface")
	if name == "" && len(h.order) > 0 {
		name = h.order[0]
	}
	s, ok := h.scanners[name]
	if !ok {
		h.writeError(w, http.StatusNotFound, "unknown surface")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), h.scanTimeout)
	defer cancel()

	out, err := s.TriggerScan(ctx)
	switch {
	case errors.Is(err, scheduler.ErrNotRunning):
		h.writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	case errors.Is(err, context.DeadlineExceeded):
		h.writeError(w, http.StatusGatewayTimeout, "scan did not finish in time")
		return
	case err != nil:
		log := middleware.Log(r.Context())
		log.Warn().Err(err).Str("surface", name).Msg("manual scan failed")
		h.writeError(w, http.StatusBadGateway, err.Error())
		return
	}

	resp := ScanResponse{Surface: name, Outcome: string(out.Outcome)}
	if out.Result != nil {
		resp.Counts = out.Result.Counts()
	}
	writeJSON(w, http.StatusOK, resp)
}

// Surfaces lists the scanning surfaces in registration order
func (h *ViewerHandler) Surfaces() []string {
	return append([]string(nil), h.order...)
}

func (h *ViewerHandler) GetPreferences(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.state.Preferences(r.Context()))
}

// PutPreferences merges the body over the stored preferences
func (h *ViewerHandler) PutPreferences(w http.ResponseWriter, r *http.Request) {
	contentType := r.Header.Get("Content-Type")
	if contentType != "application/json" && contentType != "" {
		h.writeError(w, http.StatusUnsupportedMediaType, "content-type must be application/json")
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, h.maxBodySize)
	body, err := io.ReadAll(r.Body)
	if err != nil {
		h.writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
		return
	}

	prefs := h.state.Preferences(r.Context())
	if err := json.Unmarshal(body, &prefs); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}
	h.state.SetPreferences(r.Context(), prefs)

	writeJSON(w, http.StatusOK, h.state.Preferences(r.Context()))
}

func (h *ViewerHandler) DismissBanner(w http.ResponseWriter, r *http.Request) {
	if h.banner != nil {
		h.banner.Dismiss()
	}
	w.WriteHeader(http.StatusNoContent)
}

// writeError writes an error response
func (h *ViewerHandler) writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]interface{}{
		"success": false,
		"error":   message,
	})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
