// Package scheduler drives the per-surface scan loop: periodic rescans,
// the camera fast path, status refresh, page reloads and manual scans.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"coldwatch/internal/alerts"
	"coldwatch/internal/bus"
	"coldwatch/internal/document"
	"coldwatch/internal/logger"
	"coldwatch/internal/metrics"
	"coldwatch/internal/models"
	"coldwatch/internal/notify"
	"coldwatch/internal/state"
	"coldwatch/internal/storage"
)

// Scan triggers, used as metric labels
const (
	TriggerInitial = "initial"
	TriggerRescan  = "rescan"
	TriggerCamera  = "camera"
	TriggerManual  = "manual"
	TriggerMessage = "message"
	TriggerReload  = "reload"
	TriggerOnce    = "once"
)

// Default timings of a scanning surface
const (
	DefaultRescan       = time.Minute
	DefaultCameraRescan = 15 * time.Second
	DefaultRefresh      = time.Second
	DefaultReload       = 5 * time.Minute
)

var (
	ErrNotRunning = errors.New("session is not running")
	ErrIncomplete = errors.New("session is missing a dependency")
)

// Phase of the scan state machine
type Phase int

const (
	PhaseIdle Phase = iota
	PhaseScanning
	PhaseDelivered
	PhaseSuppressed
)

func (p Phase) String() string {
	switch p {
	case PhaseScanning:
		return "scanning"
	case PhaseDelivered:
		return "delivered"
	case PhaseSuppressed:
		return "suppressed"
	default:
		return "idle"
	}
}

// Config holds the timers of one scanning surface. Zero values pick the
// defaults; CameraRescan only runs when Camera is set.
type Config struct {
	Rescan       time.Duration
	CameraRescan time.Duration
	Refresh      time.Duration
	Reload       time.Duration
	Camera       bool
}

func (c *Config) applyDefaults() {
	if c.Rescan <= 0 {
		c.Rescan = DefaultRescan
	}
	if c.CameraRescan <= 0 {
		c.CameraRescan = DefaultCameraRescan
	}
	if c.Refresh <= 0 {
		c.Refresh = DefaultRefresh
	}
	if c.Reload <= 0 {
		c.Reload = DefaultReload
	}
}

// Options wires a Session. Clock, Archive and Bus are optional.
type Options struct {
	Name   string
	Kind   string
	Config Config

	Clock      clock.Clock
	Source     document.Source
	Aggregator *alerts.Aggregator
	Cooldown   *alerts.Cooldown
	State      *state.Persistence
	Dispatcher *notify.Dispatcher
	Archive    storage.Archive
	Bus        bus.Bus
}

// ScanOutcome is what a single scan produced
type ScanOutcome struct {
	Trigger string
	Outcome alerts.Outcome
	Result  *models.ScanResult
	Err     error
}

// Delivered reports whether the scan fired notifications
func (o ScanOutcome) Delivered() bool {
	return o.Err == nil && o.Outcome == alerts.OutcomeDelivered
}

// Status is the panel view of a session
type Status struct {
	Name        string         `json:"name"`
	Kind        string         `json:"kind"`
	ID          string         `json:"id"`
	Phase       string         `json:"phase"`
	Cooldown    string         `json:"cooldown"`
	LastAlertAt time.Time      `json:"last_alert_at,omitempty"`
	LastScanAt  time.Time      `json:"last_scan_at,omitempty"`
	LastOutcome string         `json:"last_outcome,omitempty"`
	LastCounts  map[string]int `json:"last_counts,omitempty"`
	Scans       uint64         `json:"scans"`
	Reloads     uint64         `json:"reloads"`
	Running     bool           `json:"running"`
}

type scanRequest struct {
	reply chan ScanOutcome
}

// Session is one scanning surface. Scans never overlap within a session.
type Session struct {
	name string
	kind string
	id   string
	cfg  Config

	clock      clock.Clock
	source     document.Source
	agg        *alerts.Aggregator
	cooldown   *alerts.Cooldown
	state      *state.Persistence
	dispatcher *notify.Dispatcher
	archive    storage.Archive
	bus        bus.Bus
	log        zerolog.Logger

	manual    chan scanRequest
	ready     chan struct{}
	readyOnce sync.Once

	scanMu sync.Mutex

	mu      sync.RWMutex
	status  Status
	running bool
}

// NewSession validates the options and builds an idle session
func NewSession(opts Options) (*Session, error) {
	if opts.Source == nil || opts.Aggregator == nil || opts.Cooldown == nil || opts.State == nil {
		return nil, fmt.Errorf("%w: source, aggregator, cooldown and state are required", ErrIncomplete)
	}
	if opts.Name == "" {
		return nil, fmt.Errorf("%w: name is required", ErrIncomplete)
	}
	if opts.Clock == nil {
		opts.Clock = clock.New()
	}
	if opts.Archive == nil {
		opts.Archive = storage.NopArchive{}
	}
	opts.Config.applyDefaults()

	id := uuid.NewString()
	s := &Session{
		name:       opts.Name,
		kind:       opts.Kind,
		id:         id,
		cfg:        opts.Config,
		clock:      opts.Clock,
		source:     opts.Source,
		agg:        opts.Aggregator,
		cooldown:   opts.Cooldown,
		state:      opts.State,
		dispatcher: opts.Dispatcher,
		archive:    opts.Archive,
		bus:        opts.Bus,
		log:        logger.WithSurface(opts.Kind, opts.Name, id),
		manual:     make(chan scanRequest, 1),
		ready:      make(chan struct{}),
	}
	s.status = Status{Name: s.name, Kind: s.kind, ID: id, Phase: PhaseIdle.String()}
	return s, nil
}

func (s *Session) Name() string { return s.name }
func (s *Session) Kind() string { return s.kind }
func (s *Session) ID() string   { return s.id }

// Ready is closed once the timers exist and the initial scan finished
func (s *Session) Ready() <-chan struct{} {
	return s.ready
}

// Status returns a snapshot of the session
func (s *Session) Status() Status {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st := s.status
	st.Running = s.running
	if st.LastCounts != nil {
		counts := make(map[string]int, len(st.LastCounts))
		for k, v := range st.LastCounts {
			counts[k] = v
		}
		st.LastCounts = counts
	}
	return st
}

type timers struct {
	rescan  *clock.Ticker
	camera  *clock.Ticker
	refresh *clock.Ticker
	reload  *clock.Ticker
}

func (s *Session) newTimers() *timers {
	t := &timers{
		rescan:  s.clock.Ticker(s.cfg.Rescan),
		refresh: s.clock.Ticker(s.cfg.Refresh),
		reload:  s.clock.Ticker(s.cfg.Reload),
	}
	if s.cfg.Camera {
		t.camera = s.clock.Ticker(s.cfg.CameraRescan)
	}
	return t
}

func (t *timers) stop() {
	t.rescan.Stop()
	t.refresh.Stop()
	t.reload.Stop()
	if t.camera != nil {
		t.camera.Stop()
	}
}

func (t *timers) cameraC() <-chan time.Time {
	if t.camera == nil {
		return nil
	}
	return t.camera.C
}

// Run blocks until ctx is cancelled. It performs a non-bypassed scan right
// away and then reacts to its timers, manual requests and scanAlertsNow
// messages on the bus.
func (s *Session) Run(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return errors.New("session already running")
	}
	s.running = true
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
	}()

	var msgs <-chan models.Message
	if s.bus != nil {
		sub, err := s.bus.Subscribe(s.name)
		if err != nil {
			return fmt.Errorf("subscribe %s: %w", s.name, err)
		}
		defer sub.Close()
		msgs = sub.C
	}

	s.log.Info().
		Dur("rescan", s.cfg.Rescan).
		Dur("reload", s.cfg.Reload).
		Bool("camera", s.cfg.Camera).
		Msg("session starting")

	t := s.newTimers()
	defer func() { t.stop() }()

	s.scan(ctx, TriggerInitial, false, nil)
	s.refreshStatus(ctx)
	s.readyOnce.Do(func() { close(s.ready) })

	for {
		select {
		case <-ctx.Done():
			s.log.Info().Msg("session stopping")
			return nil

		case <-t.rescan.C:
			s.scan(ctx, TriggerRescan, false, nil)

		case <-t.cameraC():
			s.cameraRescan(ctx)

		case <-t.refresh.C:
			s.refreshStatus(ctx)

		case <-t.reload.C:
			t.stop()
			t = s.reload(ctx)

		case req := <-s.manual:
			req.reply <- s.scan(ctx, TriggerManual, true, nil)

		case msg, ok := <-msgs:
			if !ok {
				s.log.Warn().Msg("bus subscription closed")
				msgs = nil
				continue
			}
			if msg.Action == models.ActionScanAlertsNow {
				s.scan(ctx, TriggerMessage, true, nil)
			}
		}
	}
}

// TriggerScan asks the running loop for a bypassed scan and waits for it
func (s *Session) TriggerScan(ctx context.Context) (ScanOutcome, error) {
	s.mu.RLock()
	running := s.running
	s.mu.RUnlock()
	if !running {
		return ScanOutcome{}, ErrNotRunning
	}

	req := scanRequest{reply: make(chan ScanOutcome, 1)}
	select {
	case s.manual <- req:
	case <-ctx.Done():
		return ScanOutcome{}, ctx.Err()
	}
	select {
	case out := <-req.reply:
		return out, out.Err
	case <-ctx.Done():
		return ScanOutcome{}, ctx.Err()
	}
}

// ScanOnce runs a single scan outside the loop
func (s *Session) ScanOnce(ctx context.Context, bypass bool) ScanOutcome {
	return s.scan(ctx, TriggerOnce, bypass, nil)
}

// reload drops transient state and starts over as if the page had just
// been opened: fresh timers and a non-bypassed scan.
func (s *Session) reload(ctx context.Context) *timers {
	s.log.Info().Msg("reloading surface")

	s.mu.Lock()
	s.status.LastOutcome = ""
	s.status.LastCounts = nil
	s.status.Phase = PhaseIdle.String()
	s.status.Reloads++
	s.mu.Unlock()

	t := s.newTimers()
	s.scan(ctx, TriggerReload, false, nil)
	s.refreshStatus(ctx)
	return t
}

// cameraRescan checks only the camera table. When the set of recent
// disconnects changed, it runs a bypassed full scan on the same document
// and reuses the computed diff.
func (s *Session) cameraRescan(ctx context.Context) {
	s.scanMu.Lock()
	doc, err := s.source.Load(ctx)
	if err != nil {
		s.scanMu.Unlock()
		metrics.ScansTotal.WithLabelValues(s.name, TriggerCamera+"_error").Inc()
		s.log.Warn().Err(err).Msg("camera rescan could not load the page")
		return
	}

	cams := s.agg.CameraAlerts(doc)
	diff := alerts.DiffCameras(s.state.CameraSnapshot(ctx), cams)
	if !diff.Changed() {
		s.scanMu.Unlock()
		return
	}
	if len(cams) == 0 {
		// everything recovered: only the snapshot moves
		s.state.SetCameraSnapshot(ctx, nil)
		s.scanMu.Unlock()
		s.log.Info().Strs("resolved", diff.Resolved).Msg("camera disconnects resolved")
		return
	}
	s.scanMu.Unlock()

	s.log.Info().Strs("new", diff.New).Msg("camera disconnects changed")
	s.scan(ctx, TriggerCamera, true, &preloaded{doc: doc, diff: diff})
}

type preloaded struct {
	doc  document.Document
	diff alerts.CameraDiff
}

func (s *Session) scan(ctx context.Context, trigger string, bypass bool, pre *preloaded) (out ScanOutcome) {
	s.scanMu.Lock()
	defer s.scanMu.Unlock()

	out.Trigger = trigger
	start := s.clock.Now()
	s.setPhase(PhaseScanning)

	defer func() {
		if r := recover(); r != nil {
			metrics.PanicsRecovered.WithLabelValues("scheduler").Inc()
			s.log.Error().
				Interface("panic", r).
				Str("stack", string(debug.Stack())).
				Msg("scan panicked")
			out.Err = fmt.Errorf("scan panicked: %v", r)
		}
		s.finish(out, start)
	}()

	var (
		doc  document.Document
		diff alerts.CameraDiff
		det  alerts.Detection
	)
	if pre != nil {
		doc = pre.doc
		det = s.agg.Detect(doc, start)
		diff = pre.diff
	} else {
		var err error
		doc, err = s.source.Load(ctx)
		if err != nil {
			out.Err = fmt.Errorf("load %s: %w", s.name, err)
			return out
		}
		det = s.agg.Detect(doc, start)
		if s.cfg.Camera {
			diff = alerts.DiffCameras(s.state.CameraSnapshot(ctx), det.Cameras)
		} else {
			diff = alerts.DiffCameras(nil, det.Cameras)
		}
	}
	metrics.ScanRecords.Set(float64(det.Records))

	result := alerts.Assemble(det, diff)
	out.Result = result

	out.Outcome = s.cooldown.Attempt(ctx, result, start, bypass)
	if out.Outcome == alerts.OutcomeCooldown {
		// the snapshot only advances once the cameras were reported
		return out
	}
	if s.cfg.Camera {
		s.state.SetCameraSnapshot(ctx, diff.Current)
	}
	if out.Outcome != alerts.OutcomeDelivered {
		return out
	}

	if s.dispatcher != nil {
		s.dispatcher.Dispatch(ctx, result)
	}
	s.archiveReport(ctx, result)
	return out
}

func (s *Session) archiveReport(ctx context.Context, result *models.ScanResult) {
	report := storage.Report{
		ScannedAt: result.ScannedAt,
		Surface:   s.name,
		Text:      alerts.RenderReport(result),
		Counts:    result.Counts(),
	}
	if err := s.archive.Record(ctx, report); err != nil {
		s.log.Warn().Err(err).Msg("failed to archive report")
	}
}

func (s *Session) setPhase(p Phase) {
	s.mu.Lock()
	s.status.Phase = p.String()
	s.mu.Unlock()
}

func (s *Session) finish(out ScanOutcome, start time.Time) {
	elapsed := s.clock.Since(start)
	metrics.ScanDuration.WithLabelValues(s.name).Observe(elapsed.Seconds())

	trigger := out.Trigger
	if out.Err != nil {
		trigger += "_error"
	}
	metrics.ScansTotal.WithLabelValues(s.name, trigger).Inc()

	phase := PhaseSuppressed
	if out.Delivered() {
		phase = PhaseDelivered
	}

	s.mu.Lock()
	s.status.Scans++
	s.status.LastScanAt = start
	if out.Err == nil {
		s.status.LastOutcome = string(out.Outcome)
		if out.Result != nil {
			s.status.LastCounts = out.Result.Counts()
		}
	} else {
		s.status.LastOutcome = "error"
	}
	// delivered and suppressed are momentary; the loop rests in idle
	s.status.Phase = PhaseIdle.String()
	s.mu.Unlock()

	ev := s.log.Info()
	if out.Err != nil {
		ev = s.log.Warn().Err(out.Err)
	}
	ev.Str("trigger", out.Trigger).
		Str("outcome", string(out.Outcome)).
		Str("phase", phase.String()).
		Dur("took", elapsed).
		Msg("scan finished")
}

// refreshStatus recomputes the cooldown countdown and last alert time
func (s *Session) refreshStatus(ctx context.Context) {
	now := s.clock.Now()
	remaining := alerts.FormatRemaining(s.cooldown.Remaining(ctx, now))

	var last time.Time
	if ts := s.state.LastAlertTimestamp(ctx); ts > 0 {
		last = time.UnixMilli(ts)
	}

	s.mu.Lock()
	s.status.Cooldown = remaining
	s.status.LastAlertAt = last
	s.mu.Unlock()
}
