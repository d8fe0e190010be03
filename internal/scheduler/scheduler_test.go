package scheduler

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/benbjohnson/clock"

	"coldwatch/internal/alerts"
	"coldwatch/internal/bus"
	"coldwatch/internal/camera"
	"coldwatch/internal/document"
	"coldwatch/internal/models"
	"coldwatch/internal/notify"
	"coldwatch/internal/state"
	"coldwatch/internal/storage"
)

var scanTime = time.Date(2024, 1, 5, 11, 0, 0, 0, time.UTC)

func card(label, body string) string {
	return `<div class="row"><div class="col-lg-4 col-md-4 col-sm-5 col-xs-5 text-left"><span>` +
		label + `</span></div><div class="col-lg-8">` + body + `</div></div>`
}

var dashboard = `<body>` +
	card("Store 1 - Fridge A", "Lost Connection") +
	card("Store 2 - Fridge B", "Last reading: 10:15 Jan 5 2024 4.0 °C") +
	card("Store 3 - Freezer", "Current 7.2 °C") +
	`</body>`

var quietDashboard = `<body>` + card("Store 1 - Fridge A", "Current 4.0 °C") + `</body>`

func cameraRow(code, minutes string) string {
	cells := []string{"1", "HCM", code, "Shop", "ch1", "Disconnected", "false", "false", "x", "y", minutes}
	return `<tr><td>` + strings.Join(cells, "</td><td>") + `</td></tr>`
}

func cameraPage(rows ...string) string {
	return `<table>` + strings.Join(rows, "") + `</table>`
}

type countingPlayer struct{ plays atomic.Int32 }

func (p *countingPlayer) Play(ctx context.Context, bursts []notify.Burst) error {
	p.plays.Add(1)
	return nil
}

type memoryArchive struct {
	mu      sync.Mutex
	reports []storage.Report
}

func (a *memoryArchive) Record(ctx context.Context, r storage.Report) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.reports = append(a.reports, r)
	return nil
}

func (a *memoryArchive) Close() error { return nil }

func (a *memoryArchive) count() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.reports)
}

type failingSource struct{}

func (failingSource) Load(ctx context.Context) (document.Document, error) {
	return nil, errors.New("dashboard unreachable")
}

type harness struct {
	clk     *clock.Mock
	src     *document.StaticSource
	state   *state.Persistence
	bus     *bus.MemoryBus
	player  *countingPlayer
	archive *memoryArchive
	banner  *notify.Banner
	session *Session
}

func newHarness(t *testing.T, html string, cfg Config) *harness {
	t.Helper()

	clk := clock.NewMock()
	clk.Set(scanTime)

	h := &harness{
		clk:     clk,
		src:     document.NewStaticSource("https://dashboard.test/", html),
		state:   state.NewPersistence(state.NewMemoryStore(), ""),
		bus:     bus.NewMemoryBus(16),
		player:  &countingPlayer{},
		archive: &memoryArchive{},
		banner:  notify.NewBanner(clk),
	}
	t.Cleanup(func() { h.bus.Close() })

	aggCfg := alerts.DefaultConfig()
	aggCfg.Location = time.UTC
	var scanner *camera.Scanner
	kind := "main"
	if cfg.Camera {
		scanner = camera.NewScanner(camera.DefaultColumns(), 20)
		kind = "camera"
	}

	dispatcher := notify.NewDispatcher(
		notify.Config{Tone: notify.DefaultTone()}, h.state, h.player, h.banner, h.bus)

	s, err := NewSession(Options{
		Name:       "dashboard",
		Kind:       kind,
		Config:     cfg,
		Clock:      clk,
		Source:     h.src,
		Aggregator: alerts.NewAggregator(aggCfg, scanner),
		Cooldown:   alerts.NewCooldown(alerts.DefaultCooldown, h.state),
		State:      h.state,
		Dispatcher: dispatcher,
		Archive:    h.archive,
		Bus:        h.bus,
	})
	if err != nil {
		t.Fatalf("NewSession: %v", err)
	}
	h.session = s
	return h
}

// start runs the session until the test ends and waits for its first scan
func (h *harness) start(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := h.session.Run(ctx); err != nil {
			t.Errorf("Run: %v", err)
		}
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	select {
	case <-h.session.Ready():
	case <-time.After(2 * time.Second):
		t.Fatal("session never became ready")
	}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestScanOnceDeliversAllCategories(t *testing.T) {
	h := newHarness(t, dashboard, Config{})
	ctx := context.Background()

	sub, err := h.bus.Subscribe("observer")
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer sub.Close()

	out := h.session.ScanOnce(ctx, true)
	if out.Err != nil || !out.Delivered() {
		t.Fatalf("expected delivery, got %+v", out)
	}

	counts := out.Result.Counts()
	for _, c := range []string{models.CategoryLost, models.CategoryStale, models.CategoryTemperature} {
		if counts[c] != 1 {
			t.Errorf("%s count = %d, want 1", c, counts[c])
		}
	}

	report := h.state.Report(ctx)
	for _, want := range []string{
		"LOST CONNECTION",
		" Store 1:Fridge A",
		"STALE READINGS",
		"45min",
		"TEMPERATURE",
		"Store 3: Freezer",
		"7.2°C",
	} {
		if !strings.Contains(report, want) {
			t.Errorf("report is missing %q:\n%s", want, report)
		}
	}
	if got := h.state.LastAlertTimestamp(ctx); got != scanTime.UnixMilli() {
		t.Errorf("last alert ts = %d, want %d", got, scanTime.UnixMilli())
	}

	if msg, ok := h.banner.Current(); !ok || !strings.HasPrefix(msg, "NEW ALERTS!") {
		t.Errorf("banner = %q, %v", msg, ok)
	}
	select {
	case msg := <-sub.C:
		if msg.Action != models.ActionUpdateLogs {
			t.Errorf("unexpected bus message %+v", msg)
		}
	case <-time.After(time.Second):
		t.Error("expected updateLogs on the bus")
	}
	waitFor(t, "tone playback", func() bool { return h.player.plays.Load() == 1 })
	if h.archive.count() != 1 {
		t.Errorf("expected 1 archived report, got %d", h.archive.count())
	}
}

func TestCooldownSuppressesUntilBypassed(t *testing.T) {
	h := newHarness(t, dashboard, Config{})
	ctx := context.Background()

	if out := h.session.ScanOnce(ctx, false); !out.Delivered() {
		t.Fatalf("first scan: %+v", out)
	}
	first := h.state.Report(ctx)

	h.clk.Add(time.Minute)
	out := h.session.ScanOnce(ctx, false)
	if out.Outcome != alerts.OutcomeCooldown {
		t.Fatalf("expected cooldown, got %q", out.Outcome)
	}
	if h.state.Report(ctx) != first {
		t.Error("a suppressed scan must not touch the report")
	}
	if got := h.state.LastAlertTimestamp(ctx); got != scanTime.UnixMilli() {
		t.Errorf("suppressed scan moved the timestamp to %d", got)
	}

	out = h.session.ScanOnce(ctx, true)
	if !out.Delivered() {
		t.Fatalf("bypassed scan should deliver, got %q", out.Outcome)
	}
	if got := h.state.LastAlertTimestamp(ctx); got != scanTime.Add(time.Minute).UnixMilli() {
		t.Errorf("last alert ts = %d", got)
	}
	if h.archive.count() != 2 {
		t.Errorf("expected 2 archived reports, got %d", h.archive.count())
	}
}

func TestEmptyScanClearsReport(t *testing.T) {
	h := newHarness(t, dashboard, Config{})
	ctx := context.Background()

	h.session.ScanOnce(ctx, true)
	h.src.Set(quietDashboard)
	h.clk.Add(6 * time.Minute)

	out := h.session.ScanOnce(ctx, false)
	if out.Outcome != alerts.OutcomeEmpty {
		t.Fatalf("expected empty outcome, got %q", out.Outcome)
	}
	if got := h.state.Report(ctx); got != "" {
		t.Errorf("expected the report to be cleared, got %q", got)
	}
}

func TestLoadFailureIsReported(t *testing.T) {
	p := state.NewPersistence(state.NewMemoryStore(), "")
	s, err := NewSession(Options{
		Name:       "broken",
		Kind:       "main",
		Clock:      clock.NewMock(),
		Source:     failingSource{},
		Aggregator: alerts.NewAggregator(alerts.DefaultConfig(), nil),
		Cooldown:   alerts.NewCooldown(0, p),
		State:      p,
	})
	if err != nil {
		t.Fatalf("NewSession: %v", err)
	}

	out := s.ScanOnce(context.Background(), true)
	if out.Err == nil {
		t.Fatal("expected a load error")
	}
	st := s.Status()
	if st.LastOutcome != "error" || st.Scans != 1 || st.Phase != PhaseIdle.String() {
		t.Errorf("unexpected status %+v", st)
	}
}

func TestNewSessionRequiresDependencies(t *testing.T) {
	if _, err := NewSession(Options{Name: "x"}); !errors.Is(err, ErrIncomplete) {
		t.Errorf("expected ErrIncomplete, got %v", err)
	}
}

func TestRunScansOnStartAndOnTicker(t *testing.T) {
	h := newHarness(t, dashboard, Config{Rescan: time.Minute, Reload: time.Hour})
	h.start(t)

	st := h.session.Status()
	if st.Scans != 1 || st.LastOutcome != string(alerts.OutcomeDelivered) || !st.Running {
		t.Fatalf("after start: %+v", st)
	}

	h.clk.Add(time.Minute)
	waitFor(t, "rescan", func() bool { return h.session.Status().Scans == 2 })
	if got := h.session.Status().LastOutcome; got != string(alerts.OutcomeCooldown) {
		t.Errorf("rescan inside the cooldown should be suppressed, got %q", got)
	}
}

func TestRefreshUpdatesCooldownStatus(t *testing.T) {
	h := newHarness(t, dashboard, Config{Refresh: time.Second, Rescan: time.Hour, Reload: time.Hour})
	h.start(t)

	h.clk.Add(90 * time.Second)
	waitFor(t, "status refresh", func() bool {
		return h.session.Status().Cooldown == "3m 30s"
	})
	if !h.session.Status().LastAlertAt.Equal(scanTime) {
		t.Errorf("last alert at = %v", h.session.Status().LastAlertAt)
	}

	h.clk.Add(4 * time.Minute)
	waitFor(t, "cooldown over", func() bool {
		return h.session.Status().Cooldown == "cooldown over"
	})
}

func TestTriggerScanBypassesCooldown(t *testing.T) {
	h := newHarness(t, dashboard, Config{Rescan: time.Hour, Reload: time.Hour})
	h.start(t)

	h.clk.Add(10 * time.Second)
	out, err := h.session.TriggerScan(context.Background())
	if err != nil {
		t.Fatalf("TriggerScan: %v", err)
	}
	if out.Trigger != TriggerManual || !out.Delivered() {
		t.Errorf("unexpected outcome %+v", out)
	}
}

func TestTriggerScanNeedsRunningSession(t *testing.T) {
	h := newHarness(t, dashboard, Config{})
	if _, err := h.session.TriggerScan(context.Background()); !errors.Is(err, ErrNotRunning) {
		t.Errorf("expected ErrNotRunning, got %v", err)
	}
}

func TestScanAlertsNowMessage(t *testing.T) {
	h := newHarness(t, dashboard, Config{Rescan: time.Hour, Reload: time.Hour})
	h.start(t)

	if err := h.bus.Publish(context.Background(), models.ScanNow()); err != nil {
		t.Fatalf("publish: %v", err)
	}
	waitFor(t, "message scan", func() bool {
		st := h.session.Status()
		return st.Scans == 2 && st.LastOutcome == string(alerts.OutcomeDelivered)
	})
}

func TestReloadStartsOver(t *testing.T) {
	h := newHarness(t, dashboard, Config{Rescan: time.Hour, Reload: 5 * time.Minute})
	h.start(t)

	h.clk.Add(5 * time.Minute)
	waitFor(t, "reload", func() bool {
		st := h.session.Status()
		return st.Reloads == 1 && st.Scans == 2
	})
	// the reload scan is not bypassed; the cooldown has just run out
	if got := h.session.Status().LastOutcome; got != string(alerts.OutcomeDelivered) {
		t.Errorf("reload scan outcome = %q", got)
	}
}

func TestCameraRescanReusesDiff(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, cameraPage(cameraRow("CAM-01", "4 m")), Config{
		Camera:       true,
		CameraRescan: 15 * time.Second,
		Rescan:       time.Hour,
		Reload:       time.Hour,
	})
	h.start(t)

	if got := h.state.CameraSnapshot(ctx); len(got) != 1 || got[0] != "CAM-01 — CH1" {
		t.Fatalf("snapshot after start = %v", got)
	}

	h.src.Set(cameraPage(cameraRow("CAM-01", "5 m"), cameraRow("CAM-02", "1 m")))
	h.clk.Add(15 * time.Second)
	waitFor(t, "camera scan", func() bool { return h.session.Status().Scans == 2 })

	st := h.session.Status()
	if st.LastOutcome != string(alerts.OutcomeDelivered) || st.LastCounts[models.CategoryCamera] != 2 {
		t.Fatalf("camera scan status = %+v", st)
	}
	if report := h.state.Report(ctx); !strings.Contains(report, "CAM-02 — CH1") {
		t.Errorf("report lacks the new camera:\n%s", report)
	}

	h.src.Set(cameraPage(cameraRow("CAM-01", "25 m")))
	h.clk.Add(15 * time.Second)
	waitFor(t, "snapshot cleared", func() bool { return h.state.CameraSnapshot(ctx) == nil })
	if got := h.session.Status().Scans; got != 2 {
		t.Errorf("resolved cameras should not trigger a scan, scans = %d", got)
	}
}

func TestSuppressedScanKeepsCameraSnapshot(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, cameraPage(cameraRow("CAM-01", "4 m")), Config{Camera: true})

	if out := h.session.ScanOnce(ctx, false); !out.Delivered() {
		t.Fatalf("first scan: %+v", out)
	}

	h.src.Set(cameraPage(cameraRow("CAM-01", "5 m"), cameraRow("CAM-02", "1 m")))
	h.clk.Add(time.Minute)
	if out := h.session.ScanOnce(ctx, false); out.Outcome != alerts.OutcomeCooldown {
		t.Fatalf("expected cooldown, got %+v", out)
	}
	if got := h.state.CameraSnapshot(ctx); len(got) != 1 || got[0] != "CAM-01 — CH1" {
		t.Fatalf("suppressed scan moved the snapshot to %v", got)
	}

	// the camera tick still sees CAM-02 as new and reports it
	h.clk.Add(15 * time.Second)
	h.session.cameraRescan(ctx)

	if got := h.session.Status().Scans; got != 3 {
		t.Fatalf("scans = %d, want 3", got)
	}
	if report := h.state.Report(ctx); !strings.Contains(report, "CAM-02 — CH1") {
		t.Errorf("report lacks the new camera:\n%s", report)
	}
	if got := h.state.CameraSnapshot(ctx); len(got) != 2 {
		t.Errorf("snapshot = %v", got)
	}
}

func TestNewViewerNeedsScanPath(t *testing.T) {
	p := state.NewPersistence(state.NewMemoryStore(), "")
	if _, err := NewViewer(ViewerOptions{Name: "tab", State: p}); !errors.Is(err, ErrNoTarget) {
		t.Errorf("expected ErrNoTarget, got %v", err)
	}
}

func TestViewerFollowsReportOnRefresh(t *testing.T) {
	clk := clock.NewMock()
	p := state.NewPersistence(state.NewMemoryStore(), "")
	b := bus.NewMemoryBus(4)
	defer b.Close()

	v, err := NewViewer(ViewerOptions{Name: "tab", Refresh: 3 * time.Second, Clock: clk, State: p, Bus: b})
	if err != nil {
		t.Fatalf("NewViewer: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go v.Run(ctx)
	waitFor(t, "initial sync", func() bool { _, at := v.Report(); return !at.IsZero() })

	p.SetReport(ctx, "Alerts (now)")
	clk.Add(3 * time.Second)
	waitFor(t, "refresh", func() bool { r, _ := v.Report(); return r == "Alerts (now)" })
}

func TestTabViewerRequestsScanOverBus(t *testing.T) {
	h := newHarness(t, dashboard, Config{Rescan: time.Hour, Reload: time.Hour})
	h.start(t)
	h.state.ClearReport(context.Background())

	v, err := NewViewer(ViewerOptions{Name: "tab", Clock: h.clk, State: h.state, Bus: h.bus})
	if err != nil {
		t.Fatalf("NewViewer: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go v.Run(ctx)
	waitFor(t, "initial sync", func() bool { _, at := v.Report(); return !at.IsZero() })

	if err := v.RequestScan(ctx); err != nil {
		t.Fatalf("RequestScan: %v", err)
	}
	if v.Notice() != NoticeRequested {
		t.Errorf("notice = %q", v.Notice())
	}
	waitFor(t, "bus scan", func() bool { return h.session.Status().Scans == 2 })

	h.clk.Add(DefaultViewerResync)
	waitFor(t, "resync", func() bool {
		r, _ := v.Report()
		return strings.Contains(r, "LOST CONNECTION")
	})
}

func TestModalViewerScansThroughSession(t *testing.T) {
	h := newHarness(t, dashboard, Config{Rescan: time.Hour, Reload: time.Hour})
	h.start(t)

	v, err := NewViewer(ViewerOptions{Name: "modal", Clock: h.clk, State: h.state, Target: h.session})
	if err != nil {
		t.Fatalf("NewViewer: %v", err)
	}
	if !v.Modal() {
		t.Fatal("expected a modal viewer")
	}

	if err := v.RequestScan(context.Background()); err != nil {
		t.Fatalf("RequestScan: %v", err)
	}
	if v.Notice() != NoticeDelivered {
		t.Errorf("notice = %q", v.Notice())
	}
	if r, _ := v.Report(); !strings.Contains(r, "TEMPERATURE") {
		t.Errorf("report = %q", r)
	}

	h.src.Set(quietDashboard)
	if err := v.RequestScan(context.Background()); err != nil {
		t.Fatalf("RequestScan: %v", err)
	}
	if v.Notice() != NoticeNothing {
		t.Errorf("notice = %q", v.Notice())
	}
	if r, _ := v.Report(); r != "" {
		t.Errorf("expected a cleared report, got %q", r)
	}
}
