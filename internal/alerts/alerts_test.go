package alerts

import (
	"context"
	"reflect"
	"strings"
	"testing"
	"time"

	"coldwatch/internal/camera"
	"coldwatch/internal/document"
	"coldwatch/internal/models"
	"coldwatch/internal/signals"
	"coldwatch/internal/state"
)

var scanTime = time.Date(2024, 1, 5, 11, 0, 0, 0, time.UTC)

func card(label, body string) string {
	return `<div class="row"><div class="col-lg-4 col-md-4 col-sm-5 col-xs-5 text-left"><span>` +
		label + `</span></div><div class="col-lg-8">` + body + `</div></div>`
}

func mustParse(t *testing.T, html string) document.Document {
	t.Helper()
	doc, err := document.ParseString(html)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	return doc
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.Location = time.UTC
	return cfg
}

func TestRecordsFindsCards(t *testing.T) {
	doc := mustParse(t, `<body>`+
		card("Store 1 - Fridge A", "Lost Connection")+
		`<ul><li><div class="text-left"><span>Store 2 - Fridge B</span></div> 4.5 °C</li></ul>`+
		`<section><div><div class="text-left"><span> </span></div></div></section>`+
		`<section><article><div class="text-left"><span>Store 3 - Freezer</span></div></article> 9 °C</section>`+
		`</body>`)

	recs := NewAggregator(testConfig(), nil).Records(doc)
	if len(recs) != 3 {
		t.Fatalf("expected 3 records, got %d", len(recs))
	}

	want := []struct {
		label string
		text  string
	}{
		{"Store 1 - Fridge A", "Store 1 - Fridge A Lost Connection"},
		{"Store 2 - Fridge B", "Store 2 - Fridge B 4.5 °C"},
		{"Store 3 - Freezer", "Store 3 - Freezer"},
	}
	for i, w := range want {
		if recs[i].Label != w.label {
			t.Errorf("record %d label = %q, want %q", i, recs[i].Label, w.label)
		}
		if got := document.Flatten(recs[i].Node); got != w.text {
			t.Errorf("record %d card text = %q, want %q", i, got, w.text)
		}
	}
}

func TestDetectThreeRecords(t *testing.T) {
	doc := mustParse(t, `<body>`+
		card("Store 1 - Fridge A", "Lost Connection")+
		card("Store 2 - Fridge B", "Last reading: 10:15 Jan 5 2024 4.0 °C")+
		card("Store 3 - Freezer", "Current 7.2 °C")+
		`</body>`)

	det := NewAggregator(testConfig(), nil).Detect(doc, scanTime)

	if !reflect.DeepEqual(det.Lost, []models.LostConnection{{Label: "Store 1 - Fridge A"}}) {
		t.Errorf("lost = %+v", det.Lost)
	}
	if !reflect.DeepEqual(det.Stale, []models.StaleReading{{Label: "Store 2 - Fridge B", MinutesLate: 45}}) {
		t.Errorf("stale = %+v", det.Stale)
	}
	want := []models.TemperatureExcursion{{Label: "Store 3 - Freezer", Value: 7.2, Status: models.TempHigh}}
	if !reflect.DeepEqual(det.TempOut, want) {
		t.Errorf("temp = %+v", det.TempOut)
	}
	if det.Records != 3 || len(det.Cameras) != 0 {
		t.Errorf("records = %d, cameras = %d", det.Records, len(det.Cameras))
	}
}

type fakeNode struct {
	text   string
	panics bool
	card   *fakeNode
}

func (n *fakeNode) Query(string) []document.Node { return nil }
func (n *fakeNode) Parent() document.Node        { return nil }
func (n *fakeNode) Cell(int) document.Node       { return nil }
func (n *fakeNode) Closest(string) document.Node {
	if n.card == nil {
		return nil
	}
	return n.card
}
func (n *fakeNode) Text() string {
	if n.panics {
		panic("detached node")
	}
	return n.text
}

type fakeDoc struct{ nodes []document.Node }

func (d fakeDoc) Query(string) []document.Node { return d.nodes }
func (d fakeDoc) URL() string                  { return "" }

func TestDetectIsolatesFailingRecord(t *testing.T) {
	doc := fakeDoc{nodes: []document.Node{
		&fakeNode{text: "A", card: &fakeNode{panics: true}},
		&fakeNode{text: "B", card: &fakeNode{text: "B Lost Connection"}},
	}}

	det := NewAggregator(testConfig(), nil).Detect(doc, scanTime)
	if len(det.Lost) != 1 || det.Lost[0].Label != "B" {
		t.Errorf("expected only B to be reported, got %+v", det.Lost)
	}
}

func TestDiffCameras(t *testing.T) {
	cur := []models.CameraDisconnect{{Label: "CAM-01"}, {Label: "CAM-03"}, {Label: "CAM-03"}}
	diff := DiffCameras([]string{"CAM-01", "CAM-02"}, cur)

	if !reflect.DeepEqual(diff.New, []string{"CAM-03"}) {
		t.Errorf("new = %v", diff.New)
	}
	if !reflect.DeepEqual(diff.Resolved, []string{"CAM-02"}) {
		t.Errorf("resolved = %v", diff.Resolved)
	}
	if !reflect.DeepEqual(diff.Current, []string{"CAM-01", "CAM-03"}) {
		t.Errorf("current = %v", diff.Current)
	}
	if !diff.Changed() {
		t.Error("expected change")
	}

	same := DiffCameras([]string{"CAM-01"}, []models.CameraDisconnect{{Label: "CAM-01"}})
	if same.Changed() {
		t.Error("identical sets should not count as changed")
	}
}

func cameraPage(minutes string) string {
	cells := []string{"1", "HCM", "CAM-01", "Shop", "ch1", "Disconnected", "false", "false", "x", "y", minutes}
	return `<table><tr><td>` + strings.Join(cells, "</td><td>") + `</td></tr></table>`
}

func TestBuildResultCameraDiff(t *testing.T) {
	agg := NewAggregator(testConfig(), camera.NewScanner(camera.DefaultColumns(), 20))
	doc := mustParse(t, cameraPage("4 m"))

	result, diff := agg.BuildResult(doc, scanTime, nil)
	if len(result.CameraAlerts) != 1 || !reflect.DeepEqual(diff.Current, []string{"CAM-01 — CH1"}) {
		t.Fatalf("first scan: alerts = %+v, diff = %+v", result.CameraAlerts, diff)
	}

	result, diff = agg.BuildResult(doc, scanTime, diff.Current)
	if len(result.CameraAlerts) != 0 || diff.Changed() {
		t.Errorf("unchanged scan should not include camera alerts: %+v", result.CameraAlerts)
	}

	result, diff = agg.BuildResult(mustParse(t, cameraPage("25 m")), scanTime, diff.Current)
	if len(result.CameraAlerts) != 0 || len(diff.Current) != 0 {
		t.Errorf("expected no alerts and an empty snapshot, got %+v / %+v", result.CameraAlerts, diff)
	}
	if !reflect.DeepEqual(diff.Resolved, []string{"CAM-01 — CH1"}) {
		t.Errorf("resolved = %v", diff.Resolved)
	}
}

func findings(labels ...string) *models.ScanResult {
	r := &models.ScanResult{ScannedAt: scanTime}
	for _, l := range labels {
		r.Lost = append(r.Lost, models.LostConnection{Label: l})
	}
	return r
}

func TestCooldown(t *testing.T) {
	ctx := context.Background()
	p := state.NewPersistence(state.NewMemoryStore(), state.DefaultPrefix)
	c := NewCooldown(5*time.Minute, p)
	t0 := scanTime

	if !c.TryDeliver(ctx, findings("Store 7 - A"), t0, false) {
		t.Fatal("first delivery should succeed")
	}
	if got := p.LastAlertTimestamp(ctx); got != t0.UnixMilli() {
		t.Errorf("timestamp = %d, want %d", got, t0.UnixMilli())
	}

	t1 := t0.Add(time.Minute)
	if c.TryDeliver(ctx, findings("B"), t1, false) {
		t.Error("delivery inside the cooldown should be suppressed")
	}
	if !strings.Contains(p.Report(ctx), "Store 7:A") {
		t.Error("suppressed attempt must not touch the report")
	}
	if got := c.Remaining(ctx, t1); got != 4*time.Minute {
		t.Errorf("Remaining = %v", got)
	}

	if !c.TryDeliver(ctx, findings("B"), t1, true) {
		t.Error("bypassed delivery should succeed")
	}
	if got := p.LastAlertTimestamp(ctx); got != t1.UnixMilli() {
		t.Errorf("timestamp = %d, want %d", got, t1.UnixMilli())
	}
}

func TestCooldownReplacesReport(t *testing.T) {
	ctx := context.Background()
	p := state.NewPersistence(state.NewMemoryStore(), state.DefaultPrefix)
	c := NewCooldown(5*time.Minute, p)

	c.TryDeliver(ctx, findings("Store 1 - Fridge A"), scanTime, true)
	c.TryDeliver(ctx, findings("Store 9 - Fridge Z"), scanTime.Add(time.Second), true)

	report := p.Report(ctx)
	if strings.Contains(report, "Store 1") || !strings.Contains(report, "Store 9:Fridge Z") {
		t.Errorf("report was not replaced:\n%s", report)
	}
	if strings.Count(report, "Alerts (") != 1 {
		t.Errorf("expected exactly one report header:\n%s", report)
	}
}

func TestCooldownEmptyResultClearsReport(t *testing.T) {
	ctx := context.Background()
	p := state.NewPersistence(state.NewMemoryStore(), state.DefaultPrefix)
	c := NewCooldown(5*time.Minute, p)

	c.TryDeliver(ctx, findings("A"), scanTime, true)
	before := p.LastAlertTimestamp(ctx)

	if got := c.Attempt(ctx, findings(), scanTime.Add(time.Minute), true); got != OutcomeEmpty {
		t.Errorf("outcome = %q, want empty", got)
	}
	if p.Report(ctx) != "" {
		t.Error("empty scan should clear the report")
	}
	if p.LastAlertTimestamp(ctx) != before {
		t.Error("empty scan must not move the timestamp")
	}
}

func TestFormatRemaining(t *testing.T) {
	tests := []struct {
		in   time.Duration
		want string
	}{
		{0, "cooldown over"},
		{-time.Second, "cooldown over"},
		{90 * time.Second, "1m 30s"},
		{4*time.Minute + 500*time.Millisecond, "4m 1s"},
	}
	for _, tt := range tests {
		if got := FormatRemaining(tt.in); got != tt.want {
			t.Errorf("FormatRemaining(%v) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestRenderReport(t *testing.T) {
	r := &models.ScanResult{
		Lost:  []models.LostConnection{{Label: "Store 1 - Fridge A"}},
		Stale: []models.StaleReading{{Label: "Store 22 - Fridge B", MinutesLate: 45}, {Label: "S4 - X", MinutesLate: 120}},
		TempOut: []models.TemperatureExcursion{
			{Label: "Store 3 - Freezer", Value: 7.2, Status: models.TempHigh},
		},
		CameraAlerts: []models.CameraDisconnect{
			{Label: "CAM-01 — CH1", MinutesDisconnected: 4, IsPriority: true},
			{Label: "CAM-02", MinutesDisconnected: 12.5},
		},
		ScannedAt: scanTime,
	}

	report := RenderReport(r)
	lines := strings.Split(report, "\n")
	if lines[0] != "Alerts (2024-01-05 11:00:00)" {
		t.Errorf("header = %q", lines[0])
	}

	expect := []string{
		"**********LOST CONNECTION********** 1 units",
		" Store 1:Fridge A",
		"**********STALE READINGS********** 2 units",
		"Store 22:Fridge B" + strings.Repeat(" ", 5) + "     45min",
		"S4:X" + strings.Repeat(" ", 18) + "    120min",
		"**********TEMPERATURE**********(1 units)",
		"Store 3: Freezer" + strings.Repeat(" ", 10) + "7.2°C",
		"**********CAMERA DISCONNECTED********** 2 cameras",
		"📷 Cam GS: CAM-01 — CH1 — 4m",
		"📷 CAM-02 — 12.5m",
	}
	for _, want := range expect {
		if !containsLine(lines, want) {
			t.Errorf("report is missing line %q:\n%s", want, report)
		}
	}

	order := []string{"LOST CONNECTION", "STALE READINGS", "TEMPERATURE", "CAMERA DISCONNECTED"}
	last := -1
	for _, h := range order {
		i := strings.Index(report, h)
		if i < last {
			t.Errorf("section %q out of order", h)
		}
		last = i
	}
}

func TestRenderReportOmitsEmptySections(t *testing.T) {
	report := RenderReport(findings("Store 1 - A"))
	for _, h := range []string{"STALE", "TEMPERATURE", "CAMERA"} {
		if strings.Contains(report, h) {
			t.Errorf("unexpected section %q", h)
		}
	}
}

func containsLine(lines []string, want string) bool {
	for _, l := range lines {
		if l == want {
			return true
		}
	}
	return false
}

func TestFormatLabel(t *testing.T) {
	if got := FormatLabel("Store 1 - Fridge - A", ":"); got != "Store 1:Fridge - A" {
		t.Errorf("got %q", got)
	}
	if got := FormatLabel("Store-2", ": "); got != "Store: 2" {
		t.Errorf("got %q", got)
	}
	if got := FormatLabel("Plain", ":"); got != "Plain" {
		t.Errorf("got %q", got)
	}
}

func TestSummary(t *testing.T) {
	r := &models.ScanResult{
		Lost:    []models.LostConnection{{Label: "a"}, {Label: "b"}},
		TempOut: []models.TemperatureExcursion{{Label: "c"}},
	}
	want := "NEW ALERTS!\n2 lost connection\n1 temperature out of range"
	if got := Summary(r); got != want {
		t.Errorf("Summary = %q, want %q", got, want)
	}
}

func TestDefaultBand(t *testing.T) {
	if DefaultConfig().Band != (signals.Band{Low: 3, High: 6}) {
		t.Error("unexpected default band")
	}
}
