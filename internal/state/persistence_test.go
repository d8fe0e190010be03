package state

import (
	"context"
	"errors"
	"reflect"
	"testing"

	"github.com/alicebob/miniredis/v2"

	"coldwatch/internal/models"
)

type failingStore struct{}

var errBroken = errors.New("store unavailable")

func (failingStore) Get(context.Context, string) ([]byte, error)  { return nil, errBroken }
func (failingStore) Set(context.Context, string, []byte) error    { return errBroken }
func (failingStore) Delete(context.Context, string) error         { return errBroken }
func (failingStore) Close() error                                 { return nil }

func TestPersistenceDefaults(t *testing.T) {
	ctx := context.Background()
	p := NewPersistence(NewMemoryStore(), DefaultPrefix)

	if ts := p.LastAlertTimestamp(ctx); ts != 0 {
		t.Errorf("LastAlertTimestamp = %d, want 0", ts)
	}
	if r := p.Report(ctx); r != "" {
		t.Errorf("Report = %q, want empty", r)
	}
	if !p.SoundEnabled(ctx) {
		t.Error("sound should default to enabled")
	}
	if p.CameraSnapshot(ctx) != nil || p.PanelPosition(ctx) != nil || p.Credentials(ctx) != nil {
		t.Error("expected nil defaults")
	}
	if got := p.Preferences(ctx); !reflect.DeepEqual(got, models.DefaultPreferences()) {
		t.Errorf("Preferences = %+v", got)
	}
}

func TestPersistenceRoundTrip(t *testing.T) {
	ctx := context.Background()
	mem := NewMemoryStore()
	p := NewPersistence(mem, DefaultPrefix)

	p.SetLastAlertTimestamp(ctx, 1704449700000)
	p.SetReport(ctx, "report body")
	p.SetCameraSnapshot(ctx, []string{"CAM-01 — CH1"})
	p.SetSoundEnabled(ctx, false)
	p.SetPanelPosition(ctx, models.Position{X: 10, Y: 20})
	p.SetMinimized(ctx, true)

	state := p.AlertState(ctx)
	if state.LastAlertTimestampMs != 1704449700000 || state.ReportText != "report body" {
		t.Errorf("AlertState = %+v", state)
	}
	if got := p.CameraSnapshot(ctx); !reflect.DeepEqual(got, []string{"CAM-01 — CH1"}) {
		t.Errorf("CameraSnapshot = %v", got)
	}
	if p.SoundEnabled(ctx) {
		t.Error("sound should be off")
	}
	if pos := p.PanelPosition(ctx); pos == nil || pos.X != 10 || pos.Y != 20 {
		t.Errorf("PanelPosition = %v", pos)
	}
	if !p.Minimized(ctx) {
		t.Error("expected minimized")
	}

	raw, _ := mem.Get(ctx, "coldwatch:"+KeyLastAlertTS)
	if string(raw) != "1704449700000" {
		t.Errorf("raw timestamp = %q", raw)
	}

	p.SetMinimized(ctx, false)
	p.ClearReport(ctx)
	if p.Minimized(ctx) || p.Report(ctx) != "" {
		t.Error("expected minimized and report to be cleared")
	}
}

func TestEmptySnapshotClearsKey(t *testing.T) {
	ctx := context.Background()
	mem := NewMemoryStore()
	p := NewPersistence(mem, "")

	p.SetCameraSnapshot(ctx, []string{"CAM-01"})
	p.SetCameraSnapshot(ctx, nil)
	if got := p.CameraSnapshot(ctx); got != nil {
		t.Errorf("expected nil snapshot, got %#v", got)
	}
	if len(mem.Keys()) != 0 {
		t.Errorf("expected the key to be removed, got %v", mem.Keys())
	}
}

func TestPersistenceSwallowsStoreErrors(t *testing.T) {
	ctx := context.Background()
	p := NewPersistence(failingStore{}, DefaultPrefix)

	p.SetReport(ctx, "x")
	p.SetLastAlertTimestamp(ctx, 5)
	if p.LastAlertTimestamp(ctx) != 0 || p.Report(ctx) != "" || !p.SoundEnabled(ctx) {
		t.Error("expected defaults when the store fails")
	}
}

func TestCorruptValueFallsBackToDefault(t *testing.T) {
	ctx := context.Background()
	mem := NewMemoryStore()
	p := NewPersistence(mem, DefaultPrefix)

	mem.Set(ctx, DefaultPrefix+KeyCameraAlerts, []byte("{not json"))
	mem.Set(ctx, DefaultPrefix+KeyLastAlertTS, []byte("yesterday"))
	if p.CameraSnapshot(ctx) != nil {
		t.Error("expected nil snapshot for corrupt value")
	}
	if p.LastAlertTimestamp(ctx) != 0 {
		t.Error("expected 0 for corrupt timestamp")
	}
}

func TestCredentials(t *testing.T) {
	ctx := context.Background()
	p := NewPersistence(NewMemoryStore(), DefaultPrefix)

	if err := p.SetCredentials(ctx, models.Credentials{}); !errors.Is(err, models.ErrEmptyEmail) {
		t.Errorf("expected ErrEmptyEmail, got %v", err)
	}
	want := models.Credentials{Email: "ops@example.test", Password: "pw", Timestamp: 42}
	if err := p.SetCredentials(ctx, want); err != nil {
		t.Fatalf("SetCredentials: %v", err)
	}
	if got := p.Credentials(ctx); got == nil || *got != want {
		t.Errorf("Credentials = %+v", got)
	}
	p.ClearCredentials(ctx)
	if p.Credentials(ctx) != nil {
		t.Error("expected credentials to be cleared")
	}
}

func TestRedisStore(t *testing.T) {
	mr := miniredis.RunT(t)
	ctx := context.Background()

	store, err := NewRedisStore(ctx, RedisConfig{Addr: mr.Addr()})
	if err != nil {
		t.Fatalf("NewRedisStore: %v", err)
	}
	defer store.Close()

	if v, err := store.Get(ctx, "missing"); err != nil || v != nil {
		t.Errorf("missing key = (%v, %v), want (nil, nil)", v, err)
	}

	p := NewPersistence(store, DefaultPrefix)
	p.SetReport(ctx, "shared report")
	p.SetSoundEnabled(ctx, false)

	if got, _ := mr.Get(DefaultPrefix + KeyAlertLogs); got != "shared report" {
		t.Errorf("redis value = %q", got)
	}
	if p.Report(ctx) != "shared report" || p.SoundEnabled(ctx) {
		t.Error("round trip through redis failed")
	}

	p.ClearReport(ctx)
	if mr.Exists(DefaultPrefix + KeyAlertLogs) {
		t.Error("expected report key to be deleted")
	}
}

func TestRedisStoreRequiresAddr(t *testing.T) {
	if _, err := NewRedisStore(context.Background(), RedisConfig{}); err == nil {
		t.Error("expected error for empty address")
	}
}

func TestMemoryStoreClosed(t *testing.T) {
	m := NewMemoryStore()
	m.Close()
	if _, err := m.Get(context.Background(), "k"); !errors.Is(err, ErrStoreClosed) {
		t.Errorf("expected ErrStoreClosed, got %v", err)
	}
}
