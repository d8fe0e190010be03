package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"coldwatch/internal/bus"
	"coldwatch/internal/logger"
	"coldwatch/internal/models"
	"coldwatch/internal/state"
)

const (
	DefaultViewerRefresh = 3 * time.Second
	DefaultViewerResync  = 1500 * time.Millisecond
)

// Viewer notices shown after a scan request
const (
	NoticeDelivered = "scan finished, alerts sent"
	NoticeNothing   = "scan finished, nothing new"
	NoticeRequested = "scan requested"
)

var ErrNoTarget = errors.New("viewer has neither a session nor a bus to scan through")

// ViewerOptions wires a Viewer. A modal viewer sets Target and scans
// through it directly; a tab viewer publishes scanAlertsNow on Bus.
type ViewerOptions struct {
	Name    string
	Refresh time.Duration
	Resync  time.Duration

	Clock  clock.Clock
	State  *state.Persistence
	Bus    bus.Bus
	Target *Session
}

// Viewer mirrors the persisted report. It never scans by itself.
type Viewer struct {
	name    string
	id      string
	refresh time.Duration
	resync  time.Duration

	clock  clock.Clock
	state  *state.Persistence
	bus    bus.Bus
	target *Session
	log    zerolog.Logger

	mu        sync.RWMutex
	report    string
	updatedAt time.Time
	notice    string
	reads     uint64
}

func NewViewer(opts ViewerOptions) (*Viewer, error) {
	if opts.State == nil {
		return nil, fmt.Errorf("%w: state is required", ErrIncomplete)
	}
	if opts.Target == nil && opts.Bus == nil {
		return nil, ErrNoTarget
	}
	if opts.Clock == nil {
		opts.Clock = clock.New()
	}
	if opts.Refresh <= 0 {
		opts.Refresh = DefaultViewerRefresh
	}
	if opts.Resync <= 0 {
		opts.Resync = DefaultViewerResync
	}

	kind := "tab"
	if opts.Target != nil {
		kind = "modal"
	}
	id := uuid.NewString()
	return &Viewer{
		name:    opts.Name,
		id:      id,
		refresh: opts.Refresh,
		resync:  opts.Resync,
		clock:   opts.Clock,
		state:   opts.State,
		bus:     opts.Bus,
		target:  opts.Target,
		log:     logger.WithSurface(kind, opts.Name, id),
	}, nil
}

func (v *Viewer) Name() string { return v.name }

// Modal reports whether scans go straight to an attached session
func (v *Viewer) Modal() bool { return v.target != nil }

// Run re-reads the report on every refresh tick and on updateLogs
func (v *Viewer) Run(ctx context.Context) error {
	var msgs <-chan models.Message
	if v.bus != nil {
		sub, err := v.bus.Subscribe(v.name)
		if err != nil {
			return fmt.Errorf("subscribe %s: %w", v.name, err)
		}
		defer sub.Close()
		msgs = sub.C
	}

	ticker := v.clock.Ticker(v.refresh)
	defer ticker.Stop()

	v.Sync(ctx)
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			v.Sync(ctx)
		case msg, ok := <-msgs:
			if !ok {
				msgs = nil
				continue
			}
			if msg.Action == models.ActionUpdateLogs {
				v.Sync(ctx)
			}
		}
	}
}

// Sync copies the persisted report into the view
func (v *Viewer) Sync(ctx context.Context) string {
	report := v.state.Report(ctx)
	v.mu.Lock()
	v.report = report
	v.updatedAt = v.clock.Now()
	v.reads++
	v.mu.Unlock()
	return report
}

// Report returns the last report read and when it was read
func (v *Viewer) Report() (string, time.Time) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.report, v.updatedAt
}

// Notice is the message shown after the last scan request
func (v *Viewer) Notice() string {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.notice
}

// RequestScan asks for a bypassed scan. A modal viewer waits for its
// session and re-reads immediately; a tab viewer publishes scanAlertsNow
// and re-reads after the resync delay since nothing acknowledges it.
func (v *Viewer) RequestScan(ctx context.Context) error {
	if v.target != nil {
		out, err := v.target.TriggerScan(ctx)
		if err != nil {
			return err
		}
		notice := NoticeNothing
		if out.Delivered() {
			notice = NoticeDelivered
		}
		v.setNotice(notice)
		v.Sync(ctx)
		return nil
	}

	if err := v.bus.Publish(ctx, models.ScanNow()); err != nil {
		return fmt.Errorf("request scan: %w", err)
	}
	v.setNotice(NoticeRequested)
	v.clock.AfterFunc(v.resync, func() {
		v.Sync(context.Background())
	})
	return nil
}

func (v *Viewer) setNotice(n string) {
	v.mu.Lock()
	v.notice = n
	v.mu.Unlock()
}
