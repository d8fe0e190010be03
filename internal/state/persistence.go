package state

import (
	"context"
	"encoding/json"
	"strconv"

	"github.com/rs/zerolog"

	"coldwatch/internal/logger"
	"coldwatch/internal/metrics"
	"coldwatch/internal/models"
)

// Persisted keys, without the configured prefix
const (
	KeyLastAlertTS  = "last_alert_ts_v1"
	KeyAlertLogs    = "alert_logs_v1"
	KeySound        = "sound_enabled_v1"
	KeyCameraAlerts = "camera_alerts_v1"
	KeyPanelPos     = "panel_pos_v1"
	KeyBubblePos    = "bubble_pos_v1"
	KeyMinimized    = "panel_minimized_v1"
	KeyCredentials  = "login_credentials_v1"
)

const DefaultPrefix = "coldwatch:"

// Persistence is the typed view over a Store. Every operation is best
// effort: read failures yield the default, write failures are logged and
// counted, and neither is returned to the caller.
type Persistence struct {
	store  Store
	prefix string
	log    zerolog.Logger
}

func NewPersistence(store Store, prefix string) *Persistence {
	return &Persistence{
		store:  store,
		prefix: prefix,
		log:    logger.WithComponent("state"),
	}
}

// Store exposes the underlying raw store
func (p *Persistence) Store() Store {
	return p.store
}

func (p *Persistence) key(k string) string {
	return p.prefix + k
}

func (p *Persistence) get(ctx context.Context, k string) []byte {
	v, err := p.store.Get(ctx, p.key(k))
	if err != nil {
		metrics.PersistenceErrors.WithLabelValues("get").Inc()
		p.log.Warn().Err(err).Str("key", k).Msg("state read failed, using default")
		return nil
	}
	return v
}

func (p *Persistence) set(ctx context.Context, k string, v []byte) {
	if err := p.store.Set(ctx, p.key(k), v); err != nil {
		metrics.PersistenceErrors.WithLabelValues("set").Inc()
		p.log.Warn().Err(err).Str("key", k).Msg("state write failed")
	}
}

func (p *Persistence) del(ctx context.Context, k string) {
	if err := p.store.Delete(ctx, p.key(k)); err != nil {
		metrics.PersistenceErrors.WithLabelValues("delete").Inc()
		p.log.Warn().Err(err).Str("key", k).Msg("state delete failed")
	}
}

func (p *Persistence) getJSON(ctx context.Context, k string, dst any) bool {
	raw := p.get(ctx, k)
	if raw == nil {
		return false
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		metrics.PersistenceErrors.WithLabelValues("decode").Inc()
		p.log.Warn().Err(err).Str("key", k).Msg("state value unreadable, using default")
		return false
	}
	return true
}

func (p *Persistence) setJSON(ctx context.Context, k string, v any) {
	raw, err := json.Marshal(v)
	if err != nil {
		metrics.PersistenceErrors.WithLabelValues("encode").Inc()
		p.log.Warn().Err(err).Str("key", k).Msg("state value not encodable")
		return
	}
	p.set(ctx, k, raw)
}

// LastAlertTimestamp returns the last delivery time in epoch ms, 0 if unset
func (p *Persistence) LastAlertTimestamp(ctx context.Context) int64 {
	raw := p.get(ctx, KeyLastAlertTS)
	if raw == nil {
		return 0
	}
	ts, err := strconv.ParseInt(string(raw), 10, 64)
	if err != nil {
		return 0
	}
	return ts
}

func (p *Persistence) SetLastAlertTimestamp(ctx context.Context, ms int64) {
	p.set(ctx, KeyLastAlertTS, []byte(strconv.FormatInt(ms, 10)))
}

// Report returns the latest report text, "" if unset
func (p *Persistence) Report(ctx context.Context) string {
	return string(p.get(ctx, KeyAlertLogs))
}

// SetReport replaces the persisted report. An empty report clears the key.
func (p *Persistence) SetReport(ctx context.Context, report string) {
	if report == "" {
		p.del(ctx, KeyAlertLogs)
		return
	}
	p.set(ctx, KeyAlertLogs, []byte(report))
}

// ClearReport removes the persisted report
func (p *Persistence) ClearReport(ctx context.Context) {
	p.del(ctx, KeyAlertLogs)
}

// AlertState reads the delivery state as one value
func (p *Persistence) AlertState(ctx context.Context) models.AlertState {
	return models.AlertState{
		LastAlertTimestampMs: p.LastAlertTimestamp(ctx),
		ReportText:           p.Report(ctx),
	}
}

// CameraSnapshot returns the labels alerting on the previous camera scan
func (p *Persistence) CameraSnapshot(ctx context.Context) []string {
	var labels []string
	if !p.getJSON(ctx, KeyCameraAlerts, &labels) {
		return nil
	}
	return labels
}

// SetCameraSnapshot overwrites the snapshot; an empty list clears it
func (p *Persistence) SetCameraSnapshot(ctx context.Context, labels []string) {
	if len(labels) == 0 {
		p.del(ctx, KeyCameraAlerts)
		return
	}
	p.setJSON(ctx, KeyCameraAlerts, labels)
}

// SoundEnabled defaults to true until explicitly turned off
func (p *Persistence) SoundEnabled(ctx context.Context) bool {
	raw := p.get(ctx, KeySound)
	if raw == nil {
		return true
	}
	return string(raw) != "0"
}

func (p *Persistence) SetSoundEnabled(ctx context.Context, on bool) {
	v := "0"
	if on {
		v = "1"
	}
	p.set(ctx, KeySound, []byte(v))
}

// PanelPosition returns nil when the panel was never moved
func (p *Persistence) PanelPosition(ctx context.Context) *models.Position {
	var pos models.Position
	if !p.getJSON(ctx, KeyPanelPos, &pos) {
		return nil
	}
	return &pos
}

func (p *Persistence) SetPanelPosition(ctx context.Context, pos models.Position) {
	p.setJSON(ctx, KeyPanelPos, pos)
}

// BubblePosition returns nil when the bubble was never moved
func (p *Persistence) BubblePosition(ctx context.Context) *models.Position {
	var pos models.Position
	if !p.getJSON(ctx, KeyBubblePos, &pos) {
		return nil
	}
	return &pos
}

func (p *Persistence) SetBubblePosition(ctx context.Context, pos models.Position) {
	p.setJSON(ctx, KeyBubblePos, pos)
}

// Minimized is stored by presence
func (p *Persistence) Minimized(ctx context.Context) bool {
	return p.get(ctx, KeyMinimized) != nil
}

func (p *Persistence) SetMinimized(ctx context.Context, minimized bool) {
	if minimized {
		p.set(ctx, KeyMinimized, []byte("1"))
		return
	}
	p.del(ctx, KeyMinimized)
}

// Preferences gathers every user preference in one value
func (p *Persistence) Preferences(ctx context.Context) models.Preferences {
	return models.Preferences{
		SoundEnabled:   p.SoundEnabled(ctx),
		PanelPosition:  p.PanelPosition(ctx),
		BubblePosition: p.BubblePosition(ctx),
		Minimized:      p.Minimized(ctx),
	}
}

// SetPreferences writes every preference. Nil positions are left untouched.
func (p *Persistence) SetPreferences(ctx context.Context, prefs models.Preferences) {
	p.SetSoundEnabled(ctx, prefs.SoundEnabled)
	if prefs.PanelPosition != nil {
		p.SetPanelPosition(ctx, *prefs.PanelPosition)
	}
	if prefs.BubblePosition != nil {
		p.SetBubblePosition(ctx, *prefs.BubblePosition)
	}
	p.SetMinimized(ctx, prefs.Minimized)
}

// Credentials returns the saved login, or nil
func (p *Persistence) Credentials(ctx context.Context) *models.Credentials {
	var c models.Credentials
	if !p.getJSON(ctx, KeyCredentials, &c) {
		return nil
	}
	return &c
}

func (p *Persistence) SetCredentials(ctx context.Context, c models.Credentials) error {
	if err := c.Validate(); err != nil {
		return err
	}
	p.setJSON(ctx, KeyCredentials, c)
	return nil
}

func (p *Persistence) ClearCredentials(ctx context.Context) {
	p.del(ctx, KeyCredentials)
}
