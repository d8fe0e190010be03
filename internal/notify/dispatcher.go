package notify

import (
	"context"
	"runtime/debug"
	"time"

	"github.com/rs/zerolog"

	"coldwatch/internal/alerts"
	"coldwatch/internal/logger"
	"coldwatch/internal/metrics"
	"coldwatch/internal/models"
	"coldwatch/internal/state"
)

// Publisher sends a cross-surface message
type Publisher interface {
	Publish(ctx context.Context, msg models.Message) error
}

// Config for the dispatcher
type Config struct {
	Tone           ToneConfig
	BannerDuration time.Duration
}

// Dispatcher fires every notification channel for a delivered result
type Dispatcher struct {
	cfg    Config
	prefs  *state.Persistence
	player Player
	banner *Banner
	bus    Publisher
	log    zerolog.Logger
}

// NewDispatcher wires the notification channels. A nil player or bus
// disables that channel.
func NewDispatcher(cfg Config, prefs *state.Persistence, player Player, banner *Banner, bus Publisher) *Dispatcher {
	if cfg.BannerDuration <= 0 {
		cfg.BannerDuration = DefaultBannerDuration
	}
	return &Dispatcher{
		cfg:    cfg,
		prefs:  prefs,
		player: player,
		banner: banner,
		bus:    bus,
		log:    logger.WithComponent("dispatcher"),
	}
}

// WithLogger replaces the dispatcher's logger
func (d *Dispatcher) WithLogger(l zerolog.Logger) *Dispatcher {
	d.log = l
	return d
}

// Banner returns the banner this dispatcher drives
func (d *Dispatcher) Banner() *Banner {
	return d.banner
}

// Dispatch notifies about a delivered result. Sound playback is detached
// and outlives ctx; every failure is logged and never returned.
func (d *Dispatcher) Dispatch(ctx context.Context, result *models.ScanResult) {
	if d.player != nil && d.prefs.SoundEnabled(ctx) {
		d.playDetached(ToneSchedule(d.cfg.Tone))
	}

	if d.banner != nil {
		d.banner.Show(alerts.Summary(result), d.cfg.BannerDuration)
	}

	if d.bus != nil {
		if err := d.bus.Publish(ctx, models.UpdateLogs()); err != nil {
			d.log.Warn().Err(err).Msg("failed to publish updateLogs")
		}
	}
}

func (d *Dispatcher) playDetached(bursts []Burst) {
	if len(bursts) == 0 {
		return
	}
	go func() {
		defer func() {
			if r := recover(); r != nil {
				metrics.PanicsRecovered.WithLabelValues("tone").Inc()
				metrics.ToneFailures.Inc()
				d.log.Error().
					Interface("panic", r).
					Str("stack", string(debug.Stack())).
					Msg("tone playback panicked")
			}
		}()
		if err := d.player.Play(context.Background(), bursts); err != nil {
			metrics.ToneFailures.Inc()
			d.log.Warn().Err(err).Msg("tone playback failed")
		}
	}()
}
