package alerts

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"coldwatch/internal/logger"
	"coldwatch/internal/metrics"
	"coldwatch/internal/models"
	"coldwatch/internal/state"
)

const DefaultCooldown = 5 * time.Minute

// Outcome of a delivery attempt
type Outcome string

const (
	OutcomeDelivered Outcome = "delivered"
	OutcomeCooldown  Outcome = "cooldown"
	OutcomeEmpty     Outcome = "empty"
)

// Cooldown enforces the global alert cooldown shared by every surface
// through the persisted last-alert timestamp.
type Cooldown struct {
	Window time.Duration

	state *state.Persistence
	log   zerolog.Logger
}

func NewCooldown(window time.Duration, p *state.Persistence) *Cooldown {
	if window <= 0 {
		window = DefaultCooldown
	}
	return &Cooldown{
		Window: window,
		state:  p,
		log:    logger.WithComponent("cooldown"),
	}
}

// Active reports whether the cooldown window is still running at now
func (c *Cooldown) Active(ctx context.Context, now time.Time) bool {
	return now.UnixMilli()-c.state.LastAlertTimestamp(ctx) < c.Window.Milliseconds()
}

// Remaining returns how long the cooldown still runs, zero when over
func (c *Cooldown) Remaining(ctx context.Context, now time.Time) time.Duration {
	elapsed := now.UnixMilli() - c.state.LastAlertTimestamp(ctx)
	remain := c.Window.Milliseconds() - elapsed
	if remain <= 0 {
		return 0
	}
	return time.Duration(remain) * time.Millisecond
}

// Attempt runs the delivery decision for one scan result:
// a running cooldown suppresses it without touching the store, an empty
// result clears the report, anything else replaces the report and
// restarts the cooldown.
func (c *Cooldown) Attempt(ctx context.Context, result *models.ScanResult, now time.Time, bypass bool) Outcome {
	if !bypass && c.Active(ctx, now) {
		metrics.DeliveriesTotal.WithLabelValues(string(OutcomeCooldown)).Inc()
		c.log.Debug().Msg("cooldown active, skipping delivery")
		return OutcomeCooldown
	}

	c.state.ClearReport(ctx)

	if result.Empty() {
		metrics.DeliveriesTotal.WithLabelValues(string(OutcomeEmpty)).Inc()
		c.log.Debug().Msg("no alerts found")
		return OutcomeEmpty
	}

	c.state.SetReport(ctx, RenderReport(result))
	c.state.SetLastAlertTimestamp(ctx, now.UnixMilli())

	metrics.DeliveriesTotal.WithLabelValues(string(OutcomeDelivered)).Inc()
	metrics.LastDeliveryTimestamp.Set(float64(now.Unix()))
	c.log.Info().
		Int("lost", len(result.Lost)).
		Int("stale", len(result.Stale)).
		Int("temperature", len(result.TempOut)).
		Int("camera", len(result.CameraAlerts)).
		Bool("bypass", bypass).
		Msg("alerts delivered")
	return OutcomeDelivered
}

// TryDeliver reports whether the result was delivered
func (c *Cooldown) TryDeliver(ctx context.Context, result *models.ScanResult, now time.Time, bypass bool) bool {
	return c.Attempt(ctx, result, now, bypass) == OutcomeDelivered
}

// FormatRemaining renders the panel countdown, "Xm Ys" or "cooldown over"
func FormatRemaining(d time.Duration) string {
	if d <= 0 {
		return "cooldown over"
	}
	ms := d.Milliseconds()
	mins := ms / 60000
	secs := (ms%60000 + 999) / 1000
	return fmt.Sprintf("%dm %ds", mins, secs)
}
