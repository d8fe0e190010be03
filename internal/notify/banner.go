package notify

import (
	"sync"
	"time"

	"github.com/benbjohnson/clock"
)

const DefaultBannerDuration = 5 * time.Second

// Banner holds the on-screen alert summary. A newer message replaces the
// older one; each message dismisses itself after its duration.
type Banner struct {
	clock clock.Clock

	mu      sync.Mutex
	message string
	shownAt time.Time
	visible bool
	timer   *clock.Timer
}

func NewBanner(clk clock.Clock) *Banner {
	if clk == nil {
		clk = clock.New()
	}
	return &Banner{clock: clk}
}

// Show displays msg until d elapses or Dismiss is called
func (b *Banner) Show(msg string, d time.Duration) {
	if d <= 0 {
		d = DefaultBannerDuration
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.timer != nil {
		b.timer.Stop()
	}
	b.message = msg
	b.shownAt = b.clock.Now()
	b.visible = true

	var timer *clock.Timer
	timer = b.clock.AfterFunc(d, func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if b.timer == timer {
			b.hide()
		}
	})
	b.timer = timer
}

// Dismiss hides the banner immediately
func (b *Banner) Dismiss() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.timer != nil {
		b.timer.Stop()
	}
	b.hide()
}

func (b *Banner) hide() {
	b.visible = false
	b.message = ""
	b.timer = nil
}

// Current returns the visible message
func (b *Banner) Current() (string, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.message, b.visible
}

// ShownAt is when the visible message appeared
func (b *Banner) ShownAt() time.Time {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.shownAt
}
