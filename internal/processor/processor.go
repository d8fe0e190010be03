package processor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"coldwatch/internal/alerts"
	"coldwatch/internal/bus"
	"coldwatch/internal/config"
	"coldwatch/internal/document"
	"coldwatch/internal/handlers"
	"coldwatch/internal/logger"
	"coldwatch/internal/middleware"
	"coldwatch/internal/notify"
	"coldwatch/internal/scheduler"
	"coldwatch/internal/state"
	"coldwatch/internal/storage"
)

// Processor is the high-level coordinator: it owns the shared store, the
// bus and the archive, runs every configured surface and serves HTTP.
type Processor struct {
	cfg   *config.Config
	clock clock.Clock
	id    string

	store      state.Store
	state      *state.Persistence
	bus        bus.Bus
	archive    storage.Archive
	cooldown   *alerts.Cooldown
	banner     *notify.Banner
	dispatcher *notify.Dispatcher

	sessions []*scheduler.Session
	viewers  []*scheduler.Viewer

	handler    http.Handler
	httpServer *http.Server
	listener   net.Listener

	setupOnce sync.Once
	setupErr  error
	wg        sync.WaitGroup
}

// New constructs a Processor with given config.
func New(cfg *config.Config) *Processor {
	return &Processor{
		cfg:   cfg,
		clock: clock.New(),
		id:    uuid.NewString(),
	}
}

// WithClock replaces the wall clock driving every surface
func (p *Processor) WithClock(clk clock.Clock) *Processor {
	p.clock = clk
	return p
}

// State exposes the shared persisted state
func (p *Processor) State() *state.Persistence { return p.state }

// Handler returns the HTTP handler; valid after Setup
func (p *Processor) Handler() http.Handler { return p.handler }

// Sessions returns the scanning surfaces; valid after Setup
func (p *Processor) Sessions() []*scheduler.Session { return p.sessions }

// Setup connects every backend and builds the surfaces without starting
// them. It runs once; Run calls it when needed.
func (p *Processor) Setup(ctx context.Context) error {
	p.setupOnce.Do(func() {
		p.setupErr = p.setup(ctx)
		if p.setupErr != nil {
			p.closeBackends()
		}
	})
	return p.setupErr
}

func (p *Processor) setup(ctx context.Context) error {
	log := logger.WithComponent("processor")

	store, err := OpenStore(ctx, p.cfg.Store)
	if err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}
	p.store = store
	p.state = state.NewPersistence(store, p.cfg.Store.Prefix)
	log.Info().Str("backend", p.cfg.Store.Backend).Msg("store initialized")

	b, err := OpenBus(ctx, p.cfg.Bus, p.id)
	if err != nil {
		return fmt.Errorf("failed to open bus: %w", err)
	}
	p.bus = b
	log.Info().Str("transport", p.cfg.Bus.Transport).Msg("bus initialized")

	archive, err := OpenArchive(ctx, p.cfg.Archive)
	if err != nil {
		return fmt.Errorf("failed to open archive: %w", err)
	}
	p.archive = archive

	player, err := notify.NewPlayer(p.cfg.Sound.Player, p.cfg.Sound.OutputDir, p.cfg.Sound.Command)
	if err != nil {
		return err
	}
	p.cooldown = alerts.NewCooldown(p.cfg.Thresholds.Cooldown, p.state)
	p.banner = notify.NewBanner(p.clock)
	p.dispatcher = notify.NewDispatcher(notify.Config{
		Tone:           p.cfg.Sound.ToneConfig,
		BannerDuration: p.cfg.Banner.Duration,
	}, p.state, player, p.banner, p.bus)

	if err := p.buildSurfaces(); err != nil {
		return err
	}
	p.initHTTP()
	return nil
}

func (p *Processor) buildSurfaces() error {
	byName := make(map[string]*scheduler.Session)

	for _, sc := range p.cfg.Surfaces {
		if !sc.Scans() {
			continue
		}
		src, err := document.NewSource(sc.URL, sc.File, p.cfg.Schedule.FetchTimeout)
		if err != nil {
			return fmt.Errorf("surface %s: %w", sc.Name, err)
		}
		agg, err := NewAggregator(p.cfg, sc.Kind)
		if err != nil {
			return fmt.Errorf("surface %s: %w", sc.Name, err)
		}

		s, err := scheduler.NewSession(scheduler.Options{
			Name: sc.Name,
			Kind: sc.Kind,
			Config: scheduler.Config{
				Rescan:       p.cfg.Schedule.Rescan,
				CameraRescan: p.cfg.Schedule.CameraRescan,
				Refresh:      p.cfg.Schedule.Refresh,
				Reload:       p.cfg.Schedule.Reload,
				Camera:       sc.Kind == config.KindCamera,
			},
			Clock:      p.clock,
			Source:     src,
			Aggregator: agg,
			Cooldown:   p.cooldown,
			State:      p.state,
			Dispatcher: p.dispatcher,
			Archive:    p.archive,
			Bus:        p.bus,
		})
		if err != nil {
			return fmt.Errorf("surface %s: %w", sc.Name, err)
		}
		p.sessions = append(p.sessions, s)
		byName[sc.Name] = s
	}

	for _, sc := range p.cfg.Surfaces {
		if sc.Scans() {
			continue
		}
		opts := scheduler.ViewerOptions{
			Name:    sc.Name,
			Refresh: p.cfg.Schedule.ViewerRefresh,
			Resync:  p.cfg.Schedule.ViewerResync,
			Clock:   p.clock,
			State:   p.state,
		}
		if sc.Kind == config.KindModal {
			opts.Target = byName[sc.Attach]
		} else {
			opts.Bus = p.bus
		}
		v, err := scheduler.NewViewer(opts)
		if err != nil {
			return fmt.Errorf("surface %s: %w", sc.Name, err)
		}
		p.viewers = append(p.viewers, v)
	}
	return nil
}

// initHTTP builds the mux with the viewer routes and the ops endpoints
func (p *Processor) initHTTP() {
	mux := http.NewServeMux()

	scanners := make([]handlers.Scanner, 0, len(p.sessions))
	for _, s := range p.sessions {
		scanners = append(scanners, s)
	}
	viewer := handlers.NewViewerHandler(handlers.ViewerConfig{
		State:    p.state,
		Cooldown: p.cooldown,
		Banner:   p.banner,
		Scanners: scanners,
		Now:      p.clock.Now,
	})
	viewer.Register(mux)

	mux.HandleFunc("GET /health", p.healthHandler)
	mux.HandleFunc("GET /stats", p.statsHandler)
	mux.Handle("GET /metrics", promhttp.Handler())

	p.handler = middleware.Chain(mux,
		middleware.RequestID,
		middleware.Recovery,
		middleware.Logging,
	)
}

// Run starts every surface and the HTTP server and blocks until ctx is
// cancelled.
func (p *Processor) Run(ctx context.Context) error {
	log := logger.WithComponent("processor")
	log.Info().Str("id", p.id).Msg("processor starting")

	if err := p.Setup(ctx); err != nil {
		log.Error().Err(err).Msg("failed to initialize")
		return err
	}

	ln, err := net.Listen("tcp", p.cfg.HTTP.Addr)
	if err != nil {
		p.closeBackends()
		return fmt.Errorf("failed to listen on %s: %w", p.cfg.HTTP.Addr, err)
	}
	p.listener = ln
	p.httpServer = &http.Server{
		Handler:      p.handler,
		ReadTimeout:  p.cfg.HTTP.ReadTimeout,
		WriteTimeout: p.cfg.HTTP.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		log.Info().Str("addr", ln.Addr().String()).Msg("starting HTTP server")
		if err := p.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("HTTP server error")
		}
	}()

	surfaceCtx, stopSurfaces := context.WithCancel(ctx)
	defer stopSurfaces()

	var surfaces sync.WaitGroup
	for _, s := range p.sessions {
		surfaces.Add(1)
		go func(s *scheduler.Session) {
			defer surfaces.Done()
			if err := s.Run(surfaceCtx); err != nil {
				log.Error().Err(err).Str("surface", s.Name()).Msg("surface stopped")
			}
		}(s)
	}
	for _, v := range p.viewers {
		surfaces.Add(1)
		go func(v *scheduler.Viewer) {
			defer surfaces.Done()
			if err := v.Run(surfaceCtx); err != nil {
				log.Error().Err(err).Str("surface", v.Name()).Msg("viewer stopped")
			}
		}(v)
	}

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		p.reportStats(ctx)
	}()

	<-ctx.Done()
	log.Info().Msg("shutdown signal received")

	stopSurfaces()
	return p.shutdown(&surfaces)
}

// Addr is the bound HTTP address once Run is listening
func (p *Processor) Addr() string {
	if p.listener == nil {
		return ""
	}
	return p.listener.Addr().String()
}

// shutdown performs graceful shutdown
func (p *Processor) shutdown(surfaces *sync.WaitGroup) error {
	log := logger.WithComponent("processor")
	log.Info().Msg("initiating graceful shutdown")

	// 1. Stop accepting new HTTP requests
	shutdownCtx, cancel := context.WithTimeout(context.Background(), p.cfg.HTTP.ShutdownTimeout)
	defer cancel()

	log.Info().Msg("stopping HTTP server")
	if err := p.httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown error")
	}

	// 2. Wait for in-flight scans to finish
	done := make(chan struct{})
	go func() {
		surfaces.Wait()
		close(done)
	}()
	select {
	case <-done:
		log.Info().Msg("surfaces stopped gracefully")
	case <-shutdownCtx.Done():
		log.Warn().Msg("surface shutdown timeout - forcing exit")
	}

	// 3. Close bus, archive and store
	p.closeBackends()

	// 4. Wait for all goroutines
	p.wg.Wait()

	log.Info().Msg("processor stopped gracefully")
	return nil
}

func (p *Processor) closeBackends() {
	log := logger.WithComponent("processor")
	if p.bus != nil {
		if err := p.bus.Close(); err != nil {
			log.Error().Err(err).Msg("bus close error")
		}
	}
	if p.archive != nil {
		if err := p.archive.Close(); err != nil {
			log.Error().Err(err).Msg("archive close error")
		}
	}
	if p.store != nil {
		if err := p.store.Close(); err != nil {
			log.Error().Err(err).Msg("store close error")
		}
	}
}

// reportStats periodically logs statistics
func (p *Processor) reportStats(ctx context.Context) {
	log := logger.WithComponent("processor")
	ticker := p.clock.Ticker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, s := range p.sessions {
				st := s.Status()
				log.Info().
					Str("surface", st.Name).
					Uint64("scans", st.Scans).
					Uint64("reloads", st.Reloads).
					Str("last_outcome", st.LastOutcome).
					Str("cooldown", st.Cooldown).
					Msg("stats")
			}
		}
	}
}

type healthChecker interface {
	HealthCheck(ctx context.Context) error
}

// healthHandler handles health check requests
func (p *Processor) healthHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if hc, ok := p.bus.(healthChecker); ok {
		if err := hc.HealthCheck(ctx); err != nil {
			http.Error(w, fmt.Sprintf("unhealthy: %v", err), http.StatusServiceUnavailable)
			return
		}
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, `{"status":"healthy","timestamp":"%s"}`, p.clock.Now().Format(time.RFC3339))
}

// viewerStats is the /stats view of one viewer
type viewerStats struct {
	Name      string    `json:"name"`
	Modal     bool      `json:"modal"`
	UpdatedAt time.Time `json:"updated_at"`
	Notice    string    `json:"notice,omitempty"`
}

// statsHandler returns current statistics
func (p *Processor) statsHandler(w http.ResponseWriter, r *http.Request) {
	surfaces := make([]scheduler.Status, 0, len(p.sessions))
	for _, s := range p.sessions {
		surfaces = append(surfaces, s.Status())
	}
	viewers := make([]viewerStats, 0, len(p.viewers))
	for _, v := range p.viewers {
		_, at := v.Report()
		viewers = append(viewers, viewerStats{Name: v.Name(), Modal: v.Modal(), UpdatedAt: at, Notice: v.Notice()})
	}

	var busStats any
	switch b := p.bus.(type) {
	case interface{ Stats() bus.Stats }:
		busStats = b.Stats()
	case interface{ Stats() map[string]any }:
		busStats = b.Stats()
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]any{
		"id":       p.id,
		"surfaces": surfaces,
		"viewers":  viewers,
		"bus":      busStats,
		"store":    p.cfg.Store.Backend,
	})
}
