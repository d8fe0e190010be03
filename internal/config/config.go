package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"coldwatch/internal/camera"
	"coldwatch/internal/notify"
)

// ErrInvalidConfig wraps every validation failure
var ErrInvalidConfig = errors.New("invalid config")

// Surface kinds
const (
	KindMain   = "main"
	KindCamera = "camera"
	KindViewer = "viewer"
	KindModal  = "modal"
)

// Config holds runtime configuration for coldwatch.
type Config struct {
	Log        LogConfig        `yaml:"log"`
	HTTP       HTTPConfig       `yaml:"http"`
	Thresholds ThresholdsConfig `yaml:"thresholds"`
	Schedule   ScheduleConfig   `yaml:"schedule"`
	Sound      SoundConfig      `yaml:"sound"`
	Banner     BannerConfig     `yaml:"banner"`
	Dashboard  DashboardConfig  `yaml:"dashboard"`
	Camera     CameraConfig     `yaml:"camera"`
	Store      StoreConfig      `yaml:"store"`
	Bus        BusConfig        `yaml:"bus"`
	Archive    ArchiveConfig    `yaml:"archive"`
	Surfaces   []SurfaceConfig  `yaml:"surfaces"`
}

type LogConfig struct {
	Level string `yaml:"level"`
}

type HTTPConfig struct {
	Addr            string        `yaml:"addr"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// ThresholdsConfig drives classification and delivery
type ThresholdsConfig struct {
	Cooldown      time.Duration `yaml:"cooldown"`
	StaleMinutes  int           `yaml:"stale_minutes"`
	TempLow       float64       `yaml:"temp_low"`
	TempHigh      float64       `yaml:"temp_high"`
	CameraMinutes float64       `yaml:"camera_minutes"`
}

// ScheduleConfig holds the per-surface cadences
type ScheduleConfig struct {
	Rescan        time.Duration `yaml:"rescan"`
	CameraRescan  time.Duration `yaml:"camera_rescan"`
	Refresh       time.Duration `yaml:"refresh"`
	ViewerRefresh time.Duration `yaml:"viewer_refresh"`
	ViewerResync  time.Duration `yaml:"viewer_resync"`
	Reload        time.Duration `yaml:"reload"`
	FetchTimeout  time.Duration `yaml:"fetch_timeout"`
}

type SoundConfig struct {
	notify.ToneConfig `yaml:",inline"`

	// Player is "log" or "wav".
	Player string `yaml:"player"`
	// OutputDir holds the rendered tone files; empty means the system
	// temp directory.
	OutputDir string   `yaml:"output_dir"`
	Command   []string `yaml:"command"`
}

type BannerConfig struct {
	Duration time.Duration `yaml:"duration"`
}

type DashboardConfig struct {
	LabelSelector string   `yaml:"label_selector"`
	CardSelectors []string `yaml:"card_selectors"`
	// Timezone of the "last reading" timestamps; empty means local time.
	Timezone string `yaml:"timezone"`
}

// Location resolves the dashboard timezone
func (d DashboardConfig) Location() (*time.Location, error) {
	if d.Timezone == "" {
		return time.Local, nil
	}
	return time.LoadLocation(d.Timezone)
}

type CameraConfig struct {
	Columns      camera.Columns `yaml:"columns"`
	MinRowLength int            `yaml:"min_row_length"`
}

type StoreConfig struct {
	// Backend is "memory" or "redis".
	Backend string      `yaml:"backend"`
	Prefix  string      `yaml:"prefix"`
	Redis   RedisConfig `yaml:"redis"`
}

type RedisConfig struct {
	Addr     string        `yaml:"addr"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	Timeout  time.Duration `yaml:"timeout"`
}

type BusConfig struct {
	// Transport is "memory", "kafka" or "mqtt".
	Transport string `yaml:"transport"`
	// Codec is the broker payload encoding, "json" or "msgpack".
	Codec  string      `yaml:"codec"`
	Buffer int         `yaml:"buffer"`
	Kafka  KafkaConfig `yaml:"kafka"`
	MQTT   MQTTConfig  `yaml:"mqtt"`
}

type KafkaConfig struct {
	Brokers      []string       `yaml:"brokers"`
	Topic        string         `yaml:"topic"`
	Producer     ProducerConfig `yaml:"producer"`
	Workers      int            `yaml:"workers"`
	QueueSize    int            `yaml:"queue_size"`
	BatchSize    int            `yaml:"batch_size"`
	BatchTimeout time.Duration  `yaml:"batch_timeout"`
}

// ProducerConfig tunes the kafka writer pool
type ProducerConfig struct {
	PoolSize     int           `yaml:"pool_size"`
	BatchSize    int           `yaml:"batch_size"`
	BatchTimeout time.Duration `yaml:"batch_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
	RequiredAcks int           `yaml:"required_acks"`
	Compression  string        `yaml:"compression"`
	MaxRetries   int           `yaml:"max_retries"`
	RetryBackoff time.Duration `yaml:"retry_backoff"`
}

type MQTTConfig struct {
	Broker   string `yaml:"broker"`
	Topic    string `yaml:"topic"`
	QoS      byte   `yaml:"qos"`
	ClientID string `yaml:"client_id"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

type ArchiveConfig struct {
	DSN   string `yaml:"dsn"`
	Table string `yaml:"table"`
}

// SurfaceConfig declares one running surface. Main and camera surfaces
// scan a page; viewer and modal surfaces attach to one of them.
type SurfaceConfig struct {
	Name   string `yaml:"name"`
	Kind   string `yaml:"kind"`
	URL    string `yaml:"url"`
	File   string `yaml:"file"`
	Attach string `yaml:"attach"`
}

// Scans reports whether the surface runs its own scanner
func (s SurfaceConfig) Scans() bool {
	return s.Kind == KindMain || s.Kind == KindCamera
}

// Default returns the full default configuration.
func Default() *Config {
	cfg := &Config{
		Log: LogConfig{Level: "info"},
		HTTP: HTTPConfig{
			Addr:            ":8080",
			ReadTimeout:     10 * time.Second,
			WriteTimeout:    10 * time.Second,
			ShutdownTimeout: 10 * time.Second,
		},
		Thresholds: ThresholdsConfig{
			Cooldown:      5 * time.Minute,
			StaleMinutes:  30,
			TempLow:       3.0,
			TempHigh:      6.0,
			CameraMinutes: 20,
		},
		Schedule: ScheduleConfig{
			Rescan:        time.Minute,
			CameraRescan:  15 * time.Second,
			Refresh:       time.Second,
			ViewerRefresh: 3 * time.Second,
			ViewerResync:  1500 * time.Millisecond,
			Reload:        5 * time.Minute,
			FetchTimeout:  15 * time.Second,
		},
		Sound: SoundConfig{
			ToneConfig: notify.DefaultTone(),
			Player:     "log",
		},
		Banner: BannerConfig{Duration: 5 * time.Second},
		Dashboard: DashboardConfig{
			LabelSelector: "div.col-lg-4.col-md-4.col-sm-5.col-xs-5.text-left > span, .text-left > span",
			CardSelectors: []string{".row", "li, .list-group-item, .card, .panel, .location-item"},
		},
		Camera: CameraConfig{
			Columns:      camera.DefaultColumns(),
			MinRowLength: 10,
		},
		Store: StoreConfig{
			Backend: "memory",
			Prefix:  "coldwatch:",
			Redis: RedisConfig{
				Addr:    "localhost:6379",
				Timeout: 2 * time.Second,
			},
		},
		Bus: BusConfig{
			Transport: "memory",
			Codec:     "json",
			Buffer:    16,
			Kafka: KafkaConfig{
				Brokers: []string{"localhost:9092"},
				Topic:   "coldwatch.surfaces",
				Producer: ProducerConfig{
					PoolSize:     2,
					BatchSize:    1,
					BatchTimeout: 10 * time.Millisecond,
					WriteTimeout: 5 * time.Second,
					RequiredAcks: 1,
					Compression:  "none",
					MaxRetries:   3,
					RetryBackoff: 100 * time.Millisecond,
				},
				Workers:      1,
				QueueSize:    64,
				BatchSize:    16,
				BatchTimeout: 50 * time.Millisecond,
			},
			MQTT: MQTTConfig{
				Broker: "tcp://localhost:1883",
				Topic:  "coldwatch/surfaces",
				QoS:    0,
			},
		},
		Archive: ArchiveConfig{Table: "alert_reports"},
	}
	return cfg
}

// Load reads a YAML file over the defaults and validates the result.
func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(raw)
}

// Parse decodes YAML over the defaults and validates the result.
func Parse(raw []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(raw, cfg); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}

	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyDefaults fills values explicitly zeroed in the file
func (c *Config) applyDefaults() {
	d := Default()

	if c.Log.Level == "" {
		c.Log.Level = d.Log.Level
	}
	if c.HTTP.Addr == "" {
		c.HTTP.Addr = d.HTTP.Addr
	}
	if c.HTTP.ShutdownTimeout == 0 {
		c.HTTP.ShutdownTimeout = d.HTTP.ShutdownTimeout
	}
	if c.Thresholds.Cooldown == 0 {
		c.Thresholds.Cooldown = d.Thresholds.Cooldown
	}
	if c.Thresholds.StaleMinutes == 0 {
		c.Thresholds.StaleMinutes = d.Thresholds.StaleMinutes
	}
	if c.Thresholds.CameraMinutes == 0 {
		c.Thresholds.CameraMinutes = d.Thresholds.CameraMinutes
	}
	if c.Schedule.Rescan == 0 {
		c.Schedule.Rescan = d.Schedule.Rescan
	}
	if c.Schedule.CameraRescan == 0 {
		c.Schedule.CameraRescan = d.Schedule.CameraRescan
	}
	if c.Schedule.Refresh == 0 {
		c.Schedule.Refresh = d.Schedule.Refresh
	}
	if c.Schedule.ViewerRefresh == 0 {
		c.Schedule.ViewerRefresh = d.Schedule.ViewerRefresh
	}
	if c.Schedule.ViewerResync == 0 {
		c.Schedule.ViewerResync = d.Schedule.ViewerResync
	}
	if c.Schedule.Reload == 0 {
		c.Schedule.Reload = d.Schedule.Reload
	}
	if c.Schedule.FetchTimeout == 0 {
		c.Schedule.FetchTimeout = d.Schedule.FetchTimeout
	}
	if c.Sound.Waveform == "" {
		c.Sound.Waveform = d.Sound.Waveform
	}
	if c.Sound.Player == "" {
		c.Sound.Player = d.Sound.Player
	}
	if c.Banner.Duration == 0 {
		c.Banner.Duration = d.Banner.Duration
	}
	if c.Dashboard.LabelSelector == "" {
		c.Dashboard.LabelSelector = d.Dashboard.LabelSelector
	}
	if len(c.Dashboard.CardSelectors) == 0 {
		c.Dashboard.CardSelectors = d.Dashboard.CardSelectors
	}
	if c.Camera.MinRowLength == 0 {
		c.Camera.MinRowLength = d.Camera.MinRowLength
	}
	if c.Store.Backend == "" {
		c.Store.Backend = d.Store.Backend
	}
	if c.Bus.Transport == "" {
		c.Bus.Transport = d.Bus.Transport
	}
	if c.Bus.Codec == "" {
		c.Bus.Codec = d.Bus.Codec
	}
	if c.Bus.Buffer == 0 {
		c.Bus.Buffer = d.Bus.Buffer
	}
	if c.Archive.Table == "" {
		c.Archive.Table = d.Archive.Table
	}
}

// Validate checks the configuration for consistency.
func (c *Config) Validate() error {
	if err := c.validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	return nil
}

func (c *Config) validate() error {
	t := c.Thresholds
	if t.Cooldown < 0 {
		return errors.New("thresholds.cooldown must be >= 0")
	}
	if t.StaleMinutes <= 0 {
		return errors.New("thresholds.stale_minutes must be > 0")
	}
	if t.TempLow >= t.TempHigh {
		return fmt.Errorf("thresholds.temp_low (%v) must be below temp_high (%v)", t.TempLow, t.TempHigh)
	}
	if t.CameraMinutes <= 0 {
		return errors.New("thresholds.camera_minutes must be > 0")
	}

	s := c.Schedule
	for name, d := range map[string]time.Duration{
		"rescan":         s.Rescan,
		"camera_rescan":  s.CameraRescan,
		"refresh":        s.Refresh,
		"viewer_refresh": s.ViewerRefresh,
		"reload":         s.Reload,
	} {
		if d <= 0 {
			return fmt.Errorf("schedule.%s must be > 0", name)
		}
	}

	if err := c.Sound.ToneConfig.Validate(); err != nil {
		return fmt.Errorf("sound: %w", err)
	}
	if c.Sound.Player != "log" && c.Sound.Player != "wav" {
		return fmt.Errorf("sound.player must be log or wav, got %q", c.Sound.Player)
	}
	if _, err := c.Dashboard.Location(); err != nil {
		return fmt.Errorf("dashboard.timezone: %w", err)
	}
	if err := c.Camera.Columns.Validate(); err != nil {
		return err
	}

	switch c.Store.Backend {
	case "memory":
	case "redis":
		if c.Store.Redis.Addr == "" {
			return errors.New("store.redis.addr is required for the redis backend")
		}
	default:
		return fmt.Errorf("store.backend must be memory or redis, got %q", c.Store.Backend)
	}

	switch c.Bus.Transport {
	case "memory":
	case "kafka":
		if len(c.Bus.Kafka.Brokers) == 0 || c.Bus.Kafka.Topic == "" {
			return errors.New("bus.kafka.brokers and bus.kafka.topic are required")
		}
	case "mqtt":
		if c.Bus.MQTT.Broker == "" || c.Bus.MQTT.Topic == "" {
			return errors.New("bus.mqtt.broker and bus.mqtt.topic are required")
		}
		if c.Bus.MQTT.QoS > 2 {
			return errors.New("bus.mqtt.qos must be 0, 1 or 2")
		}
	default:
		return fmt.Errorf("bus.transport must be memory, kafka or mqtt, got %q", c.Bus.Transport)
	}
	if c.Bus.Codec != "json" && c.Bus.Codec != "msgpack" {
		return fmt.Errorf("bus.codec must be json or msgpack, got %q", c.Bus.Codec)
	}

	return c.validateSurfaces()
}

func (c *Config) validateSurfaces() error {
	byName := make(map[string]SurfaceConfig, len(c.Surfaces))
	for _, s := range c.Surfaces {
		if s.Name == "" {
			return errors.New("surface name is required")
		}
		if _, dup := byName[s.Name]; dup {
			return fmt.Errorf("duplicate surface %q", s.Name)
		}
		byName[s.Name] = s

		switch s.Kind {
		case KindMain, KindCamera:
			if s.URL == "" && s.File == "" {
				return fmt.Errorf("surface %q needs a url or file", s.Name)
			}
		case KindViewer, KindModal:
		default:
			return fmt.Errorf("surface %q has unknown kind %q", s.Name, s.Kind)
		}
	}

	for _, s := range c.Surfaces {
		if s.Scans() {
			continue
		}
		target, ok := byName[s.Attach]
		if !ok {
			return fmt.Errorf("surface %q attaches to unknown surface %q", s.Name, s.Attach)
		}
		if !target.Scans() {
			return fmt.Errorf("surface %q must attach to a main or camera surface", s.Name)
		}
	}
	return nil
}

// Surface looks up a surface by name
func (c *Config) Surface(name string) (SurfaceConfig, bool) {
	for _, s := range c.Surfaces {
		if s.Name == name {
			return s, true
		}
	}
	return SurfaceConfig{}, false
}
