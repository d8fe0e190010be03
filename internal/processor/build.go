package processor

import (
	"context"
	"fmt"

	"coldwatch/internal/alerts"
	"coldwatch/internal/bus"
	"coldwatch/internal/camera"
	"coldwatch/internal/config"
	"coldwatch/internal/kafka"
	"coldwatch/internal/mqtt"
	"coldwatch/internal/signals"
	"coldwatch/internal/state"
	"coldwatch/internal/storage"
)

// OpenStore connects the configured persisted store
func OpenStore(ctx context.Context, cfg config.StoreConfig) (state.Store, error) {
	switch cfg.Backend {
	case "", "memory":
		return state.NewMemoryStore(), nil
	case "redis":
		store, err := state.NewRedisStore(ctx, state.RedisConfig{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			Timeout:  cfg.Redis.Timeout,
		})
		if err != nil {
			return nil, err
		}
		return store, nil
	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.Backend)
	}
}

// OpenBus connects the configured cross-surface transport
func OpenBus(ctx context.Context, cfg config.BusConfig, processID string) (bus.Bus, error) {
	codec, err := bus.CodecFor(cfg.Codec)
	if err != nil {
		return nil, err
	}
	switch cfg.Transport {
	case "", "memory":
		return bus.NewMemoryBus(cfg.Buffer), nil
	case "kafka":
		b, err := kafka.NewBus(cfg.Kafka, cfg.Buffer, processID, codec)
		if err != nil {
			return nil, err
		}
		return b, nil
	case "mqtt":
		b, err := mqtt.NewBus(ctx, cfg.MQTT, cfg.Buffer, codec)
		if err != nil {
			return nil, err
		}
		return b, nil
	default:
		return nil, fmt.Errorf("unknown bus transport %q", cfg.Transport)
	}
}

// OpenArchive connects the report archive, or a no-op one without a DSN
func OpenArchive(ctx context.Context, cfg config.ArchiveConfig) (storage.Archive, error) {
	if cfg.DSN == "" {
		return storage.NopArchive{}, nil
	}
	archive, err := storage.NewPostgres(ctx, cfg.DSN, cfg.Table)
	if err != nil {
		return nil, err
	}
	return archive, nil
}

// NewAggregator builds the detector for a surface kind. Only camera
// surfaces read the camera table.
func NewAggregator(cfg *config.Config, kind string) (*alerts.Aggregator, error) {
	loc, err := cfg.Dashboard.Location()
	if err != nil {
		return nil, fmt.Errorf("dashboard timezone: %w", err)
	}

	var scanner *camera.Scanner
	if kind == config.KindCamera {
		scanner = camera.NewScanner(cfg.Camera.Columns, cfg.Thresholds.CameraMinutes)
		if cfg.Camera.MinRowLength > 0 {
			scanner.MinRowLength = cfg.Camera.MinRowLength
		}
	}

	return alerts.NewAggregator(alerts.Config{
		LabelSelector: cfg.Dashboard.LabelSelector,
		CardSelectors: cfg.Dashboard.CardSelectors,
		StaleMinutes:  cfg.Thresholds.StaleMinutes,
		Band:          signals.Band{Low: cfg.Thresholds.TempLow, High: cfg.Thresholds.TempHigh},
		Location:      loc,
	}, scanner), nil
}
