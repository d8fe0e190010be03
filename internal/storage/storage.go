package storage

import (
	"context"
	"time"
)

// Report is one delivered alert report
type Report struct {
	ScannedAt time.Time
	Surface   string
	Text      string
	Counts    map[string]int
}

// Archive keeps the history of delivered reports. The live report in the
// state store is overwritten every delivery; the archive is append-only.
type Archive interface {
	Record(ctx context.Context, r Report) error
	Close() error
}

// NopArchive discards everything
type NopArchive struct{}

func (NopArchive) Record(ctx context.Context, r Report) error { return nil }
func (NopArchive) Close() error                               { return nil }
