package storage

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
)

func TestPostgresArchiveRecord(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()

	archive, err := NewPostgresArchive(db, "alert_reports")
	if err != nil {
		t.Fatalf("NewPostgresArchive: %v", err)
	}
	ts := time.Date(2024, 1, 5, 11, 0, 0, 0, time.UTC)

	expectedQuery := regexp.QuoteMeta("INSERT INTO alert_reports (scanned_at, surface, lost, stale, temperature, camera, report) VALUES ($1,$2,$3,$4,$5,$6,$7)")
	mock.ExpectExec(expectedQuery).
		WithArgs(ts, "dashboard", 1, 2, 0, 0, "report").
		WillReturnResult(sqlmock.NewResult(1, 1))

	err = archive.Record(context.Background(), Report{
		ScannedAt: ts,
		Surface:   "dashboard",
		Text:      "report",
		Counts:    map[string]int{"lost": 1, "stale": 2},
	})
	if err != nil {
		t.Fatalf("Record: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestPostgresArchiveRecordError(t *testing.T) {
	db, mock, _ := sqlmock.New()
	defer db.Close()

	archive, _ := NewPostgresArchive(db, "alert_reports")
	mock.ExpectExec("INSERT INTO alert_reports").WillReturnError(errors.New("disk full"))

	if err := archive.Record(context.Background(), Report{Text: "x"}); err == nil {
		t.Fatal("expected error")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestEnsureSchema(t *testing.T) {
	db, mock, _ := sqlmock.New()
	defer db.Close()

	archive, _ := NewPostgresArchive(db, "ops.alert_reports")
	mock.ExpectExec(regexp.QuoteMeta("CREATE TABLE IF NOT EXISTS ops.alert_reports")).
		WillReturnResult(sqlmock.NewResult(0, 0))

	if err := archive.EnsureSchema(context.Background()); err != nil {
		t.Fatalf("EnsureSchema: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestInvalidTableName(t *testing.T) {
	db, _, _ := sqlmock.New()
	defer db.Close()

	for _, name := range []string{"", "reports; DROP TABLE x", "1reports", "a.b.c"} {
		if _, err := NewPostgresArchive(db, name); err == nil {
			t.Errorf("expected %q to be rejected", name)
		}
	}
}

func TestNopArchive(t *testing.T) {
	var a Archive = NopArchive{}
	if err := a.Record(context.Background(), Report{}); err != nil {
		t.Errorf("NopArchive.Record: %v", err)
	}
}
