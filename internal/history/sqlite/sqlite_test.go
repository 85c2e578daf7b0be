package sqlite

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	"github.com/tripsitter/tripsitter/internal/history"
)

func TestSendAndClose(t *testing.T) {
	s, err := New("sqlite://:memory:")
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	defer func() { _ = s.Close() }()

	e := history.Event{
		Type:       history.EventEnd,
		OccurredAt: time.Now(),
		Record: history.Record{
			Phase:    "build",
			PID:      4242,
			Outcome:  "graph_ready",
			LastLine: "Graph written",
		},
	}
	if err := s.Send(context.Background(), e); err != nil {
		t.Fatalf("send: %v", err)
	}
}

func TestRowsPersisted(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history.db")
	s, err := New(path)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	for i := 0; i < 3; i++ {
		e := history.Event{
			Type:       history.EventStart,
			OccurredAt: time.Now(),
			Record:     history.Record{Phase: "serve", PID: 100 + i, Port: 8080},
		}
		if err := s.Send(context.Background(), e); err != nil {
			t.Fatalf("send %d: %v", i, err)
		}
	}
	if err := s.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer func() { _ = db.Close() }()
	var n int
	if err := db.QueryRow(`SELECT COUNT(*) FROM phase_history WHERE phase = 'serve'`).Scan(&n); err != nil {
		t.Fatalf("count: %v", err)
	}
	if n != 3 {
		t.Fatalf("want 3 rows, got %d", n)
	}
}

func TestEmptyDSNRejected(t *testing.T) {
	if _, err := New("  "); err == nil {
		t.Fatalf("empty DSN accepted")
	}
}
