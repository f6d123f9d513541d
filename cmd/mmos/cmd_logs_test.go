package main

import (
	"bytes"
	"context"
	"database/sql"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"mmos/pkg/protocol"
	"mmos/pkg/store"
)

func setupLogDB(t *testing.T) *store.DB {
	t.Helper()

	db, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	if err := db.Init(context.Background(), protocol.SchemaDDL); err != nil {
		t.Fatalf("init schema: %v", err)
	}
	return db
}

func appendLogEntries(t *testing.T, db *store.DB, entries ...protocol.StatusLogEntry) {
	t.Helper()
	ctx := context.Background()

	err := db.WriteTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.Exec(
			`INSERT OR IGNORE INTO projects (id, name, status, priority) VALUES (1, 'p', 'active', 5)`,
		); err != nil {
			return err
		}
		for _, e := range entries {
			if _, err := tx.Exec(
				`INSERT OR IGNORE INTO tasks (id, project_id, task_type, description, status, priority)
				 VALUES (?, 1, 'coding', 'd', 'pending', 5)`, e.TaskID,
			); err != nil {
				return err
			}
			if err := store.AppendLogTx(tx, e); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		t.Fatalf("append log entries: %v", err)
	}
}

func TestPrintLogsOldestFirst(t *testing.T) {
	db := setupLogDB(t)

	appendLogEntries(t, db,
		protocol.StatusLogEntry{TaskID: 1, PreviousStatus: protocol.TaskPending, NewStatus: protocol.TaskAssigned, ChangedBy: "operator", Reason: "first"},
		protocol.StatusLogEntry{TaskID: 1, PreviousStatus: protocol.TaskAssigned, NewStatus: protocol.TaskInProgress, ChangedBy: "w1", Reason: "second"},
		protocol.StatusLogEntry{TaskID: 2, PreviousStatus: protocol.TaskPending, NewStatus: protocol.TaskAssigned, ChangedBy: "operator", Reason: "other task"},
	)

	var buf bytes.Buffer
	if err := printLogs(context.Background(), db, &buf, logsConfig{tail: 20}); err != nil {
		t.Fatalf("printLogs() error: %v", err)
	}

	out := buf.String()
	first := strings.Index(out, "first")
	second := strings.Index(out, "second")
	if first == -1 || second == -1 {
		t.Fatalf("missing entries in output:\n%s", out)
	}
	if first > second {
		t.Errorf("entries should print oldest first:\n%s", out)
	}
}

func TestPrintLogsTaskFilter(t *testing.T) {
	db := setupLogDB(t)

	appendLogEntries(t, db,
		protocol.StatusLogEntry{TaskID: 1, PreviousStatus: protocol.TaskPending, NewStatus: protocol.TaskAssigned, ChangedBy: "operator", Reason: "wanted"},
		protocol.StatusLogEntry{TaskID: 2, PreviousStatus: protocol.TaskPending, NewStatus: protocol.TaskAssigned, ChangedBy: "operator", Reason: "filtered out"},
	)

	var buf bytes.Buffer
	if err := printLogs(context.Background(), db, &buf, logsConfig{taskID: 1, tail: 20}); err != nil {
		t.Fatalf("printLogs() error: %v", err)
	}

	out := buf.String()
	if !strings.Contains(out, "wanted") {
		t.Errorf("missing the filtered task's entry:\n%s", out)
	}
	if strings.Contains(out, "filtered out") {
		t.Errorf("filter leaked another task's entry:\n%s", out)
	}
}

func TestPrintLogEntryFormat(t *testing.T) {
	var buf bytes.Buffer
	printLogEntry(&buf, protocol.StatusLogEntry{
		ID:             1,
		TaskID:         42,
		PreviousStatus: protocol.TaskPending,
		NewStatus:      protocol.TaskAssigned,
		ChangedBy:      "operator",
		Reason:         "assigned to w1",
		CreatedAt:      time.Date(2026, 3, 1, 12, 30, 0, 0, time.UTC),
	})

	got := buf.String()
	for _, want := range []string{"2026-03-01 12:30:00", "task 42", "pending -> assigned", "[operator]", "assigned to w1"} {
		if !strings.Contains(got, want) {
			t.Errorf("output missing %q: %q", want, got)
		}
	}
}
