package main

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"mmos/pkg/protocol"
	"mmos/pkg/queue"
	"mmos/pkg/store"
)

func setupTestQueue(t *testing.T) *queue.Queue {
	t.Helper()

	db, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	if err := db.Init(context.Background(), protocol.SchemaDDL); err != nil {
		t.Fatalf("init schema: %v", err)
	}
	return queue.New(db)
}

func TestImportSeed(t *testing.T) {
	q := setupTestQueue(t)

	seed := `projects:
  - name: api-revamp
    description: REST API rework
    priority: 7
    tasks:
      - type: coding
        description: implement the new endpoints
        priority: 6
      - type: testing
        description: integration tests
        priority: 5
  - name: docs
    priority: 3
`
	path := filepath.Join(t.TempDir(), "seed.yaml")
	if err := os.WriteFile(path, []byte(seed), 0o644); err != nil {
		t.Fatalf("write seed: %v", err)
	}

	projects, tasks, err := importSeed(context.Background(), q, path)
	if err != nil {
		t.Fatalf("importSeed() error: %v", err)
	}
	if projects != 2 || tasks != 2 {
		t.Errorf("imported %d projects, %d tasks; want 2 and 2", projects, tasks)
	}

	pending, err := q.ListPending(context.Background(), queue.ListOpts{})
	if err != nil {
		t.Fatalf("list pending: %v", err)
	}
	if len(pending) != 2 {
		t.Fatalf("expected 2 pending tasks, got %d", len(pending))
	}
	if pending[0].Type != "coding" || pending[0].Priority != 6 {
		t.Errorf("highest priority task first: %+v", pending[0])
	}
}

func TestImportSeed_MissingFile(t *testing.T) {
	q := setupTestQueue(t)

	if _, _, err := importSeed(context.Background(), q, filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatal("expected an error for a missing seed file")
	}
}

func TestImportSeed_MalformedYAML(t *testing.T) {
	q := setupTestQueue(t)

	path := filepath.Join(t.TempDir(), "seed.yaml")
	if err := os.WriteFile(path, []byte("projects: [broken"), 0o644); err != nil {
		t.Fatalf("write seed: %v", err)
	}
	if _, _, err := importSeed(context.Background(), q, path); err == nil {
		t.Fatal("expected a parse error")
	}
}

func TestImportSeed_InvalidTaskStopsImport(t *testing.T) {
	q := setupTestQueue(t)

	seed := `projects:
  - name: p
    tasks:
      - type: ""
        description: no type given
`
	path := filepath.Join(t.TempDir(), "seed.yaml")
	if err := os.WriteFile(path, []byte(seed), 0o644); err != nil {
		t.Fatalf("write seed: %v", err)
	}
	if _, _, err := importSeed(context.Background(), q, path); err == nil {
		t.Fatal("expected a validation error for an empty task type")
	}
}
