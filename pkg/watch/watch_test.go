package watch_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"mmos/pkg/watch"
)

func TestWaitWakesOnDatabaseWrite(t *testing.T) {
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "mmos.db")
	if err := os.WriteFile(dbPath, []byte("x"), 0o644); err != nil {
		t.Fatalf("seed db file: %v", err)
	}

	w := watch.New(dbPath, time.Minute)
	defer w.Close()

	done := make(chan error, 1)
	go func() { done <- w.Wait(context.Background()) }()

	// Give Wait a moment to enter its select, then touch the WAL sidecar.
	time.Sleep(50 * time.Millisecond)
	if err := os.WriteFile(dbPath+"-wal", []byte("y"), 0o644); err != nil {
		t.Fatalf("write wal: %v", err)
	}

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("wait: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("wait did not wake on a database write")
	}
}

func TestWaitIgnoresUnrelatedFiles(t *testing.T) {
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "mmos.db")

	w := watch.New(dbPath, 500*time.Millisecond)
	defer w.Close()

	start := time.Now()
	done := make(chan error, 1)
	go func() { done <- w.Wait(context.Background()) }()

	time.Sleep(50 * time.Millisecond)
	if err := os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("y"), 0o644); err != nil {
		t.Fatalf("write unrelated file: %v", err)
	}

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("wait: %v", err)
		}
		// The only wakeup source should have been the fallback timer.
		if elapsed := time.Since(start); elapsed < 400*time.Millisecond {
			t.Errorf("woke after %v, before the fallback interval", elapsed)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("fallback timer never fired")
	}
}

func TestWaitFallbackTick(t *testing.T) {
	// A path whose directory does not exist forces ticker-only mode.
	w := watch.New(filepath.Join(t.TempDir(), "missing", "mmos.db"), 100*time.Millisecond)
	defer w.Close()

	start := time.Now()
	if err := w.Wait(context.Background()); err != nil {
		t.Fatalf("wait: %v", err)
	}
	if elapsed := time.Since(start); elapsed < 80*time.Millisecond {
		t.Errorf("ticker-only wait returned after %v, expected the fallback interval", elapsed)
	}
}

func TestWaitReturnsContextError(t *testing.T) {
	dir := t.TempDir()
	w := watch.New(filepath.Join(dir, "mmos.db"), time.Minute)
	defer w.Close()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Wait(ctx) }()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("expected context.Canceled, got %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("wait did not observe cancellation")
	}
}
