package registry_test

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"mmos/pkg/assign"
	"mmos/pkg/protocol"
	"mmos/pkg/queue"
	"mmos/pkg/registry"
	"mmos/pkg/store"
)

func setupTestDB(t *testing.T) *store.DB {
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

func register(t *testing.T, r *registry.Registry, name string) registry.RegisterResult {
	t.Helper()

	res, err := r.Register(context.Background(), registry.RegisterParams{
		Name:         name,
		Kind:         "claude",
		Capabilities: []string{"code"},
		Capacity:     1,
	})
	if err != nil {
		t.Fatalf("register %s: %v", name, err)
	}
	return res
}

func TestRegisterNewWorker(t *testing.T) {
	db := setupTestDB(t)
	r := registry.New(db)

	res := register(t, r, "claude-1")
	if res.WorkerID == 0 {
		t.Fatal("expected a worker id")
	}
	if res.Updated {
		t.Error("first registration must not report updated")
	}
	if res.Requeued != 0 {
		t.Errorf("nothing to requeue, got %d", res.Requeued)
	}

	snap, err := r.GetStatus(context.Background(), "claude-1")
	if err != nil {
		t.Fatalf("GetStatus: %v", err)
	}
	if snap.Worker.Status != protocol.WorkerIdle {
		t.Errorf("new worker should be idle, got %s", snap.Worker.Status)
	}
	if snap.Pool.Status != protocol.PoolAvailable {
		t.Errorf("new pool entry should be available, got %s", snap.Pool.Status)
	}
	if len(snap.Worker.Capabilities) != 1 || snap.Worker.Capabilities[0] != "code" {
		t.Errorf("capabilities not stored: %v", snap.Worker.Capabilities)
	}
}

func TestRegisterIsIdempotentByName(t *testing.T) {
	db := setupTestDB(t)
	r := registry.New(db)
	ctx := context.Background()

	first := register(t, r, "claude-1")

	second, err := r.Register(ctx, registry.RegisterParams{
		Name:         "claude-1",
		Kind:         "claude-opus",
		Capabilities: []string{"code", "review"},
		Capacity:     2,
	})
	if err != nil {
		t.Fatalf("re-register: %v", err)
	}
	if second.WorkerID != first.WorkerID {
		t.Fatalf("re-registration must reuse the identity: %d != %d", second.WorkerID, first.WorkerID)
	}
	if !second.Updated {
		t.Error("re-registration must report updated")
	}

	snap, err := r.GetStatus(ctx, "claude-1")
	if err != nil {
		t.Fatalf("GetStatus: %v", err)
	}
	if snap.Worker.Type != "claude-opus" {
		t.Errorf("kind not overwritten: %s", snap.Worker.Type)
	}
	if snap.Worker.Capacity != 2 {
		t.Errorf("capacity not overwritten: %d", snap.Worker.Capacity)
	}
	if len(snap.Worker.Capabilities) != 2 {
		t.Errorf("capabilities not overwritten: %v", snap.Worker.Capabilities)
	}
}

func TestRegisterValidation(t *testing.T) {
	db := setupTestDB(t)
	r := registry.New(db)
	ctx := context.Background()

	cases := []struct {
		name   string
		params registry.RegisterParams
	}{
		{"empty name", registry.RegisterParams{Kind: "claude", Capacity: 1}},
		{"empty kind", registry.RegisterParams{Name: "w", Capacity: 1}},
		{"zero capacity", registry.RegisterParams{Name: "w", Kind: "claude"}},
		{"negative capacity", registry.RegisterParams{Name: "w", Kind: "claude", Capacity: -1}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := r.Register(ctx, tc.params)
			var verr *protocol.ValidationError
			if !errors.As(err, &verr) {
				t.Fatalf("expected ValidationError, got %v", err)
			}
		})
	}
}

func TestRegisterRequeuesOrphanedTasks(t *testing.T) {
	db := setupTestDB(t)
	r := registry.New(db)
	q := queue.New(db)
	eng := assign.New(db)
	ctx := context.Background()

	res := register(t, r, "claude-1")

	projectID, err := q.CreateProject(ctx, "p", "", 5)
	if err != nil {
		t.Fatalf("create project: %v", err)
	}
	taskID, err := q.CreateTask(ctx, queue.CreateTaskParams{
		ProjectID: projectID, Type: "coding", Description: "d",
	})
	if err != nil {
		t.Fatalf("create task: %v", err)
	}

	if _, err := eng.Assign(ctx, assign.AssignParams{TaskID: taskID, WorkerName: "claude-1"}); err != nil {
		t.Fatalf("assign: %v", err)
	}
	if _, err := eng.Accept(ctx, taskID, res.WorkerID); err != nil {
		t.Fatalf("accept: %v", err)
	}

	// Simulated crash: the worker re-registers mid-task.
	second := register(t, r, "claude-1")
	if second.Requeued != 1 {
		t.Fatalf("expected 1 requeued task, got %d", second.Requeued)
	}

	task, err := q.GetTask(ctx, taskID)
	if err != nil {
		t.Fatalf("get task: %v", err)
	}
	if task.Status != protocol.TaskPending {
		t.Errorf("orphaned task should be pending again, got %s", task.Status)
	}
	if task.AssignedWorkerID != 0 {
		t.Errorf("assigned worker should be cleared, got %d", task.AssignedWorkerID)
	}

	entries, err := db.QueryLog(ctx, store.LogQueryOpts{TaskID: taskID, ChangedBy: protocol.SystemActor})
	if err != nil {
		t.Fatalf("query log: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected one system requeue entry, got %d", len(entries))
	}
	if entries[0].NewStatus != protocol.TaskPending {
		t.Errorf("requeue entry should record pending, got %s", entries[0].NewStatus)
	}

	snap, err := r.GetStatus(ctx, "claude-1")
	if err != nil {
		t.Fatalf("GetStatus: %v", err)
	}
	if snap.Worker.Status != protocol.WorkerIdle {
		t.Errorf("re-registered worker should be idle, got %s", snap.Worker.Status)
	}
	if snap.Pool.Status != protocol.PoolAvailable || snap.CurrentTask != nil {
		t.Error("pool entry should be released after requeue")
	}
}

func TestHeartbeat(t *testing.T) {
	db := setupTestDB(t)
	r := registry.New(db)
	ctx := context.Background()

	register(t, r, "claude-1")

	known, err := r.Heartbeat(ctx, "claude-1")
	if err != nil {
		t.Fatalf("heartbeat: %v", err)
	}
	if !known {
		t.Error("heartbeat for a registered worker should report known")
	}

	known, err = r.Heartbeat(ctx, "ghost")
	if err != nil {
		t.Fatalf("heartbeat unknown: %v", err)
	}
	if known {
		t.Error("heartbeat for an unregistered name must report unknown")
	}

	// And it must not have created a row.
	if _, err := r.GetStatus(ctx, "ghost"); err == nil {
		t.Fatal("heartbeat must never create a worker")
	}
}

func TestMarkOffline(t *testing.T) {
	db := setupTestDB(t)
	r := registry.New(db)
	ctx := context.Background()

	register(t, r, "claude-1")

	if err := r.MarkOffline(ctx, "claude-1"); err != nil {
		t.Fatalf("mark offline: %v", err)
	}
	snap, err := r.GetStatus(ctx, "claude-1")
	if err != nil {
		t.Fatalf("GetStatus: %v", err)
	}
	if snap.Worker.Status != protocol.WorkerOffline {
		t.Errorf("expected offline, got %s", snap.Worker.Status)
	}

	var nf *protocol.NotFoundError
	if err := r.MarkOffline(ctx, "ghost"); !errors.As(err, &nf) {
		t.Fatalf("expected NotFoundError for unknown worker, got %v", err)
	}
}

func TestDiscoverListsAllWorkers(t *testing.T) {
	db := setupTestDB(t)
	r := registry.New(db)
	ctx := context.Background()

	register(t, r, "claude-1")
	register(t, r, "gpt-1")
	if err := r.MarkOffline(ctx, "gpt-1"); err != nil {
		t.Fatalf("mark offline: %v", err)
	}

	snaps, err := r.Discover(ctx)
	if err != nil {
		t.Fatalf("discover: %v", err)
	}
	if len(snaps) != 2 {
		t.Fatalf("expected 2 workers, got %d", len(snaps))
	}
}

func TestDiscoverOrdersBusyIdleOffline(t *testing.T) {
	db := setupTestDB(t)
	r := registry.New(db)
	ctx := context.Background()

	register(t, r, "idle-1")
	register(t, r, "busy-1")
	register(t, r, "gone-1")

	if _, err := db.SQL().Exec(`UPDATE workers SET status = 'busy' WHERE instance_name = 'busy-1'`); err != nil {
		t.Fatalf("mark busy: %v", err)
	}
	if err := r.MarkOffline(ctx, "gone-1"); err != nil {
		t.Fatalf("mark offline: %v", err)
	}

	snaps, err := r.Discover(ctx)
	if err != nil {
		t.Fatalf("discover: %v", err)
	}
	if len(snaps) != 3 {
		t.Fatalf("expected 3 workers, got %d", len(snaps))
	}
	want := []string{"busy-1", "idle-1", "gone-1"}
	for i, name := range want {
		if snaps[i].Worker.InstanceName != name {
			t.Errorf("position %d: expected %s, got %s", i, name, snaps[i].Worker.InstanceName)
		}
	}
}
