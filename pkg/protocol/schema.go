package protocol

// SchemaDDL defines the SQLite schema for the MMOS coordination database.
// Tables: projects, tasks, workers, worker_pool, status_log.
// Execute against a SQLite database with: db.Exec(SchemaDDL)
//
// The core never deletes rows from any of these tables, so no cascading
// deletes are declared.
const SchemaDDL = `
-- Operator-managed work sessions grouping tasks
CREATE TABLE IF NOT EXISTS projects (
    id INTEGER PRIMARY KEY,
    name TEXT NOT NULL,
    description TEXT NOT NULL DEFAULT '',
    status TEXT NOT NULL DEFAULT 'active',
    priority INTEGER NOT NULL DEFAULT 5,
    created_at TEXT NOT NULL DEFAULT (datetime('now'))
);

-- Dispatchable units of work; dependencies is a JSON array of task ids
CREATE TABLE IF NOT EXISTS tasks (
    id INTEGER PRIMARY KEY,
    project_id INTEGER NOT NULL REFERENCES projects(id),
    task_type TEXT NOT NULL,
    description TEXT NOT NULL,
    dependencies TEXT NOT NULL DEFAULT '[]',
    status TEXT NOT NULL DEFAULT 'pending',
    priority INTEGER NOT NULL DEFAULT 5,
    assigned_worker_id INTEGER REFERENCES workers(id),
    estimated_minutes INTEGER,
    result TEXT,
    created_at TEXT NOT NULL DEFAULT (datetime('now')),
    assigned_at TEXT,
    completed_at TEXT
);

CREATE INDEX IF NOT EXISTS idx_tasks_status ON tasks(status, priority DESC, created_at);
CREATE INDEX IF NOT EXISTS idx_tasks_worker ON tasks(assigned_worker_id);

-- Registered worker identities, upserted by instance_name
CREATE TABLE IF NOT EXISTS workers (
    id INTEGER PRIMARY KEY,
    instance_name TEXT NOT NULL UNIQUE,
    worker_type TEXT NOT NULL,
    status TEXT NOT NULL DEFAULT 'idle',
    capabilities TEXT NOT NULL DEFAULT '[]',
    capacity INTEGER NOT NULL DEFAULT 1,
    tasks_completed INTEGER NOT NULL DEFAULT 0,
    last_active TEXT NOT NULL DEFAULT (datetime('now'))
);

-- 1:1 pool companion used by the auto-assignment ranking query
CREATE TABLE IF NOT EXISTS worker_pool (
    worker_id INTEGER PRIMARY KEY REFERENCES workers(id),
    pool_status TEXT NOT NULL DEFAULT 'available',
    current_task_id INTEGER REFERENCES tasks(id),
    load_score INTEGER NOT NULL DEFAULT 0,
    last_task_completed_at TEXT
);

-- Append-only audit trail of task status transitions
CREATE TABLE IF NOT EXISTS status_log (
    id INTEGER PRIMARY KEY,
    task_id INTEGER NOT NULL REFERENCES tasks(id),
    previous_status TEXT NOT NULL,
    new_status TEXT NOT NULL,
    changed_by TEXT NOT NULL,
    reason TEXT NOT NULL DEFAULT '',
    created_at TEXT NOT NULL DEFAULT (datetime('now'))
);

CREATE INDEX IF NOT EXISTS idx_status_log_task ON status_log(task_id);
`
