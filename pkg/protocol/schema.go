package protocol

// SchemaDDL defines the SQLite schema for the shared Synapse state database.
// All local agent processes and CLI invocations open the same database (WAL
// mode) so that registry lookups, task mutations, and reply-stack operations
// are serialized by SQLite rather than by in-process locks.
// Execute against a SQLite database with: db.Exec(SchemaDDL)
const SchemaDDL = `
-- Live agent directory: one row per registered agent process
CREATE TABLE IF NOT EXISTS agents (
    agent_id TEXT PRIMARY KEY,
    kind TEXT NOT NULL,
    custom_name TEXT UNIQUE,
    port INTEGER NOT NULL UNIQUE,
    socket_path TEXT NOT NULL,
    working_dir TEXT NOT NULL DEFAULT '',
    pid INTEGER NOT NULL,
    pane TEXT NOT NULL DEFAULT '',
    last_heartbeat TEXT NOT NULL DEFAULT (datetime('now'))
);

-- Task records: created by senders, mutated by receivers, immutable once terminal
CREATE TABLE IF NOT EXISTS tasks (
    id TEXT PRIMARY KEY,
    sender TEXT NOT NULL,
    receiver TEXT NOT NULL,
    body TEXT NOT NULL,
    spill_ref TEXT NOT NULL DEFAULT '',
    priority INTEGER NOT NULL,
    response_expected INTEGER NOT NULL DEFAULT 0,
    state TEXT NOT NULL,
    created_at TEXT NOT NULL DEFAULT (datetime('now')),
    result TEXT,
    error TEXT
);

CREATE INDEX IF NOT EXISTS tasks_receiver ON tasks(receiver, created_at);
CREATE INDEX IF NOT EXISTS tasks_sender ON tasks(sender, created_at);

-- Reply stack: which senders are owed a reply by each receiver.
-- At most one outstanding entry per (receiver, sender) pair.
CREATE TABLE IF NOT EXISTS pending_replies (
    receiver TEXT NOT NULL,
    sender TEXT NOT NULL,
    task_id TEXT NOT NULL,
    registered_at TEXT NOT NULL DEFAULT (datetime('now')),
    seq INTEGER NOT NULL DEFAULT 0,
    PRIMARY KEY (receiver, sender)
);

-- Routing event log: every resolve/interrupt/transmit step, in order.
CREATE TABLE IF NOT EXISTS events (
    id INTEGER PRIMARY KEY,
    type TEXT NOT NULL,
    source TEXT NOT NULL,
    task_id TEXT,
    agent_id TEXT,
    payload TEXT,
    created_at TEXT NOT NULL DEFAULT (datetime('now'))
);
`
