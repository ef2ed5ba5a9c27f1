package sqliterepo

// schema creates the durable tables for agents, links, runs, run logs and
// per-agent run outputs; there is no sessions table. Mirrors the hand-written CREATE TABLE IF NOT EXISTS convention
// used across the rest of the pack rather than a migration framework.
const schema = `
CREATE TABLE IF NOT EXISTS agents (
    id          TEXT PRIMARY KEY,
    session_id  TEXT NOT NULL,
    name        TEXT NOT NULL,
    role        TEXT NOT NULL DEFAULT '',
    system_text TEXT NOT NULL DEFAULT '',
    model       TEXT NOT NULL DEFAULT '',
    temperature REAL NOT NULL DEFAULT 0.7,
    max_tokens  INTEGER NOT NULL DEFAULT 0,
    created_at  TEXT NOT NULL DEFAULT (datetime('now')),
    updated_at  TEXT NOT NULL DEFAULT (datetime('now'))
);

CREATE INDEX IF NOT EXISTS idx_agents_session ON agents(session_id);

CREATE TABLE IF NOT EXISTS links (
    child_id    TEXT PRIMARY KEY REFERENCES agents(id) ON DELETE CASCADE,
    session_id  TEXT NOT NULL,
    parent_id   TEXT NOT NULL,
    created_at  TEXT NOT NULL DEFAULT (datetime('now'))
);

CREATE INDEX IF NOT EXISTS idx_links_parent ON links(parent_id);
CREATE INDEX IF NOT EXISTS idx_links_session ON links(session_id);

CREATE TABLE IF NOT EXISTS runs (
    id            TEXT PRIMARY KEY,
    session_id    TEXT NOT NULL,
    root_id       TEXT NOT NULL,
    status        TEXT NOT NULL DEFAULT 'pending'
                  CHECK(status IN ('pending','running','completed','failed','cancelled')),
    prompt        TEXT NOT NULL DEFAULT '',
    task          TEXT NOT NULL DEFAULT '',
    final_output  TEXT NOT NULL DEFAULT '',
    created_at    TEXT NOT NULL DEFAULT (datetime('now')),
    updated_at    TEXT NOT NULL DEFAULT (datetime('now'))
);

CREATE INDEX IF NOT EXISTS idx_runs_session ON runs(session_id);

CREATE TABLE IF NOT EXISTS run_logs (
    id         INTEGER PRIMARY KEY AUTOINCREMENT,
    run_id     TEXT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
    agent_id   TEXT NOT NULL DEFAULT '',
    level      TEXT NOT NULL DEFAULT 'info',
    message    TEXT NOT NULL DEFAULT '',
    created_at TEXT NOT NULL DEFAULT (datetime('now'))
);

CREATE INDEX IF NOT EXISTS idx_run_logs_run ON run_logs(run_id);

CREATE TABLE IF NOT EXISTS run_agent_outputs (
    run_id     TEXT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
    agent_id   TEXT NOT NULL,
    output     TEXT NOT NULL DEFAULT '',
    PRIMARY KEY (run_id, agent_id)
);
`

// pragmas tunes SQLite for a single-process, moderately concurrent workload.
const pragmas = `
PRAGMA journal_mode = WAL;
PRAGMA busy_timeout = 5000;
PRAGMA synchronous = NORMAL;
PRAGMA foreign_keys = ON;
`
