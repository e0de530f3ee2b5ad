package taskstore

const schema = `
CREATE TABLE IF NOT EXISTS runs (
    id TEXT PRIMARY KEY,
    repo_root TEXT NOT NULL,
    base_branch TEXT NOT NULL,
    prompt TEXT NOT NULL,
    k INTEGER NOT NULL,
    started_at TIMESTAMP NOT NULL,
    finished_at TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_runs_started_at ON runs(started_at);

CREATE TABLE IF NOT EXISTS outcomes (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    run_id TEXT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
    agent TEXT NOT NULL,
    status TEXT NOT NULL,
    state TEXT NOT NULL,
    published BOOLEAN DEFAULT FALSE,
    pr_url TEXT,
    branch TEXT,
    files_touched INTEGER DEFAULT 0,
    apply_failed BOOLEAN DEFAULT FALSE,
    error TEXT,
    started_at TIMESTAMP,
    finished_at TIMESTAMP,
    UNIQUE(run_id, agent)
);

CREATE INDEX IF NOT EXISTS idx_outcomes_run_id ON outcomes(run_id);
`
