package history

const schema = `
CREATE TABLE IF NOT EXISTS runs (
    attempt_id TEXT PRIMARY KEY,
    run_id TEXT,
    branch TEXT,
    repo_url TEXT NOT NULL,
    team_name TEXT,
    leader_name TEXT,
    mode TEXT NOT NULL DEFAULT 'api',
    final_status TEXT NOT NULL,
    time_taken_seconds REAL NOT NULL DEFAULT 0,
    commits_count INTEGER NOT NULL DEFAULT 0,
    total_failures INTEGER NOT NULL DEFAULT 0,
    total_fixes INTEGER NOT NULL DEFAULT 0,
    iterations_used INTEGER NOT NULL DEFAULT 0,
    score_base REAL NOT NULL,
    speed_bonus REAL NOT NULL,
    commit_penalty REAL NOT NULL,
    score_total REAL NOT NULL,
    files TEXT,
    completed_at TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_runs_run_id ON runs(run_id);
CREATE INDEX IF NOT EXISTS idx_runs_completed_at ON runs(completed_at);

CREATE TABLE IF NOT EXISTS fixes (
    attempt_id TEXT NOT NULL REFERENCES runs(attempt_id) ON DELETE CASCADE,
    seq INTEGER NOT NULL,
    file TEXT NOT NULL,
    line INTEGER NOT NULL,
    bug_type TEXT NOT NULL,
    commit_message TEXT,
    description TEXT,
    status TEXT NOT NULL,
    PRIMARY KEY (attempt_id, seq)
);

CREATE TABLE IF NOT EXISTS timeline (
    attempt_id TEXT NOT NULL REFERENCES runs(attempt_id) ON DELETE CASCADE,
    iteration INTEGER NOT NULL,
    status TEXT NOT NULL,
    timestamp TEXT,
    message TEXT,
    duration REAL,
    raw_log TEXT,
    PRIMARY KEY (attempt_id, iteration)
);
`
