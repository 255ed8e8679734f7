package store

// migration holds a single schema migration with its target version and SQL.
type migration struct {
	version int
	sql     string
}

// migrations is the ordered list of schema migrations, versions sequential
// from 1.
var migrations = []migration{
	{
		version: 1,
		sql: `
CREATE TABLE IF NOT EXISTS schema_version (
	version INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS jobs (
	id               TEXT PRIMARY KEY,
	owner_id         TEXT NOT NULL,
	kind             TEXT NOT NULL,
	name             TEXT NOT NULL,
	schedule         TEXT NOT NULL,
	config           TEXT NOT NULL DEFAULT '{}',
	is_active        INTEGER NOT NULL DEFAULT 1 CHECK(is_active IN (0, 1)),
	next_run_at      DATETIME NOT NULL,
	last_run_at      DATETIME,
	last_run_status  TEXT NOT NULL DEFAULT '',
	last_run_message TEXT NOT NULL DEFAULT '',
	created_at       DATETIME NOT NULL,
	updated_at       DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS job_executions (
	id            TEXT PRIMARY KEY,
	job_id        TEXT NOT NULL,
	owner_id      TEXT NOT NULL,
	started_at    DATETIME NOT NULL,
	completed_at  DATETIME,
	status        TEXT NOT NULL,
	result        TEXT NOT NULL DEFAULT '',
	error_message TEXT NOT NULL DEFAULT '',
	elapsed_ms    INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS rules (
	id         TEXT PRIMARY KEY,
	owner_id   TEXT NOT NULL,
	name       TEXT NOT NULL,
	conditions TEXT NOT NULL DEFAULT '[]',
	actions    TEXT NOT NULL DEFAULT '[]',
	schedule   TEXT,
	is_active  INTEGER NOT NULL DEFAULT 1 CHECK(is_active IN (0, 1)),
	created_at DATETIME NOT NULL,
	updated_at DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS rule_executions (
	id                TEXT PRIMARY KEY,
	rule_id           TEXT NOT NULL,
	owner_id          TEXT NOT NULL,
	emails_processed  INTEGER NOT NULL DEFAULT 0,
	emails_matched    INTEGER NOT NULL DEFAULT 0,
	actions_performed INTEGER NOT NULL DEFAULT 0,
	success           INTEGER NOT NULL DEFAULT 0 CHECK(success IN (0, 1)),
	error_message     TEXT NOT NULL DEFAULT '',
	elapsed_ms        INTEGER NOT NULL DEFAULT 0,
	created_at        DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_jobs_owner ON jobs(owner_id);
CREATE INDEX IF NOT EXISTS idx_jobs_due ON jobs(owner_id, is_active, next_run_at);
CREATE INDEX IF NOT EXISTS idx_job_executions_job ON job_executions(job_id, started_at);
CREATE INDEX IF NOT EXISTS idx_rules_owner ON rules(owner_id, is_active);
CREATE INDEX IF NOT EXISTS idx_rule_executions_rule ON rule_executions(rule_id, created_at);

INSERT INTO schema_version (version) VALUES (1);
`,
	},
}
