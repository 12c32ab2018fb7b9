package storage

// createTableSQL holds the per-user schema, grounded on
// other_examples/matta-gotmuch's persist.go createTableSql convention: a
// slice of standalone CREATE TABLE IF NOT EXISTS statements executed in
// order on first open.
var createTableSQL = []string{
	`
CREATE TABLE IF NOT EXISTS email_index (
	id                       TEXT NOT NULL PRIMARY KEY,
	thread_id                TEXT NOT NULL,
	sender                   TEXT NOT NULL,
	recipients               TEXT NOT NULL DEFAULT '[]',
	subject                  TEXT,
	snippet                  TEXT,
	labels                   TEXT NOT NULL DEFAULT '[]',
	has_attachments          INTEGER NOT NULL DEFAULT 0,
	date                     TEXT NOT NULL,
	year                     INTEGER NOT NULL,
	size_bytes               INTEGER NOT NULL DEFAULT 0,
	category                 TEXT,
	archived                 INTEGER NOT NULL DEFAULT 0,
	archive_date             TEXT,
	archive_location         TEXT,
	importance_level         TEXT,
	importance_score         REAL,
	importance_matched_rules TEXT NOT NULL DEFAULT '[]',
	age_category             TEXT,
	size_category            TEXT,
	gmail_category           TEXT,
	spam_score               REAL,
	promotional_score        REAL,
	social_score             REAL,
	analysis_timestamp       TEXT,
	analysis_version         INTEGER NOT NULL DEFAULT 0,
	deleted                  INTEGER NOT NULL DEFAULT 0,
	last_accessed_at         TEXT,
	access_count             INTEGER NOT NULL DEFAULT 0
);`,
	`CREATE INDEX IF NOT EXISTS idx_email_index_category ON email_index(category);`,
	`CREATE INDEX IF NOT EXISTS idx_email_index_year ON email_index(year);`,
	`CREATE INDEX IF NOT EXISTS idx_email_index_archived ON email_index(archived);`,
	`
CREATE TABLE IF NOT EXISTS jobs (
	job_id         TEXT NOT NULL PRIMARY KEY,
	job_type       TEXT NOT NULL,
	status         TEXT NOT NULL,
	request_params BLOB,
	progress       INTEGER NOT NULL DEFAULT 0,
	results        BLOB,
	error_details  TEXT,
	created_at     TEXT NOT NULL,
	started_at     TEXT,
	completed_at   TEXT
);`,
	`CREATE INDEX IF NOT EXISTS idx_jobs_status ON jobs(status);`,
	`CREATE INDEX IF NOT EXISTS idx_jobs_type ON jobs(job_type);`,
	`
CREATE TABLE IF NOT EXISTS cleanup_policies (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	name        TEXT NOT NULL,
	enabled     INTEGER NOT NULL DEFAULT 1,
	priority    INTEGER NOT NULL DEFAULT 0,
	criteria    TEXT NOT NULL,
	action      TEXT NOT NULL,
	safety      TEXT NOT NULL,
	created_at  TEXT NOT NULL,
	updated_at  TEXT NOT NULL
);`,
	`
CREATE TABLE IF NOT EXISTS cleanup_schedules (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	policy_id   INTEGER NOT NULL,
	type        TEXT NOT NULL,
	expression  TEXT NOT NULL,
	enabled     INTEGER NOT NULL DEFAULT 1,
	next_run_at TEXT,
	created_at  TEXT NOT NULL,
	FOREIGN KEY (policy_id) REFERENCES cleanup_policies(id)
);`,
	`
CREATE TABLE IF NOT EXISTS saved_searches (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	name       TEXT NOT NULL,
	criteria   TEXT NOT NULL,
	created_at TEXT NOT NULL
);`,
	`
CREATE TABLE IF NOT EXISTS archive_rules (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	name       TEXT NOT NULL,
	criteria   TEXT NOT NULL,
	method     TEXT NOT NULL,
	created_at TEXT NOT NULL
);`,
	`
CREATE TABLE IF NOT EXISTS archive_records (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	email_id    TEXT NOT NULL,
	method      TEXT NOT NULL,
	location    TEXT,
	archived_at TEXT NOT NULL
);`,
}
