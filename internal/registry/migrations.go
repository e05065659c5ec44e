package registry

// migration represents a single schema migration.
type migration struct {
	Version int
	Name    string
	SQL     string
}

// migrations is the ordered list of all schema migrations.
var migrations = []migration{
	{
		Version: 1,
		Name:    "create agents",
		SQL: `
			CREATE TABLE agents (
				name         TEXT PRIMARY KEY,
				file_path    TEXT NOT NULL,
				description  TEXT NOT NULL DEFAULT '',
				created_at   TEXT NOT NULL DEFAULT (datetime('now')),
				usage_count  INTEGER NOT NULL DEFAULT 0
			);

			CREATE INDEX idx_agents_usage ON agents (usage_count DESC);
		`,
	},
	{
		Version: 2,
		Name:    "create workflow runs",
		SQL: `
			CREATE TABLE runs (
				id           TEXT PRIMARY KEY,
				source_path  TEXT NOT NULL DEFAULT '',
				steps        INTEGER NOT NULL DEFAULT 0,
				status       TEXT NOT NULL DEFAULT 'pending',
				started_at   TEXT NOT NULL DEFAULT (datetime('now')),
				finished_at  TEXT
			);

			CREATE INDEX idx_runs_started ON runs (started_at DESC);
		`,
	},
}
