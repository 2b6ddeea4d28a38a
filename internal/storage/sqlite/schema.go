package sqlite

import "fmt"

// InitSchema creates all tables, indexes, and the sqlite-vec virtual table
// if they do not already exist. embeddingDim sizes the vec0 collection.
func (s *SQLiteDB) InitSchema(embeddingDim int) error {
	_, err := s.db.Exec(schemaSQL(embeddingDim))
	return err
}

func schemaSQL(embeddingDim int) string {
	return fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS projects (
	id TEXT PRIMARY KEY,
	name TEXT NOT NULL UNIQUE,
	deleted INTEGER NOT NULL DEFAULT 0,
	schema_json TEXT NOT NULL,
	entity_types_json TEXT NOT NULL,
	context_json TEXT NOT NULL,
	created_at INTEGER NOT NULL,
	updated_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS sources (
	id TEXT PRIMARY KEY,
	project_id TEXT NOT NULL REFERENCES projects(id),
	uri TEXT NOT NULL,
	source_group TEXT NOT NULL,
	content TEXT NOT NULL,
	cleaned_content TEXT,
	domain TEXT,
	title TEXT,
	status TEXT NOT NULL DEFAULT 'pending',
	errors_json TEXT,
	created_at INTEGER NOT NULL,
	updated_at INTEGER NOT NULL,
	UNIQUE(project_id, uri)
);
CREATE INDEX IF NOT EXISTS idx_sources_project_status ON sources(project_id, status);
CREATE INDEX IF NOT EXISTS idx_sources_project_domain ON sources(project_id, domain);

CREATE TABLE IF NOT EXISTS extractions (
	id TEXT PRIMARY KEY,
	project_id TEXT NOT NULL REFERENCES projects(id),
	source_id TEXT NOT NULL REFERENCES sources(id),
	source_group TEXT NOT NULL,
	extraction_type TEXT NOT NULL,
	data_json TEXT NOT NULL,
	confidence REAL NOT NULL,
	embedding_id TEXT,
	entities_extracted INTEGER NOT NULL DEFAULT 0,
	created_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_extractions_source ON extractions(source_id);
CREATE INDEX IF NOT EXISTS idx_extractions_orphan ON extractions(embedding_id) WHERE embedding_id IS NULL;
CREATE INDEX IF NOT EXISTS idx_extractions_pending_entities ON extractions(entities_extracted) WHERE entities_extracted = 0;
CREATE INDEX IF NOT EXISTS idx_extractions_group ON extractions(project_id, source_group);

CREATE TABLE IF NOT EXISTS entities (
	id TEXT PRIMARY KEY,
	project_id TEXT NOT NULL REFERENCES projects(id),
	source_group TEXT NOT NULL,
	entity_type TEXT NOT NULL,
	normalized_value TEXT NOT NULL,
	value TEXT NOT NULL,
	attributes_json TEXT,
	created_at INTEGER NOT NULL,
	UNIQUE(project_id, source_group, entity_type, normalized_value)
);

CREATE TABLE IF NOT EXISTS extraction_entities (
	id TEXT PRIMARY KEY,
	extraction_id TEXT NOT NULL REFERENCES extractions(id),
	entity_id TEXT NOT NULL REFERENCES entities(id),
	role TEXT NOT NULL,
	created_at INTEGER NOT NULL,
	UNIQUE(extraction_id, entity_id, role)
);

CREATE TABLE IF NOT EXISTS jobs (
	id TEXT PRIMARY KEY,
	parent_id TEXT,
	type TEXT NOT NULL,
	status TEXT NOT NULL,
	priority INTEGER NOT NULL DEFAULT 0,
	payload_json TEXT NOT NULL,
	result_json TEXT,
	error TEXT,
	cancellation_requested INTEGER NOT NULL DEFAULT 0,
	last_heartbeat_at INTEGER NOT NULL,
	created_at INTEGER NOT NULL,
	started_at INTEGER,
	completed_at INTEGER,
	updated_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_jobs_claim ON jobs(type, status, priority, created_at);
CREATE INDEX IF NOT EXISTS idx_jobs_parent ON jobs(parent_id);

CREATE TABLE IF NOT EXISTS domain_boilerplate (
	project_id TEXT NOT NULL,
	domain TEXT NOT NULL,
	hashes_json TEXT NOT NULL,
	threshold_pct REAL NOT NULL,
	min_pages INTEGER NOT NULL,
	min_block_chars INTEGER NOT NULL,
	pages_analyzed INTEGER NOT NULL,
	blocks_total INTEGER NOT NULL,
	blocks_boilerplate INTEGER NOT NULL,
	bytes_removed_avg REAL NOT NULL,
	updated_at INTEGER NOT NULL,
	PRIMARY KEY (project_id, domain)
);

-- Vector embeddings via sqlite-vec (spec §4.11); one row per extraction_id.
CREATE VIRTUAL TABLE IF NOT EXISTS vec_extractions USING vec0(
	point_id TEXT PRIMARY KEY,
	embedding float[%d] distance_metric=cosine
);

-- Full-text index over extraction JSON, populated but not queried by the
-- core (querying is out of scope per spec §1's report/export exclusion).
CREATE VIRTUAL TABLE IF NOT EXISTS extractions_fts USING fts5(
	data_text,
	content='',
	tokenize='porter unicode61'
);
`, embeddingDim)
}
