package store

// SchemaVersion identifies the current authoritative schema. InitSchema
// records it in schema_version; it does not read the recorded version
// back, and is idempotent because every DDL statement uses IF NOT
// EXISTS.
const SchemaVersion = 1

// coreSchemaTemplate creates every relational table the store depends on. The
// embedding column's dimension is interpolated at init time (it is
// fixed at startup per spec §3 and cannot be a bind parameter inside
// DDL), so this is a format string rather than a bare constant — the
// dimension value itself is validated as a positive integer before
// substitution, never taken from untrusted input.
const coreSchemaTemplate = `
CREATE EXTENSION IF NOT EXISTS vector;

CREATE TABLE IF NOT EXISTS schema_version (
    version INTEGER PRIMARY KEY,
    applied_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS memories (
    id UUID PRIMARY KEY,
    content TEXT NOT NULL,
    content_hash BYTEA NOT NULL,
    embedding vector(%d),
    tier TEXT NOT NULL DEFAULT 'working',
    status TEXT NOT NULL DEFAULT 'active',
    importance DOUBLE PRECISION NOT NULL DEFAULT 0.5,
    access_count INTEGER NOT NULL DEFAULT 0,
    last_accessed_at TIMESTAMPTZ,
    consolidation_strength DOUBLE PRECISION NOT NULL DEFAULT 2.0,
    decay_rate DOUBLE PRECISION NOT NULL DEFAULT 1.0,
    recall_probability DOUBLE PRECISION NOT NULL DEFAULT 1.0,
    successful_retrievals INTEGER NOT NULL DEFAULT 0,
    failed_retrievals INTEGER NOT NULL DEFAULT 0,
    total_retrievals INTEGER NOT NULL DEFAULT 0,
    ease_factor DOUBLE PRECISION NOT NULL DEFAULT 2.5,
    interval_days DOUBLE PRECISION NOT NULL DEFAULT 1.0,
    next_review_at TIMESTAMPTZ,
    metadata JSONB NOT NULL DEFAULT '{}',
    tags TEXT[] NOT NULL DEFAULT '{}',
    parent_id UUID REFERENCES memories(id),
    expires_at TIMESTAMPTZ,
    created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
    updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),

    CONSTRAINT memories_tier_check CHECK (tier IN ('working', 'warm', 'cold', 'frozen')),
    CONSTRAINT memories_status_check CHECK (status IN ('active', 'migrating', 'archived', 'deleted')),
    CONSTRAINT memories_importance_check CHECK (importance >= 0 AND importance <= 1),
    CONSTRAINT memories_strength_check CHECK (consolidation_strength >= 0.1 AND consolidation_strength <= 10.0),
    CONSTRAINT memories_recall_check CHECK (recall_probability >= 0 AND recall_probability <= 1),
    CONSTRAINT memories_ease_check CHECK (ease_factor >= 1.3 AND ease_factor <= 3.0)
);

CREATE UNIQUE INDEX IF NOT EXISTS memories_content_hash_tier_active_idx
    ON memories (content_hash, tier) WHERE status = 'active';

CREATE INDEX IF NOT EXISTS memories_tier_status_idx ON memories (tier, status);
CREATE INDEX IF NOT EXISTS memories_last_accessed_idx ON memories (last_accessed_at);
CREATE INDEX IF NOT EXISTS memories_next_review_idx ON memories (next_review_at);
CREATE INDEX IF NOT EXISTS memories_tags_gin_idx ON memories USING GIN (tags);
CREATE INDEX IF NOT EXISTS memories_parent_idx ON memories (parent_id);

CREATE TABLE IF NOT EXISTS memory_consolidation_log (
    id UUID PRIMARY KEY,
    memory_id UUID NOT NULL REFERENCES memories(id),
    old_g DOUBLE PRECISION NOT NULL,
    new_g DOUBLE PRECISION NOT NULL,
    old_p DOUBLE PRECISION NOT NULL,
    new_p DOUBLE PRECISION NOT NULL,
    event_kind TEXT NOT NULL,
    reason TEXT NOT NULL DEFAULT '',
    occurred_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS consolidation_log_memory_idx ON memory_consolidation_log (memory_id);

CREATE TABLE IF NOT EXISTS migration_history (
    id UUID PRIMARY KEY,
    memory_id UUID NOT NULL REFERENCES memories(id),
    from_tier TEXT NOT NULL,
    to_tier TEXT NOT NULL,
    reason TEXT NOT NULL DEFAULT '',
    started_at TIMESTAMPTZ NOT NULL,
    duration_ms BIGINT NOT NULL DEFAULT 0,
    success BOOLEAN NOT NULL,
    error TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS migration_history_memory_idx ON migration_history (memory_id);

CREATE TABLE IF NOT EXISTS insights (
    id UUID PRIMARY KEY,
    content TEXT NOT NULL,
    type TEXT NOT NULL,
    confidence DOUBLE PRECISION NOT NULL,
    tier TEXT NOT NULL DEFAULT 'working',
    aggregate_feedback DOUBLE PRECISION NOT NULL DEFAULT 0,
    version INTEGER NOT NULL DEFAULT 1,
    previous_version_id UUID REFERENCES insights(id),
    created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
    updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),

    CONSTRAINT insights_type_check CHECK (type IN ('learning', 'connection', 'relationship', 'assertion', 'mental-model', 'pattern')),
    CONSTRAINT insights_confidence_check CHECK (confidence >= 0 AND confidence <= 1),
    CONSTRAINT insights_feedback_check CHECK (aggregate_feedback >= -1 AND aggregate_feedback <= 1)
);

CREATE TABLE IF NOT EXISTS insight_sources (
    insight_id UUID NOT NULL REFERENCES insights(id),
    memory_id UUID NOT NULL REFERENCES memories(id),
    PRIMARY KEY (insight_id, memory_id)
);
CREATE INDEX IF NOT EXISTS insight_sources_memory_idx ON insight_sources (memory_id);

CREATE TABLE IF NOT EXISTS insight_vectors (
    insight_id UUID PRIMARY KEY REFERENCES insights(id),
    embedding vector(%d)
);

CREATE TABLE IF NOT EXISTS insight_feedback (
    id UUID PRIMARY KEY,
    insight_id UUID NOT NULL REFERENCES insights(id),
    rating SMALLINT NOT NULL,
    recorded_at TIMESTAMPTZ NOT NULL DEFAULT now(),

    CONSTRAINT insight_feedback_rating_check CHECK (rating IN (-2, -1, 1))
);
CREATE INDEX IF NOT EXISTS insight_feedback_insight_idx ON insight_feedback (insight_id);

CREATE TABLE IF NOT EXISTS processing_queue (
    id UUID PRIMARY KEY,
    kind TEXT NOT NULL,
    payload JSONB NOT NULL DEFAULT '{}',
    status TEXT NOT NULL DEFAULT 'pending',
    created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
    completed_at TIMESTAMPTZ
);
CREATE INDEX IF NOT EXISTS processing_queue_status_idx ON processing_queue (status, created_at);

CREATE TABLE IF NOT EXISTS frozen_payloads (
    memory_id UUID PRIMARY KEY REFERENCES memories(id),
    codec TEXT NOT NULL,
    original_bytes BIGINT NOT NULL,
    compressed_bytes BIGINT NOT NULL,
    payload_blob BYTEA NOT NULL
);

CREATE TABLE IF NOT EXISTS memory_links (
    memory_id UUID NOT NULL REFERENCES memories(id),
    linked_id UUID NOT NULL REFERENCES memories(id),
    relation_kind TEXT NOT NULL,
    depth_hint INTEGER NOT NULL DEFAULT 1,
    PRIMARY KEY (memory_id, linked_id, relation_kind)
);
CREATE INDEX IF NOT EXISTS memory_links_memory_idx ON memory_links (memory_id);
CREATE INDEX IF NOT EXISTS memory_links_linked_idx ON memory_links (linked_id);
`

// VectorIndexSchema creates the HNSW approximate-nearest-neighbor index
// over the embedding column, with the parameters spec §6 names as
// defaults. InitSchema applies it as a separate step after the core
// schema and continues without it if index creation fails.
const VectorIndexSchema = `
CREATE INDEX IF NOT EXISTS memories_embedding_hnsw_idx
    ON memories USING hnsw (embedding vector_cosine_ops)
    WITH (m = 48, ef_construction = 200);

CREATE INDEX IF NOT EXISTS insight_vectors_embedding_hnsw_idx
    ON insight_vectors USING hnsw (embedding vector_cosine_ops)
    WITH (m = 48, ef_construction = 200);
`

// FullTextSchema adds a generated tsvector column and GIN index over
// memory content, the Postgres-native analogue of the teacher's SQLite
// FTS5 virtual table — same concern (lexical full-text search),
// expressed in this engine's idiom. insights gets the same treatment so
// insight content is independently full-text searchable (spec §4.7's
// "insight inclusion": insights are merged into the candidate set, not
// just linked off a memory's own result).
const FullTextSchema = `
ALTER TABLE memories ADD COLUMN IF NOT EXISTS content_tsv tsvector
    GENERATED ALWAYS AS (to_tsvector('english', content)) STORED;
CREATE INDEX IF NOT EXISTS memories_content_tsv_idx ON memories USING GIN (content_tsv);

ALTER TABLE insights ADD COLUMN IF NOT EXISTS content_tsv tsvector
    GENERATED ALWAYS AS (to_tsvector('english', content)) STORED;
CREATE INDEX IF NOT EXISTS insights_content_tsv_idx ON insights USING GIN (content_tsv);
`
