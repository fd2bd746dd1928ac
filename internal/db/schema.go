package db

import "fmt"

// SchemaSQL returns the database schema initialization SQL. All statements
// use IF NOT EXISTS so bootstrap is idempotent across restarts.
func SchemaSQL(embeddingDimension int) string {
	return fmt.Sprintf(`
    -- ==========================================================================
    -- COLLECTION TABLE (read-only to the pipeline; owned by the platform)
    -- ==========================================================================
    DEFINE TABLE IF NOT EXISTS collection SCHEMAFULL;
    DEFINE FIELD IF NOT EXISTS name ON collection TYPE string;
    DEFINE FIELD IF NOT EXISTS embedding_vendor ON collection TYPE string DEFAULT 'ollama';
    DEFINE FIELD IF NOT EXISTS embedding_model ON collection TYPE string DEFAULT 'all-minilm:l6-v2';
    DEFINE FIELD IF NOT EXISTS embedding_dimension ON collection TYPE int DEFAULT %[1]d;
    DEFINE FIELD IF NOT EXISTS captioning ON collection TYPE bool DEFAULT false;
    DEFINE FIELD IF NOT EXISTS created_at ON collection TYPE datetime DEFAULT time::now();

    -- ==========================================================================
    -- INGEST_JOB TABLE (one row per ingestion attempt)
    -- ==========================================================================
    DEFINE TABLE IF NOT EXISTS ingest_job SCHEMAFULL;
    DEFINE FIELD IF NOT EXISTS collection ON ingest_job TYPE string;
    DEFINE FIELD IF NOT EXISTS source ON ingest_job TYPE string;
    DEFINE FIELD IF NOT EXISTS status ON ingest_job TYPE string
        ASSERT $value IN ['pending', 'processing', 'completed', 'failed', 'cancelled'];
    DEFINE FIELD IF NOT EXISTS strategy ON ingest_job TYPE string;
    DEFINE FIELD IF NOT EXISTS strategy_params ON ingest_job TYPE option<object> FLEXIBLE;
    DEFINE FIELD IF NOT EXISTS progress_current ON ingest_job TYPE int DEFAULT 0;
    DEFINE FIELD IF NOT EXISTS progress_total ON ingest_job TYPE int DEFAULT 0;
    DEFINE FIELD IF NOT EXISTS progress_message ON ingest_job TYPE string DEFAULT '';
    DEFINE FIELD IF NOT EXISTS error_message ON ingest_job TYPE option<string>;
    DEFINE FIELD IF NOT EXISTS error_details ON ingest_job TYPE option<object> FLEXIBLE;
    DEFINE FIELD IF NOT EXISTS chunk_count ON ingest_job TYPE int DEFAULT 0;
    DEFINE FIELD IF NOT EXISTS cancel_requested ON ingest_job TYPE bool DEFAULT false;
    DEFINE FIELD IF NOT EXISTS retried_count ON ingest_job TYPE int DEFAULT 0;
    DEFINE FIELD IF NOT EXISTS created_at ON ingest_job TYPE datetime DEFAULT time::now();
    DEFINE FIELD IF NOT EXISTS processing_started_at ON ingest_job TYPE option<datetime>;
    DEFINE FIELD IF NOT EXISTS processing_completed_at ON ingest_job TYPE option<datetime>;
    DEFINE FIELD IF NOT EXISTS heartbeat_at ON ingest_job TYPE option<datetime>;

    DEFINE INDEX IF NOT EXISTS ingest_job_collection ON ingest_job FIELDS collection;
    DEFINE INDEX IF NOT EXISTS ingest_job_status ON ingest_job FIELDS status;

    -- ==========================================================================
    -- CHUNK TABLE (vector sink target)
    -- ==========================================================================
    DEFINE TABLE IF NOT EXISTS chunk SCHEMAFULL;
    DEFINE FIELD IF NOT EXISTS job ON chunk TYPE string;
    DEFINE FIELD IF NOT EXISTS collection ON chunk TYPE string;
    DEFINE FIELD IF NOT EXISTS content ON chunk TYPE string;
    DEFINE FIELD IF NOT EXISTS position ON chunk TYPE int;
    DEFINE FIELD IF NOT EXISTS metadata ON chunk TYPE option<object> FLEXIBLE;
    DEFINE FIELD IF NOT EXISTS embedding ON chunk TYPE array<float>;
    DEFINE FIELD IF NOT EXISTS created_at ON chunk TYPE datetime DEFAULT time::now();

    DEFINE INDEX IF NOT EXISTS chunk_job ON chunk FIELDS job;
    DEFINE INDEX IF NOT EXISTS chunk_collection ON chunk FIELDS collection;
    DEFINE INDEX IF NOT EXISTS chunk_embedding ON chunk FIELDS embedding HNSW DIMENSION %[1]d DIST COSINE TYPE F32;
`, embeddingDimension)
}
