// Package knowledge is the tenant-grounding retrieval sink feeding the LLM
// Context Manager's PinnedPrefix: a small set of reference documents (product
// facts, character backstory, support macros — whatever the deployment wants
// the assistant grounded on) chunked, embedded, and searched by cosine
// distance via pgvector, the way original_source's RAGSystem grounds
// query_knowledge() but against a single committed Postgres backend instead
// of a pluggable in-memory/Chroma/OpenAI abstraction.
//
// Retrieval happens once at session open (spec §2.3): PinnedPrefix is never
// edited mid-turn, so Store is read from exactly once per session by
// whatever builds the initial contextmgr.Manager, never from inside a turn.
package knowledge

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	pgxvec "github.com/pgvector/pgvector-go/pgx"
	pgvector "github.com/pgvector/pgvector-go"
)

const ddl = `
CREATE EXTENSION IF NOT EXISTS vector;

CREATE TABLE IF NOT EXISTS knowledge_documents (
    id         TEXT         PRIMARY KEY,
    tenant_id  TEXT         NOT NULL DEFAULT '',
    content    TEXT         NOT NULL,
    metadata   JSONB        NOT NULL DEFAULT '{}',
    embedding  vector(%d),
    created_at TIMESTAMPTZ  NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_knowledge_documents_tenant
    ON knowledge_documents (tenant_id);

CREATE INDEX IF NOT EXISTS idx_knowledge_documents_embedding
    ON knowledge_documents USING hnsw (embedding vector_cosine_ops);
`

// Document is a single chunk of grounding material, the Go analogue of
// original_source's Document dataclass. Embedding is populated by an
// Embedder before Store.Upsert, never computed by Store itself.
type Document struct {
	ID        string
	TenantID  string
	Content   string
	Metadata  map[string]string
	Embedding []float32
}

// SearchResult pairs a retrieved Document with its cosine distance from the
// query embedding, mirroring original_source's SearchResult(document, score).
// Score is 1-distance so higher is always more relevant, matching the
// Python's cosine-similarity convention.
type SearchResult struct {
	Document Document
	Score    float64
}

// Store is the pgvector-backed home for knowledge documents. One Store is
// shared process-wide; callers scope queries by TenantID.
type Store struct {
	pool *pgxpool.Pool
	dims int
}

// Open connects to dsn, registers pgvector's wire codec on every connection,
// and ensures the schema exists. dims must match the embedder's output
// dimension (e.g. 1536 for OpenAI text-embedding-3-small, 768 for a local
// sentence-transformers model) — changing it later needs a manual migration.
func Open(ctx context.Context, dsn string, dims int) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("knowledge: parse dsn: %w", err)
	}
	cfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		return pgxvec.RegisterTypes(ctx, conn)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("knowledge: create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("knowledge: ping: %w", err)
	}
	if _, err := pool.Exec(ctx, fmt.Sprintf(ddl, dims)); err != nil {
		pool.Close()
		return nil, fmt.Errorf("knowledge: migrate: %w", err)
	}
	return &Store{pool: pool, dims: dims}, nil
}

// Close releases the underlying connection pool.
func (s *Store) Close() { s.pool.Close() }

// Upsert writes or replaces a Document. doc.Embedding must already be
// populated and of length s.dims.
func (s *Store) Upsert(ctx context.Context, doc Document) error {
	if len(doc.Embedding) != s.dims {
		return fmt.Errorf("knowledge: upsert %s: embedding has %d dims, store wants %d", doc.ID, len(doc.Embedding), s.dims)
	}
	const q = `
		INSERT INTO knowledge_documents (id, tenant_id, content, metadata, embedding)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO UPDATE SET
		    tenant_id = EXCLUDED.tenant_id,
		    content   = EXCLUDED.content,
		    metadata  = EXCLUDED.metadata,
		    embedding = EXCLUDED.embedding`

	vec := pgvector.NewVector(doc.Embedding)
	_, err := s.pool.Exec(ctx, q, doc.ID, doc.TenantID, doc.Content, metadataJSON(doc.Metadata), vec)
	if err != nil {
		return fmt.Errorf("knowledge: upsert %s: %w", doc.ID, err)
	}
	return nil
}

// Delete removes a document by id. It is a no-op if the id is unknown.
func (s *Store) Delete(ctx context.Context, id string) error {
	if _, err := s.pool.Exec(ctx, `DELETE FROM knowledge_documents WHERE id = $1`, id); err != nil {
		return fmt.Errorf("knowledge: delete %s: %w", id, err)
	}
	return nil
}

// Search returns the topK documents for tenantID closest to queryEmbedding by
// cosine distance, ordered most-similar first. An empty tenantID searches
// across all tenants, matching original_source's RAGSystem when no
// collection scoping is configured.
func (s *Store) Search(ctx context.Context, tenantID string, queryEmbedding []float32, topK int) ([]SearchResult, error) {
	queryVec := pgvector.NewVector(queryEmbedding)

	q := `
		SELECT id, tenant_id, content, embedding, 1 - (embedding <=> $1) AS score
		FROM   knowledge_documents
		WHERE  ($2 = '' OR tenant_id = $2)
		ORDER  BY embedding <=> $1
		LIMIT  $3`

	rows, err := s.pool.Query(ctx, q, queryVec, tenantID, topK)
	if err != nil {
		return nil, fmt.Errorf("knowledge: search: %w", err)
	}

	results, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (SearchResult, error) {
		var (
			r   SearchResult
			vec pgvector.Vector
		)
		if err := row.Scan(&r.Document.ID, &r.Document.TenantID, &r.Document.Content, &vec, &r.Score); err != nil {
			return SearchResult{}, err
		}
		r.Document.Embedding = vec.Slice()
		return r, nil
	})
	if err != nil {
		return nil, fmt.Errorf("knowledge: search: %w", err)
	}
	return results, nil
}

func metadataJSON(m map[string]string) map[string]string {
	if m == nil {
		return map[string]string{}
	}
	return m
}
