// Package archive persists documents to PostgreSQL so the in-memory
// index can be rebuilt at boot. The archive is a collaborator of the
// engine, not part of it: the engine never touches the database, and a
// missing archive only disables durability.
package archive

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/wfertman/quarry/internal/store"
	"github.com/wfertman/quarry/pkg/postgres"
	"github.com/wfertman/quarry/pkg/resilience"
)

const schema = `
CREATE TABLE IF NOT EXISTS documents (
    id         TEXT PRIMARY KEY,
    title      TEXT NOT NULL,
    content    TEXT NOT NULL,
    metadata   JSONB NOT NULL DEFAULT '{}',
    added_at   TIMESTAMPTZ NOT NULL DEFAULT now()
)`

// Archive stores canonical documents in PostgreSQL.
type Archive struct {
	client *postgres.Client
	retry  resilience.RetryConfig
	logger *slog.Logger
}

// New creates the archive and ensures its schema exists.
func New(ctx context.Context, client *postgres.Client) (*Archive, error) {
	if _, err := client.DB.ExecContext(ctx, schema); err != nil {
		return nil, fmt.Errorf("creating documents table: %w", err)
	}
	return &Archive{
		client: client,
		retry:  resilience.RetryConfig{MaxAttempts: 3, InitialDelay: 50 * time.Millisecond},
		logger: slog.Default().With("component", "archive"),
	}, nil
}

// Save upserts a document, retrying transient failures.
func (a *Archive) Save(ctx context.Context, doc *store.Document) error {
	meta, err := json.Marshal(doc.Metadata)
	if err != nil {
		return fmt.Errorf("marshaling metadata for %s: %w", doc.ID, err)
	}
	return resilience.Retry(ctx, "archive-save", a.retry, func() error {
		_, err := a.client.DB.ExecContext(ctx,
			`INSERT INTO documents (id, title, content, metadata, added_at)
			 VALUES ($1, $2, $3, $4, $5)
			 ON CONFLICT (id) DO UPDATE
			 SET title = EXCLUDED.title,
			     content = EXCLUDED.content,
			     metadata = EXCLUDED.metadata,
			     added_at = EXCLUDED.added_at`,
			doc.ID, doc.Title, doc.Content, meta, doc.AddedAt,
		)
		return err
	})
}

// Delete removes a document from the archive, retrying transient
// failures. Deleting an unknown ID is not an error.
func (a *Archive) Delete(ctx context.Context, id string) error {
	return resilience.Retry(ctx, "archive-delete", a.retry, func() error {
		_, err := a.client.DB.ExecContext(ctx, `DELETE FROM documents WHERE id = $1`, id)
		return err
	})
}

// Clear empties the archive inside a transaction.
func (a *Archive) Clear(ctx context.Context) error {
	return a.client.InTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `TRUNCATE documents`)
		return err
	})
}

// LoadAll streams every archived document, ordered by ID for
// deterministic replay.
func (a *Archive) LoadAll(ctx context.Context) ([]*store.Document, error) {
	rows, err := a.client.DB.QueryContext(ctx,
		`SELECT id, title, content, metadata, added_at FROM documents ORDER BY id`,
	)
	if err != nil {
		return nil, fmt.Errorf("querying documents: %w", err)
	}
	defer rows.Close()

	var docs []*store.Document
	for rows.Next() {
		var doc store.Document
		var meta []byte
		if err := rows.Scan(&doc.ID, &doc.Title, &doc.Content, &meta, &doc.AddedAt); err != nil {
			return nil, fmt.Errorf("scanning document row: %w", err)
		}
		if len(meta) > 0 {
			if err := json.Unmarshal(meta, &doc.Metadata); err != nil {
				a.logger.Warn("skipping unreadable metadata", "doc_id", doc.ID, "error", err)
			}
		}
		docs = append(docs, &doc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating document rows: %w", err)
	}
	a.logger.Info("archive loaded", "documents", len(docs))
	return docs, nil
}

// Ping reports archive connectivity for health checks.
func (a *Archive) Ping(ctx context.Context) error {
	return a.client.DB.PingContext(ctx)
}
