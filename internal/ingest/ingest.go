// Package ingest consumes document events from Kafka and applies them to
// the engine, publishing an index-complete event for each applied
// mutation. It lets producers feed the index without going through the
// HTTP API.
package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/wfertman/quarry/internal/engine"
	"github.com/wfertman/quarry/internal/store"
	"github.com/wfertman/quarry/pkg/kafka"
)

// Event actions understood by the consumer.
const (
	ActionUpsert = "upsert"
	ActionDelete = "delete"
)

// DocumentEvent is the wire format of a document mutation.
type DocumentEvent struct {
	Action   string            `json:"action"`
	ID       string            `json:"id"`
	Title    string            `json:"title,omitempty"`
	Content  string            `json:"content,omitempty"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// IndexedEvent is published after a mutation has been applied.
type IndexedEvent struct {
	DocumentID string    `json:"document_id"`
	Action     string    `json:"action"`
	IndexedAt  time.Time `json:"indexed_at"`
}

// Indexer is the part of the engine the consumer needs.
type Indexer interface {
	AddDocument(doc *store.Document) error
	UpdateDocument(doc *store.Document) error
	RemoveDocument(id string) error
	Document(id string) *store.Document
}

var _ Indexer = (*engine.Engine)(nil)

// Handler applies document events to the engine. completed may be nil
// when no downstream cares about index-complete events. onApply, when
// non-nil, runs after every successful mutation (the server uses it to
// invalidate the query cache and mirror to the archive).
func Handler(eng Indexer, completed *kafka.Producer, onApply func(ctx context.Context, ev DocumentEvent)) kafka.MessageHandler {
	logger := slog.Default().With("component", "ingest")
	return func(ctx context.Context, key, value []byte) error {
		ev, err := kafka.DecodeJSON[DocumentEvent](value)
		if err != nil {
			return err
		}
		switch ev.Action {
		case ActionUpsert:
			doc := &store.Document{
				ID:       ev.ID,
				Title:    ev.Title,
				Content:  ev.Content,
				Metadata: ev.Metadata,
			}
			if ev.ID != "" && eng.Document(ev.ID) != nil {
				err = eng.UpdateDocument(doc)
			} else {
				err = eng.AddDocument(doc)
			}
			if err != nil {
				return fmt.Errorf("upserting document %s: %w", ev.ID, err)
			}
			ev.ID = doc.ID
		case ActionDelete:
			if err := eng.RemoveDocument(ev.ID); err != nil {
				return fmt.Errorf("removing document %s: %w", ev.ID, err)
			}
		default:
			logger.Warn("ignoring unknown event action", "action", ev.Action, "doc_id", ev.ID)
			return nil
		}

		if onApply != nil {
			onApply(ctx, ev)
		}
		if completed != nil {
			completedEv := IndexedEvent{
				DocumentID: ev.ID,
				Action:     ev.Action,
				IndexedAt:  time.Now().UTC(),
			}
			if err := completed.Publish(ctx, kafka.Event{Key: ev.ID, Value: completedEv}); err != nil {
				logger.Error("publishing index-complete event failed", "doc_id", ev.ID, "error", err)
			}
		}
		logger.Debug("document event applied", "action", ev.Action, "doc_id", ev.ID)
		return nil
	}
}
