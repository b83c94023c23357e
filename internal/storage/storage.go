// Package storage defines the transcript archive interface.
package storage

import (
	"context"

	"github.com/hyperjump/doctalk/internal/models"
)

// Archive records uploaded documents and completed exchanges. It is write-only from the
// point of view of the chat session: nothing recorded here is loaded back into memory.
type Archive interface {
	RecordDocument(ctx context.Context, doc *models.Document) error
	RecordExchange(ctx context.Context, ex *models.Exchange) error

	// Stats
	CountDocuments(ctx context.Context) (int64, error)
	CountExchanges(ctx context.Context) (int64, error)

	Close() error
}
