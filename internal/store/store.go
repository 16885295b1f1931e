package store

import (
	"context"
	"errors"
	"time"

	"coderoom/internal/models"
)

var ErrNotFound = errors.New("document not found")

// DocumentStore persists one document per room.
type DocumentStore interface {
	FindByRoom(ctx context.Context, roomID string) (*models.Document, error)
	// FindOrCreate returns the room's document, inserting defaultContent if none exists.
	FindOrCreate(ctx context.Context, roomID, defaultContent string) (*models.Document, error)
	Upsert(ctx context.Context, roomID, content string, updatedAt time.Time) error
	Close(ctx context.Context) error
}
