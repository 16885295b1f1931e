package events

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"coderoom/internal/models"
)

const DocumentSavedChannel = "document_saved"

// Publisher announces persisted documents to other services.
type Publisher interface {
	PublishDocumentSaved(ctx context.Context, event models.DocumentSavedEvent) error
	Close() error
}

type RedisPublisher struct {
	rdb        *redis.Client
	instanceID string
}

func NewRedisPublisher(redisAddr string) *RedisPublisher {
	return NewRedisPublisherWithClient(redis.NewClient(&redis.Options{Addr: redisAddr}))
}

func NewRedisPublisherWithClient(rdb *redis.Client) *RedisPublisher {
	return &RedisPublisher{
		rdb:        rdb,
		instanceID: uuid.New().String()[:8],
	}
}

func (p *RedisPublisher) InstanceID() string { return p.instanceID }

func (p *RedisPublisher) PublishDocumentSaved(ctx context.Context, event models.DocumentSavedEvent) error {
	event.InstanceID = p.instanceID
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal document saved event: %w", err)
	}
	if err := p.rdb.Publish(ctx, DocumentSavedChannel, data).Err(); err != nil {
		return fmt.Errorf("failed to publish document saved event: %w", err)
	}
	return nil
}

func (p *RedisPublisher) Close() error { return p.rdb.Close() }

// Nop is used when no redis address is configured.
type Nop struct{}

func (Nop) PublishDocumentSaved(context.Context, models.DocumentSavedEvent) error { return nil }
func (Nop) Close() error                                                          { return nil }
