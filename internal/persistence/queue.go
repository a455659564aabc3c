package persistence

import (
	"context"
	"errors"
	"time"

	"standin/internal/models"
)

// ErrMessageNotFound is returned by DeleteMessage when no row matches the
// message id and delete token. Either the message was already acknowledged,
// or the token went stale because another reader reclaimed the message after
// the caller's visibility timeout lapsed.
var ErrMessageNotFound = errors.New("message not found")

// Queue is the durable work-queue abstraction callers depend on. Delivery is
// at-least-once: a received message stays hidden for its visibility timeout
// and becomes claimable again if not deleted in time.
type Queue interface {
	// SendMessage enqueues one message, claimable immediately.
	SendMessage(ctx context.Context, message string) error

	// ReceiveMessages claims up to max currently visible messages, hiding
	// each for visibilityTimeout. No ordering is guaranteed.
	ReceiveMessages(ctx context.Context, max int, visibilityTimeout time.Duration) ([]models.Message, error)

	// DeleteMessage acknowledges a message using the delete token from its
	// most recent claim.
	DeleteMessage(ctx context.Context, message models.Message) error

	// DeleteQueue removes the queue's backing store entirely.
	DeleteQueue(ctx context.Context) error
}
