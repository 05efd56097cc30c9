package intake

import (
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/ledgerline/confirm-pipeline/internal/blob"
	"github.com/ledgerline/confirm-pipeline/internal/domain"
)

// PushItem is one document notification inside a push delivery batch
type PushItem struct {
	MessageID   string    `json:"message_id" binding:"required"`
	ClientState string    `json:"client_state"`
	Locator     string    `json:"locator" binding:"required"`
	Generation  string    `json:"generation"`
	Sender      string    `json:"sender"`
	ReceivedAt  time.Time `json:"received_at"`
}

// PushNotification is the batched payload posted by the push provider
type PushNotification struct {
	Items []PushItem `json:"items" binding:"required"`
}

// NormalizePush converts a validated push item into the canonical candidate
// shape. The external key prefers the object generation when the provider
// supplies one, so a later backstop scan of the same object dedups against
// this delivery.
func NormalizePush(item PushItem, now time.Time) *domain.Candidate {
	key := domain.PushExternalKey(item.MessageID)
	if item.Generation != "" {
		key = domain.ObjectExternalKey(item.Locator, item.Generation)
	}

	receivedAt := item.ReceivedAt
	if receivedAt.IsZero() {
		receivedAt = now
	}

	return &domain.Candidate{
		ID:          ulid.Make().String(),
		ExternalKey: key,
		Channel:     domain.ChannelPush,
		Locator:     item.Locator,
		Sender:      item.Sender,
		ReceivedAt:  receivedAt,
	}
}

// NormalizeObject converts an object found by the backstop scan into the
// canonical candidate shape
func NormalizeObject(obj blob.Object) *domain.Candidate {
	return &domain.Candidate{
		ID:          ulid.Make().String(),
		ExternalKey: domain.ObjectExternalKey(obj.Locator, obj.Generation),
		Channel:     domain.ChannelBackstop,
		Locator:     obj.Locator,
		ReceivedAt:  obj.ModTime,
	}
}
