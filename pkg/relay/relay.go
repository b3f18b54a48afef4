// Package relay delivers bridge messages between chains during a cross-chain transfer.
package relay

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/sigweihq/simchain/pkg/types"
)

// MessageRelay sends a bridge message and returns its message id
type MessageRelay interface {
	Send(ctx context.Context, msg types.BridgeMessage) (string, error)
}

// Envelope is the wire form of a bridge message
type Envelope struct {
	MessageID string              `json:"messageId"`
	CreatedAt time.Time           `json:"createdAt"`
	Message   types.BridgeMessage `json:"message"`
}

// NewEnvelope wraps msg with a fresh message id
func NewEnvelope(msg types.BridgeMessage) Envelope {
	return Envelope{
		MessageID: uuid.NewString(),
		CreatedAt: time.Now().UTC(),
		Message:   msg,
	}
}

// Marshal encodes the envelope as JSON
func (e Envelope) Marshal() ([]byte, error) {
	return json.Marshal(e)
}
