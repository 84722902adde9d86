package amqp

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
)

type MessageKind string

const (
	// KindPush asks the worker to mirror one transaction.
	KindPush MessageKind = "push"
	// KindClean asks the worker to reconcile and repair an owner's mirror.
	KindClean MessageKind = "clean"
)

// MirrorMessage is a lightweight work item. It carries IDs only; the
// worker reads the current state from the ledger.
type MirrorMessage struct {
	MessageID     string      `json:"message_id"`
	Kind          MessageKind `json:"kind"`
	OwnerID       int64       `json:"owner_id"`
	TransactionID int64       `json:"transaction_id,omitempty"`
	Timestamp     time.Time   `json:"timestamp"`
}

func NewPushMessage(ownerID, transactionID int64) *MirrorMessage {
	return &MirrorMessage{
		MessageID:     uuid.NewString(),
		Kind:          KindPush,
		OwnerID:       ownerID,
		TransactionID: transactionID,
		Timestamp:     time.Now(),
	}
}

func NewCleanMessage(ownerID int64) *MirrorMessage {
	return &MirrorMessage{
		MessageID: uuid.NewString(),
		Kind:      KindClean,
		OwnerID:   ownerID,
		Timestamp: time.Now(),
	}
}

func (m *MirrorMessage) ToJSON() ([]byte, error) {
	return json.Marshal(m)
}

// MirrorMessageFromJSON decodes and validates a message body.
func MirrorMessageFromJSON(data []byte) (*MirrorMessage, error) {
	var msg MirrorMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	switch msg.Kind {
	case KindPush:
		if msg.TransactionID <= 0 {
			return nil, errors.New("push message without transaction id")
		}
	case KindClean:
		if msg.OwnerID == 0 {
			return nil, errors.New("clean message without owner id")
		}
	default:
		return nil, errors.New("unknown message kind: " + string(msg.Kind))
	}
	return &msg, nil
}
