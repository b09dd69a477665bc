package amqp

import (
	"encoding/json"
	"time"
)

// GroupEventMessage announces that the group collection changed. Consumers
// re-read the collection from the backend; the message carries only the id
// and version so stale deliveries are harmless.
type GroupEventMessage struct {
	GroupID   string    `json:"groupId"`
	Version   int64     `json:"version"`
	Change    string    `json:"change"`
	Timestamp time.Time `json:"timestamp"`
}

// NewGroupEventMessage creates a change notification for a group.
func NewGroupEventMessage(groupID string, version int64, change string) *GroupEventMessage {
	return &GroupEventMessage{
		GroupID:   groupID,
		Version:   version,
		Change:    change,
		Timestamp: time.Now(),
	}
}

// ToJSON converts the message to JSON bytes
func (m *GroupEventMessage) ToJSON() ([]byte, error) {
	return json.Marshal(m)
}

// FromJSON creates a message from JSON bytes
func GroupEventMessageFromJSON(data []byte) (*GroupEventMessage, error) {
	var msg GroupEventMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}
