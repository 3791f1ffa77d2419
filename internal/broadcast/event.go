// Package broadcast fans newly created messages out to WebSocket observers
// of the owning session. Delivery is best-effort and at-most-once; the
// originating connection never receives its own echo.
package broadcast

import (
	"time"

	"interviewsim/internal/model"
)

const EventMessageCreated = "message.created"

// MessageEvent is the wire payload delivered to session observers. SocketID
// identifies the originating connection and is excluded from delivery.
type MessageEvent struct {
	Event     string       `json:"event"`
	SessionID uint         `json:"session_id"`
	SocketID  string       `json:"socket_id,omitempty"`
	Message   EventMessage `json:"message"`
}

type EventMessage struct {
	ID        uint      `json:"id"`
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

// NewMessageEvent builds the broadcast payload for a persisted message.
func NewMessageEvent(msg *model.Message, socketID string) MessageEvent {
	return MessageEvent{
		Event:     EventMessageCreated,
		SessionID: msg.SessionID,
		SocketID:  socketID,
		Message: EventMessage{
			ID:        msg.ID,
			Role:      msg.Role,
			Content:   msg.Content,
			CreatedAt: msg.CreatedAt,
		},
	}
}
