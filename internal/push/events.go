package push

import (
	"time"

	"github.com/gigboard/marketplace/internal/models"
)

// Frame types on the push channel
const (
	TypeAuth         = "auth"
	TypeAuthSuccess  = "auth_success"
	TypeNotification = "notification"
)

// KindMessage marks a notification caused by a new direct message
const KindMessage = "message"

const previewLength = 80

// Frame is the envelope of every frame in both directions
type Frame struct {
	Type   string        `json:"type"`
	UserID int64         `json:"userId,omitempty"`
	Data   *Notification `json:"data,omitempty"`
}

// Notification is the payload of a notification frame. Clients treat it as a
// cache invalidation hint and refetch, so it never carries the full message.
type Notification struct {
	Kind       string    `json:"kind"`
	MessageID  int64     `json:"messageId,omitempty"`
	SenderID   int64     `json:"senderId,omitempty"`
	ReceiverID int64     `json:"receiverId,omitempty"`
	Preview    string    `json:"preview,omitempty"`
	CreatedAt  time.Time `json:"createdAt"`
}

// MessageNotification builds the notification announcing msg to its receiver
func MessageNotification(msg *models.Message) *Notification {
	preview := msg.Content
	if preview == "" && len(msg.Attachments) > 0 {
		preview = msg.Attachments[0].Name
	}
	if r := []rune(preview); len(r) > previewLength {
		preview = string(r[:previewLength]) + "…"
	}
	return &Notification{
		Kind:       KindMessage,
		MessageID:  msg.ID,
		SenderID:   msg.SenderID,
		ReceiverID: msg.ReceiverID,
		Preview:    preview,
		CreatedAt:  msg.CreatedAt,
	}
}
