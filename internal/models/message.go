package models

import (
	"time"
)

// Attachment types inferred from the MIME type at upload time
const (
	AttachmentImage    = "image"
	AttachmentPDF      = "pdf"
	AttachmentDocument = "document"
	AttachmentFile     = "file"
)

// Attachment describes one uploaded file embedded in a message
type Attachment struct {
	URL  string `json:"url"`
	Type string `json:"type"`
	Name string `json:"name"`
}

// ValidAttachmentType reports whether t is one of the known attachment types
func ValidAttachmentType(t string) bool {
	switch t {
	case AttachmentImage, AttachmentPDF, AttachmentDocument, AttachmentFile:
		return true
	}
	return false
}

// Message represents a direct message between two users.
// Only Read ever changes after creation.
type Message struct {
	ID             int64        `json:"id"`
	SenderID       int64        `json:"senderId"`
	ReceiverID     int64        `json:"receiverId"`
	Content        string       `json:"content"`
	Attachment     string       `json:"attachment,omitempty"`
	AttachmentType string       `json:"attachmentType,omitempty"`
	AttachmentName string       `json:"attachmentName,omitempty"`
	Attachments    []Attachment `json:"attachments"`
	ReplyToID      *int64       `json:"replyToId,omitempty"`
	Read           bool         `json:"read"`
	CreatedAt      time.Time    `json:"createdAt"`
}

// Counterpart returns the other participant of the message as seen by self
func (m *Message) Counterpart(self int64) int64 {
	if m.SenderID == self {
		return m.ReceiverID
	}
	return m.SenderID
}

// Involves reports whether the message was exchanged between a and b in either direction
func (m *Message) Involves(a, b int64) bool {
	return (m.SenderID == a && m.ReceiverID == b) || (m.SenderID == b && m.ReceiverID == a)
}

// PrimaryAttachmentType returns the type of the first attachment, falling back to the legacy field
func (m *Message) PrimaryAttachmentType() string {
	if len(m.Attachments) > 0 {
		return m.Attachments[0].Type
	}
	return m.AttachmentType
}

// SendMessageRequest is the body of POST /messages
type SendMessageRequest struct {
	ReceiverID     int64        `json:"receiverId" binding:"required"`
	Content        string       `json:"content"`
	ReplyToID      *int64       `json:"replyToId"`
	Attachment     string       `json:"attachment"`
	AttachmentType string       `json:"attachmentType"`
	AttachmentName string       `json:"attachmentName"`
	Attachments    []Attachment `json:"attachments"`
}

// ContactSummary is the derived per-counterpart view used by the contact list
type ContactSummary struct {
	ContactID                 int64         `json:"contactId"`
	Contact                   *UserResponse `json:"contact,omitempty"`
	LastMessage               string        `json:"lastMessage"`
	LastMessageID             int64         `json:"lastMessageId"`
	LastMessageTime           time.Time     `json:"lastMessageTime"`
	LastMessageAttachmentType string        `json:"lastMessageAttachmentType,omitempty"`
	UnreadCount               int           `json:"unreadCount"`
}

// QuotedMessage is the resolved reply context rendered above a message
type QuotedMessage struct {
	ID       int64  `json:"id"`
	SenderID int64  `json:"senderId,omitempty"`
	Content  string `json:"content"`
	Missing  bool   `json:"missing,omitempty"`
}
