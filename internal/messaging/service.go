// Package messaging implements message creation, read receipts and the
// derived conversation views on top of the message store.
package messaging

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/gigboard/marketplace/internal/conversation"
	"github.com/gigboard/marketplace/internal/database"
	"github.com/gigboard/marketplace/internal/logger"
	"github.com/gigboard/marketplace/internal/metrics"
	"github.com/gigboard/marketplace/internal/models"
)

var log = logger.New("messaging")

// Notifier is told about every message after it is persisted
type Notifier interface {
	NotifyMessage(msg *models.Message)
}

type Service struct {
	db       database.DBInterface
	notifier Notifier
}

// NewService creates a service. notifier may be nil.
func NewService(db database.DBInterface, notifier Notifier) *Service {
	return &Service{db: db, notifier: notifier}
}

// Send validates req, persists it as a message from senderID and notifies the receiver
func (s *Service) Send(ctx context.Context, senderID int64, req *models.SendMessageRequest) (*models.Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	msg, err := normalize(senderID, req)
	if err != nil {
		return nil, err
	}

	if _, err := s.db.GetUserByID(msg.ReceiverID); err != nil {
		return nil, err
	}

	if msg.ReplyToID != nil {
		target, err := s.db.GetMessageByID(*msg.ReplyToID)
		if errors.Is(err, database.ErrMessageNotFound) {
			return nil, fmt.Errorf("%w: %d", ErrReplyTargetNotFound, *msg.ReplyToID)
		}
		if err != nil {
			return nil, err
		}
		if !target.Involves(msg.SenderID, msg.ReceiverID) {
			return nil, ErrReplyOutsideConversation
		}
	}

	created, err := s.db.CreateMessage(msg)
	if err != nil {
		return nil, err
	}
	metrics.MessagesCreated.Inc()
	log.Debug("Message %d created from %d to %d", created.ID, created.SenderID, created.ReceiverID)

	if s.notifier != nil {
		s.notifier.NotifyMessage(created)
	}
	return created, nil
}

// normalize builds the message to persist and keeps the legacy single
// attachment fields and the attachments list in agreement
func normalize(senderID int64, req *models.SendMessageRequest) (*models.Message, error) {
	if req == nil {
		return nil, &ValidationError{Field: "body", Reason: "request body is required"}
	}
	if req.ReceiverID <= 0 {
		return nil, &ValidationError{Field: "receiverId", Reason: "is required"}
	}
	if req.ReceiverID == senderID {
		return nil, &ValidationError{Field: "receiverId", Reason: "cannot send a message to yourself"}
	}
	if req.ReplyToID != nil && *req.ReplyToID <= 0 {
		return nil, &ValidationError{Field: "replyToId", Reason: "must be a positive id"}
	}

	attachments := make([]models.Attachment, 0, len(req.Attachments)+1)
	for i, a := range req.Attachments {
		if a.URL == "" {
			return nil, &ValidationError{Field: fmt.Sprintf("attachments[%d].url", i), Reason: "is required"}
		}
		if !models.ValidAttachmentType(a.Type) {
			return nil, &ValidationError{Field: fmt.Sprintf("attachments[%d].type", i), Reason: fmt.Sprintf("unknown attachment type %q", a.Type)}
		}
		attachments = append(attachments, a)
	}

	legacy := models.Attachment{URL: req.Attachment, Type: req.AttachmentType, Name: req.AttachmentName}
	if len(attachments) == 0 && legacy.URL != "" {
		if legacy.Type == "" {
			legacy.Type = models.AttachmentFile
		}
		if !models.ValidAttachmentType(legacy.Type) {
			return nil, &ValidationError{Field: "attachmentType", Reason: fmt.Sprintf("unknown attachment type %q", legacy.Type)}
		}
		attachments = append(attachments, legacy)
	}

	if strings.TrimSpace(req.Content) == "" && len(attachments) == 0 {
		return nil, &ValidationError{Field: "content", Reason: "a message needs text or at least one attachment"}
	}

	msg := &models.Message{
		SenderID:    senderID,
		ReceiverID:  req.ReceiverID,
		Content:     req.Content,
		Attachments: attachments,
		ReplyToID:   req.ReplyToID,
	}
	if len(attachments) > 0 {
		msg.Attachment = attachments[0].URL
		msg.AttachmentType = attachments[0].Type
		msg.AttachmentName = attachments[0].Name
	}
	return msg, nil
}

// MarkRead flips a message to read on behalf of its receiver. Marking an
// already read message is a successful no-op.
func (s *Service) MarkRead(ctx context.Context, messageID, requesterID int64) (*models.Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	msg, err := s.db.GetMessageByID(messageID)
	if err != nil {
		return nil, err
	}
	if msg.ReceiverID != requesterID {
		return nil, ErrNotReceiver
	}
	if msg.Read {
		return msg, nil
	}

	changed, err := s.db.MarkMessageAsRead(messageID)
	if err != nil {
		return nil, err
	}
	if changed {
		metrics.MessagesRead.Inc()
	}
	msg.Read = true
	return msg, nil
}

// Conversation returns the ordered two-party conversation between self and other
func (s *Service) Conversation(ctx context.Context, self, other int64) ([]*models.Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	msgs, err := s.db.GetConversation(self, other)
	if err != nil {
		return nil, err
	}
	return nonNil(msgs), nil
}

// AllMessages returns every message self sent or received
func (s *Service) AllMessages(ctx context.Context, self int64) ([]*models.Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	msgs, err := s.db.GetMessagesByUser(self)
	if err != nil {
		return nil, err
	}
	return nonNil(msgs), nil
}

// Contacts materializes the contact list of self and attaches the counterpart profiles
func (s *Service) Contacts(ctx context.Context, self int64) ([]models.ContactSummary, error) {
	msgs, err := s.AllMessages(ctx, self)
	if err != nil {
		return nil, err
	}

	summaries := conversation.Summarize(self, msgs)
	if len(summaries) == 0 {
		return summaries, nil
	}

	ids := make([]int64, 0, len(summaries))
	for _, cs := range summaries {
		ids = append(ids, cs.ContactID)
	}
	users, err := s.db.GetUsersByIDs(ids)
	if err != nil {
		return nil, err
	}
	for i := range summaries {
		if u, ok := users[summaries[i].ContactID]; ok {
			resp := u.Response()
			summaries[i].Contact = &resp
		}
	}
	return summaries, nil
}

// UnreadCount is the badge count for self, counted by the store
func (s *Service) UnreadCount(ctx context.Context, self int64) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	return s.db.CountUnread(self)
}

// UnreadBySender breaks the unread messages of self down by sender
func (s *Service) UnreadBySender(ctx context.Context, self int64) (map[int64]int, error) {
	msgs, err := s.AllMessages(ctx, self)
	if err != nil {
		return nil, err
	}
	return conversation.UnreadBySender(self, msgs), nil
}

func nonNil(msgs []*models.Message) []*models.Message {
	if msgs == nil {
		return []*models.Message{}
	}
	for _, m := range msgs {
		if m.Attachments == nil {
			m.Attachments = []models.Attachment{}
		}
	}
	return msgs
}
