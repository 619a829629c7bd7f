// Package conversation derives conversations, contact summaries and unread
// counts from the flat message log. Nothing here is stored; every result is
// recomputed from the messages passed in.
package conversation

import (
	"sort"

	"github.com/gigboard/marketplace/internal/models"
)

// DeletedReplyText is shown in place of a quote whose original is gone
const DeletedReplyText = "original message deleted"

// Less orders messages by created_at, then id
func Less(a, b *models.Message) bool {
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.Before(b.CreatedAt)
	}
	return a.ID < b.ID
}

// SortMessages sorts msgs in display order in place
func SortMessages(msgs []*models.Message) {
	sort.SliceStable(msgs, func(i, j int) bool { return Less(msgs[i], msgs[j]) })
}

// Between returns the ordered two-party conversation between self and contact
func Between(msgs []*models.Message, self, contact int64) []*models.Message {
	out := make([]*models.Message, 0)
	for _, m := range msgs {
		if m.Involves(self, contact) {
			out = append(out, m)
		}
	}
	SortMessages(out)
	return out
}

// Summarize groups the messages of self by counterpart in a single pass.
// The result is sorted by last message time, newest first.
func Summarize(self int64, msgs []*models.Message) []models.ContactSummary {
	latest := make(map[int64]*models.Message)
	unread := make(map[int64]int)
	order := make([]int64, 0)

	for _, m := range msgs {
		if m.SenderID != self && m.ReceiverID != self {
			continue
		}
		other := m.Counterpart(self)
		if other == self {
			continue
		}
		cur, seen := latest[other]
		if !seen {
			order = append(order, other)
		}
		if !seen || Less(cur, m) {
			latest[other] = m
		}
		if m.ReceiverID == self && m.SenderID == other && !m.Read {
			unread[other]++
		}
	}

	summaries := make([]models.ContactSummary, 0, len(order))
	for _, contact := range order {
		last := latest[contact]
		summaries = append(summaries, models.ContactSummary{
			ContactID:                 contact,
			LastMessage:               last.Content,
			LastMessageID:             last.ID,
			LastMessageTime:           last.CreatedAt,
			LastMessageAttachmentType: last.PrimaryAttachmentType(),
			UnreadCount:               unread[contact],
		})
	}

	sort.SliceStable(summaries, func(i, j int) bool {
		a, b := summaries[i], summaries[j]
		if !a.LastMessageTime.Equal(b.LastMessageTime) {
			return a.LastMessageTime.After(b.LastMessageTime)
		}
		return a.LastMessageID > b.LastMessageID
	})
	return summaries
}

// UnreadBySender counts unread messages addressed to self, keyed by sender
func UnreadBySender(self int64, msgs []*models.Message) map[int64]int {
	counts := make(map[int64]int)
	for _, m := range msgs {
		if m.ReceiverID == self && m.SenderID != self && !m.Read {
			counts[m.SenderID]++
		}
	}
	return counts
}

// TotalUnread is the badge count for self
func TotalUnread(self int64, msgs []*models.Message) int {
	total := 0
	for _, n := range UnreadBySender(self, msgs) {
		total += n
	}
	return total
}

// UnreadFor returns the ids of messages in conv that self has not read yet
func UnreadFor(self int64, conv []*models.Message) []int64 {
	var ids []int64
	for _, m := range conv {
		if m.ReceiverID == self && !m.Read {
			ids = append(ids, m.ID)
		}
	}
	return ids
}

// ResolveReply finds the quoted message of msg within conv.
// It returns nil when msg is not a reply and a placeholder when the original is absent.
func ResolveReply(conv []*models.Message, msg *models.Message) *models.QuotedMessage {
	if msg.ReplyToID == nil {
		return nil
	}
	target := *msg.ReplyToID
	for _, m := range conv {
		if m.ID == target {
			return &models.QuotedMessage{ID: m.ID, SenderID: m.SenderID, Content: quoteText(m)}
		}
	}
	return &models.QuotedMessage{ID: target, Content: DeletedReplyText, Missing: true}
}

func quoteText(m *models.Message) string {
	if m.Content != "" {
		return m.Content
	}
	if len(m.Attachments) > 0 {
		return m.Attachments[0].Name
	}
	return m.AttachmentName
}
