package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/gigboard/marketplace/internal/messaging"
	"github.com/gigboard/marketplace/internal/models"
)

// MessageHandler handles message-related routes
type MessageHandler struct {
	Service *messaging.Service
}

// NewMessageHandler creates a new message handler
func NewMessageHandler(service *messaging.Service) *MessageHandler {
	return &MessageHandler{Service: service}
}

// SendMessage handles the creation of a new message
func (h *MessageHandler) SendMessage(c *gin.Context) {
	senderID, ok := currentUser(c)
	if !ok {
		return
	}

	var req models.SendMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	message, err := h.Service.Send(c.Request.Context(), senderID, &req)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, message)
}

// GetMessages returns the conversation with ?userId= or, without it, every
// message of the caller
func (h *MessageHandler) GetMessages(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}

	if raw := c.Query("userId"); raw != "" {
		otherID, ok := parseID(c, raw, "user ID")
		if !ok {
			return
		}
		messages, err := h.Service.Conversation(c.Request.Context(), userID, otherID)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, messages)
		return
	}

	if t := c.Query("type"); t != "" && t != "all" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Unsupported type " + t})
		return
	}

	messages, err := h.Service.AllMessages(c.Request.Context(), userID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, messages)
}

// GetConversation serves the path form /messages/conversation/:userID
func (h *MessageHandler) GetConversation(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	otherID, ok := parseID(c, c.Param("userID"), "user ID")
	if !ok {
		return
	}

	messages, err := h.Service.Conversation(c.Request.Context(), userID, otherID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, messages)
}

// MarkMessageAsRead marks a message as read. Only its receiver may do so.
func (h *MessageHandler) MarkMessageAsRead(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	messageID, ok := parseID(c, c.Param("messageID"), "message ID")
	if !ok {
		return
	}

	message, err := h.Service.MarkRead(c.Request.Context(), messageID, userID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, message)
}

// GetContacts returns the caller's contact list, newest conversation first
func (h *MessageHandler) GetContacts(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}

	contacts, err := h.Service.Contacts(c.Request.Context(), userID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, contacts)
}

// UnreadCountResponse is the body of GET /messages/unread-count
type UnreadCountResponse struct {
	Count    int           `json:"count"`
	BySender map[int64]int `json:"bySender,omitempty"`
}

// GetUnreadCount returns the caller's unread badge. ?bySender=true adds the
// per-sender breakdown, which needs the caller's full message list.
func (h *MessageHandler) GetUnreadCount(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}

	total, err := h.Service.UnreadCount(c.Request.Context(), userID)
	if err != nil {
		respondError(c, err)
		return
	}
	resp := UnreadCountResponse{Count: total}
	if c.Query("bySender") == "true" {
		resp.BySender, err = h.Service.UnreadBySender(c.Request.Context(), userID)
		if err != nil {
			respondError(c, err)
			return
		}
	}
	c.JSON(http.StatusOK, resp)
}
