package database

import (
	"errors"
	"fmt"

	"github.com/gigboard/marketplace/internal/models"
)

var (
	ErrUserNotFound      = errors.New("user not found")
	ErrUserAlreadyExists = errors.New("user already exists")
	ErrMessageNotFound   = errors.New("message not found")
)

// DBInterface is the Message Store plus the user lookups it depends on.
// Message reads always come back ascending by created_at, then id.
type DBInterface interface {
	// User methods
	CreateUser(username, email, passwordHash string) (*models.User, error)
	GetUserByEmail(email string) (*models.User, error)
	GetUserByID(id int64) (*models.User, error)
	GetUsersByIDs(ids []int64) (map[int64]*models.User, error)
	UpdateLastSeen(userID int64) error
	GetAllUsers(excludeUserID int64) ([]*models.User, error)

	// Message methods
	CreateMessage(msg *models.Message) (*models.Message, error)
	GetMessagesByUser(userID int64) ([]*models.Message, error)
	GetMessageByID(messageID int64) (*models.Message, error)
	GetConversation(userID1, userID2 int64) ([]*models.Message, error)
	// MarkMessageAsRead reports whether the message changed from unread to read
	MarkMessageAsRead(messageID int64) (bool, error)
	CountUnread(userID int64) (int, error)
	ReferencedAttachmentURLs() (map[string]struct{}, error)

	// Common methods
	Migrate() error
	Close() error
}

type DatabaseType string

const (
	PostgreSQL DatabaseType = "postgres"
	Pebble     DatabaseType = "pebble"
)

// NewDatabase opens the store selected by dbType. For pebble connStr is a directory.
func NewDatabase(dbType DatabaseType, connStr string) (DBInterface, error) {
	switch dbType {
	case PostgreSQL:
		return NewPostgresDB(connStr)
	case Pebble:
		return NewPebbleDB(connStr)
	default:
		return nil, fmt.Errorf("unsupported database type: %s", dbType)
	}
}

// referencedURLs collects every attachment URL a message points at
func referencedURLs(msg *models.Message, into map[string]struct{}) {
	if msg.Attachment != "" {
		into[msg.Attachment] = struct{}{}
	}
	for _, a := range msg.Attachments {
		if a.URL != "" {
			into[a.URL] = struct{}{}
		}
	}
}
