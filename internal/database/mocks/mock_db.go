// Package mocks provides a testify mock of the message store for handler and service tests.
package mocks

import (
	"github.com/stretchr/testify/mock"

	"github.com/gigboard/marketplace/internal/database"
	"github.com/gigboard/marketplace/internal/models"
)

// MockDB implements database.DBInterface
type MockDB struct {
	mock.Mock
}

var _ database.DBInterface = (*MockDB)(nil)

func (m *MockDB) CreateUser(username, email, passwordHash string) (*models.User, error) {
	args := m.Called(username, email, passwordHash)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.User), args.Error(1)
}

func (m *MockDB) GetUserByEmail(email string) (*models.User, error) {
	args := m.Called(email)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.User), args.Error(1)
}

func (m *MockDB) GetUserByID(id int64) (*models.User, error) {
	args := m.Called(id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.User), args.Error(1)
}

func (m *MockDB) GetUsersByIDs(ids []int64) (map[int64]*models.User, error) {
	args := m.Called(ids)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(map[int64]*models.User), args.Error(1)
}

func (m *MockDB) UpdateLastSeen(userID int64) error {
	args := m.Called(userID)
	return args.Error(0)
}

func (m *MockDB) GetAllUsers(excludeUserID int64) ([]*models.User, error) {
	args := m.Called(excludeUserID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*models.User), args.Error(1)
}

func (m *MockDB) CreateMessage(msg *models.Message) (*models.Message, error) {
	args := m.Called(msg)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Message), args.Error(1)
}

func (m *MockDB) GetMessagesByUser(userID int64) ([]*models.Message, error) {
	args := m.Called(userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*models.Message), args.Error(1)
}

func (m *MockDB) GetMessageByID(messageID int64) (*models.Message, error) {
	args := m.Called(messageID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Message), args.Error(1)
}

func (m *MockDB) GetConversation(userID1, userID2 int64) ([]*models.Message, error) {
	args := m.Called(userID1, userID2)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*models.Message), args.Error(1)
}

func (m *MockDB) MarkMessageAsRead(messageID int64) (bool, error) {
	args := m.Called(messageID)
	return args.Bool(0), args.Error(1)
}

func (m *MockDB) CountUnread(userID int64) (int, error) {
	args := m.Called(userID)
	return args.Int(0), args.Error(1)
}

func (m *MockDB) ReferencedAttachmentURLs() (map[string]struct{}, error) {
	args := m.Called()
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(map[string]struct{}), args.Error(1)
}

func (m *MockDB) Migrate() error {
	return m.Called().Error(0)
}

func (m *MockDB) Close() error {
	return m.Called().Error(0)
}
