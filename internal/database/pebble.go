package database

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/cockroachdb/pebble"

	"github.com/gigboard/marketplace/internal/conversation"
	"github.com/gigboard/marketplace/internal/logger"
	"github.com/gigboard/marketplace/internal/models"
)

var log = logger.New("database")

// Key layout:
//
//	seq/<name>                    -> uint64 counter
//	user/<id>                     -> userRecord
//	user_email/<email>            -> id
//	user_name/<username>          -> id
//	msg/<id>                      -> models.Message
//	inbox/<user id>/<message id>  -> empty, one per participant
const (
	seqUsers    = "seq/users"
	seqMessages = "seq/messages"
)

// PebbleDB is an embedded message store for single-node deployments
type PebbleDB struct {
	db *pebble.DB
	// serializes id assignment and read-modify-write updates
	mu sync.Mutex
}

// userRecord keeps the password hash, which models.User hides from JSON
type userRecord struct {
	models.User
	PasswordHash string `json:"passwordHash"`
}

func NewPebbleDB(path string) (*PebbleDB, error) {
	return NewPebbleDBWithOptions(path, &pebble.Options{})
}

// NewPebbleDBWithOptions lets tests pass an in-memory filesystem
func NewPebbleDBWithOptions(path string, opts *pebble.Options) (*PebbleDB, error) {
	db, err := pebble.Open(path, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open pebble store at %s: %w", path, err)
	}
	log.Info("Opened pebble store at %s", path)
	return &PebbleDB{db: db}, nil
}

// Migrate is a no-op, the key layout needs no schema
func (s *PebbleDB) Migrate() error {
	return nil
}

func (s *PebbleDB) Close() error {
	return s.db.Close()
}

func idKey(prefix string, id int64) []byte {
	return []byte(fmt.Sprintf("%s/%020d", prefix, id))
}

func inboxPrefix(userID int64) []byte {
	return []byte(fmt.Sprintf("inbox/%020d/", userID))
}

func inboxKey(userID, messageID int64) []byte {
	return []byte(fmt.Sprintf("inbox/%020d/%020d", userID, messageID))
}

func emailKey(email string) []byte {
	return []byte("user_email/" + strings.ToLower(email))
}

func usernameKey(username string) []byte {
	return []byte("user_name/" + strings.ToLower(username))
}

// get returns a copy of the value, or nil when the key is absent
func (s *PebbleDB) get(key []byte) ([]byte, error) {
	v, closer, err := s.db.Get(key)
	if errors.Is(err, pebble.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	defer closer.Close()
	return append([]byte(nil), v...), nil
}

// nextID must be called with s.mu held
func (s *PebbleDB) nextID(b *pebble.Batch, name string) (int64, error) {
	raw, err := s.get([]byte(name))
	if err != nil {
		return 0, err
	}
	var cur uint64
	if len(raw) == 8 {
		cur = binary.BigEndian.Uint64(raw)
	}
	cur++
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, cur)
	if err := b.Set([]byte(name), buf, nil); err != nil {
		return 0, err
	}
	return int64(cur), nil
}

// scanPrefix calls fn with every key/value under prefix in key order
func (s *PebbleDB) scanPrefix(prefix []byte, fn func(key, value []byte) error) error {
	upper := append([]byte(nil), prefix...)
	upper[len(upper)-1]++
	iter, err := s.db.NewIter(&pebble.IterOptions{LowerBound: prefix, UpperBound: upper})
	if err != nil {
		return err
	}
	defer iter.Close()

	for iter.First(); iter.Valid(); iter.Next() {
		if err := fn(iter.Key(), iter.Value()); err != nil {
			return err
		}
	}
	return iter.Error()
}

func (s *PebbleDB) CreateUser(username, email, passwordHash string) (*models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, k := range [][]byte{emailKey(email), usernameKey(username)} {
		existing, err := s.get(k)
		if err != nil {
			return nil, err
		}
		if existing != nil {
			return nil, ErrUserAlreadyExists
		}
	}

	b := s.db.NewBatch()
	defer b.Close()

	id, err := s.nextID(b, seqUsers)
	if err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	rec := userRecord{
		User: models.User{
			ID:        id,
			Username:  username,
			Email:     email,
			CreatedAt: now,
			LastSeen:  now,
		},
		PasswordHash: passwordHash,
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return nil, err
	}
	idBytes := []byte(fmt.Sprintf("%d", id))
	if err := b.Set(idKey("user", id), data, nil); err != nil {
		return nil, err
	}
	if err := b.Set(emailKey(email), idBytes, nil); err != nil {
		return nil, err
	}
	if err := b.Set(usernameKey(username), idBytes, nil); err != nil {
		return nil, err
	}
	if err := b.Commit(pebble.Sync); err != nil {
		return nil, err
	}

	user := rec.User
	user.PasswordHash = passwordHash
	return &user, nil
}

func (s *PebbleDB) loadUser(id int64) (*models.User, error) {
	raw, err := s.get(idKey("user", id))
	if err != nil {
		return nil, err
	}
	if raw == nil {
		return nil, ErrUserNotFound
	}
	var rec userRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, fmt.Errorf("corrupt user record %d: %w", id, err)
	}
	user := rec.User
	user.PasswordHash = rec.PasswordHash
	return &user, nil
}

func (s *PebbleDB) GetUserByID(id int64) (*models.User, error) {
	return s.loadUser(id)
}

func (s *PebbleDB) GetUserByEmail(email string) (*models.User, error) {
	raw, err := s.get(emailKey(email))
	if err != nil {
		return nil, err
	}
	if raw == nil {
		return nil, ErrUserNotFound
	}
	var id int64
	if _, err := fmt.Sscanf(string(raw), "%d", &id); err != nil {
		return nil, fmt.Errorf("corrupt email index for %s: %w", email, err)
	}
	return s.loadUser(id)
}

func (s *PebbleDB) GetUsersByIDs(ids []int64) (map[int64]*models.User, error) {
	users := make(map[int64]*models.User, len(ids))
	for _, id := range ids {
		user, err := s.loadUser(id)
		if errors.Is(err, ErrUserNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		users[id] = user
	}
	return users, nil
}

func (s *PebbleDB) UpdateLastSeen(userID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	user, err := s.loadUser(userID)
	if err != nil {
		return err
	}
	user.LastSeen = time.Now().UTC()
	data, err := json.Marshal(userRecord{User: *user, PasswordHash: user.PasswordHash})
	if err != nil {
		return err
	}
	return s.db.Set(idKey("user", userID), data, pebble.Sync)
}

func (s *PebbleDB) GetAllUsers(excludeUserID int64) ([]*models.User, error) {
	users := []*models.User{}
	err := s.scanPrefix([]byte("user/"), func(_, value []byte) error {
		var rec userRecord
		if err := json.Unmarshal(value, &rec); err != nil {
			return err
		}
		if rec.ID == excludeUserID {
			return nil
		}
		user := rec.User
		user.PasswordHash = rec.PasswordHash
		users = append(users, &user)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan users: %w", err)
	}
	sort.Slice(users, func(i, j int) bool { return users[i].Username < users[j].Username })
	return users, nil
}

// CreateMessage assigns id and created_at and indexes the message for both participants
func (s *PebbleDB) CreateMessage(msg *models.Message) (*models.Message, error) {
	if _, err := s.loadUser(msg.SenderID); err != nil {
		return nil, err
	}
	if _, err := s.loadUser(msg.ReceiverID); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	b := s.db.NewBatch()
	defer b.Close()

	id, err := s.nextID(b, seqMessages)
	if err != nil {
		return nil, err
	}

	created := *msg
	created.ID = id
	created.Read = false
	created.CreatedAt = time.Now().UTC()
	if created.Attachments == nil {
		created.Attachments = []models.Attachment{}
	}

	data, err := json.Marshal(created)
	if err != nil {
		return nil, fmt.Errorf("failed to encode message: %w", err)
	}
	if err := b.Set(idKey("msg", id), data, nil); err != nil {
		return nil, err
	}
	if err := b.Set(inboxKey(created.SenderID, id), nil, nil); err != nil {
		return nil, err
	}
	if err := b.Set(inboxKey(created.ReceiverID, id), nil, nil); err != nil {
		return nil, err
	}
	if err := b.Commit(pebble.Sync); err != nil {
		return nil, err
	}
	return &created, nil
}

func (s *PebbleDB) GetMessageByID(messageID int64) (*models.Message, error) {
	raw, err := s.get(idKey("msg", messageID))
	if err != nil {
		return nil, err
	}
	if raw == nil {
		return nil, ErrMessageNotFound
	}
	var msg models.Message
	if err := json.Unmarshal(raw, &msg); err != nil {
		return nil, fmt.Errorf("corrupt message %d: %w", messageID, err)
	}
	if msg.Attachments == nil {
		msg.Attachments = []models.Attachment{}
	}
	return &msg, nil
}

func (s *PebbleDB) GetMessagesByUser(userID int64) ([]*models.Message, error) {
	prefix := inboxPrefix(userID)
	var ids []int64
	err := s.scanPrefix(prefix, func(key, _ []byte) error {
		var id int64
		if _, err := fmt.Sscanf(string(bytes.TrimPrefix(key, prefix)), "%d", &id); err != nil {
			return fmt.Errorf("corrupt inbox key %q: %w", key, err)
		}
		ids = append(ids, id)
		return nil
	})
	if err != nil {
		return nil, err
	}

	messages := make([]*models.Message, 0, len(ids))
	for _, id := range ids {
		msg, err := s.GetMessageByID(id)
		if errors.Is(err, ErrMessageNotFound) {
			log.Warn("Inbox of user %d points at missing message %d", userID, id)
			continue
		}
		if err != nil {
			return nil, err
		}
		messages = append(messages, msg)
	}
	conversation.SortMessages(messages)
	return messages, nil
}

func (s *PebbleDB) GetConversation(userID1, userID2 int64) ([]*models.Message, error) {
	all, err := s.GetMessagesByUser(userID1)
	if err != nil {
		return nil, err
	}
	return conversation.Between(all, userID1, userID2), nil
}

func (s *PebbleDB) MarkMessageAsRead(messageID int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	msg, err := s.GetMessageByID(messageID)
	if err != nil {
		return false, err
	}
	if msg.Read {
		return false, nil
	}
	msg.Read = true
	data, err := json.Marshal(msg)
	if err != nil {
		return false, err
	}
	if err := s.db.Set(idKey("msg", messageID), data, pebble.Sync); err != nil {
		return false, err
	}
	return true, nil
}

func (s *PebbleDB) CountUnread(userID int64) (int, error) {
	msgs, err := s.GetMessagesByUser(userID)
	if err != nil {
		return 0, err
	}
	return conversation.TotalUnread(userID, msgs), nil
}

func (s *PebbleDB) ReferencedAttachmentURLs() (map[string]struct{}, error) {
	urls := make(map[string]struct{})
	err := s.scanPrefix([]byte("msg/"), func(_, value []byte) error {
		var msg models.Message
		if err := json.Unmarshal(value, &msg); err != nil {
			return err
		}
		referencedURLs(&msg, urls)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return urls, nil
}

var _ DBInterface = (*PebbleDB)(nil)
