package database

import (
	"database/sql"
	_ "embed"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"

	"github.com/gigboard/marketplace/internal/models"
)

//go:embed schema.sql
var schemaSQL string

const messageColumns = `id, sender_id, receiver_id, content, attachment, attachment_type,
	attachment_name, attachments, reply_to_id, is_read, created_at`

type PostgresDB struct {
	*sql.DB
}

func NewPostgresDB(connStr string) (*PostgresDB, error) {
	db, err := sql.Open("postgres", connStr)
	if err != nil {
		return nil, err
	}

	if err := db.Ping(); err != nil {
		return nil, err
	}

	return &PostgresDB{db}, nil
}

// Migrate creates the tables if they do not exist yet
func (db *PostgresDB) Migrate() error {
	if _, err := db.DB.Exec(schemaSQL); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	return nil
}

func (db *PostgresDB) CreateUser(username, email, passwordHash string) (*models.User, error) {
	var count int
	err := db.QueryRow("SELECT COUNT(*) FROM users WHERE username = $1 OR email = $2",
		username, email).Scan(&count)
	if err != nil {
		return nil, err
	}

	if count > 0 {
		return nil, ErrUserAlreadyExists
	}

	user := &models.User{
		Username:     username,
		Email:        email,
		PasswordHash: passwordHash,
	}

	err = db.QueryRow(
		`INSERT INTO users (username, email, password_hash) VALUES ($1, $2, $3)
		RETURNING id, created_at, last_seen`,
		user.Username, user.Email, user.PasswordHash,
	).Scan(&user.ID, &user.CreatedAt, &user.LastSeen)
	if err != nil {
		return nil, err
	}

	return user, nil
}

func (db *PostgresDB) GetUserByEmail(email string) (*models.User, error) {
	return db.scanUser(db.QueryRow(`
		SELECT id, username, email, password_hash,
		       COALESCE(display_name, ''), COALESCE(avatar_url, ''),
		       created_at, last_seen
		FROM users WHERE email = $1`, email))
}

func (db *PostgresDB) GetUserByID(id int64) (*models.User, error) {
	return db.scanUser(db.QueryRow(`
		SELECT id, username, email, password_hash,
		       COALESCE(display_name, ''), COALESCE(avatar_url, ''),
		       created_at, last_seen
		FROM users WHERE id = $1`, id))
}

func (db *PostgresDB) scanUser(row *sql.Row) (*models.User, error) {
	var user models.User
	err := row.Scan(
		&user.ID,
		&user.Username,
		&user.Email,
		&user.PasswordHash,
		&user.DisplayName,
		&user.AvatarURL,
		&user.CreatedAt,
		&user.LastSeen,
	)
	if err == sql.ErrNoRows {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, err
	}
	return &user, nil
}

func (db *PostgresDB) GetUsersByIDs(ids []int64) (map[int64]*models.User, error) {
	users := make(map[int64]*models.User, len(ids))
	if len(ids) == 0 {
		return users, nil
	}

	rows, err := db.Query(`
		SELECT id, username, email, password_hash,
		       COALESCE(display_name, ''), COALESCE(avatar_url, ''),
		       created_at, last_seen
		FROM users WHERE id = ANY($1)`, pq.Array(ids))
	if err != nil {
		return nil, fmt.Errorf("failed to query users: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var user models.User
		if err := rows.Scan(&user.ID, &user.Username, &user.Email, &user.PasswordHash,
			&user.DisplayName, &user.AvatarURL, &user.CreatedAt, &user.LastSeen); err != nil {
			return nil, fmt.Errorf("failed to scan user row: %w", err)
		}
		users[user.ID] = &user
	}
	return users, rows.Err()
}

func (db *PostgresDB) UpdateLastSeen(userID int64) error {
	result, err := db.DB.Exec("UPDATE users SET last_seen = $1 WHERE id = $2",
		time.Now(), userID)
	if err != nil {
		return err
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return err
	}

	if rowsAffected == 0 {
		return ErrUserNotFound
	}

	return nil
}

func (db *PostgresDB) GetAllUsers(excludeUserID int64) ([]*models.User, error) {
	query := `
		SELECT id, username, email, password_hash, display_name, avatar_url, created_at, last_seen
		FROM users
		WHERE id != $1
		ORDER BY username
	`

	rows, err := db.Query(query, excludeUserID)
	if err != nil {
		return nil, fmt.Errorf("failed to query users: %w", err)
	}
	defer rows.Close()

	var users []*models.User
	for rows.Next() {
		var user models.User
		var displayName, avatarURL sql.NullString

		err := rows.Scan(
			&user.ID,
			&user.Username,
			&user.Email,
			&user.PasswordHash,
			&displayName,
			&avatarURL,
			&user.CreatedAt,
			&user.LastSeen,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan user row: %w", err)
		}

		if displayName.Valid {
			user.DisplayName = displayName.String
		}
		if avatarURL.Valid {
			user.AvatarURL = avatarURL.String
		}

		users = append(users, &user)
	}

	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating user rows: %w", err)
	}

	return users, nil
}

// CreateMessage persists msg with read=false. id and created_at are assigned by the database.
func (db *PostgresDB) CreateMessage(msg *models.Message) (*models.Message, error) {
	if _, err := db.GetUserByID(msg.SenderID); err != nil {
		return nil, err
	}
	if _, err := db.GetUserByID(msg.ReceiverID); err != nil {
		return nil, err
	}

	attachments := msg.Attachments
	if attachments == nil {
		attachments = []models.Attachment{}
	}
	encoded, err := json.Marshal(attachments)
	if err != nil {
		return nil, fmt.Errorf("failed to encode attachments: %w", err)
	}

	created := *msg
	created.Attachments = attachments
	created.Read = false

	var replyTo sql.NullInt64
	if msg.ReplyToID != nil {
		replyTo = sql.NullInt64{Int64: *msg.ReplyToID, Valid: true}
	}

	err = db.QueryRow(
		`INSERT INTO messages (sender_id, receiver_id, content, attachment, attachment_type,
			attachment_name, attachments, reply_to_id, is_read, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, false, now())
		RETURNING id, created_at`,
		msg.SenderID, msg.ReceiverID, msg.Content, msg.Attachment, msg.AttachmentType,
		msg.AttachmentName, encoded, replyTo,
	).Scan(&created.ID, &created.CreatedAt)
	if err != nil {
		return nil, err
	}
	created.CreatedAt = created.CreatedAt.UTC()

	return &created, nil
}

func (db *PostgresDB) GetMessagesByUser(userID int64) ([]*models.Message, error) {
	return db.queryMessages(
		"SELECT "+messageColumns+" FROM messages WHERE sender_id = $1 OR receiver_id = $1 ORDER BY created_at ASC, id ASC",
		userID,
	)
}

func (db *PostgresDB) GetMessageByID(messageID int64) (*models.Message, error) {
	msg, err := scanMessage(db.QueryRow("SELECT "+messageColumns+" FROM messages WHERE id = $1", messageID))
	if err == sql.ErrNoRows {
		return nil, ErrMessageNotFound
	}
	if err != nil {
		return nil, err
	}
	return msg, nil
}

func (db *PostgresDB) GetConversation(userID1, userID2 int64) ([]*models.Message, error) {
	return db.queryMessages(
		`SELECT `+messageColumns+`
		FROM messages
		WHERE (sender_id = $1 AND receiver_id = $2) OR (sender_id = $2 AND receiver_id = $1)
		ORDER BY created_at ASC, id ASC`,
		userID1, userID2,
	)
}

func (db *PostgresDB) MarkMessageAsRead(messageID int64) (bool, error) {
	result, err := db.DB.Exec(
		"UPDATE messages SET is_read = true, read_at = $1 WHERE id = $2 AND NOT is_read",
		time.Now().UTC(), messageID,
	)
	if err != nil {
		return false, err
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	if rowsAffected > 0 {
		return true, nil
	}

	// Either already read or missing
	var exists bool
	if err := db.QueryRow("SELECT EXISTS (SELECT 1 FROM messages WHERE id = $1)", messageID).Scan(&exists); err != nil {
		return false, err
	}
	if !exists {
		return false, ErrMessageNotFound
	}
	return false, nil
}

func (db *PostgresDB) CountUnread(userID int64) (int, error) {
	var count int
	err := db.QueryRow("SELECT COUNT(*) FROM messages WHERE receiver_id = $1 AND NOT is_read", userID).Scan(&count)
	return count, err
}

func (db *PostgresDB) ReferencedAttachmentURLs() (map[string]struct{}, error) {
	rows, err := db.Query(`
		SELECT attachment FROM messages WHERE attachment <> ''
		UNION
		SELECT elem->>'url' FROM messages, jsonb_array_elements(attachments) AS elem`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	urls := make(map[string]struct{})
	for rows.Next() {
		var url sql.NullString
		if err := rows.Scan(&url); err != nil {
			return nil, err
		}
		if url.Valid && strings.TrimSpace(url.String) != "" {
			urls[url.String] = struct{}{}
		}
	}
	return urls, rows.Err()
}

func (db *PostgresDB) Close() error {
	return db.DB.Close()
}

func (db *PostgresDB) queryMessages(query string, args ...interface{}) ([]*models.Message, error) {
	rows, err := db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	messages := []*models.Message{}
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		messages = append(messages, msg)
	}

	if err = rows.Err(); err != nil {
		return nil, err
	}

	return messages, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanMessage(row rowScanner) (*models.Message, error) {
	var msg models.Message
	var attachments []byte
	var replyTo sql.NullInt64

	err := row.Scan(&msg.ID, &msg.SenderID, &msg.ReceiverID, &msg.Content, &msg.Attachment,
		&msg.AttachmentType, &msg.AttachmentName, &attachments, &replyTo, &msg.Read, &msg.CreatedAt)
	if err != nil {
		return nil, err
	}

	msg.Attachments = []models.Attachment{}
	if len(attachments) > 0 {
		if err := json.Unmarshal(attachments, &msg.Attachments); err != nil {
			return nil, fmt.Errorf("corrupt attachments on message %d: %w", msg.ID, err)
		}
	}
	if replyTo.Valid {
		id := replyTo.Int64
		msg.ReplyToID = &id
	}
	msg.CreatedAt = msg.CreatedAt.UTC()

	return &msg, nil
}

var _ DBInterface = (*PostgresDB)(nil)
