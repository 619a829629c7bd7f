package database

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gigboard/marketplace/internal/models"
)

// testStore runs the Message Store contract against one implementation
func testStore(t *testing.T, newDB func(t *testing.T) DBInterface) {
	t.Run("CreateUser", func(t *testing.T) {
		db := newDB(t)

		tests := []struct {
			name      string
			username  string
			email     string
			password  string
			wantError error
		}{
			{name: "valid user", username: "testuser", email: "test@example.com", password: "hash1"},
			{name: "duplicate email", username: "testuser2", email: "test@example.com", password: "hash2", wantError: ErrUserAlreadyExists},
			{name: "duplicate username", username: "testuser", email: "test2@example.com", password: "hash3", wantError: ErrUserAlreadyExists},
		}

		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				user, err := db.CreateUser(tt.username, tt.email, tt.password)
				if tt.wantError != nil {
					assert.ErrorIs(t, err, tt.wantError)
					assert.Nil(t, user)
					return
				}
				require.NoError(t, err)
				assert.NotZero(t, user.ID)
				assert.Equal(t, tt.password, user.PasswordHash)

				byEmail, err := db.GetUserByEmail(tt.email)
				require.NoError(t, err)
				assert.Equal(t, user.ID, byEmail.ID)
				assert.Equal(t, tt.password, byEmail.PasswordHash)
			})
		}

		_, err := db.GetUserByEmail("nobody@example.com")
		assert.ErrorIs(t, err, ErrUserNotFound)
		_, err = db.GetUserByID(999999)
		assert.ErrorIs(t, err, ErrUserNotFound)
	})

	t.Run("CreateMessage", func(t *testing.T) {
		db := newDB(t)
		alice := mustUser(t, db, "alice")
		bob := mustUser(t, db, "bob")

		msg, err := db.CreateMessage(&models.Message{SenderID: alice.ID, ReceiverID: bob.ID, Content: "hi", Read: true})
		require.NoError(t, err)
		assert.NotZero(t, msg.ID)
		assert.False(t, msg.Read, "store must force read=false")
		assert.False(t, msg.CreatedAt.IsZero())
		assert.NotNil(t, msg.Attachments)

		_, err = db.CreateMessage(&models.Message{SenderID: alice.ID, ReceiverID: 424242, Content: "hi"})
		assert.ErrorIs(t, err, ErrUserNotFound)
	})

	t.Run("AttachmentsRoundTrip", func(t *testing.T) {
		db := newDB(t)
		alice := mustUser(t, db, "alice")
		bob := mustUser(t, db, "bob")

		files := []models.Attachment{
			{URL: "/uploads/b.pdf", Type: models.AttachmentPDF, Name: "brief.pdf"},
			{URL: "/uploads/a.png", Type: models.AttachmentImage, Name: "mock.png"},
		}
		sent, err := db.CreateMessage(&models.Message{SenderID: alice.ID, ReceiverID: bob.ID, Attachments: files})
		require.NoError(t, err)

		conv, err := db.GetConversation(bob.ID, alice.ID)
		require.NoError(t, err)
		require.Len(t, conv, 1)
		assert.Equal(t, sent.ID, conv[0].ID)
		assert.Equal(t, files, conv[0].Attachments)

		urls, err := db.ReferencedAttachmentURLs()
		require.NoError(t, err)
		assert.Contains(t, urls, "/uploads/b.pdf")
		assert.Contains(t, urls, "/uploads/a.png")
	})

	t.Run("ConversationOrdering", func(t *testing.T) {
		db := newDB(t)
		alice := mustUser(t, db, "alice")
		bob := mustUser(t, db, "bob")
		carol := mustUser(t, db, "carol")

		var ids []int64
		for i, pair := range [][2]int64{{alice.ID, bob.ID}, {bob.ID, alice.ID}, {alice.ID, carol.ID}, {alice.ID, bob.ID}} {
			m, err := db.CreateMessage(&models.Message{SenderID: pair[0], ReceiverID: pair[1], Content: string(rune('a' + i))})
			require.NoError(t, err)
			ids = append(ids, m.ID)
		}

		conv, err := db.GetConversation(alice.ID, bob.ID)
		require.NoError(t, err)
		require.Len(t, conv, 3)
		assert.Equal(t, []int64{ids[0], ids[1], ids[3]}, []int64{conv[0].ID, conv[1].ID, conv[2].ID})
		for i := 1; i < len(conv); i++ {
			assert.False(t, conv[i].CreatedAt.Before(conv[i-1].CreatedAt))
		}

		all, err := db.GetMessagesByUser(alice.ID)
		require.NoError(t, err)
		assert.Len(t, all, 4)
	})

	t.Run("MarkMessageAsRead", func(t *testing.T) {
		db := newDB(t)
		alice := mustUser(t, db, "alice")
		bob := mustUser(t, db, "bob")

		msg, err := db.CreateMessage(&models.Message{SenderID: alice.ID, ReceiverID: bob.ID, Content: "hi"})
		require.NoError(t, err)

		count, err := db.CountUnread(bob.ID)
		require.NoError(t, err)
		assert.Equal(t, 1, count)

		changed, err := db.MarkMessageAsRead(msg.ID)
		require.NoError(t, err)
		assert.True(t, changed)

		changed, err = db.MarkMessageAsRead(msg.ID)
		require.NoError(t, err)
		assert.False(t, changed, "second mark is a no-op")

		count, err = db.CountUnread(bob.ID)
		require.NoError(t, err)
		assert.Equal(t, 0, count)

		stored, err := db.GetMessageByID(msg.ID)
		require.NoError(t, err)
		assert.True(t, stored.Read)

		_, err = db.MarkMessageAsRead(987654)
		assert.ErrorIs(t, err, ErrMessageNotFound)
	})

	t.Run("ReplyToID", func(t *testing.T) {
		db := newDB(t)
		alice := mustUser(t, db, "alice")
		bob := mustUser(t, db, "bob")

		first, err := db.CreateMessage(&models.Message{SenderID: alice.ID, ReceiverID: bob.ID, Content: "rate?"})
		require.NoError(t, err)
		replyTo := first.ID
		reply, err := db.CreateMessage(&models.Message{SenderID: bob.ID, ReceiverID: alice.ID, Content: "50/h", ReplyToID: &replyTo})
		require.NoError(t, err)

		got, err := db.GetMessageByID(reply.ID)
		require.NoError(t, err)
		require.NotNil(t, got.ReplyToID)
		assert.Equal(t, first.ID, *got.ReplyToID)
	})

	t.Run("ConcurrentSends", func(t *testing.T) {
		db := newDB(t)
		alice := mustUser(t, db, "alice")
		bob := mustUser(t, db, "bob")

		var wg sync.WaitGroup
		for i := 0; i < 20; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				from, to := alice.ID, bob.ID
				if i%2 == 1 {
					from, to = to, from
				}
				_, err := db.CreateMessage(&models.Message{SenderID: from, ReceiverID: to, Content: "x"})
				assert.NoError(t, err)
			}(i)
		}
		wg.Wait()

		conv, err := db.GetConversation(alice.ID, bob.ID)
		require.NoError(t, err)
		require.Len(t, conv, 20)
		seen := make(map[int64]bool)
		for _, m := range conv {
			assert.False(t, seen[m.ID], "duplicate id %d", m.ID)
			seen[m.ID] = true
		}
	})

	t.Run("GetUsersByIDs", func(t *testing.T) {
		db := newDB(t)
		alice := mustUser(t, db, "alice")
		bob := mustUser(t, db, "bob")

		users, err := db.GetUsersByIDs([]int64{alice.ID, bob.ID, 777777})
		require.NoError(t, err)
		assert.Len(t, users, 2)
		assert.Equal(t, "bob", users[bob.ID].Username)

		others, err := db.GetAllUsers(alice.ID)
		require.NoError(t, err)
		require.Len(t, others, 1)
		assert.Equal(t, bob.ID, others[0].ID)

		before := bob.LastSeen
		time.Sleep(5 * time.Millisecond)
		require.NoError(t, db.UpdateLastSeen(bob.ID))
		updated, err := db.GetUserByID(bob.ID)
		require.NoError(t, err)
		assert.True(t, updated.LastSeen.After(before))
	})
}

func mustUser(t *testing.T, db DBInterface, name string) *models.User {
	t.Helper()
	user, err := db.CreateUser(name, name+"@example.com", "hash")
	require.NoError(t, err)
	return user
}
