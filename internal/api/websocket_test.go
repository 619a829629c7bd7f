package api

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	gorilla "github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gigboard/marketplace/internal/models"
	"github.com/gigboard/marketplace/internal/push"
)

func TestWebSocketAuthentication(t *testing.T) {
	env := newTestEnv(t)
	server := httptest.NewServer(env.router)
	defer server.Close()

	_, token := env.user(t, "testuser")

	tests := []struct {
		name         string
		urlPath      string
		headers      map[string]string
		expectedCode int
	}{
		{"valid token in URL parameter", "/api/ws?token=" + token, nil, http.StatusSwitchingProtocols},
		{"valid token in Authorization header", "/api/ws", map[string]string{"Authorization": "Bearer " + token}, http.StatusSwitchingProtocols},
		{"no token provided", "/api/ws", nil, http.StatusUnauthorized},
		{"invalid token in URL parameter", "/api/ws?token=invalid.token", nil, http.StatusUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			wsURL := "ws" + strings.TrimPrefix(server.URL, "http") + tt.urlPath
			header := http.Header{}
			for k, v := range tt.headers {
				header.Add(k, v)
			}

			ws, resp, err := gorilla.DefaultDialer.Dial(wsURL, header)
			require.NotNil(t, resp)
			assert.Equal(t, tt.expectedCode, resp.StatusCode)

			if tt.expectedCode == http.StatusSwitchingProtocols {
				require.NoError(t, err)
				ws.Close()
			} else {
				assert.Error(t, err)
			}
		})
	}
}

// TestSendPushesToReceiver drives the whole path: REST send, push frame on the receiver socket
func TestSendPushesToReceiver(t *testing.T) {
	env := newTestEnv(t)
	server := httptest.NewServer(env.router)
	defer server.Close()

	alice, aliceToken := env.user(t, "alice")
	bob, bobToken := env.user(t, "bob")

	wsURL := "ws" + strings.TrimPrefix(server.URL, "http") + "/api/ws?token=" + bobToken
	ws, _, err := gorilla.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer ws.Close()

	require.NoError(t, ws.WriteJSON(push.Frame{Type: push.TypeAuth, UserID: bob.ID}))
	ws.SetReadDeadline(time.Now().Add(2 * time.Second))
	var ack push.Frame
	require.NoError(t, ws.ReadJSON(&ack))
	require.Equal(t, push.TypeAuthSuccess, ack.Type)

	msg := env.send(t, aliceToken, models.SendMessageRequest{ReceiverID: bob.ID, Content: "new gig"})

	var frame push.Frame
	require.NoError(t, ws.ReadJSON(&frame))
	assert.Equal(t, push.TypeNotification, frame.Type)
	require.NotNil(t, frame.Data)
	assert.Equal(t, msg.ID, frame.Data.MessageID)
	assert.Equal(t, alice.ID, frame.Data.SenderID)
	assert.Equal(t, "new gig", frame.Data.Preview)

	// the sender has no connection, the reply is simply dropped
	reply := env.send(t, bobToken, models.SendMessageRequest{ReceiverID: alice.ID, Content: "ok", ReplyToID: &msg.ID})
	assert.Equal(t, msg.ID, *reply.ReplyToID)
	assert.Equal(t, 0, env.push.Connections(alice.ID))
	assert.Equal(t, 1, env.push.Connections(bob.ID), fmt.Sprintf("user %d", bob.ID))
}
