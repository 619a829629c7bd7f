package api

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"

	"github.com/cockroachdb/pebble"
	"github.com/cockroachdb/pebble/vfs"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"

	"github.com/gigboard/marketplace/internal/attachments"
	"github.com/gigboard/marketplace/internal/auth"
	"github.com/gigboard/marketplace/internal/database"
	"github.com/gigboard/marketplace/internal/messaging"
	"github.com/gigboard/marketplace/internal/models"
	"github.com/gigboard/marketplace/internal/push"
)

type testEnv struct {
	router  *gin.Engine
	db      database.DBInterface
	push    *push.Manager
	storage *attachments.LocalStorage
}

type envOptions struct {
	maxFileSize int64
	maxFiles    int
	uploadRate  rate.Limit
	uploadBurst int
}

func newTestEnv(t *testing.T) *testEnv {
	return newTestEnvWith(t, envOptions{})
}

func newTestEnvWith(t *testing.T, opts envOptions) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)
	auth.InitJWTKey([]byte("test-secret-key-for-api-tests"))

	if opts.maxFileSize == 0 {
		opts.maxFileSize = 1 << 20
	}
	if opts.maxFiles == 0 {
		opts.maxFiles = 5
	}
	if opts.uploadRate == 0 {
		opts.uploadRate = rate.Inf
	}

	db, err := database.NewPebbleDBWithOptions("messages", &pebble.Options{FS: vfs.NewMem()})
	require.NoError(t, err)

	storage, err := attachments.NewLocalStorage(t.TempDir(), "/uploads")
	require.NoError(t, err)

	manager := push.NewManager(push.Options{})
	t.Cleanup(func() {
		manager.Close()
		db.Close()
	})

	router := gin.New()
	Routes{
		Auth:            NewAuthHandler(db),
		Messages:        NewMessageHandler(messaging.NewService(db, manager)),
		Uploads:         NewUploadHandler(attachments.NewPipeline(storage, attachments.Policy{MaxFileSize: opts.maxFileSize, MaxFiles: opts.maxFiles})),
		Push:            manager,
		UploadRateLimit: opts.uploadRate,
		UploadRateBurst: opts.uploadBurst,
	}.Register(router)

	return &testEnv{router: router, db: db, push: manager, storage: storage}
}

// user creates an account and returns it with a bearer token
func (e *testEnv) user(t *testing.T, name string) (*models.User, string) {
	t.Helper()
	hash, err := auth.HashPassword("password123")
	require.NoError(t, err)
	u, err := e.db.CreateUser(name, name+"@example.com", hash)
	require.NoError(t, err)
	token, _, err := auth.GenerateToken(u)
	require.NoError(t, err)
	return u, token
}

func (e *testEnv) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		r = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, r)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v), w.Body.String())
	return v
}

func (e *testEnv) send(t *testing.T, token string, req models.SendMessageRequest) *models.Message {
	t.Helper()
	w := e.do(t, http.MethodPost, "/api/messages", token, req)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	return decode[*models.Message](t, w)
}

func itoa(id int64) string {
	return strconv.FormatInt(id, 10)
}
