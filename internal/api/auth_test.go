package api

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"

	"github.com/gigboard/marketplace/internal/auth"
	"github.com/gigboard/marketplace/internal/database/mocks"
	"github.com/gigboard/marketplace/internal/models"
)

// TestRegister tests user registration endpoint
func TestRegister(t *testing.T) {
	env := newTestEnv(t)

	tests := []struct {
		name       string
		input      models.UserRegistration
		wantStatus int
		wantError  bool
	}{
		{
			name: "valid registration",
			input: models.UserRegistration{
				Username: "testuser",
				Email:    "test@example.com",
				Password: "password123",
			},
			wantStatus: http.StatusCreated,
			wantError:  false,
		},
		{
			name: "duplicate email",
			input: models.UserRegistration{
				Username: "testuser2",
				Email:    "test@example.com",
				Password: "password456",
			},
			wantStatus: http.StatusConflict,
			wantError:  true,
		},
		{
			name: "invalid input",
			input: models.UserRegistration{
				Username: "",
				Email:    "invalid-email",
				Password: "",
			},
			wantStatus: http.StatusBadRequest,
			wantError:  true,
		},
		{
			name: "password beyond bcrypt limit",
			input: models.UserRegistration{
				Username: "longpass",
				Email:    "long@example.com",
				Password: strings.Repeat("p", 73),
			},
			wantStatus: http.StatusBadRequest,
			wantError:  true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := env.do(t, http.MethodPost, "/api/auth/register", "", tt.input)
			assert.Equal(t, tt.wantStatus, w.Code)

			if !tt.wantError {
				response := decode[models.UserResponse](t, w)
				assert.Equal(t, tt.input.Username, response.Username)
				assert.Equal(t, tt.input.Email, response.Email)
				assert.Positive(t, response.ID)
			}
		})
	}
}

// TestLogin tests user login endpoint
func TestLogin(t *testing.T) {
	env := newTestEnv(t)
	env.user(t, "testuser")

	tests := []struct {
		name       string
		input      models.UserLogin
		wantStatus int
		wantError  bool
	}{
		{
			name:       "valid login",
			input:      models.UserLogin{Email: "testuser@example.com", Password: "password123"},
			wantStatus: http.StatusOK,
		},
		{
			name:       "invalid password",
			input:      models.UserLogin{Email: "testuser@example.com", Password: "wrongpassword"},
			wantStatus: http.StatusUnauthorized,
			wantError:  true,
		},
		{
			name:       "non-existent user",
			input:      models.UserLogin{Email: "nonexistent@example.com", Password: "password123"},
			wantStatus: http.StatusUnauthorized,
			wantError:  true,
		},
		{
			name:       "invalid input",
			input:      models.UserLogin{Email: "invalid-email"},
			wantStatus: http.StatusBadRequest,
			wantError:  true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := env.do(t, http.MethodPost, "/api/auth/login", "", tt.input)
			assert.Equal(t, tt.wantStatus, w.Code)

			if !tt.wantError {
				response := decode[struct {
					Token  string              `json:"token"`
					Expiry string              `json:"expiry"`
					User   models.UserResponse `json:"user"`
				}](t, w)
				assert.NotEmpty(t, response.Token)
				assert.NotEmpty(t, response.Expiry)
				assert.Equal(t, tt.input.Email, response.User.Email)

				claims, err := auth.ValidateToken(response.Token)
				assert.NoError(t, err)
				assert.Equal(t, "testuser", claims.Username)
			}
		})
	}
}

// TestGetMe tests the get current user profile endpoint
func TestGetMe(t *testing.T) {
	env := newTestEnv(t)
	user, token := env.user(t, "testuser")

	tests := []struct {
		name       string
		token      string
		wantStatus int
	}{
		{"valid token", token, http.StatusOK},
		{"no token", "", http.StatusUnauthorized},
		{"invalid token", "invalid.token.string", http.StatusUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := env.do(t, http.MethodGet, "/api/auth/me", tt.token, nil)
			assert.Equal(t, tt.wantStatus, w.Code)

			if tt.wantStatus == http.StatusOK {
				response := decode[models.UserResponse](t, w)
				assert.Equal(t, user.ID, response.ID)
				assert.Equal(t, user.Username, response.Username)
				assert.Equal(t, user.Email, response.Email)
			}
		})
	}
}

// TestGetAllUsers tests the GetAllUsers endpoint
func TestGetAllUsers(t *testing.T) {
	mockDB := new(mocks.MockDB)

	currentUser := &models.User{ID: 1, Username: "currentuser", Email: "current@example.com"}
	otherUsers := []*models.User{
		{ID: 2, Username: "user1", Email: "user1@example.com", CreatedAt: time.Now()},
		{ID: 3, Username: "user2", Email: "user2@example.com", CreatedAt: time.Now()},
	}
	mockDB.On("GetAllUsers", currentUser.ID).Return(otherUsers, nil)

	handler := NewAuthHandler(mockDB)

	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.GET("/api/users", func(c *gin.Context) {
		c.Set("userID", currentUser.ID)
		c.Next()
	}, handler.GetAllUsers)

	req := httptest.NewRequest(http.MethodGet, "/api/users", nil)
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)

	assert.Equal(t, http.StatusOK, resp.Code)
	users := decode[[]models.UserResponse](t, resp)
	assert.Len(t, users, 2)
	assert.Equal(t, otherUsers[0].ID, users[0].ID)
	assert.Equal(t, otherUsers[0].Username, users[0].Username)
	assert.Empty(t, users[0].Email)
	assert.Equal(t, otherUsers[1].ID, users[1].ID)

	mockDB.AssertExpectations(t)
}

func TestGetAllUsersStoreFailure(t *testing.T) {
	mockDB := new(mocks.MockDB)
	mockDB.On("GetAllUsers", int64(1)).Return(nil, errors.New("connection reset"))

	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.GET("/api/users", func(c *gin.Context) {
		c.Set("userID", int64(1))
		c.Next()
	}, NewAuthHandler(mockDB).GetAllUsers)

	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/api/users", nil))

	assert.Equal(t, http.StatusInternalServerError, resp.Code)
	assert.NotContains(t, resp.Body.String(), "connection reset")
}
