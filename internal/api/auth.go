package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/gigboard/marketplace/internal/auth"
	"github.com/gigboard/marketplace/internal/database"
	"github.com/gigboard/marketplace/internal/models"
)

// AuthHandler handles authentication routes
type AuthHandler struct {
	DB database.DBInterface
}

// NewAuthHandler creates a new auth handler
func NewAuthHandler(db database.DBInterface) *AuthHandler {
	return &AuthHandler{DB: db}
}

// privateResponse includes the email, only ever sent to the account owner
func privateResponse(user *models.User) models.UserResponse {
	resp := user.Response()
	resp.Email = user.Email
	return resp
}

// Register handles user registration
func (h *AuthHandler) Register(c *gin.Context) {
	var input models.UserRegistration

	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	hashedPassword, err := auth.HashPassword(input.Password)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to process password"})
		return
	}

	user, err := h.DB.CreateUser(input.Username, input.Email, hashedPassword)
	if errors.Is(err, database.ErrUserAlreadyExists) {
		c.JSON(http.StatusConflict, gin.H{"error": "User already exists"})
		return
	}
	if err != nil {
		log.Error("Failed to create user %s: %v", input.Username, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create user"})
		return
	}

	c.JSON(http.StatusCreated, privateResponse(user))
}

// Login handles user login
func (h *AuthHandler) Login(c *gin.Context) {
	var input models.UserLogin

	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	user, err := h.DB.GetUserByEmail(input.Email)
	if errors.Is(err, database.ErrUserNotFound) {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid credentials"})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to retrieve user"})
		return
	}

	if !auth.CheckPasswordHash(input.Password, user.PasswordHash) {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid credentials"})
		return
	}

	if err := h.DB.UpdateLastSeen(user.ID); err != nil {
		log.Warn("Failed to update last_seen for user %d: %v", user.ID, err)
	}

	token, expiry, err := auth.GenerateToken(user)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to generate token"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"token":  token,
		"expiry": expiry,
		"user":   privateResponse(user),
	})
}

// GetMe gets the current user profile
func (h *AuthHandler) GetMe(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}

	user, err := h.DB.GetUserByID(userID)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, privateResponse(user))
}

// GetAllUsers lists everyone the caller could start a conversation with
func (h *AuthHandler) GetAllUsers(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}

	users, err := h.DB.GetAllUsers(userID)
	if err != nil {
		respondError(c, err)
		return
	}

	resp := make([]models.UserResponse, 0, len(users))
	for _, u := range users {
		resp = append(resp, u.Response())
	}
	c.JSON(http.StatusOK, resp)
}
