package api

import (
	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

// WebSocketHandler serves the push channel upgrade
type WebSocketHandler interface {
	HandleWebSocket(c *gin.Context)
}

// Routes groups everything mounted under /api
type Routes struct {
	Auth     *AuthHandler
	Messages *MessageHandler
	Uploads  *UploadHandler
	Push     WebSocketHandler

	UploadRateLimit rate.Limit
	UploadRateBurst int
}

// Register mounts the API on r
func (rt Routes) Register(r gin.IRouter) {
	api := r.Group("/api")

	// Public routes
	api.POST("/auth/register", rt.Auth.Register)
	api.POST("/auth/login", rt.Auth.Login)

	// The push channel takes its token from the query string
	api.GET("/ws", TokenAuthMiddleware(), rt.Push.HandleWebSocket)

	authorized := api.Group("")
	authorized.Use(AuthMiddleware())
	{
		authorized.GET("/auth/me", rt.Auth.GetMe)
		authorized.GET("/users", rt.Auth.GetAllUsers)

		authorized.POST("/messages", rt.Messages.SendMessage)
		authorized.GET("/messages", rt.Messages.GetMessages)
		authorized.GET("/messages/contacts", rt.Messages.GetContacts)
		authorized.GET("/messages/unread-count", rt.Messages.GetUnreadCount)
		authorized.GET("/messages/conversation/:userID", rt.Messages.GetConversation)
		authorized.PATCH("/messages/:messageID/read", rt.Messages.MarkMessageAsRead)
		authorized.PUT("/messages/:messageID/read", rt.Messages.MarkMessageAsRead)

		uploads := authorized.Group("/upload")
		uploads.Use(RateLimitMiddleware(rt.UploadRateLimit, rt.UploadRateBurst))
		uploads.POST("", rt.Uploads.Upload)
		uploads.POST("/multiple", rt.Uploads.UploadMultiple)
	}
}
