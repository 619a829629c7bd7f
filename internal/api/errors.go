package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/gigboard/marketplace/internal/attachments"
	"github.com/gigboard/marketplace/internal/database"
	"github.com/gigboard/marketplace/internal/messaging"
)

// respondError maps domain errors onto HTTP statuses
func respondError(c *gin.Context, err error) {
	var (
		sendErr   *messaging.ValidationError
		uploadErr *attachments.ValidationError
	)

	switch {
	case errors.As(err, &sendErr), errors.As(err, &uploadErr):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case messaging.IsPermission(err):
		c.JSON(http.StatusForbidden, gin.H{"error": err.Error()})
	case errors.Is(err, database.ErrUserNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "User not found"})
	case errors.Is(err, database.ErrMessageNotFound), errors.Is(err, messaging.ErrReplyTargetNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, context.Canceled):
		c.Status(499)
	default:
		log.Error("%s %s failed: %v", c.Request.Method, c.FullPath(), err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
	}
}
