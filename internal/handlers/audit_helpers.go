package handlers

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/Ihnore-Ihor/PI-CMS/internal/middleware"
)

const requestIDContextKey = "request_id"

func requestIDFromContext(c *gin.Context) string {
	if val, ok := c.Get(requestIDContextKey); ok {
		if id, ok := val.(string); ok && id != "" {
			return id
		}
	}

	requestID := c.GetHeader("X-Request-ID")
	if requestID == "" {
		requestID = uuid.NewString()
	}
	c.Set(requestIDContextKey, requestID)
	return requestID
}

func userIDFromContext(c *gin.Context) *string {
	if val, ok := c.Get(middleware.UserIDContextKey); ok {
		if externalID, ok := val.(string); ok && externalID != "" {
			return &externalID
		}
	}

	if header := c.GetHeader("X-User-ID"); header != "" {
		value := header
		return &value
	}

	return nil
}
