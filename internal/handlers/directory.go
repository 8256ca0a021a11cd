package handlers

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/Ihnore-Ihor/PI-CMS/internal/roster"
)

// DirectoryHandler exposes the roster directory to relay clients, so the
// "pick participants for a new chat" flow talks to one origin.
type DirectoryHandler struct {
	roster *roster.Client
	log    zerolog.Logger
}

// NewDirectoryHandler constructs the handler around the roster client.
func NewDirectoryHandler(rosterClient *roster.Client, log zerolog.Logger) *DirectoryHandler {
	return &DirectoryHandler{roster: rosterClient, log: log}
}

// ListStudents proxies the roster list, forwarding the caller's bearer
// credential unchanged.
func (h *DirectoryHandler) ListStudents(c *gin.Context) {
	token := bearerToken(c.GetHeader("Authorization"))
	if token == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "missing authorization"})
		return
	}

	students, err := h.roster.ListStudents(c.Request.Context(), token)
	if err != nil {
		h.log.Warn().Err(err).Msg("roster lookup failed")
		c.JSON(http.StatusBadGateway, gin.H{"error": "roster unavailable"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "students": students})
}

func bearerToken(header string) string {
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
		return ""
	}
	return parts[1]
}
