package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/mossy-p/livecast/internal/directory"
	"github.com/mossy-p/livecast/internal/middleware"
	"github.com/mossy-p/livecast/internal/models"
)

// ListLive returns live streamers, newest first. The caller is excluded,
// either by ?exclude=<id> or by the identity in an optional token.
func ListLive(dir directory.Lister) gin.HandlerFunc {
	return func(c *gin.Context) {
		exclude := c.Query("exclude")
		if exclude == "" {
			exclude = c.GetString(middleware.ContextUserID)
		}

		entries, err := dir.ListLive(c.Request.Context(), exclude)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list live streamers"})
			return
		}
		if entries == nil {
			entries = []models.DirectoryEntry{}
		}

		c.JSON(http.StatusOK, models.LiveListResponse{Entries: entries})
	}
}

// SetLive toggles the authenticated caller's live flag (requires JWT)
func SetLive(dir directory.NamedWriter) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := c.GetString(middleware.ContextUserID)
		if userID == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "User not authenticated"})
			return
		}

		var req models.SetLiveRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		name := req.DisplayName
		if name == "" {
			name = c.GetString(middleware.ContextDisplayName)
		}

		if err := dir.SetLiveNamed(c.Request.Context(), userID, name, *req.Live, time.Now()); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to update live flag"})
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"id":    userID,
			"live":  *req.Live,
			"topic": models.Topic(userID),
		})
	}
}
