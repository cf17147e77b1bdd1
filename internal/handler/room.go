package handler

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"connection_coordinator/internal/service"
	apperrors "connection_coordinator/pkg/errors"
	"connection_coordinator/pkg/logger"
)

type RoomHandler struct {
	rooms service.RoomService
	log   logger.Logger
}

func NewRoomHandler(rooms service.RoomService, log logger.Logger) *RoomHandler {
	return &RoomHandler{rooms: rooms, log: log}
}

// History serves the room's audit trail, newest first. 404 is not reported:
// records outlive the room record itself.
func (h *RoomHandler) History(c *gin.Context) {
	roomID := c.Param("id")
	limit, err := strconv.Atoi(c.DefaultQuery("limit", "50"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be an integer"})
		return
	}

	records, err := h.rooms.History(c.Request.Context(), roomID, limit)
	if err != nil {
		h.log.Warn("Room history unavailable", "error", err, "room_id", roomID)
		c.JSON(apperrors.HTTPStatusFromError(err), gin.H{"error": "room history unavailable"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"room_id": roomID,
		"records": records,
	})
}
