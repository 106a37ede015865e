package server

import (
	"log"
	"net/http"

	"github.com/Scrimzay/hexboard/internal/protocol"
	"github.com/Scrimzay/hexboard/internal/relay"
	"github.com/Scrimzay/hexboard/internal/transport"
	"github.com/gin-gonic/gin"
)

func roomOf(c *gin.Context) string {
	return c.DefaultQuery("room", relay.DefaultRoom)
}

func getStateHandler(hub *relay.Hub) gin.HandlerFunc {
	return func(c *gin.Context) {
		snap, ok := hub.Snapshot(roomOf(c))
		if !ok {
			c.JSON(http.StatusNotFound, gin.H{"error": "no state for room"})
			return
		}
		c.JSON(http.StatusOK, transport.StateBody{Payload: snap})
	}
}

// postStateHandler takes a full snapshot pushed over HTTP. Older
// snapshots are accepted and dropped, the pusher can't do better. A body
// without an epoch was never built by a GM and is refused.
func postStateHandler(hub *relay.Hub) gin.HandlerFunc {
	return func(c *gin.Context) {
		var body transport.StateBody
		if err := c.ShouldBindJSON(&body); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		if body.Payload.Epoch == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "payload has no epoch"})
			return
		}
		room := roomOf(c)
		if !hub.Publish(room, protocol.Snapshot{Snapshot: body.Payload}) {
			log.Printf("state: stale push for %s (%s/%d)", room, body.Payload.Epoch, body.Payload.Seq)
		}
		c.Status(http.StatusNoContent)
	}
}
