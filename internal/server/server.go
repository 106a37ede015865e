package server

import (
	"log"
	"net/http"

	"github.com/Scrimzay/hexboard/internal/relay"
	"github.com/Scrimzay/hexboard/internal/session"
	"github.com/Scrimzay/hexboard/internal/world"
	"github.com/gin-gonic/gin"
)

// SetupRouter mounts the relay (/ws, /state) and, when this process is the
// GM, the command API under /gm. gm may be nil for a relay-only server.
func SetupRouter(hub *relay.Hub, gm *session.GM) *gin.Engine {
	r := gin.Default()

	r.GET("/healthz", healthHandler(hub))
	r.GET("/state", getStateHandler(hub))
	r.POST("/state", postStateHandler(hub))
	r.GET("/ws", HandleWebsocket(hub))

	if gm != nil {
		g := r.Group("/gm")
		g.GET("/state", editorStateHandler(gm.World()))
		g.GET("/presets", presetsHandler)
		g.POST("/play/:mapName", playHandler(gm.World()))
		g.POST("/actions", HandleAction(gm.World()))
	}
	return r
}

func healthHandler(hub *relay.Hub) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"ok": true, "rooms": hub.Rooms()})
	}
}

func presetsHandler(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"presets": world.Presets()})
}

// playHandler clears the table and loads a preset map.
func playHandler(w *world.World) gin.HandlerFunc {
	return func(c *gin.Context) {
		mapName := c.Param("mapName")
		log.Printf("=== LOADING MAP: %s ===", mapName)

		w.Reset()
		w.InitMap(mapName, 0)
		c.JSON(http.StatusOK, gin.H{"map": mapName, "tiles": len(w.PublishedTiles())})
	}
}
