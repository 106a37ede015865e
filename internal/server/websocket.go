package server

import (
	"log"
	"net/http"
	"time"

	"github.com/Scrimzay/hexboard/internal/protocol"
	"github.com/Scrimzay/hexboard/internal/relay"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

const (
	pongWait     = 60 * time.Second
	maxFrameSize = 1 << 20
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// HandleWebsocket joins the caller to ?room= as ?role= speaking ?codec=,
// then feeds everything it reads to the hub.
func HandleWebsocket(hub *relay.Hub) gin.HandlerFunc {
	return func(c *gin.Context) {
		conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			log.Println("WS upgrade error:", err)
			return
		}

		peer := relay.NewPeer(conn,
			roomOf(c),
			relay.ParseRole(c.Query("role")),
			protocol.CodecByName(c.Query("codec")),
		)
		hub.Register(peer)

		conn.SetReadLimit(maxFrameSize)
		conn.SetReadDeadline(time.Now().Add(pongWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(pongWait))
		})

		for {
			msgType, data, err := conn.ReadMessage()
			if err != nil {
				hub.Unregister(peer)
				break
			}
			// any traffic counts as alive
			conn.SetReadDeadline(time.Now().Add(pongWait))

			codec := protocol.JSON
			if msgType == websocket.BinaryMessage {
				codec = protocol.MsgPack
			}
			msg, err := codec.Unmarshal(data)
			if err != nil {
				log.Printf("WS %s: dropping malformed frame: %v", peer, err)
				continue
			}
			hub.Receive(peer, msg)
		}
	}
}
