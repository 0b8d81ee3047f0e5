package link

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	log "github.com/sirupsen/logrus"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	// The control channel is an internal agent endpoint, not a public
	// browser API; origin checking is meaningless here since the peer
	// is our own agent process, not a third-party page.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// GinHandler returns a gin.HandlerFunc that upgrades GET /internal/agent
// to a WebSocket and hands the connection to Accept.
func (l *Link) GinHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			log.WithError(err).Warn("link: websocket upgrade failed")
			return
		}
		l.Accept(conn)
	}
}
