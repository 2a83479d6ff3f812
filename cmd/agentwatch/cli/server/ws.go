package server

import (
	"encoding/json"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/agentwatch/cli/cmd/agentwatch/cli/logging"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

func (s *Server) initFrame() ([]byte, error) {
	return json.Marshal(map[string]any{
		"type":     "init",
		"agents":   toAgentList(s.deps.Live.Agents()),
		"repos":    toRepoList(s.deps.Live.Repos(), true),
		"ports":    toPortList(s.deps.Live.Ports()),
		"sessions": toSessionList(s.deps.Hooks.ActiveSessions(), s.deps.Costs.SessionLimitUSD),
	})
}

// handleWS upgrades, sends the init snapshot and parks in a read loop.
// Clients are not expected to send data; the loop services close and
// ping/pong control frames until the peer goes away.
func (s *Server) handleWS(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logging.Warn(c.Request.Context(), "websocket upgrade failed", "error", err)
		return
	}

	init, err := s.initFrame()
	if err != nil {
		logging.Error(c.Request.Context(), "failed to build init frame", "error", err)
		_ = conn.Close()
		return
	}
	if err := s.hub.Add(conn, init); err != nil {
		logging.Debug(c.Request.Context(), "websocket client left before init", "error", err)
		return
	}
	logging.Debug(c.Request.Context(), "websocket client connected", "client", c.ClientIP())

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}
	s.hub.Remove(conn)
	logging.Debug(c.Request.Context(), "websocket client disconnected", "client", c.ClientIP())
}
