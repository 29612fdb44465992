package server

import (
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/lanops/lanagent/internal/response"
	"github.com/lanops/lanagent/pkg/logger"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	// The agent serves LAN tooling only; origin checks stay permissive like
	// the rest of the CORS surface.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// handleLogsStream follows the agent log over a websocket, one message per
// line. The session gate applies: the token comes from the usual headers or a
// token query parameter (browsers cannot set headers on websocket dials).
func (s *Server) handleLogsStream(c *gin.Context) {
	token := authToken(c, nil)
	if token == "" {
		token = c.Query("token")
	}
	if !s.sessions.Verify(token) {
		writeResponse(c, response.AuthError("missing, invalid or expired session token"))
		return
	}

	path := logger.CurrentLogFile()
	if path == "" {
		writeResponse(c, response.NotFound("agent log"))
		return
	}
	f, err := os.Open(path)
	if err != nil {
		writeResponse(c, response.NotFound("agent log"))
		return
	}
	defer f.Close()
	if _, err := f.Seek(0, io.SeekEnd); err != nil {
		writeResponse(c, response.InternalError("log stream unavailable"))
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// Upgrade already wrote the failure response.
		return
	}
	defer conn.Close()

	// Reader pump: we never expect client messages, but reading is what
	// surfaces the close frame.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(250 * time.Millisecond)
	defer ticker.Stop()
	keepAlive := time.NewTicker(15 * time.Second)
	defer keepAlive.Stop()

	buf := make([]byte, 32*1024)
	var partial strings.Builder

	for {
		select {
		case <-done:
			return
		case <-c.Request.Context().Done():
			return
		case <-keepAlive.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second)); err != nil {
				return
			}
		case <-ticker.C:
			n, err := f.Read(buf)
			if n > 0 {
				partial.WriteString(string(buf[:n]))
				for {
					chunk := partial.String()
					idx := strings.IndexByte(chunk, '\n')
					if idx < 0 {
						break
					}
					line := strings.TrimRight(chunk[:idx], "\r")
					if werr := conn.WriteMessage(websocket.TextMessage, []byte(line)); werr != nil {
						return
					}
					rest := chunk[idx+1:]
					partial.Reset()
					partial.WriteString(rest)
				}
			}
			if err != nil && err != io.EOF {
				_ = conn.WriteMessage(websocket.TextMessage, []byte("log stream error: "+err.Error()))
				return
			}
		}
	}
}
