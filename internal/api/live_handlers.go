package api

import (
	"log"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/technosupport/ts-trapnet/internal/live"
	"github.com/technosupport/ts-trapnet/internal/tokens"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // reverse proxy enforces the origin
	},
}

const writeTimeout = 10 * time.Second

// LiveHandler streams pipeline lifecycle events to operator websockets.
type LiveHandler struct {
	Tokens *tokens.Manager
	Hub    *live.Hub
}

func (h *LiveHandler) ServeWS(w http.ResponseWriter, r *http.Request) {
	// Browsers cannot set Authorization on websocket requests; auth rides the
	// query string.
	tokenStr := r.URL.Query().Get("token")
	if tokenStr == "" {
		http.Error(w, "missing token", http.StatusUnauthorized)
		return
	}
	claims, err := h.Tokens.ValidateToken(tokenStr)
	if err != nil || claims.TokenType != tokens.Access {
		http.Error(w, "invalid token", http.StatusUnauthorized)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[Live] upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	events, cancel := h.Hub.Subscribe()
	defer cancel()

	log.Printf("[Live] feed connected: user=%s", claims.UserID)

	// Reader only detects close; clients do not send anything meaningful.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-done:
			return
		case ev, open := <-events:
			if !open {
				return
			}
			conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := conn.WriteMessage(websocket.TextMessage, ev); err != nil {
				log.Printf("[Live] write to user %s failed: %v", claims.UserID, err)
				return
			}
		}
	}
}
