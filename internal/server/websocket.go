package server

import (
	"errors"
	"fmt"
	"log"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/blocklab/blocklab/internal/session"
	"github.com/blocklab/blocklab/internal/store"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // session code + owner id are the access check
	},
}

// handleConnect is the session WebSocket endpoint:
// GET /session/connect/{code}?uuid=<ownerId>.
func (s *Server) handleConnect(w http.ResponseWriter, r *http.Request) {
	code := chi.URLParam(r, "code")
	ownerID := r.URL.Query().Get("uuid")
	log.Printf("new connection request for session %s", code)

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("websocket upgrade error: %v", err)
		return
	}
	defer conn.Close()

	rec, err := s.coord.store.Get(r.Context(), code)
	if errors.Is(err, store.ErrNotFound) {
		wsWriteText(conn, "Invalid code")
		return
	}
	if err != nil {
		log.Printf("websocket connect: %v", err)
		wsWriteText(conn, "Server error")
		return
	}
	if rec.UUID != ownerID {
		wsWriteText(conn, "Invalid uuid")
		return
	}

	clientID := fmt.Sprintf("%s-%s", ownerID, uuid.NewString()[:8])
	s.coord.registry.Register(clientID, conn)
	defer s.coord.detach(r.Context(), code, clientID)

	if err := s.coord.attach(r.Context(), code, clientID); err != nil {
		log.Printf("websocket attach: %v", err)
		wsWriteText(conn, "Server error")
		return
	}

	// The new connection alone learns the current running state; no
	// broadcast for a joining viewer.
	s.coord.registry.Send(clientID, session.RunningState(rec.IsRunning))

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return
			}
			log.Printf("websocket read error: %v", err)
			return
		}

		if err := s.coord.handleMessage(r.Context(), code, ownerID, raw); err != nil {
			if errors.Is(err, errInvalidOwner) {
				s.coord.registry.SendText(clientID, "Invalid uuid")
				return
			}
			log.Printf("error handling message: %v", err)
			s.coord.registry.SendText(clientID, "Server error")
		}
	}
}

func wsWriteText(conn *websocket.Conn, msg string) {
	if err := conn.WriteMessage(websocket.TextMessage, []byte(msg)); err != nil {
		log.Printf("websocket write error: %v", err)
	}
}
