package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // Be careful with this in production
	},
}

const (
	MessageAsk      = "ask"
	MessageResponse = "response"
	MessageError    = "error"
)

type Message struct {
	Type    string `json:"type"`
	Content string `json:"content"`
}

// handleWebSocket answers ask messages one at a time, in order, until the
// client closes the connection.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.logger.Warn("websocket read failed", zap.Error(err))
			}
			return
		}

		var msg Message
		if err := json.Unmarshal(raw, &msg); err != nil {
			s.sendMessage(conn, MessageError, "invalid message")
			continue
		}
		if msg.Type != MessageAsk {
			s.sendMessage(conn, MessageError, "unsupported message type: "+msg.Type)
			continue
		}

		ctx, cancel := context.WithTimeout(r.Context(), s.config.RequestTimeout)
		answer, err := s.answerer.Ask(ctx, msg.Content)
		cancel()
		s.reply(conn, answer, err)
	}
}

func (s *Server) reply(conn *websocket.Conn, answer string, err error) {
	if err != nil {
		s.logger.Error("websocket ask failed", zap.Error(err), zap.Int("status", statusFor(err)))
		s.sendMessage(conn, MessageError, err.Error())
		return
	}
	s.sendMessage(conn, MessageResponse, answer)
}

func (s *Server) sendMessage(conn *websocket.Conn, msgType string, content string) {
	msg := Message{
		Type:    msgType,
		Content: content,
	}
	if err := conn.WriteJSON(msg); err != nil && !errors.Is(err, websocket.ErrCloseSent) {
		s.logger.Warn("error sending message", zap.Error(err))
	}
}
