package chat

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	chatModel "github.com/gethome/companion/backend/internal/model/chat"
	chatService "github.com/gethome/companion/backend/internal/service/chat"
)

// QueryCredentialParam carries the token for browsers, which cannot set headers on a
// websocket handshake. middleware.QueryCredential moves it into the Authorization
// header before the request is logged.
const QueryCredentialParam = "access_token"

const (
	wsReadTimeout  = 60 * time.Second
	wsPingInterval = 54 * time.Second
	wsWriteTimeout = 10 * time.Second
)

// handleWebSocket 在已有会话上建立实时聊天连接
func (h *Handler) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	principal, ok := h.authenticate(w, r, bearerCredential(r), http.StatusNotFound, msgSessionNotFound)
	if !ok {
		return
	}

	sessionID := chi.URLParam(r, "sessionID")
	if err := h.gateway.CheckSession(principal, sessionID); err != nil {
		h.respondFailure(w, r, err)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("chat: websocket upgrade failed", "session_id", sessionID, "error", err)
		return
	}
	defer conn.Close()

	h.logger.Info("chat: websocket connected", "session_id", sessionID, "user_id", principal.Identity)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	conn.SetReadLimit(maxBodyBytes)
	conn.SetReadDeadline(time.Now().Add(wsReadTimeout))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(wsReadTimeout))
	})

	go pingLoop(ctx, conn)

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Warn("chat: websocket read failed", "session_id", sessionID, "error", err)
			}
			return
		}
		conn.SetReadDeadline(time.Now().Add(wsReadTimeout))

		var frame chatModel.SendMessageRequest
		if err := json.Unmarshal(data, &frame); err != nil {
			h.writeFrame(conn, chatModel.StreamError{Error: msgInvalidBody})
			continue
		}

		reply, err := h.gateway.SendMessage(ctx, principal, sessionID, frame.Message)
		switch {
		case err == nil:
			h.writeFrame(conn, reply)
		case errors.Is(err, chatService.ErrEmptyMessage):
			h.writeFrame(conn, chatModel.StreamError{Error: err.Error()})
		case errors.Is(err, chatService.ErrSessionNotFound):
			h.writeFrame(conn, chatModel.StreamError{Error: msgSessionNotFound})
			closeNormally(conn, "session closed")
			return
		default:
			h.logger.Error("chat: websocket turn failed", "session_id", sessionID, "error", err)
			h.writeFrame(conn, chatModel.StreamError{Error: msgInternal})
		}
	}
}

func (h *Handler) writeFrame(conn *websocket.Conn, payload any) {
	conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	if err := conn.WriteJSON(payload); err != nil {
		h.logger.Warn("chat: websocket write failed", "error", err)
	}
}

func closeNormally(conn *websocket.Conn, reason string) {
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, reason)
	_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(wsWriteTimeout))
}

// pingLoop 定期发送ping消息
func pingLoop(ctx context.Context, conn *websocket.Conn) {
	ticker := time.NewTicker(wsPingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteTimeout)); err != nil {
				return
			}
		}
	}
}
