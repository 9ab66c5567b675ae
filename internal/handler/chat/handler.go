package chat

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"

	"github.com/gethome/companion/backend/internal/auth"
	chatModel "github.com/gethome/companion/backend/internal/model/chat"
	middlewarePkg "github.com/gethome/companion/backend/internal/middleware"
	chatService "github.com/gethome/companion/backend/internal/service/chat"
	"github.com/gethome/companion/backend/pkg/utils"
)

const (
	msgUnauthorized    = "invalid or missing bearer token"
	msgMissingSubject  = "user id not found in token"
	msgSessionNotFound = "session not found or unauthorized"
	msgInvalidBody     = "invalid request body"
	msgInternal        = "internal server error"
)

// maxBodyBytes 限制单条消息请求体大小
const maxBodyBytes = 64 << 10

// Handler 聊天会话的HTTP处理器
type Handler struct {
	gateway  *chatService.Gateway
	logger   *slog.Logger
	upgrader websocket.Upgrader
}

// New 创建聊天处理器
func New(gateway *chatService.Gateway, logger *slog.Logger, allowedOrigins []string) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		gateway: gateway,
		logger:  logger,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return middlewarePkg.OriginAllowed(allowedOrigins, r.Header.Get("Origin"))
			},
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
	}
}

// RegisterRoutes 注册聊天相关的路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/chat/sessions", h.handleOpenSession)
	r.Post("/chat/sessions/{sessionID}/message", h.handleSendMessage)
	r.Post("/chat/sessions/{sessionID}", h.handleCloseSession)
	r.Get("/chat/sessions/{sessionID}/ws", h.handleWebSocket)
}

// handleOpenSession 创建会话
func (h *Handler) handleOpenSession(w http.ResponseWriter, r *http.Request) {
	principal, ok := h.authenticate(w, r, bearerCredential(r), http.StatusBadRequest, msgMissingSubject)
	if !ok {
		return
	}

	sessionID, err := h.gateway.OpenSession(r.Context(), principal)
	if err != nil {
		h.respondFailure(w, r, err)
		return
	}

	utils.RespondJSON(w, http.StatusOK, chatModel.SessionCreated{SessionID: sessionID})
}

// handleSendMessage 发送一轮消息
func (h *Handler) handleSendMessage(w http.ResponseWriter, r *http.Request) {
	principal, ok := h.authenticate(w, r, bearerCredential(r), http.StatusNotFound, msgSessionNotFound)
	if !ok {
		return
	}

	sessionID := chi.URLParam(r, "sessionID")
	// 先校验会话归属，再解析请求体
	if err := h.gateway.CheckSession(principal, sessionID); err != nil {
		h.respondFailure(w, r, err)
		return
	}

	var payload chatModel.SendMessageRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(&payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, msgInvalidBody)
		return
	}

	reply, err := h.gateway.SendMessage(r.Context(), principal, sessionID, payload.Message)
	if err != nil {
		h.respondFailure(w, r, err)
		return
	}

	utils.RespondJSON(w, http.StatusOK, reply)
}

// handleCloseSession 关闭会话
func (h *Handler) handleCloseSession(w http.ResponseWriter, r *http.Request) {
	principal, ok := h.authenticate(w, r, bearerCredential(r), http.StatusNotFound, msgSessionNotFound)
	if !ok {
		return
	}

	if err := h.gateway.CloseSession(r.Context(), principal, chi.URLParam(r, "sessionID")); err != nil {
		h.respondFailure(w, r, err)
		return
	}

	utils.RespondNoContent(w)
}

// authenticate 校验凭证；令牌缺少用户标识时按调用方给定的状态码响应
func (h *Handler) authenticate(w http.ResponseWriter, r *http.Request, credential string, missingSubjectStatus int, missingSubjectMsg string) (auth.Principal, bool) {
	if credential == "" {
		utils.RespondError(w, http.StatusUnauthorized, msgUnauthorized)
		return auth.Principal{}, false
	}

	principal, err := h.gateway.Authenticate(credential)
	switch {
	case err == nil:
		return principal, true
	case errors.Is(err, auth.ErrMissingSubject):
		utils.RespondError(w, missingSubjectStatus, missingSubjectMsg)
	case errors.Is(err, auth.ErrUnauthenticated):
		utils.RespondError(w, http.StatusUnauthorized, msgUnauthorized)
	default:
		h.respondFailure(w, r, err)
	}
	return auth.Principal{}, false
}

// respondFailure 将领域错误映射为HTTP状态码
func (h *Handler) respondFailure(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, chatService.ErrSessionNotFound):
		utils.RespondError(w, http.StatusNotFound, msgSessionNotFound)
	case errors.Is(err, chatService.ErrEmptyMessage):
		utils.RespondError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, auth.ErrMissingSubject):
		utils.RespondError(w, http.StatusBadRequest, msgMissingSubject)
	default:
		h.logger.Error("chat: request failed",
			"method", r.Method,
			"path", r.URL.Path,
			"request_id", middleware.GetReqID(r.Context()),
			"error", err,
		)
		utils.RespondError(w, http.StatusInternalServerError, msgInternal)
	}
}

func bearerCredential(r *http.Request) string {
	token, _ := auth.BearerToken(r.Header.Get("Authorization"))
	return token
}
