package http

import (
	"errors"
	"math"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/parcelchat-server/internal/auth"
	"github.com/vovakirdan/parcelchat-server/internal/proto"
	"github.com/vovakirdan/parcelchat-server/internal/store"
)

const (
	defaultPageSize = 20
	maxPageSize     = 100

	// maxPage keeps (page-1)*pageSize within int32 for every pageSize.
	maxPage = math.MaxInt32 / maxPageSize
)

// HistoryStore is the read side used by the REST history endpoint.
type HistoryStore interface {
	store.ConversationStore
	store.MessageStore
}

// APIHandlers provides HTTP handlers for REST API endpoints.
type APIHandlers struct {
	authService *auth.Service
	store       HistoryStore
	log         *zerolog.Logger
}

// NewAPIHandlers creates a new API handlers instance.
func NewAPIHandlers(authService *auth.Service, st HistoryStore, logger *zerolog.Logger) *APIHandlers {
	return &APIHandlers{
		authService: authService,
		store:       st,
		log:         logger,
	}
}

// LoginRequest represents the login request body.
type LoginRequest struct {
	Email    string `json:"email" binding:"required"`
	Password string `json:"password" binding:"required"`
}

// AuthResponse represents the authentication response body.
type AuthResponse struct {
	Token string `json:"token"`
}

// ErrorResponse represents an error response body.
type ErrorResponse struct {
	Error string `json:"error"`
}

// HistoryResponse is one page of a conversation, newest first.
type HistoryResponse struct {
	Messages []proto.Message `json:"messages"`
	Page     int             `json:"page"`
	PageSize int             `json:"pageSize"`
	Total    int64           `json:"total"`
	HasMore  bool            `json:"hasMore"`
}

// Login handles user login.
// POST /api/login
func (h *APIHandlers) Login(c *gin.Context) {
	var req LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.log.Debug().Err(err).Msg("invalid login request")
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request body"})
		return
	}

	token, err := h.authService.Login(c.Request.Context(), req.Email, req.Password)
	if err != nil {
		switch {
		case errors.Is(err, auth.ErrInvalidCredentials):
			c.JSON(http.StatusUnauthorized, ErrorResponse{Error: "invalid credentials"})
		case errors.Is(err, auth.ErrUserDisabled):
			c.JSON(http.StatusForbidden, ErrorResponse{Error: "user disabled"})
		default:
			h.log.Error().Err(err).Str("email", req.Email).Msg("failed to login user")
			c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
		}
		return
	}

	h.log.Info().Str("email", req.Email).Msg("user logged in")
	c.JSON(http.StatusOK, AuthResponse{Token: token})
}

// ConversationMessages returns a page of message history.
// GET /api/conversations/:id/messages?page=1&pageSize=20
func (h *APIHandlers) ConversationMessages(c *gin.Context) {
	userID, _ := identityFrom(c)
	conversationID := c.Param("id")

	page, err := queryInt(c, "page", 1)
	if err != nil || page > maxPage {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid page"})
		return
	}
	pageSize, err := queryInt(c, "pageSize", defaultPageSize)
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid pageSize"})
		return
	}
	page = max(page, 1)
	pageSize = min(max(pageSize, 1), maxPageSize)

	ctx := c.Request.Context()
	conv, err := h.store.GetConversation(ctx, conversationID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			c.JSON(http.StatusNotFound, ErrorResponse{Error: "conversation not found"})
			return
		}
		h.log.Error().Err(err).Str("conversation_id", conversationID).Msg("load conversation")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
		return
	}
	if !conv.IsParticipant(userID) {
		c.JSON(http.StatusForbidden, ErrorResponse{Error: "not a participant of this conversation"})
		return
	}

	total, err := h.store.CountMessages(ctx, conv.ID)
	if err != nil {
		h.log.Error().Err(err).Str("conversation_id", conv.ID).Msg("count messages")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
		return
	}
	offset := (page - 1) * pageSize
	msgs, err := h.store.ListMessages(ctx, conv.ID, offset, pageSize)
	if err != nil {
		h.log.Error().Err(err).Str("conversation_id", conv.ID).Msg("list messages")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
		return
	}

	c.JSON(http.StatusOK, HistoryResponse{
		Messages: messagesToProto(msgs),
		Page:     page,
		PageSize: pageSize,
		Total:    total,
		HasMore:  int64(offset+len(msgs)) < total,
	})
}

func queryInt(c *gin.Context, key string, def int) (int, error) {
	raw := c.Query(key)
	if raw == "" {
		return def, nil
	}
	return strconv.Atoi(raw)
}
