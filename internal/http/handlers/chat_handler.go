// Assistant HTTP handlers.
//
// Endpoints for the per-artist AI assistant: sending a message (quota
// charged, idempotent retries honored), reading usage, browsing day
// sessions and their messages, aggregate stats, and admin configuration.
package handlers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/sessantasette/hub-backend/internal/domain"
	"github.com/sessantasette/hub-backend/internal/http/middleware"
	"github.com/sessantasette/hub-backend/internal/repo"
	"github.com/sessantasette/hub-backend/internal/services"
	"github.com/sessantasette/hub-backend/internal/utils"
)

// AssistantService defines the assistant operations consumed by HTTP
// handlers.
type AssistantService interface {
	SendMessage(ctx context.Context, artistID, userID, raw string) (*services.ChatReply, error)
	RemainingMessages(ctx context.Context, artistID string) (*services.UsageSnapshot, error)
	ListSessions(ctx context.Context, artistID string, page, pageSize int) ([]domain.ChatSession, error)
	SessionMessages(ctx context.Context, actor services.Actor, sessionID string, limit int) ([]domain.ChatMessage, error)
	Stats(ctx context.Context, artistID string) (*services.SessionStats, error)
	GetConfig(ctx context.Context, actor services.Actor, artistID string) (*domain.AgentConfig, error)
	UpdateConfig(ctx context.Context, actor services.Actor, cfg *domain.AgentConfig) (*domain.AgentConfig, error)
}

// ChatHandlers groups the assistant endpoints.
type ChatHandlers struct {
	svc AssistantService

	// idemTTL is how long a stored send result is replayable.
	idemTTL time.Duration
}

// NewChatHandlers binds the assistant endpoints to a service.
func NewChatHandlers(svc AssistantService, idemTTL time.Duration) *ChatHandlers {
	return &ChatHandlers{svc: svc, idemTTL: idemTTL}
}

// db returns the GORM handle behind the service when available. Idempotency
// bookkeeping is skipped for fakes that don't carry one.
func (h *ChatHandlers) db() *gorm.DB {
	if svc, isConcrete := h.svc.(*services.AssistantService); isConcrete {
		return svc.DB
	}
	return nil
}

//
// DTOs
//

// SendChatRequest is the JSON payload for one assistant exchange.
type SendChatRequest struct {
	Message string `json:"message" binding:"required" example:"Come promuovo il nuovo singolo su TikTok?"`
	// ArtistID selects the assistant persona; staff only, artists are
	// pinned to their own roster entry.
	ArtistID string `json:"artist_id,omitempty" format:"uuid"`
}

// QuotaExceededResponse is returned with 429 when the daily allowance is
// spent. ResetsAt is the next UTC midnight.
type QuotaExceededResponse struct {
	RequestID string                 `json:"request_id,omitempty"`
	Code      string                 `json:"code" example:"quota_exhausted"`
	Message   string                 `json:"message"`
	Usage     services.UsageSnapshot `json:"usage"`
}

// AgentConfigRequest is the admin payload for configuring an artist's
// assistant. Zero-valued generation settings fall back to defaults.
type AgentConfigRequest struct {
	ArtistID          string  `json:"artist_id" binding:"required" format:"uuid"`
	IsEnabled         bool    `json:"is_enabled"`
	Model             string  `json:"model,omitempty" example:"deepseek-chat"`
	Temperature       float32 `json:"temperature,omitempty" example:"0.7"`
	MaxTokens         int     `json:"max_tokens,omitempty" example:"1000"`
	DailyMessageLimit int     `json:"daily_message_limit,omitempty" example:"20"`
	PromptIdentity    string  `json:"prompt_identity,omitempty"`
	PromptActivity    string  `json:"prompt_activity,omitempty"`
	PromptOntology    string  `json:"prompt_ontology,omitempty"`
	PromptMarketing   string  `json:"prompt_marketing,omitempty"`
	PromptBoundaries  string  `json:"prompt_boundaries,omitempty"`
	PromptExtra       string  `json:"prompt_extra,omitempty"`
}

// assistantArtistID resolves which artist the call targets. Artists are
// always pinned to their own entry; staff pass an explicit id.
func assistantArtistID(c *gin.Context, explicit string) (string, bool) {
	act := actor(c)
	if !act.Role.IsStaff() {
		return act.ArtistID, act.ArtistID != ""
	}
	if explicit != "" {
		return explicit, true
	}
	return "", false
}

// retryAfterSeconds returns whole seconds until the next UTC midnight.
func retryAfterSeconds(now time.Time) int {
	u := now.UTC()
	midnight := time.Date(u.Year(), u.Month(), u.Day(), 0, 0, 0, 0, time.UTC).Add(24 * time.Hour)
	return int(midnight.Sub(u).Round(time.Second).Seconds())
}

//
// Handlers
//

// SendChatMessage godoc
// @ID          sendChatMessage
// @Summary     Send a message to the artist's assistant
// @Description Charges one unit of the artist's daily allowance and returns the assistant's reply. Retrying with the same Idempotency-Key replays the stored result without a second charge.
// @Tags        Assistant
// @Accept      json
// @Produce     json
// @Security    BearerAuth
//
// @Param       Idempotency-Key  header  string  false  "Client retry token (opaque, <=200 chars)"
// @Param       body             body    handlers.SendChatRequest  true  "Message payload"
//
// @Success     200  {object}  services.ChatReply
// @Failure     400  {object}  handlers.ErrorResponse          "Empty or oversized message"
// @Failure     403  {object}  handlers.ErrorResponse          "Assistant not enabled"
// @Failure     429  {object}  handlers.QuotaExceededResponse  "Daily allowance spent"
// @Header      429  {string}  Retry-After "Seconds until the UTC midnight reset"
// @Failure     502  {object}  handlers.ErrorResponse          "Provider unavailable (retryable)"
// @Router      /ai/chat [post]
func (h *ChatHandlers) SendChatMessage(c *gin.Context) {
	var req SendChatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		middleware.AssistantSends.WithLabelValues("invalid").Inc()
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid JSON body")
		return
	}
	act := actor(c)
	artistID, resolved := assistantArtistID(c, req.ArtistID)
	if !resolved {
		middleware.AssistantSends.WithLabelValues("invalid").Inc()
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "artist_id required")
		return
	}
	ctx := c.Request.Context()

	// Stored-result replay: the idempotency middleware already matched the
	// key; serve the original reply without touching the quota.
	if middleware.IsReplay(c) {
		if reply, served := h.replayStored(ctx, c, act.UserID, artistID); served {
			middleware.AssistantSends.WithLabelValues("replay").Inc()
			ok(c, http.StatusOK, reply)
			return
		}
		// Stored record vanished between middleware check and now
		// (TTL expiry); fall through to a fresh send.
	}

	reply, err := h.svc.SendMessage(ctx, artistID, act.UserID, req.Message)
	if err != nil {
		h.failSend(c, err)
		return
	}

	if key, hasKey := middleware.GetIdempotencyKey(c); hasKey {
		if db := h.db(); db != nil {
			// Best effort: a failed write only costs the client replay
			// protection, never the reply.
			if _, derr := repo.CreateIdempotency(ctx, db, act.UserID, artistID, key, reply.MessageID, http.StatusOK, h.idemTTL); derr != nil {
				middleware.LoggerFrom(c).Warn().Err(derr).Msg("idempotency record write failed")
			}
		}
	}

	middleware.AssistantSends.WithLabelValues("ok").Inc()
	ok(c, http.StatusOK, reply)
}

// replayStored reconstructs the reply a previous send produced under the
// same idempotency key. Returns served=false when the record or message is
// gone, in which case the caller performs a fresh send.
func (h *ChatHandlers) replayStored(ctx context.Context, c *gin.Context, userID, artistID string) (*services.ChatReply, bool) {
	db := h.db()
	key, hasKey := middleware.GetIdempotencyKey(c)
	if db == nil || !hasKey {
		return nil, false
	}
	rec, err := repo.GetIdempotency(ctx, db, userID, artistID, key, time.Now().UTC())
	if err != nil {
		return nil, false
	}
	msg, err := repo.GetChatMessage(ctx, db, rec.MessageID)
	if err != nil {
		return nil, false
	}

	reply := &services.ChatReply{
		Message:   msg.Content,
		SessionID: msg.SessionID,
		MessageID: msg.ID,
	}
	if msg.TokensUsed != nil {
		reply.TokensUsed = *msg.TokensUsed
	}
	if msg.ModelUsed != nil {
		reply.ModelUsed = *msg.ModelUsed
	}
	if msg.ResponseTimeMS != nil {
		reply.ResponseTimeMS = *msg.ResponseTimeMS
	}
	if snap, uerr := h.svc.RemainingMessages(ctx, artistID); uerr == nil {
		reply.Usage = *snap
	}
	return reply, true
}

// failSend maps send errors onto HTTP responses and the outcome counter.
func (h *ChatHandlers) failSend(c *gin.Context, err error) {
	var qe *services.QuotaError
	switch {
	case errors.As(err, &qe):
		middleware.AssistantSends.WithLabelValues("quota_exhausted").Inc()
		now := time.Now().UTC()
		c.Header("Retry-After", strconv.Itoa(retryAfterSeconds(now)))
		c.AbortWithStatusJSON(http.StatusTooManyRequests, QuotaExceededResponse{
			RequestID: c.Writer.Header().Get("X-Request-ID"),
			Code:      "quota_exhausted",
			Message:   fmt.Sprintf("daily message limit reached (%d/%d)", qe.UsedToday, qe.DailyLimit),
			Usage: services.UsageSnapshot{
				DailyLimit: qe.DailyLimit,
				UsedToday:  qe.UsedToday,
				Remaining:  0,
				IsEnabled:  true,
				ResetsAt:   now.Truncate(24 * time.Hour).Add(24 * time.Hour).Format(time.RFC3339),
			},
		})
	case errors.Is(err, services.ErrAgentDisabled):
		middleware.AssistantSends.WithLabelValues("disabled").Inc()
		failServiceErr(c, err)
	case errors.Is(err, services.ErrProviderUnavailable):
		middleware.AssistantSends.WithLabelValues("provider_error").Inc()
		failServiceErr(c, err)
	case errors.Is(err, services.ErrEmptyMessage), errors.Is(err, services.ErrMessageTooLong):
		middleware.AssistantSends.WithLabelValues("invalid").Inc()
		failServiceErr(c, err)
	default:
		middleware.AssistantSends.WithLabelValues("error").Inc()
		failServiceErr(c, err)
	}
}

// GetUsage godoc
// @ID          getAssistantUsage
// @Summary     Today's assistant allowance
// @Description Returns the daily limit, usage so far, what remains, and when the counter resets.
// @Tags        Assistant
// @Produce     json
// @Security    BearerAuth
//
// @Param       artist_id  query  string  false  "Artist ID (staff)"  format(uuid)
//
// @Success     200  {object}  services.UsageSnapshot
// @Failure     400  {object}  handlers.ErrorResponse  "Missing artist"
// @Router      /ai/usage [get]
func (h *ChatHandlers) GetUsage(c *gin.Context) {
	artistID, resolved := assistantArtistID(c, c.Query("artist_id"))
	if !resolved {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "artist_id required")
		return
	}
	snap, err := h.svc.RemainingMessages(c.Request.Context(), artistID)
	if err != nil {
		failServiceErr(c, err)
		return
	}
	ok(c, http.StatusOK, snap)
}

// ListChatSessions godoc
// @ID          listChatSessions
// @Summary     List day sessions
// @Description Returns an artist's chat sessions newest first, one per UTC day with activity.
// @Tags        Assistant
// @Produce     json
// @Security    BearerAuth
//
// @Param       artist_id  query  string  false  "Artist ID (staff)"  format(uuid)
// @Param       page       query  int     false  "Page number"    minimum(1) default(1)
// @Param       page_size  query  int     false  "Items per page" minimum(1) maximum(100) default(20)
//
// @Success     200  {array}   domain.ChatSession
// @Failure     400  {object}  handlers.ErrorResponse  "Missing artist"
// @Router      /ai/sessions [get]
func (h *ChatHandlers) ListChatSessions(c *gin.Context) {
	artistID, resolved := assistantArtistID(c, c.Query("artist_id"))
	if !resolved {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "artist_id required")
		return
	}
	page, pageSize := clampPagination(c)
	sessions, err := h.svc.ListSessions(c.Request.Context(), artistID, page, pageSize)
	if err != nil {
		failServiceErr(c, err)
		return
	}
	ok(c, http.StatusOK, sessions)
}

// GetSessionMessages godoc
// @ID          getSessionMessages
// @Summary     Read a session transcript
// @Description Returns a session's messages oldest first. Staff can read any session; an artist only their own.
// @Tags        Assistant
// @Produce     json
// @Security    BearerAuth
//
// @Param       id     path   string  true   "Session ID (UUID)"  format(uuid)
// @Param       limit  query  int     false  "Max messages"  default(200)
//
// @Success     200  {array}   domain.ChatMessage
// @Failure     404  {object}  handlers.ErrorResponse  "Unknown or inaccessible session"
// @Router      /ai/sessions/{id}/messages [get]
func (h *ChatHandlers) GetSessionMessages(c *gin.Context) {
	limit := utils.AtoiDefault(c.Query("limit"), 200)
	msgs, err := h.svc.SessionMessages(c.Request.Context(), actor(c), c.Param("id"), limit)
	if err != nil {
		failServiceErr(c, err)
		return
	}
	ok(c, http.StatusOK, msgs)
}

// GetChatStats godoc
// @ID          getChatStats
// @Summary     Assistant usage aggregates
// @Description Returns message counts for today, the trailing week and month, plus active days this month.
// @Tags        Assistant
// @Produce     json
// @Security    BearerAuth
//
// @Param       artist_id  query  string  false  "Artist ID (staff)"  format(uuid)
//
// @Success     200  {object}  services.SessionStats
// @Failure     400  {object}  handlers.ErrorResponse  "Missing artist"
// @Router      /ai/stats [get]
func (h *ChatHandlers) GetChatStats(c *gin.Context) {
	artistID, resolved := assistantArtistID(c, c.Query("artist_id"))
	if !resolved {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "artist_id required")
		return
	}
	st, err := h.svc.Stats(c.Request.Context(), artistID)
	if err != nil {
		failServiceErr(c, err)
		return
	}
	ok(c, http.StatusOK, st)
}

// GetAgentConfig godoc
// @ID          getAgentConfig
// @Summary     Read an artist's assistant configuration
// @Description Staff can read any artist's configuration; an artist only their own.
// @Tags        Assistant
// @Produce     json
// @Security    BearerAuth
//
// @Param       artist_id  path  string  true  "Artist ID (UUID)"  format(uuid)
//
// @Success     200  {object}  domain.AgentConfig
// @Failure     403  {object}  handlers.ErrorResponse  "No configuration, or not your assistant"
// @Router      /ai/config/{artist_id} [get]
func (h *ChatHandlers) GetAgentConfig(c *gin.Context) {
	cfg, err := h.svc.GetConfig(c.Request.Context(), actor(c), c.Param("artist_id"))
	if err != nil {
		failServiceErr(c, err)
		return
	}
	ok(c, http.StatusOK, cfg)
}

// UpdateAgentConfig godoc
// @ID          updateAgentConfig
// @Summary     Configure an artist's assistant
// @Description Inserts or replaces the assistant configuration. Admin only.
// @Tags        Assistant
// @Accept      json
// @Produce     json
// @Security    BearerAuth
//
// @Param       body  body  handlers.AgentConfigRequest  true  "Configuration"
//
// @Success     200  {object}  domain.AgentConfig
// @Failure     400  {object}  handlers.ErrorResponse  "Bad request"
// @Failure     403  {object}  handlers.ErrorResponse  "Admin only"
// @Failure     404  {object}  handlers.ErrorResponse  "Unknown artist"
// @Router      /ai/config [put]
func (h *ChatHandlers) UpdateAgentConfig(c *gin.Context) {
	var req AgentConfigRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid JSON body")
		return
	}
	cfg, err := h.svc.UpdateConfig(c.Request.Context(), actor(c), &domain.AgentConfig{
		ArtistID:          req.ArtistID,
		IsEnabled:         req.IsEnabled,
		Model:             req.Model,
		Temperature:       req.Temperature,
		MaxTokens:         req.MaxTokens,
		DailyMessageLimit: req.DailyMessageLimit,
		PromptIdentity:    req.PromptIdentity,
		PromptActivity:    req.PromptActivity,
		PromptOntology:    req.PromptOntology,
		PromptMarketing:   req.PromptMarketing,
		PromptBoundaries:  req.PromptBoundaries,
		PromptExtra:       req.PromptExtra,
	})
	if err != nil {
		failServiceErr(c, err)
		return
	}
	ok(c, http.StatusOK, cfg)
}
