package chat

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/Wachitugo/ConvivenciaLaboral-sub001/internal/agent"
	"github.com/Wachitugo/ConvivenciaLaboral-sub001/internal/cases"
	"github.com/Wachitugo/ConvivenciaLaboral-sub001/internal/clarify"
	"github.com/Wachitugo/ConvivenciaLaboral-sub001/internal/history"
	"github.com/Wachitugo/ConvivenciaLaboral-sub001/internal/metering"
	"github.com/Wachitugo/ConvivenciaLaboral-sub001/internal/protocol"
	"github.com/Wachitugo/ConvivenciaLaboral-sub001/internal/tenant"
	"github.com/Wachitugo/ConvivenciaLaboral-sub001/pkg/ctxkeys"
	"github.com/Wachitugo/ConvivenciaLaboral-sub001/pkg/logging"
)

const (
	maxMessageRunes = 10000
	maxAttachments  = 10
)

const generationFailedMessage = "No fue posible generar una respuesta en este momento. Intenta nuevamente."

type Processor interface {
	Process(ctx context.Context, in Input) (Output, error)
}

type SessionBrowser interface {
	ListSessions(ctx context.Context, limit, offset int) ([]SessionSummary, error)
	GetSessionWithMessages(ctx context.Context, sessionID string) (Session, error)
	DeleteSession(ctx context.Context, sessionID string) error
	UpdateTitle(ctx context.Context, sessionID, title string) error
}

type ProtocolService interface {
	Get(ctx context.Context, caseID string) (*protocol.Instance, error)
	CompleteStep(ctx context.Context, caseID string, stepID int, notes string, evidenceRefs []string) (*protocol.Instance, error)
	StartStep(ctx context.Context, caseID string, stepID int) (*protocol.Instance, error)
	SkipStep(ctx context.Context, caseID string, stepID int, notes string) (*protocol.Instance, error)
}

type ChatHandler struct {
	Pipeline  Processor
	Sessions  SessionBrowser
	Protocols ProtocolService
	Cases     CaseReader
	Logger    logging.Logger
}

type ChatRequest struct {
	SessionID   string            `json:"session_id,omitempty"`
	CaseID      string            `json:"case_id,omitempty"`
	Message     string            `json:"message"`
	Attachments []history.FileRef `json:"attachments,omitempty"`
}

type ChatResponse struct {
	SessionID     string                 `json:"session_id"`
	Response      string                 `json:"response"`
	Clarification *clarify.Clarification `json:"clarification,omitempty"`
	Protocol      *protocol.Instance     `json:"protocol,omitempty"`
	ProtocolError string                 `json:"protocol_error,omitempty"`
}

type stepRequest struct {
	Notes        string   `json:"notes"`
	EvidenceRefs []string `json:"evidence_refs"`
}

func NewChatHandler(pipeline Processor, sessions SessionBrowser, protocols ProtocolService, caseReader CaseReader, logger logging.Logger) *ChatHandler {
	if logger == nil {
		logger = logging.NewDiscardLogger()
	}
	return &ChatHandler{
		Pipeline:  pipeline,
		Sessions:  sessions,
		Protocols: protocols,
		Cases:     caseReader,
		Logger:    logger,
	}
}

func RegisterRoutes(router gin.IRoutes, handler *ChatHandler) {
	router.POST("/chat", handler.HandleChat)
	router.GET("/sessions", handler.HandleListSessions)
	router.GET("/sessions/:id", handler.HandleGetSession)
	router.DELETE("/sessions/:id", handler.HandleDeleteSession)
	router.PATCH("/sessions/:id", handler.HandleUpdateSession)
	router.GET("/cases/:id/protocol", handler.HandleGetProtocol)
	router.POST("/cases/:id/protocol/steps/:step/complete", handler.HandleCompleteStep)
	router.POST("/cases/:id/protocol/steps/:step/start", handler.HandleStartStep)
	router.POST("/cases/:id/protocol/steps/:step/skip", handler.HandleSkipStep)
}

func (h *ChatHandler) HandleChat(c *gin.Context) {
	startedAt := time.Now()
	defer func() { chatDuration.Observe(time.Since(startedAt).Seconds()) }()

	if h == nil || h.Pipeline == nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "handler unavailable"})
		return
	}

	var req ChatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		chatRequestsTotal.WithLabelValues("rejected").Inc()
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request payload"})
		return
	}
	req.Message = strings.TrimSpace(req.Message)
	if req.Message == "" {
		chatRequestsTotal.WithLabelValues("rejected").Inc()
		c.JSON(http.StatusBadRequest, gin.H{"error": "message is required"})
		return
	}
	if len([]rune(req.Message)) > maxMessageRunes {
		chatRequestsTotal.WithLabelValues("rejected").Inc()
		c.JSON(http.StatusBadRequest, gin.H{"error": "message too long"})
		return
	}
	if len(req.Attachments) > maxAttachments {
		chatRequestsTotal.WithLabelValues("rejected").Inc()
		c.JSON(http.StatusBadRequest, gin.H{"error": "too many attachments"})
		return
	}

	ctx := c.Request.Context()
	orgID := ctxkeys.GetOrganizationID(ctx)
	userID := ctxkeys.GetUserID(ctx)
	if orgID == "" || userID == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "organization_id missing"})
		return
	}

	sessionID := strings.TrimSpace(req.SessionID)
	sessionsActive.Inc()
	out, err := h.Pipeline.Process(ctx, Input{
		OrganizationID: orgID,
		Caller: tenant.Caller{
			UserID: userID,
			Email:  ctxkeys.GetEmail(ctx),
			Role:   ctxkeys.GetRole(ctx),
		},
		SessionID:   sessionID,
		CaseID:      req.CaseID,
		Message:     req.Message,
		Attachments: req.Attachments,
	})
	sessionsActive.Dec()
	if err != nil {
		h.writeChatError(c, err)
		return
	}

	outcome := "answered"
	if out.Clarification != nil {
		outcome = "clarified"
	}
	chatRequestsTotal.WithLabelValues(outcome).Inc()

	resp := ChatResponse{
		SessionID:     out.SessionID,
		Response:      out.Response,
		Clarification: out.Clarification,
		Protocol:      out.Protocol,
	}
	if out.ProtocolErr != nil {
		resp.ProtocolError = "No fue posible guardar el protocolo sugerido."
	}
	c.JSON(http.StatusOK, resp)
}

func (h *ChatHandler) writeChatError(c *gin.Context, err error) {
	var limitErr *metering.LimitExceeded
	var genErr *agent.GenerationError
	switch {
	case errors.As(err, &limitErr):
		chatRequestsTotal.WithLabelValues("limited").Inc()
		c.JSON(http.StatusTooManyRequests, gin.H{"error": limitErr.Message, "scope": limitErr.Scope})
	case IsNotFound(err):
		chatRequestsTotal.WithLabelValues("rejected").Inc()
		c.JSON(http.StatusNotFound, gin.H{"error": "session or case not found"})
	case errors.As(err, &genErr):
		chatRequestsTotal.WithLabelValues("failed").Inc()
		status := http.StatusBadGateway
		if errors.Is(err, agent.ErrGenerationTimeout) {
			status = http.StatusGatewayTimeout
		}
		c.JSON(status, gin.H{"error": generationFailedMessage})
	default:
		chatRequestsTotal.WithLabelValues("failed").Inc()
		h.Logger.WithError(err).Error("Chat pipeline failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}

// requestContext installs the caller's tenant values for the non-chat routes.
func requestContext(c *gin.Context) (context.Context, bool) {
	ctx := c.Request.Context()
	orgID := ctxkeys.GetOrganizationID(ctx)
	if orgID == "" {
		return nil, false
	}
	return tenant.WithContext(ctx, tenant.Context{
		OrganizationID: orgID,
		Caller: tenant.Caller{
			UserID: ctxkeys.GetUserID(ctx),
			Email:  ctxkeys.GetEmail(ctx),
			Role:   ctxkeys.GetRole(ctx),
		},
	}), true
}

func (h *ChatHandler) HandleListSessions(c *gin.Context) {
	ctx, ok := requestContext(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "organization_id missing"})
		return
	}
	limit := 50
	offset := 0
	if v := c.Query("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}
	if v := c.Query("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			offset = n
		}
	}
	limit = min(limit, 200)
	summaries, err := h.Sessions.ListSessions(ctx, limit, offset)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list sessions"})
		return
	}
	c.JSON(http.StatusOK, summaries)
}

func (h *ChatHandler) HandleGetSession(c *gin.Context) {
	ctx, ok := requestContext(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "organization_id missing"})
		return
	}
	session, err := h.Sessions.GetSessionWithMessages(ctx, c.Param("id"))
	if err != nil {
		if errors.Is(err, ErrSessionNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load session"})
		return
	}
	c.JSON(http.StatusOK, session)
}

func (h *ChatHandler) HandleDeleteSession(c *gin.Context) {
	ctx, ok := requestContext(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "organization_id missing"})
		return
	}
	if err := h.Sessions.DeleteSession(ctx, c.Param("id")); err != nil {
		if errors.Is(err, ErrSessionNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to delete session"})
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *ChatHandler) HandleUpdateSession(c *gin.Context) {
	ctx, ok := requestContext(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "organization_id missing"})
		return
	}
	var req struct {
		Title string `json:"title"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request payload"})
		return
	}
	req.Title = strings.TrimSpace(req.Title)
	if req.Title == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "title is required"})
		return
	}
	if err := h.Sessions.UpdateTitle(ctx, c.Param("id"), req.Title); err != nil {
		if errors.Is(err, ErrSessionNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to update session"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"title": req.Title})
}

// caseContext checks the case belongs to the caller's organization.
func (h *ChatHandler) caseContext(c *gin.Context) (context.Context, string, bool) {
	ctx, ok := requestContext(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "organization_id missing"})
		return nil, "", false
	}
	caseID := c.Param("id")
	if h.Cases != nil {
		if _, err := h.Cases.GetCase(ctx, caseID); err != nil {
			if errors.Is(err, cases.ErrCaseNotFound) {
				c.JSON(http.StatusNotFound, gin.H{"error": "case not found"})
			} else {
				c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load case"})
			}
			return nil, "", false
		}
	}
	return ctx, caseID, true
}

func (h *ChatHandler) HandleGetProtocol(c *gin.Context) {
	ctx, caseID, ok := h.caseContext(c)
	if !ok {
		return
	}
	inst, err := h.Protocols.Get(ctx, caseID)
	if err != nil {
		h.writeProtocolError(c, err)
		return
	}
	c.JSON(http.StatusOK, inst)
}

func (h *ChatHandler) HandleCompleteStep(c *gin.Context) {
	h.handleStep(c, func(ctx context.Context, caseID string, stepID int, req stepRequest) (*protocol.Instance, error) {
		return h.Protocols.CompleteStep(ctx, caseID, stepID, req.Notes, req.EvidenceRefs)
	})
}

func (h *ChatHandler) HandleStartStep(c *gin.Context) {
	h.handleStep(c, func(ctx context.Context, caseID string, stepID int, _ stepRequest) (*protocol.Instance, error) {
		return h.Protocols.StartStep(ctx, caseID, stepID)
	})
}

func (h *ChatHandler) HandleSkipStep(c *gin.Context) {
	h.handleStep(c, func(ctx context.Context, caseID string, stepID int, req stepRequest) (*protocol.Instance, error) {
		return h.Protocols.SkipStep(ctx, caseID, stepID, req.Notes)
	})
}

func (h *ChatHandler) handleStep(c *gin.Context, apply func(context.Context, string, int, stepRequest) (*protocol.Instance, error)) {
	stepID, err := strconv.Atoi(c.Param("step"))
	if err != nil || stepID < 1 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid step id"})
		return
	}
	var req stepRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request payload"})
			return
		}
	}
	ctx, caseID, ok := h.caseContext(c)
	if !ok {
		return
	}
	inst, err := apply(ctx, caseID, stepID, req)
	if err != nil {
		h.writeProtocolError(c, err)
		return
	}
	c.JSON(http.StatusOK, inst)
}

func (h *ChatHandler) writeProtocolError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, protocol.ErrProtocolNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "protocol not found"})
	case errors.Is(err, protocol.ErrStepNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "step not found"})
	case errors.Is(err, protocol.ErrInvalidTransition):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	default:
		h.Logger.WithError(err).Error("Protocol update failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to update protocol"})
	}
}
