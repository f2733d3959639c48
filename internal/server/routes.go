package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/zulandar/spotter/internal/db"
	"github.com/zulandar/spotter/internal/models"
	"github.com/zulandar/spotter/internal/orchestrator"
	"github.com/zulandar/spotter/internal/sse"
	"github.com/zulandar/spotter/internal/tools"
	"github.com/zulandar/spotter/internal/transcript"
	"go.uber.org/zap"
)

type handlers struct {
	store *transcript.Store
	orch  *orchestrator.Orchestrator
	repo  db.Repository
	log   *zap.Logger

	// inflight holds the conversations with a turn currently streaming.
	inflight sync.Map
}

func registerRoutes(router *gin.Engine, h *handlers) {
	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	api := router.Group("/api", requireUser())
	api.POST("/conversations", h.createConversation)
	api.GET("/conversations/:id", h.getConversation)
	api.DELETE("/conversations/:id", h.deleteConversation)
	api.GET("/conversations/:id/messages", h.listMessages)
	api.POST("/conversations/:id/turns", h.streamTurn)
	api.POST("/conversations/:id/checkpoint", h.checkpoint)
	api.PATCH("/messages/:id/status", h.updateStatus)
}

type conversationView struct {
	ID             string                `json:"id"`
	OwnerID        string                `json:"owner_id"`
	Summary        string                `json:"summary,omitempty"`
	SummaryCursor  uint                  `json:"summary_cursor"`
	SummaryVersion int                   `json:"summary_version"`
	Pending        *models.PendingAction `json:"pending,omitempty"`
	CreatedAt      time.Time             `json:"created_at"`
	UpdatedAt      time.Time             `json:"updated_at"`
}

func newConversationView(c *models.Conversation) conversationView {
	return conversationView{
		ID:             c.ID,
		OwnerID:        c.OwnerID,
		Summary:        c.Summary,
		SummaryCursor:  c.SummaryCursor,
		SummaryVersion: c.SummaryVersion,
		Pending:        c.State.Data().Pending,
		CreatedAt:      c.CreatedAt,
		UpdatedAt:      c.UpdatedAt,
	}
}

type messageView struct {
	ID        uint            `json:"id"`
	Role      string          `json:"role"`
	Content   string          `json:"content,omitempty"`
	CallID    string          `json:"call_id,omitempty"`
	ToolName  string          `json:"tool_name,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Status    string          `json:"status,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
}

func newMessageView(m *models.Message) messageView {
	v := messageView{
		ID:        m.ID,
		Role:      m.Role,
		Content:   m.Content,
		CallID:    m.CallID,
		ToolName:  m.ToolName,
		Status:    m.Status,
		CreatedAt: m.CreatedAt,
	}
	if len(m.Payload) > 0 {
		v.Payload = json.RawMessage(m.Payload)
	}
	return v
}

func (h *handlers) createConversation(c *gin.Context) {
	conv, err := h.store.CreateConversation(c.Request.Context(), userID(c))
	if err != nil {
		h.internal(c, err)
		return
	}
	c.JSON(http.StatusCreated, newConversationView(conv))
}

func (h *handlers) getConversation(c *gin.Context) {
	conv, ok := h.ownedConversation(c, c.Param("id"))
	if !ok {
		return
	}
	c.JSON(http.StatusOK, newConversationView(conv))
}

func (h *handlers) deleteConversation(c *gin.Context) {
	conv, ok := h.ownedConversation(c, c.Param("id"))
	if !ok {
		return
	}
	if err := h.store.SoftDelete(c.Request.Context(), conv.ID); err != nil {
		h.storeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *handlers) listMessages(c *gin.Context) {
	conv, ok := h.ownedConversation(c, c.Param("id"))
	if !ok {
		return
	}
	var since uint64
	if s := c.Query("since"); s != "" {
		var err error
		since, err = strconv.ParseUint(s, 10, 64)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "since must be a message id"})
			return
		}
	}
	msgs, err := h.store.ListSince(c.Request.Context(), conv.ID, uint(since))
	if err != nil {
		h.internal(c, err)
		return
	}
	views := make([]messageView, len(msgs))
	for i := range msgs {
		views[i] = newMessageView(&msgs[i])
	}
	c.JSON(http.StatusOK, gin.H{"messages": views})
}

type turnRequest struct {
	Text string `json:"text" binding:"required"`
}

// streamTurn runs one turn and streams it as server-sent events. Once the
// stream has started every outcome is reported in-band.
func (h *handlers) streamTurn(c *gin.Context) {
	var req turnRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "text is required"})
		return
	}
	conv, ok := h.ownedConversation(c, c.Param("id"))
	if !ok {
		return
	}
	if _, busy := h.inflight.LoadOrStore(conv.ID, struct{}{}); busy {
		c.JSON(http.StatusConflict, gin.H{"error": "a turn is already in progress"})
		return
	}
	defer h.inflight.Delete(conv.ID)

	w := sse.ForGin(c, h.log)
	defer w.Close()
	// The orchestrator logs the outcome; the stream already carries it.
	_, _ = h.orch.Run(c.Request.Context(), conv.ID, userID(c), req.Text, w)
}

type checkpointRequest struct {
	Summary          string `json:"summary" binding:"required"`
	ThroughMessageID uint   `json:"through_message_id"`
}

func (h *handlers) checkpoint(c *gin.Context) {
	var req checkpointRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "summary is required"})
		return
	}
	conv, ok := h.ownedConversation(c, c.Param("id"))
	if !ok {
		return
	}
	// Holding the slot keeps a turn from appending while the cursor moves.
	if _, busy := h.inflight.LoadOrStore(conv.ID, struct{}{}); busy {
		c.JSON(http.StatusConflict, gin.H{"error": "a turn is in progress"})
		return
	}
	defer h.inflight.Delete(conv.ID)
	updated, err := h.store.Checkpoint(c.Request.Context(), conv.ID, req.Summary, req.ThroughMessageID)
	if err != nil {
		h.storeError(c, err)
		return
	}
	c.JSON(http.StatusOK, newConversationView(updated))
}

type statusRequest struct {
	Status string `json:"status" binding:"required"`
}

func (h *handlers) updateStatus(c *gin.Context) {
	var req statusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "status is required"})
		return
	}
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid message id"})
		return
	}
	ctx := c.Request.Context()
	msg, err := h.store.GetMessage(ctx, uint(id))
	if err != nil {
		h.storeError(c, err)
		return
	}
	if _, ok := h.ownedConversation(c, msg.ConversationID); !ok {
		return
	}
	if err := h.store.UpdateStatus(ctx, msg.ID, req.Status); err != nil {
		h.storeError(c, err)
		return
	}
	msg.Status = req.Status
	if h.repo != nil {
		if err := tools.SyncPlanStatus(ctx, h.repo, msg); err != nil {
			h.log.Warn("plan status not updated", zap.Uint("message_id", msg.ID), zap.Error(err))
		}
	}
	c.JSON(http.StatusOK, newMessageView(msg))
}

// ownedConversation loads a conversation belonging to the caller. Another
// user's conversation is reported as missing.
func (h *handlers) ownedConversation(c *gin.Context, id string) (*models.Conversation, bool) {
	conv, err := h.store.GetConversation(c.Request.Context(), id)
	if err != nil {
		h.storeError(c, err)
		return nil, false
	}
	if conv.OwnerID != userID(c) {
		c.JSON(http.StatusNotFound, gin.H{"error": "conversation not found"})
		return nil, false
	}
	return conv, true
}

func (h *handlers) storeError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, transcript.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, transcript.ErrInvalidTransition),
		errors.Is(err, transcript.ErrCursorRewind),
		errors.Is(err, transcript.ErrSplitToolPair):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	default:
		h.internal(c, err)
	}
}

func (h *handlers) internal(c *gin.Context, err error) {
	_ = c.Error(err)
	c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
}
