package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"telephony-failover/internal/audit"
	"telephony-failover/internal/auth"
	"telephony-failover/internal/failover"
	"telephony-failover/internal/fleet"
	"telephony-failover/internal/health"
	"telephony-failover/pkg/logger"

	"github.com/gin-gonic/gin"
)

// Handlers groups HTTP handlers for dependency injection.
// Keep these thin: parse/validate input, call internal services, return JSON.
type Handlers struct {
	Monitor  FleetMonitor
	Failover Orchestrator
	Events   EventReader
	Audit    *audit.Service
}

type FleetMonitor interface {
	Run(ctx context.Context, accountID string) (health.Summary, error)
}

// Orchestrator is the subset of *failover.Orchestrator the API drives.
type Orchestrator interface {
	Evaluate(ctx context.Context, accountID string) (failover.Evaluation, error)
	TriggerManual(ctx context.Context, accountID, actor, reason string) (failover.Event, error)
	Approve(ctx context.Context, eventID, actor string) (failover.Event, error)
	Cancel(ctx context.Context, eventID, actor, reason string) (failover.Event, error)
	Rollback(ctx context.Context, eventID, actor string) (failover.RollbackReport, error)
}

type EventReader interface {
	GetEvent(ctx context.Context, eventID string) (failover.Event, error)
	ListEvents(ctx context.Context, filter failover.EventFilter) ([]failover.Event, error)
}

type reasonRequest struct {
	Reason string `json:"reason"`
}

// --- Accounts ---

type healthCheckResponse struct {
	Summary  health.Summary    `json:"summary"`
	Decision failover.Decision `json:"decision"`
}

// RunHealthCheck runs one fleet check and reports the classification without acting on it.
func (h Handlers) RunHealthCheck(c *gin.Context) {
	accountID := c.Param("account_id")
	s, err := h.Monitor.Run(c.Request.Context(), accountID)
	if err != nil {
		writeError(c, err)
		return
	}
	d := failover.Classify(s)

	meta, _ := json.Marshal(gin.H{"total": s.Total, "healthy": s.Healthy, "degraded": s.Degraded, "failed": s.Failed})
	h.audit(c, func(ctx context.Context, actor audit.Actor) error {
		return h.Audit.LogAccountAction(ctx, audit.EventTypeHealthCheck, actor, accountID, "", "decision "+string(d), string(meta))
	})
	c.JSON(http.StatusOK, healthCheckResponse{Summary: s, Decision: d})
}

// Evaluate runs a check and opens a failover event when the result warrants one.
func (h Handlers) Evaluate(c *gin.Context) {
	accountID := c.Param("account_id")
	out, err := h.Failover.Evaluate(c.Request.Context(), accountID)
	if err != nil {
		writeError(c, err)
		return
	}

	eventID := ""
	if out.Event != nil {
		eventID = out.Event.ID
	}
	h.audit(c, func(ctx context.Context, actor audit.Actor) error {
		return h.Audit.LogAccountAction(ctx, audit.EventTypeEvaluation, actor, accountID, eventID, "decision "+string(out.Decision), "")
	})

	status := http.StatusOK
	if out.Event != nil {
		status = http.StatusCreated
	}
	c.JSON(status, out)
}

func (h Handlers) TriggerFailover(c *gin.Context) {
	accountID := c.Param("account_id")
	req, ok := bindReason(c)
	if !ok {
		return
	}
	actor := actorFrom(c)

	ev, err := h.Failover.TriggerManual(c.Request.Context(), accountID, actor.ID, req.Reason)
	if err != nil {
		writeError(c, err)
		return
	}
	h.audit(c, func(ctx context.Context, actor audit.Actor) error {
		return h.Audit.LogAccountAction(ctx, audit.EventTypeManualTrigger, actor, accountID, ev.ID, ev.Reason, "")
	})
	c.JSON(http.StatusCreated, ev)
}

// --- Failover events ---

func (h Handlers) ListEvents(c *gin.Context) {
	f := failover.EventFilter{
		Status:          failover.Status(c.Query("status")),
		SourceAccountID: c.Query("source_account_id"),
	}
	if f.Status != "" && !f.Status.Valid() {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "unknown status"})
		return
	}
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "limit must be a non-negative integer"})
			return
		}
		f.Limit = n
	}

	events, err := h.Events.ListEvents(c.Request.Context(), f)
	if err != nil {
		writeError(c, err)
		return
	}
	if events == nil {
		events = []failover.Event{}
	}
	c.JSON(http.StatusOK, gin.H{"events": events})
}

func (h Handlers) GetEvent(c *gin.Context) {
	ev, err := h.Events.GetEvent(c.Request.Context(), c.Param("event_id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, ev)
}

// ApproveEvent approves a pending event. Automatic events may come back
// CANCELLED when the failure resolved before approval.
func (h Handlers) ApproveEvent(c *gin.Context) {
	eventID := c.Param("event_id")
	actor := actorFrom(c)

	ev, err := h.Failover.Approve(c.Request.Context(), eventID, actor.ID)
	if err != nil {
		writeError(c, err)
		return
	}
	h.audit(c, func(ctx context.Context, actor audit.Actor) error {
		return h.Audit.LogEventAction(ctx, audit.EventTypeApprove, actor, ev.ID, ev.SourceAccountID, "resulting status "+string(ev.Status))
	})
	c.JSON(http.StatusOK, ev)
}

func (h Handlers) CancelEvent(c *gin.Context) {
	eventID := c.Param("event_id")
	req, ok := bindReason(c)
	if !ok {
		return
	}
	actor := actorFrom(c)

	ev, err := h.Failover.Cancel(c.Request.Context(), eventID, actor.ID, req.Reason)
	if err != nil {
		writeError(c, err)
		return
	}
	h.audit(c, func(ctx context.Context, actor audit.Actor) error {
		return h.Audit.LogEventAction(ctx, audit.EventTypeCancel, actor, ev.ID, ev.SourceAccountID, ev.Notes)
	})
	c.JSON(http.StatusOK, ev)
}

func (h Handlers) RollbackEvent(c *gin.Context) {
	eventID := c.Param("event_id")
	actor := actorFrom(c)

	report, err := h.Failover.Rollback(c.Request.Context(), eventID, actor.ID)
	if err != nil {
		writeError(c, err)
		return
	}
	h.audit(c, func(ctx context.Context, actor audit.Actor) error {
		msg := strconv.Itoa(len(report.Restored)) + " agents restored"
		return h.Audit.LogEventAction(ctx, audit.EventTypeRollback, actor, report.Event.ID, report.Event.SourceAccountID, msg)
	})
	c.JSON(http.StatusOK, report)
}

// --- Audit ---

func (h Handlers) ListAuditEvents(c *gin.Context) {
	if h.Audit == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "audit not configured"})
		return
	}
	limit, _ := strconv.Atoi(c.Query("limit"))
	events, err := h.Audit.Recent(c.Request.Context(), limit)
	if err != nil {
		writeError(c, err)
		return
	}
	if events == nil {
		events = []audit.Event{}
	}
	c.JSON(http.StatusOK, gin.H{"events": events})
}

// --- helpers ---

func bindReason(c *gin.Context) (reasonRequest, bool) {
	var req reasonRequest
	if c.Request.ContentLength == 0 {
		return req, true
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return req, false
	}
	return req, true
}

func actorFrom(c *gin.Context) audit.Actor {
	id, _ := auth.OperatorID(c.Request.Context())
	role, _ := auth.Role(c.Request.Context())
	return audit.Actor{ID: id, Role: role, IP: c.ClientIP()}
}

// audit records an operator action. Failures are logged and never fail the request.
func (h Handlers) audit(c *gin.Context, fn func(ctx context.Context, actor audit.Actor) error) {
	if h.Audit == nil {
		return
	}
	if err := fn(c.Request.Context(), actorFrom(c)); err != nil {
		logger.FromGin(c).Warn("audit append failed", "err", err)
	}
}

// writeError maps domain errors to HTTP statuses.
func writeError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, failover.ErrEventNotFound),
		errors.Is(err, fleet.ErrAccountNotFound),
		errors.Is(err, fleet.ErrAgentNotFound):
		status = http.StatusNotFound
	case errors.Is(err, failover.ErrInvalidTransition),
		errors.Is(err, failover.ErrStatusConflict),
		errors.Is(err, failover.ErrActiveEventExists),
		errors.Is(err, failover.ErrAlreadyRolledBack),
		errors.Is(err, health.ErrRunInProgress):
		status = http.StatusConflict
	case errors.Is(err, failover.ErrNoBackupAccount),
		errors.Is(err, failover.ErrNoFailover):
		status = http.StatusUnprocessableEntity
	}

	if status == http.StatusInternalServerError {
		logger.FromGin(c).Error("request failed", "err", err)
		c.AbortWithStatusJSON(status, gin.H{"error": "internal error"})
		return
	}
	c.AbortWithStatusJSON(status, gin.H{"error": err.Error()})
}
