package api

import (
	"errors"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/xiaoyuanzhu-com/claude-monitor/log"
	"github.com/xiaoyuanzhu-com/claude-monitor/reconcile"
	"github.com/xiaoyuanzhu-com/claude-monitor/state"
)

var logger = log.GetLogger("API")

// GetState handles GET /api/state
func (s *Server) GetState(c *gin.Context) {
	RespondData(c, s.reconciler.Snapshot())
}

// ApproveAction handles POST /api/actions/:id/approve
func (s *Server) ApproveAction(c *gin.Context) {
	s.handleDecision(c, state.DecisionApprove)
}

// DenyAction handles POST /api/actions/:id/deny
func (s *Server) DenyAction(c *gin.Context) {
	s.handleDecision(c, state.DecisionDeny)
}

func (s *Server) handleDecision(c *gin.Context, decisionAction string) {
	id := c.Param("id")
	if id == "" {
		RespondBadRequest(c, "missing action id")
		return
	}

	var err error
	if decisionAction == state.DecisionApprove {
		err = s.reconciler.Approve(id)
	} else {
		err = s.reconciler.Deny(id)
	}

	switch {
	case errors.Is(err, reconcile.ErrUnknownAction):
		RespondNotFound(c, "no pending action with id "+id)
		return
	case err != nil:
		logger.Error().Err(err).Str("id", id).Msg("decision failed")
		RespondInternalError(c, "decision failed")
		return
	}

	if s.notifier != nil {
		s.notifier.NotifyDecision(decisionAction, id)
	}
	RespondData(c, gin.H{"action": decisionAction, "id": id})
}

// ListDecisions handles GET /api/decisions
func (s *Server) ListDecisions(c *gin.Context) {
	if s.audit == nil {
		RespondList(c, []struct{}{})
		return
	}

	limit := 100
	if raw := c.Query("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			RespondBadRequest(c, "limit must be a positive integer")
			return
		}
		limit = parsed
	}

	records, err := s.audit.ListDecisions(limit)
	if err != nil {
		logger.Error().Err(err).Msg("failed to list decisions")
		RespondInternalError(c, "failed to list decisions")
		return
	}
	RespondList(c, records)
}

// Health handles GET /api/health
func (s *Server) Health(c *gin.Context) {
	RespondData(c, gin.H{"status": "ok"})
}
