package api

import (
	"github.com/gin-gonic/gin"
	"github.com/xiaoyuanzhu-com/claude-monitor/db"
	"github.com/xiaoyuanzhu-com/claude-monitor/notifications"
	"github.com/xiaoyuanzhu-com/claude-monitor/reconcile"
)

// Server exposes the reconciled state and decision commands to the
// companion UI over a loopback HTTP API
type Server struct {
	reconciler *reconcile.Reconciler
	audit      *db.DB
	notifier   *notifications.Service
}

// NewServer creates an API server around the given reconciler
func NewServer(reconciler *reconcile.Reconciler, audit *db.DB, notifier *notifications.Service) *Server {
	return &Server{
		reconciler: reconciler,
		audit:      audit,
		notifier:   notifier,
	}
}

// SetupRoutes configures all API routes
func (s *Server) SetupRoutes(r *gin.Engine) {
	api := r.Group("/api")

	// Reconciled state
	api.GET("/state", s.GetState)

	// Decisions
	api.POST("/actions/:id/approve", s.ApproveAction)
	api.POST("/actions/:id/deny", s.DenyAction)
	api.GET("/decisions", s.ListDecisions)

	// Change streams
	api.GET("/notifications/stream", s.NotificationStream)
	api.GET("/ws", s.StateWebSocket)

	// Health
	api.GET("/health", s.Health)
}
