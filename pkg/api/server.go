// Package api provides the broker's HTTP API.
package api

import (
	"context"
	"database/sql"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/codeready-toolchain/conveyor/pkg/database"
	"github.com/codeready-toolchain/conveyor/pkg/metrics"
	"github.com/codeready-toolchain/conveyor/pkg/services"
)

// Server is the broker HTTP API server.
type Server struct {
	jobs        *services.JobService
	db          *sql.DB
	botToken    string
	workerToken string
}

// NewServer creates a broker API server.
func NewServer(jobs *services.JobService, db *sql.DB, botToken, workerToken string) *Server {
	return &Server{
		jobs:        jobs,
		db:          db,
		botToken:    botToken,
		workerToken: workerToken,
	}
}

// Router builds the gin engine with all routes registered.
func (s *Server) Router() *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())

	router.GET("/health", s.healthHandler)
	router.GET("/metrics", gin.WrapH(metrics.Handler()))

	bot := router.Group("/", requireToken(HeaderBotToken, s.botToken, "bot"))
	bot.POST("/jobs", s.createJobHandler)
	bot.GET("/jobs/:id", s.getJobHandler)

	worker := router.Group("/", requireToken(HeaderWorkerToken, s.workerToken, "worker"))
	worker.GET("/jobs/next", s.claimHandler)
	worker.POST("/jobs/:id/result", s.resultHandler)
	worker.POST("/jobs/:id/fail", s.failHandler)

	return router
}

// healthHandler handles GET /health: an unauthenticated liveness probe.
func (s *Server) healthHandler(c *gin.Context) {
	reqCtx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	if _, err := database.Health(reqCtx, s.db); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"ok": false, "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true, "ts_bound": true})
}
