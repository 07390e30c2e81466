// Package server exposes the engine's lifecycle operations over HTTP and a
// websocket live feed per conversation.
package server

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/stagecast/stagecast/core"
	"github.com/stagecast/stagecast/display"
	"github.com/stagecast/stagecast/engine"
	"github.com/stagecast/stagecast/logging"
)

// Server wires the control routes to an engine and the websocket feed to a
// display hub.
type Server struct {
	engine *engine.Engine
	hub    *display.Hub
	logger logging.Logger
	router *gin.Engine
}

// Options configure a Server.
type Options struct {
	Logger logging.Logger
	// Debug switches gin out of release mode.
	Debug bool
}

// New builds the HTTP surface. The hub should be the same Sink the engine
// broadcasts to.
func New(eng *engine.Engine, hub *display.Hub, optFns ...func(o *Options)) *Server {
	opts := Options{Logger: logging.NoOpLogger{}}
	for _, fn := range optFns {
		fn(&opts)
	}
	if !opts.Debug {
		gin.SetMode(gin.ReleaseMode)
	}

	s := &Server{
		engine: eng,
		hub:    hub,
		logger: opts.Logger,
		router: gin.New(),
	}
	s.router.Use(gin.Recovery())
	s.routes()
	return s
}

func (s *Server) routes() {
	api := s.router.Group("/api")
	{
		api.POST("/conversations", s.createConversation)
		api.GET("/conversations", s.listConversations)
		api.GET("/conversations/:id", s.getConversation)
		api.POST("/conversations/:id/pause", s.pauseConversation)
		api.POST("/conversations/:id/resume", s.resumeConversation)
		api.POST("/conversations/:id/stop", s.stopConversation)
		api.POST("/conversations/:id/messages", s.injectMessage)
		api.POST("/conversations/:id/scene", s.changeScene)
	}
	s.router.GET("/ws/:id", s.serveWS)
}

// Run starts the HTTP listener.
func (s *Server) Run(addr string) error {
	s.logger.Info("http server listening", "addr", addr)
	return s.router.Run(addr)
}

// Handler exposes the router for tests and custom servers.
func (s *Server) Handler() http.Handler { return s.router }

type createRequest struct {
	Title                string             `json:"title"`
	Environment          string             `json:"environment" binding:"required"`
	Scene                string             `json:"scene" binding:"required"`
	Participants         []core.Participant `json:"participants" binding:"required"`
	Policy               string             `json:"policy" binding:"required"`
	TerminationCondition string             `json:"termination_condition"`
	SelectorAPIKey       string             `json:"selector_api_key"`
	VoicesEnabled        bool               `json:"voices_enabled"`
}

func (s *Server) createConversation(c *gin.Context) {
	var req createRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	id, err := s.engine.Start(core.Config{
		Title:                req.Title,
		Environment:          req.Environment,
		Scene:                req.Scene,
		Participants:         req.Participants,
		Policy:               core.Policy(req.Policy),
		TerminationCondition: req.TerminationCondition,
		SelectorAPIKey:       req.SelectorAPIKey,
		VoicesEnabled:        req.VoicesEnabled,
	})
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusCreated, gin.H{"id": id})
}

func (s *Server) listConversations(c *gin.Context) {
	convs, err := s.engine.List()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"conversations": convs})
}

func (s *Server) getConversation(c *gin.Context) {
	conv, err := s.engine.Conversation(c.Param("id"))
	if err != nil {
		s.renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, conv)
}

func (s *Server) pauseConversation(c *gin.Context) {
	if err := s.engine.Pause(c.Param("id")); err != nil {
		s.renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "paused"})
}

func (s *Server) resumeConversation(c *gin.Context) {
	if err := s.engine.Resume(c.Param("id")); err != nil {
		s.renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "active"})
}

func (s *Server) stopConversation(c *gin.Context) {
	if err := s.engine.Stop(c.Param("id")); err != nil {
		s.renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "stopped"})
}

type messageRequest struct {
	Text string `json:"text" binding:"required"`
}

func (s *Server) injectMessage(c *gin.Context) {
	var req messageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := s.engine.InjectUserMessage(c.Param("id"), req.Text); err != nil {
		s.renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "accepted"})
}

type sceneRequest struct {
	Environment string `json:"environment"`
	Scene       string `json:"scene"`
}

func (s *Server) changeScene(c *gin.Context) {
	var req sceneRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := s.engine.ChangeScene(c.Param("id"), req.Environment, req.Scene); err != nil {
		s.renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "updated"})
}

func (s *Server) serveWS(c *gin.Context) {
	s.hub.ServeWS(c.Writer, c.Request, c.Param("id"))
}

func (s *Server) renderError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	if errors.Is(err, engine.ErrSessionNotFound) || errors.Is(err, core.ErrNotFound) {
		status = http.StatusNotFound
	}
	c.JSON(status, gin.H{"error": err.Error()})
}
