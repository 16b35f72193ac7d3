// Package httpapi exposes the blocker over a small JSON admin API.
package httpapi

import (
	"context"
	"net/http"
	"strings"
	"time"
	"unicode"

	"github.com/gin-gonic/gin"

	"github.com/haukened/cmdblock/internal/cmdblock/common/log"
	"github.com/haukened/cmdblock/internal/cmdblock/domain"
	"github.com/haukened/cmdblock/internal/cmdblock/services/policy"
)

// Engine is the policy surface the API serves.
type Engine interface {
	Check(sender domain.Sender, commandLine string) domain.Verdict
	AddBlockedCommand(command string)
	RemoveBlockedCommand(command string) bool
	RawTargets() []string
	BlockedCommands() []string
	Stats() policy.Stats
	Persist(store policy.TargetStore) error
}

// Registry is the live command map hosts push into.
type Registry interface {
	Register(command string, aliases ...string)
	Unregister(command string) bool
	Load(ctx context.Context) (domain.AliasMap, error)
}

// Refresher re-resolves aliases on demand.
type Refresher interface {
	RunOnce(ctx context.Context) error
}

// Options configures a Server. Store, Registry and Refresher are optional.
type Options struct {
	Engine    Engine
	Store     policy.TargetStore
	Registry  Registry
	Refresher Refresher
	Logger    log.Logger
}

// Server routes admin requests to the engine.
type Server struct {
	engine    Engine
	store     policy.TargetStore
	registry  Registry
	refresher Refresher
	logger    log.Logger
	router    *gin.Engine
}

// New builds the router with all routes registered.
func New(opts Options) *Server {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(SecurityHeadersMiddleware())
	router.Use(BodySizeLimitMiddleware(MaxBodySize))
	router.Use(RequestLogMiddleware(opts.Logger))

	s := &Server{
		engine:    opts.Engine,
		store:     opts.Store,
		registry:  opts.Registry,
		refresher: opts.Refresher,
		logger:    log.OrNoop(opts.Logger),
		router:    router,
	}
	s.registerRoutes()
	return s
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// HTTPServer wraps the handler in an *http.Server listening on addr.
func (s *Server) HTTPServer(addr string) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
}

func (s *Server) registerRoutes() {
	api := s.router.Group("/api")
	{
		api.GET("/blocked", s.handleBlocked)
		api.GET("/check", s.handleCheck)
		api.GET("/stats", s.handleStats)
		api.POST("/refresh", s.handleRefresh)

		targets := api.Group("/targets")
		{
			targets.GET("", s.handleTargets)
			targets.POST("", s.handleAddTarget)
			targets.DELETE("/:command", s.handleRemoveTarget)
		}

		if s.registry != nil {
			registry := api.Group("/registry")
			{
				registry.GET("", s.handleRegistry)
				registry.PUT("/:command", s.handleRegister)
				registry.DELETE("/:command", s.handleUnregister)
			}
		}
	}
}

func (s *Server) handleBlocked(c *gin.Context) {
	blocked := s.engine.BlockedCommands()
	Success(c, gin.H{
		"total":    len(blocked),
		"commands": blocked,
		"raw":      s.engine.RawTargets(),
	})
}

func (s *Server) handleTargets(c *gin.Context) {
	raw := s.engine.RawTargets()
	Success(c, gin.H{
		"total":   len(raw),
		"targets": raw,
	})
}

// handleCheck handles GET /api/check?command=...&perm=...; perm may repeat.
func (s *Server) handleCheck(c *gin.Context) {
	command := c.Query("command")
	if strings.TrimSpace(command) == "" {
		Error(c, http.StatusBadRequest, "command query parameter required")
		return
	}
	sender := domain.PermissionSet(c.QueryArray("perm"))
	Success(c, s.engine.Check(sender, command))
}

func (s *Server) handleStats(c *gin.Context) {
	Success(c, s.engine.Stats())
}

func (s *Server) handleRefresh(c *gin.Context) {
	if s.refresher == nil {
		Error(c, http.StatusServiceUnavailable, "Alias refresh is not configured")
		return
	}
	if err := s.refresher.RunOnce(c.Request.Context()); err != nil {
		Outcome(c, StatusError, gin.H{"error": err.Error()})
		return
	}
	st := s.engine.Stats()
	Outcome(c, StatusRefreshed, gin.H{
		"blocked": st.Blocked,
		"version": st.Version,
	})
}

type targetRequest struct {
	Command string `json:"command" binding:"required"`
}

// handleAddTarget handles POST /api/targets {"command": "..."}.
func (s *Server) handleAddTarget(c *gin.Context) {
	var req targetRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		Error(c, http.StatusBadRequest, "Body must be {\"command\": \"<name>\"}")
		return
	}
	command := strings.TrimPrefix(strings.TrimSpace(req.Command), "/")
	if !validCommand(command) {
		Error(c, http.StatusBadRequest, "Invalid command name")
		return
	}

	s.engine.AddBlockedCommand(command)
	if !s.persist(c) {
		return
	}
	s.logger.Info(map[string]any{"command": command}, "Blocked command added")
	Outcome(c, StatusAdded, gin.H{"command": command})
}

// handleRemoveTarget handles DELETE /api/targets/:command.
func (s *Server) handleRemoveTarget(c *gin.Context) {
	command := c.Param("command")
	if !s.engine.RemoveBlockedCommand(command) {
		Error(c, http.StatusNotFound, "Command is not blocked")
		return
	}
	if !s.persist(c) {
		return
	}
	s.logger.Info(map[string]any{"command": command}, "Blocked command removed")
	Outcome(c, StatusRemoved, gin.H{"command": command})
}

func (s *Server) handleRegistry(c *gin.Context) {
	m, err := s.registry.Load(c.Request.Context())
	if err != nil {
		Error(c, http.StatusInternalServerError, "Failed to read registry")
		return
	}
	Success(c, gin.H{
		"total":    len(m),
		"commands": m,
	})
}

type registerRequest struct {
	Aliases []string `json:"aliases"`
}

// handleRegister handles PUT /api/registry/:command {"aliases": [...]}.
// The alias list replaces whatever the command had before.
func (s *Server) handleRegister(c *gin.Context) {
	command := c.Param("command")
	var req registerRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			Error(c, http.StatusBadRequest, "Body must be {\"aliases\": [\"<name>\", ...]}")
			return
		}
	}
	for _, a := range req.Aliases {
		if !validCommand(a) {
			Error(c, http.StatusBadRequest, "Invalid alias name")
			return
		}
	}

	s.registry.Register(command, req.Aliases...)
	Outcome(c, StatusRegistered, gin.H{"command": command, "aliases": len(req.Aliases)})
}

func (s *Server) handleUnregister(c *gin.Context) {
	command := c.Param("command")
	if !s.registry.Unregister(command) {
		Error(c, http.StatusNotFound, "Command is not registered")
		return
	}
	Outcome(c, StatusUnregistered, gin.H{"command": command})
}

// persist saves the raw targets when a store is configured. On failure it
// writes the error response and returns false; the in-memory change stays.
func (s *Server) persist(c *gin.Context) bool {
	if s.store == nil {
		return true
	}
	if err := s.engine.Persist(s.store); err != nil {
		s.logger.Error(map[string]any{"error": err}, "Failed to persist blocked commands")
		Error(c, http.StatusInternalServerError, "Failed to persist blocked commands")
		return false
	}
	return true
}

func validCommand(command string) bool {
	return command != "" && strings.IndexFunc(command, unicode.IsSpace) < 0
}
