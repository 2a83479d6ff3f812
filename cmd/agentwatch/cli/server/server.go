// Package server is the daemon's HTTP and WebSocket surface: REST
// endpoints for snapshots, sessions, stats, enrichments and hook
// callbacks, a broadcast channel for live deltas, Prometheus metrics
// and the embedded web UI.
package server

import (
	"context"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/agentwatch/cli/cmd/agentwatch/cli/config"
	"github.com/agentwatch/cli/cmd/agentwatch/cli/enrich"
	"github.com/agentwatch/cli/cmd/agentwatch/cli/hookstore"
	"github.com/agentwatch/cli/cmd/agentwatch/cli/livestore"
	"github.com/agentwatch/cli/cmd/agentwatch/cli/logging"
	"github.com/agentwatch/cli/cmd/agentwatch/cli/pricing"
	"github.com/agentwatch/cli/cmd/agentwatch/cli/timeline"
	"github.com/agentwatch/cli/cmd/agentwatch/cli/wrapper"
)

//go:embed static
var staticFS embed.FS

const shutdownTimeout = 5 * time.Second

// Deps are the stores the surface reads and writes. All are required
// except Pricing, which falls back to the builtin table.
type Deps struct {
	Live        *livestore.Store
	Hooks       *hookstore.Store
	Audit       *timeline.Log
	Enrichments *enrich.Store
	Annotations *enrich.AnnotationStore
	AgentMeta   *enrich.MetadataStore
	ConvMeta    *enrich.MetadataStore
	Managed     *wrapper.Registry
	Pipeline    *enrich.Pipeline
	Pricing     *pricing.Table
	Version     string

	// ShowCleanRepos makes /api/repos include clean repositories when the
	// request itself does not say either way.
	ShowCleanRepos bool
	// Costs carries the soft spend limits; zero limits disable the
	// over_limit flags on session and daily-stat responses.
	Costs config.CostsConfig
}

// Server serves the REST API, /ws, /metrics and the static UI.
type Server struct {
	addr    string
	deps    Deps
	hub     *Hub
	engine  *gin.Engine
	debugHT bool
}

// New builds the router and wires store change callbacks into WebSocket
// broadcasts. Call Run to listen.
func New(cfg config.WebConfig, deps Deps) *Server {
	if deps.Pricing == nil {
		deps.Pricing = pricing.NewTable()
	}

	debugHT := os.Getenv("DEBUG") != "" || logging.DebugEnabled()
	if !debugHT {
		gin.SetMode(gin.ReleaseMode)
	}

	s := &Server{
		addr:    fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		deps:    deps,
		hub:     NewHub(),
		debugHT: debugHT,
	}
	s.engine = s.buildRouter()
	s.wireBroadcasts()
	return s
}

// Addr returns the listen address, host:port.
func (s *Server) Addr() string { return s.addr }

func (s *Server) buildRouter() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), s.metricsMiddleware(), s.requestLogger())

	r.GET("/health", s.handleHealth)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	r.GET("/ws", s.handleWS)

	ui, err := fs.Sub(staticFS, "static")
	if err == nil {
		r.StaticFS("/ui", http.FS(ui))
		r.GET("/", func(c *gin.Context) {
			c.Redirect(http.StatusMovedPermanently, "/ui/")
		})
	}

	api := r.Group("/api")
	{
		api.GET("/snapshot", s.handleSnapshot)
		api.GET("/agents", s.handleAgents)
		api.GET("/agents/:pid", s.handleAgent)
		api.GET("/repos", s.handleRepos)
		api.GET("/ports", s.handlePorts)

		api.GET("/sessions", s.handleSessions)
		api.GET("/sessions/:id", s.handleSession)
		api.GET("/sessions/:id/usages", s.handleSessionUsages)
		api.POST("/sessions/:id/enrich", s.handleEnrichSession)

		api.GET("/stats/tools", s.handleToolStats)
		api.GET("/stats/daily", s.handleDailyStats)
		api.GET("/timeline", s.handleTimeline)

		api.GET("/enrichments", s.handleEnrichments)
		api.GET("/enrichments/:ref", s.handleEnrichment)
		api.GET("/enrichments/:ref/annotation", s.handleGetAnnotation)
		api.PUT("/enrichments/:ref/annotation", s.handlePutAnnotation)

		api.GET("/metadata/:kind/:id", s.handleGetMetadata)
		api.PUT("/metadata/:kind/:id", s.handlePutMetadata)

		api.POST("/wrappers", s.handleRegisterWrapper)
		api.DELETE("/wrappers/:pid", s.handleDeregisterWrapper)

		hooks := api.Group("/hooks")
		{
			hooks.POST("/session-start", s.handleHookSessionStart)
			hooks.POST("/session-end", s.handleHookSessionEnd)
			hooks.POST("/pre-tool-use", s.handleHookPreToolUse)
			hooks.POST("/post-tool-use", s.handleHookPostToolUse)
			hooks.POST("/security-block", s.handleHookSecurityBlock)
			hooks.POST("/commit", s.handleHookCommit)
			hooks.POST("/awaiting", s.handleHookAwaiting)
			hooks.POST("/auto-continue", s.handleHookAutoContinue)
			hooks.POST("/tokens", s.handleHookTokens)
		}
	}
	return r
}

// wireBroadcasts turns store change callbacks into pre-serialised
// WebSocket frames. Callbacks already run outside store locks and carry
// immutable snapshots, so marshalling here is safe.
func (s *Server) wireBroadcasts() {
	s.deps.Live.OnAgentsChange(func(agents map[int32]livestore.AgentProcess) {
		s.broadcast("agents", "agents", toAgentList(agents))
	})
	s.deps.Live.OnReposChange(func(repos map[string]livestore.RepoStatus) {
		s.broadcast("repos", "repos", toRepoList(repos, true))
	})
	s.deps.Live.OnPortsChange(func(ports map[int]livestore.ListeningPort) {
		s.broadcast("ports", "ports", toPortList(ports))
	})
	s.deps.Hooks.OnSessionChange(func(sess hookstore.Session) {
		s.broadcast("session", "session", toSessionDTO(sess, s.deps.Costs.SessionLimitUSD))
	})
	s.deps.Hooks.OnToolUsage(func(u hookstore.ToolUsage) {
		s.broadcast("tool_usage", "tool_usage", toToolUsageDTO(u))
	})
}

func (s *Server) broadcast(typ, key string, v any) {
	payload, err := json.Marshal(map[string]any{"type": typ, key: v})
	if err != nil {
		logging.Warn(context.Background(), "failed to marshal broadcast frame", "type", typ, "error", err)
		return
	}
	s.hub.Broadcast(payload)
}

func (s *Server) metricsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()
		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		httpRequests.WithLabelValues(route, c.Request.Method, strconv.Itoa(c.Writer.Status())).Inc()
	}
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !s.debugHT {
			c.Next()
			return
		}
		ctx := logging.WithRequest(c.Request.Context(), uuid.NewString()[:8])
		c.Request = c.Request.WithContext(ctx)
		start := time.Now()
		c.Next()
		logging.Info(ctx, "http request",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"durationMs", time.Since(start).Milliseconds(),
			"client", c.ClientIP())
	}
}

// Run serves until ctx is cancelled. A bind failure is fatal and
// returned immediately.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{Addr: s.addr, Handler: s.engine}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()
	logging.Info(ctx, "http server listening", "addr", s.addr)

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logging.Warn(ctx, "http server shutdown incomplete", "error", err)
		}
		<-errCh
		return nil
	}
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "ok",
		"version": s.deps.Version,
		"clients": s.hub.Count(),
	})
}
