package server

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/siteagent/siteagent/internal/chat"
	"github.com/siteagent/siteagent/internal/config"
	apierrors "github.com/siteagent/siteagent/internal/errors"
	"github.com/siteagent/siteagent/internal/ingest"
	"github.com/siteagent/siteagent/internal/logging"
	"github.com/siteagent/siteagent/internal/middleware"
	"github.com/siteagent/siteagent/internal/monitoring"
)

// ChatService answers public chat turns.
type ChatService interface {
	Answer(ctx context.Context, req *chat.Request) (*chat.Response, error)
}

// IngestEngine runs one bounded ingestion slice.
type IngestEngine interface {
	Process(ctx context.Context, req *ingest.Request) (*ingest.Result, error)
}

// Deps bundles the services the API server routes to.
type Deps struct {
	Chat    ChatService
	Ingest  IngestEngine
	Docs    ingest.Store
	Cascade *Cascade
}

// APIServer is the HTTP surface: the public chat widget endpoint, the
// ingestion trigger and the JWT-protected dashboard routes.
type APIServer struct {
	config           *config.Config
	router           *gin.Engine
	db               *pgxpool.Pool
	deps             Deps
	jwtAuthenticator *middleware.JWTAuthenticator
}

// NewAPIServer creates a new API server instance
func NewAPIServer(cfg *config.Config, db *pgxpool.Pool, deps Deps) *APIServer {
	if cfg.Server.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()

	// Add middleware in order
	router.Use(gin.Recovery())
	router.Use(middleware.RequestID())
	router.Use(monitoring.MetricsMiddleware())
	router.Use(logging.RequestLogger())

	srv := &APIServer{
		config:           cfg,
		router:           router,
		db:               db,
		deps:             deps,
		jwtAuthenticator: middleware.NewJWTAuthenticator(&cfg.JWT),
	}

	srv.setupRoutes()
	return srv
}

// Router returns the gin router
func (s *APIServer) Router() http.Handler {
	return s.router
}

// setupRoutes configures all API routes
func (s *APIServer) setupRoutes() {
	// Health check
	s.router.GET("/health", s.healthCheck)

	v1 := s.router.Group("/api/v1")
	{
		// Public chat endpoint for the embeddable widget: no auth, open
		// CORS, preflight answered with 204.
		chatGroup := v1.Group("/chat")
		chatGroup.Use(middleware.PublicCORS())
		{
			chatGroup.POST("/public", s.handleChatPublic)
			chatGroup.OPTIONS("/public", func(c *gin.Context) { c.Status(http.StatusNoContent) })
		}

		// Ingestion trigger: called by the upload flow, the scraper and
		// the engine's own continuations.
		v1.POST("/ingest", s.handleIngest)

		// Internal maintenance: drain the deferred vector cleanup queue.
		v1.POST("/internal/cleanup-vectors", s.handleCleanupVectors)

		// Dashboard routes (protected)
		protected := v1.Group("")
		protected.Use(middleware.CORS(s.config.CORS.AllowedOrigins))
		protected.Use(s.jwtAuthenticator.JWTAuth())
		{
			protected.GET("/documents/:id/status", s.handleDocumentStatus)
			protected.DELETE("/chatbots/:id", s.handleDeleteChatbot)
			protected.GET("/chatbots/:id/actions", s.handleListActions)
			protected.POST("/chatbots/:id/actions", s.handleCreateAction)
			protected.DELETE("/actions/:id", s.handleDeleteAction)
		}
	}
}

// Health check handler
func (s *APIServer) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "healthy",
		"service": "api",
	})
}

// respondError sends a standardized error response
func respondError(c *gin.Context, err *apierrors.APIError) {
	requestID, _ := c.Get("request_id")
	reqIDStr, _ := requestID.(string)

	c.JSON(err.HTTPStatus, apierrors.ErrorResponse{
		Error:     *err,
		RequestID: reqIDStr,
	})
}
