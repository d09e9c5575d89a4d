package router

import (
	"github.com/erp/ingest/internal/infrastructure/config"
	"github.com/erp/ingest/internal/infrastructure/logger"
	"github.com/erp/ingest/internal/interfaces/http/handler"
	"github.com/erp/ingest/internal/interfaces/http/middleware"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// BulkRequestsPath is the mount point of the bulk request collection
const BulkRequestsPath = "/api/v1/bulk-requests"

// Handlers groups the HTTP handlers mounted by New
type Handlers struct {
	Health  *handler.HealthHandler
	Uploads *handler.UploadHandler
	Bulk    *handler.BulkHandler
}

// Options configures the engine
type Options struct {
	ServiceName      string
	Mode             string
	Logger           *zap.Logger
	HTTP             config.HTTPConfig
	Identity         middleware.IdentityConfig
	TracingEnabled   bool
	ProfilingEnabled bool
	Metrics          *middleware.HTTPMetrics
	// InitiateLimiter throttles POST /uploads per caller; nil disables it
	InitiateLimiter *middleware.KeyedLimiter
}

// New builds the engine with the full middleware chain and route table
func New(opts Options, h Handlers) (*gin.Engine, error) {
	if opts.Mode != "" {
		gin.SetMode(opts.Mode)
	}
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}

	engine := gin.New()
	if err := engine.SetTrustedProxies(opts.HTTP.TrustedProxies); err != nil {
		return nil, err
	}
	middleware.SetupValidator()

	cors := middleware.DefaultCORSConfig()
	cors.AllowOrigins = opts.HTTP.CORSAllowOrigins
	if len(opts.HTTP.CORSAllowMethods) > 0 {
		cors.AllowMethods = opts.HTTP.CORSAllowMethods
	}
	if len(opts.HTTP.CORSAllowHeaders) > 0 {
		cors.AllowHeaders = opts.HTTP.CORSAllowHeaders
	}

	identity := opts.Identity
	identity.SkipPaths = append(identity.SkipPaths, "/health", "/ready")
	if identity.Logger == nil {
		identity.Logger = log
	}

	engine.Use(
		logger.Recovery(log),
		middleware.RequestID(),
		logger.GinMiddleware(log, "/health", "/ready"),
		middleware.CORS(cors),
		middleware.BodyLimit(opts.HTTP.MaxBodySize),
		middleware.Tracing(opts.ServiceName, opts.TracingEnabled),
		middleware.RequireIdentity(identity),
		middleware.SpanEnricher(),
		middleware.ProfilingLabels(opts.ProfilingEnabled),
		opts.Metrics.Middleware(),
	)

	if h.Health != nil {
		engine.GET("/health", h.Health.Health)
		engine.GET("/ready", h.Health.Ready)
	}

	r := NewRouter(engine)
	if h.Uploads != nil {
		r.Register(uploadRoutes(h.Uploads, opts.InitiateLimiter))
		r.Register(NewDomainGroup("/storage").GET("/tier", h.Uploads.Tier))
	}
	if h.Bulk != nil {
		r.Register(bulkRoutes(h.Bulk))
	}
	r.Setup()
	return engine, nil
}

func uploadRoutes(h *handler.UploadHandler, limiter *middleware.KeyedLimiter) *DomainGroup {
	initiate := []gin.HandlerFunc{h.Initiate}
	if limiter != nil {
		initiate = append([]gin.HandlerFunc{middleware.RateLimitByKey(limiter, middleware.CallerKey)}, initiate...)
	}
	return NewDomainGroup("/uploads").
		POST("", initiate...).
		GET("/stats", h.Stats).
		GET("/:fileId", h.Get).
		DELETE("/:fileId", h.Abort).
		POST("/:fileId/start", h.Start).
		GET("/:fileId/parts/:partNumber", h.PresignPart).
		POST("/:fileId/complete", h.Complete).
		POST("/:fileId/copy", h.Copy)
}

func bulkRoutes(h *handler.BulkHandler) *DomainGroup {
	return NewDomainGroup("/bulk-requests").
		POST("", h.Create).
		GET("", h.List).
		GET("/:id", h.Get).
		GET("/:id/job", h.JobStatus).
		GET("/:id/errors", h.Errors).
		GET("/:id/warnings", h.Warnings).
		POST("/:id/cancel", h.Cancel)
}
