// Package router provides HTTP routing, middleware configuration, and server setup for the web application
package router

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/adaptor"
	"github.com/gofiber/fiber/v3/middleware/compress"
	"github.com/gofiber/fiber/v3/middleware/cors"
	"github.com/gofiber/fiber/v3/middleware/helmet"
	"github.com/gofiber/fiber/v3/middleware/limiter"
	"github.com/gofiber/fiber/v3/middleware/logger"
	"github.com/gofiber/fiber/v3/middleware/recover"
	"github.com/gofiber/fiber/v3/middleware/requestid"
	"github.com/jaecopzm/trakpilot/app/dto"
	"github.com/jaecopzm/trakpilot/app/handlers"
	"github.com/jaecopzm/trakpilot/app/middleware"
	"github.com/jaecopzm/trakpilot/utils"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
)

// Router interface for HTTP routing
type Router interface {
	SetupRoutes()
	Start(address string) error
	GetApp() *fiber.App
}

// Handlers groups everything the router mounts
type Handlers struct {
	Tracking      *handlers.TrackingHandler
	Notifications *handlers.NotificationHandler
	Messages      *handlers.MessageHandler
	Sequences     *handlers.SequenceHandler
	Owner         *handlers.OwnerHandler
	Cron          *handlers.CronHandler
	Unsubscribe   *handlers.UnsubscribeHandler
}

// Options configures global middleware
type Options struct {
	AppName        string
	AllowedOrigins []string
	APIRateLimit   int
	TrackRateLimit int
	CronSecret     string
	MetricsEnabled bool
	MetricsPath    string
	// Health reports dependency status; nil means always healthy
	Health func(ctx context.Context) map[string]string
}

// FiberRouter implements Router using Fiber v3
type FiberRouter struct {
	app      *fiber.App
	handlers Handlers
	auth     *middleware.AuthMiddleware
	opts     Options
}

// NewFiberRouter creates a new Fiber router
func NewFiberRouter(h Handlers, auth *middleware.AuthMiddleware, opts Options) *FiberRouter {
	if opts.AppName == "" {
		opts.AppName = "TrakPilot API"
	}
	if opts.APIRateLimit <= 0 {
		opts.APIRateLimit = 600
	}
	if opts.TrackRateLimit <= 0 {
		opts.TrackRateLimit = 6000
	}
	if opts.MetricsPath == "" {
		opts.MetricsPath = "/metrics"
	}

	app := fiber.New(fiber.Config{
		AppName:      opts.AppName,
		ServerHeader: "TrakPilot",
		ErrorHandler: errorHandler,
		BodyLimit:    4 * 1024 * 1024, // 4MB
		ReadTimeout:  10 * time.Second,
		// push streams hold the connection; their writes are bounded by heartbeats instead
		WriteTimeout: 0,
		IdleTimeout:  60 * time.Second,
		JSONEncoder:  json.Marshal,
		JSONDecoder:  json.Unmarshal,
	})

	return &FiberRouter{
		app:      app,
		handlers: h,
		auth:     auth,
		opts:     opts,
	}
}

// SetupRoutes configures all application routes
func (r *FiberRouter) SetupRoutes() {
	logrus.Debug("Setting up routes")

	r.setupMiddleware()

	if r.opts.MetricsEnabled {
		r.app.Get(r.opts.MetricsPath, adaptor.HTTPHandler(promhttp.Handler()))
	}

	// Recipient-facing routes: no auth, generous per-IP limit, never an error page
	track := r.app.Group("", limiter.New(limiter.Config{
		Max:          r.opts.TrackRateLimit,
		Expiration:   1 * time.Minute,
		KeyGenerator: func(c fiber.Ctx) string { return c.IP() },
		Next: func(c fiber.Ctx) bool {
			return !isTrackingPath(c.Path())
		},
		LimitReached: func(c fiber.Ctx) error {
			// still answer like a normal hit, just without recording it
			if strings.HasPrefix(c.Path(), "/l/") || strings.HasPrefix(c.Path(), "/redirect/") {
				return c.Next()
			}
			c.Set(fiber.HeaderContentType, "image/gif")
			c.Set(fiber.HeaderCacheControl, "no-store, no-cache, must-revalidate, max-age=0")
			return c.Send(utils.TransparentGIF)
		},
	}))
	track.Get("/track", r.handlers.Tracking.Beacon)
	track.Get("/track/:id", r.handlers.Tracking.Beacon)
	track.Get("/t/:id.gif", r.handlers.Tracking.Beacon)
	track.Get("/l/:code", r.handlers.Tracking.Redirect)
	track.Get("/redirect/:code", r.handlers.Tracking.Redirect)
	r.app.Get("/unsubscribe", r.handlers.Unsubscribe.Unsubscribe)
	r.app.Post("/unsubscribe", r.handlers.Unsubscribe.Unsubscribe)

	api := r.app.Group("/api/v1")

	// Health check route (no rate limiting)
	api.Get("/health", r.healthCheck)

	api.Use(limiter.New(limiter.Config{
		Max:        r.opts.APIRateLimit,
		Expiration: 1 * time.Minute,
		KeyGenerator: func(c fiber.Ctx) string {
			return c.IP()
		},
		LimitReached: func(c fiber.Ctx) error {
			return c.Status(fiber.StatusTooManyRequests).JSON(dto.APIResponse{
				Success: false,
				Message: "Too many requests. Please try again later.",
				Error: dto.ErrorDetail{
					Code: "RATE_LIMIT_EXCEEDED",
				},
			})
		},
		Next: func(c fiber.Ctx) bool {
			return c.Path() == "/api/v1/health" || strings.HasPrefix(c.Path(), "/api/v1/notifications/")
		},
	}))

	// Sweeps, called by an external scheduler
	cron := api.Group("/cron", middleware.CronAuth(r.opts.CronSecret))
	cron.Get("/scheduled", r.handlers.Cron.SweepScheduled)
	cron.Get("/sequences", r.handlers.Cron.SweepSequences)

	api.Get("/notifications/stream", r.auth.AuthenticateStream(), r.handlers.Notifications.Stream)

	owner := api.Group("", r.auth.Authenticate())

	messages := owner.Group("/messages")
	messages.Post("", r.handlers.Messages.Send)
	messages.Get("", r.handlers.Messages.ListMessages)
	messages.Get("/export", r.handlers.Messages.ExportMessages)
	messages.Post("/score", r.handlers.Messages.Score)
	messages.Get("/:id", r.handlers.Messages.GetMessage)

	sequences := owner.Group("/sequences")
	sequences.Post("", r.handlers.Sequences.CreateSequence)
	sequences.Get("", r.handlers.Sequences.ListSequences)
	sequences.Get("/:id", r.handlers.Sequences.GetSequence)
	sequences.Patch("/:id/status", r.handlers.Sequences.UpdateStatus)
	sequences.Post("/:id/enrollments", r.handlers.Sequences.Enroll)
	sequences.Get("/:id/enrollments", r.handlers.Sequences.ListEnrollments)
	owner.Delete("/enrollments/:id", r.handlers.Sequences.CancelEnrollment)

	owner.Get("/owner/settings", r.handlers.Owner.GetSettings)
	owner.Put("/owner/settings", r.handlers.Owner.UpdateSettings)

	// Not found handler
	r.app.Use(r.notFoundHandler)

	logrus.WithField("routes", len(r.app.GetRoutes(true))).Info("Routes configured")
}

// setupMiddleware configures global middleware
func (r *FiberRouter) setupMiddleware() {
	// Request ID middleware - must be first
	r.app.Use(requestid.New(requestid.Config{
		Header: "X-Request-ID",
		Generator: func() string {
			return generateRequestID()
		},
	}))

	r.app.Use(middleware.Metrics())

	r.app.Use(helmet.New(helmet.Config{
		XSSProtection:             "1; mode=block",
		ContentTypeNosniff:        "nosniff",
		XFrameOptions:             "DENY",
		HSTSMaxAge:                31536000, // 1 year
		ContentSecurityPolicy:     "default-src 'none'; style-src 'unsafe-inline'; frame-ancestors 'none';",
		ReferrerPolicy:            "no-referrer",
		CrossOriginResourcePolicy: "cross-origin",
		XDNSPrefetchControl:       "off",
		XDownloadOptions:          "noopen",
		XPermittedCrossDomain:     "none",
	}))

	r.app.Use(cors.New(cors.Config{
		AllowOrigins: r.opts.AllowedOrigins,
		AllowMethods: []string{
			"GET", "POST", "PUT", "PATCH", "DELETE", "HEAD", "OPTIONS",
		},
		AllowHeaders: []string{
			"Origin",
			"Content-Type",
			"Accept",
			"Authorization",
			"X-Requested-With",
			"X-Request-ID",
			"Cache-Control",
		},
		ExposeHeaders: []string{
			"X-Request-ID",
			"Retry-After",
			"Content-Disposition",
		},
		AllowCredentials: false,
		MaxAge:           utils.CORSMaxAge,
	}))

	r.app.Use(compress.New(compress.Config{
		Level: compress.LevelBestSpeed,
		Next: func(c fiber.Ctx) bool {
			// pixels are tiny and streams must flush per event
			return isTrackingPath(c.Path()) || middleware.Surface(c.Path()) == middleware.SurfaceStream
		},
	}))

	r.app.Use(logger.New(logger.Config{
		Format:     `{"time":"${time}","pid":"${pid}","request_id":"${locals:requestid}","level":"info","method":"${method}","path":"${path}","protocol":"${protocol}","ip":"${ip}","user_agent":"${ua}","status":${status},"latency":"${latency}","bytes_in":${bytesReceived},"bytes_out":${bytesSent},"referer":"${referer}"}` + "\n",
		TimeFormat: time.RFC3339,
		TimeZone:   "UTC",
		Next: func(c fiber.Ctx) bool {
			return c.Path() == "/api/v1/health" || c.Path() == r.opts.MetricsPath
		},
	}))

	r.app.Use(recover.New(recover.Config{
		EnableStackTrace: true,
		StackTraceHandler: func(c fiber.Ctx, e any) {
			utils.LogError("panic", errors.New("handler panic"), map[string]any{
				"request_id": c.Locals("requestid"),
				"panic":      e,
				"path":       c.Path(),
				"method":     c.Method(),
			})
		},
	}))
}

// Start starts the HTTP server
func (r *FiberRouter) Start(address string) error {
	return r.app.Listen(address, fiber.ListenConfig{DisableStartupMessage: true})
}

// GetApp returns the Fiber app instance
func (r *FiberRouter) GetApp() *fiber.App {
	return r.app
}

// Health check endpoint
func (r *FiberRouter) healthCheck(c fiber.Ctx) error {
	checks := map[string]string{}
	if r.opts.Health != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		checks = r.opts.Health(ctx)
	}

	status, code := "ok", fiber.StatusOK
	for _, v := range checks {
		if v != "ok" {
			status, code = "degraded", fiber.StatusServiceUnavailable
			break
		}
	}

	return c.Status(code).JSON(dto.APIResponse{
		Success: code == fiber.StatusOK,
		Message: "Service is " + status,
		Data: fiber.Map{
			"status":    status,
			"checks":    checks,
			"timestamp": utils.UTCNow().Unix(),
			"service":   "trakpilot-api",
		},
	})
}

// Not found handler
func (r *FiberRouter) notFoundHandler(c fiber.Ctx) error {
	requestID := c.Locals("requestid")

	return c.Status(fiber.StatusNotFound).JSON(dto.APIResponse{
		Success: false,
		Message: "The requested resource was not found",
		Error: dto.ErrorDetail{
			Code: "NOT_FOUND",
			Details: fiber.Map{
				"path":       c.Path(),
				"method":     c.Method(),
				"request_id": requestID,
			},
		},
	})
}

// Global error handler
func errorHandler(c fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	message := "An internal server error occurred"
	errCode := "INTERNAL_ERROR"

	var fe *fiber.Error
	if errors.As(err, &fe) {
		code = fe.Code
		if code < fiber.StatusInternalServerError {
			message = fe.Message
			errCode = "REQUEST_ERROR"
		}
	}

	if code >= fiber.StatusInternalServerError {
		utils.LogError("http_error", err, map[string]any{"path": c.Path(), "status": code})
	}

	return c.Status(code).JSON(dto.APIResponse{
		Success: false,
		Message: message,
		Error: dto.ErrorDetail{
			Code: errCode,
			Details: fiber.Map{
				"timestamp":  utils.UTCNow().Unix(),
				"request_id": c.Locals("requestid"),
			},
		},
	})
}

// generateRequestID creates a unique request ID
func generateRequestID() string {
	bytes := make([]byte, 8)
	_, _ = rand.Read(bytes)
	return hex.EncodeToString(bytes)
}

func isTrackingPath(path string) bool {
	return middleware.Surface(path) == middleware.SurfaceTracking
}
