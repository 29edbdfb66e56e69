// Package httpapi wires the HTTP transport (Gin) to application services,
// middleware, and route handlers. It centralizes cross-cutting concerns such
// as tracing, correlation IDs, logging/redaction, panic recovery, metrics,
// CORS, security headers, authentication, idempotency, and rate limiting.
//
// Design goals:
//   - Put observability first (OTel + Prometheus)
//   - Safe-by-default middleware ordering (RequestID → logging → recovery)
//   - Deterministic, minimal router setup; all dependencies injected
//   - Production-ready CORS and security header posture
package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"gorm.io/gorm"

	"github.com/sessantasette/hub-backend/internal/config"
	"github.com/sessantasette/hub-backend/internal/domain"
	"github.com/sessantasette/hub-backend/internal/http/handlers"
	"github.com/sessantasette/hub-backend/internal/http/middleware"
	"github.com/sessantasette/hub-backend/internal/providers"
	"github.com/sessantasette/hub-backend/internal/repo"
	"github.com/sessantasette/hub-backend/internal/services"
)

// postRepoShim adapts the repository free functions to the services.PostRepo
// interface expected by the PostService. This keeps services decoupled from
// the concrete repo package while reusing existing functions.
type postRepoShim struct{}

func (postRepoShim) CreatePost(ctx context.Context, db *gorm.DB, p *domain.Post) (*domain.Post, error) {
	return repo.CreatePost(ctx, db, p)
}
func (postRepoShim) GetPost(ctx context.Context, db *gorm.DB, id string) (*domain.Post, error) {
	return repo.GetPost(ctx, db, id)
}
func (postRepoShim) CountPosts(ctx context.Context, db *gorm.DB, f repo.PostFilter) (int64, error) {
	return repo.CountPosts(ctx, db, f)
}
func (postRepoShim) ListPostsPage(ctx context.Context, db *gorm.DB, f repo.PostFilter, offset, limit int) ([]domain.Post, error) {
	return repo.ListPostsPage(ctx, db, f, offset, limit)
}
func (postRepoShim) UpdatePostFields(ctx context.Context, db *gorm.DB, id string, fields map[string]any) error {
	return repo.UpdatePostFields(ctx, db, id, fields)
}
func (postRepoShim) UpdatePostStatus(ctx context.Context, db *gorm.DB, id string, from, to domain.Status, fields map[string]any) (int64, error) {
	return repo.UpdatePostStatus(ctx, db, id, from, to, fields)
}
func (postRepoShim) DeletePost(ctx context.Context, db *gorm.DB, id string) error {
	return repo.DeletePost(ctx, db, id)
}
func (postRepoShim) CountPendingReview(ctx context.Context, db *gorm.DB, artistID string) (int64, error) {
	return repo.CountPendingReview(ctx, db, artistID)
}
func (postRepoShim) CreateComment(ctx context.Context, db *gorm.DB, postID, userID, content string, system bool) (*domain.PostComment, error) {
	return repo.CreateComment(ctx, db, postID, userID, content, system)
}
func (postRepoShim) ListComments(ctx context.Context, db *gorm.DB, postID string) ([]domain.PostComment, error) {
	return repo.ListComments(ctx, db, postID)
}

// artistRepoShim adapts the repository free functions to services.ArtistRepo.
type artistRepoShim struct{}

func (artistRepoShim) CreateArtist(ctx context.Context, db *gorm.DB, a *domain.Artist) (*domain.Artist, error) {
	return repo.CreateArtist(ctx, db, a)
}
func (artistRepoShim) GetArtist(ctx context.Context, db *gorm.DB, id string) (*domain.Artist, error) {
	return repo.GetArtist(ctx, db, id)
}
func (artistRepoShim) GetArtistByUser(ctx context.Context, db *gorm.DB, userID string) (*domain.Artist, error) {
	return repo.GetArtistByUser(ctx, db, userID)
}
func (artistRepoShim) ListArtists(ctx context.Context, db *gorm.DB, activeOnly bool) ([]domain.Artist, error) {
	return repo.ListArtists(ctx, db, activeOnly)
}
func (artistRepoShim) UpdateArtistFields(ctx context.Context, db *gorm.DB, id string, fields map[string]any) error {
	return repo.UpdateArtistFields(ctx, db, id, fields)
}

// agentRepoShim adapts the repository free functions to services.AgentRepo.
type agentRepoShim struct{}

func (agentRepoShim) GetArtist(ctx context.Context, db *gorm.DB, id string) (*domain.Artist, error) {
	return repo.GetArtist(ctx, db, id)
}
func (agentRepoShim) GetAgentConfig(ctx context.Context, db *gorm.DB, artistID string) (*domain.AgentConfig, error) {
	return repo.GetAgentConfig(ctx, db, artistID)
}
func (agentRepoShim) UpsertAgentConfig(ctx context.Context, db *gorm.DB, cfg *domain.AgentConfig) (*domain.AgentConfig, error) {
	return repo.UpsertAgentConfig(ctx, db, cfg)
}
func (agentRepoShim) GetSessionForDate(ctx context.Context, db *gorm.DB, artistID, contextDate string) (*domain.ChatSession, error) {
	return repo.GetSessionForDate(ctx, db, artistID, contextDate)
}
func (agentRepoShim) CreateSessionForDate(ctx context.Context, db *gorm.DB, artistID, userID, contextDate, title string) (*domain.ChatSession, error) {
	return repo.CreateSessionForDate(ctx, db, artistID, userID, contextDate, title)
}
func (agentRepoShim) ListSessions(ctx context.Context, db *gorm.DB, artistID string, offset, limit int) ([]domain.ChatSession, error) {
	return repo.ListSessions(ctx, db, artistID, offset, limit)
}
func (agentRepoShim) GetChatSession(ctx context.Context, db *gorm.DB, id string) (*domain.ChatSession, error) {
	return repo.GetChatSession(ctx, db, id)
}
func (agentRepoShim) ListSessionMessages(ctx context.Context, db *gorm.DB, sessionID string, limit int) ([]domain.ChatMessage, error) {
	return repo.ListSessionMessages(ctx, db, sessionID, limit)
}
func (agentRepoShim) CreateChatMessage(ctx context.Context, db *gorm.DB, m *domain.ChatMessage) (*domain.ChatMessage, error) {
	return repo.CreateChatMessage(ctx, db, m)
}
func (agentRepoShim) BumpSession(ctx context.Context, db *gorm.DB, sessionID string, msgDelta, tokenDelta int, at time.Time) error {
	return repo.BumpSession(ctx, db, sessionID, msgDelta, tokenDelta, at)
}
func (agentRepoShim) IncrementDailyUsage(ctx context.Context, db *gorm.DB, artistID, usageDate string, limit int) (bool, error) {
	return repo.IncrementDailyUsage(ctx, db, artistID, usageDate, limit)
}
func (agentRepoShim) GetDailyUsage(ctx context.Context, db *gorm.DB, artistID, usageDate string) (int, error) {
	return repo.GetDailyUsage(ctx, db, artistID, usageDate)
}
func (agentRepoShim) UsageStats(ctx context.Context, db *gorm.DB, artistID, since, until string) (int64, int64, error) {
	return repo.UsageStats(ctx, db, artistID, since, until)
}

// guidelineRepoShim adapts the repository free functions to
// services.GuidelineRepo.
type guidelineRepoShim struct{}

func (guidelineRepoShim) CreateSection(ctx context.Context, db *gorm.DB, s *domain.GuidelineSection) (*domain.GuidelineSection, error) {
	return repo.CreateSection(ctx, db, s)
}
func (guidelineRepoShim) ListSections(ctx context.Context, db *gorm.DB) ([]domain.GuidelineSection, error) {
	return repo.ListSections(ctx, db)
}
func (guidelineRepoShim) GetSectionBySlug(ctx context.Context, db *gorm.DB, slug string) (*domain.GuidelineSection, error) {
	return repo.GetSectionBySlug(ctx, db, slug)
}
func (guidelineRepoShim) CreateItem(ctx context.Context, db *gorm.DB, it *domain.GuidelineItem) (*domain.GuidelineItem, error) {
	return repo.CreateItem(ctx, db, it)
}
func (guidelineRepoShim) ListSectionItems(ctx context.Context, db *gorm.DB, sectionID string, at time.Time) ([]domain.GuidelineItem, error) {
	return repo.ListSectionItems(ctx, db, sectionID, at)
}
func (guidelineRepoShim) ListAllItems(ctx context.Context, db *gorm.DB) ([]domain.GuidelineItem, error) {
	return repo.ListAllItems(ctx, db)
}
func (guidelineRepoShim) DeleteItem(ctx context.Context, db *gorm.DB, id string) error {
	return repo.DeleteItem(ctx, db, id)
}

// RegisterRoutes attaches all middleware and HTTP endpoints to the given Gin
// engine. It configures observability (tracing, metrics), authentication,
// idempotency and rate limiting, CORS and security headers, health and
// metrics endpoints, and then mounts the versioned public API under /api/v*.
//
// Middleware order matters:
//  1. OpenTelemetry: trace everything
//  2. RequestID: generate/propagate correlation id
//  3. RedactingLogger: structured logs with chat-content scrubbing
//  4. Recovery: capture panics after logger
//  5. Body size limiter + gzip
//  6. Metrics
//  7. CORS and security headers
//  8. Auth (JWT; dev headers outside release mode)
//  9. Idempotency validator (before rate limiter to allow bypass on replay)
//  10. Rate limiter (per user/IP, bypass on replay)
func RegisterRoutes(r *gin.Engine, db *gorm.DB, completer providers.Completer, cfg config.Config) {
	r.HandleMethodNotAllowed = true

	// 1) Trace all HTTP requests
	r.Use(otelgin.Middleware(cfg.OTEL.ServiceName))

	// 2) Correlate requests and logs
	r.Use(middleware.RequestID())

	// 3) Structured logging; chat content must never reach the logs
	r.Use(middleware.RedactingLogger(middleware.RedactOptions{
		MaskHeaders: []string{"X-API-Key"},
	}))

	// 4) Panic recovery to JSON 500 (with request id)
	r.Use(middleware.Recovery())

	// 5) Global body size limit (1 MiB) and response compression
	r.Use(limitBody(1 << 20))
	r.Use(gzip.Gzip(gzip.DefaultCompression))

	// 6) Prometheus metrics and /metrics endpoint
	r.Use(middleware.Metrics())
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// 7) CORS posture (safe defaults: allow all if none configured)
	corsHeaders := []string{
		"Origin", "Content-Type", "Accept", "Authorization",
		"X-User-ID", "X-User-Role", "X-Artist-ID",
		middleware.HeaderIdempotencyKey,
	}
	if len(cfg.CORS.AllowedOrigins) == 0 {
		r.Use(cors.New(cors.Config{
			AllowAllOrigins:  true,
			AllowMethods:     []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
			AllowHeaders:     corsHeaders,
			ExposeHeaders:    []string{"X-Request-ID", "Content-Length", "ETag", "Retry-After"},
			AllowCredentials: false, // must remain false with AllowAllOrigins
			MaxAge:           12 * time.Hour,
		}))
	} else {
		r.Use(cors.New(cors.Config{
			AllowOrigins:     cfg.CORS.AllowedOrigins,
			AllowMethods:     []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
			AllowHeaders:     corsHeaders,
			ExposeHeaders:    []string{"X-Request-ID", "Content-Length", "ETag", "Retry-After"},
			AllowCredentials: false,
			MaxAge:           12 * time.Hour,
		}))
	}

	// Security headers (HSTS only when enabled and request is HTTPS)
	r.Use(middleware.SecurityHeaders(middleware.SecurityOptions{
		EnableHSTS:   cfg.Security.EnableHSTS,
		HSTSMaxAge:   cfg.Security.HSTSMaxAge,
		NoStore:      false,
		EnablePolicy: true,
	}))

	// Fallbacks
	r.NoRoute(func(c *gin.Context) {
		handlers.Fail(c, http.StatusNotFound, handlers.ErrCodeNotFound, "route not found")
	})
	r.NoMethod(func(c *gin.Context) {
		handlers.Fail(c, http.StatusMethodNotAllowed, handlers.ErrCodeMethodNotAllowed, "method not allowed")
	})

	// Liveness/health
	r.GET("/health", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })

	// Swagger UI (opt-in)
	if cfg.SwaggerEnabled {
		r.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	// Demo token mint for local development. Release builds never mount it.
	if cfg.GinMode != "release" {
		r.POST("/auth/token", func(c *gin.Context) {
			var req struct {
				UserID   string `json:"user_id" binding:"required"`
				Role     string `json:"role" binding:"required"`
				ArtistID string `json:"artist_id"`
			}
			if err := c.ShouldBindJSON(&req); err != nil {
				handlers.Fail(c, http.StatusBadRequest, handlers.ErrCodeBadRequest, "invalid JSON body")
				return
			}
			tok, err := middleware.MintToken(cfg.Auth.JWTSecret, cfg.Auth.TokenTTL, middleware.Identity{
				UserID:   req.UserID,
				Role:     req.Role,
				ArtistID: req.ArtistID,
			})
			if err != nil {
				handlers.Fail(c, http.StatusInternalServerError, handlers.ErrCodeInternal, "token mint failed")
				return
			}
			c.JSON(http.StatusOK, gin.H{"token": tok, "expires_in": int(cfg.Auth.TokenTTL.Seconds())})
		})
	}

	// 8) Authentication (dev headers allowed outside release mode)
	auth := middleware.Auth(cfg.Auth.JWTSecret, cfg.GinMode != "release")

	// 9) Idempotency validation (before rate limiting)
	idem := middleware.IdempotencyValidator(
		middleware.IdempotencyOptions{MaxLen: 200},
		func(ctx context.Context, userID, artistID, key string, now time.Time) (bool, error) {
			rec, err := repo.GetIdempotency(ctx, db, userID, artistID, key, now)
			if err != nil || rec == nil {
				return false, nil
			}
			return true, nil
		},
	)

	// 10) Token-bucket rate limiter per user/IP
	rl := middleware.NewRateLimiter(cfg.RateRPS, cfg.RateBurst, middleware.KeyByUserOrIP())

	// Dependency injection: services ← repo/db/provider
	postSvc := services.NewPostService(db, postRepoShim{})
	artistSvc := services.NewArtistService(db, artistRepoShim{})
	guideSvc := services.NewGuidelineService(db, guidelineRepoShim{})
	assistSvc := services.NewAssistantService(db, agentRepoShim{}, completer)
	assistSvc.MaxMessageRunes = cfg.AI.MaxMessageLen
	assistSvc.ContextWindow = cfg.AI.ContextWindow
	assistSvc.CallTimeout = cfg.AI.RequestTimeout

	posts := handlers.NewPostHandlers(postSvc)
	artists := handlers.NewArtistHandlers(artistSvc)
	toolkit := handlers.NewToolkitHandlers(guideSvc)
	chat := handlers.NewChatHandlers(assistSvc, cfg.IdempotencyTTL)

	// Public API
	api := groupWithPrefix(r, cfg.APIBasePath)
	api.Use(auth, rl.Handler())
	{
		// Posts
		api.POST("/posts", posts.CreatePost)
		api.GET("/posts", posts.ListPosts)
		api.GET("/posts/pending-count", posts.PendingReview)
		api.GET("/posts/stats", posts.PostStats)
		api.GET("/posts/:id", posts.GetPost)
		api.PATCH("/posts/:id", posts.UpdatePost)
		api.POST("/posts/:id/transition", posts.TransitionPost)
		api.DELETE("/posts/:id", posts.DeletePost)
		api.POST("/posts/:id/comments", posts.AddComment)
		api.GET("/posts/:id/comments", posts.ListComments)

		// Artists
		api.GET("/artists", artists.ListArtists)
		api.GET("/artists/me", artists.GetMe)
		api.GET("/artists/:id", artists.GetArtist)
		api.POST("/artists", artists.CreateArtist)
		api.PATCH("/artists/:id", artists.UpdateArtist)
		api.DELETE("/artists/:id", artists.DeactivateArtist)

		// Toolkit
		api.GET("/toolkit/sections", toolkit.ListSections)
		api.POST("/toolkit/sections", toolkit.CreateSection)
		api.GET("/toolkit/sections/:slug", toolkit.GetSectionItems)
		api.POST("/toolkit/items", toolkit.CreateItem)
		api.DELETE("/toolkit/items/:id", toolkit.DeleteItem)
		api.GET("/toolkit/search", toolkit.SearchToolkit)

		// Assistant
		api.POST("/ai/chat", idem, chat.SendChatMessage)
		api.GET("/ai/usage", chat.GetUsage)
		api.GET("/ai/sessions", chat.ListChatSessions)
		api.GET("/ai/sessions/:id/messages", chat.GetSessionMessages)
		api.GET("/ai/stats", chat.GetChatStats)
		api.GET("/ai/config/:artist_id", chat.GetAgentConfig)
		api.PUT("/ai/config", chat.UpdateAgentConfig)
	}
}

// limitBody returns a Gin middleware that caps the request body size for all
// endpoints to maxBytes using http.MaxBytesReader. Requests exceeding the cap
// will cause downstream body reads to error.
func limitBody(maxBytes int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBytes)
		c.Next()
	}
}

// groupWithPrefix mounts a group at prefix, treating "/" (or empty) as root.
func groupWithPrefix(r *gin.Engine, prefix string) *gin.RouterGroup {
	if prefix == "" || prefix == "/" {
		return r.Group("")
	}
	return r.Group(prefix)
}
