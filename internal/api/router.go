// Package api wires together all HTTP routes of the bandyab backend.
//
// Route grouping:
//   - Probes (/health, /ready, /version) and locally served files (/files/) sit outside
//     /api/v1 and carry no auth.
//   - Public reads (profiles, events, blog) and the contact form use optional auth so
//     signed-in callers get owner views.
//   - Everything else requires a session; relationship, event, message and upload
//     routes additionally require a saved profile, and /admin requires the admin scope.
package api

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"

	"github.com/bandyab/bandyab/internal/api/account"
	"github.com/bandyab/bandyab/internal/api/admin"
	"github.com/bandyab/bandyab/internal/api/apiutil"
	"github.com/bandyab/bandyab/internal/api/blog"
	"github.com/bandyab/bandyab/internal/api/events"
	"github.com/bandyab/bandyab/internal/api/memberships"
	"github.com/bandyab/bandyab/internal/api/messages"
	"github.com/bandyab/bandyab/internal/api/profiles"
	"github.com/bandyab/bandyab/internal/api/uploads"
	"github.com/bandyab/bandyab/internal/audit"
	"github.com/bandyab/bandyab/internal/auth"
	"github.com/bandyab/bandyab/internal/auth/oidc"
	"github.com/bandyab/bandyab/internal/captcha"
	"github.com/bandyab/bandyab/internal/config"
	"github.com/bandyab/bandyab/internal/crypto"
	"github.com/bandyab/bandyab/internal/db"
	"github.com/bandyab/bandyab/internal/db/repositories"
	"github.com/bandyab/bandyab/internal/jobs"
	"github.com/bandyab/bandyab/internal/membership"
	"github.com/bandyab/bandyab/internal/middleware"
	"github.com/bandyab/bandyab/internal/otp"
	"github.com/bandyab/bandyab/internal/realtime"
	"github.com/bandyab/bandyab/internal/services"
	"github.com/bandyab/bandyab/internal/storage"
)

// Dependencies are the process-level resources built by cmd/server
type Dependencies struct {
	DB      *sql.DB
	Redis   redis.UniversalClient
	Storage storage.Storage
	Cipher  *crypto.FieldCipher
	Version string
}

// BackgroundServices holds the goroutines and queues that must be stopped during
// graceful shutdown. The caller is responsible for calling Shutdown after the HTTP
// server has drained.
type BackgroundServices struct {
	digestJob    *jobs.ContactDigestJob
	recorder     *audit.Recorder
	hub          *realtime.Hub
	rateLimiters []*middleware.RateLimiter
}

// Shutdown stops every background service
func (bg *BackgroundServices) Shutdown(ctx context.Context) {
	slog.Info("stopping background services")
	if bg.digestJob != nil {
		bg.digestJob.Stop()
	}
	if bg.hub != nil {
		bg.hub.Close()
	}
	for _, rl := range bg.rateLimiters {
		rl.Stop()
	}
	if bg.recorder != nil {
		if err := bg.recorder.Close(ctx); err != nil {
			slog.Warn("audit recorder did not drain", "error", err)
		}
	}
	slog.Info("all background services stopped")
}

// NewRouter creates and configures the Gin router
func NewRouter(cfg *config.Config, deps Dependencies) (*gin.Engine, *BackgroundServices, error) {
	if deps.DB == nil || deps.Redis == nil || deps.Storage == nil || deps.Cipher == nil {
		return nil, nil, errors.New("router requires a database, redis, a storage backend and a field cipher")
	}
	sqlxDB := sqlx.NewDb(deps.DB, "postgres")

	// Repositories
	accountRepo := repositories.NewAccountRepository(sqlxDB)
	profileRepo := repositories.NewProfileRepository(sqlxDB)
	bandRepo := repositories.NewMembershipRepository(sqlxDB, membership.Band)
	schoolRepo := repositories.NewMembershipRepository(sqlxDB, membership.School)
	eventRepo := repositories.NewEventRepository(sqlxDB)
	blogRepo := repositories.NewBlogRepository(sqlxDB)
	messageRepo := repositories.NewMessageRepository(sqlxDB)
	auditRepo := repositories.NewAuditRepository(sqlxDB)

	// Change feed and audit queue
	hub := realtime.NewHub(cfg.Realtime.AllowedOrigins)
	shipper, err := audit.NewMultiShipper(cfg.Audit.Shippers)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to configure audit shippers: %w", err)
	}
	recorder := audit.NewRecorder(auditRepo, shipper, audit.DefaultQueueSize)

	// Services
	bandService := services.NewMembershipService(bandRepo, profileRepo, hub)
	schoolService := services.NewMembershipService(schoolRepo, profileRepo, hub)
	deletion := services.NewProfileDeletionService(services.ProfileDeletionDeps{
		Tx:       db.NewTxManager(sqlxDB),
		Accounts: accountRepo,
		Profiles: profileRepo,
		Bands:    bandRepo,
		Schools:  schoolRepo,
		Events:   eventRepo,
		Messages: messageRepo,
		Blog:     blogRepo,
		Storage:  deps.Storage,
		Notifier: hub,
	})

	sender, err := otp.NewSender(cfg.OTP.SMS)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to configure SMS sender: %w", err)
	}
	codes := otp.NewService(
		otp.NewRedisStore(deps.Redis),
		otp.NewRedisLimiter(deps.Redis, "otp:send", cfg.OTP.SendPerMinute, cfg.OTP.SendPerHour),
		sender, deps.Cipher,
		otp.Options{TTL: cfg.OTP.CodeTTL, MaxAttempts: cfg.OTP.MaxAttempts},
	)
	captchaVerifier := captcha.NewVerifier(cfg.Captcha, nil)

	// Contact digest
	digestJob := jobs.NewContactDigestJob(messageRepo, jobs.NewSMTPMailer(cfg.Notifications.SMTP), &cfg.Notifications)
	if err := digestJob.Start(context.Background()); err != nil {
		return nil, nil, err
	}

	// Handlers
	accountHandlers := account.NewHandlers(cfg, accountRepo, profileRepo, deps.Cipher, codes, captchaVerifier)
	if cfg.Auth.OIDC.Enabled {
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		provider, err := oidc.NewProvider(ctx, &cfg.Auth.OIDC)
		cancel()
		if err != nil {
			slog.Error("OIDC sign-in disabled", "error", err, "issuer", cfg.Auth.OIDC.IssuerURL)
		} else {
			accountHandlers.SetIdentityProvider(provider)
		}
	}
	profileHandlers := profiles.NewHandlers(cfg, profileRepo, deletion, deps.Storage, hub)
	bandHandlers := memberships.NewHandlers(bandService)
	schoolHandlers := memberships.NewHandlers(schoolService)
	eventHandlers := events.NewHandlers(cfg, eventRepo, deps.Storage, hub)
	blogHandlers := blog.NewHandlers(blogRepo, deps.Storage)
	messageHandlers := messages.NewHandlers(messageRepo, captchaVerifier, hub)
	uploadHandlers := uploads.NewHandlers(cfg, profileRepo, eventRepo, blogRepo, deps.Storage, hub)

	adminEvents := admin.NewEventHandlers(eventRepo, deps.Storage, hub)
	adminBlog := admin.NewBlogHandlers(blogRepo, deps.Storage, hub)
	adminMessages := admin.NewMessageHandlers(messageRepo, hub)
	adminProfiles := admin.NewProfileHandlers(profileRepo, deletion, hub)
	adminAudit := admin.NewAuditHandlers(auditRepo)
	adminStats := admin.NewStatsHandler(profileRepo, eventRepo, messageRepo, map[string]admin.StatusCounter{
		membership.Band.Name:   bandRepo,
		membership.School.Name: schoolRepo,
	})

	// Rate limiters
	apiLimit, authLimit := middleware.RateLimitConfigsFrom(cfg.Security.RateLimiting)
	generalRateLimiter := middleware.NewRateLimiter(apiLimit)
	authRateLimiter := middleware.NewRateLimiter(authLimit)
	uploadRateLimiter := middleware.NewRateLimiter(middleware.UploadRateLimitConfig())
	limit := func(rl *middleware.RateLimiter) gin.HandlerFunc {
		if !cfg.Security.RateLimiting.Enabled {
			return func(c *gin.Context) { c.Next() }
		}
		return middleware.RateLimitMiddleware(rl)
	}

	requireAuth := middleware.AuthMiddleware(cfg, accountRepo, profileRepo)
	optionalAuth := middleware.OptionalAuthMiddleware(cfg, accountRepo, profileRepo)

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.RequestIDMiddleware())
	router.Use(middleware.MetricsMiddleware())
	router.Use(middleware.LoggerMiddleware())
	router.Use(middleware.SecurityHeadersMiddleware(middleware.APISecurityHeadersConfig(cfg.Security.TLS.Enabled)))
	router.Use(middleware.CORSMiddleware(cfg.Security.CORS))

	router.GET("/health", healthCheckHandler(deps.DB))
	router.GET("/ready", readinessHandler(deps.DB, deps.Storage))
	router.GET("/version", versionHandler(deps.Version))

	if cfg.Storage.DefaultBackend == "local" && cfg.Storage.Local.ServeDirectly {
		router.GET("/files/*filepath",
			middleware.SecurityHeadersMiddleware(middleware.FileSecurityHeadersConfig(cfg.Security.TLS.Enabled)),
			serveFileHandler(deps.Storage))
	}

	apiV1 := router.Group("/api/v1")
	apiV1.Use(middleware.AuditMiddleware(recorder, &cfg.Audit))
	{
		apiV1.GET("/client-config", limit(generalRateLimiter), clientConfigHandler(cfg))
		apiV1.POST("/captcha/verify", limit(authRateLimiter), accountHandlers.CaptchaVerifyHandler())

		// Sign-in flows
		authGroup := apiV1.Group("/auth")
		authGroup.Use(limit(authRateLimiter))
		{
			authGroup.POST("/signup", accountHandlers.SignUpHandler())
			authGroup.POST("/signin", accountHandlers.SignInHandler())
			authGroup.POST("/signout", accountHandlers.SignOutHandler())
			authGroup.POST("/otp/send", accountHandlers.SendCodeHandler())
			authGroup.POST("/otp/verify", optionalAuth, accountHandlers.VerifyCodeHandler())
			authGroup.GET("/oidc/login", accountHandlers.OIDCLoginHandler())
			authGroup.GET("/oidc/callback", accountHandlers.OIDCCallbackHandler())
			authGroup.POST("/refresh", requireAuth, accountHandlers.RefreshHandler())
			authGroup.GET("/me", requireAuth, accountHandlers.MeHandler())
		}

		// Public reads; a session, when present, unlocks owner views
		public := apiV1.Group("")
		public.Use(optionalAuth, limit(generalRateLimiter))
		{
			public.GET("/profiles", profileHandlers.Search)
			public.GET("/profiles/:id", profileHandlers.Get)
			public.GET("/events", eventHandlers.List)
			public.GET("/events/:id", eventHandlers.Get)
			public.GET("/blog/posts", blogHandlers.List)
			public.GET("/blog/posts/:slug", blogHandlers.Get)
			public.GET("/blog/categories", blogHandlers.Categories)
			public.POST("/messages", messageHandlers.Submit)
			if cfg.Realtime.Enabled {
				public.GET("/realtime", realtimeHandler(hub))
			}
		}

		// Signed-in accounts; the profile itself is created here
		signedIn := apiV1.Group("")
		signedIn.Use(requireAuth, limit(generalRateLimiter))
		{
			me := signedIn.Group("/profiles/me")
			me.Use(middleware.RequireScope(auth.ScopeProfileWrite))
			{
				me.GET("", profileHandlers.GetMine)
				me.PUT("", profileHandlers.Upsert)
				me.DELETE("", profileHandlers.DeleteMine)
				me.PUT("/instruments", middleware.RequireProfile(), profileHandlers.ReplaceInstruments)
				me.DELETE("/gallery/:itemId", middleware.RequireProfile(), profileHandlers.DeleteGalleryItem)
			}
		}

		// Routes acting on behalf of a saved profile
		member := apiV1.Group("")
		member.Use(requireAuth, middleware.RequireProfile(), limit(generalRateLimiter))
		{
			bands := member.Group("/bands", middleware.RequireScope(auth.ScopeMembershipsWrite))
			bandHandlers.Register(bands)
			schools := member.Group("/schools", middleware.RequireScope(auth.ScopeMembershipsWrite))
			schoolHandlers.Register(schools)

			ev := member.Group("/events", middleware.RequireScope(auth.ScopeEventsWrite))
			{
				ev.GET("/mine", eventHandlers.Mine)
				ev.POST("", eventHandlers.Create)
				ev.PUT("/:id", eventHandlers.Update)
				ev.DELETE("/:id", eventHandlers.Delete)
			}

			msg := member.Group("/messages", middleware.RequireScope(auth.ScopeMessagesWrite))
			{
				msg.GET("/mine", messageHandlers.Mine)
				msg.GET("/:id", messageHandlers.Thread)
				msg.POST("/:id/replies", messageHandlers.Reply)
			}

			up := member.Group("/uploads",
				middleware.RequireScope(auth.ScopeUploadsWrite),
				limit(uploadRateLimiter),
				apiutil.LimitBody(cfg))
			{
				up.POST("/avatar", uploadHandlers.Avatar)
				up.DELETE("/avatar", uploadHandlers.DeleteAvatar)
				up.POST("/gallery", uploadHandlers.Gallery)
				up.POST("/events/:id/poster", uploadHandlers.EventPoster)
			}
		}

		// Admin panel
		adminGroup := apiV1.Group("/admin")
		adminGroup.Use(requireAuth, middleware.RequireAdmin(), limit(generalRateLimiter))
		{
			adminGroup.GET("/stats", adminStats.GetDashboardStats)

			moderation := adminGroup.Group("/events", middleware.RequireScope(auth.ScopeModerate))
			{
				moderation.GET("", adminEvents.ListEvents)
				moderation.PATCH("/:id", adminEvents.ModerateEvent)
				moderation.POST("/:id/moderate", adminEvents.ModerateEvent)
			}

			blogAdmin := adminGroup.Group("/blog", middleware.RequireScope(auth.ScopeBlogManage))
			{
				blogAdmin.GET("/posts", adminBlog.ListPosts)
				blogAdmin.POST("/posts", adminBlog.CreatePost)
				blogAdmin.GET("/posts/:id", adminBlog.GetPost)
				blogAdmin.PUT("/posts/:id", adminBlog.UpdatePost)
				blogAdmin.DELETE("/posts/:id", adminBlog.DeletePost)
				blogAdmin.POST("/posts/:id/status", adminBlog.SetPostStatus)
				blogAdmin.POST("/posts/:id/cover", limit(uploadRateLimiter), apiutil.LimitBody(cfg), uploadHandlers.BlogCover)
				blogAdmin.POST("/images", limit(uploadRateLimiter), apiutil.LimitBody(cfg), uploadHandlers.BlogImage)
				blogAdmin.POST("/categories", adminBlog.CreateCategory)
				blogAdmin.DELETE("/categories/:id", adminBlog.DeleteCategory)
			}

			inbox := adminGroup.Group("/messages", middleware.RequireScope(auth.ScopeInboxManage))
			{
				inbox.GET("", adminMessages.ListMessages)
				inbox.GET("/:id", adminMessages.GetMessage)
				inbox.POST("/:id/read", adminMessages.MarkRead)
				inbox.POST("/:id/replies", adminMessages.Reply)
				inbox.POST("/:id/close", adminMessages.Close)
			}

			adminGroup.DELETE("/profiles/:id", adminProfiles.DeleteProfile)
			adminGroup.PUT("/profiles/:id/admin", adminProfiles.SetAdmin)

			auditLogs := adminGroup.Group("/audit-logs", middleware.RequireScope(auth.ScopeAuditRead))
			{
				auditLogs.GET("", adminAudit.ListAuditLogs)
				auditLogs.GET("/:id", adminAudit.GetAuditLog)
			}
		}
	}

	bg := &BackgroundServices{
		digestJob:    digestJob,
		recorder:     recorder,
		hub:          hub,
		rateLimiters: []*middleware.RateLimiter{generalRateLimiter, authRateLimiter, uploadRateLimiter},
	}
	return router, bg, nil
}
