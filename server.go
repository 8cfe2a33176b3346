package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"bitbucket.org/mmdatafocus/motoshop_backend/config"
	"bitbucket.org/mmdatafocus/motoshop_backend/middlewares"
	"bitbucket.org/mmdatafocus/motoshop_backend/models"
	"bitbucket.org/mmdatafocus/motoshop_backend/workflow"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

const defaultPort = "8080"

// Define a struct to represent the rate limiter.
type RateLimiter struct {
	client *redis.Client
	limit  int64
	window time.Duration
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}

func getRedisClient(redisAddress string) *redis.Client {
	client := redis.NewClient(&redis.Options{
		Addr:     redisAddress,
		Password: os.Getenv("REDIS_PASSWORD"),
	})
	return client
}

func customNotFoundHandler(c *gin.Context) {
	c.JSON(http.StatusNotFound, gin.H{"error": "route not found"})
}

// readinessGate answers 503 until the database and redis are connected.
func readinessGate(c *gin.Context) {
	// Always allow the Cloud Run startup check.
	if c.Request.URL.Path == "/healthz" {
		c.Status(http.StatusNoContent)
		c.Abort()
		return
	}
	if config.GetDB() == nil || config.GetRedisDB() == nil {
		c.AbortWithStatus(http.StatusServiceUnavailable)
		return
	}
	c.Next()
}

func corsConfig() cors.Config {
	cfg := cors.DefaultConfig()
	// In production, require an explicit allowlist via CORS_ALLOWED_ORIGINS (comma-separated).
	allowedOrigins := strings.TrimSpace(os.Getenv("CORS_ALLOWED_ORIGINS"))
	if strings.EqualFold(strings.TrimSpace(os.Getenv("GO_ENV")), "production") {
		if allowedOrigins == "" {
			cfg.AllowOrigins = []string{}
		} else {
			cfg.AllowOrigins = splitAndTrim(allowedOrigins)
		}
	} else {
		cfg.AllowAllOrigins = true
	}
	cfg.AddAllowMethods("GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS")
	cfg.AddAllowHeaders("token", "Origin", "Content-Type", "Authorization", middlewares.CorrelationHeader)
	cfg.AddExposeHeaders("Content-Length", "Content-Disposition", middlewares.CorrelationHeader)
	cfg.AllowCredentials = true
	return cfg
}

// registerRoutes mounts the REST API on r.
func registerRoutes(r *gin.Engine, jobs *workflow.JobSynchronizer, photos photoObjects) {
	r.GET("/healthz", func(c *gin.Context) { c.Status(http.StatusNoContent) })
	r.POST("/pubsub", domainEventPubSubHandler())

	// Pub/Sub push carries its own bearer token, so sessions only resolve below.
	app := r.Group("/", middlewares.SessionMiddleware(), middlewares.LoaderMiddleware())

	auth := app.Group("/auth")
	auth.POST("/register", registerHandler())
	auth.POST("/login", loginHandler())
	auth.POST("/logout", middlewares.RequireSession(), logoutHandler())

	api := app.Group("/", middlewares.RequireSession())

	api.GET("/me", getMeHandler())
	api.PUT("/me", updateMeHandler())
	api.GET("/me/memberships", myMembershipsHandler())

	profiles := api.Group("/profiles", middlewares.RequireRole(models.UserRoleAdmin))
	profiles.GET("", listProfilesHandler())
	profiles.PUT("/:id/role", setProfileRoleHandler())
	profiles.PUT("/:id/active", setProfileActiveHandler())

	api.POST("/shops", createShopHandler())
	api.GET("/shops", listShopsHandler())
	api.GET("/shops/:id", getShopHandler())
	api.PUT("/shops/:id", updateShopHandler())
	api.GET("/shops/:id/members", listMembersHandler())
	api.POST("/shops/:id/invitations", inviteMemberHandler())
	api.POST("/shops/:id/join", joinShopHandler())

	api.POST("/memberships/:id/accept", membershipActionHandler(models.AcceptInvitation))
	api.POST("/memberships/:id/approve", membershipActionHandler(models.ApproveMembership))
	api.POST("/memberships/:id/reject", membershipActionHandler(models.RejectMembership))
	api.DELETE("/memberships/:id", membershipActionHandler(models.RemoveMembership))

	api.POST("/jobs", createJobHandler(jobs))
	api.GET("/jobs", listJobsHandler())
	api.GET("/jobs/:id", getJobHandler(jobs))
	api.PUT("/jobs/:id", updateJobHandler(jobs))
	api.DELETE("/jobs/:id", deleteJobHandler(jobs))
	api.POST("/jobs/:id/notes", addJobNoteHandler(jobs))
	api.PUT("/jobs/:id/costs", updateJobCostsHandler(jobs))
	api.POST("/jobs/:id/status", transitionJobHandler(jobs))
	api.GET("/jobs/:id/history", jobHistoryHandler(jobs))
	api.GET("/jobs/:id/stream", jobStreamHandler(jobs))
	api.POST("/jobs/:id/photos/:kind", uploadPhotoHandler(jobs, photos))
	api.DELETE("/jobs/:id/photos/:kind/:index", removePhotoHandler(jobs))
	api.GET("/jobs/:id/photos/:kind/:index/url", photoURLHandler(jobs))

	api.GET("/reports/jobs/summary", jobSummaryHandler())
	api.GET("/reports/jobs.xlsx", exportJobsHandler())

	api.GET("/notifications", listNotificationsHandler())
	api.GET("/notifications/unread-count", unreadNotificationCountHandler())
	api.POST("/notifications/read-all", markAllNotificationsReadHandler())
	api.POST("/notifications/:id/read", markNotificationReadHandler())

	api.POST("/messages", sendMessageHandler())
	api.GET("/messages", inboxHandler())
	api.GET("/messages/with/:profileId", conversationHandler())
	api.POST("/messages/with/:profileId/read", markConversationReadHandler())

	api.POST("/tickets", createTicketHandler())
	api.GET("/tickets", listTicketsHandler())
	api.GET("/tickets/:id", getTicketHandler())
	api.POST("/tickets/:id/replies", replyTicketHandler())
	api.PUT("/tickets/:id/assign", middlewares.RequireRole(models.UserRoleAdmin, models.UserRoleSupport), assignTicketHandler())
	api.PUT("/tickets/:id/status", setTicketStatusHandler())

	admin := api.Group("/admin", middlewares.RequireRole(models.UserRoleAdmin, models.UserRoleSupport))
	admin.GET("/history/:type/:id", historyHandler())
	admin.GET("/outbox/:type/:id", outboxStatusHandler())
	admin.POST("/outbox/:type/:id/reprocess", middlewares.RequireRole(models.UserRoleAdmin), outboxReprocessHandler())

	r.NoRoute(customNotFoundHandler)
}

func main() {
	port := os.Getenv("API_PORT")
	if port == "" {
		// Cloud Run standard env var.
		port = os.Getenv("PORT")
	}
	if port == "" {
		port = defaultPort
	}

	logger := config.GetLogger()

	// Cloud Run sends SIGTERM on revision shutdown; handle it for graceful drain.
	sigCtx, stopSignals := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stopSignals()

	// Start the HTTP server ASAP so Cloud Run considers the revision healthy.
	r := gin.New()
	r.Use(middlewares.CorrelationMiddleware())
	r.Use(readinessGate)
	r.Use(cors.New(corsConfig()))

	// Optional rate limiting.
	// Env:
	// - RATE_LIMIT_ENABLED=true
	// - RATE_LIMIT_WINDOW_SECONDS=60
	// - RATE_LIMIT_MAX_REQUESTS=600
	if strings.EqualFold(strings.TrimSpace(os.Getenv("RATE_LIMIT_ENABLED")), "true") {
		client := getRedisClient(os.Getenv("REDIS_ADDRESS"))
		limit := int64(600)
		if v := strings.TrimSpace(os.Getenv("RATE_LIMIT_MAX_REQUESTS")); v != "" {
			if n, err := strconv.ParseInt(v, 10, 64); err == nil && n > 0 {
				limit = n
			}
		}
		windowSec := int64(60)
		if v := strings.TrimSpace(os.Getenv("RATE_LIMIT_WINDOW_SECONDS")); v != "" {
			if n, err := strconv.ParseInt(v, 10, 64); err == nil && n > 0 {
				windowSec = n
			}
		}
		rateLimiter := NewRateLimiter(client, limit, time.Duration(windowSec)*time.Second)
		r.Use(rateLimiter.RateLimitMiddleware)
	}

	r.Use(customErrorLogger(logger))
	r.Use(gin.Recovery())

	jobs := workflow.NewJobSynchronizer(models.NewJobStore(), models.NewRedisJobCache(), gcsPhotoStore{})
	registerRoutes(r, jobs, gcsPhotoStore{})

	// Start listening immediately (the Cloud Run startup check is TCP based).
	srv := &http.Server{
		Addr:    ":" + port,
		Handler: r,
	}
	serverErrCh := make(chan error, 1)
	go func() {
		// ListenAndServe returns http.ErrServerClosed on graceful shutdown.
		serverErrCh <- srv.ListenAndServe()
	}()

	// Connect dependencies after the port is open.
	config.ConnectDatabaseWithRetry()
	config.ConnectRedisWithRetry()

	db := config.GetDB()
	sqlDB, _ := db.DB()
	defer func() {
		if sqlDB != nil {
			_ = sqlDB.Close()
		}
	}()
	// AutoMigrate can run blocking DDL; allow running it as a separate job instead.
	if !strings.EqualFold(strings.TrimSpace(os.Getenv("SKIP_MIGRATIONS")), "true") {
		if err := models.MigrateTable(); err != nil {
			logger.WithFields(logrus.Fields{"field": "migrations"}).Error("AutoMigrate failed: " + err.Error())
		}
	} else {
		logger.WithFields(logrus.Fields{"field": "migrations"}).Warn("SKIP_MIGRATIONS=true; skipping AutoMigrate on startup")
	}

	// Set the session isolation level to READ COMMITTED
	for attempt := 1; ; attempt++ {
		err := db.Exec("SET SESSION TRANSACTION ISOLATION LEVEL READ COMMITTED").Error
		if err == nil {
			break
		}
		sleep := time.Second * time.Duration(1<<min(attempt, 5))
		if sleep > 30*time.Second {
			sleep = 30 * time.Second
		}
		logger.WithFields(logrus.Fields{
			"field":   "database",
			"attempt": attempt,
		}).Warn("failed to set isolation level; retrying in " + sleep.String() + ": " + err.Error())
		time.Sleep(sleep)
	}

	// Background outbox workers: publish after commit, and fan out locally.
	workerCtx, cancelWorkers := context.WithCancel(context.Background())
	defer cancelWorkers()
	if config.OutboxDispatcherEnabled() {
		go workflow.NewOutboxDispatcher(db, logger).Run(workerCtx)
	}
	if shouldRunDirectOutboxProcessor() {
		go NewOutboxDirectProcessor(db, logger).Run(workerCtx)
	}
	if os.Getenv("PUBSUB_SUBSCRIPTION") != "" {
		if err := runDomainEventSubscriber(workerCtx, logger); err != nil {
			logger.WithFields(logrus.Fields{"field": "pubsub"}).Error("pull subscriber not started: " + err.Error())
		}
	}

	logger.WithFields(logrus.Fields{
		"info": "Connection Established",
	}).Info("listening on :", port)
	log.Println("Server started successfully")

	// Block until shutdown or server error.
	select {
	case <-sigCtx.Done():
	case err := <-serverErrCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithFields(logrus.Fields{"field": "http"}).Error("server stopped unexpectedly: " + err.Error())
		}
	}

	// Stop background workers first so they don't start new work while we're draining.
	cancelWorkers()

	// Drain HTTP requests. Open job streams end when their request context does.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.WithFields(logrus.Fields{"field": "http"}).Error("graceful shutdown failed: " + err.Error())
	}

	// Close Redis (best-effort).
	if rdb := config.GetRedisDB(); rdb != nil {
		_ = rdb.Close()
	}
}

// customErrorLogger is a custom Gin middleware that logs only errors
func customErrorLogger(logger *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		// Only log when there are errors
		if len(c.Errors) > 0 {
			logger.Error(c.Errors.String())
		}
	}
}

// Initialize a new RateLimiter instance.
func NewRateLimiter(client *redis.Client, limit int64, window time.Duration) *RateLimiter {
	return &RateLimiter{
		client: client,
		limit:  limit,
		window: window,
	}
}

// RateLimitMiddleware counts requests per client IP in a fixed window.
func (rl *RateLimiter) RateLimitMiddleware(c *gin.Context) {
	key := "ratelimit:" + c.ClientIP()

	count, err := rl.client.Incr(c.Request.Context(), key).Result()
	if err != nil {
		c.AbortWithError(http.StatusInternalServerError, err)
		return
	}
	// First hit of the window starts its expiry.
	if count == 1 {
		if err := rl.client.Expire(c.Request.Context(), key, rl.window).Err(); err != nil {
			c.AbortWithError(http.StatusInternalServerError, err)
			return
		}
	}

	if count > rl.limit {
		c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
			"error": fmt.Sprintf("Rate limit exceeded. Try again in %d seconds", int(rl.window.Seconds())),
		})
		return
	}

	c.Next()
}

func splitAndTrim(csv string) []string {
	if strings.TrimSpace(csv) == "" {
		return nil
	}
	parts := strings.Split(csv, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
