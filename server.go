package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"bitbucket.org/mmdatafocus/commerce_backend/config"
	"bitbucket.org/mmdatafocus/commerce_backend/mailer"
	"bitbucket.org/mmdatafocus/commerce_backend/middlewares"
	"bitbucket.org/mmdatafocus/commerce_backend/models"
	"bitbucket.org/mmdatafocus/commerce_backend/mpesasync"
	"bitbucket.org/mmdatafocus/commerce_backend/reconcile"
	"bitbucket.org/mmdatafocus/commerce_backend/shopifysync"
	"bitbucket.org/mmdatafocus/commerce_backend/stripesync"
	"bitbucket.org/mmdatafocus/commerce_backend/utils"
	"bitbucket.org/mmdatafocus/commerce_backend/woosync"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"gorm.io/gorm"
)

const defaultPort = "8080"

const syncRunTopic = "commerce-sync-runs"

var tracer = otel.Tracer("commerce-backend")

// PubSubMessage is the push-subscription envelope.
type PubSubMessage struct {
	Message struct {
		Data []byte `json:"data,omitempty"`
		ID   string `json:"id"`
	} `json:"message"`
	Subscription string `json:"subscription"`
}

// syncRunMessage is the payload carried over the sync-run topic.
type syncRunMessage struct {
	RunId         int    `json:"run_id"`
	BusinessId    string `json:"business_id"`
	Provider      string `json:"provider"`
	CorrelationId string `json:"correlation_id"`
}

type RateLimiter struct {
	client *redis.Client
	limit  int64
	window time.Duration
}

func getRedisClient(redisAddress string) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr: redisAddress,
	})
}

// requireSession gates a route group on an authenticated caller: either a
// session token or a bearer JWT.
func requireSession() gin.HandlerFunc {
	return func(c *gin.Context) {
		if _, ok := utils.GetUsernameFromContext(c.Request.Context()); ok {
			c.Next()
			return
		}
		if middlewares.CtxValue(c.Request.Context()) != nil {
			c.Next()
			return
		}
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
	}
}

// authorizeBusiness ensures the caller may act on the given business.
// Admin users may act on any business; everyone else only on their own.
func authorizeBusiness(ctx context.Context, businessId string) error {
	if businessId == "" {
		return errors.New("business_id is required")
	}

	// Bearer JWTs carry the role claim, so admin tokens skip the user lookup.
	if claim := middlewares.CtxValue(ctx); claim != nil && claim.Role == string(models.UserRoleAdmin) {
		return nil
	}

	username, ok := utils.GetUsernameFromContext(ctx)
	if !ok || username == "" {
		return errors.New("unauthorized")
	}

	var user models.User
	exists, err := config.GetRedisObject("User:"+username, &user)
	if err != nil {
		return err
	}
	if !exists {
		db := config.GetDB()
		if db == nil {
			return errors.New("db is nil")
		}
		// Username lookup is cross-tenant; the session has no business yet.
		lookupCtx := utils.SetSkipTenantScopeInContext(ctx)
		if err := db.WithContext(lookupCtx).Model(&models.User{}).Where("username = ?", username).Take(&user).Error; err != nil {
			return errors.New("unauthorized")
		}
	}

	if user.Role == models.UserRoleAdmin {
		return nil
	}
	if user.BusinessId != businessId {
		return errors.New("unauthorized")
	}
	return nil
}

// businessGuard wraps a handler that reads business_id from the JSON body,
// rejecting requests for businesses the session user may not touch. The body
// is re-attached so the inner handler can bind it again.
func businessGuard(inner gin.HandlerFunc) gin.HandlerFunc {
	return func(c *gin.Context) {
		body, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, 1<<20))
		if err != nil {
			c.AbortWithStatusJSON(http.StatusRequestEntityTooLarge, gin.H{"error": "payload too large"})
			return
		}
		var probe struct {
			BusinessId string `json:"business_id"`
		}
		if err := json.Unmarshal(body, &probe); err != nil {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
			return
		}
		if err := authorizeBusiness(c.Request.Context(), probe.BusinessId); err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		c.Request.Body = io.NopCloser(strings.NewReader(string(body)))
		inner(c)
	}
}

type syncTriggerRequest struct {
	BusinessId string `json:"business_id"`
	Action     string `json:"action"`
}

var syncActions = map[string]bool{
	"pull_orders":    true,
	"pull_inventory": true,
	"push_inventory": true,
}

// syncTriggerHandler queues a SyncRun for the provider and hands it to
// Pub/Sub. Without a configured Pub/Sub project the run executes inline and
// the response carries the final counters.
func syncTriggerHandler(provider string) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req syncTriggerRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
			return
		}
		if req.BusinessId == "" || !syncActions[req.Action] {
			c.JSON(http.StatusBadRequest, gin.H{"error": "business_id and a valid action are required"})
			return
		}

		ctx := utils.SetBusinessIdInContext(c.Request.Context(), req.BusinessId)
		run, err := reconcile.QueueSyncRun(ctx, req.BusinessId, provider, req.Action, models.SyncTriggeredManual)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}

		if config.PubSubConfigured() {
			cid, _ := utils.GetCorrelationIdFromContext(ctx)
			_, err := config.PublishJSON(ctx, syncRunTopic, syncRunMessage{
				RunId:         run.ID,
				BusinessId:    run.BusinessId,
				Provider:      run.Provider,
				CorrelationId: cid,
			})
			if err != nil {
				config.LogError(config.GetLogger(), "server.go", "syncTriggerHandler", "publish", run.ID, err)
				c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to enqueue sync run"})
				return
			}
			c.JSON(http.StatusAccepted, gin.H{"id": run.ID, "status": run.Status})
			return
		}

		executeSyncRun(ctx, run.ID)
		finished, err := loadSyncRun(ctx, run.ID)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"id":             finished.ID,
			"status":         finished.Status,
			"records_synced": finished.RecordsSynced,
			"error_count":    finished.ErrorCount,
		})
	}
}

func loadSyncRun(ctx context.Context, runId int) (*models.SyncRun, error) {
	var run models.SyncRun
	if err := config.GetDB().WithContext(ctx).Take(&run, "id = ?", runId).Error; err != nil {
		return nil, err
	}
	return &run, nil
}

// executeSyncRun drives one queued run to completion. A run that is no
// longer queued (redelivery, concurrent pickup) is left alone.
func executeSyncRun(ctx context.Context, runId int) {
	logger := config.GetLogger()

	ctx, span := tracer.Start(ctx, "sync.run")
	defer span.End()

	started, err := reconcile.StartSyncRun(ctx, runId)
	if err != nil {
		config.LogError(logger, "server.go", "executeSyncRun", "start", runId, err)
		return
	}
	if !started {
		return
	}

	run, err := loadSyncRun(ctx, runId)
	if err != nil {
		config.LogError(logger, "server.go", "executeSyncRun", "load", runId, err)
		return
	}

	var synced, failed int
	var runErr error
	switch run.Provider {
	case models.IntegrationProviderShopify:
		synced, failed, runErr = shopifysync.ExecuteSyncRun(ctx, run)
	case models.IntegrationProviderWooCommerce:
		synced, failed, runErr = woosync.ExecuteSyncRun(ctx, run)
	default:
		runErr = fmt.Errorf("no sync executor for provider %q", run.Provider)
	}

	if err := reconcile.FinishSyncRun(ctx, runId, synced, failed, runErr); err != nil {
		config.LogError(logger, "server.go", "executeSyncRun", "finish", runId, err)
	}
}

// syncRunPubSubHandler is the push endpoint for the sync-run topic.
// Malformed messages are acked to avoid retry loops; execution failures are
// recorded on the SyncRun row, so the message is acked regardless.
func syncRunPubSubHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		logger := config.GetLogger()

		body, err := io.ReadAll(c.Request.Body)
		if err != nil {
			config.LogError(logger, "server.go", "syncRunPubSubHandler", "io.ReadAll", nil, err)
			c.Status(http.StatusNoContent)
			return
		}

		var envelope PubSubMessage
		if err := json.Unmarshal(body, &envelope); err != nil {
			config.LogError(logger, "server.go", "syncRunPubSubHandler", "unmarshal envelope", body, err)
			c.Status(http.StatusNoContent)
			return
		}

		var msg syncRunMessage
		if err := json.Unmarshal(envelope.Message.Data, &msg); err != nil {
			config.LogError(logger, "server.go", "syncRunPubSubHandler", "unmarshal payload", envelope.Message.Data, err)
			c.Status(http.StatusNoContent)
			return
		}
		if msg.RunId == 0 || msg.BusinessId == "" {
			config.LogError(logger, "server.go", "syncRunPubSubHandler", "missing required fields", msg, errors.New("run_id/business_id required"))
			c.Status(http.StatusNoContent)
			return
		}

		correlationId := msg.CorrelationId
		if correlationId == "" {
			correlationId = envelope.Message.ID
		}
		ctx := utils.SetBusinessIdInContext(c.Request.Context(), msg.BusinessId)
		ctx = utils.SetCorrelationIdInContext(ctx, correlationId)

		executeSyncRun(ctx, msg.RunId)
		c.Status(http.StatusNoContent)
	}
}

func syncRunsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		businessId := c.Query("business_id")
		if err := authorizeBusiness(c.Request.Context(), businessId); err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))

		ctx := utils.SetBusinessIdInContext(c.Request.Context(), businessId)
		runs, err := reconcile.ListSyncRuns(ctx, businessId, limit)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"runs": runs})
	}
}

type pushInventoryRequest struct {
	BusinessId string `json:"business_id"`
	ProductId  int    `json:"product_id"`
}

func pushInventoryHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req pushInventoryRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
			return
		}
		if req.BusinessId == "" || req.ProductId <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "business_id and product_id are required"})
			return
		}

		ctx := utils.SetBusinessIdInContext(c.Request.Context(), req.BusinessId)
		if err := shopifysync.PushProductInventory(ctx, req.BusinessId, req.ProductId); err != nil {
			if errors.Is(err, models.ErrIntegrationNotConfigured) {
				c.JSON(http.StatusConflict, gin.H{"error": "shopify integration not configured"})
				return
			}
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"pushed": true, "product_id": req.ProductId})
	}
}

type createIntegrationRequest struct {
	BusinessId string `json:"business_id"`
	Provider   string `json:"provider"`
	ApiKey     string `json:"api_key"`
	SecretKey  string `json:"secret_key"`
	ShopUrl    string `json:"shop_url"`
}

// createIntegrationHandler upserts provider credentials for a business.
// Existing active rows for the same provider are deactivated first so the
// single-active-row invariant holds.
func createIntegrationHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req createIntegrationRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
			return
		}
		if req.BusinessId == "" || req.Provider == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "business_id and provider are required"})
			return
		}

		ctx := utils.SetBusinessIdInContext(c.Request.Context(), req.BusinessId)
		db := config.GetDB()

		integration := models.Integration{
			BusinessId: req.BusinessId,
			Provider:   req.Provider,
			ApiKey:     req.ApiKey,
			SecretKey:  req.SecretKey,
			ShopUrl:    req.ShopUrl,
			IsActive:   utils.NewTrue(),
		}
		err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			if err := tx.Model(&models.Integration{}).
				Where("business_id = ? AND provider = ? AND is_active = ?", req.BusinessId, req.Provider, true).
				Update("is_active", utils.NewFalse()).Error; err != nil {
				return err
			}
			return tx.Create(&integration).Error
		})
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		models.InvalidateIntegrationCache(req.BusinessId, req.Provider)

		c.JSON(http.StatusOK, gin.H{"id": integration.ID, "provider": integration.Provider})
	}
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
	// Until DB/Redis are ready, app endpoints return 503.
	r := gin.New()
	r.Use(func(c *gin.Context) {
		cid := c.GetHeader("x-correlation-id")
		if cid == "" {
			cid = uuid.NewString()
		}
		c.Request = c.Request.WithContext(utils.SetCorrelationIdInContext(c.Request.Context(), cid))
		c.Next()
	})
	r.Use(func(c *gin.Context) {
		// Always allow the startup probe.
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
	})

	r.GET("/healthz", func(c *gin.Context) { c.Status(http.StatusNoContent) })

	corsConfig := cors.DefaultConfig()
	// In production require an explicit allowlist; allow all in development.
	allowedOrigins := strings.TrimSpace(os.Getenv("CORS_ALLOWED_ORIGINS"))
	if strings.EqualFold(strings.TrimSpace(os.Getenv("GO_ENV")), "production") {
		if allowedOrigins == "" {
			corsConfig.AllowOrigins = []string{}
		} else {
			corsConfig.AllowOrigins = splitAndTrim(allowedOrigins)
		}
	} else {
		corsConfig.AllowAllOrigins = true
	}
	corsConfig.AddAllowMethods("GET", "POST", "PUT", "DELETE", "OPTIONS")
	corsConfig.AddAllowHeaders("token", "Origin", "Content-Type", "Authorization")
	corsConfig.AddExposeHeaders("Content-Length")
	corsConfig.AllowCredentials = true
	r.Use(cors.New(corsConfig))

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
		r.Use(NewRateLimiter(client, limit, time.Duration(windowSec)*time.Second).RateLimitMiddleware)
	}

	r.Use(middlewares.AuthMiddleware())
	r.Use(middlewares.SessionMiddleware())
	r.Use(customErrorLogger(logger))
	r.Use(gin.Recovery())

	// Provider callbacks and the Pub/Sub push endpoint are unauthenticated;
	// they verify signatures / Pub/Sub identity instead.
	r.POST("/webhooks/stripe", stripesync.WebhookHandler)
	r.POST("/webhooks/mpesa", mpesasync.CallbackHandler)
	r.POST("/webhooks/shopify", shopifysync.WebhookHandler)
	r.POST("/webhooks/woo", woosync.WebhookHandler)
	r.POST("/pubsub/sync-run", syncRunPubSubHandler())

	authed := r.Group("/", requireSession())
	authed.POST("/checkout/stripe", businessGuard(stripesync.CheckoutHandler))
	authed.POST("/checkout/mpesa", businessGuard(mpesasync.CheckoutHandler))
	authed.POST("/sync/shopify", businessGuard(syncTriggerHandler(models.IntegrationProviderShopify)))
	authed.POST("/sync/woo", businessGuard(syncTriggerHandler(models.IntegrationProviderWooCommerce)))
	authed.POST("/sync/push-inventory", businessGuard(pushInventoryHandler()))
	authed.GET("/sync/runs", syncRunsHandler())
	authed.POST("/invoices/send", businessGuard(mailer.SendInvoiceHandler))
	authed.POST("/integrations", businessGuard(createIntegrationHandler()))

	r.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
	})

	// Start listening immediately (Cloud Run startup probe is TCP based).
	srv := &http.Server{
		Addr:    ":" + port,
		Handler: r,
	}
	serverErrCh := make(chan error, 1)
	go func() {
		serverErrCh <- srv.ListenAndServe()
	}()

	// Connect dependencies after the port is open.
	config.ConnectDatabaseWithRetry()
	config.ConnectRedisWithRetry()

	// Make sure the sync-run topic exists before the first publish.
	if config.PubSubConfigured() {
		if client, err := config.GetClient(sigCtx); err == nil {
			if _, err := config.CreateTopicIfNotExists(client, syncRunTopic); err != nil {
				logger.WithFields(logrus.Fields{"field": "pubsub"}).Warn("failed to ensure sync-run topic: " + err.Error())
			}
		}
	}

	db := config.GetDB()
	sqlDB, _ := db.DB()
	defer func() {
		if sqlDB != nil {
			_ = sqlDB.Close()
		}
	}()
	// AutoMigrate can run DDL that blocks tables; allow running migrations
	// as a separate job instead.
	if !strings.EqualFold(strings.TrimSpace(os.Getenv("SKIP_MIGRATIONS")), "true") {
		models.MigrateTable()
	} else {
		logger.WithFields(logrus.Fields{"field": "migrations"}).Warn("SKIP_MIGRATIONS=true; skipping AutoMigrate on startup")
	}

	// Set the session isolation level to READ COMMITTED
	for attempt := 1; ; attempt++ {
		err := db.Exec("SET SESSION TRANSACTION ISOLATION LEVEL READ COMMITTED").Error
		if err == nil {
			break
		}
		sleep := time.Second * time.Duration(1<<minInt(attempt, 5))
		if sleep > 30*time.Second {
			sleep = 30 * time.Second
		}
		logger.WithFields(logrus.Fields{
			"field":   "database",
			"attempt": attempt,
		}).Warn("failed to set isolation level; retrying in " + sleep.String() + ": " + err.Error())
		time.Sleep(sleep)
	}

	logger.WithFields(logrus.Fields{
		"info": "Connection Established",
	}).Info("listening on http://localhost:", port, "/")
	log.Println("Server started successfully")

	// Block until shutdown or server error.
	select {
	case <-sigCtx.Done():
		// graceful shutdown below
	case err := <-serverErrCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithFields(logrus.Fields{"field": "http"}).Error("server stopped unexpectedly: " + err.Error())
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.WithFields(logrus.Fields{"field": "http"}).Error("graceful shutdown failed: " + err.Error())
	}

	if rdb := config.GetRedisDB(); rdb != nil {
		_ = rdb.Close()
	}
}

// customErrorLogger logs only requests that accumulated gin errors.
func customErrorLogger(logger *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if len(c.Errors) > 0 {
			entry := logger.WithField("path", c.Request.URL.Path)
			if userId, ok := utils.GetUserIdFromContext(c.Request.Context()); ok {
				entry = entry.WithField("user_id", userId)
			}
			entry.Error(c.Errors.String())
		}
	}
}

func NewRateLimiter(client *redis.Client, limit int64, window time.Duration) *RateLimiter {
	return &RateLimiter{
		client: client,
		limit:  limit,
		window: window,
	}
}

// RateLimitMiddleware applies a fixed-window per-IP limit backed by Redis.
func (rl *RateLimiter) RateLimitMiddleware(c *gin.Context) {
	key := "rl:" + c.ClientIP()

	exists, err := rl.client.Exists(c.Request.Context(), key).Result()
	if err != nil {
		c.AbortWithError(http.StatusInternalServerError, err)
		return
	}
	if exists == 0 {
		if err := rl.client.Set(c.Request.Context(), key, 1, rl.window).Err(); err != nil {
			c.AbortWithError(http.StatusInternalServerError, err)
			return
		}
		c.Next()
		return
	}

	count, err := rl.client.Incr(c.Request.Context(), key).Result()
	if err != nil {
		c.AbortWithError(http.StatusInternalServerError, err)
		return
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

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}
