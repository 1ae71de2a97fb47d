package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/mmdatafocus/books_imports/config"
	"github.com/mmdatafocus/books_imports/imports/largefile"
	"github.com/mmdatafocus/books_imports/imports/monitoring"
	"github.com/mmdatafocus/books_imports/imports/pipeline"
	"github.com/mmdatafocus/books_imports/imports/posting"
	"github.com/mmdatafocus/books_imports/imports/tenancy"
	"github.com/mmdatafocus/books_imports/models"
	"github.com/mmdatafocus/books_imports/utils"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

const defaultPort = "8080"

func main() {
	port := os.Getenv("IMPORTS_WORKER_PORT")
	if port == "" {
		port = os.Getenv("PORT")
	}
	if port == "" {
		port = defaultPort
	}

	logger := config.GetLogger()
	settings := config.LoadImportSettings()

	sigCtx, stopSignals := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stopSignals()

	collector := monitoring.NewCollector(prometheus.DefaultRegisterer)

	// The runner is created once the database is up; until then the push
	// endpoint answers 503 and Pub/Sub retries.
	var (
		runnerMu sync.RWMutex
		runner   *pipeline.Runner
	)
	currentRunner := func() *pipeline.Runner {
		runnerMu.RLock()
		defer runnerMu.RUnlock()
		return runner
	}

	r := gin.New()
	r.Use(func(c *gin.Context) {
		cid := c.GetHeader("x-correlation-id")
		if cid == "" {
			cid = uuid.NewString()
		}
		c.Request = c.Request.WithContext(utils.SetCorrelationIdInContext(c.Request.Context(), cid))
		c.Next()
	})
	r.Use(cors.New(corsConfig()))
	r.Use(requestLogger(logger))
	r.Use(gin.Recovery())

	r.GET("/healthz", func(c *gin.Context) { c.Status(http.StatusNoContent) })
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	r.GET("/stats", func(c *gin.Context) { c.JSON(http.StatusOK, collector.Snapshot()) })

	// Pub/Sub push endpoint for item tasks.
	r.POST("/pubsub/import-items", func(c *gin.Context) {
		rn := currentRunner()
		if rn == nil {
			c.Status(http.StatusServiceUnavailable)
			return
		}
		pipeline.PushHandler(rn, logger)(c)
	})

	r.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"error": "route not found"})
	})

	srv := &http.Server{
		Addr:    ":" + port,
		Handler: r,
	}
	serverErrCh := make(chan error, 1)
	go func() {
		serverErrCh <- srv.ListenAndServe()
	}()

	db := config.ConnectDatabaseWithRetry()
	sqlDB, _ := db.DB()
	defer func() {
		if sqlDB != nil {
			_ = sqlDB.Close()
		}
	}()

	if !strings.EqualFold(strings.TrimSpace(os.Getenv("SKIP_MIGRATIONS")), "true") {
		migrateCtx := tenancy.Privileged(sigCtx, "schema migration")
		if err := models.MigrateTable(db.WithContext(migrateCtx)); err != nil {
			config.LogError(logger, "imports-worker", "main", "MigrateTable", nil, err)
		}
	} else {
		logger.WithFields(logrus.Fields{"field": "migrations"}).Warn("SKIP_MIGRATIONS=true; skipping AutoMigrate on startup")
	}

	var (
		locker   pipeline.ItemLocker    = pipeline.NewMutexLocker()
		sessions largefile.SessionStore = largefile.NewMemorySessionStore()
		chunks   largefile.ChunkStore   = largefile.NewMemoryChunkStore()
	)
	if config.RedisConfigured() {
		rdb, lockClient := config.ConnectRedisWithRetry(sigCtx)
		locker = pipeline.NewRedisLocker(lockClient, settings.ItemLockTTL)
		sessions = largefile.NewRedisSessionStore(rdb)
		defer rdb.Close()
	} else {
		logger.WithFields(logrus.Fields{"field": "redis"}).Warn("REDIS_ADDRESS not set; using in-process item locks and upload sessions")
	}
	if bucket := config.GCSBucket(); bucket != "" {
		gcs, err := config.NewGCSClient(sigCtx)
		if err != nil {
			config.LogError(logger, "imports-worker", "main", "NewGCSClient", bucket, err)
		} else {
			chunks = largefile.NewGCSChunkStore(gcs, bucket, "import-chunks")
			defer gcs.Close()
		}
	}

	rn := pipeline.NewRunner(db, logger, settings, pipeline.Deps{
		Locker:    locker,
		Collector: collector,
	})
	runnerMu.Lock()
	runner = rn
	runnerMu.Unlock()

	var wg sync.WaitGroup
	workCtx, stopWork := context.WithCancel(sigCtx)
	defer stopWork()

	janitor := largefile.NewJanitor(largefile.NewManager(sessions, chunks, logger, settings))
	if err := janitor.Start(settings.JanitorSchedule); err != nil {
		config.LogError(logger, "imports-worker", "main", "janitor.Start", settings.JanitorSchedule, err)
	} else {
		defer janitor.Stop()
	}

	if settings.ExecutionMode == config.ExecutionModePubSub {
		if err := startPubSub(workCtx, &wg, logger, settings, db, rn); err != nil {
			config.LogError(logger, "imports-worker", "main", "startPubSub", nil, err)
		}
	} else {
		logger.WithFields(logrus.Fields{"field": "pipeline", "mode": settings.ExecutionMode}).
			Info("inline execution; pull worker and outbox dispatcher disabled")
	}

	select {
	case <-sigCtx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	case err := <-serverErrCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithFields(logrus.Fields{"field": "server"}).Error(err)
		}
	}
	stopWork()
	wg.Wait()
}

// startPubSub starts the pull worker for item tasks and the outbox
// dispatcher publishing posted documents.
func startPubSub(ctx context.Context, wg *sync.WaitGroup, logger *logrus.Logger, s config.ImportSettings, db *gorm.DB, rn *pipeline.Runner) error {
	client, err := config.GetClient(ctx)
	if err != nil {
		return err
	}
	itemTopic, err := config.CreateTopicIfNotExists(ctx, client, s.ItemTopic)
	if err != nil {
		return err
	}
	sub, err := config.CreateSubscriptionIfNotExists(ctx, client, s.ItemSubscription, itemTopic)
	if err != nil {
		return err
	}
	outboxTopic, err := config.CreateTopicIfNotExists(ctx, client, s.OutboxTopic)
	if err != nil {
		return err
	}

	worker := &pipeline.Worker{Subscription: sub, Runner: rn, Logger: logger, Concurrency: s.WorkerConcurrency}
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := worker.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			config.LogError(logger, "imports-worker", "Worker.Run", s.ItemSubscription, nil, err)
		}
	}()

	dispatcher := posting.NewOutboxDispatcher(db, logger, posting.NewPubSubPublisher(outboxTopic), s)
	wg.Add(1)
	go func() {
		defer wg.Done()
		dispatcher.Run(ctx)
		outboxTopic.Stop()
	}()

	logger.WithFields(logrus.Fields{
		"field":        "pipeline",
		"subscription": s.ItemSubscription,
		"outbox_topic": s.OutboxTopic,
	}).Info("pull worker and outbox dispatcher started")
	return nil
}

func corsConfig() cors.Config {
	cfg := cors.DefaultConfig()
	allowedOrigins := strings.TrimSpace(os.Getenv("CORS_ALLOWED_ORIGINS"))
	if strings.EqualFold(strings.TrimSpace(os.Getenv("GO_ENV")), "production") {
		cfg.AllowOrigins = splitAndTrim(allowedOrigins)
		if len(cfg.AllowOrigins) == 0 {
			cfg.AllowOrigins = []string{}
		}
	} else {
		cfg.AllowAllOrigins = true
	}
	cfg.AddAllowMethods("GET", "POST", "OPTIONS")
	cfg.AddAllowHeaders("Origin", "Content-Type", "Authorization")
	cfg.AddExposeHeaders("Content-Length")
	return cfg
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

func requestLogger(logger *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		cid, _ := utils.GetCorrelationIdFromContext(c.Request.Context())
		logger.WithFields(logrus.Fields{
			"status":         c.Writer.Status(),
			"method":         c.Request.Method,
			"path":           c.Request.URL.Path,
			"latency":        time.Since(start).String(),
			"correlation_id": cid,
		}).Info("request")
	}
}
