// Command master runs the Dedalus master process: the HTTP API (spec.md
// §6), the graph/instance execution engine, cron-scheduled launches, and
// worker liveness tracking. Grounded in the teacher's cmd/server/main.go
// for startup/wiring idiom (env-configured Postgres + Redis, gin with
// recovery/error/logging middleware, migrations run at boot).
package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/luckygeck/dedalus/internal/graphexec"
	"github.com/luckygeck/dedalus/internal/heartbeat"
	"github.com/luckygeck/dedalus/internal/scheduler"
	"github.com/luckygeck/dedalus/internal/state"
	"github.com/luckygeck/dedalus/internal/storage"
	"github.com/luckygeck/dedalus/internal/taskmentor"
	"github.com/luckygeck/dedalus/internal/workerclient"
	"github.com/luckygeck/dedalus/pkg/api/dto"
	"github.com/luckygeck/dedalus/pkg/api/masterhandlers"
	"github.com/luckygeck/dedalus/pkg/api/middleware"
)

const version = "1.0.0"

func main() {
	log.Printf("Starting Dedalus master v%s", version)

	env := getEnv("ENV", "development")
	port := getEnv("PORT", "8080")

	dbCfg := &storage.Config{
		Host:        getEnv("DB_HOST", "localhost"),
		Port:        getEnv("DB_PORT", "5432"),
		User:        getEnv("DB_USER", "dedalus"),
		Password:    getEnv("DB_PASSWORD", "dedalus_dev_password"),
		DBName:      getEnv("DB_NAME", "dedalus"),
		SSLMode:     getEnv("DB_SSLMODE", "disable"),
		MaxConns:    25,
		MinConns:    5,
		MaxIdleTime: 5 * time.Minute,
		MaxLifetime: 30 * time.Minute,
	}

	db, err := storage.NewDB(dbCfg)
	if err != nil {
		log.Fatalf("connect to database: %v", err)
	}

	migrateCfg := &storage.MigrateConfig{
		Host:     dbCfg.Host,
		Port:     dbCfg.Port,
		User:     dbCfg.User,
		Password: dbCfg.Password,
		DBName:   dbCfg.DBName,
		SSLMode:  dbCfg.SSLMode,
	}
	if err := storage.RunMigrations(migrateCfg, "./migrations"); err != nil {
		log.Printf("warning: migrations: %v", err)
	}

	docStore := storage.NewPostgresDocumentStore(db.DB)

	redisClient := redis.NewClient(&redis.Options{
		Addr: fmt.Sprintf("%s:%s", getEnv("REDIS_HOST", "localhost"), getEnv("REDIS_PORT", "6379")),
	})
	defer redisClient.Close()

	pingCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	if err := redisClient.Ping(pingCtx).Err(); err != nil {
		log.Printf("warning: redis ping: %v", err)
	}
	cancel()
	publisher := state.NewMultiPublisher(
		state.NewRedisPublisher(redisClient),
		state.NewHistoryPublisher(db.DB),
	)

	workerTimeout := 30 * time.Second
	clientFor := func(host string) taskmentor.WorkerClient {
		return workerclient.New(fmt.Sprintf("http://%s", host), workerTimeout)
	}

	engine := graphexec.NewEngine(
		docStore.Collection("graphs/"),
		docStore.Collection("instances/"),
		clientFor,
		1*time.Second,
	)

	recoverCtx, recoverCancel := context.WithTimeout(context.Background(), 30*time.Second)
	if err := engine.RecoverRunningInstances(recoverCtx); err != nil {
		log.Printf("warning: recover running instances: %v", err)
	}
	recoverCancel()

	cronSched := scheduler.NewCronScheduler(time.UTC, docStore.Collection("schedules/"), func(ctx context.Context, graphName string) error {
		structure, err := engine.LatestGraphStruct(ctx, graphName)
		if err != nil {
			return fmt.Errorf("load latest revision of %s: %w", graphName, err)
		}
		instanceID, err := engine.AddGraphInstance(ctx, *structure)
		if err != nil {
			return fmt.Errorf("create instance of %s: %w", graphName, err)
		}
		_, err = engine.SetGraphInstanceState(ctx, instanceID, state.GraphRunning)
		return err
	})
	if err := cronSched.LoadFromStore(context.Background()); err != nil {
		log.Printf("warning: load schedules: %v", err)
	}
	cronSched.Start()
	defer cronSched.Stop()

	tracker := heartbeat.NewTracker()
	if natsURL := os.Getenv("NATS_URL"); natsURL != "" {
		nc, err := nats.Connect(natsURL)
		if err != nil {
			log.Printf("warning: connect to NATS: %v", err)
		} else {
			defer nc.Close()
			trackerCtx, trackerCancel := context.WithCancel(context.Background())
			defer trackerCancel()
			go func() {
				if err := tracker.Subscribe(trackerCtx, nc); err != nil && trackerCtx.Err() == nil {
					log.Printf("heartbeat subscriber stopped: %v", err)
				}
			}()
		}
	}

	if env == "production" {
		gin.SetMode(gin.ReleaseMode)
	} else {
		gin.SetMode(gin.DebugMode)
	}

	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})
	if env == "development" {
		logger.SetLevel(logrus.DebugLevel)
	} else {
		logger.SetLevel(logrus.InfoLevel)
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.ErrorHandler())
	router.Use(middleware.Logger(logger))

	router.GET("/health", func(c *gin.Context) {
		status := "healthy"
		services := gin.H{"database": "healthy", "redis": "healthy"}
		if err := db.Health(c.Request.Context()); err != nil {
			status = "degraded"
			services["database"] = "unhealthy"
		}
		if err := redisClient.Ping(c.Request.Context()).Err(); err != nil {
			status = "degraded"
			services["redis"] = "unhealthy"
		}
		c.JSON(http.StatusOK, dto.OK(gin.H{"status": status, "services": services, "stale_workers": tracker.Stale(3 * heartbeatIntervalHint)}))
	})

	masterhandlers.New(engine, publisher).Register(router)

	srv := &http.Server{Addr: ":" + port, Handler: router}
	go func() {
		log.Printf("master listening on :%s in %s mode", port, env)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("serve: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	log.Printf("shutting down")
	engine.Shutdown()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("http shutdown: %v", err)
	}
}

// heartbeatIntervalHint mirrors internal/heartbeat's publish interval for
// the /health staleness window; kept here rather than exported since it's
// only ever used as a multiplier for operator-facing staleness reporting.
const heartbeatIntervalHint = 10 * time.Second

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
