// Command worker runs a Dedalus worker process: the task API (spec.md §6)
// backed by internal/workerengine.Engine, plus a NATS liveness heartbeat.
// Grounded in the teacher's cmd/worker/main.go for the gin + logrus startup
// idiom; the queue-consumer half of the teacher's worker is not carried
// forward since Dedalus tasks are pushed by the master's TaskMentor rather
// than pulled from a broker (see DESIGN.md).
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
	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/sirupsen/logrus"

	"github.com/luckygeck/dedalus/internal/dlq"
	"github.com/luckygeck/dedalus/internal/heartbeat"
	"github.com/luckygeck/dedalus/internal/storage"
	"github.com/luckygeck/dedalus/internal/workerengine"
	"github.com/luckygeck/dedalus/pkg/api/middleware"
	"github.com/luckygeck/dedalus/pkg/api/workerhandlers"
)

const version = "1.0.0"

func main() {
	log.Printf("Starting Dedalus worker v%s", version)

	env := getEnv("ENV", "development")
	port := getEnv("PORT", "8081")
	hostname, _ := os.Hostname()
	workerID := getEnv("WORKER_ID", uuid.NewString())
	executionDataRoot := getEnv("EXECUTION_DATA_ROOT", "./data/tasks")

	store := storage.NewMemoryStore()
	if dbHost := os.Getenv("DB_HOST"); dbHost != "" {
		dbCfg := &storage.Config{
			Host:     dbHost,
			Port:     getEnv("DB_PORT", "5432"),
			User:     getEnv("DB_USER", "dedalus"),
			Password: getEnv("DB_PASSWORD", "dedalus_dev_password"),
			DBName:   getEnv("DB_NAME", "dedalus"),
			SSLMode:  getEnv("DB_SSLMODE", "disable"),
		}
		db, err := storage.NewDB(dbCfg)
		if err != nil {
			log.Fatalf("connect to database: %v", err)
		}
		store = storage.NewPostgresDocumentStore(db.DB).Collection("tasks/")
	}

	dlqMgr := dlq.NewManager(dlq.NewMemoryQueue(), 3)
	engine := workerengine.NewEngine(store, executionDataRoot, dlqMgr)

	if natsURL := os.Getenv("NATS_URL"); natsURL != "" {
		nc, err := nats.Connect(natsURL)
		if err != nil {
			log.Printf("warning: connect to NATS: %v", err)
		} else {
			defer nc.Close()
			pub := heartbeat.NewPublisher(nc, workerID, hostname, engine)
			hbCtx, hbCancel := context.WithCancel(context.Background())
			defer hbCancel()
			go pub.Run(hbCtx)
		}
	}

	if env == "production" {
		gin.SetMode(gin.ReleaseMode)
	} else {
		gin.SetMode(gin.DebugMode)
	}
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.ErrorHandler())
	router.Use(middleware.Logger(logger))
	router.GET("/ping", func(c *gin.Context) { c.String(http.StatusOK, "pong") })

	workerhandlers.New(engine).Register(router)

	srv := &http.Server{Addr: ":" + port, Handler: router}
	go func() {
		log.Printf("worker %s listening on :%s (%s)", workerID, port, fmt.Sprintf("host=%s", hostname))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("serve: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	log.Printf("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("http shutdown: %v", err)
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
