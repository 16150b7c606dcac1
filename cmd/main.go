package main

import (
	"bytes"
	"encoding/json"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/hibiken/asynq"
	"github.com/joho/godotenv"

	"xscraper/internal/config"
	"xscraper/internal/core/paginate"
	"xscraper/internal/core/scrape"
	"xscraper/internal/core/session"
	"xscraper/internal/core/task"
	"xscraper/internal/logger"
	rds "xscraper/internal/platform/redis"
	tasks "xscraper/internal/platform/tasks"
	"xscraper/internal/platform/xapi"
	"xscraper/internal/server"
	"xscraper/internal/worker"
)

func main() {
	_ = godotenv.Load()
	cfg := config.Load()
	log.Printf("[xscraper] starting at %s (env=%s)\n", cfg.HTTPAddr, cfg.AppEnv)

	logr := logger.New("main")

	// Redis backs sessions, task state and the job queue.
	redisSvc, err := rds.New(rds.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
	})
	if err != nil {
		log.Fatal(err)
	}
	defer redisSvc.Close()

	// Asynq client and server
	taskClient := tasks.New(redisSvc)
	asynqServer := asynq.NewServer(redisSvc.AsynqRedisOpt(), asynq.Config{
		Concurrency: cfg.WorkerConcurrency,
		Queues:      map[string]int{"default": 1},
	})

	// Core services
	gateway := xapi.NewClient()
	sessionCache := session.NewCache(redisSvc, gateway, cfg.SessionTTL)
	collector := paginate.NewCollector(gateway, sessionCache, paginate.Config{
		PageSize:   cfg.PageSize,
		MaxPages:   cfg.MaxPages,
		MaxRetries: cfg.MaxRetries,
		Backoff: paginate.ExponentialBackoff{
			BaseDelay:    cfg.BackoffBase,
			MaxDelay:     cfg.BackoffMax,
			Multiplier:   cfg.BackoffMultiplier,
			JitterFactor: 0.1,
		},
	})
	taskStore := task.NewStore(redisSvc)
	scrapeSvc := scrape.NewService(taskStore, collector, taskClient)

	// Worker mux
	mux := worker.NewMux()
	mux.HandleFunc(tasks.TaskTypeScrape, scrapeSvc.HandleScrapeTask)

	go func() {
		if err := asynqServer.Start(mux.Mux()); err != nil {
			log.Printf("[worker] stopped: %v\n", err)
		}
	}()

	// HTTP server
	app := fiber.New(fiber.Config{
		AppName: "XScraper Engine",
		JSONEncoder: func(v interface{}) ([]byte, error) {
			var buf bytes.Buffer
			encoder := json.NewEncoder(&buf)
			encoder.SetEscapeHTML(false)
			if err := encoder.Encode(v); err != nil {
				return nil, err
			}
			return buf.Bytes(), nil
		},
	})

	deps := server.Dependencies{
		Scrape: scrapeSvc,
		Tasks:  taskClient,
		Redis:  redisSvc,
	}
	healthHandler := server.RegisterRoutes(app, deps)
	healthHandler.SetReady()

	// Graceful shutdown
	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-shutdown
		logr.LogInfo("Shutting down...")
		asynqServer.Shutdown()
		_ = app.ShutdownWithTimeout(5 * time.Second)
	}()

	if err := app.Listen(cfg.HTTPAddr); err != nil {
		log.Fatalf("server listen: %v", err)
	}
}
