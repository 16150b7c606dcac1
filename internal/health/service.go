package health

import (
	"context"
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/limiter"

	"xscraper/internal/logger"
	"xscraper/internal/platform/redis"
)

// HealthHandler reports liveness plus the state of the redis dependency,
// which backs sessions, task state and the job queue alike.
type HealthHandler struct {
	log          *logger.Logger
	redisService *redis.Service
	startTime    time.Time
	isReady      bool
}

func NewHealthHandler(redisSvc *redis.Service) *HealthHandler {
	return &HealthHandler{
		log:          logger.New("HealthCheck"),
		redisService: redisSvc,
		startTime:    time.Now(),
	}
}

// SetReady marks the application as ready to receive traffic.
func (h *HealthHandler) SetReady() {
	h.isReady = true
	h.log.LogInfof("application ready after %v", time.Since(h.startTime))
}

type ComponentStatus struct {
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

type OverallHealth struct {
	OverallStatus string                     `json:"overall_status"`
	Timestamp     string                     `json:"timestamp"`
	Ready         bool                       `json:"ready"`
	UptimeSeconds int64                      `json:"uptime_seconds"`
	Components    map[string]ComponentStatus `json:"components"`
}

func (h *HealthHandler) HandleHealth(c *fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(c.Context(), 8*time.Second)
	defer cancel()

	statuses := make(map[string]ComponentStatus)
	allOk := true

	if err := h.redisService.HealthCheck(ctx); err != nil {
		allOk = false
		statuses["redis"] = ComponentStatus{Status: "error", Error: err.Error()}
		h.log.LogErrorf("redis health check failed: %v", err)
	} else {
		statuses["redis"] = ComponentStatus{Status: "ok"}
	}

	response := OverallHealth{
		Timestamp:     time.Now().UTC().Format(time.RFC3339Nano),
		Ready:         h.isReady,
		UptimeSeconds: int64(time.Since(h.startTime).Seconds()),
		Components:    statuses,
	}

	if allOk && h.isReady {
		response.OverallStatus = "ok"
		return c.Status(http.StatusOK).JSON(response)
	}
	if !h.isReady {
		response.OverallStatus = "starting"
		return c.Status(http.StatusServiceUnavailable).JSON(response)
	}
	response.OverallStatus = "error"
	h.log.LogWarnf("health check failed: %+v", statuses)
	return c.Status(http.StatusServiceUnavailable).JSON(response)
}

func HealthLimiter() fiber.Handler {
	return limiter.New(limiter.Config{
		Max:        300,
		Expiration: 1 * time.Minute,
		KeyGenerator: func(c *fiber.Ctx) string {
			return c.IP()
		},
		LimitReached: func(c *fiber.Ctx) error {
			return c.Status(429).JSON(fiber.Map{"error": "Rate limit exceeded"})
		},
	})
}
