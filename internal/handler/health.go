package handler

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
)

// Readiness reports which counting channels accept messages.
type Readiness interface {
	ReadyChannels() []string
}

type HealthHandler struct {
	pool       *pgxpool.Pool
	rdb        *redis.Client
	counting   Readiness
	configured int
	startAt    time.Time
}

// NewHealthHandler creates the health handler. pool and rdb may be nil when
// the corresponding backend is not in use.
func NewHealthHandler(pool *pgxpool.Pool, rdb *redis.Client, counting Readiness, configured int) *HealthHandler {
	return &HealthHandler{
		pool:       pool,
		rdb:        rdb,
		counting:   counting,
		configured: configured,
		startAt:    time.Now(),
	}
}

// Live handles GET /health/live and the plain probe paths.
func (h *HealthHandler) Live(c fiber.Ctx) error {
	return c.JSON(fiber.Map{"status": "ok"})
}

// Ready handles GET /health/ready, the readiness probe with dependency checks.
func (h *HealthHandler) Ready(c fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(c.Context(), 3*time.Second)
	defer cancel()

	checks := fiber.Map{
		"database": checkDB(ctx, h.pool),
		"redis":    checkRedis(ctx, h.rdb),
		"counting": h.checkCounting(),
	}

	overallStatus := "healthy"
	for _, check := range checks {
		if m, ok := check.(fiber.Map); ok && m["status"] == "down" {
			overallStatus = "degraded"
		}
	}

	resp := fiber.Map{
		"status":         overallStatus,
		"checks":         checks,
		"uptime_seconds": int(time.Since(h.startAt).Seconds()),
	}

	status := fiber.StatusOK
	if overallStatus != "healthy" {
		status = fiber.StatusServiceUnavailable
	}
	return c.Status(status).JSON(resp)
}

func (h *HealthHandler) checkCounting() fiber.Map {
	var ready []string
	if h.counting != nil {
		ready = h.counting.ReadyChannels()
	}
	status := "up"
	if len(ready) == 0 {
		status = "down"
	}
	return fiber.Map{
		"status":     status,
		"ready":      len(ready),
		"configured": h.configured,
	}
}

func checkDB(ctx context.Context, pool *pgxpool.Pool) fiber.Map {
	if pool == nil {
		return fiber.Map{
			"status": "disabled",
		}
	}

	start := time.Now()
	err := pool.Ping(ctx)
	latency := time.Since(start).Milliseconds()

	if err != nil {
		return fiber.Map{
			"status":     "down",
			"latency_ms": latency,
			"error":      "connection failed",
		}
	}
	return fiber.Map{
		"status":     "up",
		"latency_ms": latency,
	}
}

func checkRedis(ctx context.Context, rdb *redis.Client) fiber.Map {
	if rdb == nil {
		return fiber.Map{
			"status": "disabled",
		}
	}

	start := time.Now()
	err := rdb.Ping(ctx).Err()
	latency := time.Since(start).Milliseconds()

	if err != nil {
		return fiber.Map{
			"status":     "down",
			"latency_ms": latency,
			"error":      "connection failed",
		}
	}
	return fiber.Map{
		"status":     "up",
		"latency_ms": latency,
	}
}
