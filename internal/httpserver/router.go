// Package httpserver exposes the engine's operational HTTP surface:
// health probes, metrics, the delivery log and manual sync triggers.
package httpserver

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"tasksync/internal/config"
	"tasksync/internal/mq"
	"tasksync/internal/repository"
	"tasksync/internal/service/syncer"
)

func NewRouter(rec *syncer.Reconciler, deliveries *repository.DeliveryLogStore, db *pgxpool.Pool, publisher *mq.Publisher, cfg config.Config, logger *zap.Logger) *gin.Engine {
	r := gin.Default()

	r.Use(func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path

		c.Next()

		logger.Info("HTTP Request",
			zap.String("method", c.Request.Method),
			zap.String("path", path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
			zap.String("client_ip", c.ClientIP()),
		)
	})

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})
	r.HEAD("/healthz", func(c *gin.Context) {
		c.Status(200)
	})

	r.GET("/readyz", func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c, 1*time.Second)
		defer cancel()

		if err := db.Ping(ctx); err != nil {
			c.JSON(500, gin.H{"status": "db_not_ready", "error": err.Error()})
			return
		}
		if publisher != nil && !publisher.IsConnected() {
			c.JSON(500, gin.H{"status": "mq_not_ready"})
			return
		}
		c.JSON(200, gin.H{"status": "ready"})
	})

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	r.GET("/deliveries", func(c *gin.Context) {
		limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
		entries, err := deliveries.ListRecent(c, limit)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(200, gin.H{"deliveries": entries})
	})

	auth := r.Group("/", AuthMiddleware(cfg.Server.JWTSecret))

	auth.POST("/sync/task/:id", func(c *gin.Context) {
		localID, err := strconv.ParseInt(c.Param("id"), 10, 64)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid task id"})
			return
		}
		outcome, err := rec.SyncTask(c, localID)
		if err != nil {
			c.JSON(http.StatusBadGateway, gin.H{"outcome": string(outcome), "error": err.Error()})
			return
		}
		c.JSON(200, gin.H{"outcome": string(outcome)})
	})

	auth.POST("/sync/workspace", func(c *gin.Context) {
		listID := c.DefaultQuery("list_id", cfg.Remote.ListID)
		if listID == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "no list id configured"})
			return
		}
		report, err := rec.SyncWorkspace(c, listID)
		body := gin.H{
			"created":   report.Created,
			"updated":   report.Updated,
			"unchanged": report.Unchanged,
			"errored":   report.Errored,
		}
		if err != nil {
			body["error"] = err.Error()
			c.JSON(http.StatusBadGateway, body)
			return
		}
		c.JSON(200, body)
	})

	auth.DELETE("/tasks/:id", func(c *gin.Context) {
		localID, err := strconv.ParseInt(c.Param("id"), 10, 64)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid task id"})
			return
		}
		if err := rec.DeleteTask(c, localID); err != nil {
			c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
			return
		}
		c.Status(http.StatusNoContent)
	})

	auth.POST("/sync/dirty", func(c *gin.Context) {
		report, err := rec.SyncDirty(c)
		body := gin.H{"synced": report.Synced, "errored": report.Errored}
		if err != nil {
			body["error"] = err.Error()
			c.JSON(http.StatusBadGateway, body)
			return
		}
		c.JSON(200, body)
	})

	return r
}
