package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-proctor/internal/config"
	"github.com/stemsi/exstem-proctor/internal/response"
	"github.com/stemsi/exstem-proctor/internal/service"
)

const (
	refreshInterval   = 15 * time.Second
	keepAliveInterval = 30 * time.Second
	refreshTimeout    = 5 * time.Second // prevent slow queries from blocking the SSE loop
)

type MonitorHandler struct {
	rdb            *redis.Client
	monitorService *service.MonitorService
	log            zerolog.Logger
}

func NewMonitorHandler(rdb *redis.Client, monitorService *service.MonitorService, log zerolog.Logger) *MonitorHandler {
	return &MonitorHandler{
		rdb:            rdb,
		monitorService: monitorService,
		log:            log.With().Str("component", "monitor_handler").Logger(),
	}
}

// MonitorTestSSE godoc
// GET /api/v1/proctor/tests/:id/monitor
// Streams a snapshot of every attempt, then joined/violation/submitted events as they
// happen, with a periodic refresh of the warning counts.
func (h *MonitorHandler) MonitorTestSSE(c *gin.Context) {
	testID, ok := parseID(c, "id")
	if !ok {
		return
	}
	reqCtx := c.Request.Context()

	fetchCtx, cancel := context.WithTimeout(reqCtx, refreshTimeout)
	snapshot, err := h.monitorService.Snapshot(fetchCtx, testID)
	cancel()
	if err != nil {
		if errors.Is(err, service.ErrTestNotFound) {
			response.Fail(c, http.StatusNotFound, response.ErrTestNotFound)
			return
		}
		h.log.Error().Err(err).Str("test_id", testID.String()).Msg("Failed to build monitor snapshot")
		response.Fail(c, http.StatusInternalServerError, response.ErrInternal)
		return
	}

	// 1. SSE headers
	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")

	// 2. Initial snapshot
	c.SSEvent("message", gin.H{"type": "snapshot", "data": snapshot})
	c.Writer.Flush()

	// 3. Subscribe to Redis Pub/Sub
	pubsub := h.rdb.Subscribe(reqCtx, config.CacheKey.TestMonitorChannel(testID.String()))
	defer pubsub.Close()
	ch := pubsub.Channel()

	keepAliveTicker := time.NewTicker(keepAliveInterval)
	defer keepAliveTicker.Stop()
	refreshTicker := time.NewTicker(refreshInterval)
	defer refreshTicker.Stop()

	// Skip refreshes until somebody joins.
	hasAttempts := len(snapshot.Attempts) > 0

	h.log.Info().Str("test_id", testID.String()).Msg("Proctor attached to live monitor SSE")

	pingPayload, _ := json.Marshal(map[string]string{"type": "ping"})

	for {
		select {
		case <-reqCtx.Done():
			h.log.Info().Str("test_id", testID.String()).Msg("Proctor disconnected from live monitor SSE")
			return

		case msg, ok := <-ch:
			if !ok {
				return
			}
			// Forward raw JSON directly, no deserialization needed.
			c.Writer.Write([]byte("data: "))
			c.Writer.Write([]byte(msg.Payload))
			c.Writer.Write([]byte("\n\n"))
			c.Writer.Flush()
			hasAttempts = true

		case <-refreshTicker.C:
			if !hasAttempts {
				continue
			}
			h.sendRefresh(c, reqCtx, testID)

		case <-keepAliveTicker.C:
			c.Writer.Write([]byte("data: "))
			c.Writer.Write(pingPayload)
			c.Writer.Write([]byte("\n\n"))
			c.Writer.Flush()
		}
	}
}

// sendRefresh re-reads the attempts and sends a compact refresh event.
func (h *MonitorHandler) sendRefresh(c *gin.Context, parentCtx context.Context, testID uuid.UUID) {
	ctx, cancel := context.WithTimeout(parentCtx, refreshTimeout)
	defer cancel()

	rows, err := h.monitorService.Attempts(ctx, testID)
	if err != nil {
		h.log.Warn().Err(err).Msg("Failed to fetch attempts for refresh")
		return
	}

	c.SSEvent("message", gin.H{
		"type":     "refresh",
		"stats":    service.Summarize(rows),
		"attempts": rows,
	})
	c.Writer.Flush()
}
