package handler

import (
	"context"
	"io"
	"net/http"
	"runtime"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-proctor/internal/config"
	"github.com/stemsi/exstem-proctor/internal/response"
	"github.com/stemsi/exstem-proctor/internal/sysstat"
)

const metricsInterval = 7 * time.Second

// SystemHandler reports host load, worker backlog and open proctored sessions.
type SystemHandler struct {
	rdb       *redis.Client
	host      *sysstat.Sampler
	sessions  func() int64
	startTime time.Time
	log       zerolog.Logger
}

// NewSystemHandler creates a SystemHandler. sessions reports the open proctored sessions.
func NewSystemHandler(rdb *redis.Client, host *sysstat.Sampler, sessions func() int64, log zerolog.Logger) *SystemHandler {
	return &SystemHandler{
		rdb:       rdb,
		host:      host,
		sessions:  sessions,
		startTime: time.Now(),
		log:       log.With().Str("component", "system_handler").Logger(),
	}
}

type systemMetrics struct {
	Timestamp int64  `json:"timestamp"`
	Uptime    string `json:"uptime"`

	sysstat.Host

	Goroutines int    `json:"goroutines"`
	HeapAlloc  uint64 `json:"heap_alloc"`
	NumGC      uint32 `json:"num_gc"`
	GoVersion  string `json:"go_version"`

	ActiveSessions int64 `json:"active_sessions"`
	// Backlog of the persistence queues drained by the workers.
	QueueProctorLogs int64 `json:"queue_proctor_logs"`
	QueueProgress    int64 `json:"queue_progress"`
	QueueSubmissions int64 `json:"queue_submissions"`
}

// SystemMetricsSSE godoc
// GET /api/v1/proctor/system/metrics
func (h *SystemHandler) SystemMetricsSSE(c *gin.Context) {
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")

	h.log.Info().Msg("Proctor connected to system metrics SSE")
	defer h.log.Info().Msg("Proctor disconnected from system metrics SSE")

	ticker := time.NewTicker(metricsInterval)
	defer ticker.Stop()

	first := true
	c.Stream(func(_ io.Writer) bool {
		if !first {
			select {
			case <-c.Request.Context().Done():
				return false
			case <-ticker.C:
			}
		}
		first = false
		c.SSEvent("metrics", h.collect(c.Request.Context()))
		return true
	})
}

// Snapshot godoc
// GET /api/v1/proctor/system/metrics/snapshot
func (h *SystemHandler) Snapshot(c *gin.Context) {
	response.Success(c, http.StatusOK, h.collect(c.Request.Context()))
}

func (h *SystemHandler) collect(ctx context.Context) systemMetrics {
	m := systemMetrics{
		Timestamp: time.Now().Unix(),
		Uptime:    sysstat.FormatUptime(time.Since(h.startTime)),
		GoVersion: runtime.Version(),
	}
	if h.host != nil {
		m.Host = h.host.Sample()
	}

	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	m.Goroutines = runtime.NumGoroutine()
	m.HeapAlloc = ms.HeapAlloc
	m.NumGC = ms.NumGC

	if h.sessions != nil {
		m.ActiveSessions = h.sessions()
	}

	pipe := h.rdb.Pipeline()
	logsCmd := pipe.LLen(ctx, config.WorkerKey.PersistProctorLogsQueue)
	progressCmd := pipe.LLen(ctx, config.WorkerKey.PersistProgressQueue)
	submissionsCmd := pipe.LLen(ctx, config.WorkerKey.PersistSubmissionsQueue)
	if _, err := pipe.Exec(ctx); err != nil {
		h.log.Warn().Err(err).Msg("Failed to read queue depths")
		return m
	}
	m.QueueProctorLogs = logsCmd.Val()
	m.QueueProgress = progressCmd.Val()
	m.QueueSubmissions = submissionsCmd.Val()
	return m
}
