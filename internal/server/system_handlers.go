package server

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/aristath/rebalancer/internal/database"
	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
)

// PriceCacheSizer reports how many prices are cached
type PriceCacheSizer interface {
	CacheSize() int
}

// FeedStatus reports whether the live book feed is connected
type FeedStatus interface {
	Connected() bool
}

// DatabaseStatus is the per-database part of the system status
type DatabaseStatus struct {
	Name          string `json:"name"`
	Healthy       bool   `json:"healthy"`
	SizeBytes     int64  `json:"size_bytes"`
	WALSizeBytes  int64  `json:"wal_size_bytes"`
	FreelistCount int64  `json:"freelist_count"`
}

// SystemStatusResponse is the body of GET /api/system/status
type SystemStatusResponse struct {
	Status          string           `json:"status"`
	UptimeSeconds   int64            `json:"uptime_seconds"`
	CPUPercent      float64          `json:"cpu_percent"`
	MemoryPercent   float64          `json:"memory_percent"`
	PriceCacheSize  int              `json:"price_cache_size"`
	BookFeedEnabled bool             `json:"book_feed_enabled"`
	BookFeedUp      bool             `json:"book_feed_connected"`
	Databases       []DatabaseStatus `json:"databases"`
}

// SystemHandlers serves process and storage health
type SystemHandlers struct {
	log         zerolog.Logger
	startupTime time.Time
	databases   []*database.DB
	prices      PriceCacheSizer
	feed        FeedStatus
}

// NewSystemHandlers creates a new system handlers instance.
// prices and feed may be nil.
func NewSystemHandlers(log zerolog.Logger, databases []*database.DB, prices PriceCacheSizer, feed FeedStatus) *SystemHandlers {
	return &SystemHandlers{
		log:         log.With().Str("component", "system_handlers").Logger(),
		startupTime: time.Now(),
		databases:   databases,
		prices:      prices,
		feed:        feed,
	}
}

// HandleSystemStatus returns process, cache and database status
func (h *SystemHandlers) HandleSystemStatus(w http.ResponseWriter, r *http.Request) {
	cpuPct, memPct := h.getSystemStats()

	response := SystemStatusResponse{
		Status:        "healthy",
		UptimeSeconds: int64(time.Since(h.startupTime).Seconds()),
		CPUPercent:    cpuPct,
		MemoryPercent: memPct,
		Databases:     make([]DatabaseStatus, 0, len(h.databases)),
	}
	if h.prices != nil {
		response.PriceCacheSize = h.prices.CacheSize()
	}
	if h.feed != nil {
		response.BookFeedEnabled = true
		response.BookFeedUp = h.feed.Connected()
	}

	for _, db := range h.databases {
		status := DatabaseStatus{Name: db.Name(), Healthy: true}
		if err := db.QuickCheck(r.Context()); err != nil {
			h.log.Warn().Err(err).Str("database", db.Name()).Msg("Database quick check failed")
			status.Healthy = false
			response.Status = "degraded"
		}
		if stats, err := db.GetStats(); err == nil {
			status.SizeBytes = stats.SizeBytes
			status.WALSizeBytes = stats.WALSizeBytes
			status.FreelistCount = stats.FreelistCount
		}
		response.Databases = append(response.Databases, status)
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(response); err != nil {
		h.log.Error().Err(err).Msg("Failed to encode system status")
	}
}

// getSystemStats returns CPU and RAM usage percentages.
// CPU is sampled over 100ms to keep the endpoint responsive.
func (h *SystemHandlers) getSystemStats() (float64, float64) {
	cpuPercent, err := cpu.Percent(100*time.Millisecond, false)
	if err != nil {
		h.log.Warn().Err(err).Msg("Failed to get CPU percentage")
		cpuPercent = []float64{0}
	}

	memStat, err := mem.VirtualMemory()
	if err != nil {
		h.log.Warn().Err(err).Msg("Failed to get memory statistics")
		return 0, 0
	}

	cpuAvg := 0.0
	if len(cpuPercent) > 0 {
		cpuAvg = cpuPercent[0]
	}

	return cpuAvg, memStat.UsedPercent
}
