package health

import (
	"context"
	"net/http"
	"os"
	"runtime"
	"runtime/debug"
	"strings"
	"time"

	"lv-margin/internal/httputil"
	"lv-margin/internal/monitor"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Pinger reports whether storage is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// StatusSource reports the scheduler state.
type StatusSource interface {
	Status() monitor.Status
}

type Handler struct {
	store         Pinger
	pool          *pgxpool.Pool
	monitor       StatusSource
	checkInternal func(token string) error
	startedAt     time.Time
	mode          string
	httpAddr      string
}

// NewHandler builds the health endpoints. pool may be nil when the in-memory
// store is in use; checkInternal guards the full diagnostics endpoint.
func NewHandler(store Pinger, pool *pgxpool.Pool, mon StatusSource, checkInternal func(string) error, startedAt time.Time, mode, httpAddr string) *Handler {
	start := startedAt.UTC()
	if start.IsZero() {
		start = time.Now().UTC()
	}
	return &Handler{
		store:         store,
		pool:          pool,
		monitor:       mon,
		checkInternal: checkInternal,
		startedAt:     start,
		mode:          strings.TrimSpace(mode),
		httpAddr:      strings.TrimSpace(httpAddr),
	}
}

type liveResponse struct {
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"`
	UptimeSec int64  `json:"uptime_sec"`
	Uptime    string `json:"uptime"`
}

type storeStats struct {
	Reachable  bool       `json:"reachable"`
	PingMs     int64      `json:"ping_ms"`
	Error      string     `json:"error,omitempty"`
	CheckedAt  string     `json:"checked_at"`
	TimeoutSec int        `json:"timeout_sec"`
	Pool       *poolStats `json:"pool,omitempty"`
}

type poolStats struct {
	TotalConns        int32 `json:"total_conns"`
	IdleConns         int32 `json:"idle_conns"`
	AcquiredConns     int32 `json:"acquired_conns"`
	MaxConns          int32 `json:"max_conns"`
	AcquireCount      int64 `json:"acquire_count"`
	AcquireDurationMs int64 `json:"acquire_duration_ms"`
}

type readinessResponse struct {
	Status    string          `json:"status"`
	Timestamp string          `json:"timestamp"`
	UptimeSec int64           `json:"uptime_sec"`
	Uptime    string          `json:"uptime"`
	Store     storeStats      `json:"store"`
	Monitor   *monitor.Status `json:"monitor,omitempty"`
}

type fullResponse struct {
	readinessResponse
	App     appStats     `json:"app"`
	Runtime runtimeStats `json:"runtime"`
	Build   buildStats   `json:"build"`
}

type appStats struct {
	HTTPAddr string `json:"http_addr"`
	Mode     string `json:"mode"`
	PID      int    `json:"pid"`
	Hostname string `json:"hostname"`
}

type runtimeStats struct {
	GoVersion      string `json:"go_version"`
	Goroutines     int    `json:"goroutines"`
	GoMaxProcs     int    `json:"gomaxprocs"`
	NumGC          uint32 `json:"num_gc"`
	HeapAllocBytes uint64 `json:"heap_alloc_bytes"`
	SysBytes       uint64 `json:"sys_bytes"`
}

type buildStats struct {
	MainPath string `json:"main_path"`
	Version  string `json:"version"`
}

func (h *Handler) uptime(now time.Time) time.Duration {
	uptime := now.Sub(h.startedAt)
	if uptime < 0 {
		return 0
	}
	return uptime
}

func (h *Handler) collectStore(ctx context.Context, includePool bool) storeStats {
	const timeoutSec = 1
	stats := storeStats{TimeoutSec: timeoutSec}
	if h.store == nil {
		stats.Error = "store is not configured"
		stats.CheckedAt = time.Now().UTC().Format(time.RFC3339)
		return stats
	}
	start := time.Now()
	pingCtx, cancel := context.WithTimeout(ctx, timeoutSec*time.Second)
	err := h.store.Ping(pingCtx)
	cancel()
	stats.PingMs = time.Since(start).Milliseconds()
	stats.CheckedAt = time.Now().UTC().Format(time.RFC3339)
	if err != nil {
		stats.Error = err.Error()
	} else {
		stats.Reachable = true
	}
	if includePool && h.pool != nil {
		stat := h.pool.Stat()
		stats.Pool = &poolStats{
			TotalConns:        stat.TotalConns(),
			IdleConns:         stat.IdleConns(),
			AcquiredConns:     stat.AcquiredConns(),
			MaxConns:          stat.MaxConns(),
			AcquireCount:      stat.AcquireCount(),
			AcquireDurationMs: stat.AcquireDuration().Milliseconds(),
		}
	}
	return stats
}

func (h *Handler) readiness(ctx context.Context, includePool bool) (readinessResponse, int) {
	now := time.Now().UTC()
	uptime := h.uptime(now)
	resp := readinessResponse{
		Status:    "ok",
		Timestamp: now.Format(time.RFC3339),
		UptimeSec: int64(uptime.Seconds()),
		Uptime:    uptime.String(),
		Store:     h.collectStore(ctx, includePool),
	}
	code := http.StatusOK
	if h.monitor != nil {
		st := h.monitor.Status()
		resp.Monitor = &st
		if !st.Running {
			resp.Status = "degraded"
		}
	}
	if !resp.Store.Reachable {
		resp.Status = "degraded"
		code = http.StatusServiceUnavailable
	}
	return resp, code
}

// Live does not touch the store.
func (h *Handler) Live(w http.ResponseWriter, r *http.Request) {
	now := time.Now().UTC()
	uptime := h.uptime(now)
	httputil.WriteJSON(w, http.StatusOK, liveResponse{
		Status:    "ok",
		Timestamp: now.Format(time.RFC3339),
		UptimeSec: int64(uptime.Seconds()),
		Uptime:    uptime.String(),
	})
}

// Ready returns 503 when the store is unreachable. A stopped monitor only degrades the status.
func (h *Handler) Ready(w http.ResponseWriter, r *http.Request) {
	resp, code := h.readiness(r.Context(), false)
	httputil.WriteJSON(w, code, resp)
}

// Full returns diagnostics and is protected by X-Internal-Token.
func (h *Handler) Full(w http.ResponseWriter, r *http.Request) {
	if h.checkInternal == nil {
		httputil.WriteJSON(w, http.StatusServiceUnavailable, httputil.Envelope{Message: "internal token is not configured"})
		return
	}
	if err := h.checkInternal(strings.TrimSpace(r.Header.Get("X-Internal-Token"))); err != nil {
		httputil.WriteJSON(w, http.StatusUnauthorized, httputil.Envelope{Message: "invalid internal token"})
		return
	}
	ready, code := h.readiness(r.Context(), true)

	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)
	build := buildStats{}
	if info, ok := debug.ReadBuildInfo(); ok && info != nil {
		build.MainPath = strings.TrimSpace(info.Main.Path)
		build.Version = strings.TrimSpace(info.Main.Version)
	}
	host, _ := os.Hostname()

	httputil.WriteJSON(w, code, fullResponse{
		readinessResponse: ready,
		App: appStats{
			HTTPAddr: h.httpAddr,
			Mode:     h.mode,
			PID:      os.Getpid(),
			Hostname: host,
		},
		Runtime: runtimeStats{
			GoVersion:      runtime.Version(),
			Goroutines:     runtime.NumGoroutine(),
			GoMaxProcs:     runtime.GOMAXPROCS(0),
			NumGC:          mem.NumGC,
			HeapAllocBytes: mem.HeapAlloc,
			SysBytes:       mem.Sys,
		},
		Build: build,
	})
}
