package handlers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// HealthCheck represents the health status of the server
type HealthCheck struct {
	Status    string                 `json:"status"`
	Version   string                 `json:"version"`
	GitCommit string                 `json:"git_commit"`
	Checks    map[string]CheckResult `json:"checks"`
	Timestamp string                 `json:"timestamp"`
}

// CheckResult represents the result of a single health check
type CheckResult struct {
	Status    string         `json:"status"`
	Message   string         `json:"message,omitempty"`
	LatencyMs int64          `json:"latency_ms,omitempty"`
	Details   map[string]any `json:"details,omitempty"`
}

// CheckFunc runs one named check. It receives a context bounded by the
// per-check timeout.
type CheckFunc func(ctx context.Context) CheckResult

// RowQuerier is the slice of pgxpool.Pool the database checks need.
type RowQuerier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// HealthChecker runs the registered checks for the readiness endpoint.
type HealthChecker struct {
	checks    map[string]CheckFunc
	version   string
	gitCommit string
	timeout   time.Duration
}

func NewHealthChecker(version, gitCommit string) *HealthChecker {
	return &HealthChecker{
		checks:    make(map[string]CheckFunc),
		version:   version,
		gitCommit: gitCommit,
		timeout:   2 * time.Second,
	}
}

// Register adds a check under name, replacing any previous one.
func (h *HealthChecker) Register(name string, check CheckFunc) *HealthChecker {
	h.checks[name] = check
	return h
}

// Health returns a comprehensive health check handler
func (h *HealthChecker) Health() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "shutting_down"})
			return
		default:
		}

		checks := make(map[string]CheckResult, len(h.checks))
		for name, check := range h.checks {
			ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
			checks[name] = check(ctx)
			cancel()
		}

		overallStatus := "healthy"
		statusCode := http.StatusOK
		for _, check := range checks {
			if check.Status == "fail" {
				overallStatus = "unhealthy"
				statusCode = http.StatusServiceUnavailable
				break
			} else if check.Status == "warn" && overallStatus == "healthy" {
				overallStatus = "degraded"
			}
		}

		writeJSON(w, statusCode, HealthCheck{
			Status:    overallStatus,
			Version:   h.version,
			GitCommit: h.gitCommit,
			Checks:    checks,
			Timestamp: time.Now().UTC().Format(time.RFC3339),
		})
	}
}

// DatabaseCheck verifies PostgreSQL answers a trivial query.
func DatabaseCheck(pool RowQuerier) CheckFunc {
	return func(ctx context.Context) CheckResult {
		start := time.Now()
		var result int
		err := pool.QueryRow(ctx, "SELECT 1").Scan(&result)
		latency := time.Since(start).Milliseconds()

		if err != nil {
			message := "Database query failed"
			details := map[string]any{"error": err.Error()}
			switch {
			case ctx.Err() == context.DeadlineExceeded:
				message = "Database query timed out"
				details["remediation"] = "Check PostgreSQL performance or network latency"
			case strings.Contains(err.Error(), "connection refused"):
				message = "Database connection refused"
				details["remediation"] = "Verify PostgreSQL is running and DATABASE_URL host/port are correct"
			case strings.Contains(err.Error(), "authentication failed"):
				message = "Database authentication failed"
				details["remediation"] = "Verify DATABASE_URL username and password are correct"
			default:
				details["remediation"] = "Check DATABASE_URL and PostgreSQL service status"
			}
			return CheckResult{Status: "fail", Message: message, LatencyMs: latency, Details: details}
		}

		res := CheckResult{Status: "pass", Message: "PostgreSQL connection successful", LatencyMs: latency}
		if p, ok := pool.(*pgxpool.Pool); ok {
			stats := p.Stat()
			res.Details = map[string]any{
				"max_connections":      stats.MaxConns(),
				"total_connections":    stats.TotalConns(),
				"idle_connections":     stats.IdleConns(),
				"acquired_connections": stats.AcquiredConns(),
			}
		}
		return res
	}
}

// MigrationCheck fails when golang-migrate left the schema dirty.
func MigrationCheck(pool RowQuerier) CheckFunc {
	return func(ctx context.Context) CheckResult {
		start := time.Now()
		var version int64
		var dirty bool
		err := pool.QueryRow(ctx, `SELECT version, dirty FROM schema_migrations ORDER BY version DESC LIMIT 1`).Scan(&version, &dirty)
		latency := time.Since(start).Milliseconds()

		if err != nil {
			details := map[string]any{"error": err.Error()}
			message := "Failed to query migration version"
			if strings.Contains(err.Error(), "does not exist") || errors.Is(err, pgx.ErrNoRows) {
				message = "Migrations not applied"
				details["remediation"] = "Run: clipdeck migrate up"
			}
			return CheckResult{Status: "fail", Message: message, LatencyMs: latency, Details: details}
		}
		if dirty {
			return CheckResult{
				Status:    "fail",
				Message:   "Database in dirty migration state - manual intervention required",
				LatencyMs: latency,
				Details:   map[string]any{"version": version, "dirty": true},
			}
		}
		return CheckResult{
			Status:    "pass",
			Message:   fmt.Sprintf("Migrations applied (version %d)", version),
			LatencyMs: latency,
			Details:   map[string]any{"version": version},
		}
	}
}

// JobQueueCheck reports River's pending work. A missing river_job table is a
// warning, not a failure.
func JobQueueCheck(pool RowQuerier) CheckFunc {
	return func(ctx context.Context) CheckResult {
		start := time.Now()
		var tableExists bool
		err := pool.QueryRow(ctx, `SELECT EXISTS (
			SELECT FROM information_schema.tables
			WHERE table_schema = current_schema() AND table_name = 'river_job'
		)`).Scan(&tableExists)
		if err != nil {
			return CheckResult{
				Status:    "fail",
				Message:   "Failed to check job queue table existence",
				LatencyMs: time.Since(start).Milliseconds(),
				Details:   map[string]any{"error": err.Error()},
			}
		}
		if !tableExists {
			return CheckResult{
				Status:    "warn",
				Message:   "River job queue table not found",
				LatencyMs: time.Since(start).Milliseconds(),
				Details:   map[string]any{"remediation": "Run: clipdeck migrate up"},
			}
		}

		var activeJobs int64
		err = pool.QueryRow(ctx, `SELECT COUNT(*) FROM river_job WHERE state = ANY($1)`, []string{"available", "running"}).Scan(&activeJobs)
		latency := time.Since(start).Milliseconds()
		if err != nil {
			return CheckResult{Status: "fail", Message: "Failed to query job queue", LatencyMs: latency, Details: map[string]any{"error": err.Error()}}
		}
		return CheckResult{
			Status:    "pass",
			Message:   "River job queue operational",
			LatencyMs: latency,
			Details:   map[string]any{"active_jobs": activeJobs},
		}
	}
}

// StaticCheck always reports the given status; used for components with no
// external dependency, such as the in-memory store.
func StaticCheck(status, message string) CheckFunc {
	return func(context.Context) CheckResult {
		return CheckResult{Status: status, Message: message}
	}
}

// Healthz returns a lightweight liveness response.
func Healthz() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
}
