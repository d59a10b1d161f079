package handlers

import (
	"net/http"
	"sort"
	"strings"
	"time"

	domain "github.com/warungkita/api/internal/domain"
	"github.com/warungkita/api/internal/services"
)

// HealthHandlers serves the liveness and readiness probes. Healthz reports
// process identity only; Readyz asks the system service to probe dependencies.
type HealthHandlers struct {
	system services.SystemService
	build  services.BuildInfo
	clock  func() time.Time
}

// HealthOption customises health handler construction.
type HealthOption func(*HealthHandlers)

// WithHealthSystemService wires the dependency-probing system service.
func WithHealthSystemService(system services.SystemService) HealthOption {
	return func(h *HealthHandlers) {
		h.system = system
	}
}

// WithHealthBuildInfo records build metadata echoed on both probes.
func WithHealthBuildInfo(build services.BuildInfo) HealthOption {
	return func(h *HealthHandlers) {
		h.build = build
	}
}

// WithHealthClock overrides the time source, primarily for tests.
func WithHealthClock(clock func() time.Time) HealthOption {
	return func(h *HealthHandlers) {
		if clock != nil {
			h.clock = clock
		}
	}
}

// NewHealthHandlers constructs health handlers with the provided options.
func NewHealthHandlers(opts ...HealthOption) *HealthHandlers {
	h := &HealthHandlers{
		clock: time.Now,
	}
	for _, opt := range opts {
		opt(h)
	}
	if h.build.StartedAt.IsZero() {
		h.build.StartedAt = h.clock().UTC()
	}
	return h
}

type healthzResponse struct {
	Status      string `json:"status"`
	Version     string `json:"version,omitempty"`
	CommitSHA   string `json:"commitSha,omitempty"`
	Environment string `json:"environment,omitempty"`
	Uptime      string `json:"uptime"`
	Timestamp   string `json:"timestamp"`
}

type readyzCheckPayload struct {
	Status  string `json:"status"`
	Detail  string `json:"detail,omitempty"`
	Error   string `json:"error,omitempty"`
	Latency string `json:"latency,omitempty"`
}

type readyzResponse struct {
	Status      string                        `json:"status"`
	Version     string                        `json:"version,omitempty"`
	CommitSHA   string                        `json:"commitSha,omitempty"`
	Environment string                        `json:"environment,omitempty"`
	Uptime      string                        `json:"uptime,omitempty"`
	GeneratedAt string                        `json:"generatedAt,omitempty"`
	Checks      map[string]readyzCheckPayload `json:"checks,omitempty"`
	Details     []string                      `json:"details"`
}

// Healthz answers liveness probes without touching any dependency.
func (h *HealthHandlers) Healthz(w http.ResponseWriter, _ *http.Request) {
	now := h.clock().UTC()
	payload := healthzResponse{
		Status:      domain.HealthStatusOK,
		Version:     strings.TrimSpace(h.build.Version),
		CommitSHA:   strings.TrimSpace(h.build.CommitSHA),
		Environment: strings.TrimSpace(h.build.Environment),
		Uptime:      now.Sub(h.build.StartedAt).String(),
		Timestamp:   now.Format(time.RFC3339),
	}
	writeJSONResponse(w, http.StatusOK, payload)
}

// Readyz answers readiness probes by asking the system service to probe its
// dependencies. Degraded or erroring dependencies surface as 503.
func (h *HealthHandlers) Readyz(w http.ResponseWriter, r *http.Request) {
	if h.system == nil {
		h.Healthz(w, r)
		return
	}

	report, err := h.system.HealthReport(r.Context())
	if err != nil {
		writeJSONResponse(w, http.StatusServiceUnavailable, readyzResponse{
			Status:  domain.HealthStatusError,
			Details: []string{err.Error()},
		})
		return
	}

	response := readyzResponse{
		Status:      report.Status,
		Version:     strings.TrimSpace(report.Version),
		CommitSHA:   strings.TrimSpace(report.CommitSHA),
		Environment: strings.TrimSpace(report.Environment),
		Uptime:      report.Uptime.String(),
		GeneratedAt: formatTime(report.GeneratedAt),
		Details:     []string{},
	}

	if len(report.Checks) > 0 {
		response.Checks = make(map[string]readyzCheckPayload, len(report.Checks))
		for name, check := range report.Checks {
			payload := readyzCheckPayload{
				Status: check.Status,
				Detail: strings.TrimSpace(check.Detail),
				Error:  strings.TrimSpace(check.Error),
			}
			if check.Latency > 0 {
				payload.Latency = check.Latency.String()
			}
			response.Checks[name] = payload
			if check.Status != domain.HealthStatusOK {
				detail := name + ": " + check.Status
				if payload.Error != "" {
					detail += " (" + payload.Error + ")"
				}
				response.Details = append(response.Details, detail)
			}
		}
		sort.Strings(response.Details)
	}

	status := http.StatusOK
	if report.Status != domain.HealthStatusOK {
		status = http.StatusServiceUnavailable
	}
	writeJSONResponse(w, status, response)
}
