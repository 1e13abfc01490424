package secgate

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/edushield/secgate/auth"
	"github.com/edushield/secgate/monitor"
	"github.com/edushield/secgate/security"
	"github.com/edushield/secgate/storage"
)

// eventQueryLimit caps a single events listing regardless of the
// caller-supplied limit.
const eventQueryLimit = 500

// RegisterTelemetryRoutes mounts the security telemetry surface on mux:
//
//	GET  /security/metrics              aggregated metrics for the last 24h
//	GET  /security/events               event listing with query filters
//	GET  /security/alerts               active (unacknowledged) alerts
//	POST /security/alerts/{id}/ack      acknowledge an alert
//	GET  /security/report               report for ?range=1h|24h|7d|30d
//	GET  /security/users/{id}/behavior  per-user behavior analysis
//
// Every route requires the admin bearer token from TelemetryConfig and is
// served with critical-tier security headers: the payloads describe the
// deployment's attack surface and must never be cached or exposed.
func (g *Gate) RegisterTelemetryRoutes(mux *http.ServeMux) {
	mux.Handle("GET /security/metrics", g.adminOnly(g.handleMetrics))
	mux.Handle("GET /security/events", g.adminOnly(g.handleEvents))
	mux.Handle("GET /security/alerts", g.adminOnly(g.handleAlerts))
	mux.Handle("POST /security/alerts/{id}/ack", g.adminOnly(g.handleAcknowledgeAlert))
	mux.Handle("GET /security/report", g.adminOnly(g.handleReport))
	mux.Handle("GET /security/users/{id}/behavior", g.adminOnly(g.handleUserBehavior))
}

// adminOnly gates a telemetry handler behind the configured admin token.
// With no token hash configured the whole surface answers 404, so an
// unconfigured deployment exposes nothing rather than everything.
func (g *Gate) adminOnly(next http.HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		security.SetSecurityHeaders(w, auth.LevelCritical)
		w.Header().Set(security.RequestIDHeader, security.RequestIDFromRequest(r))

		if len(g.cfg.Telemetry.AdminTokenHash) == 0 {
			http.NotFound(w, r)
			return
		}

		token := bearerToken(r)
		if token == "" || bcrypt.CompareHashAndPassword(g.cfg.Telemetry.AdminTokenHash, []byte(token)) != nil {
			g.logger.Warn("Telemetry access denied",
				"remote_ip", security.ClientIP(r, g.cfg.Proxy.TrustProxy, g.cfg.Proxy.TrustedProxyCount),
				"path", r.URL.Path)
			writeJSON(w, http.StatusUnauthorized, ErrorResponse{
				Error:            ErrorCodeAuthFailed,
				ErrorDescription: "Valid admin token required",
			})
			return
		}

		next(w, r)
	})
}

func bearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	if len(header) > 7 && strings.EqualFold(header[:7], "Bearer ") {
		return header[7:]
	}
	return ""
}

func (g *Gate) handleMetrics(w http.ResponseWriter, r *http.Request) {
	metrics, err := g.monitor.GetSecurityMetrics(r.Context())
	if err != nil {
		g.telemetryError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, metrics)
}

func (g *Gate) handleEvents(w http.ResponseWriter, r *http.Request) {
	filter, err := eventFilterFromQuery(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{
			Error:            "INVALID_REQUEST",
			ErrorDescription: err.Error(),
		})
		return
	}

	events, err := g.monitor.GetSecurityEvents(r.Context(), filter)
	if err != nil {
		g.telemetryError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"events": events,
		"count":  len(events),
	})
}

// eventFilterFromQuery builds an event filter from query parameters: type,
// severity, user_id, ip, since (RFC 3339), and limit.
func eventFilterFromQuery(r *http.Request) (storage.EventFilter, error) {
	q := r.URL.Query()
	filter := storage.EventFilter{
		Type:      storage.EventType(q.Get("type")),
		UserID:    q.Get("user_id"),
		IPAddress: q.Get("ip"),
		Limit:     eventQueryLimit,
	}

	if s := q.Get("severity"); s != "" {
		sev := storage.Severity(s)
		if !sev.Valid() {
			return storage.EventFilter{}, &queryError{"severity", s}
		}
		filter.Severity = sev
	}
	if s := q.Get("since"); s != "" {
		t, err := time.Parse(time.RFC3339, s)
		if err != nil {
			return storage.EventFilter{}, &queryError{"since", s}
		}
		filter.StartTime = t
	}
	if s := q.Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n <= 0 {
			return storage.EventFilter{}, &queryError{"limit", s}
		}
		if n < eventQueryLimit {
			filter.Limit = n
		}
	}
	return filter, nil
}

type queryError struct {
	param, value string
}

func (e *queryError) Error() string {
	return "invalid " + e.param + " parameter: " + e.value
}

func (g *Gate) handleAlerts(w http.ResponseWriter, r *http.Request) {
	alerts, err := g.monitor.GetActiveAlerts(r.Context())
	if err != nil {
		g.telemetryError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"alerts": alerts,
		"count":  len(alerts),
	})
}

func (g *Gate) handleAcknowledgeAlert(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if !g.monitor.AcknowledgeAlert(r.Context(), id) {
		writeJSON(w, http.StatusNotFound, ErrorResponse{
			Error:            "NOT_FOUND",
			ErrorDescription: "No such alert",
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"acknowledged": true, "alert_id": id})
}

func (g *Gate) handleReport(w http.ResponseWriter, r *http.Request) {
	rng := monitor.ReportRange(r.URL.Query().Get("range"))
	if rng == "" {
		rng = monitor.Range24h
	}
	if _, ok := rng.Duration(); !ok {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{
			Error:            "INVALID_REQUEST",
			ErrorDescription: "Unknown report range; expected 1h, 24h, 7d, or 30d",
		})
		return
	}

	report, err := g.monitor.GenerateSecurityReport(r.Context(), rng)
	if err != nil {
		g.telemetryError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (g *Gate) handleUserBehavior(w http.ResponseWriter, r *http.Request) {
	analysis, err := g.monitor.AnalyzeUserBehavior(r.Context(), r.PathValue("id"))
	if err != nil {
		g.telemetryError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, analysis)
}

func (g *Gate) telemetryError(w http.ResponseWriter, r *http.Request, err error) {
	requestID := security.RequestIDFromRequest(r)
	g.logger.Error("Telemetry query failed", "request_id", requestID, "path", r.URL.Path, "error", err)
	writeJSON(w, http.StatusInternalServerError, ErrorResponse{
		Error:            ErrorCodeInternalError,
		ErrorDescription: "An internal error occurred",
		RequestID:        requestID,
	})
}
