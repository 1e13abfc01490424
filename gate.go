// Package secgate wraps HTTP handlers with the request-gating core: adaptive
// rate limiting, token validation, role checks, tiered security headers, and
// centralized failure handling, with every terminal decision recorded as
// exactly one security event.
package secgate

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"runtime/debug"
	"slices"
	"strconv"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
	"golang.org/x/time/rate"

	"github.com/edushield/secgate/auth"
	"github.com/edushield/secgate/instrumentation"
	"github.com/edushield/secgate/monitor"
	"github.com/edushield/secgate/ratelimit"
	"github.com/edushield/secgate/security"
	"github.com/edushield/secgate/storage"
)

// Terminal outcomes for metrics and traces. Each maps to exactly one HTTP
// status and one event type; there are no backward transitions.
const (
	outcomeSuccess      = "success"
	outcomeRateLimited  = "rate_limited"
	outcomeTokenExpired = "token_expired"
	outcomeReauthNeeded = "reauth_required"
	outcomeAuthFailed   = "auth_failed"
	outcomeForbidden    = "forbidden"
	outcomeErrored      = "errored"
)

// HandlerFunc is the wrapped-handler signature. The gate passes the
// authenticated principal, client address, and request ID in rc. A returned
// error is handled centrally: logged with the request ID and converted to a
// generic 500 body, never leaking internals to the caller. Handlers that
// return an error must not have written to w.
type HandlerFunc func(w http.ResponseWriter, r *http.Request, rc *RequestContext) error

// Gate composes the rate limiter, token validator, role checks, tiered
// security headers, and the security monitor into a handler wrapper.
type Gate struct {
	cfg           Config
	limiter       *ratelimit.Limiter
	monitor       *monitor.Monitor
	validator     auth.Validator
	logger        *slog.Logger
	instr         *instrumentation.Instrumentation
	tracer        trace.Tracer
	globalLimiter *rate.Limiter
	now           func() time.Time
}

// New creates a gate from the given configuration.
func New(cfg Config) (*Gate, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	g := &Gate{
		cfg:       cfg,
		limiter:   cfg.Limiter,
		monitor:   cfg.Monitor,
		validator: cfg.Validator,
		logger:    cfg.Logger,
		instr:     cfg.Instrumentation,
		tracer:    tracenoop.NewTracerProvider().Tracer("secgate"),
		now:       time.Now,
	}
	if cfg.Instrumentation != nil {
		g.tracer = cfg.Instrumentation.Tracer("gate")
	}
	if cfg.Global.Rate > 0 {
		g.globalLimiter = rate.NewLimiter(rate.Limit(cfg.Global.Rate), cfg.Global.Burst)
	}
	return g, nil
}

// Validate rejects metadata outside the closed configuration sets.
func (m RouteMetadata) Validate() error {
	if m.SecurityLevel != "" && !m.SecurityLevel.Valid() {
		return fmt.Errorf("secgate: unknown security level %q", m.SecurityLevel)
	}
	if m.RateLimitProfile != "" {
		if _, ok := ratelimit.Profile(m.RateLimitProfile); !ok {
			return fmt.Errorf("secgate: unknown rate limit profile %q (known: %v)",
				m.RateLimitProfile, ratelimit.ProfileNames())
		}
	}
	if len(m.AllowedRoles) > 0 && !m.RequiresAuth {
		return fmt.Errorf("secgate: allowed roles require RequiresAuth")
	}
	return nil
}

// Wrap returns handler gated by meta's security posture.
//
// Wrap panics on invalid metadata or a missing validator: route wiring runs
// once at startup and a misdeclared route must never serve traffic.
func (g *Gate) Wrap(handler HandlerFunc, meta RouteMetadata) http.Handler {
	if err := meta.Validate(); err != nil {
		panic(err)
	}
	if meta.RequiresAuth && g.validator == nil {
		panic("secgate: RequiresAuth set but no validator configured")
	}
	if meta.SecurityLevel == "" {
		meta.SecurityLevel = auth.LevelPublic
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := g.now()
		requestID := security.RequestIDFromRequest(r)
		clientIP := security.ClientIP(r, g.cfg.Proxy.TrustProxy, g.cfg.Proxy.TrustedProxyCount)
		userAgent := r.UserAgent()

		ctx := security.WithRequestID(r.Context(), requestID)
		ctx, span := g.tracer.Start(ctx, "gate.request", trace.WithAttributes(
			attribute.String(instrumentation.AttrRequestID, requestID),
			attribute.String(instrumentation.AttrSecurityLevel, string(meta.SecurityLevel)),
			attribute.String(instrumentation.AttrHTTPMethod, r.Method),
			attribute.String(instrumentation.AttrHTTPEndpoint, r.URL.Path),
		))
		defer span.End()
		r = r.WithContext(ctx)

		// Headers go on before any gate stage can write a response
		security.SetSecurityHeaders(w, meta.SecurityLevel)
		w.Header().Set(security.RequestIDHeader, requestID)

		base := gateRequest{
			meta:      meta,
			requestID: requestID,
			clientIP:  clientIP,
			userAgent: userAgent,
			endpoint:  r.URL.Path,
			method:    r.Method,
			start:     start,
			span:      span,
		}

		// Process-wide overload guard, ahead of per-key limiting
		if g.globalLimiter != nil && !g.globalLimiter.Allow() {
			w.Header().Set("Retry-After", "1")
			g.denyRateLimited(w, r, base, "global", "Server is over capacity. Please retry shortly.")
			return
		}

		// Per-key fixed-window rate check
		if meta.RateLimitProfile != "" {
			profileCfg, _ := ratelimit.Profile(meta.RateLimitProfile)
			res, err := g.limiter.Check(ctx, meta.RateLimitProfile+":"+clientIP, profileCfg)
			if err != nil {
				// Limiter store failure fails open: denying all traffic on a
				// store outage is a worse failure mode than unthrottled load
				g.logger.Error("Rate limit check failed", "request_id", requestID, "error", err)
			} else if res.Blocked {
				w.Header().Set("Retry-After", strconv.Itoa(res.RetryAfterSeconds))
				w.Header().Set("X-RateLimit-Limit", strconv.Itoa(profileCfg.MaxAttempts))
				w.Header().Set("X-RateLimit-Remaining", "0")
				g.denyRateLimited(w, r, base, meta.RateLimitProfile, res.Message)
				return
			}
		}

		// Authentication
		var principal *auth.Principal
		var securityFlags []string
		if meta.RequiresAuth {
			level := meta.SecurityLevel
			if meta.RequiresFreshToken {
				level = auth.LevelCritical
			}

			result, err := g.validator.Validate(ctx, r, level)
			if err != nil {
				g.logger.Error("Token validator unavailable", "request_id", requestID, "error", err)
				g.deny(w, r, base, denial{
					err:       ErrInternal(),
					outcome:   outcomeErrored,
					eventType: storage.EventSecurityViolation,
					severity:  storage.SeverityHigh,
					details:   map[string]any{"reason": "validator unavailable"},
				})
				return
			}
			if !result.Valid {
				g.denyAuth(w, r, base, result)
				return
			}
			principal = result.Principal
			securityFlags = result.SecurityFlags
		}

		// Authorization
		if len(meta.AllowedRoles) > 0 {
			role := ""
			if principal != nil {
				role = principal.Role
			}
			if !slices.Contains(meta.AllowedRoles, role) {
				base.principal = principal
				g.deny(w, r, base, denial{
					err:       ErrForbidden(),
					outcome:   outcomeForbidden,
					eventType: storage.EventUnauthorizedAccess,
					severity:  storage.SeverityMedium,
					details:   map[string]any{"role": role, "allowed_roles": meta.AllowedRoles},
				})
				return
			}
		}

		// Dispatch
		base.principal = principal
		rc := &RequestContext{
			Principal:     principal,
			ClientIP:      clientIP,
			UserAgent:     userAgent,
			RequestID:     requestID,
			SecurityFlags: securityFlags,
		}
		if err := g.dispatch(w, r, rc, handler); err != nil {
			g.logger.Error("Handler failed",
				"request_id", requestID,
				"endpoint", base.endpoint,
				"user_id_present", principal != nil,
				"error", err)
			g.deny(w, r, base, denial{
				err:       ErrInternal(),
				outcome:   outcomeErrored,
				eventType: storage.EventSecurityViolation,
				severity:  storage.SeverityHigh,
				details:   map[string]any{"reason": "handler error"},
			})
			return
		}

		g.recordOutcome(r, base, outcomeSuccess, storage.EventAccessGranted, storage.SeverityLow, nil)
		instrumentation.SetSpanOK(span)
	})
}

// dispatch invokes the wrapped handler, converting a panic into an error so
// truly unexpected faults still reach the centralized failure path.
func (g *Gate) dispatch(w http.ResponseWriter, r *http.Request, rc *RequestContext, handler HandlerFunc) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			g.logger.Error("Handler panicked",
				"request_id", rc.RequestID,
				"panic", rec,
				"stack", string(debug.Stack()))
			err = fmt.Errorf("handler panic: %v", rec)
		}
	}()
	return handler(w, r, rc)
}

// gateRequest bundles the per-request facts every denial path needs.
type gateRequest struct {
	meta      RouteMetadata
	requestID string
	clientIP  string
	userAgent string
	endpoint  string
	method    string
	start     time.Time
	principal *auth.Principal
	span      trace.Span
}

// denial describes one terminal early exit.
type denial struct {
	err       *GateError
	outcome   string
	eventType storage.EventType
	severity  storage.Severity
	details   map[string]any
	body      ErrorResponse // zero value means derive from err
}

// denyRateLimited handles the 429 path for both the global and per-key limiters.
func (g *Gate) denyRateLimited(w http.ResponseWriter, r *http.Request, req gateRequest, profile, message string) {
	if g.instr != nil {
		g.instr.Metrics().RecordRateLimitExceeded(r.Context(), profile)
	}
	g.deny(w, r, req, denial{
		err:       ErrRateLimited(message),
		outcome:   outcomeRateLimited,
		eventType: storage.EventRateLimitExceeded,
		severity:  storage.SeverityMedium,
		details:   map[string]any{"profile": profile},
	})
}

// denyAuth maps the three validation failure sub-kinds to their distinct,
// externally observable responses and differently-severed events.
func (g *Gate) denyAuth(w http.ResponseWriter, r *http.Request, req gateRequest, result *auth.Result) {
	var d denial
	switch {
	case result.ShouldRefresh:
		d = denial{
			err:       ErrTokenExpired(),
			outcome:   outcomeTokenExpired,
			eventType: storage.EventTokenExpired,
			severity:  storage.SeverityLow,
		}
		d.body = errorBody(d.err, req.requestID)
		d.body.ShouldRefresh = true
	case result.RequireReauth:
		d = denial{
			err:       ErrReauthRequired(),
			outcome:   outcomeReauthNeeded,
			eventType: storage.EventSuspiciousActivity,
			severity:  storage.SeverityHigh,
			details:   map[string]any{"reason": result.ReauthReason},
		}
		d.body = errorBody(d.err, req.requestID)
		d.body.Reason = result.ReauthReason
	default:
		d = denial{
			err:       ErrAuthFailed(),
			outcome:   outcomeAuthFailed,
			eventType: storage.EventLoginFailure,
			severity:  storage.SeverityMedium,
		}
	}
	if g.instr != nil {
		g.instr.Metrics().RecordAuthFailure(r.Context(), d.outcome)
	}
	g.deny(w, r, req, d)
}

// deny writes the denial response and records its terminal outcome.
func (g *Gate) deny(w http.ResponseWriter, r *http.Request, req gateRequest, d denial) {
	body := d.body
	if body.Error == "" {
		body = errorBody(d.err, req.requestID)
	}
	writeJSON(w, d.err.Status, body)

	instrumentation.SetSpanError(req.span, d.err.Code)
	g.recordOutcome(r, req, d.outcome, d.eventType, d.severity, d.details)
}

// recordOutcome emits the single security event for a terminal state and
// records gate metrics. Decisions are never rolled back: the event stands
// even if the caller has already gone away.
func (g *Gate) recordOutcome(r *http.Request, req gateRequest, outcome string, eventType storage.EventType, severity storage.Severity, details map[string]any) {
	userID, sessionID := "", ""
	if req.principal != nil {
		userID = req.principal.ID
		sessionID = req.principal.SessionID
	}

	g.monitor.RecordEvent(r.Context(), monitor.Event{
		Type:      eventType,
		Severity:  severity,
		UserID:    userID,
		IPAddress: req.clientIP,
		UserAgent: req.userAgent,
		SessionID: sessionID,
		Details:   details,
		Metadata: storage.EventMetadata{
			RequestID:      req.requestID,
			Endpoint:       req.endpoint,
			Method:         req.method,
			ResponseTimeMs: g.now().Sub(req.start).Milliseconds(),
		},
	})

	if g.instr != nil {
		g.instr.Metrics().RecordGateRequest(r.Context(), outcome, string(req.meta.SecurityLevel), req.start)
	}
	instrumentation.SetSpanAttributes(req.span,
		attribute.String(instrumentation.AttrOutcome, outcome),
	)
}

// errorBody builds the standard denial body. Request IDs are included only
// for internal errors, where log correlation is the caller's next step.
func errorBody(err *GateError, requestID string) ErrorResponse {
	body := ErrorResponse{
		Error:            err.Code,
		ErrorDescription: err.Description,
	}
	if err.Code == ErrorCodeInternalError {
		body.RequestID = requestID
	}
	return body
}

// writeJSON writes a JSON response body with the given status.
func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
