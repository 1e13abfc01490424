package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/oauth2/clientcredentials"
)

const (
	// defaultIntrospectionTimeout bounds the round trip to the introspection
	// endpoint so a slow authorization server cannot stall the gate.
	defaultIntrospectionTimeout = 5 * time.Second

	// maxIntrospectionResponseBytes guards against oversized responses.
	maxIntrospectionResponseBytes = 1 << 20
)

// IntrospectionConfig configures the RFC 7662 token introspection validator.
type IntrospectionConfig struct {
	// Endpoint is the authorization server's introspection endpoint (required).
	Endpoint string

	// ClientID and ClientSecret authenticate this resource server to the
	// introspection endpoint (required).
	ClientID     string
	ClientSecret string

	// TokenURL, when set, obtains a client-credentials token for calls to
	// the introspection endpoint instead of HTTP basic authentication.
	TokenURL string

	// MaxTokenAge bounds token age at high and critical levels. A token
	// issued longer ago than this triggers RequireReauth. Zero disables.
	MaxTokenAge time.Duration

	// HTTPClient overrides the default client (timeouts, proxies, metrics).
	HTTPClient *http.Client

	// Logger for structured logging. Nil uses slog.Default().
	Logger *slog.Logger
}

// Validate rejects configs missing required fields.
func (c IntrospectionConfig) Validate() error {
	if c.Endpoint == "" {
		return fmt.Errorf("auth: introspection endpoint is required")
	}
	if c.ClientID == "" || c.ClientSecret == "" {
		return fmt.Errorf("auth: introspection client credentials are required")
	}
	return nil
}

// IntrospectionValidator validates bearer tokens against an OAuth 2.0 token
// introspection endpoint (RFC 7662).
type IntrospectionValidator struct {
	config IntrospectionConfig
	client *http.Client
	logger *slog.Logger
	now    func() time.Time
}

var _ Validator = (*IntrospectionValidator)(nil)

// introspectionResponse is the subset of RFC 7662 fields the gate consumes.
type introspectionResponse struct {
	Active   bool   `json:"active"`
	Subject  string `json:"sub"`
	Username string `json:"username"`
	Email    string `json:"email"`
	Role     string `json:"role"`
	Exp      int64  `json:"exp"`
	Iat      int64  `json:"iat"`
	Sid      string `json:"sid"`
}

// NewIntrospectionValidator creates a validator for the given endpoint.
func NewIntrospectionValidator(config IntrospectionConfig) (*IntrospectionValidator, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}

	client := config.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: defaultIntrospectionTimeout}
	}
	if config.TokenURL != "" {
		cc := clientcredentials.Config{
			ClientID:     config.ClientID,
			ClientSecret: config.ClientSecret,
			TokenURL:     config.TokenURL,
		}
		client = cc.Client(context.Background())
		client.Timeout = defaultIntrospectionTimeout
	}

	return &IntrospectionValidator{
		config: config,
		client: client,
		logger: config.Logger,
		now:    time.Now,
	}, nil
}

// Validate introspects the request's bearer token. Missing or malformed
// credentials fail without a round trip; endpoint outages return an error so
// the gate can distinguish "could not validate" from "validated and failed".
func (v *IntrospectionValidator) Validate(ctx context.Context, r *http.Request, level Level) (*Result, error) {
	token, ok := bearerToken(r)
	if !ok {
		return &Result{Valid: false}, nil
	}

	resp, err := v.introspect(ctx, token)
	if err != nil {
		return nil, err
	}

	now := v.now()
	if !resp.Active {
		// An expired-but-known token is refreshable; anything else is a
		// generic failure. RFC 7662 reports both as active=false, so the
		// exp claim is the only discriminator available.
		if resp.Exp > 0 && time.Unix(resp.Exp, 0).Before(now) {
			return &Result{Valid: false, ShouldRefresh: true}, nil
		}
		return &Result{Valid: false}, nil
	}

	if v.config.MaxTokenAge > 0 && (level == LevelHigh || level == LevelCritical) && resp.Iat > 0 {
		if now.Sub(time.Unix(resp.Iat, 0)) > v.config.MaxTokenAge {
			return &Result{
				Valid:         false,
				RequireReauth: true,
				ReauthReason:  "token age exceeds the limit for this security level",
			}, nil
		}
	}

	principalID := resp.Subject
	if principalID == "" {
		principalID = resp.Username
	}
	return &Result{
		Valid: true,
		Principal: &Principal{
			ID:        principalID,
			Role:      resp.Role,
			SessionID: resp.Sid,
			Email:     resp.Email,
		},
	}, nil
}

// introspect performs the RFC 7662 POST.
func (v *IntrospectionValidator) introspect(ctx context.Context, token string) (*introspectionResponse, error) {
	form := url.Values{"token": {token}}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, v.config.Endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("auth: build introspection request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	if v.config.TokenURL == "" {
		req.SetBasicAuth(v.config.ClientID, v.config.ClientSecret)
	}

	httpResp, err := v.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("auth: introspection request: %w", err)
	}
	defer func() { _ = httpResp.Body.Close() }()

	if httpResp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("auth: introspection endpoint returned %d", httpResp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(httpResp.Body, maxIntrospectionResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("auth: read introspection response: %w", err)
	}

	var resp introspectionResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("auth: parse introspection response: %w", err)
	}
	return &resp, nil
}

// bearerToken extracts the bearer token from the Authorization header.
func bearerToken(r *http.Request) (string, bool) {
	header := r.Header.Get("Authorization")
	if header == "" {
		return "", false
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") || parts[1] == "" {
		return "", false
	}
	return parts[1], true
}
