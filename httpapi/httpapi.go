// Package httpapi exposes the authorization server over HTTP: the authorize,
// token, and revoke endpoints plus the authorized-applications listing. The
// caller supplies session verification; this package only understands OAuth.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/go-chi/chi/v5"

	oauth "github.com/middayhq/connect-oauth"
	"github.com/middayhq/connect-oauth/security"
	"github.com/middayhq/connect-oauth/server"
	"github.com/middayhq/connect-oauth/storage"
)

// Session identifies the end user behind a first-party dashboard session.
type Session struct {
	UserID string
	TeamID string
}

// SessionVerifier authenticates first-party requests (authorize endpoint,
// connected-apps management). It is supplied by the host application.
type SessionVerifier interface {
	VerifySession(r *http.Request) (*Session, error)
}

// Config holds the HTTP layer configuration.
type Config struct {
	// Server is the flow engine. Required.
	Server *server.Server

	// Sessions authenticates first-party endpoints. Required for the
	// authorize and connected-apps routes.
	Sessions SessionVerifier

	// RateLimiter gates the token endpoint by client IP. Optional.
	RateLimiter *security.RateLimiter

	// TrustProxyHeaders enables X-Forwarded-For parsing for client IPs.
	TrustProxyHeaders bool

	// TrustedProxyCount is the number of trusted reverse proxies in front of
	// the service when TrustProxyHeaders is set.
	TrustedProxyCount int

	// Logger receives structured logs. Defaults to slog.Default().
	Logger *slog.Logger
}

// Handler is the HTTP front end for the authorization server.
type Handler struct {
	server      *server.Server
	sessions    SessionVerifier
	rateLimiter *security.RateLimiter
	trustProxy  bool
	proxyCount  int
	logger      *slog.Logger
}

// New creates the HTTP handler.
func New(config Config) (*Handler, error) {
	if config.Server == nil {
		return nil, errors.New("server is required")
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	return &Handler{
		server:      config.Server,
		sessions:    config.Sessions,
		rateLimiter: config.RateLimiter,
		trustProxy:  config.TrustProxyHeaders,
		proxyCount:  config.TrustedProxyCount,
		logger:      config.Logger,
	}, nil
}

// Router assembles the chi router with all OAuth routes mounted.
func (h *Handler) Router() chi.Router {
	r := chi.NewRouter()
	r.Use(security.RequestID)
	r.Use(h.securityHeaders)

	r.Route("/oauth", func(r chi.Router) {
		r.With(h.requireSession).Get("/authorize", h.handleAuthorizeInfo)
		r.With(h.requireSession).Post("/authorize", h.handleAuthorizeDecision)

		r.Group(func(r chi.Router) {
			r.Use(h.rateLimit)
			r.Post("/token", h.handleToken)
			r.Post("/revoke", h.handleRevoke)
		})

		r.With(h.requireSession).Get("/applications", h.handleListApplications)
		r.With(h.requireSession).Delete("/applications/{applicationID}", h.handleDisconnectApplication)
	})
	return r
}

type sessionContextKey struct{}

func sessionFrom(ctx context.Context) *Session {
	s, _ := ctx.Value(sessionContextKey{}).(*Session)
	return s
}

// ============================================================
// Middleware
// ============================================================

func (h *Handler) securityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		security.SetSecurityHeaders(w)
		next.ServeHTTP(w, r)
	})
}

func (h *Handler) requireSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if h.sessions == nil {
			h.writeError(w, r, oauth.ErrAccessDenied("Authentication is not configured"))
			return
		}
		session, err := h.sessions.VerifySession(r)
		if err != nil || session == nil {
			h.writeError(w, r, oauth.ErrAccessDenied("Authentication required"))
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), sessionContextKey{}, session)))
	})
}

func (h *Handler) rateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if h.rateLimiter != nil {
			ip := security.GetClientIP(r, h.trustProxy, h.proxyCount)
			if !h.rateLimiter.Allow(ip) {
				h.logger.Warn("rate limit exceeded", "ip", ip, "path", r.URL.Path)
				w.Header().Set("Retry-After", "60")
				h.writeErrorStatus(w, r, http.StatusTooManyRequests,
					oauth.ErrorCodeRateLimitExceeded, "Too many requests")
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}

// RequireAccessToken authenticates resource requests with a bearer token and
// attaches the resolved AuthContext to the request context. Intended for
// mounting in front of the host application's API routes.
func (h *Handler) RequireAccessToken(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := bearerToken(r)
		if token == "" {
			w.Header().Set("WWW-Authenticate", `Bearer error="invalid_token"`)
			h.writeError(w, r, oauth.ErrInvalidToken("Missing access token"))
			return
		}
		auth, err := h.server.ValidateAccessToken(r.Context(), token)
		if err != nil {
			w.Header().Set("WWW-Authenticate", `Bearer error="invalid_token"`)
			h.writeError(w, r, err)
			return
		}
		next.ServeHTTP(w, r.WithContext(WithAuthContext(r.Context(), auth)))
	})
}

type authContextKey struct{}

// WithAuthContext attaches a validated grant to the context.
func WithAuthContext(ctx context.Context, auth *server.AuthContext) context.Context {
	return context.WithValue(ctx, authContextKey{}, auth)
}

// AuthContextFrom retrieves the validated grant, or nil.
func AuthContextFrom(ctx context.Context) *server.AuthContext {
	auth, _ := ctx.Value(authContextKey{}).(*server.AuthContext)
	return auth
}

func bearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if len(header) > len(prefix) && strings.EqualFold(header[:len(prefix)], prefix) {
		return header[len(prefix):]
	}
	return ""
}

// ============================================================
// Authorize
// ============================================================

// handleAuthorizeInfo validates an authorization request and returns the
// consent information the dashboard renders.
func (h *Handler) handleAuthorizeInfo(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	if rt := q.Get("response_type"); rt != "" && rt != "code" {
		h.writeError(w, r, oauth.ErrInvalidRequest("Unsupported response type"))
		return
	}

	info, err := h.server.ConsentInfo(r.Context(),
		q.Get("client_id"),
		q.Get("redirect_uri"),
		server.ParseScopeList(q.Get("scope")),
		q.Get("state"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, info)
}

type authorizeDecisionRequest struct {
	ClientID            string `json:"client_id"`
	RedirectURI         string `json:"redirect_uri"`
	Scope               string `json:"scope"`
	State               string `json:"state"`
	CodeChallenge       string `json:"code_challenge"`
	CodeChallengeMethod string `json:"code_challenge_method"`
	Decision            string `json:"decision"` // "allow" or "deny"
}

type authorizeDecisionResponse struct {
	RedirectURL string `json:"redirect_url"`
}

// handleAuthorizeDecision records the user's consent decision. Approval
// issues an authorization code; the response carries the redirect URL for
// the dashboard to follow.
func (h *Handler) handleAuthorizeDecision(w http.ResponseWriter, r *http.Request) {
	session := sessionFrom(r.Context())

	var req authorizeDecisionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, r, oauth.ErrInvalidRequest("Invalid request body"))
		return
	}

	// The client and redirect target are validated before either branch: a
	// deny must not redirect to an unregistered URI or echo state for an
	// unknown client.
	app, err := h.server.GetApplicationByClientID(r.Context(), req.ClientID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if !redirectURIRegistered(app.RedirectURIs, req.RedirectURI) {
		h.writeError(w, r, oauth.ErrInvalidRequest("Invalid redirect URI"))
		return
	}

	if req.Decision == "deny" {
		redirect, err := appendQuery(req.RedirectURI, map[string]string{
			"error": oauth.ErrorCodeAccessDenied,
			"state": req.State,
		})
		if err != nil {
			h.writeError(w, r, oauth.ErrInvalidRequest("Invalid redirect URI"))
			return
		}
		h.writeJSON(w, http.StatusOK, authorizeDecisionResponse{RedirectURL: redirect})
		return
	}

	grant, err := h.server.CreateAuthorizationCode(r.Context(), server.CreateAuthorizationCodeRequest{
		ApplicationID:       app.ID,
		UserID:              session.UserID,
		TeamID:              session.TeamID,
		Scopes:              server.ParseScopeList(req.Scope),
		RedirectURI:         req.RedirectURI,
		CodeChallenge:       req.CodeChallenge,
		CodeChallengeMethod: req.CodeChallengeMethod,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	redirect, err := appendQuery(req.RedirectURI, map[string]string{
		"code":  grant.Code,
		"state": req.State,
	})
	if err != nil {
		h.writeError(w, r, oauth.ErrInvalidRequest("Invalid redirect URI"))
		return
	}
	h.writeJSON(w, http.StatusOK, authorizeDecisionResponse{RedirectURL: redirect})
}

func redirectURIRegistered(registered []string, uri string) bool {
	if uri == "" {
		return false
	}
	for _, candidate := range registered {
		if candidate == uri {
			return true
		}
	}
	return false
}

func appendQuery(rawURL string, params map[string]string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", err
	}
	q := u.Query()
	for k, v := range params {
		if v != "" {
			q.Set(k, v)
		}
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// ============================================================
// Token
// ============================================================

type tokenRequest struct {
	GrantType    string `json:"grant_type"`
	Code         string `json:"code"`
	RedirectURI  string `json:"redirect_uri"`
	CodeVerifier string `json:"code_verifier"`
	RefreshToken string `json:"refresh_token"`
	ClientID     string `json:"client_id"`
	ClientSecret string `json:"client_secret"`
	Scope        string `json:"scope"`
}

// parseTokenRequest accepts both form-encoded and JSON bodies. Client
// credentials may also arrive via HTTP basic auth.
func parseTokenRequest(r *http.Request) (*tokenRequest, error) {
	req := &tokenRequest{}

	if strings.HasPrefix(r.Header.Get("Content-Type"), "application/json") {
		if err := json.NewDecoder(r.Body).Decode(req); err != nil {
			return nil, oauth.ErrInvalidRequest("Invalid request body")
		}
	} else {
		if err := r.ParseForm(); err != nil {
			return nil, oauth.ErrInvalidRequest("Invalid request body")
		}
		req.GrantType = r.PostFormValue("grant_type")
		req.Code = r.PostFormValue("code")
		req.RedirectURI = r.PostFormValue("redirect_uri")
		req.CodeVerifier = r.PostFormValue("code_verifier")
		req.RefreshToken = r.PostFormValue("refresh_token")
		req.ClientID = r.PostFormValue("client_id")
		req.ClientSecret = r.PostFormValue("client_secret")
		req.Scope = r.PostFormValue("scope")
	}

	if id, secret, ok := r.BasicAuth(); ok {
		req.ClientID = id
		req.ClientSecret = secret
	}
	return req, nil
}

func (h *Handler) handleToken(w http.ResponseWriter, r *http.Request) {
	req, err := parseTokenRequest(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	app, err := h.server.VerifyClientCredentials(r.Context(), req.ClientID, req.ClientSecret)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	var pair *server.TokenPair
	switch req.GrantType {
	case "authorization_code":
		pair, err = h.server.ExchangeAuthorizationCode(r.Context(), server.ExchangeRequest{
			Code:          req.Code,
			ApplicationID: app.ID,
			RedirectURI:   req.RedirectURI,
			CodeVerifier:  req.CodeVerifier,
		})
	case "refresh_token":
		pair, err = h.server.RefreshAccessToken(r.Context(), server.RefreshRequest{
			RefreshToken:  req.RefreshToken,
			ApplicationID: app.ID,
			Scopes:        server.ParseScopeList(req.Scope),
		})
	default:
		err = oauth.ErrUnsupportedGrantType("Unsupported grant type")
	}
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	h.writeJSON(w, http.StatusOK, oauth.TokenResponse{
		AccessToken:  pair.AccessToken,
		TokenType:    pair.TokenType,
		ExpiresIn:    pair.ExpiresIn,
		RefreshToken: pair.RefreshToken,
		Scope:        strings.Join(pair.Scopes, " "),
	})
}

// ============================================================
// Revoke
// ============================================================

type revokeRequest struct {
	Token        string `json:"token"`
	ClientID     string `json:"client_id"`
	ClientSecret string `json:"client_secret"`
}

func (h *Handler) handleRevoke(w http.ResponseWriter, r *http.Request) {
	req := &revokeRequest{}
	if strings.HasPrefix(r.Header.Get("Content-Type"), "application/json") {
		if err := json.NewDecoder(r.Body).Decode(req); err != nil {
			h.writeError(w, r, oauth.ErrInvalidRequest("Invalid request body"))
			return
		}
	} else {
		if err := r.ParseForm(); err != nil {
			h.writeError(w, r, oauth.ErrInvalidRequest("Invalid request body"))
			return
		}
		req.Token = r.PostFormValue("token")
		req.ClientID = r.PostFormValue("client_id")
		req.ClientSecret = r.PostFormValue("client_secret")
	}
	if id, secret, ok := r.BasicAuth(); ok {
		req.ClientID = id
		req.ClientSecret = secret
	}
	if req.Token == "" {
		h.writeError(w, r, oauth.ErrInvalidRequest("Token is required"))
		return
	}

	app, err := h.server.VerifyClientCredentials(r.Context(), req.ClientID, req.ClientSecret)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	ip := security.GetClientIP(r, h.trustProxy, h.proxyCount)
	err = h.server.RevokeAccessToken(r.Context(), req.Token, app.ID, ip)
	var oe *oauth.OAuthError
	if err != nil && !(errors.As(err, &oe) && oe.Code == oauth.ErrorCodeInvalidToken) {
		h.writeError(w, r, err)
		return
	}
	// RFC 7009: revoking an unknown token is a success.
	h.writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

// ============================================================
// Connected applications
// ============================================================

func (h *Handler) handleListApplications(w http.ResponseWriter, r *http.Request) {
	session := sessionFrom(r.Context())

	apps, err := h.server.ListAuthorizedApplications(r.Context(), session.UserID, session.TeamID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if apps == nil {
		apps = []*storage.AuthorizedApplication{}
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"data": apps})
}

func (h *Handler) handleDisconnectApplication(w http.ResponseWriter, r *http.Request) {
	session := sessionFrom(r.Context())
	applicationID := chi.URLParam(r, "applicationID")

	count, err := h.server.RevokeUserApplicationTokens(r.Context(), session.UserID, applicationID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"revoked": count})
}

// ============================================================
// Responses
// ============================================================

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Error("failed to encode response", "error", err)
	}
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	var oe *oauth.OAuthError
	if errors.As(err, &oe) {
		h.writeErrorStatus(w, r, oe.Status, oe.Code, oe.Description)
		return
	}
	h.logger.Error("unhandled error", "error", err, "path", r.URL.Path)
	h.writeErrorStatus(w, r, http.StatusInternalServerError,
		oauth.ErrorCodeServerError, "Internal server error")
}

func (h *Handler) writeErrorStatus(w http.ResponseWriter, r *http.Request, status int, code, description string) {
	if status >= 500 {
		h.logger.Error("request failed",
			"status", status,
			"error", code,
			"path", r.URL.Path,
			"request_id", security.GetRequestID(r.Context()))
	}
	h.writeJSON(w, status, oauth.ErrorResponse{
		Error:            code,
		ErrorDescription: description,
	})
}
