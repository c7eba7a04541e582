package oauth

// TokenResponse represents an OAuth 2.0 token endpoint response (RFC 6749 Section 5.1)
type TokenResponse struct {
	// AccessToken is the opaque access token
	AccessToken string `json:"access_token"`

	// TokenType is always "Bearer"
	TokenType string `json:"token_type"`

	// ExpiresIn is the access token lifetime in seconds
	ExpiresIn int64 `json:"expires_in"`

	// RefreshToken is the opaque refresh token
	RefreshToken string `json:"refresh_token,omitempty"`

	// Scope is the space-separated granted scope set
	Scope string `json:"scope,omitempty"`
}

// ErrorResponse represents an OAuth error response body
type ErrorResponse struct {
	// Error is the RFC 6749 error code
	Error string `json:"error"`

	// ErrorDescription provides additional information
	ErrorDescription string `json:"error_description,omitempty"`
}

// ConsentInfo is the application information shown on the consent screen
// when a client starts an authorization flow.
type ConsentInfo struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Description string   `json:"description,omitempty"`
	LogoURL     string   `json:"logo_url,omitempty"`
	Website     string   `json:"website,omitempty"`
	ClientID    string   `json:"client_id"`
	Scopes      []string `json:"scopes"`
	RedirectURI string   `json:"redirect_uri"`
	State       string   `json:"state,omitempty"`
}
