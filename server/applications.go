package server

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/middayhq/connect-oauth/security"
	"github.com/middayhq/connect-oauth/storage"

	oauth "github.com/middayhq/connect-oauth"
)

var slugCleaner = regexp.MustCompile(`[^a-z0-9]+`)

// RegisterApplicationRequest carries the parameters for registering a new
// OAuth client application.
type RegisterApplicationRequest struct {
	Name         string
	Description  string
	LogoURL      string
	Website      string
	RedirectURIs []string
	Scopes       []string
	TeamID       string
	CreatedBy    string
	IsPublic     bool
}

// RegisteredApplication is the result of a registration. ClientSecret is the
// plaintext secret, returned exactly once; only its bcrypt hash is stored.
type RegisteredApplication struct {
	Application  *storage.Application
	ClientSecret string
}

// RegisterApplication registers a new client application, minting its client
// ID and, for confidential clients, a client secret. New applications start
// active in draft status.
func (s *Server) RegisterApplication(ctx context.Context, req RegisterApplicationRequest) (*RegisteredApplication, error) {
	ctx, span := s.tracer.Start(ctx, "RegisterApplication")
	defer span.End()

	if strings.TrimSpace(req.Name) == "" {
		return nil, oauth.ErrInvalidRequest("Application name is required")
	}
	if len(req.RedirectURIs) == 0 {
		return nil, oauth.ErrInvalidRequest("At least one redirect URI is required")
	}
	for _, uri := range req.RedirectURIs {
		if err := ValidateRedirectURIFormat(uri); err != nil {
			return nil, oauth.ErrInvalidRequest(err.Error())
		}
	}
	if len(req.Scopes) == 0 {
		return nil, oauth.ErrInvalidRequest("At least one scope is required")
	}

	now := s.config.Now.Now()
	app := &storage.Application{
		ID:           uuid.NewString(),
		Name:         strings.TrimSpace(req.Name),
		Slug:         Slugify(req.Name),
		Description:  req.Description,
		LogoURL:      req.LogoURL,
		Website:      req.Website,
		RedirectURIs: req.RedirectURIs,
		ClientID:     security.NewClientID(),
		Scopes:       req.Scopes,
		TeamID:       req.TeamID,
		CreatedBy:    req.CreatedBy,
		IsPublic:     req.IsPublic,
		Active:       true,
		Status:       storage.ApplicationStatusDraft,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	var plaintext string
	if !req.IsPublic {
		plaintext = security.NewClientSecret()
		hash, err := bcrypt.GenerateFromPassword([]byte(plaintext), bcrypt.DefaultCost)
		if err != nil {
			return nil, oauth.ErrServerError("Failed to create client secret")
		}
		app.ClientSecretHash = string(hash)
	}

	if err := s.apps.SaveApplication(ctx, app); err != nil {
		s.logger.Error("failed to store application", "error", err)
		return nil, oauth.ErrServerError("Failed to register application")
	}

	s.logger.Info("registered application",
		"application_id", app.ID,
		"name", app.Name,
		"public", app.IsPublic)
	return &RegisteredApplication{Application: app, ClientSecret: plaintext}, nil
}

// GetApplicationByClientID resolves a client ID to its application record.
func (s *Server) GetApplicationByClientID(ctx context.Context, clientID string) (*storage.Application, error) {
	app, err := s.apps.GetApplicationByClientID(ctx, clientID)
	if err != nil {
		if errors.Is(err, storage.ErrApplicationNotFound) {
			return nil, oauth.ErrInvalidClient("Invalid client")
		}
		return nil, oauth.ErrServerError("Failed to load application")
	}
	return app, nil
}

// VerifyClientCredentials authenticates a token-endpoint client.
//
// Confidential clients must present their secret; public clients must not
// have one to present. Secret comparison is bcrypt, constant-time by
// construction.
func (s *Server) VerifyClientCredentials(ctx context.Context, clientID, clientSecret string) (*storage.Application, error) {
	app, err := s.GetApplicationByClientID(ctx, clientID)
	if err != nil {
		return nil, err
	}
	if !applicationUsable(app) {
		return nil, oauth.ErrInvalidClient("Application is not active")
	}

	if app.IsPublic {
		if clientSecret != "" {
			return nil, oauth.ErrInvalidClient("Public clients must not send a client secret")
		}
		return app, nil
	}

	if clientSecret == "" {
		s.authFailure("", app.ID, "missing client secret")
		return nil, oauth.ErrInvalidClient("Client secret is required")
	}
	if err := bcrypt.CompareHashAndPassword([]byte(app.ClientSecretHash), []byte(clientSecret)); err != nil {
		s.authFailure("", app.ID, "client secret mismatch")
		return nil, oauth.ErrInvalidClient("Invalid client credentials")
	}
	return app, nil
}

// UpdateApplicationRequest carries a partial update. Nil pointer and nil
// slice fields leave the stored value unchanged.
type UpdateApplicationRequest struct {
	ApplicationID string
	Name          *string
	Description   *string
	LogoURL       *string
	Website       *string
	RedirectURIs  []string
	Scopes        []string
	Active        *bool
}

// UpdateApplication applies a partial update to a registered application.
// Renaming regenerates the slug.
func (s *Server) UpdateApplication(ctx context.Context, req UpdateApplicationRequest) (*storage.Application, error) {
	ctx, span := s.tracer.Start(ctx, "UpdateApplication")
	defer span.End()

	app, err := s.apps.GetApplication(ctx, req.ApplicationID)
	if err != nil {
		if errors.Is(err, storage.ErrApplicationNotFound) {
			return nil, oauth.ErrInvalidClient("Invalid client")
		}
		return nil, oauth.ErrServerError("Failed to load application")
	}

	if req.Name != nil {
		if strings.TrimSpace(*req.Name) == "" {
			return nil, oauth.ErrInvalidRequest("Application name is required")
		}
		app.Name = strings.TrimSpace(*req.Name)
		app.Slug = Slugify(*req.Name)
	}
	if req.Description != nil {
		app.Description = *req.Description
	}
	if req.LogoURL != nil {
		app.LogoURL = *req.LogoURL
	}
	if req.Website != nil {
		app.Website = *req.Website
	}
	if req.RedirectURIs != nil {
		if len(req.RedirectURIs) == 0 {
			return nil, oauth.ErrInvalidRequest("At least one redirect URI is required")
		}
		for _, uri := range req.RedirectURIs {
			if err := ValidateRedirectURIFormat(uri); err != nil {
				return nil, oauth.ErrInvalidRequest(err.Error())
			}
		}
		app.RedirectURIs = req.RedirectURIs
	}
	if req.Scopes != nil {
		if len(req.Scopes) == 0 {
			return nil, oauth.ErrInvalidRequest("At least one scope is required")
		}
		app.Scopes = req.Scopes
	}
	if req.Active != nil {
		app.Active = *req.Active
	}
	app.UpdatedAt = s.config.Now.Now()

	if err := s.apps.SaveApplication(ctx, app); err != nil {
		s.logger.Error("failed to store application", "error", err)
		return nil, oauth.ErrServerError("Failed to update application")
	}

	s.logger.Info("updated application", "application_id", app.ID)
	return app, nil
}

// UpdateApplicationStatus moves an application through marketplace review
// (draft, pending, approved, rejected).
func (s *Server) UpdateApplicationStatus(ctx context.Context, applicationID, status string) (*storage.Application, error) {
	ctx, span := s.tracer.Start(ctx, "UpdateApplicationStatus")
	defer span.End()

	switch status {
	case storage.ApplicationStatusDraft, storage.ApplicationStatusPending,
		storage.ApplicationStatusApproved, storage.ApplicationStatusRejected:
	default:
		return nil, oauth.ErrInvalidRequest(fmt.Sprintf("Unknown application status %q", status))
	}

	app, err := s.apps.GetApplication(ctx, applicationID)
	if err != nil {
		if errors.Is(err, storage.ErrApplicationNotFound) {
			return nil, oauth.ErrInvalidClient("Invalid client")
		}
		return nil, oauth.ErrServerError("Failed to load application")
	}

	app.Status = status
	app.UpdatedAt = s.config.Now.Now()

	if err := s.apps.SaveApplication(ctx, app); err != nil {
		s.logger.Error("failed to store application", "error", err)
		return nil, oauth.ErrServerError("Failed to update application status")
	}

	s.logger.Info("updated application status",
		"application_id", app.ID,
		"status", status)
	return app, nil
}

// RegenerateClientSecret replaces a confidential client's secret. All
// previously issued secrets stop working immediately; outstanding tokens are
// unaffected.
func (s *Server) RegenerateClientSecret(ctx context.Context, applicationID string) (string, error) {
	ctx, span := s.tracer.Start(ctx, "RegenerateClientSecret")
	defer span.End()

	app, err := s.apps.GetApplication(ctx, applicationID)
	if err != nil {
		if errors.Is(err, storage.ErrApplicationNotFound) {
			return "", oauth.ErrInvalidClient("Invalid client")
		}
		return "", oauth.ErrServerError("Failed to load application")
	}
	if app.IsPublic {
		return "", oauth.ErrInvalidRequest("Public clients do not have a client secret")
	}

	plaintext := security.NewClientSecret()
	hash, err := bcrypt.GenerateFromPassword([]byte(plaintext), bcrypt.DefaultCost)
	if err != nil {
		return "", oauth.ErrServerError("Failed to create client secret")
	}
	app.ClientSecretHash = string(hash)
	app.UpdatedAt = s.config.Now.Now()

	if err := s.apps.SaveApplication(ctx, app); err != nil {
		s.logger.Error("failed to store application", "error", err)
		return "", oauth.ErrServerError("Failed to regenerate client secret")
	}

	s.logger.Info("regenerated client secret", "application_id", app.ID)
	return plaintext, nil
}

// ConsentInfo assembles the data a consent screen needs for an authorization
// request, after validating the client, redirect URI, and scopes.
func (s *Server) ConsentInfo(ctx context.Context, clientID, redirectURI string, scopes []string, state string) (*oauth.ConsentInfo, error) {
	app, err := s.GetApplicationByClientID(ctx, clientID)
	if err != nil {
		return nil, err
	}
	if !applicationUsable(app) {
		return nil, oauth.ErrInvalidClient("Application is not active")
	}
	if !validRedirectURI(app, redirectURI) {
		return nil, oauth.ErrInvalidRequest("Invalid redirect URI")
	}
	if err := validateScopes(scopes, app.Scopes); err != nil {
		return nil, err
	}
	return &oauth.ConsentInfo{
		ID:          app.ID,
		Name:        app.Name,
		Description: app.Description,
		LogoURL:     app.LogoURL,
		Website:     app.Website,
		ClientID:    app.ClientID,
		Scopes:      scopes,
		RedirectURI: redirectURI,
		State:       state,
	}, nil
}

// Slugify derives a URL-safe slug from an application name.
func Slugify(name string) string {
	slug := strings.ToLower(strings.TrimSpace(name))
	slug = slugCleaner.ReplaceAllString(slug, "-")
	slug = strings.Trim(slug, "-")
	if slug == "" {
		slug = fmt.Sprintf("app-%d", time.Now().UnixNano())
	}
	return slug
}
