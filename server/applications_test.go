package server

import (
	"context"
	"strings"
	"testing"

	oauth "github.com/middayhq/connect-oauth"
	"github.com/middayhq/connect-oauth/security"
	"github.com/middayhq/connect-oauth/storage"
)

func TestRegisterApplicationConfidential(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	reg, err := env.server.RegisterApplication(ctx, RegisterApplicationRequest{
		Name:         "Acme Integration",
		RedirectURIs: []string{"https://acme.example.com/oauth/callback"},
		Scopes:       []string{"transactions.read"},
		TeamID:       "team-owner",
		CreatedBy:    "user-1",
	})
	if err != nil {
		t.Fatalf("RegisterApplication failed: %v", err)
	}

	app := reg.Application
	if !strings.HasPrefix(app.ClientID, security.PrefixClientID) {
		t.Errorf("client id missing prefix: %q", app.ClientID)
	}
	if !strings.HasPrefix(reg.ClientSecret, security.PrefixClientSecret) {
		t.Errorf("client secret missing prefix: %q", reg.ClientSecret)
	}
	if app.ClientSecretHash == "" || app.ClientSecretHash == reg.ClientSecret {
		t.Error("stored secret must be a hash, not the plaintext")
	}
	if app.Slug != "acme-integration" {
		t.Errorf("expected slug acme-integration, got %q", app.Slug)
	}
	if app.Status != storage.ApplicationStatusDraft || !app.Active {
		t.Errorf("new applications must start active in draft, got status=%q active=%v", app.Status, app.Active)
	}
}

func TestRegisterApplicationPublic(t *testing.T) {
	env := newTestEnv(t)

	reg, err := env.server.RegisterApplication(context.Background(), RegisterApplicationRequest{
		Name:         "Mobile App",
		RedirectURIs: []string{"https://mobile.example.com/callback"},
		Scopes:       []string{"transactions.read"},
		IsPublic:     true,
	})
	if err != nil {
		t.Fatalf("RegisterApplication failed: %v", err)
	}
	if reg.ClientSecret != "" || reg.Application.ClientSecretHash != "" {
		t.Error("public clients must not get a client secret")
	}
}

func TestRegisterApplicationRejectsBadRedirectURI(t *testing.T) {
	env := newTestEnv(t)

	for _, uri := range []string{
		"http://acme.example.com/callback",
		"not a url at all ://",
		"/relative/path",
		"ftp://example.com/x",
	} {
		_, err := env.server.RegisterApplication(context.Background(), RegisterApplicationRequest{
			Name:         "Bad URIs",
			RedirectURIs: []string{uri},
			Scopes:       []string{"transactions.read"},
		})
		assertOAuthError(t, err, oauth.ErrorCodeInvalidRequest, "")
	}

	// http on localhost is allowed for development.
	if _, err := env.server.RegisterApplication(context.Background(), RegisterApplicationRequest{
		Name:         "Local Dev",
		RedirectURIs: []string{"http://localhost:3000/callback"},
		Scopes:       []string{"transactions.read"},
	}); err != nil {
		t.Errorf("localhost http redirect should be accepted: %v", err)
	}
}

func TestVerifyClientCredentials(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	reg, err := env.server.RegisterApplication(ctx, RegisterApplicationRequest{
		Name:         "Acme Integration",
		RedirectURIs: []string{"https://acme.example.com/callback"},
		Scopes:       []string{"transactions.read"},
	})
	if err != nil {
		t.Fatalf("RegisterApplication failed: %v", err)
	}
	// Fresh registrations are usable immediately; marketplace status does
	// not gate credential verification.
	app := reg.Application
	verified, err := env.server.VerifyClientCredentials(ctx, app.ClientID, reg.ClientSecret)
	if err != nil {
		t.Fatalf("VerifyClientCredentials failed: %v", err)
	}
	if verified.ID != app.ID {
		t.Errorf("expected application %q, got %q", app.ID, verified.ID)
	}

	_, err = env.server.VerifyClientCredentials(ctx, app.ClientID, "mid_app_secret_wrong")
	assertOAuthError(t, err, oauth.ErrorCodeInvalidClient, "Invalid client credentials")

	_, err = env.server.VerifyClientCredentials(ctx, app.ClientID, "")
	assertOAuthError(t, err, oauth.ErrorCodeInvalidClient, "Client secret is required")

	_, err = env.server.VerifyClientCredentials(ctx, "mid_client_unknown", reg.ClientSecret)
	assertOAuthError(t, err, oauth.ErrorCodeInvalidClient, "Invalid client")
}

func TestVerifyClientCredentialsPublicClient(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	// env.app is public and active.
	verified, err := env.server.VerifyClientCredentials(ctx, env.app.ClientID, "")
	if err != nil {
		t.Fatalf("VerifyClientCredentials failed: %v", err)
	}
	if verified.ID != env.app.ID {
		t.Errorf("expected application %q, got %q", env.app.ID, verified.ID)
	}

	_, err = env.server.VerifyClientCredentials(ctx, env.app.ClientID, "mid_app_secret_anything")
	assertOAuthError(t, err, oauth.ErrorCodeInvalidClient, "Public clients must not send a client secret")
}

func TestRegenerateClientSecret(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	reg, err := env.server.RegisterApplication(ctx, RegisterApplicationRequest{
		Name:         "Acme Integration",
		RedirectURIs: []string{"https://acme.example.com/callback"},
		Scopes:       []string{"transactions.read"},
	})
	if err != nil {
		t.Fatalf("RegisterApplication failed: %v", err)
	}
	app := reg.Application
	fresh, err := env.server.RegenerateClientSecret(ctx, app.ID)
	if err != nil {
		t.Fatalf("RegenerateClientSecret failed: %v", err)
	}
	if fresh == reg.ClientSecret {
		t.Error("regeneration must mint a different secret")
	}

	// The old secret stops working; the new one works.
	if _, err := env.server.VerifyClientCredentials(ctx, app.ClientID, reg.ClientSecret); err == nil {
		t.Error("old client secret must be rejected after regeneration")
	}
	if _, err := env.server.VerifyClientCredentials(ctx, app.ClientID, fresh); err != nil {
		t.Errorf("new client secret should verify: %v", err)
	}
}

func TestRegisteredApplicationCompletesFlow(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	reg, err := env.server.RegisterApplication(ctx, RegisterApplicationRequest{
		Name:         "Acme Integration",
		RedirectURIs: []string{"https://acme.example.com/callback"},
		Scopes:       []string{"transactions.read"},
	})
	if err != nil {
		t.Fatalf("RegisterApplication failed: %v", err)
	}
	app := reg.Application

	// A just-registered application (status draft) must be able to run the
	// whole flow: consent info, code issuance, and exchange.
	if _, err := env.server.ConsentInfo(ctx, app.ClientID,
		"https://acme.example.com/callback", []string{"transactions.read"}, ""); err != nil {
		t.Fatalf("ConsentInfo failed for fresh registration: %v", err)
	}

	grant, err := env.server.CreateAuthorizationCode(ctx, CreateAuthorizationCodeRequest{
		ApplicationID: app.ID,
		UserID:        "user-1",
		TeamID:        "team-1",
		Scopes:        []string{"transactions.read"},
		RedirectURI:   "https://acme.example.com/callback",
	})
	if err != nil {
		t.Fatalf("CreateAuthorizationCode failed for fresh registration: %v", err)
	}
	if _, err := env.server.ExchangeAuthorizationCode(ctx, ExchangeRequest{
		Code:          grant.Code,
		ApplicationID: app.ID,
		RedirectURI:   "https://acme.example.com/callback",
	}); err != nil {
		t.Fatalf("ExchangeAuthorizationCode failed for fresh registration: %v", err)
	}
}

func TestUpdateApplication(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	reg, err := env.server.RegisterApplication(ctx, RegisterApplicationRequest{
		Name:         "Acme Integration",
		Description:  "original",
		RedirectURIs: []string{"https://acme.example.com/callback"},
		Scopes:       []string{"transactions.read"},
	})
	if err != nil {
		t.Fatalf("RegisterApplication failed: %v", err)
	}

	name := "Acme Books"
	desc := "rewritten"
	updated, err := env.server.UpdateApplication(ctx, UpdateApplicationRequest{
		ApplicationID: reg.Application.ID,
		Name:          &name,
		Description:   &desc,
		RedirectURIs:  []string{"https://books.acme.example.com/callback"},
	})
	if err != nil {
		t.Fatalf("UpdateApplication failed: %v", err)
	}
	if updated.Name != "Acme Books" || updated.Slug != "acme-books" {
		t.Errorf("rename must regenerate the slug, got name=%q slug=%q", updated.Name, updated.Slug)
	}
	if updated.Description != "rewritten" {
		t.Errorf("expected updated description, got %q", updated.Description)
	}
	if len(updated.RedirectURIs) != 1 || updated.RedirectURIs[0] != "https://books.acme.example.com/callback" {
		t.Errorf("unexpected redirect URIs: %v", updated.RedirectURIs)
	}
	// Untouched fields survive.
	if updated.ClientID != reg.Application.ClientID {
		t.Error("update must not change the client ID")
	}

	_, err = env.server.UpdateApplication(ctx, UpdateApplicationRequest{
		ApplicationID: reg.Application.ID,
		RedirectURIs:  []string{"ftp://acme.example.com/callback"},
	})
	assertOAuthError(t, err, oauth.ErrorCodeInvalidRequest, "")

	_, err = env.server.UpdateApplication(ctx, UpdateApplicationRequest{ApplicationID: "missing"})
	assertOAuthError(t, err, oauth.ErrorCodeInvalidClient, "Invalid client")
}

func TestUpdateApplicationStatus(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	reg, err := env.server.RegisterApplication(ctx, RegisterApplicationRequest{
		Name:         "Acme Integration",
		RedirectURIs: []string{"https://acme.example.com/callback"},
		Scopes:       []string{"transactions.read"},
	})
	if err != nil {
		t.Fatalf("RegisterApplication failed: %v", err)
	}

	for _, status := range []string{
		storage.ApplicationStatusPending,
		storage.ApplicationStatusApproved,
		storage.ApplicationStatusRejected,
	} {
		updated, err := env.server.UpdateApplicationStatus(ctx, reg.Application.ID, status)
		if err != nil {
			t.Fatalf("UpdateApplicationStatus(%q) failed: %v", status, err)
		}
		if updated.Status != status {
			t.Errorf("expected status %q, got %q", status, updated.Status)
		}
	}

	_, err = env.server.UpdateApplicationStatus(ctx, reg.Application.ID, "published")
	assertOAuthError(t, err, oauth.ErrorCodeInvalidRequest, "")
}

func TestConsentInfo(t *testing.T) {
	env := newTestEnv(t)

	info, err := env.server.ConsentInfo(context.Background(),
		env.app.ClientID,
		"https://example.com/callback",
		[]string{"transactions.read"},
		"xyz")
	if err != nil {
		t.Fatalf("ConsentInfo failed: %v", err)
	}
	if info.Name != "Raycast" || info.State != "xyz" {
		t.Errorf("unexpected consent info: %+v", info)
	}

	_, err = env.server.ConsentInfo(context.Background(),
		env.app.ClientID,
		"https://evil.example.com/callback",
		[]string{"transactions.read"},
		"")
	assertOAuthError(t, err, oauth.ErrorCodeInvalidRequest, "Invalid redirect URI")
}

func TestSlugify(t *testing.T) {
	cases := map[string]string{
		"Raycast":             "raycast",
		"Acme  Integration!!": "acme-integration",
		"  Trailing ":         "trailing",
		"Ärger":               "rger",
	}
	for in, want := range cases {
		if got := Slugify(in); got != want {
			t.Errorf("Slugify(%q) = %q, want %q", in, got, want)
		}
	}
}
