package security

import (
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"time"
)

// Auditor handles security event logging with PII protection. User IDs are
// hashed before they reach the log stream so audit trails stay correlatable
// without exposing identities.
type Auditor struct {
	logger  *slog.Logger
	enabled bool
}

// NewAuditor creates a new security auditor
func NewAuditor(logger *slog.Logger, enabled bool) *Auditor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Auditor{
		logger:  logger,
		enabled: enabled,
	}
}

// Event represents a security audit event
type Event struct {
	Type          string
	UserID        string
	ApplicationID string
	IPAddress     string
	Details       map[string]any
	Timestamp     time.Time
}

// LogEvent logs a security event with hashed PII
func (a *Auditor) LogEvent(event Event) {
	if a == nil || !a.enabled {
		return
	}

	event.Timestamp = time.Now()

	a.logger.Info("security_audit",
		"event_type", event.Type,
		"user_id_hash", hashForLogging(event.UserID),
		"application_id", event.ApplicationID,
		"ip_address", event.IPAddress,
		"details", event.Details,
		"timestamp", event.Timestamp,
	)
}

// LogCodeIssued logs when an authorization code is minted
func (a *Auditor) LogCodeIssued(userID, applicationID, teamID string, scopes []string) {
	a.LogEvent(Event{
		Type:          "authorization_code_issued",
		UserID:        userID,
		ApplicationID: applicationID,
		Details: map[string]any{
			"team_id": teamID,
			"scopes":  scopes,
		},
	})
}

// LogTokenIssued logs when a token pair is issued
func (a *Auditor) LogTokenIssued(userID, applicationID, teamID string, scopes []string) {
	a.LogEvent(Event{
		Type:          "token_issued",
		UserID:        userID,
		ApplicationID: applicationID,
		Details: map[string]any{
			"team_id": teamID,
			"scopes":  scopes,
		},
	})
}

// LogTokenRefreshed logs when a token pair is rotated
func (a *Auditor) LogTokenRefreshed(userID, applicationID string) {
	a.LogEvent(Event{
		Type:          "token_refreshed",
		UserID:        userID,
		ApplicationID: applicationID,
	})
}

// LogTokenRevoked logs when a single token is revoked
func (a *Auditor) LogTokenRevoked(userID, applicationID, ipAddress string) {
	a.LogEvent(Event{
		Type:          "token_revoked",
		UserID:        userID,
		ApplicationID: applicationID,
		IPAddress:     ipAddress,
	})
}

// LogBulkRevocation logs a per-user-per-application bulk revocation
func (a *Auditor) LogBulkRevocation(userID, applicationID string, count int) {
	a.LogEvent(Event{
		Type:          "bulk_revocation",
		UserID:        userID,
		ApplicationID: applicationID,
		Details: map[string]any{
			"tokens_revoked": count,
		},
	})
}

// LogAuthFailure logs a failed grant or validation attempt
func (a *Auditor) LogAuthFailure(userID, applicationID, ipAddress, reason string) {
	a.LogEvent(Event{
		Type:          "auth_failure",
		UserID:        userID,
		ApplicationID: applicationID,
		IPAddress:     ipAddress,
		Details: map[string]any{
			"reason": reason,
		},
	})
}

// hashForLogging returns a short stable hash of an identifier so audit events
// can be correlated without logging the identifier itself.
func hashForLogging(id string) string {
	if id == "" {
		return ""
	}
	sum := sha256.Sum256([]byte(id))
	return hex.EncodeToString(sum[:])[:16]
}
