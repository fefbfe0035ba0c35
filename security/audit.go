package security

import (
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"time"
)

// Auditor handles security event logging with PII protection.
// User identifiers are hashed before they reach the log stream.
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
	Type      string
	UserID    string
	ClientID  string
	IPAddress string
	Details   map[string]any
	Timestamp time.Time
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
		"client_id", event.ClientID,
		"ip_address", event.IPAddress,
		"details", event.Details,
		"timestamp", event.Timestamp,
	)
}

// LogAuthorizationCodeIssued logs a successful authorization and code mint
func (a *Auditor) LogAuthorizationCodeIssued(userID, clientID string, scopes []string) {
	a.LogEvent(Event{
		Type:     EventAuthorizationCodeIssued,
		UserID:   userID,
		ClientID: clientID,
		Details: map[string]any{
			"scopes": scopes,
		},
	})
}

// LogTokenIssued logs a successful code exchange
func (a *Auditor) LogTokenIssued(userID, clientID string, scopes []string) {
	a.LogEvent(Event{
		Type:     EventTokenIssued,
		UserID:   userID,
		ClientID: clientID,
		Details: map[string]any{
			"scopes": scopes,
		},
	})
}

// LogTokenRefreshed logs a refresh-grant rotation
func (a *Auditor) LogTokenRefreshed(userID, clientID string, scopes []string) {
	a.LogEvent(Event{
		Type:     EventTokenRefreshed,
		UserID:   userID,
		ClientID: clientID,
		Details: map[string]any{
			"scopes":  scopes,
			"rotated": true,
		},
	})
}

// LogTokenRevoked logs a token revocation
func (a *Auditor) LogTokenRevoked(userID, clientID, tokenType string) {
	a.LogEvent(Event{
		Type:     EventTokenRevoked,
		UserID:   userID,
		ClientID: clientID,
		Details: map[string]any{
			"token_type": tokenType,
		},
	})
}

// LogAuthFailure logs an authentication or validation failure
func (a *Auditor) LogAuthFailure(userID, clientID, ipAddress, reason string) {
	a.LogEvent(Event{
		Type:      EventAuthFailure,
		UserID:    userID,
		ClientID:  clientID,
		IPAddress: ipAddress,
		Details: map[string]any{
			"reason": reason,
		},
	})
}

// LogClientRegistered logs a new client registration
func (a *Auditor) LogClientRegistered(clientID, clientType, ipAddress string) {
	a.LogEvent(Event{
		Type:      EventClientRegistered,
		ClientID:  clientID,
		IPAddress: ipAddress,
		Details: map[string]any{
			"client_type": clientType,
		},
	})
}

// LogPKCEFailure logs a failed PKCE verification
func (a *Auditor) LogPKCEFailure(userID, clientID, method string) {
	a.LogEvent(Event{
		Type:     EventInvalidPKCE,
		UserID:   userID,
		ClientID: clientID,
		Details: map[string]any{
			"method": method,
		},
	})
}

// hashForLogging produces a short stable hash of a sensitive identifier so
// log lines can be correlated without exposing the identifier itself.
func hashForLogging(value string) string {
	if value == "" {
		return ""
	}
	sum := sha256.Sum256([]byte(value))
	return hex.EncodeToString(sum[:8])
}
