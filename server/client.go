package server

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/embercloud/oauth/instrumentation"
	"github.com/embercloud/oauth/storage"
)

// RegisterClientRequest carries the parameters of a client registration
type RegisterClientRequest struct {
	ClientName     string
	ClientType     string // "confidential" (default) or "public"
	RedirectURIs   []string
	GrantTypes     []string // defaults to authorization_code + refresh_token
	Scopes         []string // optional scope restriction
	AccessTokenTTL time.Duration
}

// RegisterClient registers a new OAuth client and returns the stored record
// plus the plaintext secret. The secret is returned exactly once; only its
// bcrypt hash is persisted.
func (s *Server) RegisterClient(ctx context.Context, req *RegisterClientRequest) (*storage.Client, string, error) {
	ctx, span := s.startSpan(ctx, "RegisterClient")
	defer span.End()

	if len(req.RedirectURIs) == 0 {
		instrumentation.SetSpanError(span, "missing_redirect_uris")
		return nil, "", errInvalidRequest("at least one redirect_uri is required")
	}
	for _, raw := range req.RedirectURIs {
		u, err := url.Parse(raw)
		if err != nil || u.Scheme == "" || u.Host == "" {
			instrumentation.SetSpanError(span, "invalid_redirect_uri")
			return nil, "", errInvalidRedirectURI(fmt.Sprintf("redirect_uri %q is not an absolute URL", raw))
		}
		if u.Fragment != "" {
			instrumentation.SetSpanError(span, "invalid_redirect_uri")
			return nil, "", errInvalidRedirectURI("redirect_uri must not contain a fragment")
		}
	}

	clientType := req.ClientType
	switch clientType {
	case "":
		clientType = ClientTypeConfidential
	case ClientTypeConfidential, ClientTypePublic:
	default:
		instrumentation.SetSpanError(span, "invalid_client_type")
		return nil, "", errInvalidRequest(fmt.Sprintf("unknown client_type: %q", req.ClientType))
	}

	grantTypes := req.GrantTypes
	if len(grantTypes) == 0 {
		grantTypes = []string{GrantTypeAuthorizationCode, GrantTypeRefreshToken}
	}

	var secret, secretHash string
	if clientType == ClientTypeConfidential {
		secret = generateOpaqueValue()
		hash, err := bcrypt.GenerateFromPassword([]byte(secret), bcrypt.DefaultCost)
		if err != nil {
			instrumentation.RecordError(span, err)
			return nil, "", fmt.Errorf("failed to hash client secret: %w", err)
		}
		secretHash = string(hash)
	}

	client := &storage.Client{
		ClientID:         uuid.NewString(),
		ClientSecretHash: secretHash,
		ClientType:       clientType,
		ClientName:       req.ClientName,
		RedirectURIs:     req.RedirectURIs,
		GrantTypes:       grantTypes,
		Scopes:           req.Scopes,
		AccessTokenTTL:   req.AccessTokenTTL,
		CreatedAt:        time.Now(),
	}

	if err := s.clientStore.SaveClient(ctx, client); err != nil {
		instrumentation.RecordError(span, err)
		return nil, "", fmt.Errorf("failed to persist client: %w", err)
	}

	s.Logger.Info("Registered client",
		"client_id", client.ClientID,
		"client_type", client.ClientType,
		"redirect_uris", len(client.RedirectURIs))

	s.Auditor.LogClientRegistered(client.ClientID, client.ClientType, "")
	s.metrics().RecordClientRegistration(ctx, client.ClientType)
	instrumentation.SetSpanSuccess(span)

	return client, secret, nil
}

// GetClient retrieves a registered client by ID
func (s *Server) GetClient(ctx context.Context, clientID string) (*storage.Client, error) {
	return s.clientStore.GetClient(ctx, clientID)
}

// DeleteClient removes a client registration. Owner-driven; nothing cascades.
// Codes and tokens referencing the client become unusable by lookup-miss.
func (s *Server) DeleteClient(ctx context.Context, clientID string) error {
	ctx, span := s.startSpan(ctx, "DeleteClient")
	defer span.End()

	if err := s.clientStore.DeleteClient(ctx, clientID); err != nil {
		instrumentation.RecordError(span, err)
		return fmt.Errorf("failed to delete client: %w", err)
	}

	s.Logger.Info("Deleted client", "client_id", clientID)
	instrumentation.SetSpanSuccess(span)
	return nil
}
