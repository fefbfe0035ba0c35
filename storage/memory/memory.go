// Package memory provides an in-memory implementation of all storage
// interfaces. It is suitable for development, testing, and single-instance
// deployments.
package memory

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/trace"
	"golang.org/x/crypto/bcrypt"

	"github.com/embercloud/oauth/instrumentation"
	"github.com/embercloud/oauth/internal/util"
	"github.com/embercloud/oauth/security"
	"github.com/embercloud/oauth/storage"
)

const (
	// tokenIDLogLength is the number of characters to include when logging
	// token and code values. Enough for correlation, useless to an attacker.
	tokenIDLogLength = 8
)

// Store is an in-memory implementation of all storage interfaces.
type Store struct {
	mu sync.Mutex

	clients map[string]*storage.Client
	codes   map[string]*storage.AuthorizationCode

	// Token records are keyed by access token; refreshIndex maps refresh
	// token values to their owning access token.
	tokens       map[string]*storage.Token
	refreshIndex map[string]string

	// Atomic counters for metrics (lock-free access during collection)
	codesCountAtomic   atomic.Int64
	tokensCountAtomic  atomic.Int64
	clientsCountAtomic atomic.Int64

	instrumentation *instrumentation.Instrumentation
	tracer          trace.Tracer

	cleanupInterval time.Duration
	stopCleanup     chan struct{}
	stopOnce        sync.Once
	logger          *slog.Logger
}

// Compile-time interface checks
var (
	_ storage.ClientStore = (*Store)(nil)
	_ storage.CodeStore   = (*Store)(nil)
	_ storage.TokenStore  = (*Store)(nil)
)

// New creates a new in-memory store with the default cleanup interval (1 minute)
func New() *Store {
	return NewWithInterval(time.Minute)
}

// NewWithInterval creates a new in-memory store with a custom cleanup interval.
// A non-positive interval disables the background sweep; expiry is still
// enforced lazily at read time.
func NewWithInterval(cleanupInterval time.Duration) *Store {
	s := &Store{
		clients:         make(map[string]*storage.Client),
		codes:           make(map[string]*storage.AuthorizationCode),
		tokens:          make(map[string]*storage.Token),
		refreshIndex:    make(map[string]string),
		cleanupInterval: cleanupInterval,
		stopCleanup:     make(chan struct{}),
		logger:          slog.Default(),
	}

	if cleanupInterval > 0 {
		go s.cleanupLoop()
	}

	return s
}

// SetLogger sets the logger for the store
func (s *Store) SetLogger(logger *slog.Logger) {
	if logger != nil {
		s.logger = logger
	}
}

// SetInstrumentation sets the OpenTelemetry instrumentation for the store.
// When set, storage operations are traced and counted.
func (s *Store) SetInstrumentation(inst *instrumentation.Instrumentation) {
	s.instrumentation = inst
	if inst != nil {
		s.tracer = inst.Tracer("storage/memory")
	}
}

// Stop terminates the background cleanup goroutine. Safe to call more than once.
func (s *Store) Stop() {
	s.stopOnce.Do(func() {
		close(s.stopCleanup)
	})
}

// ============================================================
// ClientStore
// ============================================================

// SaveClient persists a registered client
func (s *Store) SaveClient(ctx context.Context, client *storage.Client) error {
	ctx, span := s.startStorageSpan(ctx, "SaveClient")
	defer span.End()

	if client == nil || client.ClientID == "" {
		return s.finish(ctx, span, "SaveClient", fmt.Errorf("invalid client"))
	}

	s.mu.Lock()
	if _, exists := s.clients[client.ClientID]; !exists {
		s.clientsCountAtomic.Add(1)
	}
	clientCopy := *client
	s.clients[client.ClientID] = &clientCopy
	s.mu.Unlock()

	s.logger.Debug("Saved client", "client_id", client.ClientID)
	return s.finish(ctx, span, "SaveClient", nil)
}

// GetClient retrieves a client by ID
func (s *Store) GetClient(ctx context.Context, clientID string) (*storage.Client, error) {
	ctx, span := s.startStorageSpan(ctx, "GetClient")
	defer span.End()

	s.mu.Lock()
	client, ok := s.clients[clientID]
	s.mu.Unlock()

	if !ok {
		return nil, s.finish(ctx, span, "GetClient", storage.ErrClientNotFound)
	}
	if client.Revoked {
		return nil, s.finish(ctx, span, "GetClient", storage.ErrClientRevoked)
	}

	// Return a copy to prevent callers from mutating the stored record
	clientCopy := *client
	_ = s.finish(ctx, span, "GetClient", nil)
	return &clientCopy, nil
}

// ValidateClientSecret validates a client's secret against its bcrypt hash
func (s *Store) ValidateClientSecret(ctx context.Context, clientID, clientSecret string) error {
	ctx, span := s.startStorageSpan(ctx, "ValidateClientSecret")
	defer span.End()

	s.mu.Lock()
	client, ok := s.clients[clientID]
	s.mu.Unlock()

	if !ok {
		return s.finish(ctx, span, "ValidateClientSecret", storage.ErrClientNotFound)
	}
	if client.Revoked {
		return s.finish(ctx, span, "ValidateClientSecret", storage.ErrClientRevoked)
	}
	if client.ClientSecretHash == "" {
		// Public clients have no secret to validate
		return s.finish(ctx, span, "ValidateClientSecret",
			fmt.Errorf("%w: client has no secret", storage.ErrInvalidClientSecret))
	}

	// bcrypt comparison is constant-time for equal-cost hashes
	if err := bcrypt.CompareHashAndPassword([]byte(client.ClientSecretHash), []byte(clientSecret)); err != nil {
		return s.finish(ctx, span, "ValidateClientSecret", storage.ErrInvalidClientSecret)
	}

	return s.finish(ctx, span, "ValidateClientSecret", nil)
}

// ListClients lists all registered clients
func (s *Store) ListClients(ctx context.Context) ([]*storage.Client, error) {
	ctx, span := s.startStorageSpan(ctx, "ListClients")
	defer span.End()

	s.mu.Lock()
	clients := make([]*storage.Client, 0, len(s.clients))
	for _, client := range s.clients {
		clientCopy := *client
		clients = append(clients, &clientCopy)
	}
	s.mu.Unlock()

	_ = s.finish(ctx, span, "ListClients", nil)
	return clients, nil
}

// DeleteClient removes a client registration
func (s *Store) DeleteClient(ctx context.Context, clientID string) error {
	ctx, span := s.startStorageSpan(ctx, "DeleteClient")
	defer span.End()

	s.mu.Lock()
	if _, ok := s.clients[clientID]; ok {
		delete(s.clients, clientID)
		s.clientsCountAtomic.Add(-1)
	}
	s.mu.Unlock()

	s.logger.Debug("Deleted client", "client_id", clientID)
	return s.finish(ctx, span, "DeleteClient", nil)
}

// ============================================================
// CodeStore
// ============================================================

// SaveAuthorizationCode persists a freshly minted authorization code
func (s *Store) SaveAuthorizationCode(ctx context.Context, code *storage.AuthorizationCode) error {
	ctx, span := s.startStorageSpan(ctx, "SaveAuthorizationCode")
	defer span.End()

	if code == nil || code.Code == "" {
		return s.finish(ctx, span, "SaveAuthorizationCode", fmt.Errorf("invalid authorization code"))
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.codes[code.Code]; exists {
		return s.finish(ctx, span, "SaveAuthorizationCode", storage.ErrDuplicateCode)
	}

	codeCopy := *code
	s.codes[code.Code] = &codeCopy
	s.codesCountAtomic.Add(1)

	s.logger.Debug("Saved authorization code",
		"code_prefix", util.SafeTruncate(code.Code, tokenIDLogLength),
		"client_id", code.ClientID)
	return s.finish(ctx, span, "SaveAuthorizationCode", nil)
}

// ConsumeAuthorizationCode atomically retrieves and deletes an authorization code.
//
// SECURITY: The lookup and delete happen under a single write lock - only ONE
// concurrent request can succeed. All others observe ErrCodeNotFound.
func (s *Store) ConsumeAuthorizationCode(ctx context.Context, code string) (*storage.AuthorizationCode, error) {
	ctx, span := s.startStorageSpan(ctx, "ConsumeAuthorizationCode")
	defer span.End()

	s.mu.Lock() // MUST hold the write lock across check and delete
	defer s.mu.Unlock()

	authCode, ok := s.codes[code]
	if !ok {
		return nil, s.finish(ctx, span, "ConsumeAuthorizationCode", storage.ErrCodeNotFound)
	}

	// Expiry is enforced lazily; an expired-but-unswept record is removed
	// here and reported distinctly from a miss.
	if security.IsTokenExpired(authCode.ExpiresAt) {
		delete(s.codes, code)
		s.codesCountAtomic.Add(-1)
		return nil, s.finish(ctx, span, "ConsumeAuthorizationCode", storage.ErrCodeExpired)
	}

	// ATOMIC delete-on-read: the code is single-use by construction
	delete(s.codes, code)
	s.codesCountAtomic.Add(-1)

	s.logger.Debug("Consumed authorization code",
		"code_prefix", util.SafeTruncate(code, tokenIDLogLength))

	codeCopy := *authCode
	_ = s.finish(ctx, span, "ConsumeAuthorizationCode", nil)
	return &codeCopy, nil
}

// DeleteAuthorizationCode removes an authorization code without consuming it
func (s *Store) DeleteAuthorizationCode(ctx context.Context, code string) error {
	ctx, span := s.startStorageSpan(ctx, "DeleteAuthorizationCode")
	defer span.End()

	s.mu.Lock()
	if _, ok := s.codes[code]; ok {
		delete(s.codes, code)
		s.codesCountAtomic.Add(-1)
	}
	s.mu.Unlock()

	return s.finish(ctx, span, "DeleteAuthorizationCode", nil)
}

// ============================================================
// TokenStore
// ============================================================

// SaveToken persists an issued token pair
func (s *Store) SaveToken(ctx context.Context, token *storage.Token) error {
	ctx, span := s.startStorageSpan(ctx, "SaveToken")
	defer span.End()

	if token == nil || token.AccessToken == "" {
		return s.finish(ctx, span, "SaveToken", fmt.Errorf("invalid token"))
	}

	s.mu.Lock()
	s.saveTokenLocked(token)
	s.mu.Unlock()

	s.logger.Debug("Saved token",
		"token_prefix", util.SafeTruncate(token.AccessToken, tokenIDLogLength),
		"client_id", token.ClientID)
	return s.finish(ctx, span, "SaveToken", nil)
}

// saveTokenLocked stores a copy of token. Caller must hold s.mu.
func (s *Store) saveTokenLocked(token *storage.Token) {
	if _, exists := s.tokens[token.AccessToken]; !exists {
		s.tokensCountAtomic.Add(1)
	}
	tokenCopy := *token
	s.tokens[token.AccessToken] = &tokenCopy
	if token.RefreshToken != "" {
		s.refreshIndex[token.RefreshToken] = token.AccessToken
	}
}

// GetByAccessToken retrieves a token record by its access token value
func (s *Store) GetByAccessToken(ctx context.Context, accessToken string) (*storage.Token, error) {
	ctx, span := s.startStorageSpan(ctx, "GetByAccessToken")
	defer span.End()

	// Check and copy under the lock: RevokeToken and RotateRefreshToken
	// mutate records in place.
	s.mu.Lock()
	token, ok := s.tokens[accessToken]
	if !ok {
		s.mu.Unlock()
		return nil, s.finish(ctx, span, "GetByAccessToken", storage.ErrTokenNotFound)
	}
	if token.Revoked {
		s.mu.Unlock()
		return nil, s.finish(ctx, span, "GetByAccessToken", storage.ErrTokenRevoked)
	}
	if security.IsTokenExpired(token.AccessTokenExpiresAt) {
		s.mu.Unlock()
		return nil, s.finish(ctx, span, "GetByAccessToken", storage.ErrTokenExpired)
	}
	tokenCopy := *token
	s.mu.Unlock()

	_ = s.finish(ctx, span, "GetByAccessToken", nil)
	return &tokenCopy, nil
}

// GetByRefreshToken retrieves a token record by its refresh token value
func (s *Store) GetByRefreshToken(ctx context.Context, refreshToken string) (*storage.Token, error) {
	ctx, span := s.startStorageSpan(ctx, "GetByRefreshToken")
	defer span.End()

	s.mu.Lock()
	token, err := s.lookupByRefreshLocked(refreshToken)
	if err != nil {
		s.mu.Unlock()
		return nil, s.finish(ctx, span, "GetByRefreshToken", err)
	}
	tokenCopy := *token
	s.mu.Unlock()

	_ = s.finish(ctx, span, "GetByRefreshToken", nil)
	return &tokenCopy, nil
}

// lookupByRefreshLocked resolves a live token record by refresh token value.
// Caller must hold s.mu.
func (s *Store) lookupByRefreshLocked(refreshToken string) (*storage.Token, error) {
	accessToken, ok := s.refreshIndex[refreshToken]
	if !ok {
		return nil, storage.ErrTokenNotFound
	}
	token, ok := s.tokens[accessToken]
	if !ok {
		// Index entry orphaned by a concurrent delete
		delete(s.refreshIndex, refreshToken)
		return nil, storage.ErrTokenNotFound
	}
	if token.Revoked {
		return nil, storage.ErrTokenRevoked
	}
	// A zero refresh expiry means the refresh token never expires
	if !token.RefreshTokenExpiresAt.IsZero() && security.IsTokenExpired(token.RefreshTokenExpiresAt) {
		return nil, storage.ErrTokenExpired
	}
	return token, nil
}

// RevokeToken marks the record owning the given access or refresh token value
// as revoked. Idempotent: absent and already-revoked tokens are not errors.
func (s *Store) RevokeToken(ctx context.Context, tokenValue string) error {
	ctx, span := s.startStorageSpan(ctx, "RevokeToken")
	defer span.End()

	s.mu.Lock()
	defer s.mu.Unlock()

	token, ok := s.tokens[tokenValue]
	if !ok {
		if accessToken, indexed := s.refreshIndex[tokenValue]; indexed {
			token, ok = s.tokens[accessToken]
		}
	}
	if !ok || token.Revoked {
		return s.finish(ctx, span, "RevokeToken", nil)
	}

	token.Revoked = true
	token.RevokedAt = time.Now()

	s.logger.Debug("Revoked token",
		"token_prefix", util.SafeTruncate(token.AccessToken, tokenIDLogLength),
		"client_id", token.ClientID)
	return s.finish(ctx, span, "RevokeToken", nil)
}

// RotateRefreshToken atomically invalidates the record owning oldRefreshToken
// and persists replacement as the successor pair.
//
// SECURITY: The consume and the save happen under a single write lock - only
// ONE concurrent rotation can succeed, and there is no window in which both
// the old and the new refresh tokens are valid.
func (s *Store) RotateRefreshToken(ctx context.Context, oldRefreshToken string, replacement *storage.Token) error {
	ctx, span := s.startStorageSpan(ctx, "RotateRefreshToken")
	defer span.End()

	if replacement == nil || replacement.AccessToken == "" {
		return s.finish(ctx, span, "RotateRefreshToken", fmt.Errorf("invalid replacement token"))
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	old, err := s.lookupByRefreshLocked(oldRefreshToken)
	if err != nil {
		return s.finish(ctx, span, "RotateRefreshToken", err)
	}

	// Invalidate the old pair and remove its refresh index entry so a reused
	// old refresh token misses instead of resolving to a revoked record.
	old.Revoked = true
	old.RevokedAt = time.Now()
	delete(s.refreshIndex, oldRefreshToken)

	s.saveTokenLocked(replacement)

	s.logger.Debug("Rotated refresh token",
		"old_prefix", util.SafeTruncate(oldRefreshToken, tokenIDLogLength),
		"new_prefix", util.SafeTruncate(replacement.RefreshToken, tokenIDLogLength),
		"client_id", replacement.ClientID)
	return s.finish(ctx, span, "RotateRefreshToken", nil)
}

// ============================================================
// Background cleanup
// ============================================================

func (s *Store) cleanupLoop() {
	ticker := time.NewTicker(s.cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.cleanup()
		case <-s.stopCleanup:
			return
		}
	}
}

// cleanup reclaims expired codes and token records. This is an optimization
// only: expiry is always enforced lazily at read time.
func (s *Store) cleanup() {
	s.mu.Lock()
	defer s.mu.Unlock()

	removedCodes := 0
	for value, code := range s.codes {
		if security.IsTokenExpired(code.ExpiresAt) {
			delete(s.codes, value)
			s.codesCountAtomic.Add(-1)
			removedCodes++
		}
	}

	removedTokens := 0
	for value, token := range s.tokens {
		// A record is reclaimable once its access token has expired and its
		// refresh token is expired, revoked, or absent.
		accessGone := security.IsTokenExpired(token.AccessTokenExpiresAt)
		refreshGone := token.RefreshToken == "" || token.Revoked ||
			(!token.RefreshTokenExpiresAt.IsZero() && security.IsTokenExpired(token.RefreshTokenExpiresAt))
		if accessGone && refreshGone {
			if token.RefreshToken != "" {
				delete(s.refreshIndex, token.RefreshToken)
			}
			delete(s.tokens, value)
			s.tokensCountAtomic.Add(-1)
			removedTokens++
		}
	}

	if removedCodes > 0 || removedTokens > 0 {
		s.logger.Debug("Cleaned up expired records",
			"codes", removedCodes,
			"tokens", removedTokens)
	}
}

// ============================================================
// Instrumentation helpers
// ============================================================

// startStorageSpan starts a tracing span for a storage operation when
// instrumentation is configured.
func (s *Store) startStorageSpan(ctx context.Context, operation string) (context.Context, trace.Span) {
	if s.tracer == nil {
		return trace.ContextWithSpan(ctx, trace.SpanFromContext(ctx)), trace.SpanFromContext(ctx)
	}
	ctx, span := s.tracer.Start(ctx, "storage."+operation)
	instrumentation.AddStorageAttributes(span, operation, "memory")
	return ctx, span
}

// finish records the outcome of a storage operation on the span and metrics,
// then returns err unchanged so callers can use it inline.
func (s *Store) finish(ctx context.Context, span trace.Span, operation string, err error) error {
	if err != nil {
		instrumentation.RecordError(span, err)
	} else {
		instrumentation.SetSpanSuccess(span)
	}
	if s.instrumentation != nil {
		result := "success"
		if err != nil {
			result = "error"
		}
		s.instrumentation.Metrics().RecordStorageOperation(ctx, operation, result)
	}
	return err
}
