package valkey

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/embercloud/oauth/internal/testutil"
	"github.com/embercloud/oauth/storage"
)

// testStore creates a test store connected to a local Valkey instance.
// Tests are skipped if VALKEY_TEST_ADDR is not set and nothing listens on
// localhost:6379. Each test gets a unique prefix for isolation.
func testStore(t *testing.T) *Store {
	t.Helper()

	addr := os.Getenv("VALKEY_TEST_ADDR")
	if addr == "" {
		addr = "localhost:6379"
	}

	prefix := fmt.Sprintf("oauthtest:%s:", t.Name())

	store, err := New(Config{
		Address:   addr,
		KeyPrefix: prefix,
	})
	if err != nil {
		t.Skipf("Skipping test: could not connect to Valkey at %s: %v", addr, err)
	}

	t.Cleanup(func() {
		cleanupTestKeys(t, store)
		store.Close()
	})

	cleanupTestKeys(t, store)
	return store
}

// cleanupTestKeys removes all keys under the test prefix
func cleanupTestKeys(t *testing.T, s *Store) {
	t.Helper()

	ctx := context.Background()
	pattern := s.prefix + "*"

	var cursor uint64
	for {
		result, err := s.client.Do(ctx,
			s.client.B().Scan().Cursor(cursor).Match(pattern).Count(scanBatchSize).Build(),
		).AsScanEntry()
		if err != nil {
			t.Logf("Warning: failed to scan for cleanup: %v", err)
			return
		}

		for _, key := range result.Elements {
			_ = s.client.Do(ctx, s.client.B().Del().Key(key).Build())
		}

		cursor = result.Cursor
		if cursor == 0 {
			break
		}
	}
}

func TestNew_MissingAddress(t *testing.T) {
	if _, err := New(Config{}); err == nil {
		t.Error("New() with empty address should fail")
	}
}

func TestClientStore_SaveAndGetClient(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	client := testutil.GenerateTestClient()
	testutil.AssertNoError(t, store.SaveClient(ctx, client))

	got, err := store.GetClient(ctx, client.ClientID)
	testutil.AssertNoError(t, err)
	testutil.AssertEqual(t, got.ClientID, client.ClientID)
	testutil.AssertEqual(t, got.ClientType, "confidential")
	testutil.AssertEqual(t, len(got.RedirectURIs), 1)

	if _, err := store.GetClient(ctx, "absent"); !errors.Is(err, storage.ErrClientNotFound) {
		t.Errorf("GetClient(absent) = %v, want ErrClientNotFound", err)
	}
}

func TestClientStore_RevokedClient(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	client := testutil.GenerateTestClient()
	client.Revoked = true
	testutil.AssertNoError(t, store.SaveClient(ctx, client))

	if _, err := store.GetClient(ctx, client.ClientID); !errors.Is(err, storage.ErrClientRevoked) {
		t.Errorf("GetClient(revoked) = %v, want ErrClientRevoked", err)
	}
}

func TestClientStore_ValidateClientSecret(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	client := testutil.GenerateTestClient()
	testutil.AssertNoError(t, store.SaveClient(ctx, client))

	testutil.AssertNoError(t, store.ValidateClientSecret(ctx, client.ClientID, testutil.TestClientSecret))

	if err := store.ValidateClientSecret(ctx, client.ClientID, "wrong"); !errors.Is(err, storage.ErrInvalidClientSecret) {
		t.Errorf("ValidateClientSecret(wrong) = %v, want ErrInvalidClientSecret", err)
	}
	if err := store.ValidateClientSecret(ctx, "absent", testutil.TestClientSecret); !errors.Is(err, storage.ErrClientNotFound) {
		t.Errorf("ValidateClientSecret(absent) = %v, want ErrClientNotFound", err)
	}

	public := testutil.GenerateTestPublicClient()
	testutil.AssertNoError(t, store.SaveClient(ctx, public))
	testutil.AssertNoError(t, store.ValidateClientSecret(ctx, public.ClientID, ""))
}

func TestClientStore_ListAndDelete(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	testutil.AssertNoError(t, store.SaveClient(ctx, testutil.GenerateTestClient()))
	testutil.AssertNoError(t, store.SaveClient(ctx, testutil.GenerateTestPublicClient()))

	clients, err := store.ListClients(ctx)
	testutil.AssertNoError(t, err)
	testutil.AssertEqual(t, len(clients), 2)

	testutil.AssertNoError(t, store.DeleteClient(ctx, "test-client-id"))
	if _, err := store.GetClient(ctx, "test-client-id"); !errors.Is(err, storage.ErrClientNotFound) {
		t.Errorf("GetClient after delete = %v, want ErrClientNotFound", err)
	}
}

func TestCodeStore_ConsumeIsSingleUse(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	code := testutil.GenerateTestAuthorizationCode()
	testutil.AssertNoError(t, store.SaveAuthorizationCode(ctx, code))

	if err := store.SaveAuthorizationCode(ctx, code); !errors.Is(err, storage.ErrDuplicateCode) {
		t.Errorf("second save = %v, want ErrDuplicateCode", err)
	}

	got, err := store.ConsumeAuthorizationCode(ctx, code.Code)
	testutil.AssertNoError(t, err)
	testutil.AssertEqual(t, got.ClientID, code.ClientID)
	testutil.AssertEqual(t, got.UserID, code.UserID)

	if _, err := store.ConsumeAuthorizationCode(ctx, code.Code); !errors.Is(err, storage.ErrCodeNotFound) {
		t.Errorf("second consume = %v, want ErrCodeNotFound", err)
	}
}

func TestCodeStore_ConsumeConcurrent(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	code := testutil.GenerateTestAuthorizationCode()
	testutil.AssertNoError(t, store.SaveAuthorizationCode(ctx, code))

	const workers = 20
	results := make(chan error, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := store.ConsumeAuthorizationCode(ctx, code.Code)
			results <- err
		}()
	}
	wg.Wait()
	close(results)

	successes := 0
	for err := range results {
		if err == nil {
			successes++
		} else if !errors.Is(err, storage.ErrCodeNotFound) {
			t.Errorf("unexpected error: %v", err)
		}
	}
	testutil.AssertEqual(t, successes, 1)
}

func TestTokenStore_SaveAndGet(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	token := testutil.GenerateTestToken()
	testutil.AssertNoError(t, store.SaveToken(ctx, token))

	byAccess, err := store.GetByAccessToken(ctx, token.AccessToken)
	testutil.AssertNoError(t, err)
	testutil.AssertEqual(t, byAccess.UserID, token.UserID)

	byRefresh, err := store.GetByRefreshToken(ctx, token.RefreshToken)
	testutil.AssertNoError(t, err)
	testutil.AssertEqual(t, byRefresh.AccessToken, token.AccessToken)

	if _, err := store.GetByAccessToken(ctx, "absent"); !errors.Is(err, storage.ErrTokenNotFound) {
		t.Errorf("GetByAccessToken(absent) = %v, want ErrTokenNotFound", err)
	}
}

func TestTokenStore_RefreshNeverExpires(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	token := testutil.GenerateTestToken()
	token.RefreshTokenExpiresAt = time.Time{}
	testutil.AssertNoError(t, store.SaveToken(ctx, token))

	got, err := store.GetByRefreshToken(ctx, token.RefreshToken)
	testutil.AssertNoError(t, err)
	if !got.RefreshTokenExpiresAt.IsZero() {
		t.Errorf("RefreshTokenExpiresAt = %v, want zero", got.RefreshTokenExpiresAt)
	}
}

func TestTokenStore_RevokeToken(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	token := testutil.GenerateTestToken()
	testutil.AssertNoError(t, store.SaveToken(ctx, token))

	// Revocation by refresh token value kills both halves of the pair
	testutil.AssertNoError(t, store.RevokeToken(ctx, token.RefreshToken))

	if _, err := store.GetByAccessToken(ctx, token.AccessToken); !errors.Is(err, storage.ErrTokenRevoked) {
		t.Errorf("GetByAccessToken after revoke = %v, want ErrTokenRevoked", err)
	}
	if _, err := store.GetByRefreshToken(ctx, token.RefreshToken); !errors.Is(err, storage.ErrTokenRevoked) {
		t.Errorf("GetByRefreshToken after revoke = %v, want ErrTokenRevoked", err)
	}

	// Idempotent, and absent values succeed
	testutil.AssertNoError(t, store.RevokeToken(ctx, token.RefreshToken))
	testutil.AssertNoError(t, store.RevokeToken(ctx, "absent"))
}

func TestTokenStore_RotateRefreshToken(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	old := testutil.GenerateTestToken()
	testutil.AssertNoError(t, store.SaveToken(ctx, old))

	replacement := testutil.GenerateTestToken()
	testutil.AssertNoError(t, store.RotateRefreshToken(ctx, old.RefreshToken, replacement))

	if _, err := store.GetByRefreshToken(ctx, old.RefreshToken); !errors.Is(err, storage.ErrTokenNotFound) {
		t.Errorf("old refresh token after rotation = %v, want ErrTokenNotFound", err)
	}
	if _, err := store.GetByAccessToken(ctx, old.AccessToken); !errors.Is(err, storage.ErrTokenRevoked) {
		t.Errorf("old access token after rotation = %v, want ErrTokenRevoked", err)
	}

	got, err := store.GetByRefreshToken(ctx, replacement.RefreshToken)
	testutil.AssertNoError(t, err)
	testutil.AssertEqual(t, got.AccessToken, replacement.AccessToken)
}

func TestTokenStore_RotateUnknownRefreshToken(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	replacement := testutil.GenerateTestToken()
	if err := store.RotateRefreshToken(ctx, "absent", replacement); !errors.Is(err, storage.ErrTokenNotFound) {
		t.Errorf("RotateRefreshToken(absent) = %v, want ErrTokenNotFound", err)
	}
}

func TestTokenStore_RotateConcurrent(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	old := testutil.GenerateTestToken()
	testutil.AssertNoError(t, store.SaveToken(ctx, old))

	const workers = 10
	results := make(chan error, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results <- store.RotateRefreshToken(ctx, old.RefreshToken, testutil.GenerateTestToken())
		}()
	}
	wg.Wait()
	close(results)

	successes := 0
	for err := range results {
		if err == nil {
			successes++
		} else if !errors.Is(err, storage.ErrTokenNotFound) && !errors.Is(err, storage.ErrTokenRevoked) {
			t.Errorf("unexpected error: %v", err)
		}
	}
	testutil.AssertEqual(t, successes, 1)
}
