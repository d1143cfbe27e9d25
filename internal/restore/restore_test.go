package restore

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stayontop/mailtriage/internal/token"
)

type fakeRefresher struct {
	rejected map[string]bool
	calls    int
}

func (f *fakeRefresher) RefreshAccessToken(_ context.Context, refreshToken string) (token.Fields, error) {
	f.calls++
	if f.rejected[refreshToken] {
		return token.Fields{}, fmt.Errorf("%w: revoked", token.ErrInvalidRefreshToken)
	}
	return token.Fields{
		AccessToken:  "ya29.refreshed-for-" + refreshToken,
		RefreshToken: refreshToken,
		TokenType:    "Bearer",
		ExpiresIn:    3600,
	}, nil
}

type fakeMinter struct {
	issued []string
	fail   bool
}

func (f *fakeMinter) Issue(identity string, _ time.Duration) (string, error) {
	if f.fail {
		return "", fmt.Errorf("signing failed")
	}
	f.issued = append(f.issued, identity)
	return "session-token-for-" + identity, nil
}

func seedStore(t *testing.T, records map[string]token.Fields) *token.FileStore {
	t.Helper()
	store := token.NewFileStore(filepath.Join(t.TempDir(), "user_tokens.json"))
	for identity, fields := range records {
		require.NoError(t, store.Store(identity, fields))
	}
	return store
}

func TestRestore_MixedOutcomes(t *testing.T) {
	// Three persisted identities: one healthy, one without a refresh
	// token, one whose refresh token the provider rejects.
	store := seedStore(t, map[string]token.Fields{
		"good@gmail.com": {
			AccessToken:  "ya29.stale-access-token-one",
			RefreshToken: "1//good-refresh-token",
		},
		"norefresh@gmail.com": {
			AccessToken: "ya29.stale-access-token-two",
		},
		"revoked@gmail.com": {
			AccessToken:  "ya29.stale-access-token-three",
			RefreshToken: "1//revoked-refresh-token",
		},
	})

	cache := token.NewCache()
	refresher := &fakeRefresher{rejected: map[string]bool{"1//revoked-refresh-token": true}}
	minter := &fakeMinter{}

	summary := New(store, cache, refresher, minter).Restore(context.Background())

	assert.Equal(t, 3, summary.Found)
	assert.Equal(t, 1, summary.Restored)
	assert.Equal(t, 2, summary.Failed)

	// Exactly the healthy identity is live again.
	assert.ElementsMatch(t, []string{"good@gmail.com"}, cache.Identities())
	record, ok := cache.Get("good@gmail.com")
	require.True(t, ok)
	assert.Equal(t, "ya29.refreshed-for-1//good-refresh-token", record.AccessToken)
	assert.Equal(t, "1//good-refresh-token", record.RefreshToken)
	assert.True(t, cache.IsValid("good@gmail.com"))

	assert.ElementsMatch(t, []string{"good@gmail.com"}, minter.issued)
}

func TestRestore_EmptyStoreIsNoop(t *testing.T) {
	store := seedStore(t, nil)
	cache := token.NewCache()
	refresher := &fakeRefresher{}

	summary := New(store, cache, refresher, &fakeMinter{}).Restore(context.Background())

	assert.Equal(t, Summary{}, summary)
	assert.Zero(t, refresher.calls)
	assert.Empty(t, cache.Identities())
}

func TestRestore_LogsSessionExpiry(t *testing.T) {
	store := seedStore(t, map[string]token.Fields{
		"alice@gmail.com": {
			AccessToken:  "ya29.stale-access-token-abc",
			RefreshToken: "1//alice-refresh-token",
		},
	})
	cache := token.NewCache()

	var buf bytes.Buffer
	restorer := New(store, cache, &fakeRefresher{}, &fakeMinter{})
	restorer.SetLogger(slog.New(slog.NewTextHandler(&buf, nil)))

	summary := restorer.Restore(context.Background())
	require.Equal(t, 1, summary.Restored)

	// The minted session token itself is never logged or cached, so the
	// restored line carries its expiry for operators instead.
	logs := buf.String()
	assert.Contains(t, logs, "session restored")
	assert.Contains(t, logs, "session_expires")
	assert.NotContains(t, logs, "session-token-for-")
}

func TestRestore_MintFailureCountsAsFailed(t *testing.T) {
	store := seedStore(t, map[string]token.Fields{
		"alice@gmail.com": {
			AccessToken:  "ya29.stale-access-token-xyz",
			RefreshToken: "1//alice-refresh-token",
		},
	})
	cache := token.NewCache()

	summary := New(store, cache, &fakeRefresher{}, &fakeMinter{fail: true}).Restore(context.Background())

	assert.Equal(t, 1, summary.Failed)
	assert.Zero(t, summary.Restored)
	assert.Empty(t, cache.Identities())
}
