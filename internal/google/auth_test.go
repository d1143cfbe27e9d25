package google

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	"golang.org/x/oauth2"

	"github.com/stayontop/mailtriage/internal/instrumentation"
	"github.com/stayontop/mailtriage/internal/token"
)

func newTestService(t *testing.T, tokenURL, gmailURL string) *AuthService {
	t.Helper()
	svc, err := NewAuthService(Config{
		ClientID:     "test-client-id",
		ClientSecret: "test-client-secret",
		Endpoint:     oauth2.Endpoint{TokenURL: tokenURL, AuthURL: tokenURL},
		GmailBaseURL: gmailURL,
	})
	require.NoError(t, err)
	return svc
}

func TestNewAuthService_MissingClientConfig(t *testing.T) {
	_, err := NewAuthService(Config{ClientID: "id-only"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, token.ErrConfiguration))
}

func TestCredentialsFromFields_Malformed(t *testing.T) {
	svc := newTestService(t, "http://localhost/token", "")

	_, err := svc.CredentialsFromFields(context.Background(), token.Fields{AccessToken: "short"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, token.ErrMalformedInput))
}

func TestCredentialsFromFields_RefreshCapability(t *testing.T) {
	svc := newTestService(t, "http://localhost/token", "")

	full, err := svc.CredentialsFromFields(context.Background(), token.Fields{
		AccessToken:  "ya29.a0AfH6SMC-test-access",
		RefreshToken: "1//04-test-refresh",
	})
	require.NoError(t, err)
	assert.True(t, full.Refreshable())

	minimal, err := svc.CredentialsFromFields(context.Background(), token.Fields{
		AccessToken: "ya29.a0AfH6SMC-test-access",
	})
	require.NoError(t, err)
	assert.False(t, minimal.Refreshable())
	assert.Equal(t, "ya29.a0AfH6SMC-test-access", minimal.AccessToken())
}

func TestRefreshAccessToken(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if got := r.PostForm.Get("refresh_token"); got != "1//04-known-refresh-token" {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(`{"error":"invalid_grant"}`))
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"access_token":"ya29.fresh-access-token","token_type":"Bearer","expires_in":3600}`))
	}))
	defer ts.Close()

	svc := newTestService(t, ts.URL, "")

	fields, err := svc.RefreshAccessToken(context.Background(), "1//04-known-refresh-token")
	require.NoError(t, err)
	assert.Equal(t, "ya29.fresh-access-token", fields.AccessToken)
	// The provider did not rotate the refresh token, so it is preserved.
	assert.Equal(t, "1//04-known-refresh-token", fields.RefreshToken)
	assert.Equal(t, "Bearer", fields.TokenType)
	assert.InDelta(t, 3600, fields.ExpiresIn, 5)
	assert.Equal(t, GmailReadonlyScope, fields.Scope)
}

func TestRefreshAccessToken_Rejected(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":"invalid_grant","error_description":"Token has been expired or revoked."}`))
	}))
	defer ts.Close()

	svc := newTestService(t, ts.URL, "")

	_, err := svc.RefreshAccessToken(context.Background(), "1//04-revoked-refresh-token")
	require.Error(t, err)
	assert.True(t, errors.Is(err, token.ErrInvalidRefreshToken))
}

func TestRefreshAccessToken_Empty(t *testing.T) {
	svc := newTestService(t, "http://localhost/token", "")

	_, err := svc.RefreshAccessToken(context.Background(), "")
	require.Error(t, err)
	assert.True(t, errors.Is(err, token.ErrInvalidRefreshToken))
}

// refreshCount returns the token_refresh_total count recorded for one
// result label.
func refreshCount(rm metricdata.ResourceMetrics, result string) int64 {
	var total int64
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != "token_refresh_total" {
				continue
			}
			sum, ok := m.Data.(metricdata.Sum[int64])
			if !ok {
				continue
			}
			for _, dp := range sum.DataPoints {
				if v, ok := dp.Attributes.Value(attribute.Key("result")); ok && v.AsString() == result {
					total += dp.Value
				}
			}
		}
	}
	return total
}

func TestRefreshAccessToken_RecordsOutcomes(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		if r.PostForm.Get("refresh_token") != "1//04-live-refresh-token" {
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(`{"error":"invalid_grant"}`))
			return
		}
		_, _ = w.Write([]byte(`{"access_token":"ya29.fresh-access-token","token_type":"Bearer","expires_in":3600}`))
	}))
	defer ts.Close()

	svc := newTestService(t, ts.URL, "")

	reader := sdkmetric.NewManualReader()
	meter := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader)).Meter("test")
	metrics, err := instrumentation.NewMetrics(meter, false)
	require.NoError(t, err)
	svc.SetMetrics(metrics)

	_, err = svc.RefreshAccessToken(context.Background(), "1//04-live-refresh-token")
	require.NoError(t, err)
	_, err = svc.RefreshAccessToken(context.Background(), "1//04-revoked-refresh-token")
	require.Error(t, err)

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))
	assert.Equal(t, int64(1), refreshCount(rm, instrumentation.ResultSuccess))
	assert.Equal(t, int64(1), refreshCount(rm, instrumentation.ResultFailure))
}

func TestValidate(t *testing.T) {
	gmailSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer ya29.a0AfH6SMC-valid-access" {
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"error":{"code":401,"message":"Invalid Credentials"}}`))
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"emailAddress":"alice@gmail.com","messagesTotal":1500,"threadsTotal":750}`))
	}))
	defer gmailSrv.Close()

	svc := newTestService(t, "http://localhost/token", gmailSrv.URL)

	cred, err := svc.CredentialsFromFields(context.Background(), token.Fields{
		AccessToken: "ya29.a0AfH6SMC-valid-access",
	})
	require.NoError(t, err)

	ok, info := svc.Validate(context.Background(), cred)
	require.True(t, ok)
	assert.Equal(t, "alice@gmail.com", info.Email)
	assert.Equal(t, int64(1500), info.MessagesTotal)
	assert.Equal(t, int64(750), info.ThreadsTotal)
}

func TestValidate_Rejected(t *testing.T) {
	gmailSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error":{"code":401,"message":"Invalid Credentials"}}`))
	}))
	defer gmailSrv.Close()

	svc := newTestService(t, "http://localhost/token", gmailSrv.URL)

	cred, err := svc.CredentialsFromFields(context.Background(), token.Fields{
		AccessToken: "ya29.a0AfH6SMC-bad-access-x",
	})
	require.NoError(t, err)

	ok, info := svc.Validate(context.Background(), cred)
	assert.False(t, ok)
	assert.Nil(t, info)
}
