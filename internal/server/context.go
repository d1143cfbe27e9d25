package server

import (
	"context"
	"fmt"
	"sync"

	"google.golang.org/api/option"

	"github.com/stayontop/mailtriage/internal/gmail"
	"github.com/stayontop/mailtriage/internal/google"
	"github.com/stayontop/mailtriage/internal/instrumentation"
	"github.com/stayontop/mailtriage/internal/token"
)

// ClientCache hands out Gmail clients per user identity. Clients are
// created lazily from the live token cache and reused until the
// identity's token changes or is removed.
type ClientCache struct {
	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.RWMutex
	clients  map[string]*gmail.Client
	shutdown bool

	tokens  *token.Cache
	auth    *google.AuthService
	metrics *instrumentation.Metrics
	opts    []option.ClientOption
}

// NewClientCache creates a client cache. Extra options are passed to
// every Gmail client, which lets tests point clients at a fake API.
func NewClientCache(ctx context.Context, tokens *token.Cache, auth *google.AuthService, opts ...option.ClientOption) *ClientCache {
	shutdownCtx, cancel := context.WithCancel(ctx)
	return &ClientCache{
		ctx:     shutdownCtx,
		cancel:  cancel,
		clients: make(map[string]*gmail.Client),
		tokens:  tokens,
		auth:    auth,
		metrics: &instrumentation.Metrics{},
		opts:    opts,
	}
}

// SetMetrics sets the metrics recorder handed to every new Gmail client.
func (cc *ClientCache) SetMetrics(metrics *instrumentation.Metrics) {
	if metrics != nil {
		cc.mu.Lock()
		defer cc.mu.Unlock()
		cc.metrics = metrics
	}
}

// Context returns the cache's lifecycle context.
func (cc *ClientCache) Context() context.Context {
	return cc.ctx
}

// ClientFor returns the Gmail client for an identity, creating and
// caching it if needed. The identity must have a usable token in the
// live cache.
func (cc *ClientCache) ClientFor(ctx context.Context, identity string) (*gmail.Client, error) {
	cc.mu.RLock()
	client, ok := cc.clients[identity]
	cc.mu.RUnlock()
	if ok {
		return client, nil
	}

	record, ok := cc.tokens.Get(identity)
	if !ok {
		return nil, fmt.Errorf("%w: no token for user", token.ErrInvalidCredentials)
	}

	cred, err := cc.auth.CredentialsFromFields(ctx, token.Fields{
		AccessToken:  record.AccessToken,
		RefreshToken: record.RefreshToken,
		TokenType:    record.TokenType,
		Scope:        record.Scope,
	})
	if err != nil {
		return nil, err
	}

	client, err = gmail.NewClient(ctx, cred.TokenSource(), identity, cc.opts...)
	if err != nil {
		return nil, err
	}

	cc.mu.Lock()
	client.SetMetrics(cc.metrics)
	defer cc.mu.Unlock()
	if cc.shutdown {
		return nil, fmt.Errorf("server is shutting down")
	}
	// Another request may have built a client meanwhile; keep the first.
	if existing, ok := cc.clients[identity]; ok {
		return existing, nil
	}
	cc.clients[identity] = client
	return client, nil
}

// Invalidate drops the cached client for an identity. Call this when
// the identity's token changes or the user is removed.
func (cc *ClientCache) Invalidate(identity string) {
	cc.mu.Lock()
	defer cc.mu.Unlock()
	delete(cc.clients, identity)
}

// IsShutdown returns whether the cache has been shut down.
func (cc *ClientCache) IsShutdown() bool {
	cc.mu.RLock()
	defer cc.mu.RUnlock()
	return cc.shutdown
}

// Shutdown cancels the lifecycle context and drops all clients.
func (cc *ClientCache) Shutdown() {
	cc.mu.Lock()
	defer cc.mu.Unlock()
	if cc.shutdown {
		return
	}
	cc.shutdown = true
	cc.clients = make(map[string]*gmail.Client)
	cc.cancel()
}
