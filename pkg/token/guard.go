// Package token serializes credential refreshes. Arbitrarily many API
// calls may ask for a valid bearer token concurrently; at most one refresh
// against the identity provider is ever in flight, and every concurrent
// caller receives the result of that same refresh.
package token

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"terrachat/pkg/logger"
	"terrachat/pkg/models"
	"terrachat/pkg/telemetry"
)

// RefreshMargin is how close to expiry a cached token may get before it is
// refreshed instead of reused.
const RefreshMargin = 5 * time.Minute

const refreshKey = "refresh"

// RefreshFunc obtains a fresh token from the identity provider.
type RefreshFunc func(ctx context.Context) (models.TokenData, error)

// AuthenticationError wraps a failed credential refresh. Callers are
// expected to prompt re-authentication when they see one.
type AuthenticationError struct {
	Err error
}

func (e *AuthenticationError) Error() string { return "authentication failed: " + e.Err.Error() }
func (e *AuthenticationError) Unwrap() error { return e.Err }

// Guard caches the session token and single-flights refreshes. Construct
// one per session and inject it into every API caller; it is safe for
// concurrent use.
type Guard struct {
	refresh RefreshFunc
	sf      singleflight.Group

	mu  sync.Mutex
	cur models.TokenData
	// gen is bumped by ClearToken; a refresh that started before the
	// clear must not write its result back into the cache.
	gen uint64

	now func() time.Time
}

func NewGuard(refresh RefreshFunc) *Guard {
	return &Guard{refresh: refresh, now: time.Now}
}

// GetValidToken returns a bearer token, refreshing if the cached one is
// missing or within RefreshMargin of expiry. Concurrent callers share one
// in-flight refresh.
func (g *Guard) GetValidToken(ctx context.Context) (string, error) {
	if tok, ok := g.cached(); ok {
		return tok, nil
	}
	g.mu.Lock()
	gen := g.gen
	g.mu.Unlock()
	ch := g.sf.DoChan(refreshKey, func() (any, error) {
		telemetry.TokenRefreshes.Inc()
		// The refresh must not die with whichever caller happened to
		// trigger it; other callers are waiting on the same result.
		td, err := g.refresh(context.WithoutCancel(ctx))
		if err != nil {
			logger.Warn("token_refresh_failed", "error", err)
			return nil, err
		}
		g.mu.Lock()
		if g.gen == gen {
			g.cur = td
		}
		g.mu.Unlock()
		logger.Debug("token_refreshed", "expires_at", td.ExpiresAt)
		return td, nil
	})
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return "", &AuthenticationError{Err: res.Err}
		}
		return res.Val.(models.TokenData).AccessToken, nil
	}
}

// ClearToken drops the cached token on sign-out. The next GetValidToken
// call performs a fresh refresh.
func (g *Guard) ClearToken() {
	g.mu.Lock()
	g.cur = models.TokenData{}
	g.gen++
	g.mu.Unlock()
	g.sf.Forget(refreshKey)
}

func (g *Guard) cached() (string, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.cur.AccessToken == "" {
		return "", false
	}
	// A zero expiry means the provider did not report one; treat the token
	// as non-expiring and rely on ClearToken for invalidation.
	if !g.cur.ExpiresAt.IsZero() && g.now().Add(RefreshMargin).After(g.cur.ExpiresAt) {
		return "", false
	}
	return g.cur.AccessToken, true
}
