// Package provider describes the server-wide settings the request, token and
// ID token components share.
package provider

import (
	"time"

	jose "github.com/go-jose/go-jose/v3"

	"github.com/pardot/oidcop/signer"
)

const (
	// DefaultIDTokenLifespan is used when no ID token lifespan is configured.
	DefaultIDTokenLifespan = 1 * time.Hour
	// DefaultRequestCacheLifespan is how long fetched request objects are
	// cached when no lifespan is configured.
	DefaultRequestCacheLifespan = 30 * 24 * time.Hour
)

// Context is the server's own configuration.
type Context struct {
	// IssuerURL is the issuer identifier, used as the iss of ID tokens and
	// required in the aud of request objects.
	IssuerURL string
	// TokenEndpointURL is required as the aud of client assertions.
	TokenEndpointURL string
	// Keys holds the server's private keys, for signing ID tokens and
	// decrypting request objects.
	Keys jose.JSONWebKeySet
	// IDTokenLifespan sets the exp of issued ID tokens. Zero means
	// DefaultIDTokenLifespan.
	IDTokenLifespan time.Duration
	// RequestCacheLifespan is how long fetched request objects are cached.
	// Zero means DefaultRequestCacheLifespan, negative means cached entries
	// never expire.
	RequestCacheLifespan time.Duration
}

// Signer returns a signer backed by the server's keys.
func (c *Context) Signer() *signer.StaticSigner {
	return signer.NewStatic(c.Keys)
}

// IDTokenExpiry returns the expiry for an ID token issued at now.
func (c *Context) IDTokenExpiry(now time.Time) time.Time {
	return now.Add(value(c.IDTokenLifespan, DefaultIDTokenLifespan))
}

// RequestCacheExpiry returns the expiry for a request object cached at now,
// or nil if cached entries should not expire.
func (c *Context) RequestCacheExpiry(now time.Time) *time.Time {
	if c.RequestCacheLifespan < 0 {
		return nil
	}
	exp := now.Add(value(c.RequestCacheLifespan, DefaultRequestCacheLifespan))
	return &exp
}

func value(val, defaultValue time.Duration) time.Duration {
	if val == 0 {
		return defaultValue
	}
	return val
}
