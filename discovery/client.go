package discovery

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"

	jose "github.com/go-jose/go-jose/v3"
)

// WellKnownPath is where the provider metadata is served, relative to the
// issuer.
const WellKnownPath = "/.well-known/openid-configuration"

// Client can be used to fetch the provider metadata for a given issuer, and can
// also return the provider's keys on demand.
//
// It should be created via `NewClient` to ensure it is initialized correctly.
type Client struct {
	md *ProviderMetadata

	hc *http.Client

	jwks   jose.JSONWebKeySet
	jwksMu sync.Mutex
}

// ClientOpt is an option that can configure a client
type ClientOpt func(c *Client)

// WithHTTPClient will set a http.Client for the initial discovery, and key
// fetching. If not set, http.DefaultClient will be used.
func WithHTTPClient(hc *http.Client) ClientOpt {
	return func(c *Client) {
		c.hc = hc
	}
}

// NewClient will initialize a Client, performing the initial discovery.
func NewClient(ctx context.Context, issuer string, opts ...ClientOpt) (*Client, error) {
	c := &Client{
		md: &ProviderMetadata{},
		hc: http.DefaultClient,
	}

	for _, o := range opts {
		o(c)
	}

	mdURL := strings.TrimSuffix(issuer, "/") + WellKnownPath
	if err := c.getJSON(ctx, mdURL, c.md); err != nil {
		return nil, fmt.Errorf("fetching provider metadata: %w", err)
	}
	if c.md.Issuer != issuer {
		return nil, fmt.Errorf("provider metadata issuer %q does not match %q", c.md.Issuer, issuer)
	}

	return c, nil
}

// Metadata returns the ProviderMetadata that was retrieved when the client was
// instantiated
func (c *Client) Metadata() *ProviderMetadata {
	return c.md
}

// PublicKeys fetches the JWKS endpoint for this metadata. Each call performs a
// new HTTP request to the endpoint.
func (c *Client) PublicKeys(ctx context.Context) (*jose.JSONWebKeySet, error) {
	if c.md.JWKSURI == "" {
		return nil, fmt.Errorf("metadata has no JWKS endpoint, cannot fetch keys")
	}

	ks := &jose.JSONWebKeySet{}
	if err := c.getJSON(ctx, c.md.JWKSURI, ks); err != nil {
		return nil, fmt.Errorf("fetching keys: %w", err)
	}
	return ks, nil
}

// PublicKey will return the key for the given kid. If the key has already
// been fetched, no network request will be made - the cached version will be
// returned. Otherwise, a call to the keys endpoint will be made.
func (c *Client) PublicKey(ctx context.Context, kid string) (*jose.JSONWebKey, error) {
	c.jwksMu.Lock()
	defer c.jwksMu.Unlock()

	if keys := c.jwks.Key(kid); len(keys) > 0 {
		return &keys[0], nil
	}

	ks, err := c.PublicKeys(ctx)
	if err != nil {
		return nil, err
	}
	c.jwks = *ks

	// try again, with the fresh set
	if keys := c.jwks.Key(kid); len(keys) > 0 {
		return &keys[0], nil
	}

	return nil, fmt.Errorf("key %s not found", kid)
}

func (c *Client) getJSON(ctx context.Context, url string, into interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	res, err := c.hc.Do(req)
	if err != nil {
		return fmt.Errorf("error fetching %s: %w", url, err)
	}
	defer res.Body.Close()

	if res.StatusCode != http.StatusOK {
		return fmt.Errorf("fetching %s returned status %d", url, res.StatusCode)
	}
	if err := json.NewDecoder(res.Body).Decode(into); err != nil {
		return fmt.Errorf("error decoding %s: %w", url, err)
	}
	return nil
}
