// Package jwk resolves the JSON Web Key Sets clients publish, and picks keys
// out of a set for a given algorithm and purpose.
package jwk

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	jose "github.com/go-jose/go-jose/v3"
	"golang.org/x/sync/singleflight"

	"github.com/pardot/oidcop/client"
)

// maxKeySetSize bounds the response body we are willing to read from a
// client's jwks_uri.
const maxKeySetSize = 1 << 20

// fetchTimeout bounds a shared jwks_uri fetch, which outlives any single
// caller's context.
const fetchTimeout = 30 * time.Second

// KeySetSource returns the JSON Web Key Set published by a client.
type KeySetSource interface {
	KeySet(ctx context.Context, c *client.Client) (*jose.JSONWebKeySet, error)
}

// KeySetFunc adapts a function to a KeySetSource.
type KeySetFunc func(ctx context.Context, c *client.Client) (*jose.JSONWebKeySet, error)

func (f KeySetFunc) KeySet(ctx context.Context, c *client.Client) (*jose.JSONWebKeySet, error) {
	return f(ctx, c)
}

var _ KeySetSource = (*RemoteKeySetSource)(nil)

// RemoteKeySetSource returns the client's registered jwks value if it has
// one, otherwise it fetches the set from the client's jwks_uri. Concurrent
// fetches of the same URI share a single request.
//
// It should be created via `NewRemoteKeySetSource` to ensure it is
// initialized correctly.
type RemoteKeySetSource struct {
	hc *http.Client
	sf singleflight.Group
}

// RemoteOpt is an option that can configure a RemoteKeySetSource
type RemoteOpt func(r *RemoteKeySetSource)

// WithHTTPClient will set a http.Client for fetching key sets. If not set,
// http.DefaultClient will be used.
func WithHTTPClient(hc *http.Client) RemoteOpt {
	return func(r *RemoteKeySetSource) {
		r.hc = hc
	}
}

func NewRemoteKeySetSource(opts ...RemoteOpt) *RemoteKeySetSource {
	r := &RemoteKeySetSource{
		hc: http.DefaultClient,
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

func (r *RemoteKeySetSource) KeySet(ctx context.Context, c *client.Client) (*jose.JSONWebKeySet, error) {
	if c.JWKS != nil {
		return c.JWKS, nil
	}
	if c.JWKSURI == "" {
		return nil, fmt.Errorf("client %s has no jwks or jwks_uri registered", c.ID)
	}

	ch := r.sf.DoChan(c.JWKSURI, func() (interface{}, error) {
		fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), fetchTimeout)
		defer cancel()
		return r.fetch(fctx, c.JWKSURI)
	})
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*jose.JSONWebKeySet), nil
	}
}

func (r *RemoteKeySetSource) fetch(ctx context.Context, uri string) (*jose.JSONWebKeySet, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, uri, nil)
	if err != nil {
		return nil, fmt.Errorf("building request for %s: %w", uri, err)
	}
	req.Header.Set("Accept", "application/json")

	res, err := r.hc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to get keys from %s: %w", uri, err)
	}
	defer res.Body.Close()

	if res.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("failed to get keys from %s: status %d", uri, res.StatusCode)
	}

	ks := &jose.JSONWebKeySet{}
	if err := json.NewDecoder(io.LimitReader(res.Body, maxKeySetSize)).Decode(ks); err != nil {
		return nil, fmt.Errorf("failed decoding JWKS response: %w", err)
	}

	return ks, nil
}
