package request

import (
	"context"
	"fmt"
	"io"
	"net/http"
)

// DefaultMaxRequestObjectSize bounds how much of a request_uri response is
// read.
const DefaultMaxRequestObjectSize = 1 << 20

// Response is the result of fetching a request_uri.
type Response struct {
	StatusCode int
	Body       []byte
}

// Fetcher retrieves the content of a request_uri. Only a 200 response is a
// success, any other status is returned without error for the caller to
// classify.
type Fetcher interface {
	Get(ctx context.Context, uri string) (*Response, error)
}

var _ Fetcher = (*HTTPFetcher)(nil)

// HTTPFetcher is a Fetcher using a http.Client.
type HTTPFetcher struct {
	// Client is used for requests, http.DefaultClient if nil.
	Client *http.Client
	// MaxBodySize is the most bytes read from a response,
	// DefaultMaxRequestObjectSize if zero.
	MaxBodySize int64
}

func (h *HTTPFetcher) Get(ctx context.Context, uri string) (*Response, error) {
	hc := h.Client
	if hc == nil {
		hc = http.DefaultClient
	}
	max := h.MaxBodySize
	if max == 0 {
		max = DefaultMaxRequestObjectSize
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, uri, nil)
	if err != nil {
		return nil, fmt.Errorf("building request for %s: %w", uri, err)
	}
	req.Header.Set("Accept", "application/oauth-authz-req+jwt, application/jwt")

	res, err := hc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetching %s: %w", uri, err)
	}
	defer res.Body.Close()

	body, err := io.ReadAll(io.LimitReader(res.Body, max+1))
	if err != nil {
		return nil, fmt.Errorf("reading response from %s: %w", uri, err)
	}
	if int64(len(body)) > max {
		return nil, fmt.Errorf("response from %s exceeds %d bytes", uri, max)
	}

	return &Response{StatusCode: res.StatusCode, Body: body}, nil
}

// FetcherFunc adapts a function to a Fetcher.
type FetcherFunc func(ctx context.Context, uri string) (*Response, error)

func (f FetcherFunc) Get(ctx context.Context, uri string) (*Response, error) {
	return f(ctx, uri)
}
