package request

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	jose "github.com/go-jose/go-jose/v3"
	"github.com/google/go-cmp/cmp"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"

	"github.com/pardot/oidcop/client"
	"github.com/pardot/oidcop/jwk"
	"github.com/pardot/oidcop/provider"
	"github.com/pardot/oidcop/requestcache"
	"github.com/pardot/oidcop/requestcache/memory"
	"github.com/pardot/oidcop/signer"
)

const (
	issuer     = "https://op.example"
	requestURI = "https://rp.example/req"
	// 32 bytes, usable as an A256KW key
	clientSecret = "0123456789abcdef0123456789abcdef"
)

func TestResolveEmpty(t *testing.T) {
	r, _ := newTestResolver(t, &stubFetcher{})

	claims, err := r.Resolve(context.Background(), "", "", noneClient())
	if err != nil {
		t.Fatal(err)
	}
	if len(claims) != 0 {
		t.Errorf("want empty claims, got %v", claims)
	}
}

func TestResolveBothSet(t *testing.T) {
	r, _ := newTestResolver(t, &stubFetcher{})

	_, err := r.Resolve(context.Background(), "a.b.", requestURI, noneClient())
	if err == nil {
		t.Fatal("want error when both request and request_uri are set")
	}
	var rerr *Error
	if errors.As(err, &rerr) {
		t.Errorf("caller error should not be a request object error, got %v", err)
	}
}

func TestResolveUnsecuredByValue(t *testing.T) {
	fetcher := &stubFetcher{}
	r, _ := newTestResolver(t, fetcher)
	ctx := context.Background()
	c := noneClient()

	payload := map[string]interface{}{
		"jti":       "abc",
		"aud":       issuer,
		"scope":     "openid email",
		"client_id": c.ID,
		"max_age":   float64(300),
	}
	claims, err := r.Resolve(ctx, unsecured(t, payload), "", c)
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(Claims(payload), claims); diff != "" {
		t.Error(diff)
	}
	if fetcher.Calls() != 0 {
		t.Errorf("by value resolution should not fetch, got %d fetches", fetcher.Calls())
	}

	for _, tc := range []struct {
		Name  string
		Token string
	}{
		{
			Name:  "missing jti",
			Token: unsecured(t, map[string]interface{}{"aud": issuer}),
		},
		{
			Name:  "wrong audience",
			Token: unsecured(t, map[string]interface{}{"jti": "abc", "aud": "https://other.example"}),
		},
		{
			Name:  "expired",
			Token: unsecured(t, map[string]interface{}{"jti": "abc", "aud": issuer, "exp": time.Now().Add(-1 * time.Hour).Unix()}),
		},
		{
			Name:  "signed token for none client",
			Token: mustSign(t, "HS256", []byte(clientSecret), map[string]interface{}{"jti": "abc", "aud": issuer}),
		},
		{
			Name:  "garbage",
			Token: "not a jwt",
		},
	} {
		t.Run(tc.Name, func(t *testing.T) {
			_, err := r.Resolve(ctx, tc.Token, "", c)
			if !errors.Is(err, ErrInvalidRequestObject) {
				t.Errorf("want ErrInvalidRequestObject, got %v", err)
			}
		})
	}
}

func TestResolveSigned(t *testing.T) {
	ctx := context.Background()
	key := mustGenRSAKey()
	otherKey := mustGenRSAKey()

	c := &client.Client{
		ID:                      "signed",
		Type:                    client.TypeConfidential,
		RequestObjectSigningAlg: "RS256",
		JWKS: &jose.JSONWebKeySet{Keys: []jose.JSONWebKey{
			{Key: otherKey.Public(), KeyID: "other", Use: "sig"},
			{Key: key.Public(), KeyID: "k1", Use: "sig"},
		}},
	}
	hc := &client.Client{
		ID:                      "hmac",
		Type:                    client.TypeConfidential,
		Secret:                  clientSecret,
		RequestObjectSigningAlg: "HS256",
	}
	good := map[string]interface{}{"jti": "abc", "aud": []interface{}{issuer, "https://other.example"}, "state": "xyz"}

	for _, tc := range []struct {
		Name    string
		Client  *client.Client
		Token   string
		WantErr bool
	}{
		{
			Name:   "signed with kid",
			Client: c,
			Token:  mustSign(t, "RS256", &jose.JSONWebKey{Key: key, KeyID: "k1"}, good),
		},
		{
			Name:   "signed without kid tries each key",
			Client: c,
			Token:  mustSign(t, "RS256", key, good),
		},
		{
			Name:    "kid names a different key",
			Client:  c,
			Token:   mustSign(t, "RS256", &jose.JSONWebKey{Key: key, KeyID: "other"}, good),
			WantErr: true,
		},
		{
			Name:    "unknown key",
			Client:  c,
			Token:   mustSign(t, "RS256", mustGenRSAKey(), good),
			WantErr: true,
		},
		{
			Name:    "algorithm other than registered",
			Client:  c,
			Token:   mustSign(t, "PS256", key, good),
			WantErr: true,
		},
		{
			Name:    "unsecured token for signing client",
			Client:  c,
			Token:   unsecured(t, good),
			WantErr: true,
		},
		{
			Name:   "hmac with client secret",
			Client: hc,
			Token:  mustSign(t, "HS256", []byte(clientSecret), good),
		},
		{
			Name:   "hmac with kid header",
			Client: hc,
			Token:  mustSign(t, "HS256", &jose.JSONWebKey{Key: []byte(clientSecret), KeyID: "k1"}, good),
		},
		{
			Name:    "hmac with wrong secret",
			Client:  hc,
			Token:   mustSign(t, "HS256", []byte("wrong"), good),
			WantErr: true,
		},
	} {
		t.Run(tc.Name, func(t *testing.T) {
			r, _ := newTestResolver(t, &stubFetcher{}, withKeys(jwk.NewRemoteKeySetSource()))

			claims, err := r.Resolve(ctx, tc.Token, "", tc.Client)
			if tc.WantErr {
				if !errors.Is(err, ErrInvalidRequestObject) {
					t.Fatalf("want ErrInvalidRequestObject, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatal(err)
			}
			if s, _ := claims.String("state"); s != "xyz" {
				t.Errorf("want state xyz, got %v", claims["state"])
			}
		})
	}
}

func TestResolveEncrypted(t *testing.T) {
	ctx := context.Background()
	clientKey := mustGenRSAKey()
	serverEncKey := mustGenRSAKey()

	p := &provider.Context{
		IssuerURL: issuer,
		Keys: jose.JSONWebKeySet{Keys: []jose.JSONWebKey{
			{Key: serverEncKey, KeyID: "enc1", Use: "enc", Algorithm: "RSA-OAEP-256"},
		}},
	}
	claims := map[string]interface{}{"jti": "abc", "aud": issuer, "nonce": "n-0S6_WzA2Mj"}

	t.Run("symmetric", func(t *testing.T) {
		c := &client.Client{
			ID:                         "sym",
			Type:                       client.TypeConfidential,
			Secret:                     clientSecret,
			RequestObjectSigningAlg:    client.AlgNone,
			RequestObjectEncryptionAlg: "A256KW",
			RequestObjectEncryptionEnc: "A128GCM",
		}
		jwe, err := signer.Encrypt([]byte(unsecured(t, claims)), "A256KW", "A128GCM", []byte(clientSecret))
		if err != nil {
			t.Fatal(err)
		}

		r, _ := newTestResolver(t, &stubFetcher{}, withProvider(p))
		got, err := r.Resolve(ctx, jwe, "", c)
		if err != nil {
			t.Fatal(err)
		}
		if n, _ := got.String("nonce"); n != "n-0S6_WzA2Mj" {
			t.Errorf("want nonce from inner token, got %v", got["nonce"])
		}

		// the content encryption must be the registered one
		otherEnc, err := signer.Encrypt([]byte(unsecured(t, claims)), "A256KW", "A256GCM", []byte(clientSecret))
		if err != nil {
			t.Fatal(err)
		}
		if _, err := r.Resolve(ctx, otherEnc, "", c); !errors.Is(err, ErrInvalidRequestObject) {
			t.Errorf("want ErrInvalidRequestObject for enc mismatch, got %v", err)
		}

		// plain token when encryption is registered
		if _, err := r.Resolve(ctx, unsecured(t, claims), "", c); !errors.Is(err, ErrInvalidRequestObject) {
			t.Errorf("want ErrInvalidRequestObject for unencrypted token, got %v", err)
		}
	})

	t.Run("asymmetric", func(t *testing.T) {
		c := &client.Client{
			ID:                         "asym",
			Type:                       client.TypeConfidential,
			RequestObjectSigningAlg:    "RS256",
			RequestObjectEncryptionAlg: "RSA-OAEP-256",
			RequestObjectEncryptionEnc: "A256GCM",
			JWKS: &jose.JSONWebKeySet{Keys: []jose.JSONWebKey{
				{Key: clientKey.Public(), KeyID: "c1", Use: "sig"},
			}},
		}
		inner := mustSign(t, "RS256", &jose.JSONWebKey{Key: clientKey, KeyID: "c1"}, claims)
		jwe, err := signer.Encrypt([]byte(inner), "RSA-OAEP-256", "A256GCM", serverEncKey.Public())
		if err != nil {
			t.Fatal(err)
		}

		r, _ := newTestResolver(t, &stubFetcher{}, withProvider(p), withKeys(jwk.NewRemoteKeySetSource()))
		got, err := r.Resolve(ctx, jwe, "", c)
		if err != nil {
			t.Fatal(err)
		}
		if n, _ := got.String("nonce"); n != "n-0S6_WzA2Mj" {
			t.Errorf("want nonce from inner token, got %v", got["nonce"])
		}
	})
}

func TestResolveServerConfigurationError(t *testing.T) {
	r, _ := newTestResolver(t, &stubFetcher{})

	claims := map[string]interface{}{"jti": "x", "aud": issuer, "login_hint": "admin"}
	hmacToken := mustSign(t, "HS256", []byte(clientSecret), claims)
	kwToken, err := signer.Encrypt([]byte(unsecured(t, claims)), "A256KW", "A128GCM", []byte(clientSecret))
	if err != nil {
		t.Fatal(err)
	}

	for _, tc := range []struct {
		Client *client.Client
		Token  string
	}{
		{
			Client: &client.Client{ID: "a", RequestObjectSigningAlg: client.AlgNone, RequestObjectEncryptionAlg: "RSA-OAEP", RequestObjectEncryptionEnc: client.AlgNone},
			Token:  "a.b.c.d.e",
		},
		{
			Client: &client.Client{ID: "b", RequestObjectSigningAlg: client.AlgNone, RequestObjectEncryptionEnc: "A128GCM"},
			Token:  "a.b.c.d.e",
		},
		{
			Client: &client.Client{ID: "hmac-no-secret", Type: client.TypePublic, RequestObjectSigningAlg: "HS256"},
			Token:  hmacToken,
		},
		{
			Client: &client.Client{ID: "kw-no-secret", Type: client.TypePublic, RequestObjectSigningAlg: client.AlgNone, RequestObjectEncryptionAlg: "A256KW", RequestObjectEncryptionEnc: "A128GCM"},
			Token:  kwToken,
		},
	} {
		c := tc.Client
		got, err := r.Resolve(context.Background(), tc.Token, "", c)
		if got != nil {
			t.Errorf("client %s: want no claims, got %v", c.ID, got)
		}

		var sce *ServerConfigurationError
		if !errors.As(err, &sce) {
			t.Errorf("client %s: want ServerConfigurationError, got %v", c.ID, err)
		}
		if errors.Is(err, ErrInvalidRequestObject) {
			t.Errorf("client %s: configuration error must not be reported as invalid request object", c.ID)
		}
	}
}

func TestRequestURILength(t *testing.T) {
	base := "https://rp.example/"
	exact := base + strings.Repeat("a", MaxRequestURILength-len(base))
	long := exact + "a"

	fetcher := &stubFetcher{status: 200, body: unsecured(t, map[string]interface{}{"jti": "abc", "aud": issuer})}
	r, _ := newTestResolver(t, fetcher)

	c := noneClient()
	c.RequestURIs = []string{exact, long}

	if len(exact) != 512 {
		t.Fatalf("test uri is %d long", len(exact))
	}
	if _, err := r.Resolve(context.Background(), "", exact, c); err != nil {
		t.Errorf("512 character request_uri should be accepted, got %v", err)
	}
	if _, err := r.Resolve(context.Background(), "", long, c); !errors.Is(err, ErrRequestURITooLong) {
		t.Errorf("want ErrRequestURITooLong, got %v", err)
	}
}

func TestResolveByReferenceWritesCache(t *testing.T) {
	body := unsecured(t, map[string]interface{}{"jti": "abc", "aud": issuer})
	fetcher := &stubFetcher{status: 200, body: body}
	now := time.Date(2021, 3, 4, 5, 6, 7, 0, time.UTC)
	r, cache := newTestResolver(t, fetcher, withClock(now))

	if _, err := r.Resolve(context.Background(), "", requestURI, noneClient()); err != nil {
		t.Fatal(err)
	}
	r.Wait()

	writes := cache.Writes()
	if len(writes) != 1 {
		t.Fatalf("want one cache write, got %d", len(writes))
	}
	exp := now.Add(30 * 24 * time.Hour)
	want := &requestcache.CachedRequest{
		RequestURI: requestURI,
		Request:    body,
		Hash:       Digest([]byte(body)),
		Expiry:     &exp,
	}
	if diff := cmp.Diff(want, writes[0]); diff != "" {
		t.Error(diff)
	}
}

func TestResolveCachedDoesNotRefetch(t *testing.T) {
	ctx := context.Background()
	body := unsecured(t, map[string]interface{}{"jti": "abc", "aud": issuer})
	fetcher := &stubFetcher{status: 200, body: body}
	reg := prometheus.NewRegistry()
	r, _ := newTestResolver(t, fetcher, withOpt(WithRegisterer(reg)))

	c := noneClient()
	hashed := requestURI + "#" + Digest([]byte(body))
	lowered := strings.ToLower(hashed)
	c.RequestURIs = append(c.RequestURIs, hashed, lowered)

	for _, uri := range []string{requestURI, requestURI, hashed, lowered} {
		if _, err := r.Resolve(ctx, "", uri, c); err != nil {
			t.Fatalf("resolving %s: %v", uri, err)
		}
		r.Wait()
	}

	if fetcher.Calls() != 1 {
		t.Errorf("want one fetch, got %d", fetcher.Calls())
	}
	if got := testutil.ToFloat64(r.metrics.cacheHits); got != 3 {
		t.Errorf("want 3 cache hits, got %v", got)
	}
}

func TestResolveStaleCache(t *testing.T) {
	ctx := context.Background()
	body := unsecured(t, map[string]interface{}{"jti": "abc", "aud": issuer})
	past := time.Now().Add(-1 * time.Minute)

	for _, tc := range []struct {
		Name   string
		URI    string
		Cached *requestcache.CachedRequest
	}{
		{
			Name: "expired",
			URI:  requestURI,
			Cached: &requestcache.CachedRequest{
				RequestURI: requestURI,
				Request:    body,
				Hash:       Digest([]byte(body)),
				Expiry:     &past,
			},
		},
		{
			Name: "fragment does not match cached hash",
			URI:  requestURI + "#" + Digest([]byte(body)),
			Cached: &requestcache.CachedRequest{
				RequestURI: requestURI,
				Request:    "older content",
				Hash:       Digest([]byte("older content")),
			},
		},
	} {
		t.Run(tc.Name, func(t *testing.T) {
			fetcher := &stubFetcher{status: 200, body: body}
			r, cache := newTestResolver(t, fetcher)
			if err := cache.Cache.Write(ctx, tc.Cached); err != nil {
				t.Fatal(err)
			}

			c := noneClient()
			c.RequestURIs = []string{tc.URI}

			if _, err := r.Resolve(ctx, "", tc.URI, c); err != nil {
				t.Fatal(err)
			}
			r.Wait()

			if fetcher.Calls() != 1 {
				t.Errorf("want a fetch for stale entry, got %d", fetcher.Calls())
			}
			if diff := cmp.Diff([]string{requestURI}, cache.Evicts()); diff != "" {
				t.Errorf("want stale entry evicted: %s", diff)
			}
			got, err := cache.Find(ctx, requestURI)
			if err != nil {
				t.Fatal(err)
			}
			if got.Request != body {
				t.Errorf("want refreshed content cached, got %q", got.Request)
			}
		})
	}
}

func TestResolveBadHash(t *testing.T) {
	body := unsecured(t, map[string]interface{}{"jti": "abc", "aud": issuer})

	for _, status := range []int{200, 404, 500} {
		t.Run(fmt.Sprintf("status %d", status), func(t *testing.T) {
			fetcher := &stubFetcher{status: status, body: body}
			r, cache := newTestResolver(t, fetcher)

			c := noneClient()
			uri := requestURI + "#abc"
			c.RequestURIs = []string{uri}

			_, err := r.Resolve(context.Background(), "", uri, c)
			if !errors.Is(err, ErrRequestURIBadHash) {
				t.Fatalf("want ErrRequestURIBadHash, got %v", err)
			}
			r.Wait()
			if len(cache.Writes()) != 0 {
				t.Error("content failing the hash check should not be cached")
			}
		})
	}
}

func TestResolveByReferenceErrors(t *testing.T) {
	ctx := context.Background()

	t.Run("unregistered", func(t *testing.T) {
		fetcher := &stubFetcher{status: 200, body: "x"}
		r, _ := newTestResolver(t, fetcher)
		_, err := r.Resolve(ctx, "", "https://evil.example/req", noneClient())
		if !errors.Is(err, ErrUnregisteredRequestURI) {
			t.Errorf("want ErrUnregisteredRequestURI, got %v", err)
		}
		if fetcher.Calls() != 0 {
			t.Error("unregistered request_uri should not be fetched")
		}
	})

	t.Run("non 200", func(t *testing.T) {
		r, _ := newTestResolver(t, &stubFetcher{status: 404, body: "not found"})
		_, err := r.Resolve(ctx, "", requestURI, noneClient())
		if !errors.Is(err, ErrRequestURIFetchFailed) {
			t.Fatalf("want ErrRequestURIFetchFailed, got %v", err)
		}
		var rerr *Error
		if !errors.As(err, &rerr) || rerr.Status != 404 {
			t.Errorf("want status 404 on error, got %v", err)
		}
	})

	t.Run("transport failure", func(t *testing.T) {
		refused := errors.New("connection refused")
		r, _ := newTestResolver(t, FetcherFunc(func(_ context.Context, uri string) (*Response, error) {
			if uri != requestURI {
				t.Errorf("want fetch of %s, got %s", requestURI, uri)
			}
			return nil, refused
		}))
		_, err := r.Resolve(ctx, "", requestURI, noneClient())
		if !errors.Is(err, ErrRequestURIFetchFailed) {
			t.Errorf("want ErrRequestURIFetchFailed, got %v", err)
		}
		var rerr *Error
		if !errors.As(err, &rerr) || rerr.Status != 0 || !errors.Is(err, refused) {
			t.Errorf("want transport cause with no status, got %v", err)
		}
	})

	t.Run("empty body", func(t *testing.T) {
		r, cache := newTestResolver(t, &stubFetcher{status: 200, body: ""})
		_, err := r.Resolve(ctx, "", requestURI, noneClient())
		if !errors.Is(err, ErrInvalidRequestURI) {
			t.Errorf("want ErrInvalidRequestURI, got %v", err)
		}
		r.Wait()
		if len(cache.Writes()) != 0 {
			t.Error("empty content should not be cached")
		}
	})

	t.Run("invalid content", func(t *testing.T) {
		r, _ := newTestResolver(t, &stubFetcher{status: 200, body: "<html></html>"})
		_, err := r.Resolve(ctx, "", requestURI, noneClient())
		if !errors.Is(err, ErrInvalidRequestObject) {
			t.Errorf("want ErrInvalidRequestObject, got %v", err)
		}
	})
}

func TestCacheWriteFailureIsSwallowed(t *testing.T) {
	body := unsecured(t, map[string]interface{}{"jti": "abc", "aud": issuer})
	logger, hook := logtest.NewNullLogger()

	r, cache := newTestResolver(t, &stubFetcher{status: 200, body: body}, withOpt(WithLogger(logger)))
	cache.writeErr = errors.New("disk full")

	ctx, cancel := context.WithCancel(context.Background())
	if _, err := r.Resolve(ctx, "", requestURI, noneClient()); err != nil {
		t.Fatalf("cache failure should not fail resolution, got %v", err)
	}
	// background tasks must outlive the request
	cancel()
	r.Wait()

	if cache.CancelledWrites() != 0 {
		t.Error("background write saw the request's cancelled context")
	}
	if e := hook.LastEntry(); e == nil || e.Level != logrus.WarnLevel {
		t.Errorf("want failed write logged as a warning, got %v", e)
	}
}

func TestClaimsParams(t *testing.T) {
	claims := Claims{
		"iss":          "client",
		"aud":          issuer,
		"jti":          "abc",
		"exp":          float64(1600000000),
		"scope":        "openid profile",
		"acr_values":   []interface{}{"gold", "silver"},
		"redirect_uri": "https://rp.example/cb",
		"max_age":      float64(300),
		"claims":       map[string]interface{}{"id_token": map[string]interface{}{"email": nil}},
	}
	query := map[string][]string{
		"scope":         {"openid"},
		"response_type": {"code"},
	}

	got, err := claims.Params(query)
	if err != nil {
		t.Fatal(err)
	}

	want := map[string][]string{
		"scope":         {"openid profile"},
		"response_type": {"code"},
		"acr_values":    {"gold silver"},
		"redirect_uri":  {"https://rp.example/cb"},
		"max_age":       {"300"},
		"claims":        {`{"id_token":{"email":null}}`},
	}
	if diff := cmp.Diff(want, map[string][]string(got)); diff != "" {
		t.Error(diff)
	}
	if query["scope"][0] != "openid" {
		t.Error("Params should not modify its input")
	}
}

type testOpt func(*testSetup)

type testSetup struct {
	provider *provider.Context
	keys     jwk.KeySetSource
	opts     []Opt
}

func withProvider(p *provider.Context) testOpt {
	return func(s *testSetup) { s.provider = p }
}

func withKeys(k jwk.KeySetSource) testOpt {
	return func(s *testSetup) { s.keys = k }
}

func withClock(now time.Time) testOpt {
	return withOpt(WithClock(func() time.Time { return now }))
}

func withOpt(o Opt) testOpt {
	return func(s *testSetup) { s.opts = append(s.opts, o) }
}

func newTestResolver(t *testing.T, f Fetcher, opts ...testOpt) (*Resolver, *recordingCache) {
	t.Helper()

	s := &testSetup{
		provider: &provider.Context{IssuerURL: issuer},
		keys: jwk.KeySetFunc(func(context.Context, *client.Client) (*jose.JSONWebKeySet, error) {
			t.Error("key set should not be resolved")
			return nil, errors.New("unexpected key set resolution")
		}),
	}
	for _, o := range opts {
		o(s)
	}

	cache := &recordingCache{Cache: memory.New()}
	r := New(s.provider, cache, f, s.keys, s.opts...)
	t.Cleanup(r.Wait)
	return r, cache
}

func noneClient() *client.Client {
	return &client.Client{
		ID:                      "none-client",
		Type:                    client.TypePublic,
		RequestObjectSigningAlg: client.AlgNone,
		RequestURIs:             []string{requestURI},
	}
}

func unsecured(t *testing.T, claims map[string]interface{}) string {
	t.Helper()
	b, err := json.Marshal(claims)
	if err != nil {
		t.Fatal(err)
	}
	return signer.SignUnsecured(b)
}

func mustSign(t *testing.T, alg string, key interface{}, claims map[string]interface{}) string {
	t.Helper()
	b, err := json.Marshal(claims)
	if err != nil {
		t.Fatal(err)
	}
	tok, err := signer.Sign(alg, key, b)
	if err != nil {
		t.Fatal(err)
	}
	return tok
}

func mustGenRSAKey() *rsa.PrivateKey {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		panic(err)
	}

	return key
}

type stubFetcher struct {
	status int
	body   string

	mu    sync.Mutex
	calls int
}

func (s *stubFetcher) Get(_ context.Context, _ string) (*Response, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.calls++
	return &Response{StatusCode: s.status, Body: []byte(s.body)}, nil
}

func (s *stubFetcher) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.calls
}

// recordingCache wraps a cache, recording the mutations made through it
type recordingCache struct {
	requestcache.Cache

	writeErr error

	mu              sync.Mutex
	writes          []*requestcache.CachedRequest
	evicts          []string
	cancelledWrites int
}

func (r *recordingCache) Write(ctx context.Context, req *requestcache.CachedRequest) error {
	r.mu.Lock()
	r.writes = append(r.writes, req)
	if ctx.Err() != nil {
		r.cancelledWrites++
	}
	r.mu.Unlock()

	if r.writeErr != nil {
		return r.writeErr
	}
	return r.Cache.Write(ctx, req)
}

func (r *recordingCache) Evict(ctx context.Context, uri string) error {
	r.mu.Lock()
	r.evicts = append(r.evicts, uri)
	r.mu.Unlock()

	return r.Cache.Evict(ctx, uri)
}

func (r *recordingCache) Writes() []*requestcache.CachedRequest {
	r.mu.Lock()
	defer r.mu.Unlock()

	return append([]*requestcache.CachedRequest(nil), r.writes...)
}

func (r *recordingCache) Evicts() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	return append([]string(nil), r.evicts...)
}

func (r *recordingCache) CancelledWrites() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.cancelledWrites
}
