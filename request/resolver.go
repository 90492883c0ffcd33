// Package request resolves OpenID Connect request objects, passed by value in
// the request parameter or by reference in request_uri, into verified claims.
//
// https://openid.net/specs/openid-connect-core-1_0.html#JWTRequests
package request

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/go-jose/go-jose/v3/jwt"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"

	"github.com/pardot/oidcop/client"
	"github.com/pardot/oidcop/jwk"
	"github.com/pardot/oidcop/provider"
	"github.com/pardot/oidcop/requestcache"
	"github.com/pardot/oidcop/signer"
)

// MaxRequestURILength is the longest request_uri accepted.
const MaxRequestURILength = 512

// backgroundTimeout bounds cache writes and evictions that run after the
// resolution has returned.
const backgroundTimeout = 30 * time.Second

// Resolver turns request and request_uri parameters into verified claims.
//
// It should be created via `New` to ensure it is initialized correctly.
type Resolver struct {
	provider *provider.Context
	cache    requestcache.Cache
	fetcher  Fetcher
	keys     jwk.KeySetSource

	logger  logrus.FieldLogger
	metrics *metrics
	now     func() time.Time
	leeway  time.Duration

	// tracks background cache tasks
	wg sync.WaitGroup
}

// Opt is an option that can configure a Resolver
type Opt func(r *Resolver)

// WithLogger sets the logger background task failures are reported to.
func WithLogger(l logrus.FieldLogger) Opt {
	return func(r *Resolver) {
		r.logger = l
	}
}

// WithClock overrides the time source, for tests.
func WithClock(now func() time.Time) Opt {
	return func(r *Resolver) {
		r.now = now
	}
}

// WithLeeway sets the clock skew allowed when checking exp, nbf and iat.
// Defaults to jwt.DefaultLeeway.
func WithLeeway(d time.Duration) Opt {
	return func(r *Resolver) {
		r.leeway = d
	}
}

// WithRegisterer registers cache and fetch counters with reg.
func WithRegisterer(reg prometheus.Registerer) Opt {
	return func(r *Resolver) {
		r.metrics = newMetrics(reg)
	}
}

// New creates a Resolver. The provider context supplies the issuer that
// request objects must be addressed to, the server keys used for decryption,
// and the cache lifespan.
func New(p *provider.Context, cache requestcache.Cache, fetcher Fetcher, keys jwk.KeySetSource, opts ...Opt) *Resolver {
	discard := logrus.New()
	discard.Out = io.Discard

	r := &Resolver{
		provider: p,
		cache:    cache,
		fetcher:  fetcher,
		keys:     keys,
		logger:   discard,
		now:      time.Now,
		leeway:   jwt.DefaultLeeway,
	}
	for _, o := range opts {
		o(r)
	}
	if r.metrics == nil {
		r.metrics = newMetrics(nil)
	}
	return r
}

// Resolve returns the verified claims of the request object for c. At most one
// of request and requestURI may be set. When neither is, the claims are empty.
//
// Failures are returned as an *Error, except for a client registration that
// cannot be used which is a *ServerConfigurationError.
func (r *Resolver) Resolve(ctx context.Context, request, requestURI string, c *client.Client) (Claims, error) {
	switch {
	case request != "" && requestURI != "":
		return nil, errors.New("request and request_uri cannot be used at the same time")
	case request != "":
		return r.process(ctx, request, c)
	case requestURI != "":
		raw, err := r.byReference(ctx, requestURI, c)
		if err != nil {
			return nil, err
		}
		return r.process(ctx, raw, c)
	default:
		return Claims{}, nil
	}
}

// Wait blocks until all background cache tasks started so far have finished.
func (r *Resolver) Wait() {
	r.wg.Wait()
}

func (r *Resolver) byReference(ctx context.Context, requestURI string, c *client.Client) (string, error) {
	if !c.HasRequestURI(requestURI) {
		return "", ErrUnregisteredRequestURI
	}
	if len(requestURI) > MaxRequestURILength {
		return "", ErrRequestURITooLong
	}

	cacheKey, fragment := splitFragment(requestURI)

	// set when a stale entry is being evicted, the write-through waits on it
	var evicted <-chan struct{}

	cached, err := r.cache.Find(ctx, cacheKey)
	switch {
	case err == nil:
		if !cached.HasExpired(r.now()) && (fragment == "" || strings.EqualFold(fragment, cached.Hash)) {
			r.metrics.cacheHits.Inc()
			return cached.Request, nil
		}
		r.metrics.cacheStale.Inc()
		evicted = r.evict(cacheKey)
	case requestcache.IsNotFoundErr(err):
		r.metrics.cacheMisses.Inc()
	default:
		// an unavailable cache only costs us a fetch
		r.metrics.cacheMisses.Inc()
		r.logger.WithError(err).WithField("request_uri", cacheKey).Warn("request cache lookup failed")
	}

	r.metrics.fetches.Inc()
	res, err := r.fetcher.Get(ctx, cacheKey)
	if err != nil {
		return "", &Error{
			Code:        CodeRequestURIFetchFailed,
			Description: ErrRequestURIFetchFailed.Description,
			Cause:       err,
		}
	}

	digest := Digest(res.Body)
	// the fragment pins the content, so a mismatch is reported whatever
	// else is wrong with the response
	if fragment != "" && !strings.EqualFold(fragment, digest) {
		return "", ErrRequestURIBadHash
	}
	if res.StatusCode != 200 {
		return "", fetchFailed(res.StatusCode)
	}
	if len(res.Body) == 0 {
		return "", ErrInvalidRequestURI
	}

	r.write(&requestcache.CachedRequest{
		RequestURI: cacheKey,
		Request:    string(res.Body),
		Hash:       digest,
		Expiry:     r.provider.RequestCacheExpiry(r.now()),
	}, evicted)

	return string(res.Body), nil
}

// process decrypts and verifies the raw request object, collapsing any
// unclassified failure into ErrInvalidRequestObject.
func (r *Resolver) process(ctx context.Context, raw string, c *client.Client) (Claims, error) {
	token := strings.TrimSpace(raw)

	if c.RequiresRequestObjectEncryption() {
		dec, err := r.decrypt(ctx, token, c)
		if err != nil {
			var sce *ServerConfigurationError
			if errors.As(err, &sce) {
				return nil, err
			}
			return nil, invalidRequestObject(err)
		}
		token = dec
	}

	claims, err := r.verify(ctx, token, c)
	if err != nil {
		var sce *ServerConfigurationError
		if errors.As(err, &sce) {
			return nil, err
		}
		return nil, invalidRequestObject(err)
	}
	return claims, nil
}

func (r *Resolver) decrypt(ctx context.Context, token string, c *client.Client) (string, error) {
	alg, enc := c.RequestObjectEncryptionAlg, c.RequestObjectEncryptionEnc
	if alg == "" || alg == client.AlgNone {
		return "", &ServerConfigurationError{ClientID: c.ID, Reason: "request object encryption requires a key management algorithm other than none"}
	}
	if enc == "" || enc == client.AlgNone {
		return "", &ServerConfigurationError{ClientID: c.ID, Reason: "request object encryption requires a content encryption algorithm other than none"}
	}

	if !signer.IsEncrypted(token) {
		return "", errors.New("request object is not encrypted")
	}

	var (
		payload []byte
		err     error
	)
	if jwk.IsSymmetricKeyManagement(alg) {
		if c.Secret == "" {
			return "", noSecret(c, "request object encryption with "+alg)
		}
		payload, err = signer.Decrypt(token, alg, enc, []byte(c.Secret))
	} else {
		payload, err = r.provider.Signer().Decrypt(ctx, token, alg, enc)
	}
	if err != nil {
		return "", fmt.Errorf("decrypting request object: %w", err)
	}

	return string(payload), nil
}

func (r *Resolver) verify(ctx context.Context, token string, c *client.Client) (Claims, error) {
	alg := c.RequestObjectSigning()

	var (
		payload []byte
		err     error
	)
	switch {
	case alg == client.AlgNone:
		// only an unsecured token is acceptable, a signed token is not
		// downgraded to it
		payload, err = signer.ParseUnsecured(token)
	case jwk.IsHMAC(alg):
		if c.Secret == "" {
			return nil, noSecret(c, "request object signing with "+alg)
		}
		payload, err = signer.VerifyHMAC(token, alg, []byte(c.Secret))
	default:
		payload, err = r.verifyWithClientKeys(ctx, token, alg, c)
	}
	if err != nil {
		return nil, err
	}

	var std jwt.Claims
	if err := json.Unmarshal(payload, &std); err != nil {
		return nil, fmt.Errorf("unmarshaling request object claims: %w", err)
	}
	if std.ID == "" {
		return nil, errors.New("request object has no jti")
	}
	if err := std.ValidateWithLeeway(jwt.Expected{
		Audience: jwt.Audience{r.provider.IssuerURL},
		Time:     r.now(),
	}, r.leeway); err != nil {
		return nil, fmt.Errorf("validating request object claims: %w", err)
	}

	claims := Claims{}
	if err := json.Unmarshal(payload, &claims); err != nil {
		return nil, fmt.Errorf("unmarshaling request object claims: %w", err)
	}
	return claims, nil
}

func (r *Resolver) verifyWithClientKeys(ctx context.Context, token, alg string, c *client.Client) ([]byte, error) {
	_, kid, err := signer.HeaderAlgorithm(token)
	if err != nil {
		return nil, fmt.Errorf("parsing request object: %w", err)
	}

	ks, err := r.keys.KeySet(ctx, c)
	if err != nil {
		return nil, fmt.Errorf("resolving keys for client %s: %w", c.ID, err)
	}

	keys := jwk.ForVerification(ks, alg, kid)
	if len(keys) == 0 {
		return nil, fmt.Errorf("client %s: %w for %s", c.ID, jwk.ErrNoKey, alg)
	}

	return signer.Verify(token, alg, keys)
}

// write and evict run detached from the request, so a cancelled request does
// not abandon them. Their failures are only logged.

func (r *Resolver) write(cr *requestcache.CachedRequest, after <-chan struct{}) {
	r.background("write", cr.RequestURI, after, func(ctx context.Context) error {
		return r.cache.Write(ctx, cr)
	})
}

func (r *Resolver) evict(cacheKey string) <-chan struct{} {
	return r.background("evict", cacheKey, nil, func(ctx context.Context) error {
		return r.cache.Evict(ctx, cacheKey)
	})
}

// background runs f in a goroutine once after is closed, if it is set. The
// returned channel is closed when f has returned.
func (r *Resolver) background(op, cacheKey string, after <-chan struct{}, f func(ctx context.Context) error) <-chan struct{} {
	done := make(chan struct{})

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		defer close(done)

		if after != nil {
			<-after
		}

		ctx, cancel := context.WithTimeout(context.Background(), backgroundTimeout)
		defer cancel()

		if err := f(ctx); err != nil {
			r.metrics.cacheErrors.WithLabelValues(op).Inc()
			r.logger.WithError(err).WithFields(logrus.Fields{
				"op":          op,
				"request_uri": cacheKey,
			}).Warn("request cache update failed")
		}
	}()

	return done
}

// Digest returns the base64url encoded SHA-256 of content, the form a
// request_uri fragment carries.
func Digest(content []byte) string {
	sum := sha256.Sum256(content)
	return base64.RawURLEncoding.EncodeToString(sum[:])
}

// splitFragment returns the URI with any fragment removed, and the fragment.
func splitFragment(uri string) (base, fragment string) {
	if i := strings.IndexByte(uri, '#'); i >= 0 {
		return uri[:i], uri[i+1:]
	}
	return uri, ""
}
