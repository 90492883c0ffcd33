package authn

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/go-jose/go-jose/v3/jwt"

	"github.com/pardot/oidcop/client"
	"github.com/pardot/oidcop/jwk"
	"github.com/pardot/oidcop/signer"
)

// verifyFunc checks the signature of token, made with alg, returning its
// payload.
type verifyFunc func(ctx context.Context, token, alg, kid string) ([]byte, error)

// assertionVerifier holds the checks common to private_key_jwt and
// client_secret_jwt.
//
// https://tools.ietf.org/html/rfc7523#section-3
type assertionVerifier struct {
	tokenEndpoint string
	now           func() time.Time
	leeway        time.Duration
}

func (a *assertionVerifier) verify(ctx context.Context, form url.Values, c *client.Client, algOK func(alg string) bool, verify verifyFunc) error {
	if typ := form.Get(ParamClientAssertionType); typ != AssertionTypeJWTBearer {
		return fmt.Errorf("unsupported client_assertion_type %q", typ)
	}
	assertion := form.Get(ParamClientAssertion)
	if assertion == "" {
		return errors.New("client_assertion missing")
	}

	alg, kid, err := signer.HeaderAlgorithm(assertion)
	if err != nil {
		return fmt.Errorf("parsing client assertion: %w", err)
	}
	if !algOK(alg) {
		return fmt.Errorf("client assertion algorithm %s not permitted", alg)
	}

	payload, err := verify(ctx, assertion, alg, kid)
	if err != nil {
		return fmt.Errorf("verifying client assertion: %w", err)
	}

	var claims jwt.Claims
	if err := json.Unmarshal(payload, &claims); err != nil {
		return fmt.Errorf("unmarshaling client assertion: %w", err)
	}
	if claims.Expiry == nil {
		return errors.New("client assertion has no exp")
	}
	// the audience is the token endpoint alone, not a list that happens to
	// include it
	if len(claims.Audience) != 1 {
		return fmt.Errorf("client assertion has %d audiences, want only %s", len(claims.Audience), a.tokenEndpoint)
	}

	return claims.ValidateWithLeeway(jwt.Expected{
		Issuer:   c.ID,
		Subject:  c.ID,
		Audience: jwt.Audience{a.tokenEndpoint},
		Time:     a.now(),
	}, a.leeway)
}

// Opt is an option that can configure the JWT authenticators.
type Opt func(a *assertionVerifier)

// WithClock overrides the time source used to check assertion expiry.
func WithClock(now func() time.Time) Opt {
	return func(a *assertionVerifier) {
		a.now = now
	}
}

// WithLeeway sets the clock skew allowed when checking exp, nbf and iat.
func WithLeeway(d time.Duration) Opt {
	return func(a *assertionVerifier) {
		a.leeway = d
	}
}

func newAssertionVerifier(tokenEndpoint string, opts []Opt) assertionVerifier {
	a := assertionVerifier{
		tokenEndpoint: tokenEndpoint,
		now:           time.Now,
		leeway:        jwt.DefaultLeeway,
	}
	for _, o := range opts {
		o(&a)
	}
	return a
}

var _ Authenticator = (*PrivateKeyJWT)(nil)

// PrivateKeyJWT authenticates clients by a JWT assertion signed with one of the
// keys in the client's published key set.
type PrivateKeyJWT struct {
	assertionVerifier
	keys jwk.KeySetSource
}

// NewPrivateKeyJWT returns an authenticator expecting assertions addressed to
// tokenEndpoint, verified against keys from the given source.
func NewPrivateKeyJWT(tokenEndpoint string, keys jwk.KeySetSource, opts ...Opt) *PrivateKeyJWT {
	return &PrivateKeyJWT{
		assertionVerifier: newAssertionVerifier(tokenEndpoint, opts),
		keys:              keys,
	}
}

func (p *PrivateKeyJWT) Supports(method string) bool {
	return method == client.AuthMethodPrivateKeyJWT
}

func (p *PrivateKeyJWT) Authenticate(ctx context.Context, form url.Values, c *client.Client) (*client.Client, error) {
	asymmetric := func(alg string) bool {
		return alg != signer.AlgNone && !jwk.IsHMAC(alg)
	}

	err := p.verify(ctx, form, c, asymmetric, func(ctx context.Context, token, alg, kid string) ([]byte, error) {
		ks, err := p.keys.KeySet(ctx, c)
		if err != nil {
			return nil, fmt.Errorf("resolving client keys: %w", err)
		}
		keys := jwk.ForVerification(ks, alg, kid)
		if len(keys) == 0 {
			return nil, fmt.Errorf("%w for %s", jwk.ErrNoKey, alg)
		}
		return signer.Verify(token, alg, keys)
	})
	if err != nil {
		return nil, err
	}
	return c, nil
}

var _ Authenticator = (*ClientSecretJWT)(nil)

// ClientSecretJWT authenticates clients by a JWT assertion HMAC signed with
// the client secret.
type ClientSecretJWT struct {
	assertionVerifier
}

// NewClientSecretJWT returns an authenticator expecting assertions addressed
// to tokenEndpoint.
func NewClientSecretJWT(tokenEndpoint string, opts ...Opt) *ClientSecretJWT {
	return &ClientSecretJWT{
		assertionVerifier: newAssertionVerifier(tokenEndpoint, opts),
	}
}

func (s *ClientSecretJWT) Supports(method string) bool {
	return method == client.AuthMethodClientSecretJWT
}

func (s *ClientSecretJWT) Authenticate(ctx context.Context, form url.Values, c *client.Client) (*client.Client, error) {
	if c.Secret == "" {
		return nil, fmt.Errorf("client %s has no secret", c.ID)
	}

	err := s.verify(ctx, form, c, jwk.IsHMAC, func(_ context.Context, token, alg, _ string) ([]byte, error) {
		return signer.VerifyHMAC(token, alg, []byte(c.Secret))
	})
	if err != nil {
		return nil, err
	}
	return c, nil
}
