package idtoken

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	jose "github.com/go-jose/go-jose/v3"
	"github.com/google/uuid"

	"github.com/pardot/oidcop/client"
	"github.com/pardot/oidcop/jwk"
	"github.com/pardot/oidcop/provider"
	"github.com/pardot/oidcop/session"
	"github.com/pardot/oidcop/signer"
)

// Request is the input to ID token issuance: who the token is for, and the
// authenticated session it describes.
type Request struct {
	Client  *client.Client
	Session *session.Session
}

// Issuer creates ID tokens for authenticated sessions.
type Issuer struct {
	provider *provider.Context
	keys     jwk.KeySetSource
	now      func() time.Time
	newID    func() string
}

// Opt is an option that can configure an Issuer
type Opt func(i *Issuer)

// WithClock overrides the time source, for tests.
func WithClock(now func() time.Time) Opt {
	return func(i *Issuer) {
		i.now = now
	}
}

// WithIDGenerator overrides how jti values are created. Defaults to random
// UUIDs.
func WithIDGenerator(f func() string) Opt {
	return func(i *Issuer) {
		i.newID = f
	}
}

// NewIssuer returns an Issuer. Tokens are signed with the provider's keys, and
// keys from the source are used to encrypt tokens for clients that require it.
func NewIssuer(p *provider.Context, keys jwk.KeySetSource, opts ...Opt) *Issuer {
	i := &Issuer{
		provider: p,
		keys:     keys,
		now:      time.Now,
		newID:    uuid.NewString,
	}
	for _, o := range opts {
		o(i)
	}
	return i
}

type keySetResult struct {
	ks  *jose.JSONWebKeySet
	err error
}

// Issue returns a compact ID token for the request. It is a JWS, signed as the
// client registered, wrapped in a JWE when the client registered ID token
// encryption.
func (i *Issuer) Issue(ctx context.Context, req *Request) (string, error) {
	if req == nil || req.Client == nil || req.Session == nil {
		return "", errors.New("id token request needs a client and a session")
	}
	c := req.Client

	// resolve the client's keys while we sign. Only asymmetric encryption
	// needs them, other clients never cause a fetch.
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	var keysC chan keySetResult
	if c.RequiresIDTokenEncryption() && !jwk.IsSymmetricKeyManagement(c.IDTokenEncryptedResponseAlg) {
		keysC = make(chan keySetResult, 1)
		go func() {
			ks, err := i.keys.KeySet(ctx, c)
			keysC <- keySetResult{ks: ks, err: err}
		}()
	}

	payload, err := json.Marshal(i.claims(req.Session, c))
	if err != nil {
		return "", fmt.Errorf("marshaling id token claims: %w", err)
	}

	token, err := i.sign(ctx, payload, c)
	if err != nil {
		return "", err
	}

	if !c.RequiresIDTokenEncryption() {
		return token, nil
	}

	var res keySetResult
	if keysC != nil {
		select {
		case res = <-keysC:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	return i.encrypt(token, c, res)
}

func (i *Issuer) claims(s *session.Session, c *client.Client) Claims {
	now := i.now()

	cl := Claims{
		ID:        i.newID(),
		Issuer:    i.provider.IssuerURL,
		Subject:   s.ObfuscatedSubject,
		Audience:  Audience{c.ID},
		Expiry:    NewUnixTime(i.provider.IDTokenExpiry(now)),
		NotBefore: NewUnixTime(now),
		IssuedAt:  NewUnixTime(now),
		Nonce:     s.Nonce,
		ACR:       s.ACRValues,
		Extra:     s.IDTokenClaims,
	}
	if s.AuthTime != nil {
		cl.AuthTime = NewUnixTime(*s.AuthTime)
	}
	return cl
}

func (i *Issuer) sign(ctx context.Context, payload []byte, c *client.Client) (string, error) {
	alg := c.IDTokenSigning()

	var (
		token string
		err   error
	)
	switch {
	case alg == client.AlgNone:
		token = signer.SignUnsecured(payload)
	case jwk.IsHMAC(alg):
		if c.Secret == "" {
			return "", fmt.Errorf("client %s has no secret to sign %s id tokens with", c.ID, alg)
		}
		token, err = signer.Sign(alg, []byte(c.Secret), payload)
	default:
		token, err = i.provider.Signer().Sign(ctx, alg, payload)
	}
	if err != nil {
		return "", fmt.Errorf("signing id token: %w", err)
	}
	return token, nil
}

func (i *Issuer) encrypt(token string, c *client.Client, keys keySetResult) (string, error) {
	alg, enc := c.IDTokenEncryptedResponseAlg, c.IDTokenEncryptionEnc()

	var key interface{}
	if jwk.IsSymmetricKeyManagement(alg) {
		key = []byte(c.Secret)
	} else {
		if keys.err != nil {
			return "", fmt.Errorf("resolving keys for client %s: %w", c.ID, keys.err)
		}
		k, err := jwk.ForEncryption(keys.ks, alg)
		if err != nil {
			return "", fmt.Errorf("client %s: %w", c.ID, err)
		}
		key = k
	}

	jwe, err := signer.Encrypt([]byte(token), alg, enc, key)
	if err != nil {
		return "", fmt.Errorf("encrypting id token: %w", err)
	}
	return jwe, nil
}
