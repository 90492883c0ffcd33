package signer

import (
	"context"
	"fmt"

	jose "github.com/go-jose/go-jose/v3"

	"github.com/pardot/oidcop/jwk"
)

// StaticSigner performs the server side key operations against a fixed key
// set: signing with the server's keys, and opening JWEs addressed to them.
type StaticSigner struct {
	keys jose.JSONWebKeySet
}

// NewStatic returns a StaticSigner with the provided keys. The set should
// contain private keys, their public halves are derived for publication.
func NewStatic(keys jose.JSONWebKeySet) *StaticSigner {
	return &StaticSigner{
		keys: keys,
	}
}

// PublicKeys returns a keyset of the public half of every key, suitable for
// serving on the jwks endpoint.
func (s *StaticSigner) PublicKeys(_ context.Context) (*jose.JSONWebKeySet, error) {
	ks := &jose.JSONWebKeySet{}
	for _, k := range s.keys.Keys {
		if !k.IsPublic() {
			k = k.Public()
		}
		if !k.Valid() {
			continue
		}
		ks.Keys = append(ks.Keys, k)
	}
	return ks, nil
}

// Sign the provided data with the first private key usable for alg. The key's
// ID is set in the token header.
func (s *StaticSigner) Sign(_ context.Context, alg string, data []byte) (string, error) {
	key, err := jwk.ForSigning(&s.keys, alg)
	if err != nil {
		return "", err
	}
	return Sign(alg, key, data)
}

// VerifySignature verifies the given token was signed by one of our keys
// using alg.
func (s *StaticSigner) VerifySignature(_ context.Context, alg, jwt string) ([]byte, error) {
	_, kid, err := HeaderAlgorithm(jwt)
	if err != nil {
		return nil, err
	}
	return Verify(jwt, alg, jwk.ForVerification(&s.keys, alg, kid))
}

// Decrypt opens a JWE addressed to one of our keys with key management alg
// and content encryption enc.
func (s *StaticSigner) Decrypt(_ context.Context, token, alg, enc string) ([]byte, error) {
	key, err := jwk.ForDecryption(&s.keys, alg)
	if err != nil {
		return nil, fmt.Errorf("finding server decryption key: %w", err)
	}
	return Decrypt(token, alg, enc, key)
}
