package jwk

import (
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/rsa"
	"errors"
	"fmt"
	"strings"

	jose "github.com/go-jose/go-jose/v3"
)

// ErrNoKey is returned when a key set has no key usable for the requested
// algorithm.
var ErrNoKey = errors.New("no suitable key found")

const (
	useSignature  = "sig"
	useEncryption = "enc"
)

// IsHMAC reports if alg is one of the HMAC signature algorithms, keyed with a
// shared secret rather than a key pair.
func IsHMAC(alg string) bool {
	switch jose.SignatureAlgorithm(alg) {
	case jose.HS256, jose.HS384, jose.HS512:
		return true
	}
	return false
}

// IsSymmetricKeyManagement reports if the JWE key management algorithm uses a
// shared secret.
func IsSymmetricKeyManagement(alg string) bool {
	switch jose.KeyAlgorithm(alg) {
	case jose.A128KW, jose.A192KW, jose.A256KW,
		jose.A128GCMKW, jose.A192GCMKW, jose.A256GCMKW,
		jose.DIRECT,
		jose.PBES2_HS256_A128KW, jose.PBES2_HS384_A192KW, jose.PBES2_HS512_A256KW:
		return true
	}
	return false
}

// ForVerification returns the keys in set that can verify a signature made
// with alg. If kid is not empty, only keys with that ID are returned. Private
// keys are reduced to their public half.
func ForVerification(set *jose.JSONWebKeySet, alg, kid string) []jose.JSONWebKey {
	var keys []jose.JSONWebKey
	for _, k := range candidates(set, useSignature, alg) {
		if kid != "" && k.KeyID != kid {
			continue
		}
		if !signatureKeyMatches(alg, k.Key) {
			continue
		}
		if !k.IsPublic() {
			k = k.Public()
		}
		keys = append(keys, k)
	}
	return keys
}

// ForSigning returns the first private key in set that can sign with alg.
func ForSigning(set *jose.JSONWebKeySet, alg string) (*jose.JSONWebKey, error) {
	for _, k := range candidates(set, useSignature, alg) {
		if k.IsPublic() || !signatureKeyMatches(alg, k.Key) {
			continue
		}
		k := k
		return &k, nil
	}
	return nil, fmt.Errorf("signing with %s: %w", alg, ErrNoKey)
}

// ForEncryption returns the first key in set that can be used as the
// recipient key for the JWE key management algorithm alg.
func ForEncryption(set *jose.JSONWebKeySet, alg string) (*jose.JSONWebKey, error) {
	for _, k := range candidates(set, useEncryption, alg) {
		if !encryptionKeyMatches(alg, k.Key) {
			continue
		}
		if !k.IsPublic() {
			k = k.Public()
		}
		return &k, nil
	}
	return nil, fmt.Errorf("encrypting with %s: %w", alg, ErrNoKey)
}

// ForDecryption returns the first private key in set that can unwrap content
// keys for the JWE key management algorithm alg.
func ForDecryption(set *jose.JSONWebKeySet, alg string) (*jose.JSONWebKey, error) {
	for _, k := range candidates(set, useEncryption, alg) {
		if k.IsPublic() || !encryptionKeyMatches(alg, k.Key) {
			continue
		}
		k := k
		return &k, nil
	}
	return nil, fmt.Errorf("decrypting with %s: %w", alg, ErrNoKey)
}

// candidates filters by the declared use and alg. Keys that declare neither
// are usable for anything.
func candidates(set *jose.JSONWebKeySet, use, alg string) []jose.JSONWebKey {
	if set == nil {
		return nil
	}
	var keys []jose.JSONWebKey
	for _, k := range set.Keys {
		if k.Use != "" && k.Use != use {
			continue
		}
		if k.Algorithm != "" && k.Algorithm != alg {
			continue
		}
		keys = append(keys, k)
	}
	return keys
}

func signatureKeyMatches(alg string, key interface{}) bool {
	switch {
	case strings.HasPrefix(alg, "RS"), strings.HasPrefix(alg, "PS"):
		switch key.(type) {
		case *rsa.PublicKey, *rsa.PrivateKey:
			return true
		}
	case strings.HasPrefix(alg, "ES"):
		switch key.(type) {
		case *ecdsa.PublicKey, *ecdsa.PrivateKey:
			return true
		}
	case alg == string(jose.EdDSA):
		switch key.(type) {
		case ed25519.PublicKey, ed25519.PrivateKey:
			return true
		}
	}
	return false
}

func encryptionKeyMatches(alg string, key interface{}) bool {
	switch {
	case strings.HasPrefix(alg, "RSA"):
		switch key.(type) {
		case *rsa.PublicKey, *rsa.PrivateKey:
			return true
		}
	case strings.HasPrefix(alg, "ECDH-ES"):
		switch key.(type) {
		case *ecdsa.PublicKey, *ecdsa.PrivateKey:
			return true
		}
	}
	return false
}
