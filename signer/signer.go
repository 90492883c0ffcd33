// Package signer holds the JWS and JWE primitives shared by request object
// processing, client assertion checking and ID token issuance.
package signer

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	jose "github.com/go-jose/go-jose/v3"
)

// AlgNone is the "alg" header of an unsecured JWS.
const AlgNone = "none"

var (
	// ErrAlgorithmMismatch is returned when a token's header names a
	// different algorithm to the one we expect.
	ErrAlgorithmMismatch = errors.New("token algorithm does not match expected algorithm")
	// ErrNoVerificationKey is returned when no candidate key verified the
	// signature.
	ErrNoVerificationKey = errors.New("failed to verify token signature")
)

var unsecuredHeader = base64.RawURLEncoding.EncodeToString([]byte(`{"alg":"none","typ":"JWT"}`))

// Sign creates a compact JWS of payload. When alg is "none" the key is ignored
// and an unsecured token is returned. If key is a *jose.JSONWebKey its ID is
// set as the kid header.
func Sign(alg string, key interface{}, payload []byte) (string, error) {
	if alg == AlgNone {
		return SignUnsecured(payload), nil
	}

	signer, err := jose.NewSigner(
		jose.SigningKey{Algorithm: jose.SignatureAlgorithm(alg), Key: key},
		(&jose.SignerOptions{}).WithType("JWT"),
	)
	if err != nil {
		return "", fmt.Errorf("creating %s signer: %w", alg, err)
	}

	jws, err := signer.Sign(payload)
	if err != nil {
		return "", fmt.Errorf("signing payload: %w", err)
	}

	return jws.CompactSerialize()
}

// SignUnsecured returns an unsecured JWS of payload, with an empty signature.
func SignUnsecured(payload []byte) string {
	return unsecuredHeader + "." + base64.RawURLEncoding.EncodeToString(payload) + "."
}

// ParseUnsecured returns the payload of an unsecured JWS. Tokens whose header
// is anything other than alg "none", or that carry a signature, are rejected.
func ParseUnsecured(token string) ([]byte, error) {
	parts := strings.Split(token, ".")
	if len(parts) != 3 {
		return nil, fmt.Errorf("unsecured token has %d parts, want 3", len(parts))
	}
	if parts[2] != "" {
		return nil, fmt.Errorf("unsecured token carries a signature")
	}

	hb, err := base64.RawURLEncoding.DecodeString(parts[0])
	if err != nil {
		return nil, fmt.Errorf("decoding header: %w", err)
	}
	var h struct {
		Alg string `json:"alg"`
	}
	if err := json.Unmarshal(hb, &h); err != nil {
		return nil, fmt.Errorf("unmarshaling header: %w", err)
	}
	if h.Alg != AlgNone {
		return nil, fmt.Errorf("%w: got %q, want %q", ErrAlgorithmMismatch, h.Alg, AlgNone)
	}

	payload, err := base64.RawURLEncoding.DecodeString(parts[1])
	if err != nil {
		return nil, fmt.Errorf("decoding payload: %w", err)
	}
	return payload, nil
}

// HeaderAlgorithm returns the alg and kid headers of a compact JWS without
// verifying it.
func HeaderAlgorithm(token string) (alg, kid string, err error) {
	jws, err := jose.ParseSigned(token)
	if err != nil {
		return "", "", err
	}
	if len(jws.Signatures) != 1 {
		return "", "", fmt.Errorf("want one signature, got %d", len(jws.Signatures))
	}
	h := jws.Signatures[0].Header
	return h.Algorithm, h.KeyID, nil
}

// Verify checks the signature of a compact JWS made with alg, returning its
// payload. If the token has a kid header only keys with that ID are tried,
// otherwise every key is.
func Verify(token, alg string, keys []jose.JSONWebKey) ([]byte, error) {
	jws, err := parseSingle(token, alg)
	if err != nil {
		return nil, err
	}

	kid := jws.Signatures[0].Header.KeyID
	for _, key := range keys {
		if kid == "" || key.KeyID == kid {
			if payload, err := jws.Verify(key); err == nil {
				return payload, nil
			}
		}
	}

	return nil, ErrNoVerificationKey
}

// VerifyHMAC checks a compact JWS made with one of the HMAC algorithms, keyed
// with secret. There is only the one key, so any kid header is ignored.
func VerifyHMAC(token, alg string, secret []byte) ([]byte, error) {
	if len(secret) == 0 {
		return nil, ErrNoVerificationKey
	}
	jws, err := parseSingle(token, alg)
	if err != nil {
		return nil, err
	}

	payload, err := jws.Verify(secret)
	if err != nil {
		return nil, ErrNoVerificationKey
	}
	return payload, nil
}

func parseSingle(token, alg string) (*jose.JSONWebSignature, error) {
	jws, err := jose.ParseSigned(token)
	if err != nil {
		return nil, err
	}
	if len(jws.Signatures) != 1 {
		return nil, fmt.Errorf("want one signature, got %d", len(jws.Signatures))
	}
	if h := jws.Signatures[0].Header; h.Algorithm != alg {
		return nil, fmt.Errorf("%w: got %q, want %q", ErrAlgorithmMismatch, h.Algorithm, alg)
	}
	return jws, nil
}

// IsEncrypted reports if token is in JWE compact serialization.
func IsEncrypted(token string) bool {
	return strings.Count(token, ".") == 4
}

// Encrypt wraps payload in a compact JWE for the recipient key, using key
// management algorithm alg and content encryption enc. The content type is set
// to JWT, as the payload is always a signed token.
func Encrypt(payload []byte, alg, enc string, key interface{}) (string, error) {
	rcpt := jose.Recipient{
		Algorithm: jose.KeyAlgorithm(alg),
		Key:       key,
	}
	if jwk, ok := key.(*jose.JSONWebKey); ok {
		rcpt.KeyID = jwk.KeyID
		rcpt.Key = jwk.Key
	}

	e, err := jose.NewEncrypter(
		jose.ContentEncryption(enc),
		rcpt,
		(&jose.EncrypterOptions{}).WithContentType("JWT"),
	)
	if err != nil {
		return "", fmt.Errorf("creating %s/%s encrypter: %w", alg, enc, err)
	}

	jwe, err := e.Encrypt(payload)
	if err != nil {
		return "", fmt.Errorf("encrypting payload: %w", err)
	}

	return jwe.CompactSerialize()
}

// Decrypt opens a compact JWE. The alg and enc headers must equal the expected
// values, so a token cannot pick a weaker algorithm than the one registered.
func Decrypt(token, alg, enc string, key interface{}) ([]byte, error) {
	jwe, err := jose.ParseEncrypted(token)
	if err != nil {
		return nil, err
	}

	if jwe.Header.Algorithm != alg {
		return nil, fmt.Errorf("%w: got key management %q, want %q", ErrAlgorithmMismatch, jwe.Header.Algorithm, alg)
	}
	gotEnc, _ := jwe.Header.ExtraHeaders[jose.HeaderKey("enc")].(string)
	if gotEnc != enc {
		return nil, fmt.Errorf("%w: got content encryption %q, want %q", ErrAlgorithmMismatch, gotEnc, enc)
	}

	if jwk, ok := key.(*jose.JSONWebKey); ok {
		key = jwk.Key
	}
	return jwe.Decrypt(key)
}

// Payload returns the payload of a compact JWS without checking its
// signature. It is only for inspecting claims that pick the verification key.
func Payload(token string) ([]byte, error) {
	if parts := strings.Split(token, "."); len(parts) == 3 && parts[2] == "" {
		return ParseUnsecured(token)
	}
	jws, err := jose.ParseSigned(token)
	if err != nil {
		return nil, err
	}
	return jws.UnsafePayloadWithoutVerification(), nil
}
