// Package client holds the registration data the provider keeps for each
// relying party, and the sources it can be looked up from.
package client

import (
	"context"
	"fmt"
	"os"

	"github.com/ghodss/yaml"
	jose "github.com/go-jose/go-jose/v3"
	"github.com/samber/lo"
)

// Type is the OAuth 2.0 client type.
//
// https://tools.ietf.org/html/rfc6749#section-2.1
type Type string

const (
	TypePublic       Type = "public"
	TypeConfidential Type = "confidential"
)

// Grant types a client can register for.
const (
	GrantTypeAuthorizationCode = "authorization_code"
	GrantTypeImplicit          = "implicit"
	GrantTypeRefreshToken      = "refresh_token"
	GrantTypeClientCredentials = "client_credentials"
)

// Token endpoint authentication methods.
//
// https://openid.net/specs/openid-connect-core-1_0.html#ClientAuthentication
const (
	AuthMethodClientSecretBasic = "client_secret_basic"
	AuthMethodClientSecretPost  = "client_secret_post"
	AuthMethodClientSecretJWT   = "client_secret_jwt"
	AuthMethodPrivateKeyJWT     = "private_key_jwt"
	AuthMethodNone              = "none"
)

// AlgNone is the registered value meaning "no signature" for signing
// algorithms, and "no encryption" for key management or content encryption
// algorithms.
const AlgNone = "none"

var authMethods = []string{
	AuthMethodClientSecretBasic,
	AuthMethodClientSecretPost,
	AuthMethodClientSecretJWT,
	AuthMethodPrivateKeyJWT,
	AuthMethodNone,
}

// Client is the subset of a client's registration the provider needs to
// process request objects, authenticate the client at the token endpoint and
// issue ID tokens to it.
//
// https://openid.net/specs/openid-connect-registration-1_0.html#ClientMetadata
type Client struct {
	// Client ID and secret used to identify the client. The secret doubles as
	// key material for the HMAC and symmetric encryption algorithms.
	ID     string `json:"id"`
	Secret string `json:"secret"`

	Name string `json:"name,omitempty"`
	Type Type   `json:"type"`

	GrantTypes   []string `json:"grantTypes,omitempty"`
	RedirectURIs []string `json:"redirectURIs,omitempty"`

	// TokenEndpointAuthMethod selects the authenticator used at the token
	// endpoint. Defaults to client_secret_basic when empty.
	TokenEndpointAuthMethod string `json:"tokenEndpointAuthMethod,omitempty"`

	// RequestURIs is the pre-registered set of request_uri values. A
	// request_uri not in this list is rejected without being fetched.
	RequestURIs []string `json:"requestURIs,omitempty"`

	RequestObjectSigningAlg    string `json:"requestObjectSigningAlg,omitempty"`
	RequestObjectEncryptionAlg string `json:"requestObjectEncryptionAlg,omitempty"`
	RequestObjectEncryptionEnc string `json:"requestObjectEncryptionEnc,omitempty"`

	IDTokenSignedResponseAlg    string `json:"idTokenSignedResponseAlg,omitempty"`
	IDTokenEncryptedResponseAlg string `json:"idTokenEncryptedResponseAlg,omitempty"`
	IDTokenEncryptedResponseEnc string `json:"idTokenEncryptedResponseEnc,omitempty"`

	// The client's published keys, either by reference or by value. JWKS
	// takes precedence when both are set.
	JWKSURI string              `json:"jwksURI,omitempty"`
	JWKS    *jose.JSONWebKeySet `json:"jwks,omitempty"`
}

// IsPublic reports if this is a public client.
func (c *Client) IsPublic() bool {
	return c.Type == TypePublic
}

// AuthMethod returns the registered token endpoint authentication method,
// with the default applied.
func (c *Client) AuthMethod() string {
	if c.TokenEndpointAuthMethod == "" {
		return AuthMethodClientSecretBasic
	}
	return c.TokenEndpointAuthMethod
}

// ImplicitOnly reports whether the complete set of registered grant types is
// exactly {implicit}.
func (c *Client) ImplicitOnly() bool {
	grants := lo.Uniq(c.GrantTypes)
	return len(grants) == 1 && grants[0] == GrantTypeImplicit
}

// HasRequestURI reports if uri is one of the client's pre-registered
// request_uri values.
func (c *Client) HasRequestURI(uri string) bool {
	return lo.Contains(c.RequestURIs, uri)
}

// RequestObjectSigning returns the algorithm request objects from this client
// are signed with. Registrations that leave it out get RS256, the OpenID
// Connect default.
func (c *Client) RequestObjectSigning() string {
	if c.RequestObjectSigningAlg == "" {
		return string(jose.RS256)
	}
	return c.RequestObjectSigningAlg
}

// RequiresRequestObjectEncryption reports if request objects from this client
// must arrive encrypted.
func (c *Client) RequiresRequestObjectEncryption() bool {
	return isSet(c.RequestObjectEncryptionAlg) || isSet(c.RequestObjectEncryptionEnc)
}

// IDTokenSigning returns the algorithm ID tokens for this client are signed
// with, defaulting to RS256.
func (c *Client) IDTokenSigning() string {
	if c.IDTokenSignedResponseAlg == "" {
		return string(jose.RS256)
	}
	return c.IDTokenSignedResponseAlg
}

// RequiresIDTokenEncryption reports if ID tokens must be encrypted to this
// client.
func (c *Client) RequiresIDTokenEncryption() bool {
	return isSet(c.IDTokenEncryptedResponseAlg)
}

// IDTokenEncryptionEnc returns the content encryption used for ID tokens,
// defaulting to A128CBC-HS256 as client registration requires when only the
// alg is given.
func (c *Client) IDTokenEncryptionEnc() string {
	if c.IDTokenEncryptedResponseEnc == "" {
		return string(jose.A128CBC_HS256)
	}
	return c.IDTokenEncryptedResponseEnc
}

// Validate checks the registration-time invariants. A client failing these is
// a deployment problem, not something a request can cause.
func (c *Client) Validate() error {
	if c.ID == "" {
		return fmt.Errorf("client has no ID")
	}
	switch c.Type {
	case TypePublic, TypeConfidential:
	default:
		return fmt.Errorf("client %s: unknown client type %q", c.ID, c.Type)
	}
	if !lo.Contains(authMethods, c.AuthMethod()) {
		return fmt.Errorf("client %s: illegal token endpoint authentication method %q", c.ID, c.AuthMethod())
	}
	if c.RequiresRequestObjectEncryption() {
		if !isSet(c.RequestObjectEncryptionAlg) || !isSet(c.RequestObjectEncryptionEnc) {
			return fmt.Errorf("client %s: request object encryption needs both a key management and a content encryption algorithm", c.ID)
		}
	}
	if c.IDTokenEncryptedResponseEnc != "" && !c.RequiresIDTokenEncryption() {
		return fmt.Errorf("client %s: id token encryption enc registered without alg", c.ID)
	}
	if c.Secret == "" {
		for _, alg := range []string{
			c.RequestObjectSigningAlg,
			c.RequestObjectEncryptionAlg,
			c.IDTokenSignedResponseAlg,
			c.IDTokenEncryptedResponseAlg,
		} {
			if usesSecret(alg) {
				return fmt.Errorf("client %s: %s needs a client secret", c.ID, alg)
			}
		}
	}
	return nil
}

func isSet(alg string) bool {
	return alg != "" && alg != AlgNone
}

// usesSecret reports if alg is keyed with the client secret, either as an
// HMAC signature or as symmetric JWE key management.
func usesSecret(alg string) bool {
	switch alg {
	case string(jose.HS256), string(jose.HS384), string(jose.HS512),
		string(jose.A128KW), string(jose.A192KW), string(jose.A256KW),
		string(jose.A128GCMKW), string(jose.A192GCMKW), string(jose.A256GCMKW),
		string(jose.DIRECT),
		string(jose.PBES2_HS256_A128KW), string(jose.PBES2_HS384_A192KW), string(jose.PBES2_HS512_A256KW):
		return true
	}
	return false
}

// Source can be queried to get information about an oauth2 client.
type Source interface {
	// GetClient returns information about the given client ID. If the client
	// is not found but no other error occurred, an ErrNoSuchClient should be
	// returned
	GetClient(ctx context.Context, id string) (*Client, error)
}

// StaticSource is a Source backed by a static map of clients.
type StaticSource map[string]*Client

// NewStaticSource creates a StaticSource from a list of clients.
func NewStaticSource(clients []*Client) StaticSource {
	m := make(map[string]*Client)
	for _, c := range clients {
		m[c.ID] = c
	}

	return StaticSource(m)
}

func (s StaticSource) GetClient(_ context.Context, id string) (*Client, error) {
	client, ok := s[id]
	if !ok {
		return nil, noSuchClientError(fmt.Sprintf("client %q does not exist", id))
	}

	return client, nil
}

// LoadFile reads a YAML list of client registrations, validating each.
func LoadFile(path string) ([]*Client, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading clients file %s: %w", path, err)
	}
	var clients []*Client
	if err := yaml.Unmarshal(b, &clients); err != nil {
		return nil, fmt.Errorf("parsing clients file %s: %w", path, err)
	}
	for _, c := range clients {
		if err := c.Validate(); err != nil {
			return nil, err
		}
	}
	return clients, nil
}

// ErrNoSuchClient indicates that the requested client does not exist
type ErrNoSuchClient interface {
	NoSuchClient()
}

type noSuchClientError string

func (e noSuchClientError) Error() string {
	return string(e)
}

func (e noSuchClientError) NoSuchClient() {
}

// IsNoSuchClientErr checks if the error is because the client was not found.
func IsNoSuchClientErr(err error) bool {
	_, ok := err.(ErrNoSuchClient)
	return ok
}
