package discovery

import (
	"encoding/json"
	"net/http"
)

var _ http.Handler = (*ConfigurationHandler)(nil)

// ConfigurationHandler is a http.Handler that serves the OIDC provider
// metadata endpoint.
//
// It should be mounted at `<issuer>/.well-known/openid-configuration`.
type ConfigurationHandler struct {
	md *ProviderMetadata
}

// ConfigurationHandlerOpt is an option that can configure a
// ConfigurationHandler
type ConfigurationHandlerOpt func(h *ConfigurationHandler)

// WithDefaults is an option that fills in the capabilities of this provider:
// request objects by value and by registered reference, the client
// authentication methods, and the JOSE algorithms go-jose implements. Values
// already set are left alone.
func WithDefaults() ConfigurationHandlerOpt {
	return func(h *ConfigurationHandler) {
		md := h.md

		setDefault(&md.ResponseTypesSupported, "code")
		setDefault(&md.SubjectTypesSupported, "pairwise")
		setDefault(&md.GrantTypesSupported, "authorization_code", "implicit")
		setDefault(&md.ScopesSupported, "openid")

		signing := []string{"none", "RS256", "RS384", "RS512", "PS256", "PS384", "PS512", "ES256", "ES384", "ES512", "HS256", "HS384", "HS512"}
		keyManagement := []string{"RSA-OAEP", "RSA-OAEP-256", "A128KW", "A192KW", "A256KW", "ECDH-ES", "ECDH-ES+A128KW", "ECDH-ES+A256KW", "dir"}
		contentEncryption := []string{"A128CBC-HS256", "A192CBC-HS384", "A256CBC-HS512", "A128GCM", "A192GCM", "A256GCM"}

		setDefault(&md.IDTokenSigningAlgValuesSupported, signing...)
		setDefault(&md.IDTokenEncryptionAlgValuesSupported, keyManagement...)
		setDefault(&md.IDTokenEncryptionEncValuesSupported, contentEncryption...)
		setDefault(&md.RequestObjectSigningAlgValuesSupported, signing...)
		setDefault(&md.RequestObjectEncryptionAlgValuesSupported, keyManagement...)
		setDefault(&md.RequestObjectEncryptionEncValuesSupported, contentEncryption...)

		setDefault(&md.TokenEndpointAuthMethodsSupported, "client_secret_basic", "client_secret_post", "client_secret_jwt", "private_key_jwt", "none")
		setDefault(&md.TokenEndpointAuthSigningAlgValuesSupported, signing[1:]...)

		setDefault(&md.ClaimsSupported, "iss", "sub", "aud", "exp", "iat", "nbf", "jti", "auth_time", "nonce", "acr")

		md.RequestParameterSupported = true
		md.RequestURIParameterSupported = true
		md.RequireRequestURIRegistration = true
	}
}

func setDefault(field *[]string, values ...string) {
	if len(*field) == 0 {
		*field = values
	}
}

// NewConfigurationHandler configures and returns a ConfigurationHandler.
func NewConfigurationHandler(metadata *ProviderMetadata, opts ...ConfigurationHandlerOpt) (*ConfigurationHandler, error) {
	h := &ConfigurationHandler{
		md: metadata,
	}

	for _, o := range opts {
		o(h)
	}

	if err := h.md.validate(); err != nil {
		return nil, err
	}

	return h, nil
}

func (h *ConfigurationHandler) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	if err := json.NewEncoder(w).Encode(h.md); err != nil {
		http.Error(w, "Internal Error", http.StatusInternalServerError)
		return
	}
}
