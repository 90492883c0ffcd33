package authn

import (
	"context"
	"crypto/subtle"
	"errors"
	"net/url"

	"github.com/pardot/oidcop/client"
)

// ParamClientSecret carries the secret for client_secret_post. Callers
// handling client_secret_basic should copy the basic auth credentials into
// the client_id and client_secret parameters.
const ParamClientSecret = "client_secret"

var _ Authenticator = ClientSecret{}

// ClientSecret authenticates clients presenting their secret directly.
type ClientSecret struct{}

func (ClientSecret) Supports(method string) bool {
	return method == client.AuthMethodClientSecretBasic || method == client.AuthMethodClientSecretPost
}

func (ClientSecret) Authenticate(_ context.Context, form url.Values, c *client.Client) (*client.Client, error) {
	if c.Secret == "" {
		return nil, errors.New("client has no secret")
	}
	if subtle.ConstantTimeCompare([]byte(form.Get(ParamClientSecret)), []byte(c.Secret)) != 1 {
		return nil, errors.New("client secret mismatch")
	}
	return c, nil
}
