package authn

import (
	"context"
	"fmt"
	"net/url"

	"github.com/pardot/oidcop/client"
)

var _ Authenticator = None{}

// None accepts clients that are not expected to prove possession of a
// credential: public clients, and confidential clients registered only for
// the implicit grant, which never visit the token endpoint with a secret.
type None struct{}

func (None) Supports(method string) bool {
	return method == client.AuthMethodNone
}

func (None) Authenticate(_ context.Context, _ url.Values, c *client.Client) (*client.Client, error) {
	if c.IsPublic() || c.ImplicitOnly() {
		return c, nil
	}
	return nil, fmt.Errorf("confidential client %s must authenticate", c.ID)
}
