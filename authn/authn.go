// Package authn authenticates clients at the token endpoint.
//
// https://openid.net/specs/openid-connect-core-1_0.html#ClientAuthentication
package authn

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/url"

	"github.com/sirupsen/logrus"

	"github.com/pardot/oidcop/client"
	"github.com/pardot/oidcop/signer"
)

// Form parameters used by client authentication.
const (
	ParamClientID            = "client_id"
	ParamClientAssertion     = "client_assertion"
	ParamClientAssertionType = "client_assertion_type"
)

// AssertionTypeJWTBearer is the only client_assertion_type accepted.
//
// https://tools.ietf.org/html/rfc7523#section-2.2
const AssertionTypeJWTBearer = "urn:ietf:params:oauth:client-assertion-type:jwt-bearer"

// ErrClientAuthenticationFailed is the only error Chain returns. The reason
// authentication failed is logged, not returned.
var ErrClientAuthenticationFailed = errors.New("client authentication failed")

// Authenticator verifies the proof a client presents for one or more
// token_endpoint_auth_method values.
type Authenticator interface {
	// Supports reports if this authenticator handles the method.
	Supports(method string) bool
	// Authenticate checks the form proves possession of c's credentials,
	// returning the authenticated client.
	Authenticate(ctx context.Context, form url.Values, c *client.Client) (*client.Client, error)
}

// Chain dispatches to the authenticator supporting the client's registered
// method.
type Chain struct {
	clients        client.Source
	authenticators []Authenticator
	logger         logrus.FieldLogger
}

// NewChain returns a Chain looking clients up in clients. Authenticators are
// consulted in order, the first supporting the client's method is used. If
// logger is nil failures are discarded.
func NewChain(clients client.Source, logger logrus.FieldLogger, authenticators ...Authenticator) *Chain {
	if logger == nil {
		l := logrus.New()
		l.Out = io.Discard
		logger = l
	}
	return &Chain{
		clients:        clients,
		authenticators: authenticators,
		logger:         logger,
	}
}

// Authenticate identifies and authenticates the client making a token
// request. Any failure is reported as ErrClientAuthenticationFailed.
func (c *Chain) Authenticate(ctx context.Context, form url.Values) (*client.Client, error) {
	id, err := clientID(form)
	if err != nil {
		return nil, c.fail("", err)
	}

	cl, err := c.clients.GetClient(ctx, id)
	if err != nil {
		return nil, c.fail(id, fmt.Errorf("looking up client: %w", err))
	}

	method := cl.AuthMethod()
	for _, a := range c.authenticators {
		if !a.Supports(method) {
			continue
		}
		authed, err := a.Authenticate(ctx, form, cl)
		if err != nil {
			return nil, c.fail(id, err)
		}
		return authed, nil
	}

	return nil, c.fail(id, fmt.Errorf("no authenticator for method %s", method))
}

func (c *Chain) fail(clientID string, cause error) error {
	c.logger.WithError(cause).WithField("client_id", clientID).Debug("client authentication failed")
	return ErrClientAuthenticationFailed
}

// clientID returns the client_id parameter. If it is absent the client is
// identified by the assertion's issuer, or failing that its subject. The
// assertion is verified later, and must name the same client.
func clientID(form url.Values) (string, error) {
	if id := form.Get(ParamClientID); id != "" {
		return id, nil
	}

	assertion := form.Get(ParamClientAssertion)
	if assertion == "" {
		return "", errors.New("no client_id or client_assertion in request")
	}

	payload, err := signer.Payload(assertion)
	if err != nil {
		return "", fmt.Errorf("parsing client assertion: %w", err)
	}
	var claims struct {
		Issuer  string `json:"iss"`
		Subject string `json:"sub"`
	}
	if err := json.Unmarshal(payload, &claims); err != nil {
		return "", fmt.Errorf("unmarshaling client assertion: %w", err)
	}

	switch {
	case claims.Issuer != "":
		return claims.Issuer, nil
	case claims.Subject != "":
		return claims.Subject, nil
	}
	return "", errors.New("client assertion names no client")
}
