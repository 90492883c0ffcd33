package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"

	"github.com/google/uuid"

	"github.com/pardot/oidcop/authn"
	"github.com/pardot/oidcop/idtoken"
)

const grantTypeAuthorizationCode = "authorization_code"

// handleToken redeems an authorization code for an ID token.
//
// https://openid.net/specs/openid-connect-core-1_0.html#TokenEndpoint
func (s *Server) handleToken(w http.ResponseWriter, req *http.Request) {
	if err := s.token(w, req); err != nil {
		s.logError(req, err)
		_ = writeError(w, req, err)
	}
}

func (s *Server) token(w http.ResponseWriter, req *http.Request) error {
	if err := req.ParseForm(); err != nil {
		return &tokenError{Code: tokenErrorCodeInvalidRequest, Description: "failed to parse request", Cause: err}
	}
	form := req.PostForm

	// https://tools.ietf.org/html/rfc6749#section-2.3.1
	if cid, cs, ok := req.BasicAuth(); ok {
		var err error
		if cid, err = url.QueryUnescape(cid); err != nil {
			return &tokenError{Code: tokenErrorCodeInvalidRequest, Description: "malformed basic auth client_id", Cause: err}
		}
		if cs, err = url.QueryUnescape(cs); err != nil {
			return &tokenError{Code: tokenErrorCodeInvalidRequest, Description: "malformed basic auth client_secret", Cause: err}
		}
		if form.Get(authn.ParamClientID) != "" && form.Get(authn.ParamClientID) != cid {
			return &tokenError{Code: tokenErrorCodeInvalidRequest, Description: "client_id does not match basic auth"}
		}
		form.Set(authn.ParamClientID, cid)
		form.Set(authn.ParamClientSecret, cs)
	}

	c, err := s.authenticator.Authenticate(req.Context(), form)
	if err != nil {
		terr := &tokenError{Code: tokenErrorCodeInvalidClient, Description: "client authentication failed", Cause: err}
		if _, _, ok := req.BasicAuth(); ok {
			terr.WWWAuthenticate = `Basic realm="token"`
		}
		return terr
	}

	if gt := form.Get("grant_type"); gt != grantTypeAuthorizationCode {
		return &tokenError{Code: tokenErrorCodeUnsupportedGrantType, Description: fmt.Sprintf("grant_type must be %s", grantTypeAuthorizationCode)}
	}
	code := form.Get("code")
	if code == "" {
		return &tokenError{Code: tokenErrorCodeInvalidRequest, Description: "code is required for authorization_code grant"}
	}

	gr, ok := s.grants.redeem(code, s.now())
	if !ok {
		return &tokenError{Code: tokenErrorCodeInvalidGrant, Description: "code is invalid or has expired"}
	}
	if gr.ClientID != c.ID {
		return &tokenError{Code: tokenErrorCodeInvalidGrant, Description: "code was issued to another client"}
	}
	if ru := form.Get("redirect_uri"); ru != "" && ru != gr.RedirectURI {
		return &tokenError{Code: tokenErrorCodeInvalidGrant, Description: "redirect_uri does not match authorization request"}
	}

	idt, err := s.issuer.Issue(req.Context(), &idtoken.Request{Client: c, Session: gr.Session})
	if err != nil {
		return &httpError{Code: http.StatusInternalServerError, CauseMsg: "issuing id token", Cause: err}
	}

	now := s.now()
	if err := writeTokenResponse(w, &tokenResponse{
		AccessToken: uuid.NewString(),
		TokenType:   "Bearer",
		IDToken:     idt,
		ExpiresIn:   int(s.provider.IDTokenExpiry(now).Sub(now).Seconds()),
	}); err != nil {
		// the response has started, all we can do is record it
		s.logError(req, err)
	}
	return nil
}

// https://tools.ietf.org/html/rfc6749#section-5.1
type tokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	IDToken     string `json:"id_token"`
	ExpiresIn   int    `json:"expires_in,omitempty"`
}

func writeTokenResponse(w http.ResponseWriter, resp *tokenResponse) error {
	w.Header().Add("Content-Type", "application/json;charset=UTF-8")
	w.Header().Add("Cache-Control", "no-store")

	if err := json.NewEncoder(w).Encode(resp); err != nil {
		return fmt.Errorf("failed to write token response json body: %w", err)
	}
	return nil
}
