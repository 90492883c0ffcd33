package server

import (
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/google/uuid"
	"github.com/samber/lo"

	"github.com/pardot/oidcop/client"
	"github.com/pardot/oidcop/request"
	"github.com/pardot/oidcop/session"
)

type authRequest struct {
	Client      *client.Client
	RedirectURI *url.URL
	State       string
	Nonce       string
	LoginHint   string
	ACRValues   []string
	Scopes      []string
}

// handleAuthorization processes an authentication request, including any
// request object, and approves the user named by login_hint.
//
// https://openid.net/specs/openid-connect-core-1_0.html#AuthRequest
func (s *Server) handleAuthorization(w http.ResponseWriter, req *http.Request) {
	ar, err := s.parseAuthRequest(req)
	if err != nil {
		s.logError(req, err)
		_ = writeError(w, req, err)
		return
	}

	sess := &session.Session{
		Subject:           ar.LoginHint,
		ObfuscatedSubject: s.pairwiseSubject(ar.LoginHint, ar.Client.ID),
		Nonce:             ar.Nonce,
		ACRValues:         ar.ACRValues,
	}
	authTime := s.now()
	sess.Merge(&session.Session{AuthTime: &authTime})

	code := uuid.NewString()
	s.grants.put(code, &grant{
		ClientID:    ar.Client.ID,
		RedirectURI: ar.RedirectURI.String(),
		Session:     sess,
		Expiry:      s.now().Add(s.codeValidFor),
	})

	redir := *ar.RedirectURI
	v := redir.Query()
	v.Add("code", code)
	if ar.State != "" {
		v.Add("state", ar.State)
	}
	redir.RawQuery = v.Encode()
	http.Redirect(w, req, redir.String(), http.StatusFound)
}

// parseAuthRequest validates the client and redirect URI before anything
// else, errors found before that point cannot be sent back to the client.
func (s *Server) parseAuthRequest(req *http.Request) (*authRequest, error) {
	if err := req.ParseForm(); err != nil {
		return nil, &httpError{Code: http.StatusBadRequest, Message: "failed to parse request", Cause: err}
	}
	form := req.Form

	cid := form.Get("client_id")
	if cid == "" {
		return nil, &httpError{Code: http.StatusBadRequest, Message: "client_id must be specified"}
	}
	c, err := s.clients.GetClient(req.Context(), cid)
	if err != nil {
		if client.IsNoSuchClientErr(err) {
			return nil, &httpError{Code: http.StatusBadRequest, Message: "unknown client", Cause: err}
		}
		return nil, &httpError{Code: http.StatusInternalServerError, Cause: err}
	}

	redir, err := redirectURI(c, form.Get("redirect_uri"))
	if err != nil {
		return nil, &httpError{Code: http.StatusBadRequest, Message: "invalid redirect_uri", Cause: err}
	}

	state := form.Get("state")
	authErr := func(code, description string, cause error) error {
		return &authError{
			State:       state,
			Code:        code,
			Description: description,
			RedirectURI: redir.String(),
			Cause:       cause,
		}
	}

	claims, err := s.resolver.Resolve(req.Context(), form.Get("request"), form.Get("request_uri"), c)
	if err != nil {
		var (
			rerr *request.Error
			sce  *request.ServerConfigurationError
		)
		switch {
		case errors.As(err, &sce):
			s.logger.WithError(err).WithField("client_id", c.ID).Error("client registration cannot be used")
			return nil, authErr(authErrorCodeServerError, "", err)
		case errors.As(err, &rerr):
			return nil, authErr(string(rerr.Code), rerr.Description, err)
		default:
			return nil, authErr(authErrorCodeInvalidRequest, err.Error(), err)
		}
	}
	if v, ok := claims.String("client_id"); ok && v != c.ID {
		return nil, authErr(string(request.CodeInvalidRequestObject), "request object client_id does not match", nil)
	}
	params, err := claims.Params(form)
	if err != nil {
		return nil, authErr(string(request.CodeInvalidRequestObject), "request object claims cannot be used as parameters", err)
	}

	if params.Get("response_type") != "code" {
		return nil, authErr(authErrorCodeUnsupportedResponseType, `response_type must be "code"`, nil)
	}
	if !lo.Contains(c.GrantTypes, client.GrantTypeAuthorizationCode) && len(c.GrantTypes) > 0 {
		return nil, authErr(authErrorCodeUnauthorizedClient, "client is not registered for the authorization_code grant", nil)
	}
	scopes := strings.Fields(params.Get("scope"))
	if !lo.Contains(scopes, "openid") {
		return nil, authErr(authErrorCodeInvalidRequest, "the openid scope is required", nil)
	}
	loginHint := params.Get("login_hint")
	if loginHint == "" {
		return nil, authErr(authErrorCodeLoginRequired, "login_hint is required to approve the request", nil)
	}

	return &authRequest{
		Client:      c,
		RedirectURI: redir,
		State:       state,
		Nonce:       params.Get("nonce"),
		LoginHint:   loginHint,
		ACRValues:   strings.Fields(params.Get("acr_values")),
		Scopes:      scopes,
	}, nil
}

// redirectURI returns the redirect URI to use. It must be registered, and may
// only be omitted when the client registered exactly one.
func redirectURI(c *client.Client, requested string) (*url.URL, error) {
	switch {
	case requested == "" && len(c.RedirectURIs) == 1:
		requested = c.RedirectURIs[0]
	case requested == "":
		return nil, errors.New("redirect_uri is required")
	case !lo.Contains(c.RedirectURIs, requested):
		return nil, fmt.Errorf("redirect_uri %q is not registered", requested)
	}
	return url.Parse(requested)
}

// pairwiseSubject derives the subject identifier a client sees for a user,
// so clients cannot correlate users between them.
//
// https://openid.net/specs/openid-connect-core-1_0.html#PairwiseAlg
func (s *Server) pairwiseSubject(subject, clientID string) string {
	sum := sha256.Sum256([]byte(clientID + "\x00" + subject + "\x00" + s.subjectSalt))
	return base64.RawURLEncoding.EncodeToString(sum[:])
}
