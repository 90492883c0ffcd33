// Package session holds the state of an authenticated user that ID tokens
// are issued from.
package session

import (
	"time"

	"github.com/samber/lo"
)

// Session is the authenticated state for a single authorization. It is owned
// by the request processing it, and is not safe for concurrent use.
type Session struct {
	// Subject is the user's real identifier.
	Subject string `json:"subject,omitempty"`
	// ObfuscatedSubject is the per-client pairwise identifier placed in
	// the sub claim of tokens.
	ObfuscatedSubject string `json:"obfuscatedSubject,omitempty"`
	// AuthTime is when the user authenticated, if known.
	AuthTime *time.Time `json:"authTime,omitempty"`
	// ACRValues are the authentication context classes satisfied.
	ACRValues []string `json:"acrValues,omitempty"`
	// Nonce from the authorization request, echoed into the ID token.
	Nonce string `json:"nonce,omitempty"`
	// IDTokenClaims are additional claims to place in ID tokens.
	IDTokenClaims map[string]interface{} `json:"idTokenClaims,omitempty"`
}

// Merge folds other into s. Scalars keep the first non-empty value, so values
// already on s win. ACR values are unioned, and claims from other are added
// to s, replacing any of the same name.
func (s *Session) Merge(other *Session) {
	if other == nil {
		return
	}

	if s.Subject == "" {
		s.Subject = other.Subject
	}
	if s.ObfuscatedSubject == "" {
		s.ObfuscatedSubject = other.ObfuscatedSubject
	}
	if s.AuthTime == nil && other.AuthTime != nil {
		at := *other.AuthTime
		s.AuthTime = &at
	}
	if s.Nonce == "" {
		s.Nonce = other.Nonce
	}

	if len(other.ACRValues) > 0 {
		s.ACRValues = lo.Uniq(append(s.ACRValues, other.ACRValues...))
	}

	if len(other.IDTokenClaims) > 0 {
		if s.IDTokenClaims == nil {
			s.IDTokenClaims = make(map[string]interface{}, len(other.IDTokenClaims))
		}
		for k, v := range other.IDTokenClaims {
			s.IDTokenClaims[k] = v
		}
	}
}
