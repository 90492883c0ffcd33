// Package idtoken builds, signs and encrypts OpenID Connect ID tokens.
package idtoken

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"
)

// Claims is the set of claims the provider controls in an ID token. Anything
// else goes in Extra.
//
// https://openid.net/specs/openid-connect-core-1_0.html#IDToken
type Claims struct {
	// Unique identifier for this token.
	ID        string   `json:"jti,omitempty"`
	Issuer    string   `json:"iss,omitempty"`
	Subject   string   `json:"sub,omitempty"`
	Audience  Audience `json:"aud,omitempty"`
	Expiry    UnixTime `json:"exp,omitempty"`
	NotBefore UnixTime `json:"nbf,omitempty"`
	IssuedAt  UnixTime `json:"iat,omitempty"`
	// When the End-User authentication occurred.
	AuthTime UnixTime `json:"auth_time,omitempty"`
	// Passed through unmodified from the authentication request.
	Nonce string `json:"nonce,omitempty"`
	// Authentication context classes the authentication satisfied. A single
	// value is serialized as a string.
	ACR StringList `json:"acr,omitempty"`
	AMR []string   `json:"amr,omitempty"`
	AZP string     `json:"azp,omitempty"`

	// Extra are additional claims, that the standard claims will be merged in
	// to. If a key is overridden here, the struct value wins.
	Extra map[string]interface{} `json:"-"`

	// keep the raw data here, so we can unmarshal in to custom structs
	raw json.RawMessage
}

// controlledClaims are set by the issuer from Claims' fields, never from
// Extra.
var controlledClaims = []string{
	"jti", "iss", "sub", "aud", "exp", "nbf", "iat", "auth_time", "nonce", "acr",
}

// typedClaims have a field on Claims, so are not copied into Extra when
// unmarshaling. amr and azp may still come from Extra when the field is unset.
var typedClaims = append([]string{"amr", "azp"}, controlledClaims...)

func (i Claims) MarshalJSON() ([]byte, error) {
	// avoid recursing on this method
	type ids Claims
	id := ids(i)

	sj, err := json.Marshal(&id)
	if err != nil {
		return nil, err
	}

	sm := map[string]interface{}{}
	if err := json.Unmarshal(sj, &sm); err != nil {
		return nil, err
	}

	om := map[string]interface{}{}

	for k, v := range i.Extra {
		om[k] = v
	}
	for _, k := range controlledClaims {
		delete(om, k)
	}

	for k, v := range sm {
		om[k] = v
	}

	return json.Marshal(om)
}

func (i *Claims) UnmarshalJSON(b []byte) error {
	type ids Claims
	id := ids{}

	if err := json.Unmarshal(b, &id); err != nil {
		return err
	}

	em := map[string]interface{}{}

	if err := json.Unmarshal(b, &em); err != nil {
		return err
	}

	for _, f := range typedClaims {
		delete(em, f)
	}

	if len(em) > 0 {
		id.Extra = em
	}

	id.raw = b

	*i = Claims(id)

	return nil
}

// Unmarshal unpacks the raw JSON data from this token into the passed type.
func (i *Claims) Unmarshal(into interface{}) error {
	if i.raw == nil {
		b, err := json.Marshal(i)
		if err != nil {
			return err
		}
		i.raw = b
	}
	return json.Unmarshal(i.raw, into)
}

// Audience represents a OIDC ID Token's Audience field.
type Audience = StringList

// StringList is a claim that holds one or more strings. A single value is
// serialized as a bare string, more as an array.
type StringList []string

// Contains returns true if s is in the list
func (l StringList) Contains(s string) bool {
	for _, v := range l {
		if v == s {
			return true
		}
	}
	return false
}

func (l StringList) MarshalJSON() ([]byte, error) {
	if len(l) == 1 {
		return json.Marshal(l[0])
	}
	return json.Marshal([]string(l))
}

func (l *StringList) UnmarshalJSON(b []byte) error {
	var ua interface{}
	if err := json.Unmarshal(b, &ua); err != nil {
		return err
	}

	switch ja := ua.(type) {
	case string:
		*l = []string{ja}
	case []interface{}:
		aa := make([]string, len(ja))
		for i, ia := range ja {
			sa, ok := ia.(string)
			if !ok {
				return fmt.Errorf("failed to unmarshal string list, expected []string but found %T", ia)
			}
			aa[i] = sa
		}
		*l = aa
	default:
		return fmt.Errorf("failed to unmarshal string list, expected string or []string but found %T", ua)
	}

	return nil
}

// UnixTime is a NumericDate, the number of seconds since the epoch.
type UnixTime int64

// NewUnixTime creates a UnixTime from the given Time, t
func NewUnixTime(t time.Time) UnixTime {
	return UnixTime(t.Unix())
}

// Time returns the time.Time this represents
func (u UnixTime) Time() time.Time {
	return time.Unix(int64(u), 0)
}

func (u UnixTime) MarshalJSON() ([]byte, error) {
	return []byte(strconv.FormatInt(int64(u), 10)), nil
}

func (u *UnixTime) UnmarshalJSON(b []byte) error {
	p, err := strconv.ParseInt(string(b), 10, 64)
	if err != nil {
		return fmt.Errorf("failed to parse UnixTime: %v", err)
	}
	*u = UnixTime(p)
	return nil
}
