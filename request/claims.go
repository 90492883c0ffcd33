package request

import (
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
)

// Claims are the verified contents of a request object.
type Claims map[string]interface{}

// String returns the named claim if it is a string.
func (c Claims) String(name string) (string, bool) {
	s, ok := c[name].(string)
	return s, ok
}

// Params overlays the claims onto the authorization request parameters. Per
// OpenID Connect Core 6.3.3, values inside the request object supersede those
// passed as query parameters. The JWT housekeeping claims are not request
// parameters and are skipped. params is not modified.
//
// https://openid.net/specs/openid-connect-core-1_0.html#RequestParameter
func (c Claims) Params(params url.Values) (url.Values, error) {
	out := url.Values{}
	for k, v := range params {
		out[k] = append([]string(nil), v...)
	}

	for name, v := range c {
		if jwtClaims[name] {
			continue
		}
		val, err := paramValue(v)
		if err != nil {
			return nil, fmt.Errorf("claim %s: %w", name, err)
		}
		out.Set(name, val)
	}

	return out, nil
}

var jwtClaims = map[string]bool{
	"iss": true,
	"aud": true,
	"exp": true,
	"iat": true,
	"nbf": true,
	"jti": true,
}

func paramValue(v interface{}) (string, error) {
	switch v := v.(type) {
	case string:
		return v, nil
	case []interface{}:
		// space delimited, the form scope and acr_values take
		var parts []string
		for _, e := range v {
			s, ok := e.(string)
			if !ok {
				return "", fmt.Errorf("list member %v is not a string", e)
			}
			parts = append(parts, s)
		}
		return strings.Join(parts, " "), nil
	default:
		// objects such as claims are passed through as their JSON
		b, err := json.Marshal(v)
		if err != nil {
			return "", err
		}
		return string(b), nil
	}
}
