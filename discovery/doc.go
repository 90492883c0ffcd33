// Package discovery serves the OIDC provider metadata and keys endpoints, and
// has a client for reading them back.
//
// https://openid.net/specs/openid-connect-discovery-1_0.html
package discovery
