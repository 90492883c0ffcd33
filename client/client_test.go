package client

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestValidate(t *testing.T) {
	for _, tc := range []struct {
		Name    string
		Client  Client
		WantErr bool
	}{
		{
			Name:   "minimal confidential",
			Client: Client{ID: "foo", Type: TypeConfidential},
		},
		{
			Name:    "missing id",
			Client:  Client{Type: TypePublic},
			WantErr: true,
		},
		{
			Name:    "unknown type",
			Client:  Client{ID: "foo", Type: "trusted"},
			WantErr: true,
		},
		{
			Name:    "unknown auth method",
			Client:  Client{ID: "foo", Type: TypeConfidential, TokenEndpointAuthMethod: "tls_client_auth"},
			WantErr: true,
		},
		{
			Name:   "private key jwt",
			Client: Client{ID: "foo", Type: TypeConfidential, TokenEndpointAuthMethod: AuthMethodPrivateKeyJWT},
		},
		{
			Name: "request object encryption with both algorithms",
			Client: Client{
				ID: "foo", Type: TypeConfidential,
				RequestObjectEncryptionAlg: "RSA-OAEP",
				RequestObjectEncryptionEnc: "A128GCM",
			},
		},
		{
			Name: "request object encryption with none enc",
			Client: Client{
				ID: "foo", Type: TypeConfidential,
				RequestObjectEncryptionAlg: "RSA-OAEP",
				RequestObjectEncryptionEnc: AlgNone,
			},
			WantErr: true,
		},
		{
			Name: "hmac request objects without secret",
			Client: Client{
				ID: "foo", Type: TypePublic, TokenEndpointAuthMethod: AuthMethodNone,
				RequestObjectSigningAlg: "HS256",
			},
			WantErr: true,
		},
		{
			Name: "hmac request objects with secret",
			Client: Client{
				ID: "foo", Type: TypeConfidential, Secret: "s3cret",
				RequestObjectSigningAlg: "HS256",
			},
		},
		{
			Name: "symmetric request object encryption without secret",
			Client: Client{
				ID: "foo", Type: TypeConfidential,
				RequestObjectEncryptionAlg: "A256KW",
				RequestObjectEncryptionEnc: "A128GCM",
			},
			WantErr: true,
		},
		{
			Name: "hmac id tokens without secret",
			Client: Client{
				ID: "foo", Type: TypeConfidential,
				IDTokenSignedResponseAlg: "HS512",
			},
			WantErr: true,
		},
		{
			Name: "id token enc without alg",
			Client: Client{
				ID: "foo", Type: TypeConfidential,
				IDTokenEncryptedResponseEnc: "A128GCM",
			},
			WantErr: true,
		},
	} {
		t.Run(tc.Name, func(t *testing.T) {
			err := tc.Client.Validate()
			if (err != nil) != tc.WantErr {
				t.Fatalf("want err %t, got: %v", tc.WantErr, err)
			}
		})
	}
}

func TestImplicitOnly(t *testing.T) {
	for _, tc := range []struct {
		Grants []string
		Want   bool
	}{
		{Grants: nil, Want: false},
		{Grants: []string{GrantTypeImplicit}, Want: true},
		{Grants: []string{GrantTypeImplicit, GrantTypeImplicit}, Want: true},
		{Grants: []string{GrantTypeAuthorizationCode, GrantTypeImplicit}, Want: false},
		{Grants: []string{GrantTypeAuthorizationCode}, Want: false},
	} {
		c := &Client{GrantTypes: tc.Grants}
		if got := c.ImplicitOnly(); got != tc.Want {
			t.Errorf("grants %v: want %t, got %t", tc.Grants, tc.Want, got)
		}
	}
}

func TestDefaults(t *testing.T) {
	c := &Client{}
	if c.AuthMethod() != AuthMethodClientSecretBasic {
		t.Errorf("want default auth method %s, got %s", AuthMethodClientSecretBasic, c.AuthMethod())
	}
	if c.IDTokenSigning() != "RS256" {
		t.Errorf("want default id token alg RS256, got %s", c.IDTokenSigning())
	}
	if c.RequiresIDTokenEncryption() {
		t.Error("client with no encryption registered should not require it")
	}
	c.IDTokenEncryptedResponseAlg = AlgNone
	if c.RequiresIDTokenEncryption() {
		t.Error("none encryption alg should not require encryption")
	}
}

func TestStaticSource(t *testing.T) {
	ctx := context.Background()
	s := NewStaticSource([]*Client{{ID: "foo", Type: TypePublic}})

	c, err := s.GetClient(ctx, "foo")
	if err != nil {
		t.Fatal(err)
	}
	if c.ID != "foo" {
		t.Errorf("want client foo, got %s", c.ID)
	}

	_, err = s.GetClient(ctx, "bar")
	if !IsNoSuchClientErr(err) {
		t.Errorf("want no such client error, got %v", err)
	}
}

func TestLoadFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "clients.yaml")
	if err := os.WriteFile(path, []byte(`
- id: foo
  secret: af7132dd14df40888abc4af88a68cde9
  type: confidential
  tokenEndpointAuthMethod: client_secret_jwt
  requestURIs:
  - https://rp.example/req
  grantTypes:
  - authorization_code
- id: bar
  type: public
  tokenEndpointAuthMethod: none
`), 0600); err != nil {
		t.Fatal(err)
	}

	clients, err := LoadFile(path)
	if err != nil {
		t.Fatal(err)
	}

	want := []*Client{
		{
			ID:                      "foo",
			Secret:                  "af7132dd14df40888abc4af88a68cde9",
			Type:                    TypeConfidential,
			TokenEndpointAuthMethod: AuthMethodClientSecretJWT,
			RequestURIs:             []string{"https://rp.example/req"},
			GrantTypes:              []string{GrantTypeAuthorizationCode},
		},
		{
			ID:                      "bar",
			Type:                    TypePublic,
			TokenEndpointAuthMethod: AuthMethodNone,
		},
	}
	if diff := cmp.Diff(want, clients); diff != "" {
		t.Error(diff)
	}
}
