package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/ghodss/yaml"
	jose "github.com/go-jose/go-jose/v3"
	"github.com/pkg/errors"

	"github.com/pardot/oidcop/client"
)

// Cache backends.
const (
	backendMemory = "memory"
	backendDisk   = "disk"
	backendSQL    = "sql"
	backendRedis  = "redis"
)

// config is the serve command's configuration file.
type config struct {
	// Issuer is the OP's issuer identifier, and the base URL it serves on.
	Issuer string `json:"issuer"`
	// TokenEndpoint is the audience client assertions must carry. Defaults
	// to <issuer>/token.
	TokenEndpoint string `json:"tokenEndpoint"`
	// Addr to listen on.
	Addr string `json:"addr"`
	// KeysFile is a JWKS of the server's private keys. An ephemeral RSA key
	// is generated when unset.
	KeysFile string `json:"keysFile"`

	IDTokenLifespan      duration `json:"idTokenLifespan"`
	RequestCacheLifespan duration `json:"requestCacheLifespan"`
	CodeValidFor         duration `json:"codeValidFor"`

	SubjectSalt    string   `json:"subjectSalt"`
	AllowedOrigins []string `json:"allowedOrigins"`
	LogLevel       string   `json:"logLevel"`

	// ClientsFile is a YAML list of client registrations, added to Clients.
	ClientsFile string           `json:"clientsFile"`
	Clients     []*client.Client `json:"clients"`

	Cache cacheConfig `json:"cache"`
}

type cacheConfig struct {
	Backend string `json:"backend"`
	// ReapEvery sets how often expired entries are removed, for the disk
	// and sql backends.
	ReapEvery duration `json:"reapEvery"`

	Disk struct {
		Path string `json:"path"`
	} `json:"disk"`
	SQL struct {
		URL string `json:"url"`
	} `json:"sql"`
	Redis struct {
		Addrs     []string `json:"addrs"`
		Password  string   `json:"password"`
		DB        int      `json:"db"`
		KeyPrefix string   `json:"keyPrefix"`
	} `json:"redis"`
}

// duration is a time.Duration written as a string, e.g "30m".
type duration time.Duration

func (d *duration) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return fmt.Errorf("duration must be a string: %w", err)
	}
	pd, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	*d = duration(pd)
	return nil
}

func loadConfig(path string) (*config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "reading config %s", path)
	}
	cfg := &config{}
	if err := yaml.Unmarshal(b, cfg); err != nil {
		return nil, errors.Wrapf(err, "parsing config %s", path)
	}

	if cfg.ClientsFile != "" {
		clients, err := client.LoadFile(cfg.ClientsFile)
		if err != nil {
			return nil, err
		}
		cfg.Clients = append(cfg.Clients, clients...)
	}

	if err := cfg.validate(); err != nil {
		return nil, errors.Wrapf(err, "invalid config %s", path)
	}
	return cfg, nil
}

func (c *config) validate() error {
	if c.Issuer == "" {
		return errors.New("issuer is required")
	}
	if c.TokenEndpoint == "" {
		c.TokenEndpoint = strings.TrimSuffix(c.Issuer, "/") + "/token"
	}
	if c.Addr == "" {
		c.Addr = "localhost:5556"
	}
	if c.Cache.Backend == "" {
		c.Cache.Backend = backendMemory
	}

	switch c.Cache.Backend {
	case backendMemory:
	case backendDisk:
		if c.Cache.Disk.Path == "" {
			return errors.New("cache.disk.path is required for the disk backend")
		}
	case backendSQL:
		if c.Cache.SQL.URL == "" {
			return errors.New("cache.sql.url is required for the sql backend")
		}
	case backendRedis:
		if len(c.Cache.Redis.Addrs) == 0 {
			return errors.New("cache.redis.addrs is required for the redis backend")
		}
	default:
		return errors.Errorf("unknown cache backend %q", c.Cache.Backend)
	}

	seen := map[string]bool{}
	for _, cl := range c.Clients {
		if err := cl.Validate(); err != nil {
			return err
		}
		if seen[cl.ID] {
			return errors.Errorf("client %s registered more than once", cl.ID)
		}
		seen[cl.ID] = true
	}
	return nil
}

func loadKeys(path string) (jose.JSONWebKeySet, error) {
	var ks jose.JSONWebKeySet
	b, err := os.ReadFile(path)
	if err != nil {
		return ks, errors.Wrapf(err, "reading keys %s", path)
	}
	if err := json.Unmarshal(b, &ks); err != nil {
		return ks, errors.Wrapf(err, "parsing keys %s", path)
	}
	for _, k := range ks.Keys {
		if k.IsPublic() {
			return ks, errors.Errorf("key %s in %s is not a private key", k.KeyID, path)
		}
	}
	return ks, nil
}
