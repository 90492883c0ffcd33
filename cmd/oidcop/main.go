// Command oidcop runs an OpenID provider that resolves request objects,
// authenticates clients and issues ID tokens.
package main

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"database/sql"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	jose "github.com/go-jose/go-jose/v3"
	"github.com/google/uuid"
	_ "github.com/lib/pq"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	goredis "github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/pardot/oidcop/authn"
	"github.com/pardot/oidcop/client"
	"github.com/pardot/oidcop/idtoken"
	"github.com/pardot/oidcop/internal/server"
	"github.com/pardot/oidcop/jwk"
	"github.com/pardot/oidcop/provider"
	"github.com/pardot/oidcop/request"
	"github.com/pardot/oidcop/requestcache"
	"github.com/pardot/oidcop/requestcache/disk"
	"github.com/pardot/oidcop/requestcache/memory"
	rediscache "github.com/pardot/oidcop/requestcache/redis"
	sqlcache "github.com/pardot/oidcop/requestcache/sql"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "%s: %s\n", os.Args[0], err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:          "oidcop",
	Short:        "OpenID provider with request object support",
	SilenceUsage: true,
}

var ( // flags
	configPath string
	addr       string
	logLevel   string
)

func init() {
	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the provider endpoints",
		RunE:  runServe,
	}
	serveCmd.Flags().StringVar(&configPath, "config", "oidcop.yaml", "Path to the YAML config file")
	serveCmd.Flags().StringVar(&addr, "addr", "", "Address to listen on, overrides the config file")
	serveCmd.Flags().StringVar(&logLevel, "log-level", "", "Log level, overrides the config file")

	checkCmd := &cobra.Command{
		Use:   "check-config",
		Short: "Validate the config file and client registrations",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(configPath)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "config ok: %d clients, %s cache\n", len(cfg.Clients), cfg.Cache.Backend)
			return nil
		},
	}
	checkCmd.Flags().StringVar(&configPath, "config", "oidcop.yaml", "Path to the YAML config file")

	rootCmd.AddCommand(serveCmd, checkCmd)
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	if addr != "" {
		cfg.Addr = addr
	}
	if logLevel != "" {
		cfg.LogLevel = logLevel
	}

	logger := logrus.New()
	if cfg.LogLevel != "" {
		lvl, err := logrus.ParseLevel(cfg.LogLevel)
		if err != nil {
			return errors.Wrap(err, "invalid log level")
		}
		logger.SetLevel(lvl)
	}

	ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	keys, err := serverKeys(cfg, logger)
	if err != nil {
		return err
	}

	p := &provider.Context{
		IssuerURL:            cfg.Issuer,
		TokenEndpointURL:     cfg.TokenEndpoint,
		Keys:                 keys,
		IDTokenLifespan:      time.Duration(cfg.IDTokenLifespan),
		RequestCacheLifespan: time.Duration(cfg.RequestCacheLifespan),
	}

	cache, closeCache, err := openCache(ctx, cfg.Cache, logger)
	if err != nil {
		return err
	}
	defer closeCache()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	clients := client.NewStaticSource(cfg.Clients)
	clientKeys := jwk.NewRemoteKeySetSource()

	resolver := request.New(p, cache, &request.HTTPFetcher{}, clientKeys,
		request.WithLogger(logger.WithField("component", "request")),
		request.WithRegisterer(reg),
	)

	chain := authn.NewChain(clients, logger.WithField("component", "authn"),
		authn.None{},
		authn.ClientSecret{},
		authn.NewClientSecretJWT(p.TokenEndpointURL),
		authn.NewPrivateKeyJWT(p.TokenEndpointURL, clientKeys),
	)

	srv, err := server.NewServer(server.Config{
		Provider:           p,
		Clients:            clients,
		Resolver:           resolver,
		Authenticator:      chain,
		Issuer:             idtoken.NewIssuer(p, clientKeys),
		AllowedOrigins:     cfg.AllowedOrigins,
		CodeValidFor:       time.Duration(cfg.CodeValidFor),
		SubjectSalt:        cfg.SubjectSalt,
		Logger:             logger.WithField("component", "server"),
		PrometheusRegistry: reg,
	})
	if err != nil {
		return errors.Wrap(err, "creating server")
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	mux.Handle("/", srv)

	hs := &http.Server{
		Addr:              cfg.Addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errC := make(chan error, 1)
	go func() {
		logger.WithFields(logrus.Fields{"addr": cfg.Addr, "issuer": cfg.Issuer}).Info("serving")
		errC <- hs.ListenAndServe()
	}()

	select {
	case err := <-errC:
		return errors.Wrap(err, "serving")
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()
	if err := hs.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Warn("shutdown did not complete cleanly")
	}
	// let pending cache writes land before the backend is closed
	resolver.Wait()

	return nil
}

func serverKeys(cfg *config, logger logrus.FieldLogger) (jose.JSONWebKeySet, error) {
	if cfg.KeysFile != "" {
		return loadKeys(cfg.KeysFile)
	}

	logger.Warn("no keysFile configured, generating an ephemeral signing key")
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		return jose.JSONWebKeySet{}, errors.Wrap(err, "generating key")
	}
	return jose.JSONWebKeySet{Keys: []jose.JSONWebKey{
		{Key: key, KeyID: uuid.NewString(), Use: "sig", Algorithm: string(jose.RS256)},
		{Key: key, KeyID: uuid.NewString(), Use: "enc", Algorithm: string(jose.RSA_OAEP_256)},
	}}, nil
}

// openCache returns the configured request cache, and a function releasing
// it.
func openCache(ctx context.Context, cfg cacheConfig, logger logrus.FieldLogger) (requestcache.Cache, func(), error) {
	reapEvery := time.Duration(cfg.ReapEvery)
	if reapEvery == 0 {
		reapEvery = time.Hour
	}

	switch cfg.Backend {
	case backendDisk:
		c, err := disk.New(cfg.Disk.Path, 0o600)
		if err != nil {
			return nil, nil, errors.Wrap(err, "opening disk cache")
		}
		requestcache.StartReaping(ctx, c, reapEvery, logger)
		return c, func() { _ = c.Close() }, nil

	case backendSQL:
		db, err := sql.Open("postgres", cfg.SQL.URL)
		if err != nil {
			return nil, nil, errors.Wrap(err, "opening database")
		}
		c, err := sqlcache.New(ctx, db)
		if err != nil {
			_ = db.Close()
			return nil, nil, errors.Wrap(err, "creating sql cache")
		}
		requestcache.StartReaping(ctx, c, reapEvery, logger)
		return c, func() { _ = db.Close() }, nil

	case backendRedis:
		rc := goredis.NewUniversalClient(&goredis.UniversalOptions{
			Addrs:    cfg.Redis.Addrs,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := rc.Ping(ctx).Err(); err != nil {
			_ = rc.Close()
			return nil, nil, errors.Wrap(err, "connecting to redis")
		}
		prefix := cfg.Redis.KeyPrefix
		if prefix == "" {
			prefix = rediscache.DefaultKeyPrefix
		}
		return rediscache.New(rc, prefix), func() { _ = rc.Close() }, nil

	default:
		return memory.New(), func() {}, nil
	}
}
