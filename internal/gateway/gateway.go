// ABOUTME: Gateway orchestrator wiring auth, certs, secrets, relay, and health
// ABOUTME: Owns the HTTP server lifecycle from listen to graceful shutdown

package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"

	"github.com/keyme/panel-gateway/internal/authz"
	"github.com/keyme/panel-gateway/internal/certstore"
	"github.com/keyme/panel-gateway/internal/config"
	"github.com/keyme/panel-gateway/internal/health"
	"github.com/keyme/panel-gateway/internal/relay"
	"github.com/keyme/panel-gateway/internal/secrets"
	"github.com/keyme/panel-gateway/internal/ttlcache"
)

// Credential cache bounds shared by connect-time and per-command checks.
const (
	credentialTTL     = 300 * time.Second
	credentialEntries = 1000
)

// Gateway assembles the gateway's components around one HTTP server.
type Gateway struct {
	cfg    *config.Config
	logger *slog.Logger

	validator *authz.Validator
	anf       *authz.Client
	relay     *relay.Relay
	monitor   *health.Monitor
	keys      *secrets.Source

	connectCache *ttlcache.Cache
	commandCache *ttlcache.Cache

	httpServer *http.Server
}

// New builds a gateway from configuration. AWS credentials come from the
// default provider chain.
func New(cfg *config.Config, logger *slog.Logger) (*Gateway, error) {
	var awsOpts []func(*awsconfig.LoadOptions) error
	if cfg.AWS.Region != "" {
		awsOpts = append(awsOpts, awsconfig.WithRegion(cfg.AWS.Region))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(context.Background(), awsOpts...)
	if err != nil {
		return nil, fmt.Errorf("loading AWS configuration: %w", err)
	}

	staging := cfg.Restrictive()
	anf := authz.NewClient(cfg.ANFBaseURL())
	connectCache := ttlcache.New(credentialTTL, credentialEntries)
	commandCache := ttlcache.New(credentialTTL, credentialEntries)

	keys := secrets.New(secretsmanager.NewFromConfig(awsCfg),
		cfg.AWS.ServiceKeySecretID, cfg.AWS.ServiceKeyField, logger)
	counter := relay.NewCounter(logger)

	// One validator serves both the HTTP surface and the relay, so a logout
	// revocation is visible to every session immediately.
	validator := authz.NewValidator(anf, connectCache, staging, logger)

	g := &Gateway{
		cfg:       cfg,
		logger:    logger.With("component", "gateway"),
		validator: validator,
		anf:       anf,
		keys:      keys,
		relay: &relay.Relay{
			Validator:   validator,
			Checker:     authz.NewChecker(anf, commandCache, staging, logger),
			Certs:       certstore.New(s3.NewFromConfig(awsCfg), cfg.AWS.CertsBucket, logger),
			Keys:        keys,
			Dialer:      relay.WSDialer{HandshakeTimeout: cfg.Relay.DialTimeout},
			Counter:     counter,
			Restrictive: staging,
			GateTimeout: cfg.Relay.GateTimeout,
			Logger:      logger,
		},
		monitor:      health.New(counter.Count, logger),
		connectCache: connectCache,
		commandCache: commandCache,
	}

	g.httpServer = &http.Server{
		Addr:              cfg.Server.HTTPAddr,
		Handler:           g.routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return g, nil
}

// Run serves until the context is cancelled or the server fails, then shuts
// down gracefully.
func (g *Gateway) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", g.httpServer.Addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", g.httpServer.Addr, err)
	}
	g.logger.Info("gateway listening",
		"addr", ln.Addr().String(),
		"environment", g.cfg.Environment,
		"restrictive", g.cfg.Restrictive())

	errCh := make(chan error, 1)
	go func() {
		if err := g.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("HTTP server: %w", err)
		}
	}()

	var serveErr error
	select {
	case <-ctx.Done():
		g.logger.Info("shutdown requested")
	case serveErr = <-errCh:
		g.logger.Error("server failed", "error", serveErr)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := g.Shutdown(shutdownCtx); err != nil {
		if serveErr != nil {
			return serveErr
		}
		return err
	}
	return serveErr
}

// Shutdown stops the HTTP server and releases the credential caches.
func (g *Gateway) Shutdown(ctx context.Context) error {
	err := g.httpServer.Shutdown(ctx)
	g.connectCache.Close()
	g.commandCache.Close()
	g.logger.Info("gateway stopped")
	return err
}
