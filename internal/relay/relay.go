// ABOUTME: Relay orchestrator that wires the registry, store, auth, and HTTP server
// ABOUTME: Manages websocket endpoints, REST API routes, and graceful shutdown

package relay

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"log/slog"

	"github.com/gorilla/websocket"
	"tailscale.com/ipn/ipnstate"
	"tailscale.com/tsnet"

	"github.com/tetherlabs/tether/internal/auth"
	"github.com/tetherlabs/tether/internal/config"
	"github.com/tetherlabs/tether/internal/store"
)

// pairingSweepInterval is how often expired pairing records are purged.
const pairingSweepInterval = 60 * time.Second

// Relay coordinates the tether-relay server components. It owns the HTTP
// server carrying both websocket endpoints and the REST API.
type Relay struct {
	cfg         *config.Config
	store       store.Store
	registry    *Registry
	authn       *auth.Authenticator
	verifier    *auth.JWTVerifier
	httpServer  *http.Server
	tsnetServer *tsnet.Server
	upgrader    websocket.Upgrader
	logger      *slog.Logger

	// serverID identifies this relay instance
	serverID string
}

// initStore creates a store from config, honoring the TETHER_DB_PATH override.
func initStore(cfg *config.Config) (store.Store, error) {
	dbPath := cfg.Database.Path
	if envPath := os.Getenv("TETHER_DB_PATH"); envPath != "" {
		dbPath = envPath
	}

	s, err := store.NewSQLiteStore(dbPath)
	if err != nil {
		return nil, fmt.Errorf("initializing store: %w", err)
	}
	return s, nil
}

// New creates a Relay instance with the given configuration.
func New(cfg *config.Config, logger *slog.Logger) (*Relay, error) {
	s, err := initStore(cfg)
	if err != nil {
		return nil, err
	}

	verifier, err := auth.NewJWTVerifier([]byte(cfg.Auth.JWTSecret))
	if err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("creating JWT verifier: %w", err)
	}

	rl := &Relay{
		cfg:      cfg,
		store:    s,
		registry: NewRegistry(logger.With("component", "registry")),
		authn:    auth.NewAuthenticator(s, verifier),
		verifier: verifier,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// Agents and clients connect from anywhere; the bearer
			// credential is the access control, not the Origin header.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		logger:   logger.With("component", "relay"),
		serverID: generateServerID(),
	}

	mux := http.NewServeMux()

	// Websocket endpoints do their own credential handling
	mux.HandleFunc("/ws/agent", rl.handleAgentWS)
	mux.HandleFunc("/ws/client", rl.handleClientWS)

	// Health endpoints - no auth required
	mux.HandleFunc("/health", rl.handleHealth)
	mux.HandleFunc("/health/ready", rl.handleReady)

	// Account creation and code redemption are unauthenticated by nature
	mux.HandleFunc("/api/register", rl.handleRegister)
	mux.HandleFunc("/api/pair", rl.handlePair)

	authMiddleware := rl.authn.Middleware()
	mux.Handle("/api/pairing-code", authMiddleware(http.HandlerFunc(rl.handlePairingCode)))
	mux.Handle("/api/pair-agent", authMiddleware(http.HandlerFunc(rl.handlePairAgent)))
	mux.Handle("/api/status", authMiddleware(http.HandlerFunc(rl.handleStatus)))
	mux.Handle("/api/me", authMiddleware(http.HandlerFunc(rl.handleMe)))

	rl.httpServer = &http.Server{
		Addr:              cfg.Server.HTTPAddr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	return rl, nil
}

// setupListeners creates the HTTP listener based on configuration.
func (rl *Relay) setupListeners(ctx context.Context) (net.Listener, error) {
	if rl.cfg.Tailscale.Enabled {
		if rl.cfg.Server.HTTPAddr != "" {
			rl.logger.Warn("server.http_addr is ignored when tailscale is enabled",
				"http_addr", rl.cfg.Server.HTTPAddr,
			)
		}
		return rl.setupTailscaleListener(ctx)
	}

	rl.logger.Info("starting relay", "http_addr", rl.cfg.Server.HTTPAddr)
	ln, err := net.Listen("tcp", rl.cfg.Server.HTTPAddr)
	if err != nil {
		return nil, fmt.Errorf("listening on HTTP address: %w", err)
	}
	return ln, nil
}

// Run starts the relay server and blocks until the context is canceled.
// Returns nil on graceful shutdown, or an error if the server fails.
func (rl *Relay) Run(ctx context.Context) error {
	ln, err := rl.setupListeners(ctx)
	if err != nil {
		return err
	}

	errCh := make(chan error, 1)
	go func() {
		rl.logger.Info("HTTP server listening", "addr", ln.Addr().String())
		if err := rl.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("HTTP server: %w", err)
		}
	}()

	sweepCtx, stopSweep := context.WithCancel(ctx)
	go rl.sweepPairingRecords(sweepCtx)

	var serverErr error
	select {
	case <-ctx.Done():
		rl.logger.Info("context canceled, initiating shutdown")
	case serverErr = <-errCh:
		rl.logger.Error("server error", "error", serverErr)
	}
	stopSweep()

	shutdownErr := rl.gracefulShutdown()
	if serverErr != nil {
		return serverErr
	}
	return shutdownErr
}

// sweepPairingRecords periodically deletes expired server pairing records.
func (rl *Relay) sweepPairingRecords(ctx context.Context) {
	ticker := time.NewTicker(pairingSweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := rl.store.DeleteExpiredPairingRecords(ctx, time.Now()); err != nil {
				rl.logger.Warn("sweeping expired pairing records", "error", err)
			}
		}
	}
}

// gracefulShutdown performs shutdown with a fresh context and timeout.
// Uses context.Background() intentionally since the original context is
// already canceled.
func (rl *Relay) gracefulShutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return rl.Shutdown(ctx)
}

// Shutdown gracefully stops the relay server and releases resources.
func (rl *Relay) Shutdown(ctx context.Context) error {
	rl.logger.Info("shutting down relay")

	var errs []error
	if err := rl.httpServer.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("HTTP shutdown: %w", err))
	}
	if rl.tsnetServer != nil {
		if err := rl.tsnetServer.Close(); err != nil {
			errs = append(errs, fmt.Errorf("tailscale shutdown: %w", err))
		}
	}
	if err := rl.store.Close(); err != nil {
		errs = append(errs, fmt.Errorf("store close: %w", err))
	}

	if len(errs) > 0 {
		return fmt.Errorf("shutdown errors: %v", errs)
	}
	return nil
}

// resolveTailscaleStateDir returns the state directory, using default if not configured.
func resolveTailscaleStateDir(configured string) (string, error) {
	if configured != "" {
		return configured, nil
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine home directory for tailscale state (set tailscale.state_dir explicitly): %w", err)
	}
	return filepath.Join(homeDir, ".local", "share", "tether-relay", "tailscale"), nil
}

// resolveTailscaleAuthKey returns the auth key from config or environment.
func resolveTailscaleAuthKey(configured string) (string, error) {
	authKey := configured
	if authKey == "" {
		authKey = os.Getenv("TS_AUTHKEY")
	}
	if authKey == "" {
		return "", errors.New("tailscale auth key required: set auth_key in config or TS_AUTHKEY environment variable (get one at https://login.tailscale.com/admin/settings/keys)")
	}
	return authKey, nil
}

// setupTailscaleListener creates a tsnet server and returns its HTTP listener.
func (rl *Relay) setupTailscaleListener(ctx context.Context) (net.Listener, error) {
	tsCfg := rl.cfg.Tailscale

	stateDir, err := resolveTailscaleStateDir(tsCfg.StateDir)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(stateDir, 0700); err != nil {
		return nil, fmt.Errorf("creating tailscale state dir: %w", err)
	}

	authKey, err := resolveTailscaleAuthKey(tsCfg.AuthKey)
	if err != nil {
		return nil, err
	}

	rl.tsnetServer = &tsnet.Server{
		Hostname:  tsCfg.Hostname,
		Dir:       stateDir,
		Ephemeral: tsCfg.Ephemeral,
		AuthKey:   authKey,
	}

	rl.logger.Info("starting tailscale node", "hostname", tsCfg.Hostname, "state_dir", stateDir, "ephemeral", tsCfg.Ephemeral)
	status, err := rl.tsnetServer.Up(ctx)
	if err != nil {
		_ = rl.tsnetServer.Close()
		return nil, fmt.Errorf("starting tailscale: %w", err)
	}

	rl.logTailscaleStatus(tsCfg.Hostname, status)
	return rl.createTailscaleHTTPListener(tsCfg)
}

// logTailscaleStatus logs info about the tailscale node status.
func (rl *Relay) logTailscaleStatus(hostname string, status *ipnstate.Status) {
	var tsAddr, dnsName string
	if len(status.TailscaleIPs) > 0 {
		tsAddr = status.TailscaleIPs[0].String()
	} else {
		rl.logger.Warn("tailscale node has no IP addresses assigned")
	}
	if status.Self != nil {
		dnsName = status.Self.DNSName
	}
	rl.logger.Info("tailscale node ready", "hostname", hostname, "tailscale_ip", tsAddr, "dns_name", dnsName)
}

// createTailscaleHTTPListener creates the appropriate HTTP listener based on config.
func (rl *Relay) createTailscaleHTTPListener(tsCfg config.TailscaleConfig) (net.Listener, error) {
	switch {
	case tsCfg.Funnel:
		rl.logger.Info("enabling tailscale funnel (public HTTPS) on :443")
		ln, err := rl.tsnetServer.ListenFunnel("tcp", ":443")
		if err != nil {
			_ = rl.tsnetServer.Close()
			return nil, fmt.Errorf("listening on tailscale HTTPS port: %w", err)
		}
		return ln, nil
	case tsCfg.HTTPS:
		return rl.createTailscaleTLSListener()
	default:
		ln, err := rl.tsnetServer.Listen("tcp", ":80")
		if err != nil {
			_ = rl.tsnetServer.Close()
			return nil, fmt.Errorf("listening on tailscale HTTP port: %w", err)
		}
		return ln, nil
	}
}

// createTailscaleTLSListener creates a TLS listener using Tailscale's auto-provisioned certs.
func (rl *Relay) createTailscaleTLSListener() (net.Listener, error) {
	rl.logger.Info("enabling HTTPS with Tailscale certs on :443")
	ln, err := rl.tsnetServer.Listen("tcp", ":443")
	if err != nil {
		_ = rl.tsnetServer.Close()
		return nil, fmt.Errorf("listening on tailscale HTTPS port: %w", err)
	}
	lc, err := rl.tsnetServer.LocalClient()
	if err != nil {
		_ = ln.Close()
		_ = rl.tsnetServer.Close()
		return nil, fmt.Errorf("getting tailscale local client: %w", err)
	}
	return tls.NewListener(ln, &tls.Config{
		GetCertificate: lc.GetCertificate,
		MinVersion:     tls.VersionTLS12,
	}), nil
}

// handleHealth returns 200 OK if the server is alive.
func (rl *Relay) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// handleReady returns 200 OK if at least one agent is connected.
func (rl *Relay) handleReady(w http.ResponseWriter, r *http.Request) {
	n := rl.registry.AgentCount()
	if n == 0 {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("no agents connected"))
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = fmt.Fprintf(w, "ready (%d agents)", n)
}

// generateServerID creates a unique identifier for this relay instance.
func generateServerID() string {
	return fmt.Sprintf("tether-relay-%d", time.Now().UnixNano()%1000000)
}
