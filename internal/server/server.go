// Package server assembles the sqlgate MCP server from configuration.
package server

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	_ "github.com/lib/pq"
	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/txn2/sqlgate/pkg/audit"
	auditpg "github.com/txn2/sqlgate/pkg/audit/postgres"
	"github.com/txn2/sqlgate/pkg/auth"
	"github.com/txn2/sqlgate/pkg/config"
	"github.com/txn2/sqlgate/pkg/database/migrate"
	"github.com/txn2/sqlgate/pkg/engine"
	"github.com/txn2/sqlgate/pkg/engine/trino"
	"github.com/txn2/sqlgate/pkg/gateway"
	"github.com/txn2/sqlgate/pkg/health"
)

// Version is set at build time.
var Version = "dev"

// Server bundles the MCP surface with the gateway core and the
// resources it owns.
type Server struct {
	cfg       *config.Config
	mcpServer *mcp.Server
	service   *gateway.Service
	checker   *health.Checker
	eng       engine.Engine
	auditDB   *sql.DB
}

// New builds a Server from the configuration file at path.
func New(path string) (*Server, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	return newServer(cfg)
}

// NewWithDefaults builds a Server from the built-in defaults. It runs a
// memory engine with no authentication, suitable for local use.
func NewWithDefaults() (*Server, error) {
	return newServer(config.Default())
}

func newServer(cfg *config.Config) (*Server, error) {
	eng, err := buildEngine(cfg)
	if err != nil {
		return nil, fmt.Errorf("creating engine: %w", err)
	}

	auditLogger, auditDB, err := buildAudit(cfg)
	if err != nil {
		eng.Close()
		return nil, fmt.Errorf("creating audit logger: %w", err)
	}

	chain, err := buildAuth(cfg)
	if err != nil {
		eng.Close()
		return nil, fmt.Errorf("creating authenticator: %w", err)
	}

	service, err := gateway.New(gateway.Options{
		Config:  cfg,
		Version: Version,
		Engine:  eng,
		Auth:    chain,
		Audit:   auditLogger,
	})
	if err != nil {
		eng.Close()
		return nil, err
	}

	checker := health.NewChecker()
	checker.SetProbe(func(ctx context.Context) error {
		if err := eng.Ping(ctx); err != nil {
			return fmt.Errorf("engine: %w", err)
		}
		if auditDB != nil {
			if err := auditDB.PingContext(ctx); err != nil {
				return fmt.Errorf("audit database: %w", err)
			}
		}
		return nil
	})

	s := &Server{
		cfg: cfg,
		mcpServer: mcp.NewServer(&mcp.Implementation{
			Name:    cfg.Server.Name,
			Version: Version,
		}, nil),
		service: service,
		checker: checker,
		eng:     eng,
		auditDB: auditDB,
	}
	s.mcpServer.AddReceivingMiddleware(toolLoggingMiddleware())
	s.registerTools()

	slog.Info("server assembled",
		"engine", eng.Name(),
		"session_mode", cfg.Server.SessionMode,
		"audit", cfg.Audit.Enabled)
	return s, nil
}

// buildEngine constructs the configured query engine backend.
func buildEngine(cfg *config.Config) (engine.Engine, error) {
	switch cfg.Engine.Kind {
	case "trino":
		return trino.New(trino.Config{
			Host:      cfg.Engine.Trino.Host,
			Port:      cfg.Engine.Trino.Port,
			User:      cfg.Engine.Trino.User,
			Password:  cfg.Engine.Trino.Password,
			Catalog:   cfg.Engine.Trino.Catalog,
			Schema:    cfg.Engine.Trino.Schema,
			SSL:       cfg.Engine.Trino.SSL,
			Timeout:   cfg.Engine.Trino.Timeout,
			BatchSize: cfg.Engine.Trino.BatchSize,
		})
	case "memory":
		return engine.NewMemoryEngine(), nil
	default:
		return nil, fmt.Errorf("unknown engine kind %q", cfg.Engine.Kind)
	}
}

// buildAudit constructs the audit logger. When enabled it opens the
// PostgreSQL store, applies pending migrations, and starts the
// retention cleanup routine.
func buildAudit(cfg *config.Config) (audit.Logger, *sql.DB, error) {
	if !cfg.Audit.Enabled {
		return audit.NoopLogger{}, nil, nil
	}
	if cfg.Audit.DSN == "" {
		return nil, nil, fmt.Errorf("audit enabled but no dsn configured")
	}

	db, err := sql.Open("postgres", cfg.Audit.DSN)
	if err != nil {
		return nil, nil, fmt.Errorf("opening audit database: %w", err)
	}
	if err := migrate.Run(db); err != nil {
		db.Close()
		return nil, nil, fmt.Errorf("migrating audit database: %w", err)
	}

	store := auditpg.New(db, auditpg.Config{RetentionDays: cfg.Audit.RetentionDays})
	store.StartCleanupRoutine(24 * time.Hour)
	return store, db, nil
}

// buildAuth constructs the OpenSession authenticator chain.
func buildAuth(cfg *config.Config) (*auth.Chain, error) {
	var authenticators []auth.Authenticator

	if cfg.Auth.APIKeys.Enabled {
		keys := make([]auth.APIKey, 0, len(cfg.Auth.APIKeys.Keys))
		for _, k := range cfg.Auth.APIKeys.Keys {
			keys = append(keys, auth.APIKey{Name: k.Name, Hash: k.Hash})
		}
		authenticators = append(authenticators, auth.NewAPIKeyAuthenticator(keys))
	}

	if cfg.Auth.JWT.Enabled {
		ja, err := auth.NewJWTAuthenticator(auth.JWTConfig{
			Issuer:     cfg.Auth.JWT.Issuer,
			SigningKey: cfg.Auth.JWT.SigningKey,
		})
		if err != nil {
			return nil, err
		}
		authenticators = append(authenticators, ja)
	}

	allowAnonymous := cfg.Auth.AllowAnonymous || len(authenticators) == 0
	return auth.NewChain(allowAnonymous, authenticators...), nil
}

// Service exposes the gateway core, chiefly for tests.
func (s *Server) Service() *gateway.Service {
	return s.service
}

// MCPServer exposes the underlying MCP server.
func (s *Server) MCPServer() *mcp.Server {
	return s.mcpServer
}

// Run serves until ctx is canceled. The transport is selected by
// configuration, overridable by the caller with a non-empty transport.
func (s *Server) Run(ctx context.Context, transport, address string) error {
	if transport == "" {
		transport = s.cfg.Server.Transport
	}
	if address == "" {
		address = s.cfg.Server.Address
	}

	s.checker.SetReady()
	defer s.checker.SetDraining()

	switch transport {
	case "stdio":
		return s.mcpServer.Run(ctx, &mcp.StdioTransport{})
	case "http":
		return s.runHTTP(ctx, address)
	default:
		return fmt.Errorf("unknown transport: %s", transport)
	}
}

// runHTTP serves the streamable HTTP transport plus health endpoints.
func (s *Server) runHTTP(ctx context.Context, address string) error {
	mux := http.NewServeMux()
	mux.Handle("/mcp", mcp.NewStreamableHTTPHandler(func(*http.Request) *mcp.Server {
		return s.mcpServer
	}, nil))
	mux.HandleFunc("/healthz", s.checker.LivenessHandler())
	mux.HandleFunc("/readyz", s.checker.ReadinessHandler())

	httpServer := &http.Server{
		Addr:              address,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

// Close releases sessions, operations, and backend connections.
// The gateway shutdown closes the engine and the audit logger; only the
// audit database connection pool is owned here.
func (s *Server) Close() error {
	s.service.Shutdown()
	if s.auditDB != nil {
		if err := s.auditDB.Close(); err != nil {
			return fmt.Errorf("closing audit database: %w", err)
		}
	}
	return nil
}
