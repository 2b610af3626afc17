// Command socialauthd serves Google, GitHub and password sign-in over HTTP
// and, optionally, validates session credentials for gRPC services.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"cloud.google.com/go/datastore"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"gorm.io/gorm"

	sa "github.com/panyam/socialauth"
	"github.com/panyam/socialauth/config"
	sagrpc "github.com/panyam/socialauth/grpc"
	"github.com/panyam/socialauth/oauth2"
	gaestore "github.com/panyam/socialauth/stores/gae"
	gormstore "github.com/panyam/socialauth/stores/gorm"
	redisstore "github.com/panyam/socialauth/stores/redis"
)

var version = "dev"

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("fatal", "err", err)
		os.Exit(1)
	}
	slog.SetDefault(cfg.NewLogger(os.Stdout))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, nil); err != nil {
		slog.Error("fatal", "err", err)
		os.Exit(1)
	}
}

// run wires every component and serves until ctx is cancelled. When ready is
// non-nil the HTTP base URL is sent on it once the listener is bound.
func run(ctx context.Context, cfg *config.Config, ready chan<- string) error {
	logger := slog.Default()

	st, err := openStorage(ctx, cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	states, cleanup, err := openStateStore(ctx, cfg, st)
	if err != nil {
		return err
	}
	defer cleanup()
	accounts := st.accounts

	registry, err := sa.NewRegistry(cfg.Providers()...)
	if err != nil {
		return fmt.Errorf("invalid provider configuration: %w", err)
	}
	policy, err := sa.ParseLinkPolicy(cfg.LinkPolicy)
	if err != nil {
		return err
	}

	sessions, err := sa.NewSessionIssuer(accounts, cfg.JWTSecret, cfg.JWTIssuer, cfg.SessionTTL)
	if err != nil {
		return err
	}
	sessions.Audience = cfg.JWTAudience
	sessions.Logger = logger

	exchanger := oauth2.NewClient(cfg.HTTPTimeout)
	exchanger.Logger = logger

	stateManager := sa.NewStateManager(states, cfg.StateTTL)
	stateManager.Logger = logger
	resolver := sa.NewResolver(accounts, policy)
	resolver.Logger = logger

	svc := &sa.AuthService{
		Flow: &sa.FlowController{
			Registry:  registry,
			States:    stateManager,
			Exchanger: exchanger,
			Resolver:  resolver,
			Sessions:  sessions,
			Logger:    logger,
		},
		Local:        &sa.LocalAuth{Accounts: accounts, Sessions: sessions, Logger: logger},
		Sessions:     sessions,
		LoginLimiter: sa.NewKeyedLimiter(cfg.LoginPerMinute, cfg.LoginBurst),
		SuccessURL:   cfg.SuccessURL,
		ErrorURL:     cfg.ErrorURL,
		Version:      version,
		Logger:       logger,
	}
	svc.EnsureDefaults()
	svc.Session.Cookie.Secure = cfg.CookieSecure

	ln, err := net.Listen("tcp", cfg.Addr)
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}
	server := &http.Server{
		Handler:           svc.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 2)
	go func() {
		logger.Info("socialauthd listening", "addr", ln.Addr().String(), "providers", registry.Names())
		if err := server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	var grpcServer *grpc.Server
	if cfg.GRPCAddr != "" {
		grpcServer, err = serveGRPC(cfg.GRPCAddr, sessions, logger, errCh)
		if err != nil {
			server.Close()
			return err
		}
	}

	if ready != nil {
		ready <- "http://" + ln.Addr().String()
	}

	select {
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
	}

	logger.Info("shutting down server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if grpcServer != nil {
		grpcServer.GracefulStop()
	}
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown error: %w", err)
	}
	logger.Info("server stopped")
	return nil
}

// storage holds whichever backends the config selects. Accounts live in
// Datastore when a project is configured and in the SQL database otherwise.
type storage struct {
	db        *gorm.DB
	datastore *datastore.Client
	accounts  sa.AccountStore
}

func openStorage(ctx context.Context, cfg *config.Config) (*storage, error) {
	st := &storage{}
	if cfg.DatastoreProject != "" {
		client, err := datastore.NewClient(ctx, cfg.DatastoreProject)
		if err != nil {
			return nil, fmt.Errorf("failed to create datastore client: %w", err)
		}
		st.datastore = client
		st.accounts = gaestore.NewAccountStore(client, cfg.DatastoreNamespace)
	}

	if st.accounts == nil || cfg.StateStoreKind() == config.StateStoreSQL {
		db, err := gormstore.Open(cfg.DatabaseDSN)
		if err != nil {
			st.Close()
			return nil, err
		}
		st.db = db
		if err := gormstore.AutoMigrate(db); err != nil {
			st.Close()
			return nil, fmt.Errorf("failed to migrate: %w", err)
		}
		if st.accounts == nil {
			st.accounts = gormstore.NewAccountStore(db)
		}
	}
	return st, nil
}

func (st *storage) Close() {
	if st.db != nil {
		if sqlDB, err := st.db.DB(); err == nil {
			sqlDB.Close()
		}
	}
	if st.datastore != nil {
		st.datastore.Close()
	}
}

// openStateStore picks the StateStore from config and starts whatever
// background cleanup it needs. The returned func releases it.
func openStateStore(ctx context.Context, cfg *config.Config, st *storage) (sa.StateStore, func(), error) {
	sweepCtx, cancel := context.WithCancel(ctx)

	switch cfg.StateStoreKind() {
	case config.StateStoreRedis:
		rdb, err := redisstore.Connect(ctx, cfg.RedisURL)
		if err != nil {
			cancel()
			return nil, nil, fmt.Errorf("failed to set up redis: %w", err)
		}
		return redisstore.NewStateStore(rdb), func() { cancel(); rdb.Close() }, nil

	case config.StateStoreMemory:
		store := sa.NewMemoryStateStore()
		go store.Run(sweepCtx, time.Minute)
		return store, cancel, nil

	case config.StateStoreDatastore:
		store := gaestore.NewStateStore(st.datastore, cfg.DatastoreNamespace)
		go sweepExpired(sweepCtx, func(ctx context.Context) (int64, error) {
			n, err := store.DeleteExpired(ctx)
			return int64(n), err
		})
		return store, cancel, nil

	default:
		store := gormstore.NewStateStore(st.db)
		go sweepExpired(sweepCtx, store.DeleteExpired)
		return store, cancel, nil
	}
}

// sweepExpired runs deleteExpired every few minutes until ctx is done.
func sweepExpired(ctx context.Context, deleteExpired func(context.Context) (int64, error)) {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n, err := deleteExpired(ctx); err != nil {
				slog.Warn("state cleanup failed", "err", err)
			} else if n > 0 {
				slog.Debug("state cleanup complete", "deleted", n)
			}
		}
	}
}

// serveGRPC starts a gRPC server whose interceptors accept session
// credentials. Only the health service is registered here; embedders add
// their own services to a server built the same way.
func serveGRPC(addr string, sessions *sa.SessionIssuer, logger *slog.Logger, errCh chan<- error) (*grpc.Server, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("grpc listen: %w", err)
	}
	interceptors := sagrpc.NewPublicMethodsConfig(sessions,
		healthpb.Health_Check_FullMethodName,
		healthpb.Health_Watch_FullMethodName,
	)
	server := grpc.NewServer(
		grpc.UnaryInterceptor(sagrpc.UnaryAuthInterceptor(interceptors)),
		grpc.StreamInterceptor(sagrpc.StreamAuthInterceptor(interceptors)),
	)
	healthpb.RegisterHealthServer(server, health.NewServer())

	go func() {
		logger.Info("grpc listening", "addr", ln.Addr().String())
		if err := server.Serve(ln); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			errCh <- err
		}
	}()
	return server, nil
}
