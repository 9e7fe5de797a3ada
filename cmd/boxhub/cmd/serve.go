package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/boxhub/boxhub/internal/auth"
	"github.com/boxhub/boxhub/internal/authz"
	"github.com/boxhub/boxhub/internal/db/bunx"
	"github.com/boxhub/boxhub/internal/events"
	"github.com/boxhub/boxhub/internal/metrics"
	"github.com/boxhub/boxhub/internal/middleware"
	"github.com/boxhub/boxhub/internal/migrations"
	"github.com/boxhub/boxhub/internal/repository"
	"github.com/boxhub/boxhub/internal/rpc"
	"github.com/boxhub/boxhub/internal/server"
	"github.com/boxhub/boxhub/internal/services/identity"
	"github.com/boxhub/boxhub/internal/services/registry"
	"github.com/boxhub/boxhub/internal/services/training"
)

// Roles a process can serve.
const (
	roleIdentity = "identity"
	roleDatasets = "datasets"
	roleAll      = "all"
)

var (
	serveRole    string
	serveMigrate bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the boxhub server",
	Long: `Starts the HTTP server with the Connect RPC services, the REST routes and the
event consumers of the selected role:

  identity  users, tokens and entitlements; confirms datasets against
            DATASETS_URL
  datasets  dataset registry and training orchestrator; validates tokens
            against IDENTITY_URL
  all       both, validating tokens in-process`,
	RunE: func(cmd *cobra.Command, args []string) error {
		switch serveRole {
		case roleIdentity, roleDatasets, roleAll:
		default:
			return fmt.Errorf("unknown role %q (want identity, datasets or all)", serveRole)
		}
		if serveRole == roleDatasets && cfg.IdentityURL == "" {
			return errors.New("IDENTITY_URL is required for the datasets role")
		}
		if serveRole == roleIdentity && cfg.DatasetsURL == "" {
			return errors.New("DATASETS_URL is required for the identity role")
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		logger := slog.Default()

		db, err := bunx.NewDB(cfg.DatabaseURL, bunx.Options{MaxConnections: cfg.MaxDBConnections})
		if err != nil {
			return fmt.Errorf("failed to connect to database: %w", err)
		}
		defer bunx.Close(db)
		logger.Info("connected to database", "type", bunx.DetectDatabaseType(cfg.DatabaseURL))

		if serveMigrate {
			group, err := migrations.Apply(ctx, db)
			if err != nil {
				return err
			}
			logger.Info("migrations applied", "group", group.ID)
		}

		reg := prometheus.NewRegistry()
		reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
		collector := metrics.NewCollector(reg)

		bus, closeBus, err := newBus(collector, logger)
		if err != nil {
			return err
		}
		defer closeBus()

		policies := rpc.Policies()
		routerOpts := server.RouterOptions{
			CookieSecure: cfg.CookieSecure,
			CORSOptions:  corsOptions(),
			Metrics:      metrics.Handler(reg),
			Logger:       logger,
		}

		var (
			identitySvc    *identity.Service
			registrySvc    *registry.Service
			datasets       *repository.BunDatasetRepository
			validator      authz.TokenValidator
			datasetChecker identity.DatasetChecker
		)
		if serveRole == roleDatasets || serveRole == roleAll {
			datasets = repository.NewBunDatasetRepository(db)
			registrySvc = registry.NewService(registry.Dependencies{
				Datasets: datasets,
				Events:   bus,
				Metrics:  collector,
				Logger:   logger.With("service", "registry"),
			})
			datasetChecker = registrySvc
		} else {
			datasetChecker = rpc.NewDatasetAccessClient(&http.Client{}, cfg.DatasetsURL)
			logger.Info("confirming datasets remotely", "datasets_url", cfg.DatasetsURL)
		}

		if serveRole == roleIdentity || serveRole == roleAll {
			signer, err := auth.NewSigner([]byte(cfg.JWTSecret), cfg.JWTTTL)
			if err != nil {
				return fmt.Errorf("failed to create token signer: %w", err)
			}
			identitySvc = identity.NewService(identity.Dependencies{
				Users:        repository.NewBunUserRepository(db),
				Sessions:     repository.NewBunSessionRepository(db),
				Entitlements: repository.NewBunEntitlementRepository(db),
				Datasets:     datasetChecker,
				Signer:       signer,
				Metrics:      collector,
				Logger:       logger.With("service", roleIdentity),
			})
			validator = identitySvc

			limiter := middleware.NewRateLimiter(middleware.RateLimiterConfig{
				Rate:  rate.Limit(float64(cfg.LoginRatePerMinute) / 60.0),
				Burst: cfg.LoginRatePerMinute,
			}, logger)
			defer limiter.Stop()

			routerOpts.Identity = identitySvc
			routerOpts.LoginLimiter = limiter
		} else {
			validator = rpc.NewIdentityClient(&http.Client{}, cfg.IdentityURL)
			logger.Info("validating tokens remotely", "identity_url", cfg.IdentityURL)
		}

		if serveRole == roleDatasets || serveRole == roleAll {
			maps.Copy(policies, server.Policies())
		}

		gate := authz.NewDelegate(validator, policies,
			authz.WithTimeout(cfg.RPCTimeout),
			authz.WithMetrics(collector),
			authz.WithLogger(logger.With("component", "authz")),
		)
		interceptor := middleware.NewAuthzInterceptor(gate)
		routerOpts.Gate = gate

		if identitySvc != nil {
			identitySvc.Subscribe(bus, gate)
			path, handler := rpc.NewIdentityHandler(identitySvc, interceptor)
			routerOpts.Connect = append(routerOpts.Connect, server.ConnectMount{Path: path, Handler: handler})
		}

		if registrySvc != nil {
			trainingSvc := training.NewService(training.Dependencies{
				Datasets: datasets,
				Access:   registrySvc,
				Events:   bus,
				Metrics:  collector,
				Logger:   logger.With("service", "training"),
			})
			registrySvc.Subscribe(bus, gate)
			trainingSvc.Subscribe(bus, gate)

			path, handler := rpc.NewDatasetAccessHandler(registrySvc, interceptor)
			routerOpts.Connect = append(routerOpts.Connect, server.ConnectMount{Path: path, Handler: handler})
			routerOpts.Datasets = registrySvc
			routerOpts.Training = trainingSvc
		}

		srv := &http.Server{
			Addr:         cfg.ServerAddr,
			Handler:      server.NewH2CHandler(routerOpts),
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 15 * time.Second,
			IdleTimeout:  60 * time.Second,
		}

		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() error {
			return bus.Run(gctx)
		})
		g.Go(func() error {
			logger.Info("starting server", "addr", cfg.ServerAddr, "role", serveRole)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("server error: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			logger.Info("shutting down gracefully")

			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				_ = srv.Close()
				return fmt.Errorf("graceful shutdown failed: %w", err)
			}
			return nil
		})

		if err := g.Wait(); err != nil {
			return err
		}
		logger.Info("server stopped")
		return nil
	},
}

// newBus selects Redis Streams when REDIS_URL is set and the in-process bus
// otherwise. The returned func releases the transport.
func newBus(collector *metrics.Collector, logger *slog.Logger) (events.Bus, func(), error) {
	dispatcher, err := events.NewDispatcher(cfg.EventDedupeSize,
		events.WithMetrics(collector),
		events.WithLogger(logger.With("component", "events")),
	)
	if err != nil {
		return nil, nil, err
	}

	if cfg.RedisURL == "" {
		logger.Warn("REDIS_URL not set, using the in-process event bus")
		return events.NewMemoryBus(dispatcher, collector, logger), func() {}, nil
	}

	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, nil, fmt.Errorf("invalid REDIS_URL: %w", err)
	}
	client := redis.NewClient(opts)

	bus := events.NewRedisBus(client, dispatcher, events.RedisOptions{
		Group:     cfg.EventConsumerGroup,
		ClaimIdle: cfg.EventClaimIdle,
		Metrics:   collector,
		Logger:    logger.With("component", "events"),
	})
	return bus, func() { _ = client.Close() }, nil
}

func corsOptions() *cors.Options {
	opts := server.DefaultCORSOptions()
	if len(cfg.CORSOrigins) > 0 {
		opts.AllowedOrigins = cfg.CORSOrigins
	}
	return &opts
}

func init() {
	serveCmd.Flags().StringVar(&serveRole, "role", roleAll, "Services to run: identity, datasets or all")
	serveCmd.Flags().BoolVar(&serveMigrate, "migrate", false, "Apply pending migrations before serving")
	rootCmd.AddCommand(serveCmd)
}
