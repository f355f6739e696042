package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"
	grpclib "google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"github.com/simaogato/fundpool-backend/internal/adapter/admin"
	grpcadapter "github.com/simaogato/fundpool-backend/internal/adapter/grpc"
	fundpoolv1 "github.com/simaogato/fundpool-backend/internal/adapter/grpc/fundpool/v1"
	"github.com/simaogato/fundpool-backend/internal/adapter/httpclient"
	"github.com/simaogato/fundpool-backend/internal/adapter/kafka"
	"github.com/simaogato/fundpool-backend/internal/adapter/loopback"
	redisadapter "github.com/simaogato/fundpool-backend/internal/adapter/redis"
	"github.com/simaogato/fundpool-backend/internal/adapter/repository/memory"
	"github.com/simaogato/fundpool-backend/internal/adapter/repository/postgres"
	"github.com/simaogato/fundpool-backend/internal/config"
	"github.com/simaogato/fundpool-backend/internal/domain"
	"github.com/simaogato/fundpool-backend/internal/logger"
	"github.com/simaogato/fundpool-backend/internal/metrics"
	"github.com/simaogato/fundpool-backend/internal/usecase/conversion"
	"github.com/simaogato/fundpool-backend/internal/usecase/coordinator"
	"github.com/simaogato/fundpool-backend/internal/usecase/inbox"
	"github.com/simaogato/fundpool-backend/internal/usecase/ledger"
	"github.com/simaogato/fundpool-backend/internal/usecase/outbox"
	"github.com/simaogato/fundpool-backend/internal/usecase/planner"
	"github.com/simaogato/fundpool-backend/internal/usecase/reaper"
	"github.com/simaogato/fundpool-backend/internal/usecase/registry"
	"github.com/simaogato/fundpool-backend/internal/usecase/seeder"
)

const (
	tokenIssuer     = "fundpool"
	shutdownTimeout = 15 * time.Second
)

// repositories is the set of stores the engine runs on.
type repositories struct {
	requests      domain.RequestRepository
	contributions domain.ContributionRepository
	settlements   domain.SettlementRepository
	refunds       domain.RefundRepository
	payees        domain.PayeeRepository
	outbox        domain.OutboxRepository
}

func main() {
	configPath := pflag.String("config", os.Getenv("FUNDPOOL_CONFIG"), "path to the YAML configuration file")
	issueFor := pflag.String("issue-token", "", "print a token for the given domain:account and exit")
	issueRole := pflag.String("role", string(grpcadapter.RolePayer), "role of the issued token (payer or transport)")
	issueTTL := pflag.Duration("ttl", 24*time.Hour, "lifetime of the issued token")
	pflag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	if *issueFor != "" {
		if err := issueToken(cfg, *issueFor, grpcadapter.Role(*issueRole), *issueTTL); err != nil {
			fmt.Fprintf(os.Stderr, "failed to issue token: %v\n", err)
			os.Exit(1)
		}
		return
	}

	log, err := logger.New(cfg.Server.LogMode)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Error("server exited with error", "error", err)
		log.Sync()
		os.Exit(1)
	}
	log.Info("server stopped")
}

func issueToken(cfg config.Config, subject string, role grpcadapter.Role, ttl time.Duration) error {
	addr, err := domain.ParseAddress(subject)
	if err != nil {
		return err
	}
	if role != grpcadapter.RolePayer && role != grpcadapter.RoleTransport {
		return fmt.Errorf("unknown role %q", role)
	}
	token, err := grpcadapter.NewTokenService(cfg.Server.JWTSigningKey, tokenIssuer).
		Issue(grpcadapter.Caller{Address: addr, Role: role}, ttl)
	if err != nil {
		return err
	}
	fmt.Println(token)
	return nil
}

func run(ctx context.Context, cfg config.Config, log *logger.Logger) error {
	m := metrics.New(prometheus.DefaultRegisterer)
	checks := map[string]admin.HealthCheck{}

	// 1. Setup storage
	repos, closeStore, err := openStore(ctx, cfg.Database, checks, log)
	if err != nil {
		return err
	}
	defer closeStore()

	// 2. Reaper lease: redis when configured, otherwise in-process
	var locker reaper.Locker = reaper.NewLocalLocker()
	redisClient, err := redisadapter.New(ctx, cfg.Redis)
	if err != nil {
		return fmt.Errorf("connect to redis: %w", err)
	}
	if redisClient != nil {
		defer redisClient.Close()
		locker = redisadapter.NewLease(redisClient.Client, "fundpool:lease:", log)
		checks["redis"] = redisClient.Health
		log.Info("redis lease enabled")
	}

	// 3. External collaborators
	var converter domain.AssetConverter
	if cfg.Services.ConversionURL != "" {
		converter = httpclient.NewConverter(cfg.Services.ConversionURL, cfg.Services.Timeout)
	}
	var balances domain.BalanceQuery
	if cfg.Services.BalanceURL != "" {
		balances = httpclient.NewBalances(cfg.Services.BalanceURL, cfg.Services.Timeout)
	}

	// 4. Use cases
	locks := ledger.NewKeyedMutex(cfg.Engine.LockTimeout)
	registryService := registry.NewRegistryService(
		repos.requests, repos.contributions, repos.settlements, repos.refunds,
		domain.Amount(cfg.Engine.MinRefundBudget), m, log.With("component", "registry"))
	ledgerService := ledger.NewLedgerService(
		repos.requests, repos.contributions, repos.outbox, locks, m, log.With("component", "ledger"))
	conversionService := conversion.NewConversionService(converter, cfg.Engine.SettlementAsset, log.With("component", "conversion"))
	dispatchPlanner := planner.NewPlanner(balances, domain.Amount(cfg.Engine.FastTransportThreshold), log.With("component", "planner"))

	retry := coordinator.RetryPolicy{
		MaxAttempts: cfg.Engine.Retry.MaxAttempts,
		MinBackoff:  cfg.Engine.Retry.MinBackoff,
		MaxBackoff:  cfg.Engine.Retry.MaxBackoff,
		JitterFrac:  cfg.Engine.Retry.JitterFrac,
	}

	// The inbox and the gateway reference each other through the loopback
	// deliver function, so the inbox is bound after both exist.
	var in *inbox.Inbox

	g, gctx := errgroup.WithContext(ctx)

	// 5. Transport and event bus
	var (
		gateway   domain.TransportGateway
		publisher domain.EventPublisher
		consumer  *kafka.Consumer
	)
	if len(cfg.Kafka.Brokers) > 0 {
		client, err := kafka.NewClient(ctx, cfg.Kafka)
		if err != nil {
			return fmt.Errorf("connect to kafka: %w", err)
		}
		defer client.Close()

		gateway = kafka.NewGateway(client, cfg.Kafka.OrdersTopic, cfg.Kafka.SendRatePerDomain, cfg.Kafka.SendBurst)
		if cfg.Kafka.EventsTopic != "" {
			publisher = kafka.NewPublisher(client, cfg.Kafka.EventsTopic)
		}
		consumer = kafka.NewConsumer(client, func(ctx context.Context, conf domain.Confirmation) error {
			_, err := in.Do(ctx, conf)
			return err
		}, inbox.Retryable, retry.Backoff, log.With("component", "kafka-consumer"))
		log.Info("kafka transport enabled", "brokers", cfg.Kafka.Brokers)
	} else {
		lb := loopback.NewGateway(func(ctx context.Context, conf domain.Confirmation) error {
			return in.Submit(ctx, conf)
		}, cfg.Engine.Inbox.QueueDepth, log.With("component", "loopback"))
		g.Go(func() error { return lb.Run(gctx) })
		gateway = lb
		log.Warn("no kafka brokers configured, using loopback transport")
	}
	if publisher == nil {
		publisher = loopback.NewPublisher(log.With("component", "events"))
	}

	coord := coordinator.NewCoordinator(coordinator.Repositories{
		Requests:    repos.requests,
		Settlements: repos.settlements,
		Refunds:     repos.refunds,
		Payees:      repos.payees,
		Outbox:      repos.outbox,
	}, gateway, dispatchPlanner, locks, coordinator.Config{
		CustodyDomain:  cfg.Engine.CustodyDomain,
		CustodyAccount: cfg.Engine.CustodyAccount,
		Retry:          retry,
		MaxInFlight:    cfg.Engine.MaxInFlight,
	}, m, log.With("component", "coordinator"))
	ledgerService.SetListener(coord)

	processor := inbox.NewProcessor(ledgerService, conversionService, coord, repos.contributions, log.With("component", "processor"))
	in = inbox.New(processor, cfg.Engine.Inbox.Shards, cfg.Engine.Inbox.QueueDepth, log.With("component", "inbox"))

	// 6. Seed payee configurations
	payees, err := cfg.PayeeConfigs()
	if err != nil {
		return fmt.Errorf("payee configuration: %w", err)
	}
	seeded, err := seeder.NewPayeeSeeder(repos.payees, log.With("component", "seeder")).Seed(ctx, payees)
	if err != nil {
		return fmt.Errorf("seed payees: %w", err)
	}
	log.Info("payee configurations seeded", "written", seeded, "configured", len(payees))

	// 7. Background workers
	g.Go(func() error { return in.Run(gctx) })
	if consumer != nil {
		g.Go(func() error { return consumer.Run(gctx) })
	}

	relay := outbox.NewRelay(repos.outbox, publisher, cfg.Engine.Outbox.Interval, cfg.Engine.Outbox.BatchSize, m, log.With("component", "outbox"))
	g.Go(func() error { return relay.Run(gctx) })

	sweeper := reaper.NewReaper(repos.requests, ledgerService, coord, locker, reaper.Config{
		Interval:  cfg.Engine.Reaper.Interval,
		BatchSize: cfg.Engine.Reaper.BatchSize,
		LeaseTTL:  cfg.Engine.Reaper.LeaseTTL,
	}, m, log.With("component", "reaper"))
	// Pick up journaled work left by a previous process before serving.
	if _, err := sweeper.Sweep(ctx); err != nil {
		log.Warn("startup sweep failed", "error", err)
	}
	if err := sweeper.Start(gctx); err != nil {
		return err
	}

	// 8. gRPC server
	tokens := grpcadapter.NewTokenService(cfg.Server.JWTSigningKey, tokenIssuer)
	grpcServer := grpclib.NewServer(
		grpclib.UnaryInterceptor(grpcadapter.AuthInterceptor(tokens, healthpb.Health_Check_FullMethodName)),
	)
	fundpoolv1.RegisterAggregationServiceServer(grpcServer,
		grpcadapter.NewServer(registryService, ledgerService, in, log.With("component", "grpc")))
	healthServer := health.NewServer()
	healthpb.RegisterHealthServer(grpcServer, healthServer)
	reflection.Register(grpcServer)

	lis, err := net.Listen("tcp", cfg.Server.GRPCAddr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", cfg.Server.GRPCAddr, err)
	}
	g.Go(func() error {
		log.Info("gRPC server listening", "addr", cfg.Server.GRPCAddr)
		return grpcServer.Serve(lis)
	})

	// 9. Admin HTTP server
	var adminServer *http.Server
	if cfg.Server.AdminAddr != "" {
		adminHandler := admin.NewHandler(registryService, checks, prometheus.DefaultGatherer, log.With("component", "admin"))
		adminServer = &http.Server{
			Addr:              cfg.Server.AdminAddr,
			Handler:           adminHandler.Router(),
			ReadHeaderTimeout: 5 * time.Second,
		}
		g.Go(func() error {
			log.Info("admin server listening", "addr", cfg.Server.AdminAddr)
			if err := adminServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
	}

	// 10. Graceful shutdown
	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down")
		healthServer.Shutdown()

		sweeper.Stop()
		grpcServer.GracefulStop()
		if adminServer != nil {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			if err := adminServer.Shutdown(shutdownCtx); err != nil {
				log.Warn("admin server shutdown failed", "error", err)
			}
		}
		coord.Stop()
		return nil
	})

	return g.Wait()
}

// openStore returns the repositories for the configured driver and a
// function releasing them.
func openStore(ctx context.Context, cfg config.DatabaseConfig, checks map[string]admin.HealthCheck, log *logger.Logger) (repositories, func(), error) {
	if cfg.Driver == "memory" {
		log.Warn("using in-memory store, state is lost on restart")
		store := memory.NewStore()
		return repositories{
			requests:      memory.NewRequestRepository(store),
			contributions: memory.NewContributionRepository(store),
			settlements:   memory.NewSettlementRepository(store),
			refunds:       memory.NewRefundRepository(store),
			payees:        memory.NewPayeeRepository(store),
			outbox:        memory.NewOutboxRepository(store),
		}, func() {}, nil
	}

	db, err := postgres.NewDB(ctx, cfg.DSN())
	if err != nil {
		return repositories{}, nil, fmt.Errorf("connect to database: %w", err)
	}
	if cfg.Migrate {
		if err := postgres.Migrate(db); err != nil {
			_ = db.Close()
			return repositories{}, nil, fmt.Errorf("migrate database: %w", err)
		}
		log.Info("database migrations applied")
	}
	checks["postgres"] = db.PingContext

	return repositories{
		requests:      postgres.NewRequestRepository(db),
		contributions: postgres.NewContributionRepository(db),
		settlements:   postgres.NewSettlementRepository(db),
		refunds:       postgres.NewRefundRepository(db),
		payees:        postgres.NewPayeeRepository(db),
		outbox:        postgres.NewOutboxRepository(db),
	}, func() { _ = db.Close() }, nil
}
