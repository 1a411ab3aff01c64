package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"ledger-core/internal/api"
	"ledger-core/internal/events"
	"ledger-core/internal/ledger"
	"ledger-core/internal/lock"
	"ledger-core/internal/monitor"
	"ledger-core/internal/store/kv"
	"ledger-core/internal/store/postgres"
	"ledger-core/internal/store/remote"
	"ledger-core/internal/sweeper"
	"ledger-core/pkg/cache"
	"ledger-core/pkg/config"
	"ledger-core/pkg/crypto"
	"ledger-core/pkg/db"
	"ledger-core/pkg/logger"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

// repository is what main needs from a storage backend.
type repository interface {
	ledger.Repository
	Close() error
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		bootLog := zerolog.New(os.Stderr)
		bootLog.Fatal().Err(err).Msg("load config")
	}

	buildVersion := os.Getenv("APP_VERSION")
	if buildVersion == "" {
		buildVersion = "v1.0-dev"
	}
	log := logger.New(cfg.Log, "ledger-core", buildVersion)
	if cfg.Release {
		gin.SetMode(gin.ReleaseMode)
	}
	log.Info().
		Str("node_id", cfg.NodeID).
		Str("store", cfg.StoreBackend).
		Str("lock", cfg.LockBackend).
		Str("port", cfg.Port).
		Msg("starting")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	repo, err := openRepository(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("open repository")
	}
	defer repo.Close()

	locker, closeLocker, err := openLocker(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("open locker")
	}
	defer closeLocker()

	plans, rules, err := ledgerProducts(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("ledger config")
	}

	bus := events.NewBus()
	metrics := monitor.NewMetrics()

	opts := []ledger.Option{
		ledger.WithLogger(log),
		ledger.WithPublisher(bus),
		ledger.WithMetrics(metrics),
		ledger.WithPlans(plans),
		ledger.WithFeaturesRules(rules),
	}
	if cfg.WalletKey != "" {
		sealer, err := crypto.NewSealerFromHex(cfg.WalletKey)
		if err != nil {
			log.Fatal().Err(err).Msg("wallet key")
		}
		opts = append(opts, ledger.WithAddressSealer(sealer))
	} else {
		log.Warn().Msg("WALLET_KEY not set; wallet addresses are stored unsealed")
	}
	svc := ledger.NewService(repo, locker, opts...)

	prices := cache.NewPriceCache()
	seed, err := cfg.Ledger.ParsedPrices()
	if err != nil {
		log.Fatal().Err(err).Msg("seed prices")
	}
	for pair, price := range seed {
		prices.Set(pair, price)
	}

	// Event consumers
	if len(cfg.KafkaBrokers) > 0 {
		sink := events.NewKafkaSink(bus, events.NewKafkaWriter(cfg.KafkaBrokers, cfg.KafkaTopic), log)
		sink.Start(ctx)
		defer sink.Close()
		log.Info().Strs("brokers", cfg.KafkaBrokers).Str("topic", cfg.KafkaTopic).Msg("kafka event sink enabled")
	}
	mon := &monitor.Monitor{
		Bus:   bus,
		Sink:  monitor.LogSink{Log: log},
		Rules: []monitor.Rule{monitor.OverReservedWithdrawal},
		Log:   log,
	}
	mon.Start(ctx)

	// Sweeper
	sweepOpts := []sweeper.Option{
		sweeper.WithBus(bus),
		sweeper.WithMetrics(metrics),
		sweeper.WithLogger(log),
	}
	if cfg.ConsulAddr != "" {
		leader, err := sweeper.NewConsulLeader(cfg.ConsulAddr, "ledger-core/sweeper/leader", cfg.NodeID, log)
		if err != nil {
			log.Fatal().Err(err).Msg("consul leader")
		}
		defer leader.Release()
		sweepOpts = append(sweepOpts, sweeper.WithLeader(leader))
	}
	sweep, err := sweeper.New(svc, sweeper.Config{
		Interval:    cfg.SweepInterval,
		Workers:     cfg.SweepWorkers,
		ResyncEvery: cfg.SweepResyncEvery,
	}, sweepOpts...)
	if err != nil {
		log.Fatal().Err(err).Msg("sweeper")
	}
	sweep.Start(ctx)

	// API
	server := api.NewServer(api.Deps{
		Ledger:           svc,
		Repo:             repo,
		Sweeper:          sweep,
		Prices:           prices,
		Bus:              bus,
		Metrics:          metrics,
		Log:              log,
		Version:          buildVersion,
		JWTSecret:        cfg.JWTSecret,
		AdminJWTSecret:   cfg.AdminJWTSecret,
		ReplicationToken: cfg.ReplicationToken,
		RequestTimeout:   15 * time.Second,
	})
	httpServer := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           server.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("api server")
		}
	}()

	health := api.NewHealthService(repo, log)
	lis, err := net.Listen("tcp", ":"+cfg.GRPCPort)
	if err != nil {
		log.Fatal().Err(err).Str("port", cfg.GRPCPort).Msg("grpc listen")
	}
	go health.Watch(ctx, 5*time.Second)
	go func() {
		if err := health.Server.Serve(lis); err != nil {
			log.Error().Err(err).Msg("grpc server")
		}
	}()
	log.Info().Str("http", httpServer.Addr).Str("grpc", lis.Addr().String()).Msg("listening")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan
	log.Info().Msg("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("api shutdown")
	}
	health.Shutdown()
	cancel()
	sweep.Close()
}

func openRepository(ctx context.Context, cfg *config.Config, log zerolog.Logger) (repository, error) {
	switch cfg.StoreBackend {
	case "postgres":
		return postgres.Connect(ctx, cfg.PostgresDSN)
	case "remote":
		return remote.New(cfg.RemoteStoreURL, cfg.RemoteStoreToken, remote.WithLogger(log)), nil
	default:
		database, err := db.Open(cfg.DBPath)
		if err != nil {
			return nil, err
		}
		return kv.New(database), nil
	}
}

func openLocker(ctx context.Context, cfg *config.Config) (lock.Locker, func(), error) {
	if cfg.LockBackend != "redis" {
		return lock.NewLocal(), func() {}, nil
	}
	client, err := lock.NewRedisClient(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	if err != nil {
		return nil, nil, err
	}
	return lock.NewRedis(client, cfg.LockTTL), func() { _ = client.Close() }, nil
}

// ledgerProducts turns the ledger file into the plan table and features rules.
func ledgerProducts(cfg *config.Config) (ledger.StaticPlans, ledger.FeaturesRules, error) {
	rules := ledger.FeaturesRules{
		Levers:     cfg.Ledger.Levers,
		AutoResult: ledger.Result(cfg.AutoResolveResult),
	}
	parsed, err := cfg.Ledger.ParsedPlans()
	if err != nil {
		return nil, rules, err
	}
	plans := make(ledger.StaticPlans, 0, len(parsed))
	for _, p := range parsed {
		plans = append(plans, ledger.Plan{
			ID:                p.ID,
			Name:              p.Name,
			DailyYieldPercent: p.DailyYieldPercent,
			CycleDays:         p.CycleDays,
			QuotaMin:          p.QuotaMin,
			QuotaMax:          p.QuotaMax,
		})
	}
	periods, err := cfg.Ledger.ParsedPeriods()
	if err != nil {
		return nil, rules, err
	}
	for _, p := range periods {
		rules.Periods = append(rules.Periods, ledger.PeriodRule{
			Seconds:   p.Seconds,
			Percent:   p.Percent,
			MinAmount: p.MinAmount,
		})
	}
	return plans, rules, nil
}
