package main

import (
	"context"
	"database/sql"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	_ "github.com/lib/pq"

	"github.com/example/ride-broker/internal/broadcast"
	"github.com/example/ride-broker/internal/broker"
	"github.com/example/ride-broker/internal/config"
	"github.com/example/ride-broker/internal/directory"
	"github.com/example/ride-broker/internal/feed"
	"github.com/example/ride-broker/internal/geo"
	"github.com/example/ride-broker/internal/ingest"
	"github.com/example/ride-broker/internal/logging"
	"github.com/example/ride-broker/internal/match"
	"github.com/example/ride-broker/internal/ops"
	"github.com/example/ride-broker/internal/payment"
	"github.com/example/ride-broker/internal/relay"
	"github.com/example/ride-broker/internal/session"
	"github.com/example/ride-broker/internal/storage"
	"github.com/example/ride-broker/internal/transport"
)

func main() {
	cfg, err := config.LoadBrokerConfig()
	if err != nil {
		slog.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	logger := logging.NewLogger(cfg.LogLevel)
	slog.SetDefault(logger)

	if cfg.PGDSN != "" && cfg.RunMigrations {
		runMigrations(cfg.PGDSN, logger)
	}

	var store storage.RideStore
	if cfg.PGDSN != "" {
		ps, err := storage.NewPostgresStore(cfg.PGDSN)
		if err != nil {
			logger.Error("postgres unavailable", "error", err)
			os.Exit(1)
		}
		defer ps.Close()
		store = ps
	} else {
		store = storage.NewMemoryStore()
	}

	var dir directory.Directory
	if cfg.RedisAddr != "" {
		rs := directory.NewRedisStore(cfg.RedisAddr, cfg.RedisPassword)
		defer rs.Close()
		dir = rs
	} else {
		fs, err := directory.NewFileStore(cfg.RegistryPath)
		if err != nil {
			logger.Error("biker registry unreadable", "path", cfg.RegistryPath, "error", err)
			os.Exit(1)
		}
		dir = fs
	}

	var positions *geo.RedisPositions
	if cfg.RedisAddr != "" {
		positions = geo.NewRedisPositions(cfg.RedisAddr, cfg.RedisPassword, cfg.PositionsKey)
		defer positions.Close()
	}

	var producer *ingest.Producer
	if len(cfg.KafkaBrokers) > 0 {
		producer = ingest.NewProducer(cfg.KafkaBrokers, cfg.KafkaTopic)
		defer producer.Close()
	}

	google := geo.NewGoogleClient(cfg.GoogleMapsAPIKey)
	var directions geo.Directions = google
	if cfg.DirectionsBackend == "osrm" && cfg.OSRMEndpoint != "" {
		directions = geo.NewOSRMClient(cfg.OSRMEndpoint)
	}

	tg, err := transport.NewTelegram(cfg.BotToken, logging.Component(logger, "transport"))
	if err != nil {
		logger.Error("telegram setup failed", "error", err)
		os.Exit(1)
	}

	registry := match.NewRegistry()
	sessions := session.NewManager()
	feedReg := feed.NewRegistry(logging.Component(logger, "feed"))

	broadcaster := &broadcast.Broadcaster{
		Directory:  dir,
		Geocoder:   google,
		Directions: directions,
		PreviewURL: google.StaticMapURL,
		Messenger:  tg,
		Registry:   registry,
		Log:        logging.Component(logger, "broadcast"),
	}

	gate := &payment.Gate{
		Messenger:     tg,
		Registry:      registry,
		Settlement:    payment.NewSettlement(),
		ProviderToken: cfg.PaymentProviderToken,
		Currency:      cfg.Currency,
		MinMinor:      cfg.MinInvoiceMinor,
		Log:           logging.Component(logger, "payment"),
	}

	svc := &broker.Service{
		Sessions:      sessions,
		Registry:      registry,
		Broadcaster:   broadcaster,
		Gate:          gate,
		Relay:         relay.New(tg, registry, cfg.LivePeriodSeconds),
		Directory:     dir,
		Store:         store,
		Messenger:     tg,
		Positions:     producer,
		Feed:          feedReg,
		RequestExpiry: cfg.RequestExpiry,
		Log:           logging.Component(logger, "broker"),
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	ready := func(ctx context.Context) error {
		if positions != nil {
			return positions.Ping(ctx)
		}
		return nil
	}
	opsSrv := ops.NewServer(positions, feedReg, ready, logging.Component(logger, "ops"))
	httpSrv := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      opsSrv,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}
	go func() {
		logger.Info("ops server listening", "addr", cfg.HTTPAddr)
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("ops server stopped", "error", err)
		}
	}()
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		_ = httpSrv.Shutdown(shutdownCtx)
	}()

	go svc.RunExpirySweeper(ctx)

	logger.Info("ride broker starting")
	if err := tg.Run(ctx, svc.HandleEvent); err != nil {
		logger.Error("transport stopped", "error", err)
		os.Exit(1)
	}
}

// runMigrations applies migrations/001_create_ride_requests.sql when
// MIGRATE=true, mirroring how the request table is bootstrapped locally.
func runMigrations(dsn string, logger *slog.Logger) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		logger.Error("migration db open error", "error", err)
		return
	}
	defer db.Close()
	b, err := os.ReadFile(filepath.Join("migrations", "001_create_ride_requests.sql"))
	if err != nil {
		logger.Error("migration read error", "error", err)
		return
	}
	if _, err := db.Exec(string(b)); err != nil {
		logger.Error("migration exec error", "error", err)
		return
	}
	logger.Info("migration applied", "file", "001_create_ride_requests.sql")
}
