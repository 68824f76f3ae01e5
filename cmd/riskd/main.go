package main

import (
	"context"
	"crypto/tls"
	"errors"
	"flag"
	"log"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"fluxrisk/config"
	"fluxrisk/core/events"
	"fluxrisk/core/state"
	"fluxrisk/native/bank"
	nativecommon "fluxrisk/native/common"
	"fluxrisk/native/compliance"
	"fluxrisk/native/oracle"
	"fluxrisk/native/vault"
	"fluxrisk/observability"
	"fluxrisk/observability/logging"
	telemetry "fluxrisk/observability/otel"
	"fluxrisk/services/riskd/audit"
	riskdconfig "fluxrisk/services/riskd/config"
	"fluxrisk/services/riskd/server"
	"fluxrisk/services/riskd/swaprpc"
	"fluxrisk/storage"
)

func main() {
	var cfgPath string
	flag.StringVar(&cfgPath, "config", "services/riskd/config.yaml", "path to riskd config")
	flag.Parse()

	env := strings.TrimSpace(os.Getenv("FLUX_ENV"))
	cfg, err := riskdconfig.Load(cfgPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	logger, err := logging.SetupWithOptions("riskd", env, cfg.Logging)
	if err != nil {
		log.Fatalf("init logging: %v", err)
	}

	shutdownTelemetry, err := telemetry.Init(context.Background(), telemetry.FromEnv("riskd", env))
	if err != nil {
		log.Fatalf("init telemetry: %v", err)
	}
	defer func() {
		if shutdownTelemetry != nil {
			_ = shutdownTelemetry(context.Background())
		}
	}()

	params, err := config.Load(cfg.ParamsPath)
	if err != nil {
		log.Fatalf("load engine params: %v", err)
	}

	db, err := storage.NewLevelDB(cfg.DataDir)
	if err != nil {
		log.Fatalf("open state database: %v", err)
	}
	defer db.Close()
	manager := state.NewManager(db)

	ledger, err := bank.NewLedger(manager, params.Bank.SettlementAsset)
	if err != nil {
		log.Fatalf("init bank ledger: %v", err)
	}

	auditDB, err := audit.Open(cfg.Audit.Driver, cfg.Audit.DSN)
	if err != nil {
		log.Fatalf("open audit journal: %v", err)
	}
	journal := audit.NewJournal(auditDB, logger)
	logger.Info("audit journal ready",
		slog.String("driver", cfg.Audit.Driver),
		logging.Endpoint("dsn", cfg.Audit.DSN))

	swapper, err := swaprpc.NewClient(swaprpc.Config{
		URL:      cfg.Swap.URL,
		Provider: cfg.Swap.Provider,
		Timeout:  cfg.Swap.Timeout,
	})
	if err != nil {
		log.Fatalf("init swap client: %v", err)
	}
	logger.Info("swap router configured",
		slog.String("provider", cfg.Swap.Provider),
		logging.Endpoint("url", cfg.Swap.URL))

	feed := oracle.NewFeed()
	now := nativecommon.SystemClock.Now()
	for asset, seed := range cfg.Oracle.Prices {
		if err := feed.Set(asset, oracle.Quote{Price: seed.Price, Decimals: seed.Decimals, Timestamp: now, Source: "config"}); err != nil {
			log.Fatalf("seed oracle price %s: %v", asset, err)
		}
	}
	prices := oracle.NewGuard(feed, params.Oracle.MaxAgeSeconds)

	stream := events.NewBroadcaster(cfg.EventHistory)
	emitter := events.Multi{stream, journal, observability.NewEventMetrics(observability.Risk())}
	pauses := nativecommon.Pauses(cfg.PausedModules())

	vaults := vault.NewEngine(params.Vault)
	vaults.SetState(manager)
	vaults.SetPauses(pauses)
	vaults.SetEmitter(emitter)
	vaults.SetLogger(logger.With(slog.String("module", "vault")))
	vaults.SetSwapper(swapper)
	vaults.SetFundsTransferer(ledger)

	profiles := compliance.NewEngine(manager, params.Compliance)
	profiles.SetPauses(pauses)
	profiles.SetEmitter(emitter)
	profiles.SetLogger(logger.With(slog.String("module", "compliance")))
	profiles.SetFundsTransferer(ledger)

	srv := server.New(server.Config{
		Vaults:     vaults,
		Compliance: profiles,
		Prices:     prices,
		Feed:       feed,
		Custody:    ledger,
		Stream:     stream,
		Journal:    journal,
		Auth: server.AuthConfig{
			HMACSecret: cfg.Auth.HMACSecret,
			Issuer:     cfg.Auth.Issuer,
			Audience:   cfg.Auth.Audience,
			ScopeClaim: cfg.Auth.ScopeClaim,
			ClockSkew:  cfg.Auth.ClockSkew,
		},
		RateLimit: server.RateLimit{
			RequestsPerMinute: cfg.RateLimit.RequestsPerMinute,
			Burst:             cfg.RateLimit.Burst,
		},
		Logger: logger,
	})

	listener, err := net.Listen("tcp", cfg.ListenAddress)
	if err != nil {
		log.Fatalf("listen on %s: %v", cfg.ListenAddress, err)
	}
	if cfg.TLS.AllowInsecure {
		tcpAddr, _ := listener.Addr().(*net.TCPAddr)
		loopback := tcpAddr != nil && tcpAddr.IP != nil && tcpAddr.IP.IsLoopback()
		if !strings.EqualFold(env, "dev") && !loopback {
			log.Fatalf("plaintext riskd mode is restricted to loopback listeners or dev environment")
		}
	}

	httpServer := &http.Server{
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	if cfg.TLS.CertPath != "" {
		httpServer.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("riskd listening",
			slog.String("addr", cfg.ListenAddress),
			slog.Bool("tls", cfg.TLS.CertPath != ""),
			slog.Any("paused", cfg.Pauses))
		if cfg.TLS.CertPath != "" {
			serverErr <- httpServer.ServeTLS(listener, cfg.TLS.CertPath, cfg.TLS.KeyPath)
			return
		}
		serverErr <- httpServer.Serve(listener)
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Shutdown)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Warn("forcing server stop", slog.Any("error", err))
			_ = httpServer.Close()
		}
	case err := <-serverErr:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("serve http: %v", err)
		}
	}
}
