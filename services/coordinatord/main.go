package coordinatord

import (
	"context"
	"crypto/ecdsa"
	"flag"
	"fmt"
	"log/slog"
	"math/big"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/aodhgan/closest-number/coordinator"
	"github.com/aodhgan/closest-number/ledger"
	"github.com/aodhgan/closest-number/observability"
	"github.com/aodhgan/closest-number/observability/logging"
	telemetry "github.com/aodhgan/closest-number/observability/otel"
)

// Main initialises and runs the round coordinator daemon.
func Main() error {
	var cfgPath string
	flag.StringVar(&cfgPath, "config", "services/coordinatord/config.yaml", "path to coordinatord configuration")
	flag.Parse()

	env := strings.TrimSpace(os.Getenv("COORDINATOR_ENV"))
	logging.Setup("coordinatord", env)
	otlpEndpoint := strings.TrimSpace(os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"))
	otlpHeaders := telemetry.ParseHeaders(os.Getenv("OTEL_EXPORTER_OTLP_HEADERS"))
	insecure := true
	if value := strings.TrimSpace(os.Getenv("OTEL_EXPORTER_OTLP_INSECURE")); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			insecure = parsed
		}
	}
	shutdownTelemetry, err := telemetry.Init(context.Background(), telemetry.Config{
		ServiceName: "coordinatord",
		Environment: env,
		Endpoint:    otlpEndpoint,
		Insecure:    insecure,
		Headers:     otlpHeaders,
		Metrics:     true,
		Traces:      true,
	})
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}
	defer func() {
		if shutdownTelemetry != nil {
			_ = shutdownTelemetry(context.Background())
		}
	}()

	cfg, err := LoadConfig(cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	var signer *ecdsa.PrivateKey
	if cfg.Chain.SignerKey != "" {
		signer, err = ethcrypto.HexToECDSA(strings.TrimPrefix(cfg.Chain.SignerKey, "0x"))
		if err != nil {
			return fmt.Errorf("load signer key: %w", err)
		}
	} else {
		slog.Warn("no signer key configured, serving round state read-only; vault writes will be rejected")
	}
	client, err := ledger.Dial(cfg.Chain.Endpoint)
	if err != nil {
		return fmt.Errorf("dial chain: %w", err)
	}
	defer client.Close()
	vault, err := ledger.NewEVMVault(
		client,
		common.HexToAddress(strings.TrimSpace(cfg.Chain.VaultAddress)),
		signer,
		big.NewInt(cfg.Chain.ChainID),
		cfg.Chain.CallTimeout.Duration,
	)
	if err != nil {
		return fmt.Errorf("init vault client: %w", err)
	}

	buyIn, err := cfg.Game.BuyInAmount()
	if err != nil {
		return err
	}

	hub := newFeedHub(slog.Default())
	opts := []coordinator.Option{
		coordinator.WithMetrics(observability.Coordinator()),
		coordinator.WithEventSink(hub.Publish),
	}
	if signer != nil {
		opts = append(opts, coordinator.WithSignerKey(signer))
	}
	if path := strings.TrimSpace(cfg.Payments.LevelDBPath); path != "" {
		payments, err := coordinator.NewLevelDBPaymentSet(path)
		if err != nil {
			return fmt.Errorf("open payment set: %w", err)
		}
		defer payments.Close()
		opts = append(opts, coordinator.WithPaymentSet(payments))
	}
	var archive *ArchiveStore
	if path := strings.TrimSpace(cfg.Archive.Path); path != "" {
		archive, err = NewArchiveStore(path)
		if err != nil {
			return fmt.Errorf("open round archive: %w", err)
		}
		defer archive.Close()
		opts = append(opts, coordinator.WithArchiver(archive))
	}

	coord, err := coordinator.NewCoordinator(vault, coordinator.Config{
		DigitCount:         cfg.Game.DigitCount,
		MinDigitCount:      cfg.Game.MinDigitCount,
		MaxDigitCount:      cfg.Game.MaxDigitCount,
		InitialBuyIn:       buyIn,
		NearMatchThreshold: cfg.Game.NearMatchThreshold,
		PriceIncreaseBps:   cfg.Game.PriceIncreaseBps,
		MaxPriceSteps:      cfg.Game.MaxPriceSteps,
	}, opts...)
	if err != nil {
		return fmt.Errorf("init coordinator: %w", err)
	}

	// Reconcile with the vault once at startup; a failure leaves the
	// coordinator in Bootstrapping and the next guess submission retries.
	bootCtx, cancel := context.WithTimeout(context.Background(), cfg.Chain.CallTimeout.Duration)
	if err := coord.Bootstrap(bootCtx); err != nil {
		slog.Warn("startup bootstrap failed, will retry on first guess", "err", err)
	}
	cancel()

	var archiveReader RoundArchive
	if archive != nil {
		archiveReader = archive
	}
	server := NewServer(ServerConfig{
		Service: coord,
		Archive: archiveReader,
		Hub:     hub,
		Limiter: newPlayerLimiter(cfg.RateLimit),
		Auth:    NewAdminAuth(cfg.Admin),
	})

	httpServer := &http.Server{
		Addr:         cfg.ListenAddress,
		Handler:      otelhttp.NewHandler(server.Handler(), "coordinatord"),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	stopCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errs := make(chan error, 1)
	go func() {
		slog.Info("coordinatord listening", "addr", cfg.ListenAddress)
		errs <- httpServer.ListenAndServe()
	}()

	select {
	case <-stopCtx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			_ = httpServer.Close()
			return err
		}
		return nil
	case err := <-errs:
		if err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	}
}
