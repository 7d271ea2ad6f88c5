package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/jessevdk/go-flags"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/tensorwatch/subreg/blockfeed"
	"github.com/tensorwatch/subreg/chain"
	"github.com/tensorwatch/subreg/config"
	"github.com/tensorwatch/subreg/fee"
	"github.com/tensorwatch/subreg/logging"
	"github.com/tensorwatch/subreg/notify"
	"github.com/tensorwatch/subreg/registrar"
	"github.com/tensorwatch/subreg/wallet"
)

func main() {
	if err := run(); err != nil {
		var flagsErr *flags.Error
		if errors.As(err, &flagsErr) && flagsErr.Type == flags.ErrHelp {
			os.Exit(0)
		}
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	logLevel := zap.InfoLevel
	if cfg.DebugLog {
		logLevel = zap.DebugLevel
	}
	logger := logging.New(logLevel, cfg.LogFile(), cfg.JSONLog)
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx = logging.NewContext(ctx, logger)

	if cfg.MetricsPort != nil {
		addr := fmt.Sprintf(":%d", *cfg.MetricsPort)
		logger.Info("spawning metrics server", zap.String("addr", addr))
		go func() {
			mux := http.NewServeMux()
			mux.Handle("/metrics", promhttp.Handler())
			if err := http.ListenAndServe(addr, mux); err != nil {
				logger.Error("metrics server failed", zap.Error(err))
			}
		}()
	}

	walletDir := cfg.WalletDir
	if walletDir == "" {
		walletDir = wallet.DefaultDir()
	}
	available, err := wallet.Discover(walletDir)
	if err != nil {
		return fmt.Errorf("discovering wallets: %w", err)
	}
	logger.Info("discovered wallets", zap.Int("count", len(available)), zap.String("dir", walletDir))
	credentials, err := wallet.Select(available, cfg.Wallets)
	if err != nil {
		return err
	}
	if len(credentials) == 0 {
		return fmt.Errorf("no wallets to register under %s", walletDir)
	}

	fees := fee.New(cfg.Fee, logger)
	feed := blockfeed.New(cfg.Feed, blockfeed.DefaultSources(cfg.Feed.Sources), blockfeed.WithTimingRecorder(fees))
	client := chain.NewClient(cfg.Chain)
	telegram := notify.NewTelegram(cfg.Telegram, logger)

	opts := []registrar.Option{}
	if telegram.Enabled() {
		opts = append(opts, registrar.WithNotifier(telegram))
	}
	if dir := cfg.JournalDir(); dir != "" {
		opts = append(opts, registrar.WithJournal(dir))
	}
	reg, err := registrar.New(cfg.Registrar, client, feed, fees, opts...)
	if err != nil {
		return err
	}
	defer reg.Close()

	logger.Info("starting registration",
		zap.Uint32("netuid", cfg.Registrar.NetUID),
		zap.Int("wallets", len(credentials)),
		zap.Int("lanes", cfg.Registrar.Lanes),
		zap.Bool("priority_fee", cfg.Registrar.UsePriorityFee))

	summary, err := reg.MultiRegister(ctx, credentials)
	if err != nil {
		return err
	}
	logger.Info("run summary",
		zap.String("run_id", summary.RunID),
		zap.Int("total", summary.Total),
		zap.Int("confirmed", summary.Confirmed),
		zap.Int("remaining", summary.Remaining),
		zap.Duration("elapsed", summary.Elapsed))
	return nil
}

// loadConfig builds the effective configuration: defaults, then command line
// flags (to learn the config file location), then the config file, then the
// command line again so that explicit flags win.
func loadConfig() (*config.Config, error) {
	cfg, err := config.ParseFlags(config.DefaultConfig())
	if err != nil {
		return nil, err
	}
	cfg, err = config.ReadConfigFile(cfg)
	if err != nil {
		return nil, err
	}
	cfg, err = config.ParseFlags(cfg)
	if err != nil {
		return nil, err
	}
	return config.SetupConfig(cfg)
}
