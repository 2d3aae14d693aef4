package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"go.uber.org/zap"

	"github.com/ArseniiIvanov/tochka/params"
	"github.com/ArseniiIvanov/tochka/pkg/api"
	"github.com/ArseniiIvanov/tochka/pkg/exchange"
	"github.com/ArseniiIvanov/tochka/pkg/exchange/core/ledger"
	"github.com/ArseniiIvanov/tochka/pkg/exchange/core/tradelog"
	"github.com/ArseniiIvanov/tochka/pkg/util"
)

func main() {
	// Load config from .env file and environment variables
	cfg := params.LoadFromEnv("")

	var logger *zap.Logger
	var err error
	if cfg.Storage.LogPath != "" {
		logger, err = util.NewLoggerWithFile(cfg.Storage.LogPath)
	} else {
		logger, err = util.NewLogger()
	}
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer logger.Sync()

	if err := os.MkdirAll(cfg.Storage.DataDir, 0o755); err != nil {
		logger.Fatal("data_dir", zap.Error(err))
	}

	// ---- Storage ----
	balanceStore, err := ledger.NewStore(filepath.Join(cfg.Storage.DataDir, "balances"))
	if err != nil {
		logger.Fatal("balance_store_open", zap.Error(err))
	}

	led, err := ledger.New(balanceStore)
	if err != nil {
		logger.Fatal("ledger_load", zap.Error(err))
	}
	defer led.Close()

	trades, err := tradelog.Open(filepath.Join(cfg.Storage.DataDir, "trades"))
	if err != nil {
		logger.Fatal("trade_log_open", zap.Error(err))
	}
	defer trades.Close()

	// ---- Engine and API ----
	// The engine's trade hook feeds the WebSocket hub; the server is
	// created first with the engine wired in afterwards via the hook
	// closure.
	var server *api.Server

	eng := exchange.New(exchange.Options{
		QuoteAsset: cfg.Exchange.QuoteAsset,
		LockWait:   cfg.Exchange.LockWait,
		Logger:     logger,
		Ledger:     led,
		TradeLog:   trades,
		OnTrade: func(t *tradelog.Trade) {
			if server != nil {
				server.BroadcastTrade(t)
			}
		},
	})

	server = api.NewServer(api.Options{
		Engine:     eng,
		Logger:     logger,
		MaxDepth:   cfg.Server.MaxDepth,
		TradeLimit: cfg.Server.TradeLimit,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errc := make(chan error, 1)
	go func() {
		errc <- server.Start(cfg.Server.ListenAddr)
	}()

	logger.Info("exchange_started",
		zap.String("listen", cfg.Server.ListenAddr),
		zap.String("quote_asset", cfg.Exchange.QuoteAsset),
		zap.String("data_dir", cfg.Storage.DataDir),
	)

	select {
	case <-ctx.Done():
		logger.Info("shutting_down")
	case err := <-errc:
		logger.Error("api_server_failed", zap.Error(err))
	}
}
