package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"VoteCredit/internal/app"
	"VoteCredit/internal/chain"
	"VoteCredit/internal/config"
	"VoteCredit/internal/logger"
	"VoteCredit/internal/worker"

	"go.uber.org/zap"
)

func main() {
	cfg, err := config.Load("")
	if err != nil {
		logger.Init("")
		logger.Fatal("config load failed", zap.Error(err))
	}
	logger.Init(cfg.Env)
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := app.Build(ctx, cfg)
	if err != nil {
		logger.Fatal("assemble services failed", zap.Error(err))
	}
	defer a.Close()

	w := &worker.Worker{
		Intents:   a.Intents,
		Cursors:   a.Store,
		Rails:     a.Rails(),
		Interval:  time.Duration(cfg.Worker.IntervalSeconds) * time.Second,
		BatchSize: cfg.Worker.BatchSize,
	}
	if a.Solana != nil {
		wsEndpoint := cfg.Solana.WSEndpoint
		if wsEndpoint == "" {
			wsEndpoint = chain.DefaultWSEndpoint(cfg.Solana.RPCEndpoints[0])
		}
		w.Solana = a.Solana
		w.WSEndpoint = wsEndpoint
		w.SolanaReceiver = cfg.Solana.ReceiverWallet
	}

	logger.Info("worker started",
		zap.Any("rails", w.Rails),
		zap.String("ws_endpoint", w.WSEndpoint),
		zap.Duration("interval", w.Interval),
	)
	w.Run(ctx)
	logger.Info("worker stopped")
}
