package main

import (
	"context"
	"log"
	"os"
	gosignal "os/signal"
	"syscall"

	"github.com/robfig/cron/v3"

	"TradeWarden/internal/bot"
	"TradeWarden/internal/chain"
	"TradeWarden/internal/command"
	"TradeWarden/internal/config"
	"TradeWarden/internal/executor"
	"TradeWarden/internal/ledger"
	"TradeWarden/internal/market"
	"TradeWarden/internal/notifier"
	"TradeWarden/internal/query"
	"TradeWarden/internal/reconciler"
	"TradeWarden/internal/registry"
	"TradeWarden/internal/scheduler"
	"TradeWarden/internal/signal"
	"TradeWarden/internal/store"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)
	log.Println("[INFO] TradeWarden starting...")

	// Load config
	cfgPath := "configs/config.yaml"
	if v := os.Getenv("CONFIG_PATH"); v != "" {
		cfgPath = v
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatalf("[FATAL] load config: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("[FATAL] config validation: %v", err)
	}

	contract, err := chain.CanonicalAddress(cfg.Chain.Contract)
	if err != nil {
		log.Fatalf("[FATAL] chain.contract: %v", err)
	}
	trader := ""
	if cfg.Chain.Trader != "" {
		if trader, err = chain.CanonicalAddress(cfg.Chain.Trader); err != nil {
			log.Fatalf("[FATAL] chain.trader: %v", err)
		}
	}

	// Init store
	var st store.Store
	if cfg.Database.SQLitePath != "" {
		ss, err := store.NewSQLiteStore(cfg.Database.SQLitePath)
		if err != nil {
			log.Fatalf("[FATAL] init sqlite store: %v", err)
		}
		st = ss
	} else {
		log.Println("[WARN] no sqlite path configured, state will not survive restarts")
		st = store.NewMemoryStore()
	}
	defer st.Close()

	// Init market data
	fetcher := market.NewHTTPFetcher(cfg.Candles.BaseURL, cfg.Candles.APIKey)
	log.Printf("[INFO] market data source: %s", fetcher.Name())
	prices := market.NewPriceCache(fetcher, 0)

	// Init core components
	ld := ledger.New(st)
	if err := ld.Load(); err != nil {
		log.Fatalf("[FATAL] load ledger: %v", err)
	}
	reg := registry.New(st)
	eval := signal.NewEvaluator(st)
	machine := command.NewMachine(st, cfg.ConfirmTTL())
	qry := query.New(st)
	exec := executor.NewPaperExecutor(prices)

	// Init chain reconciler
	source := chain.NewClient(cfg.Chain.BaseURL, cfg.Chain.APIKey, nil)
	symbolFn := func(token string) string {
		// Reverse alias lookup is not worth a table scan; positions carry
		// symbols from local trades, chain-only tokens show as addresses.
		return ""
	}
	rec := reconciler.New(st, ld, source, cfg.Chain.Network, contract, trader, symbolFn)

	// Context for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Init Telegram
	tn := notifier.NewTelegramNotifier(cfg.Telegram.BotToken, cfg.Telegram.ChatID, cfg.Proxy)
	handler := &bot.Handler{
		Registry: reg,
		Ledger:   ld,
		Machine:  machine,
		Executor: exec,
		Prices:   prices,
		Query:    qry,
		Store:    st,
		Decimals: chain.DefaultDecimals,
		Network:  cfg.Chain.Network,
		Rebuild: func(ctx context.Context) error {
			_, err := rec.Rebuild(ctx)
			return err
		},
	}

	// Init scheduler
	sched := &scheduler.Scheduler{
		Cron:        cron.New(cron.WithSeconds()),
		Registry:    reg,
		Evaluator:   eval,
		Reconciler:  rec,
		Fetcher:     fetcher,
		Prices:      prices,
		Machine:     machine,
		Notifier:    tn,
		Ctx:         ctx,
		BarsPerScan: cfg.Schedule.BarsPerScan,
	}
	if err := sched.RegisterAll(cfg.Schedule.SignalCron, cfg.Schedule.IngestCron,
		cfg.Schedule.PriceCron, cfg.Schedule.SweepCron); err != nil {
		log.Fatalf("[FATAL] register cron tasks: %v", err)
	}
	sched.Start()
	defer sched.Stop()

	// Start Telegram polling
	go tn.StartPolling(ctx, handler.HandleCommand)
	log.Println("[INFO] Telegram polling started")

	log.Println("[INFO] TradeWarden is running. Press Ctrl+C to stop.")

	// Wait for shutdown signal
	sigCh := make(chan os.Signal, 1)
	gosignal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	log.Println("[INFO] shutdown signal received, stopping...")
	cancel()
	log.Println("[INFO] TradeWarden stopped")
}
