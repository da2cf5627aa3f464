package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/robfig/cron/v3"

	"TradeWarden/internal/command"
	"TradeWarden/internal/market"
	"TradeWarden/internal/notifier"
	"TradeWarden/internal/reconciler"
	"TradeWarden/internal/registry"
	"TradeWarden/internal/signal"
)

// Scheduler manages all cron tasks: indicator scans, chain-event ingest,
// reference-price refresh and confirmation sweeps.
type Scheduler struct {
	Cron        *cron.Cron
	Registry    *registry.Registry
	Evaluator   *signal.Evaluator
	Reconciler  *reconciler.Reconciler
	Fetcher     market.Fetcher
	Prices      *market.PriceCache
	Machine     *command.Machine
	Notifier    *notifier.TelegramNotifier
	Ctx         context.Context
	BarsPerScan int
}

// RegisterAll registers the recurring tasks with their cron expressions.
func (s *Scheduler) RegisterAll(signalCron, ingestCron, priceCron, sweepCron string) error {
	if _, err := s.Cron.AddFunc(signalCron, s.scanSignals); err != nil {
		return fmt.Errorf("register signal scan: %w", err)
	}
	if _, err := s.Cron.AddFunc(ingestCron, s.ingestChain); err != nil {
		return fmt.Errorf("register chain ingest: %w", err)
	}
	if _, err := s.Cron.AddFunc(priceCron, s.refreshPrices); err != nil {
		return fmt.Errorf("register price refresh: %w", err)
	}
	if _, err := s.Cron.AddFunc(sweepCron, func() { s.Machine.Sweep() }); err != nil {
		return fmt.Errorf("register confirmation sweep: %w", err)
	}
	return nil
}

// Start starts the cron scheduler.
func (s *Scheduler) Start() {
	s.Cron.Start()
	log.Println("[INFO] scheduler started")
}

// Stop stops the cron scheduler gracefully.
func (s *Scheduler) Stop() {
	s.Cron.Stop()
	log.Println("[INFO] scheduler stopped")
}

// scanSignals fetches fresh bars for every subscription and runs them
// through the evaluator, alerting on anything that fires.
func (s *Scheduler) scanSignals() {
	subs, err := s.Registry.List()
	if err != nil {
		log.Printf("[ERROR] signal scan: %v", err)
		return
	}

	for _, sub := range subs {
		bars, err := s.Fetcher.FetchBars(sub.Token, sub.Timeframe, s.BarsPerScan)
		if err != nil {
			log.Printf("[WARN] fetch bars %s: %v", sub.Key(), err)
			continue
		}
		for _, bar := range bars {
			ev, err := s.Evaluator.OnPriceBar(sub, bar)
			if err != nil {
				log.Printf("[ERROR] evaluate %s: %v", sub.Key(), err)
				break
			}
			if ev != nil {
				s.trySend(notifier.FormatSignal(sub, *ev))
			}
		}
	}
}

// ingestChain tails the strategy contract's event log into the ledger.
func (s *Scheduler) ingestChain() {
	res, err := s.Reconciler.Ingest(s.Ctx)
	if err != nil {
		log.Printf("[ERROR] chain ingest: %v", err)
		if errors.Is(err, reconciler.ErrOrphanCloseEvent) {
			s.trySend("⚠️ Chain ingest halted on an orphan close event, run /rebuild to repair")
		}
		return
	}
	if res.Applied > 0 {
		s.trySend(fmt.Sprintf("⛓ Reconciled %d chain trades (watermark %d)", res.Applied, res.Watermark))
	}
}

// refreshPrices warms the reference-price cache for every subscribed token.
func (s *Scheduler) refreshPrices() {
	subs, err := s.Registry.List()
	if err != nil {
		log.Printf("[ERROR] price refresh: %v", err)
		return
	}
	seen := make(map[string]bool)
	var tokens []string
	for _, sub := range subs {
		if !seen[sub.Token] {
			seen[sub.Token] = true
			tokens = append(tokens, sub.Token)
		}
	}
	s.Prices.RefreshAll(tokens)
}

func (s *Scheduler) trySend(text string) {
	if err := s.Notifier.SendWithRetry(s.Ctx, text, 3); err != nil {
		log.Printf("[ERROR] send notification: %v", err)
	}
}
