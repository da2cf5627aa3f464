package store

import (
	"sort"
	"strings"
	"sync"

	"TradeWarden/internal/model"
)

// MemoryStore keeps everything in maps. Used in tests and when no SQLite
// path is configured.
type MemoryStore struct {
	mu            sync.Mutex
	subscriptions map[string]model.Subscription
	positions     map[string]model.Position
	trades        map[int64]model.Trade
	checkpoints   map[string]int64
	confirmations map[string]model.PendingConfirmation
	signals       map[string]model.SignalEvent
	aliases       map[string]string
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		subscriptions: make(map[string]model.Subscription),
		positions:     make(map[string]model.Position),
		trades:        make(map[int64]model.Trade),
		checkpoints:   make(map[string]int64),
		confirmations: make(map[string]model.PendingConfirmation),
		signals:       make(map[string]model.SignalEvent),
		aliases:       make(map[string]string),
	}
}

func (s *MemoryStore) UpsertSubscription(sub model.Subscription) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subscriptions[sub.Key()] = sub
	return nil
}

func (s *MemoryStore) DeleteSubscription(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.subscriptions, key)
	return nil
}

func (s *MemoryStore) ListSubscriptions() ([]model.Subscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]model.Subscription, 0, len(s.subscriptions))
	for _, sub := range s.subscriptions {
		out = append(out, sub)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key() < out[j].Key() })
	return out, nil
}

func (s *MemoryStore) UpsertPosition(pos model.Position) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.positions[pos.Key()] = pos.Clone()
	return nil
}

func (s *MemoryStore) DeletePosition(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.positions, key)
	return nil
}

func (s *MemoryStore) ListPositions() ([]model.Position, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]model.Position, 0, len(s.positions))
	for _, p := range s.positions {
		out = append(out, p.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key() < out[j].Key() })
	return out, nil
}

func (s *MemoryStore) GetTrade(id int64) (model.Trade, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.trades[id]
	return t, ok, nil
}

func (s *MemoryStore) SaveTradeResult(trade model.Trade, pos model.Position, closed bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.trades[trade.ID] = trade
	if closed {
		delete(s.positions, pos.Key())
	} else {
		s.positions[pos.Key()] = pos.Clone()
	}
	return nil
}

func (s *MemoryStore) ListTradesAsc() ([]model.Trade, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]model.Trade, 0, len(s.trades))
	for _, t := range s.trades {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *MemoryStore) ListTrades(f TradeFilter) ([]model.Trade, error) {
	all, _ := s.ListTradesAsc()
	out := make([]model.Trade, 0, len(all))
	for _, t := range all {
		if f.Token != "" && t.Token != f.Token {
			continue
		}
		if f.Symbol != "" && !strings.EqualFold(t.Symbol, f.Symbol) {
			continue
		}
		if f.Action != "" && t.Action != f.Action {
			continue
		}
		if !f.Since.IsZero() && t.Timestamp.Before(f.Since) {
			continue
		}
		out = append(out, t)
	}
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[len(out)-f.Limit:]
	}
	return out, nil
}

func (s *MemoryStore) ReplaceLedger(positions []model.Position, trades []model.Trade) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.positions = make(map[string]model.Position, len(positions))
	for _, p := range positions {
		s.positions[p.Key()] = p.Clone()
	}
	s.trades = make(map[int64]model.Trade, len(trades))
	for _, t := range trades {
		s.trades[t.ID] = t
	}
	return nil
}

func (s *MemoryStore) Checkpoint(scope string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.checkpoints[scope], nil
}

func (s *MemoryStore) SetCheckpoint(scope string, tradeID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.checkpoints[scope] = tradeID
	return nil
}

func (s *MemoryStore) UpsertConfirmation(pc model.PendingConfirmation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.confirmations[pc.Issuer] = pc
	return nil
}

func (s *MemoryStore) DeleteConfirmation(issuer string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.confirmations, issuer)
	return nil
}

func (s *MemoryStore) UpsertSignal(ev model.SignalEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.signals[ev.DedupeKey()] = ev
	return nil
}

func (s *MemoryStore) SaveAlias(alias, canonical string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.aliases[strings.ToUpper(alias)] = canonical
	return nil
}

func (s *MemoryStore) ResolveAlias(alias string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	canonical, ok := s.aliases[strings.ToUpper(alias)]
	return canonical, ok, nil
}

func (s *MemoryStore) Close() error { return nil }
