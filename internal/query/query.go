package query

import (
	"github.com/shopspring/decimal"

	"TradeWarden/internal/model"
	"TradeWarden/internal/store"
)

// PnLReport aggregates realized results over a trade selection.
type PnLReport struct {
	Realized   decimal.Decimal
	OpenCount  int
	CloseCount int
}

// Service answers read-only questions over the trade log and positions.
type Service struct {
	store store.Store
}

func New(st store.Store) *Service {
	return &Service{store: st}
}

// Trades returns trade log entries matching the filter, oldest first.
func (s *Service) Trades(f store.TradeFilter) ([]model.Trade, error) {
	trades, err := s.store.ListTrades(f)
	if err != nil {
		return nil, model.External("list trades", err)
	}
	return trades, nil
}

// PnL sums realized PnL over trades matching the filter.
func (s *Service) PnL(f store.TradeFilter) (PnLReport, error) {
	trades, err := s.store.ListTrades(f)
	if err != nil {
		return PnLReport{}, model.External("list trades", err)
	}
	var rep PnLReport
	rep.Realized = decimal.Zero
	for _, t := range trades {
		switch t.Action {
		case model.ActionOpen:
			rep.OpenCount++
		case model.ActionClose:
			rep.CloseCount++
			if t.PnL.Valid {
				rep.Realized = rep.Realized.Add(t.PnL.Decimal)
			}
		}
	}
	return rep, nil
}

// Positions returns all open positions from the store, ordered by key.
func (s *Service) Positions() ([]model.Position, error) {
	positions, err := s.store.ListPositions()
	if err != nil {
		return nil, model.External("list positions", err)
	}
	return positions, nil
}
