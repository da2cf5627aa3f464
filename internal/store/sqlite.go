package store

import (
	"database/sql"
	"fmt"
	"log"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	_ "modernc.org/sqlite"

	"TradeWarden/internal/model"
)

// SQLiteStore persists all engine state to a SQLite database.
type SQLiteStore struct {
	db *sql.DB
	mu sync.Mutex
}

// NewSQLiteStore opens (or creates) the database and runs migrations.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	// WAL mode for better concurrent read performance (dashboards read while
	// the bot writes).
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}

	s := &SQLiteStore{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	log.Printf("[INFO] sqlite store opened: %s", dbPath)
	return s, nil
}

func (s *SQLiteStore) migrate() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS subscriptions (
			key        TEXT PRIMARY KEY,
			id         TEXT NOT NULL,
			token      TEXT NOT NULL,
			indicator  TEXT NOT NULL,
			fast       INTEGER,
			slow       INTEGER,
			period     INTEGER,
			timeframe  TEXT NOT NULL,
			network    TEXT,
			created_at INTEGER NOT NULL
		)`,

		`CREATE TABLE IF NOT EXISTS positions (
			key              TEXT PRIMARY KEY,
			token            TEXT NOT NULL,
			symbol           TEXT,
			strategy         TEXT,
			amount           TEXT NOT NULL,
			avg_entry_price  TEXT NOT NULL,
			realized_pnl     TEXT NOT NULL,
			opening_trade_id INTEGER,
			trade_ids        TEXT,
			last_updated     INTEGER NOT NULL
		)`,

		`CREATE TABLE IF NOT EXISTS trades (
			id         INTEGER PRIMARY KEY,
			ref_id     INTEGER,
			trader     TEXT,
			token      TEXT NOT NULL,
			symbol     TEXT,
			strategy   TEXT,
			action     TEXT NOT NULL,
			price      TEXT NOT NULL,
			amount     TEXT NOT NULL,
			pnl        TEXT,
			timestamp  INTEGER NOT NULL,
			source     TEXT NOT NULL,
			reconciled INTEGER NOT NULL DEFAULT 0
		)`,
		`CREATE INDEX IF NOT EXISTS idx_trades_token ON trades(token)`,

		`CREATE TABLE IF NOT EXISTS checkpoints (
			scope    TEXT PRIMARY KEY,
			trade_id INTEGER NOT NULL
		)`,

		`CREATE TABLE IF NOT EXISTS confirmations (
			issuer     TEXT PRIMARY KEY,
			id         TEXT NOT NULL,
			kind       TEXT NOT NULL,
			reference  TEXT,
			prompt     TEXT,
			state      TEXT NOT NULL,
			issued_at  INTEGER NOT NULL,
			expires_at INTEGER NOT NULL
		)`,

		`CREATE TABLE IF NOT EXISTS signals (
			dedupe_key      TEXT PRIMARY KEY,
			subscription_id TEXT NOT NULL,
			token           TEXT NOT NULL,
			timeframe       TEXT NOT NULL,
			trigger         TEXT NOT NULL,
			value           REAL,
			price           REAL,
			bar_time        INTEGER NOT NULL
		)`,

		`CREATE TABLE IF NOT EXISTS token_aliases (
			alias     TEXT PRIMARY KEY,
			canonical TEXT NOT NULL
		)`,
	}

	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("exec %q: %w", stmt[:40], err)
		}
	}
	return nil
}

func (s *SQLiteStore) UpsertSubscription(sub model.Subscription) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.Exec(`INSERT INTO subscriptions
		(key, id, token, indicator, fast, slow, period, timeframe, network, created_at)
		VALUES (?,?,?,?,?,?,?,?,?,?)
		ON CONFLICT(key) DO UPDATE SET id=excluded.id, created_at=excluded.created_at`,
		sub.Key(), sub.ID, sub.Token, string(sub.Indicator),
		sub.Fast, sub.Slow, sub.Period, sub.Timeframe, sub.Network, sub.CreatedAt.Unix(),
	)
	return err
}

func (s *SQLiteStore) DeleteSubscription(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.Exec(`DELETE FROM subscriptions WHERE key = ?`, key)
	return err
}

func (s *SQLiteStore) ListSubscriptions() ([]model.Subscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rows, err := s.db.Query(`SELECT id, token, indicator, fast, slow, period, timeframe, network, created_at
		FROM subscriptions ORDER BY key`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Subscription
	for rows.Next() {
		var sub model.Subscription
		var indicator string
		var createdAt int64
		if err := rows.Scan(&sub.ID, &sub.Token, &indicator, &sub.Fast, &sub.Slow,
			&sub.Period, &sub.Timeframe, &sub.Network, &createdAt); err != nil {
			return nil, err
		}
		sub.Indicator = model.IndicatorKind(indicator)
		sub.CreatedAt = time.Unix(createdAt, 0).UTC()
		out = append(out, sub)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) UpsertPosition(pos model.Position) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return upsertPositionTx(s.db, pos)
}

type execer interface {
	Exec(query string, args ...any) (sql.Result, error)
}

func upsertPositionTx(e execer, pos model.Position) error {
	_, err := e.Exec(`INSERT INTO positions
		(key, token, symbol, strategy, amount, avg_entry_price, realized_pnl, opening_trade_id, trade_ids, last_updated)
		VALUES (?,?,?,?,?,?,?,?,?,?)
		ON CONFLICT(key) DO UPDATE SET
			amount=excluded.amount, avg_entry_price=excluded.avg_entry_price,
			realized_pnl=excluded.realized_pnl, opening_trade_id=excluded.opening_trade_id,
			trade_ids=excluded.trade_ids, last_updated=excluded.last_updated`,
		pos.Key(), pos.Token, pos.Symbol, pos.Strategy,
		pos.Amount.String(), pos.AvgEntryPrice.String(), pos.RealizedPnL.String(),
		pos.OpeningTradeID, joinIDs(pos.TradeIDs), pos.LastUpdated.Unix(),
	)
	return err
}

func insertTradeTx(e execer, t model.Trade) error {
	var pnl any
	if t.PnL.Valid {
		pnl = t.PnL.Decimal.String()
	}
	reconciled := 0
	if t.Reconciled {
		reconciled = 1
	}
	_, err := e.Exec(`INSERT INTO trades
		(id, ref_id, trader, token, symbol, strategy, action, price, amount, pnl, timestamp, source, reconciled)
		VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?)
		ON CONFLICT(id) DO UPDATE SET reconciled=excluded.reconciled, source=excluded.source`,
		t.ID, t.RefID, t.Trader, t.Token, t.Symbol, t.Strategy, string(t.Action),
		t.Price.String(), t.Amount.String(), pnl, t.Timestamp.Unix(), string(t.Source), reconciled,
	)
	return err
}

func (s *SQLiteStore) DeletePosition(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.Exec(`DELETE FROM positions WHERE key = ?`, key)
	return err
}

func (s *SQLiteStore) ListPositions() ([]model.Position, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rows, err := s.db.Query(`SELECT token, symbol, strategy, amount, avg_entry_price,
		realized_pnl, opening_trade_id, trade_ids, last_updated FROM positions ORDER BY key`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Position
	for rows.Next() {
		var p model.Position
		var amount, avg, pnl, ids string
		var updated int64
		if err := rows.Scan(&p.Token, &p.Symbol, &p.Strategy, &amount, &avg, &pnl,
			&p.OpeningTradeID, &ids, &updated); err != nil {
			return nil, err
		}
		if p.Amount, err = decimal.NewFromString(amount); err != nil {
			return nil, fmt.Errorf("position %s amount: %w", p.Token, err)
		}
		if p.AvgEntryPrice, err = decimal.NewFromString(avg); err != nil {
			return nil, fmt.Errorf("position %s avg: %w", p.Token, err)
		}
		if p.RealizedPnL, err = decimal.NewFromString(pnl); err != nil {
			return nil, fmt.Errorf("position %s pnl: %w", p.Token, err)
		}
		p.TradeIDs = splitIDs(ids)
		p.LastUpdated = time.Unix(updated, 0).UTC()
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) GetTrade(id int64) (model.Trade, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	row := s.db.QueryRow(`SELECT id, ref_id, trader, token, symbol, strategy, action,
		price, amount, pnl, timestamp, source, reconciled FROM trades WHERE id = ?`, id)
	t, err := scanTrade(row.Scan)
	if err == sql.ErrNoRows {
		return model.Trade{}, false, nil
	}
	if err != nil {
		return model.Trade{}, false, err
	}
	return t, true, nil
}

func (s *SQLiteStore) SaveTradeResult(trade model.Trade, pos model.Position, closed bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	if err := insertTradeTx(tx, trade); err != nil {
		tx.Rollback()
		return err
	}
	if closed {
		if _, err := tx.Exec(`DELETE FROM positions WHERE key = ?`, pos.Key()); err != nil {
			tx.Rollback()
			return err
		}
	} else if err := upsertPositionTx(tx, pos); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit()
}

func (s *SQLiteStore) ListTradesAsc() ([]model.Trade, error) {
	return s.queryTrades(`SELECT id, ref_id, trader, token, symbol, strategy, action,
		price, amount, pnl, timestamp, source, reconciled FROM trades ORDER BY id ASC`)
}

func (s *SQLiteStore) ListTrades(f TradeFilter) ([]model.Trade, error) {
	q := `SELECT id, ref_id, trader, token, symbol, strategy, action,
		price, amount, pnl, timestamp, source, reconciled FROM trades WHERE 1=1`
	var args []any
	if f.Token != "" {
		q += ` AND token = ?`
		args = append(args, f.Token)
	}
	if f.Symbol != "" {
		q += ` AND symbol = ? COLLATE NOCASE`
		args = append(args, f.Symbol)
	}
	if f.Action != "" {
		q += ` AND action = ?`
		args = append(args, string(f.Action))
	}
	if !f.Since.IsZero() {
		q += ` AND timestamp >= ?`
		args = append(args, f.Since.Unix())
	}
	q += ` ORDER BY id ASC`
	trades, err := s.queryTrades(q, args...)
	if err != nil {
		return nil, err
	}
	if f.Limit > 0 && len(trades) > f.Limit {
		trades = trades[len(trades)-f.Limit:]
	}
	return trades, nil
}

func (s *SQLiteStore) queryTrades(q string, args ...any) ([]model.Trade, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rows, err := s.db.Query(q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Trade
	for rows.Next() {
		t, err := scanTrade(rows.Scan)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func scanTrade(scan func(...any) error) (model.Trade, error) {
	var t model.Trade
	var action, price, amount, source string
	var pnl sql.NullString
	var ts int64
	var reconciled int
	if err := scan(&t.ID, &t.RefID, &t.Trader, &t.Token, &t.Symbol, &t.Strategy,
		&action, &price, &amount, &pnl, &ts, &source, &reconciled); err != nil {
		return model.Trade{}, err
	}
	t.Action = model.TradeAction(action)
	t.Source = model.TradeSource(source)
	t.Timestamp = time.Unix(ts, 0).UTC()
	t.Reconciled = reconciled != 0
	var err error
	if t.Price, err = decimal.NewFromString(price); err != nil {
		return model.Trade{}, fmt.Errorf("trade %d price: %w", t.ID, err)
	}
	if t.Amount, err = decimal.NewFromString(amount); err != nil {
		return model.Trade{}, fmt.Errorf("trade %d amount: %w", t.ID, err)
	}
	if pnl.Valid {
		d, err := decimal.NewFromString(pnl.String)
		if err != nil {
			return model.Trade{}, fmt.Errorf("trade %d pnl: %w", t.ID, err)
		}
		t.PnL = decimal.NullDecimal{Decimal: d, Valid: true}
	}
	return t, nil
}

func (s *SQLiteStore) ReplaceLedger(positions []model.Position, trades []model.Trade) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	for _, stmt := range []string{`DELETE FROM positions`, `DELETE FROM trades`} {
		if _, err := tx.Exec(stmt); err != nil {
			tx.Rollback()
			return err
		}
	}
	for _, p := range positions {
		if err := upsertPositionTx(tx, p); err != nil {
			tx.Rollback()
			return err
		}
	}
	for _, t := range trades {
		if err := insertTradeTx(tx, t); err != nil {
			tx.Rollback()
			return err
		}
	}
	return tx.Commit()
}

func (s *SQLiteStore) Checkpoint(scope string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var id int64
	err := s.db.QueryRow(`SELECT trade_id FROM checkpoints WHERE scope = ?`, scope).Scan(&id)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	return id, err
}

func (s *SQLiteStore) SetCheckpoint(scope string, tradeID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.Exec(`INSERT INTO checkpoints (scope, trade_id) VALUES (?,?)
		ON CONFLICT(scope) DO UPDATE SET trade_id=excluded.trade_id`, scope, tradeID)
	return err
}

func (s *SQLiteStore) UpsertConfirmation(pc model.PendingConfirmation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.Exec(`INSERT INTO confirmations
		(issuer, id, kind, reference, prompt, state, issued_at, expires_at)
		VALUES (?,?,?,?,?,?,?,?)
		ON CONFLICT(issuer) DO UPDATE SET
			id=excluded.id, kind=excluded.kind, reference=excluded.reference,
			prompt=excluded.prompt, state=excluded.state,
			issued_at=excluded.issued_at, expires_at=excluded.expires_at`,
		pc.Issuer, pc.ID, string(pc.Kind), pc.Reference, pc.Prompt, string(pc.State),
		pc.IssuedAt.Unix(), pc.ExpiresAt.Unix(),
	)
	return err
}

func (s *SQLiteStore) DeleteConfirmation(issuer string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.Exec(`DELETE FROM confirmations WHERE issuer = ?`, issuer)
	return err
}

func (s *SQLiteStore) UpsertSignal(ev model.SignalEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.Exec(`INSERT INTO signals
		(dedupe_key, subscription_id, token, timeframe, trigger, value, price, bar_time)
		VALUES (?,?,?,?,?,?,?,?)
		ON CONFLICT(dedupe_key) DO NOTHING`,
		ev.DedupeKey(), ev.SubscriptionID, ev.Token, ev.Timeframe,
		string(ev.Trigger), ev.Value, ev.Price, ev.BarTime.Unix(),
	)
	return err
}

func (s *SQLiteStore) SaveAlias(alias, canonical string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.Exec(`INSERT INTO token_aliases (alias, canonical) VALUES (?,?)
		ON CONFLICT(alias) DO UPDATE SET canonical=excluded.canonical`,
		strings.ToUpper(alias), canonical)
	return err
}

func (s *SQLiteStore) ResolveAlias(alias string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var canonical string
	err := s.db.QueryRow(`SELECT canonical FROM token_aliases WHERE alias = ?`,
		strings.ToUpper(alias)).Scan(&canonical)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return canonical, true, nil
}

func (s *SQLiteStore) Close() error {
	log.Println("[INFO] closing sqlite store")
	return s.db.Close()
}

func joinIDs(ids []int64) string {
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = strconv.FormatInt(id, 10)
	}
	return strings.Join(parts, ",")
}

func splitIDs(s string) []int64 {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	ids := make([]int64, 0, len(parts))
	for _, p := range parts {
		if id, err := strconv.ParseInt(p, 10, 64); err == nil {
			ids = append(ids, id)
		}
	}
	return ids
}
