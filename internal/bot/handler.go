package bot

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strconv"
	"strings"
	"sync"

	"github.com/shopspring/decimal"

	"TradeWarden/internal/chain"
	"TradeWarden/internal/command"
	"TradeWarden/internal/executor"
	"TradeWarden/internal/ledger"
	"TradeWarden/internal/market"
	"TradeWarden/internal/model"
	"TradeWarden/internal/notifier"
	"TradeWarden/internal/query"
	"TradeWarden/internal/registry"
	"TradeWarden/internal/store"
)

// localStrategy scopes trades placed through the bot, as opposed to trades
// reconciled from the strategy contract.
const localStrategy = "paper"

// Handler routes user commands to the engine components. One instance serves
// all issuers; confirmation state is scoped per issuer inside the machine.
type Handler struct {
	Registry *registry.Registry
	Ledger   *ledger.Ledger
	Machine  *command.Machine
	Executor executor.Executor
	Prices   *market.PriceCache
	Query    *query.Service
	Store    store.Store
	Decimals chain.DecimalsFn
	Rebuild  func(ctx context.Context) error // wired to the reconciler
	Network  string

	mu          sync.Mutex
	stagedSells map[string]model.Instruction // issuer -> confirmed-sell payload
}

func (h *Handler) decimals(token string) int32 {
	if h.Decimals == nil {
		return 6
	}
	return h.Decimals(token)
}

// HandleCommand processes one message and returns the reply text. Any
// command other than /confirm or /cancel silently invalidates whatever the
// issuer had pending: a stale confirmation must never land on a context the
// issuer has moved past.
func (h *Handler) HandleCommand(issuer, text string) string {
	verb, args := splitCommand(text)
	if verb == "" {
		return ""
	}

	if verb != "confirm" && verb != "cancel" {
		if h.Machine.Invalidate(issuer) {
			h.dropStagedSell(issuer)
			log.Printf("[INFO] pending confirmation for %s invalidated by /%s", issuer, verb)
		}
	}

	switch verb {
	case "start", "help":
		return helpText
	case "buy":
		return h.handleBuy(args)
	case "sell":
		return h.handleSell(issuer, args)
	case "confirm":
		return h.handleConfirm(issuer, args)
	case "cancel":
		if h.Machine.Invalidate(issuer) {
			h.dropStagedSell(issuer)
			return "❎ Pending command cancelled"
		}
		return "Nothing to cancel"
	case "rebuild":
		return h.handleRebuildRequest(issuer)
	case "positions":
		return h.handlePositions()
	case "pnl":
		return h.handlePnL(args)
	case "trades":
		return h.handleTrades(args)
	case "subscribe":
		return h.handleSubscribe(args)
	case "unsubscribe":
		return h.handleUnsubscribe(args)
	case "subs":
		return h.handleSubs()
	default:
		return fmt.Sprintf("Unknown command /%s — try /help", verb)
	}
}

const helpText = `<b>Commands</b>
/buy SYM 100 [@ price|market] — buy units or $amount
/sell SYM 50%|$100|10 [@ price] — sell (asks to confirm)
/positions — open position book
/pnl [SYM] — realized PnL
/trades [SYM] [N] — recent trades
/subscribe SYM sma 9 21 1h — watch an SMA cross
/subscribe SYM rsi 14 4h — watch RSI 30/70
/unsubscribe SYM sma 9 21 1h — drop a watch
/subs — list watches
/rebuild — replay the chain log from scratch (asks to confirm)
/confirm &lt;ref&gt; | /cancel`

func (h *Handler) handleBuy(args []string) string {
	ta, err := ParseTradeArgs(args)
	if err != nil {
		return "Usage: /buy SYM 100|$100 [@ price|market]\n" + err.Error()
	}
	if ta.Mode == model.SizePercent {
		return "Percent sizing only works for sells"
	}

	token, symbol, err := h.resolveToken(ta.Symbol)
	if err != nil {
		return fmt.Sprintf("Cannot resolve token %q: %v", ta.Symbol, err)
	}

	refPrice := ta.Price
	if refPrice.IsZero() {
		if refPrice, err = h.Prices.Price(token); err != nil && ta.Mode == model.SizeDollars {
			return fmt.Sprintf("No reference price for %s yet, try a limit price", symbol)
		}
	}

	amount, err := ledger.ResolveBuyAmount(ta.Mode, ta.Value, refPrice, h.decimals(token))
	if err != nil {
		return fmt.Sprintf("Cannot size buy: %v", err)
	}

	fill, err := h.Executor.Execute(context.Background(), model.Instruction{
		Token: token, Symbol: symbol, Side: model.ActionOpen, Amount: amount, Price: ta.Price,
	})
	if err != nil {
		return fmt.Sprintf("Buy failed: %v", err)
	}

	t := model.Trade{
		ID:        ledger.NextLocalTradeID(),
		Token:     token,
		Symbol:    symbol,
		Strategy:  localStrategy,
		Action:    model.ActionOpen,
		Price:     fill.Price,
		Amount:    fill.Amount,
		Timestamp: fill.Timestamp,
		Source:    model.SourceLocal,
	}
	if err := h.Ledger.ApplyTrade(t); err != nil {
		return h.tradeError("Buy", err)
	}
	h.Prices.Set(token, fill.Price)
	return fmt.Sprintf("✅ Bought %s %s @ %s", fill.Amount, symbol, fill.Price)
}

func (h *Handler) handleSell(issuer string, args []string) string {
	ta, err := ParseTradeArgs(args)
	if err != nil {
		return "Usage: /sell SYM 50%|$100|10 [@ price]\n" + err.Error()
	}

	token, symbol, err := h.resolveToken(ta.Symbol)
	if err != nil {
		return fmt.Sprintf("Cannot resolve token %q: %v", ta.Symbol, err)
	}

	pos, ok := h.Ledger.Position(model.PositionKey(token, localStrategy))
	if !ok {
		return fmt.Sprintf("No open position in %s", symbol)
	}

	refPrice := ta.Price
	if refPrice.IsZero() {
		if refPrice, err = h.Prices.Price(token); err != nil {
			refPrice = pos.AvgEntryPrice
		}
	}

	amount, err := ledger.ResolveSellAmount(pos, ta.Mode, ta.Value, refPrice, h.decimals(token))
	if err != nil {
		return fmt.Sprintf("Cannot size sell: %v", err)
	}
	if amount.GreaterThan(pos.Amount) {
		return fmt.Sprintf("Position too small: have %s %s", pos.Amount, symbol)
	}

	prompt := fmt.Sprintf("Sell <b>%s %s</b> @ %s?", amount, symbol, priceLabel(ta.Price))
	pc, err := h.Machine.Issue(issuer, model.CommandSellConfirm, symbol, prompt)
	if err != nil {
		return fmt.Sprintf("Cannot stage sell: %v", err)
	}

	h.mu.Lock()
	if h.stagedSells == nil {
		h.stagedSells = make(map[string]model.Instruction)
	}
	h.stagedSells[issuer] = model.Instruction{
		Token: token, Symbol: symbol, Side: model.ActionClose, Amount: amount, Price: ta.Price,
	}
	h.mu.Unlock()

	return notifier.FormatConfirmPrompt(pc)
}

func (h *Handler) handleConfirm(issuer string, args []string) string {
	pc, err := h.Machine.Confirm(issuer, strings.Join(args, " "))
	switch {
	case errors.Is(err, command.ErrNoPendingConfirmation):
		return "Nothing to confirm"
	case errors.Is(err, command.ErrExpired):
		h.dropStagedSell(issuer)
		return "⏰ Confirmation expired, start over"
	case errors.Is(err, command.ErrMismatch):
		return "That does not match the pending command"
	case err != nil:
		return fmt.Sprintf("Confirm failed: %v", err)
	}

	switch pc.Kind {
	case model.CommandSellConfirm:
		return h.executeStagedSell(issuer)
	case model.CommandRebuild:
		if h.Rebuild == nil {
			return "Rebuild is not wired up"
		}
		if err := h.Rebuild(context.Background()); err != nil {
			if errors.Is(err, ledger.ErrBusy) {
				return "🔁 A rebuild is already running"
			}
			return fmt.Sprintf("Rebuild failed, ledger unchanged: %v", err)
		}
		return "🔁 Rebuild complete: ledger replayed from the chain log"
	default:
		return fmt.Sprintf("Unknown staged command %q", pc.Kind)
	}
}

func (h *Handler) executeStagedSell(issuer string) string {
	h.mu.Lock()
	in, ok := h.stagedSells[issuer]
	delete(h.stagedSells, issuer)
	h.mu.Unlock()
	if !ok {
		return "Nothing to confirm"
	}

	fill, err := h.Executor.Execute(context.Background(), in)
	if err != nil {
		return fmt.Sprintf("Sell failed: %v", err)
	}

	t := model.Trade{
		ID:        ledger.NextLocalTradeID(),
		Token:     in.Token,
		Symbol:    in.Symbol,
		Strategy:  localStrategy,
		Action:    model.ActionClose,
		Price:     fill.Price,
		Amount:    fill.Amount,
		Timestamp: fill.Timestamp,
		Source:    model.SourceLocal,
	}
	if err := h.Ledger.ApplyTrade(t); err != nil {
		return h.tradeError("Sell", err)
	}
	h.Prices.Set(in.Token, fill.Price)

	// The ledger stamps realized PnL onto the persisted close.
	pnl := decimal.Zero
	if tr, found, _ := h.Store.GetTrade(t.ID); found && tr.PnL.Valid {
		pnl = tr.PnL.Decimal
	}
	return fmt.Sprintf("✅ Sold %s %s @ %s (PnL %s)", fill.Amount, in.Symbol, fill.Price, pnl)
}

func (h *Handler) handleRebuildRequest(issuer string) string {
	pc, err := h.Machine.Issue(issuer, model.CommandRebuild, "rebuild",
		"Rebuild discards ALL local trades and replays the chain log from scratch.")
	if err != nil {
		return fmt.Sprintf("Cannot stage rebuild: %v", err)
	}
	return notifier.FormatConfirmPrompt(pc)
}

func (h *Handler) handlePositions() string {
	positions, err := h.Query.Positions()
	if err != nil {
		return fmt.Sprintf("Cannot list positions: %v", err)
	}
	return notifier.FormatPositions(positions)
}

func (h *Handler) handlePnL(args []string) string {
	var f store.TradeFilter
	if len(args) > 0 {
		f.Symbol = strings.ToUpper(args[0])
	}
	rep, err := h.Query.PnL(f)
	if err != nil {
		return fmt.Sprintf("Cannot compute PnL: %v", err)
	}
	return notifier.FormatPnL(rep)
}

func (h *Handler) handleTrades(args []string) string {
	f := store.TradeFilter{Limit: 10}
	for _, a := range args {
		if n, err := strconv.Atoi(a); err == nil && n > 0 {
			f.Limit = n
			continue
		}
		f.Symbol = strings.ToUpper(a)
	}
	trades, err := h.Query.Trades(f)
	if err != nil {
		return fmt.Sprintf("Cannot list trades: %v", err)
	}
	return notifier.FormatTrades(trades)
}

func (h *Handler) handleSubscribe(args []string) string {
	sa, err := ParseSubscribeArgs(args)
	if err != nil {
		return "Usage: /subscribe SYM sma 9 21 1h | /subscribe SYM rsi 14 4h\n" + err.Error()
	}
	token, _, err := h.resolveToken(sa.Token)
	if err != nil {
		return fmt.Sprintf("Cannot resolve token %q: %v", sa.Token, err)
	}
	sub, err := h.Registry.Add(model.Subscription{
		Token:     token,
		Indicator: sa.Indicator,
		Fast:      sa.Fast,
		Slow:      sa.Slow,
		Period:    sa.Period,
		Timeframe: sa.Timeframe,
		Network:   h.Network,
	})
	if err != nil {
		if errors.Is(err, registry.ErrDuplicateSubscription) {
			return "Already subscribed to that watch"
		}
		return fmt.Sprintf("Subscribe failed: %v", err)
	}
	return fmt.Sprintf("🔔 Watching %s", sub.Key())
}

func (h *Handler) handleUnsubscribe(args []string) string {
	sa, err := ParseSubscribeArgs(args)
	if err != nil {
		return "Usage: /unsubscribe SYM sma 9 21 1h | /unsubscribe SYM rsi 14 4h\n" + err.Error()
	}
	token, _, err := h.resolveToken(sa.Token)
	if err != nil {
		return fmt.Sprintf("Cannot resolve token %q: %v", sa.Token, err)
	}
	key := model.Subscription{
		Token: token, Indicator: sa.Indicator,
		Fast: sa.Fast, Slow: sa.Slow, Period: sa.Period, Timeframe: sa.Timeframe,
	}.Key()
	if err := h.Registry.Remove(key); err != nil {
		if errors.Is(err, registry.ErrNotFound) {
			return "No such subscription"
		}
		return fmt.Sprintf("Unsubscribe failed: %v", err)
	}
	return "🔕 Unsubscribed"
}

func (h *Handler) handleSubs() string {
	subs, err := h.Registry.List()
	if err != nil {
		return fmt.Sprintf("Cannot list subscriptions: %v", err)
	}
	return notifier.FormatSubscriptions(subs)
}

// resolveToken maps whatever the user typed to a canonical token address.
// Addresses pass through normalization; known symbols resolve via the alias
// table; unknown symbols get a deterministic synthetic address so paper
// trading works without a deployed contract.
func (h *Handler) resolveToken(input string) (token, symbol string, err error) {
	if looksLikeAddress(input) {
		addr, err := chain.CanonicalAddress(input)
		if err != nil {
			return "", "", err
		}
		return addr, shortSymbol(addr), nil
	}

	symbol = strings.ToUpper(input)
	if addr, found, err := h.Store.ResolveAlias(symbol); err != nil {
		return "", "", model.External("resolve alias", err)
	} else if found {
		return addr, symbol, nil
	}

	addr := chain.SyntheticAddress(symbol)
	if err := h.Store.SaveAlias(symbol, addr); err != nil {
		return "", "", model.External("save alias", err)
	}
	log.Printf("[INFO] minted synthetic address for %s: %s", symbol, addr)
	return addr, symbol, nil
}

func looksLikeAddress(s string) bool {
	if len(s) >= 30 && s[0] == 'T' {
		return true
	}
	low := strings.ToLower(strings.TrimPrefix(s, "0x"))
	if len(low) != 40 && len(low) != 42 {
		return false
	}
	for _, c := range low {
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return false
		}
	}
	return true
}

func shortSymbol(addr string) string {
	if len(addr) <= 10 {
		return addr
	}
	return strings.ToUpper(addr[2:8])
}

func priceLabel(p decimal.Decimal) string {
	if p.IsZero() {
		return "market"
	}
	return p.String()
}

func (h *Handler) dropStagedSell(issuer string) {
	h.mu.Lock()
	delete(h.stagedSells, issuer)
	h.mu.Unlock()
}

func (h *Handler) tradeError(verb string, err error) string {
	switch {
	case errors.Is(err, ledger.ErrInsufficientPosition):
		return fmt.Sprintf("%s rejected: %v", verb, err)
	case errors.Is(err, ledger.ErrBusy):
		return fmt.Sprintf("%s rejected: rebuild in progress, try again shortly", verb)
	case model.IsExternal(err):
		return fmt.Sprintf("%s not recorded (ledger unchanged): %v", verb, err)
	default:
		return fmt.Sprintf("%s failed: %v", verb, err)
	}
}
