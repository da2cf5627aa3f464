package notifier

import (
	"fmt"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/shopspring/decimal"

	"TradeWarden/internal/model"
	"TradeWarden/internal/query"
)

// FormatSignal renders a fired indicator signal as a Telegram alert.
func FormatSignal(sub model.Subscription, ev model.SignalEvent) string {
	var b strings.Builder
	switch ev.Trigger {
	case model.TriggerCrossUp:
		b.WriteString("📈 <b>SMA Cross Up</b>\n")
	case model.TriggerCrossDown:
		b.WriteString("📉 <b>SMA Cross Down</b>\n")
	case model.TriggerOversold:
		b.WriteString("🟢 <b>RSI Oversold</b>\n")
	case model.TriggerOverbought:
		b.WriteString("🔴 <b>RSI Overbought</b>\n")
	}
	b.WriteString(fmt.Sprintf("Token: <code>%s</code>\n", sub.Token))
	if sub.Indicator == model.IndicatorSMA {
		b.WriteString(fmt.Sprintf("SMA %d/%d (%s), spread %.6f\n", sub.Fast, sub.Slow, sub.Timeframe, ev.Value))
	} else {
		b.WriteString(fmt.Sprintf("RSI %d (%s) = %.1f\n", sub.Period, sub.Timeframe, ev.Value))
	}
	b.WriteString(fmt.Sprintf("Price: %s\n", humanize.CommafWithDigits(ev.Price, 6)))
	b.WriteString(fmt.Sprintf("Bar: %s", ev.BarTime.Format("2006-01-02 15:04")))
	return b.String()
}

// FormatPositions renders the open position book.
func FormatPositions(positions []model.Position) string {
	if len(positions) == 0 {
		return "📦 No open positions"
	}
	var b strings.Builder
	b.WriteString("📦 <b>Open Positions</b>\n\n")
	for _, p := range positions {
		name := p.Symbol
		if name == "" {
			name = shortAddr(p.Token)
		}
		b.WriteString(fmt.Sprintf("<b>%s</b>\n", name))
		b.WriteString(fmt.Sprintf("  amount: %s\n", p.Amount))
		b.WriteString(fmt.Sprintf("  avg entry: %s\n", p.AvgEntryPrice))
		if !p.RealizedPnL.IsZero() {
			b.WriteString(fmt.Sprintf("  realized: %s\n", signed(p.RealizedPnL)))
		}
		b.WriteString(fmt.Sprintf("  updated: %s\n", humanize.Time(p.LastUpdated)))
	}
	return b.String()
}

// FormatPnL renders a realized-PnL summary.
func FormatPnL(rep query.PnLReport) string {
	var b strings.Builder
	b.WriteString("💰 <b>Realized PnL</b>\n\n")
	b.WriteString(fmt.Sprintf("Total: %s\n", signed(rep.Realized)))
	b.WriteString(fmt.Sprintf("Trades: %d opens, %d closes", rep.OpenCount, rep.CloseCount))
	return b.String()
}

// FormatTrades renders recent trade log entries, oldest first.
func FormatTrades(trades []model.Trade) string {
	if len(trades) == 0 {
		return "📋 No trades recorded"
	}
	var b strings.Builder
	b.WriteString("📋 <b>Trades</b>\n\n")
	for _, t := range trades {
		name := t.Symbol
		if name == "" {
			name = shortAddr(t.Token)
		}
		verb := "BUY"
		if t.Action == model.ActionClose {
			verb = "SELL"
		}
		b.WriteString(fmt.Sprintf("%s <b>%s</b> %s @ %s", verb, name, t.Amount, t.Price))
		if t.PnL.Valid {
			b.WriteString(fmt.Sprintf(" (%s)", signed(t.PnL.Decimal)))
		}
		if t.Source == model.SourceChain {
			b.WriteString(" ⛓")
		}
		b.WriteString(fmt.Sprintf("\n  %s\n", t.Timestamp.Format("2006-01-02 15:04")))
	}
	return b.String()
}

// FormatSubscriptions renders the active indicator watches.
func FormatSubscriptions(subs []model.Subscription) string {
	if len(subs) == 0 {
		return "🔕 No active subscriptions"
	}
	var b strings.Builder
	b.WriteString("🔔 <b>Subscriptions</b>\n\n")
	for _, s := range subs {
		if s.Indicator == model.IndicatorSMA {
			b.WriteString(fmt.Sprintf("• %s — SMA %d/%d (%s)\n", shortAddr(s.Token), s.Fast, s.Slow, s.Timeframe))
		} else {
			b.WriteString(fmt.Sprintf("• %s — RSI %d (%s)\n", shortAddr(s.Token), s.Period, s.Timeframe))
		}
	}
	return b.String()
}

// FormatConfirmPrompt renders a staged command awaiting /confirm.
func FormatConfirmPrompt(pc model.PendingConfirmation) string {
	remaining := time.Until(pc.ExpiresAt).Round(time.Second)
	return fmt.Sprintf("⚠️ %s\n\nReply <code>/confirm %s</code> within %s to proceed, or /cancel.",
		pc.Prompt, pc.Reference, remaining)
}

func signed(d decimal.Decimal) string {
	if d.IsNegative() {
		return d.String()
	}
	return "+" + d.String()
}

func shortAddr(addr string) string {
	if len(addr) <= 12 {
		return addr
	}
	return addr[:8] + "…" + addr[len(addr)-4:]
}
