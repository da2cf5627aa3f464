package bot

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"

	"TradeWarden/internal/model"
)

// TradeArgs is a parsed /buy or /sell argument list. Price zero means market.
type TradeArgs struct {
	Symbol string
	Mode   model.SizeMode
	Value  decimal.Decimal
	Price  decimal.Decimal
}

// SubscribeArgs is a parsed /subscribe or /unsubscribe argument list.
type SubscribeArgs struct {
	Token     string
	Indicator model.IndicatorKind
	Fast      int
	Slow      int
	Period    int
	Timeframe string
}

var errUsage = errors.New("bad arguments")

// ParseTradeArgs parses the arguments of /buy and /sell. The size and the
// optional "@ price" clause may appear in either order:
//
//	/sell WIN 50%          sell half the position at market
//	/sell WIN $100 @ 0.09  sell $100 worth at limit 0.09
//	/buy WIN 1000 @ market buy 1000 units at market
func ParseTradeArgs(args []string) (TradeArgs, error) {
	if len(args) == 0 {
		return TradeArgs{}, fmt.Errorf("%w: token required", errUsage)
	}
	out := TradeArgs{Symbol: strings.ToUpper(args[0])}
	rest := normalizeAt(args[1:])

	sized := false
	for i := 0; i < len(rest); i++ {
		tok := rest[i]
		if tok == "@" {
			if i+1 >= len(rest) {
				return TradeArgs{}, fmt.Errorf("%w: @ needs a price", errUsage)
			}
			i++
			if strings.EqualFold(rest[i], "market") {
				out.Price = decimal.Zero
				continue
			}
			px, err := decimal.NewFromString(rest[i])
			if err != nil || !px.IsPositive() {
				return TradeArgs{}, fmt.Errorf("%w: bad price %q", errUsage, rest[i])
			}
			out.Price = px
			continue
		}

		mode, value, err := parseSize(tok)
		if err != nil {
			return TradeArgs{}, err
		}
		if sized {
			return TradeArgs{}, fmt.Errorf("%w: size given twice", errUsage)
		}
		out.Mode, out.Value = mode, value
		sized = true
	}

	if !sized {
		return TradeArgs{}, fmt.Errorf("%w: size required (units, $dollars or %%)", errUsage)
	}
	return out, nil
}

// parseSize decodes "50%", "$100" or plain unit counts.
func parseSize(tok string) (model.SizeMode, decimal.Decimal, error) {
	switch {
	case strings.HasSuffix(tok, "%"):
		v, err := decimal.NewFromString(strings.TrimSuffix(tok, "%"))
		if err != nil || !v.IsPositive() || v.GreaterThan(decimal.NewFromInt(100)) {
			return "", decimal.Zero, fmt.Errorf("%w: bad percent %q", errUsage, tok)
		}
		return model.SizePercent, v, nil
	case strings.HasPrefix(tok, "$"):
		v, err := decimal.NewFromString(strings.TrimPrefix(tok, "$"))
		if err != nil || !v.IsPositive() {
			return "", decimal.Zero, fmt.Errorf("%w: bad dollar amount %q", errUsage, tok)
		}
		return model.SizeDollars, v, nil
	default:
		v, err := decimal.NewFromString(tok)
		if err != nil || !v.IsPositive() {
			return "", decimal.Zero, fmt.Errorf("%w: bad amount %q", errUsage, tok)
		}
		return model.SizeUnits, v, nil
	}
}

// normalizeAt splits "@0.09" style tokens so "@" is always standalone.
func normalizeAt(args []string) []string {
	out := make([]string, 0, len(args))
	for _, a := range args {
		if len(a) > 1 && a[0] == '@' {
			out = append(out, "@", a[1:])
			continue
		}
		out = append(out, a)
	}
	return out
}

// ParseSubscribeArgs parses /subscribe and /unsubscribe:
//
//	/subscribe WIN sma 9 21 1h
//	/subscribe WIN rsi 14 4h
func ParseSubscribeArgs(args []string) (SubscribeArgs, error) {
	if len(args) < 3 {
		return SubscribeArgs{}, fmt.Errorf("%w: usage: <token> sma <fast> <slow> <tf> | rsi <period> <tf>", errUsage)
	}
	out := SubscribeArgs{Token: args[0]}

	switch strings.ToLower(args[1]) {
	case "sma":
		if len(args) != 5 {
			return SubscribeArgs{}, fmt.Errorf("%w: sma needs <fast> <slow> <tf>", errUsage)
		}
		fast, err1 := strconv.Atoi(args[2])
		slow, err2 := strconv.Atoi(args[3])
		if err1 != nil || err2 != nil {
			return SubscribeArgs{}, fmt.Errorf("%w: sma periods must be integers", errUsage)
		}
		out.Indicator = model.IndicatorSMA
		out.Fast, out.Slow = fast, slow
		out.Timeframe = strings.ToLower(args[4])
	case "rsi":
		if len(args) != 4 {
			return SubscribeArgs{}, fmt.Errorf("%w: rsi needs <period> <tf>", errUsage)
		}
		period, err := strconv.Atoi(args[2])
		if err != nil {
			return SubscribeArgs{}, fmt.Errorf("%w: rsi period must be an integer", errUsage)
		}
		out.Indicator = model.IndicatorRSI
		out.Period = period
		out.Timeframe = strings.ToLower(args[3])
	default:
		return SubscribeArgs{}, fmt.Errorf("%w: unknown indicator %q", errUsage, args[1])
	}
	return out, nil
}

// splitCommand breaks a raw message into the command verb and its arguments.
// "/buy@MyBot WIN 100" -> "buy", ["WIN" "100"].
func splitCommand(text string) (string, []string) {
	fields := strings.Fields(strings.TrimSpace(text))
	if len(fields) == 0 || !strings.HasPrefix(fields[0], "/") {
		return "", nil
	}
	verb := strings.TrimPrefix(fields[0], "/")
	if at := strings.IndexByte(verb, '@'); at >= 0 {
		verb = verb[:at]
	}
	return strings.ToLower(verb), fields[1:]
}
