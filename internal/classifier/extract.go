package classifier

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/alanyoungcy/positionbot/internal/domain"
	"github.com/shopspring/decimal"
)

// num captures a number with optional thousands separators: 90,000.5
const num = `([0-9][0-9,]*(?:\.[0-9]+)?)`

// sep is the separator allowed between a label and its value.
const sep = `[:：\s@]*`

var (
	amountPatterns = compile(
		`入场(?:金额)?`+sep+num+`\s*(?:u|usdt|usd)?`,
		`投入(?:金额)?`+sep+num+`\s*(?:u|usdt|usd)?`,
		`仓位`+sep+num+`\s*(?:u|usdt|usd)?`,
		`金额`+sep+num+`\s*(?:u|usdt|usd)?`,
		`\bamount`+sep+num,
	)
	entryPricePatterns = compile(
		`(?:入场|开仓|补仓|加仓)(?:价格|价)`+sep+num,
		`\bentry(?:\s*price)?`+sep+num,
		`价格`+sep+num,
		`\bprice`+sep+num,
		`@\s*`+num,
	)
	exitPricePatterns = compile(
		`(?:离场|平仓|出局)(?:价格|价)?`+sep+num,
		`\b(?:close|exit)(?:\s*price)?`+sep+num,
	)
	takeProfitPatterns = compile(
		`止盈(?:价格|价|位)?`+sep+num,
		`目标位?`+sep+num,
		`\btp`+sep+num,
		`\btake\s*profit`+sep+num,
	)
	stopLossPatterns = compile(
		`止损(?:价格|价|位)?`+sep+num,
		`风控`+sep+num,
		`\bsl`+sep+num,
		`\bstop\s*loss`+sep+num,
	)
	quantityPatterns = compile(
		`持仓(?:数量)?`+sep+num,
		`数量`+sep+num,
		`张数`+sep+num,
		`\b(?:size|qty|quantity)`+sep+num,
		num+`\s*(?:张|手|个)`,
	)
	leveragePatterns = compile(
		`杠杆[:：\s]*([0-9]+)\s*倍?`,
		`\bleverage[:：\s]*([0-9]+)\s*x?`,
		`([0-9]+)\s*[x倍]\s*杠杆`,
		`\b([0-9]+)\s*x\b`,
	)
	strategyPatterns = compile(
		`(?:策略|交易计划|\bstrategy)[:：\s]*([^\n]+)`,
	)
	parentPatterns = compile(
		`(?:父订单|\bparent(?:_order_id|\s*id)?)[:：\s#]*([a-z0-9][a-z0-9-]*)`,
	)

	pairPattern = regexp.MustCompile(`(?i)\b([a-z][a-z0-9]{1,9}?)\s*[/\-_]?\s*(usdt|usdc|busd|fdusd|usd)\b`)
	basePattern = regexp.MustCompile(`\b([A-Z][A-Z0-9]{1,9})\b`)

	takeProfitReason = regexp.MustCompile(`止盈|目标达成|\btake\s*profit\b|\btp\b`)
	stopLossReason   = regexp.MustCompile(`止损|风控|\bstop\s*loss\b|\bsl\b`)

	marginedWords = newKeywords([]string{"合约", "永续", "杠杆", "futures", "perp", "perpetual", "margin", "leverage"})
	spotWords     = newKeywords([]string{"现货", "spot"})
)

// notSymbols are upper-case tokens that look like tickers but are not.
var notSymbols = map[string]struct{}{
	"USDT": {}, "USDC": {}, "USD": {}, "BUSD": {}, "TP": {}, "SL": {},
	"LONG": {}, "SHORT": {}, "BUY": {}, "SELL": {}, "ADD": {}, "CLOSE": {},
	"EXIT": {}, "OPEN": {}, "ENTRY": {}, "PRICE": {}, "MARKET": {}, "LIMIT": {},
	"SPOT": {}, "PERP": {},
}

func compile(exprs ...string) []*regexp.Regexp {
	out := make([]*regexp.Regexp, len(exprs))
	for i, e := range exprs {
		out[i] = regexp.MustCompile(`(?i)` + e)
	}
	return out
}

// firstSubmatch returns the first capture group of the first matching
// pattern, or "".
func firstSubmatch(patterns []*regexp.Regexp, text string) string {
	for _, re := range patterns {
		if m := re.FindStringSubmatch(text); len(m) > 1 {
			return m[1]
		}
	}
	return ""
}

// parseNumber strips thousands separators and parses a decimal. It returns
// nil for anything that does not parse.
func parseNumber(s string) *decimal.Decimal {
	s = strings.TrimRight(strings.ReplaceAll(s, ",", ""), ".")
	if s == "" {
		return nil
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return nil
	}
	return &d
}

func extractDecimal(patterns []*regexp.Regexp, text string) *decimal.Decimal {
	return parseNumber(firstSubmatch(patterns, text))
}

func extractLeverage(text string) *int {
	s := firstSubmatch(leveragePatterns, text)
	if s == "" {
		return nil
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < 1 {
		return nil
	}
	return &n
}

func (c *Classifier) extractDirection(norm string) domain.Direction {
	switch {
	case c.long.match(norm):
		return domain.DirectionLong
	case c.short.match(norm):
		return domain.DirectionShort
	case c.buy.match(norm):
		return domain.DirectionLong
	case c.sell.match(norm):
		return domain.DirectionShort
	}
	return ""
}

func (c *Classifier) extractSymbol(text string) string {
	if m := pairPattern.FindStringSubmatch(text); len(m) > 2 {
		return domain.NormalizeSymbol(m[1] + m[2])
	}
	for _, m := range basePattern.FindAllStringSubmatch(text, -1) {
		if _, skip := notSymbols[m[1]]; skip {
			continue
		}
		return m[1] + c.defaultQuote
	}
	return ""
}

func extractCloseReason(norm string) domain.CloseReason {
	switch {
	case takeProfitReason.MatchString(norm):
		return domain.CloseReasonTakeProfit
	case stopLossReason.MatchString(norm):
		return domain.CloseReasonStopLoss
	}
	return domain.CloseReasonManual
}

func extractTradeType(norm string, leverage *int) domain.TradeType {
	switch {
	case spotWords.match(norm):
		return domain.TradeTypeSpot
	case marginedWords.match(norm):
		return domain.TradeTypeMargined
	case leverage != nil && *leverage > 1:
		return domain.TradeTypeMargined
	}
	return domain.TradeTypeSpot
}

// Parse extracts every recognizable field from text. Fields with no match
// are left nil or empty; Parse never fails.
func (c *Classifier) Parse(text string) domain.TradeIntent {
	norm := normalize(text)
	op := c.Classify(norm)

	intent := domain.TradeIntent{
		Operation: op,
		Symbol:    c.extractSymbol(text),
		Direction: c.extractDirection(norm),
		Amount:    extractDecimal(amountPatterns, norm),
		Quantity:  extractDecimal(quantityPatterns, norm),
		Leverage:  extractLeverage(norm),
		ParentID:  firstSubmatch(parentPatterns, norm),
		RawText:   text,
	}
	intent.TradeType = extractTradeType(norm, intent.Leverage)
	if s := firstSubmatch(strategyPatterns, text); s != "" {
		intent.Strategy = strings.TrimSpace(s)
	}

	switch op {
	case domain.OperationExit:
		intent.ExitPrice = extractDecimal(exitPricePatterns, norm)
		if intent.ExitPrice == nil {
			intent.ExitPrice = extractDecimal(entryPricePatterns, norm)
		}
		intent.CloseReason = extractCloseReason(norm)
	default:
		intent.EntryPrice = extractDecimal(entryPricePatterns, norm)
		intent.TakeProfit = extractDecimal(takeProfitPatterns, norm)
		intent.StopLoss = extractDecimal(stopLossPatterns, norm)
	}
	return intent
}
