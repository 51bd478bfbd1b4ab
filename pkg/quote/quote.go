package quote

import "strings"

// Quote is a chronologically ordered series of close prices for one symbol
// plus the reference close used for change calculations.
type Quote struct {
	Prices        []float64
	PreviousClose float64
}

// IsEmpty reports whether the quote carries no price samples yet.
func (q Quote) IsEmpty() bool { return len(q.Prices) == 0 }

// LastPrice returns the most recent price sample, or 0 for an empty quote.
func (q Quote) LastPrice() float64 {
	if len(q.Prices) == 0 {
		return 0
	}
	return q.Prices[len(q.Prices)-1]
}

// referenceClose guards against a zero or missing previous close so change
// calculations never divide by zero.
func (q Quote) referenceClose() float64 {
	if q.PreviousClose <= 0 {
		return 1.0
	}
	return q.PreviousClose
}

// Change returns the absolute move of the last price against the previous close.
func (q Quote) Change() float64 {
	return q.LastPrice() - q.referenceClose()
}

// ChangePercent returns the percentage move against the previous close.
func (q Quote) ChangePercent() float64 {
	return q.Change() / q.referenceClose() * 100
}

// Splice returns a copy of the quote with its last sample replaced by last.
// This is the incremental fast-loop update: the cached series keeps its shape
// while only the newest point moves.
func (q Quote) Splice(last float64) Quote {
	if len(q.Prices) == 0 {
		return Quote{Prices: []float64{last}, PreviousClose: q.PreviousClose}
	}
	prices := make([]float64, len(q.Prices))
	copy(prices, q.Prices[:len(q.Prices)-1])
	prices[len(prices)-1] = last
	return Quote{Prices: prices, PreviousClose: q.PreviousClose}
}

// StockIdentity describes a tradeable equity. Immutable once created.
type StockIdentity struct {
	Symbol      string `json:"symbol"`
	CompanyName string `json:"name"`
	LogoURL     string `json:"url"`
}

// CanonicalSymbol normalises a symbol to its uppercase canonical form.
func CanonicalSymbol(symbol string) string {
	return strings.ToUpper(strings.TrimSpace(symbol))
}

// Granularity selects the interval/range pair used for full series fetches.
type Granularity string

const (
	GranularityIntraday Granularity = "1D"
	GranularityWeekly   Granularity = "1W"
	GranularityMonthly  Granularity = "1M"
	GranularityYearly   Granularity = "1Y"
)

// Granularities lists all supported values in display order.
func Granularities() []Granularity {
	return []Granularity{GranularityIntraday, GranularityWeekly, GranularityMonthly, GranularityYearly}
}

// Params returns the chart API interval and range for the granularity.
func (g Granularity) Params() (interval, dataRange string) {
	switch g {
	case GranularityWeekly:
		return "15m", "5d"
	case GranularityMonthly:
		return "1d", "1mo"
	case GranularityYearly:
		return "1d", "1y"
	default:
		return "5m", "1d"
	}
}

// fastParams is the interval/range pair used by the fast polling loop. It asks
// for one-minute samples so the latest point is as fresh as the API allows.
func fastParams() (interval, dataRange string) { return "1m", "1d" }
