package quote

import (
	"encoding/json"
	"errors"
	"fmt"
)

// ErrMalformedPayload indicates a fetched document could not be interpreted.
// Callers treat it like a transient miss: skip the update, keep prior state.
var ErrMalformedPayload = errors.New("quote: malformed payload")

// chartEnvelope mirrors the nested chart API response. Every field that may be
// absent is a pointer or slice so a partial document decodes without error and
// is rejected explicitly afterwards.
type chartEnvelope struct {
	Chart struct {
		Result []struct {
			Meta struct {
				ChartPreviousClose *float64 `json:"chartPreviousClose"`
			} `json:"meta"`
			Indicators struct {
				Quote []struct {
					Close []*float64 `json:"close"`
				} `json:"quote"`
			} `json:"indicators"`
		} `json:"result"`
	} `json:"chart"`
}

// parseChart extracts the first close-price series and the previous close from
// a chart API document. Null samples (market gaps) are skipped; a document with
// no usable samples is malformed.
func parseChart(data []byte) (Quote, error) {
	var envelope chartEnvelope
	if err := json.Unmarshal(data, &envelope); err != nil {
		return Quote{}, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	if len(envelope.Chart.Result) == 0 {
		return Quote{}, fmt.Errorf("%w: no chart result", ErrMalformedPayload)
	}
	result := envelope.Chart.Result[0]
	if len(result.Indicators.Quote) == 0 {
		return Quote{}, fmt.Errorf("%w: no quote indicators", ErrMalformedPayload)
	}

	prices := make([]float64, 0, len(result.Indicators.Quote[0].Close))
	for _, sample := range result.Indicators.Quote[0].Close {
		if sample != nil {
			prices = append(prices, *sample)
		}
	}
	if len(prices) == 0 {
		return Quote{}, fmt.Errorf("%w: empty price series", ErrMalformedPayload)
	}

	previousClose := 1.0
	if result.Meta.ChartPreviousClose != nil && *result.Meta.ChartPreviousClose > 0 {
		previousClose = *result.Meta.ChartPreviousClose
	}
	return Quote{Prices: prices, PreviousClose: previousClose}, nil
}

// searchEnvelope mirrors the search API response.
type searchEnvelope struct {
	Quotes []struct {
		Symbol    string `json:"symbol"`
		LongName  string `json:"longname"`
		QuoteType string `json:"quoteType"`
	} `json:"quotes"`
}

// parseSearch extracts equity matches from a search API document. Results
// missing a symbol or company name are dropped rather than surfaced.
func parseSearch(data []byte, logoURL func(symbol string) string) ([]StockIdentity, error) {
	var envelope searchEnvelope
	if err := json.Unmarshal(data, &envelope); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	results := make([]StockIdentity, 0, len(envelope.Quotes))
	for _, match := range envelope.Quotes {
		if match.QuoteType != "EQUITY" || match.Symbol == "" || match.LongName == "" {
			continue
		}
		results = append(results, StockIdentity{
			Symbol:      CanonicalSymbol(match.Symbol),
			CompanyName: match.LongName,
			LogoURL:     logoURL(match.Symbol),
		})
	}
	return results, nil
}
