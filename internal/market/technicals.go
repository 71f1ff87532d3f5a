package market

import (
	"context"
	"fmt"
	"math"
	"strings"
	"sync"

	"go.uber.org/zap"

	"quant-agent-go/internal/cache"
	"quant-agent-go/internal/upstream"
)

// Signal is the coarse trading signal derived from indicators.
type Signal string

const (
	SignalBuy     Signal = "BUY"
	SignalSell    Signal = "SELL"
	SignalNeutral Signal = "NEUTRAL"
)

const (
	oversoldRSI   = 30
	overboughtRSI = 70
	rsiPeriod     = 14
	emaPeriod     = 20
)

// Technicals is the indicator bundle cached per ticker.
type Technicals struct {
	Signal    Signal  `json:"signal"`
	RSI       float64 `json:"rsi"`
	EMA       float64 `json:"ema"`
	Price     float64 `json:"price"`
	Rationale string  `json:"rationale"`
}

// DeriveSignal classifies the RSI and appends a trend note comparing price to EMA.
// The trend note never changes the signal.
func DeriveSignal(rsi, ema, price float64) Technicals {
	rsi = round(rsi, 2)
	ema = round(ema, 4)

	var signal Signal
	var reason string
	switch {
	case rsi < oversoldRSI:
		signal, reason = SignalBuy, fmt.Sprintf("Oversold (RSI %.2f)", rsi)
	case rsi > overboughtRSI:
		signal, reason = SignalSell, fmt.Sprintf("Overbought (RSI %.2f)", rsi)
	default:
		signal, reason = SignalNeutral, fmt.Sprintf("RSI neutral (%.2f)", rsi)
	}

	trend := "Trend: bearish (price < EMA)"
	if price > ema {
		trend = "Trend: bullish (price > EMA)"
	}

	return Technicals{
		Signal:    signal,
		RSI:       rsi,
		EMA:       ema,
		Price:     price,
		Rationale: reason + " | " + trend,
	}
}

func round(v float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(v*p) / p
}

// IndicatorSettings configures the indicator provider queries.
type IndicatorSettings struct {
	Secret        string
	Exchange      string
	QuoteCurrency string
	Interval      string
}

// Indicators serves technical bundles per ticker from a TTL cache, fetching RSI, EMA
// and the latest close from the indicator provider on a miss.
type Indicators struct {
	client   *upstream.Client
	cache    cache.Cache[Technicals]
	settings IndicatorSettings
	logger   *zap.Logger
}

// NewIndicators creates the technical indicator cache.
func NewIndicators(client *upstream.Client, c cache.Cache[Technicals], settings IndicatorSettings, logger *zap.Logger) *Indicators {
	return &Indicators{
		client:   client,
		cache:    c,
		settings: settings,
		logger:   logger.Named("indicators"),
	}
}

type valueResponse struct {
	Value *float64 `json:"value"`
}

type candleResponse struct {
	Close *float64 `json:"close"`
}

// Analyze returns the technical bundle for a ticker. Missing upstream values yield an
// unavailable result carrying a NEUTRAL signal; those results are not cached.
func (i *Indicators) Analyze(ctx context.Context, ticker string) Result[Technicals] {
	ticker = strings.ToUpper(strings.TrimSpace(ticker))
	if t, ok := i.cache.Get(ctx, ticker); ok {
		i.logger.Debug("Indicator cache hit", zap.String("ticker", ticker))
		return Ok(t)
	}

	symbol := ticker + "/" + i.settings.QuoteCurrency
	// rsi, ema, close
	var (
		wg     sync.WaitGroup
		values [3]*float64
		errs   [3]error
	)
	wg.Add(3)
	go func() {
		defer wg.Done()
		var r valueResponse
		errs[0] = i.fetch(ctx, "/rsi", symbol, rsiPeriod, &r)
		values[0] = r.Value
	}()
	go func() {
		defer wg.Done()
		var r valueResponse
		errs[1] = i.fetch(ctx, "/ema", symbol, emaPeriod, &r)
		values[1] = r.Value
	}()
	go func() {
		defer wg.Done()
		var r candleResponse
		errs[2] = i.fetch(ctx, "/candle", symbol, 0, &r)
		values[2] = r.Close
	}()
	wg.Wait()

	var missing []string
	for idx, name := range []string{"rsi", "ema", "close"} {
		if values[idx] != nil {
			continue
		}
		missing = append(missing, name)
		if errs[idx] != nil {
			i.logger.Warn("Indicator fetch failed", zap.String("ticker", ticker), zap.String("indicator", name), zap.Error(errs[idx]))
		}
	}
	if len(missing) > 0 {
		reason := fmt.Sprintf("data unavailable for %s on %s (missing %s)", symbol, i.settings.Exchange, strings.Join(missing, ", "))
		r := Unavailable[Technicals](reason)
		r.Value = Technicals{Signal: SignalNeutral, Rationale: reason}
		return r
	}

	t := DeriveSignal(*values[0], *values[1], *values[2])
	i.cache.Set(ctx, ticker, t)
	return Ok(t)
}

func (i *Indicators) fetch(ctx context.Context, path, symbol string, period int, out any) error {
	req := i.client.R(ctx).
		SetQueryParams(map[string]string{
			"secret":   i.settings.Secret,
			"exchange": i.settings.Exchange,
			"symbol":   symbol,
			"interval": i.settings.Interval,
		}).
		SetResult(out)
	if period > 0 {
		req.SetQueryParam("period", fmt.Sprint(period))
	}
	_, err := i.client.Get(ctx, path, req)
	return err
}
