package market

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"quant-agent-go/internal/upstream"
)

// Sentiment is the coarse macro label.
type Sentiment string

const (
	SentimentBullish  Sentiment = "BULLISH"
	SentimentBearish  Sentiment = "BEARISH"
	SentimentNeutral  Sentiment = "NEUTRAL"
	SentimentCautious Sentiment = "CAUTIOUS"
)

const (
	flowWindow = 3
	// Funding rate in percent per interval above which longs are considered overheated.
	overheatedFundingPct = 0.02
)

// Health is the macro market summary.
type Health struct {
	Sentiment Sentiment `json:"sentiment"`
	Details   string    `json:"details"`
}

// Macro aggregates ETF flows and funding rates into a sentiment label.
type Macro struct {
	client *upstream.Client
	logger *zap.Logger
}

// NewMacro creates the macro health aggregator.
func NewMacro(client *upstream.Client, logger *zap.Logger) *Macro {
	return &Macro{client: client, logger: logger.Named("macro")}
}

// FlowPoint is one day of ETF net flow.
type FlowPoint struct {
	Timestamp time.Time
	FlowUSD   float64
}

type flowResponse struct {
	Code flexCode `json:"code"`
	Msg  string   `json:"msg"`
	Data []struct {
		Timestamp int64     `json:"timestamp"`
		FlowUSD   flexFloat `json:"flow_usd"`
	} `json:"data"`
}

type fundingResponse struct {
	Code flexCode `json:"code"`
	Msg  string   `json:"msg"`
	Data []struct {
		Time  int64     `json:"time"`
		C     flexFloat `json:"c"`
		Close flexFloat `json:"close"`
	} `json:"data"`
}

// Health never fails; each unavailable input is reported in the details.
func (m *Macro) Health(ctx context.Context) Health {
	return Aggregate(m.flows(ctx), m.funding(ctx))
}

func (m *Macro) flows(ctx context.Context) Result[[]FlowPoint] {
	var body flowResponse
	req := m.client.R(ctx).SetResult(&body)
	if _, err := m.client.Get(ctx, "/api/etf/bitcoin/flow-history", req); err != nil {
		m.logger.Warn("ETF flow fetch failed", zap.Error(err))
		return Unavailable[[]FlowPoint](err.Error())
	}
	if body.Code != "0" {
		return Unavailable[[]FlowPoint](fmt.Sprintf("provider code %s: %s", body.Code, body.Msg))
	}
	points := make([]FlowPoint, 0, len(body.Data))
	for _, d := range body.Data {
		points = append(points, FlowPoint{Timestamp: time.UnixMilli(d.Timestamp).UTC(), FlowUSD: float64(d.FlowUSD)})
	}
	return Ok(points)
}

func (m *Macro) funding(ctx context.Context) Result[float64] {
	var body fundingResponse
	req := m.client.R(ctx).
		SetQueryParam("symbol", "BTC").
		SetQueryParam("interval", "8h").
		SetResult(&body)
	if _, err := m.client.Get(ctx, "/api/futures/funding-rate/oi-weight-history", req); err != nil {
		m.logger.Warn("Funding rate fetch failed", zap.Error(err))
		return Unavailable[float64](err.Error())
	}
	if body.Code != "0" {
		return Unavailable[float64](fmt.Sprintf("provider code %s: %s", body.Code, body.Msg))
	}
	if len(body.Data) == 0 {
		return Unavailable[float64]("no funding candles")
	}
	last := body.Data[0]
	for _, d := range body.Data[1:] {
		if d.Time >= last.Time {
			last = d
		}
	}
	rate := float64(last.C)
	if rate == 0 {
		rate = float64(last.Close)
	}
	return Ok(rate * 100)
}

// Aggregate computes the sentiment from ETF flows and the latest funding rate in percent.
// Flows are sorted newest first and the latest three are summed: positive is BULLISH,
// otherwise BEARISH. Overheated funding downgrades BULLISH to CAUTIOUS. Negative funding
// only adds a note. Without flow data the sentiment stays NEUTRAL.
func Aggregate(flows Result[[]FlowPoint], fundingPct Result[float64]) Health {
	sentiment := SentimentNeutral
	var details []string

	switch {
	case !flows.Available():
		details = append(details, "ETF data unavailable: "+flows.Reason)
	case len(flows.Value) == 0:
		details = append(details, "ETF data unavailable: empty flow history")
	default:
		points := append([]FlowPoint(nil), flows.Value...)
		sort.Slice(points, func(i, j int) bool { return points[i].Timestamp.After(points[j].Timestamp) })
		n := min(flowWindow, len(points))
		var sum float64
		for _, p := range points[:n] {
			sum += p.FlowUSD
		}
		millions := sum / 1_000_000
		if sum > 0 {
			sentiment = SentimentBullish
			details = append(details, fmt.Sprintf("ETF %d-day flows: +$%.1fM (bullish) [%s]", n, millions, points[0].Timestamp.Format(time.DateOnly)))
		} else {
			sentiment = SentimentBearish
			details = append(details, fmt.Sprintf("ETF %d-day flows: -$%.1fM (bearish) [%s]", n, -millions, points[0].Timestamp.Format(time.DateOnly)))
		}
	}

	switch {
	case !fundingPct.Available():
		details = append(details, "Funding data unavailable: "+fundingPct.Reason)
	case fundingPct.Value > overheatedFundingPct:
		if sentiment == SentimentBullish {
			sentiment = SentimentCautious
		}
		details = append(details, fmt.Sprintf("Funding overheated: %.4f%% (longs crowded)", fundingPct.Value))
	case fundingPct.Value < 0:
		details = append(details, fmt.Sprintf("Funding negative: %.4f%% (squeeze potential)", fundingPct.Value))
	default:
		details = append(details, fmt.Sprintf("Funding healthy: %.4f%%", fundingPct.Value))
	}

	return Health{Sentiment: sentiment, Details: strings.Join(details, " | ")}
}
