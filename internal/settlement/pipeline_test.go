package settlement

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"quant-agent-go/internal/action"
	"quant-agent-go/internal/chain"
	"quant-agent-go/internal/config"
	"quant-agent-go/internal/database"
	"quant-agent-go/internal/registry"
)

const user = "0x00000000000000000000000000000000000000aa"

// MockRecorder is a mock implementation of the Recorder interface.
type MockRecorder struct {
	mock.Mock
}

func (m *MockRecorder) HasSigner() bool {
	return m.Called().Bool(0)
}

func (m *MockRecorder) RecordTrade(ctx context.Context, t chain.Trade) (string, error) {
	args := m.Called(ctx, t)
	return args.String(0), args.Error(1)
}

type staticPrices map[string]float64

func (p staticPrices) Price(ticker string) (float64, bool) {
	v, ok := p[ticker]
	return v, ok
}

func setupTest(t *testing.T, prices staticPrices) (*Pipeline, *MockRecorder, *database.Repository) {
	t.Helper()
	db, err := database.NewDatabase(config.Database{Driver: database.DriverSQLite, DSN: "file::memory:"})
	require.NoError(t, err)
	repo := database.NewRepository(db, zap.NewNop())
	_, _, err = repo.CreateAccount(context.Background(), user, nil, "0xagent")
	require.NoError(t, err)

	recorder := new(MockRecorder)
	p := NewPipeline(registry.Default(), prices, recorder, repo, Options{SettlementCurrency: "eth", FallbackRateUSD: 3300}, zap.NewNop())
	return p, recorder, repo
}

func intent(side action.Side, amount, ticker string) action.Intent {
	return action.Intent{Side: side, Amount: decimal.RequireFromString(amount), Ticker: ticker}
}

func assertNothingWritten(t *testing.T, repo *database.Repository) {
	t.Helper()
	trades, err := repo.Trades(context.Background(), user)
	require.NoError(t, err)
	assert.Empty(t, trades)
	portfolio, err := repo.Portfolio(context.Background(), user)
	require.NoError(t, err)
	assert.Empty(t, portfolio)
	acc, err := repo.Account(context.Background(), user)
	require.NoError(t, err)
	assert.Zero(t, acc.InvestedETH)
}

func TestSettleValidation(t *testing.T) {
	testCases := []struct {
		name    string
		intent  action.Intent
		wantErr error
	}{
		{"Unsupported asset", intent(action.Buy, "1", "DOGE"), ErrUnsupportedAsset},
		{"Zero amount", intent(action.Buy, "0", "ETH"), ErrInvalidAmount},
		{"Negative amount", intent(action.Sell, "-1", "ETH"), ErrInvalidAmount},
		{"Unknown side", intent("HOLD", "1", "ETH"), ErrInvalidAmount},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			p, recorder, repo := setupTest(t, staticPrices{"ETH": 3000})

			_, err := p.Settle(context.Background(), user, tc.intent)

			assert.ErrorIs(t, err, tc.wantErr)
			assert.ErrorIs(t, err, ErrValidation)
			recorder.AssertNotCalled(t, "RecordTrade", mock.Anything, mock.Anything)
			assertNothingWritten(t, repo)
		})
	}
}

func TestSettleBuySettlementCurrency(t *testing.T) {
	p, recorder, repo := setupTest(t, staticPrices{"ETH": 3000})
	recorder.On("HasSigner").Return(true)
	recorder.On("RecordTrade", mock.Anything, mock.MatchedBy(func(tr chain.Trade) bool {
		return tr.User == user && tr.Asset == "ETH" && tr.Side == "BUY" &&
			tr.Amount.Equal(decimal.RequireFromString("0.05")) && tr.Price.Equal(decimal.NewFromInt(3000))
	})).Return("0xhash", nil)

	receipt, err := p.Settle(context.Background(), user, intent(action.Buy, "0.05", "eth"))

	require.NoError(t, err)
	assert.Equal(t, "0xhash", receipt.TxHash)
	assert.Equal(t, RateNative, receipt.Trade.RateSource)

	trades, _ := repo.Trades(context.Background(), user)
	require.Len(t, trades, 1)
	assert.Equal(t, "ETH", trades[0].Asset)
	assert.Equal(t, "BUY", trades[0].Side)
	assert.Equal(t, 0.05, trades[0].Amount)
	assert.Equal(t, 150.0, trades[0].ValueUSD)
	assert.Equal(t, "0xhash", trades[0].TxHash)

	portfolio, _ := repo.Portfolio(context.Background(), user)
	_, hasETH := portfolio["ETH"]
	assert.False(t, hasETH, "ETH holding is derived by reconciliation")
	acc, _ := repo.Account(context.Background(), user)
	assert.InDelta(t, 0.05, acc.InvestedETH, 1e-12)
}

func TestSettleTokenUsesLiveRate(t *testing.T) {
	p, recorder, repo := setupTest(t, staticPrices{"ETH": 3000, "UNI": 6})
	recorder.On("HasSigner").Return(true)
	recorder.On("RecordTrade", mock.Anything, mock.Anything).Return("0xbuy", nil).Once()
	recorder.On("RecordTrade", mock.Anything, mock.Anything).Return("0xsell", nil).Once()

	_, err := p.Settle(context.Background(), user, intent(action.Buy, "100", "UNI"))
	require.NoError(t, err)
	receipt, err := p.Settle(context.Background(), user, intent(action.Sell, "40", "UNI"))
	require.NoError(t, err)
	assert.Equal(t, RateLive, receipt.Trade.RateSource)
	assert.Equal(t, 3000.0, receipt.Trade.Rate)

	portfolio, _ := repo.Portfolio(context.Background(), user)
	assert.Equal(t, 60.0, portfolio["UNI"])
	acc, _ := repo.Account(context.Background(), user)
	// (600 - 240) / 3000
	assert.InDelta(t, 0.12, acc.InvestedETH, 1e-12)
	trades, _ := repo.Trades(context.Background(), user)
	assert.Len(t, trades, 2)
}

func TestSettleFallbackRateAndUnknownPrice(t *testing.T) {
	t.Run("FallbackRate", func(t *testing.T) {
		p, recorder, repo := setupTest(t, staticPrices{"LINK": 33})
		recorder.On("HasSigner").Return(true)
		recorder.On("RecordTrade", mock.Anything, mock.Anything).Return("0xh", nil)

		receipt, err := p.Settle(context.Background(), user, intent(action.Buy, "10", "LINK"))
		require.NoError(t, err)
		assert.Equal(t, RateFallback, receipt.Trade.RateSource)
		assert.Equal(t, 3300.0, receipt.Trade.Rate)

		acc, _ := repo.Account(context.Background(), user)
		assert.InDelta(t, 0.1, acc.InvestedETH, 1e-12)
	})

	t.Run("UnknownPriceProceedsAtZero", func(t *testing.T) {
		p, recorder, repo := setupTest(t, staticPrices{"ETH": 3000})
		recorder.On("HasSigner").Return(true)
		recorder.On("RecordTrade", mock.Anything, mock.MatchedBy(func(tr chain.Trade) bool {
			return tr.Price.IsZero()
		})).Return("0xh", nil)

		_, err := p.Settle(context.Background(), user, intent(action.Buy, "1000", "PEPE"))
		require.NoError(t, err)

		portfolio, _ := repo.Portfolio(context.Background(), user)
		assert.Equal(t, 1000.0, portfolio["PEPE"])
		acc, _ := repo.Account(context.Background(), user)
		assert.Zero(t, acc.InvestedETH)
	})
}

func TestSettleSubmissionFailures(t *testing.T) {
	t.Run("NoSigningKey", func(t *testing.T) {
		p, recorder, repo := setupTest(t, staticPrices{"ETH": 3000})
		recorder.On("HasSigner").Return(false)

		_, err := p.Settle(context.Background(), user, intent(action.Buy, "1", "ETH"))

		assert.ErrorIs(t, err, ErrSettlementUnavailable)
		assert.False(t, errors.Is(err, ErrValidation))
		recorder.AssertNotCalled(t, "RecordTrade", mock.Anything, mock.Anything)
		assertNothingWritten(t, repo)
	})

	t.Run("Rejected", func(t *testing.T) {
		p, recorder, repo := setupTest(t, staticPrices{"ETH": 3000})
		recorder.On("HasSigner").Return(true)
		recorder.On("RecordTrade", mock.Anything, mock.Anything).Return("", errors.New("replacement transaction underpriced"))

		_, err := p.Settle(context.Background(), user, intent(action.Sell, "1", "ETH"))

		assert.ErrorIs(t, err, ErrChainSubmissionFailed)
		assert.ErrorContains(t, err, "replacement transaction underpriced")
		recorder.AssertNumberOfCalls(t, "RecordTrade", 1)
		assertNothingWritten(t, repo)
	})

	t.Run("PersistenceFailureKeepsHash", func(t *testing.T) {
		p, recorder, _ := setupTest(t, staticPrices{"ETH": 3000})
		recorder.On("HasSigner").Return(true)
		recorder.On("RecordTrade", mock.Anything, mock.Anything).Return("0xorphan", nil)

		receipt, err := p.Settle(context.Background(), "0x0000000000000000000000000000000000000999", intent(action.Buy, "1", "ETH"))

		assert.ErrorIs(t, err, ErrPersistenceFailed)
		assert.ErrorIs(t, err, database.ErrAccountNotFound)
		assert.Equal(t, "0xorphan", receipt.TxHash)
	})
}
