package portfolio

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"quant-agent-go/internal/config"
	"quant-agent-go/internal/database"
)

const user = "0x00000000000000000000000000000000000000aa"

// MockBalanceReader is a mock implementation of BalanceReader.
type MockBalanceReader struct {
	mock.Mock
}

func (m *MockBalanceReader) Balance(ctx context.Context, address string) (decimal.Decimal, error) {
	args := m.Called(ctx, address)
	return args.Get(0).(decimal.Decimal), args.Error(1)
}

type staticPrices map[string]float64

func (p staticPrices) Price(ticker string) (float64, bool) {
	v, ok := p[ticker]
	return v, ok
}

func setupTest(t *testing.T, invested float64) (*database.Repository, *MockBalanceReader) {
	t.Helper()
	db, err := database.NewDatabase(config.Database{Driver: database.DriverSQLite, DSN: "file::memory:"})
	require.NoError(t, err)
	repo := database.NewRepository(db, zap.NewNop())

	_, _, err = repo.CreateAccount(context.Background(), user, nil, "0x00000000000000000000000000000000000000bb")
	require.NoError(t, err)
	require.NoError(t, db.Exec("UPDATE accounts SET invested_eth = ?", invested).Error)
	return repo, new(MockBalanceReader)
}

func TestDisplay(t *testing.T) {
	assert.Equal(t, 0.0, Display(0.01, 0.5))
	assert.InDelta(t, 0.7, Display(1, 0.3), 1e-12)
	assert.Equal(t, 2.0, Display(2, 0))
	assert.Equal(t, 0.0, Display(0, 0))
}

func TestReconcile(t *testing.T) {
	ctx := context.Background()

	t.Run("NeverNegative", func(t *testing.T) {
		repo, chain := setupTest(t, 0.5)
		chain.On("Balance", mock.Anything, "0x00000000000000000000000000000000000000bb").
			Return(decimal.RequireFromString("0.01"), nil)

		r := NewReconciler(chain, repo, "eth", zap.NewNop())
		display, ok, err := r.Reconcile(ctx, user)

		require.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, 0.0, display)
		portfolio, _ := repo.Portfolio(ctx, user)
		assert.Equal(t, 0.0, portfolio["ETH"])
	})

	t.Run("Idempotent", func(t *testing.T) {
		repo, chain := setupTest(t, 0.25)
		chain.On("Balance", mock.Anything, mock.Anything).Return(decimal.RequireFromString("1"), nil)
		r := NewReconciler(chain, repo, "ETH", zap.NewNop())

		first, _, err := r.Reconcile(ctx, user)
		require.NoError(t, err)
		second, _, err := r.Reconcile(ctx, user)
		require.NoError(t, err)

		assert.Equal(t, 0.75, first)
		assert.Equal(t, first, second)
		chain.AssertNumberOfCalls(t, "Balance", 2)
	})

	t.Run("ChainFailureSkipsWithoutError", func(t *testing.T) {
		repo, chain := setupTest(t, 0)
		require.NoError(t, repo.SetHolding(ctx, user, "ETH", 0.3))
		chain.On("Balance", mock.Anything, mock.Anything).Return(decimal.Zero, errors.New("rpc down"))
		r := NewReconciler(chain, repo, "ETH", zap.NewNop())

		_, ok, err := r.Reconcile(ctx, user)

		require.NoError(t, err)
		assert.False(t, ok)
		portfolio, _ := repo.Portfolio(ctx, user)
		assert.Equal(t, 0.3, portfolio["ETH"], "stale value is kept")
	})

	t.Run("UnknownAccount", func(t *testing.T) {
		repo, chain := setupTest(t, 0)
		r := NewReconciler(chain, repo, "ETH", zap.NewNop())

		_, _, err := r.Reconcile(ctx, "0x0000000000000000000000000000000000000999")
		assert.ErrorIs(t, err, database.ErrAccountNotFound)
		chain.AssertNotCalled(t, "Balance", mock.Anything, mock.Anything)
	})
}

func TestValue(t *testing.T) {
	prices := staticPrices{"ETH": 3000, "UNI": 6, "USDC": 1}
	holdings := map[string]float64{"ETH": 0.5, "UNI": 10, "USDC": 25, "LINK": 3, "PEPE": -4}

	assert.Equal(t, 1585.0, Value(holdings, prices))
	assert.Equal(t, 0.0, Value(nil, prices))
	assert.Equal(t, map[string]float64{"ETH": 0.5, "UNI": 10, "USDC": 25, "LINK": 3}, Positive(holdings))
}
