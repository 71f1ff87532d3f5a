package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"quant-agent-go/internal/config"
	"quant-agent-go/internal/database"
	"quant-agent-go/internal/market"
	"quant-agent-go/internal/models"
	"quant-agent-go/internal/trader"
)

// MockService is a mock implementation of Service.
type MockService struct {
	mock.Mock
}

func (m *MockService) InitUser(ctx context.Context, address string) (*trader.UserState, error) {
	args := m.Called(ctx, address)
	state, _ := args.Get(0).(*trader.UserState)
	return state, args.Error(1)
}

func (m *MockService) HandleMessage(ctx context.Context, address, input, threadID string) (*trader.Reply, error) {
	args := m.Called(ctx, address, input, threadID)
	reply, _ := args.Get(0).(*trader.Reply)
	return reply, args.Error(1)
}

func (m *MockService) Trades(ctx context.Context, address string) ([]models.Trade, error) {
	args := m.Called(ctx, address)
	trades, _ := args.Get(0).([]models.Trade)
	return trades, args.Error(1)
}

func (m *MockService) AgentStatus(ctx context.Context) market.Snapshot {
	return m.Called(ctx).Get(0).(market.Snapshot)
}

func init() {
	gin.SetMode(gin.TestMode)
}

func setupTestServer(t *testing.T, cfg config.Server) (*Server, *MockService) {
	t.Helper()
	svc := new(MockService)
	return NewServer(cfg, svc, zap.NewNop()), svc
}

func do(s *Server, method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func TestHealth(t *testing.T) {
	s, _ := setupTestServer(t, config.Server{})

	rec := do(s, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "OK", rec.Body.String())
}

func TestInitUser(t *testing.T) {
	t.Run("Success", func(t *testing.T) {
		s, svc := setupTestServer(t, config.Server{})
		svc.On("InitUser", mock.Anything, "0xabc").Return(&trader.UserState{
			AgentAddress: "0xagent",
			Portfolio:    map[string]float64{"ETH": 0.5},
			Trades:       []models.Trade{},
			TotalUSD:     1500,
			Prices:       market.Snapshot{Prices: map[string]float64{"ETH": 3000}, LastUpdated: time.Unix(1_700_000_000, 0)},
		}, nil)

		rec := do(s, http.MethodPost, "/api/init-user", `{"user_address":"0xabc"}`)

		require.Equal(t, http.StatusOK, rec.Code)
		var body map[string]any
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		assert.Equal(t, "0xagent", body["agent_address"])
		assert.Equal(t, 1500.0, body["total_usd"])
		assert.Equal(t, map[string]any{"ETH": 0.5}, body["portfolio"])
		assert.Equal(t, map[string]any{"eth": 3000.0, "last_updated": 1_700_000_000.0}, body["prices"])
		assert.Equal(t, []any{}, body["trades"])
	})

	t.Run("BadRequests", func(t *testing.T) {
		s, svc := setupTestServer(t, config.Server{})

		assert.Equal(t, http.StatusBadRequest, do(s, http.MethodPost, "/api/init-user", `{not json`).Code)
		assert.Equal(t, http.StatusBadRequest, do(s, http.MethodPost, "/api/init-user", `{"user_address":"  "}`).Code)
		svc.AssertNotCalled(t, "InitUser", mock.Anything, mock.Anything)
	})

	t.Run("InternalErrorHidesDetail", func(t *testing.T) {
		s, svc := setupTestServer(t, config.Server{})
		svc.On("InitUser", mock.Anything, "0xabc").Return(nil, errors.New("database is locked"))

		rec := do(s, http.MethodPost, "/api/init-user", `{"user_address":"0xabc"}`)
		assert.Equal(t, http.StatusInternalServerError, rec.Code)
		assert.JSONEq(t, `{"error":"internal server error"}`, rec.Body.String())
		assert.NotContains(t, rec.Body.String(), "database")
	})
}

func TestRunStrategy(t *testing.T) {
	t.Run("Success", func(t *testing.T) {
		s, svc := setupTestServer(t, config.Server{})
		svc.On("HandleMessage", mock.Anything, "0xabc", "buy eth", "t-1").
			Return(&trader.Reply{Result: "done", AgentAddress: "0xagent"}, nil)

		rec := do(s, http.MethodPost, "/api/run-strategy", `{"user_address":"0xabc","input":"buy eth","thread_id":"t-1"}`)

		assert.Equal(t, http.StatusOK, rec.Code)
		assert.JSONEq(t, `{"result":"done","agent_address":"0xagent"}`, rec.Body.String())
	})

	t.Run("UnknownAccount", func(t *testing.T) {
		s, svc := setupTestServer(t, config.Server{})
		svc.On("HandleMessage", mock.Anything, "0xabc", "hi", "").Return(nil, database.ErrAccountNotFound)

		rec := do(s, http.MethodPost, "/api/run-strategy", `{"user_address":"0xabc","input":"hi"}`)
		assert.Equal(t, http.StatusNotFound, rec.Code)
		assert.JSONEq(t, `{"error":"User not found"}`, rec.Body.String())
	})

	t.Run("MissingAddress", func(t *testing.T) {
		s, _ := setupTestServer(t, config.Server{})
		assert.Equal(t, http.StatusBadRequest, do(s, http.MethodPost, "/api/run-strategy", `{"input":"hi"}`).Code)
	})

	t.Run("PanicIsJSON500", func(t *testing.T) {
		s, svc := setupTestServer(t, config.Server{})
		svc.On("HandleMessage", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Run(func(mock.Arguments) {
			panic("boom")
		})

		rec := do(s, http.MethodPost, "/api/run-strategy", `{"user_address":"0xabc","input":"hi"}`)
		assert.Equal(t, http.StatusInternalServerError, rec.Code)
		assert.JSONEq(t, `{"error":"internal server error"}`, rec.Body.String())
	})
}

func TestAgentStatusAndTrades(t *testing.T) {
	s, svc := setupTestServer(t, config.Server{})
	svc.On("AgentStatus", mock.Anything).Return(market.Snapshot{Prices: map[string]float64{"SOL": 150}})
	svc.On("Trades", mock.Anything, "0xabc").Return([]models.Trade{{PublicID: "t1", Asset: "ETH", Side: "BUY", Amount: 0.05}}, nil)
	svc.On("Trades", mock.Anything, "0xdef").Return(nil, database.ErrAccountNotFound)

	rec := do(s, http.MethodGet, "/api/agent-status", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"running","prices":{"sol":150,"last_updated":0}}`, rec.Body.String())

	rec = do(s, http.MethodGet, "/api/trades/0xabc", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var trades []map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &trades))
	require.Len(t, trades, 1)
	assert.Equal(t, "t1", trades[0]["id"])
	assert.NotContains(t, trades[0], "ID", "gorm bookkeeping fields are hidden")

	assert.Equal(t, http.StatusNotFound, do(s, http.MethodGet, "/api/trades/0xdef", "").Code)
}

func TestStaticFallback(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "index.html"), []byte("<html>app</html>"), 0o644))
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "static"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "static", "app.js"), []byte("console.log(1)"), 0o644))

	s, _ := setupTestServer(t, config.Server{StaticDir: dir})

	rec := do(s, http.MethodGet, "/portfolio/overview", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "app")

	rec = do(s, http.MethodGet, "/static/app.js", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "console.log")

	rec = do(s, http.MethodGet, "/api/unknown", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.JSONEq(t, `{"error":"not found"}`, rec.Body.String())
}

func TestNoStaticDir(t *testing.T) {
	s, _ := setupTestServer(t, config.Server{StaticDir: filepath.Join(t.TempDir(), "missing")})

	rec := do(s, http.MethodGet, "/anything", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
