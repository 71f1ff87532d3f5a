package api

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"quant-agent-go/internal/database"
)

type initUserRequest struct {
	UserAddress string `json:"user_address"`
}

type runStrategyRequest struct {
	UserAddress string `json:"user_address"`
	Input       string `json:"input"`
	ThreadID    string `json:"thread_id"`
}

func errorResponse(c *gin.Context, status int, message string) {
	c.JSON(status, gin.H{"error": message})
}

// fail maps service errors to HTTP responses. Unknown accounts are 404, everything else
// is a generic 500; the detail only goes to the log.
func (s *Server) fail(c *gin.Context, err error) {
	if errors.Is(err, database.ErrAccountNotFound) {
		errorResponse(c, http.StatusNotFound, "User not found")
		return
	}
	_ = c.Error(err)
	s.logger.Error("Request failed", zap.String("path", c.Request.URL.Path), zap.Error(err))
	errorResponse(c, http.StatusInternalServerError, "internal server error")
}

func (s *Server) handleHealth(c *gin.Context) {
	c.String(http.StatusOK, "OK")
}

func (s *Server) handleInitUser(c *gin.Context) {
	var req initUserRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		errorResponse(c, http.StatusBadRequest, "invalid request body")
		return
	}
	if strings.TrimSpace(req.UserAddress) == "" {
		errorResponse(c, http.StatusBadRequest, "user_address is required")
		return
	}

	state, err := s.service.InitUser(c.Request.Context(), req.UserAddress)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, state)
}

func (s *Server) handleRunStrategy(c *gin.Context) {
	var req runStrategyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		errorResponse(c, http.StatusBadRequest, "invalid request body")
		return
	}
	if strings.TrimSpace(req.UserAddress) == "" {
		errorResponse(c, http.StatusBadRequest, "user_address is required")
		return
	}

	reply, err := s.service.HandleMessage(c.Request.Context(), req.UserAddress, req.Input, req.ThreadID)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, reply)
}

func (s *Server) handleAgentStatus(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "running",
		"prices": s.service.AgentStatus(c.Request.Context()),
	})
}

func (s *Server) handleTrades(c *gin.Context) {
	trades, err := s.service.Trades(c.Request.Context(), c.Param("address"))
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, trades)
}
