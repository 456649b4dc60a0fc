// Package server exposes the turn engine over HTTP. Triggers come in from
// channel webhooks and skill callbacks; replies leave through the messaging
// provider, so these endpoints only ever return engine status, never
// customer-facing text for delivery.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	contractx "github.com/ajudei/concierge/engine/contract"
	convx "github.com/ajudei/concierge/engine/conversation"
	"github.com/ajudei/concierge/engine/turn"
)

type Config struct {
	Addr            string        `split_words:"true" default:":8080"`
	ReadTimeout     time.Duration `split_words:"true" default:"15s"`
	WriteTimeout    time.Duration `split_words:"true" default:"120s"`
	ShutdownTimeout time.Duration `split_words:"true" default:"10s"`
	Debug           bool          `split_words:"true"`
}

// TurnService is the slice of the engine the HTTP layer needs.
type TurnService interface {
	Execute(ctx context.Context, req turn.Request) (contractx.TurnResult, error)
	ResumeToolResult(ctx context.Context, req turn.ResumeRequest) (contractx.TurnResult, error)
}

type Server struct {
	svc  TurnService
	http *http.Server
	cfg  Config
}

func New(svc TurnService, cfg Config) *Server {
	if !cfg.Debug {
		gin.SetMode(gin.ReleaseMode)
	}

	s := &Server{svc: svc, cfg: cfg}

	router := gin.New()
	router.Use(gin.Recovery())

	router.GET("/healthz", s.health)
	v1 := router.Group("/v1")
	v1.POST("/turn", s.handleTurn)
	v1.POST("/tool-result", s.handleToolResult)

	s.http = &http.Server{
		Addr:         cfg.Addr,
		Handler:      router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}
	return s
}

// Run blocks until the listener fails or ctx is cancelled, then drains
// in-flight requests.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", s.cfg.Addr).Msg("http server listening")
		errCh <- s.http.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
		defer cancel()
		return s.http.Shutdown(shutdownCtx)
	}
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

type turnRequest struct {
	ConversationID int64  `json:"conversation_id"`
	TenantID       int64  `json:"tenant_id"`
	ChatHandle     string `json:"chat_handle"`
	UserText       string `json:"user_text"`
}

func (r turnRequest) ref() (convx.Ref, bool) {
	if r.ConversationID > 0 {
		return convx.Ref{ConversationID: r.ConversationID}, true
	}
	if r.TenantID > 0 && r.ChatHandle != "" {
		return convx.Ref{TenantID: r.TenantID, ChatHandle: r.ChatHandle}, true
	}
	return convx.Ref{}, false
}

func (s *Server) handleTurn(c *gin.Context) {
	var req turnRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "malformed request body"})
		return
	}
	ref, ok := req.ref()
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "conversation_id or tenant_id+chat_handle is required"})
		return
	}

	result, err := s.svc.Execute(c.Request.Context(), turn.Request{Ref: ref, UserText: req.UserText})
	if err != nil {
		s.renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

type toolResultRequest struct {
	turnRequest
	ToolCallID string          `json:"tool_call_id"`
	Result     json.RawMessage `json:"result"`
}

func (s *Server) handleToolResult(c *gin.Context) {
	var req toolResultRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "malformed request body"})
		return
	}
	ref, ok := req.ref()
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "conversation_id or tenant_id+chat_handle is required"})
		return
	}
	if req.ToolCallID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "tool_call_id is required"})
		return
	}

	result, err := s.svc.ResumeToolResult(c.Request.Context(), turn.ResumeRequest{
		Ref:    ref,
		CallID: req.ToolCallID,
		Result: req.Result,
	})
	if err != nil {
		s.renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// renderError maps engine sentinels onto HTTP statuses. Internal detail
// stays in the log; the response body carries only the category.
func (s *Server) renderError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	msg := "internal error"

	switch {
	case errors.Is(err, contractx.ErrValidation):
		status, msg = http.StatusBadRequest, "invalid request"
	case errors.Is(err, contractx.ErrConversationNotFound):
		status, msg = http.StatusNotFound, "conversation not found"
	case errors.Is(err, contractx.ErrConversationBusy):
		status, msg = http.StatusConflict, "conversation busy"
	case errors.Is(err, convx.ErrHandleConflict):
		status, msg = http.StatusConflict, "conversation advanced concurrently"
	case errors.Is(err, contractx.ErrConfigurationMissing):
		status, msg = http.StatusUnprocessableEntity, "tenant configuration incomplete"
	case errors.Is(err, contractx.ErrUnknownCapability):
		status, msg = http.StatusUnprocessableEntity, "capability not registered"
	case errors.Is(err, contractx.ErrUpstreamModel):
		status, msg = http.StatusBadGateway, "model backend unavailable"
	case errors.Is(err, contractx.ErrDispatch):
		status, msg = http.StatusBadGateway, "capability dispatch failed"
	}

	log.Error().Err(err).Int("status", status).Str("path", c.FullPath()).Msg("request failed")
	c.JSON(status, gin.H{"error": msg})
}
