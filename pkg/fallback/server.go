/*
 * Copyright (c) 2025, WSO2 LLC. (https://www.wso2.com).
 *
 * WSO2 LLC. licenses this file to you under the Apache License,
 * Version 2.0 (the "License"); you may not use this file except
 * in compliance with the License.
 * You may obtain a copy of the License at
 *
 * http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing,
 * software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY
 * KIND, either express or implied.  See the License for the
 * specific language governing permissions and limitations
 * under the License.
 */

// Package fallback serves the HTTP endpoint the relay posts deliveries to
// when the streaming session is unavailable.
package fallback

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shadstoneofficial/webhook-relay/pkg/config"
	"github.com/shadstoneofficial/webhook-relay/pkg/metrics"
	"github.com/shadstoneofficial/webhook-relay/pkg/relay"
	"go.uber.org/zap"
)

// maxBodyBytes bounds a single delivery body
const maxBodyBytes = 1 << 20

// Handler processes one fallback delivery
type Handler interface {
	HandleHTTPWebhook(ctx context.Context, body []byte, headers http.Header) error
}

// ErrorResponse is the JSON body of every non-2xx response
type ErrorResponse struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

// Server is the fallback HTTP server
type Server struct {
	cfg        *config.FallbackConfig
	engine     *gin.Engine
	httpServer *http.Server
	listener   net.Listener
	handler    Handler
	log        *zap.Logger
}

// NewServer creates the fallback server. Deliveries are accepted on
// cfg.Path; GET /health reports liveness.
func NewServer(cfg *config.FallbackConfig, handler Handler, log *zap.Logger) *Server {
	metrics.Init()

	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(CorrelationIDMiddleware(log))
	engine.Use(RecoveryMiddleware(log))
	engine.Use(LoggingMiddleware(log))
	engine.Use(MetricsMiddleware())

	s := &Server{
		cfg:     cfg,
		engine:  engine,
		handler: handler,
		log:     log,
	}

	engine.GET("/health", s.health)
	engine.POST(cfg.Path, s.receive)

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      engine,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
	}
	return s
}

// Handler returns the router, for mounting or testing
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Start binds the listener and serves in the background
func (s *Server) Start() error {
	s.log.Info("Starting fallback HTTP server",
		zap.Int("port", s.cfg.Port),
		zap.String("path", s.cfg.Path),
	)

	ln, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return fmt.Errorf("fallback server failed to bind: %w", err)
	}
	s.listener = ln

	go func() {
		if err := s.httpServer.Serve(ln); err != nil && err != http.ErrServerClosed {
			s.log.Error("Fallback server failed", zap.Error(err))
		}
	}()

	return nil
}

// Addr returns the bound address, or the configured one before Start
func (s *Server) Addr() string {
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.httpServer.Addr
}

// Stop gracefully stops the fallback HTTP server
func (s *Server) Stop(ctx context.Context) error {
	s.log.Info("Stopping fallback HTTP server")
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "healthy"})
}

// receive hands the raw body to the relay client and maps its outcome to a
// status the relay understands: 2xx is delivered, 503 asks for a retry.
func (s *Server) receive(c *gin.Context) {
	log := GetLogger(c, s.log)

	body, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, maxBodyBytes))
	if err != nil {
		log.Warn("Failed to read fallback delivery body", zap.Error(err))
		c.JSON(http.StatusBadRequest, ErrorResponse{Status: "error", Message: "unreadable request body"})
		return
	}

	err = s.handler.HandleHTTPWebhook(c.Request.Context(), body, c.Request.Header)
	status, message := statusFor(err)
	if err != nil {
		log.Warn("Fallback delivery not accepted", zap.Int("status", status), zap.Error(err))
		c.JSON(status, ErrorResponse{Status: "error", Message: message})
		return
	}

	c.Status(status)
}

func statusFor(err error) (int, string) {
	var herr *relay.HandlerError
	switch {
	case err == nil:
		return http.StatusNoContent, ""
	case errors.Is(err, relay.ErrSignatureInvalid):
		return http.StatusUnauthorized, "invalid signature"
	case errors.Is(err, relay.ErrMalformedDelivery):
		return http.StatusBadRequest, "malformed delivery"
	case errors.Is(err, relay.ErrNotAcknowledged):
		return http.StatusServiceUnavailable, "delivery not acknowledged"
	case errors.As(err, &herr):
		return http.StatusInternalServerError, "webhook handler failed"
	default:
		return http.StatusInternalServerError, "internal server error"
	}
}
