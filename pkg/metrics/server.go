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

package metrics

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shadstoneofficial/webhook-relay/pkg/config"
	"github.com/shadstoneofficial/webhook-relay/pkg/relay"
	"go.uber.org/zap"
)

// SessionSource exposes the relay session for health reporting.
// *relay.Client implements it.
type SessionSource interface {
	Session() relay.Session
}

// HealthResponse is the body of GET /health
type HealthResponse struct {
	Status           string `json:"status"`
	State            string `json:"state"`
	SessionID        string `json:"session_id,omitempty"`
	ReconnectAttempt int    `json:"reconnect_attempt"`
	LastHeartbeat    string `json:"last_heartbeat,omitempty"`
}

// Server serves /metrics and a /health endpoint reflecting the relay session
type Server struct {
	cfg        *config.MetricsConfig
	httpServer *http.Server
	listener   net.Listener
	log        *zap.Logger
}

// NewServer creates the metrics server. /health answers 200 only while the
// session in src is streaming, and 503 otherwise.
func NewServer(cfg *config.MetricsConfig, src SessionSource, log *zap.Logger) *Server {
	registry := Init()

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	}))
	mux.Handle("/health", HealthHandler(src))

	return &Server{
		cfg: cfg,
		httpServer: &http.Server{
			Addr:         fmt.Sprintf(":%d", cfg.Port),
			Handler:      mux,
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 10 * time.Second,
		},
		log: log,
	}
}

// HealthHandler reports the relay session as JSON
func HealthHandler(src SessionSource) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s := src.Session()

		resp := HealthResponse{
			Status:           "unhealthy",
			State:            s.State.String(),
			SessionID:        s.SessionID,
			ReconnectAttempt: s.ReconnectAttempt,
		}
		if !s.LastHeartbeat.IsZero() {
			resp.LastHeartbeat = s.LastHeartbeat.UTC().Format(time.RFC3339Nano)
		}

		status := http.StatusServiceUnavailable
		if s.State == relay.Active {
			status = http.StatusOK
			resp.Status = "healthy"
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(resp)
	})
}

// Start binds the listener and serves in the background
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return fmt.Errorf("metrics server failed to bind: %w", err)
	}
	s.listener = ln
	s.log.Info("Metrics server listening", zap.String("addr", ln.Addr().String()))

	go func() {
		if err := s.httpServer.Serve(ln); err != nil && err != http.ErrServerClosed {
			s.log.Error("Metrics server failed", zap.Error(err))
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

// Stop shuts the server down, waiting for in-flight scrapes
func (s *Server) Stop(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}
