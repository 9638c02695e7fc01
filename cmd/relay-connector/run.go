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

package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/shadstoneofficial/webhook-relay/pkg/config"
	"github.com/shadstoneofficial/webhook-relay/pkg/fallback"
	"github.com/shadstoneofficial/webhook-relay/pkg/logger"
	"github.com/shadstoneofficial/webhook-relay/pkg/metrics"
	"github.com/shadstoneofficial/webhook-relay/pkg/relay"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

const shutdownTimeout = 10 * time.Second

var configPath string

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Connect to the relay and process webhooks",
	Long: "Connect to the relay, acknowledge delivered webhooks and serve the\n" +
		"optional fallback and metrics endpoints until interrupted.",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.LoadConfig(configPath)
		if err != nil {
			return fmt.Errorf("failed to load configuration: %w", err)
		}

		log, err := logger.NewLogger(logger.Config{
			Level:  cfg.Logging.Level,
			Format: cfg.Logging.Format,
		})
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		defer log.Sync()

		return run(cfg, log)
	},
}

func init() {
	runCmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to a TOML configuration file")
	rootCmd.AddCommand(runCmd)
}

func run(cfg *config.Config, log *zap.Logger) error {
	log.Info("Starting relay connector",
		zap.String("version", Version),
		zap.String("config_file", configPath),
		zap.String("relay_url", cfg.Relay.URL),
		zap.Bool("fallback_enabled", cfg.Fallback.Enabled),
		zap.Bool("metrics_enabled", cfg.Metrics.Enabled),
	)

	metrics.SetEnabled(cfg.Metrics.Enabled)
	client, err := relay.NewClient(cfg.Relay,
		relay.WithLogger(log),
		relay.WithRecorder(metrics.NewRecorder()),
	)
	if err != nil {
		return err
	}

	var metricsServer *metrics.Server
	if cfg.Metrics.Enabled {
		metricsServer = metrics.NewServer(&cfg.Metrics, client, log)
		if err := metricsServer.Start(); err != nil {
			return err
		}
	}

	client.OnWebhook(func(_ context.Context, e relay.WebhookEvent) (relay.Result, error) {
		log.Info("Webhook received",
			zap.String("event_id", e.ID),
			zap.String("event", e.EventType()),
			zap.Int64("timestamp", e.Timestamp),
		)
		return relay.Ack, nil
	})
	client.OnConnected(func(info relay.ConnectionInfo) {
		log.Info("Relay session established",
			zap.String("session_id", info.SessionID),
			zap.String("webhook_url", info.WebhookURL),
		)
	})
	client.OnDisconnected(func(info relay.DisconnectInfo) {
		log.Warn("Relay session lost", zap.String("reason", info.Reason), zap.String("message", info.Message))
	})
	client.OnReconnecting(func(info relay.ReconnectInfo) {
		log.Info("Scheduling reconnect", zap.Int("attempt", info.Attempt), zap.Duration("delay", info.Delay))
	})
	client.OnError(func(err error) {
		log.Error("Relay client error", zap.Error(err))
	})

	var fallbackServer *fallback.Server
	if cfg.Fallback.Enabled {
		fallbackServer = fallback.NewServer(&cfg.Fallback, client, log)
		if err := fallbackServer.Start(); err != nil {
			return err
		}
		if cfg.Fallback.Endpoint != "" {
			log.Info("Fallback deliveries expected at", zap.String("endpoint", cfg.Fallback.Endpoint))
		}
	}

	connectErr := make(chan error, 1)
	go func() {
		connectErr <- client.Connect(context.Background())
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	var result error
	select {
	case sig := <-quit:
		log.Info("Shutting down relay connector", zap.String("signal", sig.String()))
	case result = <-connectErr:
		if result != nil {
			log.Error("Relay client stopped", zap.Error(result))
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := client.Disconnect(ctx); err != nil {
		log.Warn("Relay client did not stop in time", zap.Error(err))
	}
	if fallbackServer != nil {
		if err := fallbackServer.Stop(ctx); err != nil {
			log.Warn("Failed to stop fallback server", zap.Error(err))
		}
	}
	if metricsServer != nil {
		if err := metricsServer.Stop(ctx); err != nil {
			log.Warn("Failed to stop metrics server", zap.Error(err))
		}
	}

	log.Info("Relay connector stopped")
	return result
}
