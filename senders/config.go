/*
 * Licensed to the Apache Software Foundation (ASF) under one or more
 * contributor license agreements.  See the NOTICE file distributed with
 * this work for additional information regarding copyright ownership.
 * The ASF licenses this file to You under the Apache License, Version 2.0
 * (the "License"); you may not use this file except in compliance with
 * the License.  You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package senders

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"github.com/go-kit/log"
	"github.com/sethvargo/go-envconfig"
)

// DirectConfig configures a sender that batches lines and posts them over
// HTTPS to an ingestion endpoint.
type DirectConfig struct {
	// URL is the ingestion endpoint, scheme and host.
	URL string `env:"LUMEN_URL"`
	// Token authenticates the requests.
	Token string `env:"LUMEN_API_TOKEN"`
	// Source is the default source tag for lines that carry none.
	Source string `env:"LUMEN_SOURCE"`

	FlushInterval time.Duration `env:"LUMEN_FLUSH_INTERVAL, default=1s"`
	BatchSize     int           `env:"LUMEN_BATCH_SIZE, default=10000"`
	MaxBufferSize int           `env:"LUMEN_MAX_BUFFER_SIZE, default=50000"`

	// InternalMetricsInterval is the self-reporting period of the SDK's
	// own counters.
	InternalMetricsInterval time.Duration `env:"LUMEN_INTERNAL_METRICS_INTERVAL, default=1m"`

	Logger log.Logger
}

// DirectConfigFromEnv builds a DirectConfig from the environment.
func DirectConfigFromEnv(ctx context.Context) (*DirectConfig, error) {
	var cfg DirectConfig
	if err := envconfig.Process(ctx, &cfg); err != nil {
		return nil, fmt.Errorf("process environment: %w", err)
	}
	return &cfg, nil
}

// Validate checks the configuration is usable.
func (c *DirectConfig) Validate() error {
	if c.URL == "" {
		return fmt.Errorf("ingestion URL cannot be empty")
	}
	u, err := url.Parse(c.URL)
	if err != nil {
		return fmt.Errorf("invalid ingestion URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("ingestion URL scheme must be http or https, got %q", u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("ingestion URL has no host")
	}
	if c.Token == "" {
		return fmt.Errorf("API token cannot be empty")
	}
	if c.FlushInterval <= 0 {
		return fmt.Errorf("flush interval must be positive")
	}
	if c.BatchSize <= 0 {
		return fmt.Errorf("batch size must be positive")
	}
	if c.MaxBufferSize <= 0 {
		return fmt.Errorf("max buffer size must be positive")
	}
	return nil
}

// ProxyConfig configures a sender that streams lines over persistent TCP
// connections to a local forwarding agent. A zero port disables that signal
// type.
type ProxyConfig struct {
	Host             string `env:"LUMEN_PROXY_HOST, default=localhost"`
	MetricsPort      int    `env:"LUMEN_PROXY_METRICS_PORT"`
	DistributionPort int    `env:"LUMEN_PROXY_DISTRIBUTION_PORT"`
	TracingPort      int    `env:"LUMEN_PROXY_TRACING_PORT"`
	Source           string `env:"LUMEN_SOURCE"`

	FlushInterval time.Duration `env:"LUMEN_FLUSH_INTERVAL, default=5s"`

	InternalMetricsInterval time.Duration `env:"LUMEN_INTERNAL_METRICS_INTERVAL, default=1m"`

	Logger log.Logger
}

// ProxyConfigFromEnv builds a ProxyConfig from the environment.
func ProxyConfigFromEnv(ctx context.Context) (*ProxyConfig, error) {
	var cfg ProxyConfig
	if err := envconfig.Process(ctx, &cfg); err != nil {
		return nil, fmt.Errorf("process environment: %w", err)
	}
	return &cfg, nil
}

// Validate checks the configuration is usable.
func (c *ProxyConfig) Validate() error {
	if c.Host == "" {
		return fmt.Errorf("proxy host cannot be empty")
	}
	if c.MetricsPort == 0 && c.DistributionPort == 0 && c.TracingPort == 0 {
		return fmt.Errorf("at least one proxy port must be configured")
	}
	for _, port := range []int{c.MetricsPort, c.DistributionPort, c.TracingPort} {
		if port < 0 || port > 65535 {
			return fmt.Errorf("invalid proxy port %d", port)
		}
	}
	if c.FlushInterval <= 0 {
		return fmt.Errorf("flush interval must be positive")
	}
	return nil
}

func pickLogger(logger log.Logger) log.Logger {
	if logger == nil {
		return log.NewNopLogger()
	}
	return logger
}
