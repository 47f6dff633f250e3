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
	"bufio"
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"

	"github.com/lumenhq/lumen-sdk-go/histogram"
	"github.com/lumenhq/lumen-sdk-go/lineproto"
	"github.com/lumenhq/lumen-sdk-go/sdkmetrics"
)

// ErrPortNotConfigured is returned when a signal type has no proxy port.
var ErrPortNotConfigured = errors.New("proxy port not configured for this signal type")

const connectTimeout = 10 * time.Second

// connectionHandler owns one persistent TCP connection, reconnecting lazily
// on the next send after a failure.
type connectionHandler struct {
	addr     string
	logger   log.Logger
	failures atomic.Int64

	mu     sync.Mutex
	conn   net.Conn
	writer *bufio.Writer
}

func newConnectionHandler(host string, port int, logger log.Logger) *connectionHandler {
	return &connectionHandler{
		addr:   net.JoinHostPort(host, strconv.Itoa(port)),
		logger: logger,
	}
}

// sendLine writes one newline-terminated line, establishing the connection
// first when needed. On write failure the connection is dropped so the next
// send reconnects.
func (h *connectionHandler) sendLine(line string) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.conn == nil {
		conn, err := net.DialTimeout("tcp", h.addr, connectTimeout)
		if err != nil {
			h.failures.Add(1)
			level.Warn(h.logger).Log("msg", "proxy connect failed", "addr", h.addr, "err", err)
			return fmt.Errorf("connect %s: %w", h.addr, err)
		}
		level.Debug(h.logger).Log("msg", "proxy connected", "addr", h.addr)
		h.conn = conn
		h.writer = bufio.NewWriter(conn)
	}

	if _, err := h.writer.WriteString(line); err != nil {
		h.dropConnLocked()
		h.failures.Add(1)
		return fmt.Errorf("write %s: %w", h.addr, err)
	}
	return nil
}

func (h *connectionHandler) flush() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.writer == nil {
		return nil
	}
	if err := h.writer.Flush(); err != nil {
		h.dropConnLocked()
		h.failures.Add(1)
		return fmt.Errorf("flush %s: %w", h.addr, err)
	}
	return nil
}

func (h *connectionHandler) close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.writer != nil {
		_ = h.writer.Flush()
	}
	h.dropConnLocked()
}

func (h *connectionHandler) dropConnLocked() {
	if h.conn != nil {
		_ = h.conn.Close()
	}
	h.conn = nil
	h.writer = nil
}

// ProxySender streams lines to a local forwarding agent over one persistent
// connection per signal type.
type ProxySender struct {
	defaultSource string
	logger        log.Logger

	metrics       *connectionHandler
	distributions *connectionHandler
	spans         *connectionHandler

	registry *sdkmetrics.Registry

	closeOnce sync.Once
	done      chan struct{}
	wg        sync.WaitGroup
}

var _ Sender = (*ProxySender)(nil)

// NewProxySender creates a sender streaming to the forwarding agent
// described by cfg.
func NewProxySender(cfg *ProxyConfig) (*ProxySender, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid proxy config: %w", err)
	}
	logger := pickLogger(cfg.Logger)

	s := &ProxySender{
		defaultSource: cfg.Source,
		logger:        logger,
		done:          make(chan struct{}),
	}
	if cfg.MetricsPort != 0 {
		s.metrics = newConnectionHandler(cfg.Host, cfg.MetricsPort, logger)
	}
	if cfg.DistributionPort != 0 {
		s.distributions = newConnectionHandler(cfg.Host, cfg.DistributionPort, logger)
	}
	if cfg.TracingPort != 0 {
		s.spans = newConnectionHandler(cfg.Host, cfg.TracingPort, logger)
	}

	s.registry = sdkmetrics.NewRegistry(s,
		sdkmetrics.Prefix("~sdk.go.core.sender.proxy"),
		sdkmetrics.Source(cfg.Source),
		sdkmetrics.ReportInterval(cfg.InternalMetricsInterval),
	)
	s.registry.Start()

	s.wg.Add(1)
	go s.flushLoop(cfg.FlushInterval)
	return s, nil
}

func (s *ProxySender) flushLoop(interval time.Duration) {
	defer s.wg.Done()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if err := s.Flush(); err != nil {
				level.Warn(s.logger).Log("msg", "periodic flush failed", "err", err)
			}
		case <-s.done:
			return
		}
	}
}

// SendMetric queues a single metric point.
func (s *ProxySender) SendMetric(name string, value float64, timestamp int64, source string, tags map[string]string) error {
	tracker := s.registry.PointsTracker()
	if s.metrics == nil {
		tracker.Dropped.Inc()
		return fmt.Errorf("%w: metrics", ErrPortNotConfigured)
	}
	line, err := lineproto.MetricLine(name, value, timestamp, source, tags, s.defaultSource)
	if err != nil {
		tracker.Failed.Inc()
		return err
	}
	if err := s.metrics.sendLine(line); err != nil {
		tracker.Failed.Inc()
		return err
	}
	tracker.Sent.Inc()
	return nil
}

// SendDeltaCounter queues a delta counter point.
func (s *ProxySender) SendDeltaCounter(name string, value float64, source string, tags map[string]string) error {
	return s.SendMetric(deltaCounterName(name), value, 0, source, tags)
}

// SendDistribution queues one flushed histogram minute.
func (s *ProxySender) SendDistribution(name string, centroids []histogram.Centroid, timestamp int64, source string, tags map[string]string) error {
	tracker := s.registry.HistogramsTracker()
	if s.distributions == nil {
		tracker.Dropped.Inc()
		return fmt.Errorf("%w: distributions", ErrPortNotConfigured)
	}
	line, err := lineproto.HistogramLine(name, centroids, timestamp, source, tags, s.defaultSource)
	if err != nil {
		tracker.Failed.Inc()
		return err
	}
	if err := s.distributions.sendLine(line); err != nil {
		tracker.Failed.Inc()
		return err
	}
	tracker.Sent.Inc()
	return nil
}

// SendSpan queues one trace span.
func (s *ProxySender) SendSpan(name, traceID, spanID string, parents, followsFrom []string, tags []lineproto.SpanTag, startMillis, durationMillis int64, source string) error {
	tracker := s.registry.SpansTracker()
	if s.spans == nil {
		tracker.Dropped.Inc()
		return fmt.Errorf("%w: spans", ErrPortNotConfigured)
	}
	line, err := lineproto.SpanLine(name, traceID, spanID, parents, followsFrom, tags, startMillis, durationMillis, source, s.defaultSource)
	if err != nil {
		tracker.Failed.Inc()
		return err
	}
	if err := s.spans.sendLine(line); err != nil {
		tracker.Failed.Inc()
		return err
	}
	tracker.Sent.Inc()
	return nil
}

// Flush pushes all buffered lines down their connections.
func (s *ProxySender) Flush() error {
	var errs []error
	for _, h := range s.handlers() {
		if err := h.flush(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// GetFailureCount reports failed sends across all connections.
func (s *ProxySender) GetFailureCount() int64 {
	var total int64
	for _, h := range s.handlers() {
		total += h.failures.Load()
	}
	return total
}

// Close stops self-reporting, flushes and closes the connections.
func (s *ProxySender) Close() {
	s.closeOnce.Do(func() {
		close(s.done)
		s.wg.Wait()
		s.registry.Stop()
		_ = s.Flush()
		for _, h := range s.handlers() {
			h.close()
		}
	})
}

func (s *ProxySender) handlers() []*connectionHandler {
	var out []*connectionHandler
	for _, h := range []*connectionHandler{s.metrics, s.distributions, s.spans} {
		if h != nil {
			out = append(out, h)
		}
	}
	return out
}
