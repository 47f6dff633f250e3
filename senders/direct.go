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
	"bytes"
	"compress/gzip"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"golang.org/x/sync/errgroup"

	"github.com/lumenhq/lumen-sdk-go/histogram"
	"github.com/lumenhq/lumen-sdk-go/lineproto"
	"github.com/lumenhq/lumen-sdk-go/sdkmetrics"
)

// Report formats accepted by the ingestion endpoint.
const (
	formatMetric    = "metric"
	formatHistogram = "histogram"
	formatTrace     = "trace"
)

const (
	reportPath     = "/report"
	requestTimeout = 30 * time.Second
)

// DirectSender batches lines per signal type and posts them as gzipped
// request bodies to the ingestion endpoint.
type DirectSender struct {
	endpoint      string
	token         string
	defaultSource string
	batchSize     int
	client        *http.Client
	logger        log.Logger

	metrics       *lineBuffer
	distributions *lineBuffer
	spans         *lineBuffer

	registry *sdkmetrics.Registry
	failures atomic.Int64

	closeOnce sync.Once
	done      chan struct{}
	wg        sync.WaitGroup
}

var _ Sender = (*DirectSender)(nil)

// NewDirectSender creates a sender posting to the endpoint described by cfg.
func NewDirectSender(cfg *DirectConfig) (*DirectSender, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid direct config: %w", err)
	}
	logger := pickLogger(cfg.Logger)

	s := &DirectSender{
		endpoint:      strings.TrimRight(cfg.URL, "/") + reportPath,
		token:         cfg.Token,
		defaultSource: cfg.Source,
		batchSize:     cfg.BatchSize,
		client:        &http.Client{Timeout: requestTimeout},
		logger:        logger,
		metrics:       newLineBuffer(cfg.MaxBufferSize),
		distributions: newLineBuffer(cfg.MaxBufferSize),
		spans:         newLineBuffer(cfg.MaxBufferSize),
		done:          make(chan struct{}),
	}

	s.registry = sdkmetrics.NewRegistry(s,
		sdkmetrics.Prefix("~sdk.go.core.sender.direct"),
		sdkmetrics.Source(cfg.Source),
		sdkmetrics.ReportInterval(cfg.InternalMetricsInterval),
	)
	s.registry.Start()

	s.wg.Add(1)
	go s.flushLoop(cfg.FlushInterval)
	return s, nil
}

func (s *DirectSender) flushLoop(interval time.Duration) {
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
func (s *DirectSender) SendMetric(name string, value float64, timestamp int64, source string, tags map[string]string) error {
	line, err := lineproto.MetricLine(name, value, timestamp, source, tags, s.defaultSource)
	if err != nil {
		s.registry.PointsTracker().Failed.Inc()
		return err
	}
	s.buffer(s.metrics, s.registry.PointsTracker(), line)
	return nil
}

// SendDeltaCounter queues a delta counter point.
func (s *DirectSender) SendDeltaCounter(name string, value float64, source string, tags map[string]string) error {
	return s.SendMetric(deltaCounterName(name), value, 0, source, tags)
}

// SendDistribution queues one flushed histogram minute.
func (s *DirectSender) SendDistribution(name string, centroids []histogram.Centroid, timestamp int64, source string, tags map[string]string) error {
	line, err := lineproto.HistogramLine(name, centroids, timestamp, source, tags, s.defaultSource)
	if err != nil {
		s.registry.HistogramsTracker().Failed.Inc()
		return err
	}
	s.buffer(s.distributions, s.registry.HistogramsTracker(), line)
	return nil
}

// SendSpan queues one trace span.
func (s *DirectSender) SendSpan(name, traceID, spanID string, parents, followsFrom []string, tags []lineproto.SpanTag, startMillis, durationMillis int64, source string) error {
	line, err := lineproto.SpanLine(name, traceID, spanID, parents, followsFrom, tags, startMillis, durationMillis, source, s.defaultSource)
	if err != nil {
		s.registry.SpansTracker().Failed.Inc()
		return err
	}
	s.buffer(s.spans, s.registry.SpansTracker(), line)
	return nil
}

func (s *DirectSender) buffer(buf *lineBuffer, tracker *sdkmetrics.SuccessTracker, line string) {
	if dropped := buf.offer(line); dropped > 0 {
		tracker.Dropped.Add(int64(dropped))
		level.Debug(s.logger).Log("msg", "buffer full, dropped oldest", "count", dropped)
	}
}

// Flush drains the buffers and posts them now instead of waiting for the
// flush timer.
func (s *DirectSender) Flush() error {
	g, ctx := errgroup.WithContext(context.Background())
	g.Go(func() error { return s.flushBuffer(ctx, s.metrics, formatMetric, s.registry.PointsTracker()) })
	g.Go(func() error { return s.flushBuffer(ctx, s.distributions, formatHistogram, s.registry.HistogramsTracker()) })
	g.Go(func() error { return s.flushBuffer(ctx, s.spans, formatTrace, s.registry.SpansTracker()) })
	return g.Wait()
}

// flushBuffer drains one buffer and posts it in batchSize chunks. Lines
// from a failed chunk are requeued for the next flush.
func (s *DirectSender) flushBuffer(ctx context.Context, buf *lineBuffer, format string, tracker *sdkmetrics.SuccessTracker) error {
	lines := buf.drain()
	if len(lines) == 0 {
		return nil
	}

	g, ctx := errgroup.WithContext(ctx)
	for start := 0; start < len(lines); start += s.batchSize {
		end := min(start+s.batchSize, len(lines))
		chunk := lines[start:end]
		g.Go(func() error {
			if err := s.post(ctx, format, chunk); err != nil {
				s.failures.Add(1)
				tracker.Failed.Add(int64(len(chunk)))
				s.requeue(buf, tracker, chunk)
				level.Warn(s.logger).Log("msg", "report failed", "format", format, "lines", len(chunk), "err", err)
				return err
			}
			tracker.Sent.Add(int64(len(chunk)))
			return nil
		})
	}
	return g.Wait()
}

func (s *DirectSender) requeue(buf *lineBuffer, tracker *sdkmetrics.SuccessTracker, lines []string) {
	for _, line := range lines {
		if dropped := buf.offer(line); dropped > 0 {
			tracker.Dropped.Add(int64(dropped))
		}
	}
}

func (s *DirectSender) post(ctx context.Context, format string, lines []string) error {
	var body bytes.Buffer
	zw := gzip.NewWriter(&body)
	for _, line := range lines {
		if _, err := io.WriteString(zw, line); err != nil {
			return fmt.Errorf("compress body: %w", err)
		}
	}
	if err := zw.Close(); err != nil {
		return fmt.Errorf("compress body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint+"?f="+format, &body)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/octet-stream")
	req.Header.Set("Content-Encoding", "gzip")
	req.Header.Set("Authorization", "Bearer "+s.token)

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("post report: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("report rejected: status %d", resp.StatusCode)
	}
	return nil
}

// GetFailureCount reports failed report posts so far.
func (s *DirectSender) GetFailureCount() int64 {
	return s.failures.Load()
}

// Close stops self-reporting, performs a final flush and releases the
// sender.
func (s *DirectSender) Close() {
	s.closeOnce.Do(func() {
		close(s.done)
		s.wg.Wait()
		s.registry.Stop()
		if err := s.Flush(); err != nil {
			level.Warn(s.logger).Log("msg", "final flush failed", "err", err)
		}
		s.client.CloseIdleConnections()
	})
}
