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
	"compress/gzip"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lumenhq/lumen-sdk-go/histogram"
)

type reportRequest struct {
	format string
	auth   string
	body   string
}

// fakeIngest records every /report request after decompressing the body.
type fakeIngest struct {
	mu       sync.Mutex
	requests []reportRequest
	status   int
}

func newFakeIngest() *fakeIngest {
	return &fakeIngest{status: http.StatusOK}
}

func (f *fakeIngest) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	body := r.Body
	if r.Header.Get("Content-Encoding") == "gzip" {
		zr, err := gzip.NewReader(r.Body)
		if err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		defer zr.Close()
		body = zr
	}
	data, err := io.ReadAll(body)
	if err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	f.mu.Lock()
	f.requests = append(f.requests, reportRequest{
		format: r.URL.Query().Get("f"),
		auth:   r.Header.Get("Authorization"),
		body:   string(data),
	})
	status := f.status
	f.mu.Unlock()
	w.WriteHeader(status)
}

func (f *fakeIngest) setStatus(status int) {
	f.mu.Lock()
	f.status = status
	f.mu.Unlock()
}

func (f *fakeIngest) byFormat(format string) []reportRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []reportRequest
	for _, req := range f.requests {
		if req.format == format {
			out = append(out, req)
		}
	}
	return out
}

func newTestDirectSender(t *testing.T, url string) (*DirectSender, *DirectConfig) {
	t.Helper()
	cfg := validDirectConfig()
	cfg.URL = url
	cfg.Source = "test-host"
	// Flush manually; keep the timers out of the way.
	cfg.FlushInterval = time.Hour
	cfg.InternalMetricsInterval = time.Hour
	sender, err := NewDirectSender(cfg)
	require.NoError(t, err)
	t.Cleanup(sender.Close)
	return sender, cfg
}

func TestDirectSender_SendMetric(t *testing.T) {
	ingest := newFakeIngest()
	server := httptest.NewServer(ingest)
	defer server.Close()

	sender, _ := newTestDirectSender(t, server.URL)
	require.NoError(t, sender.SendMetric("request.latency", 42.5, 1700000000, "web-1", map[string]string{"env": "prod"}))
	require.NoError(t, sender.Flush())

	reqs := ingest.byFormat(formatMetric)
	require.Len(t, reqs, 1)
	assert.Equal(t, "Bearer secret", reqs[0].auth)
	assert.Equal(t, "\"request.latency\" 42.5 1700000000 source=\"web-1\" \"env\"=\"prod\"\n", reqs[0].body)
	assert.Zero(t, sender.GetFailureCount())
}

func TestDirectSender_SendDeltaCounter(t *testing.T) {
	ingest := newFakeIngest()
	server := httptest.NewServer(ingest)
	defer server.Close()

	sender, _ := newTestDirectSender(t, server.URL)
	require.NoError(t, sender.SendDeltaCounter("checkouts", 3, "web-1", nil))
	require.NoError(t, sender.Flush())

	reqs := ingest.byFormat(formatMetric)
	require.Len(t, reqs, 1)
	assert.True(t, strings.HasPrefix(reqs[0].body, "\"∆checkouts\""), "line: %q", reqs[0].body)
}

func TestDirectSender_SendDistribution(t *testing.T) {
	ingest := newFakeIngest()
	server := httptest.NewServer(ingest)
	defer server.Close()

	sender, _ := newTestDirectSender(t, server.URL)
	centroids := []histogram.Centroid{{Value: 1.5, Count: 2}, {Value: 30, Count: 1}}
	require.NoError(t, sender.SendDistribution("request.latency", centroids, 1700000000, "", nil))
	require.NoError(t, sender.Flush())

	reqs := ingest.byFormat(formatHistogram)
	require.Len(t, reqs, 1)
	assert.Contains(t, reqs[0].body, "!M 1700000000")
	assert.Contains(t, reqs[0].body, "#2 1.5")
	assert.Contains(t, reqs[0].body, "source=\"test-host\"")
}

func TestDirectSender_Batching(t *testing.T) {
	ingest := newFakeIngest()
	server := httptest.NewServer(ingest)
	defer server.Close()

	sender, cfg := newTestDirectSender(t, server.URL)
	cfg.BatchSize = 10
	sender.batchSize = 10

	for i := 0; i < 25; i++ {
		require.NoError(t, sender.SendMetric("m", float64(i), 0, "s", nil))
	}
	require.NoError(t, sender.Flush())

	reqs := ingest.byFormat(formatMetric)
	require.Len(t, reqs, 3)
	total := 0
	for _, req := range reqs {
		total += strings.Count(req.body, "\n")
	}
	assert.Equal(t, 25, total)
}

func TestDirectSender_FailedPostRequeues(t *testing.T) {
	ingest := newFakeIngest()
	server := httptest.NewServer(ingest)
	defer server.Close()

	sender, _ := newTestDirectSender(t, server.URL)
	ingest.setStatus(http.StatusServiceUnavailable)

	require.NoError(t, sender.SendMetric("m", 1, 0, "s", nil))
	assert.Error(t, sender.Flush())
	assert.Equal(t, int64(1), sender.GetFailureCount())
	assert.Equal(t, 1, sender.metrics.len())

	ingest.setStatus(http.StatusOK)
	require.NoError(t, sender.Flush())
	assert.Zero(t, sender.metrics.len())
	require.Len(t, ingest.byFormat(formatMetric), 2)
}

func TestDirectSender_InvalidLineRejected(t *testing.T) {
	ingest := newFakeIngest()
	server := httptest.NewServer(ingest)
	defer server.Close()

	sender, _ := newTestDirectSender(t, server.URL)
	assert.Error(t, sender.SendMetric("", 1, 0, "s", nil))
	require.NoError(t, sender.Flush())
	assert.Empty(t, ingest.byFormat(formatMetric))
}

func TestDirectSender_InvalidConfig(t *testing.T) {
	cfg := validDirectConfig()
	cfg.Token = ""
	_, err := NewDirectSender(cfg)
	assert.Error(t, err)
}
