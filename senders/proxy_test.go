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
	"net"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lumenhq/lumen-sdk-go/histogram"
	"github.com/lumenhq/lumen-sdk-go/lineproto"
)

// fakeAgent accepts proxy connections on a loopback port and records every
// line received.
type fakeAgent struct {
	listener net.Listener
	mu       sync.Mutex
	lines    []string
}

func newFakeAgent(t *testing.T) *fakeAgent {
	t.Helper()
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	a := &fakeAgent{listener: listener}
	go a.serve()
	t.Cleanup(func() { _ = listener.Close() })
	return a
}

func (a *fakeAgent) serve() {
	for {
		conn, err := a.listener.Accept()
		if err != nil {
			return
		}
		go func() {
			scanner := bufio.NewScanner(conn)
			for scanner.Scan() {
				a.mu.Lock()
				a.lines = append(a.lines, scanner.Text())
				a.mu.Unlock()
			}
			_ = conn.Close()
		}()
	}
}

func (a *fakeAgent) port() int {
	return a.listener.Addr().(*net.TCPAddr).Port
}

func (a *fakeAgent) received() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]string, len(a.lines))
	copy(out, a.lines)
	return out
}

func newTestProxySender(t *testing.T, cfg *ProxyConfig) *ProxySender {
	t.Helper()
	cfg.Source = "test-host"
	cfg.FlushInterval = time.Hour
	cfg.InternalMetricsInterval = time.Hour
	sender, err := NewProxySender(cfg)
	require.NoError(t, err)
	t.Cleanup(sender.Close)
	return sender
}

func TestProxySender_SendMetric(t *testing.T) {
	agent := newFakeAgent(t)
	sender := newTestProxySender(t, &ProxyConfig{Host: "127.0.0.1", MetricsPort: agent.port()})

	require.NoError(t, sender.SendMetric("request.latency", 42.5, 1700000000, "web-1", nil))
	require.NoError(t, sender.Flush())

	assert.Eventually(t, func() bool {
		lines := agent.received()
		return len(lines) == 1 && lines[0] == "\"request.latency\" 42.5 1700000000 source=\"web-1\""
	}, 2*time.Second, 10*time.Millisecond)
	assert.Zero(t, sender.GetFailureCount())
}

func TestProxySender_SendDistribution(t *testing.T) {
	agent := newFakeAgent(t)
	sender := newTestProxySender(t, &ProxyConfig{Host: "127.0.0.1", DistributionPort: agent.port()})

	centroids := []histogram.Centroid{{Value: 1.5, Count: 2}}
	require.NoError(t, sender.SendDistribution("request.latency", centroids, 1700000000, "", nil))
	require.NoError(t, sender.Flush())

	assert.Eventually(t, func() bool {
		lines := agent.received()
		return len(lines) == 1 && lines[0] == "!M 1700000000 #2 1.5 \"request.latency\" source=\"test-host\""
	}, 2*time.Second, 10*time.Millisecond)
}

func TestProxySender_SendSpan(t *testing.T) {
	agent := newFakeAgent(t)
	sender := newTestProxySender(t, &ProxyConfig{Host: "127.0.0.1", TracingPort: agent.port()})

	err := sender.SendSpan("checkout", "11111111-2222-3333-4444-555555555555",
		"66666666-7777-8888-9999-000000000000", nil, nil,
		[]lineproto.SpanTag{{Key: "env", Value: "prod"}}, 1700000000000, 35, "web-1")
	require.NoError(t, err)
	require.NoError(t, sender.Flush())

	assert.Eventually(t, func() bool {
		lines := agent.received()
		return len(lines) == 1
	}, 2*time.Second, 10*time.Millisecond)
}

func TestProxySender_PortNotConfigured(t *testing.T) {
	agent := newFakeAgent(t)
	sender := newTestProxySender(t, &ProxyConfig{Host: "127.0.0.1", MetricsPort: agent.port()})

	err := sender.SendDistribution("d", []histogram.Centroid{{Value: 1, Count: 1}}, 0, "s", nil)
	assert.ErrorIs(t, err, ErrPortNotConfigured)

	err = sender.SendSpan("s", "11111111-2222-3333-4444-555555555555",
		"66666666-7777-8888-9999-000000000000", nil, nil, nil, 0, 0, "s")
	assert.ErrorIs(t, err, ErrPortNotConfigured)
}

func TestProxySender_ReconnectsAfterFailure(t *testing.T) {
	// Point at a closed port first: sends fail and are counted.
	closed, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := closed.Addr().(*net.TCPAddr).Port
	require.NoError(t, closed.Close())

	sender := newTestProxySender(t, &ProxyConfig{Host: "127.0.0.1", MetricsPort: port})
	assert.Error(t, sender.SendMetric("m", 1, 0, "s", nil))
	assert.Equal(t, int64(1), sender.GetFailureCount())

	// Bring an agent up on the same port: the next send reconnects.
	agent := restartAgent(t, port)
	assert.Eventually(t, func() bool {
		if err := sender.SendMetric("m", 1, 0, "s", nil); err != nil {
			return false
		}
		_ = sender.Flush()
		return len(agent.received()) > 0
	}, 5*time.Second, 50*time.Millisecond)
}

func restartAgent(t *testing.T, port int) *fakeAgent {
	t.Helper()
	var listener net.Listener
	require.Eventually(t, func() bool {
		var err error
		listener, err = net.Listen("tcp", net.JoinHostPort("127.0.0.1", strconv.Itoa(port)))
		return err == nil
	}, 5*time.Second, 50*time.Millisecond)
	a := &fakeAgent{listener: listener}
	go a.serve()
	t.Cleanup(func() { _ = listener.Close() })
	return a
}

func TestProxySender_InvalidConfig(t *testing.T) {
	_, err := NewProxySender(&ProxyConfig{Host: "localhost"})
	assert.Error(t, err)
}
