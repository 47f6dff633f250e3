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

// Package senders delivers line-protocol telemetry either over persistent
// TCP connections to a local forwarding agent (proxy mode) or as batched
// HTTPS posts to a remote ingestion endpoint (direct mode). One sender
// instance is shared per process by the instrumentation libraries feeding
// it.
package senders

import (
	"github.com/lumenhq/lumen-sdk-go/histogram"
	"github.com/lumenhq/lumen-sdk-go/lineproto"
)

// Sender is the delivery surface shared by proxy and direct modes. All
// methods are safe for concurrent use.
type Sender interface {
	// SendMetric queues a single metric point. A zero timestamp is
	// assigned at ingestion.
	SendMetric(name string, value float64, timestamp int64, source string, tags map[string]string) error

	// SendDeltaCounter queues a delta counter, aggregated server side.
	// The name gains a delta prefix when it lacks one.
	SendDeltaCounter(name string, value float64, source string, tags map[string]string) error

	// SendDistribution queues one flushed histogram minute.
	SendDistribution(name string, centroids []histogram.Centroid, timestamp int64, source string, tags map[string]string) error

	// SendSpan queues one trace span.
	SendSpan(name, traceID, spanID string, parents, followsFrom []string, tags []lineproto.SpanTag, startMillis, durationMillis int64, source string) error

	// Flush pushes everything buffered out now instead of waiting for
	// the flush timer.
	Flush() error

	// GetFailureCount reports how many sends have failed so far.
	GetFailureCount() int64

	// Close flushes and releases connections. The sender is unusable
	// afterwards.
	Close()
}

// deltaCounterName guarantees a delta prefix on the metric name.
func deltaCounterName(name string) string {
	if lineproto.HasDeltaPrefix(name) {
		return name
	}
	return lineproto.DeltaPrefix + name
}
