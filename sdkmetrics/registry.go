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

// Package sdkmetrics is the SDK's own metrics about itself: how many points,
// distributions and spans were sent, failed or dropped. A Registry reports
// these periodically through the same sender the application data uses.
package sdkmetrics

import (
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/exp/constraints"
)

// internalSender is the narrow slice of the sender surface the registry
// needs. It mirrors the sender API to avoid a dependency cycle.
type internalSender interface {
	SendMetric(name string, value float64, timestamp int64, source string, tags map[string]string) error
	SendDeltaCounter(name string, value float64, source string, tags map[string]string) error
}

// Incrementer is anything that counts up by one.
type Incrementer interface {
	Inc()
}

// Counter is a monotonically increasing counter, reported as a gauge of its
// cumulative value.
type Counter struct {
	v atomic.Int64
}

func (c *Counter) Inc()          { c.v.Add(1) }
func (c *Counter) Add(n int64)   { c.v.Add(n) }
func (c *Counter) Count() int64  { return c.v.Load() }

func (c *Counter) value() float64 { return float64(c.v.Load()) }
func (c *Counter) delta() bool    { return false }

// DeltaCounter reports the increment since its previous report and resets.
type DeltaCounter struct {
	Counter
}

func (c *DeltaCounter) value() float64 { return float64(c.v.Swap(0)) }
func (c *DeltaCounter) delta() bool    { return true }

type metric interface {
	value() float64
	delta() bool
}

// FunctionalGauge reports the result of a function at every reporting tick.
type FunctionalGauge[T constraints.Integer] struct {
	f func() T
}

// Value evaluates the gauge.
func (g *FunctionalGauge[T]) Value() T { return g.f() }

func (g *FunctionalGauge[T]) value() float64 { return float64(g.f()) }
func (g *FunctionalGauge[T]) delta() bool    { return false }

// SuccessTracker is the sent/failed/dropped triplet kept for each signal
// type.
type SuccessTracker struct {
	Sent    *DeltaCounter
	Failed  *DeltaCounter
	Dropped *DeltaCounter
}

// Option configures a Registry.
type Option func(*Registry)

// Prefix prepends a dotted prefix to every reported metric name.
func Prefix(prefix string) Option {
	return func(r *Registry) { r.prefix = prefix }
}

// Source sets the source tag on reported metrics.
func Source(source string) Option {
	return func(r *Registry) { r.source = source }
}

// Tags sets fixed point tags on reported metrics.
func Tags(tags map[string]string) Option {
	return func(r *Registry) { r.tags = tags }
}

// ReportInterval overrides the default one-minute reporting period.
// Non-positive intervals are ignored.
func ReportInterval(interval time.Duration) Option {
	return func(r *Registry) {
		if interval > 0 {
			r.interval = interval
		}
	}
}

// Registry owns the SDK's internal metrics and reports them on a timer.
type Registry struct {
	mu      sync.Mutex
	metrics map[string]metric

	sender   internalSender
	prefix   string
	source   string
	tags     map[string]string
	interval time.Duration

	points        *SuccessTracker
	distributions *SuccessTracker
	spans         *SuccessTracker

	done chan struct{}
	wg   sync.WaitGroup
}

// NewRegistry creates a registry reporting through sender.
func NewRegistry(sender internalSender, opts ...Option) *Registry {
	r := &Registry{
		metrics:  make(map[string]metric),
		sender:   sender,
		interval: time.Minute,
	}
	for _, opt := range opts {
		opt(r)
	}
	r.points = r.newSuccessTracker("points")
	r.distributions = r.newSuccessTracker("histograms")
	r.spans = r.newSuccessTracker("spans")
	return r
}

// PointsTracker tracks metric point outcomes.
func (r *Registry) PointsTracker() *SuccessTracker { return r.points }

// HistogramsTracker tracks distribution outcomes.
func (r *Registry) HistogramsTracker() *SuccessTracker { return r.distributions }

// SpansTracker tracks span outcomes.
func (r *Registry) SpansTracker() *SuccessTracker { return r.spans }

// NewCounter registers and returns a cumulative counter.
func (r *Registry) NewCounter(name string) *Counter {
	c := &Counter{}
	r.put(name, c)
	return c
}

// NewDeltaCounter registers and returns a delta counter.
func (r *Registry) NewDeltaCounter(name string) *DeltaCounter {
	c := &DeltaCounter{}
	r.put(name, c)
	return c
}

// NewGauge registers a functional gauge evaluated at report time.
func NewGauge[T constraints.Integer](r *Registry, name string, f func() T) *FunctionalGauge[T] {
	g := &FunctionalGauge[T]{f: f}
	r.put(name, g)
	return g
}

func (r *Registry) put(name string, m metric) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.metrics[name] = m
}

func (r *Registry) newSuccessTracker(kind string) *SuccessTracker {
	return &SuccessTracker{
		Sent:    r.NewDeltaCounter(kind + ".sent"),
		Failed:  r.NewDeltaCounter(kind + ".send.errors"),
		Dropped: r.NewDeltaCounter(kind + ".dropped"),
	}
}

// Start begins periodic reporting. It may be called at most once.
func (r *Registry) Start() {
	r.done = make(chan struct{})
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		ticker := time.NewTicker(r.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				r.Flush()
			case <-r.done:
				return
			}
		}
	}()
}

// Stop ends periodic reporting after a final flush.
func (r *Registry) Stop() {
	if r.done == nil {
		return
	}
	close(r.done)
	r.wg.Wait()
	r.done = nil
	r.Flush()
}

// Flush reports every registered metric once. Send errors are ignored here;
// the sender's own failure counter records them.
func (r *Registry) Flush() {
	r.mu.Lock()
	snapshot := make(map[string]metric, len(r.metrics))
	for name, m := range r.metrics {
		snapshot[name] = m
	}
	r.mu.Unlock()

	for name, m := range snapshot {
		full := name
		if r.prefix != "" {
			full = r.prefix + "." + name
		}
		if m.delta() {
			v := m.value()
			if v == 0 {
				continue
			}
			_ = r.sender.SendDeltaCounter(full, v, r.source, r.tags)
		} else {
			_ = r.sender.SendMetric(full, m.value(), 0, r.source, r.tags)
		}
	}
}
