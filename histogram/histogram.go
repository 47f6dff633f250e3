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

// Package histogram implements a streaming histogram that aggregates
// weighted samples into per-minute, per-worker t-Digest sketches. Many
// workers update concurrently with minimal contention; a periodic flusher
// drains completed minutes into Distribution records exactly once; snapshot
// readers merge all retained data into summary statistics without disturbing
// either.
package histogram

import (
	"sync"
)

// DefaultMaxBins bounds the retained minutes per worker when flush falls
// behind; the oldest window is silently dropped past this depth.
const DefaultMaxBins = 10

// Distribution is the flushed aggregate of one minute window, immutable
// once produced.
type Distribution struct {
	// Timestamp is the window start in milliseconds since the epoch.
	Timestamp int64
	// Centroids hold the window's samples, ascending by value.
	Centroids []Centroid
}

// Option configures a Histogram.
type Option func(*Histogram)

// Accuracy sets the sketch accuracy parameter.
func Accuracy(accuracy float64) Option {
	return func(h *Histogram) { h.accuracy = accuracy }
}

// Compression sets the sketch compression parameter.
func Compression(compression float64) Option {
	return func(h *Histogram) { h.compression = compression }
}

// MaxBins sets the retained-minutes bound per worker.
func MaxBins(n int) Option {
	return func(h *Histogram) { h.maxBins = n }
}

// WithClock substitutes the time source, used by tests.
func WithClock(clock Clock) Option {
	return func(h *Histogram) { h.clock = clock }
}

// Histogram is the public facade over the windowed sketch registry. All
// methods are safe for concurrent use; see Worker for the low-contention
// update path.
type Histogram struct {
	accuracy    float64
	compression float64
	maxBins     int
	clock       Clock

	registry *binRegistry

	defMu      sync.Mutex
	defaultSeq *workerBins
}

// New creates an empty Histogram.
func New(opts ...Option) (*Histogram, error) {
	h := &Histogram{
		accuracy:    DefaultAccuracy,
		compression: DefaultCompression,
		maxBins:     DefaultMaxBins,
		clock:       systemClock{},
	}
	for _, opt := range opts {
		opt(h)
	}
	// sketch parameter validation happens once, up front
	if _, err := NewSketch(h.accuracy, h.compression); err != nil {
		return nil, err
	}
	if h.maxBins < 1 {
		h.maxBins = 1
	}
	h.registry = newBinRegistry()
	_, h.defaultSeq = h.registry.register()
	return h, nil
}

// Worker registers a new logical update stream and returns its handle.
// Updates through distinct workers never contend with each other. The
// caller owns the handle's lifetime and should Close it when the stream
// ends; retained data survives until the next flush.
func (h *Histogram) Worker() *Worker {
	id, seq := h.registry.register()
	return &Worker{hist: h, id: id, seq: seq}
}

// Update records a single sample with weight 1 through the shared default
// worker. Callers with a long-lived goroutine of their own should prefer a
// dedicated Worker.
func (h *Histogram) Update(value float64) error {
	h.defMu.Lock()
	defer h.defMu.Unlock()
	return h.updateSeq(h.defaultSeq, func(s *Sketch) error {
		return s.Add(value, 1)
	})
}

// BulkUpdate records value/weight pairs through the shared default worker.
// Pairing stops at the shorter of the two slices; extra entries in the
// longer one are ignored.
func (h *Histogram) BulkUpdate(values []float64, weights []int32) error {
	h.defMu.Lock()
	defer h.defMu.Unlock()
	return h.updateSeq(h.defaultSeq, bulkAdd(values, weights))
}

func (h *Histogram) updateSeq(seq *workerBins, fn func(*Sketch) error) error {
	minute := minuteStart(h.clock.Now())
	return seq.update(minute, h.maxBins, h.newBin, fn)
}

func (h *Histogram) newBin(minute int64) *minuteBin {
	return newMinuteBin(minute, h.accuracy, h.compression)
}

func bulkAdd(values []float64, weights []int32) func(*Sketch) error {
	return func(s *Sketch) error {
		n := min(len(values), len(weights))
		for i := 0; i < n; i++ {
			if err := s.Add(values[i], float64(weights[i])); err != nil {
				return err
			}
		}
		return nil
	}
}

// FlushDistributions drains every bin whose minute has passed and returns
// one Distribution per drained bin. Drained data is gone from the
// histogram: a second flush with no intervening updates returns nothing.
// The open current-minute bin is never drained. Output order across workers
// is unspecified.
func (h *Histogram) FlushDistributions() []Distribution {
	cutoff := minuteStart(h.clock.Now())
	var out []Distribution
	h.registry.forEachWorker(func(w *workerBins) {
		for _, bin := range w.drainExpired(cutoff) {
			out = append(out, h.finalize(bin))
		}
	})
	return out
}

// finalize converts a drained bin into its immutable Distribution,
// compacting oversized sketches first.
func (h *Histogram) finalize(bin *minuteBin) Distribution {
	if float64(bin.sketch.Size()) > 2/h.accuracy {
		bin.sketch.rebuild()
	}
	return Distribution{
		Timestamp: bin.minute,
		Centroids: bin.sketch.Centroids(),
	}
}

// GetSnapshot merges every retained bin, the open minute included, into a
// read-only summary. Nothing is drained; the call is repeatable and safe to
// run concurrently with updates and flushes.
func (h *Histogram) GetSnapshot() *Snapshot {
	merged, _ := NewSketch(h.accuracy, h.compression)
	h.registry.forEachWorker(func(w *workerBins) {
		w.forEachBin(func(bin *minuteBin) {
			if bin.sketch.IsEmpty() {
				return
			}
			// sketch parameters and weights are valid by construction
			_ = merged.Merge(bin.sketch)
		})
	})
	return &Snapshot{sketch: merged}
}

// Worker is the handle for one logical update stream. A Worker must not be
// used from multiple goroutines at once; that is the whole point of having
// one per stream.
type Worker struct {
	hist *Histogram
	id   uint64
	seq  *workerBins
}

// Update records a single sample with weight 1.
func (w *Worker) Update(value float64) error {
	return w.hist.updateSeq(w.seq, func(s *Sketch) error {
		return s.Add(value, 1)
	})
}

// BulkUpdate records value/weight pairs, truncating to the shorter slice.
func (w *Worker) BulkUpdate(values []float64, weights []int32) error {
	return w.hist.updateSeq(w.seq, bulkAdd(values, weights))
}

// Close deregisters the worker. Data it already recorded remains until the
// next flush; further updates through the handle are a caller bug but still
// land in the closed sequence rather than being lost.
func (w *Worker) Close() {
	w.hist.registry.deregister(w.id)
}
