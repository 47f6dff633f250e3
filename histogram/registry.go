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

package histogram

import (
	"encoding/binary"
	"sync"
	"sync/atomic"

	"github.com/cespare/xxhash/v2"
)

// workerBins is the ordered sequence of per-minute bins owned by one worker,
// ascending by window start and bounded to maxBins entries.
//
// Lock discipline: the sequence has exactly one mutating owner (the worker),
// so the RWMutex roles are inverted relative to the usual pattern. The owner
// updates the open bin's sketch under the read lock, which is safe because
// no second owner exists. Everything that must not run concurrently with
// those sketch writes takes the write lock: bin creation and eviction by the
// owner, and draining or reading by the flusher and snapshot takers.
type workerBins struct {
	mu     sync.RWMutex
	bins   []*minuteBin
	closed bool
}

// update applies fn to the sketch of the bin for the given minute, creating
// the bin first when the minute has advanced. Only the owning worker may
// call update.
func (w *workerBins) update(minute int64, maxBins int, newBin func(int64) *minuteBin, fn func(*Sketch) error) error {
	w.mu.RLock()
	if n := len(w.bins); n > 0 && w.bins[n-1].minute == minute {
		err := fn(w.bins[n-1].sketch)
		w.mu.RUnlock()
		return err
	}
	w.mu.RUnlock()

	w.mu.Lock()
	defer w.mu.Unlock()
	n := len(w.bins)
	if n == 0 || w.bins[n-1].minute != minute {
		w.bins = append(w.bins, newBin(minute))
		if len(w.bins) > maxBins {
			// flush has fallen behind, silently drop the oldest window
			copy(w.bins, w.bins[1:])
			w.bins[len(w.bins)-1] = nil
			w.bins = w.bins[:len(w.bins)-1]
		}
	}
	return fn(w.bins[len(w.bins)-1].sketch)
}

// drainExpired removes and returns all bins whose window started before
// cutoff. Bins at or after the cutoff, including the open current bin, are
// never returned.
func (w *workerBins) drainExpired(cutoff int64) []*minuteBin {
	w.mu.Lock()
	defer w.mu.Unlock()

	n := 0
	for n < len(w.bins) && w.bins[n].minute < cutoff {
		n++
	}
	if n == 0 {
		return nil
	}
	expired := make([]*minuteBin, n)
	copy(expired, w.bins)
	remaining := copy(w.bins, w.bins[n:])
	for i := remaining; i < len(w.bins); i++ {
		w.bins[i] = nil
	}
	w.bins = w.bins[:remaining]
	return expired
}

// forEachBin applies fn to every retained bin, including the open current
// bin, while holding the sequence exclusively.
func (w *workerBins) forEachBin(fn func(*minuteBin)) {
	w.mu.Lock()
	defer w.mu.Unlock()
	for _, b := range w.bins {
		fn(b)
	}
}

func (w *workerBins) close() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.closed = true
}

// drained reports whether the sequence belongs to a closed worker and holds
// no more data, making it eligible for pruning.
func (w *workerBins) drained() bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.closed && len(w.bins) == 0
}

const registryShards = 16 // power of two

// binRegistry tracks the live worker sequences, sharded to keep registration
// and iteration from serializing on a single lock under high worker counts.
// Sequences for closed workers are pruned opportunistically during
// iteration, once their remaining bins have been drained.
type binRegistry struct {
	nextID atomic.Uint64
	shards [registryShards]registryShard
}

type registryShard struct {
	mu      sync.RWMutex
	workers map[uint64]*workerBins
}

func newBinRegistry() *binRegistry {
	r := &binRegistry{}
	for i := range r.shards {
		r.shards[i].workers = make(map[uint64]*workerBins)
	}
	return r
}

func shardIndex(id uint64) uint64 {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], id)
	return xxhash.Sum64(b[:]) & (registryShards - 1)
}

// register creates a new worker sequence and returns it with its id.
func (r *binRegistry) register() (uint64, *workerBins) {
	id := r.nextID.Add(1)
	w := &workerBins{}
	shard := &r.shards[shardIndex(id)]
	shard.mu.Lock()
	shard.workers[id] = w
	shard.mu.Unlock()
	return id, w
}

// deregister marks the worker's sequence closed. The sequence stays
// registered until its remaining bins have been flushed, then it is pruned
// during a later iteration.
func (r *binRegistry) deregister(id uint64) {
	shard := &r.shards[shardIndex(id)]
	shard.mu.RLock()
	w := shard.workers[id]
	shard.mu.RUnlock()
	if w != nil {
		w.close()
	}
}

// forEachWorker applies fn to every live worker sequence, one sequence at a
// time, and prunes sequences of closed workers that hold no more data.
func (r *binRegistry) forEachWorker(fn func(*workerBins)) {
	for i := range r.shards {
		shard := &r.shards[i]

		shard.mu.RLock()
		ids := make([]uint64, 0, len(shard.workers))
		seqs := make([]*workerBins, 0, len(shard.workers))
		for id, w := range shard.workers {
			ids = append(ids, id)
			seqs = append(seqs, w)
		}
		shard.mu.RUnlock()

		var prune []uint64
		for j, w := range seqs {
			fn(w)
			if w.drained() {
				prune = append(prune, ids[j])
			}
		}
		if len(prune) == 0 {
			continue
		}
		shard.mu.Lock()
		for _, id := range prune {
			if w, ok := shard.workers[id]; ok && w.drained() {
				delete(shard.workers, id)
			}
		}
		shard.mu.Unlock()
	}
}
