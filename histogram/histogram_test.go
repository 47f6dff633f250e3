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
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	// arbitrary fixed instant, aligned to a minute boundary
	return &fakeClock{now: time.UnixMilli(1_700_000_040_000)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func TestNew(t *testing.T) {
	t.Run("Defaults", func(t *testing.T) {
		hist, err := New()
		assert.NoError(t, err)
		assert.NotNil(t, hist)
	})

	t.Run("Invalid Accuracy", func(t *testing.T) {
		_, err := New(Accuracy(-1))
		assert.ErrorIs(t, err, ErrInvalidAccuracy)
	})

	t.Run("Invalid Compression", func(t *testing.T) {
		_, err := New(Compression(1))
		assert.ErrorIs(t, err, ErrInvalidCompression)
	})
}

func TestHistogram_WeightedSummary(t *testing.T) {
	// nine weighted samples spread over six orders of magnitude
	hist, err := New(WithClock(newFakeClock()))
	require.NoError(t, err)

	values := []float64{0.1, 1, 10, 100, 1000, 10000, 100000}
	weights := []int32{1, 1, 2, 1, 1, 2, 1}
	require.NoError(t, hist.BulkUpdate(values, weights))

	snap := hist.GetSnapshot()
	assert.Equal(t, int64(9), snap.Count())
	assert.Equal(t, 100000.0, snap.Max())
	assert.Equal(t, 0.1, snap.Min())
	assert.InDelta(t, 121121.1, snap.Sum(), 0.01)
}

func TestHistogram_UniformThousand(t *testing.T) {
	hist, err := New(WithClock(newFakeClock()))
	require.NoError(t, err)

	for i := 1; i <= 1000; i++ {
		require.NoError(t, hist.Update(float64(i)))
	}

	snap := hist.GetSnapshot()
	assert.Equal(t, int64(1000), snap.Count())
	assert.InDelta(t, 500.5, snap.Mean(), 1e-6)

	median, err := snap.GetValue(0.5)
	assert.NoError(t, err)
	assert.InDelta(t, 500.5, median, 2)

	p99, err := snap.GetValue(0.99)
	assert.NoError(t, err)
	assert.InDelta(t, 990.5, p99, 1)
}

func TestHistogram_FlushDistributions(t *testing.T) {
	t.Run("Drains One Bin Per Past Minute", func(t *testing.T) {
		clock := newFakeClock()
		hist, err := New(WithClock(clock))
		require.NoError(t, err)

		require.NoError(t, hist.Update(10))
		require.NoError(t, hist.Update(20))
		minute0 := minuteStart(clock.Now())

		clock.Advance(time.Minute)
		require.NoError(t, hist.Update(30))
		minute1 := minuteStart(clock.Now())

		clock.Advance(time.Minute)
		distributions := hist.FlushDistributions()
		require.Len(t, distributions, 2)

		byTimestamp := map[int64][]Centroid{}
		for _, d := range distributions {
			byTimestamp[d.Timestamp] = d.Centroids
		}
		require.Contains(t, byTimestamp, minute0)
		require.Contains(t, byTimestamp, minute1)
		assert.Equal(t, int32(2), centroidTotal(byTimestamp[minute0]))
		assert.Equal(t, int32(1), centroidTotal(byTimestamp[minute1]))
	})

	t.Run("Second Flush Yields Nothing", func(t *testing.T) {
		clock := newFakeClock()
		hist, err := New(WithClock(clock))
		require.NoError(t, err)

		require.NoError(t, hist.Update(1))
		clock.Advance(time.Minute)

		assert.Len(t, hist.FlushDistributions(), 1)
		assert.Empty(t, hist.FlushDistributions())
	})

	t.Run("Never Drains The Open Minute", func(t *testing.T) {
		clock := newFakeClock()
		hist, err := New(WithClock(clock))
		require.NoError(t, err)

		require.NoError(t, hist.Update(1))
		assert.Empty(t, hist.FlushDistributions())

		// the sample is still visible to snapshots
		assert.Equal(t, int64(1), hist.GetSnapshot().Count())
	})

	t.Run("Oldest Bins Evicted Past MaxBins", func(t *testing.T) {
		clock := newFakeClock()
		hist, err := New(WithClock(clock), MaxBins(2))
		require.NoError(t, err)

		for i := 0; i < 4; i++ {
			require.NoError(t, hist.Update(float64(i)))
			clock.Advance(time.Minute)
		}

		distributions := hist.FlushDistributions()
		assert.Len(t, distributions, 2)
	})

	t.Run("Flush Uses Per Worker Bins", func(t *testing.T) {
		clock := newFakeClock()
		hist, err := New(WithClock(clock))
		require.NoError(t, err)

		w1 := hist.Worker()
		w2 := hist.Worker()
		require.NoError(t, w1.Update(5))
		require.NoError(t, w2.Update(6))
		clock.Advance(time.Minute)

		distributions := hist.FlushDistributions()
		assert.Len(t, distributions, 2)
		var total int32
		for _, d := range distributions {
			total += centroidTotal(d.Centroids)
		}
		assert.Equal(t, int32(2), total)
	})
}

func TestHistogram_GetSnapshot(t *testing.T) {
	t.Run("Merges Flushed And Open Minutes", func(t *testing.T) {
		clock := newFakeClock()
		hist, err := New(WithClock(clock))
		require.NoError(t, err)

		require.NoError(t, hist.Update(1))
		clock.Advance(time.Minute)
		require.NoError(t, hist.Update(2))

		snap := hist.GetSnapshot()
		assert.Equal(t, int64(2), snap.Count())
		assert.Equal(t, 1.0, snap.Min())
		assert.Equal(t, 2.0, snap.Max())
	})

	t.Run("Repeatable", func(t *testing.T) {
		hist, err := New(WithClock(newFakeClock()))
		require.NoError(t, err)

		require.NoError(t, hist.Update(3))
		assert.Equal(t, int64(1), hist.GetSnapshot().Count())
		assert.Equal(t, int64(1), hist.GetSnapshot().Count())
	})

	t.Run("Empty Histogram", func(t *testing.T) {
		hist, err := New(WithClock(newFakeClock()))
		require.NoError(t, err)

		snap := hist.GetSnapshot()
		assert.Equal(t, int64(0), snap.Count())
		assert.True(t, isNaN(snap.Min()))
		assert.True(t, isNaN(snap.Max()))
		_, err = snap.GetValue(0.5)
		assert.ErrorIs(t, err, ErrEmptySketch)
	})

	t.Run("Standard Deviation", func(t *testing.T) {
		hist, err := New(WithClock(newFakeClock()))
		require.NoError(t, err)

		for _, v := range []float64{2, 4, 4, 4, 5, 5, 7, 9} {
			require.NoError(t, hist.Update(v))
		}
		snap := hist.GetSnapshot()
		assert.InDelta(t, 5.0, snap.Mean(), 1e-9)
		assert.InDelta(t, 2.0, snap.StdDev(), 1e-9)
	})
}

func TestHistogram_BulkUpdate(t *testing.T) {
	t.Run("Truncates To Shorter Slice", func(t *testing.T) {
		hist, err := New(WithClock(newFakeClock()))
		require.NoError(t, err)

		require.NoError(t, hist.BulkUpdate([]float64{1, 2, 3, 4}, []int32{1, 1}))
		assert.Equal(t, int64(2), hist.GetSnapshot().Count())

		require.NoError(t, hist.BulkUpdate([]float64{5}, []int32{2, 9, 9}))
		assert.Equal(t, int64(4), hist.GetSnapshot().Count())
	})

	t.Run("Non-Positive Weight Returns Error", func(t *testing.T) {
		hist, err := New(WithClock(newFakeClock()))
		require.NoError(t, err)

		err = hist.BulkUpdate([]float64{1, 2}, []int32{1, 0})
		assert.ErrorIs(t, err, ErrNonPositiveWeight)
	})
}

func TestHistogram_ConcurrentUpdates(t *testing.T) {
	hist, err := New(WithClock(newFakeClock()))
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 1; i <= 100; i++ {
		wg.Add(1)
		go func(v float64) {
			defer wg.Done()
			worker := hist.Worker()
			defer worker.Close()
			assert.NoError(t, worker.Update(v))
		}(float64(i))
	}
	wg.Wait()

	snap := hist.GetSnapshot()
	assert.Equal(t, int64(100), snap.Count())
	assert.InDelta(t, 5050.0, snap.Sum(), 1e-6)
	assert.Equal(t, 1.0, snap.Min())
	assert.Equal(t, 100.0, snap.Max())
}

func TestHistogram_ConcurrentFlushAndUpdate(t *testing.T) {
	clock := newFakeClock()
	hist, err := New(WithClock(clock))
	require.NoError(t, err)

	const workers = 8
	const perWorker = 2000

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			worker := hist.Worker()
			defer worker.Close()
			for j := 0; j < perWorker; j++ {
				assert.NoError(t, worker.Update(float64(j)))
				if j%500 == 0 {
					clock.Advance(time.Second)
				}
			}
		}()
	}

	stop := make(chan struct{})
	done := make(chan struct{})
	var flushed int64
	go func() {
		defer close(done)
		for {
			select {
			case <-stop:
				return
			case <-time.After(time.Millisecond):
				for _, d := range hist.FlushDistributions() {
					flushed += int64(centroidTotal(d.Centroids))
				}
				hist.GetSnapshot()
			}
		}
	}()
	wg.Wait()
	close(stop)
	<-done

	clock.Advance(2 * time.Minute)
	for _, d := range hist.FlushDistributions() {
		flushed += int64(centroidTotal(d.Centroids))
	}
	assert.Equal(t, int64(workers*perWorker), flushed)
}

func TestWorker_Close(t *testing.T) {
	t.Run("Data Survives Until Flushed", func(t *testing.T) {
		clock := newFakeClock()
		hist, err := New(WithClock(clock))
		require.NoError(t, err)

		worker := hist.Worker()
		require.NoError(t, worker.Update(7))
		worker.Close()

		clock.Advance(time.Minute)
		distributions := hist.FlushDistributions()
		require.Len(t, distributions, 1)
		assert.Equal(t, int32(1), centroidTotal(distributions[0].Centroids))
	})
}

func centroidTotal(centroids []Centroid) int32 {
	var total int32
	for _, c := range centroids {
		total += c.Count
	}
	return total
}

func isNaN(v float64) bool {
	return v != v
}
