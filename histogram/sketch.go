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
	"errors"
	"fmt"
	"math"
	"math/rand"
	"slices"
	"sort"
	"strings"
)

const (
	// DefaultAccuracy is the default cluster-size parameter of the sketch.
	// Smaller values produce more centroids and tighter quantile estimates.
	DefaultAccuracy = 1.0 / 32

	// DefaultCompression is the default compression parameter. Together with
	// the accuracy it bounds the number of retained centroids to
	// compression/accuracy.
	DefaultCompression = 20.0

	minCompression = 15.0
)

var (
	ErrEmptySketch        = errors.New("operation is undefined for an empty sketch")
	ErrNaN                = errors.New("operation is undefined for NaN")
	ErrNonPositiveWeight  = errors.New("weight must be positive")
	ErrInvalidQuantile    = errors.New("quantile must be between 0 and 1 inclusive")
	ErrInvalidAccuracy    = errors.New("accuracy must be positive")
	ErrInvalidCompression = fmt.Errorf("compression must be at least %v", minCompression)
)

// Centroid is one cluster of merged samples exported from a Sketch.
type Centroid struct {
	Value float64
	Count int32
}

type centroid struct {
	mean   float64
	weight float64
}

// merge folds w samples at value into the centroid, keeping the mean a
// weighted average.
func (c *centroid) merge(value, w float64) {
	c.weight += w
	c.mean += (value - c.mean) * w / c.weight
}

// Sketch is a t-Digest approximation of a distribution. It accepts weighted
// value insertions and answers quantile queries from a bounded set of
// centroids. Two sketches merge by reinserting one sketch's centroids into
// the other.
//
// This implementation follows the paper:
// Ted Dunning, Otmar Ertl. "Extremely Accurate Quantiles Using t-Digests"
// using the clustering variant with per-centroid capacity
// 4*count*accuracy*q*(1-q) and periodic rebuild via randomized reinsertion.
//
// A Sketch is not safe for concurrent use; every Sketch in this package has
// exactly one writer at a time.
type Sketch struct {
	accuracy    float64
	compression float64
	centroids   []centroid // ascending by mean
	count       float64
	min         float64
	max         float64
	avg         float64 // running (Welford) mean, see Average
}

// NewSketch creates an empty Sketch with the given accuracy and compression.
func NewSketch(accuracy, compression float64) (*Sketch, error) {
	if accuracy <= 0 || math.IsNaN(accuracy) {
		return nil, ErrInvalidAccuracy
	}
	if compression < minCompression || math.IsNaN(compression) {
		return nil, ErrInvalidCompression
	}
	return &Sketch{
		accuracy:    accuracy,
		compression: compression,
		min:         math.Inf(1),
		max:         math.Inf(-1),
	}, nil
}

// IsEmpty returns true if the sketch has not seen any data.
func (s *Sketch) IsEmpty() bool {
	return s.count == 0
}

// Count returns the total weight of all inserted values.
func (s *Sketch) Count() float64 {
	return s.count
}

// Size returns the number of retained centroids.
func (s *Sketch) Size() int {
	return len(s.centroids)
}

// MinValue returns the smallest value seen by the sketch.
func (s *Sketch) MinValue() (float64, error) {
	if s.IsEmpty() {
		return 0, ErrEmptySketch
	}
	return s.min, nil
}

// MaxValue returns the largest value seen by the sketch.
func (s *Sketch) MaxValue() (float64, error) {
	if s.IsEmpty() {
		return 0, ErrEmptySketch
	}
	return s.max, nil
}

// Average returns the running mean of inserted values, maintained
// incrementally and independent of the centroid structure. It can differ
// from Mean by small amounts on skewed distributions.
func (s *Sketch) Average() float64 {
	return s.avg
}

// Mean returns the centroid-weighted average of the distribution.
func (s *Sketch) Mean() float64 {
	if s.IsEmpty() {
		return 0
	}
	return s.Sum() / s.count
}

// Sum returns the approximate sum of all inserted values.
func (s *Sketch) Sum() float64 {
	var sum float64
	for _, c := range s.centroids {
		sum += c.mean * c.weight
	}
	return sum
}

// StdDev returns the approximate population standard deviation, computed
// over centroid means.
func (s *Sketch) StdDev() float64 {
	if s.IsEmpty() {
		return 0
	}
	mean := s.Mean()
	var sum float64
	for _, c := range s.centroids {
		d := c.mean - mean
		sum += c.weight * d * d
	}
	return math.Sqrt(sum / s.count)
}

// Add inserts a value with the given weight into the sketch.
func (s *Sketch) Add(value, weight float64) error {
	if math.IsNaN(value) {
		return ErrNaN
	}
	if weight <= 0 || math.IsNaN(weight) {
		return ErrNonPositiveWeight
	}

	s.count += weight
	s.avg += (value - s.avg) * weight / s.count
	s.min = math.Min(s.min, value)
	s.max = math.Max(s.max, value)
	s.insert(value, weight)

	if float64(len(s.centroids)) > s.compression/s.accuracy {
		s.rebuild()
	}
	return nil
}

// Merge reinserts all of other's centroids into the sketch.
func (s *Sketch) Merge(other *Sketch) error {
	if other.IsEmpty() {
		return ErrEmptySketch
	}
	for _, c := range other.centroids {
		if err := s.Add(c.mean, c.weight); err != nil {
			return err
		}
	}
	// centroid means can sit strictly inside the true range
	s.min = math.Min(s.min, other.min)
	s.max = math.Max(s.max, other.max)
	return nil
}

// Quantile returns the approximate value at the given normalized rank.
func (s *Sketch) Quantile(q float64) (float64, error) {
	if q < 0 || q > 1 || math.IsNaN(q) {
		return 0, ErrInvalidQuantile
	}
	if s.IsEmpty() {
		return 0, ErrEmptySketch
	}
	if len(s.centroids) == 1 {
		return s.centroids[0].mean, nil
	}

	// at least 2 centroids
	weight := q * s.count
	if weight < 1 {
		return s.min, nil
	}
	if weight > s.count-1 {
		return s.max, nil
	}

	first := s.centroids[0]
	if first.weight == 2 && weight < 2 {
		// both samples are known: one sits at min, its pair at 2*mean-min
		return s.min + (weight-1)*2*(first.mean-s.min), nil
	}
	if first.weight > 2 && weight < first.weight/2 {
		// one sample is known to sit exactly at min, exclude it
		return s.min + (weight-1)/(first.weight/2-1)*(first.mean-s.min), nil
	}

	last := s.centroids[len(s.centroids)-1]
	if last.weight == 2 && s.count-weight < 2 {
		return s.max - (s.count-weight-1)*2*(s.max-last.mean), nil
	}
	if last.weight > 2 && s.count-weight <= last.weight/2 {
		return s.max - (s.count-weight-1)/(last.weight/2-1)*(s.max-last.mean), nil
	}

	weightSoFar := first.weight / 2
	for i := 0; i < len(s.centroids)-1; i++ {
		cur := s.centroids[i]
		next := s.centroids[i+1]
		dw := (cur.weight + next.weight) / 2
		if weightSoFar+dw <= weight {
			weightSoFar += dw
			continue
		}
		// the target rank falls between centroids i and i+1; singleton
		// centroids pass through exactly instead of blurring the estimate
		var leftExclusion float64
		if cur.weight == 1 {
			if weight-weightSoFar < 0.5 {
				return cur.mean, nil
			}
			leftExclusion = 0.5
		}
		var rightExclusion float64
		if next.weight == 1 {
			if weightSoFar+dw-weight <= 0.5 {
				return next.mean, nil
			}
			rightExclusion = 0.5
		}
		w1 := weight - weightSoFar - leftExclusion
		w2 := weightSoFar + dw - weight - rightExclusion
		return weightedAverage(cur.mean, w2, next.mean, w1), nil
	}

	w1 := weight - s.count + last.weight/2
	w2 := last.weight/2 - w1
	return weightedAverage(last.mean, w1, s.max, w2), nil
}

// Centroids returns a point-in-time copy of the current centroids, ascending
// by value, with weights rounded to integral counts.
func (s *Sketch) Centroids() []Centroid {
	out := make([]Centroid, 0, len(s.centroids))
	for _, c := range s.centroids {
		out = append(out, Centroid{Value: c.mean, Count: int32(math.Round(c.weight))})
	}
	return out
}

// String returns a human-readable summary of the sketch.
func (s *Sketch) String() string {
	var sb strings.Builder
	sb.WriteString("### Sketch summary:\n")
	sb.WriteString(fmt.Sprintf("   Accuracy    : %v\n", s.accuracy))
	sb.WriteString(fmt.Sprintf("   Compression : %v\n", s.compression))
	sb.WriteString(fmt.Sprintf("   Centroids   : %d\n", len(s.centroids)))
	sb.WriteString(fmt.Sprintf("   Total Weight: %v\n", s.count))
	if !s.IsEmpty() {
		sb.WriteString(fmt.Sprintf("   Min         : %v\n", s.min))
		sb.WriteString(fmt.Sprintf("   Max         : %v\n", s.max))
	}
	sb.WriteString("### End sketch summary\n")
	return sb.String()
}

// insert routes the value to its nearest centroid, subject to the capacity
// threshold, or spills it into a new singleton centroid. The caller has
// already accounted the weight in s.count.
func (s *Sketch) insert(value, weight float64) {
	if len(s.centroids) == 0 {
		s.centroids = append(s.centroids, centroid{mean: value, weight: weight})
		return
	}

	idx := sort.Search(len(s.centroids), func(i int) bool {
		return s.centroids[i].mean >= value
	})

	if idx < len(s.centroids) && s.centroids[idx].mean == value {
		// coincident mean, merging cannot hurt accuracy
		s.centroids[idx].merge(value, weight)
		return
	}

	for _, ci := range s.closest(value, idx) {
		c := &s.centroids[ci]
		q := s.centroidQuantile(ci)
		if c.weight+weight <= 4*s.count*s.accuracy*q*(1-q) {
			c.merge(value, weight)
			return
		}
	}

	s.centroids = slices.Insert(s.centroids, idx, centroid{mean: value, weight: weight})
}

// closest returns the indexes of the centroid(s) nearest to value, in random
// order when two are equidistant. idx is the insertion point for value.
func (s *Sketch) closest(value float64, idx int) []int {
	switch {
	case idx == 0:
		return []int{0}
	case idx == len(s.centroids):
		return []int{len(s.centroids) - 1}
	}
	left := value - s.centroids[idx-1].mean
	right := s.centroids[idx].mean - value
	switch {
	case left < right:
		return []int{idx - 1}
	case right < left:
		return []int{idx}
	}
	if rand.Intn(2) == 0 {
		return []int{idx - 1, idx}
	}
	return []int{idx, idx - 1}
}

// centroidQuantile returns the approximate quantile position of the centroid
// at index ci.
func (s *Sketch) centroidQuantile(ci int) float64 {
	var cumulative float64
	for i := 0; i < ci; i++ {
		cumulative += s.centroids[i].weight
	}
	return (cumulative + s.centroids[ci].weight/2) / s.count
}

// rebuild reinserts all centroids in random order. Insertion order biases
// the approximation, so the shuffle is a correctness property of the
// rebuild, not an optimization.
func (s *Sketch) rebuild() {
	if len(s.centroids) <= 1 {
		return
	}
	old := s.centroids
	rand.Shuffle(len(old), func(i, j int) {
		old[i], old[j] = old[j], old[i]
	})

	s.centroids = make([]centroid, 0, len(old))
	s.count = 0
	for _, c := range old {
		s.count += c.weight
		s.insert(c.mean, c.weight)
	}
}

func weightedAverage(x1, w1, x2, w2 float64) float64 {
	return (x1*w1 + x2*w2) / (w1 + w2)
}
