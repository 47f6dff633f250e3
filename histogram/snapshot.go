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

import "math"

// Snapshot is a read-only merged view over all data a Histogram retained at
// the moment GetSnapshot was called.
type Snapshot struct {
	sketch *Sketch
}

// Count returns the total number of samples, by weight.
func (s *Snapshot) Count() int64 {
	return int64(math.Round(s.sketch.Count()))
}

// Min returns the smallest sample, or NaN when the snapshot is empty.
func (s *Snapshot) Min() float64 {
	v, err := s.sketch.MinValue()
	if err != nil {
		return math.NaN()
	}
	return v
}

// Max returns the largest sample, or NaN when the snapshot is empty.
func (s *Snapshot) Max() float64 {
	v, err := s.sketch.MaxValue()
	if err != nil {
		return math.NaN()
	}
	return v
}

// Mean returns the centroid-weighted average of the samples.
func (s *Snapshot) Mean() float64 {
	return s.sketch.Mean()
}

// Sum returns the approximate sum of all samples.
func (s *Snapshot) Sum() float64 {
	return s.sketch.Sum()
}

// StdDev returns the approximate population standard deviation.
func (s *Snapshot) StdDev() float64 {
	return s.sketch.StdDev()
}

// Size returns the number of centroids backing the snapshot.
func (s *Snapshot) Size() int {
	return s.sketch.Size()
}

// Values returns the snapshot's centroids, ascending by value.
func (s *Snapshot) Values() []Centroid {
	return s.sketch.Centroids()
}

// GetValue returns the approximate value at the given quantile.
func (s *Snapshot) GetValue(quantile float64) (float64, error) {
	return s.sketch.Quantile(quantile)
}
