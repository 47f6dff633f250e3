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
	"strconv"
	"strings"
)

var (
	ErrMalformedTimestamp = errors.New("malformed timestamp token")
	ErrMalformedCentroid  = errors.New("malformed centroid token")
	ErrPairMismatch       = errors.New("timestamp and centroid counts differ")
)

// Serialize encodes distributions into a compact text pair: the timestamps
// ';'-joined, and per distribution its centroids ','-joined as "value count"
// pairs, distributions again ';'-joined. Distributions without centroids
// carry no information and are dropped.
func Serialize(distributions []Distribution) (timestamps string, centroids string) {
	var ts, cs []string
	for _, d := range distributions {
		if len(d.Centroids) == 0 {
			continue
		}
		ts = append(ts, strconv.FormatInt(d.Timestamp, 10))
		pairs := make([]string, 0, len(d.Centroids))
		for _, c := range d.Centroids {
			pairs = append(pairs,
				strconv.FormatFloat(c.Value, 'g', -1, 64)+" "+strconv.FormatInt(int64(c.Count), 10))
		}
		cs = append(cs, strings.Join(pairs, ","))
	}
	return strings.Join(ts, ";"), strings.Join(cs, ";")
}

// Deserialize is the inverse of Serialize. Malformed tokens are an error
// rather than silently becoming zeroed distributions.
func Deserialize(timestamps, centroids string) ([]Distribution, error) {
	if timestamps == "" && centroids == "" {
		return nil, nil
	}
	tsTokens := strings.Split(timestamps, ";")
	csTokens := strings.Split(centroids, ";")
	if len(tsTokens) != len(csTokens) {
		return nil, fmt.Errorf("%w: %d timestamps, %d centroid groups",
			ErrPairMismatch, len(tsTokens), len(csTokens))
	}

	out := make([]Distribution, 0, len(tsTokens))
	for i, tok := range tsTokens {
		ts, err := strconv.ParseInt(tok, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("%w: %q", ErrMalformedTimestamp, tok)
		}
		d := Distribution{Timestamp: ts}
		for _, pair := range strings.Split(csTokens[i], ",") {
			c, err := parseCentroid(pair)
			if err != nil {
				return nil, err
			}
			d.Centroids = append(d.Centroids, c)
		}
		out = append(out, d)
	}
	return out, nil
}

func parseCentroid(pair string) (Centroid, error) {
	value, count, ok := strings.Cut(pair, " ")
	if !ok {
		return Centroid{}, fmt.Errorf("%w: %q", ErrMalformedCentroid, pair)
	}
	v, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return Centroid{}, fmt.Errorf("%w: %q", ErrMalformedCentroid, pair)
	}
	n, err := strconv.ParseInt(count, 10, 32)
	if err != nil {
		return Centroid{}, fmt.Errorf("%w: %q", ErrMalformedCentroid, pair)
	}
	return Centroid{Value: v, Count: int32(n)}, nil
}
