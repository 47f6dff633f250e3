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

// Package lineproto formats metric points, histogram distributions and trace
// spans as line-oriented wire text, one record per newline-terminated line.
package lineproto

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/lumenhq/lumen-sdk-go/histogram"
)

const (
	// DeltaPrefix marks a metric name as a delta counter, aggregated
	// server side.
	DeltaPrefix = "∆"
	// AltDeltaPrefix is the capital-delta spelling some emitters use.
	AltDeltaPrefix = "Δ"
)

var (
	ErrEmptyName       = errors.New("empty name")
	ErrEmptySource     = errors.New("empty source")
	ErrEmptyTagKey     = errors.New("empty tag key")
	ErrNonFiniteValue  = errors.New("value must be finite")
	ErrNoCentroids     = errors.New("distribution has no centroids")
	ErrNegativeCount   = errors.New("centroid count must be positive")
)

// HasDeltaPrefix reports whether name carries a delta-counter prefix.
func HasDeltaPrefix(name string) bool {
	return strings.HasPrefix(name, DeltaPrefix) || strings.HasPrefix(name, AltDeltaPrefix)
}

// MetricLine formats one metric point:
//
//	"name" value [timestamp] source="source" "k1"="v1" ...
//
// A zero timestamp is omitted and assigned at ingestion. The defaultSource
// is used when source is empty.
func MetricLine(name string, value float64, timestamp int64, source string, tags map[string]string, defaultSource string) (string, error) {
	if name == "" {
		return "", ErrEmptyName
	}
	if math.IsNaN(value) || math.IsInf(value, 0) {
		return "", fmt.Errorf("%w: metric %q", ErrNonFiniteValue, name)
	}
	source, err := pickSource(source, defaultSource)
	if err != nil {
		return "", err
	}

	var sb strings.Builder
	sb.WriteString(strconv.Quote(sanitizeName(name)))
	sb.WriteByte(' ')
	sb.WriteString(strconv.FormatFloat(value, 'f', -1, 64))
	if timestamp != 0 {
		sb.WriteByte(' ')
		sb.WriteString(strconv.FormatInt(timestamp, 10))
	}
	sb.WriteString(" source=")
	sb.WriteString(strconv.Quote(sanitizeValue(source)))
	if err := writeTags(&sb, tags); err != nil {
		return "", err
	}
	sb.WriteByte('\n')
	return sb.String(), nil
}

// HistogramLine formats one flushed minute distribution:
//
//	!M timestamp #count value [#count value ...] "name" source="source" tags
func HistogramLine(name string, centroids []histogram.Centroid, timestamp int64, source string, tags map[string]string, defaultSource string) (string, error) {
	if name == "" {
		return "", ErrEmptyName
	}
	if len(centroids) == 0 {
		return "", fmt.Errorf("%w: histogram %q", ErrNoCentroids, name)
	}
	source, err := pickSource(source, defaultSource)
	if err != nil {
		return "", err
	}

	var sb strings.Builder
	sb.WriteString("!M")
	if timestamp != 0 {
		sb.WriteByte(' ')
		sb.WriteString(strconv.FormatInt(timestamp, 10))
	}
	for _, c := range centroids {
		if c.Count <= 0 {
			return "", fmt.Errorf("%w: histogram %q", ErrNegativeCount, name)
		}
		sb.WriteString(" #")
		sb.WriteString(strconv.FormatInt(int64(c.Count), 10))
		sb.WriteByte(' ')
		sb.WriteString(strconv.FormatFloat(c.Value, 'f', -1, 64))
	}
	sb.WriteByte(' ')
	sb.WriteString(strconv.Quote(sanitizeName(name)))
	sb.WriteString(" source=")
	sb.WriteString(strconv.Quote(sanitizeValue(source)))
	if err := writeTags(&sb, tags); err != nil {
		return "", err
	}
	sb.WriteByte('\n')
	return sb.String(), nil
}

func pickSource(source, defaultSource string) (string, error) {
	if source == "" {
		source = defaultSource
	}
	if source == "" {
		return "", ErrEmptySource
	}
	return source, nil
}

func writeTags(sb *strings.Builder, tags map[string]string) error {
	for k, v := range tags {
		if k == "" {
			return ErrEmptyTagKey
		}
		sb.WriteByte(' ')
		sb.WriteString(strconv.Quote(sanitizeName(k)))
		sb.WriteByte('=')
		sb.WriteString(strconv.Quote(sanitizeValue(v)))
	}
	return nil
}

// sanitizeName keeps [a-zA-Z0-9._,/-] and a leading delta prefix, replacing
// anything else with '-'.
func sanitizeName(name string) string {
	var prefix string
	for _, p := range []string{DeltaPrefix, AltDeltaPrefix} {
		if strings.HasPrefix(name, p) {
			prefix = p
			name = strings.TrimPrefix(name, p)
			break
		}
	}
	var sb strings.Builder
	sb.WriteString(prefix)
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z',
			r >= 'A' && r <= 'Z',
			r >= '0' && r <= '9',
			r == '.', r == '_', r == ',', r == '/', r == '-':
			sb.WriteRune(r)
		default:
			sb.WriteByte('-')
		}
	}
	return sb.String()
}

// sanitizeValue strips newlines, which are the record separator on the wire.
func sanitizeValue(v string) string {
	v = strings.ReplaceAll(v, "\n", " ")
	return strings.ReplaceAll(v, "\r", " ")
}
