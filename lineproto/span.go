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

package lineproto

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/google/uuid"
)

var (
	ErrInvalidTraceID = errors.New("traceId is not a valid UUID")
	ErrInvalidSpanID  = errors.New("spanId is not a valid UUID")
	ErrEmptyTagValue  = errors.New("span tag value cannot be empty")
)

// SpanTag is one key/value annotation on a span. Span tags are a list, not a
// map: duplicate keys are legal on the wire.
type SpanTag struct {
	Key   string
	Value string
}

// SpanLine formats one trace span:
//
//	"name" source="source" traceId=... spanId=... [parent=...]*
//	[followsFrom=...]* ["k"="v"]* startMillis durationMillis
func SpanLine(name, traceID, spanID string, parents, followsFrom []string, tags []SpanTag, startMillis, durationMillis int64, source, defaultSource string) (string, error) {
	if name == "" {
		return "", ErrEmptyName
	}
	if _, err := uuid.Parse(traceID); err != nil {
		return "", fmt.Errorf("%w: %q", ErrInvalidTraceID, traceID)
	}
	if _, err := uuid.Parse(spanID); err != nil {
		return "", fmt.Errorf("%w: %q", ErrInvalidSpanID, spanID)
	}
	source, err := pickSource(source, defaultSource)
	if err != nil {
		return "", err
	}

	var sb strings.Builder
	sb.WriteString(strconv.Quote(sanitizeValue(name)))
	sb.WriteString(" source=")
	sb.WriteString(strconv.Quote(sanitizeValue(source)))
	sb.WriteString(" traceId=")
	sb.WriteString(traceID)
	sb.WriteString(" spanId=")
	sb.WriteString(spanID)
	for _, parent := range parents {
		if _, err := uuid.Parse(parent); err != nil {
			return "", fmt.Errorf("%w: parent %q", ErrInvalidSpanID, parent)
		}
		sb.WriteString(" parent=")
		sb.WriteString(parent)
	}
	for _, previous := range followsFrom {
		if _, err := uuid.Parse(previous); err != nil {
			return "", fmt.Errorf("%w: followsFrom %q", ErrInvalidSpanID, previous)
		}
		sb.WriteString(" followsFrom=")
		sb.WriteString(previous)
	}
	for _, tag := range tags {
		if tag.Key == "" {
			return "", ErrEmptyTagKey
		}
		if tag.Value == "" {
			return "", fmt.Errorf("%w: key %q", ErrEmptyTagValue, tag.Key)
		}
		sb.WriteByte(' ')
		sb.WriteString(strconv.Quote(sanitizeName(tag.Key)))
		sb.WriteByte('=')
		sb.WriteString(strconv.Quote(sanitizeValue(tag.Value)))
	}
	sb.WriteByte(' ')
	sb.WriteString(strconv.FormatInt(startMillis, 10))
	sb.WriteByte(' ')
	sb.WriteString(strconv.FormatInt(durationMillis, 10))
	sb.WriteByte('\n')
	return sb.String(), nil
}
