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

package senders

// lineBuffer is a bounded queue of wire lines. When full, offering a new
// line evicts the oldest one: under sustained overload the freshest data
// survives and the eviction is reported to the caller for drop accounting.
type lineBuffer struct {
	lines chan string
}

func newLineBuffer(capacity int) *lineBuffer {
	return &lineBuffer{lines: make(chan string, capacity)}
}

// offer enqueues line, evicting the oldest entry when the buffer is full.
// It returns the number of lines dropped (0 or 1).
func (b *lineBuffer) offer(line string) int {
	dropped := 0
	for {
		select {
		case b.lines <- line:
			return dropped
		default:
		}
		select {
		case <-b.lines:
			dropped++
		default:
		}
	}
}

// drain removes and returns everything currently queued.
func (b *lineBuffer) drain() []string {
	var out []string
	for {
		select {
		case line := <-b.lines:
			out = append(out, line)
		default:
			return out
		}
	}
}

func (b *lineBuffer) len() int {
	return len(b.lines)
}
