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

import "time"

const minuteMillis = int64(time.Minute / time.Millisecond)

// minuteBin aggregates one worker's samples for exactly one one-minute
// window [minute, minute+60000). A bin is owned by a single worker while
// open; once drained by a flush it is never mutated again.
type minuteBin struct {
	minute int64 // window start, milliseconds since epoch
	sketch *Sketch
}

func newMinuteBin(minute int64, accuracy, compression float64) *minuteBin {
	// parameters were validated when the histogram was built
	sketch, _ := NewSketch(accuracy, compression)
	return &minuteBin{minute: minute, sketch: sketch}
}

// minuteStart truncates t to the start of its minute, in epoch milliseconds.
func minuteStart(t time.Time) int64 {
	return t.UnixMilli() / minuteMillis * minuteMillis
}
