// Copyright 2024 eMobility Hub GmbH
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package internal

import (
	"math/rand"
	"time"
)

// BackoffTime returns a randomized exponential backoff for the given retry
// count. The wait is drawn from [0, 2^retries) slots and capped at maximum,
// so concurrent retriers spread out instead of hammering in lockstep.
func BackoffTime(retries int64, slotTime time.Duration, maximum time.Duration) time.Duration {
	if slotTime <= 0 || retries <= 0 {
		return 0
	}
	if retries >= 63 {
		return maximum
	}

	slots := rand.Int63n(int64(1) << retries)
	if slots > 0 && slotTime > maximum/time.Duration(slots) {
		// slots*slotTime would overflow or exceed the cap
		return maximum
	}
	backoff := time.Duration(slots) * slotTime
	if backoff > maximum {
		backoff = maximum
	}
	return backoff
}

// SleepBackedOff sleeps for BackoffTime(retries, slotTime, maximum).
func SleepBackedOff(retries int64, slotTime time.Duration, maximum time.Duration) {
	time.Sleep(BackoffTime(retries, slotTime, maximum))
}
