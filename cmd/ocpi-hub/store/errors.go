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

package store

import (
	"errors"
	"fmt"
)

// ErrNotFound is returned when a resource (or one of its parents) does not
// exist. This is an expected outcome, not a fault: a connector patch can race
// with the removal of its EVSE.
var ErrNotFound = errors.New("resource not found")

// ConflictError rejects a write. It carries the rejected candidate so the
// caller can echo it back for diffing.
type ConflictError struct {
	Reason    string
	Candidate interface{}
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("write rejected: %s", e.Reason)
}

// ValidationError rejects a malformed body or patch document.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed: %s", e.Reason)
}
