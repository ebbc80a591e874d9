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

package models

import "time"

// OCPI status codes as defined in the OCPI 2.2.1 status code registry.
const (
	StatusSuccess        = 1000
	StatusClientError    = 2000
	StatusInvalidParams  = 2001
	StatusUnknownToken   = 2004
	StatusUnknownCommand = 2004
	StatusServerError    = 3000
)

// Envelope is the OCPI response wrapper carried by every endpoint.
type Envelope struct {
	Data          interface{} `json:"data,omitempty"`
	StatusCode    int         `json:"status_code"`
	StatusMessage string      `json:"status_message"`
	Timestamp     time.Time   `json:"timestamp"`
}

func NewEnvelope(data interface{}) Envelope {
	return Envelope{
		Data:          data,
		StatusCode:    StatusSuccess,
		StatusMessage: "Success",
		Timestamp:     time.Now().UTC(),
	}
}

// NewErrorEnvelope echoes data back to the caller so rejected writes can be
// diffed against what was submitted.
func NewErrorEnvelope(statusCode int, message string, data interface{}) Envelope {
	return Envelope{
		Data:          data,
		StatusCode:    statusCode,
		StatusMessage: message,
		Timestamp:     time.Now().UTC(),
	}
}
