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

// Package events fans request/response lifecycle and resource-change events
// out to registered subscribers. Publishing never blocks the response path:
// a subscriber with a full buffer loses the event and a warning is logged.
package events

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/emobility-hub/ocpi-hub/cmd/ocpi-hub/models"
)

type EventType string

const (
	RequestReceived EventType = "request_received"
	ResponseSent    EventType = "response_sent"
	ResourceChanged EventType = "resource_changed"
	CommandUpdate   EventType = "command_update"
)

type ChangeKind string

const (
	ChangeUpserted ChangeKind = "upserted"
	ChangePatched  ChangeKind = "patched"
	ChangeRemoved  ChangeKind = "removed"
)

type Event struct {
	Type       EventType      `json:"type"`
	Endpoint   string         `json:"endpoint,omitempty"`
	Method     string         `json:"method,omitempty"`
	StatusCode int            `json:"status_code,omitempty"`
	Party      models.PartyID `json:"party,omitempty"`
	Resource   string         `json:"resource,omitempty"`
	ResourceID string         `json:"resource_id,omitempty"`
	Change     ChangeKind     `json:"change,omitempty"`
	Payload    interface{}    `json:"payload,omitempty"`
	Time       time.Time      `json:"time"`
}

type subscription struct {
	name string
	ch   chan Event
}

// Bus is the in-process publish/subscribe hub.
type Bus struct {
	mu   sync.RWMutex
	subs []*subscription
}

func NewBus() *Bus {
	return &Bus{}
}

// Subscribe registers a named subscriber with the given buffer size and
// returns its event channel.
func (b *Bus) Subscribe(name string, buffer int) <-chan Event {
	sub := &subscription{name: name, ch: make(chan Event, buffer)}
	b.mu.Lock()
	b.subs = append(b.subs, sub)
	b.mu.Unlock()
	return sub.ch
}

// Publish delivers the event to every subscriber without blocking.
func (b *Bus) Publish(event Event) {
	if event.Time.IsZero() {
		event.Time = time.Now().UTC()
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, sub := range b.subs {
		select {
		case sub.ch <- event:
		default:
			zap.S().Warnf("Event subscriber %s is full, dropping %s event", sub.name, event.Type)
		}
	}
}
