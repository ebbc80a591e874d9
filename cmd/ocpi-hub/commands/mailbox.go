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

// Package commands correlates asynchronously delivered command results with
// previously dispatched remote commands. The mailbox is a concurrent map of
// pending entries; expiry policy belongs to the issuer, which supplies a TTL
// when the entry is created.
package commands

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/patrickmn/go-cache"

	"github.com/emobility-hub/ocpi-hub/cmd/ocpi-hub/models"
)

// ErrUnknownCommand is returned when a result arrives for a command id that
// is not pending: expired, already consumed, or never issued. The façade maps
// this to a protocol error, never to a server fault.
var ErrUnknownCommand = errors.New("unknown command id")

// PendingCommand is one dispatched command awaiting its result. The result
// slot is written by Deliver and read by the issuer; Delivered is closed on
// the first write so issuers can select on it next to their own timeout.
type PendingCommand struct {
	CommandID   string
	Type        models.CommandType
	ResponseURL string
	IssuedAt    time.Time

	mu        sync.Mutex
	result    *models.CommandResult
	delivered chan struct{}
}

// Delivered is closed once the first result arrives.
func (p *PendingCommand) Delivered() <-chan struct{} {
	return p.delivered
}

// Result returns the current slot content. Once Deliver has returned, any
// reader observes the delivered result.
func (p *PendingCommand) Result() (models.CommandResult, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.result == nil {
		return models.CommandResult{}, false
	}
	return *p.result, true
}

func (p *PendingCommand) deliver(result models.CommandResult) {
	p.mu.Lock()
	defer p.mu.Unlock()
	first := p.result == nil
	// Re-delivery overwrites the slot. The protocol allows relaxing
	// at-most-once here and a charge point retrying a callback should not
	// get an error for its retry. Flagged in DESIGN.md.
	p.result = &result
	if first {
		close(p.delivered)
	}
}

// Mailbox owns the pending command entries. Entries are created by the
// command issuer and evicted when consumed or when their TTL lapses.
type Mailbox struct {
	pending *cache.Cache
}

func NewMailbox() *Mailbox {
	return &Mailbox{pending: cache.New(cache.NoExpiration, time.Minute)}
}

// Create registers a pending command under commandID with the issuer's TTL.
func (m *Mailbox) Create(commandID string, cmdType models.CommandType, responseURL string, ttl time.Duration) *PendingCommand {
	pending := &PendingCommand{
		CommandID:   commandID,
		Type:        cmdType,
		ResponseURL: responseURL,
		IssuedAt:    time.Now().UTC(),
		delivered:   make(chan struct{}),
	}
	m.pending.Set(commandID, pending, ttl)
	return pending
}

// Deliver writes a result into the slot of an existing entry.
func (m *Mailbox) Deliver(ctx context.Context, commandID string, result models.CommandResult) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	value, ok := m.pending.Get(commandID)
	if !ok {
		return ErrUnknownCommand
	}
	value.(*PendingCommand).deliver(result)
	return nil
}

// Consume reads and evicts the result for commandID. The boolean reports
// whether a result had been delivered yet.
func (m *Mailbox) Consume(ctx context.Context, commandID string) (models.CommandResult, bool, error) {
	if err := ctx.Err(); err != nil {
		return models.CommandResult{}, false, err
	}
	value, ok := m.pending.Get(commandID)
	if !ok {
		return models.CommandResult{}, false, ErrUnknownCommand
	}
	result, delivered := value.(*PendingCommand).Result()
	if delivered {
		m.pending.Delete(commandID)
	}
	return result, delivered, nil
}

// Len reports the number of pending entries, used by tests and metrics.
func (m *Mailbox) Len() int {
	return m.pending.ItemCount()
}
