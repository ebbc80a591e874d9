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

package commands

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/emobility-hub/ocpi-hub/cmd/ocpi-hub/models"
)

// Publisher carries a dispatched command toward the charge point network.
type Publisher interface {
	PublishCommand(ctx context.Context, cmdType models.CommandType, commandID string, payload interface{}) error
}

// Dispatcher issues remote commands: it registers a mailbox entry for the
// eventual result callback and hands the payload to the publisher.
type Dispatcher struct {
	mailbox   *Mailbox
	publisher Publisher
	timeout   time.Duration
}

// NewDispatcher wires a dispatcher. timeout is the window advertised to the
// requester and used as the mailbox TTL; results arriving later hit an
// evicted entry and are answered as unknown command.
func NewDispatcher(mailbox *Mailbox, publisher Publisher, timeout time.Duration) *Dispatcher {
	return &Dispatcher{mailbox: mailbox, publisher: publisher, timeout: timeout}
}

// Dispatch issues one command and returns the synchronous response plus the
// generated command id the callback must use.
func (d *Dispatcher) Dispatch(ctx context.Context, cmdType models.CommandType, responseURL string, payload interface{}) (models.CommandResponse, string, error) {
	commandID := uuid.NewString()
	d.mailbox.Create(commandID, cmdType, responseURL, d.timeout)

	if err := d.publisher.PublishCommand(ctx, cmdType, commandID, payload); err != nil {
		zap.S().Warnf("Failed to publish command %s %s: %s", cmdType, commandID, err)
		// The entry stays pending until its TTL lapses; a late result for a
		// failed publish is still deliverable, which is harmless.
		return models.CommandResponse{
			Result:  models.CommandResponseRejected,
			Timeout: int(d.timeout.Seconds()),
			Message: []models.DisplayText{{Language: "en", Text: "Command could not be forwarded"}},
		}, commandID, nil
	}

	return models.CommandResponse{
		Result:  models.CommandResponseAccepted,
		Timeout: int(d.timeout.Seconds()),
	}, commandID, nil
}
