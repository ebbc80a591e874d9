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

package v221

import (
	"errors"
	"fmt"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/emobility-hub/ocpi-hub/cmd/ocpi-hub/commands"
	"github.com/emobility-hub/ocpi-hub/cmd/ocpi-hub/events"
	"github.com/emobility-hub/ocpi-hub/cmd/ocpi-hub/helpers"
	"github.com/emobility-hub/ocpi-hub/cmd/ocpi-hub/models"
)

// bindCommand decodes the type-specific command body and returns it together
// with its response_url.
func bindCommand(c *gin.Context, cmdType models.CommandType) (interface{}, string, error) {
	switch cmdType {
	case models.CommandStartSession:
		var cmd models.StartSession
		if err := c.ShouldBindJSON(&cmd); err != nil {
			return nil, "", err
		}
		if cmd.LocationID == "" {
			return nil, "", errors.New("start session misses location_id")
		}
		return cmd, cmd.ResponseURL, nil
	case models.CommandStopSession:
		var cmd models.StopSession
		if err := c.ShouldBindJSON(&cmd); err != nil {
			return nil, "", err
		}
		if cmd.SessionID == "" {
			return nil, "", errors.New("stop session misses session_id")
		}
		return cmd, cmd.ResponseURL, nil
	case models.CommandReserveNow:
		var cmd models.ReserveNow
		if err := c.ShouldBindJSON(&cmd); err != nil {
			return nil, "", err
		}
		if cmd.ReservationID == "" {
			return nil, "", errors.New("reserve now misses reservation_id")
		}
		return cmd, cmd.ResponseURL, nil
	case models.CommandCancelReservation:
		var cmd models.CancelReservation
		if err := c.ShouldBindJSON(&cmd); err != nil {
			return nil, "", err
		}
		if cmd.ReservationID == "" {
			return nil, "", errors.New("cancel reservation misses reservation_id")
		}
		return cmd, cmd.ResponseURL, nil
	case models.CommandUnlockConnector:
		var cmd models.UnlockConnector
		if err := c.ShouldBindJSON(&cmd); err != nil {
			return nil, "", err
		}
		if cmd.LocationID == "" || cmd.EVSEUID == "" || cmd.ConnectorID == "" {
			return nil, "", errors.New("unlock connector misses location_id, evse_uid or connector_id")
		}
		return cmd, cmd.ResponseURL, nil
	}
	return nil, "", fmt.Errorf("unsupported command type %s", cmdType)
}

// PostCommandHandler dispatches one command toward the CPO network and
// registers a mailbox slot for its asynchronous result.
func PostCommandHandler(c *gin.Context) {
	cmdType := models.CommandType(strings.ToUpper(c.Param("command_type")))
	if !cmdType.Valid() {
		helpers.HandleInvalidInputError(c,
			fmt.Errorf("unknown command type %s", c.Param("command_type")))
		return
	}

	payload, responseURL, err := bindCommand(c, cmdType)
	if err != nil {
		helpers.HandleInvalidInputError(c, err)
		return
	}
	if responseURL == "" {
		helpers.HandleInvalidInputError(c, errors.New("command misses response_url"))
		return
	}

	response, commandID, err := dispatcher.Dispatch(c.Request.Context(), cmdType, responseURL, payload)
	if err != nil {
		helpers.HandleInternalServerError(c, err)
		return
	}

	c.Header("Location", c.Request.URL.Path+"/"+commandID)
	helpers.HandleSuccess(c, response)
}

// PostCommandResultHandler receives the asynchronous result callback for a
// previously dispatched command.
func PostCommandResultHandler(c *gin.Context) {
	var result models.CommandResult
	if err := c.ShouldBindJSON(&result); err != nil {
		helpers.HandleInvalidInputError(c, err)
		return
	}
	if result.Result == "" {
		helpers.HandleInvalidInputError(c, errors.New("command result misses result"))
		return
	}

	commandID := c.Param("command_uid")
	if err := mailbox.Deliver(c.Request.Context(), commandID, result); err != nil {
		if errors.Is(err, commands.ErrUnknownCommand) {
			helpers.HandleUnknownCommand(c)
			return
		}
		helpers.HandleInternalServerError(c, err)
		return
	}

	if bus != nil {
		bus.Publish(events.Event{
			Type:       events.CommandUpdate,
			Resource:   "command",
			ResourceID: commandID,
			Payload:    result,
		})
	}
	helpers.HandleSuccess(c, nil)
}

// GetCommandResultHandler polls for a delivered result. A delivered result is
// returned exactly once; the entry is evicted on the first successful read.
// While the result is still pending the data field stays null.
func GetCommandResultHandler(c *gin.Context) {
	commandID := c.Param("command_uid")
	result, delivered, err := mailbox.Consume(c.Request.Context(), commandID)
	if err != nil {
		if errors.Is(err, commands.ErrUnknownCommand) {
			helpers.HandleUnknownCommand(c)
			return
		}
		helpers.HandleInternalServerError(c, err)
		return
	}
	if !delivered {
		helpers.HandleSuccess(c, nil)
		return
	}
	helpers.HandleSuccess(c, result)
}
