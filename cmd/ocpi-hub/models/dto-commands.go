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

type CommandType string

const (
	CommandReserveNow        CommandType = "RESERVE_NOW"
	CommandCancelReservation CommandType = "CANCEL_RESERVATION"
	CommandStartSession      CommandType = "START_SESSION"
	CommandStopSession       CommandType = "STOP_SESSION"
	CommandUnlockConnector   CommandType = "UNLOCK_CONNECTOR"
)

func (c CommandType) Valid() bool {
	switch c {
	case CommandReserveNow, CommandCancelReservation, CommandStartSession,
		CommandStopSession, CommandUnlockConnector:
		return true
	}
	return false
}

type CommandResponseType string

const (
	CommandResponseAccepted       CommandResponseType = "ACCEPTED"
	CommandResponseNotSupported   CommandResponseType = "NOT_SUPPORTED"
	CommandResponseRejected       CommandResponseType = "REJECTED"
	CommandResponseUnknownSession CommandResponseType = "UNKNOWN_SESSION"
)

type CommandResultType string

const (
	CommandResultAccepted            CommandResultType = "ACCEPTED"
	CommandResultCanceledReservation CommandResultType = "CANCELED_RESERVATION"
	CommandResultEvseOccupied        CommandResultType = "EVSE_OCCUPIED"
	CommandResultEvseInoperative     CommandResultType = "EVSE_INOPERATIVE"
	CommandResultFailed              CommandResultType = "FAILED"
	CommandResultNotSupported        CommandResultType = "NOT_SUPPORTED"
	CommandResultRejected            CommandResultType = "REJECTED"
	CommandResultTimeout             CommandResultType = "TIMEOUT"
	CommandResultUnknownReservation  CommandResultType = "UNKNOWN_RESERVATION"
)

// CommandResponse is the synchronous answer to a command dispatch.
type CommandResponse struct {
	Result  CommandResponseType `json:"result"`
	Timeout int                 `json:"timeout"`
	Message []DisplayText       `json:"message,omitempty"`
}

// CommandResult is the asynchronous callback body for a dispatched command.
type CommandResult struct {
	Result  CommandResultType `json:"result"`
	Message []DisplayText     `json:"message,omitempty"`
}

// StartSession is the eMSP request to remotely start a charging session.
type StartSession struct {
	ResponseURL            string `json:"response_url"`
	Token                  Token  `json:"token"`
	LocationID             string `json:"location_id"`
	EVSEUID                string `json:"evse_uid,omitempty"`
	ConnectorID            string `json:"connector_id,omitempty"`
	AuthorizationReference string `json:"authorization_reference,omitempty"`
}

type StopSession struct {
	ResponseURL string `json:"response_url"`
	SessionID   string `json:"session_id"`
}

type ReserveNow struct {
	ResponseURL            string    `json:"response_url"`
	Token                  Token     `json:"token"`
	ExpiryDate             time.Time `json:"expiry_date"`
	ReservationID          string    `json:"reservation_id"`
	LocationID             string    `json:"location_id"`
	EVSEUID                string    `json:"evse_uid,omitempty"`
	AuthorizationReference string    `json:"authorization_reference,omitempty"`
}

type CancelReservation struct {
	ResponseURL   string `json:"response_url"`
	ReservationID string `json:"reservation_id"`
}

type UnlockConnector struct {
	ResponseURL string `json:"response_url"`
	LocationID  string `json:"location_id"`
	EVSEUID     string `json:"evse_uid"`
	ConnectorID string `json:"connector_id"`
}
