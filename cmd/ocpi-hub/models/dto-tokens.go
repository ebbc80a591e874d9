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

type TokenType string

const (
	TokenTypeAdHocUser TokenType = "AD_HOC_USER"
	TokenTypeAppUser   TokenType = "APP_USER"
	TokenTypeOther     TokenType = "OTHER"
	TokenTypeRFID      TokenType = "RFID"
)

type WhitelistType string

const (
	WhitelistAlways         WhitelistType = "ALWAYS"
	WhitelistAllowed        WhitelistType = "ALLOWED"
	WhitelistAllowedOffline WhitelistType = "ALLOWED_OFFLINE"
	WhitelistNever          WhitelistType = "NEVER"
)

// Allowed is the outcome of a real-time authorization.
type Allowed string

const (
	AllowedYes        Allowed = "ALLOWED"
	AllowedBlocked    Allowed = "BLOCKED"
	AllowedExpired    Allowed = "EXPIRED"
	AllowedNoCredit   Allowed = "NO_CREDIT"
	AllowedNotAllowed Allowed = "NOT_ALLOWED"
)

// Token is an eMSP-issued charging credential.
type Token struct {
	CountryCode  string        `json:"country_code"`
	PartyID      string        `json:"party_id"`
	UID          string        `json:"uid"`
	Type         TokenType     `json:"type"`
	ContractID   string        `json:"contract_id"`
	VisualNumber string        `json:"visual_number,omitempty"`
	Issuer       string        `json:"issuer"`
	GroupID      string        `json:"group_id,omitempty"`
	Valid        bool          `json:"valid"`
	Whitelist    WhitelistType `json:"whitelist"`
	Language     string        `json:"language,omitempty"`
	LastUpdated  time.Time     `json:"last_updated"`
}

func (t *Token) Updated() time.Time { return t.LastUpdated }
func (t *Token) Touch(ts time.Time) { t.LastUpdated = ts }

// LocationReference narrows an authorization request to a location and
// optionally to specific EVSEs at that location.
type LocationReference struct {
	LocationID string   `json:"location_id"`
	EVSEUIDs   []string `json:"evse_uids,omitempty"`
}

// AuthorizationInfo is the decision returned for every authorize call. It is
// created fresh per request and never mutated after being returned.
type AuthorizationInfo struct {
	Allowed                Allowed            `json:"allowed"`
	Token                  Token              `json:"token"`
	Location               *LocationReference `json:"location,omitempty"`
	AuthorizationReference string             `json:"authorization_reference,omitempty"`
	Info                   *DisplayText       `json:"info,omitempty"`
}
