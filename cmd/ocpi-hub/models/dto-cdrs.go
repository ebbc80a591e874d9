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

// CDR is a charge detail record. CDRs are write-once: they are never patched
// and never downgraded, only added and (as a non-standard administrative
// extension) removed.
type CDR struct {
	CountryCode            string           `json:"country_code"`
	PartyID                string           `json:"party_id"`
	ID                     string           `json:"id"`
	StartDateTime          time.Time        `json:"start_date_time"`
	EndDateTime            time.Time        `json:"end_date_time"`
	SessionID              string           `json:"session_id,omitempty"`
	CdrToken               CdrToken         `json:"cdr_token"`
	AuthMethod             string           `json:"auth_method"`
	AuthorizationReference string           `json:"authorization_reference,omitempty"`
	CdrLocation            CdrLocation      `json:"cdr_location"`
	MeterID                string           `json:"meter_id,omitempty"`
	Currency               string           `json:"currency"`
	Tariffs                []Tariff         `json:"tariffs,omitempty"`
	ChargingPeriods        []ChargingPeriod `json:"charging_periods"`
	TotalCost              Price            `json:"total_cost"`
	TotalEnergy            float64          `json:"total_energy"`
	TotalTime              float64          `json:"total_time"`
	TotalParkingTime       *float64         `json:"total_parking_time,omitempty"`
	Remark                 string           `json:"remark,omitempty"`
	Credit                 bool             `json:"credit,omitempty"`
	CreditReferenceID      string           `json:"credit_reference_id,omitempty"`
	LastUpdated            time.Time        `json:"last_updated"`
}

func (c *CDR) Updated() time.Time { return c.LastUpdated }
func (c *CDR) Touch(ts time.Time) { c.LastUpdated = ts }

// CdrLocation is the flattened location snapshot embedded in a CDR.
type CdrLocation struct {
	ID                 string      `json:"id"`
	Name               string      `json:"name,omitempty"`
	Address            string      `json:"address"`
	City               string      `json:"city"`
	PostalCode         string      `json:"postal_code,omitempty"`
	Country            string      `json:"country"`
	Coordinates        GeoLocation `json:"coordinates"`
	EVSEUID            string      `json:"evse_uid"`
	EVSEID             string      `json:"evse_id"`
	ConnectorID        string      `json:"connector_id"`
	ConnectorStandard  string      `json:"connector_standard"`
	ConnectorFormat    string      `json:"connector_format"`
	ConnectorPowerType string      `json:"connector_power_type"`
}
